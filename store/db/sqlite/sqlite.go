// Package sqlite implements the store driver against SQLite
// (modernc.org/sqlite, pure Go).
//
// SQLite is the embedded backend for development, testing, and single-host
// use. It has no row-level security; per-user isolation rests on the
// application-level creator predicates alone. Tag-sets are stored as JSON
// arrays: tags holds the raw array, tags_normalized the sorted deduplicated
// form, whose canonical JSON encoding doubles as the uniqueness key for the
// dedup invariant.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	// Import the pure-Go SQLite driver.
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	serrors "github.com/hrygo/tagnote/internal/errors"
	"github.com/hrygo/tagnote/internal/profile"
	"github.com/hrygo/tagnote/store"
)

//go:embed schema
var schemaFS embed.FS

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	db, err := sql.Open("sqlite", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database: %s", profile.DSN)
	}

	// A single writer avoids SQLITE_BUSY churn under concurrent writes.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &DB{
		db:      db,
		profile: profile,
	}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = 'record')").Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check if database is initialized")
	}
	return exists, nil
}

// Migrate applies the embedded schema to an uninitialized database.
func (d *DB) Migrate(ctx context.Context) error {
	initialized, err := d.IsInitialized(ctx)
	if err != nil {
		return err
	}
	if initialized {
		return nil
	}

	buf, err := schemaFS.ReadFile("schema/LATEST.sql")
	if err != nil {
		return errors.Wrap(err, "failed to read schema file")
	}

	if _, err := d.db.ExecContext(ctx, string(buf)); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}

	slog.Info("database schema applied", "driver", "sqlite")
	return nil
}

// classifyError maps engine errors into the store taxonomy. Raw sqlite
// error codes stop here.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT:
			if strings.Contains(err.Error(), "record.creator_id, record.tags_normalized") {
				return serrors.DuplicateRecord("a record with this tag set already exists", err)
			}
			return serrors.ConstraintViolation("integrity constraint violated", err)
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return serrors.TransientStorage("database busy", err)
		case sqlite3.SQLITE_INTERRUPT:
			return serrors.TransientStorage("query interrupted", err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return serrors.TransientStorage("storage unavailable", err)
	}

	return errors.Wrap(err, "storage error")
}

// placeholder returns a placeholder for SQLite (uses ?).
func placeholder(_ int) string {
	return "?"
}

// placeholders returns n placeholders.
func placeholders(n int) string {
	list := make([]string, 0, n)
	for i := 0; i < n; i++ {
		list = append(list, "?")
	}
	return strings.Join(list, ", ")
}

// escapeLike escapes LIKE metacharacters in a user-supplied term.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
