// Package postgres implements the store driver against PostgreSQL.
//
// PostgreSQL is the reference backend: text[] tag columns, a GIN index for
// containment queries, a btree uniqueness constraint enforcing the tag-set
// dedup invariant, and row-level security as the second isolation layer.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"log/slog"
	"strconv"
	"strings"
	"time"

	// Import the PostgreSQL driver.
	"github.com/lib/pq"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	serrors "github.com/hrygo/tagnote/internal/errors"
	"github.com/hrygo/tagnote/internal/profile"
	"github.com/hrygo/tagnote/store"
)

//go:embed schema
var schemaFS embed.FS

// tagSetConstraint is the uniqueness constraint backing the dedup invariant.
// A 23505 on this constraint is a DuplicateRecord; on anything else it is an
// ordinary constraint violation.
const tagSetConstraint = "record_creator_tag_set_key"

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(2 * time.Hour)
	db.SetConnMaxIdleTime(15 * time.Minute)

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
	err := d.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_catalog = current_database() AND table_name = 'record' AND table_type = 'BASE TABLE')").Scan(&exists)
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

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin schema transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(buf)); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit schema")
	}

	slog.Info("database schema applied", "driver", "postgres")
	return nil
}

// withUserTx runs fn inside one transaction with the row-level security
// session variable bound to creator. The variable is transaction-local
// (set_config with is_local = true), so the policy can never leak across
// pooled connections. The connection is released on every exit path.
func (d *DB) withUserTx(ctx context.Context, creator store.UserID, fn func(tx *sql.Tx) error) error {
	if _, err := store.ParseUserID(string(creator)); err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError(err)
	}
	defer tx.Rollback()

	txID := shortuuid.New()
	if _, err := tx.ExecContext(ctx, "SELECT set_config('app.current_user_id', $1, true)", string(creator)); err != nil {
		return classifyError(err)
	}

	if err := fn(tx); err != nil {
		slog.Debug("transaction rolled back", "tx_id", txID, "error", err)
		return err
	}
	if err := tx.Commit(); err != nil {
		return classifyError(err)
	}
	return nil
}

// classifyError maps engine errors into the store taxonomy. Raw pq error
// codes stop here.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			if pqErr.Constraint == tagSetConstraint {
				return serrors.DuplicateRecord("a record with this tag set already exists", err)
			}
			return serrors.ConstraintViolation("unique constraint violated", err)
		case pqErr.Code.Class() == "23":
			return serrors.ConstraintViolation("integrity constraint violated", err)
		case pqErr.Code == "40001" || pqErr.Code == "40P01":
			return serrors.TransientStorage("serialization conflict", err)
		case pqErr.Code == "57014":
			return serrors.TransientStorage("query canceled by timeout", err)
		case pqErr.Code.Class() == "08":
			return serrors.TransientStorage("connection failure", err)
		}
	}

	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return serrors.TransientStorage("storage unavailable", err)
	}

	return errors.Wrap(err, "storage error")
}

// placeholder returns the n-th placeholder for PostgreSQL ($1, $2, ...).
func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

// placeholders returns n placeholders starting at $1.
func placeholders(n int) string {
	list := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		list = append(list, placeholder(i))
	}
	return strings.Join(list, ", ")
}

// escapeLike escapes LIKE metacharacters in a user-supplied term.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
