// Package test provides shared store test harnesses: an in-process
// sqlite-backed store for unit-level tests and a disposable PostgreSQL
// instance for backend integration tests.
package test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hrygo/tagnote/internal/profile"
	"github.com/hrygo/tagnote/store"
	"github.com/hrygo/tagnote/store/cache"
	"github.com/hrygo/tagnote/store/db/sqlite"
)

const (
	testUser     = "tagnote"
	testPassword = "tagnote"
	testDatabase = "tagnote_test"
)

// NewTestingProfile returns a profile backed by an in-memory sqlite database.
func NewTestingProfile(t *testing.T) *profile.Profile {
	t.Helper()
	p := &profile.Profile{
		Mode:   "dev",
		Driver: "sqlite",
		DSN:    ":memory:",
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("invalid testing profile: %v", err)
	}
	return p
}

// NewTestingStore creates a migrated sqlite-backed store with an in-process
// cache. The caller owns Close.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()
	p := NewTestingProfile(t)

	driver, err := sqlite.NewDB(p)
	if err != nil {
		t.Fatalf("failed to create sqlite driver: %v", err)
	}
	if err := driver.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	c := cache.NewMemoryService(cache.DefaultMemoryConfig())
	return store.NewWithCache(driver, p, c)
}

// NewUncachedTestingStore creates a migrated sqlite-backed store without any
// cache, for tests that pin down pure backend behavior.
func NewUncachedTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()
	p := NewTestingProfile(t)

	driver, err := sqlite.NewDB(p)
	if err != nil {
		t.Fatalf("failed to create sqlite driver: %v", err)
	}
	if err := driver.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return store.NewWithCache(driver, p, nil)
}

// GetPostgresDSN returns a DSN for PostgreSQL testing. A custom instance can
// be supplied via POSTGRES_TEST_DSN; otherwise a throwaway container is
// started and torn down with the test.
func GetPostgresDSN(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("POSTGRES_TEST_DSN"); dsn != "" {
		return dsn
	}
	if os.Getenv("SKIP_POSTGRES_TESTS") != "" {
		t.Skip("postgres tests skipped via SKIP_POSTGRES_TESTS")
	}

	pg, err := pgcontainer.Run(context.Background(),
		"postgres:16-alpine",
		pgcontainer.WithDatabase(testDatabase),
		pgcontainer.WithUsername(testUser),
		pgcontainer.WithPassword(testPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pg.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := pg.ConnectionString(context.Background(), "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to build postgres dsn: %v", err)
	}
	return dsn
}
