package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/tagnote/internal/profile"
	"github.com/hrygo/tagnote/store"
	"github.com/hrygo/tagnote/store/db/postgres"
	"github.com/hrygo/tagnote/store/db/sqlite"
)

// NewDBDriver creates a new db driver based on profile.
//
// PostgreSQL is the reference backend: full isolation (application predicate
// plus row-level security) and index-accelerated tag queries. SQLite is the
// embedded backend for development, testing, and single-host use.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q: only 'postgres' and 'sqlite' are supported", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
