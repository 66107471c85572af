// Package profile holds the runtime configuration for tagnote.
package profile

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the store.
type Profile struct {
	// Mode can be "prod" or "dev".
	Mode string
	// Driver is the database driver (postgres or sqlite).
	Driver string
	// DSN points to where tagnote stores its data.
	DSN string
	// Version is the current version of the build.
	Version string

	// Cache configuration.
	CacheCapacity int           // TAGNOTE_CACHE_CAPACITY
	StatsTTL      time.Duration // TAGNOTE_CACHE_STATS_TTL
	SuggestTTL    time.Duration // TAGNOTE_CACHE_SUGGEST_TTL
	CacheDisabled bool          // TAGNOTE_CACHE_DISABLED
}

// IsDev reports whether the profile runs in development mode.
func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads configuration from TAGNOTE_* environment variables,
// keeping any value already set on the profile as the default.
func (p *Profile) FromEnv() {
	p.Mode = getEnvOrDefault("TAGNOTE_MODE", p.Mode)
	p.Driver = getEnvOrDefault("TAGNOTE_DRIVER", p.Driver)
	p.DSN = getEnvOrDefault("TAGNOTE_DSN", p.DSN)

	if v := os.Getenv("TAGNOTE_CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.CacheCapacity = n
		}
	}
	if v := os.Getenv("TAGNOTE_CACHE_STATS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			p.StatsTTL = d
		}
	}
	if v := os.Getenv("TAGNOTE_CACHE_SUGGEST_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			p.SuggestTTL = d
		}
	}
	if v := os.Getenv("TAGNOTE_CACHE_DISABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			p.CacheDisabled = b
		}
	}
}

// Validate fills defaults and rejects unusable configurations.
func (p *Profile) Validate() error {
	if p.Mode == "" {
		p.Mode = "dev"
	}
	if p.Mode != "prod" && p.Mode != "dev" {
		return errors.Errorf("unknown mode %q, expected prod or dev", p.Mode)
	}
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver != "postgres" && p.Driver != "sqlite" {
		return errors.Errorf("unknown driver %q, only postgres and sqlite are supported", p.Driver)
	}
	if p.DSN == "" {
		if p.Driver == "postgres" {
			return errors.New("dsn is required for the postgres driver")
		}
		p.DSN = "file:tagnote.db?_pragma=foreign_keys(1)"
	}
	if p.CacheCapacity <= 0 {
		p.CacheCapacity = 1000
	}
	if p.StatsTTL <= 0 {
		p.StatsTTL = 5 * time.Minute
	}
	if p.SuggestTTL <= 0 {
		p.SuggestTTL = 2 * time.Minute
	}
	return nil
}

// New builds a profile from the environment with defaults applied.
func New() (*Profile, error) {
	p := &Profile{}
	p.FromEnv()
	if err := p.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid profile")
	}
	return p, nil
}
