// Package config loads Altilium's runtime configuration from the
// process environment, with an optional .env file as a convenience
// for local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// FsyncPolicy selects how aggressively the AOF writer flushes to
// disk.
type FsyncPolicy string

const (
	FsyncAlways   FsyncPolicy = "always"
	FsyncEverySec FsyncPolicy = "everysec"
	FsyncNo       FsyncPolicy = "no"
)

// Config holds Altilium's runtime settings: host, port, auth
// password, persistence paths and intervals, and the tuning knobs for
// the bus, sweeper, and logger.
type Config struct {
	Host        string `env:"ALTILIUM_HOST" envDefault:"127.0.0.1"`
	Port        int    `env:"ALTILIUM_PORT" envDefault:"6379"`
	RequirePass string `env:"ALTILIUM_REQUIREPASS" envDefault:""`

	SnapshotPath     string        `env:"ALTILIUM_SNAPSHOT_PATH" envDefault:"data.snapshot"`
	AOFPath          string        `env:"ALTILIUM_AOF_PATH" envDefault:"data.aof"`
	SnapshotInterval time.Duration `env:"ALTILIUM_SNAPSHOT_INTERVAL" envDefault:"60s"`
	AOFFsync         FsyncPolicy   `env:"ALTILIUM_AOF_FSYNC" envDefault:"everysec"`
	ExpireTick       time.Duration `env:"ALTILIUM_EXPIRE_TICK" envDefault:"100ms"`
	SweepSampleSize  int           `env:"ALTILIUM_SWEEP_SAMPLE_SIZE" envDefault:"1000"`
	SweepDeadline    time.Duration `env:"ALTILIUM_SWEEP_DEADLINE" envDefault:"10ms"`

	BusCapacity int           `env:"ALTILIUM_BUS_CAPACITY" envDefault:"1024"`
	IdleTimeout time.Duration `env:"ALTILIUM_IDLE_TIMEOUT" envDefault:"5m"`

	LogLevel  string `env:"ALTILIUM_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"ALTILIUM_LOG_FORMAT" envDefault:"json"`
}

// Load reads a .env file if present (its absence is not an error),
// then parses the process environment into a Config, applying
// defaults for anything unset.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		// A missing .env is expected in production; only surface
		// genuine read errors on a file that does exist.
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: reading .env: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.AOFFsync {
	case FsyncAlways, FsyncEverySec, FsyncNo:
	default:
		return fmt.Errorf("config: invalid ALTILIUM_AOF_FSYNC %q", c.AOFFsync)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid ALTILIUM_PORT %d", c.Port)
	}
	return nil
}

// Addr returns the host:port listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
