// Package config loads the server configuration: an optional YAML file
// named by LEDGER_CONFIG, then environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the process configuration.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Store struct {
		Driver      string        `yaml:"driver"`
		SQLitePath  string        `yaml:"sqlite_path"`
		DatabaseURL string        `yaml:"database_url"`
		RedisURL    string        `yaml:"redis_url"`
		LockTimeout time.Duration `yaml:"lock_timeout"`
		CacheTTL    time.Duration `yaml:"cache_ttl"`
	} `yaml:"store"`
	Ledger struct {
		MaxValue int64 `yaml:"max_value"`
	} `yaml:"ledger"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Logging.Level = "info"
	cfg.Store.SQLitePath = "ledger.db"
	cfg.Store.LockTimeout = 5 * time.Second
	cfg.Store.CacheTTL = 30 * time.Second
	cfg.Ledger.MaxValue = 1_000_000
	return &cfg
}

// Load builds the configuration from defaults, the YAML file named by
// LEDGER_CONFIG (if any) and environment variables, in that order.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("LEDGER_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LEDGER_STORE"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("LEDGER_SQLITE_PATH"); v != "" {
		c.Store.SQLitePath = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Store.RedisURL = v
	}
	if v := os.Getenv("LEDGER_LOCK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			// Plain integers are milliseconds.
			ms, convErr := strconv.Atoi(v)
			if convErr != nil {
				return fmt.Errorf("LEDGER_LOCK_TIMEOUT: %w", err)
			}
			d = time.Duration(ms) * time.Millisecond
		}
		c.Store.LockTimeout = d
	}
	return nil
}

func (c *Config) validate() error {
	// Without an explicit driver, a database URL selects PostgreSQL.
	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
		if c.Store.DatabaseURL != "" {
			c.Store.Driver = DriverPostgres
		}
	}
	c.Store.Driver = strings.ToLower(c.Store.Driver)

	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("config: sqlite store needs sqlite_path")
		}
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("config: postgres store needs DATABASE_URL")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.LockTimeout <= 0 {
		return fmt.Errorf("config: lock timeout must be positive, got %s", c.Store.LockTimeout)
	}
	if c.Ledger.MaxValue <= 0 {
		return fmt.Errorf("config: max_value must be positive, got %d", c.Ledger.MaxValue)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps the configured level name to a slog.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return 0, fmt.Errorf("config: log level: %w", err)
	}
	return lvl, nil
}
