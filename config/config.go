// Package config loads server configuration from PAYROLL_* environment variables.
package config

import (
	"errors"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name, e.g. PAYROLL_ADDR.
const Prefix = "payroll"

// Config holds runtime configuration for the server.
type Config struct {
	Env          string        `envconfig:"ENV" default:"development"`
	Addr         string        `envconfig:"ADDR" default:":8080"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`

	LogMode string `envconfig:"LOG_MODE" default:"dev"`

	DBPath string `envconfig:"DB_PATH" default:"./data/payroll.db"`

	// RedisAddr enables the cross-instance period mutex when set.
	RedisAddr string        `envconfig:"REDIS_ADDR"`
	LockTTL   time.Duration `envconfig:"LOCK_TTL" default:"30s"`

	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
	// RateLimit is the number of mutating requests per minute and client IP.
	// Zero disables limiting.
	RateLimit int `envconfig:"RATE_LIMIT" default:"60"`

	AutoLockEnabled  bool          `envconfig:"AUTO_LOCK_ENABLED" default:"false"`
	AutoLockInterval time.Duration `envconfig:"AUTO_LOCK_INTERVAL" default:"1h"`

	SeedDemo bool `envconfig:"SEED_DEMO" default:"false"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("config: db path must be provided")
	}
	if c.RateLimit < 0 {
		return errors.New("config: rate limit must not be negative")
	}
	if c.AutoLockEnabled && c.AutoLockInterval <= 0 {
		return errors.New("config: auto-lock interval must be positive")
	}
	return nil
}

// IsProduction returns true when the server runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.Env == "production"
}
