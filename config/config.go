// Package config loads application settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Storage
	DBPath          string        `env:"DB_PATH" envDefault:"chat.db"`
	DBDebug         bool          `env:"DB_DEBUG" envDefault:"false"`
	RedisAddr       string        `env:"REDIS_ADDR"`
	HistoryCacheTTL time.Duration `env:"HISTORY_CACHE_TTL" envDefault:"1m"`

	// Chat pipeline
	SaveTimeout         time.Duration `env:"SAVE_TIMEOUT" envDefault:"5s"`
	HistoryDefaultLimit int           `env:"HISTORY_DEFAULT_LIMIT" envDefault:"50"`

	// Transport
	SendQueueSize      int           `env:"SEND_QUEUE_SIZE" envDefault:"64"`
	MetricsInterval    time.Duration `env:"METRICS_INTERVAL" envDefault:"1s"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://localhost:3000"`
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first if present;
// variables already set in the environment take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges env tags cannot express.
func (c *Config) Validate() error {
	var problems []string
	if c.ShutdownTimeout <= 0 {
		problems = append(problems, "SHUTDOWN_TIMEOUT must be positive")
	}
	if c.SaveTimeout <= 0 {
		problems = append(problems, "SAVE_TIMEOUT must be positive")
	}
	if c.HistoryDefaultLimit < 1 || c.HistoryDefaultLimit > 1000 {
		problems = append(problems, "HISTORY_DEFAULT_LIMIT must be between 1 and 1000")
	}
	if c.SendQueueSize < 1 {
		problems = append(problems, "SEND_QUEUE_SIZE must be at least 1")
	}
	if c.MetricsInterval <= 0 {
		problems = append(problems, "METRICS_INTERVAL must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// AllowedOrigins returns the CORS origins as a single comma-separated value.
func (c *Config) AllowedOrigins() string {
	return strings.Join(c.CORSAllowedOrigins, ",")
}
