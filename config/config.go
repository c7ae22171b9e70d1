/*
config.go - Environment-driven server configuration

PURPOSE:
  Centralizes everything tunable about the server process. Values come
  from environment variables with the BANK_ prefix; a local .env file is
  honored in development (loaded by cmd/server/main.go).

VARIABLES:
  BANK_PORT              HTTP port                     (default: 8080)
  BANK_DB_PATH           SQLite database path          (default: bank.db)
  BANK_ALLOWED_ORIGINS   CORS origins, comma-separated (default: localhost dev ports)
  BANK_WRITE_RATE_LIMIT  Mutating requests/IP/minute   (default: 60, 0 disables)
  BANK_REFRESH_ENABLED   Background horizon refresher  (default: true)
  BANK_REFRESH_INTERVAL  Refresher tick                (default: 1h)
  BANK_REFRESH_WORKERS   Concurrent companies per tick (default: 4)
  BANK_SHUTDOWN_TIMEOUT  Graceful shutdown grace       (default: 30s)
*/
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "BANK"

// Config holds the server process configuration.
type Config struct {
	Port           int      `envconfig:"PORT" default:"8080"`
	DBPath         string   `envconfig:"DB_PATH" default:"bank.db"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173,http://localhost:8080"`
	WriteRateLimit int      `envconfig:"WRITE_RATE_LIMIT" default:"60"`

	RefreshEnabled  bool          `envconfig:"REFRESH_ENABLED" default:"true"`
	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"1h"`
	RefreshWorkers  int           `envconfig:"REFRESH_WORKERS" default:"4"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("load config: port %d out of range", cfg.Port)
	}
	if cfg.RefreshWorkers < 1 {
		cfg.RefreshWorkers = 1
	}
	return &cfg, nil
}
