// loader.go implements the configuration loading lifecycle for healthsync.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid debugging.
// It wraps a ConfigErrorType and an underlying error message.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadConfig loads and validates the healthsync configuration.
//
// It performs the following steps in order:
//  1. Sets the process timezone to UTC. Checkpoints, cursors, and all stored
//     timestamps are UTC; a drifting process timezone corrupts comparisons.
//  2. Loads a .env file if present (non-fatal if missing). godotenv does NOT
//     override variables already set in the environment, preserving the
//     priority chain OS Environment > Dotenv.
//  3. Processes envconfig tags to populate the Config struct.
//  4. Validates the populated struct.
func LoadConfig() (*Config, error) {
	time.Local = time.UTC

	_ = godotenv.Load()

	// The empty prefix "" means envconfig uses the exact tag values
	// (e.g., envconfig:"RDS_HOST" reads RDS_HOST directly).
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return &cfg, nil
}

// ConnString renders the pgx connection string for the configured database.
// The password is unmasked here and nowhere else.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d pool_min_conns=%d pool_max_conn_lifetime=%s pool_health_check_period=%s",
		d.Host, d.Port, d.User, d.Password.Unmask(), d.Database, d.SSLMode,
		d.MaxConns, d.MinConns, d.MaxConnLifetime, d.HealthCheckPeriod,
	)
}
