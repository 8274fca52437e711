// Package config defines the global configuration structure for healthsync.
// Configuration is loaded once at process initialization and is immutable
// thereafter. It follows 12-Factor App principles by strictly separating
// code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the application to
// exit immediately on startup (fail fast).
package config

import (
	"time"

	"healthsync/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for healthsync. It is
// populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"healthsync"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// Domain Configurations
	Database  DatabaseConfig
	Export    ExportConfig
	Scheduler SchedulerConfig
	API       APIConfig
	AWS       AWSConfig
	Metrics   MetricsConfig
}

// DatabaseConfig holds relational store connection and pool tuning parameters.
// The RDS_* names match the variables the deployment environment already
// provisions for the database instance.
type DatabaseConfig struct {
	Host     string       `envconfig:"RDS_HOST" validate:"required,hostname|ip"`
	Port     int          `envconfig:"RDS_PORT" default:"5432" validate:"min=1,max=65535"`
	User     string       `envconfig:"RDS_USER" validate:"required"`
	Password SecretString `envconfig:"RDS_PASSWORD" validate:"required"`
	Database string       `envconfig:"RDS_DATABASE" validate:"required"`
	SSLMode  string       `envconfig:"RDS_SSLMODE" default:"prefer" validate:"oneof=disable prefer require verify-ca verify-full"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// ExportConfig holds the upstream health-export endpoint settings.
type ExportConfig struct {
	SleepEndpoint    string        `envconfig:"HEALTH_SLEEP_ENDPOINT" validate:"required,url"`
	ExerciseEndpoint string        `envconfig:"HEALTH_EXERCISE_ENDPOINT" validate:"required,url"`
	APIKey           SecretString  `envconfig:"HEALTH_API_KEY" validate:"required"`
	RequestTimeout   time.Duration `envconfig:"EXPORT_REQUEST_TIMEOUT" default:"30s"`
	MaxRetries       int           `envconfig:"EXPORT_MAX_RETRIES" default:"3" validate:"min=0,max=10"`
}

// SchedulerConfig holds the per-category polling cadence and run timeout.
type SchedulerConfig struct {
	SleepInterval    time.Duration `envconfig:"SLEEP_POLL_INTERVAL" default:"6h" validate:"min=1m"`
	ExerciseInterval time.Duration `envconfig:"EXERCISE_POLL_INTERVAL" default:"15m" validate:"min=1m"`
	RunTimeout       time.Duration `envconfig:"INGEST_RUN_TIMEOUT" default:"5m" validate:"min=10s"`
	// DefaultLookback bounds the first fetch when a category has no
	// checkpoint yet.
	DefaultLookback time.Duration `envconfig:"INGEST_DEFAULT_LOOKBACK" default:"720h"`
}

// APIConfig holds settings for the push-ingest HTTP API.
type APIConfig struct {
	Port            string        `envconfig:"API_PORT" default:"8080"`
	IngestKey       SecretString  `envconfig:"INGEST_API_KEY" validate:"required"`
	ReadTimeout     time.Duration `envconfig:"API_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"10s"`
	MaxBodyBytes    int64         `envconfig:"API_MAX_BODY_BYTES" default:"10485760"`
}

// AWSConfig holds AWS regional configuration and resource identifiers.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`
	// RejectQueueURL is the SQS queue receiving records that fail validation
	// or persistence, for offline inspection. Empty disables publishing.
	RejectQueueURL string `envconfig:"SQS_REJECT_QUEUE"`
	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// MetricsConfig holds telemetry emission settings.
type MetricsConfig struct {
	Namespace string `envconfig:"METRIC_NAMESPACE" default:"HealthSync"`
	Enabled   bool   `envconfig:"METRICS_ENABLED" default:"false"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
