// Package config defines the process configuration for the tasseo binaries.
// Configuration is loaded once at startup and treated as immutable.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or invalid format aborts startup.
package config

import (
	"time"

	"tasseo/internal/types"
)

// SecretString is an alias for types.SecretString so secrets never reach logs.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Components receive only the
// sub-struct they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"tasseo"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Database   DatabaseConfig
	Redis      RedisConfig
	AWS        AWSConfig
	Telegram   TelegramConfig
	LLM        LLMConfig
	Credits    CreditsConfig
	Queue      QueueConfig
	Engagement EngagementConfig
	API        APIConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	ConnectTimeout    time.Duration `envconfig:"DB_CONNECT_TIMEOUT" default:"10s"`
}

// RedisConfig configures the shared Redis used for cross-process send pacing.
// An empty Addr disables Redis and falls back to in-process pacing.
type RedisConfig struct {
	Addr     string       `envconfig:"REDIS_ADDR"`
	Password SecretString `envconfig:"REDIS_PASSWORD"`
	DB       int          `envconfig:"REDIS_DB" default:"0"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"eu-central-1"`

	PhotoBucket     string `envconfig:"PHOTO_BUCKET"`
	AlertQueueURL   string `envconfig:"SQS_JOB_ALERTS" validate:"omitempty,url"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Tasseo"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// TelegramConfig holds bot API credentials.
type TelegramConfig struct {
	BotToken      SecretString  `envconfig:"TELEGRAM_BOT_TOKEN" validate:"required"`
	APIBaseURL    string        `envconfig:"TELEGRAM_API_URL" default:"https://api.telegram.org" validate:"url"`
	WebhookSecret SecretString  `envconfig:"TELEGRAM_WEBHOOK_SECRET"`
	Timeout       time.Duration `envconfig:"TELEGRAM_TIMEOUT" default:"15s"`
}

// LLMConfig configures the Bedrock model used for readings and engagement copy.
type LLMConfig struct {
	ModelID     string        `envconfig:"LLM_MODEL_ID" default:"anthropic.claude-3-haiku-20240307-v1:0"`
	MaxTokens   int           `envconfig:"LLM_MAX_TOKENS" default:"1024" validate:"min=1"`
	Temperature float64       `envconfig:"LLM_TEMPERATURE" default:"0.8"`
	Timeout     time.Duration `envconfig:"LLM_TIMEOUT" default:"45s"`
}

// CreditsConfig points at the billing service that answers credit checks.
type CreditsConfig struct {
	BaseURL string       `envconfig:"CREDITS_BASE_URL" validate:"omitempty,url"`
	APIKey  SecretString `envconfig:"CREDITS_API_KEY"`
}

// QueueConfig tunes the job queue workers and maintenance loop.
type QueueConfig struct {
	PollInterval   time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"2s"`
	BatchSize      int           `envconfig:"QUEUE_BATCH_SIZE" default:"5" validate:"min=1,max=100"`
	ReapInterval   time.Duration `envconfig:"QUEUE_REAP_INTERVAL" default:"1m"`
	// StaleAfter is the grace past a job's own expiry window before the
	// reaper fails it.
	StaleAfter     time.Duration `envconfig:"QUEUE_STALE_AFTER" default:"5m"`
	RetainFinished time.Duration `envconfig:"QUEUE_RETAIN_FINISHED" default:"168h"`
}

// EngagementConfig tunes outbound engagement messaging.
type EngagementConfig struct {
	SendInterval   time.Duration `envconfig:"ENGAGEMENT_SEND_INTERVAL" default:"100ms"`
	LedgerTimezone string        `envconfig:"ENGAGEMENT_LEDGER_TZ" default:"UTC"`
	SettingsTTL    time.Duration `envconfig:"SETTINGS_CACHE_TTL" default:"1m"`
}

// APIConfig holds intake API settings.
type APIConfig struct {
	Port               string       `envconfig:"PORT" default:"8080"`
	JWTSecret          SecretString `envconfig:"JWT_SECRET"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
