// Package config defines the process configuration for the integration
// delivery workers. Configuration is loaded once at startup (or Lambda cold
// start) and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or invalid format fails startup.
package config

import (
	"fmt"
	"strings"
	"time"

	"eventrelay/internal/types"
)

// SecretString is an alias for types.SecretString so configuration secrets
// are redacted in logs and dumps.
type SecretString = types.SecretString

// Backend names the broker implementation a process talks to.
type Backend string

const (
	BackendSQS      Backend = "sqs"
	BackendRabbitMQ Backend = "rabbitmq"
)

// Config is the top-level configuration struct. Components receive only the
// sub-config they need.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"eventrelay"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	RabbitMQ      RabbitMQConfig
	Cache         CacheConfig
	Listener      ListenerConfig
	Webhook       WebhookConfig
	Slack         SlackConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds the health endpoint settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// DatabaseConfig holds the connection to the integration configuration store.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL"`

	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds the managed broker (SQS) settings. QueueURLPrefix is the
// account-scoped URL that queue names are appended to; setting it selects the
// SQS backend.
type AWSConfig struct {
	Region         string `envconfig:"AWS_REGION" default:"us-east-1"`
	QueueURLPrefix string `envconfig:"SQS_QUEUE_URL_PREFIX" validate:"omitempty,url"`
	WaitTime       int32  `envconfig:"SQS_WAIT_TIME_SECONDS" default:"20" validate:"min=0,max=20"`
	BatchSize      int32  `envconfig:"SQS_BATCH_SIZE" default:"10" validate:"min=1,max=10"`
	// VisibilityTimeout hides a received batch from other receivers. Zero
	// derives it from BatchSize and the listener handler timeout.
	VisibilityTimeout time.Duration `envconfig:"SQS_VISIBILITY_TIMEOUT"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// RabbitMQConfig holds the self-hosted broker settings.
type RabbitMQConfig struct {
	URL                 SecretString  `envconfig:"RABBITMQ_URL"`
	EventExchange       string        `envconfig:"RABBITMQ_EVENT_EXCHANGE" default:"events-exchange"`
	IntegrationExchange string        `envconfig:"RABBITMQ_INTEGRATION_EXCHANGE" default:"integrations-exchange"`
	Prefetch            int           `envconfig:"RABBITMQ_PREFETCH" default:"1" validate:"min=1"`
	ReconnectMaxDelay   time.Duration `envconfig:"RABBITMQ_RECONNECT_MAX_DELAY" default:"30s"`
	// RetryTiming is the fixed TTL of every retry queue. Longer delays take
	// several hops through the listener's not-before check.
	RetryTiming time.Duration `envconfig:"RABBITMQ_RETRY_TIMING" default:"30s" validate:"gt=0"`
	// UseDelayPlugin routes retries through an x-delayed-message exchange
	// instead of the retry queues. Requires rabbitmq_delayed_message_exchange.
	UseDelayPlugin  bool   `envconfig:"RABBITMQ_USE_DELAY_PLUGIN" default:"false"`
	DelayedExchange string `envconfig:"RABBITMQ_DELAYED_EXCHANGE" default:"integrations-delayed-exchange"`
}

// CacheConfig holds configuration-lookup cache settings. An empty RedisURL
// selects the in-process cache.
type CacheConfig struct {
	RedisURL         SecretString  `envconfig:"REDIS_URL"`
	ConfigurationTTL time.Duration `envconfig:"CACHE_CONFIGURATION_TTL" default:"1h"`
	EntityTTL        time.Duration `envconfig:"CACHE_ENTITY_TTL" default:"5m"`
	MemoryMaxEntries int64         `envconfig:"CACHE_MEMORY_MAX_ENTRIES" default:"100000" validate:"min=1"`
}

// ListenerConfig holds the retry policy and lifecycle limits shared by all
// integration listeners.
type ListenerConfig struct {
	MaxRetries      int           `envconfig:"INTEGRATION_MAX_RETRIES" default:"3" validate:"min=1"`
	BaseDelay       time.Duration `envconfig:"INTEGRATION_RETRY_BASE_DELAY" default:"10s"`
	MaxDelay        time.Duration `envconfig:"INTEGRATION_RETRY_MAX_DELAY" default:"10m"`
	BackoffFactor   float64       `envconfig:"INTEGRATION_RETRY_BACKOFF_FACTOR" default:"2.0" validate:"gte=1"`
	HandlerTimeout  time.Duration `envconfig:"INTEGRATION_HANDLER_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"INTEGRATION_SHUTDOWN_TIMEOUT" default:"45s"`
	// Kinds restricts which integration kinds this process serves.
	Kinds []string `envconfig:"INTEGRATION_KINDS" default:"webhook,hec,slack,datadog"`
}

// WebhookConfig holds settings for outbound webhook delivery.
type WebhookConfig struct {
	UserAgent      string        `envconfig:"WEBHOOK_USER_AGENT" default:"EventRelay-Webhook/1.0"`
	DefaultTimeout time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	MaxRedirects   int           `envconfig:"WEBHOOK_MAX_REDIRECTS" default:"3"`
}

// SlackConfig holds settings for the chat provider API.
type SlackConfig struct {
	APIBaseURL string        `envconfig:"SLACK_API_BASE_URL" default:"https://slack.com/api" validate:"url"`
	Timeout    time.Duration `envconfig:"SLACK_TIMEOUT" default:"10s"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"EventRelay"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Backend returns the broker backend selected by the configuration. SQS wins
// when both are configured.
func (c *Config) Backend() (Backend, error) {
	switch {
	case c.AWS.QueueURLPrefix != "":
		return BackendSQS, nil
	case c.RabbitMQ.URL != "":
		return BackendRabbitMQ, nil
	default:
		return "", &ConfigError{
			Type:    ErrMissingEnv,
			Message: "one of SQS_QUEUE_URL_PREFIX or RABBITMQ_URL must be set",
		}
	}
}

const (
	// visibilityMargin covers the retry publish and delete that follow the
	// last handler call of a batch.
	visibilityMargin = 30 * time.Second
	// maxVisibilityTimeout is the longest visibility timeout SQS accepts.
	maxVisibilityTimeout = 12 * time.Hour
)

// SQSVisibilityTimeout returns the visibility timeout consumers request on
// every receive. A batch is handled serially, so the timeout must outlast
// BatchSize handler calls plus visibilityMargin. An explicit value below that
// is rejected.
func (c *Config) SQSVisibilityTimeout() (time.Duration, error) {
	minimum := time.Duration(max(c.AWS.BatchSize, 1))*c.Listener.HandlerTimeout + visibilityMargin

	v := c.AWS.VisibilityTimeout
	if v == 0 {
		v = minimum
	}
	if v < minimum {
		return 0, &ConfigError{
			Type: ErrValidation,
			Message: fmt.Sprintf("SQS_VISIBILITY_TIMEOUT %s is shorter than SQS_BATCH_SIZE x INTEGRATION_HANDLER_TIMEOUT + %s (%s)",
				v, visibilityMargin, minimum),
		}
	}
	v = (v + time.Second - 1).Truncate(time.Second)
	if v > maxVisibilityTimeout {
		return 0, &ConfigError{
			Type:    ErrValidation,
			Message: fmt.Sprintf("SQS visibility timeout %s exceeds the %s maximum", v, maxVisibilityTimeout),
		}
	}
	return v, nil
}

// IntegrationKinds parses Listener.Kinds into integration types.
func (c *Config) IntegrationKinds() ([]types.IntegrationType, error) {
	kinds := make([]types.IntegrationType, 0, len(c.Listener.Kinds))
	for _, raw := range c.Listener.Kinds {
		k := types.IntegrationType(strings.ToLower(strings.TrimSpace(raw)))
		if k == "" {
			continue
		}
		if !k.Valid() {
			return nil, &ConfigError{
				Type:    ErrValidation,
				Message: fmt.Sprintf("unknown integration kind %q in INTEGRATION_KINDS", raw),
			}
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
