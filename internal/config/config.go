// Package config defines the configuration of the Hub client binaries.
// Configuration is loaded once at process initialization and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> struct tag defaults (Lowest)
package config

import (
	"time"

	"hubclient/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"hubclient"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Hub           HubConfig
	Proxy         ProxyConfig
	Policy        PolicyConfig
	Poller        PollerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Observability ObservabilityConfig
	Server        ServerConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// HubConfig holds the Hub endpoint and credentials. Either APIToken or
// Username and Password must be set.
type HubConfig struct {
	URL       string        `envconfig:"HUB_URL" validate:"required,url"`
	APIToken  SecretString  `envconfig:"HUB_API_TOKEN"`
	Username  string        `envconfig:"HUB_USERNAME"`
	Password  SecretString  `envconfig:"HUB_PASSWORD"`
	Timeout   time.Duration `envconfig:"HUB_TIMEOUT" default:"120s" validate:"gt=0"`
	TrustCert bool          `envconfig:"HUB_TRUST_CERT" default:"false"`
	UserAgent string        `envconfig:"HUB_USER_AGENT" default:"hubclient/1.0"`
	PageSize  int           `envconfig:"HUB_PAGE_SIZE" default:"100" validate:"min=1,max=1000"`
	CacheSize int           `envconfig:"HUB_CACHE_SIZE" default:"512" validate:"min=0"`
	CacheTTL  time.Duration `envconfig:"HUB_CACHE_TTL" default:"10m"`
}

// ProxyConfig holds the outbound proxy used to reach the Hub. It is checked
// by Validate rather than struct tags because the rules span fields.
type ProxyConfig struct {
	Host         string       `envconfig:"HUB_PROXY_HOST"`
	Port         int          `envconfig:"HUB_PROXY_PORT"`
	Username     string       `envconfig:"HUB_PROXY_USERNAME"`
	Password     SecretString `envconfig:"HUB_PROXY_PASSWORD"`
	IgnoredHosts string       `envconfig:"HUB_PROXY_IGNORED_HOSTS"` // comma separated regexes
}

// PolicyConfig holds the default policy rule filter. Entries may be rule
// hrefs or bare rule ids.
type PolicyConfig struct {
	RuleIDs []string `envconfig:"POLICY_RULE_FILTER"`
}

// PollerConfig tunes the notification poller.
type PollerConfig struct {
	Name        string        `envconfig:"POLLER_NAME" default:"hub-notifications"`
	Concurrency int           `envconfig:"POLLER_CONCURRENCY" default:"4" validate:"min=1,max=64"`
	Lookback    time.Duration `envconfig:"POLLER_LOOKBACK" default:"24h" validate:"gt=0"`
	UserID      string        `envconfig:"POLLER_USER_ID"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"omitempty,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region          string `envconfig:"AWS_REGION" default:"us-east-1"`
	ContentQueueURL string `envconfig:"SQS_CONTENT_ITEMS" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"HubNotifications"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// ServerConfig holds HTTP server configuration for cmd/api.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
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
	// ErrValidation indicates the configuration failed validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
	// ErrCredentials indicates that no usable Hub credential was configured.
	ErrCredentials ConfigErrorType = "CREDENTIALS_MISSING"
	// ErrProxy indicates an invalid proxy configuration.
	ErrProxy ConfigErrorType = "PROXY_INVALID"
)

// HasToken reports whether API token authentication is configured.
func (h HubConfig) HasToken() bool {
	return !h.APIToken.IsZero()
}

// HasPassword reports whether username/password authentication is configured.
func (h HubConfig) HasPassword() bool {
	return h.Username != "" && !h.Password.IsZero()
}
