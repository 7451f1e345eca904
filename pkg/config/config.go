package config

import (
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
)

// BaseConfig is the configuration every connector receives. Connector
// specific keys live in Settings.
type BaseConfig struct {
	// Name identifies the connector instance
	Name string `yaml:"name" json:"name" mapstructure:"name"`
	// Type selects the registered connector (e.g. "file", "kafka")
	Type string `yaml:"type" json:"type" mapstructure:"type"`
	// Version indicates the configuration version
	Version string `yaml:"version" json:"version" mapstructure:"version"`

	Performance   PerformanceConfig   `yaml:"performance" json:"performance" mapstructure:"performance"`
	Timeouts      TimeoutConfig       `yaml:"timeouts" json:"timeouts" mapstructure:"timeouts"`
	Reliability   ReliabilityConfig   `yaml:"reliability" json:"reliability" mapstructure:"reliability"`
	Security      SecurityConfig      `yaml:"security" json:"security" mapstructure:"security"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability" mapstructure:"observability"`

	// Settings holds connector specific keys
	Settings map[string]any `yaml:"settings" json:"settings" mapstructure:"settings"`
}

// PerformanceConfig controls batching
type PerformanceConfig struct {
	// BatchSize is the number of records read or written together
	BatchSize int `yaml:"batch_size" json:"batch_size" mapstructure:"batch_size"`
	// BufferSize is the capacity of record channels
	BufferSize int `yaml:"buffer_size" json:"buffer_size" mapstructure:"buffer_size"`
	// FlushInterval forces a partial batch out after this long
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval" mapstructure:"flush_interval"`
}

// TimeoutConfig bounds remote calls
type TimeoutConfig struct {
	// Request bounds a single remote operation
	Request time.Duration `yaml:"request" json:"request" mapstructure:"request"`
	// Connection bounds establishing a connection
	Connection time.Duration `yaml:"connection" json:"connection" mapstructure:"connection"`
}

// ReliabilityConfig configures retries and rate limiting
type ReliabilityConfig struct {
	// RetryAttempts is the number of retries after the first failure
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts" mapstructure:"retry_attempts"`
	// RetryDelay is the first backoff delay
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay" mapstructure:"retry_delay"`
	// RetryMultiplier grows the delay between attempts
	RetryMultiplier float64 `yaml:"retry_multiplier" json:"retry_multiplier" mapstructure:"retry_multiplier"`
	// MaxRetryDelay caps the backoff delay
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay" mapstructure:"max_retry_delay"`
	// RateLimitPerSec limits remote operations per second (0 = unlimited)
	RateLimitPerSec int `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
	// FailFast stops on the first record error instead of counting it
	FailFast bool `yaml:"fail_fast" json:"fail_fast" mapstructure:"fail_fast"`
}

// SecurityConfig holds credentials. Connectors fall back to their SDK's
// default credential chain when none are set.
type SecurityConfig struct {
	EnableTLS     bool `yaml:"enable_tls" json:"enable_tls" mapstructure:"enable_tls"`
	TLSSkipVerify bool `yaml:"tls_skip_verify" json:"tls_skip_verify" mapstructure:"tls_skip_verify"`
	// Credentials stores secrets such as passwords (use ${ENV} references)
	Credentials map[string]string `yaml:"credentials" json:"credentials" mapstructure:"credentials"`
	// CredentialsFile is a service account key file for cloud SDKs
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file" mapstructure:"credentials_file"`
}

// ObservabilityConfig toggles metrics and tracing
type ObservabilityConfig struct {
	EnableMetrics bool   `yaml:"enable_metrics" json:"enable_metrics" mapstructure:"enable_metrics"`
	EnableTracing bool   `yaml:"enable_tracing" json:"enable_tracing" mapstructure:"enable_tracing"`
	LogLevel      string `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
}

// NewBaseConfig creates a BaseConfig with defaults that suit most
// connectors.
//
// Example:
//
//	cfg := config.NewBaseConfig("events", "kafka")
//	cfg.Performance.BatchSize = 500
func NewBaseConfig(name, connectorType string) *BaseConfig {
	return &BaseConfig{
		Name:    name,
		Type:    connectorType,
		Version: "1.0.0",
		Performance: PerformanceConfig{
			BatchSize:     1000,
			BufferSize:    10000,
			FlushInterval: 10 * time.Second,
		},
		Timeouts: TimeoutConfig{
			Request:    30 * time.Second,
			Connection: 10 * time.Second,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:   3,
			RetryDelay:      time.Second,
			RetryMultiplier: 2.0,
			MaxRetryDelay:   60 * time.Second,
		},
		Security: SecurityConfig{
			EnableTLS:   true,
			Credentials: make(map[string]string),
		},
		Observability: ObservabilityConfig{
			EnableMetrics: true,
			LogLevel:      "info",
		},
		Settings: make(map[string]any),
	}
}

// ApplyDefaults fills zero values with the defaults of NewBaseConfig. It is
// used on configurations read from files, which set only what they need.
func (bc *BaseConfig) ApplyDefaults() {
	def := NewBaseConfig(bc.Name, bc.Type)
	if bc.Version == "" {
		bc.Version = def.Version
	}
	if bc.Performance.BatchSize == 0 {
		bc.Performance.BatchSize = def.Performance.BatchSize
	}
	if bc.Performance.BufferSize == 0 {
		bc.Performance.BufferSize = def.Performance.BufferSize
	}
	if bc.Performance.FlushInterval == 0 {
		bc.Performance.FlushInterval = def.Performance.FlushInterval
	}
	if bc.Timeouts.Request == 0 {
		bc.Timeouts.Request = def.Timeouts.Request
	}
	if bc.Timeouts.Connection == 0 {
		bc.Timeouts.Connection = def.Timeouts.Connection
	}
	if bc.Reliability.RetryDelay == 0 {
		bc.Reliability.RetryDelay = def.Reliability.RetryDelay
	}
	if bc.Reliability.RetryMultiplier == 0 {
		bc.Reliability.RetryMultiplier = def.Reliability.RetryMultiplier
	}
	if bc.Reliability.MaxRetryDelay == 0 {
		bc.Reliability.MaxRetryDelay = def.Reliability.MaxRetryDelay
	}
	if bc.Observability.LogLevel == "" {
		bc.Observability.LogLevel = def.Observability.LogLevel
	}
	if bc.Security.Credentials == nil {
		bc.Security.Credentials = make(map[string]string)
	}
	if bc.Settings == nil {
		bc.Settings = make(map[string]any)
	}
}

// Validate checks required fields and value ranges. Every problem found is
// reported, not just the first.
func (bc *BaseConfig) Validate() error {
	var result *multierror.Error
	if bc.Name == "" {
		result = multierror.Append(result, errors.New(errors.ErrorTypeConfig, "name is required"))
	}
	if bc.Type == "" {
		result = multierror.Append(result, errors.New(errors.ErrorTypeConfig, "type is required"))
	}
	if bc.Performance.BatchSize <= 0 {
		result = multierror.Append(result, errors.New(errors.ErrorTypeConfig, "batch_size must be positive"))
	}
	if bc.Performance.BufferSize < 0 {
		result = multierror.Append(result, errors.New(errors.ErrorTypeConfig, "buffer_size cannot be negative"))
	}
	if bc.Reliability.RetryAttempts < 0 {
		result = multierror.Append(result, errors.New(errors.ErrorTypeConfig, "retry_attempts cannot be negative"))
	}
	if bc.Reliability.RateLimitPerSec < 0 {
		result = multierror.Append(result, errors.New(errors.ErrorTypeConfig, "rate_limit_per_sec cannot be negative"))
	}
	if err := result.ErrorOrNil(); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConfig, "invalid configuration for %q", bc.Name)
	}
	return nil
}

// IsRateLimited returns true if rate limiting is enabled
func (r *ReliabilityConfig) IsRateLimited() bool {
	return r.RateLimitPerSec > 0
}

// HasCredentials returns true if credentials are configured
func (s *SecurityConfig) HasCredentials() bool {
	return len(s.Credentials) > 0 || s.CredentialsFile != ""
}

// Decode decodes Settings into target, a pointer to a struct with
// mapstructure tags. Strings are converted to numbers, booleans and
// durations where the target asks for them, so settings may come from
// environment variables or YAML alike. Unknown keys are an error.
func (bc *BaseConfig) Decode(target any) error {
	return DecodeSettings(bc.Settings, target)
}

// DecodeSettings is Decode for a bare settings map
func DecodeSettings(settings map[string]any, target any) error {
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		Metadata:         &md,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to create settings decoder")
	}
	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid settings")
	}
	return nil
}

// Setting returns a string setting, or def when it is unset
func (bc *BaseConfig) Setting(key, def string) string {
	if v, ok := bc.Settings[key]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}
