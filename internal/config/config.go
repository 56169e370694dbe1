package config

import "time"

// Config represents the complete application configuration.
// Values come from defaults, an optional YAML file, and DECKWARD_*
// environment variables, in increasing precedence.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Guard    GuardConfig    `mapstructure:"guard"`
	AI       AIConfig       `mapstructure:"ai"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Health   HealthConfig   `mapstructure:"health"`
	Debug    DebugConfig    `mapstructure:"debug"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// GuardConfig groups the rate limiter and circuit breaker settings.
type GuardConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Circuit   CircuitConfig   `mapstructure:"circuit"`
}

// RateLimitConfig contains the per-actor budgets.
type RateLimitConfig struct {
	GenerationPerHour     int           `mapstructure:"generation_per_hour"`
	FileProcessingPerHour int           `mapstructure:"file_processing_per_hour"`
	Window                time.Duration `mapstructure:"window"`
	Cooldown              time.Duration `mapstructure:"cooldown"`
	MaxConcurrent         int           `mapstructure:"max_concurrent"`
}

// CircuitConfig contains the breaker thresholds.
type CircuitConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
}

// AIConfig contains provider instances and routing.
//
// API keys under providers may be stored encrypted; `deckward secrets
// migrate` encrypts plaintext keys in the settings store.
type AIConfig struct {
	DefaultProvider string                    `mapstructure:"default_provider"`
	CallTimeout     time.Duration             `mapstructure:"call_timeout"`
	Providers       map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig is one configured provider instance.
type ProviderConfig struct {
	Type    string `mapstructure:"type"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	Enabled bool   `mapstructure:"enabled"`
}

// SecurityConfig contains key derivation inputs and certificate pins.
type SecurityConfig struct {
	// InstallationID and Salt feed PBKDF2 key derivation for the secrets
	// service. The same pair always derives the same key.
	InstallationID string `mapstructure:"installation_id"`
	Salt           string `mapstructure:"salt"`

	// Pins maps provider hosts to allowed SHA-256 leaf fingerprints.
	// Hosts without pins pass on standard TLS verification alone.
	// Hostname keys contain dots, so the loader decodes this section from
	// the raw config tree rather than through the path-splitting unmarshal.
	Pins map[string][]string `mapstructure:"-"`

	// TraceFile enables NDJSON provider tracing when set.
	TraceFile string `mapstructure:"trace_file"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// PprofEnabled controls whether pprof endpoints are exposed
	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}
