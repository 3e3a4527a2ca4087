package config

import "time"

// Config represents the complete requestnet receiver configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	State   StateConfig   `yaml:"state"`
	Webhook WebhookConfig `yaml:"webhook"`
	Metrics MetricsConfig `yaml:"metrics"`
	API     APIConfig     `yaml:"api"`

	// SourcePath is the absolute path the config was loaded from.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines where accepted deliveries are recorded.
type StateConfig struct {
	Path string `yaml:"path"`
	// Retention is how long ledger rows are kept; 0 keeps them forever.
	Retention time.Duration `yaml:"retention"`
	// PruneInterval is how often the pruner runs when Retention is set.
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// WebhookConfig defines the inbound webhook endpoint.
type WebhookConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`

	// Secrets are tried in order. Keep the previous secret listed while rotating.
	Secrets []string `yaml:"secrets"`

	SignatureHeader string        `yaml:"signature_header"`
	TimestampHeader string        `yaml:"timestamp_header"`
	Tolerance       time.Duration `yaml:"tolerance"`
	TimestampUnit   string        `yaml:"timestamp_unit"`
	MaxBodySize     string        `yaml:"max_body_size"` // e.g. "1MB", "65536"

	// SkipVerification disables signature checks. Development only.
	SkipVerification bool `yaml:"skip_verification"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// APIConfig protects the read-only delivery and feed endpoints.
// With no tokens those endpoints are not mounted.
type APIConfig struct {
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "requestnet",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path:          "./data/deliveries.db",
			Retention:     30 * 24 * time.Hour,
			PruneInterval: time.Hour,
		},
		Webhook: WebhookConfig{
			Listen:          "127.0.0.1:8090",
			Path:            "/webhooks/request",
			SignatureHeader: "x-request-network-signature",
			TimestampUnit:   "auto",
			MaxBodySize:     "1MB",
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
