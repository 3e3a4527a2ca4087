package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// EnvConfigPath overrides config discovery when set.
const EnvConfigPath = "REQUESTNET_CONFIG"

// Load reads, interpolates, defaults and validates a config file.
// A directory argument is resolved to config.yaml inside it.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath
	return cfg, nil
}

// Parse builds a validated Config from YAML bytes.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg = applyConfigDefaults(cfg)
	cfg.Webhook.Secrets = resolvedSecrets(cfg.Webhook.Secrets)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds the config file by checking standard locations.
// Priority order: $REQUESTNET_CONFIG, ~/.config/requestnet/config.yaml,
// /etc/requestnet/config.yaml, ./config.yaml
func Discover() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	candidates := []string{}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "requestnet", "config.yaml"))
	}
	candidates = append(candidates, "/etc/requestnet/config.yaml", "./config.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/requestnet, /etc/requestnet, ./config.yaml)", EnvConfigPath)
}

// applyConfigDefaults fills values explicitly set to their zero value.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.State.PruneInterval == 0 {
		cfg.State.PruneInterval = defaults.State.PruneInterval
	}

	if cfg.Webhook.Listen == "" {
		cfg.Webhook.Listen = defaults.Webhook.Listen
	}
	if cfg.Webhook.Path == "" {
		cfg.Webhook.Path = defaults.Webhook.Path
	}
	if cfg.Webhook.SignatureHeader == "" {
		cfg.Webhook.SignatureHeader = defaults.Webhook.SignatureHeader
	}
	if cfg.Webhook.TimestampUnit == "" {
		cfg.Webhook.TimestampUnit = defaults.Webhook.TimestampUnit
	}
	if cfg.Webhook.MaxBodySize == "" {
		cfg.Webhook.MaxBodySize = defaults.Webhook.MaxBodySize
	}
	if cfg.Webhook.ShutdownTimeout == 0 {
		cfg.Webhook.ShutdownTimeout = defaults.Webhook.ShutdownTimeout
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaults.Metrics.Path
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// resolvedSecrets drops blank secrets and secrets whose ${VAR} was never set,
// so an unset rotation slot does not become a literal secret.
func resolvedSecrets(secrets []string) []string {
	out := make([]string, 0, len(secrets))
	for _, s := range secrets {
		s = strings.TrimSpace(s)
		if s == "" || envVarPattern.MatchString(s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.State.Retention < 0 {
		return fmt.Errorf("state.retention must not be negative")
	}
	if cfg.State.PruneInterval < 0 {
		return fmt.Errorf("state.prune_interval must not be negative")
	}

	wh := cfg.Webhook
	if !strings.HasPrefix(wh.Path, "/") {
		return fmt.Errorf("webhook.path must start with / (got %q)", wh.Path)
	}
	if len(wh.Secrets) == 0 && !wh.SkipVerification {
		return fmt.Errorf("webhook.secrets: at least one secret is required unless skip_verification is set")
	}
	if wh.Tolerance < 0 {
		return fmt.Errorf("webhook.tolerance must not be negative")
	}
	if wh.Tolerance > 0 && wh.TimestampHeader == "" {
		return fmt.Errorf("webhook.tolerance requires webhook.timestamp_header")
	}
	switch wh.TimestampUnit {
	case "auto", "seconds", "milliseconds":
	default:
		return fmt.Errorf("webhook.timestamp_unit must be one of: auto, seconds, milliseconds (got %q)", wh.TimestampUnit)
	}
	if _, err := ParseSize(wh.MaxBodySize); err != nil {
		return fmt.Errorf("webhook.max_body_size %q: %w", wh.MaxBodySize, err)
	}

	if cfg.Metrics.Enabled {
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with / (got %q)", cfg.Metrics.Path)
		}
		if cfg.Metrics.Path == wh.Path {
			return fmt.Errorf("metrics.path and webhook.path must differ")
		}
	}

	for i, tok := range cfg.API.Tokens {
		if tok.Token == "" {
			return fmt.Errorf("api.tokens[%d].token is required", i)
		}
		if matches := envVarPattern.FindStringSubmatch(tok.Token); len(matches) > 1 {
			return fmt.Errorf("api.tokens[%d].token: environment variable ${%s} is not set", i, matches[1])
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("api.tokens[%d].scopes must be non-empty", i)
		}
	}

	return nil
}

// MaxBodyBytes returns the parsed max_body_size.
func (w WebhookConfig) MaxBodyBytes() int64 {
	n, err := ParseSize(w.MaxBodySize)
	if err != nil {
		return 0
	}
	return n
}

// ParseSize parses size strings like "1MB", "64KB" or "1048576" to bytes.
func ParseSize(size string) (int64, error) {
	upper := strings.ToUpper(strings.TrimSpace(size))
	if upper == "" {
		return 0, fmt.Errorf("size is empty")
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}

// Redacted returns a copy safe to print: secrets are replaced by their position.
func (c *Config) Redacted() *Config {
	out := *c
	out.Webhook.Secrets = make([]string, len(c.Webhook.Secrets))
	for i := range c.Webhook.Secrets {
		out.Webhook.Secrets[i] = fmt.Sprintf("<secret #%d>", i)
	}
	out.API.Tokens = make([]APIToken, len(c.API.Tokens))
	for i, tok := range c.API.Tokens {
		out.API.Tokens[i] = APIToken{Token: fmt.Sprintf("<token #%d>", i), Scopes: tok.Scopes}
	}
	return &out
}

// Summary renders the redacted config as YAML.
func (c *Config) Summary() (string, error) {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return "", err
	}
	return string(data), nil
}
