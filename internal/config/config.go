// Package config handles streamclient configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// searchPathsFunc is a package-level indirection over DefaultSearchPaths
// so tests can override the search order without touching the real
// filesystem outside a temp dir.
var searchPathsFunc = DefaultSearchPaths

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/streamclient/config.yaml,
// /config/config.yaml, /etc/streamclient/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "streamclient", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/streamclient/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches searchPathsFunc() and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Config holds all streamclient configuration: connection, reconnect
// policy, subscription defaults, and output wiring.
type Config struct {
	BaseURL   string          `yaml:"base_url"`
	Token     string          `yaml:"token"`
	Channels  []string        `yaml:"channels"`
	Users     []string        `yaml:"users"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	DedupTTL  time.Duration   `yaml:"dedup_ttl"`
	Outputs   OutputsConfig   `yaml:"outputs"`
	LogLevel  string          `yaml:"log_level"`
}

// ReconnectConfig mirrors stream.BackoffConfig's shape for YAML
// unmarshaling; translated into a stream.BackoffConfig by the caller
// that wires a Config into an orchestrator.Config.
type ReconnectConfig struct {
	Initial     time.Duration `yaml:"initial"`
	Max         time.Duration `yaml:"max"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// OutputsConfig enables/configures the reference sinks. At least one
// must be enabled (checked by Validate).
type OutputsConfig struct {
	CLI       CLIOutputConfig       `yaml:"cli"`
	Dashboard DashboardOutputConfig `yaml:"dashboard"`
	Webhook   WebhookOutputConfig   `yaml:"webhook"`
}

// CLIOutputConfig configures the stdout/terminal sink.
type CLIOutputConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DashboardOutputConfig configures the HTTP JSON-feed sink.
type DashboardOutputConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // bind address, default ":8090"
	Backlog int    `yaml:"backlog"` // events retained for late subscribers
}

// WebhookOutputConfig configures the generic POST sink.
type WebhookOutputConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Configured reports whether the webhook has a destination URL.
func (c WebhookOutputConfig) Configured() bool {
	return c.URL != ""
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${STREAMCLIENT_TOKEN}). This
	// is a convenience for container deployments; the recommended
	// approach is to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Reconnect.Initial == 0 {
		c.Reconnect.Initial = time.Second
	}
	if c.Reconnect.Max == 0 {
		c.Reconnect.Max = 30 * time.Second
	}
	if c.Reconnect.Multiplier == 0 {
		c.Reconnect.Multiplier = 2.0
	}
	if c.DedupTTL == 0 {
		c.DedupTTL = 60 * time.Second
	}
	if c.Outputs.Dashboard.Enabled && c.Outputs.Dashboard.Address == "" {
		c.Outputs.Dashboard.Address = ":8090"
	}
	if c.Outputs.Dashboard.Enabled && c.Outputs.Dashboard.Backlog == 0 {
		c.Outputs.Dashboard.Backlog = 100
	}
	if c.Outputs.Webhook.Enabled && c.Outputs.Webhook.Timeout == 0 {
		c.Outputs.Webhook.Timeout = 10 * time.Second
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url must not be empty")
	}
	if c.Reconnect.Max < c.Reconnect.Initial {
		return fmt.Errorf("reconnect.max (%s) must be >= reconnect.initial (%s)", c.Reconnect.Max, c.Reconnect.Initial)
	}
	if c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect.multiplier %v must be >= 1", c.Reconnect.Multiplier)
	}
	if c.Outputs.Webhook.Enabled && !c.Outputs.Webhook.Configured() {
		return fmt.Errorf("outputs.webhook.url must be set when outputs.webhook.enabled is true")
	}
	if !c.Outputs.CLI.Enabled && !c.Outputs.Dashboard.Enabled && !c.Outputs.Webhook.Enabled {
		return fmt.Errorf("at least one output must be enabled")
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for local
// development: base_url/token must still be supplied by the caller,
// but every other field carries its applied default.
func Default() *Config {
	cfg := &Config{
		Outputs: OutputsConfig{CLI: CLIOutputConfig{Enabled: true}},
	}
	cfg.applyDefaults()
	return cfg
}
