// ABOUTME: Configuration loading and parsing for coven-warden
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-warden/internal/server"
	"github.com/2389/coven-warden/internal/transport"
)

// Config represents the complete coven-warden configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Agents    AgentsConfig    `yaml:"agents" toml:"agents"`
	Runner    RunnerConfig    `yaml:"runner" toml:"runner"`
	Journal   JournalConfig   `yaml:"journal" toml:"journal"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds where the warden listens and how it identifies itself
type ServerConfig struct {
	Endpoint   string `yaml:"endpoint" toml:"endpoint"`
	ServerID   string `yaml:"server_id,omitempty" toml:"server_id,omitempty"`
	HealthAddr string `yaml:"health_addr,omitempty" toml:"health_addr,omitempty"` // gRPC health probe, empty disables
}

// AgentsConfig holds admission and maintenance settings
type AgentsConfig struct {
	MaxAgents            int           `yaml:"max_agents" toml:"max_agents"`
	EnableStatusUpdates  *bool         `yaml:"enable_status_updates,omitempty" toml:"enable_status_updates,omitempty"`
	StatusUpdateInterval time.Duration `yaml:"-" toml:"-"`
	RequestTimeout       time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	StatusUpdateIntervalRaw string `yaml:"status_update_interval" toml:"status_update_interval"`
	RequestTimeoutRaw       string `yaml:"request_timeout" toml:"request_timeout"`
}

// RunnerConfig maps model backends to the commands that run them
type RunnerConfig struct {
	// Backends maps a model_backend name to an argv template. {task},
	// {name} and {id} are substituted at spawn time.
	Backends map[string][]string `yaml:"backends" toml:"backends"`
	WorkDir  string              `yaml:"work_dir,omitempty" toml:"work_dir,omitempty"`
}

// JournalConfig holds the lifecycle journal location
type JournalConfig struct {
	Path string `yaml:"path" toml:"path"` // empty disables the journal
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname,omitempty" toml:"hostname,omitempty"`
	AuthKey   string `yaml:"auth_key,omitempty" toml:"auth_key,omitempty"`
	StateDir  string `yaml:"state_dir,omitempty" toml:"state_dir,omitempty"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Runner: RunnerConfig{
			Backends: map[string][]string{
				"fake": {"fake-agent", "--name", "{name}", "--task", "{task}"},
			},
		},
	}
	applyDefaults(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML(path) {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Write serializes cfg to path, as TOML or YAML by extension. Parent
// directories are created.
func Write(path string, cfg *Config) error {
	out := *cfg
	out.Agents.StatusUpdateIntervalRaw = out.Agents.StatusUpdateInterval.String()
	out.Agents.RequestTimeoutRaw = out.Agents.RequestTimeout.String()

	var buf bytes.Buffer
	buf.WriteString("# coven-warden configuration\n")
	buf.WriteString("# Generated by coven-warden init\n\n")

	if isTOML(path) {
		if err := toml.NewEncoder(&buf).Encode(out); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
	} else {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Endpoint == "" {
		cfg.Server.Endpoint = transport.DefaultEndpoint
	}
	if cfg.Agents.MaxAgents == 0 {
		cfg.Agents.MaxAgents = server.DefaultMaxAgents
	}
	if cfg.Agents.EnableStatusUpdates == nil {
		enabled := true
		cfg.Agents.EnableStatusUpdates = &enabled
	}
	if cfg.Agents.StatusUpdateInterval == 0 {
		cfg.Agents.StatusUpdateInterval = server.DefaultStatusUpdateInterval
	}
	if cfg.Agents.RequestTimeout == 0 {
		cfg.Agents.RequestTimeout = server.DefaultRequestTimeout
	}
	if cfg.Tailscale.Enabled && cfg.Tailscale.Hostname == "" {
		cfg.Tailscale.Hostname = "coven-warden"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if _, err := transport.ParseEndpoint(c.Server.Endpoint); err != nil {
		return fmt.Errorf("server.endpoint: %w", err)
	}

	if c.Agents.MaxAgents < 0 {
		return fmt.Errorf("agents.max_agents must be positive, got %d", c.Agents.MaxAgents)
	}
	if c.Agents.StatusUpdateInterval < 0 {
		return fmt.Errorf("agents.status_update_interval must be positive")
	}
	if c.Agents.RequestTimeout < 0 {
		return fmt.Errorf("agents.request_timeout must be positive")
	}

	for name, argv := range c.Runner.Backends {
		if len(argv) == 0 || argv[0] == "" {
			return fmt.Errorf("runner.backends.%s needs a command", name)
		}
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// ServerConfig converts the file settings into the server's construction
// settings.
func (c *Config) ServerConfig() server.Config {
	enabled := true
	if c.Agents.EnableStatusUpdates != nil {
		enabled = *c.Agents.EnableStatusUpdates
	}
	return server.Config{
		Endpoint:             c.Server.Endpoint,
		ServerID:             c.Server.ServerID,
		MaxAgents:            c.Agents.MaxAgents,
		StatusUpdateInterval: c.Agents.StatusUpdateInterval,
		EnableStatusUpdates:  enabled,
		RequestTimeout:       c.Agents.RequestTimeout,
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agents.StatusUpdateIntervalRaw != "" {
		cfg.Agents.StatusUpdateInterval, err = time.ParseDuration(cfg.Agents.StatusUpdateIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing status_update_interval %q: %w", cfg.Agents.StatusUpdateIntervalRaw, err)
		}
	}

	if cfg.Agents.RequestTimeoutRaw != "" {
		cfg.Agents.RequestTimeout, err = time.ParseDuration(cfg.Agents.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Agents.RequestTimeoutRaw, err)
		}
	}

	return nil
}
