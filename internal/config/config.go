// Package config loads the anvil configuration from yaml or json5 files,
// with $include composition and ${ENV} expansion.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes yaml/json5 duration strings ("90s", "2h") and bare
// integers (nanoseconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration for the anvil pipeline.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Session     SessionConfig     `yaml:"session"`
	Sandbox     SandboxConfig     `yaml:"sandbox"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

type DatabaseConfig struct {
	// Path is the sqlite database file, or ":memory:".
	Path string `yaml:"path"`
}

type ProvidersConfig struct {
	// Default selects which configured provider serves runs when the chain
	// has a choice: "anthropic", "openai", or "bedrock".
	Default string `yaml:"default"`

	Anthropic AnthropicConfig `yaml:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Bedrock   BedrockConfig   `yaml:"bedrock"`

	// MaxRetries and RetryDelay govern stream-creation retries on
	// retryable failures.
	MaxRetries int      `yaml:"max_retries"`
	RetryDelay Duration `yaml:"retry_delay"`
}

type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type BedrockConfig struct {
	Enabled bool   `yaml:"enabled"`
	Region  string `yaml:"region"`
	Model   string `yaml:"model"`
}

type SessionConfig struct {
	MaxIterations int    `yaml:"max_iterations"`
	MaxTokens     int    `yaml:"max_tokens"`
	HistoryLimit  int    `yaml:"history_limit"`
	Model         string `yaml:"model"`

	// ContextBudget is the token estimate above which history compression
	// kicks in.
	ContextBudget int `yaml:"context_budget"`
}

type SandboxConfig struct {
	BaseURL        string   `yaml:"base_url"`
	APIKey         string   `yaml:"api_key"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

type LoggingConfig struct {
	Level          string   `yaml:"level"`
	Format         string   `yaml:"format"`
	AddSource      bool     `yaml:"add_source"`
	RedactPatterns []string `yaml:"redact_patterns"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

type MaintenanceConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Interval  Duration `yaml:"interval"`
	Retention Duration `yaml:"retention"`
}

// Load reads, merges, and validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := loadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRaw(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Path == "" {
		cfg.Database.Path = "anvil.db"
	}
	if cfg.Providers.Default == "" {
		cfg.Providers.Default = "anthropic"
	}
	if cfg.Providers.MaxRetries == 0 {
		cfg.Providers.MaxRetries = 3
	}
	if cfg.Providers.RetryDelay == 0 {
		cfg.Providers.RetryDelay = Duration(time.Second)
	}
	if cfg.Session.MaxIterations == 0 {
		cfg.Session.MaxIterations = 10
	}
	if cfg.Session.MaxTokens == 0 {
		cfg.Session.MaxTokens = 4096
	}
	if cfg.Session.HistoryLimit == 0 {
		cfg.Session.HistoryLimit = 50
	}
	if cfg.Sandbox.RequestTimeout == 0 {
		cfg.Sandbox.RequestTimeout = Duration(60 * time.Second)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
	if cfg.Maintenance.Interval == 0 {
		cfg.Maintenance.Interval = Duration(time.Hour)
	}
	if cfg.Maintenance.Retention == 0 {
		cfg.Maintenance.Retention = Duration(30 * 24 * time.Hour)
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Providers.Default {
	case "anthropic", "openai", "bedrock":
	default:
		return fmt.Errorf("providers.default %q: must be anthropic, openai, or bedrock", c.Providers.Default)
	}
	if c.Session.MaxIterations < 0 {
		return fmt.Errorf("session.max_iterations must not be negative")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate %v: must be within [0, 1]", c.Tracing.SamplingRate)
	}
	if c.Maintenance.Enabled && c.Maintenance.Interval.Std() < time.Minute {
		return fmt.Errorf("maintenance.interval %v: must be at least one minute", c.Maintenance.Interval)
	}
	return nil
}
