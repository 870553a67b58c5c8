package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "anvil.yaml", `
database:
  path: /tmp/test.db
providers:
  default: openai
  openai:
    api_key: test-key
    model: gpt-4o
session:
  max_iterations: 5
maintenance:
  enabled: true
  interval: 2h
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
	if cfg.Providers.Default != "openai" {
		t.Errorf("default provider = %q", cfg.Providers.Default)
	}
	if cfg.Providers.OpenAI.Model != "gpt-4o" {
		t.Errorf("openai model = %q", cfg.Providers.OpenAI.Model)
	}
	if cfg.Session.MaxIterations != 5 {
		t.Errorf("max iterations = %d", cfg.Session.MaxIterations)
	}
	if cfg.Maintenance.Interval.Std() != 2*time.Hour {
		t.Errorf("maintenance interval = %v", cfg.Maintenance.Interval)
	}
}

func TestLoadJSON5(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "anvil.json5", `{
  // provider selection
  providers: {
    default: "bedrock",
    bedrock: { enabled: true, region: "us-west-2" },
  },
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Default != "bedrock" {
		t.Errorf("default provider = %q", cfg.Providers.Default)
	}
	if cfg.Providers.Bedrock.Region != "us-west-2" {
		t.Errorf("bedrock region = %q", cfg.Providers.Bedrock.Region)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "anvil.yaml", "database:\n  path: x.db\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.MaxIterations != 10 {
		t.Errorf("max iterations = %d, want 10", cfg.Session.MaxIterations)
	}
	if cfg.Session.MaxTokens != 4096 {
		t.Errorf("max tokens = %d, want 4096", cfg.Session.MaxTokens)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("logging format = %q, want json", cfg.Logging.Format)
	}
	if cfg.Tracing.SamplingRate != 1.0 {
		t.Errorf("sampling rate = %v, want 1.0", cfg.Tracing.SamplingRate)
	}
	if cfg.Maintenance.Retention.Std() != 30*24*time.Hour {
		t.Errorf("retention = %v", cfg.Maintenance.Retention)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("ANVIL_TEST_KEY", "sk-from-env")
	dir := t.TempDir()
	path := writeFile(t, dir, "anvil.yaml", `
providers:
  anthropic:
    api_key: ${ANVIL_TEST_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-from-env" {
		t.Errorf("api key = %q, want sk-from-env", cfg.Providers.Anthropic.APIKey)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
logging:
  level: debug
session:
  max_tokens: 2048
`)
	path := writeFile(t, dir, "anvil.yaml", `
$include: base.yaml
session:
  max_tokens: 8192
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("included level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Session.MaxTokens != 8192 {
		t.Errorf("max tokens = %d, want override 8192", cfg.Session.MaxTokens)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "$include: b.yaml\n")
	path := writeFile(t, dir, "b.yaml", "$include: a.yaml\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "anvil.yaml", "databse:\n  path: typo.db\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(*Config) {}, ""},
		{"bad provider", func(c *Config) { c.Providers.Default = "cohere" }, "providers.default"},
		{"bad sampling rate", func(c *Config) { c.Tracing.SamplingRate = 1.5 }, "sampling_rate"},
		{"short maintenance interval", func(c *Config) {
			c.Maintenance.Enabled = true
			c.Maintenance.Interval = Duration(time.Second)
		}, "maintenance.interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
