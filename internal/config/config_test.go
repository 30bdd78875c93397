package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nuvin.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Provider.Name != "openai" || cfg.Provider.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("provider defaults = %+v", cfg.Provider)
	}
	if cfg.Runner.MaxIterations != 24 || cfg.Runner.MaxConcurrentTools != 4 || cfg.Runner.ValidationMode != "lenient" {
		t.Errorf("runner defaults = %+v", cfg.Runner)
	}
	if cfg.Delegation.MaxDepth != 3 || cfg.Delegation.SessionTTL != 30*time.Minute || cfg.Delegation.SessionCapacity != 256 {
		t.Errorf("delegation defaults = %+v", cfg.Delegation)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("storage default = %+v", cfg.Storage)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := writeConfig(t, `
provider:
  name: local
  base_url: http://localhost:8080/v1
  api_key: sk-local
  model: llama
runner:
  max_iterations: 5
  validation_mode: strict
delegation:
  catalog_path: agents.yaml
  max_depth: 2
  disabled: [dangerous]
storage:
  driver: sqlite
  path: conv.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Name != "local" || cfg.Provider.Model != "llama" {
		t.Errorf("provider = %+v", cfg.Provider)
	}
	if cfg.Runner.MaxIterations != 5 || cfg.Runner.ValidationMode != "strict" {
		t.Errorf("runner = %+v", cfg.Runner)
	}
	if cfg.Delegation.MaxDepth != 2 {
		t.Errorf("delegation = %+v", cfg.Delegation)
	}

	enabled := cfg.EnabledAgents()
	if v, ok := enabled["dangerous"]; !ok || v {
		t.Errorf("EnabledAgents = %v, want dangerous disabled", enabled)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NUVIN_API_KEY", "sk-env")
	t.Setenv("NUVIN_MODEL", "env-model")
	t.Setenv("NUVIN_MAX_DEPTH", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.APIKey != "sk-env" {
		t.Errorf("APIKey = %q", cfg.Provider.APIKey)
	}
	if cfg.Provider.Model != "env-model" {
		t.Errorf("Model = %q", cfg.Provider.Model)
	}
	if cfg.Delegation.MaxDepth != 7 {
		t.Errorf("MaxDepth = %d", cfg.Delegation.MaxDepth)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"no credentials", func(c *Config) { c.Provider.APIKey = "" }, true},
		{"oauth counts as credentials", func(c *Config) {
			c.Provider.APIKey = ""
			c.Provider.OAuth.RefreshToken = "r"
			c.Provider.OAuth.TokenURL = "https://token"
		}, false},
		{"bad driver", func(c *Config) { c.Storage.Driver = "postgres" }, true},
		{"sqlite without path", func(c *Config) { c.Storage.Driver = "sqlite"; c.Storage.Path = "" }, true},
		{"bad validation mode", func(c *Config) { c.Runner.ValidationMode = "paranoid" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFile("")
			if err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			cfg.Provider.APIKey = "sk-test"
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
