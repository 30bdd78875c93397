// Package config loads the runtime configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Provider   ProviderConfig   `yaml:"provider"`
	Runner     RunnerConfig     `yaml:"runner"`
	Delegation DelegationConfig `yaml:"delegation"`
	Storage    StorageConfig    `yaml:"storage"`
	Tracing    TracingConfig    `yaml:"tracing"`

	// WorkingDir is injected into specialist prompts. Defaults to the
	// process working directory.
	WorkingDir string `yaml:"working_dir"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ProviderConfig configures the LLM provider.
type ProviderConfig struct {
	// Name selects the implementation: "openai" uses the SDK-backed
	// provider, anything else the OpenAI-compatible HTTP client.
	Name string `yaml:"name"`

	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	MaxTokens   int     `yaml:"max_tokens"`

	// MaxAttempts bounds transport retries.
	MaxAttempts int `yaml:"max_attempts"`

	OAuth OAuthConfig `yaml:"oauth"`
}

// OAuthConfig holds stored OAuth credentials. When RefreshToken is set,
// OAuth replaces bearer authentication.
type OAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	TokenURL     string `yaml:"token_url"`
	AccessToken  string `yaml:"access_token"`
	RefreshToken string `yaml:"refresh_token"`
}

// Enabled reports whether OAuth authentication is configured.
func (c OAuthConfig) Enabled() bool {
	return c.RefreshToken != "" && c.TokenURL != ""
}

// RunnerConfig bounds the conversation loop.
type RunnerConfig struct {
	MaxIterations      int           `yaml:"max_iterations"`
	MaxWallTime        time.Duration `yaml:"max_wall_time"`
	MaxConcurrentTools int           `yaml:"max_concurrent_tools"`
	ValidationMode     string        `yaml:"validation_mode"`
}

// DelegationConfig configures sub-agent delegation.
type DelegationConfig struct {
	// CatalogPath is the YAML specialist catalog. Empty disables
	// delegation tools.
	CatalogPath string `yaml:"catalog_path"`

	MaxDepth        int           `yaml:"max_depth"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	SessionCapacity int           `yaml:"session_capacity"`

	// Disabled lists catalog agents the policy map turns off.
	Disabled []string `yaml:"disabled,omitempty"`
}

// StorageConfig configures conversation persistence.
type StorageConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Load reads the config file at path, applies environment overrides and
// defaults, and validates. A missing file yields the default config.
func Load(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads, overrides, and defaults the config without validating.
// Commands that never talk to a provider (e.g. catalog listings) use this.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("NUVIN_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Provider.APIKey == "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("NUVIN_BASE_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if v := os.Getenv("NUVIN_MODEL"); v != "" {
		c.Provider.Model = v
	}
	if v := os.Getenv("NUVIN_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("NUVIN_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Delegation.MaxDepth = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Provider.Name == "" {
		c.Provider.Name = "openai"
	}
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "https://api.openai.com/v1"
	}
	if c.Provider.Model == "" {
		c.Provider.Model = "gpt-4o"
	}
	if c.Provider.MaxTokens <= 0 {
		c.Provider.MaxTokens = 4096
	}
	if c.Provider.MaxAttempts <= 0 {
		c.Provider.MaxAttempts = 3
	}
	if c.Runner.MaxIterations <= 0 {
		c.Runner.MaxIterations = 24
	}
	if c.Runner.MaxConcurrentTools <= 0 {
		c.Runner.MaxConcurrentTools = 4
	}
	if c.Runner.ValidationMode == "" {
		c.Runner.ValidationMode = "lenient"
	}
	if c.Delegation.MaxDepth <= 0 {
		c.Delegation.MaxDepth = 3
	}
	if c.Delegation.SessionTTL <= 0 {
		c.Delegation.SessionTTL = 30 * time.Minute
	}
	if c.Delegation.SessionCapacity <= 0 {
		c.Delegation.SessionCapacity = 256
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Tracing.SamplingRate <= 0 {
		c.Tracing.SamplingRate = 1.0
	}
	if c.WorkingDir == "" {
		if wd, err := os.Getwd(); err == nil {
			c.WorkingDir = wd
		}
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Provider.APIKey == "" && !c.Provider.OAuth.Enabled() {
		return fmt.Errorf("provider credentials required: set provider.api_key (or NUVIN_API_KEY) or provider.oauth")
	}
	switch c.Storage.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown storage driver %q (want memory or sqlite)", c.Storage.Driver)
	}
	switch c.Runner.ValidationMode {
	case "strict", "lenient":
	default:
		return fmt.Errorf("unknown validation mode %q (want strict or lenient)", c.Runner.ValidationMode)
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		return fmt.Errorf("storage.path required for sqlite driver")
	}
	return nil
}

// EnabledAgents builds the delegation policy map from the disabled list.
func (c *Config) EnabledAgents() map[string]bool {
	if len(c.Delegation.Disabled) == 0 {
		return nil
	}
	enabled := make(map[string]bool, len(c.Delegation.Disabled))
	for _, id := range c.Delegation.Disabled {
		enabled[id] = false
	}
	return enabled
}
