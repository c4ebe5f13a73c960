package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all loadpilot configuration.
type Config struct {
	// LLM completion service
	LLM LLMConfig `yaml:"llm"`

	// Negotiation defaults
	Negotiation NegotiationConfig `yaml:"negotiation"`

	// Persistence
	Store StoreConfig `yaml:"store"`

	// Outbound email delivery
	Delivery DeliveryConfig `yaml:"delivery"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the completion service client.
type LLMConfig struct {
	Provider   string `yaml:"provider"` // gemini, azure
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Endpoint   string `yaml:"endpoint"`   // azure resource endpoint
	Deployment string `yaml:"deployment"` // azure deployment name
	Timeout    string `yaml:"timeout"`
}

// RequestTimeout parses the configured timeout, falling back to the default.
func (c LLMConfig) RequestTimeout() time.Duration {
	if d, err := time.ParseDuration(c.Timeout); err == nil && d > 0 {
		return d
	}
	return 90 * time.Second
}

// NegotiationConfig carries pipeline-level negotiation knobs. Per-tenant bid
// thresholds live on the CompanyProfile; these are fallbacks and loop caps.
type NegotiationConfig struct {
	MaxDraftRetries       int     `yaml:"max_draft_retries"` // retries on top of the first attempt
	FirstBidThresholdPct  float64 `yaml:"first_bid_threshold_pct"`
	SecondBidThresholdPct float64 `yaml:"second_bid_threshold_pct"`
	RoundingUnit          float64 `yaml:"rounding_unit"`
}

// StoreConfig configures the SQLite persistence layer.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// DeliveryConfig configures the outbound email delivery service.
type DeliveryConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// RequestTimeout parses the configured timeout, falling back to the default.
func (c DeliveryConfig) RequestTimeout() time.Duration {
	if d, err := time.ParseDuration(c.Timeout); err == nil && d > 0 {
		return d
	}
	return 30 * time.Second
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
			Timeout:  "90s",
		},
		Negotiation: NegotiationConfig{
			MaxDraftRetries:       3,
			FirstBidThresholdPct:  75,
			SecondBidThresholdPct: 50,
			RoundingUnit:          25,
		},
		Store: StoreConfig{
			DatabasePath: "loadpilot.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML config at path, applies env overrides, and validates.
// A missing file is not an error; defaults plus env are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets environment variables win over file values.
// AZURE_OPENAI_API_KEY takes precedence over GEMINI_API_KEY.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "gemini"
		}
	}
	if key := os.Getenv("AZURE_OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "azure"
	}
	if v := os.Getenv("AZURE_OPENAI_ENDPOINT"); v != "" {
		c.LLM.Endpoint = v
	}
	if v := os.Getenv("AZURE_OPENAI_DEPLOYMENT"); v != "" {
		c.LLM.Deployment = v
	}
	if v := os.Getenv("LOADPILOT_DB"); v != "" {
		c.Store.DatabasePath = v
	}
	if v := os.Getenv("LOADPILOT_DELIVERY_URL"); v != "" {
		c.Delivery.BaseURL = v
	}
}

// Validate checks invariants that would otherwise surface deep in the
// pipeline.
func (c *Config) Validate() error {
	if c.Negotiation.MaxDraftRetries < 0 {
		return fmt.Errorf("negotiation.max_draft_retries must be >= 0")
	}
	if c.Negotiation.RoundingUnit < 1 {
		return fmt.Errorf("negotiation.rounding_unit must be >= 1")
	}
	switch c.LLM.Provider {
	case "gemini", "azure", "":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	return nil
}
