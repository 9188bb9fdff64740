// Package config loads socflow configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all socflow configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Embedding engine configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Incident store configuration
	Store StoreConfig `yaml:"store"`

	// Pipeline behavior
	Pipeline PipelineConfig `yaml:"pipeline"`

	// External enrichment services
	Enrichment EnrichmentConfig `yaml:"enrichment"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the generation client.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // ollama, genai

	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`

	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`
}

// StoreConfig configures the incident store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// PipelineConfig configures investigation behavior.
type PipelineConfig struct {
	// Threat score at or above which the investigation stage runs
	InvestigationThreshold float64 `yaml:"investigation_threshold"`

	// Window for campaign correlation (e.g. "48h")
	CampaignWindow string `yaml:"campaign_window"`

	// Per-stage collaborator call timeout
	StageTimeout string `yaml:"stage_timeout"`
}

// EnrichmentConfig configures external enrichment services.
type EnrichmentConfig struct {
	SIEM       ServiceConfig `yaml:"siem"`
	AbuseIPDB  ServiceConfig `yaml:"abuseipdb"`
	VirusTotal ServiceConfig `yaml:"virustotal"`
}

// ServiceConfig configures a single external service.
type ServiceConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Timeout string `yaml:"timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "socflow",
		Version: "1.0.0",

		LLM: LLMConfig{
			Model:   "gemini-3-flash-preview",
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			Timeout: "120s",
		},

		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
		},

		Store: StoreConfig{
			DatabasePath: "data/socflow.db",
		},

		Pipeline: PipelineConfig{
			InvestigationThreshold: 0.60,
			CampaignWindow:         "48h",
			StageTimeout:           "60s",
		},

		Enrichment: EnrichmentConfig{
			SIEM: ServiceConfig{
				Enabled: false,
				BaseURL: "http://localhost:8090",
				Timeout: "10s",
			},
			AbuseIPDB: ServiceConfig{
				Enabled: false,
				BaseURL: "https://api.abuseipdb.com/api/v2",
				Timeout: "10s",
			},
			VirusTotal: ServiceConfig{
				Enabled: false,
				BaseURL: "https://www.virustotal.com/api/v3",
				Timeout: "10s",
			},
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "socflow.log",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Defaults plus environment when no config file exists
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.Embedding.GenAIAPIKey == "" {
			c.Embedding.GenAIAPIKey = key
		}
	}
	if key := os.Getenv("ABUSEIPDB_API_KEY"); key != "" {
		c.Enrichment.AbuseIPDB.APIKey = key
		c.Enrichment.AbuseIPDB.Enabled = true
	}
	if key := os.Getenv("VIRUSTOTAL_API_KEY"); key != "" {
		c.Enrichment.VirusTotal.APIKey = key
		c.Enrichment.VirusTotal.Enabled = true
	}
	if url := os.Getenv("SIEM_URL"); url != "" {
		c.Enrichment.SIEM.BaseURL = url
		c.Enrichment.SIEM.Enabled = true
	}
	if path := os.Getenv("SOCFLOW_DB"); path != "" {
		c.Store.DatabasePath = path
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetStageTimeout returns the per-stage collaborator timeout as a duration.
func (c *Config) GetStageTimeout() time.Duration {
	d, err := time.ParseDuration(c.Pipeline.StageTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetCampaignWindow returns the campaign correlation window as a duration.
func (c *Config) GetCampaignWindow() time.Duration {
	d, err := time.ParseDuration(c.Pipeline.CampaignWindow)
	if err != nil {
		return 48 * time.Hour
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Pipeline.InvestigationThreshold < 0 || c.Pipeline.InvestigationThreshold > 1 {
		return fmt.Errorf("investigation_threshold must be in [0,1], got %f", c.Pipeline.InvestigationThreshold)
	}
	if c.Store.DatabasePath == "" {
		return fmt.Errorf("store.database_path is required")
	}
	return nil
}
