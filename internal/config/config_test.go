package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 0.60, cfg.Pipeline.InvestigationThreshold)
	assert.Equal(t, "48h", cfg.Pipeline.CampaignWindow)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "socflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipeline:
  investigation_threshold: 0.75
  campaign_window: 24h
store:
  database_path: /tmp/custom.db
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.75, cfg.Pipeline.InvestigationThreshold)
	assert.Equal(t, 24*time.Hour, cfg.GetCampaignWindow())
	assert.Equal(t, "/tmp/custom.db", cfg.Store.DatabasePath)
	// Untouched sections keep defaults.
	assert.Equal(t, "gemini-3-flash-preview", cfg.LLM.Model)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-gemini-key")
	t.Setenv("ABUSEIPDB_API_KEY", "test-abuse-key")
	t.Setenv("SOCFLOW_DB", "/tmp/env.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "test-gemini-key", cfg.LLM.APIKey)
	assert.Equal(t, "test-gemini-key", cfg.Embedding.GenAIAPIKey)
	assert.True(t, cfg.Enrichment.AbuseIPDB.Enabled)
	assert.Equal(t, "test-abuse-key", cfg.Enrichment.AbuseIPDB.APIKey)
	assert.Equal(t, "/tmp/env.db", cfg.Store.DatabasePath)
}

func TestDurationGettersFallBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.StageTimeout = "garbage"
	cfg.Pipeline.CampaignWindow = ""
	cfg.LLM.Timeout = ""

	assert.Equal(t, 60*time.Second, cfg.GetStageTimeout())
	assert.Equal(t, 48*time.Hour, cfg.GetCampaignWindow())
	assert.Equal(t, 120*time.Second, cfg.GetLLMTimeout())
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Pipeline.InvestigationThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Store.DatabasePath = ""
	assert.Error(t, cfg.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "socflow.yaml")
	cfg := DefaultConfig()
	cfg.Pipeline.InvestigationThreshold = 0.8
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.8, loaded.Pipeline.InvestigationThreshold)
}
