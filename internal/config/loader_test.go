package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the config dir
// created inside it.
func setupTestHome(t *testing.T) string {
	t.Helper()

	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "triaged")
	require.NoError(t, os.MkdirAll(configDir, 0700))
	return configDir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	configDir := setupTestHome(t)
	path := writeConfig(t, configDir, `server:
  port: 9999

llm:
  provider: gemini
  model: gemini-1.5-pro
  api_key: test-key
  rate_rps: 0.5

sync:
  interval: 10m
  batch_size: 25

triage:
  confidence_threshold: 0.8
  discard_action: trash
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "gemini-1.5-pro", cfg.LLM.Model)
	assert.Equal(t, "test-key", cfg.LLM.APIKey.Value())
	assert.Equal(t, 0.5, cfg.LLM.RateRPS)
	assert.Equal(t, 10*time.Minute, cfg.Sync.Interval.Duration())
	assert.Equal(t, 25, cfg.Sync.BatchSize)
	assert.Equal(t, 0.8, cfg.Triage.ConfidenceThreshold)
	assert.Equal(t, "trash", cfg.Triage.DiscardAction)

	// Sections absent from the file get defaults.
	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
	assert.Equal(t, 2, cfg.Sync.Workers)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	configDir := setupTestHome(t)

	cfg, err := Load(filepath.Join(configDir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Sync.Interval.Duration())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	configDir := setupTestHome(t)
	path := writeConfig(t, configDir, `server:
  port: 9000
sync:
  interval: 5m
`, 0600)

	t.Setenv("TRIAGED_SERVER_PORT", "9001")
	t.Setenv("TRIAGED_SYNC_INTERVAL", "2m")
	t.Setenv("TRIAGED_TRIAGE_CONFIDENCE_THRESHOLD", "0.9")
	t.Setenv("TRIAGED_LLM_API_KEY", "env-key")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Sync.Interval.Duration())
	assert.Equal(t, 0.9, cfg.Triage.ConfidenceThreshold)
	assert.Equal(t, "env-key", cfg.LLM.APIKey.Value())
}

func TestLoad_RejectsWorldReadableFile(t *testing.T) {
	configDir := setupTestHome(t)
	path := writeConfig(t, configDir, "server:\n  port: 9000\n", 0644)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_RejectsPathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)
	outside := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(outside, []byte("server:\n  port: 9000\n"), 0600))

	_, err := Load(outside)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	configDir := setupTestHome(t)
	path := writeConfig(t, configDir, `triage:
  discard_action: shred
`, 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discard_action")
}

func TestExpandHome(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	assert.Equal(t, filepath.Join(tmpHome, "x.db"), ExpandHome("~/x.db"))
	assert.Equal(t, "/abs/path.db", ExpandHome("/abs/path.db"))
	assert.Equal(t, "", ExpandHome(""))
}
