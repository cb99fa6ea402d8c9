package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.MaxAgents)
	assert.Equal(t, 120*time.Second, cfg.CycleTimeout())
	assert.Equal(t, 30*time.Second, cfg.ToolTimeout())
	assert.Equal(t, 1000, cfg.HistoryCap)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, "config/prompts.json", cfg.PromptTablePath)
	assert.Equal(t, "127.0.0.1", cfg.WebHost, "local-first default binds to loopback")
}

func TestYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "localhive.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"max_agents: 5\ncycle_timeout_s: 60\nweb_port: 9000\nlog_level: debug\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxAgents)
	assert.Equal(t, time.Minute, cfg.CycleTimeout())
	assert.Equal(t, 9000, cfg.WebPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Untouched fields keep defaults.
	assert.Equal(t, 1000, cfg.HistoryCap)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "localhive.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_agents: 5\n"), 0o644))
	t.Setenv("MAX_AGENTS", "7")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxAgents)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.MaxAgents)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max agents", func(c *Config) { c.MaxAgents = 0 }},
		{"negative cycle timeout", func(c *Config) { c.CycleTimeoutS = -1 }},
		{"zero tool timeout", func(c *Config) { c.ToolTimeoutS = 0 }},
		{"zero history cap", func(c *Config) { c.HistoryCap = 0 }},
		{"bad port", func(c *Config) { c.WebPort = 70000 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMalformedYAMLIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_agents: [nope"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
