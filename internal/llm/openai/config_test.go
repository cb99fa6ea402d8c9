package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("LLM_BASE_URL", "")
	t.Setenv("LLM_MODEL", "")

	cfg, err := NewConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.APIKey, "keyless local endpoints are the default")
	assert.Equal(t, "http://localhost:11434/v1", cfg.BaseURL)
	assert.Equal(t, "llama3.2", cfg.Model)
	assert.Nil(t, cfg.Temperature)
	assert.Equal(t, 1, cfg.MaxRetries)
	assert.Equal(t, 300, cfg.HTTPTimeout)
}

func TestNewConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("LLM_BASE_URL", "http://10.0.0.5:8000/v1")
	t.Setenv("LLM_MODEL", "qwen2.5")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("LLM_MAX_TOKENS", "512")

	cfg, err := NewConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.APIKey)
	assert.Equal(t, "qwen2.5", cfg.Model)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.2, float64(*cfg.Temperature), 1e-6)
	assert.Equal(t, 512, cfg.MaxTokens)
}

func TestConfigValidate(t *testing.T) {
	temp := func(v float32) *float32 { return &v }
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{APIKey: "none", Model: "m"}, false},
		{"missing key", Config{Model: "m"}, true},
		{"missing model", Config{APIKey: "k"}, true},
		{"temperature too high", Config{APIKey: "k", Model: "m", Temperature: temp(3.0)}, true},
		{"negative retries", Config{APIKey: "k", Model: "m", MaxRetries: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewClientRequiresValidConfig(t *testing.T) {
	_, err := NewClient(nil)
	assert.Error(t, err)
	_, err = NewClient(&Config{})
	assert.Error(t, err)

	client, err := NewClient(&Config{APIKey: "none", Model: "llama3.2", HTTPTimeout: 10})
	require.NoError(t, err)
	assert.Contains(t, client.Name(), "llama3.2")
}
