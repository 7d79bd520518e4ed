package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.HTTPPort)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, 20, cfg.MaxSteps)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 20*time.Second, cfg.ActionTimeout)
	assert.Equal(t, 1, cfg.WorkerCount)
	assert.Equal(t, 3000, cfg.DOMContentLimit)
	assert.True(t, cfg.EnableScreenshots)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("MODEL_NAME", "gpt-4o-mini")
	t.Setenv("MAX_STEPS", "5")
	t.Setenv("ACTION_TIMEOUT_SECONDS", "2.5")
	t.Setenv("ENABLE_SCREENSHOTS", "false")
	t.Setenv("FORBIDDEN_URL_PREFIXES", "https://internal.corp/, file://")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, 5, cfg.MaxSteps)
	assert.Equal(t, 2500*time.Millisecond, cfg.ActionTimeout)
	assert.False(t, cfg.EnableScreenshots)
	assert.Equal(t, []string{"https://internal.corp/", "file://"}, cfg.ExtraForbiddenPrefixes)
}

func TestLoadFromEnvMissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestLoadFromEnvBadValues(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	t.Setenv("HTTP_PORT", "not-a-port")
	_, err := LoadFromEnv()
	require.Error(t, err)
	t.Setenv("HTTP_PORT", "99999")
	_, err = LoadFromEnv()
	require.Error(t, err)
	t.Setenv("HTTP_PORT", "")

	t.Setenv("MAX_STEPS", "-1")
	_, err = LoadFromEnv()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.OpenAIAPIKey = "sk-test"
	require.NoError(t, cfg.Validate())

	cfg.WorkerCount = 0
	require.Error(t, cfg.Validate())
}
