package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsToDummyBackend(t *testing.T) {
	t.Setenv("LLM_BACKEND", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, LLMBackendDummy, cfg.LLM.Backend)
	require.Equal(t, 8, cfg.Retrieval.DefaultK)
	require.InDelta(t, 0.25, cfg.Retrieval.DefaultAlpha, 1e-9)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("LLM_BACKEND", "magic")
	_, err := Load(t.TempDir())
	require.Error(t, err)
}

func TestLoadRequiresAnthropicKeyForAnthropicBackend(t *testing.T) {
	t.Setenv("LLM_BACKEND", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := Load(t.TempDir())
	require.Error(t, err)
}

func TestLoadRejectsInvalidMaxRetries(t *testing.T) {
	t.Setenv("LLM_BACKEND", "dummy")
	t.Setenv("MAX_RETRIES", "not-a-number")
	_, err := Load(t.TempDir())
	require.Error(t, err)
}
