package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopkg.in/yaml.v3"
)

func TestNewConfig_DefaultsValidate(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, CurrentVersion, cfg.Version)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.GreaterOrEqual(t, cfg.Chunking.Tokens, 1)
}

func TestValidate_RejectsBadChunking(t *testing.T) {
	cases := map[string]func(*Config){
		"tokens zero":          func(c *Config) { c.Chunking.Tokens = 0 },
		"min_chars zero":       func(c *Config) { c.Chunking.MinChars = 0 },
		"chars_per_token zero": func(c *Config) { c.Chunking.CharsPerToken = 0 },
		"empty model":          func(c *Config) { c.Embeddings.ModelPath = "" },
		"limit zero":           func(c *Config) { c.Search.Limit = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := NewConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_ClampsOverlap(t *testing.T) {
	cfg := NewConfig()
	cfg.Chunking.Tokens = 10
	cfg.Chunking.Overlap = 50
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 9, cfg.Chunking.Overlap, "overlap clamps to tokens-1")

	cfg.Chunking.Overlap = -3
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0, cfg.Chunking.Overlap)
}

func TestMergeFile_OverlaysYAML(t *testing.T) {
	cfg := NewConfig()
	raw := `
chunking:
  tokens: 64
search:
  limit: 3
  hybrid: true
`
	require.NoError(t, yaml.Unmarshal([]byte(raw), cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 64, cfg.Chunking.Tokens)
	assert.Equal(t, 3, cfg.Search.Limit)
	assert.True(t, cfg.Search.Hybrid)
	// Untouched fields keep defaults.
	assert.Equal(t, 4, cfg.Chunking.CharsPerToken)
}

func TestApplyEnv_Overrides(t *testing.T) {
	t.Setenv("MEM_CLI_CHUNK_TOKENS", "77")
	t.Setenv("MEM_CLI_SEARCH_HYBRID", "true")
	t.Setenv("MEM_CLI_EMBEDDINGS_MODEL", "custom-model")

	cfg := NewConfig()
	cfg.applyEnv()

	assert.Equal(t, 77, cfg.Chunking.Tokens)
	assert.True(t, cfg.Search.Hybrid)
	assert.Equal(t, "custom-model", cfg.Embeddings.ModelPath)
}

func TestApplyEnv_MockForcesStaticProvider(t *testing.T) {
	t.Setenv("MEM_CLI_EMBEDDINGS_MOCK", "1")

	cfg := NewConfig()
	cfg.applyEnv()
	assert.Equal(t, "static", cfg.Embeddings.Provider)
}
