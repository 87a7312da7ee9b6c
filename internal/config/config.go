// Package config loads and validates the settings the memory engine
// consumes: chunking parameters, embedding provider selection, search
// tuning, and debug switches. Sources, lowest precedence first:
// hardcoded defaults, ~/.config/mem-cli/config.yaml, MEM_CLI_* env vars.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/evilpsycho42/mem-cli/internal/memerr"
)

// CurrentVersion is the config schema version this build reads and writes.
const CurrentVersion = 1

// Config is the complete mem-cli configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Debug      DebugConfig      `yaml:"debug" json:"debug"`
}

// ChunkingConfig controls how Markdown is split before indexing.
// Changing any field forces a full reindex on the next sync.
type ChunkingConfig struct {
	Tokens        int `yaml:"tokens" json:"tokens"`
	Overlap       int `yaml:"overlap" json:"overlap"`
	MinChars      int `yaml:"min_chars" json:"min_chars"`
	CharsPerToken int `yaml:"chars_per_token" json:"chars_per_token"`
}

// EmbeddingsConfig selects and tunes the embedding provider.
type EmbeddingsConfig struct {
	// Provider is the backend: "ollama" (default), "mlx", or "static".
	Provider string `yaml:"provider" json:"provider"`

	// ModelPath is the stable model identifier: a bare Ollama model
	// name, a local file path, or a remote specifier (hf:..., http(s)://...).
	ModelPath string `yaml:"model_path" json:"model_path"`

	// CacheDir is the local directory remote models are downloaded
	// into. Empty selects ~/.cache/mem-cli/models.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	BatchMaxTokens       int `yaml:"batch_max_tokens" json:"batch_max_tokens"`
	ApproxCharsPerToken  int `yaml:"approx_chars_per_token" json:"approx_chars_per_token"`
	CacheLookupBatchSize int `yaml:"cache_lookup_batch_size" json:"cache_lookup_batch_size"`
}

// SearchConfig tunes result presentation.
type SearchConfig struct {
	Limit           int  `yaml:"limit" json:"limit"`
	SnippetMaxChars int  `yaml:"snippet_max_chars" json:"snippet_max_chars"`
	Hybrid          bool `yaml:"hybrid" json:"hybrid"`
}

// DebugConfig gates diagnostic output.
type DebugConfig struct {
	// Vector emits [mem-cli] vector-path diagnostics on stderr.
	Vector bool `yaml:"vector" json:"vector"`
}

// NewConfig returns the hardcoded defaults.
func NewConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Chunking: ChunkingConfig{
			Tokens:        200,
			Overlap:       20,
			MinChars:      64,
			CharsPerToken: 4,
		},
		Embeddings: EmbeddingsConfig{
			Provider:             "ollama",
			ModelPath:            "nomic-embed-text",
			BatchMaxTokens:       8192,
			ApproxCharsPerToken:  4,
			CacheLookupBatchSize: 500,
		},
		Search: SearchConfig{
			Limit:           10,
			SnippetMaxChars: 240,
		},
	}
}

// UserConfigPath returns ~/.config/mem-cli/config.yaml.
func UserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", "mem-cli", "config.yaml"), nil
}

// Load builds the effective configuration: defaults, then the user
// config file (if present), then environment overrides, then validation.
func Load() (*Config, error) {
	cfg := NewConfig()

	path, err := UserConfigPath()
	if err != nil {
		return nil, err
	}
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile overlays the YAML file at path onto cfg. A missing file is
// not an error; a malformed one is.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return memerr.New(memerr.CodeConfigNotFound, fmt.Sprintf("read config %s", path), err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return memerr.New(memerr.CodeConfigInvalid, fmt.Sprintf("parse config %s", path), err)
	}
	return nil
}

// applyEnv overlays MEM_CLI_* environment variables, the highest
// precedence source.
func (c *Config) applyEnv() {
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = isTruthy(v)
		}
	}

	setInt("MEM_CLI_CHUNK_TOKENS", &c.Chunking.Tokens)
	setInt("MEM_CLI_CHUNK_OVERLAP", &c.Chunking.Overlap)
	setInt("MEM_CLI_CHUNK_MIN_CHARS", &c.Chunking.MinChars)
	setInt("MEM_CLI_CHUNK_CHARS_PER_TOKEN", &c.Chunking.CharsPerToken)

	setStr("MEM_CLI_EMBEDDINGS_PROVIDER", &c.Embeddings.Provider)
	setStr("MEM_CLI_EMBEDDINGS_MODEL", &c.Embeddings.ModelPath)
	setStr("MEM_CLI_EMBEDDINGS_CACHE_DIR", &c.Embeddings.CacheDir)
	setInt("MEM_CLI_EMBEDDINGS_BATCH_MAX_TOKENS", &c.Embeddings.BatchMaxTokens)

	setInt("MEM_CLI_SEARCH_LIMIT", &c.Search.Limit)
	setInt("MEM_CLI_SEARCH_SNIPPET_MAX_CHARS", &c.Search.SnippetMaxChars)
	setBool("MEM_CLI_SEARCH_HYBRID", &c.Search.Hybrid)

	setBool("MEM_CLI_DEBUG_VECTOR", &c.Debug.Vector)

	// The mock switch forces the static provider regardless of the
	// configured backend, so tests never reach for a live server.
	if isTruthy(os.Getenv("MEM_CLI_EMBEDDINGS_MOCK")) {
		c.Embeddings.Provider = "static"
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// Validate checks ranges and clamps overlap, per the settings contract
// the core consumes.
func (c *Config) Validate() error {
	if c.Chunking.Tokens < 1 {
		return memerr.ConfigError(fmt.Sprintf("chunking.tokens must be >= 1, got %d", c.Chunking.Tokens), nil)
	}
	if c.Chunking.MinChars < 1 {
		return memerr.ConfigError(fmt.Sprintf("chunking.min_chars must be >= 1, got %d", c.Chunking.MinChars), nil)
	}
	if c.Chunking.CharsPerToken < 1 {
		return memerr.ConfigError(fmt.Sprintf("chunking.chars_per_token must be >= 1, got %d", c.Chunking.CharsPerToken), nil)
	}
	if c.Chunking.Overlap < 0 {
		c.Chunking.Overlap = 0
	}
	if c.Chunking.Overlap > c.Chunking.Tokens-1 {
		c.Chunking.Overlap = c.Chunking.Tokens - 1
	}

	if c.Embeddings.ModelPath == "" {
		return memerr.ConfigError("embeddings.model_path must not be empty", nil)
	}
	if c.Embeddings.BatchMaxTokens < 1 {
		return memerr.ConfigError(fmt.Sprintf("embeddings.batch_max_tokens must be >= 1, got %d", c.Embeddings.BatchMaxTokens), nil)
	}
	if c.Embeddings.ApproxCharsPerToken < 1 {
		return memerr.ConfigError(fmt.Sprintf("embeddings.approx_chars_per_token must be >= 1, got %d", c.Embeddings.ApproxCharsPerToken), nil)
	}
	if c.Embeddings.CacheLookupBatchSize < 1 {
		return memerr.ConfigError(fmt.Sprintf("embeddings.cache_lookup_batch_size must be >= 1, got %d", c.Embeddings.CacheLookupBatchSize), nil)
	}

	if c.Search.Limit < 1 {
		return memerr.ConfigError(fmt.Sprintf("search.limit must be >= 1, got %d", c.Search.Limit), nil)
	}
	if c.Search.SnippetMaxChars < 1 {
		return memerr.ConfigError(fmt.Sprintf("search.snippet_max_chars must be >= 1, got %d", c.Search.SnippetMaxChars), nil)
	}

	return nil
}

// ResolveCacheDir returns the model cache directory, defaulting to
// ~/.cache/mem-cli/models when unset.
func (c *Config) ResolveCacheDir() (string, error) {
	if c.Embeddings.CacheDir != "" {
		return c.Embeddings.CacheDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".cache", "mem-cli", "models"), nil
}
