package embed

import (
	"context"
	"os"
	"strings"
)

// ProviderType selects an embedding backend.
type ProviderType string

const (
	// ProviderOllama is the default on every platform.
	ProviderOllama ProviderType = "ollama"
	// ProviderMLX is opt-in on Apple Silicon: faster, more RAM.
	ProviderMLX ProviderType = "mlx"
	// ProviderStatic is the deterministic mock, for tests and
	// MEM_CLI_EMBEDDINGS_MOCK. Never for real search quality.
	ProviderStatic ProviderType = "static"
)

// String returns the provider name.
func (p ProviderType) String() string { return string(p) }

// ParseProvider maps a config string to a ProviderType, defaulting to
// Ollama for anything unrecognized.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(s) {
	case "mlx":
		return ProviderMLX
	case "static", "mock":
		return ProviderStatic
	default:
		return ProviderOllama
	}
}

// NewEmbedder constructs the embedder for a provider type and model.
// Selection order:
//
//  1. MEM_CLI_EMBEDDINGS_MOCK forces the mock, so tests and CI never
//     reach for a live server.
//  2. MEM_CLI_EMBEDDER overrides the configured backend by name.
//  3. Otherwise the given provider type wins.
//
// There is no silent cross-backend fallback: if the selected backend is
// down the error surfaces, and the caller decides whether to proceed
// without embeddings. The result is wrapped with the in-process query
// LRU unless MEM_CLI_EMBED_CACHE disables it.
func NewEmbedder(ctx context.Context, provider ProviderType, model string) (Embedder, error) {
	if mockForced() {
		provider = ProviderStatic
	} else if env := os.Getenv("MEM_CLI_EMBEDDER"); env != "" {
		provider = ParseProvider(env)
	}

	var embedder Embedder
	var err error
	switch provider {
	case ProviderStatic:
		embedder = NewMockEmbedderFromEnv()
	case ProviderMLX:
		embedder, err = NewMLXEmbedder(ctx, mlxConfigFromEnv(model))
	default:
		embedder, err = NewOllamaEmbedder(ctx, ollamaConfigFromEnv(model))
	}
	if err != nil {
		return nil, err
	}

	if cacheDisabled() {
		return embedder, nil
	}
	return NewCachedEmbedder(embedder, 0), nil
}

func ollamaConfigFromEnv(model string) OllamaConfig {
	cfg := OllamaConfig{Model: model}
	if host := os.Getenv("MEM_CLI_OLLAMA_HOST"); host != "" {
		cfg.Host = host
	}
	return cfg
}

func mlxConfigFromEnv(model string) MLXConfig {
	cfg := MLXConfig{Model: model}
	if endpoint := os.Getenv("MEM_CLI_MLX_ENDPOINT"); endpoint != "" {
		cfg.Endpoint = endpoint
	}
	return cfg
}

func mockForced() bool {
	switch strings.ToLower(os.Getenv("MEM_CLI_EMBEDDINGS_MOCK")) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

func cacheDisabled() bool {
	switch strings.ToLower(os.Getenv("MEM_CLI_EMBED_CACHE")) {
	case "0", "false", "off", "disabled":
		return true
	}
	return false
}
