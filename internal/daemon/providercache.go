package daemon

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/evilpsycho42/mem-cli/internal/embed"
)

// ProviderCache keeps one embedding provider warm per (provider type,
// model path) pair for the life of the daemon process, so forwarded runs
// reuse a warm model. The daemon's FIFO run queue is the
// only caller that ever misses the cache concurrently with itself, so a
// plain mutex (rather than a singleflight) is sufficient.
type ProviderCache struct {
	mu        sync.Mutex
	providers map[string]embed.Provider

	createCount int
}

// NewProviderCache creates an empty cache.
func NewProviderCache() *ProviderCache {
	return &ProviderCache{providers: make(map[string]embed.Provider)}
}

// Get returns the cached provider for (providerType, model), constructing
// and caching one via embed.NewEmbedder on a miss.
func (c *ProviderCache) Get(ctx context.Context, providerType embed.ProviderType, model string) (embed.Provider, error) {
	key := string(providerType) + "\x00" + model

	c.mu.Lock()
	if p, ok := c.providers[key]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	embedder, err := embed.NewEmbedder(ctx, providerType, model)
	if err != nil {
		return nil, err
	}
	provider := embed.NewProvider(embedder)

	c.mu.Lock()
	if existing, ok := c.providers[key]; ok {
		// Lost a race; keep the first winner, discard this one's warmup.
		c.mu.Unlock()
		return existing, nil
	}
	c.providers[key] = provider
	c.createCount++
	c.mu.Unlock()

	return provider, nil
}

// Stats reports the counters exposed in the daemon's ping response. This
// build has no in-process llama.cpp provider (model inference happens in
// MLX/Ollama over HTTP), so llamaInitCount and contextCreateCount
// mirror modelLoadCount: one provider construction is one model load is
// one inference context, by construction of embed.NewEmbedder.
func (c *ProviderCache) Stats() EmbeddingStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return EmbeddingStats{
		ProviderCacheSize:   len(c.providers),
		ProviderCreateCount: c.createCount,
		LlamaInitCount:      c.createCount,
		ModelLoadCount:      c.createCount,
		ContextCreateCount:  c.createCount,
		MockEnabled:         mockEnabled(),
	}
}

func mockEnabled() bool {
	v := strings.ToLower(os.Getenv("MEM_CLI_EMBEDDINGS_MOCK"))
	return v == "1" || v == "true" || v == "on"
}
