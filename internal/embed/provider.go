package embed

import "context"

// Provider is the narrow capability the sync and search engines consume:
// a stable model identifier plus query/batch embedding. It is satisfied
// by wrapping any Embedder (real, cached, or mock).
type Provider interface {
	// ModelPath returns the opaque, stable identifier of the active
	// model; persisted as the chunk/cache "model" column.
	ModelPath() string
	// EmbedQuery computes one vector for free-text query input.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch computes one vector per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// providerAdapter adapts an Embedder to Provider. Embedder already has
// the same shape under different names (Embed/EmbedBatch/ModelName); the
// adapter exists so sync/search depend on the narrow capability instead
// of the full Embedder surface (health checks and lifecycle they have
// no business touching).
type providerAdapter struct {
	inner Embedder
}

// NewProvider wraps an Embedder as a Provider.
func NewProvider(inner Embedder) Provider {
	return &providerAdapter{inner: inner}
}

func (p *providerAdapter) ModelPath() string { return p.inner.ModelName() }

func (p *providerAdapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.inner.Embed(ctx, text)
}

func (p *providerAdapter) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return p.inner.EmbedBatch(ctx, texts)
}
