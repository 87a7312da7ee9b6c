// Package embed turns text into dense vectors. It provides the Provider
// capability consumed by the sync and search engines, backed by Ollama
// (default), an MLX embedding server (Apple Silicon opt-in), or a
// deterministic mock, with an in-process LRU layer in front and a
// flock-guarded download cache for remote model specifiers.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultBatchSize is how many texts one backend request carries.
	// Large enough to amortize HTTP overhead, small enough that a
	// failed batch doesn't throw away much work.
	DefaultBatchSize = 32

	// DefaultRequestTimeout bounds one backend request once the model
	// is resident.
	DefaultRequestTimeout = 2 * time.Minute

	// DefaultColdTimeout bounds the first request, which may pay for a
	// model load on the backend side.
	DefaultColdTimeout = 5 * time.Minute

	// DefaultMaxRetries is how many times a failed backend request is
	// reattempted before the error propagates.
	DefaultMaxRetries = 2
)

// Embedder generates vector embeddings for text. Implementations return
// unit-length vectors so cosine distance downstream is well-defined.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates one embedding per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimensionality.
	Dimensions() int

	// ModelName returns the stable model identifier.
	ModelName() string

	// Healthy reports whether the backend is reachable and serving.
	Healthy(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// normalize scales v to unit length in place and returns it. A zero
// vector is returned unchanged.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}
