package embed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedder_DeterministicUnitVectors(t *testing.T) {
	e := NewMockEmbedder(8, 0)
	ctx := context.Background()

	a, err := e.Embed(ctx, "same text")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "same text")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	require.Len(t, a, 8)

	var norm float64
	for _, x := range a {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 1e-5, "mock vectors are unit length")

	c, err := e.Embed(ctx, "different text")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestMockEmbedder_EnvConfiguration(t *testing.T) {
	t.Setenv("MEM_CLI_EMBEDDINGS_MOCK_DIMS", "16")
	e := NewMockEmbedderFromEnv()
	assert.Equal(t, 16, e.Dimensions())
	assert.Equal(t, "mock-16", e.ModelName())
}

func TestMockEmbedder_SingleLoad(t *testing.T) {
	e := NewMockEmbedder(4, 0)
	ctx := context.Background()

	_, err := e.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	_, err = e.Embed(ctx, "d")
	require.NoError(t, err)

	assert.Equal(t, 1, e.LoadCount())
}

// countingEmbedder wraps the mock and counts calls reaching it.
type countingEmbedder struct {
	*MockEmbedder
	embedCalls int
	batchTexts int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.embedCalls++
	return c.MockEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batchTexts += len(texts)
	return c.MockEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_SkipsRepeatedQueries(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(4, 0)}
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	first, err := c.Embed(ctx, "repeated query")
	require.NoError(t, err)
	second, err := c.Embed(ctx, "repeated query")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.embedCalls)
}

func TestCachedEmbedder_BatchForwardsOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(4, 0)}
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	_, err := c.Embed(ctx, "warm")
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(ctx, []string{"warm", "cold-1", "cold-2"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, 2, inner.batchTexts, "cached text must not reach the backend")
}

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), 3, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetry_ExhaustsAndReturnsLastError(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), 1, func() error {
		attempts++
		return fmt.Errorf("attempt %d", attempts)
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.Contains(t, err.Error(), "attempt 2")
}

func TestParseProvider(t *testing.T) {
	assert.Equal(t, ProviderMLX, ParseProvider("mlx"))
	assert.Equal(t, ProviderStatic, ParseProvider("static"))
	assert.Equal(t, ProviderStatic, ParseProvider("mock"))
	assert.Equal(t, ProviderOllama, ParseProvider("ollama"))
	assert.Equal(t, ProviderOllama, ParseProvider("anything-else"))
}

func TestNewEmbedder_MockEnvForcesStatic(t *testing.T) {
	t.Setenv("MEM_CLI_EMBEDDINGS_MOCK", "1")
	t.Setenv("MEM_CLI_EMBEDDINGS_MOCK_DIMS", "32")

	e, err := NewEmbedder(context.Background(), ProviderOllama, "whatever")
	require.NoError(t, err)
	assert.Equal(t, "mock-32", e.ModelName())
}

func TestResolveSpec(t *testing.T) {
	url, name, err := resolveSpec("hf:acme/embed-models/tiny.Q8_0.gguf")
	require.NoError(t, err)
	assert.Equal(t, "https://huggingface.co/acme/embed-models/resolve/main/tiny.Q8_0.gguf", url)
	assert.Equal(t, "tiny.Q8_0.gguf", name)

	url, name, err = resolveSpec("https://example.com/models/m.bin")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/models/m.bin", url)
	assert.Equal(t, "m.bin", name)

	_, _, err = resolveSpec("hf:broken")
	assert.Error(t, err)

	_, _, err = resolveSpec("plain-model-name")
	assert.Error(t, err)
}

func TestNormalize_UnitLengthAndZeroSafe(t *testing.T) {
	v := normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	zero := normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)

	var norm float64
	for _, x := range normalize(hashVector("text", 32)) {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}
