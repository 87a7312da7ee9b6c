package sync

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evilpsycho42/mem-cli/internal/chunk"
	"github.com/evilpsycho42/mem-cli/internal/store"
)

func openPipelineDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func mkChunks(texts ...string) []chunk.Chunk {
	out := make([]chunk.Chunk, len(texts))
	for i, text := range texts {
		out[i] = chunk.Chunk{
			ID:      "id-" + text[:1] + string(rune('0'+i)),
			Hash:    "hash-" + text,
			Content: text,
		}
	}
	return out
}

func TestEmbedChunks_OrderMatchesInput(t *testing.T) {
	db := openPipelineDB(t)
	p := &fakeProvider{}

	chunks := mkChunks("alpha", "bee", "ceee")
	vecs, err := EmbedChunks(context.Background(), db, p, chunks, PipelineConfig{}, 1000)
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, c := range chunks {
		assert.Equal(t, fakeVector(c.Content), vecs[i])
	}
}

func TestEmbedChunks_DuplicateHashesEmbeddedOnce(t *testing.T) {
	db := openPipelineDB(t)
	p := &fakeProvider{}

	chunks := mkChunks("same", "same", "same")
	for i := range chunks {
		chunks[i].Hash = "hash-same"
	}

	vecs, err := EmbedChunks(context.Background(), db, p, chunks, PipelineConfig{}, 1000)
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, 1, p.batchTexts, "identical hashes should be embedded once")
	assert.Equal(t, vecs[0], vecs[1])
	assert.Equal(t, vecs[0], vecs[2])
}

func TestEmbedChunks_SecondCallHitsCache(t *testing.T) {
	db := openPipelineDB(t)
	p := &fakeProvider{}
	chunks := mkChunks("cached content here")

	_, err := EmbedChunks(context.Background(), db, p, chunks, PipelineConfig{}, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, p.batchCalls)

	_, err = EmbedChunks(context.Background(), db, p, chunks, PipelineConfig{}, 2000)
	require.NoError(t, err)
	assert.Equal(t, 1, p.batchCalls, "cache hit must not call the provider")
}

func TestEmbedChunks_SmallCacheLookupBatches(t *testing.T) {
	db := openPipelineDB(t)
	p := &fakeProvider{}

	chunks := mkChunks("one", "two", "three", "four", "five")
	cfg := PipelineConfig{CacheLookupBatchSize: 2}

	vecs, err := EmbedChunks(context.Background(), db, p, chunks, cfg, 1000)
	require.NoError(t, err)
	require.Len(t, vecs, 5)

	// Second pass resolves everything across three lookup batches.
	p2 := &fakeProvider{}
	vecs2, err := EmbedChunks(context.Background(), db, p2, chunks, cfg, 2000)
	require.NoError(t, err)
	assert.Zero(t, p2.batchCalls)
	assert.Equal(t, vecs, vecs2)
}

func TestGroupByTokenBudget_RespectsBudget(t *testing.T) {
	cfg := PipelineConfig{BatchMaxTokens: 10, ApproxCharsPerToken: 1}.withDefaults()

	chunks := mkChunks(
		strings.Repeat("a", 4),
		strings.Repeat("b", 4),
		strings.Repeat("c", 4),
		strings.Repeat("d", 25), // alone over budget: its own batch
		strings.Repeat("e", 4),
	)
	missing := []int{0, 1, 2, 3, 4}

	batches := groupByTokenBudget(chunks, missing, cfg)
	require.Len(t, batches, 4)
	assert.Equal(t, []int{0, 1}, batches[0])
	assert.Equal(t, []int{2}, batches[1])
	assert.Equal(t, []int{3}, batches[2], "oversized chunk is a batch by itself")
	assert.Equal(t, []int{4}, batches[3])
}

func TestGroupByTokenBudget_OversizedChunkClosesBatch(t *testing.T) {
	cfg := PipelineConfig{BatchMaxTokens: 10, ApproxCharsPerToken: 1}.withDefaults()

	chunks := mkChunks(strings.Repeat("x", 30), strings.Repeat("y", 3))
	batches := groupByTokenBudget(chunks, []int{0, 1}, cfg)

	require.Len(t, batches, 2)
	assert.Equal(t, []int{0}, batches[0], "oversized chunk is a batch by itself")
	assert.Equal(t, []int{1}, batches[1])
}
