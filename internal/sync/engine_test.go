package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evilpsycho42/mem-cli/internal/chunk"
	"github.com/evilpsycho42/mem-cli/internal/layout"
	"github.com/evilpsycho42/mem-cli/internal/store"
)

// fakeProvider returns deterministic 4-dim vectors and counts batch
// calls, standing in for a live embedding backend.
type fakeProvider struct {
	batchCalls int
	batchTexts int
}

func (p *fakeProvider) ModelPath() string { return "fake-4" }

func (p *fakeProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return fakeVector(text), nil
}

func (p *fakeProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.batchCalls++
	p.batchTexts += len(texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = fakeVector(t)
	}
	return out, nil
}

func fakeVector(text string) []float32 {
	v := []float32{0, 0, 0, 1}
	v[len(text)%3] = float32(len(text)%7) + 1
	return v
}

func testChunking() chunk.ChunkingConfig {
	return chunk.ChunkingConfig{Tokens: 100, Overlap: 10, MinChars: 32, CharsPerToken: 4}
}

func newTestEngine(t *testing.T) (*Engine, *layout.Workspace) {
	t.Helper()
	root := t.TempDir()
	ws := layout.New(root)
	require.NoError(t, os.MkdirAll(ws.MemoryDirPath(), 0o755))

	db, err := store.Open(ws.IndexPath())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(db, ws, testChunking(), PipelineConfig{}), ws
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func chunkPaths(t *testing.T, db *store.DB) map[string]int {
	t.Helper()
	chunks, err := db.AllChunks(context.Background())
	require.NoError(t, err)
	out := map[string]int{}
	for _, c := range chunks {
		out[c.FilePath]++
	}
	return out
}

func TestReindex_IndexesOnlyMemoryFiles(t *testing.T) {
	e, ws := newTestEngine(t)
	ctx := context.Background()

	writeFile(t, ws.LongMemoryPath(), "alpha\n")
	writeFile(t, filepath.Join(ws.MemoryDirPath(), "2026-01-01.md"), "# 2026-01-01\n\nkiwi\n")
	writeFile(t, filepath.Join(ws.Root, "notes.md"), "SHOULD_NOT_BE_INDEXED secret-phrase\n")

	require.NoError(t, e.Reindex(ctx, nil))

	byPath := chunkPaths(t, e.DB)
	assert.Contains(t, byPath, "MEMORY.md")
	assert.Contains(t, byPath, "memory/2026-01-01.md")
	assert.NotContains(t, byPath, "notes.md")
	assert.NotContains(t, byPath, "memory.md")
	assert.Len(t, byPath, 2)
}

func TestReindex_NoProviderLeavesEmptyEmbeddings(t *testing.T) {
	e, ws := newTestEngine(t)
	ctx := context.Background()

	writeFile(t, ws.LongMemoryPath(), "remember this line\n")
	require.NoError(t, e.Reindex(ctx, nil))

	chunks, err := e.DB.AllChunks(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Empty(t, c.Model)
		assert.Empty(t, c.Embedding)
		assert.GreaterOrEqual(t, c.LineStart, 1)
		assert.GreaterOrEqual(t, c.LineEnd, c.LineStart)
	}

	n, err := e.DB.VectorCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReindex_CacheAvoidsReembedding(t *testing.T) {
	e, ws := newTestEngine(t)
	ctx := context.Background()
	provider := &fakeProvider{}

	writeFile(t, ws.LongMemoryPath(), "alpha\n")
	writeFile(t, filepath.Join(ws.MemoryDirPath(), "a.md"), "apple banana\ncherry\n")

	require.NoError(t, e.Reindex(ctx, provider))
	require.GreaterOrEqual(t, provider.batchCalls, 1)
	callsAfterFirst := provider.batchCalls

	require.NoError(t, e.Reindex(ctx, provider))
	assert.Equal(t, callsAfterFirst, provider.batchCalls,
		"second reindex of unchanged content must be served from the embedding cache")

	chunks, err := e.DB.AllChunks(ctx)
	require.NoError(t, err)
	distinct := map[string]bool{}
	for _, c := range chunks {
		distinct[c.Hash] = true
		assert.Equal(t, "fake-4", c.Model)
		assert.Len(t, c.Embedding, 4)
	}

	var cacheRows int
	require.NoError(t, e.DB.Conn().QueryRow(`SELECT COUNT(*) FROM embedding_cache`).Scan(&cacheRows))
	assert.Equal(t, len(distinct), cacheRows)
}

func TestEnsureUpToDate_RemovesDeletedFile(t *testing.T) {
	e, ws := newTestEngine(t)
	ctx := context.Background()
	provider := &fakeProvider{}

	target := filepath.Join(ws.MemoryDirPath(), "gone.md")
	writeFile(t, ws.LongMemoryPath(), "keep me\n")
	writeFile(t, target, "delete me soon\n")
	require.NoError(t, e.Reindex(ctx, provider))

	require.NoError(t, os.Remove(target))
	require.NoError(t, e.EnsureUpToDate(ctx, provider))

	byPath := chunkPaths(t, e.DB)
	assert.NotContains(t, byPath, "memory/gone.md")

	rec, err := e.DB.GetFile(ctx, "memory/gone.md")
	require.NoError(t, err)
	assert.Nil(t, rec)

	// Every remaining vector row still has a chunk row.
	orphans, err := e.DB.PurgeOrphanVectors(ctx)
	require.NoError(t, err)
	assert.Zero(t, orphans)
}

func TestEnsureUpToDate_SecondRunIsNoop(t *testing.T) {
	e, ws := newTestEngine(t)
	ctx := context.Background()

	writeFile(t, ws.LongMemoryPath(), "stable content\n")
	require.NoError(t, e.EnsureUpToDate(ctx, nil))

	before, err := e.DB.AllChunks(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, before)

	needs, err := e.NeedsUpdate(ctx, nil)
	require.NoError(t, err)
	assert.False(t, needs)

	require.NoError(t, e.EnsureUpToDate(ctx, nil))
	after, err := e.DB.AllChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after, "no-op sync must not rewrite chunk rows")
}

func TestEnsureUpToDate_TouchOnlyUpdatesFileRecord(t *testing.T) {
	e, ws := newTestEngine(t)
	ctx := context.Background()

	path := filepath.Join(ws.MemoryDirPath(), "a.md")
	writeFile(t, path, "same bytes\n")
	require.NoError(t, e.EnsureUpToDate(ctx, nil))

	before, err := e.DB.AllChunks(ctx)
	require.NoError(t, err)

	// Same content, new mtime: hash matches, so only (mtime, size) move.
	newTime := timeNowPlus(t, path)
	require.NoError(t, e.EnsureUpToDate(ctx, nil))

	rec, err := e.DB.GetFile(ctx, "memory/a.md")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, newTime, rec.Mtime)

	after, err := e.DB.AllChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after, "touch must not rechunk")
}

func timeNowPlus(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	newTime := info.ModTime().Add(5_000_000_000) // +5s
	require.NoError(t, os.Chtimes(path, newTime, newTime))
	return newTime.UnixMilli()
}

func TestEnsureUpToDate_ChunkingChangeForcesReindex(t *testing.T) {
	e, ws := newTestEngine(t)
	ctx := context.Background()

	writeFile(t, ws.LongMemoryPath(), "line one\nline two\nline three\n")
	require.NoError(t, e.EnsureUpToDate(ctx, nil))

	e.Chunking.Tokens = 5 // shrink maxChars, different partition

	needs, err := e.NeedsUpdate(ctx, nil)
	require.NoError(t, err)
	assert.True(t, needs, "changed chunking parameters are drift")

	require.NoError(t, e.EnsureUpToDate(ctx, nil))

	meta, err := e.DB.ReadIndexMeta(ctx)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 5, meta.Tokens)

	needs, err = e.NeedsUpdate(ctx, nil)
	require.NoError(t, err)
	assert.False(t, needs)
}

func TestEnsureUpToDate_ContentChangeReplacesChunks(t *testing.T) {
	e, ws := newTestEngine(t)
	ctx := context.Background()

	path := filepath.Join(ws.MemoryDirPath(), "a.md")
	writeFile(t, path, "first draft\n")
	require.NoError(t, e.EnsureUpToDate(ctx, nil))

	writeFile(t, path, "second draft entirely\n")
	timeNowPlus(t, path)
	require.NoError(t, e.EnsureUpToDate(ctx, nil))

	chunks, err := e.DB.ChunksForFile(ctx, "memory/a.md")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "second draft")
}

func TestChunkIDs_StableAcrossReruns(t *testing.T) {
	e, ws := newTestEngine(t)
	ctx := context.Background()

	writeFile(t, ws.LongMemoryPath(), "deterministic input\nwith two lines\n")
	require.NoError(t, e.Reindex(ctx, nil))
	first, err := e.DB.AllChunks(ctx)
	require.NoError(t, err)

	require.NoError(t, e.Reindex(ctx, nil))
	second, err := e.DB.AllChunks(ctx)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}
