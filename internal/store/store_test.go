package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_CreatesSchema(t *testing.T) {
	db := openTestDB(t)
	files, err := db.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFileRecord_UpsertAndGet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	rec := FileRecord{Path: "notes/a.md", Hash: "h1", Mtime: 1000, Size: 42}
	require.NoError(t, db.UpsertFile(ctx, rec))

	got, err := db.GetFile(ctx, "notes/a.md")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec, *got)

	rec.Hash = "h2"
	require.NoError(t, db.UpsertFile(ctx, rec))
	got, err = db.GetFile(ctx, "notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, "h2", got.Hash)
}

func TestGetFile_MissingReturnsNil(t *testing.T) {
	db := openTestDB(t)
	got, err := db.GetFile(context.Background(), "nope.md")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReplaceFileChunks_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	file := FileRecord{Path: "a.md", Hash: "fh1", Mtime: 10, Size: 3}
	records := []ChunkRecord{
		{ID: "c1", FilePath: "a.md", LineStart: 1, LineEnd: 2, Hash: "ch1", Model: "mock-8", Content: "one\ntwo", Embedding: []float32{0.1, 0.2}, UpdatedAt: 10},
		{ID: "c2", FilePath: "a.md", LineStart: 3, LineEnd: 4, Hash: "ch2", Model: "mock-8", Content: "three\nfour", Embedding: []float32{0.3, 0.4}, UpdatedAt: 10},
	}
	require.NoError(t, db.ReplaceFileChunks(ctx, file, records))

	got, err := db.ChunksForFile(ctx, "a.md")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].ID)
	assert.Equal(t, []float32{0.1, 0.2}, got[0].Embedding)

	storedFile, err := db.GetFile(ctx, "a.md")
	require.NoError(t, err)
	require.NotNil(t, storedFile)
	assert.Equal(t, "fh1", storedFile.Hash)
}

func TestReplaceFileChunks_DropsOldRows(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	file := FileRecord{Path: "a.md", Hash: "fh1", Mtime: 10, Size: 3}
	require.NoError(t, db.ReplaceFileChunks(ctx, file, []ChunkRecord{
		{ID: "old1", FilePath: "a.md", LineStart: 1, LineEnd: 1, Hash: "x", Model: "m", Content: "x", UpdatedAt: 1},
	}))
	require.NoError(t, db.ReplaceFileChunks(ctx, file, []ChunkRecord{
		{ID: "new1", FilePath: "a.md", LineStart: 1, LineEnd: 1, Hash: "y", Model: "m", Content: "y", UpdatedAt: 2},
	}))

	got, err := db.ChunksForFile(ctx, "a.md")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new1", got[0].ID)
}

func TestEmbeddingCache_BatchRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	entries := map[string][]float32{
		"hash-a": {1, 2, 3},
		"hash-b": {4, 5, 6},
	}
	require.NoError(t, db.PutCachedEmbeddingsBatch(ctx, "model-x", entries, 100))

	hits, err := db.GetCachedEmbeddingsBatch(ctx, "model-x", []string{"hash-a", "hash-b", "hash-missing"})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
	assert.Equal(t, []float32{1, 2, 3}, hits["hash-a"])

	single, ok, err := db.GetCachedEmbedding(ctx, "model-x", "hash-b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{4, 5, 6}, single)

	_, ok, err = db.GetCachedEmbedding(ctx, "model-x", "hash-missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPruneEmbeddingCache_RemovesOldAndOtherModels(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.PutCachedEmbeddingsBatch(ctx, "old-model", map[string][]float32{"h1": {1}}, 1))
	require.NoError(t, db.PutCachedEmbeddingsBatch(ctx, "new-model", map[string][]float32{"h2": {2}}, 500))

	require.NoError(t, db.PruneEmbeddingCache(ctx, "new-model", 0))

	hits, err := db.GetCachedEmbeddingsBatch(ctx, "old-model", []string{"h1"})
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = db.GetCachedEmbeddingsBatch(ctx, "new-model", []string{"h2"})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestIndexMeta_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	got, err := db.ReadIndexMeta(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	want := IndexMeta{Model: "mock-8", Dims: 8, Tokens: 400, Overlap: 40, MinChars: 200, CharsPerToken: 4}
	require.NoError(t, db.WriteIndexMeta(ctx, want))

	got, err = db.ReadIndexMeta(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)
}

func TestDeleteFile_RemovesTrackedState(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertFile(ctx, FileRecord{Path: "a.md", Hash: "h", Mtime: 1, Size: 1}))
	require.NoError(t, db.DeleteFile(ctx, "a.md"))

	got, err := db.GetFile(ctx, "a.md")
	require.NoError(t, err)
	assert.Nil(t, got)
}
