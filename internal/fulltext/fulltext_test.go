package fulltext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evilpsycho42/mem-cli/internal/store"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func rec(id, path, content string) store.ChunkRecord {
	return store.ChunkRecord{ID: id, FilePath: path, Content: content}
}

func TestSearch_MatchesByContent(t *testing.T) {
	idx := openTestIndex(t)

	require.NoError(t, idx.ReplaceFile("a.md", []store.ChunkRecord{
		rec("c1", "a.md", "the deploy pipeline broke on friday"),
		rec("c2", "a.md", "grocery list: kiwi, flour"),
	}))

	hits, err := idx.Search("deploy pipeline", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "c1", hits[0].ChunkID)
}

func TestSearch_EmptyQueryOrLimit(t *testing.T) {
	idx := openTestIndex(t)

	hits, err := idx.Search("", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = idx.Search("anything", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestReplaceFile_DropsOldDocuments(t *testing.T) {
	idx := openTestIndex(t)

	require.NoError(t, idx.ReplaceFile("a.md", []store.ChunkRecord{
		rec("old1", "a.md", "obsolete fact about tangerines"),
	}))
	require.NoError(t, idx.ReplaceFile("a.md", []store.ChunkRecord{
		rec("new1", "a.md", "fresh fact about satsumas"),
	}))

	hits, err := idx.Search("tangerines", 10)
	require.NoError(t, err)
	assert.Empty(t, hits, "replaced documents must not match")

	hits, err = idx.Search("satsumas", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "new1", hits[0].ChunkID)
}

func TestDeleteFile_RemovesOnlyThatFile(t *testing.T) {
	idx := openTestIndex(t)

	require.NoError(t, idx.ReplaceFile("a.md", []store.ChunkRecord{
		rec("a1", "a.md", "remember the marmalade recipe"),
	}))
	require.NoError(t, idx.ReplaceFile("b.md", []store.ChunkRecord{
		rec("b1", "b.md", "remember the chutney recipe"),
	}))

	require.NoError(t, idx.DeleteFile("a.md"))

	hits, err := idx.Search("marmalade", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = idx.Search("chutney", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b1", hits[0].ChunkID)
}

func TestReset_EmptiesIndex(t *testing.T) {
	idx := openTestIndex(t)

	require.NoError(t, idx.ReplaceFile("a.md", []store.ChunkRecord{
		rec("a1", "a.md", "soon to be forgotten"),
	}))
	require.NoError(t, idx.Reset())

	hits, err := idx.Search("forgotten", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
