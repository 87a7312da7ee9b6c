// Package fulltext maintains an optional BM25 keyword index over chunk
// content, used only when hybrid search is enabled. Vector search is the
// canonical retrieval path; a workspace that never enables hybrid mode
// never creates this index.
package fulltext

import (
	"fmt"
	"os"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/evilpsycho42/mem-cli/internal/store"
)

// Document is the bleve-indexed form of one chunk.
type Document struct {
	Content  string `json:"content"`
	FilePath string `json:"file_path"`
}

// Hit is one keyword match, identified by chunk ID.
type Hit struct {
	ChunkID string
	Score   float64
}

// Index wraps a bleve index keyed by chunk ID.
type Index struct {
	mu    sync.Mutex
	index bleve.Index
	path  string
}

// Open opens or creates the bleve index at path.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, buildMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("fulltext: open %s: %w", path, err)
	}
	return &Index{index: idx, path: path}, nil
}

// OpenMem creates an in-memory index, used by tests.
func OpenMem() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("fulltext: open in-memory index: %w", err)
	}
	return &Index{index: idx}, nil
}

func buildMapping() mapping.IndexMapping {
	content := bleve.NewTextFieldMapping()
	content.Analyzer = standard.Name
	content.Store = false

	// file_path is matched exactly for per-file deletes, never tokenized.
	path := bleve.NewTextFieldMapping()
	path.Analyzer = keyword.Name
	path.Store = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("content", content)
	doc.AddFieldMappingsAt("file_path", path)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// ReplaceFile removes every document belonging to path and indexes the
// given chunk records in their place, mirroring the store's per-file
// rewrite.
func (i *Index) ReplaceFile(path string, records []store.ChunkRecord) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	ids, err := i.idsForFileLocked(path)
	if err != nil {
		return err
	}

	batch := i.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	for _, r := range records {
		if err := batch.Index(r.ID, Document{Content: r.Content, FilePath: r.FilePath}); err != nil {
			return fmt.Errorf("fulltext: index chunk %q: %w", r.ID, err)
		}
	}
	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("fulltext: replace %q: %w", path, err)
	}
	return nil
}

// DeleteFile removes every document belonging to path.
func (i *Index) DeleteFile(path string) error {
	return i.ReplaceFile(path, nil)
}

func (i *Index) idsForFileLocked(path string) ([]string, error) {
	q := query.NewTermQuery(path)
	q.SetField("file_path")
	req := bleve.NewSearchRequest(q)
	req.Size = 10000
	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("fulltext: list docs for %q: %w", path, err)
	}
	ids := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		ids = append(ids, h.ID)
	}
	return ids, nil
}

// Search runs a BM25 match query over chunk content and returns up to
// limit hits ordered by descending score.
func (i *Index) Search(queryText string, limit int) ([]Hit, error) {
	if queryText == "" || limit <= 0 {
		return nil, nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	q := bleve.NewMatchQuery(queryText)
	q.SetField("content")
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("fulltext: search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{ChunkID: h.ID, Score: h.Score})
	}
	return hits, nil
}

// Reset drops every document, used when a reindex rebuilds from scratch.
func (i *Index) Reset() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.path == "" {
		// In-memory: enumerate and delete.
		q := bleve.NewMatchAllQuery()
		req := bleve.NewSearchRequest(q)
		req.Size = 100000
		res, err := i.index.Search(req)
		if err != nil {
			return fmt.Errorf("fulltext: reset: %w", err)
		}
		batch := i.index.NewBatch()
		for _, h := range res.Hits {
			batch.Delete(h.ID)
		}
		return i.index.Batch(batch)
	}

	// On disk: recreating is cheaper and leaves no tombstones behind.
	if err := i.index.Close(); err != nil {
		return fmt.Errorf("fulltext: close before reset: %w", err)
	}
	if err := os.RemoveAll(i.path); err != nil {
		return fmt.Errorf("fulltext: remove %s: %w", i.path, err)
	}
	idx, err := bleve.New(i.path, buildMapping())
	if err != nil {
		return fmt.Errorf("fulltext: recreate %s: %w", i.path, err)
	}
	i.index = idx
	return nil
}

// Close releases the underlying index.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.index.Close()
}
