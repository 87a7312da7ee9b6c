// Package search ranks chunks by cosine similarity to a query vector,
// preferring the native sqlite-vec table and falling back gracefully when
// the native extension is unavailable.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/evilpsycho42/mem-cli/internal/store"
)

// Hit is one ranked chunk returned by a search.
type Hit struct {
	ChunkID   string
	FilePath  string
	LineStart int
	LineEnd   int
	Model     string
	Score     float64
	Snippet   string
}

// overfetch multiplies k when querying the native vector table, so that
// an optional model filter applied afterward still has enough candidates
// to fill out the final top-k.
const overfetch = 5

// minOverfetch is the floor on how many native hits to request regardless
// of k, so a small k with a model filter doesn't starve the candidate set.
const minOverfetch = 50

// hnswMinChunks is the corpus size below which building an HNSW graph
// isn't worth it; Engine falls straight to the brute-force linear scan.
const hnswMinChunks = 256

// Engine performs vector search against one workspace's index store.
type Engine struct {
	DB *store.DB

	mu        sync.Mutex
	graph     *hnsw.Graph[uint64]
	idMap     map[string]uint64
	keyMap    map[uint64]string
	graphDims int
	sigCount  int
	sigMaxTS  int64

	warnedOnce bool
}

// New creates a search Engine backed by db.
func New(db *store.DB) *Engine {
	return &Engine{DB: db}
}

// SearchVector ranks chunks by cosine similarity to queryVec, returning
// at most k hits. model, if non-empty, restricts results to chunks
// indexed with that embedding model. snippetMaxChars bounds the prefix
// of each hit's content returned as its snippet.
func (e *Engine) SearchVector(ctx context.Context, queryVec []float32, k int, model string, snippetMaxChars int) ([]Hit, error) {
	if len(queryVec) == 0 || k <= 0 {
		return nil, nil
	}

	if e.DB.VectorReady() {
		hits, err := e.searchNative(ctx, queryVec, k, model, snippetMaxChars)
		if err == nil {
			return hits, nil
		}
		// Fall through to the in-process path on any native failure.
	}

	return e.searchFallback(ctx, queryVec, k, model, snippetMaxChars)
}

func (e *Engine) searchNative(ctx context.Context, queryVec []float32, k int, model string, snippetMaxChars int) ([]Hit, error) {
	fetchK := k * overfetch
	if fetchK < minOverfetch {
		fetchK = minOverfetch
	}

	raw, err := e.DB.SearchVector(ctx, queryVec, fetchK)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	ids := make([]string, len(raw))
	distByID := make(map[string]float64, len(raw))
	for i, r := range raw {
		ids[i] = r.ChunkID
		distByID[r.ChunkID] = r.Distance
	}

	records, err := e.DB.ChunksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]store.ChunkRecord, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	hits := make([]Hit, 0, len(ids))
	for _, id := range ids {
		rec, ok := byID[id]
		if !ok {
			continue
		}
		if model != "" && rec.Model != model {
			continue
		}
		hits = append(hits, Hit{
			ChunkID:   rec.ID,
			FilePath:  rec.FilePath,
			LineStart: rec.LineStart,
			LineEnd:   rec.LineEnd,
			Model:     rec.Model,
			Score:     1 - distByID[id],
			Snippet:   snippet(rec.Content, snippetMaxChars),
		})
	}

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// searchFallback streams chunks in-process and ranks them by cosine
// similarity, accelerated by a lazily-built HNSW graph once the corpus is
// large enough to make building one worthwhile; below hnswMinChunks, or
// if graph construction itself fails, it scores every chunk directly.
func (e *Engine) searchFallback(ctx context.Context, queryVec []float32, k int, model string, snippetMaxChars int) ([]Hit, error) {
	chunks, err := e.DB.AllChunks(ctx)
	if err != nil {
		return nil, err
	}

	if model != "" {
		filtered := chunks[:0:0]
		for _, c := range chunks {
			if c.Model == model {
				filtered = append(filtered, c)
			}
		}
		chunks = filtered
	}

	if len(chunks) >= hnswMinChunks {
		if hits, err := e.searchHNSW(chunks, queryVec, k, snippetMaxChars); err == nil {
			return hits, nil
		}
		// Graph build/search failed; degrade to linear scan.
	}

	return e.searchLinear(chunks, queryVec, k, snippetMaxChars), nil
}

func (e *Engine) searchHNSW(chunks []store.ChunkRecord, queryVec []float32, k, snippetMaxChars int) ([]Hit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sigCount, sigMaxTS := graphSignature(chunks)
	if e.graph == nil || e.sigCount != sigCount || e.sigMaxTS != sigMaxTS || e.graphDims != len(queryVec) {
		if err := e.rebuildGraphLocked(chunks, len(queryVec)); err != nil {
			return nil, err
		}
	}

	if e.graph == nil || e.graph.Len() == 0 {
		return nil, fmt.Errorf("search: empty hnsw graph")
	}

	nodes := e.graph.Search(queryVec, k)
	byID := make(map[string]store.ChunkRecord, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	hits := make([]Hit, 0, len(nodes))
	for _, n := range nodes {
		id, ok := e.keyMap[n.Key]
		if !ok {
			continue
		}
		rec, ok := byID[id]
		if !ok {
			continue
		}
		dist := e.graph.Distance(queryVec, n.Value)
		hits = append(hits, Hit{
			ChunkID:   rec.ID,
			FilePath:  rec.FilePath,
			LineStart: rec.LineStart,
			LineEnd:   rec.LineEnd,
			Model:     rec.Model,
			Score:     1 - float64(dist)/2,
			Snippet:   snippet(rec.Content, snippetMaxChars),
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// rebuildGraphLocked must be called with e.mu held.
func (e *Engine) rebuildGraphLocked(chunks []store.ChunkRecord, dims int) error {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.Ml = 0.25
	graph.EfSearch = 20

	idMap := make(map[string]uint64, len(chunks))
	keyMap := make(map[uint64]string, len(chunks))
	var key uint64
	for _, c := range chunks {
		if len(c.Embedding) == 0 || (dims > 0 && len(c.Embedding) != dims) {
			continue
		}
		graph.Add(hnsw.MakeNode(key, c.Embedding))
		idMap[c.ID] = key
		keyMap[key] = c.ID
		key++
	}

	e.graph = graph
	e.idMap = idMap
	e.keyMap = keyMap
	e.graphDims = dims
	sigCount, sigMaxTS := graphSignature(chunks)
	e.sigCount = sigCount
	e.sigMaxTS = sigMaxTS
	return nil
}

func graphSignature(chunks []store.ChunkRecord) (count int, maxTS int64) {
	count = len(chunks)
	for _, c := range chunks {
		if c.UpdatedAt > maxTS {
			maxTS = c.UpdatedAt
		}
	}
	return count, maxTS
}

// searchLinear is the exact brute-force fallback of last resort:
// dot-product/norm against every candidate in a single pass, with a
// dimension-mismatch warning emitted at most once per Engine.
func (e *Engine) searchLinear(chunks []store.ChunkRecord, queryVec []float32, k, snippetMaxChars int) []Hit {
	hits := make([]Hit, 0, len(chunks))
	mismatched := false

	for _, c := range chunks {
		var score float64
		if len(c.Embedding) != len(queryVec) {
			mismatched = true
			score = 0
		} else {
			score = cosineSimilarity(c.Embedding, queryVec)
		}
		hits = append(hits, Hit{
			ChunkID:   c.ID,
			FilePath:  c.FilePath,
			LineStart: c.LineStart,
			LineEnd:   c.LineEnd,
			Model:     c.Model,
			Score:     score,
			Snippet:   snippet(c.Content, snippetMaxChars),
		})
	}

	if mismatched {
		e.mu.Lock()
		if !e.warnedOnce {
			e.warnedOnce = true
			slog.Warn("search: chunk embedding dimension mismatch; scored zero", "query_dims", len(queryVec))
		}
		e.mu.Unlock()
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func snippet(content string, maxChars int) string {
	if maxChars <= 0 || len(content) <= maxChars {
		return content
	}
	return content[:maxChars]
}
