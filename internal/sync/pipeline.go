// Package sync keeps a workspace's index store consistent with the
// Markdown files on disk: the embedding cache/batch pipeline, drift
// detection, and the per-file transactional reindex.
package sync

import (
	"context"
	"fmt"
	"math"

	"github.com/evilpsycho42/mem-cli/internal/chunk"
	"github.com/evilpsycho42/mem-cli/internal/embed"
	"github.com/evilpsycho42/mem-cli/internal/store"
)

// PipelineConfig tunes the embedding cache/batch pipeline.
type PipelineConfig struct {
	// BatchMaxTokens bounds the estimated token size of one embedBatch call.
	BatchMaxTokens int
	// ApproxCharsPerToken approximates characters-per-token for batch sizing.
	ApproxCharsPerToken int
	// CacheLookupBatchSize bounds how many (model,hash) pairs are looked
	// up in a single SQL statement.
	CacheLookupBatchSize int
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.BatchMaxTokens <= 0 {
		c.BatchMaxTokens = 8192
	}
	if c.ApproxCharsPerToken <= 0 {
		c.ApproxCharsPerToken = 4
	}
	if c.CacheLookupBatchSize <= 0 {
		c.CacheLookupBatchSize = 500
	}
	return c
}

// EmbedChunks resolves one embedding per chunk, preferring the persistent
// cache and falling back to provider.EmbedBatch for cache misses, grouped
// into token-bounded batches. The returned slice matches chunks in order.
func EmbedChunks(ctx context.Context, db *store.DB, provider embed.Provider, chunks []chunk.Chunk, cfg PipelineConfig, now int64) ([][]float32, error) {
	cfg = cfg.withDefaults()
	if len(chunks) == 0 {
		return nil, nil
	}

	model := provider.ModelPath()
	results := make([][]float32, len(chunks))

	hashSet := map[string]bool{}
	uniqueHashes := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if !hashSet[c.Hash] {
			hashSet[c.Hash] = true
			uniqueHashes = append(uniqueHashes, c.Hash)
		}
	}

	cached := map[string][]float32{}
	for start := 0; start < len(uniqueHashes); start += cfg.CacheLookupBatchSize {
		end := start + cfg.CacheLookupBatchSize
		if end > len(uniqueHashes) {
			end = len(uniqueHashes)
		}
		hits, err := db.GetCachedEmbeddingsBatch(ctx, model, uniqueHashes[start:end])
		if err != nil {
			return nil, fmt.Errorf("sync: batch cache lookup: %w", err)
		}
		for h, v := range hits {
			if len(v) > 0 {
				cached[h] = v
			}
		}
	}

	missingIdx := make([]int, 0)
	queued := map[string]bool{}
	for i, c := range chunks {
		if v, ok := cached[c.Hash]; ok {
			results[i] = v
		} else if !queued[c.Hash] {
			// Chunks sharing a hash are embedded once; the copies are
			// filled from newEntries after the batches run.
			queued[c.Hash] = true
			missingIdx = append(missingIdx, i)
		}
	}

	if len(missingIdx) == 0 {
		return results, nil
	}

	newEntries := map[string][]float32{}
	for _, batch := range groupByTokenBudget(chunks, missingIdx, cfg) {
		texts := make([]string, len(batch))
		for i, idx := range batch {
			texts[i] = chunks[idx].Content
		}
		vecs, err := provider.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("sync: embed batch: %w", err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("sync: provider returned %d embeddings for %d inputs", len(vecs), len(batch))
		}
		for i, idx := range batch {
			results[idx] = vecs[i]
			newEntries[chunks[idx].Hash] = vecs[i]
		}
	}
	for i, c := range chunks {
		if results[i] == nil {
			results[i] = newEntries[c.Hash]
		}
	}

	if len(newEntries) > 0 {
		if err := db.PutCachedEmbeddingsBatch(ctx, model, newEntries, now); err != nil {
			return nil, fmt.Errorf("sync: write embedding cache: %w", err)
		}
	}

	return results, nil
}

// groupByTokenBudget partitions the missing-chunk indices into batches
// whose estimated total token count does not exceed cfg.BatchMaxTokens.
// A single chunk whose own estimate exceeds the budget is its own batch.
func groupByTokenBudget(chunks []chunk.Chunk, missing []int, cfg PipelineConfig) [][]int {
	var batches [][]int
	var current []int
	currentTokens := 0

	for _, idx := range missing {
		est := estimateTokens(chunks[idx].Content, cfg.ApproxCharsPerToken)
		if len(current) > 0 && currentTokens+est > cfg.BatchMaxTokens {
			batches = append(batches, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, idx)
		currentTokens += est
		if est > cfg.BatchMaxTokens {
			batches = append(batches, current)
			current = nil
			currentTokens = 0
		}
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func estimateTokens(text string, charsPerToken int) int {
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	return int(math.Ceil(float64(len(text)) / float64(charsPerToken)))
}
