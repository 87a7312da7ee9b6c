package search

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/evilpsycho42/mem-cli/internal/fulltext"
)

// DefaultRRFConstant is the reciprocal-rank-fusion smoothing parameter.
// 60 is the widely used default; higher values flatten rank differences.
const DefaultRRFConstant = 60

// hybridOverfetch widens both legs so fusion has candidates beyond the
// final top-k; a hit ranked low on one leg can still win overall.
const hybridOverfetch = 2

// SearchHybrid runs the vector leg and the BM25 keyword leg
// concurrently and fuses them with reciprocal rank fusion. Hybrid mode
// is opt-in and non-canonical; if the keyword leg fails, vector results
// are returned alone.
func (e *Engine) SearchHybrid(ctx context.Context, ft *fulltext.Index, queryText string, queryVec []float32, k int, model string, snippetMaxChars int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if ft == nil {
		return e.SearchVector(ctx, queryVec, k, model, snippetMaxChars)
	}

	fetchK := k * hybridOverfetch
	var vecHits []Hit
	var kwHits []fulltext.Hit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := e.SearchVector(gctx, queryVec, fetchK, model, snippetMaxChars)
		if err != nil {
			return err
		}
		vecHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := ft.Search(queryText, fetchK)
		if err != nil {
			// Degrade to vector-only rather than failing the search.
			return nil
		}
		kwHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(kwHits) == 0 {
		if len(vecHits) > k {
			vecHits = vecHits[:k]
		}
		return vecHits, nil
	}

	return e.fuseRRF(ctx, vecHits, kwHits, k, model, snippetMaxChars)
}

// fuseRRF merges the two ranked lists: each hit contributes
// 1/(kConst+rank) per list it appears in, and the fused list is ordered
// by that sum.
func (e *Engine) fuseRRF(ctx context.Context, vecHits []Hit, kwHits []fulltext.Hit, k int, model string, snippetMaxChars int) ([]Hit, error) {
	scores := make(map[string]float64, len(vecHits)+len(kwHits))
	byID := make(map[string]Hit, len(vecHits))

	for rank, h := range vecHits {
		scores[h.ChunkID] += 1.0 / float64(DefaultRRFConstant+rank+1)
		byID[h.ChunkID] = h
	}

	var missing []string
	for rank, h := range kwHits {
		scores[h.ChunkID] += 1.0 / float64(DefaultRRFConstant+rank+1)
		if _, ok := byID[h.ChunkID]; !ok {
			missing = append(missing, h.ChunkID)
		}
	}

	// Keyword-only hits need their chunk rows to render as Hits.
	if len(missing) > 0 {
		records, err := e.DB.ChunksByIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if model != "" && rec.Model != model {
				delete(scores, rec.ID)
				continue
			}
			byID[rec.ID] = Hit{
				ChunkID:   rec.ID,
				FilePath:  rec.FilePath,
				LineStart: rec.LineStart,
				LineEnd:   rec.LineEnd,
				Model:     rec.Model,
				Snippet:   snippet(rec.Content, snippetMaxChars),
			}
		}
	}

	fused := make([]Hit, 0, len(byID))
	for id, h := range byID {
		s, ok := scores[id]
		if !ok {
			continue
		}
		h.Score = s
		fused = append(fused, h)
	}
	sort.Slice(fused, func(i, j int) bool { return fused[i].Score > fused[j].Score })
	if len(fused) > k {
		fused = fused[:k]
	}
	return fused, nil
}
