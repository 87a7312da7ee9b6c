package sync

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/evilpsycho42/mem-cli/internal/chunk"
	"github.com/evilpsycho42/mem-cli/internal/embed"
	"github.com/evilpsycho42/mem-cli/internal/fulltext"
	"github.com/evilpsycho42/mem-cli/internal/layout"
	"github.com/evilpsycho42/mem-cli/internal/lock"
	"github.com/evilpsycho42/mem-cli/internal/memerr"
	"github.com/evilpsycho42/mem-cli/internal/store"
)

// Engine drives the chunker + embedder + store against one workspace's
// on-disk Markdown tree, under the workspace's index lock.
type Engine struct {
	DB        *store.DB
	Workspace *layout.Workspace
	Chunker   chunk.Chunker
	Chunking  chunk.ChunkingConfig
	Pipeline  PipelineConfig
	LockOpts  lock.Options

	// Fulltext, when non-nil, receives the same per-file rewrites the
	// store does, keeping the optional BM25 index in step with chunks.
	Fulltext *fulltext.Index

	// orphanPurged makes the opportunistic orphan-vector sweep a
	// once-per-process cleanup rather than a per-sync cost.
	orphanPurged bool
}

// New creates an Engine for ws backed by db.
func New(db *store.DB, ws *layout.Workspace, chunking chunk.ChunkingConfig, pipeline PipelineConfig) *Engine {
	return &Engine{
		DB:        db,
		Workspace: ws,
		Chunker:   chunk.NewMarkdownChunker(),
		Chunking:  chunking,
		Pipeline:  pipeline,
	}
}

// NeedsUpdate reports whether the index is out of agreement with the
// on-disk tree or the requested chunking/provider settings. provider may
// be nil (no-embeddings mode).
func (e *Engine) NeedsUpdate(ctx context.Context, provider embed.Provider) (bool, error) {
	meta, err := e.DB.ReadIndexMeta(ctx)
	if err != nil {
		return false, err
	}

	if meta == nil {
		return true, nil
	}

	if meta.Tokens != e.Chunking.Tokens || meta.Overlap != e.Chunking.Overlap ||
		meta.MinChars != e.Chunking.MinChars || meta.CharsPerToken != e.Chunking.CharsPerToken {
		return true, nil
	}

	// The model check applies only when a provider is in play: syncing
	// without one must not treat an embedding-built index as drifted.
	if provider != nil && meta.Model != provider.ModelPath() {
		return true, nil
	}

	onDisk, err := DiscoverFiles(e.Workspace)
	if err != nil {
		return false, err
	}
	tracked, err := e.DB.ListFiles(ctx)
	if err != nil {
		return false, err
	}
	trackedByPath := make(map[string]store.FileRecord, len(tracked))
	for _, r := range tracked {
		trackedByPath[r.Path] = r
	}

	seen := make(map[string]bool, len(onDisk))
	for _, f := range onDisk {
		seen[f.RelPath] = true
		rec, ok := trackedByPath[f.RelPath]
		if !ok {
			return true, nil
		}
		if rec.Mtime != f.Mtime || rec.Size != f.Size {
			hash, herr := HashFile(f.AbsPath)
			if herr != nil {
				return false, herr
			}
			if hash != rec.Hash {
				return true, nil
			}
		}
	}
	for path := range trackedByPath {
		if !seen[path] {
			return true, nil
		}
	}

	return false, nil
}

// EnsureUpToDate brings the index into agreement with the on-disk tree
// under the workspace's index lock.
func (e *Engine) EnsureUpToDate(ctx context.Context, provider embed.Provider) error {
	if err := lock.WaitForRelease(e.Workspace.LockPath(), e.LockOpts); err != nil {
		return memerr.LockTimeout(e.Workspace.LockPath(), err)
	}

	handle, err := lock.Acquire(e.Workspace.LockPath(), e.LockOpts)
	if err != nil {
		return memerr.LockTimeout(e.Workspace.LockPath(), err)
	}
	defer handle.Release()

	needs, err := e.NeedsUpdate(ctx, provider)
	if err != nil {
		return err
	}
	if !needs {
		return nil
	}

	meta, err := e.DB.ReadIndexMeta(ctx)
	if err != nil {
		return err
	}
	chunkingChanged := meta == nil ||
		meta.Tokens != e.Chunking.Tokens || meta.Overlap != e.Chunking.Overlap ||
		meta.MinChars != e.Chunking.MinChars || meta.CharsPerToken != e.Chunking.CharsPerToken
	modelChanged := false
	if meta != nil && provider != nil {
		modelChanged = meta.Model != provider.ModelPath()
	}

	if chunkingChanged || modelChanged {
		return e.reindexLocked(ctx, provider)
	}

	if e.DB.VectorReady() && !e.orphanPurged {
		if _, perr := e.DB.PurgeOrphanVectors(ctx); perr != nil {
			return perr
		}
		e.orphanPurged = true
	}

	onDisk, err := DiscoverFiles(e.Workspace)
	if err != nil {
		return err
	}
	tracked, err := e.DB.ListFiles(ctx)
	if err != nil {
		return err
	}
	trackedByPath := make(map[string]store.FileRecord, len(tracked))
	for _, r := range tracked {
		trackedByPath[r.Path] = r
	}

	seen := make(map[string]bool, len(onDisk))
	for _, f := range onDisk {
		seen[f.RelPath] = true
		rec, ok := trackedByPath[f.RelPath]
		if !ok {
			if _, ierr := e.indexFile(ctx, provider, f); ierr != nil {
				return ierr
			}
			continue
		}
		if rec.Mtime == f.Mtime && rec.Size == f.Size {
			continue
		}
		hash, herr := HashFile(f.AbsPath)
		if herr != nil {
			return herr
		}
		if hash != rec.Hash {
			if _, ierr := e.indexFile(ctx, provider, f); ierr != nil {
				return ierr
			}
		} else {
			rec.Mtime, rec.Size = f.Mtime, f.Size
			if uerr := e.DB.UpsertFile(ctx, rec); uerr != nil {
				return uerr
			}
		}
	}

	for path := range trackedByPath {
		if seen[path] {
			continue
		}
		if e.DB.VectorReady() {
			if derr := e.DB.DeleteVectorsForFile(ctx, path); derr != nil {
				return derr
			}
		}
		if derr := e.DB.DeleteChunksForFile(ctx, path); derr != nil {
			return derr
		}
		if derr := e.DB.DeleteFile(ctx, path); derr != nil {
			return derr
		}
		if e.Fulltext != nil {
			if derr := e.Fulltext.DeleteFile(path); derr != nil {
				return derr
			}
		}
	}

	return nil
}

// Reindex acquires the lock itself and fully rebuilds the index, even if
// NeedsUpdate would report false. Exported for `mem reindex --force`.
func (e *Engine) Reindex(ctx context.Context, provider embed.Provider) error {
	if err := lock.WaitForRelease(e.Workspace.LockPath(), e.LockOpts); err != nil {
		return memerr.LockTimeout(e.Workspace.LockPath(), err)
	}
	handle, err := lock.Acquire(e.Workspace.LockPath(), e.LockOpts)
	if err != nil {
		return memerr.LockTimeout(e.Workspace.LockPath(), err)
	}
	defer handle.Release()

	return e.reindexLocked(ctx, provider)
}

// reindexLocked assumes the caller already holds the index lock.
func (e *Engine) reindexLocked(ctx context.Context, provider embed.Provider) error {
	model := ""
	if provider != nil {
		model = provider.ModelPath()
	}

	if e.DB.VectorReady() {
		if err := e.DB.DropVectorTable(ctx); err != nil {
			return err
		}
	} else if err := e.DB.DropVectorTableIfAny(ctx); err != nil {
		// A vector table exists but the extension cannot load. With a
		// provider requested, stale vectors must not be left behind;
		// without one, degrading to embedding-less chunks is fine.
		if provider != nil {
			return memerr.New(memerr.CodeIndexCorrupt,
				"vector extension unavailable; cannot safely reindex with embeddings", err)
		}
	}

	tracked, err := e.DB.ListFiles(ctx)
	if err != nil {
		return err
	}
	for _, r := range tracked {
		if derr := e.DB.DeleteChunksForFile(ctx, r.Path); derr != nil {
			return derr
		}
		if derr := e.DB.DeleteFile(ctx, r.Path); derr != nil {
			return derr
		}
	}

	meta := store.IndexMeta{
		Model:         model,
		Tokens:        e.Chunking.Tokens,
		Overlap:       e.Chunking.Overlap,
		MinChars:      e.Chunking.MinChars,
		CharsPerToken: e.Chunking.CharsPerToken,
	}
	if provider == nil {
		meta.Model = ""
		meta.Dims = 0
	}
	if err := e.DB.WriteIndexMeta(ctx, meta); err != nil {
		return err
	}

	if e.Fulltext != nil {
		if err := e.Fulltext.Reset(); err != nil {
			return err
		}
	}

	onDisk, err := DiscoverFiles(e.Workspace)
	if err != nil {
		return err
	}
	for _, f := range onDisk {
		if _, err := e.indexFile(ctx, provider, f); err != nil {
			return err
		}
	}

	return nil
}

// indexFile chunks, embeds, and transactionally replaces one file's rows.
// Assumes the caller holds the workspace index lock.
func (e *Engine) indexFile(ctx context.Context, provider embed.Provider, f OnDiskFile) (int, error) {
	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return 0, err
	}
	hash := HashContent(content)

	chunks, err := e.Chunker.Chunk(ctx, f.RelPath, string(content), e.Chunking)
	if err != nil {
		return 0, memerr.New(memerr.CodeChunkingFailed, fmt.Sprintf("chunk %s", f.RelPath), err)
	}
	chunks = dropWhitespaceOnly(chunks)

	now := store.NowMillis()
	model := ""
	var embeddings [][]float32

	if provider != nil && len(chunks) > 0 {
		embeddings, err = EmbedChunks(ctx, e.DB, provider, chunks, e.Pipeline, now)
		if err != nil {
			return 0, memerr.EmbeddingsUnavailable(provider.ModelPath(), err)
		}
		model = provider.ModelPath()

		dims := 0
		for _, v := range embeddings {
			if len(v) > 0 {
				dims = len(v)
				break
			}
		}
		if dims > 0 {
			if _, verr := e.DB.EnsureVectorReady(ctx, model, dims); verr != nil {
				// Vector extension unavailable: chunks are still
				// indexed with embeddings in the chunks table; the
				// search engine falls back to in-process scoring.
				_ = verr
			}
		}
	}

	records := make([]store.ChunkRecord, len(chunks))
	for i, c := range chunks {
		var emb []float32
		if embeddings != nil {
			emb = embeddings[i]
		}
		records[i] = store.ChunkRecord{
			ID:        c.ID,
			FilePath:  c.FilePath,
			LineStart: c.LineStart,
			LineEnd:   c.LineEnd,
			Hash:      c.Hash,
			Model:     model,
			Content:   c.Content,
			Embedding: emb,
			UpdatedAt: now,
		}
	}

	if e.DB.VectorReady() {
		if err := e.DB.DeleteVectorsForFile(ctx, f.RelPath); err != nil {
			return 0, err
		}
	}

	file := store.FileRecord{Path: f.RelPath, Hash: hash, Mtime: f.Mtime, Size: f.Size}
	if err := e.DB.ReplaceFileChunks(ctx, file, records); err != nil {
		return 0, memerr.New(memerr.CodeSyncFailed, fmt.Sprintf("index %s", f.RelPath), err)
	}

	if e.DB.VectorReady() {
		withVectors := make([]store.ChunkRecord, 0, len(records))
		for _, r := range records {
			if len(r.Embedding) > 0 {
				withVectors = append(withVectors, r)
			}
		}
		if err := e.DB.InsertVectorsBatch(ctx, withVectors); err != nil {
			return 0, err
		}
	}

	if e.Fulltext != nil {
		if err := e.Fulltext.ReplaceFile(f.RelPath, records); err != nil {
			return 0, err
		}
	}

	return len(records), nil
}

func dropWhitespaceOnly(chunks []chunk.Chunk) []chunk.Chunk {
	out := chunks[:0:0]
	for _, c := range chunks {
		if strings.TrimSpace(c.Content) == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// DefaultLockOptions returns the index lock's default tuning.
func DefaultLockOptions() lock.Options {
	return lock.Options{
		Timeout:      10 * time.Minute,
		PollInterval: 50 * time.Millisecond,
		BackoffCap:   250 * time.Millisecond,
	}
}
