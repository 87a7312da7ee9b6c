package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetCachedEmbedding returns a cached embedding for (model, hash), or
// (nil, false, nil) on a miss. hash is the content hash of the text that
// was embedded, not the chunk ID.
func (d *DB) GetCachedEmbedding(ctx context.Context, model, hash string) ([]float32, bool, error) {
	var embeddingJSON string
	err := d.conn.QueryRowContext(ctx,
		`SELECT embedding FROM embedding_cache WHERE model = ? AND hash = ?`, model, hash,
	).Scan(&embeddingJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read embedding cache (%s,%s): %w", model, hash, err)
	}
	vec, err := decodeEmbedding(embeddingJSON)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

// GetCachedEmbeddingsBatch resolves cache hits for many hashes at once,
// returning a hash-to-vector map covering only the hits.
func (d *DB) GetCachedEmbeddingsBatch(ctx context.Context, model string, hashes []string) (map[string][]float32, error) {
	if len(hashes) == 0 {
		return map[string][]float32{}, nil
	}

	placeholders := make([]byte, 0, len(hashes)*2)
	args := make([]any, 0, len(hashes)+1)
	args = append(args, model)
	for i, h := range hashes {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, h)
	}

	query := fmt.Sprintf(
		`SELECT hash, embedding FROM embedding_cache WHERE model = ? AND hash IN (%s)`, placeholders)
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("batch read embedding cache: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32, len(hashes))
	for rows.Next() {
		var hash, embeddingJSON string
		if err := rows.Scan(&hash, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("scan embedding cache row: %w", err)
		}
		vec, err := decodeEmbedding(embeddingJSON)
		if err != nil {
			return nil, err
		}
		out[hash] = vec
	}
	return out, rows.Err()
}

// PutCachedEmbeddingsBatch upserts cache rows for (model, hash) pairs in a
// single transaction.
func (d *DB) PutCachedEmbeddingsBatch(ctx context.Context, model string, entries map[string][]float32, updatedAt int64) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin embedding cache write tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO embedding_cache (model, hash, embedding, dims, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(model, hash) DO UPDATE SET embedding = excluded.embedding, dims = excluded.dims, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare embedding cache upsert: %w", err)
	}
	defer stmt.Close()

	for hash, vec := range entries {
		embeddingJSON, err := encodeEmbedding(vec)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, model, hash, embeddingJSON, len(vec), updatedAt); err != nil {
			return fmt.Errorf("upsert embedding cache (%s,%s): %w", model, hash, err)
		}
	}

	return tx.Commit()
}

// PruneEmbeddingCache deletes cache rows for models other than keepModel,
// and any row older than olderThan. The sync engine does not call it:
// cache rows from earlier models stay until a caller prunes them.
func (d *DB) PruneEmbeddingCache(ctx context.Context, keepModel string, olderThan int64) error {
	_, err := d.conn.ExecContext(ctx,
		`DELETE FROM embedding_cache WHERE model != ? OR updated_at < ?`, keepModel, olderThan)
	if err != nil {
		return fmt.Errorf("prune embedding cache: %w", err)
	}
	return nil
}
