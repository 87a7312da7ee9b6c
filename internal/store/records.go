package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// GetFile returns the stored record for path, or (nil, nil) if absent.
func (d *DB) GetFile(ctx context.Context, path string) (*FileRecord, error) {
	var r FileRecord
	err := d.conn.QueryRowContext(ctx,
		`SELECT path, hash, mtime, size FROM files WHERE path = ?`, path,
	).Scan(&r.Path, &r.Hash, &r.Mtime, &r.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file %q: %w", path, err)
	}
	return &r, nil
}

// ListFiles returns every tracked file record.
func (d *DB) ListFiles(ctx context.Context) ([]FileRecord, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT path, hash, mtime, size FROM files`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var r FileRecord
		if err := rows.Scan(&r.Path, &r.Hash, &r.Mtime, &r.Size); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertFile records or updates a file's tracked state.
func (d *DB) UpsertFile(ctx context.Context, r FileRecord) error {
	_, err := d.conn.ExecContext(ctx, `INSERT INTO files (path, hash, mtime, size) VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET hash = excluded.hash, mtime = excluded.mtime, size = excluded.size`,
		r.Path, r.Hash, r.Mtime, r.Size)
	if err != nil {
		return fmt.Errorf("upsert file %q: %w", r.Path, err)
	}
	return nil
}

// DeleteFile removes a file's tracked state. It does not touch chunks;
// callers must also delete the file's chunks and vectors.
func (d *DB) DeleteFile(ctx context.Context, path string) error {
	if _, err := d.conn.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete file %q: %w", path, err)
	}
	return nil
}

// ChunksForFile returns every chunk row belonging to path, ordered by
// line_start.
func (d *DB) ChunksForFile(ctx context.Context, path string) ([]ChunkRecord, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, file_path, line_start, line_end, hash, model, content, embedding, updated_at
		 FROM chunks WHERE file_path = ? ORDER BY line_start`, path)
	if err != nil {
		return nil, fmt.Errorf("list chunks for %q: %w", path, err)
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

// AllChunks returns every chunk row in the index, ordered by file_path
// then line_start. Used by the in-process search fallback.
func (d *DB) AllChunks(ctx context.Context) ([]ChunkRecord, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, file_path, line_start, line_end, hash, model, content, embedding, updated_at
		 FROM chunks ORDER BY file_path, line_start`)
	if err != nil {
		return nil, fmt.Errorf("list all chunks: %w", err)
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

// ChunksByIDs returns the chunk rows matching ids, in no particular order.
func (d *DB) ChunksByIDs(ctx context.Context, ids []string) ([]ChunkRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = id
	}
	query := fmt.Sprintf(
		`SELECT id, file_path, line_start, line_end, hash, model, content, embedding, updated_at
		 FROM chunks WHERE id IN (%s)`, placeholders)
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chunks by id: %w", err)
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

func scanChunkRows(rows *sql.Rows) ([]ChunkRecord, error) {
	var out []ChunkRecord
	for rows.Next() {
		var r ChunkRecord
		var embeddingJSON string
		if err := rows.Scan(&r.ID, &r.FilePath, &r.LineStart, &r.LineEnd, &r.Hash, &r.Model,
			&r.Content, &embeddingJSON, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		vec, err := decodeEmbedding(embeddingJSON)
		if err != nil {
			return nil, err
		}
		r.Embedding = vec
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceFileChunks atomically deletes every existing chunk for path and
// inserts records in its place, updating the file's tracked state in the
// same transaction.
func (d *DB) ReplaceFileChunks(ctx context.Context, file FileRecord, records []ChunkRecord) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace chunks tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_path = ?`, file.Path); err != nil {
		return fmt.Errorf("delete old chunks for %q: %w", file.Path, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks
		(id, file_path, line_start, line_end, hash, model, content, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		embeddingJSON, err := encodeEmbedding(r.Embedding)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.FilePath, r.LineStart, r.LineEnd, r.Hash, r.Model,
			r.Content, embeddingJSON, r.UpdatedAt); err != nil {
			return fmt.Errorf("insert chunk %q: %w", r.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO files (path, hash, mtime, size) VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET hash = excluded.hash, mtime = excluded.mtime, size = excluded.size`,
		file.Path, file.Hash, file.Mtime, file.Size); err != nil {
		return fmt.Errorf("upsert file %q: %w", file.Path, err)
	}

	return tx.Commit()
}

// DeleteChunksForFile removes every chunk row belonging to path.
func (d *DB) DeleteChunksForFile(ctx context.Context, path string) error {
	if _, err := d.conn.ExecContext(ctx, `DELETE FROM chunks WHERE file_path = ?`, path); err != nil {
		return fmt.Errorf("delete chunks for %q: %w", path, err)
	}
	return nil
}

func encodeEmbedding(v []float32) (string, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode embedding: %w", err)
	}
	return string(b), nil
}

func decodeEmbedding(s string) ([]float32, error) {
	if s == "" {
		return nil, nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	return v, nil
}
