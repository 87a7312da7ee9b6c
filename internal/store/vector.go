package store

import (
	"context"
	"errors"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// ErrVectorUnavailable is returned by EnsureVectorReady when the vec0
// virtual table module failed to load. Callers fall back to streaming
// chunks and scoring them in-process.
var ErrVectorUnavailable = errors.New("store: native vector search unavailable")

const vectorTableName = "vectors"

// VectorReady reports whether the native vector table is usable.
func (d *DB) VectorReady() bool {
	return d.vectorReady
}

// EnsureVectorReady creates (or, on a model/dims change, recreates) the
// vec0 virtual table for the given model and dimensionality, and records
// the active (model, dims, extension) in the index metadata. On a
// recreate the table comes back empty; callers must repopulate it from
// the chunks table. Returns ErrVectorUnavailable, never a hard failure,
// when the host sqlite3 library has no vec0 module compiled in.
func (d *DB) EnsureVectorReady(ctx context.Context, model string, dims int) (recreated bool, err error) {
	if dims <= 0 {
		return false, ErrVectorUnavailable
	}
	if d.vectorReady && d.vectorModel == model && d.vectorDims == dims {
		return false, nil
	}

	extPath, perr := d.probeVectorModule(ctx)
	if perr != nil {
		d.vectorReady = false
		d.persistVectorMeta(ctx, model, dims, "")
		return false, fmt.Errorf("%w: %v", ErrVectorUnavailable, perr)
	}

	if d.vectorModel != "" && (d.vectorModel != model || d.vectorDims != dims) {
		if err := d.DropVectorTable(ctx); err != nil {
			return false, err
		}
		recreated = true
	}

	// distance_metric=cosine: without it vec0 defaults to L2, and the
	// search layer scores hits as 1 - cosine distance.
	ddl := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(chunk_id TEXT PRIMARY KEY, embedding float[%d] distance_metric=cosine)`,
		vectorTableName, dims)
	if _, err := d.conn.ExecContext(ctx, ddl); err != nil {
		d.vectorReady = false
		d.persistVectorMeta(ctx, model, dims, "")
		return recreated, fmt.Errorf("%w: %v", ErrVectorUnavailable, err)
	}

	d.vectorReady = true
	d.vectorModel = model
	d.vectorDims = dims
	d.extPath = extPath
	d.persistVectorMeta(ctx, model, dims, extPath)
	return recreated, nil
}

// probeVectorModule runs a harmless vec0 query to confirm the statically
// linked extension registered on this connection. The version string
// stands in for an extension path, the module being compiled in rather
// than loaded from disk.
func (d *DB) probeVectorModule(ctx context.Context) (string, error) {
	var version string
	if err := d.conn.QueryRowContext(ctx, `SELECT vec_version()`).Scan(&version); err != nil {
		return "", err
	}
	return "builtin:sqlite-vec@" + version, nil
}

// persistVectorMeta folds the resolved vector state into the index
// metadata blob, preserving the chunking parameters already recorded.
// Best-effort: a metadata write failure does not fail the caller's sync.
func (d *DB) persistVectorMeta(ctx context.Context, model string, dims int, extPath string) {
	meta, err := d.ReadIndexMeta(ctx)
	if err != nil {
		return
	}
	if meta == nil {
		meta = &IndexMeta{}
	}
	meta.Model = model
	meta.Dims = dims
	meta.ExtensionPath = extPath
	_ = d.WriteIndexMeta(ctx, *meta)
}

// DropVectorTableIfAny drops a vector table that exists on disk but was
// never activated on this handle. Returns ErrVectorUnavailable when the
// table exists and the vec0 module cannot be probed. SQLite cannot
// drop a virtual table whose module is missing, so the stale rows are
// unremovable from this process.
func (d *DB) DropVectorTableIfAny(ctx context.Context) error {
	has, err := d.HasTable(ctx, vectorTableName)
	if err != nil {
		return err
	}
	if !has {
		return nil
	}
	if _, perr := d.probeVectorModule(ctx); perr != nil {
		return fmt.Errorf("%w: %v", ErrVectorUnavailable, perr)
	}
	return d.DropVectorTable(ctx)
}

// DropVectorTable removes the vector table entirely, if present.
func (d *DB) DropVectorTable(ctx context.Context) error {
	if _, err := d.conn.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", vectorTableName)); err != nil {
		return fmt.Errorf("drop vector table: %w", err)
	}
	d.vectorReady = false
	d.vectorModel = ""
	d.vectorDims = 0
	return nil
}

// InsertVector stores (or replaces) one chunk's embedding in the vector
// table. Callers must have called EnsureVectorReady first.
func (d *DB) InsertVector(ctx context.Context, chunkID string, embedding []float32) error {
	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return fmt.Errorf("serialize embedding for %q: %w", chunkID, err)
	}
	// vec0 virtual tables do not support UPSERT: replace by delete + insert.
	if _, err = d.conn.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE chunk_id = ?`, vectorTableName), chunkID); err != nil {
		return fmt.Errorf("replace vector for %q: %w", chunkID, err)
	}
	_, err = d.conn.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (chunk_id, embedding) VALUES (?, ?)`, vectorTableName),
		chunkID, blob)
	if err != nil {
		return fmt.Errorf("insert vector for %q: %w", chunkID, err)
	}
	return nil
}

// InsertVectorsBatch stores many embeddings in a single transaction.
func (d *DB) InsertVectorsBatch(ctx context.Context, records []ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin vector batch insert tx: %w", err)
	}
	defer tx.Rollback()

	// vec0 virtual tables do not support UPSERT: replace by delete + insert.
	del, err := tx.PrepareContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE chunk_id = ?`, vectorTableName))
	if err != nil {
		return fmt.Errorf("prepare vector batch delete: %w", err)
	}
	defer del.Close()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (chunk_id, embedding) VALUES (?, ?)`, vectorTableName))
	if err != nil {
		return fmt.Errorf("prepare vector batch insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		blob, err := sqlite_vec.SerializeFloat32(r.Embedding)
		if err != nil {
			return fmt.Errorf("serialize embedding for %q: %w", r.ID, err)
		}
		if _, err := del.ExecContext(ctx, r.ID); err != nil {
			return fmt.Errorf("replace vector for %q: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, blob); err != nil {
			return fmt.Errorf("insert vector for %q: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteVectorsForFile removes every vector row whose chunk_id belongs to
// path's chunks. Must be called before the chunks rows themselves are
// deleted, since it joins against the chunks table.
func (d *DB) DeleteVectorsForFile(ctx context.Context, path string) error {
	if !d.vectorReady {
		return nil
	}
	_, err := d.conn.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE chunk_id IN (SELECT id FROM chunks WHERE file_path = ?)`, vectorTableName), path)
	if err != nil {
		return fmt.Errorf("delete vectors for %q: %w", path, err)
	}
	return nil
}

// DeleteVectorsByIDs removes specific vector rows by chunk ID.
func (d *DB) DeleteVectorsByIDs(ctx context.Context, ids []string) error {
	if !d.vectorReady || len(ids) == 0 {
		return nil
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
	query := fmt.Sprintf(`DELETE FROM %s WHERE chunk_id IN (%s)`, vectorTableName, placeholders)
	if _, err := d.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete vectors by id: %w", err)
	}
	return nil
}

// PurgeOrphanVectors removes vector rows with no matching chunk row,
// left behind when a file's chunks are replaced without the
// corresponding vector rows being cleaned up first (e.g. after an
// interrupted sync).
func (d *DB) PurgeOrphanVectors(ctx context.Context) (int64, error) {
	if !d.vectorReady {
		return 0, nil
	}
	res, err := d.conn.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE chunk_id NOT IN (SELECT id FROM chunks)`, vectorTableName))
	if err != nil {
		return 0, fmt.Errorf("purge orphan vectors: %w", err)
	}
	return res.RowsAffected()
}

// SearchVector runs a k-nearest-neighbor query against the native vector
// table and returns hits ordered by ascending distance.
func (d *DB) SearchVector(ctx context.Context, query []float32, k int) ([]VectorHit, error) {
	if !d.vectorReady {
		return nil, ErrVectorUnavailable
	}
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}

	rows, err := d.conn.QueryContext(ctx, fmt.Sprintf(
		`SELECT chunk_id, distance FROM %s WHERE embedding MATCH ? AND k = ? ORDER BY distance`,
		vectorTableName), blob, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var h VectorHit
		if err := rows.Scan(&h.ChunkID, &h.Distance); err != nil {
			return nil, fmt.Errorf("scan vector hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// VectorCount returns the number of rows currently in the vector table.
func (d *DB) VectorCount(ctx context.Context) (int, error) {
	if !d.vectorReady {
		return 0, nil
	}
	var n int
	err := d.conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, vectorTableName)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	return n, nil
}
