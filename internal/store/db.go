package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

const busyTimeout = 5 * time.Second

// DB is the embedded index store for one workspace.
type DB struct {
	conn *sql.DB
	path string

	vectorReady bool
	vectorDims  int
	vectorModel string
	extPath     string
}

// Open opens or creates the index database at path, setting pragmas and
// ensuring the non-vector schema exists. The vector table is never
// created here; see EnsureVectorReady.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}

	// _txlock=immediate makes every BEGIN an IMMEDIATE transaction, so
	// per-file rewrites take the write lock up front instead of
	// upgrading mid-transaction and risking SQLITE_BUSY at commit.
	dsn := fmt.Sprintf("%s?_busy_timeout=%d&_txlock=immediate", path, busyTimeout.Milliseconds())
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout.Milliseconds())); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.ensureSchema(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	db.restoreVectorState(context.Background())
	return db, nil
}

// HasTable reports whether a table (or virtual table) named name exists.
func (d *DB) HasTable(ctx context.Context, name string) (bool, error) {
	var n int
	err := d.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %q: %w", name, err)
	}
	return n > 0, nil
}

// restoreVectorState re-arms the vector path on a handle opened over an
// index that already has a populated vector table: probe the vec0 module
// and pick up the persisted (model, dims) so searches go native without
// waiting for the next EnsureVectorReady.
func (d *DB) restoreVectorState(ctx context.Context) {
	has, err := d.HasTable(ctx, vectorTableName)
	if err != nil || !has {
		return
	}
	if _, err := d.probeVectorModule(ctx); err != nil {
		return
	}
	meta, err := d.ReadIndexMeta(ctx)
	if err != nil || meta == nil || meta.Dims <= 0 {
		return
	}
	d.vectorReady = true
	d.vectorModel = meta.Model
	d.vectorDims = meta.Dims
	d.extPath = meta.ExtensionPath
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn exposes the underlying *sql.DB for callers that need raw access
// (transactions spanning multiple store helpers).
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

const chunksRequiredColumns = `id,file_path,line_start,line_end,hash,model,content,embedding,updated_at`

func (d *DB) ensureSchema(ctx context.Context) error {
	if _, err := d.conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT
	)`); err != nil {
		return fmt.Errorf("create meta table: %w", err)
	}

	if _, err := d.conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		mtime INTEGER NOT NULL,
		size INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create files table: %w", err)
	}

	if err := d.ensureChunksTable(ctx); err != nil {
		return err
	}

	if _, err := d.conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS embedding_cache (
		model TEXT NOT NULL,
		hash TEXT NOT NULL,
		embedding TEXT NOT NULL,
		dims INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (model, hash)
	)`); err != nil {
		return fmt.Errorf("create embedding_cache table: %w", err)
	}
	if _, err := d.conn.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_embedding_cache_updated_at
		ON embedding_cache(updated_at)`); err != nil {
		return fmt.Errorf("create embedding_cache index: %w", err)
	}

	return nil
}

// ensureChunksTable creates the chunks table if absent, and drops +
// recreates it if an existing table is missing a required column, a
// schema drift left behind by an older binary.
func (d *DB) ensureChunksTable(ctx context.Context) error {
	rows, err := d.conn.QueryContext(ctx, "PRAGMA table_info(chunks)")
	if err != nil {
		return fmt.Errorf("inspect chunks table: %w", err)
	}
	present := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("scan chunks table_info: %w", err)
		}
		present[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate chunks table_info: %w", err)
	}

	required := []string{"id", "file_path", "line_start", "line_end", "hash", "model", "content", "embedding", "updated_at"}
	complete := len(present) > 0
	for _, col := range required {
		if !present[col] {
			complete = false
			break
		}
	}

	if len(present) > 0 && !complete {
		if _, err := d.conn.ExecContext(ctx, "DROP TABLE chunks"); err != nil {
			return fmt.Errorf("drop drifted chunks table: %w", err)
		}
	}

	if _, err := d.conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		file_path TEXT NOT NULL,
		line_start INTEGER NOT NULL,
		line_end INTEGER NOT NULL,
		hash TEXT NOT NULL,
		model TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create chunks table: %w", err)
	}
	if _, err := d.conn.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_chunks_file_path
		ON chunks(file_path)`); err != nil {
		return fmt.Errorf("create chunks file_path index: %w", err)
	}

	return nil
}

// NowMillis returns the current time in epoch milliseconds, the store's
// timestamp unit throughout (files.mtime, chunks.updated_at, cache rows).
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
