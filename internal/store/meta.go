package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ReadMeta returns the raw value stored under key, or "" if absent.
func (d *DB) ReadMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := d.conn.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read meta %q: %w", key, err)
	}
	return value, nil
}

// WriteMeta upserts a raw value under key.
func (d *DB) WriteMeta(ctx context.Context, key, value string) error {
	_, err := d.conn.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("write meta %q: %w", key, err)
	}
	return nil
}

// ReadIndexMeta loads the index-wide metadata blob. It returns (nil, nil)
// if the index has never been populated.
func (d *DB) ReadIndexMeta(ctx context.Context) (*IndexMeta, error) {
	raw, err := d.ReadMeta(ctx, metaIndexKey)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var m IndexMeta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode index meta: %w", err)
	}
	return &m, nil
}

// WriteIndexMeta persists the index-wide metadata blob.
func (d *DB) WriteIndexMeta(ctx context.Context, m IndexMeta) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode index meta: %w", err)
	}
	return d.WriteMeta(ctx, metaIndexKey, string(raw))
}
