// Package sqlite persists the working-stream cache in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/CWD273/cwiptvm3/internal/cache"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS working_streams (
	channel_id TEXT PRIMARY KEY,
	url        TEXT NOT NULL,
	source     TEXT NOT NULL,
	checked_at INTEGER NOT NULL
)`

// Store implements cache.Store on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; database/sql would otherwise hand concurrent writers separate connections.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Load reads every row.
func (s *Store) Load(ctx context.Context) (cache.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel_id, url, source, checked_at FROM working_streams`)
	if err != nil {
		return nil, fmt.Errorf("query working streams: %w", err)
	}
	defer rows.Close()

	snap := cache.Snapshot{}
	for rows.Next() {
		var (
			e       cache.Entry
			checked int64
		)
		if err := rows.Scan(&e.ChannelID, &e.URL, &e.Source, &checked); err != nil {
			return nil, fmt.Errorf("scan working stream: %w", err)
		}
		e.CheckedAt = time.UnixMilli(checked).UTC()
		snap[e.ChannelID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate working streams: %w", err)
	}
	return snap, nil
}

// Save replaces the table contents with snap in one transaction.
func (s *Store) Save(ctx context.Context, snap cache.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM working_streams`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear working streams: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO working_streams (channel_id, url, source, checked_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, e := range snap.Sorted() {
		if _, err := stmt.ExecContext(ctx, e.ChannelID, e.URL, e.Source, e.CheckedAt.UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert %s: %w", e.ChannelID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
