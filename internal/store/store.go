// Package store owns the relational state of the pipeline: known recordings,
// their ingest attempts, and the cached Zoom user identities. All multi-row
// logic runs inside a single transaction per call.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

// Store wraps the SQL handle and prepared schema.
type Store struct {
	db *sql.DB
}

// Open initialises a SQLite connection pool with the operational PRAGMAs the
// pipeline relies on (WAL journaling, busy timeout, foreign keys) and creates
// the schema if it does not exist.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open failed: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping failed: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS recording (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL,
			host_id TEXT NOT NULL,
			start_time TEXT NOT NULL,
			title TEXT NOT NULL,
			duration INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_recording_uuid ON recording(uuid)`,
		`CREATE TABLE IF NOT EXISTS ingest (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL REFERENCES recording(uuid),
			status INTEGER NOT NULL DEFAULT 0,
			timestamp INTEGER NOT NULL,
			is_webhook INTEGER NOT NULL DEFAULT 0,
			zingest_params BLOB NOT NULL,
			mediapackage_id TEXT,
			workflow_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ingest_uuid ON ingest(uuid)`,
		`CREATE INDEX IF NOT EXISTS idx_ingest_status ON ingest(status, timestamp)`,
		`CREATE TABLE IF NOT EXISTS user (
			user_id TEXT PRIMARY KEY,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			email TEXT NOT NULL,
			updated INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// wildcard turns a free-text query into per-word LIKE patterns.
func wildcard(q string) []string {
	fields := strings.Fields(strings.ToLower(q))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, "%"+f+"%")
	}
	return out
}
