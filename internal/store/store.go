// SPDX-License-Identifier: MIT

// Package store provides SQLite persistence for jobs, renders, and the
// assets cache. The schema matches legacy deployments; migrate adds the
// job_type and payload columns to tables created before they existed.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Store provides SQLite persistence for the orchestrator.
type Store struct {
	db     *sql.DB
	closed atomic.Bool
}

// New opens the database at dbPath and runs migrations.
// busy_timeout avoids "database locked" errors; WAL suits the
// read-heavy status-polling workload.
func New(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection. Subsequent operations return
// ErrClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database connection; used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// migrate creates the schema and upgrades legacy jobs tables that predate
// the job_type and payload columns.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		job_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		job_type TEXT NOT NULL DEFAULT 'unknown',
		payload TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
	CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);

	CREATE TABLE IF NOT EXISTS renders (
		job_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		hash TEXT NOT NULL DEFAULT '',
		quality TEXT NOT NULL DEFAULT '',
		url TEXT,
		status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'processing', 'completed', 'error')),
		PRIMARY KEY (job_id, item_id)
	);

	CREATE TABLE IF NOT EXISTS assets_cache (
		hash TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		content_type TEXT NOT NULL DEFAULT '',
		expires_at INTEGER,
		access_count INTEGER NOT NULL DEFAULT 0,
		last_accessed INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_assets_last_accessed ON assets_cache(last_accessed);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Legacy upgrade path: early deployments created the jobs table without
	// job_type and payload. ALTER TABLE is a no-op loop when both exist.
	for col, ddl := range map[string]string{
		"job_type": `ALTER TABLE jobs ADD COLUMN job_type TEXT NOT NULL DEFAULT 'unknown'`,
		"payload":  `ALTER TABLE jobs ADD COLUMN payload TEXT NOT NULL DEFAULT '{}'`,
	} {
		ok, err := s.hasColumn("jobs", col)
		if err != nil {
			return err
		}
		if !ok {
			if _, err := s.db.Exec(ddl); err != nil {
				return fmt.Errorf("add column %s: %w", col, err)
			}
		}
	}

	return nil
}

func (s *Store) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
