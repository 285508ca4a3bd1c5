// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/genscene/genscene/internal/job"
)

// DefaultListLimit bounds job listings when the caller does not supply one.
const DefaultListLimit = 100

// JobRecord is the persisted view of a job. The registry carries the richer
// transient metadata; only state, progress, and the payload survive restarts.
type JobRecord struct {
	ID        string
	State     job.State
	Progress  int
	CreatedAt time.Time
	Type      job.Type
	Payload   job.Payload
}

// JobFilter narrows ListJobs. Zero values mean "no constraint".
type JobFilter struct {
	States        []job.State
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
}

// UpsertJob creates the row if absent (recording created_at = now) or
// updates state, progress, type, and payload while preserving created_at.
func (s *Store) UpsertJob(ctx context.Context, id string, state job.State, progress int, typ job.Type, payload job.Payload) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if id == "" {
		return errors.New("store: job id is empty")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	query := `
	INSERT INTO jobs (job_id, state, progress, created_at, job_type, payload)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(job_id) DO UPDATE SET
		state = excluded.state,
		progress = excluded.progress,
		job_type = excluded.job_type,
		payload = excluded.payload
	`
	_, err = s.db.ExecContext(ctx, query, id, string(state), progress, time.Now().Unix(), string(typ), string(raw))
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", id, err)
	}
	return nil
}

// GetJob retrieves a single job by id. It returns (nil, nil) when the row
// does not exist, so callers can tell "not found" from a real store error.
func (s *Store) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	query := `
	SELECT job_id, state, progress, created_at, job_type, payload
	FROM jobs
	WHERE job_id = ?
	`
	rec, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return rec, nil
}

// ListJobs returns jobs matching the filter, newest first.
func (s *Store) ListJobs(ctx context.Context, f JobFilter) ([]JobRecord, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var (
		where []string
		args  []any
	)
	if len(f.States) > 0 {
		marks := make([]string, len(f.States))
		for i, st := range f.States {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, fmt.Sprintf("state IN (%s)", strings.Join(marks, ", ")))
	}
	if !f.CreatedAfter.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.CreatedAfter.Unix())
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, f.CreatedBefore.Unix())
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT job_id, state, progress, created_at, job_type, payload FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// DeleteJob removes a job and cascades its renders in one transaction.
// It reports true iff the job row existed.
func (s *Store) DeleteJob(ctx context.Context, id string) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delete job %s: begin: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM renders WHERE job_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete renders for %s: %w", id, err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete job %s: rows affected: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete job %s: commit: %w", id, err)
	}
	return n > 0, nil
}

// RecoverUnfinished returns every queued or processing job, oldest first,
// so restart recovery re-enqueues in the original submission order. It is
// callable immediately after New with no other component initialized.
func (s *Store) RecoverUnfinished(ctx context.Context) ([]JobRecord, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	query := `
	SELECT job_id, state, progress, created_at, job_type, payload
	FROM jobs
	WHERE state IN ('queued', 'processing')
	ORDER BY created_at ASC, rowid ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("recover unfinished: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("recover unfinished: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// ListTerminalFailures returns every job in error or cancelled state. The
// startup reconciliation sweep uses it to find debits with no refund.
func (s *Store) ListTerminalFailures(ctx context.Context) ([]JobRecord, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	query := `
	SELECT job_id, state, progress, created_at, job_type, payload
	FROM jobs
	WHERE state IN ('error', 'cancelled')
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list terminal failures: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list terminal failures: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*JobRecord, error) {
	var (
		rec       JobRecord
		state     string
		typ       string
		createdAt int64
		payload   string
	)
	if err := row.Scan(&rec.ID, &state, &rec.Progress, &createdAt, &typ, &payload); err != nil {
		return nil, err
	}
	rec.State = job.State(state)
	rec.Type = job.Type(typ)
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()

	rec.Payload = job.Payload{}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload for %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}
