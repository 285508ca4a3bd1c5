// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"errors"
	"fmt"
)

// RenderStatus tracks a produced artifact through its lifecycle.
type RenderStatus string

const (
	RenderPending    RenderStatus = "pending"
	RenderProcessing RenderStatus = "processing"
	RenderCompleted  RenderStatus = "completed"
	RenderError      RenderStatus = "error"
)

// Render is one artifact produced by a job: a generated image, a video
// segment, or the final muxed output. (job_id, item_id) is the identity.
type Render struct {
	JobID   string
	ItemID  string
	Hash    string
	Quality string
	URL     string
	Status  RenderStatus
}

// UpsertRender records or updates an artifact row for a job.
func (s *Store) UpsertRender(ctx context.Context, r Render) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if r.JobID == "" || r.ItemID == "" {
		return errors.New("store: render requires job_id and item_id")
	}
	if r.Status == "" {
		r.Status = RenderPending
	}

	query := `
	INSERT INTO renders (job_id, item_id, hash, quality, url, status)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(job_id, item_id) DO UPDATE SET
		hash = excluded.hash,
		quality = excluded.quality,
		url = excluded.url,
		status = excluded.status
	`
	_, err := s.db.ExecContext(ctx, query, r.JobID, r.ItemID, r.Hash, r.Quality, r.URL, string(r.Status))
	if err != nil {
		return fmt.Errorf("upsert render %s/%s: %w", r.JobID, r.ItemID, err)
	}
	return nil
}

// ListRenders returns all artifacts for a job in item order.
func (s *Store) ListRenders(ctx context.Context, jobID string) ([]Render, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	query := `
	SELECT job_id, item_id, hash, quality, url, status
	FROM renders
	WHERE job_id = ?
	ORDER BY item_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list renders for %s: %w", jobID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Render
	for rows.Next() {
		var (
			r      Render
			status string
		)
		if err := rows.Scan(&r.JobID, &r.ItemID, &r.Hash, &r.Quality, &r.URL, &status); err != nil {
			return nil, fmt.Errorf("list renders for %s: %w", jobID, err)
		}
		r.Status = RenderStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}
