// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Asset is one cached remote object (soundtracks, shared reference media),
// keyed by the SHA-256 of its source URL.
type Asset struct {
	Hash         string
	URL          string
	CreatedAt    time.Time
	Size         int64
	ContentType  string
	ExpiresAt    time.Time
	AccessCount  int64
	LastAccessed time.Time
}

// LookupAsset returns the cache row for hash and bumps its access counters.
// A missing or expired row yields (nil, nil).
func (s *Store) LookupAsset(ctx context.Context, hash string) (*Asset, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	query := `
	SELECT hash, url, created_at, size, content_type, expires_at, access_count, last_accessed
	FROM assets_cache
	WHERE hash = ?
	`
	var (
		a            Asset
		createdAt    int64
		expiresAt    int64
		lastAccessed int64
	)
	err := s.db.QueryRowContext(ctx, query, hash).Scan(
		&a.Hash, &a.URL, &createdAt, &a.Size, &a.ContentType, &expiresAt, &a.AccessCount, &lastAccessed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup asset %s: %w", hash, err)
	}

	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	a.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	a.LastAccessed = time.Unix(lastAccessed, 0).UTC()

	now := time.Now()
	if !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt) {
		return nil, nil
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE assets_cache SET access_count = access_count + 1, last_accessed = ? WHERE hash = ?`,
		now.Unix(), hash,
	)
	if err != nil {
		return nil, fmt.Errorf("touch asset %s: %w", hash, err)
	}
	a.AccessCount++
	a.LastAccessed = now.UTC()
	return &a, nil
}

// PutAsset records a freshly fetched object. Re-fetching an existing hash
// refreshes the row and resets its expiry.
func (s *Store) PutAsset(ctx context.Context, a Asset, ttl time.Duration) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if a.Hash == "" {
		return errors.New("store: asset hash is empty")
	}

	now := time.Now()
	query := `
	INSERT INTO assets_cache (hash, url, created_at, size, content_type, expires_at, access_count, last_accessed)
	VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	ON CONFLICT(hash) DO UPDATE SET
		url = excluded.url,
		size = excluded.size,
		content_type = excluded.content_type,
		expires_at = excluded.expires_at,
		last_accessed = excluded.last_accessed
	`
	_, err := s.db.ExecContext(ctx, query,
		a.Hash, a.URL, now.Unix(), a.Size, a.ContentType, now.Add(ttl).Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("put asset %s: %w", a.Hash, err)
	}
	return nil
}

// DeleteExpiredAssets drops rows past their expiry and returns the hashes
// removed so the caller can unlink the blobs.
func (s *Store) DeleteExpiredAssets(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	now := time.Now().Unix()
	hashes, err := s.collectHashes(ctx,
		`SELECT hash FROM assets_cache WHERE expires_at > 0 AND expires_at < ?`, now)
	if err != nil {
		return nil, fmt.Errorf("expired assets: %w", err)
	}
	if len(hashes) == 0 {
		return nil, nil
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM assets_cache WHERE expires_at > 0 AND expires_at < ?`, now); err != nil {
		return nil, fmt.Errorf("delete expired assets: %w", err)
	}
	return hashes, nil
}

// EvictAssetsLRU removes least-recently-accessed rows until the cached total
// fits within maxBytes, returning the evicted hashes for blob cleanup.
func (s *Store) EvictAssetsLRU(ctx context.Context, maxBytes int64) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	total, err := s.TotalAssetBytes(ctx)
	if err != nil {
		return nil, err
	}
	if total <= maxBytes {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT hash, size FROM assets_cache ORDER BY last_accessed ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("evict assets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var victims []string
	for rows.Next() && total > maxBytes {
		var (
			hash string
			size int64
		)
		if err := rows.Scan(&hash, &size); err != nil {
			return nil, fmt.Errorf("evict assets: %w", err)
		}
		victims = append(victims, hash)
		total -= size
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	_ = rows.Close()

	for _, hash := range victims {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM assets_cache WHERE hash = ?`, hash); err != nil {
			return victims, fmt.Errorf("evict asset %s: %w", hash, err)
		}
	}
	return victims, nil
}

// TotalAssetBytes sums the size of every cached object.
func (s *Store) TotalAssetBytes(ctx context.Context) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT SUM(size) FROM assets_cache`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total asset bytes: %w", err)
	}
	return total.Int64, nil
}

func (s *Store) collectHashes(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
