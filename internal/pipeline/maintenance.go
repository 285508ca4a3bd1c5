// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/genscene/genscene/internal/log"
	"github.com/genscene/genscene/internal/metrics"
)

// SweepAssets is the scheduled cache maintenance pass: expired rows are
// dropped first, then least-recently-used rows until the cache fits the
// configured size cap. Blobs for removed rows are unlinked from disk.
func (d Deps) SweepAssets(ctx context.Context) error {
	logger := log.WithComponentFromContext(ctx, "assets")

	expired, err := d.Store.DeleteExpiredAssets(ctx)
	if err != nil {
		return err
	}
	d.unlinkBlobs(logger, expired, "expired")

	victims, err := d.Store.EvictAssetsLRU(ctx, d.Settings().Cache.MaxBytes)
	if err != nil {
		return err
	}
	d.unlinkBlobs(logger, victims, "lru")

	if len(expired)+len(victims) > 0 {
		logger.Info().
			Str("event", "assets.sweep").
			Int("expired", len(expired)).
			Int("evicted", len(victims)).
			Msg("assets cache swept")
	}
	return nil
}

func (d Deps) unlinkBlobs(logger zerolog.Logger, hashes []string, reason string) {
	for _, h := range hashes {
		metrics.IncCacheEviction(reason)
		if err := os.Remove(filepath.Join(d.AssetsDir, h)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn().Err(err).Str("hash", h).Msg("remove cached blob")
		}
	}
}
