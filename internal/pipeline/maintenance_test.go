// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genscene/genscene/internal/store"
)

func (e *testEnv) putAsset(t *testing.T, hash string, size int64, ttl time.Duration) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.PutAsset(ctx, store.Asset{
		Hash: hash,
		URL:  "https://example.com/" + hash,
		Size: size,
	}, ttl))
	require.NoError(t, os.WriteFile(filepath.Join(e.deps.AssetsDir, hash), make([]byte, size), 0o644))
}

func (e *testEnv) assetExists(t *testing.T, hash string) bool {
	t.Helper()
	a, err := e.store.LookupAsset(context.Background(), hash)
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(e.deps.AssetsDir, hash))
	blobExists := statErr == nil
	if (a != nil) != blobExists {
		t.Fatalf("asset %s: row=%v blob=%v, want both or neither", hash, a != nil, blobExists)
	}
	return a != nil
}

func TestSweepAssetsDropsExpired(t *testing.T) {
	env := newTestEnv(t)
	env.putAsset(t, "stale", 100, -time.Hour)
	env.putAsset(t, "fresh", 100, time.Hour)

	require.NoError(t, env.deps.SweepAssets(context.Background()))

	assert.False(t, env.assetExists(t, "stale"))
	assert.True(t, env.assetExists(t, "fresh"))
}

func TestSweepAssetsEvictsLRUOverCap(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Cache.MaxBytes = 800
	env.putAsset(t, "older", 600, time.Hour)
	env.putAsset(t, "newer", 500, time.Hour)

	require.NoError(t, env.deps.SweepAssets(context.Background()))

	// 1100 bytes over an 800-byte cap: the least recently stored row goes.
	assert.False(t, env.assetExists(t, "older"))
	assert.True(t, env.assetExists(t, "newer"))
}

func TestSweepAssetsUnderCapIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.putAsset(t, "one", 100, time.Hour)
	env.putAsset(t, "two", 100, time.Hour)

	require.NoError(t, env.deps.SweepAssets(context.Background()))

	assert.True(t, env.assetExists(t, "one"))
	assert.True(t, env.assetExists(t, "two"))
}
