// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func urlHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func TestFetchRejectsNonLoopbackHTTP(t *testing.T) {
	env := newTestEnv(t)
	dest := filepath.Join(t.TempDir(), "out.bin")

	_, _, err := env.deps.fetch(context.Background(), "http://example.com/clip.mp4", dest)
	require.Error(t, err)
	assert.NoFileExists(t, dest)
}

func TestFetchRejectsEmptyURL(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.deps.fetch(context.Background(), "", filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
}

func TestFetchWritesDestination(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("clip-bytes"))
	}))
	t.Cleanup(srv.Close)

	// Nested dest exercises directory creation.
	dest := filepath.Join(t.TempDir(), "jobs", "qcf-1", "clip.mp4")
	n, contentType, err := env.deps.fetch(context.Background(), srv.URL+"/clip.mp4", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len("clip-bytes")), n)
	assert.Equal(t, "video/mp4", contentType)

	body, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "clip-bytes", string(body))
}

func TestFetchErrorStatusFails(t *testing.T) {
	env := newTestEnv(t)
	srv := artifactServer(t, nil) // everything 404s
	dest := filepath.Join(t.TempDir(), "out.bin")

	_, _, err := env.deps.fetch(context.Background(), srv.URL+"/missing", dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
	assert.NoFileExists(t, dest)
}

func TestCachedFetchMissThenHit(t *testing.T) {
	env := newTestEnv(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("track-bytes"))
	}))
	t.Cleanup(srv.Close)
	rawURL := srv.URL + "/track.mp3"

	dest1 := filepath.Join(t.TempDir(), "a", "track.mp3")
	require.NoError(t, env.deps.cachedFetch(context.Background(), rawURL, dest1))
	assert.Equal(t, int32(1), hits.Load())

	body, err := os.ReadFile(dest1)
	require.NoError(t, err)
	assert.Equal(t, "track-bytes", string(body))

	// Blob and row recorded under the URL hash.
	hash := urlHash(rawURL)
	assert.FileExists(t, filepath.Join(env.deps.AssetsDir, hash))
	a, err := env.store.LookupAsset(context.Background(), hash)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, int64(len("track-bytes")), a.Size)

	// Second fetch is served from the blob, not the network.
	dest2 := filepath.Join(t.TempDir(), "b", "track.mp3")
	require.NoError(t, env.deps.cachedFetch(context.Background(), rawURL, dest2))
	assert.Equal(t, int32(1), hits.Load())

	body, err = os.ReadFile(dest2)
	require.NoError(t, err)
	assert.Equal(t, "track-bytes", string(body))
}

func TestCachedFetchRefetchesWhenBlobMissing(t *testing.T) {
	env := newTestEnv(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("track-bytes"))
	}))
	t.Cleanup(srv.Close)
	rawURL := srv.URL + "/track.mp3"

	dest := filepath.Join(t.TempDir(), "track.mp3")
	require.NoError(t, env.deps.cachedFetch(context.Background(), rawURL, dest))
	require.Equal(t, int32(1), hits.Load())

	// Simulate a blob lost to an operator rm or a partial disk restore.
	require.NoError(t, os.Remove(filepath.Join(env.deps.AssetsDir, urlHash(rawURL))))

	dest2 := filepath.Join(t.TempDir(), "track-again.mp3")
	require.NoError(t, env.deps.cachedFetch(context.Background(), rawURL, dest2))
	assert.Equal(t, int32(2), hits.Load())

	body, err := os.ReadFile(dest2)
	require.NoError(t, err)
	assert.Equal(t, "track-bytes", string(body))
}

func TestCachedFetchPropagatesDownloadError(t *testing.T) {
	env := newTestEnv(t)
	srv := artifactServer(t, nil)

	err := env.deps.cachedFetch(context.Background(), srv.URL+"/gone.mp3", filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
}
