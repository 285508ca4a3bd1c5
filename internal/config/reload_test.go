// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestReloadSwapsOnlySafeSubset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, `
public_base_url: "http://one.example.com"
workers:
  count: 4
`)

	loader := NewLoader(path)
	initial, err := loader.Load()
	require.NoError(t, err)
	require.NoError(t, Validate(initial))

	holder := NewHolder(initial, loader, path)

	// The new file changes a safe field (public base URL) and an unsafe one
	// (worker count). Only the safe field may move.
	writeConfig(t, path, `
public_base_url: "http://two.example.com"
workers:
  count: 16
cache:
  ttl: 24h
soundtracks:
  default: "https://example.com/new-default.mp3"
`)

	require.NoError(t, holder.Reload(context.Background()))

	got := holder.Get()
	assert.Equal(t, "http://two.example.com", got.PublicBaseURL)
	assert.Equal(t, "https://example.com/new-default.mp3", got.Soundtracks.Default)
	assert.Equal(t, initial.Cache.TTL/7, got.Cache.TTL) // 168h -> 24h
	assert.Equal(t, 4, got.Workers.Count, "worker count is startup-only")
}

func TestReloadKeepsOldConfigOnInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "public_base_url: \"http://one.example.com\"\n")

	loader := NewLoader(path)
	initial, err := loader.Load()
	require.NoError(t, err)

	holder := NewHolder(initial, loader, path)

	writeConfig(t, path, "workers:\n  count: 0\n")
	require.Error(t, holder.Reload(context.Background()))
	assert.Equal(t, "http://one.example.com", holder.Get().PublicBaseURL)
}

func TestReloadNotifiesListeners(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "public_base_url: \"http://one.example.com\"\n")

	loader := NewLoader(path)
	initial, err := loader.Load()
	require.NoError(t, err)

	holder := NewHolder(initial, loader, path)
	ch := make(chan Config, 1)
	holder.RegisterListener(ch)

	writeConfig(t, path, "public_base_url: \"http://two.example.com\"\n")
	require.NoError(t, holder.Reload(context.Background()))

	select {
	case got := <-ch:
		assert.Equal(t, "http://two.example.com", got.PublicBaseURL)
	default:
		t.Fatal("expected listener notification")
	}
}

func TestWatcherDisabledWithoutPath(t *testing.T) {
	holder := NewHolder(Default(), NewLoader(""), "")
	require.NoError(t, holder.StartWatcher(context.Background()))
	holder.Stop()
}
