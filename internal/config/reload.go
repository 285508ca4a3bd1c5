// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/genscene/genscene/internal/log"
)

// Holder holds configuration with atomic reloading capability. It provides
// thread-safe access and supports hot reloading from file watch or manual
// trigger via the API.
//
// Only a safe subset of settings changes on reload: soundtrack map, public
// base URL, outbound allowlist, cache TTL/size cap, and log level. Worker
// count, queue backend, and DB path are startup-only.
type Holder struct {
	mu         sync.RWMutex
	current    Config
	loader     *Loader
	configPath string
	watcher    *fsnotify.Watcher
	logger     zerolog.Logger

	reloadMu        sync.RWMutex
	reloadListeners []chan<- Config
}

// NewHolder creates a configuration holder with the initial config.
func NewHolder(initial Config, loader *Loader, configPath string) *Holder {
	return &Holder{
		current:    initial,
		loader:     loader,
		configPath: configPath,
		logger:     log.WithComponent("config"),
	}
}

// Get returns the current configuration (thread-safe read).
func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload re-reads the config file, validates the result, and atomically
// swaps the hot-reloadable subset. If validation fails the old configuration
// is kept and an error is returned.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str("event", "config.reload_start").Msg("reloading configuration")

	newCfg, err := h.loader.Load()
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "config.reload_failed").
			Msg("failed to load new configuration")
		return fmt.Errorf("load config: %w", err)
	}

	if err := Validate(newCfg); err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "config.validation_failed").
			Msg("new configuration failed validation")
		return fmt.Errorf("validate config: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.current
	merged := applySafeSubset(oldCfg, newCfg)
	h.current = merged
	h.mu.Unlock()

	log.SetLevel(merged.Log.Level)

	h.notifyListeners(merged)
	h.logChanges(oldCfg, merged)

	h.logger.Info().
		Str("event", "config.reload_success").
		Msg("configuration reloaded successfully")

	return nil
}

// applySafeSubset returns old with the hot-reloadable fields taken from the
// freshly loaded configuration. Everything else keeps its startup value.
func applySafeSubset(old, loaded Config) Config {
	merged := old
	merged.PublicBaseURL = loaded.PublicBaseURL
	merged.Soundtracks = loaded.Soundtracks
	merged.Outbound = loaded.Outbound
	merged.Cache.TTL = loaded.Cache.TTL
	merged.Cache.MaxBytes = loaded.Cache.MaxBytes
	merged.Log.Level = loaded.Log.Level
	return merged
}

// StartWatcher starts watching the config file for changes. If configPath is
// empty this is a no-op (config came from ENV only).
func (h *Holder) StartWatcher(ctx context.Context) error {
	if h.configPath == "" {
		h.logger.Info().
			Str("event", "config.watcher_disabled").
			Msg("config file watcher disabled (using ENV-only configuration)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	h.watcher = watcher

	if err := watcher.Add(h.configPath); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config file: %w", err)
	}

	h.logger.Info().
		Str("event", "config.watcher_started").
		Str("path", h.configPath).
		Msg("watching config file for changes")

	go h.watchLoop(ctx)

	return nil
}

func (h *Holder) watchLoop(ctx context.Context) {
	// Debounce to avoid multiple reloads for rapid editor write bursts.
	var debounceTimer *time.Timer
	debounceDuration := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("event", "config.watcher_stopped").Msg("config watcher stopped")
			if h.watcher != nil {
				_ = h.watcher.Close()
			}
			return

		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}

			// Write and Create cover vim, nano, and plain redirection.
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				h.logger.Debug().
					Str("event", "config.file_changed").
					Str("op", event.Op.String()).
					Msg("config file changed")

				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					if err := h.Reload(ctx); err != nil {
						h.logger.Error().
							Err(err).
							Str("event", "config.auto_reload_failed").
							Msg("automatic config reload failed")
					}
				})
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().
				Err(err).
				Str("event", "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

// Stop stops the config watcher (if running).
func (h *Holder) Stop() {
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
}

// RegisterListener registers a channel to receive config reload
// notifications. The caller owns the channel.
func (h *Holder) RegisterListener(ch chan<- Config) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()
	h.reloadListeners = append(h.reloadListeners, ch)
}

func (h *Holder) notifyListeners(newCfg Config) {
	h.reloadMu.RLock()
	defer h.reloadMu.RUnlock()

	for _, ch := range h.reloadListeners {
		select {
		case ch <- newCfg:
		default:
			h.logger.Warn().
				Str("event", "config.listener_skip").
				Msg("skipped notifying listener (channel full)")
		}
	}
}

func (h *Holder) logChanges(old, newCfg Config) {
	if old.PublicBaseURL != newCfg.PublicBaseURL {
		h.logger.Info().
			Str("old", old.PublicBaseURL).
			Str("new", newCfg.PublicBaseURL).
			Msg("config changed: PublicBaseURL")
	}
	if old.Log.Level != newCfg.Log.Level {
		h.logger.Info().
			Str("old", old.Log.Level).
			Str("new", newCfg.Log.Level).
			Msg("config changed: Log.Level")
	}
	if old.Cache.TTL != newCfg.Cache.TTL {
		h.logger.Info().
			Dur("old", old.Cache.TTL).
			Dur("new", newCfg.Cache.TTL).
			Msg("config changed: Cache.TTL")
	}
	if old.Cache.MaxBytes != newCfg.Cache.MaxBytes {
		h.logger.Info().
			Int64("old", old.Cache.MaxBytes).
			Int64("new", newCfg.Cache.MaxBytes).
			Msg("config changed: Cache.MaxBytes")
	}
	if len(old.Soundtracks.Styles) != len(newCfg.Soundtracks.Styles) ||
		old.Soundtracks.Default != newCfg.Soundtracks.Default {
		h.logger.Info().
			Int("old_styles", len(old.Soundtracks.Styles)).
			Int("new_styles", len(newCfg.Soundtracks.Styles)).
			Msg("config changed: Soundtracks")
	}
}
