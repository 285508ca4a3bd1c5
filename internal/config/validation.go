// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/genscene/genscene/internal/models"
)

// Validate fail-fasts on configuration that cannot produce a working daemon.
// It is called once at startup and again on every hot reload; a reload that
// fails validation keeps the previous configuration.
func Validate(cfg Config) error {
	if cfg.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if cfg.MediaDir == "" {
		return fmt.Errorf("media_dir must not be empty")
	}
	if cfg.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}

	if cfg.Workers.Count < 1 {
		return fmt.Errorf("workers.count must be at least 1, got %d", cfg.Workers.Count)
	}
	if cfg.Workers.PollInterval <= 0 {
		return fmt.Errorf("workers.poll_interval must be positive, got %s", cfg.Workers.PollInterval)
	}
	if cfg.Workers.JobTimeout <= 0 {
		return fmt.Errorf("workers.job_timeout must be positive, got %s", cfg.Workers.JobTimeout)
	}

	if cfg.Queue.URL != "" && !strings.HasPrefix(cfg.Queue.URL, "redis://") && !strings.HasPrefix(cfg.Queue.URL, "rediss://") {
		return fmt.Errorf("queue.url must be a redis:// URL or empty, got %q", cfg.Queue.URL)
	}
	if cfg.Queue.URL == "" && cfg.Queue.Capacity < 1 {
		return fmt.Errorf("queue.capacity must be at least 1, got %d", cfg.Queue.Capacity)
	}

	if cfg.Models.Fallback == "" {
		return fmt.Errorf("models.fallback must not be empty")
	}
	known := false
	for _, m := range models.DefaultCatalog() {
		if m.ID == cfg.Models.Fallback {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("models.fallback %q is not in the catalog", cfg.Models.Fallback)
	}

	if cfg.KIE.BaseURL != "" {
		u, err := url.Parse(cfg.KIE.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("kie.base_url %q is not a valid URL", cfg.KIE.BaseURL)
		}
	}
	if cfg.KIE.PollInterval <= 0 {
		return fmt.Errorf("kie.poll_interval must be positive, got %s", cfg.KIE.PollInterval)
	}
	if cfg.KIE.PollAttempts < 1 {
		return fmt.Errorf("kie.poll_attempts must be at least 1, got %d", cfg.KIE.PollAttempts)
	}

	if cfg.PublicBaseURL != "" {
		u, err := url.Parse(cfg.PublicBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("public_base_url %q is not a valid URL", cfg.PublicBaseURL)
		}
	}

	if cfg.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path must not be empty")
	}

	if cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", cfg.Cache.TTL)
	}
	if cfg.Cache.MaxBytes < 1 {
		return fmt.Errorf("cache.max_bytes must be positive, got %d", cfg.Cache.MaxBytes)
	}
	if cfg.Cache.Schedule == "" {
		return fmt.Errorf("cache.schedule must not be empty")
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RequestLimit < 1 {
			return fmt.Errorf("rate_limit.request_limit must be at least 1, got %d", cfg.RateLimit.RequestLimit)
		}
		if cfg.RateLimit.Window <= 0 {
			return fmt.Errorf("rate_limit.window must be positive, got %s", cfg.RateLimit.Window)
		}
	}

	if cfg.Log.Level != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level)); err != nil {
			return fmt.Errorf("log.level %q is not a valid level", cfg.Log.Level)
		}
	}

	switch cfg.OTel.Exporter {
	case "", "noop", "grpc", "http":
	default:
		return fmt.Errorf("otel.exporter must be one of noop, grpc, http; got %q", cfg.OTel.Exporter)
	}
	if cfg.OTel.SamplingRate < 0 || cfg.OTel.SamplingRate > 1 {
		return fmt.Errorf("otel.sampling_rate must be within [0,1], got %f", cfg.OTel.SamplingRate)
	}

	return nil
}
