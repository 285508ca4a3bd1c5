// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence ENV > file > defaults.
type Loader struct {
	configPath string
}

// NewLoader creates a loader for the given config file path. An empty path
// means ENV-only configuration.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load assembles the configuration: defaults, then the YAML file (if any),
// then environment overrides, then derived paths.
func (l *Loader) Load() (Config, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.mergeFile(&cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	derivePaths(&cfg)

	return cfg, nil
}

// mergeFile overlays the YAML file onto cfg. Unknown keys are ignored;
// absent keys keep their current values because the decode target is cfg.
func (l *Loader) mergeFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath) // #nosec G304 -- path comes from the --config flag
	if err != nil {
		return fmt.Errorf("read %s: %w", l.configPath, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", l.configPath, err)
	}
	return nil
}

// mergeEnv overlays GENSCENE_* environment variables (highest precedence).
func (l *Loader) mergeEnv(cfg *Config) {
	cfg.Listen = ParseString("GENSCENE_LISTEN", cfg.Listen)
	cfg.MetricsListen = ParseString("GENSCENE_METRICS_LISTEN", cfg.MetricsListen)
	cfg.APIToken = ParseString("GENSCENE_API_TOKEN", cfg.APIToken)

	cfg.DataDir = ParseString("GENSCENE_DATA_DIR", cfg.DataDir)
	cfg.DBPath = ParseString("GENSCENE_DB_PATH", cfg.DBPath)
	cfg.MediaDir = ParseString("GENSCENE_MEDIA_DIR", cfg.MediaDir)
	cfg.PublicBaseURL = ParseString("GENSCENE_PUBLIC_BASE_URL", cfg.PublicBaseURL)

	cfg.Workers.Count = ParseInt("GENSCENE_WORKERS", cfg.Workers.Count)
	cfg.Workers.PollInterval = ParseDuration("GENSCENE_POLL_INTERVAL", cfg.Workers.PollInterval)
	cfg.Workers.JobTimeout = ParseDuration("GENSCENE_JOB_TIMEOUT", cfg.Workers.JobTimeout)

	cfg.Queue.URL = ParseString("GENSCENE_QUEUE_URL", cfg.Queue.URL)
	cfg.Queue.Capacity = ParseInt("GENSCENE_QUEUE_CAPACITY", cfg.Queue.Capacity)

	cfg.Models.Fallback = ParseString("GENSCENE_FALLBACK_MODEL", cfg.Models.Fallback)

	cfg.KIE.BaseURL = ParseString("GENSCENE_KIE_BASE_URL", cfg.KIE.BaseURL)
	cfg.KIE.APIKey = ParseString("GENSCENE_KIE_API_KEY", cfg.KIE.APIKey)
	cfg.KIE.PollInterval = ParseDuration("GENSCENE_KIE_POLL_INTERVAL", cfg.KIE.PollInterval)
	cfg.KIE.PollAttempts = ParseInt("GENSCENE_KIE_POLL_ATTEMPTS", cfg.KIE.PollAttempts)

	cfg.FFmpegPath = ParseString("GENSCENE_FFMPEG_PATH", cfg.FFmpegPath)

	cfg.Cache.TTL = ParseDuration("GENSCENE_CACHE_TTL", cfg.Cache.TTL)
	cfg.Cache.MaxBytes = ParseInt64("GENSCENE_CACHE_MAX_BYTES", cfg.Cache.MaxBytes)
	cfg.Cache.Schedule = ParseString("GENSCENE_CACHE_SCHEDULE", cfg.Cache.Schedule)

	cfg.Outbound.AllowHosts = ParseStringSlice("GENSCENE_OUTBOUND_ALLOW_HOSTS", cfg.Outbound.AllowHosts)
	cfg.Outbound.AllowInsecureLoopback = ParseBool("GENSCENE_OUTBOUND_ALLOW_INSECURE_LOOPBACK", cfg.Outbound.AllowInsecureLoopback)

	cfg.RateLimit.Enabled = ParseBool("GENSCENE_RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled)
	cfg.RateLimit.RequestLimit = ParseInt("GENSCENE_RATE_LIMIT_REQUESTS", cfg.RateLimit.RequestLimit)
	cfg.RateLimit.Window = ParseDuration("GENSCENE_RATE_LIMIT_WINDOW", cfg.RateLimit.Window)

	cfg.Log.Level = ParseString("GENSCENE_LOG_LEVEL", cfg.Log.Level)

	cfg.OTel.Enabled = ParseBool("GENSCENE_OTEL_ENABLED", cfg.OTel.Enabled)
	cfg.OTel.Endpoint = ParseString("GENSCENE_OTEL_ENDPOINT", cfg.OTel.Endpoint)
	cfg.OTel.Exporter = ParseString("GENSCENE_OTEL_EXPORTER", cfg.OTel.Exporter)
	cfg.OTel.SamplingRate = ParseFloat("GENSCENE_OTEL_SAMPLING_RATE", cfg.OTel.SamplingRate)
	cfg.OTel.Insecure = ParseBool("GENSCENE_OTEL_INSECURE", cfg.OTel.Insecure)
}

// derivePaths fills DBPath and MediaDir from DataDir when unset, and makes
// DataDir absolute to avoid surprises after a working-directory change.
func derivePaths(cfg *Config) {
	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "genscene.db")
	}
	if cfg.MediaDir == "" {
		cfg.MediaDir = filepath.Join(cfg.DataDir, "media")
	}
}
