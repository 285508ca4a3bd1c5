// SPDX-License-Identifier: MIT

// Package config loads daemon configuration with precedence
// defaults < YAML file < environment, validates it, and supports
// hot reload of the subset of settings that are safe to change live.
package config

import (
	"time"
)

// Workers controls the dispatcher pool.
type Workers struct {
	Count        int           `yaml:"count"`
	PollInterval time.Duration `yaml:"poll_interval"`
	JobTimeout   time.Duration `yaml:"job_timeout"`
}

// Queue selects and sizes the work queue backend.
type Queue struct {
	// URL selects the backend: empty means in-memory, redis:// selects redis.
	URL      string `yaml:"url"`
	Capacity int    `yaml:"capacity"`
}

// Models configures catalog policy.
type Models struct {
	Fallback string `yaml:"fallback"`
}

// KIE configures the generation provider adapters.
type KIE struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PollAttempts int           `yaml:"poll_attempts"`
}

// Soundtracks maps style keys to soundtrack source URLs.
type Soundtracks struct {
	Default string            `yaml:"default"`
	Styles  map[string]string `yaml:"styles"`
}

// Cache configures the assets cache maintenance service.
type Cache struct {
	TTL      time.Duration `yaml:"ttl"`
	MaxBytes int64         `yaml:"max_bytes"`
	Schedule string        `yaml:"schedule"`
}

// Outbound configures the URL policy for provider and soundtrack downloads.
type Outbound struct {
	// AllowHosts restricts downloads to the listed hosts; empty allows any
	// https host.
	AllowHosts []string `yaml:"allow_hosts"`
	// AllowInsecureLoopback permits plain http to loopback addresses. Meant
	// for tests and local stacks.
	AllowInsecureLoopback bool `yaml:"allow_insecure_loopback"`
}

// Log configures the global logger.
type Log struct {
	Level string `yaml:"level"`
}

// OTel configures the tracing provider.
type OTel struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	Exporter     string  `yaml:"exporter"` // grpc|http|noop
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// RateLimit configures per-IP limiting on mutating API routes.
type RateLimit struct {
	Enabled      bool          `yaml:"enabled"`
	RequestLimit int           `yaml:"request_limit"`
	Window       time.Duration `yaml:"window"`
}

// Config is the complete daemon configuration.
type Config struct {
	Listen        string `yaml:"listen"`
	MetricsListen string `yaml:"metrics_listen"`
	APIToken      string `yaml:"api_token"`

	DataDir       string `yaml:"data_dir"`
	DBPath        string `yaml:"db_path"`
	MediaDir      string `yaml:"media_dir"`
	PublicBaseURL string `yaml:"public_base_url"`

	Workers     Workers     `yaml:"workers"`
	Queue       Queue       `yaml:"queue"`
	Models      Models      `yaml:"models"`
	KIE         KIE         `yaml:"kie"`
	FFmpegPath  string      `yaml:"ffmpeg_path"`
	Soundtracks Soundtracks `yaml:"soundtracks"`
	Cache       Cache       `yaml:"cache"`
	Outbound    Outbound    `yaml:"outbound"`
	RateLimit   RateLimit   `yaml:"rate_limit"`
	Log         Log         `yaml:"log"`
	OTel        OTel        `yaml:"otel"`
}

// Default returns the baseline configuration before file and env overrides.
func Default() Config {
	return Config{
		Listen:        ":8080",
		MetricsListen: "",
		DataDir:       "./data",
		PublicBaseURL: "http://localhost:8080",
		Workers: Workers{
			Count:        4,
			PollInterval: time.Second,
			JobTimeout:   300 * time.Second,
		},
		Queue: Queue{
			Capacity: 1024,
		},
		Models: Models{
			Fallback: "wan/2-6-text-to-video",
		},
		KIE: KIE{
			BaseURL:      "https://api.kie.ai",
			PollInterval: 10 * time.Second,
			PollAttempts: 60,
		},
		FFmpegPath: "ffmpeg",
		Soundtracks: Soundtracks{
			Default: defaultSoundtrackURL,
			Styles:  defaultSoundtracks(),
		},
		Cache: Cache{
			TTL:      168 * time.Hour,
			MaxBytes: 1 << 30, // 1 GiB
			Schedule: "@hourly",
		},
		RateLimit: RateLimit{
			Enabled:      true,
			RequestLimit: 60,
			Window:       time.Minute,
		},
		Log: Log{Level: "info"},
		OTel: OTel{
			Exporter:     "noop",
			SamplingRate: 1.0,
		},
	}
}

const defaultSoundtrackURL = "https://cdn.pixabay.com/download/audio/2022/05/27/audio_1808fbf07a.mp3"

// defaultSoundtracks are royalty-free tracks matched to visual styles.
// The map is part of the hot-reloadable subset.
func defaultSoundtracks() map[string]string {
	return map[string]string{
		"cinematic_realism": "https://cdn.pixabay.com/download/audio/2022/03/24/audio_c8c8a73467.mp3",
		"documentary":       "https://cdn.pixabay.com/download/audio/2022/05/27/audio_1808fbf07a.mp3",
		"anime_style":       "https://cdn.pixabay.com/download/audio/2022/01/18/audio_d0a13f69d2.mp3",
	}
}

// SoundtrackFor resolves the soundtrack URL for a style key.
func (c Config) SoundtrackFor(style string) string {
	if url, ok := c.Soundtracks.Styles[style]; ok && url != "" {
		return url
	}
	return c.Soundtracks.Default
}
