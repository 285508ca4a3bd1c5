// SPDX-License-Identifier: MIT

package daemon

import "time"

const (
	defaultReadTimeout     = 60 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultMaxHeaderBytes  = 1 << 20 // 1 MB
	defaultShutdownTimeout = 15 * time.Second
	minShutdownTimeout     = 3 * time.Second
)

// ServerConfig tunes the daemon's HTTP listeners.
type ServerConfig struct {
	// ListenAddr is the API server bind address (e.g. ":8080").
	ListenAddr string

	// MetricsAddr is the bind address for the dedicated Prometheus
	// listener. Empty keeps the metrics server disabled.
	MetricsAddr string

	ReadTimeout time.Duration

	// WriteTimeout of 0 means no timeout. Render downloads can run for
	// minutes on slow links, so the default stays 0.
	WriteTimeout time.Duration

	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration
}

// withDefaults fills unset fields with production defaults.
func (sc ServerConfig) withDefaults() ServerConfig {
	if sc.ReadTimeout <= 0 {
		sc.ReadTimeout = defaultReadTimeout
	}
	if sc.WriteTimeout < 0 {
		sc.WriteTimeout = 0
	}
	if sc.IdleTimeout <= 0 {
		sc.IdleTimeout = defaultIdleTimeout
	}
	if sc.MaxHeaderBytes <= 0 {
		sc.MaxHeaderBytes = defaultMaxHeaderBytes
	}
	if sc.ShutdownTimeout <= 0 {
		sc.ShutdownTimeout = defaultShutdownTimeout
	} else if sc.ShutdownTimeout < minShutdownTimeout {
		sc.ShutdownTimeout = minShutdownTimeout
	}
	return sc
}
