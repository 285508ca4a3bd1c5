// SPDX-License-Identifier: MIT

// Package middleware provides the canonical HTTP ingress middleware stack
// for the API server: panic recovery, request correlation, CORS, security
// headers, Prometheus metrics, OpenTelemetry tracing, access logging, and
// per-IP rate limiting.
package middleware

import (
	"github.com/go-chi/chi/v5"
)

// StackConfig configures the ingress middleware stack.
type StackConfig struct {
	// CORS
	AllowedOrigins []string

	// Security headers; empty selects DefaultCSP.
	CSP string

	// Observability
	EnableMetrics  bool
	TracingService string // empty disables tracing
	EnableLogging  bool
}

// NewRouter constructs a chi router with the canonical middleware stack
// applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack applies the stack to r in a fixed order: recovery outermost so
// it wraps everything, correlation id early so every later stage sees it.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer)
	r.Use(RequestID)
	r.Use(CORS(cfg.AllowedOrigins))
	r.Use(SecurityHeaders(cfg.CSP))
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	if cfg.TracingService != "" {
		r.Use(Tracing(cfg.TracingService))
	}
	if cfg.EnableLogging {
		r.Use(AccessLog())
	}
}
