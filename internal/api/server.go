// SPDX-License-Identifier: MIT

// Package api exposes the HTTP surface of the daemon: job submission,
// status and listing, the model catalog, the credits ledger, operational
// endpoints, and a hardened static file server for generated media.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/genscene/genscene/internal/api/middleware"
	"github.com/genscene/genscene/internal/config"
	"github.com/genscene/genscene/internal/credits"
	"github.com/genscene/genscene/internal/dispatch"
	"github.com/genscene/genscene/internal/health"
	"github.com/genscene/genscene/internal/log"
	"github.com/genscene/genscene/internal/models"
	"github.com/genscene/genscene/internal/registry"
	"github.com/genscene/genscene/internal/store"
)

// Deps carries everything the HTTP surface serves from. All fields except
// Reload are required.
type Deps struct {
	// Settings returns the current configuration snapshot; reads go through
	// it so hot-reloadable values apply without a restart.
	Settings func() config.Config
	Dispatch *dispatch.Manager
	Store    *store.Store
	Registry *registry.Registry
	Ledger   *credits.Ledger
	Models   *models.Registry
	Health   *health.Manager
	// Reload triggers a manual config reload; nil disables the endpoint.
	Reload func(context.Context) error
}

func (d Deps) validate() error {
	switch {
	case d.Settings == nil:
		return errors.New("api: Settings is required")
	case d.Dispatch == nil:
		return errors.New("api: Dispatch is required")
	case d.Store == nil:
		return errors.New("api: Store is required")
	case d.Registry == nil:
		return errors.New("api: Registry is required")
	case d.Ledger == nil:
		return errors.New("api: Ledger is required")
	case d.Models == nil:
		return errors.New("api: Models is required")
	case d.Health == nil:
		return errors.New("api: Health is required")
	}
	return nil
}

// Server implements the HTTP surface.
type Server struct {
	settings func() config.Config
	dispatch *dispatch.Manager
	store    *store.Store
	registry *registry.Registry
	ledger   *credits.Ledger
	models   *models.Registry
	health   *health.Manager
	reload   func(context.Context) error
	logger   zerolog.Logger
}

// New builds the server. The returned value is immutable; construct a new
// one to change startup-only settings.
func New(d Deps) (*Server, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &Server{
		settings: d.Settings,
		dispatch: d.Dispatch,
		store:    d.Store,
		registry: d.Registry,
		ledger:   d.Ledger,
		models:   d.Models,
		health:   d.Health,
		reload:   d.Reload,
		logger:   log.WithComponent("api"),
	}, nil
}

// Handler assembles the router with the full middleware stack. Rate limits
// apply only to mutating routes; health probes and file serving stay open.
func (s *Server) Handler() http.Handler {
	cfg := s.settings()

	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		TracingService: "genscene-api",
		EnableLogging:  true,
	})

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleJobStatus)
		r.Get("/jobs/{id}/renders", s.handleJobRenders)
		r.Get("/models", s.handleListModels)
		r.Get("/models/estimate", s.handleModelEstimate)
		r.Get("/credits/{user}", s.handleCreditBalance)
		r.Get("/credits/{user}/history", s.handleCreditHistory)
		r.Get("/stats", s.handleStats)
		r.Get("/version", s.handleVersion)

		r.Group(func(r chi.Router) {
			if rl := cfg.RateLimit; rl.Enabled {
				r.Use(middleware.RateLimit(middleware.RateLimitConfig{
					RequestLimit: rl.RequestLimit,
					WindowSize:   rl.Window,
				}))
			}
			r.Post("/quick-create", s.handleQuickCreate)
			r.Post("/quick-create/full-universe", s.handleFullUniverse)
			r.Post("/compose", s.handleCompose)
			r.Post("/tts", s.handleTTS)
			r.Post("/jobs/{id}/cancel", s.handleCancelJob)
			r.Delete("/jobs/{id}", s.handleDeleteJob)
			r.Post("/credits/{user}/topup", s.handleCreditTopup)
			r.Post("/reload", s.handleReload)
		})
	})

	r.Handle("/files/*", http.StripPrefix("/files/", s.secureFileServer()))

	return r
}
