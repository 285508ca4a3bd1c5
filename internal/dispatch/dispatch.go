// SPDX-License-Identifier: MIT

// Package dispatch runs the job orchestration core: the submission path
// (validate, debit, persist, register, enqueue), the bounded worker pool
// consuming the queue, cancellation, and the startup recovery and ledger
// reconciliation sweeps. It owns the single refund path: a job that costs
// credits is refunded exactly once when it ends in error or is cancelled.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/genscene/genscene/internal/credits"
	"github.com/genscene/genscene/internal/job"
	"github.com/genscene/genscene/internal/log"
	"github.com/genscene/genscene/internal/models"
	"github.com/genscene/genscene/internal/pipeline"
	"github.com/genscene/genscene/internal/queue"
	"github.com/genscene/genscene/internal/registry"
	"github.com/genscene/genscene/internal/store"
)

var (
	// ErrValidation wraps every submission input problem. The API maps it
	// to 400 with the wrapped detail.
	ErrValidation = errors.New("invalid request")

	// ErrNotFound reports an unknown job id.
	ErrNotFound = errors.New("job not found")

	// ErrNotCancellable reports a cancel attempt on a job that already left
	// the queued state.
	ErrNotCancellable = errors.New("job not cancellable")
)

// Config sizes the worker pool.
type Config struct {
	// Workers is the pool size. Default 4.
	Workers int
	// PollInterval bounds how long an idle worker blocks on the queue
	// before rechecking shutdown. Default 1s.
	PollInterval time.Duration
	// JobTimeout bounds one handler invocation. Default 300s.
	JobTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 300 * time.Second
	}
}

// Deps are the collaborators the manager drives. All fields are required.
type Deps struct {
	Store    *store.Store
	Registry *registry.Registry
	Ledger   *credits.Ledger
	Queue    queue.Queue
	Models   *models.Registry
	Handlers map[job.Type]pipeline.Handler
}

func (d Deps) validate() error {
	switch {
	case d.Store == nil:
		return errors.New("dispatch: store is required")
	case d.Registry == nil:
		return errors.New("dispatch: registry is required")
	case d.Ledger == nil:
		return errors.New("dispatch: ledger is required")
	case d.Queue == nil:
		return errors.New("dispatch: queue is required")
	case d.Models == nil:
		return errors.New("dispatch: model registry is required")
	case len(d.Handlers) == 0:
		return errors.New("dispatch: handler map is required")
	}
	return nil
}

// Manager coordinates submissions, workers, and refunds.
type Manager struct {
	cfg      Config
	store    *store.Store
	registry *registry.Registry
	ledger   *credits.Ledger
	queue    queue.Queue
	models   *models.Registry
	handlers map[job.Type]pipeline.Handler
	logger   zerolog.Logger

	started time.Time

	total     atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
}

// New validates the dependencies and builds a manager. Workers start when
// Run is called.
func New(cfg Config, d Deps) (*Manager, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &Manager{
		cfg:      cfg,
		store:    d.Store,
		registry: d.Registry,
		ledger:   d.Ledger,
		queue:    d.Queue,
		models:   d.Models,
		handlers: d.Handlers,
		logger:   log.WithComponent("dispatch"),
		started:  time.Now(),
	}, nil
}

// Stats is the operational snapshot served by the stats endpoint.
type Stats struct {
	TotalJobs     int64 `json:"total_jobs"`
	CompletedJobs int64 `json:"completed_jobs"`
	FailedJobs    int64 `json:"failed_jobs"`
	CancelledJobs int64 `json:"cancelled_jobs"`
	QueueDepth    int   `json:"queue_depth"`
	Workers       int   `json:"workers"`
	LiveRecords   int   `json:"live_records"`
	UptimeSec     int64 `json:"uptime_sec"`
}

// Stats reports the counters since process start. Queue depth is read live
// and degrades to zero if the backend is unreachable.
func (m *Manager) Stats(ctx context.Context) Stats {
	depth, err := m.queue.Len(ctx)
	if err != nil {
		depth = 0
	}
	return Stats{
		TotalJobs:     m.total.Load(),
		CompletedJobs: m.completed.Load(),
		FailedJobs:    m.failed.Load(),
		CancelledJobs: m.cancelled.Load(),
		QueueDepth:    depth,
		Workers:       m.cfg.Workers,
		LiveRecords:   m.registry.Len(),
		UptimeSec:     int64(time.Since(m.started).Seconds()),
	}
}

// validationErr builds an ErrValidation-wrapped error with detail.
func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
