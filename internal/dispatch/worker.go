// SPDX-License-Identifier: MIT

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/genscene/genscene/internal/credits"
	"github.com/genscene/genscene/internal/job"
	"github.com/genscene/genscene/internal/log"
	"github.com/genscene/genscene/internal/metrics"
	"github.com/genscene/genscene/internal/queue"
	"github.com/genscene/genscene/internal/store"
)

// maxErrorLen bounds the error text stored on a failed job. Status reads
// expose this text to clients.
const maxErrorLen = 500

// Run starts the worker pool and blocks until ctx is cancelled and every
// worker has returned. Jobs running at cancellation stop at their next
// suspension point and stay in state processing for startup recovery.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info().
		Str("event", "dispatch.start").
		Int("workers", m.cfg.Workers).
		Dur("job_timeout", m.cfg.JobTimeout).
		Msg("worker pool starting")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < m.cfg.Workers; i++ {
		worker := fmt.Sprintf("worker-%d", i)
		g.Go(func() error {
			m.runWorker(ctx, worker)
			return nil
		})
	}
	err := g.Wait()
	m.logger.Info().Str("event", "dispatch.stop").Msg("worker pool stopped")
	return err
}

func (m *Manager) runWorker(ctx context.Context, name string) {
	logger := m.logger.With().Str("worker", name).Logger()
	logger.Debug().Msg("worker started")

	for {
		id, ok, err := m.queue.Dequeue(ctx, m.cfg.PollInterval)
		switch {
		case err != nil:
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				logger.Debug().Msg("worker exiting")
				return
			}
			logger.Error().Err(err).Msg("queue pop failed")
			sleep(ctx, time.Second)
			continue
		case !ok:
			continue // poll timeout, re-check shutdown
		}

		m.publishQueueDepth(ctx)
		m.execute(ctx, name, id)

		if ctx.Err() != nil {
			return
		}
	}
}

// execute drives one popped job reference through its handler. Terminal
// bookkeeping runs on a non-cancellable context so done/error mirrors and
// refunds land even when the pool is shutting down.
func (m *Manager) execute(ctx context.Context, worker, id string) {
	bookCtx := log.ContextWithJobID(context.WithoutCancel(ctx), id)
	logger := m.logger.With().Str("worker", worker).Str("job_id", id).Logger()

	row, err := m.store.GetJob(bookCtx, id)
	if err != nil {
		logger.Error().Err(err).Msg("load job failed, reference dropped")
		return
	}
	if row == nil {
		logger.Warn().Msg("queued reference without a row, skipping")
		return
	}

	// The CAS decides the race with Cancel: losing means the job was
	// cancelled while queued, and the reference is simply dropped.
	if !m.registry.TryTransition(id, job.StateQueued, job.StateProcessing) {
		logger.Debug().Msg("job no longer queued, skipping")
		return
	}
	if err := m.store.UpsertJob(bookCtx, id, job.StateProcessing, 0, row.Type, row.Payload); err != nil {
		logger.Error().Err(err).Msg("pickup mirror failed")
	}

	metrics.IncWorkersBusy()
	defer metrics.DecWorkersBusy()

	logger.Info().
		Str("event", "job.pickup").
		Str("job_type", string(row.Type)).
		Msg("processing job")

	start := time.Now()
	handler, ok := m.handlers[row.Type]
	if !ok {
		m.markError(bookCtx, row, fmt.Errorf("unknown job type %q", row.Type))
		return
	}

	jobCtx, cancel := context.WithTimeout(log.ContextWithJobID(ctx, id), m.cfg.JobTimeout)
	err = m.invoke(jobCtx, handler, job.Job{ID: id, Type: row.Type, Payload: row.Payload})
	cancel()

	duration := time.Since(start)
	metrics.ObserveJobDuration(string(row.Type), duration)

	switch {
	case err == nil:
		m.markDone(bookCtx, row)
		logger.Info().
			Str("event", "job.done").
			Dur("duration", duration).
			Msg("job completed")
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		// Shutdown interrupted the handler. Not a failure: the job stays
		// processing and the next startup re-queues it without a refund.
		logger.Warn().
			Str("event", "job.interrupted").
			Msg("shutdown interrupted job, will recover at startup")
	default:
		m.markError(bookCtx, row, err)
		logger.Error().
			Str("event", "job.failed").
			Err(err).
			Dur("duration", duration).
			Msg("job failed")
	}
}

// invoke runs the handler, converting a panic into an error so one bad job
// never takes a worker down.
func (m *Manager) invoke(ctx context.Context, handler func(context.Context, job.Job) error, j job.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, j)
}

func (m *Manager) markDone(ctx context.Context, row *store.JobRecord) {
	m.registry.MarkDone(row.ID)
	if err := m.store.UpsertJob(ctx, row.ID, job.StateDone, 100, row.Type, row.Payload); err != nil {
		m.logger.Error().Err(err).Str("job_id", row.ID).Msg("done mirror failed")
	}
	m.completed.Add(1)
	metrics.IncJobCompleted(string(row.Type), "done")
}

func (m *Manager) markError(ctx context.Context, row *store.JobRecord, cause error) {
	msg := truncate(cause.Error(), maxErrorLen)
	m.registry.MarkError(row.ID, msg)

	// Error rows keep the last published progress.
	progress := row.Progress
	if rec, ok := m.registry.Get(row.ID); ok {
		progress = rec.Progress
	}
	if err := m.store.UpsertJob(ctx, row.ID, job.StateError, progress, row.Type, row.Payload); err != nil {
		m.logger.Error().Err(err).Str("job_id", row.ID).Msg("error mirror failed")
	}

	m.failed.Add(1)
	metrics.IncJobCompleted(string(row.Type), "error")

	if cost, user := row.Payload.CreditsCost(), row.Payload.UserID(); cost > 0 && user != "" {
		m.refund(ctx, user, cost,
			row.ID, fmt.Sprintf("Refund for failed job %s: %s", row.ID, truncate(msg, 50)))
	}
}

// refundAttempts and refundBackoff bound the in-process retry. A refund
// that exhausts them is closed by the startup reconciliation sweep.
const refundAttempts = 5

var refundBackoff = 250 * time.Millisecond

// refund credits the user back, retrying store errors with backoff. It is
// the only writer of refund transactions during normal operation.
func (m *Manager) refund(ctx context.Context, user string, amount int64, jobID, description string) {
	backoff := refundBackoff
	for attempt := 1; attempt <= refundAttempts; attempt++ {
		err := m.ledger.Credit(ctx, user, amount, credits.TxRefund, jobID, description)
		if err == nil {
			metrics.AddCreditsRefunded(amount)
			m.logger.Info().
				Str("event", "job.refunded").
				Str("job_id", jobID).
				Str("user", user).
				Int64("amount", amount).
				Msg("credits refunded")
			return
		}
		m.logger.Warn().
			Str("event", "dispatch.refund.retry").
			Err(err).
			Str("job_id", jobID).
			Int("attempt", attempt).
			Msg("refund attempt failed")
		if attempt == refundAttempts {
			break
		}
		sleep(ctx, backoff)
		backoff *= 2
	}
	metrics.IncRefundFailure()
	m.logger.Error().
		Str("event", "dispatch.refund.exhausted").
		Str("job_id", jobID).
		Int64("amount", amount).
		Msg("refund retries exhausted, reconciliation sweep will close it")
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
