// SPDX-License-Identifier: MIT

package dispatch

import (
	"context"
	"fmt"

	"github.com/genscene/genscene/internal/credits"
	"github.com/genscene/genscene/internal/job"
	"github.com/genscene/genscene/internal/metrics"
)

// Recover re-queues every job the store reports as unfinished, in original
// submission order. Credits are not touched: the original debit stands.
// Recovery is idempotent: a job already installed is re-installed as
// queued, and a duplicate queue reference loses the pickup CAS and is
// dropped.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	rows, err := m.store.RecoverUnfinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover unfinished: %w", err)
	}

	recovered := 0
	for _, row := range rows {
		m.registry.Install(row.ID, row.Type, job.StateQueued, row.Progress)
		if err := m.store.UpsertJob(ctx, row.ID, job.StateQueued, row.Progress, row.Type, row.Payload); err != nil {
			m.logger.Error().Err(err).Str("job_id", row.ID).Msg("recovery mirror failed")
		}
		if err := m.queue.Enqueue(ctx, row.ID); err != nil {
			// Leave the row queued; the next restart picks it up again.
			m.logger.Error().Err(err).Str("job_id", row.ID).Msg("recovery enqueue failed")
			continue
		}
		recovered++
		m.logger.Info().
			Str("event", "job.recovered").
			Str("job_id", row.ID).
			Str("job_type", string(row.Type)).
			Int("progress", row.Progress).
			Msg("unfinished job re-queued")
	}

	if recovered > 0 {
		m.publishQueueDepth(ctx)
	}
	return recovered, nil
}

// Reconcile closes refund gaps left by a crash between marking a job failed
// and crediting the user: every terminal error/cancelled job that cost
// credits gets its refund if the ledger has none for it. Runs before the
// workers start.
func (m *Manager) Reconcile(ctx context.Context) (int, error) {
	rows, err := m.store.ListTerminalFailures(ctx)
	if err != nil {
		return 0, fmt.Errorf("list terminal failures: %w", err)
	}

	issued := 0
	for _, row := range rows {
		cost, user := row.Payload.CreditsCost(), row.Payload.UserID()
		if cost <= 0 || user == "" {
			continue
		}

		has, err := m.ledger.HasRefund(ctx, row.ID)
		if err != nil {
			return issued, fmt.Errorf("refund lookup %s: %w", row.ID, err)
		}
		if has {
			continue
		}

		desc := fmt.Sprintf("Reconciled refund for job %s", row.ID)
		if err := m.ledger.Credit(ctx, user, cost, credits.TxRefund, row.ID, desc); err != nil {
			return issued, fmt.Errorf("reconcile refund %s: %w", row.ID, err)
		}
		metrics.AddCreditsRefunded(cost)
		issued++
		m.logger.Warn().
			Str("event", "dispatch.reconciled").
			Str("job_id", row.ID).
			Str("user", user).
			Int64("amount", cost).
			Msg("missing refund issued")
	}
	return issued, nil
}
