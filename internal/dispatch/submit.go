// SPDX-License-Identifier: MIT

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/genscene/genscene/internal/job"
	"github.com/genscene/genscene/internal/metrics"
	"github.com/genscene/genscene/internal/queue"
)

// defaultUser absorbs submissions that carry no user identity. Kept until
// per-user auth lands; the ledger treats it like any other account.
const defaultUser = "default_user"

const (
	minIdeaLen = 5
	maxIdeaLen = 500
)

// Submission is one job request from the API layer. Request is the opaque
// client document; it is persisted verbatim inside the payload.
type Submission struct {
	Type    job.Type
	UserID  string
	Request map[string]any
}

// Receipt reports what Submit created. The sibling ids are set only for
// full-universe jobs.
type Receipt struct {
	JobID       string
	EpisodeID   string
	SeriesID    string
	CharacterID string
	CreditsCost int64
}

// Submit validates the request, debits credits when the job costs any,
// persists the job in state queued, installs it in the registry, and pushes
// it onto the queue, strictly in that order. A failed debit leaves no
// trace; a failure later in the chain rolls back, refunding the debit.
func (m *Manager) Submit(ctx context.Context, sub Submission) (Receipt, error) {
	if _, ok := m.handlers[sub.Type]; !ok {
		return Receipt{}, validationErr("unknown job type %q", sub.Type)
	}
	request := sub.Request
	if request == nil {
		request = map[string]any{}
	}

	if err := m.validateRequest(sub.Type, request); err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{JobID: job.NewID(sub.Type)}
	if sub.Type == job.TypeFullUniverse {
		receipt.EpisodeID = siblingFor(request, "episode_id", "ep")
		receipt.SeriesID = siblingFor(request, "series_id", "sr")
		receipt.CharacterID = siblingFor(request, "character_id", "ch")
	}

	user := sub.UserID
	if user == "" {
		user = defaultUser
	}

	payload := job.Payload{"request": request}
	payload.SetUserID(user)

	cost := m.jobCost(sub.Type, request)
	if cost > 0 {
		payload.SetCreditsCost(cost)
		desc := fmt.Sprintf("Job %s: %s", sub.Type, truncate(ideaText(request), 40))
		if err := m.ledger.Debit(ctx, user, cost, receipt.JobID, desc); err != nil {
			return Receipt{}, err
		}
		metrics.AddCreditsDebited(cost)
	}
	receipt.CreditsCost = cost

	// After a successful debit every failure must compensate, or the user
	// has paid for a job that does not exist.
	if err := m.store.UpsertJob(ctx, receipt.JobID, job.StateQueued, 0, sub.Type, payload); err != nil {
		m.compensate(ctx, user, cost, receipt.JobID, "submission persist failed")
		return Receipt{}, fmt.Errorf("persist job: %w", err)
	}

	m.registry.Install(receipt.JobID, sub.Type, job.StateQueued, 0)

	if err := m.queue.Enqueue(ctx, receipt.JobID); err != nil {
		m.registry.Remove(receipt.JobID)
		if _, delErr := m.store.DeleteJob(ctx, receipt.JobID); delErr != nil {
			m.logger.Error().Err(delErr).Str("job_id", receipt.JobID).Msg("rollback delete failed")
		}
		m.compensate(ctx, user, cost, receipt.JobID, "queue rejected job")
		if errors.Is(err, queue.ErrFull) {
			return Receipt{}, fmt.Errorf("enqueue: %w", err)
		}
		return Receipt{}, fmt.Errorf("enqueue job: %w", err)
	}

	m.total.Add(1)
	metrics.IncJobSubmitted(string(sub.Type))
	m.publishQueueDepth(ctx)

	m.logger.Info().
		Str("event", "job.submitted").
		Str("job_id", receipt.JobID).
		Str("job_type", string(sub.Type)).
		Str("user", user).
		Int64("credits_cost", cost).
		Msg("job queued")
	return receipt, nil
}

// Cancel stops a job that has not been picked up yet. The compare-and-swap
// against the registry decides the race with worker pickup: exactly one of
// the two wins. A cancelled job is refunded here; the worker skip path never
// refunds, so the refund stays single.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	row, err := m.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if row == nil {
		return ErrNotFound
	}

	if !m.registry.TryTransition(id, job.StateQueued, job.StateCancelled) {
		return ErrNotCancellable
	}

	if err := m.store.UpsertJob(ctx, id, job.StateCancelled, row.Progress, row.Type, row.Payload); err != nil {
		m.logger.Error().Err(err).Str("job_id", id).Msg("cancel mirror failed")
	}

	if cost, user := row.Payload.CreditsCost(), row.Payload.UserID(); cost > 0 && user != "" {
		m.refund(ctx, user, cost, id, "Refund for cancelled job "+id)
	}

	m.cancelled.Add(1)
	metrics.IncJobCompleted(string(row.Type), "cancelled")
	m.logger.Info().Str("event", "job.cancelled").Str("job_id", id).Msg("job cancelled")
	return nil
}

// validateRequest applies the per-type input rules. Compose and tts accept
// any document.
func (m *Manager) validateRequest(typ job.Type, request map[string]any) error {
	switch typ {
	case job.TypeQuickCreate, job.TypeFullUniverse:
		idea := ideaText(request)
		if n := utf8.RuneCountInString(idea); n < minIdeaLen || n > maxIdeaLen {
			return validationErr("idea_text must be %d-%d characters, got %d", minIdeaLen, maxIdeaLen, n)
		}
		if override, _ := request["video_model"].(string); override != "" && !m.models.Known(override) {
			return validationErr("invalid model id %q", override)
		}
	}
	return nil
}

// jobCost prices a submission. Only full-universe jobs cost credits: the
// chosen model's 5-second rate times the billed duration blocks.
func (m *Manager) jobCost(typ job.Type, request map[string]any) int64 {
	if typ != job.TypeFullUniverse {
		return 0
	}
	style, _ := request["style_key"].(string)
	override, _ := request["video_model"].(string)
	model := m.models.Resolve(style, override)

	duration := intField(request, "video_duration", 5)
	cost, _ := model.Estimate(duration)
	return cost
}

// siblingFor returns the request's existing id for key, or mints one with
// the prefix and writes it back so the payload carries it.
func siblingFor(request map[string]any, key, prefix string) string {
	if id, _ := request[key].(string); id != "" {
		return id
	}
	id := job.SiblingID(prefix)
	request[key] = id
	return id
}

// compensate refunds a debit after a post-debit submission failure.
func (m *Manager) compensate(ctx context.Context, user string, cost int64, jobID, reason string) {
	if cost <= 0 {
		return
	}
	m.logger.Warn().Str("job_id", jobID).Str("reason", reason).Msg("compensating submission debit")
	m.refund(ctx, user, cost, jobID, "Refund for rejected job "+jobID)
}

func (m *Manager) publishQueueDepth(ctx context.Context) {
	if depth, err := m.queue.Len(ctx); err == nil {
		metrics.SetQueueDepth(depth)
	}
}

func ideaText(request map[string]any) string {
	s, _ := request["idea_text"].(string)
	return s
}

// intField reads a numeric request field that may arrive as float64 (JSON),
// int, or be absent.
func intField(request map[string]any, key string, fallback int) int {
	switch v := request[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return fallback
}

// truncate shortens s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
