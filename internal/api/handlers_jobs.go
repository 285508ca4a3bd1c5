// SPDX-License-Identifier: MIT

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/genscene/genscene/internal/job"
	"github.com/genscene/genscene/internal/log"
	"github.com/genscene/genscene/internal/store"
)

// jobStatusResponse is the client view of one job. Metadata carries the
// handler-published fields (current phase, output url, sibling ids) and is
// only available while the job is live in the registry.
type jobStatusResponse struct {
	JobID        string         `json:"job_id"`
	Type         string         `json:"type,omitempty"`
	Status       string         `json:"status"`
	Progress     int            `json:"progress"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Message      string         `json:"message,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// statusMessage renders the human-readable progress phrase clients display
// verbatim.
func statusMessage(state job.State, progress int) string {
	switch state.External() {
	case job.StateQueued:
		return "Job is queued for processing"
	case job.StateProcessing:
		return fmt.Sprintf("Job is in progress (%d%% complete)", progress)
	case job.StateDone:
		return "Job completed successfully"
	case job.StateError:
		return "Job failed during processing"
	case job.StateCancelled:
		return "Job was cancelled"
	}
	return ""
}

// handleJobStatus serves GET /api/v1/jobs/{id}. The registry answers for
// live jobs; terminal jobs evicted from the registry fall back to the store,
// which lacks the transient metadata but keeps state and progress.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if rec, ok := s.registry.Get(id); ok {
		resp := jobStatusResponse{
			JobID:        rec.ID,
			Type:         string(rec.Type),
			Status:       string(rec.State.External()),
			Progress:     rec.Progress,
			CreatedAt:    rec.CreatedAt,
			Message:      statusMessage(rec.State, rec.Progress),
			ErrorMessage: rec.Error,
		}
		if !rec.StartedAt.IsZero() {
			resp.StartedAt = &rec.StartedAt
		}
		if !rec.CompletedAt.IsZero() {
			resp.CompletedAt = &rec.CompletedAt
		}
		if len(rec.Meta) > 0 {
			resp.Metadata = rec.Meta
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	row, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if row == nil {
		writeError(w, http.StatusNotFound, "not_found", "job "+id+" not found")
		return
	}
	writeJSON(w, http.StatusOK, jobStatusResponse{
		JobID:     row.ID,
		Type:      string(row.Type),
		Status:    string(row.State.External()),
		Progress:  row.Progress,
		CreatedAt: row.CreatedAt,
		Message:   statusMessage(row.State, row.Progress),
	})
}

// jobSummary is the compact listing form.
type jobSummary struct {
	JobID     string    `json:"job_id"`
	Type      string    `json:"type,omitempty"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
}

// handleListJobs serves GET /api/v1/jobs?limit=&state=, newest first.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.JobFilter{Limit: store.DefaultListLimit}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	if raw := r.URL.Query().Get("state"); raw != "" {
		state := job.State(raw)
		switch state {
		case job.StateQueued, job.StateProcessing, job.StateError, job.StateCancelled:
			filter.States = []job.State{state}
		case job.StateDone:
			// Legacy rows may still carry the completed alias.
			filter.States = []job.State{job.StateDone, job.StateCompleted}
		default:
			writeError(w, http.StatusBadRequest, "invalid_request", "unknown state "+raw)
			return
		}
	}

	rows, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}

	jobs := make([]jobSummary, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, jobSummary{
			JobID:     row.ID,
			Type:      string(row.Type),
			Status:    string(row.State.External()),
			Progress:  row.Progress,
			CreatedAt: row.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// renderItem is the client view of one produced artifact.
type renderItem struct {
	ItemID  string `json:"item_id"`
	Hash    string `json:"hash,omitempty"`
	Quality string `json:"quality"`
	URL     string `json:"url,omitempty"`
	Status  string `json:"status"`
}

// handleJobRenders serves GET /api/v1/jobs/{id}/renders.
func (s *Server) handleJobRenders(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	row, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if row == nil {
		writeError(w, http.StatusNotFound, "not_found", "job "+id+" not found")
		return
	}

	renders, err := s.store.ListRenders(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	items := make([]renderItem, 0, len(renders))
	for _, rn := range renders {
		items = append(items, renderItem{
			ItemID:  rn.ItemID,
			Hash:    rn.Hash,
			Quality: rn.Quality,
			URL:     rn.URL,
			Status:  string(rn.Status),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "renders": items})
}

// handleDeleteJob serves DELETE /api/v1/jobs/{id}. Render rows cascade in
// the same store transaction; the live record is dropped so status polling
// stops resolving immediately.
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := s.store.DeleteJob(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not_found", "job "+id+" not found")
		return
	}
	s.registry.Remove(id)

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str("event", "job.deleted").
		Str("job_id", id).
		Msg("job deleted")

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"job_id":  id,
		"message": fmt.Sprintf("Job %s deleted successfully", id),
	})
}

// handleCancelJob serves POST /api/v1/jobs/{id}/cancel. Only queued jobs
// cancel; the dispatcher refunds any debit as part of the transition.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.dispatch.Cancel(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"job_id":  id,
		"status":  string(job.StateCancelled),
	})
}
