// SPDX-License-Identifier: MIT

package api

import (
	"fmt"
	"net/http"

	"github.com/genscene/genscene/internal/dispatch"
	"github.com/genscene/genscene/internal/job"
)

// durationTargets maps the coarse frontend duration picker onto target
// seconds. Unknown values fall back to 30, matching historic behavior.
var durationTargets = map[string]int{
	"30s":  30,
	"45s":  45,
	"2min": 120,
	"3min": 180,
}

func durationTarget(d string) int {
	if sec, ok := durationTargets[d]; ok {
		return sec
	}
	return 30
}

// submitResponse is returned by all four submission endpoints; the sibling
// ids are only populated for full-universe jobs.
type submitResponse struct {
	JobID            string `json:"job_id"`
	EpisodeID        string `json:"episode_id,omitempty"`
	SeriesID         string `json:"series_id,omitempty"`
	CharacterID      string `json:"character_id,omitempty"`
	Status           string `json:"status"`
	EstimatedTimeSec int    `json:"estimated_time_sec,omitempty"`
	Message          string `json:"message,omitempty"`
}

func (s *Server) handleQuickCreate(w http.ResponseWriter, r *http.Request) {
	s.submitGeneration(w, r, job.TypeQuickCreate)
}

func (s *Server) handleFullUniverse(w http.ResponseWriter, r *http.Request) {
	s.submitGeneration(w, r, job.TypeFullUniverse)
}

// submitGeneration handles the two idea-to-video endpoints. The request
// document is passed through opaquely; the dispatcher validates the typed
// essentials and prices the job.
func (s *Server) submitGeneration(w http.ResponseWriter, r *http.Request, typ job.Type) {
	var req map[string]any
	if !decodeBody(w, r, &req) {
		return
	}

	receipt, err := s.dispatch.Submit(r.Context(), dispatch.Submission{
		Type:    typ,
		UserID:  stringField(req, "user_id"),
		Request: req,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	est := durationTarget(stringField(req, "duration")) * 2
	resp := submitResponse{
		JobID:            receipt.JobID,
		Status:           "queued",
		EstimatedTimeSec: est,
	}
	if typ == job.TypeFullUniverse {
		resp.EpisodeID = receipt.EpisodeID
		resp.SeriesID = receipt.SeriesID
		resp.CharacterID = receipt.CharacterID
		resp.Message = fmt.Sprintf("Successfully queued full universe creation job. Estimated processing time: %ds", est)
	} else {
		resp.Message = fmt.Sprintf("Successfully queued quick create job. Estimated processing time: %ds", est)
	}

	writeJSON(w, http.StatusAccepted, resp)
}

// handleCompose accepts an opaque compose spec and queues it.
func (s *Server) handleCompose(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if !decodeBody(w, r, &req) {
		return
	}

	receipt, err := s.dispatch.Submit(r.Context(), dispatch.Submission{
		Type:    job.TypeCompose,
		UserID:  stringField(req, "user_id"),
		Request: req,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{JobID: receipt.JobID, Status: "queued"})
}

// handleTTS queues a text-to-speech job.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if !decodeBody(w, r, &req) {
		return
	}
	if stringField(req, "text") == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	receipt, err := s.dispatch.Submit(r.Context(), dispatch.Submission{
		Type:    job.TypeTTS,
		UserID:  stringField(req, "user_id"),
		Request: req,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{JobID: receipt.JobID, Status: "queued"})
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
