package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/roach88/scribe/internal/config"
	"github.com/roach88/scribe/internal/engine"
	"github.com/roach88/scribe/internal/store"
)

// jobView is the wire shape of a job. Absent timestamps are omitted rather
// than rendered as zero values.
type jobView struct {
	JobID           string            `json:"job_id"`
	RunID           string            `json:"run_id,omitempty"`
	State           string            `json:"state"`
	CreatedAt       string            `json:"created_at"`
	QueuedAt        string            `json:"queued_at,omitempty"`
	StartedAt       string            `json:"started_at,omitempty"`
	CompletedAt     string            `json:"completed_at,omitempty"`
	Config          json.RawMessage   `json:"config"`
	ConfigHash      string            `json:"config_hash"`
	WorkspacePath   string            `json:"workspace_path,omitempty"`
	ProgressPercent int64             `json:"progress_percent"`
	ProgressPhase   string            `json:"progress_phase,omitempty"`
	ItemsCompleted  int64             `json:"items_completed"`
	ItemsTotal      int64             `json:"items_total"`
	ErrorCode       string            `json:"error_code,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	ReceiptHash     string            `json:"receipt_hash,omitempty"`
	CancelRequested bool              `json:"cancel_requested,omitempty"`
}

func viewOf(job store.Job) jobView {
	v := jobView{
		JobID:           job.JobID,
		RunID:           job.RunID,
		State:           string(job.State),
		CreatedAt:       job.CreatedAt.UTC().Format(time.RFC3339Nano),
		Config:          json.RawMessage(job.ConfigJSON),
		ConfigHash:      job.ConfigHash,
		WorkspacePath:   job.WorkspacePath,
		ProgressPercent: job.ProgressPercent,
		ProgressPhase:   job.ProgressPhase,
		ItemsCompleted:  job.ItemsCompleted,
		ItemsTotal:      job.ItemsTotal,
		ErrorCode:       job.ErrorCode,
		ErrorMessage:    job.ErrorMessage,
		ReceiptHash:     job.ReceiptHash,
		CancelRequested: job.CancelRequested,
	}
	if !job.QueuedAt.IsZero() {
		v.QueuedAt = job.QueuedAt.UTC().Format(time.RFC3339Nano)
	}
	if !job.StartedAt.IsZero() {
		v.StartedAt = job.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if !job.CompletedAt.IsZero() {
		v.CompletedAt = job.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type createJobRequest struct {
	Config         config.JobConfig `json:"config"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
}

// handleCreateJob serves POST /v1/jobs. The Idempotency-Key header takes
// precedence over the body field. A replayed key returns the existing job
// with 200 instead of 201.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, r, "", "request body is not valid JSON: "+err.Error())
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	job, created, err := s.manager.Create(r.Context(), req.Config, req.IdempotencyKey)
	if err != nil {
		if engine.CodeOf(err) == engine.ErrCodeValidation {
			writeBadRequest(w, r, string(engine.ErrCodeValidation), err.Error())
			return
		}
		s.writeInternal(w, r, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, viewOf(job))
}

// handleListJobs serves GET /v1/jobs. Filters: state, id_prefix,
// created_after/created_before (RFC 3339), limit.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var filter store.JobFilter
	if raw := r.URL.Query().Get("state"); raw != "" {
		switch state := store.JobState(raw); state {
		case store.StateQueued, store.StateRunning, store.StateCompleted,
			store.StateFailed, store.StateCancelled:
			filter.States = []store.JobState{state}
		default:
			writeBadRequest(w, r, "", "unknown state "+raw)
			return
		}
	}
	filter.IDPrefix = r.URL.Query().Get("id_prefix")
	if raw := r.URL.Query().Get("created_after"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, r, "", "invalid created_after "+raw)
			return
		}
		filter.CreatedAfter = parsed
	}
	if raw := r.URL.Query().Get("created_before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, r, "", "invalid created_before "+raw)
			return
		}
		filter.CreatedBefore = parsed
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeBadRequest(w, r, "", "invalid limit "+raw)
			return
		}
		filter.Limit = parsed
	}

	jobs, err := s.manager.List(r.Context(), filter)
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}

	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, viewOf(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

// handleGetJob serves GET /v1/jobs/{id}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.manager.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeNotFound(w, r, "no such job")
		return
	}
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(job))
}

// handleGetReceipt serves GET /v1/jobs/{id}/receipt. The receipt exists only
// once the job is terminal; until then this is a 404.
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	job, err := s.manager.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeNotFound(w, r, "no such job")
		return
	}
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}
	if job.ReceiptPath == "" {
		writeNotFound(w, r, "receipt not yet generated")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Receipt-Hash", job.ReceiptHash)
	http.ServeFile(w, r, job.ReceiptPath)
}

// handleCancelJob serves POST /v1/jobs/{id}/cancel. Cancelling a terminal
// job is a no-op that returns the job as-is.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.manager.Cancel(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeNotFound(w, r, "no such job")
		return
	}
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(job))
}

// handleStatus serves GET /v1/engine/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.heartbeat.Snapshot(r.Context(), s.safeMode)
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
