package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/scribe/internal/config"
	"github.com/roach88/scribe/internal/event"
	"github.com/roach88/scribe/internal/metrics"
	"github.com/roach88/scribe/internal/store"
)

// JobManager owns the job state machine. Every transition goes through one
// of its methods, which pairs the store update with exactly one
// job.state_changed event.
type JobManager struct {
	store   *store.Store
	emitter *Emitter
	logger  *slog.Logger
	collect *metrics.Collector
	ids     IDGenerator

	workspaceBase string
	safeMode      bool

	// Serializes multi-step transitions (check state, write receipt,
	// CAS transition, emit). The store CAS is the backstop; the mutex
	// keeps receipt writes race-free.
	mu sync.Mutex
}

// NewJobManager wires a JobManager.
func NewJobManager(st *store.Store, em *Emitter, logger *slog.Logger, collect *metrics.Collector, ids IDGenerator, workspaceBase string, safeMode bool) *JobManager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if ids == nil {
		ids = UUIDGenerator{}
	}
	return &JobManager{
		store:         st,
		emitter:       em,
		logger:        logger,
		collect:       collect,
		ids:           ids,
		workspaceBase: workspaceBase,
		safeMode:      safeMode,
	}
}

// SafeMode reports whether job execution is disabled.
func (m *JobManager) SafeMode() bool { return m.safeMode }

// Create validates the config and creates a job in the queued state.
// Creation and queueing are one atomic step; there is no draft state.
//
// When an idempotency key is given and a job already used it, the existing
// job is returned with created=false and nothing is emitted.
func (m *JobManager) Create(ctx context.Context, cfg config.JobConfig, idempotencyKey string) (job store.Job, created bool, err error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return store.Job{}, false, fmt.Errorf("%w: %w",
			NewJobError(ErrCodeValidation, "", "config rejected"), err)
	}

	if idempotencyKey != "" {
		existing, err := m.store.GetJobByIdempotencyKey(ctx, idempotencyKey)
		if err == nil {
			return existing, false, nil
		}
	}

	jobID := m.ids.JobID()

	workspace := filepath.Join(m.workspaceBase, jobID)
	for _, sub := range []string{"input", "output", "temp", "quarantine"} {
		if err := os.MkdirAll(filepath.Join(workspace, sub), 0o755); err != nil {
			return store.Job{}, false, fmt.Errorf("create workspace: %w", err)
		}
	}

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return store.Job{}, false, fmt.Errorf("marshal config: %w", err)
	}
	configHash, err := event.HashConfig(cfg.CanonicalMap())
	if err != nil {
		return store.Job{}, false, fmt.Errorf("hash config: %w", err)
	}

	job, err = m.store.CreateJob(ctx, store.NewJob{
		JobID:          jobID,
		RunID:          m.ids.RunID(),
		ConfigJSON:     string(configJSON),
		ConfigHash:     configHash,
		WorkspacePath:  workspace,
		OutputDir:      filepath.Join(workspace, "output"),
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		// Lost a race on the key: return the winner.
		if idempotencyKey != "" {
			if existing, lookupErr := m.store.GetJobByIdempotencyKey(ctx, idempotencyKey); lookupErr == nil {
				return existing, false, nil
			}
		}
		return store.Job{}, false, err
	}

	if err := m.emitStateChange(ctx, jobID, "", store.StateQueued); err != nil {
		return store.Job{}, false, err
	}
	if m.collect != nil {
		m.collect.RecordJobCreated()
	}

	m.logger.Info("job created", "job_id", jobID, "config_hash", configHash)
	return job, true, nil
}

// Get returns a job by ID.
func (m *JobManager) Get(ctx context.Context, jobID string) (store.Job, error) {
	return m.store.GetJob(ctx, jobID)
}

// List returns jobs newest first, narrowed by the filter.
func (m *JobManager) List(ctx context.Context, f store.JobFilter) ([]store.Job, error) {
	return m.store.ListJobs(ctx, f)
}

// Start claims a queued job and emits the running transition.
// Returns false when the job was no longer queued.
func (m *JobManager) Start(ctx context.Context, jobID string) (bool, error) {
	if m.safeMode {
		return false, NewJobError(ErrCodeSafeMode, jobID, "job execution disabled")
	}

	claimed, err := m.store.ClaimJob(ctx, jobID)
	if err != nil || !claimed {
		return claimed, err
	}

	if err := m.emitStateChange(ctx, jobID, store.StateQueued, store.StateRunning); err != nil {
		return true, err
	}
	m.logger.Info("job started", "job_id", jobID)
	return true, nil
}

// Log emits a job.log event.
func (m *JobManager) Log(ctx context.Context, jobID string, level event.Level, subsystem, message string) error {
	ev := event.NewJobEvent(event.TypeLog, jobID, map[string]any{
		"subsystem": subsystem,
		"message":   message,
	})
	ev.Level = level
	_, err := m.emitter.Emit(ctx, ev)
	return err
}

// UpdateProgress persists progress fields and emits a job.progress event.
func (m *JobManager) UpdateProgress(ctx context.Context, jobID, phase string, percent, itemsCompleted, itemsTotal int64) error {
	err := m.store.UpdateJobProgress(ctx, jobID, store.Progress{
		Percent:        &percent,
		Phase:          &phase,
		ItemsCompleted: &itemsCompleted,
		ItemsTotal:     &itemsTotal,
	})
	if err != nil {
		return err
	}

	_, err = m.emitter.Emit(ctx, event.NewJobEvent(event.TypeProgress, jobID, map[string]any{
		"phase":            phase,
		"progress_percent": percent,
		"items_completed":  itemsCompleted,
		"items_total":      itemsTotal,
	}))
	return err
}

// Complete moves a running job to completed, writes the receipt, and emits
// the terminal transition. Returns ErrIllegalTransition if the job is not
// running.
func (m *JobManager) Complete(ctx context.Context, jobID string, outputs []Output) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State != store.StateRunning {
		return fmt.Errorf("complete %s from %s: %w", jobID, job.State, ErrIllegalTransition)
	}

	receiptPath, receiptHash, err := m.writeReceipt(ctx, job, store.StateCompleted, outputs, "", "")
	if err != nil {
		return err
	}

	ok, err := m.store.TransitionJob(ctx, jobID, []store.JobState{store.StateRunning}, store.StateCompleted,
		store.JobUpdate{ReceiptPath: &receiptPath, ReceiptHash: &receiptHash})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("complete %s: %w", jobID, ErrIllegalTransition)
	}

	if err := m.emitStateChange(ctx, jobID, store.StateRunning, store.StateCompleted); err != nil {
		return err
	}
	m.recordTerminal(ctx, job)
	m.logger.Info("job completed", "job_id", jobID, "receipt_hash", receiptHash)
	return nil
}

// Fail moves a job to failed from any non-terminal state, writes the
// failure receipt, and emits the terminal transition.
func (m *JobManager) Fail(ctx context.Context, jobID string, code ErrorCode, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failLocked(ctx, jobID, code, message)
}

func (m *JobManager) failLocked(ctx context.Context, jobID string, code ErrorCode, message string) error {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return fmt.Errorf("fail %s from %s: %w", jobID, job.State, ErrIllegalTransition)
	}
	oldState := job.State

	receiptPath, receiptHash, err := m.writeReceipt(ctx, job, store.StateFailed, nil, code, message)
	if err != nil {
		return err
	}

	errCode := string(code)
	ok, err := m.store.TransitionJob(ctx, jobID,
		[]store.JobState{store.StateQueued, store.StateRunning}, store.StateFailed,
		store.JobUpdate{
			ErrorCode:    &errCode,
			ErrorMessage: &message,
			ReceiptPath:  &receiptPath,
			ReceiptHash:  &receiptHash,
		})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("fail %s: %w", jobID, ErrIllegalTransition)
	}

	if err := m.emitStateChange(ctx, jobID, oldState, store.StateFailed); err != nil {
		return err
	}
	m.recordTerminal(ctx, job)
	m.logger.Error("job failed", "job_id", jobID, "error_code", code, "error", message)
	return nil
}

// Cancel requests cancellation. Queued jobs cancel immediately with a
// receipt; running jobs get the cancel flag and finish at the next phase
// boundary via FinishCancel. Terminal jobs are returned unchanged, so
// cancelling twice is harmless.
func (m *JobManager) Cancel(ctx context.Context, jobID string) (store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return store.Job{}, err
	}

	switch job.State {
	case store.StateQueued:
		receiptPath, receiptHash, err := m.writeReceipt(ctx, job, store.StateCancelled, nil, ErrCodeCancelled, "cancelled before start")
		if err != nil {
			return store.Job{}, err
		}
		ok, err := m.store.TransitionJob(ctx, jobID, []store.JobState{store.StateQueued}, store.StateCancelled,
			store.JobUpdate{ReceiptPath: &receiptPath, ReceiptHash: &receiptHash})
		if err != nil {
			return store.Job{}, err
		}
		if ok {
			if err := m.emitStateChange(ctx, jobID, store.StateQueued, store.StateCancelled); err != nil {
				return store.Job{}, err
			}
			m.recordTerminal(ctx, job)
			m.logger.Info("job cancelled", "job_id", jobID)
		}

	case store.StateRunning:
		if _, err := m.store.RequestCancel(ctx, jobID); err != nil {
			return store.Job{}, err
		}
		m.logger.Info("job cancellation requested", "job_id", jobID)

	default:
		// Terminal: nothing to do.
	}

	return m.store.GetJob(ctx, jobID)
}

// FinishCancel completes a cooperative cancellation: the runner observed
// the cancel flag and stopped at a phase boundary.
func (m *JobManager) FinishCancel(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State != store.StateRunning {
		return fmt.Errorf("finish cancel %s from %s: %w", jobID, job.State, ErrIllegalTransition)
	}

	receiptPath, receiptHash, err := m.writeReceipt(ctx, job, store.StateCancelled, nil, ErrCodeCancelled, "cancelled during execution")
	if err != nil {
		return err
	}
	ok, err := m.store.TransitionJob(ctx, jobID, []store.JobState{store.StateRunning}, store.StateCancelled,
		store.JobUpdate{ReceiptPath: &receiptPath, ReceiptHash: &receiptHash})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("finish cancel %s: %w", jobID, ErrIllegalTransition)
	}

	if err := m.emitStateChange(ctx, jobID, store.StateRunning, store.StateCancelled); err != nil {
		return err
	}
	m.recordTerminal(ctx, job)
	m.logger.Info("job cancelled", "job_id", jobID)
	return nil
}

// Config decodes the stored config snapshot of a job.
func (m *JobManager) Config(job store.Job) (config.JobConfig, error) {
	var cfg config.JobConfig
	if err := json.Unmarshal([]byte(job.ConfigJSON), &cfg); err != nil {
		return config.JobConfig{}, fmt.Errorf("decode config for %s: %w", job.JobID, err)
	}
	return cfg, nil
}

func (m *JobManager) emitStateChange(ctx context.Context, jobID string, oldState, newState store.JobState) error {
	payload := map[string]any{"new_state": string(newState)}
	if oldState != "" {
		payload["old_state"] = string(oldState)
	}
	_, err := m.emitter.Emit(ctx, event.NewJobEvent(event.TypeStateChanged, jobID, payload))
	if err != nil {
		return fmt.Errorf("emit state change: %w", err)
	}
	if m.collect != nil {
		m.collect.RecordJobTransition(string(newState))
	}
	return nil
}

func (m *JobManager) recordTerminal(ctx context.Context, job store.Job) {
	if m.collect == nil || job.StartedAt.IsZero() {
		return
	}
	if fresh, err := m.store.GetJob(ctx, job.JobID); err == nil && !fresh.CompletedAt.IsZero() {
		m.collect.RecordJobDuration(fresh.CompletedAt.Sub(job.StartedAt).Seconds())
	}
}
