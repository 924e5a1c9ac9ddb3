package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/scribe/internal/event"
	"github.com/roach88/scribe/internal/metrics"
	"github.com/roach88/scribe/internal/store"
)

// Recovery fails jobs orphaned by an unclean shutdown. A job found in the
// running state at startup cannot still be running: there is only one engine
// process per data directory, so the previous one died mid-job.
type Recovery struct {
	store   *store.Store
	manager *JobManager
	emitter *Emitter
	logger  *slog.Logger
	collect *metrics.Collector
}

// NewRecovery wires crash recovery.
func NewRecovery(st *store.Store, manager *JobManager, em *Emitter, logger *slog.Logger, collect *metrics.Collector) *Recovery {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recovery{store: st, manager: manager, emitter: em, logger: logger, collect: collect}
}

// Run scans for orphaned jobs, quarantines their partial artifacts, and
// fails them with E_ENGINE_CRASH. Must complete before the executor starts
// claiming work. Idempotent: a second pass finds nothing running.
//
// Returns the IDs of the jobs it recovered.
func (r *Recovery) Run(ctx context.Context) ([]string, error) {
	orphans, err := r.store.OrphanedJobs(ctx)
	if err != nil {
		return nil, err
	}
	if len(orphans) == 0 {
		return nil, nil
	}

	recovered := make([]string, 0, len(orphans))
	for _, job := range orphans {
		quarantined, err := r.store.QuarantineArtifacts(ctx, job.JobID)
		if err != nil {
			return recovered, err
		}
		moved, err := quarantinePartialOutputs(job)
		if err != nil {
			r.logger.Warn("quarantine move failed", "job_id", job.JobID, "error", err)
		}
		if err := r.manager.Fail(ctx, job.JobID, ErrCodeEngineCrash, "Engine terminated unexpectedly"); err != nil {
			return recovered, err
		}
		recovered = append(recovered, job.JobID)
		r.logger.Warn("recovered orphaned job",
			"job_id", job.JobID, "quarantined_artifacts", quarantined, "moved_files", moved)
	}

	jobIDs := make([]any, len(recovered))
	for i, id := range recovered {
		jobIDs[i] = id
	}
	if _, err := r.emitter.Emit(ctx, event.New(event.TypeCrashRecovered, map[string]any{
		"recovered_jobs": jobIDs,
		"count":          len(recovered),
	})); err != nil {
		return recovered, err
	}

	return recovered, nil
}

// quarantinePartialOutputs moves everything under the job's output directory
// into workspace/quarantine/ so partial results are never mistaken for
// finished ones. Best effort: a move failure is reported but does not block
// recovery.
func quarantinePartialOutputs(job store.Job) (int, error) {
	if job.OutputDir == "" || job.WorkspacePath == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(job.OutputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	quarantineDir := filepath.Join(job.WorkspacePath, "quarantine")
	if err := os.MkdirAll(quarantineDir, 0o755); err != nil {
		return 0, err
	}

	moved := 0
	for _, entry := range entries {
		src := filepath.Join(job.OutputDir, entry.Name())
		dst := filepath.Join(quarantineDir, entry.Name())
		if err := os.Rename(src, dst); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}
