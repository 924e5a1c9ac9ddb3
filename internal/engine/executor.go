package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/scribe/internal/config"
	"github.com/roach88/scribe/internal/event"
	"github.com/roach88/scribe/internal/store"
)

// Executor poll tuning. The interval backs off while the queue is empty and
// snaps back to the base on the first claimed job.
const (
	pollInterval    = 500 * time.Millisecond
	pollBackoff     = 1.5
	pollIntervalMax = 5 * time.Second
)

// Result is what a runner hands back on success.
type Result struct {
	Outputs []Output
}

// Task is the unit of work handed to a runner. The callbacks route progress,
// logs, and cancellation checks through the job manager so the runner never
// touches the store or the bus directly.
type Task struct {
	Job       store.Job
	Config    config.JobConfig
	OutputDir string

	// Progress reports phase and counts. Safe to call often.
	Progress func(phase string, percent, itemsCompleted, itemsTotal int64)

	// Log emits a job.log event.
	Log func(level event.Level, subsystem, message string)

	// Cancelled reports whether cancellation was requested. Runners check
	// it at phase boundaries and return ErrCancelled to stop.
	Cancelled func() bool
}

// Runner executes one job to completion.
//
// Return values map to terminal states: nil means completed, ErrCancelled
// means the runner stopped at a cancel check, any other error means failed.
type Runner interface {
	Run(ctx context.Context, task Task) (Result, error)
}

// Executor drains the queue one job at a time. Jobs on one machine share
// the workspace disk and the SQLite writer, so it never runs more than one.
type Executor struct {
	manager *JobManager
	runner  Runner
	logger  *slog.Logger

	mu      sync.Mutex
	current string
}

// NewExecutor wires an executor.
func NewExecutor(manager *JobManager, runner Runner, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{manager: manager, runner: runner, logger: logger}
}

// CurrentJobID returns the job being executed, or "" when idle.
func (x *Executor) CurrentJobID() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.current
}

// Run polls the queue until ctx is cancelled. In safe mode it returns
// immediately without claiming anything.
func (x *Executor) Run(ctx context.Context) {
	if x.manager.SafeMode() {
		x.logger.Info("executor disabled in safe mode")
		return
	}

	interval := pollInterval
	for {
		ran, err := x.runNext(ctx)
		if err != nil {
			x.logger.Error("executor pass failed", "error", err)
		}
		if ran {
			interval = pollInterval
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		interval = time.Duration(float64(interval) * pollBackoff)
		if interval > pollIntervalMax {
			interval = pollIntervalMax
		}
	}
}

// runNext claims and executes the oldest queued job.
// Returns false when the queue was empty.
func (x *Executor) runNext(ctx context.Context) (bool, error) {
	jobID, err := x.manager.store.NextQueuedJobID(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	started, err := x.manager.Start(ctx, jobID)
	if err != nil {
		return false, err
	}
	if !started {
		// Someone else moved it (cancel, most likely). Not our job.
		return true, nil
	}

	x.setCurrent(jobID)
	defer x.setCurrent("")

	x.execute(ctx, jobID)
	return true, nil
}

func (x *Executor) execute(ctx context.Context, jobID string) {
	job, err := x.manager.Get(ctx, jobID)
	if err != nil {
		x.logger.Error("load claimed job", "job_id", jobID, "error", err)
		return
	}
	cfg, err := x.manager.Config(job)
	if err != nil {
		x.failJob(jobID, ErrCodeExecutionError, err.Error())
		return
	}

	task := Task{
		Job:       job,
		Config:    cfg,
		OutputDir: job.OutputDir,
		Progress: func(phase string, percent, done, total int64) {
			if err := x.manager.UpdateProgress(ctx, jobID, phase, percent, done, total); err != nil {
				x.logger.Warn("progress update failed", "job_id", jobID, "error", err)
			}
		},
		Log: func(level event.Level, subsystem, message string) {
			if err := x.manager.Log(ctx, jobID, level, subsystem, message); err != nil {
				x.logger.Warn("job log failed", "job_id", jobID, "error", err)
			}
		},
		Cancelled: func() bool {
			requested, err := x.manager.store.CancelRequested(ctx, jobID)
			if err != nil {
				x.logger.Warn("cancel check failed", "job_id", jobID, "error", err)
				return false
			}
			return requested
		},
	}

	result, runErr := x.runner.Run(ctx, task)

	switch {
	case runErr == nil:
		if err := x.manager.Complete(ctx, jobID, result.Outputs); err != nil {
			x.logger.Error("complete job", "job_id", jobID, "error", err)
		}
	case errors.Is(runErr, ErrCancelled):
		if err := x.manager.FinishCancel(ctx, jobID); err != nil {
			x.logger.Error("finish cancel", "job_id", jobID, "error", err)
		}
	case ctx.Err() != nil:
		// Shutdown interrupted the run.
		x.failJob(jobID, ErrCodeCancelled, "engine shutting down")
	default:
		x.failJob(jobID, CodeOf(runErr), runErr.Error())
	}
}

// failJob fails a job with a fresh context so terminal bookkeeping survives
// shutdown of the executor's own context.
func (x *Executor) failJob(jobID string, code ErrorCode, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := x.manager.Fail(ctx, jobID, code, message); err != nil {
		x.logger.Error("fail job", "job_id", jobID, "error", err)
	}
}

func (x *Executor) setCurrent(jobID string) {
	x.mu.Lock()
	x.current = jobID
	x.mu.Unlock()
}
