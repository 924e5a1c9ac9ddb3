package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/scribe/internal/event"
	"github.com/roach88/scribe/internal/metrics"
	"github.com/roach88/scribe/internal/store"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Heartbeat emits engine.heartbeat events on a fixed interval. The events
// double as stream liveness markers: a subscriber that stops seeing them
// knows the connection or the engine is gone.
type Heartbeat struct {
	emitter  *Emitter
	store    *store.Store
	executor *Executor
	logger   *slog.Logger
	collect  *metrics.Collector
	interval time.Duration
	started  time.Time
}

// NewHeartbeat wires a heartbeat emitter. A non-positive interval falls back
// to 3s.
func NewHeartbeat(em *Emitter, st *store.Store, x *Executor, logger *slog.Logger, collect *metrics.Collector, interval time.Duration) *Heartbeat {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Heartbeat{
		emitter:  em,
		store:    st,
		executor: x,
		logger:   logger,
		collect:  collect,
		interval: interval,
		started:  time.Now(),
	}
}

// Run emits heartbeats until ctx is cancelled. The first beat goes out
// immediately so subscribers see liveness without waiting a full interval.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context) {
	counts, err := h.store.JobCounts(ctx)
	if err != nil {
		h.logger.Warn("heartbeat job counts", "error", err)
		return
	}
	active := counts[store.StateRunning]
	queued := counts[store.StateQueued]

	if h.collect != nil {
		h.collect.SetJobCounts(queued, active)
	}

	_, err = h.emitter.Emit(ctx, event.New(event.TypeHeartbeat, map[string]any{
		"uptime_ms":   time.Since(h.started).Milliseconds(),
		"health":      "ok",
		"active_jobs": active,
		"queue_depth": queued,
	}))
	if err != nil {
		h.logger.Warn("heartbeat emit", "error", err)
	}
}

// EmitShutdown announces an orderly stop with the grace period subscribers
// have before the stream closes.
func (h *Heartbeat) EmitShutdown(ctx context.Context, reason string, grace time.Duration) error {
	_, err := h.emitter.Emit(ctx, event.New(event.TypeShuttingDown, map[string]any{
		"reason":          reason,
		"grace_period_ms": grace.Milliseconds(),
	}))
	return err
}

// Status is the engine status snapshot served at /v1/engine/status.
type Status struct {
	Version       string           `json:"version"`
	Mode          string           `json:"mode"`
	Health        string           `json:"health"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	CurrentJobID  string           `json:"current_job_id,omitempty"`
	JobCounts     map[string]int64 `json:"job_counts"`
	LastSequence  int64            `json:"last_sequence"`
	Capabilities  []string         `json:"capabilities"`
}

// Snapshot assembles the current engine status.
func (h *Heartbeat) Snapshot(ctx context.Context, safeMode bool) (Status, error) {
	counts, err := h.store.JobCounts(ctx)
	if err != nil {
		return Status{}, err
	}
	lastSeq, err := h.store.CurrentSequence(ctx)
	if err != nil {
		return Status{}, err
	}

	byState := make(map[string]int64, len(counts))
	for state, n := range counts {
		byState[string(state)] = n
	}

	mode := "normal"
	capabilities := []string{"jobs", "stream", "receipts"}
	if safeMode {
		mode = "safe"
		capabilities = []string{"stream", "receipts"}
	}

	st := Status{
		Version:       Version,
		Mode:          mode,
		Health:        "ok",
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		JobCounts:     byState,
		LastSequence:  lastSeq,
		Capabilities:  capabilities,
	}
	if h.executor != nil {
		st.CurrentJobID = h.executor.CurrentJobID()
	}
	return st, nil
}
