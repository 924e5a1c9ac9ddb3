package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/scribe/internal/config"
	"github.com/roach88/scribe/internal/event"
	"github.com/roach88/scribe/internal/metrics"
	"github.com/roach88/scribe/internal/store"
)

// Compactor prunes expired job.log events on a schedule. Only log events
// are ever deleted: state changes, progress, and engine events stay forever
// because receipts and audits depend on them.
//
// Pruning creates sequence gaps below the watermark it advances; everything
// above the watermark stays provably gap-free.
type Compactor struct {
	store   *store.Store
	logger  *slog.Logger
	collect *metrics.Collector
	cfg     config.Retention
}

// NewCompactor wires a retention compactor.
func NewCompactor(st *store.Store, logger *slog.Logger, collect *metrics.Collector, cfg config.Retention) *Compactor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Compactor{store: st, logger: logger, collect: collect, cfg: cfg}
}

// Run compacts on the configured interval until ctx is cancelled.
func (c *Compactor) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Compact(ctx); err != nil {
				c.logger.Error("compaction pass failed", "error", err)
			}
		}
	}
}

// tier pairs a log severity set with its time-to-live.
type tier struct {
	levels []event.Level
	ttl    time.Duration
}

// Compact runs one full pruning pass across all tiers and returns the total
// number of events deleted. Deletion is batched so a large backlog never
// holds the single write connection for long.
func (c *Compactor) Compact(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	tiers := []tier{
		{levels: []event.Level{event.LevelDebug}, ttl: c.cfg.DebugTTL.Std()},
		{levels: []event.Level{event.LevelInfo}, ttl: c.cfg.InfoTTL.Std()},
		{levels: []event.Level{event.LevelWarn}, ttl: c.cfg.WarnTTL.Std()},
	}

	var total, maxSeq int64
	for _, t := range tiers {
		if t.ttl <= 0 {
			continue
		}
		cutoff := now.Add(-t.ttl)
		for {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			res, err := c.store.PruneLogEvents(ctx, t.levels, cutoff, c.cfg.BatchSize)
			if err != nil {
				return total, err
			}
			if res.Deleted == 0 {
				break
			}
			total += res.Deleted
			if res.MaxSeq > maxSeq {
				maxSeq = res.MaxSeq
			}
			// Yield between batches so appends interleave.
			time.Sleep(10 * time.Millisecond)
		}
	}

	if total == 0 {
		return 0, nil
	}

	if err := c.store.AdvancePrunedWatermark(ctx, maxSeq); err != nil {
		return total, err
	}
	if err := c.store.IncrementalVacuum(ctx, c.cfg.VacuumPages); err != nil {
		c.logger.Warn("incremental vacuum", "error", err)
	}
	if c.collect != nil {
		c.collect.RecordEventsPruned(total)
	}

	c.logger.Info("compaction pass complete", "deleted", total, "watermark", maxSeq)
	return total, nil
}
