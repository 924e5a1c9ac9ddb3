package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/scribe/internal/event"
)

// PruneResult reports one retention batch.
type PruneResult struct {
	Deleted int64 // rows removed in this batch
	MaxSeq  int64 // highest sequence removed, 0 if none
}

// PruneLogEvents deletes up to limit job.log events at the given levels with
// timestamps strictly before cutoff. Only log events are eligible; state
// changes and engine events are never pruned regardless of age.
//
// Deletion happens in bounded batches so retention never holds the write
// lock long enough to stall event emission. Callers loop until Deleted == 0
// and advance the pruned watermark with the highest MaxSeq seen.
func (s *Store) PruneLogEvents(ctx context.Context, levels []event.Level, cutoff time.Time, limit int) (PruneResult, error) {
	if len(levels) == 0 {
		return PruneResult{}, fmt.Errorf("prune log events: no levels")
	}

	placeholders := strings.Repeat("?,", len(levels)-1) + "?"
	args := []any{formatTime(cutoff)}
	for _, lv := range levels {
		args = append(args, string(lv))
	}
	args = append(args, limit)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PruneResult{}, fmt.Errorf("prune log events: begin tx: %w", err)
	}
	defer tx.Rollback()

	// Identify the batch first so we can report the highest pruned sequence.
	var res PruneResult
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MAX(seq), 0) FROM (
			SELECT seq FROM events
			WHERE event_type = ? AND timestamp_utc < ? AND level IN (`+placeholders+`)
			ORDER BY seq ASC
			LIMIT ?
		)
	`, append([]any{event.TypeLog}, args...)...).Scan(&res.Deleted, &res.MaxSeq)
	if err != nil {
		return PruneResult{}, fmt.Errorf("prune log events: inspect batch: %w", err)
	}
	if res.Deleted == 0 {
		return PruneResult{}, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM events WHERE id IN (
			SELECT id FROM events
			WHERE event_type = ? AND timestamp_utc < ? AND level IN (`+placeholders+`)
			ORDER BY seq ASC
			LIMIT ?
		)
	`, append([]any{event.TypeLog}, args...)...)
	if err != nil {
		return PruneResult{}, fmt.Errorf("prune log events: delete: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return PruneResult{}, fmt.Errorf("prune log events: commit: %w", err)
	}

	return res, nil
}

// IncrementalVacuum returns up to pages freed pages to the filesystem.
// Requires auto_vacuum = INCREMENTAL, which Open configures.
func (s *Store) IncrementalVacuum(ctx context.Context, pages int) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA incremental_vacuum(%d)", pages)); err != nil {
		return fmt.Errorf("incremental vacuum: %w", err)
	}
	return nil
}
