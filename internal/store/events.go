package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/scribe/internal/event"
)

// AppendEvent assigns the next global sequence number and persists the event
// in a single transaction. The returned event carries the assigned Seq (and
// JobSequence for job-scoped events).
//
// This is the ONLY way an event enters the log. Callers must not publish the
// event to any consumer until this returns nil.
func (s *Store) AppendEvent(ctx context.Context, ev event.Event) (event.Event, error) {
	if ev.Committed() {
		return event.Event{}, fmt.Errorf("append event: already committed (seq %d)", ev.Seq)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return event.Event{}, fmt.Errorf("append event: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	// Bump the global counter and read it back inside the same transaction.
	// With a single writer connection this cannot race.
	if _, err := tx.ExecContext(ctx, `
		UPDATE sequence_state SET last_sequence = last_sequence + 1 WHERE id = 1
	`); err != nil {
		return event.Event{}, fmt.Errorf("append event: bump sequence: %w", err)
	}

	if err := tx.QueryRowContext(ctx, `
		SELECT last_sequence FROM sequence_state WHERE id = 1
	`).Scan(&ev.Seq); err != nil {
		return event.Event{}, fmt.Errorf("append event: read sequence: %w", err)
	}

	var jobID sql.NullString
	var jobSeq sql.NullInt64
	if ev.JobID != "" {
		jobID = sql.NullString{String: ev.JobID, Valid: true}

		// The per-job counter lives on the jobs row, not on event rows:
		// retention prunes old events, and a counter recomputed from
		// survivors would reissue already-used values.
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET last_job_seq = last_job_seq + 1 WHERE job_id = ?
		`, ev.JobID)
		if err != nil {
			return event.Event{}, fmt.Errorf("append event: bump job sequence: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return event.Event{}, fmt.Errorf("append event: bump job sequence: %w", err)
		} else if n == 0 {
			return event.Event{}, fmt.Errorf("append event: unknown job %s", ev.JobID)
		}

		if err := tx.QueryRowContext(ctx, `
			SELECT last_job_seq FROM jobs WHERE job_id = ?
		`, ev.JobID).Scan(&ev.JobSequence); err != nil {
			return event.Event{}, fmt.Errorf("append event: read job sequence: %w", err)
		}
		jobSeq = sql.NullInt64{Int64: ev.JobSequence, Valid: true}
	}

	eventJSON, err := ev.EncodeJSON()
	if err != nil {
		return event.Event{}, fmt.Errorf("append event: %w", err)
	}

	var level sql.NullString
	if ev.Level != "" {
		level = sql.NullString{String: string(ev.Level), Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (job_id, seq, job_seq, timestamp_utc, event_type, level, event_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		jobID,
		ev.Seq,
		jobSeq,
		formatTime(ev.TimestampUTC),
		ev.Type,
		level,
		string(eventJSON),
	); err != nil {
		return event.Event{}, fmt.Errorf("append event: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return event.Event{}, fmt.Errorf("append event: commit: %w", err)
	}

	return ev, nil
}

// ReadEventsSince returns up to limit events with seq > afterSeq in ascending
// sequence order. A non-positive limit means no limit. An empty jobID returns
// events across all jobs plus engine-level events; a non-empty jobID
// restricts to that job.
//
// Returns an empty slice (not nil) when there is nothing newer.
func (s *Store) ReadEventsSince(ctx context.Context, afterSeq int64, jobID string, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	var rows *sql.Rows
	var err error
	if jobID != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT event_json FROM events
			WHERE seq > ? AND job_id = ?
			ORDER BY seq ASC
			LIMIT ?
		`, afterSeq, jobID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT event_json FROM events
			WHERE seq > ?
			ORDER BY seq ASC
			LIMIT ?
		`, afterSeq, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	events := []event.Event{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("read events: scan: %w", err)
		}
		ev, err := event.DecodeJSON([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("read events: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: iterate: %w", err)
	}

	return events, nil
}

// CurrentSequence returns the last assigned global sequence number.
// Zero means no event has ever been committed.
func (s *Store) CurrentSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM sequence_state WHERE id = 1
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("current sequence: %w", err)
	}
	return seq, nil
}

// PrunedWatermark returns the highest sequence at or below which retention
// may have deleted events. Replay from a position below the watermark cannot
// be guaranteed complete.
func (s *Store) PrunedWatermark(ctx context.Context) (int64, error) {
	var wm int64
	err := s.db.QueryRowContext(ctx, `
		SELECT pruned_watermark FROM sequence_state WHERE id = 1
	`).Scan(&wm)
	if err != nil {
		return 0, fmt.Errorf("pruned watermark: %w", err)
	}
	return wm, nil
}

// AdvancePrunedWatermark raises the watermark to seq. The watermark never
// moves backward; a lower value is ignored.
func (s *Store) AdvancePrunedWatermark(ctx context.Context, seq int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sequence_state
		SET pruned_watermark = ?
		WHERE id = 1 AND pruned_watermark < ?
	`, seq, seq)
	if err != nil {
		return fmt.Errorf("advance pruned watermark: %w", err)
	}
	return nil
}

// VerifyEventLog checks the structural invariants of the event log:
//
//   - the counter is at or ahead of the highest stored sequence
//   - no duplicate sequence numbers (enforced by UNIQUE, checked anyway)
//   - the region above the pruned watermark is gap-free
//
// Gaps at or below the watermark are legitimate retention artifacts.
func (s *Store) VerifyEventLog(ctx context.Context) error {
	var lastSeq, watermark int64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sequence, pruned_watermark FROM sequence_state WHERE id = 1
	`).Scan(&lastSeq, &watermark)
	if err != nil {
		return fmt.Errorf("verify event log: %w", err)
	}

	var maxSeq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM events
	`).Scan(&maxSeq); err != nil {
		return fmt.Errorf("verify event log: %w", err)
	}
	if maxSeq.Valid && maxSeq.Int64 > lastSeq {
		return fmt.Errorf("verify event log: counter %d behind max stored seq %d", lastSeq, maxSeq.Int64)
	}

	var total, distinct int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT seq) FROM events
	`).Scan(&total, &distinct); err != nil {
		return fmt.Errorf("verify event log: %w", err)
	}
	if total != distinct {
		return fmt.Errorf("verify event log: %d duplicate sequence numbers", total-distinct)
	}

	var above int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events WHERE seq > ?
	`, watermark).Scan(&above); err != nil {
		return fmt.Errorf("verify event log: %w", err)
	}
	if maxSeq.Valid && maxSeq.Int64 > watermark {
		expected := maxSeq.Int64 - watermark
		if above != expected {
			return fmt.Errorf("verify event log: gap above watermark %d: have %d events, want %d",
				watermark, above, expected)
		}
	}

	return nil
}
