package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/scribe/internal/event"
)

// createTestStore creates a file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestJob inserts a queued job with minimal required fields.
func createTestJob(t *testing.T, s *Store, jobID string) Job {
	t.Helper()
	job, err := s.CreateJob(context.Background(), NewJob{
		JobID:      jobID,
		RunID:      "run-" + jobID,
		ConfigJSON: `{"source_lang":"grc","target_lang":"en"}`,
		ConfigHash: "deadbeef",
	})
	if err != nil {
		t.Fatalf("CreateJob() failed: %v", err)
	}
	return job
}

// appendTestEvent commits an event and returns it with its assigned sequence.
func appendTestEvent(t *testing.T, s *Store, ev event.Event) event.Event {
	t.Helper()
	committed, err := s.AppendEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("AppendEvent() failed: %v", err)
	}
	return committed
}

// logEventAt builds a job.log event with an explicit timestamp, for
// retention tests that need old events.
func logEventAt(jobID string, level event.Level, ts time.Time) event.Event {
	ev := event.NewJobEvent(event.TypeLog, jobID, map[string]any{
		"message": fmt.Sprintf("%s line", level),
	})
	ev.Level = level
	ev.TimestampUTC = ts.UTC().Truncate(time.Microsecond)
	return ev
}
