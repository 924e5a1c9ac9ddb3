package store

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpen_AppliesPragmas(t *testing.T) {
	s := createTestStore(t)

	checks := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},  // NORMAL
		{"foreign_keys", "1"}, // ON
		{"auto_vacuum", "2"},  // INCREMENTAL
	}
	for _, c := range checks {
		if err := s.verifyPragma(c.name, c.expected); err != nil {
			t.Errorf("pragma check: %v", err)
		}
	}
}

func TestOpen_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	createTestJob(t, s1, "job_1")
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	job, err := s2.GetJob(context.Background(), "job_1")
	if err != nil {
		t.Fatalf("GetJob() after reopen failed: %v", err)
	}
	if job.State != StateQueued {
		t.Errorf("job state = %q, want queued", job.State)
	}
}

func TestOpen_SetsSchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("query user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestCheckIntegrity(t *testing.T) {
	s := createTestStore(t)
	if err := s.CheckIntegrity(context.Background()); err != nil {
		t.Errorf("CheckIntegrity() failed on fresh database: %v", err)
	}
}
