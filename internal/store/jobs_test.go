package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreateJob_StartsQueued(t *testing.T) {
	s := createTestStore(t)

	job := createTestJob(t, s, "job_1")
	if job.State != StateQueued {
		t.Errorf("state = %q, want queued", job.State)
	}
	if job.CreatedAt.IsZero() || job.QueuedAt.IsZero() {
		t.Error("created_at and queued_at must be set")
	}
	if job.ConfigHash != "deadbeef" {
		t.Errorf("config_hash = %q, want deadbeef", job.ConfigHash)
	}
	if job.RunID != "run-job_1" {
		t.Errorf("run_id = %q, want run-job_1", job.RunID)
	}
}

func TestCreateJob_IdempotencyKeyConflict(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	nj := NewJob{JobID: "job_1", ConfigJSON: "{}", ConfigHash: "aa", IdempotencyKey: "key-1"}
	if _, err := s.CreateJob(ctx, nj); err != nil {
		t.Fatalf("CreateJob() failed: %v", err)
	}

	nj.JobID = "job_2"
	_, err := s.CreateJob(ctx, nj)
	if !errors.Is(err, ErrIdempotencyConflict) {
		t.Fatalf("got %v, want ErrIdempotencyConflict", err)
	}

	existing, err := s.GetJobByIdempotencyKey(ctx, "key-1")
	if err != nil {
		t.Fatalf("GetJobByIdempotencyKey() failed: %v", err)
	}
	if existing.JobID != "job_1" {
		t.Errorf("existing job = %q, want job_1", existing.JobID)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetJob(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestClaimJob_OnlyOnce(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestJob(t, s, "job_1")

	claimed, err := s.ClaimJob(ctx, "job_1")
	if err != nil {
		t.Fatalf("ClaimJob() failed: %v", err)
	}
	if !claimed {
		t.Fatal("first claim must succeed")
	}

	claimed, err = s.ClaimJob(ctx, "job_1")
	if err != nil {
		t.Fatalf("second ClaimJob() failed: %v", err)
	}
	if claimed {
		t.Fatal("second claim must fail")
	}

	job, err := s.GetJob(ctx, "job_1")
	if err != nil {
		t.Fatalf("GetJob() failed: %v", err)
	}
	if job.State != StateRunning {
		t.Errorf("state = %q, want running", job.State)
	}
	if job.StartedAt.IsZero() {
		t.Error("started_at must be set")
	}
	if job.ClaimAttempts != 1 {
		t.Errorf("claim_attempts = %d, want 1", job.ClaimAttempts)
	}
}

func TestTransitionJob_GuardsSourceState(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestJob(t, s, "job_1")

	// queued -> completed is not among allowed sources here
	ok, err := s.TransitionJob(ctx, "job_1", []JobState{StateRunning}, StateCompleted, JobUpdate{})
	if err != nil {
		t.Fatalf("TransitionJob() failed: %v", err)
	}
	if ok {
		t.Fatal("transition from queued must not match running guard")
	}

	if _, err := s.ClaimJob(ctx, "job_1"); err != nil {
		t.Fatalf("ClaimJob() failed: %v", err)
	}

	hash := "abc123"
	path := "/receipts/job_1.json"
	ok, err = s.TransitionJob(ctx, "job_1", []JobState{StateRunning}, StateCompleted,
		JobUpdate{ReceiptHash: &hash, ReceiptPath: &path})
	if err != nil {
		t.Fatalf("TransitionJob() failed: %v", err)
	}
	if !ok {
		t.Fatal("running -> completed must succeed")
	}

	job, err := s.GetJob(ctx, "job_1")
	if err != nil {
		t.Fatalf("GetJob() failed: %v", err)
	}
	if job.State != StateCompleted {
		t.Errorf("state = %q, want completed", job.State)
	}
	if job.CompletedAt.IsZero() {
		t.Error("completed_at must be set")
	}
	if job.ReceiptHash != hash || job.ReceiptPath != path {
		t.Errorf("receipt fields = %q, %q", job.ReceiptHash, job.ReceiptPath)
	}
}

func TestTransitionJob_TerminalIsAbsorbing(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestJob(t, s, "job_1")

	ok, err := s.TransitionJob(ctx, "job_1", []JobState{StateQueued}, StateCancelled, JobUpdate{})
	if err != nil || !ok {
		t.Fatalf("queued -> cancelled: ok=%v err=%v", ok, err)
	}

	for _, target := range []JobState{StateRunning, StateCompleted, StateFailed} {
		ok, err := s.TransitionJob(ctx, "job_1",
			[]JobState{StateQueued, StateRunning}, target, JobUpdate{})
		if err != nil {
			t.Fatalf("TransitionJob(%s) failed: %v", target, err)
		}
		if ok {
			t.Errorf("cancelled -> %s must not be possible", target)
		}
	}
}

func TestRequestCancel(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestJob(t, s, "job_1")

	ok, err := s.RequestCancel(ctx, "job_1")
	if err != nil {
		t.Fatalf("RequestCancel() failed: %v", err)
	}
	if !ok {
		t.Fatal("cancel of queued job must succeed")
	}

	requested, err := s.CancelRequested(ctx, "job_1")
	if err != nil {
		t.Fatalf("CancelRequested() failed: %v", err)
	}
	if !requested {
		t.Error("cancel_requested must be set")
	}

	// Terminal jobs refuse the flag.
	if _, err := s.TransitionJob(ctx, "job_1", []JobState{StateQueued}, StateCancelled, JobUpdate{}); err != nil {
		t.Fatalf("TransitionJob() failed: %v", err)
	}
	ok, err = s.RequestCancel(ctx, "job_1")
	if err != nil {
		t.Fatalf("RequestCancel() failed: %v", err)
	}
	if ok {
		t.Error("cancel of terminal job must report false")
	}
}

func TestNextQueuedJobID_FIFO(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.NextQueuedJobID(ctx)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty queue: got %v, want ErrNotFound", err)
	}

	createTestJob(t, s, "job_a")
	createTestJob(t, s, "job_b")

	jobID, err := s.NextQueuedJobID(ctx)
	if err != nil {
		t.Fatalf("NextQueuedJobID() failed: %v", err)
	}
	if jobID != "job_a" {
		t.Errorf("next = %q, want job_a", jobID)
	}

	if _, err := s.ClaimJob(ctx, "job_a"); err != nil {
		t.Fatalf("ClaimJob() failed: %v", err)
	}
	jobID, err = s.NextQueuedJobID(ctx)
	if err != nil {
		t.Fatalf("NextQueuedJobID() failed: %v", err)
	}
	if jobID != "job_b" {
		t.Errorf("next = %q, want job_b", jobID)
	}
}

func TestOrphanedJobs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	createTestJob(t, s, "job_a")
	createTestJob(t, s, "job_b")
	createTestJob(t, s, "job_c")
	if _, err := s.ClaimJob(ctx, "job_a"); err != nil {
		t.Fatalf("ClaimJob() failed: %v", err)
	}
	if _, err := s.ClaimJob(ctx, "job_b"); err != nil {
		t.Fatalf("ClaimJob() failed: %v", err)
	}

	orphans, err := s.OrphanedJobs(ctx)
	if err != nil {
		t.Fatalf("OrphanedJobs() failed: %v", err)
	}
	if len(orphans) != 2 {
		t.Fatalf("got %d orphans, want 2", len(orphans))
	}
	if orphans[0].JobID != "job_a" || orphans[1].JobID != "job_b" {
		t.Errorf("orphans = %q, %q", orphans[0].JobID, orphans[1].JobID)
	}
}

func TestUpdateJobProgress(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestJob(t, s, "job_1")
	if _, err := s.ClaimJob(ctx, "job_1"); err != nil {
		t.Fatalf("ClaimJob() failed: %v", err)
	}

	pct := int64(40)
	phase := "translate"
	done := int64(4)
	total := int64(10)
	err := s.UpdateJobProgress(ctx, "job_1", Progress{
		Percent: &pct, Phase: &phase, ItemsCompleted: &done, ItemsTotal: &total,
	})
	if err != nil {
		t.Fatalf("UpdateJobProgress() failed: %v", err)
	}

	job, err := s.GetJob(ctx, "job_1")
	if err != nil {
		t.Fatalf("GetJob() failed: %v", err)
	}
	if job.ProgressPercent != 40 || job.ProgressPhase != "translate" {
		t.Errorf("progress = %d%% %q", job.ProgressPercent, job.ProgressPhase)
	}
	if job.ItemsCompleted != 4 || job.ItemsTotal != 10 {
		t.Errorf("items = %d/%d", job.ItemsCompleted, job.ItemsTotal)
	}
	if job.LastHeartbeatAt.IsZero() {
		t.Error("last_heartbeat_at must be refreshed")
	}
}

func TestJobCounts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	createTestJob(t, s, "job_a")
	createTestJob(t, s, "job_b")
	createTestJob(t, s, "job_c")
	if _, err := s.ClaimJob(ctx, "job_a"); err != nil {
		t.Fatalf("ClaimJob() failed: %v", err)
	}

	counts, err := s.JobCounts(ctx)
	if err != nil {
		t.Fatalf("JobCounts() failed: %v", err)
	}
	if counts[StateQueued] != 2 || counts[StateRunning] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestListJobs_FiltersAndLimits(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	createTestJob(t, s, "job_a")
	createTestJob(t, s, "job_b")
	if _, err := s.ClaimJob(ctx, "job_a"); err != nil {
		t.Fatalf("ClaimJob() failed: %v", err)
	}

	running, err := s.ListJobs(ctx, JobFilter{States: []JobState{StateRunning}, Limit: 10})
	if err != nil {
		t.Fatalf("ListJobs() failed: %v", err)
	}
	if len(running) != 1 || running[0].JobID != "job_a" {
		t.Errorf("running = %+v", running)
	}

	all, err := s.ListJobs(ctx, JobFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListJobs() failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("limit ignored: got %d jobs", len(all))
	}
}

func TestListJobs_PrefixAndDateFilters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	createTestJob(t, s, "job_20260101_aaa")
	createTestJob(t, s, "job_20260102_bbb")
	createTestJob(t, s, "other_ccc")

	byPrefix, err := s.ListJobs(ctx, JobFilter{IDPrefix: "job_2026"})
	if err != nil {
		t.Fatalf("ListJobs() failed: %v", err)
	}
	if len(byPrefix) != 2 {
		t.Errorf("prefix filter: got %d jobs, want 2", len(byPrefix))
	}

	// A LIKE wildcard in the prefix must match literally, not as a pattern.
	byLiteral, err := s.ListJobs(ctx, JobFilter{IDPrefix: "job_%"})
	if err != nil {
		t.Fatalf("ListJobs() failed: %v", err)
	}
	if len(byLiteral) != 0 {
		t.Errorf("wildcard treated as pattern: got %d jobs, want 0", len(byLiteral))
	}

	recent, err := s.ListJobs(ctx, JobFilter{CreatedAfter: time.Now().Add(-time.Hour)})
	if err != nil {
		t.Fatalf("ListJobs() failed: %v", err)
	}
	if len(recent) != 3 {
		t.Errorf("created_after in the past: got %d jobs, want 3", len(recent))
	}

	none, err := s.ListJobs(ctx, JobFilter{CreatedBefore: time.Now().Add(-time.Hour)})
	if err != nil {
		t.Fatalf("ListJobs() failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("created_before in the past: got %d jobs, want 0", len(none))
	}
}
