package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// JobState is the lifecycle state of a job.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// ErrIdempotencyConflict is returned when a job with the same idempotency
// key already exists.
var ErrIdempotencyConflict = errors.New("idempotency key already used")

// Job is a stored job row. Zero time values and empty strings stand in for
// SQL NULLs.
type Job struct {
	JobID           string
	RunID           string
	State           JobState
	CreatedAt       time.Time
	QueuedAt        time.Time
	StartedAt       time.Time
	CompletedAt     time.Time
	UpdatedAt       time.Time
	ConfigJSON      string
	ConfigHash      string
	WorkspacePath   string
	OutputDir       string
	ProgressPercent int64
	ProgressPhase   string
	ItemsCompleted  int64
	ItemsTotal      int64
	ErrorCode       string
	ErrorMessage    string
	ReceiptPath     string
	ReceiptHash     string
	IdempotencyKey  string
	CancelRequested bool
	ClaimAttempts   int64
	LastHeartbeatAt time.Time
}

// NewJob carries the immutable fields for job creation.
type NewJob struct {
	JobID          string
	RunID          string
	ConfigJSON     string
	ConfigHash     string
	WorkspacePath  string
	OutputDir      string
	IdempotencyKey string
}

// JobUpdate carries optional fields applied alongside a state transition.
// Nil pointers leave the column untouched.
type JobUpdate struct {
	ErrorCode    *string
	ErrorMessage *string
	ReceiptPath  *string
	ReceiptHash  *string
	OutputDir    *string
}

// Progress carries optional progress fields. Nil pointers leave the column
// untouched.
type Progress struct {
	Percent        *int64
	Phase          *string
	ItemsCompleted *int64
	ItemsTotal     *int64
}

const jobColumns = `
	job_id, run_id, state, created_at, queued_at, started_at, completed_at, updated_at,
	config_json, config_hash, workspace_path, output_dir,
	progress_percent, progress_phase, items_completed, items_total,
	error_code, error_message, receipt_path, receipt_hash,
	idempotency_key, cancel_requested, claim_attempts, last_heartbeat_at
`

// CreateJob inserts a new job in the queued state.
// Returns ErrIdempotencyConflict if the idempotency key is already taken.
func (s *Store) CreateJob(ctx context.Context, nj NewJob) (Job, error) {
	now := formatTime(time.Now())

	var idemKey sql.NullString
	if nj.IdempotencyKey != "" {
		idemKey = sql.NullString{String: nj.IdempotencyKey, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			job_id, run_id, state, created_at, queued_at, updated_at,
			config_json, config_hash, workspace_path, output_dir, idempotency_key
		) VALUES (?, ?, 'queued', ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		nj.JobID, nj.RunID, now, now, now,
		nj.ConfigJSON, nj.ConfigHash, nj.WorkspacePath, nj.OutputDir, idemKey,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique &&
			strings.Contains(err.Error(), "idempotency_key") {
			return Job{}, ErrIdempotencyConflict
		}
		return Job{}, fmt.Errorf("create job: %w", err)
	}

	return s.GetJob(ctx, nj.JobID)
}

// GetJob retrieves a job by ID. Returns ErrNotFound if it does not exist.
func (s *Store) GetJob(ctx context.Context, jobID string) (Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return job, err
}

// GetJobByIdempotencyKey retrieves the job created with the given key.
// Returns ErrNotFound if no job used it.
func (s *Store) GetJobByIdempotencyKey(ctx context.Context, key string) (Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = ?`, key)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("idempotency key: %w", ErrNotFound)
	}
	return job, err
}

// JobFilter narrows a job listing. Zero values mean no constraint; a
// non-positive limit means no limit.
type JobFilter struct {
	States        []JobState
	IDPrefix      string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
}

// ListJobs returns jobs newest first, narrowed by the filter.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ListJobs(ctx context.Context, f JobFilter) ([]Job, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	where := []string{}
	args := []any{}
	if len(f.States) > 0 {
		placeholders := strings.Repeat("?,", len(f.States)-1) + "?"
		where = append(where, "state IN ("+placeholders+")")
		for _, st := range f.States {
			args = append(args, string(st))
		}
	}
	if f.IDPrefix != "" {
		where = append(where, `job_id LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(f.IDPrefix)+"%")
	}
	if !f.CreatedAfter.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(f.CreatedAfter))
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, formatTime(f.CreatedBefore))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, job_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: iterate: %w", err)
	}

	return jobs, nil
}

// NextQueuedJobID returns the oldest queued job, or ErrNotFound when the
// queue is empty. FIFO by creation time, job_id as tiebreak.
func (s *Store) NextQueuedJobID(ctx context.Context) (string, error) {
	var jobID string
	err := s.db.QueryRowContext(ctx, `
		SELECT job_id FROM jobs
		WHERE state = 'queued'
		ORDER BY created_at ASC, job_id ASC
		LIMIT 1
	`).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("queued job: %w", ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("next queued job: %w", err)
	}
	return jobID, nil
}

// ClaimJob atomically moves a queued job to running.
// Returns false if the job is no longer queued (claimed elsewhere or
// cancelled in the meantime).
func (s *Store) ClaimJob(ctx context.Context, jobID string) (bool, error) {
	now := formatTime(time.Now())
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = 'running',
		    started_at = ?,
		    updated_at = ?,
		    last_heartbeat_at = ?,
		    claim_attempts = claim_attempts + 1
		WHERE job_id = ? AND state = 'queued'
	`, now, now, now, jobID)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim job: rows affected: %w", err)
	}
	return n > 0, nil
}

// TransitionJob atomically moves a job from one of the given states to a new
// state, applying any update fields. Returns false when the job was not in an
// allowed source state; the caller decides whether that is an error.
//
// Terminal target states also set completed_at.
func (s *Store) TransitionJob(ctx context.Context, jobID string, from []JobState, to JobState, upd JobUpdate) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition job: no source states")
	}

	now := formatTime(time.Now())
	fields := []string{"state = ?", "updated_at = ?"}
	values := []any{string(to), now}

	if to == StateRunning {
		fields = append(fields, "started_at = ?")
		values = append(values, now)
	}
	if to.Terminal() {
		fields = append(fields, "completed_at = ?")
		values = append(values, now)
	}

	if upd.ErrorCode != nil {
		fields = append(fields, "error_code = ?")
		values = append(values, *upd.ErrorCode)
	}
	if upd.ErrorMessage != nil {
		fields = append(fields, "error_message = ?")
		values = append(values, *upd.ErrorMessage)
	}
	if upd.ReceiptPath != nil {
		fields = append(fields, "receipt_path = ?")
		values = append(values, *upd.ReceiptPath)
	}
	if upd.ReceiptHash != nil {
		fields = append(fields, "receipt_hash = ?")
		values = append(values, *upd.ReceiptHash)
	}
	if upd.OutputDir != nil {
		fields = append(fields, "output_dir = ?")
		values = append(values, *upd.OutputDir)
	}

	placeholders := strings.Repeat("?,", len(from)-1) + "?"
	values = append(values, jobID)
	for _, st := range from {
		values = append(values, string(st))
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET `+strings.Join(fields, ", ")+`
		WHERE job_id = ? AND state IN (`+placeholders+`)
	`, values...)
	if err != nil {
		return false, fmt.Errorf("transition job: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition job: rows affected: %w", err)
	}
	return n > 0, nil
}

// UpdateJobProgress applies progress fields and refreshes the heartbeat
// timestamp. Only running jobs report progress; updates to other states are
// silently ignored.
func (s *Store) UpdateJobProgress(ctx context.Context, jobID string, p Progress) error {
	now := formatTime(time.Now())
	fields := []string{"updated_at = ?", "last_heartbeat_at = ?"}
	values := []any{now, now}

	if p.Percent != nil {
		fields = append(fields, "progress_percent = ?")
		values = append(values, *p.Percent)
	}
	if p.Phase != nil {
		fields = append(fields, "progress_phase = ?")
		values = append(values, *p.Phase)
	}
	if p.ItemsCompleted != nil {
		fields = append(fields, "items_completed = ?")
		values = append(values, *p.ItemsCompleted)
	}
	if p.ItemsTotal != nil {
		fields = append(fields, "items_total = ?")
		values = append(values, *p.ItemsTotal)
	}

	values = append(values, jobID)
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET `+strings.Join(fields, ", ")+`
		WHERE job_id = ? AND state = 'running'
	`, values...)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// RequestCancel marks a job for cooperative cancellation.
// Returns false if the job does not exist or is already terminal.
func (s *Store) RequestCancel(ctx context.Context, jobID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET cancel_requested = 1, updated_at = ?
		WHERE job_id = ? AND state IN ('queued', 'running')
	`, formatTime(time.Now()), jobID)
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("request cancel: rows affected: %w", err)
	}
	return n > 0, nil
}

// CancelRequested reports whether cancellation has been requested for a job.
func (s *Store) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	var requested bool
	err := s.db.QueryRowContext(ctx, `
		SELECT cancel_requested FROM jobs WHERE job_id = ?
	`, jobID).Scan(&requested)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("cancel requested: %w", err)
	}
	return requested, nil
}

// OrphanedJobs returns jobs left in the running state, found at startup
// after an unclean shutdown.
func (s *Store) OrphanedJobs(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE state = 'running'
		ORDER BY started_at ASC, job_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("orphaned jobs: %w", err)
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("orphaned jobs: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orphaned jobs: iterate: %w", err)
	}

	return jobs, nil
}

// JobCounts returns the number of jobs in each state.
func (s *Store) JobCounts(ctx context.Context) (map[JobState]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT state, COUNT(*) FROM jobs GROUP BY state
	`)
	if err != nil {
		return nil, fmt.Errorf("job counts: %w", err)
	}
	defer rows.Close()

	counts := map[JobState]int64{}
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("job counts: scan: %w", err)
		}
		counts[JobState(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job counts: iterate: %w", err)
	}

	return counts, nil
}

// escapeLike makes a string safe as a literal LIKE prefix.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var state string
	var createdAt, updatedAt string
	var runID sql.NullString
	var queuedAt, startedAt, completedAt, lastHeartbeatAt sql.NullString
	var workspacePath, outputDir, progressPhase sql.NullString
	var errorCode, errorMessage, receiptPath, receiptHash, idemKey sql.NullString
	var progressPercent, itemsCompleted, itemsTotal sql.NullInt64

	err := row.Scan(
		&j.JobID, &runID, &state, &createdAt, &queuedAt, &startedAt, &completedAt, &updatedAt,
		&j.ConfigJSON, &j.ConfigHash, &workspacePath, &outputDir,
		&progressPercent, &progressPhase, &itemsCompleted, &itemsTotal,
		&errorCode, &errorMessage, &receiptPath, &receiptHash,
		&idemKey, &j.CancelRequested, &j.ClaimAttempts, &lastHeartbeatAt,
	)
	if err != nil {
		return Job{}, err
	}

	j.State = JobState(state)
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return Job{}, err
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Job{}, err
	}
	for _, f := range []struct {
		src sql.NullString
		dst *time.Time
	}{
		{queuedAt, &j.QueuedAt},
		{startedAt, &j.StartedAt},
		{completedAt, &j.CompletedAt},
		{lastHeartbeatAt, &j.LastHeartbeatAt},
	} {
		if f.src.Valid {
			if *f.dst, err = parseTime(f.src.String); err != nil {
				return Job{}, err
			}
		}
	}

	j.RunID = runID.String
	j.WorkspacePath = workspacePath.String
	j.OutputDir = outputDir.String
	j.ProgressPhase = progressPhase.String
	j.ProgressPercent = progressPercent.Int64
	j.ItemsCompleted = itemsCompleted.Int64
	j.ItemsTotal = itemsTotal.Int64
	j.ErrorCode = errorCode.String
	j.ErrorMessage = errorMessage.String
	j.ReceiptPath = receiptPath.String
	j.ReceiptHash = receiptHash.String
	j.IdempotencyKey = idemKey.String

	return j, nil
}
