package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Artifact types.
const (
	ArtifactOutput  = "output"
	ArtifactReceipt = "receipt"
	ArtifactLog     = "log"
	ArtifactPartial = "partial"
)

// Artifact statuses.
const (
	ArtifactPending     = "pending"
	ArtifactComplete    = "complete"
	ArtifactQuarantined = "quarantined"
)

// Artifact is a file produced by a job.
type Artifact struct {
	ID         int64
	JobID      string
	Name       string
	Path       string
	Type       string
	SizeBytes  int64
	SHA256     string
	Status     string
	CreatedAt  time.Time
	VerifiedAt time.Time
}

// RegisterArtifact records a pending artifact and returns its row ID.
func (s *Store) RegisterArtifact(ctx context.Context, jobID, name, path, artifactType string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (job_id, name, path, artifact_type, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, jobID, name, path, artifactType, formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("register artifact: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("register artifact: last insert id: %w", err)
	}
	return id, nil
}

// CompleteArtifact marks an artifact as fully written and verified.
func (s *Store) CompleteArtifact(ctx context.Context, artifactID, sizeBytes int64, sha256Hex string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE artifacts
		SET status = 'complete', size_bytes = ?, sha256 = ?, verified_at = ?
		WHERE id = ?
	`, sizeBytes, sha256Hex, formatTime(time.Now()), artifactID)
	if err != nil {
		return fmt.Errorf("complete artifact: %w", err)
	}
	return nil
}

// QuarantineArtifacts marks every non-complete artifact of a job as
// quarantined. Used by crash recovery so partial outputs are never mistaken
// for finished ones. Returns the number of artifacts quarantined.
func (s *Store) QuarantineArtifacts(ctx context.Context, jobID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE artifacts
		SET status = 'quarantined'
		WHERE job_id = ? AND status = 'pending'
	`, jobID)
	if err != nil {
		return 0, fmt.Errorf("quarantine artifacts: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("quarantine artifacts: rows affected: %w", err)
	}
	return n, nil
}

// JobArtifacts returns all artifacts for a job in creation order.
// Returns an empty slice (not nil) when the job has none.
func (s *Store) JobArtifacts(ctx context.Context, jobID string) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, name, path, artifact_type, size_bytes, sha256,
		       status, created_at, verified_at
		FROM artifacts
		WHERE job_id = ?
		ORDER BY id ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("job artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := []Artifact{}
	for rows.Next() {
		var a Artifact
		var createdAt string
		var sizeBytes sql.NullInt64
		var sha256Hex, verifiedAt sql.NullString
		if err := rows.Scan(&a.ID, &a.JobID, &a.Name, &a.Path, &a.Type,
			&sizeBytes, &sha256Hex, &a.Status, &createdAt, &verifiedAt); err != nil {
			return nil, fmt.Errorf("job artifacts: scan: %w", err)
		}
		a.SizeBytes = sizeBytes.Int64
		a.SHA256 = sha256Hex.String
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("job artifacts: %w", err)
		}
		if verifiedAt.Valid {
			if a.VerifiedAt, err = parseTime(verifiedAt.String); err != nil {
				return nil, fmt.Errorf("job artifacts: %w", err)
			}
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job artifacts: iterate: %w", err)
	}

	return artifacts, nil
}
