package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IDGenerator produces job and run identifiers.
// Implemented by UUIDGenerator (production) and testutil.FixedIDGenerator.
type IDGenerator interface {
	// JobID returns a new job identifier, sortable by creation time.
	JobID() string
	// RunID returns a new run identifier for receipts.
	RunID() string
}

// UUIDGenerator is the production ID source.
// Job IDs embed a UTC timestamp for human-scannable ordering:
// job_20260101_120000_a1b2c3d4.
type UUIDGenerator struct{}

// JobID implements IDGenerator.
func (UUIDGenerator) JobID() string {
	now := time.Now().UTC()
	suffix := uuid.Must(uuid.NewV7()).String()
	return fmt.Sprintf("job_%s_%s", now.Format("20060102_150405"), suffix[len(suffix)-8:])
}

// RunID implements IDGenerator.
func (UUIDGenerator) RunID() string {
	return uuid.Must(uuid.NewV7()).String()
}
