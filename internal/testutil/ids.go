// Package testutil provides deterministic test doubles shared across
// packages.
package testutil

import (
	"fmt"
	"sync"
)

// FixedIDGenerator produces predictable job and run identifiers.
//
// Job IDs count up from 1 (job_00000001, job_00000002, ...) so test
// assertions and golden files are stable across runs. The run ID is fixed
// for the generator's lifetime, which keeps receipt bodies byte-identical.
//
// Thread-safe: the counter is mutex-protected.
type FixedIDGenerator struct {
	mu    sync.Mutex
	runID string
	next  int64
}

// NewFixedIDGenerator creates a generator whose first JobID call returns
// job_00000001. If runID is empty, "run-test-0001" is used.
func NewFixedIDGenerator(runID string) *FixedIDGenerator {
	if runID == "" {
		runID = "run-test-0001"
	}
	return &FixedIDGenerator{runID: runID}
}

// JobID implements engine.IDGenerator.
func (g *FixedIDGenerator) JobID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("job_%08d", g.next)
}

// RunID implements engine.IDGenerator.
func (g *FixedIDGenerator) RunID() string {
	return g.runID
}

// Reset restarts the job ID counter so a scenario can run twice with
// identical IDs.
func (g *FixedIDGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next = 0
}
