package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scribe/internal/event"
	"github.com/roach88/scribe/internal/store"
)

func TestRecoveryFailsOrphanedJobs(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// A running job at startup means the previous process died mid-job.
	job := e.startTestJob(t)
	partialPath := writeInputDoc(t, job.OutputDir, "partial.json", "{}")
	_, err := e.store.RegisterArtifact(ctx, job.JobID, "partial.json",
		partialPath, store.ArtifactPartial)
	require.NoError(t, err)

	sub := e.bus.Subscribe(16)
	defer e.bus.Unsubscribe(sub)

	recovered, err := NewRecovery(e.store, e.manager, e.emitter, nil, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{job.JobID}, recovered)

	fresh, err := e.manager.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, store.StateFailed, fresh.State)
	assert.Equal(t, string(ErrCodeEngineCrash), fresh.ErrorCode)
	assert.NotEmpty(t, fresh.ReceiptPath, "recovered jobs still get a receipt")

	artifacts, err := e.store.JobArtifacts(ctx, job.JobID)
	require.NoError(t, err)
	var quarantined bool
	for _, a := range artifacts {
		if a.Type == store.ArtifactPartial {
			assert.Equal(t, store.ArtifactQuarantined, a.Status)
			quarantined = true
		}
	}
	assert.True(t, quarantined)

	_, statErr := os.Stat(filepath.Join(job.WorkspacePath, "quarantine", "partial.json"))
	assert.NoError(t, statErr, "partial output moved under quarantine/")
	_, statErr = os.Stat(partialPath)
	assert.True(t, os.IsNotExist(statErr), "partial output removed from output/")

	// state_changed for the failure, then the recovery summary.
	var sawCrashEvent bool
	for range 2 {
		ev := <-sub.Events()
		if ev.Type == event.TypeCrashRecovered {
			assert.Equal(t, 1, int(ev.Payload["count"].(int)))
			sawCrashEvent = true
		}
	}
	assert.True(t, sawCrashEvent)
}

func TestRecoveryReplacesStaleReceiptFile(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// A crash between writing receipt.json and committing the transition
	// leaves the file on disk with no hash on the job row. That must not
	// block recovery on the next start.
	job := e.startTestJob(t)
	stalePath := filepath.Join(job.WorkspacePath, "receipt.json")
	require.NoError(t, os.WriteFile(stalePath, []byte(`{"torn":"write"}`), 0o444))

	recovered, err := NewRecovery(e.store, e.manager, e.emitter, nil, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{job.JobID}, recovered)

	fresh, err := e.manager.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, store.StateFailed, fresh.State)
	assert.NotEmpty(t, fresh.ReceiptHash, "fresh receipt recorded on the job row")

	data, err := os.ReadFile(stalePath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "torn", "stale bytes replaced")

	entries, err := os.ReadDir(filepath.Join(job.WorkspacePath, "quarantine"))
	require.NoError(t, err)
	var moved bool
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "receipt.json") {
			moved = true
		}
	}
	assert.True(t, moved, "stale receipt moved under quarantine/")
}

func TestRecoveryIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.startTestJob(t)

	r := NewRecovery(e.store, e.manager, e.emitter, nil, nil)

	first, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, second, "second pass finds nothing running")
}

func TestRecoveryNoOrphans(t *testing.T) {
	e := newTestEngine(t)
	e.createTestJob(t) // queued, not orphaned

	recovered, err := NewRecovery(e.store, e.manager, e.emitter, nil, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recovered)
}
