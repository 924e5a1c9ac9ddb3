package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scribe/internal/event"
	"github.com/roach88/scribe/internal/store"
)

func TestReceiptHashMatchesFileContent(t *testing.T) {
	e := newTestEngine(t)
	job := e.startTestJob(t)
	ctx := context.Background()

	require.NoError(t, e.manager.Complete(ctx, job.JobID, []Output{
		{Name: "renderings.json", Path: "/out/renderings.json", SHA256: "ab12", SizeBytes: 7},
	}))
	fresh, err := e.manager.Get(ctx, job.JobID)
	require.NoError(t, err)

	// The file holds the canonical bytes the hash covers, so anyone can
	// verify the hash from the file alone.
	data, err := os.ReadFile(fresh.ReceiptPath)
	require.NoError(t, err)

	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var body map[string]any
	require.NoError(t, dec.Decode(&body))

	recomputed, err := event.HashReceipt(body)
	require.NoError(t, err)
	assert.Equal(t, fresh.ReceiptHash, recomputed)
}

func TestReceiptBodyFields(t *testing.T) {
	e := newTestEngine(t)
	job := e.startTestJob(t)
	ctx := context.Background()

	require.NoError(t, e.manager.Fail(ctx, job.JobID, ErrCodeExecutionError, "boom"))
	fresh, err := e.manager.Get(ctx, job.JobID)
	require.NoError(t, err)

	data, err := os.ReadFile(fresh.ReceiptPath)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))

	assert.Equal(t, ReceiptSchemaVersion, body["schema_version"])
	assert.Equal(t, fresh.JobID, body["job_id"])
	assert.Equal(t, "partial", body["receipt_status"], "generic failure reports what finished")
	assert.Equal(t, fresh.ConfigHash, body["config_hash"])
	assert.Equal(t, fresh.RunID, body["run_id"], "receipt carries the job's run id")
	assert.NotEmpty(t, body["inputs"])

	snapshot, ok := body["config_snapshot"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "grc", snapshot["source_lang"])

	errBlock, ok := body["error"].(map[string]any)
	require.True(t, ok, "failure receipt carries the error block")
	assert.Equal(t, string(ErrCodeExecutionError), errBlock["code"])
	assert.Equal(t, "boom", errBlock["message"])

	// Canonical JSON forbids nulls; absence is the only way to say "not set".
	for key, value := range body {
		assert.NotNil(t, value, "receipt field %s must not be null", key)
	}
}

func TestReceiptPinsInputDocuments(t *testing.T) {
	e := newTestEngine(t)
	job := e.startTestJob(t)
	ctx := context.Background()

	require.NoError(t, e.manager.Complete(ctx, job.JobID, nil))
	fresh, err := e.manager.Get(ctx, job.JobID)
	require.NoError(t, err)

	data, err := os.ReadFile(fresh.ReceiptPath)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))

	pins, ok := body["source_pins"].(map[string]any)
	require.True(t, ok, "receipt pins its input documents")

	input := filepath.Join(e.baseDir, "doc.txt")
	pin, ok := pins[input].(map[string]any)
	require.True(t, ok, "pin keyed by input path")

	content := []byte("menin aeide thea")
	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), pin["sha256"])
	assert.Equal(t, float64(len(content)), pin["size_bytes"])
}

func TestReceiptStatusVocabulary(t *testing.T) {
	assert.Equal(t, "final", receiptStatus(store.StateCompleted, ""))
	assert.Equal(t, "cancelled", receiptStatus(store.StateCancelled, ErrCodeCancelled))
	assert.Equal(t, "partial", receiptStatus(store.StateFailed, ErrCodeExecutionError))
	assert.Equal(t, "crash", receiptStatus(store.StateFailed, ErrCodeEngineCrash))
}

func TestReceiptIsWriteOnce(t *testing.T) {
	e := newTestEngine(t)
	job := e.startTestJob(t)
	ctx := context.Background()

	require.NoError(t, e.manager.Complete(ctx, job.JobID, nil))
	fresh, err := e.manager.Get(ctx, job.JobID)
	require.NoError(t, err)

	path, hash, err := e.manager.writeReceipt(ctx, fresh, store.StateCompleted, nil, "", "")
	require.NoError(t, err)
	assert.Equal(t, fresh.ReceiptPath, path)
	assert.Equal(t, fresh.ReceiptHash, hash, "second write returns the original hash")
}

func TestReceiptRegisteredAsArtifact(t *testing.T) {
	e := newTestEngine(t)
	job := e.startTestJob(t)
	ctx := context.Background()

	require.NoError(t, e.manager.Complete(ctx, job.JobID, nil))

	artifacts, err := e.store.JobArtifacts(ctx, job.JobID)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, store.ArtifactReceipt, artifacts[0].Type)
	assert.Equal(t, store.ArtifactComplete, artifacts[0].Status)
	assert.NotZero(t, artifacts[0].SizeBytes)
}
