package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/roach88/scribe/internal/event"
	"github.com/roach88/scribe/internal/store"
)

// ReceiptSchemaVersion identifies the receipt body layout.
const ReceiptSchemaVersion = "1.0"

// Output describes one artifact produced by a runner.
type Output struct {
	Name      string
	Path      string
	SHA256    string
	SizeBytes int64
}

// writeReceipt builds the receipt body, writes it write-once to the job
// workspace, registers it as an artifact, and returns its path and content
// hash.
//
// The file holds the exact canonical bytes the hash was computed over, so
// anyone can re-derive the hash from the file alone. The write is atomic
// (temp file, fsync, rename) and the result is read-only.
func (m *JobManager) writeReceipt(ctx context.Context, job store.Job, status store.JobState, outputs []Output, errCode ErrorCode, errMessage string) (path, hash string, err error) {
	receiptPath := filepath.Join(job.WorkspacePath, "receipt.json")

	// Write-once: a receipt that exists with a recorded hash is final. A
	// file with no hash on the job row means a crash hit between the write
	// and the state transition; quarantine it and write a fresh one, or a
	// single torn write would block recovery on every restart.
	if _, statErr := os.Stat(receiptPath); statErr == nil {
		if job.ReceiptHash != "" {
			return receiptPath, job.ReceiptHash, nil
		}
		if err := quarantineStaleReceipt(job, receiptPath); err != nil {
			return "", "", fmt.Errorf("quarantine stale receipt: %w", err)
		}
		m.logger.Warn("stale receipt quarantined", "job_id", job.JobID, "path", receiptPath)
	}

	body, err := m.receiptBody(job, status, outputs, errCode, errMessage)
	if err != nil {
		return "", "", err
	}

	canonical, err := event.MarshalCanonical(body)
	if err != nil {
		return "", "", fmt.Errorf("marshal receipt: %w", err)
	}
	hash, err = event.HashReceipt(body)
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(job.WorkspacePath, 0o755); err != nil {
		return "", "", fmt.Errorf("receipt dir: %w", err)
	}
	if err := atomicWriteReadOnly(receiptPath, canonical); err != nil {
		return "", "", fmt.Errorf("write receipt: %w", err)
	}

	artifactID, err := m.store.RegisterArtifact(ctx, job.JobID, "receipt.json", receiptPath, store.ArtifactReceipt)
	if err != nil {
		return "", "", err
	}
	if err := m.store.CompleteArtifact(ctx, artifactID, int64(len(canonical)), hash); err != nil {
		return "", "", err
	}

	return receiptPath, hash, nil
}

// receiptStatus maps a terminal job state to the receipt status vocabulary.
// Failed jobs split on cause: a crash-recovered job reads "crash", any other
// failure reads "partial" because the receipt reports what finished, not a
// blanket verdict.
func receiptStatus(state store.JobState, errCode ErrorCode) string {
	switch state {
	case store.StateCompleted:
		return "final"
	case store.StateCancelled:
		return "cancelled"
	default:
		if errCode == ErrCodeEngineCrash {
			return "crash"
		}
		return "partial"
	}
}

// receiptBody assembles the canonical-JSON-safe receipt map: strings, ints,
// arrays, and objects only. No floats, no nulls; absent means omitted.
func (m *JobManager) receiptBody(job store.Job, status store.JobState, outputs []Output, errCode ErrorCode, errMessage string) (map[string]any, error) {
	configSnapshot, err := decodeCanonicalObject(job.ConfigJSON)
	if err != nil {
		return nil, fmt.Errorf("receipt config snapshot: %w", err)
	}

	var inputs []any
	if raw, ok := configSnapshot["input_paths"].([]any); ok {
		inputs = raw
	}

	timestamps := map[string]any{
		"created":   job.CreatedAt.UTC().Format(time.RFC3339Nano),
		"completed": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if !job.StartedAt.IsZero() {
		timestamps["started"] = job.StartedAt.UTC().Format(time.RFC3339Nano)
	}

	outs := make([]any, 0, len(outputs))
	for _, o := range outputs {
		outs = append(outs, map[string]any{
			"name":       o.Name,
			"sha256":     o.SHA256,
			"size_bytes": o.SizeBytes,
		})
	}

	runID := job.RunID
	if runID == "" {
		runID = m.ids.RunID()
	}

	body := map[string]any{
		"schema_version":  ReceiptSchemaVersion,
		"job_id":          job.JobID,
		"run_id":          runID,
		"receipt_status":  receiptStatus(status, errCode),
		"environment":     map[string]any{"engine_version": Version},
		"config_snapshot": configSnapshot,
		"config_hash":     job.ConfigHash,
		"timestamps":      timestamps,
		"outputs":         outs,
		"summary": map[string]any{
			"items_completed": job.ItemsCompleted,
			"items_total":     job.ItemsTotal,
		},
	}
	if len(inputs) > 0 {
		body["inputs"] = inputs
	}
	if pins := sourcePins(inputs); len(pins) > 0 {
		body["source_pins"] = pins
	}
	if errCode != "" {
		body["error"] = map[string]any{
			"code":    string(errCode),
			"message": errMessage,
		}
	}

	return body, nil
}

// sourcePins hashes each readable input document so the receipt records
// exactly which bytes the run consumed. Unreadable inputs are skipped; the
// pin set reflects what could still be observed at receipt time.
func sourcePins(inputs []any) map[string]any {
	pins := map[string]any{}
	for _, in := range inputs {
		path, ok := in.(string)
		if !ok {
			continue
		}
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		h := sha256.New()
		size, err := io.Copy(h, f)
		f.Close()
		if err != nil {
			continue
		}
		pins[path] = map[string]any{
			"sha256":     hex.EncodeToString(h.Sum(nil)),
			"size_bytes": size,
		}
	}
	return pins
}

// quarantineStaleReceipt moves a receipt file that never made it onto the
// job row into the workspace quarantine directory.
func quarantineStaleReceipt(job store.Job, receiptPath string) error {
	quarantineDir := filepath.Join(job.WorkspacePath, "quarantine")
	if err := os.MkdirAll(quarantineDir, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(quarantineDir,
		fmt.Sprintf("receipt.json.%s", uuid.NewString()[:8]))
	return os.Rename(receiptPath, dst)
}

// decodeCanonicalObject parses stored JSON with number preservation so the
// result survives canonical marshaling (json.Number, not float64).
func decodeCanonicalObject(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// atomicWriteReadOnly writes data via temp file, fsync, and rename, then
// makes the result read-only and fsyncs the directory.
func atomicWriteReadOnly(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp.%d.%s",
		filepath.Base(path), os.Getpid(), uuid.NewString()[:8]))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(path, 0o444); err != nil {
		return err
	}

	// Directory fsync for durability of the rename. Best effort on
	// filesystems that do not support it.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}

	return nil
}
