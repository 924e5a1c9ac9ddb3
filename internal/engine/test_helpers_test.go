package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/roach88/scribe/internal/bus"
	"github.com/roach88/scribe/internal/config"
	"github.com/roach88/scribe/internal/store"
	"github.com/roach88/scribe/internal/testutil"
)

// testEngine bundles the wired components most engine tests need.
type testEngine struct {
	store   *store.Store
	bus     *bus.Bus
	emitter *Emitter
	manager *JobManager
	baseDir string
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	baseDir := t.TempDir()

	s, err := store.Open(filepath.Join(baseDir, "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	b := bus.New(nil)
	em := NewEmitter(s, b, nil, nil)
	mgr := NewJobManager(s, em, nil, nil, testutil.NewFixedIDGenerator(""),
		filepath.Join(baseDir, "workspaces"), false)

	return &testEngine{store: s, bus: b, emitter: em, manager: mgr, baseDir: baseDir}
}

// writeInputDoc creates an input file and returns its path.
func writeInputDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write input doc: %v", err)
	}
	return path
}

// testJobConfig returns a valid config pointing at the given input files.
func testJobConfig(inputs ...string) config.JobConfig {
	return config.JobConfig{
		SourceLang: "grc",
		TargetLang: "en",
		Style:      config.StyleNatural,
		InputPaths: inputs,
	}
}

// createTestJob creates a queued job with a one-document config.
func (e *testEngine) createTestJob(t *testing.T) store.Job {
	t.Helper()
	input := writeInputDoc(t, e.baseDir, "doc.txt", "menin aeide thea")
	job, created, err := e.manager.Create(context.Background(), testJobConfig(input), "")
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if !created {
		t.Fatal("Create() reported created=false for a fresh job")
	}
	return job
}

// startTestJob creates and claims a job, leaving it running.
func (e *testEngine) startTestJob(t *testing.T) store.Job {
	t.Helper()
	job := e.createTestJob(t)
	started, err := e.manager.Start(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !started {
		t.Fatalf("Start() did not claim %s", job.JobID)
	}
	fresh, err := e.manager.Get(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	return fresh
}
