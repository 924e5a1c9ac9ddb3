package server

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/scribe/internal/bus"
	"github.com/roach88/scribe/internal/config"
	"github.com/roach88/scribe/internal/engine"
	"github.com/roach88/scribe/internal/metrics"
	"github.com/roach88/scribe/internal/store"
	"github.com/roach88/scribe/internal/testutil"
)

// testServer bundles a fully wired server and its engine components.
type testServer struct {
	store   *store.Store
	bus     *bus.Bus
	emitter *engine.Emitter
	manager *engine.JobManager
	handler http.Handler
	baseDir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	baseDir := t.TempDir()

	s, err := store.Open(filepath.Join(baseDir, "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	b := bus.New(nil)
	collect := metrics.NewCollector()
	em := engine.NewEmitter(s, b, nil, collect)
	mgr := engine.NewJobManager(s, em, nil, collect, testutil.NewFixedIDGenerator(""),
		filepath.Join(baseDir, "workspaces"), false)
	hb := engine.NewHeartbeat(em, s, nil, nil, collect, time.Second)

	srv := New(s, b, mgr, hb, collect, nil, Options{StreamBuffer: 64})
	return &testServer{
		store:   s,
		bus:     b,
		emitter: em,
		manager: mgr,
		handler: srv.Handler(),
		baseDir: baseDir,
	}
}

// createJob creates a queued job directly through the manager.
func (ts *testServer) createJob(t *testing.T) store.Job {
	t.Helper()
	input := filepath.Join(ts.baseDir, "doc.txt")
	job, _, err := ts.manager.Create(context.Background(), config.JobConfig{
		SourceLang: "grc",
		TargetLang: "en",
		Style:      config.StyleNatural,
		InputPaths: []string{input},
	}, "")
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	return job
}
