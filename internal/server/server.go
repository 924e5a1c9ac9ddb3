package server

import (
	"log/slog"
	"net/http"

	"github.com/roach88/scribe/internal/bus"
	"github.com/roach88/scribe/internal/engine"
	"github.com/roach88/scribe/internal/metrics"
	"github.com/roach88/scribe/internal/store"
)

// Server wires the HTTP surface to the engine components.
type Server struct {
	store     *store.Store
	bus       *bus.Bus
	manager   *engine.JobManager
	heartbeat *engine.Heartbeat
	collect   *metrics.Collector
	logger    *slog.Logger

	streamBuffer int
	safeMode     bool
}

// Options carries the server's tunables.
type Options struct {
	// StreamBuffer is the per-subscriber live buffer capacity.
	StreamBuffer int
	// SafeMode reflects whether job execution is disabled.
	SafeMode bool
}

// New builds a Server. The metrics collector may be nil, in which case the
// /metrics endpoint is absent.
func New(st *store.Store, b *bus.Bus, manager *engine.JobManager, hb *engine.Heartbeat, collect *metrics.Collector, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		store:        st,
		bus:          b,
		manager:      manager,
		heartbeat:    hb,
		collect:      collect,
		logger:       logger,
		streamBuffer: opts.StreamBuffer,
		safeMode:     opts.SafeMode,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /v1/jobs/{id}/receipt", s.handleGetReceipt)
	mux.HandleFunc("POST /v1/jobs/{id}/cancel", s.handleCancelJob)
	mux.HandleFunc("GET /v1/engine/status", s.handleStatus)
	if s.collect != nil {
		mux.Handle("GET /metrics", s.collect.Handler())
	}

	return mux
}
