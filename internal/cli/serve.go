package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/scribe/internal/bus"
	"github.com/roach88/scribe/internal/engine"
	"github.com/roach88/scribe/internal/metrics"
	"github.com/roach88/scribe/internal/server"
	"github.com/roach88/scribe/internal/store"
)

// shutdownGrace is how long in-flight requests and the running job phase get
// to finish after a termination signal.
const shutdownGrace = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ListenAddr string
	SafeMode   bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the engine",
		Long: `Start the scribe engine: crash recovery, the job executor, the
heartbeat, the retention compactor, and the HTTP API.

Example:
  scribe serve
  scribe serve --safe-mode --listen 127.0.0.1:9000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.ListenAddr, "listen", "", "HTTP bind address (overrides config)")
	cmd.Flags().BoolVar(&opts.SafeMode, "safe-mode", false, "disable job execution, keep the API and stream up")

	return cmd
}

func runServe(parentCtx context.Context, opts *ServeOptions) error {
	logger := opts.Logger()

	cfg, err := opts.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.ListenAddr != "" {
		cfg.ListenAddr = opts.ListenAddr
	}
	if opts.SafeMode {
		cfg.SafeMode = true
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return WrapExitError(ExitCommandError, "failed to create data dir", err)
	}
	if err := os.MkdirAll(cfg.WorkspaceDir, 0o755); err != nil {
		return WrapExitError(ExitCommandError, "failed to create workspace dir", err)
	}

	logger.Info("opening database", "path", cfg.DBPath())
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	// A gap in the event log means lost events. Refuse to serve: clients
	// would silently miss history.
	if err := st.VerifyEventLog(ctx); err != nil {
		return WrapExitError(ExitFailure, "event log verification failed", err)
	}

	collect := metrics.NewCollector()
	b := bus.New(logger)
	emitter := engine.NewEmitter(st, b, logger, collect)
	manager := engine.NewJobManager(st, emitter, logger, collect, nil,
		cfg.WorkspaceDir, cfg.SafeMode)
	executor := engine.NewExecutor(manager, engine.NewTranslator(), logger)
	heartbeat := engine.NewHeartbeat(emitter, st, executor, logger, collect,
		cfg.HeartbeatInterval.Std())
	compactor := engine.NewCompactor(st, logger, collect, cfg.Retention)

	// Recovery must finish before the executor can claim work.
	recovered, err := engine.NewRecovery(st, manager, emitter, logger, collect).Run(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "crash recovery failed", err)
	}
	if len(recovered) > 0 {
		logger.Warn("crash recovery failed orphaned jobs", "count", len(recovered))
	}

	var wg sync.WaitGroup
	for _, loop := range []func(context.Context){
		executor.Run,
		heartbeat.Run,
		compactor.Run,
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop(ctx)
		}()
	}

	srv := server.New(st, b, manager, heartbeat, collect, logger, server.Options{
		StreamBuffer: cfg.StreamBuffer,
		SafeMode:     cfg.SafeMode,
	})
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "safe_mode", cfg.SafeMode)
		serveErr <- httpServer.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info("received signal, shutting down", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "http server failed", err)
		}
	}

	// Announce the stop on the stream, then give sessions and the running
	// job phase the grace period.
	if err := heartbeat.EmitShutdown(context.Background(), "signal", shutdownGrace); err != nil {
		logger.Error("shutdown event failed", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}

	cancel()
	wg.Wait()
	b.Close()

	logger.Info("engine stopped")
	return nil
}
