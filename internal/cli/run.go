package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/screentime/internal/engine"
	"github.com/roach88/screentime/internal/identity"
	"github.com/roach88/screentime/internal/ingest"
	"github.com/roach88/screentime/internal/metrics"
	"github.com/roach88/screentime/internal/sharedkv"
	"github.com/roach88/screentime/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	MetricsAddr string

	// IDGenerator allows overriding the LogicalID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator identity.IDGenerator

	// Ready, if set, is called once the engine, listener and metrics
	// endpoint are up (for testing).
	Ready func(eng *engine.Engine, metricsAddr string)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the engine and the threshold listener",
		Long: `Start the screentime engine.

The engine opens the SQLite database (creating it if it doesn't exist),
re-registers the usage monitor, watches the shared directory for threshold
events and starts the single-writer command loop. With --metrics-addr (or
metrics_addr in the config) Prometheus metrics are served on /metrics.

Example:
  screentime run --db ./screentime.db
  screentime run --config ./screentime.cue --metrics-addr :9090 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")

	return cmd
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.MetricsAddr != "" {
		cfg.MetricsAddr = opts.MetricsAddr
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg, opts.Verbose)
	slog.SetDefault(logger)

	slog.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	kv, err := sharedkv.Open(cfg.SharedDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open shared directory", err)
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	idGen := opts.IDGenerator
	if idGen == nil {
		idGen = identity.UUIDv7Generator{}
	}
	m := metrics.New()
	eng, err := engine.New(ctx, st,
		engine.WithRates(cfg.Rates.Assignment()),
		engine.WithIDGenerator(idGen),
		engine.WithEnforcer(newLogEnforcer(logger)),
		engine.WithMonitor(newLogMonitor(logger), cfg.MonitorScope, cfg.ThresholdSeconds),
		engine.WithEventSource(kv, cfg.EventKey),
		engine.WithPickerTimeout(cfg.PickerTimeout),
		engine.WithLogger(logger),
		engine.WithMetrics(m))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start engine", err)
	}

	listener, err := ingest.NewListener(kv, cfg.EventKey, eng, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to watch shared directory", err)
	}
	go func() {
		if err := listener.Run(ctx); err != nil {
			slog.Error("threshold listener stopped", "error", err)
		}
	}()

	metricsAddr := ""
	if cfg.MetricsAddr != "" {
		srv, addr, err := serveMetrics(cfg.MetricsAddr, m)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start metrics endpoint", err)
		}
		metricsAddr = addr
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
		slog.Info("metrics endpoint listening", "addr", addr)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("engine starting",
		"db", cfg.Database,
		"shared_dir", kv.Path(),
		"event_key", cfg.EventKey,
		"scope", cfg.MonitorScope)
	fmt.Fprintln(cmd.OutOrStdout(), "Engine started. Listening for threshold events...")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if opts.Ready != nil {
		opts.Ready(eng, metricsAddr)
	}

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	slog.Info("engine stopped gracefully")
	return nil
}

// serveMetrics starts the /metrics endpoint and returns the bound address.
func serveMetrics(addr string, m *metrics.Metrics) (*http.Server, string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics endpoint failed", "error", err)
		}
	}()
	return srv, ln.Addr().String(), nil
}
