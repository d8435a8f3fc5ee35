package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/screentime/internal/config"
	"github.com/roach88/screentime/internal/engine"
	"github.com/roach88/screentime/internal/identity"
	"github.com/roach88/screentime/internal/store"
)

// loadConfig reads the configuration and applies flag overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	return cfg, nil
}

// newLogger builds the text logger on w. --verbose forces debug level.
func newLogger(w io.Writer, cfg config.Config, verbose bool) *slog.Logger {
	level := cfg.Level()
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// session is an engine running for the duration of one command.
//
// It has no monitor and no event source: registering the monitor again
// would bump the generation and make a running `screentime run` discard the
// monitor's events as stale.
type session struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.Store
	engine *engine.Engine
	cancel context.CancelFunc
	done   chan struct{}
}

// openSession loads the configuration, opens the store and starts an engine
// over it.
func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg, opts.Verbose)

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	eng, err := engine.New(ctx, st,
		engine.WithRates(cfg.Rates.Assignment()),
		engine.WithIDGenerator(identity.UUIDv7Generator{}),
		engine.WithEnforcer(newLogEnforcer(logger)),
		engine.WithPickerTimeout(cfg.PickerTimeout),
		engine.WithLogger(logger))
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to start engine", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		cfg:    cfg,
		logger: logger,
		store:  st,
		engine: eng,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		_ = eng.Run(runCtx)
	}()
	return s, nil
}

// Close stops the engine, waits for the loop to exit and closes the store.
func (s *session) Close() {
	s.engine.Stop()
	<-s.done
	s.cancel()
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing database", "error", err)
	}
}
