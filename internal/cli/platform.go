package cli

import (
	"context"
	"log/slog"

	"github.com/roach88/screentime/internal/domain"
)

// logEnforcer stands in for the platform block primitive, which this host
// does not have. Decisions are persisted by the engine either way; this
// only reports them.
type logEnforcer struct {
	logger *slog.Logger
}

func newLogEnforcer(logger *slog.Logger) *logEnforcer {
	return &logEnforcer{logger: logger}
}

func (e *logEnforcer) Apply(_ context.Context, id domain.LogicalID) error {
	e.logger.Info("block applied", "logical_id", id)
	return nil
}

func (e *logEnforcer) Remove(_ context.Context, id domain.LogicalID) error {
	e.logger.Info("block removed", "logical_id", id)
	return nil
}

// logMonitor records monitor (re-)registration. The monitor itself runs out
// of process and reports through the shared KV; `screentime emit` plays
// that part here.
type logMonitor struct {
	logger *slog.Logger
}

func newLogMonitor(logger *slog.Logger) *logMonitor {
	return &logMonitor{logger: logger}
}

func (m *logMonitor) Start(_ context.Context, scope string, generation, thresholdSeconds int64) error {
	m.logger.Info("usage monitor started",
		"scope", scope,
		"generation", generation,
		"threshold_seconds", thresholdSeconds)
	return nil
}

func (m *logMonitor) Stop(_ context.Context, scope string) error {
	m.logger.Info("usage monitor stopped", "scope", scope)
	return nil
}
