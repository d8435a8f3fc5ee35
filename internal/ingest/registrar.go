package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/screentime/internal/domain"
	"github.com/roach88/screentime/internal/store"
)

// Registrar owns the usage-monitor registration of each scope.
//
// The platform flushes time accumulated under a registration that is
// replaced without being torn down, and reports it as fresh foreground
// activity. Start therefore refuses an active scope; the only way to re-arm
// is Restart, which is Stop THEN Start.
//
// Every Start persists a new generation. The monitor stamps its descriptors
// with the generation it was started with, so descriptors from a torn-down
// registration are recognizable as stale.
type Registrar struct {
	monitor domain.Monitor
	logger  *slog.Logger
}

// NewRegistrar creates a registrar driving monitor.
func NewRegistrar(monitor domain.Monitor, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{monitor: monitor, logger: logger}
}

// Start registers scope with a fresh generation. Fails with
// MONITOR_REGISTRATION when scope is already active.
func (r *Registrar) Start(ctx context.Context, tx *store.Tx, scope string, thresholdSeconds int64) (domain.Registration, error) {
	if scope == "" {
		return domain.Registration{}, domain.NewMonitorRegistrationError(scope, "empty scope")
	}
	if thresholdSeconds <= 0 {
		return domain.Registration{}, domain.NewMonitorRegistrationError(scope,
			fmt.Sprintf("threshold must be > 0 seconds, got %d", thresholdSeconds))
	}

	reg, _, err := tx.GetRegistration(scope)
	if err != nil {
		return domain.Registration{}, fmt.Errorf("start monitor %s: %w", scope, err)
	}
	if reg.Active {
		return domain.Registration{}, domain.NewMonitorRegistrationError(scope,
			fmt.Sprintf("scope already active at generation %d; stop it first", reg.Generation))
	}

	reg.Generation++
	reg.Active = true
	reg.ThresholdSeconds = thresholdSeconds
	reg.Seq = tx.NextSeq()
	if err := tx.PutRegistration(reg); err != nil {
		return domain.Registration{}, fmt.Errorf("start monitor %s: %w", scope, err)
	}

	if err := r.monitor.Start(ctx, scope, reg.Generation, thresholdSeconds); err != nil {
		merr := domain.NewMonitorRegistrationError(scope, "monitor refused registration")
		merr.Err = err
		return domain.Registration{}, merr
	}

	r.logger.Debug("monitor started",
		"scope", scope,
		"generation", reg.Generation,
		"threshold_seconds", thresholdSeconds)
	return reg, nil
}

// Stop tears down the registration of scope. The monitor is always told to
// stop, even when no active registration is recorded, so a registration
// left behind by a crash cannot survive.
func (r *Registrar) Stop(ctx context.Context, tx *store.Tx, scope string) (domain.Registration, error) {
	reg, ok, err := tx.GetRegistration(scope)
	if err != nil {
		return domain.Registration{}, fmt.Errorf("stop monitor %s: %w", scope, err)
	}

	if err := r.monitor.Stop(ctx, scope); err != nil {
		merr := domain.NewMonitorRegistrationError(scope, "monitor refused teardown")
		merr.Err = err
		return domain.Registration{}, merr
	}

	if ok && reg.Active {
		reg.Active = false
		reg.Seq = tx.NextSeq()
		if err := tx.PutRegistration(reg); err != nil {
			return domain.Registration{}, fmt.Errorf("stop monitor %s: %w", scope, err)
		}
	}
	r.logger.Debug("monitor stopped", "scope", scope, "generation", reg.Generation)
	return reg, nil
}

// Restart re-arms scope: Stop, then Start with the next generation.
// A zero thresholdSeconds keeps the registered threshold.
func (r *Registrar) Restart(ctx context.Context, tx *store.Tx, scope string, thresholdSeconds int64) (domain.Registration, error) {
	prev, err := r.Stop(ctx, tx, scope)
	if err != nil {
		return domain.Registration{}, err
	}
	if thresholdSeconds <= 0 {
		thresholdSeconds = prev.ThresholdSeconds
	}
	return r.Start(ctx, tx, scope, thresholdSeconds)
}

// Current returns the persisted registration of scope.
func (r *Registrar) Current(tx *store.Tx, scope string) (domain.Registration, bool, error) {
	return tx.GetRegistration(scope)
}
