// Package ingest turns threshold callbacks of the usage monitor into usage
// deltas.
//
// A callback carries no data. The monitor writes an EventDescriptor to the
// shared key-value store and signals; the listener turns the signal into a
// non-blocking engine notification, and the engine calls Service.Ingest on
// its single writer goroutine with the descriptor read back from the store.
//
// Discard rules are applied in order:
//
//  1. the handle cannot be resolved (error)
//  2. the descriptor belongs to a torn-down or inactive registration (stale)
//  3. the item has no assignment, e.g. it was removed after the monitor
//     fired (orphaned)
//  4. the item is shielded: blocked screen time is not usage (shielded)
//  5. the physical event was already counted (duplicate)
//
// Anything else is applied atomically with the usage record update. The
// monitor is re-armed with Restart after applied, orphaned and shielded
// events.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/screentime/internal/domain"
	"github.com/roach88/screentime/internal/identity"
	"github.com/roach88/screentime/internal/metrics"
	"github.com/roach88/screentime/internal/sharedkv"
	"github.com/roach88/screentime/internal/store"
	"github.com/roach88/screentime/internal/usage"
)

// Result describes what happened to one descriptor.
type Result struct {
	Outcome   string             `json:"outcome"`
	EventID   string             `json:"event_id,omitempty"`
	LogicalID domain.LogicalID   `json:"logical_id,omitempty"`
	Record    domain.UsageRecord `json:"record"`
	Rearmed   bool               `json:"rearmed,omitempty"`
}

// Applied reports whether the descriptor changed usage.
func (r Result) Applied() bool {
	return r.Outcome == metrics.OutcomeApplied
}

// DescriptorSource reads descriptors by key. *sharedkv.Dir implements it.
type DescriptorSource interface {
	GetDescriptor(key string) (sharedkv.EventDescriptor, bool, error)
}

// Service is the usage ingest service.
type Service struct {
	resolver  *identity.Resolver
	usage     *usage.Store
	registrar *Registrar
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New creates an ingest service.
func New(resolver *identity.Resolver, u *usage.Store, registrar *Registrar, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		resolver:  resolver,
		usage:     u,
		registrar: registrar,
		logger:    logger,
		metrics:   m,
	}
}

// Registrar returns the monitor registrar.
func (s *Service) Registrar() *Registrar {
	return s.registrar
}

// EventID returns the physical identity of d: a keyed hash over its
// canonical JSON form. Redelivery of the same descriptor yields the same id.
func EventID(d sharedkv.EventDescriptor, hash domain.HandleHash) (string, error) {
	return domain.EventID(map[string]any{
		"scope":             d.Scope,
		"generation":        d.Generation,
		"sequence":          d.Sequence,
		"handle":            string(hash),
		"threshold_seconds": d.ThresholdSeconds,
		"occurred_at":       d.OccurredAt,
	})
}

// Read fetches the descriptor stored under key. ok is false when the key
// holds nothing.
func (s *Service) Read(src DescriptorSource, key string) (sharedkv.EventDescriptor, bool, error) {
	d, ok, err := src.GetDescriptor(key)
	if err != nil {
		s.metrics.IngestEvent(metrics.OutcomeFailed)
		return sharedkv.EventDescriptor{}, false, fmt.Errorf("read descriptor: %w", err)
	}
	return d, ok, nil
}

// Ingest applies one threshold descriptor inside tx.
func (s *Service) Ingest(ctx context.Context, tx *store.Tx, d sharedkv.EventDescriptor) (Result, error) {
	res, err := s.ingest(ctx, tx, d)
	if err != nil {
		if res.Outcome == "" {
			res.Outcome = metrics.OutcomeFailed
		}
		s.metrics.IngestEvent(res.Outcome)
		return res, err
	}
	s.metrics.IngestEvent(res.Outcome)
	return res, nil
}

func (s *Service) ingest(ctx context.Context, tx *store.Tx, d sharedkv.EventDescriptor) (Result, error) {
	if d.ThresholdSeconds <= 0 {
		return Result{}, fmt.Errorf("ingest: threshold_seconds must be > 0, got %d", d.ThresholdSeconds)
	}

	fp, id, err := s.resolver.ResolveHandle(tx, d.Handle)
	if err != nil {
		s.logger.Error("discarding unresolvable threshold event",
			"scope", d.Scope,
			"generation", d.Generation,
			"sequence", d.Sequence,
			"error", err)
		return Result{Outcome: metrics.OutcomeUnresolvable}, err
	}

	eventID, err := EventID(d, fp.Hash)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: %w", err)
	}
	res := Result{EventID: eventID, LogicalID: id}

	reg, ok, err := s.registrar.Current(tx, d.Scope)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: %w", err)
	}
	if !ok || !reg.Active || reg.Generation != d.Generation {
		res.Outcome = metrics.OutcomeStale
		s.logger.Debug("discarding stale threshold event",
			"event_id", eventID,
			"logical_id", id,
			"scope", d.Scope,
			"generation", d.Generation,
			"registered_generation", reg.Generation,
			"active", reg.Active)
		return s.withRecord(tx, res)
	}

	entry, assigned, err := tx.GetAssignment(id)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: %w", err)
	}
	if !assigned || !entry.Category.Valid() {
		res.Outcome = metrics.OutcomeOrphaned
		s.logger.Warn("discarding threshold event for unassigned item",
			"event_id", eventID,
			"logical_id", id,
			"error", domain.NewOrphanedHandleError(id, fp.Hash))
		if res, err = s.withRecord(tx, res); err != nil {
			return res, err
		}
		return s.rearm(ctx, tx, d, res)
	}

	shielded, err := tx.IsShielded(id)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: %w", err)
	}
	if shielded {
		res.Outcome = metrics.OutcomeShielded
		s.logger.Debug("discarding threshold event for shielded item",
			"event_id", eventID,
			"logical_id", id)
		if res, err = s.withRecord(tx, res); err != nil {
			return res, err
		}
		return s.rearm(ctx, tx, d, res)
	}

	rec, applied, err := s.usage.ApplyDelta(tx, usage.Delta{
		EventID:    eventID,
		LogicalID:  id,
		Seconds:    d.ThresholdSeconds,
		OccurredAt: d.OccurredAt,
	}, entry.PointsRate)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: %w", err)
	}
	res.Record = rec
	if !applied {
		res.Outcome = metrics.OutcomeDuplicate
		s.logger.Debug("discarding duplicate threshold event",
			"event_id", eventID,
			"logical_id", id)
		return res, nil
	}

	res.Outcome = metrics.OutcomeApplied
	s.logger.Info("usage applied",
		"event_id", eventID,
		"logical_id", id,
		"seconds", d.ThresholdSeconds,
		"accumulated_seconds", rec.AccumulatedSeconds,
		"accumulated_points", rec.AccumulatedPoints)
	return s.rearm(ctx, tx, d, res)
}

// rearm restarts the one-shot threshold registration that just fired.
func (s *Service) rearm(ctx context.Context, tx *store.Tx, d sharedkv.EventDescriptor, res Result) (Result, error) {
	if _, err := s.registrar.Restart(ctx, tx, d.Scope, 0); err != nil {
		// The caller rolls back; the event stays uncounted.
		res.Outcome = metrics.OutcomeFailed
		return res, fmt.Errorf("ingest: re-arm %s: %w", d.Scope, err)
	}
	res.Rearmed = true
	return res, nil
}

func (s *Service) withRecord(tx *store.Tx, res Result) (Result, error) {
	rec, err := s.usage.Get(tx, res.LogicalID)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: %w", err)
	}
	res.Record = rec
	return res, nil
}
