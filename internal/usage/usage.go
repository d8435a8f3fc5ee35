// Package usage maintains the persisted LogicalID -> UsageRecord map.
//
// # Idempotency
//
// Idempotency is structural. Every applied delta is first written to
// usage_events keyed by the content hash of its physical event:
//
//	[Delta] → InsertUsageEvent
//	              inserted=true  → record.seconds += delta, reprice, persist
//	              inserted=false → skip (already counted)
//
// Both writes happen in the caller's transaction, so a crash between them
// is impossible: either the event and the increment are both observed, or
// neither is. Removal voids an item's events instead of deleting them, so a
// late redelivery is still recognized as a duplicate and not re-counted.
//
// # Replay
//
// Rebuild recomputes every record from the non-voided event log. Verify
// compares the result with the stored records.
package usage

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/screentime/internal/domain"
	"github.com/roach88/screentime/internal/store"
)

// Delta is one physical usage increment.
type Delta struct {
	EventID    string
	LogicalID  domain.LogicalID
	Seconds    int64
	OccurredAt int64 // unix seconds
}

// Store applies usage rules on top of a store transaction.
type Store struct {
	logger *slog.Logger
}

// New creates a usage store.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{logger: logger}
}

// ApplyDelta adds d to the record of d.LogicalID and recomputes points at
// ratePerMinute. Returns applied=false without touching the record when the
// event was already recorded.
func (s *Store) ApplyDelta(tx *store.Tx, d Delta, ratePerMinute int64) (domain.UsageRecord, bool, error) {
	if d.EventID == "" {
		return domain.UsageRecord{}, false, fmt.Errorf("apply delta: empty event id")
	}
	if d.Seconds <= 0 {
		return domain.UsageRecord{}, false, fmt.Errorf("apply delta %s: seconds must be > 0, got %d", d.EventID, d.Seconds)
	}

	seq := tx.NextSeq()
	inserted, err := tx.InsertUsageEvent(domain.UsageEvent{
		EventID:    d.EventID,
		LogicalID:  d.LogicalID,
		Seconds:    d.Seconds,
		OccurredAt: d.OccurredAt,
		Seq:        seq,
	})
	if err != nil {
		return domain.UsageRecord{}, false, fmt.Errorf("apply delta: %w", err)
	}
	if !inserted {
		rec, _, err := tx.GetUsage(d.LogicalID)
		if err != nil {
			return domain.UsageRecord{}, false, fmt.Errorf("apply delta: %w", err)
		}
		return rec, false, nil
	}

	rec, _, err := tx.GetUsage(d.LogicalID)
	if err != nil {
		return domain.UsageRecord{}, false, fmt.Errorf("apply delta: %w", err)
	}
	rec.AccumulatedSeconds += d.Seconds
	rec.AccumulatedPoints = domain.PointsFor(rec.AccumulatedSeconds, ratePerMinute)
	rec.LastEventAt = max(rec.LastEventAt, d.OccurredAt)
	if err := tx.PutUsage(rec, seq); err != nil {
		return domain.UsageRecord{}, false, fmt.Errorf("apply delta: %w", err)
	}
	return rec, true, nil
}

// Reprice recomputes the points of id at a new rate. Seconds are untouched.
func (s *Store) Reprice(tx *store.Tx, id domain.LogicalID, ratePerMinute int64) (domain.UsageRecord, error) {
	rec, ok, err := tx.GetUsage(id)
	if err != nil {
		return domain.UsageRecord{}, fmt.Errorf("reprice %s: %w", id, err)
	}
	if !ok {
		return rec, nil
	}
	points := domain.PointsFor(rec.AccumulatedSeconds, ratePerMinute)
	if points == rec.AccumulatedPoints {
		return rec, nil
	}
	rec.AccumulatedPoints = points
	if err := tx.PutUsage(rec, tx.NextSeq()); err != nil {
		return domain.UsageRecord{}, fmt.Errorf("reprice %s: %w", id, err)
	}
	return rec, nil
}

// Reset zeroes the record of id and voids its events. Used only for
// deliberate removal; ordinary reconfiguration never resets usage.
func (s *Store) Reset(tx *store.Tx, id domain.LogicalID) error {
	voided, err := tx.VoidUsageEvents(id)
	if err != nil {
		return fmt.Errorf("reset usage %s: %w", id, err)
	}
	if err := tx.PutUsage(domain.UsageRecord{LogicalID: id}, tx.NextSeq()); err != nil {
		return fmt.Errorf("reset usage %s: %w", id, err)
	}
	s.logger.Debug("usage reset", "logical_id", id, "voided_events", voided)
	return nil
}

// Get returns the record of id; a missing record reads as zero.
func (s *Store) Get(tx *store.Tx, id domain.LogicalID) (domain.UsageRecord, error) {
	rec, _, err := tx.GetUsage(id)
	return rec, err
}

// Rebuild replays events into records. Voided events are skipped. rateFor
// returns the current points rate of an item.
func Rebuild(events []domain.UsageEvent, rateFor func(domain.LogicalID) int64) map[domain.LogicalID]domain.UsageRecord {
	out := map[domain.LogicalID]domain.UsageRecord{}
	for _, ev := range events {
		if ev.Voided {
			continue
		}
		rec := out[ev.LogicalID]
		rec.LogicalID = ev.LogicalID
		rec.AccumulatedSeconds += ev.Seconds
		rec.LastEventAt = max(rec.LastEventAt, ev.OccurredAt)
		out[ev.LogicalID] = rec
	}
	for id, rec := range out {
		rec.AccumulatedPoints = domain.PointsFor(rec.AccumulatedSeconds, rateFor(id))
		out[id] = rec
	}
	return out
}

// Mismatch is one record whose stored value differs from its replay.
type Mismatch struct {
	LogicalID domain.LogicalID   `json:"logical_id"`
	Stored    domain.UsageRecord `json:"stored"`
	Rebuilt   domain.UsageRecord `json:"rebuilt"`
}

// Verify replays the event log and reports every record that differs from
// the stored one, in LogicalID order. Rates come from current assignments;
// unassigned items replay at rate 0.
func (s *Store) Verify(tx *store.Tx) ([]Mismatch, error) {
	rebuilt, stored, err := s.replay(tx)
	if err != nil {
		return nil, err
	}

	ids := domain.NewIDSet()
	for id := range rebuilt {
		ids.Add(id)
	}
	for id := range stored {
		ids.Add(id)
	}

	mismatches := []Mismatch{}
	for _, id := range ids.Sorted() {
		want := rebuilt[id]
		want.LogicalID = id
		got := stored[id]
		got.LogicalID = id
		if want != got {
			mismatches = append(mismatches, Mismatch{LogicalID: id, Stored: got, Rebuilt: want})
		}
	}
	return mismatches, nil
}

// Restore overwrites every mismatching record with its replayed value.
// Returns the repaired ids.
func (s *Store) Restore(tx *store.Tx) ([]domain.LogicalID, error) {
	mismatches, err := s.Verify(tx)
	if err != nil {
		return nil, err
	}
	ids := make([]domain.LogicalID, 0, len(mismatches))
	for _, m := range mismatches {
		if err := tx.PutUsage(m.Rebuilt, tx.NextSeq()); err != nil {
			return nil, fmt.Errorf("restore usage: %w", err)
		}
		s.logger.Warn("usage record restored from event log",
			"logical_id", m.LogicalID,
			"stored_seconds", m.Stored.AccumulatedSeconds,
			"rebuilt_seconds", m.Rebuilt.AccumulatedSeconds)
		ids = append(ids, m.LogicalID)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Store) replay(tx *store.Tx) (rebuilt, stored map[domain.LogicalID]domain.UsageRecord, err error) {
	events, err := tx.ListUsageEvents(false)
	if err != nil {
		return nil, nil, fmt.Errorf("verify usage: %w", err)
	}
	entries, err := tx.ListAssignments()
	if err != nil {
		return nil, nil, fmt.Errorf("verify usage: %w", err)
	}
	rates := make(map[domain.LogicalID]int64, len(entries))
	for _, e := range entries {
		rates[e.LogicalID] = e.PointsRate
	}
	rebuilt = Rebuild(events, func(id domain.LogicalID) int64 { return rates[id] })

	records, err := tx.ListUsage()
	if err != nil {
		return nil, nil, fmt.Errorf("verify usage: %w", err)
	}
	stored = make(map[domain.LogicalID]domain.UsageRecord, len(records))
	for _, r := range records {
		stored[r.LogicalID] = r
	}
	return rebuilt, stored, nil
}
