package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/screentime/internal/domain"
)

// GetUsage returns the usage record for id.
func (t *Tx) GetUsage(id domain.LogicalID) (domain.UsageRecord, bool, error) {
	rec := domain.UsageRecord{LogicalID: id}
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT seconds, points, last_event_at FROM usage_records WHERE logical_id = ?
	`, string(id)).Scan(&rec.AccumulatedSeconds, &rec.AccumulatedPoints, &rec.LastEventAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UsageRecord{LogicalID: id}, false, nil
	}
	if err != nil {
		return domain.UsageRecord{}, false, fmt.Errorf("get usage: %w", err)
	}
	return rec, true, nil
}

// PutUsage inserts or replaces the usage record for rec.LogicalID.
func (t *Tx) PutUsage(rec domain.UsageRecord, seq int64) error {
	_, err := t.exec("put usage", `
		INSERT INTO usage_records (logical_id, seconds, points, last_event_at, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(logical_id) DO UPDATE SET
			seconds = excluded.seconds,
			points = excluded.points,
			last_event_at = excluded.last_event_at,
			seq = excluded.seq
	`, string(rec.LogicalID), rec.AccumulatedSeconds, rec.AccumulatedPoints, rec.LastEventAt, seq)
	return err
}

// ListUsage returns every usage record ordered by logical id.
func (t *Tx) ListUsage() ([]domain.UsageRecord, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT logical_id, seconds, points, last_event_at FROM usage_records
		ORDER BY logical_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	records := []domain.UsageRecord{}
	for rows.Next() {
		var id string
		var rec domain.UsageRecord
		if err := rows.Scan(&id, &rec.AccumulatedSeconds, &rec.AccumulatedPoints, &rec.LastEventAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		rec.LogicalID = domain.LogicalID(id)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage: %w", err)
	}
	return records, nil
}

// InsertUsageEvent records a physical event. Uses ON CONFLICT(event_id) DO
// NOTHING; inserted is false for a redelivered event.
func (t *Tx) InsertUsageEvent(ev domain.UsageEvent) (inserted bool, err error) {
	res, err := t.exec("insert usage event", `
		INSERT INTO usage_events (event_id, logical_id, seconds, occurred_at, seq, voided)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`, ev.EventID, string(ev.LogicalID), ev.Seconds, ev.OccurredAt, ev.Seq, boolToInt(ev.Voided))
	if err != nil {
		return false, err
	}
	return affected(res)
}

// VoidUsageEvents marks every event of id as voided. Voided events stay in
// the log so a redelivery is still recognized as a duplicate.
func (t *Tx) VoidUsageEvents(id domain.LogicalID) (int64, error) {
	res, err := t.exec("void usage events", `
		UPDATE usage_events SET voided = 1 WHERE logical_id = ? AND voided = 0
	`, string(id))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListUsageEvents returns events in seq order. Voided events are included
// only when includeVoided is set.
func (t *Tx) ListUsageEvents(includeVoided bool) ([]domain.UsageEvent, error) {
	query := `
		SELECT event_id, logical_id, seconds, occurred_at, seq, voided FROM usage_events
		WHERE voided = 0
		ORDER BY seq ASC, event_id COLLATE BINARY ASC
	`
	if includeVoided {
		query = `
		SELECT event_id, logical_id, seconds, occurred_at, seq, voided FROM usage_events
		ORDER BY seq ASC, event_id COLLATE BINARY ASC
	`
	}
	rows, err := t.tx.QueryContext(t.ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query usage events: %w", err)
	}
	defer rows.Close()

	events := []domain.UsageEvent{}
	for rows.Next() {
		var ev domain.UsageEvent
		var id string
		var voided int
		if err := rows.Scan(&ev.EventID, &id, &ev.Seconds, &ev.OccurredAt, &ev.Seq, &voided); err != nil {
			return nil, fmt.Errorf("scan usage event: %w", err)
		}
		ev.LogicalID = domain.LogicalID(id)
		ev.Voided = voided != 0
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage events: %w", err)
	}
	return events, nil
}
