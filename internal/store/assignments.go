package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/screentime/internal/domain"
)

const assignmentColumns = `logical_id, category, points_rate, sort_key, label, seq`

func scanAssignment(row interface{ Scan(...any) error }) (domain.AssignmentEntry, error) {
	var e domain.AssignmentEntry
	var id, cat, key string
	if err := row.Scan(&id, &cat, &e.PointsRate, &key, &e.Label, &e.Seq); err != nil {
		return domain.AssignmentEntry{}, err
	}
	e.LogicalID = domain.LogicalID(id)
	e.Category = domain.Category(cat)
	e.SortKey = domain.HandleHash(key)
	return e, nil
}

// GetAssignment returns the entry for id. The category is returned as
// stored; callers validate it.
func (t *Tx) GetAssignment(id domain.LogicalID) (domain.AssignmentEntry, bool, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE logical_id = ?`, string(id))
	e, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AssignmentEntry{}, false, nil
	}
	if err != nil {
		return domain.AssignmentEntry{}, false, fmt.Errorf("get assignment: %w", err)
	}
	return e, true, nil
}

// ListAssignments returns every entry ordered by sort key, then logical id.
func (t *Tx) ListAssignments() ([]domain.AssignmentEntry, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		ORDER BY sort_key COLLATE BINARY ASC, logical_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	entries := []domain.AssignmentEntry{}
	for rows.Next() {
		e, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return entries, nil
}

// PutAssignment inserts or updates the entry for e.LogicalID. Only that row
// is written.
func (t *Tx) PutAssignment(e domain.AssignmentEntry) error {
	_, err := t.exec("put assignment", `
		INSERT INTO assignments (`+assignmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(logical_id) DO UPDATE SET
			category = excluded.category,
			points_rate = excluded.points_rate,
			sort_key = excluded.sort_key,
			label = excluded.label,
			seq = excluded.seq
	`, string(e.LogicalID), string(e.Category), e.PointsRate, string(e.SortKey), e.Label, e.Seq)
	return err
}

// DeleteAssignment removes the entry for id. Returns false if none existed.
func (t *Tx) DeleteAssignment(id domain.LogicalID) (bool, error) {
	res, err := t.exec("delete assignment", `DELETE FROM assignments WHERE logical_id = ?`, string(id))
	if err != nil {
		return false, err
	}
	return affected(res)
}
