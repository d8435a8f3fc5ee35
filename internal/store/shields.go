package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/screentime/internal/domain"
)

// SetShield records that id is under enforcement. Returns false if it
// already was.
func (t *Tx) SetShield(id domain.LogicalID, seq int64) (bool, error) {
	res, err := t.exec("set shield", `
		INSERT INTO shields (logical_id, seq) VALUES (?, ?)
		ON CONFLICT(logical_id) DO NOTHING
	`, string(id), seq)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// ClearShield removes the shield of id. Returns false if there was none.
func (t *Tx) ClearShield(id domain.LogicalID) (bool, error) {
	res, err := t.exec("clear shield", `DELETE FROM shields WHERE logical_id = ?`, string(id))
	if err != nil {
		return false, err
	}
	return affected(res)
}

// IsShielded reports whether id is under enforcement.
func (t *Tx) IsShielded(id domain.LogicalID) (bool, error) {
	var seq int64
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT seq FROM shields WHERE logical_id = ?`, string(id)).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is shielded: %w", err)
	}
	return true, nil
}

// ListShields returns every shielded id.
func (t *Tx) ListShields() (domain.IDSet, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT logical_id FROM shields`)
	if err != nil {
		return nil, fmt.Errorf("query shields: %w", err)
	}
	defer rows.Close()

	set := domain.NewIDSet()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan shield: %w", err)
		}
		set.Add(domain.LogicalID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shields: %w", err)
	}
	return set, nil
}
