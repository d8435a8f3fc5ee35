package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/screentime/internal/domain"
)

// AddMaster adds id to the Master selection. An existing member keeps its
// original seq; only its sort key is refreshed.
func (t *Tx) AddMaster(m domain.MasterMember) error {
	_, err := t.exec("add master", `
		INSERT INTO master_selection (logical_id, sort_key, seq)
		VALUES (?, ?, ?)
		ON CONFLICT(logical_id) DO UPDATE SET sort_key = excluded.sort_key
	`, string(m.LogicalID), string(m.SortKey), m.Seq)
	return err
}

// RemoveMaster removes id from the Master selection.
func (t *Tx) RemoveMaster(id domain.LogicalID) (bool, error) {
	res, err := t.exec("remove master", `DELETE FROM master_selection WHERE logical_id = ?`, string(id))
	if err != nil {
		return false, err
	}
	return affected(res)
}

// InMaster reports whether id is a Master member.
func (t *Tx) InMaster(id domain.LogicalID) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT COUNT(*) FROM master_selection WHERE logical_id = ?`, string(id)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("in master: %w", err)
	}
	return n > 0, nil
}

// ListMaster returns every Master member ordered by sort key.
func (t *Tx) ListMaster() ([]domain.MasterMember, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT logical_id, sort_key, seq FROM master_selection
		ORDER BY sort_key COLLATE BINARY ASC, logical_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query master: %w", err)
	}
	defer rows.Close()

	members := []domain.MasterMember{}
	for rows.Next() {
		var id, key string
		var m domain.MasterMember
		if err := rows.Scan(&id, &key, &m.Seq); err != nil {
			return nil, fmt.Errorf("scan master: %w", err)
		}
		m.LogicalID = domain.LogicalID(id)
		m.SortKey = domain.HandleHash(key)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate master: %w", err)
	}
	return members, nil
}

// PutTombstone records that id was removed at seq.
func (t *Tx) PutTombstone(id domain.LogicalID, seq int64) error {
	_, err := t.exec("put tombstone", `
		INSERT INTO tombstones (logical_id, removed_seq) VALUES (?, ?)
		ON CONFLICT(logical_id) DO UPDATE SET removed_seq = excluded.removed_seq
	`, string(id), seq)
	return err
}

// TombstoneSeq returns the seq at which id was last removed.
func (t *Tx) TombstoneSeq(id domain.LogicalID) (int64, bool, error) {
	var seq int64
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT removed_seq FROM tombstones WHERE logical_id = ?`, string(id)).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("tombstone seq: %w", err)
	}
	return seq, true, nil
}
