package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/screentime/internal/domain"
)

// HandleIdentity is one row of the HandleHash -> LogicalID table.
type HandleIdentity struct {
	Hash       domain.HandleHash
	LogicalID  domain.LogicalID
	ExternalID string
	Seq        int64
}

// LookupHandle returns the identity persisted for hash.
func (t *Tx) LookupHandle(hash domain.HandleHash) (HandleIdentity, bool, error) {
	var hi HandleIdentity
	var id string
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT logical_id, external_id, seq
		FROM handle_identities WHERE handle_hash = ?
	`, string(hash)).Scan(&id, &hi.ExternalID, &hi.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return HandleIdentity{}, false, nil
	}
	if err != nil {
		return HandleIdentity{}, false, fmt.Errorf("lookup handle: %w", err)
	}
	hi.Hash = hash
	hi.LogicalID = domain.LogicalID(id)
	return hi, true, nil
}

// InsertHandle persists a mapping if hash has none yet. Returns false when a
// mapping already existed; the caller re-reads it.
func (t *Tx) InsertHandle(hi HandleIdentity) (bool, error) {
	res, err := t.exec("insert handle", `
		INSERT INTO handle_identities (handle_hash, logical_id, external_id, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(handle_hash) DO NOTHING
	`, string(hi.Hash), string(hi.LogicalID), hi.ExternalID, hi.Seq)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// ReplaceHandle overwrites the logical id of an existing mapping. Used only
// by corruption repair.
func (t *Tx) ReplaceHandle(hash domain.HandleHash, id domain.LogicalID, seq int64) error {
	res, err := t.exec("replace handle", `
		UPDATE handle_identities SET logical_id = ?, seq = ? WHERE handle_hash = ?
	`, string(id), seq, string(hash))
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return fmt.Errorf("replace handle: %w", err)
	}
	if !ok {
		return fmt.Errorf("replace handle: no mapping for %s", hash)
	}
	return nil
}

// LookupExternal returns the oldest mapping that carries externalID.
func (t *Tx) LookupExternal(externalID string) (HandleIdentity, bool, error) {
	var hi HandleIdentity
	var hash, id string
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT handle_hash, logical_id, external_id, seq
		FROM handle_identities WHERE external_id = ?
		ORDER BY seq ASC, handle_hash ASC
		LIMIT 1
	`, externalID).Scan(&hash, &id, &hi.ExternalID, &hi.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return HandleIdentity{}, false, nil
	}
	if err != nil {
		return HandleIdentity{}, false, fmt.Errorf("lookup external id: %w", err)
	}
	hi.Hash = domain.HandleHash(hash)
	hi.LogicalID = domain.LogicalID(id)
	return hi, true, nil
}

// SetExternalID records externalID as an alias on the mapping for hash.
func (t *Tx) SetExternalID(hash domain.HandleHash, externalID string) error {
	_, err := t.exec("set external id", `
		UPDATE handle_identities SET external_id = ? WHERE handle_hash = ?
	`, externalID, string(hash))
	return err
}
