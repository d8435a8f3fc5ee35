package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Tx is one transaction over the store. It is only valid inside the
// function passed to Update or View.
type Tx struct {
	ctx      context.Context
	tx       *sql.Tx
	clock    *Clock
	readOnly bool
	advanced bool
}

// NextSeq advances the logical clock. The new value is persisted when the
// transaction commits.
func (t *Tx) NextSeq() int64 {
	t.advanced = true
	return t.clock.Next()
}

// CurrentSeq returns the clock value without advancing it.
func (t *Tx) CurrentSeq() int64 {
	return t.clock.Current()
}

func (t *Tx) persistSeq() error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = MAX(value, excluded.value)
	`, metaSeqKey, t.clock.Current())
	if err != nil {
		return fmt.Errorf("persist seq: %w", err)
	}
	return nil
}

func (t *Tx) exec(op, query string, args ...any) (sql.Result, error) {
	if t.readOnly {
		return nil, fmt.Errorf("%s: write in read-only transaction", op)
	}
	res, err := t.tx.ExecContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
