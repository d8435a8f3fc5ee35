package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/screentime/internal/domain"
)

// GetRegistration returns the monitor registration of scope.
func (t *Tx) GetRegistration(scope string) (domain.Registration, bool, error) {
	reg := domain.Registration{Scope: scope}
	var active int
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT generation, active, threshold_seconds, seq
		FROM monitor_registrations WHERE scope = ?
	`, scope).Scan(&reg.Generation, &active, &reg.ThresholdSeconds, &reg.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Registration{Scope: scope}, false, nil
	}
	if err != nil {
		return domain.Registration{}, false, fmt.Errorf("get registration: %w", err)
	}
	reg.Active = active != 0
	return reg, true, nil
}

// PutRegistration inserts or replaces the registration of reg.Scope.
func (t *Tx) PutRegistration(reg domain.Registration) error {
	_, err := t.exec("put registration", `
		INSERT INTO monitor_registrations (scope, generation, active, threshold_seconds, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scope) DO UPDATE SET
			generation = excluded.generation,
			active = excluded.active,
			threshold_seconds = excluded.threshold_seconds,
			seq = excluded.seq
	`, reg.Scope, reg.Generation, boolToInt(reg.Active), reg.ThresholdSeconds, reg.Seq)
	return err
}
