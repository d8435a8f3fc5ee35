package engine

import (
	"context"
	"fmt"

	"github.com/roach88/screentime/internal/domain"
	"github.com/roach88/screentime/internal/enforce"
	"github.com/roach88/screentime/internal/ingest"
	"github.com/roach88/screentime/internal/selection"
	"github.com/roach88/screentime/internal/sharedkv"
	"github.com/roach88/screentime/internal/store"
	"github.com/roach88/screentime/internal/usage"
)

// OpenContext opens a picker context for category and returns what the
// picker must be shown.
func (e *Engine) OpenContext(ctx context.Context, category domain.Category) (domain.PickerRequest, error) {
	return call(ctx, e, "open_context", func(ctx context.Context) (domain.PickerRequest, error) {
		var req domain.PickerRequest
		err := e.store.View(ctx, func(tx *store.Tx) error {
			var err error
			req, err = e.reconciler.OpenContext(ctx, tx, category)
			return err
		})
		return req, err
	})
}

// PickerReturned records the picker's result as Pending.
func (e *Engine) PickerReturned(ctx context.Context, handles []domain.CapabilityHandle) (selection.PendingView, error) {
	return call(ctx, e, "picker_returned", func(ctx context.Context) (selection.PendingView, error) {
		var view selection.PendingView
		err := e.store.View(ctx, func(tx *store.Tx) error {
			var err error
			view, err = e.reconciler.PickerReturned(ctx, tx, handles)
			return err
		})
		return view, err
	})
}

// Pending returns the current Pending set.
func (e *Engine) Pending(ctx context.Context) (selection.PendingView, error) {
	return call(ctx, e, "pending", func(context.Context) (selection.PendingView, error) {
		return e.reconciler.Pending(), nil
	})
}

// SelectionState returns the state of the selection protocol.
func (e *Engine) SelectionState(ctx context.Context) (string, error) {
	return call(ctx, e, "selection_state", func(context.Context) (string, error) {
		return e.reconciler.State(), nil
	})
}

// Commit merges Pending into the assignment map and Master. Items that end
// up in the reward category are shielded; items moved out of it are
// released. A CONFLICT leaves the selection open.
func (e *Engine) Commit(ctx context.Context, category domain.Category, overrides map[domain.HandleHash]selection.Override) (selection.CommitResult, error) {
	return call(ctx, e, "commit", func(ctx context.Context) (selection.CommitResult, error) {
		var res selection.CommitResult
		var reqs []enforce.Request
		err := e.store.Update(ctx, func(tx *store.Tx) error {
			var err error
			res, err = e.reconciler.Commit(ctx, tx, category, overrides)
			if err != nil {
				return err
			}
			reqs, err = e.shieldChanges(tx, res)
			return err
		})
		if err != nil {
			return selection.CommitResult{}, err
		}
		e.enforcement(reqs)
		e.refreshAfter(ctx, "commit")
		return res, nil
	})
}

// shieldChanges updates shield state for every category change of a
// commit and returns the enforcement calls to issue after it commits.
func (e *Engine) shieldChanges(tx *store.Tx, res selection.CommitResult) ([]enforce.Request, error) {
	var reqs []enforce.Request
	for _, ch := range res.Changes {
		switch {
		case ch.To.Blocked() && !ch.From.Blocked():
			set, err := tx.SetShield(ch.LogicalID, tx.NextSeq())
			if err != nil {
				return nil, fmt.Errorf("shield %s: %w", ch.LogicalID, err)
			}
			if set {
				reqs = append(reqs, enforce.Request{Action: enforce.ActionApply, LogicalID: ch.LogicalID})
			}
		case ch.From.Blocked() && !ch.To.Blocked():
			cleared, err := tx.ClearShield(ch.LogicalID)
			if err != nil {
				return nil, fmt.Errorf("unshield %s: %w", ch.LogicalID, err)
			}
			if cleared {
				reqs = append(reqs, enforce.Request{Action: enforce.ActionRemove, LogicalID: ch.LogicalID})
			}
		}
	}
	return reqs, nil
}

// Cancel discards an open selection without touching Master.
func (e *Engine) Cancel(ctx context.Context) error {
	_, err := call(ctx, e, "cancel", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.reconciler.Cancel(ctx)
	})
	return err
}

// Reset forces the selection protocol back to idle.
func (e *Engine) Reset(ctx context.Context) error {
	_, err := call(ctx, e, "reset", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.reconciler.Reset(ctx)
	})
	return err
}

// RemoveResult describes a removal.
type RemoveResult struct {
	LogicalID  domain.LogicalID `json:"logical_id"`
	Category   domain.Category  `json:"category,omitempty"`
	Unshielded bool             `json:"unshielded"`
	Pruned     bool             `json:"pruned"`
	RemovedSeq int64            `json:"removed_seq"`
}

// RemoveItem deliberately removes id: enforcement is lifted, usage is
// zeroed, the assignment and Master membership are deleted, and any
// in-flight selection is pruned of it. The handle mapping is kept, so the
// same item re-added later resolves to the same LogicalID with zero usage.
func (e *Engine) RemoveItem(ctx context.Context, id domain.LogicalID) (RemoveResult, error) {
	return call(ctx, e, "remove_item", func(ctx context.Context) (RemoveResult, error) {
		res := RemoveResult{LogicalID: id}
		var shielded bool
		err := e.store.Update(ctx, func(tx *store.Tx) error {
			entry, assigned, err := tx.GetAssignment(id)
			if err != nil {
				return err
			}
			inMaster, err := tx.InMaster(id)
			if err != nil {
				return err
			}
			if !assigned && !inMaster {
				return domain.NewNotFoundError(id)
			}
			res.Category = entry.Category
			if shielded, err = tx.ClearShield(id); err != nil {
				return err
			}
			if _, err := e.assignments.Delete(tx, id); err != nil {
				return err
			}
			if _, err := tx.RemoveMaster(id); err != nil {
				return err
			}
			if err := e.usage.Reset(tx, id); err != nil {
				return err
			}
			res.RemovedSeq = tx.NextSeq()
			return tx.PutTombstone(id, res.RemovedSeq)
		})
		if err != nil {
			return RemoveResult{}, err
		}

		res.Unshielded = shielded || res.Category.Blocked()
		if res.Unshielded {
			e.enforcement([]enforce.Request{{Action: enforce.ActionRemove, LogicalID: id}})
		}
		res.Pruned = e.reconciler.PruneOrphan(id, res.RemovedSeq)
		e.logger.Info("item removed",
			"logical_id", id,
			"category", res.Category,
			"pruned_in_flight", res.Pruned)
		e.refreshAfter(ctx, "remove_item")
		return res, nil
	})
}

// SetRate changes the points rate of id and reprices its usage.
func (e *Engine) SetRate(ctx context.Context, id domain.LogicalID, ratePerMinute int64) (domain.AssignmentEntry, error) {
	return call(ctx, e, "set_rate", func(ctx context.Context) (domain.AssignmentEntry, error) {
		var entry domain.AssignmentEntry
		err := e.store.Update(ctx, func(tx *store.Tx) error {
			var err error
			if entry, err = e.assignments.SetRate(tx, id, ratePerMinute); err != nil {
				return err
			}
			_, err = e.usage.Reprice(tx, id, ratePerMinute)
			return err
		})
		if err != nil {
			return domain.AssignmentEntry{}, err
		}
		e.refreshAfter(ctx, "set_rate")
		return entry, nil
	})
}

// Unlock lifts the shield of a reward item for a spending session.
func (e *Engine) Unlock(ctx context.Context, id domain.LogicalID) error {
	return e.setShield(ctx, "unlock", id, false)
}

// Relock restores the shield of a reward item.
func (e *Engine) Relock(ctx context.Context, id domain.LogicalID) error {
	return e.setShield(ctx, "relock", id, true)
}

func (e *Engine) setShield(ctx context.Context, op string, id domain.LogicalID, on bool) error {
	_, err := call(ctx, e, op, func(ctx context.Context) (struct{}, error) {
		changed := false
		err := e.store.Update(ctx, func(tx *store.Tx) error {
			entry, ok, err := tx.GetAssignment(id)
			if err != nil {
				return err
			}
			if !ok {
				return domain.NewNotFoundError(id)
			}
			if !entry.Category.Blocked() {
				return domain.NewInvalidStateError(op, string(entry.Category))
			}
			if on {
				changed, err = tx.SetShield(id, tx.NextSeq())
			} else {
				changed, err = tx.ClearShield(id)
			}
			return err
		})
		if err != nil || !changed {
			return struct{}{}, err
		}
		action := enforce.ActionRemove
		if on {
			action = enforce.ActionApply
		}
		e.enforcement([]enforce.Request{{Action: action, LogicalID: id}})
		e.refreshAfter(ctx, op)
		return struct{}{}, nil
	})
	return err
}

// IngestThreshold applies one threshold descriptor.
func (e *Engine) IngestThreshold(ctx context.Context, d sharedkv.EventDescriptor) (ingest.Result, error) {
	return call(ctx, e, "ingest_threshold", func(ctx context.Context) (ingest.Result, error) {
		return e.ingestDescriptor(ctx, d)
	})
}

func (e *Engine) ingestDescriptor(ctx context.Context, d sharedkv.EventDescriptor) (ingest.Result, error) {
	var res ingest.Result
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		res, err = e.ingest.Ingest(ctx, tx, d)
		return err
	})
	if err != nil {
		return res, err
	}
	if res.Applied() {
		e.refreshAfter(ctx, "ingest")
	}
	return res, nil
}

// EnqueueNotification signals that key in the shared store changed. It
// never blocks; the descriptor is read and applied on the loop. Returns
// false once the engine has stopped.
func (e *Engine) EnqueueNotification(key string) bool {
	return e.queue.Enqueue(command{
		name: "notification",
		run: func(ctx context.Context) error {
			if e.events == nil {
				return fmt.Errorf("notification for %s: no event source configured", key)
			}
			if key != e.eventKey {
				return nil
			}
			d, ok, err := e.ingest.Read(e.events, key)
			if err != nil || !ok {
				return err
			}
			_, err = e.ingestDescriptor(ctx, d)
			return err
		},
	})
}

// Verify replays the usage event log against the stored records.
func (e *Engine) Verify(ctx context.Context) ([]usage.Mismatch, error) {
	return call(ctx, e, "verify", func(ctx context.Context) ([]usage.Mismatch, error) {
		var mm []usage.Mismatch
		err := e.store.View(ctx, func(tx *store.Tx) error {
			var err error
			mm, err = e.usage.Verify(tx)
			return err
		})
		return mm, err
	})
}

// RestoreUsage overwrites every usage record that disagrees with the event
// log.
func (e *Engine) RestoreUsage(ctx context.Context) ([]domain.LogicalID, error) {
	return call(ctx, e, "restore_usage", func(ctx context.Context) ([]domain.LogicalID, error) {
		var ids []domain.LogicalID
		err := e.store.Update(ctx, func(tx *store.Tx) error {
			var err error
			ids, err = e.usage.Restore(tx)
			return err
		})
		if err == nil && len(ids) > 0 {
			e.refreshAfter(ctx, "restore_usage")
		}
		return ids, err
	})
}
