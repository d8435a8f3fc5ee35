// Package selection owns the three selection sets and the commit protocol
// between them.
//
//   - Master: the durable union of every committed item (master_selection)
//   - Context: what the picker is shown, always rehydrated from Master
//   - Pending: fingerprints of the picker's raw result, not yet merged
//
// The protocol is an explicit state machine:
//
//	idle ──open──▶ context_open ──picker_returned──▶ pending_received
//	  ▲                 │                               │        ▲
//	  │               cancel                          commit     │
//	  │                 ▼                               ▼        │
//	  └───────────── (idle) ◀──commit_done── committing ─commit_rejected
//
// Master is only ever extended by a commit (Master := Master ∪ resolved) and
// Context is never rebuilt from a commit result. A commit for one category is
// scoped to the keys resolved from Pending, so it can never remove or relabel
// an entry of the other category.
package selection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/looplab/fsm"

	"github.com/roach88/screentime/internal/assignment"
	"github.com/roach88/screentime/internal/domain"
	"github.com/roach88/screentime/internal/identity"
	"github.com/roach88/screentime/internal/metrics"
	"github.com/roach88/screentime/internal/store"
)

// States.
const (
	StateIdle            = "idle"
	StateContextOpen     = "context_open"
	StatePendingReceived = "pending_received"
	StateCommitting      = "committing"
)

// Events.
const (
	EventOpen           = "open"
	EventPickerReturned = "picker_returned"
	EventCommit         = "commit"
	EventCommitDone     = "commit_done"
	EventCommitRejected = "commit_rejected"
	EventCancel         = "cancel"
	EventReset          = "reset"
)

// Override replaces the commit category of one pending item. Move must be set
// to allow a cross-category move of an already assigned item.
type Override struct {
	Category domain.Category `json:"category" yaml:"category"`
	Move     bool            `json:"move,omitempty" yaml:"move,omitempty"`
}

// PendingItem is one deduplicated entry of Pending.
type PendingItem struct {
	Fingerprint domain.Fingerprint `json:"fingerprint"`
	KnownID     domain.LogicalID   `json:"known_id,omitempty"` // empty for never-seen content
}

// Orphan is a pending entry pruned because its identity was removed after
// the context opened.
type Orphan struct {
	Hash       domain.HandleHash `json:"hash"`
	LogicalID  domain.LogicalID  `json:"logical_id"`
	RemovedSeq int64             `json:"removed_seq"`
}

// PendingView is a read-only copy of Pending.
type PendingView struct {
	Category domain.Category `json:"category"`
	Items    []PendingItem   `json:"items"`
	Orphans  []Orphan        `json:"orphans"`
}

// Resolved is one pending item after identity resolution. In
// CommitResult.Kept it is an item of the other category that the picker
// echoed back and that stays where it is.
type Resolved struct {
	Hash      domain.HandleHash `json:"hash"`
	LogicalID domain.LogicalID  `json:"logical_id"`
	Category  domain.Category   `json:"category"`
	Label     string            `json:"label,omitempty"`
}

// CommitResult is the outcome of a successful commit.
type CommitResult struct {
	Category    domain.Category                      `json:"category"`
	Resolved    []Resolved                           `json:"resolved"`
	Kept        []Resolved                           `json:"kept"`
	Changes     []assignment.Change                  `json:"-"`
	Assignments map[domain.LogicalID]domain.Category `json:"assignments"`
	Orphans     []Orphan                             `json:"orphans"`
}

// Reconciler is the selection state machine. It is not safe for concurrent
// use; the engine drives it from its single command loop.
type Reconciler struct {
	fsm         *fsm.FSM
	resolver    *identity.Resolver
	assignments *assignment.Store
	logger      *slog.Logger
	metrics     *metrics.Metrics

	category  domain.Category
	openedSeq int64
	context   []domain.ContextItem
	pending   []PendingItem
	orphans   []Orphan
}

// New creates a reconciler in the idle state.
func New(resolver *identity.Resolver, assignments *assignment.Store, logger *slog.Logger, m *metrics.Metrics) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		resolver:    resolver,
		assignments: assignments,
		logger:      logger,
		metrics:     m,
	}
	r.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventOpen, Src: []string{StateIdle}, Dst: StateContextOpen},
			{Name: EventPickerReturned, Src: []string{StateContextOpen}, Dst: StatePendingReceived},
			{Name: EventCommit, Src: []string{StatePendingReceived}, Dst: StateCommitting},
			{Name: EventCommitDone, Src: []string{StateCommitting}, Dst: StateIdle},
			{Name: EventCommitRejected, Src: []string{StateCommitting}, Dst: StatePendingReceived},
			{Name: EventCancel, Src: []string{StateContextOpen, StatePendingReceived}, Dst: StateIdle},
			{Name: EventReset, Src: []string{StateIdle, StateContextOpen, StatePendingReceived, StateCommitting}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				r.logger.Debug("selection state changed",
					"event", e.Event,
					"from", e.Src,
					"to", e.Dst)
			},
			"enter_" + StateIdle: func(_ context.Context, _ *fsm.Event) {
				r.clear()
			},
		},
	)
	return r
}

// State returns the current state name.
func (r *Reconciler) State() string {
	return r.fsm.Current()
}

// Category returns the category of the open context, or "" when idle.
func (r *Reconciler) Category() domain.Category {
	return r.category
}

func (r *Reconciler) send(ctx context.Context, event string) error {
	// Transitions are in-memory and must not be aborted half way by the
	// caller's cancellation.
	err := r.fsm.Event(context.WithoutCancel(ctx), event)
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		return domain.NewInvalidStateError(event, r.fsm.Current())
	}
	return err
}

func (r *Reconciler) clear() {
	r.category = ""
	r.openedSeq = 0
	r.context = nil
	r.pending = nil
	r.orphans = nil
}

// OpenContext rehydrates Context from Master and returns what the picker must
// be shown. Context holds the Master items of both categories so the picker
// never drops the other category's selections when it re-renders.
func (r *Reconciler) OpenContext(ctx context.Context, tx *store.Tx, category domain.Category) (domain.PickerRequest, error) {
	if !category.Valid() {
		return domain.PickerRequest{}, fmt.Errorf("open context: invalid category %q", category)
	}
	if r.State() != StateIdle {
		return domain.PickerRequest{}, domain.NewInvalidStateError(EventOpen, r.State())
	}

	items, err := r.rehydrate(tx)
	if err != nil {
		return domain.PickerRequest{}, err
	}
	if err := r.send(ctx, EventOpen); err != nil {
		return domain.PickerRequest{}, err
	}
	r.category = category
	r.openedSeq = tx.CurrentSeq()
	r.context = items

	r.logger.Debug("context opened",
		"category", category,
		"items", len(items),
		"opened_seq", r.openedSeq)
	return r.Request(), nil
}

// Request returns the picker request for the open context.
func (r *Reconciler) Request() domain.PickerRequest {
	return domain.PickerRequest{
		Category: r.category,
		Items:    append([]domain.ContextItem{}, r.context...),
	}
}

func (r *Reconciler) rehydrate(tx *store.Tx) ([]domain.ContextItem, error) {
	master, err := tx.ListMaster()
	if err != nil {
		return nil, fmt.Errorf("rehydrate context: %w", err)
	}
	items := make([]domain.ContextItem, 0, len(master))
	for _, m := range master {
		e, ok, err := tx.GetAssignment(m.LogicalID)
		if err != nil {
			return nil, fmt.Errorf("rehydrate context: %w", err)
		}
		if !ok || !e.Category.Valid() {
			continue
		}
		items = append(items, domain.ContextItem{
			LogicalID: m.LogicalID,
			Category:  e.Category,
			SortKey:   m.SortKey,
			Label:     e.Label,
		})
	}
	return items, nil
}

// PickerReturned records the picker's raw result as Pending. Every handle is
// fingerprinted immediately and dropped; duplicates by content collapse.
// Handles whose identity was removed after the context opened are orphans:
// they are pruned, logged and reported.
func (r *Reconciler) PickerReturned(ctx context.Context, tx *store.Tx, handles []domain.CapabilityHandle) (PendingView, error) {
	if r.State() != StateContextOpen {
		return PendingView{}, domain.NewInvalidStateError(EventPickerReturned, r.State())
	}

	seen := map[domain.HandleHash]int{}
	pending := make([]PendingItem, 0, len(handles))
	var orphans []Orphan
	for _, h := range handles {
		fp, err := r.resolver.Fingerprint(h)
		if err != nil {
			return PendingView{}, err
		}
		if i, dup := seen[fp.Hash]; dup {
			if pending[i].Fingerprint.Label == "" {
				pending[i].Fingerprint.Label = fp.Label
			}
			continue
		}

		known, ok, err := r.resolver.Known(tx, fp.Hash)
		if err != nil {
			return PendingView{}, fmt.Errorf("picker returned: %w", err)
		}
		if ok {
			orphan, isOrphan, err := r.orphaned(tx, fp.Hash, known)
			if err != nil {
				return PendingView{}, err
			}
			if isOrphan {
				orphans = append(orphans, orphan)
				continue
			}
		}
		seen[fp.Hash] = len(pending)
		pending = append(pending, PendingItem{Fingerprint: fp, KnownID: known})
	}

	if err := r.send(ctx, EventPickerReturned); err != nil {
		return PendingView{}, err
	}
	r.pending = pending
	r.orphans = nil
	for _, o := range orphans {
		r.recordOrphan(o)
	}
	return r.Pending(), nil
}

// orphaned reports whether id was removed after the context opened and is
// neither assigned nor a Master member any more.
func (r *Reconciler) orphaned(tx *store.Tx, hash domain.HandleHash, id domain.LogicalID) (Orphan, bool, error) {
	removedSeq, ok, err := tx.TombstoneSeq(id)
	if err != nil {
		return Orphan{}, false, fmt.Errorf("orphan check: %w", err)
	}
	if !ok || removedSeq <= r.openedSeq {
		return Orphan{}, false, nil
	}
	if in, err := tx.InMaster(id); err != nil || in {
		return Orphan{}, false, err
	}
	if _, assigned, err := tx.GetAssignment(id); err != nil || assigned {
		return Orphan{}, false, err
	}
	return Orphan{Hash: hash, LogicalID: id, RemovedSeq: removedSeq}, true, nil
}

func (r *Reconciler) recordOrphan(o Orphan) {
	r.orphans = append(r.orphans, o)
	r.metrics.OrphansPruned(1)
	r.logger.Warn("pruned orphaned picker handle",
		"handle_hash", o.Hash,
		"logical_id", o.LogicalID,
		"removed_seq", o.RemovedSeq,
		"error", domain.NewOrphanedHandleError(o.LogicalID, o.Hash))
}

// Pending returns a copy of Pending.
func (r *Reconciler) Pending() PendingView {
	return PendingView{
		Category: r.category,
		Items:    append([]PendingItem{}, r.pending...),
		Orphans:  append([]Orphan{}, r.orphans...),
	}
}

// Commit resolves every pending fingerprint, merges the result into the
// assignment map scoped to exactly those identities, and extends Master.
//
// The picker is shown both categories, so Pending normally echoes items of
// the other category. Such an item is kept where it is unless an override
// names it; an override without Move for an item of the other category is a
// CONFLICT.
//
// A CONFLICT leaves the machine in pending_received with nothing written, so
// the caller can show the error while the selection stays open. Any other
// failure resets to idle. The caller must roll back tx on error.
func (r *Reconciler) Commit(ctx context.Context, tx *store.Tx, category domain.Category, overrides map[domain.HandleHash]Override) (CommitResult, error) {
	if r.State() != StatePendingReceived {
		return CommitResult{}, domain.NewInvalidStateError(EventCommit, r.State())
	}
	if category != r.category {
		return CommitResult{}, fmt.Errorf("commit: context is open for %s, not %s", r.category, category)
	}
	for hash, o := range overrides {
		if !o.Category.Valid() {
			return CommitResult{}, fmt.Errorf("commit: override for %s has invalid category %q", hash, o.Category)
		}
	}
	if err := r.send(ctx, EventCommit); err != nil {
		return CommitResult{}, err
	}

	result, err := r.commit(tx, category, overrides)
	if err != nil {
		event := EventReset
		if domain.IsConflictError(err) {
			event = EventCommitRejected
		}
		if serr := r.send(ctx, event); serr != nil {
			return CommitResult{}, errors.Join(err, serr)
		}
		r.metrics.Commit(string(category), commitOutcome(err))
		return CommitResult{}, err
	}

	if err := r.send(ctx, EventCommitDone); err != nil {
		return CommitResult{}, err
	}
	r.metrics.Commit(string(category), metrics.OutcomeCommitted)
	r.logger.Info("selection committed",
		"category", category,
		"items", len(result.Resolved),
		"changes", len(result.Changes),
		"orphans", len(result.Orphans))
	return result, nil
}

func commitOutcome(err error) string {
	if domain.IsConflictError(err) {
		return metrics.OutcomeConflict
	}
	return metrics.OutcomeFailed
}

func (r *Reconciler) commit(tx *store.Tx, category domain.Category, overrides map[domain.HandleHash]Override) (CommitResult, error) {
	updates := make(map[domain.LogicalID]domain.Category, len(r.pending))
	scope := domain.NewIDSet()
	opts := assignment.MergeOptions{
		AllowMove: domain.NewIDSet(),
		Labels:    map[domain.LogicalID]string{},
		SortKeys:  map[domain.LogicalID]domain.HandleHash{},
	}
	resolved := make([]Resolved, 0, len(r.pending))
	kept := []Resolved{}

	for _, p := range r.pending {
		id, err := r.resolver.Resolve(tx, p.Fingerprint)
		if err != nil {
			return CommitResult{}, err
		}
		target := category
		o, overridden := overrides[p.Fingerprint.Hash]
		if overridden {
			target = o.Category
			if o.Move {
				opts.AllowMove.Add(id)
			}
		} else {
			other, echoed, err := r.echoed(tx, id, category)
			if err != nil {
				return CommitResult{}, err
			}
			if echoed {
				kept = append(kept, Resolved{
					Hash:      p.Fingerprint.Hash,
					LogicalID: id,
					Category:  other,
					Label:     p.Fingerprint.Label,
				})
				continue
			}
		}
		if prev, dup := updates[id]; dup && prev != target {
			return CommitResult{}, domain.NewConflictError(id, p.Fingerprint.Label, prev, target)
		}
		updates[id] = target
		scope.Add(id)
		if p.Fingerprint.Label != "" {
			opts.Labels[id] = p.Fingerprint.Label
		}
		if _, ok := opts.SortKeys[id]; !ok {
			opts.SortKeys[id] = p.Fingerprint.Hash
		}
		resolved = append(resolved, Resolved{
			Hash:      p.Fingerprint.Hash,
			LogicalID: id,
			Category:  target,
			Label:     p.Fingerprint.Label,
		})
	}

	merged, err := r.assignments.MergeCommit(tx, updates, scope, opts)
	if err != nil {
		return CommitResult{}, err
	}

	seq := tx.NextSeq()
	for _, id := range scope.Sorted() {
		key := opts.SortKeys[id]
		if e, ok, err := tx.GetAssignment(id); err != nil {
			return CommitResult{}, fmt.Errorf("extend master: %w", err)
		} else if ok && e.SortKey != "" {
			key = e.SortKey
		}
		if err := tx.AddMaster(domain.MasterMember{LogicalID: id, SortKey: key, Seq: seq}); err != nil {
			return CommitResult{}, fmt.Errorf("extend master: %w", err)
		}
	}

	return CommitResult{
		Category:    category,
		Resolved:    resolved,
		Kept:        kept,
		Changes:     merged.Changes,
		Assignments: merged.Assignments,
		Orphans:     append([]Orphan{}, r.orphans...),
	}, nil
}

// echoed reports whether id is already assigned to the category other than
// category, and returns that category.
func (r *Reconciler) echoed(tx *store.Tx, id domain.LogicalID, category domain.Category) (domain.Category, bool, error) {
	e, ok, err := tx.GetAssignment(id)
	if err != nil {
		return "", false, fmt.Errorf("commit: %w", err)
	}
	if !ok || !e.Category.Valid() || e.Category == category {
		return "", false, nil
	}
	return e.Category, true, nil
}

// Cancel discards Pending and Context and returns to idle without touching
// Master.
func (r *Reconciler) Cancel(ctx context.Context) error {
	if r.State() == StateIdle {
		return nil
	}
	return r.send(ctx, EventCancel)
}

// Reset forces the machine back to idle from any state.
func (r *Reconciler) Reset(ctx context.Context) error {
	return r.send(ctx, EventReset)
}

// PruneOrphan drops id from an in-flight Context and Pending. Returns true if
// anything was pruned.
func (r *Reconciler) PruneOrphan(id domain.LogicalID, removedSeq int64) bool {
	pruned := false

	ctxItems := r.context[:0]
	for _, it := range r.context {
		if it.LogicalID == id {
			pruned = true
			continue
		}
		ctxItems = append(ctxItems, it)
	}
	r.context = ctxItems

	pending := r.pending[:0]
	for _, p := range r.pending {
		if p.KnownID == id {
			pruned = true
			r.recordOrphan(Orphan{Hash: p.Fingerprint.Hash, LogicalID: id, RemovedSeq: removedSeq})
			continue
		}
		pending = append(pending, p)
	}
	r.pending = pending
	return pruned
}
