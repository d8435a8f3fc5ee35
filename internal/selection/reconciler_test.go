package selection

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/screentime/internal/assignment"
	"github.com/roach88/screentime/internal/domain"
	"github.com/roach88/screentime/internal/identity"
	"github.com/roach88/screentime/internal/metrics"
	"github.com/roach88/screentime/internal/store"
	tu "github.com/roach88/screentime/internal/testutil"
)

const (
	learning = domain.CategoryLearning
	reward   = domain.CategoryReward
)

type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   *store.Store
	rec     *Reconciler
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := metrics.New()
	res := identity.NewResolver(identity.NewSequenceGenerator("item"), identity.WithMetrics(m))
	a := assignment.New(assignment.Rates{Learning: 10, Reward: 5}, nil)
	return &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   tu.OpenStore(t),
		rec:     New(res, a, nil, m),
		metrics: m,
	}
}

func (f *fixture) open(category domain.Category) domain.PickerRequest {
	f.t.Helper()
	var req domain.PickerRequest
	require.NoError(f.t, f.store.View(f.ctx, func(tx *store.Tx) error {
		var err error
		req, err = f.rec.OpenContext(f.ctx, tx, category)
		return err
	}))
	return req
}

func (f *fixture) returned(handles ...domain.CapabilityHandle) PendingView {
	f.t.Helper()
	var view PendingView
	require.NoError(f.t, f.store.View(f.ctx, func(tx *store.Tx) error {
		var err error
		view, err = f.rec.PickerReturned(f.ctx, tx, handles)
		return err
	}))
	return view
}

func (f *fixture) commit(category domain.Category, overrides map[domain.HandleHash]Override) (CommitResult, error) {
	var res CommitResult
	err := f.store.Update(f.ctx, func(tx *store.Tx) error {
		var err error
		res, err = f.rec.Commit(f.ctx, tx, category, overrides)
		return err
	})
	return res, err
}

// selectItems runs a full open/return/commit round.
func (f *fixture) selectItems(category domain.Category, names ...string) CommitResult {
	f.t.Helper()
	f.open(category)
	f.returned(tu.Handles(names...)...)
	res, err := f.commit(category, nil)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) assignments() map[domain.LogicalID]domain.Category {
	f.t.Helper()
	out := map[domain.LogicalID]domain.Category{}
	require.NoError(f.t, f.store.View(f.ctx, func(tx *store.Tx) error {
		entries, err := tx.ListAssignments()
		for _, e := range entries {
			out[e.LogicalID] = e.Category
		}
		return err
	}))
	return out
}

func (f *fixture) master() []domain.LogicalID {
	f.t.Helper()
	var out []domain.LogicalID
	require.NoError(f.t, f.store.View(f.ctx, func(tx *store.Tx) error {
		members, err := tx.ListMaster()
		for _, m := range members {
			out = append(out, m.LogicalID)
		}
		return err
	}))
	return out
}

func contextIDs(req domain.PickerRequest) []domain.LogicalID {
	out := make([]domain.LogicalID, len(req.Items))
	for i, it := range req.Items {
		out[i] = it.LogicalID
	}
	return out
}

func TestCommit_CategoriesDoNotClobberEachOther(t *testing.T) {
	f := newFixture(t)

	first := f.selectItems(learning, "Books", "News")
	assert.Len(t, first.Resolved, 2)

	// The reward picker is shown every Master item, so it can re-render
	// without dropping learning selections.
	req := f.open(reward)
	assert.ElementsMatch(t, []domain.LogicalID{"item-0001", "item-0002"}, contextIDs(req))
	f.returned(tu.Handle("Clash"))
	_, err := f.commit(reward, nil)
	require.NoError(t, err)

	assert.Equal(t, map[domain.LogicalID]domain.Category{
		"item-0001": learning,
		"item-0002": learning,
		"item-0003": reward,
	}, f.assignments())
	assert.ElementsMatch(t, []domain.LogicalID{"item-0001", "item-0002", "item-0003"}, f.master())
	assert.Equal(t, StateIdle, f.rec.State())
}

func TestCommit_ReselectingReusesIdentity(t *testing.T) {
	f := newFixture(t)
	first := f.selectItems(learning, "Books")
	second := f.selectItems(learning, "Books")

	require.Len(t, second.Resolved, 1)
	assert.Equal(t, first.Resolved[0].LogicalID, second.Resolved[0].LogicalID)
	assert.Empty(t, second.Changes, "recommitting the same item is a no-op")
}

func TestCommit_ConflictStaysPending(t *testing.T) {
	f := newFixture(t)
	f.selectItems(learning, "Books")

	f.open(reward)
	f.returned(tu.Handle("Books"), tu.Handle("Clash"))
	_, err := f.commit(reward, map[domain.HandleHash]Override{
		tu.Hash("Books"): {Category: reward},
	})

	require.Error(t, err)
	assert.True(t, domain.IsConflictError(err))
	assert.Contains(t, err.Error(), "Books")
	assert.Equal(t, StatePendingReceived, f.rec.State(), "selection stays open after a conflict")
	assert.Len(t, f.rec.Pending().Items, 2)

	// Nothing was written, not even the non-conflicting item.
	assert.Equal(t, map[domain.LogicalID]domain.Category{"item-0001": learning}, f.assignments())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Commits().WithLabelValues("reward", metrics.OutcomeConflict)))
}

func TestCommit_EchoedOtherCategoryItemsAreKept(t *testing.T) {
	f := newFixture(t)
	f.selectItems(learning, "Books", "News")

	// A picker that re-renders everything it was shown echoes the learning
	// items back in a reward selection.
	req := f.open(reward)
	require.Len(t, req.Items, 2)
	f.returned(tu.Handle("Books"), tu.Handle("News"), tu.Handle("Clash"))
	res, err := f.commit(reward, nil)
	require.NoError(t, err)

	require.Len(t, res.Resolved, 1)
	assert.Equal(t, domain.LogicalID("item-0003"), res.Resolved[0].LogicalID)
	require.Len(t, res.Kept, 2)
	for _, k := range res.Kept {
		assert.Equal(t, learning, k.Category)
	}
	require.Len(t, res.Changes, 1)
	assert.Equal(t, assignment.Change{LogicalID: "item-0003", To: reward}, res.Changes[0])

	assert.Equal(t, map[domain.LogicalID]domain.Category{
		"item-0001": learning,
		"item-0002": learning,
		"item-0003": reward,
	}, f.assignments())
	assert.Equal(t, StateIdle, f.rec.State())
}

func TestCommit_MoveOverride(t *testing.T) {
	f := newFixture(t)
	f.selectItems(learning, "Books")

	f.open(reward)
	f.returned(tu.Handle("Books"))
	res, err := f.commit(reward, map[domain.HandleHash]Override{
		tu.Hash("Books"): {Category: reward, Move: true},
	})
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)
	assert.True(t, res.Changes[0].Moved())
	assert.Equal(t, map[domain.LogicalID]domain.Category{"item-0001": reward}, f.assignments())
}

func TestCommit_OverrideCategoryForOneItem(t *testing.T) {
	f := newFixture(t)

	f.open(learning)
	f.returned(tu.Handle("Books"), tu.Handle("Clash"))
	_, err := f.commit(learning, map[domain.HandleHash]Override{
		tu.Hash("Clash"): {Category: reward},
	})
	require.NoError(t, err)
	assert.Equal(t, map[domain.LogicalID]domain.Category{
		"item-0001": learning,
		"item-0002": reward,
	}, f.assignments())
}

func TestCommit_WrongCategoryRejected(t *testing.T) {
	f := newFixture(t)
	f.open(learning)
	f.returned(tu.Handle("Books"))

	_, err := f.commit(reward, nil)
	require.Error(t, err)
	assert.Equal(t, StatePendingReceived, f.rec.State())
}

func TestPickerReturned_DedupesByContent(t *testing.T) {
	f := newFixture(t)
	f.open(learning)
	view := f.returned(tu.UnlabeledHandle("Books"), tu.Handle("Books"), tu.Handle("News"))

	require.Len(t, view.Items, 2)
	assert.Equal(t, "Books", view.Items[0].Fingerprint.Label, "label filled from the duplicate")
}

func TestPickerReturned_UnhashableHandleKeepsContextOpen(t *testing.T) {
	f := newFixture(t)
	f.open(learning)

	err := f.store.View(f.ctx, func(tx *store.Tx) error {
		_, err := f.rec.PickerReturned(f.ctx, tx, []domain.CapabilityHandle{tu.SealedHandle("Mystery")})
		return err
	})
	require.Error(t, err)
	assert.True(t, domain.IsIdentityResolutionError(err))
	assert.Equal(t, StateContextOpen, f.rec.State())
}

func TestPickerReturned_PrunesItemsRemovedWhileOpen(t *testing.T) {
	f := newFixture(t)
	f.selectItems(learning, "Books", "News")
	f.open(learning)

	// Books is removed while the picker is on screen.
	require.NoError(t, f.store.Update(f.ctx, func(tx *store.Tx) error {
		seq := tx.NextSeq()
		if _, err := tx.DeleteAssignment("item-0001"); err != nil {
			return err
		}
		if _, err := tx.RemoveMaster("item-0001"); err != nil {
			return err
		}
		return tx.PutTombstone("item-0001", seq)
	}))

	view := f.returned(tu.Handle("Books"), tu.Handle("News"))
	require.Len(t, view.Items, 1)
	assert.Equal(t, domain.LogicalID("item-0002"), view.Items[0].KnownID)
	require.Len(t, view.Orphans, 1)
	assert.Equal(t, domain.LogicalID("item-0001"), view.Orphans[0].LogicalID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Orphans()))

	res, err := f.commit(learning, nil)
	require.NoError(t, err)
	assert.Len(t, res.Orphans, 1)
	assert.Equal(t, []domain.LogicalID{"item-0002"}, f.master())
}

func TestPickerReturned_RemovedBeforeOpenIsReAdd(t *testing.T) {
	f := newFixture(t)
	f.selectItems(learning, "Books")
	require.NoError(t, f.store.Update(f.ctx, func(tx *store.Tx) error {
		seq := tx.NextSeq()
		if _, err := tx.DeleteAssignment("item-0001"); err != nil {
			return err
		}
		if _, err := tx.RemoveMaster("item-0001"); err != nil {
			return err
		}
		return tx.PutTombstone("item-0001", seq)
	}))

	res := f.selectItems(learning, "Books")
	require.Len(t, res.Resolved, 1)
	assert.Equal(t, domain.LogicalID("item-0001"), res.Resolved[0].LogicalID, "re-add keeps the identity")
	assert.Empty(t, res.Orphans)
}

func TestCancel_DiscardsPending(t *testing.T) {
	f := newFixture(t)
	f.open(learning)
	f.returned(tu.Handle("Books"))

	require.NoError(t, f.rec.Cancel(f.ctx))
	assert.Equal(t, StateIdle, f.rec.State())
	assert.Empty(t, f.rec.Pending().Items)
	assert.Empty(t, f.master())

	// Cancelling when idle is harmless.
	require.NoError(t, f.rec.Cancel(f.ctx))
}

func TestInvalidTransitions(t *testing.T) {
	f := newFixture(t)

	err := f.store.View(f.ctx, func(tx *store.Tx) error {
		_, err := f.rec.PickerReturned(f.ctx, tx, tu.Handles("Books"))
		return err
	})
	assert.True(t, domain.IsInvalidStateError(err))

	_, err = f.commit(learning, nil)
	assert.True(t, domain.IsInvalidStateError(err))

	f.open(learning)
	err = f.store.View(f.ctx, func(tx *store.Tx) error {
		_, err := f.rec.OpenContext(f.ctx, tx, reward)
		return err
	})
	assert.True(t, domain.IsInvalidStateError(err))

	require.NoError(t, f.rec.Reset(f.ctx))
	assert.Equal(t, StateIdle, f.rec.State())
	require.NoError(t, f.rec.Reset(f.ctx), "reset from idle is a no-op")
}

func TestPruneOrphan_InFlight(t *testing.T) {
	f := newFixture(t)
	f.selectItems(learning, "Books", "News")
	req := f.open(learning)
	require.Len(t, req.Items, 2)
	f.returned(tu.Handle("Books"), tu.Handle("News"))

	assert.True(t, f.rec.PruneOrphan("item-0001", 99))
	assert.Len(t, f.rec.Request().Items, 1)
	assert.Len(t, f.rec.Pending().Items, 1)
	assert.Len(t, f.rec.Pending().Orphans, 1)
	assert.False(t, f.rec.PruneOrphan("item-0001", 99))
}

func TestCommit_SortKeyIsPermanent(t *testing.T) {
	f := newFixture(t)
	f.selectItems(learning, "Books")

	var before domain.AssignmentEntry
	require.NoError(t, f.store.View(f.ctx, func(tx *store.Tx) error {
		var err error
		before, _, err = tx.GetAssignment("item-0001")
		return err
	}))
	assert.Equal(t, tu.Hash("Books"), before.SortKey)

	f.selectItems(learning, "Books")
	var after domain.AssignmentEntry
	require.NoError(t, f.store.View(f.ctx, func(tx *store.Tx) error {
		var err error
		after, _, err = tx.GetAssignment("item-0001")
		return err
	}))
	assert.Equal(t, before.SortKey, after.SortKey)
}
