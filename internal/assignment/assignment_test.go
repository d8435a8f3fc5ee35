package assignment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/screentime/internal/domain"
	"github.com/roach88/screentime/internal/store"
	tu "github.com/roach88/screentime/internal/testutil"
)

const (
	learning = domain.CategoryLearning
	reward   = domain.CategoryReward
)

func newTestStore(t *testing.T) (*store.Store, *Store) {
	t.Helper()
	return tu.OpenStore(t), New(Rates{Learning: 10, Reward: 5}, nil)
}

func update(t *testing.T, s *store.Store, fn func(tx *store.Tx) error) error {
	t.Helper()
	return s.Update(context.Background(), fn)
}

func entries(t *testing.T, s *store.Store) map[domain.LogicalID]domain.AssignmentEntry {
	t.Helper()
	out := map[domain.LogicalID]domain.AssignmentEntry{}
	require.NoError(t, s.View(context.Background(), func(tx *store.Tx) error {
		all, err := tx.ListAssignments()
		for _, e := range all {
			out[e.LogicalID] = e
		}
		return err
	}))
	return out
}

func TestAssign_NewEntryTakesDefaultRate(t *testing.T) {
	s, a := newTestStore(t)

	require.NoError(t, update(t, s, func(tx *store.Tx) error {
		e, change, err := a.Assign(tx, "books", learning, AssignOptions{Label: "Books", SortKey: tu.Hash("Books")})
		require.NoError(t, err)
		assert.Equal(t, int64(10), e.PointsRate)
		assert.Equal(t, &Change{LogicalID: "books", To: learning}, change)
		return nil
	}))

	got := entries(t, s)["books"]
	assert.Equal(t, "Books", got.Label)
	assert.Equal(t, tu.Hash("Books"), got.SortKey)
}

func TestAssign_ConflictBothDirections(t *testing.T) {
	tests := []struct {
		name      string
		first     domain.Category
		second    domain.Category
		firstWord string
	}{
		{"learning then reward", learning, reward, "learning"},
		{"reward then learning", reward, learning, "reward"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, a := newTestStore(t)
			require.NoError(t, update(t, s, func(tx *store.Tx) error {
				_, _, err := a.Assign(tx, "books", tt.first, AssignOptions{Label: "Books"})
				return err
			}))
			before := entries(t, s)

			err := update(t, s, func(tx *store.Tx) error {
				_, _, err := a.Assign(tx, "books", tt.second, AssignOptions{})
				return err
			})
			require.Error(t, err)
			assert.True(t, domain.IsConflictError(err))
			assert.Contains(t, err.Error(), "Books")
			assert.Contains(t, err.Error(), string(tt.first))
			assert.Contains(t, err.Error(), string(tt.second))
			assert.Equal(t, before, entries(t, s), "store unchanged after conflict")
		})
	}
}

func TestAssign_ExplicitMoveResetsRate(t *testing.T) {
	s, a := newTestStore(t)

	require.NoError(t, update(t, s, func(tx *store.Tx) error {
		if _, _, err := a.Assign(tx, "clash", reward, AssignOptions{}); err != nil {
			return err
		}
		if _, err := a.SetRate(tx, "clash", 99); err != nil {
			return err
		}
		e, change, err := a.Assign(tx, "clash", learning, AssignOptions{AllowMove: true})
		require.NoError(t, err)
		assert.Equal(t, int64(10), e.PointsRate, "move resets to destination default")
		require.NotNil(t, change)
		assert.True(t, change.Moved())
		return nil
	}))
}

func TestAssign_SameCategoryKeepsRate(t *testing.T) {
	s, a := newTestStore(t)

	require.NoError(t, update(t, s, func(tx *store.Tx) error {
		if _, _, err := a.Assign(tx, "books", learning, AssignOptions{}); err != nil {
			return err
		}
		if _, err := a.SetRate(tx, "books", 42); err != nil {
			return err
		}
		e, change, err := a.Assign(tx, "books", learning, AssignOptions{})
		require.NoError(t, err)
		assert.Equal(t, int64(42), e.PointsRate)
		assert.Nil(t, change, "no-op assign writes nothing")
		return nil
	}))
}

func TestMergeCommit_ScopedKeysOnly(t *testing.T) {
	s, a := newTestStore(t)

	require.NoError(t, update(t, s, func(tx *store.Tx) error {
		_, err := a.MergeCommit(tx,
			map[domain.LogicalID]domain.Category{"books": learning, "news": learning},
			domain.NewIDSet("books", "news"),
			MergeOptions{Labels: map[domain.LogicalID]string{"books": "Books", "news": "News"}})
		return err
	}))
	before := entries(t, s)

	var result MergeResult
	require.NoError(t, update(t, s, func(tx *store.Tx) error {
		var err error
		result, err = a.MergeCommit(tx,
			map[domain.LogicalID]domain.Category{"clash": reward, "books": reward},
			domain.NewIDSet("clash"),
			MergeOptions{})
		return err
	}))

	after := entries(t, s)
	assert.Equal(t, before["books"], after["books"], "out-of-scope key byte-for-byte unchanged")
	assert.Equal(t, before["news"], after["news"])
	assert.Equal(t, map[domain.LogicalID]domain.Category{
		"books": learning,
		"news":  learning,
		"clash": reward,
	}, result.Assignments)
	assert.Equal(t, []Change{{LogicalID: "clash", To: reward}}, result.Changes)
}

func TestMergeCommit_ConflictRejectsWholeMerge(t *testing.T) {
	s, a := newTestStore(t)

	require.NoError(t, update(t, s, func(tx *store.Tx) error {
		_, _, err := a.Assign(tx, "books", learning, AssignOptions{Label: "Books"})
		return err
	}))
	before := entries(t, s)

	err := update(t, s, func(tx *store.Tx) error {
		_, err := a.MergeCommit(tx,
			map[domain.LogicalID]domain.Category{"aaa": reward, "books": reward, "zzz": reward},
			domain.NewIDSet("aaa", "books", "zzz"),
			MergeOptions{})
		return err
	})
	require.True(t, domain.IsConflictError(err))
	assert.Equal(t, before, entries(t, s), "no partial merge")
}

func TestMergeCommit_AllowMovePerItem(t *testing.T) {
	s, a := newTestStore(t)

	require.NoError(t, update(t, s, func(tx *store.Tx) error {
		_, _, err := a.Assign(tx, "books", learning, AssignOptions{})
		return err
	}))

	require.NoError(t, update(t, s, func(tx *store.Tx) error {
		res, err := a.MergeCommit(tx,
			map[domain.LogicalID]domain.Category{"books": reward},
			domain.NewIDSet("books"),
			MergeOptions{AllowMove: domain.NewIDSet("books")})
		require.NoError(t, err)
		require.Len(t, res.Changes, 1)
		assert.Equal(t, learning, res.Changes[0].From)
		return nil
	}))
	assert.Equal(t, reward, entries(t, s)["books"].Category)
}

func TestSetRate(t *testing.T) {
	s, a := newTestStore(t)

	err := update(t, s, func(tx *store.Tx) error {
		_, err := a.SetRate(tx, "missing", 3)
		return err
	})
	assert.True(t, domain.IsNotFoundError(err))

	err = update(t, s, func(tx *store.Tx) error {
		_, err := a.SetRate(tx, "missing", -1)
		return err
	})
	assert.Error(t, err)
}

func TestRepair_RemovesOnlyInvalidRows(t *testing.T) {
	s, a := newTestStore(t)

	require.NoError(t, update(t, s, func(tx *store.Tx) error {
		if _, _, err := a.Assign(tx, "books", learning, AssignOptions{}); err != nil {
			return err
		}
		if err := tx.AddMaster(domain.MasterMember{LogicalID: "books", SortKey: "hash:b", Seq: 1}); err != nil {
			return err
		}
		if err := tx.AddMaster(domain.MasterMember{LogicalID: "bad", SortKey: "hash:x", Seq: 1}); err != nil {
			return err
		}
		return tx.PutAssignment(domain.AssignmentEntry{LogicalID: "bad", Category: "games", SortKey: "hash:x", Seq: 2})
	}))
	before := entries(t, s)["books"]

	require.NoError(t, update(t, s, func(tx *store.Tx) error {
		removed, err := a.Repair(tx)
		require.NoError(t, err)
		assert.Equal(t, []domain.LogicalID{"bad"}, removed)

		in, err := tx.InMaster("bad")
		require.NoError(t, err)
		assert.False(t, in)
		in, err = tx.InMaster("books")
		require.NoError(t, err)
		assert.True(t, in)
		return nil
	}))

	after := entries(t, s)
	assert.Len(t, after, 1)
	assert.Equal(t, before, after["books"])
}

func TestRates(t *testing.T) {
	r := Rates{Learning: 2, Reward: 7}
	assert.Equal(t, int64(2), r.For(learning))
	assert.Equal(t, int64(7), r.For(reward))
}
