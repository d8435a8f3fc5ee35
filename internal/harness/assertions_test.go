package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/screentime/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func sampleSnapshots() map[domain.Category]domain.Snapshot {
	return map[domain.Category]domain.Snapshot{
		domain.CategoryLearning: {
			Category: domain.CategoryLearning,
			Rows: []domain.SnapshotRow{
				{LogicalID: "item-0001", Label: "Books", PointsRate: 10, Seconds: 60, Points: 10},
				{LogicalID: "item-0002", Label: "News", PointsRate: 10},
			},
			TotalSeconds: 60,
			TotalPoints:  10,
		},
		domain.CategoryReward: {Category: domain.CategoryReward},
	}
}

func TestAssertSnapshot(t *testing.T) {
	snaps := sampleSnapshots()

	ok := Assertion{
		Type:     AssertSnapshot,
		Category: "learning",
		Rows: []RowExpect{
			{Label: "Books", Seconds: ptr(int64(60)), Points: ptr(int64(10))},
			{ID: "item-0002", Shielded: ptr(false)},
		},
		TotalSeconds: ptr(int64(60)),
	}
	assert.NoError(t, assertSnapshot(snaps, ok))

	tests := []struct {
		name string
		a    Assertion
		want string
	}{
		{"row count", Assertion{Category: "learning", Rows: []RowExpect{{Label: "Books"}}}, "1 learning rows"},
		{"order", Assertion{Category: "learning", Rows: []RowExpect{{Label: "News"}, {Label: "Books"}}}, `label "News"`},
		{"seconds", Assertion{Category: "learning", Rows: []RowExpect{{Seconds: ptr(int64(1))}, {}}}, "seconds 1, got 60"},
		{"totals", Assertion{Category: "learning", Rows: []RowExpect{{}, {}}, TotalPoints: ptr(int64(0))}, "total_points = 0"},
		{"empty reward", Assertion{Category: "reward", Rows: []RowExpect{{}}}, "1 reward rows"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertSnapshot(snaps, tt.a)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAssertTrace(t *testing.T) {
	r := NewResult()
	r.AddTrace(OpSelect, nil, OutcomeOK, "")
	r.AddTrace(OpCommit, nil, "CONFLICT", "")
	r.AddTrace(OpCancel, nil, OutcomeOK, "")
	r.AddTrace(OpUsage, nil, "applied", "")
	r.AddTrace(OpUsage, nil, "stale", "")

	assert.NoError(t, assertTraceContains(r.Trace, Assertion{Op: OpCommit, Outcome: "CONFLICT"}))
	assert.Error(t, assertTraceContains(r.Trace, Assertion{Op: OpCommit, Outcome: OutcomeOK}))

	assert.NoError(t, assertTraceCount(r.Trace, Assertion{Op: OpUsage, Count: 2}))
	assert.NoError(t, assertTraceCount(r.Trace, Assertion{Op: OpUsage, Outcome: "applied", Count: 1}))
	assert.Error(t, assertTraceCount(r.Trace, Assertion{Op: OpRemove, Count: 1}))

	assert.NoError(t, assertTraceOrder(r.Trace, Assertion{Ops: []string{OpSelect, OpCancel, OpUsage}}))
	err := assertTraceOrder(r.Trace, Assertion{Ops: []string{OpCancel, OpCommit}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing commit")
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	r := NewResult()
	r.AddTrace(OpRemove, map[string]any{"id": "item-0001"}, "NOT_FOUND", "")
	err := assertTraceContains(r.Trace, Assertion{Op: OpCommit})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[1] remove")
	assert.Contains(t, err.Error(), "NOT_FOUND")
}

func TestBuildWhereClause(t *testing.T) {
	sql, args, err := buildWhereClause(map[string]any{"scope": "daily", "active": true})
	require.NoError(t, err)
	assert.Equal(t, "active = ? AND scope = ?", sql)
	assert.Equal(t, []any{1, "daily"}, args)

	_, _, err = buildWhereClause(map[string]any{"id; DROP TABLE x": 1})
	assert.Error(t, err)
}

func TestStateValuesEqual(t *testing.T) {
	assert.True(t, stateValuesEqual(4, int64(4)))
	assert.True(t, stateValuesEqual(true, int64(1)))
	assert.True(t, stateValuesEqual(false, int64(0)))
	assert.True(t, stateValuesEqual("daily", []byte("daily")))
	assert.False(t, stateValuesEqual(4, int64(5)))
	assert.False(t, stateValuesEqual("4", int64(4)))
}

func TestEvaluateAssertions_NeedsStore(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{{Type: AssertAssignment, ID: "x"}}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "requires database context")
}
