package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategory(t *testing.T) {
	assert.True(t, CategoryLearning.Valid())
	assert.True(t, CategoryReward.Valid())
	assert.False(t, Category("games").Valid())

	assert.Equal(t, CategoryReward, CategoryLearning.Other())
	assert.Equal(t, CategoryLearning, CategoryReward.Other())

	assert.True(t, CategoryReward.Blocked())
	assert.False(t, CategoryLearning.Blocked())
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" Reward ")
	require.NoError(t, err)
	assert.Equal(t, CategoryReward, c)

	_, err = ParseCategory("spending")
	assert.Error(t, err)
}

func TestLogicalIDValid(t *testing.T) {
	assert.True(t, LogicalID("com.example.books").Valid())
	assert.True(t, LogicalID("0190a5e4-7d2c-7000-8000-000000000001").Valid())
	assert.False(t, LogicalID("").Valid())
	assert.False(t, LogicalID("\xff\xfe").Valid())
	assert.False(t, LogicalID("a\x00b").Valid())
}

func TestHandleHashValid(t *testing.T) {
	assert.True(t, HashHandleBytes([]byte("x")).Valid())
	assert.False(t, HandleHash("hash:xyz").Valid())
	assert.False(t, HandleHash("abc").Valid())
}

func TestPointsFor(t *testing.T) {
	assert.Equal(t, int64(10), PointsFor(60, 10))
	assert.Equal(t, int64(15), PointsFor(90, 10))
	assert.Equal(t, int64(0), PointsFor(59, 1), "partial minutes truncate")
	assert.Equal(t, int64(0), PointsFor(600, 0))
}

func TestIDSetSorted(t *testing.T) {
	s := NewIDSet("c", "a", "b")
	s.Add("a")
	assert.Equal(t, []LogicalID{"a", "b", "c"}, s.Sorted())
	assert.True(t, s.Has("b"))
	assert.False(t, s.Has("z"))
}

func TestErrorHelpers(t *testing.T) {
	err := NewConflictError("id-1", "Books", CategoryLearning, CategoryReward)
	wrapped := fmt.Errorf("commit: %w", err)

	assert.True(t, IsConflictError(wrapped))
	assert.False(t, IsNotFoundError(wrapped))
	assert.Equal(t, ErrCodeConflict, CodeOf(wrapped))
	assert.Contains(t, err.Error(), "Books")
	assert.Contains(t, err.Error(), "learning")
	assert.Contains(t, err.Error(), "reward")

	assert.True(t, IsTransientPickerError(NewPickerTimeoutError(nil)))
	assert.True(t, IsTransientPickerError(NewTransientPickerError(nil)))
	assert.False(t, IsTransientPickerError(nil))
}

func TestConflictErrorFallsBackToLogicalID(t *testing.T) {
	err := NewConflictError("id-7", "", CategoryReward, CategoryLearning)
	assert.Equal(t, "id-7", err.Details["label"])
}
