package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/screentime/internal/domain"
)

func TestFakePicker_PlaysScript(t *testing.T) {
	boom := errors.New("boom")
	p := NewFakePicker(
		PickerStep{Err: boom},
		PickerStep{Handles: Handles("Books")},
	)
	ctx := context.Background()

	_, err := p.Present(ctx, domain.PickerRequest{Category: domain.CategoryLearning})
	assert.ErrorIs(t, err, boom)

	got, err := p.Present(ctx, domain.PickerRequest{Category: domain.CategoryLearning})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = p.Present(ctx, domain.PickerRequest{})
	assert.Error(t, err, "exhausted script fails")
	assert.Len(t, p.Requests(), 3)
}

func TestFakePicker_Block(t *testing.T) {
	p := NewFakePicker(PickerStep{Block: true})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Present(ctx, domain.PickerRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRecordingEnforcer(t *testing.T) {
	e := NewRecordingEnforcer()
	require.NoError(t, e.Apply(context.Background(), "a"))
	e.FailWith(errors.New("denied"))
	assert.Error(t, e.Remove(context.Background(), "a"))

	assert.Equal(t, []EnforcementCall{{"apply", "a"}, {"remove", "a"}}, e.Calls())
	assert.Equal(t, EnforcementCall{"apply", "a"}, <-e.Done())
}

func TestFakeMonitor(t *testing.T) {
	m := NewFakeMonitor()
	require.NoError(t, m.Stop(context.Background(), "daily"))
	require.NoError(t, m.Start(context.Background(), "daily", 2, 60))
	assert.Equal(t, []string{"stop", "start"}, m.Ops())
	assert.Equal(t, int64(2), m.Calls()[1].Generation)
}

func TestHandlesShareContent(t *testing.T) {
	a, err := domain.FingerprintHandle(Handle("Books"))
	require.NoError(t, err)
	b, err := domain.FingerprintHandle(UnlabeledHandle("Books"))
	require.NoError(t, err)
	assert.Equal(t, a.Hash, b.Hash)
	assert.Equal(t, Hash("Books"), a.Hash)

	_, err = domain.FingerprintHandle(SealedHandle("x"))
	assert.True(t, domain.IsIdentityResolutionError(err))
}
