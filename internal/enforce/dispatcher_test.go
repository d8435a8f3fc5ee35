package enforce

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/screentime/internal/domain"
	"github.com/roach88/screentime/internal/metrics"
	tu "github.com/roach88/screentime/internal/testutil"
)

func waitCall(t *testing.T, e *tu.RecordingEnforcer) tu.EnforcementCall {
	t.Helper()
	select {
	case c := <-e.Done():
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("enforcement call not executed")
		return tu.EnforcementCall{}
	}
}

func TestDispatcher_ExecutesInOrder(t *testing.T) {
	e := tu.NewRecordingEnforcer()
	m := metrics.New()
	d := NewDispatcher(e, WithMetrics(m), WithTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	require.True(t, d.Submit(
		Request{Action: ActionApply, LogicalID: "clash"},
		Request{Action: ActionRemove, LogicalID: "clash"},
	))

	assert.Equal(t, tu.EnforcementCall{Action: "apply", LogicalID: "clash"}, waitCall(t, e))
	assert.Equal(t, tu.EnforcementCall{Action: "remove", LogicalID: "clash"}, waitCall(t, e))

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Enforcements().WithLabelValues(ActionRemove, "ok")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDispatcher_FailuresAreCountedNotPropagated(t *testing.T) {
	e := tu.NewRecordingEnforcer()
	e.FailWith(errors.New("not authorized"))
	m := metrics.New()
	d := NewDispatcher(e, WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	require.True(t, d.Submit(Request{Action: ActionApply, LogicalID: domain.LogicalID("clash")}))
	waitCall(t, e)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Enforcements().WithLabelValues(ActionApply, "error")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDispatcher_SubmitNeverBlocks(t *testing.T) {
	d := NewDispatcher(tu.NewRecordingEnforcer())

	// Nothing drains the queue.
	for i := 0; i < queueSize; i++ {
		require.True(t, d.Submit(Request{Action: ActionApply, LogicalID: "x"}))
	}
	assert.False(t, d.Submit(Request{Action: ActionApply, LogicalID: "overflow"}))
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	d := NewDispatcher(tu.NewRecordingEnforcer())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestDispatcher_FlushRunsQueuedRequests(t *testing.T) {
	rec := tu.NewRecordingEnforcer()
	d := NewDispatcher(rec)
	require.True(t, d.Submit(
		Request{Action: ActionApply, LogicalID: "a"},
		Request{Action: ActionRemove, LogicalID: "b"},
	))

	assert.Equal(t, 2, d.Flush(context.Background()))
	assert.Equal(t, []tu.EnforcementCall{
		{Action: "apply", LogicalID: "a"},
		{Action: "remove", LogicalID: "b"},
	}, rec.Calls())
	assert.Equal(t, 0, d.Flush(context.Background()))
}
