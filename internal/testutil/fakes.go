package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/screentime/internal/domain"
)

// PickerStep is one scripted picker response.
type PickerStep struct {
	Handles []domain.CapabilityHandle
	Err     error
	Block   bool // wait for ctx cancellation instead of answering
}

// FakePicker answers Present calls from a script and records every request.
type FakePicker struct {
	mu       sync.Mutex
	steps    []PickerStep
	requests []domain.PickerRequest
}

// NewFakePicker creates a picker that plays steps in order.
func NewFakePicker(steps ...PickerStep) *FakePicker {
	return &FakePicker{steps: steps}
}

// Present implements domain.Picker.
func (p *FakePicker) Present(ctx context.Context, req domain.PickerRequest) ([]domain.CapabilityHandle, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	if len(p.steps) == 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("fake picker: no scripted response")
	}
	step := p.steps[0]
	p.steps = p.steps[1:]
	p.mu.Unlock()

	if step.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return step.Handles, step.Err
}

// Requests returns every request seen so far.
func (p *FakePicker) Requests() []domain.PickerRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.PickerRequest(nil), p.requests...)
}

// EnforcementCall is one recorded enforcement call.
type EnforcementCall struct {
	Action    string // "apply" or "remove"
	LogicalID domain.LogicalID
}

// RecordingEnforcer records enforcement calls and can be told to fail.
type RecordingEnforcer struct {
	mu    sync.Mutex
	calls []EnforcementCall
	fail  error
	done  chan EnforcementCall
}

// NewRecordingEnforcer creates an enforcer. Every call is also sent on Done()
// without blocking when the buffer is full.
func NewRecordingEnforcer() *RecordingEnforcer {
	return &RecordingEnforcer{done: make(chan EnforcementCall, 64)}
}

// FailWith makes subsequent calls return err.
func (e *RecordingEnforcer) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail = err
}

// Apply implements domain.EnforcementCapability.
func (e *RecordingEnforcer) Apply(_ context.Context, id domain.LogicalID) error {
	return e.record("apply", id)
}

// Remove implements domain.EnforcementCapability.
func (e *RecordingEnforcer) Remove(_ context.Context, id domain.LogicalID) error {
	return e.record("remove", id)
}

func (e *RecordingEnforcer) record(action string, id domain.LogicalID) error {
	e.mu.Lock()
	call := EnforcementCall{Action: action, LogicalID: id}
	e.calls = append(e.calls, call)
	err := e.fail
	e.mu.Unlock()

	select {
	case e.done <- call:
	default:
	}
	return err
}

// Calls returns every recorded call.
func (e *RecordingEnforcer) Calls() []EnforcementCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]EnforcementCall(nil), e.calls...)
}

// Done delivers each call as it happens.
func (e *RecordingEnforcer) Done() <-chan EnforcementCall {
	return e.done
}

// MonitorCall is one recorded monitor registration call.
type MonitorCall struct {
	Op               string // "start" or "stop"
	Scope            string
	Generation       int64
	ThresholdSeconds int64
}

// FakeMonitor records registration calls.
type FakeMonitor struct {
	mu    sync.Mutex
	calls []MonitorCall
	fail  error
}

// NewFakeMonitor creates a monitor that accepts every call.
func NewFakeMonitor() *FakeMonitor {
	return &FakeMonitor{}
}

// FailWith makes subsequent calls return err.
func (m *FakeMonitor) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Start implements domain.Monitor.
func (m *FakeMonitor) Start(_ context.Context, scope string, generation, thresholdSeconds int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MonitorCall{Op: "start", Scope: scope, Generation: generation, ThresholdSeconds: thresholdSeconds})
	return m.fail
}

// Stop implements domain.Monitor.
func (m *FakeMonitor) Stop(_ context.Context, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MonitorCall{Op: "stop", Scope: scope})
	return m.fail
}

// Calls returns every recorded call.
func (m *FakeMonitor) Calls() []MonitorCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MonitorCall(nil), m.calls...)
}

// Ops returns the recorded operation names in order.
func (m *FakeMonitor) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := make([]string, len(m.calls))
	for i, c := range m.calls {
		ops[i] = c.Op
	}
	return ops
}
