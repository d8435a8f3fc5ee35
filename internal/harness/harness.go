package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/roach88/screentime/internal/assignment"
	"github.com/roach88/screentime/internal/domain"
	"github.com/roach88/screentime/internal/engine"
	"github.com/roach88/screentime/internal/identity"
	"github.com/roach88/screentime/internal/selection"
	"github.com/roach88/screentime/internal/sharedkv"
	"github.com/roach88/screentime/internal/store"
	"github.com/roach88/screentime/internal/testutil"
)

const (
	monitorScope = "daily"

	// baseTime is the OccurredAt of the first threshold event.
	baseTime = 1767225600

	pickerTimeout = 50 * time.Millisecond
)

// Harness drives one engine through a scenario.
type Harness struct {
	scenario *Scenario
	dbPath   string
	idGen    identity.IDGenerator
	enforcer *testutil.RecordingEnforcer
	monitor  *testutil.FakeMonitor
	logger   *slog.Logger

	store  *store.Store
	engine *engine.Engine
	cancel context.CancelFunc
	done   chan struct{}

	// hashes maps the key of every handle seen so far to its HandleHash, so
	// commit overrides can name items by label.
	hashes   map[string]domain.HandleHash
	lastDesc *sharedkv.EventDescriptor
	eventSeq int64
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh database in a temporary directory. The
// picker, enforcement capability and usage monitor are scripted fakes; the
// engine and everything below it is real.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "screentime-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	h := &Harness{
		scenario: scenario,
		dbPath:   filepath.Join(dir, "screentime.db"),
		idGen:    identity.NewSequenceGenerator("item"),
		enforcer: testutil.NewRecordingEnforcer(),
		monitor:  testutil.NewFakeMonitor(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		hashes:   make(map[string]domain.HandleHash),
	}
	if err := h.start(ctx); err != nil {
		return nil, err
	}
	defer h.stop()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Do, err)
		}
	}

	set := h.engine.Snapshots()
	result.Snapshots[domain.CategoryLearning] = set.Learning
	result.Snapshots[domain.CategoryReward] = set.Reward

	actx := &AssertionContext{Store: h.store, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) start(ctx context.Context) error {
	st, err := store.Open(h.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	rates := assignment.Rates{Learning: 10, Reward: 5}
	if r := h.scenario.Rates; r != nil {
		rates = assignment.Rates{Learning: r.Learning, Reward: r.Reward}
	}
	threshold := h.scenario.ThresholdSeconds
	if threshold == 0 {
		threshold = 60
	}

	eng, err := engine.New(ctx, st,
		engine.WithRates(rates),
		engine.WithIDGenerator(h.idGen),
		engine.WithEnforcer(h.enforcer),
		engine.WithMonitor(h.monitor, monitorScope, threshold),
		engine.WithPickerTimeout(pickerTimeout),
		engine.WithLogger(h.logger))
	if err != nil {
		st.Close()
		return fmt.Errorf("failed to create engine: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.store, h.engine, h.cancel, h.done = st, eng, cancel, make(chan struct{})
	go func() {
		defer close(h.done)
		_ = eng.Run(runCtx)
	}()

	// The first command completes only after Run registered the monitor.
	if _, err := eng.SelectionState(ctx); err != nil {
		h.stop()
		return fmt.Errorf("engine did not start: %w", err)
	}
	return nil
}

func (h *Harness) stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
	h.store.Close()
	h.cancel = nil
}

// execute runs one step, records it in the trace and checks its
// expectation. A returned error means the harness itself failed.
func (h *Harness) execute(ctx context.Context, index int, step Step, result *Result) error {
	var (
		args    = map[string]any{}
		outcome = OutcomeOK
		stepErr error
		view    *selection.PendingView
	)

	switch step.Do {
	case OpSelect:
		category, _ := domain.ParseCategory(step.Category)
		args["category"] = string(category)
		args["handles"] = h.keys(step.Handles)
		picker := testutil.NewFakePicker(h.pickerScript(step)...)
		v, err := h.engine.SelectWithPicker(ctx, picker, category)
		stepErr = err
		view = &v

	case OpCommit:
		category, _ := domain.ParseCategory(step.Category)
		args["category"] = string(category)
		overrides, err := h.overrides(step)
		if err != nil {
			return err
		}
		_, stepErr = h.engine.Commit(ctx, category, overrides)

	case OpCancel:
		stepErr = h.engine.Cancel(ctx)

	case OpRemove:
		args["id"] = step.ID
		_, stepErr = h.engine.RemoveItem(ctx, domain.LogicalID(step.ID))

	case OpUsage:
		d, err := h.descriptor(ctx, step)
		if err != nil {
			return err
		}
		args["handle"] = step.keyOrPrevious(h.lastDesc)
		args["seconds"] = d.ThresholdSeconds
		res, err := h.engine.IngestThreshold(ctx, d)
		stepErr = err
		outcome = res.Outcome
		h.lastDesc = &d

	case OpRate:
		args["id"] = step.ID
		args["rate"] = *step.Rate
		_, stepErr = h.engine.SetRate(ctx, domain.LogicalID(step.ID), *step.Rate)

	case OpUnlock:
		args["id"] = step.ID
		stepErr = h.engine.Unlock(ctx, domain.LogicalID(step.ID))

	case OpRelock:
		args["id"] = step.ID
		stepErr = h.engine.Relock(ctx, domain.LogicalID(step.ID))

	case OpVerify:
		mm, err := h.engine.Verify(ctx)
		stepErr = err
		if len(mm) > 0 {
			outcome = OutcomeMismatch
		}

	case OpRestart:
		h.stop()
		if err := h.start(ctx); err != nil {
			return err
		}
	}

	detail := ""
	if stepErr != nil {
		detail = stepErr.Error()
		if code := domain.CodeOf(stepErr); code != "" {
			outcome = string(code)
		} else {
			outcome = OutcomeError
		}
	}
	if len(args) == 0 {
		args = nil
	}
	ev := result.AddTrace(step.Do, args, outcome, detail)
	h.check(index, step, ev, view, result)
	return nil
}

func (h *Harness) check(index int, step Step, ev TraceEvent, view *selection.PendingView, result *Result) {
	want := OutcomeOK
	if step.Do == OpUsage {
		want = "applied"
	}
	if e := step.Expect; e != nil {
		switch {
		case e.Error != "":
			want = e.Error
		case e.Outcome != "":
			want = e.Outcome
		}
	}
	if ev.Outcome != want {
		msg := fmt.Sprintf("step %d (%s): expected %s, got %s", index, step.Do, want, ev.Outcome)
		if ev.Detail != "" {
			msg += ": " + ev.Detail
		}
		result.AddError(msg)
		return
	}

	if step.Expect == nil || view == nil {
		return
	}
	if p := step.Expect.Pending; p != nil && len(view.Items) != *p {
		result.AddError(fmt.Sprintf("step %d (select): expected %d pending, got %d", index, *p, len(view.Items)))
	}
	if o := step.Expect.Orphans; o != nil && len(view.Orphans) != *o {
		result.AddError(fmt.Sprintf("step %d (select): expected %d orphans, got %d", index, *o, len(view.Orphans)))
	}
}

// pickerScript plays the scripted failures, then returns the handles.
func (h *Harness) pickerScript(step Step) []testutil.PickerStep {
	var script []testutil.PickerStep
	for _, e := range step.PickerErrors {
		switch e {
		case "transient":
			script = append(script, testutil.PickerStep{
				Err: domain.NewTransientPickerError(errors.New("scripted presentation failure")),
			})
		case "timeout":
			script = append(script, testutil.PickerStep{Block: true})
		case "denied":
			script = append(script, testutil.PickerStep{Err: errors.New("picker access denied")})
		}
	}

	handles := make([]domain.CapabilityHandle, len(step.Handles))
	for i, arg := range step.Handles {
		handle := arg.Handle()
		handles[i] = handle
		if fp, err := domain.FingerprintHandle(handle); err == nil {
			h.hashes[arg.Key()] = fp.Hash
		}
	}
	return append(script, testutil.PickerStep{Handles: handles})
}

func (h *Harness) keys(args []HandleArg) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a.Key()
	}
	return out
}

func (h *Harness) overrides(step Step) (map[domain.HandleHash]selection.Override, error) {
	if len(step.Moves) == 0 && len(step.Overrides) == 0 {
		return nil, nil
	}
	out := make(map[domain.HandleHash]selection.Override)
	category, _ := domain.ParseCategory(step.Category)

	keys := make([]string, 0, len(step.Overrides))
	for k := range step.Overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		hash, ok := h.hashes[key]
		if !ok {
			return nil, fmt.Errorf("override %q: no handle with that name was selected", key)
		}
		c, _ := domain.ParseCategory(step.Overrides[key])
		out[hash] = selection.Override{Category: c}
	}
	for _, key := range step.Moves {
		hash, ok := h.hashes[key]
		if !ok {
			return nil, fmt.Errorf("move %q: no handle with that name was selected", key)
		}
		o, ok := out[hash]
		if !ok {
			o.Category = category
		}
		o.Move = true
		out[hash] = o
	}
	return out, nil
}

// descriptor builds the threshold event for a usage step from the current
// monitor registration.
func (h *Harness) descriptor(ctx context.Context, step Step) (sharedkv.EventDescriptor, error) {
	if step.Redeliver {
		if h.lastDesc == nil {
			return sharedkv.EventDescriptor{}, fmt.Errorf("redeliver: no earlier usage step")
		}
		return *h.lastDesc, nil
	}

	var reg domain.Registration
	err := h.store.View(ctx, func(tx *store.Tx) error {
		var err error
		reg, _, err = tx.GetRegistration(monitorScope)
		return err
	})
	if err != nil {
		return sharedkv.EventDescriptor{}, fmt.Errorf("read registration: %w", err)
	}
	generation := reg.Generation
	if step.Stale {
		generation--
	}

	h.eventSeq++
	handle := step.Handle.Handle()
	if fp, err := domain.FingerprintHandle(handle); err == nil {
		h.hashes[step.Handle.Key()] = fp.Hash
	}
	return sharedkv.EventDescriptor{
		Scope:            monitorScope,
		Generation:       generation,
		Sequence:         h.eventSeq,
		Handle:           handle,
		ThresholdSeconds: step.Seconds,
		OccurredAt:       baseTime + h.eventSeq*60,
	}, nil
}

// keyOrPrevious names the handle of a usage step for the trace.
func (s Step) keyOrPrevious(prev *sharedkv.EventDescriptor) string {
	if s.Handle != nil {
		return s.Handle.Key()
	}
	if prev != nil {
		if label, ok := prev.Handle.Label(); ok {
			return label
		}
	}
	return ""
}
