package harness

import (
	"github.com/roach88/screentime/internal/domain"
)

// Outcome values recorded for steps that do not fail.
const (
	OutcomeOK       = "ok"
	OutcomeMismatch = "mismatch"
	OutcomeError    = "error" // an error without a code
)

// TraceEvent is one executed step.
type TraceEvent struct {
	Op      string         `json:"op"`
	Args    map[string]any `json:"args,omitempty"`
	Outcome string         `json:"outcome"`
	Detail  string         `json:"detail,omitempty"` // error text, not compared by golden files
	Seq     int64          `json:"seq"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step met its expectation and every assertion
	// held.
	Pass bool `json:"pass"`

	// Trace contains the executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	Errors []string `json:"errors,omitempty"`

	// Snapshots are the final projections of both categories.
	Snapshots map[domain.Category]domain.Snapshot `json:"snapshots"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Errors:    []string{},
		Snapshots: make(map[domain.Category]domain.Snapshot),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step to the trace.
func (r *Result) AddTrace(op string, args map[string]any, outcome, detail string) TraceEvent {
	ev := TraceEvent{
		Op:      op,
		Args:    args,
		Outcome: outcome,
		Detail:  detail,
		Seq:     int64(len(r.Trace) + 1),
	}
	r.Trace = append(r.Trace, ev)
	return ev
}
