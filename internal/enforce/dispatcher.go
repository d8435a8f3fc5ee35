// Package enforce dispatches apply/remove block requests to the platform's
// enforcement capability.
//
// Enforcement is best-effort: the platform may not block an item that is
// already in the foreground, and the core never assumes a synchronous
// effect. Requests are executed on the dispatcher's own goroutine after the
// transaction that decided them has committed; failures are logged and
// counted, never propagated back.
package enforce

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/screentime/internal/domain"
	"github.com/roach88/screentime/internal/metrics"
)

// Actions.
const (
	ActionApply  = "apply"
	ActionRemove = "remove"
)

// DefaultTimeout bounds a single platform call.
const DefaultTimeout = 5 * time.Second

const queueSize = 256

// Request is one enforcement call.
type Request struct {
	Action    string           `json:"action"`
	LogicalID domain.LogicalID `json:"logical_id"`
}

// Dispatcher executes enforcement requests asynchronously.
type Dispatcher struct {
	capability domain.EnforcementCapability
	requests   chan Request
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(x *Dispatcher) {
		if d > 0 {
			x.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *Dispatcher) { x.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(x *Dispatcher) { x.metrics = m }
}

// NewDispatcher creates a dispatcher for capability.
func NewDispatcher(capability domain.EnforcementCapability, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		capability: capability,
		requests:   make(chan Request, queueSize),
		timeout:    DefaultTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit queues reqs without blocking. Returns false if any request was
// dropped because the queue is full.
func (d *Dispatcher) Submit(reqs ...Request) bool {
	ok := true
	for _, r := range reqs {
		select {
		case d.requests <- r:
		default:
			ok = false
			d.metrics.Enforcement(r.Action, errQueueFull)
			d.logger.Error("enforcement request dropped: queue full",
				"action", r.Action,
				"logical_id", r.LogicalID)
		}
	}
	return ok
}

var errQueueFull = errors.New("enforcement queue full")

// Run executes queued requests until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case r := <-d.requests:
			d.execute(ctx, r)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Flush executes the requests already queued and returns how many ran. It
// never waits for new ones.
func (d *Dispatcher) Flush(ctx context.Context) int {
	n := 0
	for {
		select {
		case r := <-d.requests:
			d.execute(ctx, r)
			n++
		default:
			return n
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, r Request) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var err error
	switch r.Action {
	case ActionApply:
		err = d.capability.Apply(callCtx, r.LogicalID)
	case ActionRemove:
		err = d.capability.Remove(callCtx, r.LogicalID)
	default:
		d.logger.Error("unknown enforcement action", "action", r.Action, "logical_id", r.LogicalID)
		return
	}
	d.metrics.Enforcement(r.Action, err)
	if err != nil {
		d.logger.Warn("enforcement call failed",
			"action", r.Action,
			"logical_id", r.LogicalID,
			"error", err)
		return
	}
	d.logger.Debug("enforcement call done", "action", r.Action, "logical_id", r.LogicalID)
}
