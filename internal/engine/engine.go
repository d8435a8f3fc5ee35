package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/screentime/internal/assignment"
	"github.com/roach88/screentime/internal/domain"
	"github.com/roach88/screentime/internal/enforce"
	"github.com/roach88/screentime/internal/identity"
	"github.com/roach88/screentime/internal/ingest"
	"github.com/roach88/screentime/internal/metrics"
	"github.com/roach88/screentime/internal/selection"
	"github.com/roach88/screentime/internal/sharedkv"
	"github.com/roach88/screentime/internal/snapshot"
	"github.com/roach88/screentime/internal/store"
	"github.com/roach88/screentime/internal/usage"
)

// DefaultPickerTimeout bounds one picker presentation.
const DefaultPickerTimeout = 2 * time.Minute

// ErrStopped is returned by commands submitted after the engine stopped.
var ErrStopped = errors.New("engine stopped")

// Engine is the single owner of mutable reward state.
//
// Thread-safety model:
//   - public command methods: safe from any goroutine; they enqueue a
//     command and wait for its reply or for ctx.Done()
//   - EnqueueNotification: safe from any goroutine, never blocks
//   - Snapshot / Snapshots: safe from any goroutine, never touch the loop
//   - Run: must be called from exactly one goroutine
type Engine struct {
	store       *store.Store
	resolver    *identity.Resolver
	assignments *assignment.Store
	usage       *usage.Store
	reconciler  *selection.Reconciler
	ingest      *ingest.Service
	dispatcher  *enforce.Dispatcher
	queue       *commandQueue
	snap        atomic.Pointer[snapshot.Set]

	events           ingest.DescriptorSource
	eventKey         string
	monitorScope     string
	thresholdSeconds int64
	pickerTimeout    time.Duration

	rates      assignment.Rates
	idGen      identity.IDGenerator
	enforcer   domain.EnforcementCapability
	monitor    domain.Monitor
	enforceTTL time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithRates sets the default points rate of each category.
func WithRates(r assignment.Rates) Option {
	return func(e *Engine) { e.rates = r }
}

// WithIDGenerator sets the generator used to mint LogicalIDs.
func WithIDGenerator(g identity.IDGenerator) Option {
	return func(e *Engine) { e.idGen = g }
}

// WithEnforcer sets the platform enforcement capability. Without one,
// enforcement decisions are only persisted and logged.
func WithEnforcer(c domain.EnforcementCapability) Option {
	return func(e *Engine) { e.enforcer = c }
}

// WithEnforcementTimeout bounds a single enforcement call.
func WithEnforcementTimeout(d time.Duration) Option {
	return func(e *Engine) { e.enforceTTL = d }
}

// WithMonitor sets the usage monitor and the scope and threshold it is
// registered with on Run.
func WithMonitor(m domain.Monitor, scope string, thresholdSeconds int64) Option {
	return func(e *Engine) {
		e.monitor = m
		e.monitorScope = scope
		e.thresholdSeconds = thresholdSeconds
	}
}

// WithEventSource sets where threshold descriptors are read from.
func WithEventSource(src ingest.DescriptorSource, key string) Option {
	return func(e *Engine) {
		e.events = src
		e.eventKey = key
	}
}

// WithPickerTimeout bounds one picker presentation.
func WithPickerTimeout(d time.Duration) Option {
	return func(e *Engine) { e.pickerTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New builds an engine over s, runs the startup repair pass and publishes
// the first snapshots.
func New(ctx context.Context, s *store.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:         s,
		queue:         newCommandQueue(),
		eventKey:      sharedkv.DefaultEventKey,
		pickerTimeout: DefaultPickerTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.monitor == nil {
		e.monitor = noopMonitor{}
	}

	e.resolver = identity.NewResolver(e.idGen,
		identity.WithLogger(e.logger),
		identity.WithMetrics(e.metrics))
	e.assignments = assignment.New(e.rates, e.logger)
	e.usage = usage.New(e.logger)
	e.reconciler = selection.New(e.resolver, e.assignments, e.logger, e.metrics)
	e.ingest = ingest.New(e.resolver, e.usage, ingest.NewRegistrar(e.monitor, e.logger), e.logger, e.metrics)
	if e.enforcer != nil {
		e.dispatcher = enforce.NewDispatcher(e.enforcer,
			enforce.WithTimeout(e.enforceTTL),
			enforce.WithLogger(e.logger),
			enforce.WithMetrics(e.metrics))
	}

	if err := e.repair(ctx); err != nil {
		return nil, err
	}
	if err := e.refresh(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// repair deletes assignment rows whose category is unusable. Everything
// else is left untouched.
func (e *Engine) repair(ctx context.Context) error {
	return e.store.Update(ctx, func(tx *store.Tx) error {
		removed, err := e.assignments.Repair(tx)
		if err != nil {
			return fmt.Errorf("startup repair: %w", err)
		}
		for _, id := range removed {
			if _, err := tx.ClearShield(id); err != nil {
				return fmt.Errorf("startup repair: %w", err)
			}
		}
		return nil
	})
}

// Run starts the single-writer command loop. It (re-)registers the usage
// monitor, starts the enforcement dispatcher, and blocks until ctx is
// cancelled or Stop is called. The dispatcher has stopped when Run returns;
// after Stop, requests it still holds are executed first.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	if e.dispatcher != nil {
		dispatchCtx, stopDispatch := context.WithCancel(ctx)
		dispatchDone := make(chan struct{})
		go func() {
			defer close(dispatchDone)
			_ = e.dispatcher.Run(dispatchCtx)
		}()
		defer func() {
			stopDispatch()
			<-dispatchDone
			if ctx.Err() == nil {
				if n := e.dispatcher.Flush(ctx); n > 0 {
					e.logger.Debug("flushed enforcement requests on stop", "count", n)
				}
			}
		}()
	}
	if e.monitorScope != "" {
		// Always Stop THEN Start: a registration left by a previous run must
		// be torn down before re-registering.
		err := e.store.Update(ctx, func(tx *store.Tx) error {
			_, err := e.ingest.Registrar().Restart(ctx, tx, e.monitorScope, e.thresholdSeconds)
			return err
		})
		if err != nil {
			e.logger.Error("monitor registration failed; usage will not accrue",
				"scope", e.monitorScope,
				"error", err)
		}
	}

	for {
		if c, ok := e.queue.TryDequeue(); ok {
			e.execute(ctx, c)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.shutdown()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed with the queue.
			if e.queue.Len() == 0 && e.queue.Closed() {
				e.logger.Info("engine stopping: queue closed")
				e.shutdown()
				return nil
			}
		}
	}
}

func (e *Engine) shutdown() {
	e.queue.Close()
	for _, c := range e.queue.Drain() {
		if c.done != nil {
			c.done <- ErrStopped
		}
	}
}

// Stop closes the command queue; Run returns once it is empty.
func (e *Engine) Stop() {
	e.queue.Close()
}

// execute runs one command on the loop goroutine.
func (e *Engine) execute(loopCtx context.Context, c command) {
	ctx := c.ctx
	if ctx == nil {
		ctx = loopCtx
	}
	var err error
	switch {
	case !c.claim():
		// The caller gave up while the command was queued; nobody reads
		// the reply.
		err = context.Canceled
		if ctx.Err() != nil {
			err = ctx.Err()
		}
	case ctx.Err() != nil:
		err = ctx.Err()
	default:
		err = c.run(ctx)
	}
	if err != nil {
		logCommandError(e.logger, c, err)
	}
	if c.done != nil {
		c.done <- err
	}
}

// call submits fn to the loop and waits for its result.
//
// If ctx ends while the command is still queued, call returns ctx.Err() and
// the command never runs. Once the loop has started it, call waits for its
// outcome, so a nil error always means fn's writes were committed and an
// error means they were not.
func call[T any](ctx context.Context, e *Engine, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero, out T
	done := make(chan error, 1)
	c := command{
		name: name,
		ctx:  ctx,
		run: func(ctx context.Context) error {
			v, err := fn(ctx)
			out = v
			return err
		},
		done:  done,
		state: new(atomic.Int32),
	}
	if !e.queue.Enqueue(c) {
		return zero, ErrStopped
	}

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		if c.abandon() {
			return zero, ctx.Err()
		}
		err = <-done
	}
	if err != nil {
		return zero, err
	}
	return out, nil
}

// refresh recomputes both projections and publishes them.
func (e *Engine) refresh(ctx context.Context) error {
	var set *snapshot.Set
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		set, err = snapshot.ProjectAll(tx)
		return err
	})
	if err != nil {
		return fmt.Errorf("refresh snapshots: %w", err)
	}
	e.snap.Store(set)
	e.metrics.Items(string(domain.CategoryLearning), len(set.Learning.Rows))
	e.metrics.Items(string(domain.CategoryReward), len(set.Reward.Rows))
	return nil
}

// refreshAfter publishes new snapshots after a successful mutation. A failed
// refresh keeps the previous snapshots and is logged; the mutation stands.
func (e *Engine) refreshAfter(ctx context.Context, op string) {
	if err := e.refresh(context.WithoutCancel(ctx)); err != nil {
		e.logger.Error("snapshot refresh failed", "op", op, "error", err)
	}
}

// Snapshot returns the latest projection of category.
func (e *Engine) Snapshot(category domain.Category) domain.Snapshot {
	return e.snap.Load().Get(category)
}

// Snapshots returns the latest projections of both categories.
func (e *Engine) Snapshots() *snapshot.Set {
	return e.snap.Load()
}

// enforcement issues requests after the transaction that decided them
// committed.
func (e *Engine) enforcement(reqs []enforce.Request) {
	if len(reqs) == 0 {
		return
	}
	if e.dispatcher == nil {
		for _, r := range reqs {
			e.logger.Debug("no enforcement capability; request recorded only",
				"action", r.Action,
				"logical_id", r.LogicalID)
		}
		return
	}
	e.dispatcher.Submit(reqs...)
}

type noopMonitor struct{}

func (noopMonitor) Start(context.Context, string, int64, int64) error { return nil }
func (noopMonitor) Stop(context.Context, string) error                { return nil }
