package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// command is one unit of work for the Run loop.
//
// Picker-driven calls and usage notifications both arrive as commands, so
// every mutation of assignments, usage and Master funnels through the same
// serialized path.
type command struct {
	name  string
	ctx   context.Context // caller context; notifications use the loop's
	run   func(ctx context.Context) error
	done  chan error    // nil for fire-and-forget notifications
	state *atomic.Int32 // nil for notifications; see claim
}

// Command states. The loop and a caller that gives up race for the same
// transition out of commandQueued; exactly one wins.
const (
	commandQueued int32 = iota
	commandRunning
	commandAbandoned
)

// claim marks c as running. It fails if the caller abandoned c first.
func (c command) claim() bool {
	return c.state == nil || c.state.CompareAndSwap(commandQueued, commandRunning)
}

// abandon marks c as abandoned. It fails if the loop already started c.
func (c command) abandon() bool {
	return c.state.CompareAndSwap(commandQueued, commandAbandoned)
}

// commandQueue is a thread-safe, unbounded FIFO of commands.
//
// It is unbounded so that EnqueueNotification never blocks the goroutine
// that receives monitor signals: the platform does not redeliver a missed
// notification.
//
// The signal channel lets the Run loop wait on the queue and ctx.Done() in
// one select.
type commandQueue struct {
	mu       sync.Mutex
	commands []command
	closed   bool
	signal   chan struct{} // buffered, size 1
}

func newCommandQueue() *commandQueue {
	return &commandQueue{
		commands: make([]command, 0, 64),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds c to the back of the queue. Safe from any goroutine.
// Returns false if the queue is closed.
func (q *commandQueue) Enqueue(c command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.commands = append(q.commands, c)

	// Buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes and returns the front command without blocking.
func (q *commandQueue) TryDequeue() (command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.commands) == 0 {
		return command{}, false
	}
	c := q.commands[0]

	// Clear the slot so the closure and its captures can be collected.
	q.commands[0] = command{}
	if len(q.commands) == 1 {
		q.commands = q.commands[:0]
	} else {
		q.commands = q.commands[1:]
	}
	return c, true
}

// Wait returns a channel that signals when commands may be available. It is
// closed when the queue is closed.
func (q *commandQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.commands)
}

// Close rejects further commands and wakes the Run loop.
func (q *commandQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Closed reports whether Close was called.
func (q *commandQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Drain removes every queued command. Used on shutdown so blocked callers
// are released with an error instead of waiting forever.
func (q *commandQueue) Drain() []command {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.commands
	q.commands = nil
	return out
}
