// Package engine owns all mutable reward state.
//
// ARCHITECTURE:
//
// Single-Writer Command Loop:
// Every mutation runs as a command on one goroutine. Picker-driven calls
// (OpenContext, PickerReturned, Commit, RemoveItem, SetRate, Unlock) and
// usage notifications from the monitor extension share the same FIFO
// queue, so a commit and a threshold event for the same item can never
// interleave.
//
// Command Flow:
// 1. A public method enqueues a command and waits on its reply channel
// 2. Run dequeues commands one at a time
// 3. The command runs inside one SQLite transaction
// 4. On success the learning and reward snapshots are rebuilt and published
// 5. Enforcement calls decided by the command are handed to the dispatcher
//    after the transaction committed
//
// The picker itself never runs on the loop. SelectWithPicker presents it on
// the caller's goroutine with a timeout and feeds the result back as a
// command. Snapshots are read through an atomic pointer and never wait on
// the loop.
//
// Startup:
// New drops assignment rows whose category is unreadable and publishes the
// first snapshots. Run tears down any monitor registration left by a
// previous process (stop, then start with a new generation) before serving
// commands.
package engine
