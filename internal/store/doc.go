// Package store provides SQLite-backed durable storage for the reward core.
//
// Tables:
//   - handle_identities: HandleHash -> LogicalID mapping
//   - assignments: LogicalID -> category, points rate, sort key, label
//   - master_selection: the durable union of committed items
//   - usage_records / usage_events: accumulated usage and its replay log
//   - shields: the core's belief about which items are under enforcement
//   - tombstones: removal markers used to detect orphaned picker handles
//   - monitor_registrations: usage-monitor scope, generation and state
//
// # Critical Patterns
//
// Atomicity
//   - Every mutation runs inside Store.Update, one SQLite transaction
//   - A write is either fully applied or not observed at all after a crash
//
// Idempotency
//   - usage_events keyed by content-addressed event_id, ON CONFLICT DO NOTHING
//   - handle_identities inserted ON CONFLICT DO NOTHING and re-read
//
// Logical time
//   - All ordering uses seq INTEGER from the persisted Clock, never timestamps
//   - The clock resumes from meta.seq on Open
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
package store
