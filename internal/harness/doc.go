// Package harness runs YAML scenarios against the real engine.
//
// # Scenario Format
//
//	name: categories_do_not_clobber
//	description: "Committing reward leaves learning untouched"
//	rates: { learning: 10, reward: 5 }
//	steps:
//	  - do: select
//	    category: learning
//	    handles: [Books, News]
//	  - do: commit
//	    category: learning
//	  - do: select
//	    category: reward
//	    handles: [Books]
//	  - do: commit
//	    category: reward
//	    expect: { error: CONFLICT }
//	assertions:
//	  - type: snapshot
//	    category: learning
//	    rows:
//	      - { label: Books, seconds: 0 }
//	      - { label: News }
//
// A handle is either a bare name, which stands for an item whose opaque bytes
// are "opaque:<name>" and whose label is the name, or a mapping with
// external_id, opaque and label.
//
// # Steps
//
//   - select: present a scripted picker for category. picker_errors lists
//     failures to play before the handles are returned (transient, timeout,
//     denied).
//   - commit: commit the pending selection. moves names labels allowed to
//     change category; overrides maps a label to a category. Echoed items
//     of the other category that neither names stay where they are.
//   - cancel: discard the open selection.
//   - remove: remove item id.
//   - usage: deliver one threshold event of seconds for handle. stale uses
//     an outdated monitor generation; redeliver replays the previous
//     descriptor byte for byte.
//   - rate: set the points rate of item id.
//   - unlock, relock: lift or restore the shield of reward item id.
//   - verify: replay the usage event log against stored records.
//   - restart: stop the engine and reopen the database, as a new process.
//
// Every step is expected to succeed unless expect names an error code or an
// ingest outcome.
//
// # Assertion Types
//
//   - snapshot: the rows of a category projection, in order, subset match
//   - assignment: the category of an item, or its absence
//   - trace_contains: a step with op and outcome was executed
//   - trace_count: an op was executed exactly count times
//   - trace_order: ops appear in this order
//   - final_state: one row of a store table matches, subset semantics
//
// # Deterministic Testing
//
// Logical ids come from a sequence generator ("item-0001", ...), threshold
// events carry a fixed base timestamp plus the step index, and every scenario
// gets a fresh database, so traces and projections can be compared against
// golden files.
package harness
