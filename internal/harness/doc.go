// Package harness runs scripted scenarios against a persistent trace.
//
// A scenario is a YAML file. Each run opens a fresh in-memory store, applies
// the steps in order to one trace, records an event per step, and finally
// evaluates the assertions against the trace contents.
//
//	name: recede_collapses_times
//	description: "Receding merges times and cancels opposite weights"
//	steps:
//	  - insert:
//	      upper: [4, 0]
//	      updates:
//	        - {key: 1, val: a, time: [0, 1], weight: 1}
//	        - {key: 2, val: b, time: [3, 0], weight: 1}
//	  - recede_to: [1, 1]
//	  - snapshot: receded
//	assertions:
//	  - type: keys
//	    keys: [1, 2]
//
// # Steps
//
// Exactly one field is set per step:
//
//   - insert: a batch with optional lower (default [0, 0]), upper, and updates.
//     expect_error: capacity marks an insert the store must reject.
//   - recede_to: a time.
//   - truncate_keys_below, truncate_values_below: a key or value bound.
//   - compact: true forces store compaction.
//   - snapshot: a label; the trace dump is recorded under it.
//
// # Assertion Types
//
//   - updates: the cursor yields exactly these updates
//   - consolidated: Consolidate yields exactly these updates
//   - keys, keys_reverse: forward or reverse key order
//   - len: the trace's update estimate
//
// Times are [epoch, round] pairs. Keys are integers and values strings.
package harness
