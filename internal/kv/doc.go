// Package kv is the ordered key-value store context that persistent traces
// are written to.
//
// A Store is constructed explicitly from a Config and passed to every trace;
// there is no process-wide handle. Each trace owns one Partition, an isolated
// keyspace with its own MergePolicy installed as the engine's comparator and
// merge operator. Writes are merge operands only: the engine folds them with
// the policy lazily, during reads and background compaction.
//
// # Engines
//
//   - pebble: one Pebble database per partition. The policy becomes a
//     pebble.Comparer and a pebble.Merger; Pebble folds operands during
//     iteration and compaction. All partitions share one block cache.
//   - sqlite: one SQLite database per partition. Keys are stored hex-encoded
//     under a collation that calls the policy comparator. Operands are
//     appended to a pending table and folded into the records table before
//     every scan and periodically by a background compactor.
//
// # Capacity
//
// Key size, value size and total store size limits are enforced at write
// time. A rejected write returns a *CapacityError and nothing in the write
// is applied.
//
// # Merge callbacks
//
// Policies run inside engine background goroutines. They must be pure
// functions of their inputs. A policy error means stored bytes are corrupt;
// the engines panic on it rather than retry.
package kv
