// Package trace defines the read and write contracts shared by every trace
// implementation: Cursor, BatchReader and Trace.
//
// A trace is a time-indexed multiset of (key, value, time, weight) updates,
// grouped as key -> value -> time -> weight. Cursors navigate that hierarchy
// in ascending key order and, within a key, ascending value order.
//
// The package also provides Batch, an immutable in-memory implementation
// built with a Builder. Batches are the unit of insertion into a trace and
// the output of consolidation; their cursor is the reference behavior that
// persisted traces reproduce.
package trace
