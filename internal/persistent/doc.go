// Package persistent implements a trace whose updates live in a kv
// partition instead of process memory.
//
// # Layout
//
// Every key owns one record, keyed by the encoded key followed by a layout
// tag (metaEmpty). The record value is either a persisted value, holding
// every (value, time, weight) of the key in canonical form, or a merge
// operand:
//
//	Tombstone              0x01
//	Values(list)           0x02 list
//	Insert(list)           0x10 list
//	RecedeTo(time)         0x11 time
//	RecedeInsert(time, l)  0x12 time list
//
// where list is a uint32 value count, then for each value its encoding, a
// uint32 time count and the (time, weight) pairs. Values are sorted, times
// within a value are sorted and unique, and zero weights never appear.
//
// # Merging
//
// Inserts write Insert operands and RecedeTo broadcasts RecedeTo operands.
// The kv engine folds them with Policy, lazily, during reads and background
// compaction. Two operands fold into a RecedeInsert when no base record is
// available, which keeps the fold associative under any grouping.
//
// # Reading
//
// Cursor decodes one key's record at a time and serves the value and time
// levels from memory. Key navigation always goes through the engine's
// native seeks.
package persistent
