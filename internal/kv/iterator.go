package kv

// Iterator is a bidirectional scan over the resolved records of a partition,
// ordered by the partition's MergePolicy. Positioning methods return Valid.
//
// Key and Value are only valid until the next positioning call.
type Iterator interface {
	First() bool
	Last() bool
	SeekGE(key []byte) bool
	SeekLT(key []byte) bool
	Next() bool
	Prev() bool
	Valid() bool
	Key() []byte
	Value() []byte
	Error() error
	Close() error
}
