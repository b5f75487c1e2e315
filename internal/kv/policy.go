package kv

// MergePolicy is the callback set installed on a partition. The engines call
// it from background goroutines, so implementations must be pure.
type MergePolicy interface {
	// Name identifies the policy. It is persisted by the engine and must
	// not change for an existing partition.
	Name() string

	// Compare orders record keys. The empty key sorts first.
	Compare(a, b []byte) int

	// Merge combines two records for key, older first. It must be
	// associative.
	Merge(key, older, newer []byte) ([]byte, error)

	// MergeFinal resolves the oldest record of a key once no older data
	// exists. keep reports whether the key survives; when false the
	// engine deletes it.
	MergeFinal(key, value []byte) (result []byte, keep bool, err error)
}

// ByteOrderedPolicy is implemented by policies whose Compare is equivalent to
// bytes.Compare, letting engines keep their native key handling.
type ByteOrderedPolicy interface {
	ByteOrdered() bool
}

func isByteOrdered(p MergePolicy) bool {
	bo, ok := p.(ByteOrderedPolicy)
	return ok && bo.ByteOrdered()
}

// Op is one merge operand write.
type Op struct {
	Key   []byte
	Value []byte
}

// fold merges operands (oldest first) into one record. With final set the
// result is resolved with MergeFinal. A policy error is corruption and
// panics.
func fold(p MergePolicy, key []byte, operands [][]byte, final bool) ([]byte, bool) {
	acc := operands[0]
	for _, next := range operands[1:] {
		merged, err := p.Merge(key, acc, next)
		if err != nil {
			panic(corruption(key, err))
		}
		acc = merged
	}
	if !final {
		return acc, true
	}
	out, keep, err := p.MergeFinal(key, acc)
	if err != nil {
		panic(corruption(key, err))
	}
	return out, keep
}
