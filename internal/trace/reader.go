package trace

import (
	"math/rand/v2"

	"github.com/roach88/tracestore/internal/lattice"
)

// BatchReader is the read-only view shared by batches and traces.
type BatchReader[K, V any, T lattice.Timestamp[T], R Weight] interface {
	// KeyCount estimates the number of distinct keys.
	KeyCount() int

	// Len estimates the number of (key, value, time) updates.
	Len() int

	// Lower is the frontier of the earliest times the reader may contain.
	Lower() lattice.Antichain[T]

	// Upper is the frontier beyond which the reader holds no data.
	Upper() lattice.Antichain[T]

	Cursor() (Cursor[K, V, T, R], error)

	// TruncateKeysBelow hides keys strictly less than bound. Bounds only
	// ever rise.
	TruncateKeysBelow(bound K)

	// SampleKeys appends up to n distinct visible keys, chosen uniformly
	// with rng, to out in ascending order.
	SampleKeys(rng *rand.Rand, n int, out []K) ([]K, error)
}

// Trace is an append-only, time-indexed collection of batches.
type Trace[K, V any, T lattice.Timestamp[T], R Weight] interface {
	BatchReader[K, V, T, R]

	// Insert adds a batch. The batch must satisfy Lower != Upper.
	Insert(batch BatchReader[K, V, T, R]) error

	// RecedeTo collapses every stored time onto its meet with frontier.
	RecedeTo(frontier T) error

	// Exert performs up to *effort units of background work.
	Exert(effort *int)

	// Consolidate returns a batch holding the net weight of every
	// (key, value) at the minimum time.
	Consolidate() (*Batch[K, V, T, R], error)

	// TruncateValuesBelow hides values strictly less than bound.
	TruncateValuesBelow(bound V)

	Dirty() bool
	ClearDirtyFlag()
}
