package trace

import (
	"math/rand/v2"
	"sort"

	"github.com/roach88/tracestore/internal/lattice"
)

// Batch is an immutable, sorted and consolidated set of updates covering the
// times in [Lower, Upper).
//
// Updates are stored in three layers. keys[i] owns vals[keyOffs[i]:keyOffs[i+1]]
// and vals[j] owns times/weights[valOffs[j]:valOffs[j+1]].
type Batch[K, V any, T lattice.Timestamp[T], R Weight] struct {
	schema Schema[K, V, T, R]

	keys    []K
	keyOffs []int
	vals    []V
	valOffs []int
	times   []T
	weights []R

	lower lattice.Antichain[T]
	upper lattice.Antichain[T]
}

var _ BatchReader[int, int, lattice.Epoch, int] = (*Batch[int, int, lattice.Epoch, int])(nil)

// EmptyBatch returns a batch with no updates.
func EmptyBatch[K, V any, T lattice.Timestamp[T], R Weight](schema Schema[K, V, T, R], lower, upper lattice.Antichain[T]) *Batch[K, V, T, R] {
	return &Batch[K, V, T, R]{
		schema:  schema,
		keyOffs: []int{0},
		valOffs: []int{0},
		lower:   lower,
		upper:   upper,
	}
}

// Schema returns the codecs the batch orders its keys and values with.
func (b *Batch[K, V, T, R]) Schema() Schema[K, V, T, R] { return b.schema }

// KeyCount is exact for batches.
func (b *Batch[K, V, T, R]) KeyCount() int { return len(b.keys) }

// Len is exact for batches: only updates of keys still visible are counted.
func (b *Batch[K, V, T, R]) Len() int {
	if len(b.keys) == 0 {
		return 0
	}
	first := b.valOffs[b.keyOffs[0]]
	last := b.valOffs[b.keyOffs[len(b.keys)]]
	return last - first
}

// IsEmpty reports whether the batch holds no updates.
func (b *Batch[K, V, T, R]) IsEmpty() bool { return len(b.keys) == 0 }

func (b *Batch[K, V, T, R]) Lower() lattice.Antichain[T] { return b.lower }
func (b *Batch[K, V, T, R]) Upper() lattice.Antichain[T] { return b.upper }

// Cursor never fails for in-memory batches.
func (b *Batch[K, V, T, R]) Cursor() (Cursor[K, V, T, R], error) {
	return b.cursor(), nil
}

func (b *Batch[K, V, T, R]) cursor() *batchCursor[K, V, T, R] {
	c := &batchCursor[K, V, T, R]{batch: b}
	c.RewindKeys()
	return c
}

// TruncateKeysBelow drops every key less than bound.
func (b *Batch[K, V, T, R]) TruncateKeysBelow(bound K) {
	i := sort.Search(len(b.keys), func(i int) bool {
		return b.schema.Key.Compare(b.keys[i], bound) >= 0
	})
	b.keys = b.keys[i:]
	b.keyOffs = b.keyOffs[i:]
}

func (b *Batch[K, V, T, R]) SampleKeys(rng *rand.Rand, n int, out []K) ([]K, error) {
	if n >= len(b.keys) {
		return append(out, b.keys...), nil
	}
	return SampleCursorKeys[K, V, T, R](b.cursor(), rng, n, b.schema.Key.Compare, out), nil
}

// Updates returns the batch contents as flat tuples in (key, value, time)
// order.
func (b *Batch[K, V, T, R]) Updates() []Update[K, V, T, R] {
	out := make([]Update[K, V, T, R], 0, b.Len())
	for i, k := range b.keys {
		for j := b.keyOffs[i]; j < b.keyOffs[i+1]; j++ {
			for u := b.valOffs[j]; u < b.valOffs[j+1]; u++ {
				out = append(out, Update[K, V, T, R]{Key: k, Val: b.vals[j], Time: b.times[u], Weight: b.weights[u]})
			}
		}
	}
	return out
}

// Builder accumulates updates in any order and produces a consolidated Batch.
type Builder[K, V any, T lattice.Timestamp[T], R Weight] struct {
	schema  Schema[K, V, T, R]
	updates []Update[K, V, T, R]
}

// NewBuilder returns an empty builder ordering updates with schema's codecs.
func NewBuilder[K, V any, T lattice.Timestamp[T], R Weight](schema Schema[K, V, T, R]) *Builder[K, V, T, R] {
	return &Builder[K, V, T, R]{schema: schema}
}

// Push adds one update.
func (bl *Builder[K, V, T, R]) Push(key K, val V, time T, weight R) {
	bl.updates = append(bl.updates, Update[K, V, T, R]{Key: key, Val: val, Time: time, Weight: weight})
}

// PushUpdates adds several updates.
func (bl *Builder[K, V, T, R]) PushUpdates(updates ...Update[K, V, T, R]) {
	bl.updates = append(bl.updates, updates...)
}

// Done sorts and consolidates the pushed updates. Weights of identical
// (key, value, time) triples are summed and zero results dropped. The builder
// is reset.
func (bl *Builder[K, V, T, R]) Done(lower, upper lattice.Antichain[T]) *Batch[K, V, T, R] {
	updates := bl.updates
	bl.updates = nil

	s := bl.schema
	sort.SliceStable(updates, func(i, j int) bool {
		a, b := updates[i], updates[j]
		if c := s.Key.Compare(a.Key, b.Key); c != 0 {
			return c < 0
		}
		if c := s.Val.Compare(a.Val, b.Val); c != 0 {
			return c < 0
		}
		return a.Time.Compare(b.Time) < 0
	})

	batch := EmptyBatch(s, lower, upper)
	for i := 0; i < len(updates); {
		u := updates[i]
		sum := u.Weight
		j := i + 1
		for ; j < len(updates); j++ {
			n := updates[j]
			if s.Key.Compare(n.Key, u.Key) != 0 || s.Val.Compare(n.Val, u.Val) != 0 || n.Time != u.Time {
				break
			}
			sum += n.Weight
		}
		i = j
		if sum == 0 {
			continue
		}
		batch.push(u.Key, u.Val, u.Time, sum)
	}
	return batch
}

// push appends an update that sorts strictly after everything already pushed.
func (b *Batch[K, V, T, R]) push(key K, val V, time T, weight R) {
	newKey := len(b.keys) == 0 || b.schema.Key.Compare(b.keys[len(b.keys)-1], key) != 0
	if newKey {
		b.keys = append(b.keys, key)
		b.keyOffs = append(b.keyOffs, b.keyOffs[len(b.keyOffs)-1])
	}
	if newKey || b.schema.Val.Compare(b.vals[len(b.vals)-1], val) != 0 {
		b.vals = append(b.vals, val)
		b.valOffs = append(b.valOffs, b.valOffs[len(b.valOffs)-1])
		b.keyOffs[len(b.keyOffs)-1]++
	}
	b.times = append(b.times, time)
	b.weights = append(b.weights, weight)
	b.valOffs[len(b.valOffs)-1]++
}
