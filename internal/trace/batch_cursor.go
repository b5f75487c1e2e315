package trace

import (
	"sort"

	"github.com/roach88/tracestore/internal/lattice"
)

// batchCursor positions are indexes into the batch layers. key ranges over
// [-1, len(keys)]; both ends are exhausted states. val ranges over
// [lo-1, hi] for the current key's value range [lo, hi).
type batchCursor[K, V any, T lattice.Timestamp[T], R Weight] struct {
	batch *Batch[K, V, T, R]
	key   int
	val   int
}

func (c *batchCursor[K, V, T, R]) numKeys() int { return len(c.batch.keys) }

func (c *batchCursor[K, V, T, R]) valRange() (int, int) {
	return c.batch.keyOffs[c.key], c.batch.keyOffs[c.key+1]
}

func (c *batchCursor[K, V, T, R]) setKey(i int) {
	c.key = i
	if c.KeyValid() {
		c.val, _ = c.valRange()
	}
}

func (c *batchCursor[K, V, T, R]) KeyValid() bool {
	return c.key >= 0 && c.key < c.numKeys()
}

func (c *batchCursor[K, V, T, R]) ValValid() bool {
	if !c.KeyValid() {
		return false
	}
	lo, hi := c.valRange()
	return c.val >= lo && c.val < hi
}

func (c *batchCursor[K, V, T, R]) Key() K {
	if !c.KeyValid() {
		panic("trace: Key called on invalid cursor")
	}
	return c.batch.keys[c.key]
}

func (c *batchCursor[K, V, T, R]) Val() V {
	if !c.ValValid() {
		panic("trace: Val called on invalid cursor")
	}
	return c.batch.vals[c.val]
}

func (c *batchCursor[K, V, T, R]) MapTimes(f func(T, R)) {
	if !c.ValValid() {
		return
	}
	for i := c.batch.valOffs[c.val]; i < c.batch.valOffs[c.val+1]; i++ {
		f(c.batch.times[i], c.batch.weights[i])
	}
}

func (c *batchCursor[K, V, T, R]) MapTimesThrough(upper T, f func(T, R)) {
	c.MapTimes(func(t T, r R) {
		if t.LessEqual(upper) {
			f(t, r)
		}
	})
}

func (c *batchCursor[K, V, T, R]) Weight() R {
	var sum R
	c.MapTimes(func(_ T, r R) { sum += r })
	return sum
}

func (c *batchCursor[K, V, T, R]) StepKey() {
	if c.key < c.numKeys() {
		c.setKey(c.key + 1)
	}
}

func (c *batchCursor[K, V, T, R]) StepKeyReverse() {
	if c.key >= 0 {
		c.setKey(c.key - 1)
	}
}

func (c *batchCursor[K, V, T, R]) SeekKey(key K) {
	start := max(c.key, 0)
	if c.KeyValid() && c.batch.schema.Key.Compare(c.Key(), key) >= 0 {
		return
	}
	n := c.numKeys() - start
	i := sort.Search(n, func(i int) bool {
		return c.batch.schema.Key.Compare(c.batch.keys[start+i], key) >= 0
	})
	c.setKey(start + i)
}

func (c *batchCursor[K, V, T, R]) SeekKeyWith(pred func(K) bool) {
	i := max(c.key, 0)
	for i < c.numKeys() && !pred(c.batch.keys[i]) {
		i++
	}
	if i != c.key {
		c.setKey(i)
	}
}

func (c *batchCursor[K, V, T, R]) SeekKeyReverse(key K) {
	end := min(c.key, c.numKeys()-1)
	if c.KeyValid() && c.batch.schema.Key.Compare(c.Key(), key) <= 0 {
		return
	}
	// Last index in [0, end] with keys[i] <= key.
	i := sort.Search(end+1, func(i int) bool {
		return c.batch.schema.Key.Compare(c.batch.keys[i], key) > 0
	})
	c.setKey(i - 1)
}

func (c *batchCursor[K, V, T, R]) SeekKeyWithReverse(pred func(K) bool) {
	i := min(c.key, c.numKeys()-1)
	for i >= 0 && !pred(c.batch.keys[i]) {
		i--
	}
	if i != c.key {
		c.setKey(i)
	}
}

func (c *batchCursor[K, V, T, R]) StepVal() {
	if c.ValValid() {
		c.val++
	}
}

func (c *batchCursor[K, V, T, R]) StepValReverse() {
	if c.ValValid() {
		c.val--
	}
}

func (c *batchCursor[K, V, T, R]) SeekVal(val V) {
	if !c.KeyValid() {
		return
	}
	lo, hi := c.valRange()
	start := max(c.val, lo)
	if start >= hi {
		return
	}
	i := sort.Search(hi-start, func(i int) bool {
		return c.batch.schema.Val.Compare(c.batch.vals[start+i], val) >= 0
	})
	c.val = start + i
}

func (c *batchCursor[K, V, T, R]) SeekValWith(pred func(V) bool) {
	if !c.KeyValid() {
		return
	}
	lo, hi := c.valRange()
	i := max(c.val, lo)
	for i < hi && !pred(c.batch.vals[i]) {
		i++
	}
	c.val = i
}

func (c *batchCursor[K, V, T, R]) SeekValReverse(val V) {
	if !c.KeyValid() {
		return
	}
	lo, hi := c.valRange()
	end := min(c.val, hi-1)
	if end < lo {
		return
	}
	i := sort.Search(end-lo+1, func(i int) bool {
		return c.batch.schema.Val.Compare(c.batch.vals[lo+i], val) > 0
	})
	c.val = lo + i - 1
}

func (c *batchCursor[K, V, T, R]) SeekValWithReverse(pred func(V) bool) {
	if !c.KeyValid() {
		return
	}
	lo, hi := c.valRange()
	i := min(c.val, hi-1)
	for i >= lo && !pred(c.batch.vals[i]) {
		i--
	}
	c.val = i
}

func (c *batchCursor[K, V, T, R]) RewindKeys() { c.setKey(0) }

func (c *batchCursor[K, V, T, R]) FastForwardKeys() { c.setKey(c.numKeys() - 1) }

func (c *batchCursor[K, V, T, R]) RewindVals() {
	if c.KeyValid() {
		c.val, _ = c.valRange()
	}
}

func (c *batchCursor[K, V, T, R]) FastForwardVals() {
	if c.KeyValid() {
		_, hi := c.valRange()
		c.val = hi - 1
	}
}

func (c *batchCursor[K, V, T, R]) Close() error { return nil }
