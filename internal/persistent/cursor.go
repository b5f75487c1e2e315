package persistent

import (
	"fmt"
	"sort"

	"github.com/roach88/tracestore/internal/kv"
	"github.com/roach88/tracestore/internal/lattice"
	"github.com/roach88/tracestore/internal/trace"
)

type cursorPos int

const (
	posValid cursorPos = iota
	// posBefore and posAfter are the exhausted states past either end.
	posBefore
	posAfter
)

// Cursor reads a persistent trace one key at a time. Loading a key decodes
// every record of that key, folds them into one value list and filters it by
// the value bound; keys left with no visible values are skipped.
//
// Iterator and decode failures panic: stored bytes the trace wrote itself
// can only fail to decode if the store is corrupt.
type Cursor[K, V any, T lattice.Timestamp[T], R trace.Weight] struct {
	it     kv.Iterator
	policy *Policy[K, V, T, R]

	keyBound    K
	hasKeyBound bool
	valBound    V
	hasValBound bool

	pos    cursorPos
	key    K
	vals   Values[V, T, R]
	valIdx int
}

var _ trace.Cursor[int64, string, lattice.Epoch, int64] = (*Cursor[int64, string, lattice.Epoch, int64])(nil)

func (c *Cursor[K, V, T, R]) schema() trace.Schema[K, V, T, R] { return c.policy.codec.schema }

func (c *Cursor[K, V, T, R]) fail(op string, err error) {
	panic(fmt.Errorf("persistent cursor: %s: %w", op, err))
}

// checkIter panics if the iterator stopped on an error.
func (c *Cursor[K, V, T, R]) checkIter(op string, valid bool) bool {
	if !valid {
		if err := c.it.Error(); err != nil {
			c.fail(op, err)
		}
	}
	return valid
}

func (c *Cursor[K, V, T, R]) belowKeyBound(key K) bool {
	return c.hasKeyBound && c.schema().Key.Compare(key, c.keyBound) < 0
}

func (c *Cursor[K, V, T, R]) visible(values Values[V, T, R]) Values[V, T, R] {
	if !c.hasValBound {
		return values
	}
	cmp := c.schema().Val.Compare
	i := sort.Search(len(values), func(i int) bool { return cmp(values[i].Val, c.valBound) >= 0 })
	return values[i:]
}

// readKey decodes the record under the iterator.
func (c *Cursor[K, V, T, R]) readKey() K {
	key, _, err := c.policy.codec.decodeKey(c.it.Key())
	if err != nil {
		c.fail("decode key", err)
	}
	return key
}

func (c *Cursor[K, V, T, R]) readValues() Values[V, T, R] {
	values, err := c.policy.resolve(c.it.Value())
	if err != nil {
		c.fail("decode record", err)
	}
	return values
}

// loadForward materializes the first visible key at or after the iterator
// position. valid is the iterator's state.
func (c *Cursor[K, V, T, R]) loadForward(valid bool) {
	keyCmp := c.schema().Key.Compare
	valCmp := c.schema().Val.Compare
	for c.checkIter("scan forward", valid) {
		key := c.readKey()
		if c.belowKeyBound(key) {
			valid = c.it.SeekGE(c.policy.codec.seekKey(c.keyBound))
			continue
		}
		values := c.readValues()
		for valid = c.it.Next(); c.checkIter("scan forward", valid) && keyCmp(c.readKey(), key) == 0; valid = c.it.Next() {
			values = addValues(valCmp, values, c.readValues())
		}
		if values = c.visible(values); len(values) > 0 {
			c.setKey(key, values)
			return
		}
	}
	c.pos = posAfter
}

// loadBackward materializes the last visible key at or before the iterator
// position.
func (c *Cursor[K, V, T, R]) loadBackward(valid bool) {
	keyCmp := c.schema().Key.Compare
	valCmp := c.schema().Val.Compare
	for c.checkIter("scan backward", valid) {
		key := c.readKey()
		if c.belowKeyBound(key) {
			break
		}
		values := c.readValues()
		for valid = c.it.Prev(); c.checkIter("scan backward", valid) && keyCmp(c.readKey(), key) == 0; valid = c.it.Prev() {
			values = addValues(valCmp, c.readValues(), values)
		}
		if values = c.visible(values); len(values) > 0 {
			c.setKey(key, values)
			return
		}
	}
	c.pos = posBefore
}

func (c *Cursor[K, V, T, R]) setKey(key K, values Values[V, T, R]) {
	c.pos = posValid
	c.key = key
	c.vals = values
	c.valIdx = 0
}

// seekForward positions on the first visible key >= key.
func (c *Cursor[K, V, T, R]) seekForward(key K) {
	if c.belowKeyBound(key) {
		key = c.keyBound
	}
	c.loadForward(c.it.SeekGE(c.policy.codec.seekKey(key)))
}

// seekBackward positions on the last visible key <= key.
func (c *Cursor[K, V, T, R]) seekBackward(key K) {
	c.loadBackward(c.it.SeekLT(c.policy.codec.seekPastKey(key)))
}

func (c *Cursor[K, V, T, R]) KeyValid() bool { return c.pos == posValid }

func (c *Cursor[K, V, T, R]) ValValid() bool {
	return c.pos == posValid && c.valIdx >= 0 && c.valIdx < len(c.vals)
}

func (c *Cursor[K, V, T, R]) Key() K {
	if !c.KeyValid() {
		panic("persistent cursor: Key called on invalid cursor")
	}
	return c.key
}

func (c *Cursor[K, V, T, R]) Val() V {
	if !c.ValValid() {
		panic("persistent cursor: Val called on invalid cursor")
	}
	return c.vals[c.valIdx].Val
}

func (c *Cursor[K, V, T, R]) MapTimes(f func(T, R)) {
	if !c.ValValid() {
		return
	}
	for _, tw := range c.vals[c.valIdx].Times {
		f(tw.Time, tw.Weight)
	}
}

func (c *Cursor[K, V, T, R]) MapTimesThrough(upper T, f func(T, R)) {
	if !c.ValValid() {
		return
	}
	for _, tw := range c.vals[c.valIdx].Times {
		if tw.Time.LessEqual(upper) {
			f(tw.Time, tw.Weight)
		}
	}
}

func (c *Cursor[K, V, T, R]) Weight() R {
	var sum R
	c.MapTimes(func(_ T, w R) { sum += w })
	return sum
}

func (c *Cursor[K, V, T, R]) StepKey() {
	switch c.pos {
	case posValid:
		c.loadForward(c.it.SeekGE(c.policy.codec.seekPastKey(c.key)))
	case posBefore:
		c.RewindKeys()
	}
}

func (c *Cursor[K, V, T, R]) StepKeyReverse() {
	switch c.pos {
	case posValid:
		c.loadBackward(c.it.SeekLT(c.policy.codec.seekKey(c.key)))
	case posAfter:
		c.FastForwardKeys()
	}
}

func (c *Cursor[K, V, T, R]) SeekKey(key K) {
	switch c.pos {
	case posAfter:
		return
	case posValid:
		if c.schema().Key.Compare(c.key, key) >= 0 {
			return
		}
	}
	c.seekForward(key)
}

// SeekKeyWith steps forward until pred holds.
func (c *Cursor[K, V, T, R]) SeekKeyWith(pred func(K) bool) {
	if c.pos == posBefore {
		c.RewindKeys()
	}
	for c.KeyValid() && !pred(c.key) {
		c.StepKey()
	}
}

func (c *Cursor[K, V, T, R]) SeekKeyReverse(key K) {
	switch c.pos {
	case posBefore:
		return
	case posValid:
		if c.schema().Key.Compare(c.key, key) <= 0 {
			return
		}
	}
	c.seekBackward(key)
}

// SeekKeyWithReverse steps backward until pred holds.
func (c *Cursor[K, V, T, R]) SeekKeyWithReverse(pred func(K) bool) {
	if c.pos == posAfter {
		c.FastForwardKeys()
	}
	for c.KeyValid() && !pred(c.key) {
		c.StepKeyReverse()
	}
}

func (c *Cursor[K, V, T, R]) StepVal() {
	if c.ValValid() {
		c.valIdx++
	}
}

func (c *Cursor[K, V, T, R]) StepValReverse() {
	if c.ValValid() {
		c.valIdx--
	}
}

func (c *Cursor[K, V, T, R]) SeekVal(val V) {
	if !c.KeyValid() {
		return
	}
	start := max(c.valIdx, 0)
	if start >= len(c.vals) {
		return
	}
	cmp := c.schema().Val.Compare
	c.valIdx = start + sort.Search(len(c.vals)-start, func(i int) bool {
		return cmp(c.vals[start+i].Val, val) >= 0
	})
}

func (c *Cursor[K, V, T, R]) SeekValWith(pred func(V) bool) {
	if !c.KeyValid() {
		return
	}
	i := max(c.valIdx, 0)
	for i < len(c.vals) && !pred(c.vals[i].Val) {
		i++
	}
	c.valIdx = i
}

func (c *Cursor[K, V, T, R]) SeekValReverse(val V) {
	if !c.KeyValid() {
		return
	}
	end := min(c.valIdx, len(c.vals)-1)
	if end < 0 {
		return
	}
	cmp := c.schema().Val.Compare
	c.valIdx = sort.Search(end+1, func(i int) bool {
		return cmp(c.vals[i].Val, val) > 0
	}) - 1
}

func (c *Cursor[K, V, T, R]) SeekValWithReverse(pred func(V) bool) {
	if !c.KeyValid() {
		return
	}
	i := min(c.valIdx, len(c.vals)-1)
	for i >= 0 && !pred(c.vals[i].Val) {
		i--
	}
	c.valIdx = i
}

func (c *Cursor[K, V, T, R]) RewindKeys() {
	if c.hasKeyBound {
		c.loadForward(c.it.SeekGE(c.policy.codec.seekKey(c.keyBound)))
		return
	}
	c.loadForward(c.it.First())
}

func (c *Cursor[K, V, T, R]) FastForwardKeys() { c.loadBackward(c.it.Last()) }

func (c *Cursor[K, V, T, R]) RewindVals() {
	if c.KeyValid() {
		c.valIdx = 0
	}
}

func (c *Cursor[K, V, T, R]) FastForwardVals() {
	if c.KeyValid() {
		c.valIdx = len(c.vals) - 1
	}
}

// Close releases the store iterator.
func (c *Cursor[K, V, T, R]) Close() error { return c.it.Close() }
