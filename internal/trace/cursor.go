package trace

import (
	"fmt"
	"io"

	"github.com/roach88/tracestore/internal/lattice"
)

// Cursor navigates a grouped key -> value -> (time, weight) view.
//
// Positioning rules shared by all implementations:
//   - Moving to a different key positions the value cursor on that key's
//     first value.
//   - Seeks never move backwards. SeekKey(k) is a no-op when the current
//     key is already >= k, and SeekKeyReverse(k) when it is already <= k.
//     The same holds for values within a key.
//   - Stepping or seeking an exhausted cursor in the direction it ran off
//     leaves it exhausted.
//   - Key and Val panic when the corresponding Valid method is false.
//
// A cursor must not be held across a mutation of the trace it reads.
type Cursor[K, V any, T lattice.Timestamp[T], R Weight] interface {
	KeyValid() bool
	ValValid() bool
	Key() K
	Val() V

	// MapTimes calls f for every (time, weight) of the current value in
	// ascending time order. It does nothing if the value is not valid.
	MapTimes(f func(T, R))

	// MapTimesThrough is MapTimes restricted to times <= upper.
	MapTimesThrough(upper T, f func(T, R))

	// Weight sums the weights of the current value over all times.
	Weight() R

	StepKey()
	StepKeyReverse()
	SeekKey(key K)
	SeekKeyWith(pred func(K) bool)
	SeekKeyReverse(key K)
	SeekKeyWithReverse(pred func(K) bool)

	StepVal()
	StepValReverse()
	SeekVal(val V)
	SeekValWith(pred func(V) bool)
	SeekValReverse(val V)
	SeekValWithReverse(pred func(V) bool)

	RewindKeys()
	FastForwardKeys()
	RewindVals()
	FastForwardVals()

	// Close releases resources held by the cursor.
	Close() error
}

// FoldTimes left-folds f over the current value's (time, weight) pairs.
// It returns init unchanged when the cursor is not on a valid value.
func FoldTimes[K, V any, T lattice.Timestamp[T], R Weight, U any](c Cursor[K, V, T, R], init U, f func(U, T, R) U) U {
	acc := init
	c.MapTimes(func(t T, w R) { acc = f(acc, t, w) })
	return acc
}

// FoldTimesThrough is FoldTimes restricted to times <= upper.
func FoldTimesThrough[K, V any, T lattice.Timestamp[T], R Weight, U any](c Cursor[K, V, T, R], upper T, init U, f func(U, T, R) U) U {
	acc := init
	c.MapTimesThrough(upper, func(t T, w R) { acc = f(acc, t, w) })
	return acc
}

// Dump rewinds c and writes its full contents to w:
//
//	key:
//	  val:
//	    time -> weight
func Dump[K, V any, T lattice.Timestamp[T], R Weight](w io.Writer, c Cursor[K, V, T, R]) error {
	var err error
	write := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	for c.RewindKeys(); c.KeyValid(); c.StepKey() {
		write("%v:\n", c.Key())
		for ; c.ValValid(); c.StepVal() {
			write("  %v:\n", c.Val())
			c.MapTimes(func(t T, r R) { write("    %v -> %v\n", t, r) })
		}
		if err != nil {
			return fmt.Errorf("dump: %w", err)
		}
	}
	return nil
}

// Collect rewinds c and returns its contents as flat updates in cursor order.
func Collect[K, V any, T lattice.Timestamp[T], R Weight](c Cursor[K, V, T, R]) []Update[K, V, T, R] {
	var out []Update[K, V, T, R]
	for c.RewindKeys(); c.KeyValid(); c.StepKey() {
		for ; c.ValValid(); c.StepVal() {
			k, v := c.Key(), c.Val()
			c.MapTimes(func(t T, r R) {
				out = append(out, Update[K, V, T, R]{Key: k, Val: v, Time: t, Weight: r})
			})
		}
	}
	return out
}
