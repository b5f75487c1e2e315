package persistent

import (
	"slices"

	"github.com/roach88/tracestore/internal/lattice"
	"github.com/roach88/tracestore/internal/trace"
)

// TimeWeight is one (time, weight) pair of a value.
type TimeWeight[T lattice.Timestamp[T], R trace.Weight] struct {
	Time   T
	Weight R
}

// ValueTimes is one value with its (time, weight) pairs.
type ValueTimes[V any, T lattice.Timestamp[T], R trace.Weight] struct {
	Val   V
	Times []TimeWeight[T, R]
}

// Values is the canonical per-key update list: sorted by value, times sorted
// and unique within a value, no zero weights, no empty values.
type Values[V any, T lattice.Timestamp[T], R trace.Weight] []ValueTimes[V, T, R]

// normalizeTimes sorts times, sums duplicates and drops zero weights.
func normalizeTimes[T lattice.Timestamp[T], R trace.Weight](times []TimeWeight[T, R]) []TimeWeight[T, R] {
	slices.SortStableFunc(times, func(a, b TimeWeight[T, R]) int { return a.Time.Compare(b.Time) })
	out := times[:0]
	for _, tw := range times {
		if n := len(out); n > 0 && out[n-1].Time == tw.Time {
			out[n-1].Weight += tw.Weight
			continue
		}
		out = append(out, tw)
	}
	kept := out[:0]
	for _, tw := range out {
		if tw.Weight != 0 {
			kept = append(kept, tw)
		}
	}
	return kept
}

// addTimes merges two sorted time lists, summing weights of equal times and
// dropping zero results.
func addTimes[T lattice.Timestamp[T], R trace.Weight](a, b []TimeWeight[T, R]) []TimeWeight[T, R] {
	out := make([]TimeWeight[T, R], 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch c := a[i].Time.Compare(b[j].Time); {
		case c < 0:
			out = append(out, a[i])
			i++
		case c > 0:
			out = append(out, b[j])
			j++
		default:
			if w := a[i].Weight + b[j].Weight; w != 0 {
				out = append(out, TimeWeight[T, R]{Time: a[i].Time, Weight: w})
			}
			i++
			j++
		}
	}
	out = appendNonZero(out, a[i:])
	return appendNonZero(out, b[j:])
}

func appendNonZero[T lattice.Timestamp[T], R trace.Weight](dst, src []TimeWeight[T, R]) []TimeWeight[T, R] {
	for _, tw := range src {
		if tw.Weight != 0 {
			dst = append(dst, tw)
		}
	}
	return dst
}

// addValues folds b into a. Both must be canonical; so is the result.
func addValues[V any, T lattice.Timestamp[T], R trace.Weight](cmp func(V, V) int, a, b Values[V, T, R]) Values[V, T, R] {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make(Values[V, T, R], 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch c := cmp(a[i].Val, b[j].Val); {
		case c < 0:
			out = append(out, a[i])
			i++
		case c > 0:
			out = append(out, b[j])
			j++
		default:
			if times := addTimes(a[i].Times, b[j].Times); len(times) > 0 {
				out = append(out, ValueTimes[V, T, R]{Val: a[i].Val, Times: times})
			}
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// recede replaces every time with its meet with frontier, then re-groups.
// Values whose weights cancel are dropped.
func recede[V any, T lattice.Timestamp[T], R trace.Weight](values Values[V, T, R], frontier T) Values[V, T, R] {
	out := make(Values[V, T, R], 0, len(values))
	for _, vt := range values {
		times := make([]TimeWeight[T, R], len(vt.Times))
		for i, tw := range vt.Times {
			times[i] = TimeWeight[T, R]{Time: tw.Time.Meet(frontier), Weight: tw.Weight}
		}
		if times = normalizeTimes(times); len(times) > 0 {
			out = append(out, ValueTimes[V, T, R]{Val: vt.Val, Times: times})
		}
	}
	return out
}

// normalizeValues sorts an arbitrary list into canonical form.
func normalizeValues[V any, T lattice.Timestamp[T], R trace.Weight](cmp func(V, V) int, values Values[V, T, R]) Values[V, T, R] {
	slices.SortStableFunc(values, func(a, b ValueTimes[V, T, R]) int { return cmp(a.Val, b.Val) })
	out := values[:0]
	for _, vt := range values {
		if n := len(out); n > 0 && cmp(out[n-1].Val, vt.Val) == 0 {
			out[n-1].Times = append(out[n-1].Times, vt.Times...)
			continue
		}
		out = append(out, ValueTimes[V, T, R]{Val: vt.Val, Times: slices.Clone(vt.Times)})
	}
	kept := out[:0]
	for _, vt := range out {
		if vt.Times = normalizeTimes(vt.Times); len(vt.Times) > 0 {
			kept = append(kept, vt)
		}
	}
	return kept
}

// updateCount is the number of (value, time) pairs.
func (vs Values[V, T, R]) updateCount() int {
	n := 0
	for _, vt := range vs {
		n += len(vt.Times)
	}
	return n
}
