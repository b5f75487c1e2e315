package lattice

import (
	"fmt"
	"slices"
	"strings"
)

// Antichain is a set of mutually incomparable times describing a frontier.
//
// An antichain A is "less or equal" to a time t when some element of A is
// less or equal to t. The empty antichain is the frontier beyond all times.
//
// The zero value is the empty antichain. Antichain values are immutable once
// constructed; Meet and Join return new antichains.
type Antichain[T Timestamp[T]] struct {
	elements []T
}

// NewAntichain builds an antichain from the minimal elements of times.
func NewAntichain[T Timestamp[T]](times ...T) Antichain[T] {
	var a Antichain[T]
	for _, t := range times {
		a.insert(t)
	}
	return a
}

// insert adds t unless an existing element already dominates it from below,
// and removes any elements that t dominates. Returns whether t was added.
func (a *Antichain[T]) insert(t T) bool {
	for _, e := range a.elements {
		if e.LessEqual(t) {
			return false
		}
	}
	kept := a.elements[:0]
	for _, e := range a.elements {
		if !t.LessEqual(e) {
			kept = append(kept, e)
		}
	}
	a.elements = append(kept, t)
	slices.SortFunc(a.elements, func(x, y T) int { return x.Compare(y) })
	return true
}

// Elements returns a copy of the antichain's elements in Compare order.
func (a Antichain[T]) Elements() []T {
	return slices.Clone(a.elements)
}

// Len returns the number of elements.
func (a Antichain[T]) Len() int { return len(a.elements) }

// IsEmpty reports whether the antichain has no elements.
func (a Antichain[T]) IsEmpty() bool { return len(a.elements) == 0 }

// LessEqual reports whether some element of a is less or equal to t.
func (a Antichain[T]) LessEqual(t T) bool {
	for _, e := range a.elements {
		if e.LessEqual(t) {
			return true
		}
	}
	return false
}

// Equal reports whether both antichains contain the same elements.
func (a Antichain[T]) Equal(b Antichain[T]) bool {
	return slices.Equal(a.elements, b.elements)
}

// Meet returns the greatest lower bound of two frontiers: the minimal
// elements of their union.
func (a Antichain[T]) Meet(b Antichain[T]) Antichain[T] {
	var out Antichain[T]
	for _, t := range a.elements {
		out.insert(t)
	}
	for _, t := range b.elements {
		out.insert(t)
	}
	return out
}

// Join returns the least upper bound of two frontiers: the minimal elements
// of all pairwise joins. Joining with the empty antichain yields the empty
// antichain.
func (a Antichain[T]) Join(b Antichain[T]) Antichain[T] {
	var out Antichain[T]
	for _, x := range a.elements {
		for _, y := range b.elements {
			out.insert(x.Join(y))
		}
	}
	return out
}

func (a Antichain[T]) String() string {
	parts := make([]string, len(a.elements))
	for i, e := range a.elements {
		parts[i] = fmt.Sprint(e)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
