package lattice

import (
	"cmp"
	"fmt"
)

// Timestamp is the constraint satisfied by trace times.
//
// LessEqual is the partial order. Meet and Join are the lattice bounds.
// Compare is a total order consistent with LessEqual: a.LessEqual(b) implies
// a.Compare(b) <= 0. The zero value must be the minimum time.
type Timestamp[T any] interface {
	comparable
	LessEqual(other T) bool
	Meet(other T) T
	Join(other T) T
	Compare(other T) int
}

// Epoch is a totally ordered time: a single logical clock tick.
type Epoch uint64

// LessEqual reports e <= other.
func (e Epoch) LessEqual(other Epoch) bool { return e <= other }

// Meet returns the smaller of the two epochs.
func (e Epoch) Meet(other Epoch) Epoch { return min(e, other) }

// Join returns the larger of the two epochs.
func (e Epoch) Join(other Epoch) Epoch { return max(e, other) }

// Compare orders epochs numerically.
func (e Epoch) Compare(other Epoch) int { return cmp.Compare(e, other) }

func (e Epoch) String() string { return fmt.Sprintf("%d", uint64(e)) }

// Product is a two-dimensional time (Epoch, Round) under the product order,
// as used by nested iterative scopes: the outer epoch counts input batches and
// the inner round counts iterations within one epoch.
//
// (e1,r1) <= (e2,r2) iff e1 <= e2 AND r1 <= r2.
type Product struct {
	Epoch uint64 `json:"epoch" yaml:"epoch"`
	Round uint64 `json:"round" yaml:"round"`
}

// LessEqual reports whether p precedes other in the product order.
func (p Product) LessEqual(other Product) bool {
	return p.Epoch <= other.Epoch && p.Round <= other.Round
}

// Meet returns the coordinate-wise minimum.
func (p Product) Meet(other Product) Product {
	return Product{Epoch: min(p.Epoch, other.Epoch), Round: min(p.Round, other.Round)}
}

// Join returns the coordinate-wise maximum.
func (p Product) Join(other Product) Product {
	return Product{Epoch: max(p.Epoch, other.Epoch), Round: max(p.Round, other.Round)}
}

// Compare orders lexicographically by (Epoch, Round), which extends the
// product order.
func (p Product) Compare(other Product) int {
	if c := cmp.Compare(p.Epoch, other.Epoch); c != 0 {
		return c
	}
	return cmp.Compare(p.Round, other.Round)
}

func (p Product) String() string { return fmt.Sprintf("(%d, %d)", p.Epoch, p.Round) }

// Less reports a strict partial-order relation: a <= b and a != b.
func Less[T Timestamp[T]](a, b T) bool {
	return a.LessEqual(b) && a != b
}

// Minimum returns the minimum element of T (its zero value).
func Minimum[T Timestamp[T]]() T {
	var zero T
	return zero
}
