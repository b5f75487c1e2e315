package codec

import "fmt"

// Pair is a two-element tuple ordered lexicographically.
type Pair[A, B any] struct {
	First  A
	Second B
}

func (p Pair[A, B]) String() string { return fmt.Sprintf("(%v, %v)", p.First, p.Second) }

// Tuple2 encodes a Pair as the concatenation of its elements.
type Tuple2[A, B any] struct {
	First  Codec[A]
	Second Codec[B]
}

// NewTuple2 returns a codec for Pair[A, B].
func NewTuple2[A, B any](first Codec[A], second Codec[B]) Tuple2[A, B] {
	return Tuple2[A, B]{First: first, Second: second}
}

func (c Tuple2[A, B]) Append(dst []byte, v Pair[A, B]) []byte {
	dst = c.First.Append(dst, v.First)
	return c.Second.Append(dst, v.Second)
}

func (c Tuple2[A, B]) Decode(src []byte) (Pair[A, B], []byte, error) {
	var p Pair[A, B]
	a, rest, err := c.First.Decode(src)
	if err != nil {
		return p, src, fmt.Errorf("tuple first: %w", err)
	}
	b, rest, err := c.Second.Decode(rest)
	if err != nil {
		return p, src, fmt.Errorf("tuple second: %w", err)
	}
	p.First, p.Second = a, b
	return p, rest, nil
}

func (c Tuple2[A, B]) Compare(x, y Pair[A, B]) int {
	if r := c.First.Compare(x.First, y.First); r != 0 {
		return r
	}
	return c.Second.Compare(x.Second, y.Second)
}

// ByteOrdered holds when both element codecs are byte ordered.
func (c Tuple2[A, B]) ByteOrdered() bool {
	return IsByteOrdered(c.First) && IsByteOrdered(c.Second)
}
