package trace

import (
	"errors"

	"github.com/roach88/tracestore/internal/codec"
	"github.com/roach88/tracestore/internal/lattice"
)

// Weight is the constraint satisfied by update multiplicities. Zero is the
// additive identity and += accumulates.
type Weight interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64
}

// Schema bundles the codecs for one trace's key, value, time and weight
// types. Name identifies the schema to the store; persisted partitions must
// always be reopened with the same name.
type Schema[K, V any, T lattice.Timestamp[T], R Weight] struct {
	Name   string
	Key    codec.Codec[K]
	Val    codec.Codec[V]
	Time   codec.Codec[T]
	Weight codec.Codec[R]
}

// Validate reports missing fields.
func (s Schema[K, V, T, R]) Validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("schema: name is required"))
	}
	if s.Key == nil {
		errs = append(errs, errors.New("schema: key codec is required"))
	}
	if s.Val == nil {
		errs = append(errs, errors.New("schema: value codec is required"))
	}
	if s.Time == nil {
		errs = append(errs, errors.New("schema: time codec is required"))
	}
	if s.Weight == nil {
		errs = append(errs, errors.New("schema: weight codec is required"))
	}
	return errors.Join(errs...)
}

// Update is one flat (key, value, time, weight) tuple.
type Update[K, V any, T lattice.Timestamp[T], R Weight] struct {
	Key    K
	Val    V
	Time   T
	Weight R
}
