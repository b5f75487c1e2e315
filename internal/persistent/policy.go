package persistent

import (
	"bytes"
	"cmp"
	"fmt"

	"github.com/roach88/tracestore/internal/codec"
	"github.com/roach88/tracestore/internal/kv"
	"github.com/roach88/tracestore/internal/lattice"
	"github.com/roach88/tracestore/internal/trace"
)

// policyVersion prefixes policy names. Bump it when the record layout
// changes.
const policyVersion = "tracestore.v1"

// Policy is the kv.MergePolicy for one schema. It holds no mutable state.
type Policy[K, V any, T lattice.Timestamp[T], R trace.Weight] struct {
	codec       recordCodec[K, V, T, R]
	name        string
	byteOrdered bool
}

var _ kv.MergePolicy = (*Policy[int64, string, lattice.Epoch, int64])(nil)

// NewPolicy returns the merge policy for schema.
func NewPolicy[K, V any, T lattice.Timestamp[T], R trace.Weight](schema trace.Schema[K, V, T, R]) *Policy[K, V, T, R] {
	return &Policy[K, V, T, R]{
		codec:       recordCodec[K, V, T, R]{schema: schema},
		name:        policyVersion + "/" + schema.Name,
		byteOrdered: codec.IsByteOrdered(schema.Key),
	}
}

func (p *Policy[K, V, T, R]) Name() string { return p.name }

// ByteOrdered reports whether record keys sort bytewise.
func (p *Policy[K, V, T, R]) ByteOrdered() bool { return p.byteOrdered }

// Compare orders record keys by trace key, then by layout bytes. The empty
// key sorts first. Undecodable keys are corruption and panic.
func (p *Policy[K, V, T, R]) Compare(a, b []byte) int {
	if p.byteOrdered || len(a) == 0 || len(b) == 0 {
		return bytes.Compare(a, b)
	}
	keys := p.codec.schema.Key
	ka, ra, err := keys.Decode(a)
	if err != nil {
		panic(fmt.Errorf("persistent: compare %x: %w", a, err))
	}
	kb, rb, err := keys.Decode(b)
	if err != nil {
		panic(fmt.Errorf("persistent: compare %x: %w", b, err))
	}
	if c := keys.Compare(ka, kb); c != 0 {
		return cmp.Compare(c, 0)
	}
	return bytes.Compare(ra, rb)
}

// Merge combines an older and a newer record:
//
//	newer persisted       -> newer
//	older persisted, op   -> persisted(op applied to older)
//	op, op                -> composed op
func (p *Policy[K, V, T, R]) Merge(_, older, newer []byte) ([]byte, error) {
	n, err := p.codec.decodeRecord(newer)
	if err != nil {
		return nil, err
	}
	if n.persisted {
		return newer, nil
	}
	o, err := p.codec.decodeRecord(older)
	if err != nil {
		return nil, err
	}

	valCmp := p.codec.schema.Val.Compare
	if o.persisted {
		return p.codec.encodeRecord(record[V, T, R]{
			persisted: true,
			values:    n.apply(valCmp, o.values),
		}), nil
	}
	return p.codec.encodeRecord(compose(valCmp, o, n)), nil
}

// MergeFinal resolves the oldest record of a key. Operands are applied to the
// empty state; an empty result is a Tombstone and the key is deleted.
func (p *Policy[K, V, T, R]) MergeFinal(_, value []byte) ([]byte, bool, error) {
	r, err := p.codec.decodeRecord(value)
	if err != nil {
		return nil, false, err
	}
	values := r.apply(p.codec.schema.Val.Compare, nil)
	resolved := p.codec.encodeRecord(record[V, T, R]{persisted: true, values: values})
	return resolved, len(values) > 0, nil
}

// resolve returns the state a stored record represents.
func (p *Policy[K, V, T, R]) resolve(value []byte) (Values[V, T, R], error) {
	r, err := p.codec.decodeRecord(value)
	if err != nil {
		return nil, err
	}
	return r.apply(p.codec.schema.Val.Compare, nil), nil
}
