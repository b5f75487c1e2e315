package persistent

import (
	"encoding/binary"
	"fmt"

	"github.com/roach88/tracestore/internal/codec"
	"github.com/roach88/tracestore/internal/lattice"
	"github.com/roach88/tracestore/internal/trace"
)

// Record value tags.
const (
	tagTombstone    byte = 0x01
	tagValues       byte = 0x02
	tagInsert       byte = 0x10
	tagRecedeTo     byte = 0x11
	tagRecedeInsert byte = 0x12
)

// Record key layout tags, written after the encoded key.
const (
	metaEmpty          byte = 0x00
	metaValue          byte = 0x01
	metaValueTimestamp byte = 0x02

	// metaSentinel sorts after every record of a key.
	metaSentinel byte = 0xFF
)

// record is a decoded record value. A persisted value has persisted set and
// holds the complete state of a key. An operand maps a state s to
// recede(s, frontier) + values, skipping the recede when hasFrontier is
// false.
type record[V any, T lattice.Timestamp[T], R trace.Weight] struct {
	persisted   bool
	hasFrontier bool
	frontier    T
	values      Values[V, T, R]
}

// apply runs an operand against a state.
func (r record[V, T, R]) apply(cmp func(V, V) int, state Values[V, T, R]) Values[V, T, R] {
	if r.persisted {
		return r.values
	}
	if r.hasFrontier {
		state = recede(state, r.frontier)
	}
	return addValues(cmp, state, r.values)
}

// compose returns the single operand equivalent to applying a then b.
func compose[V any, T lattice.Timestamp[T], R trace.Weight](cmp func(V, V) int, a, b record[V, T, R]) record[V, T, R] {
	out := record[V, T, R]{values: a.values}
	switch {
	case a.hasFrontier && b.hasFrontier:
		out.hasFrontier, out.frontier = true, a.frontier.Meet(b.frontier)
	case a.hasFrontier:
		out.hasFrontier, out.frontier = true, a.frontier
	case b.hasFrontier:
		out.hasFrontier, out.frontier = true, b.frontier
	}
	if b.hasFrontier {
		out.values = recede(out.values, b.frontier)
	}
	out.values = addValues(cmp, out.values, b.values)
	return out
}

// recordCodec encodes record keys and values for one schema.
type recordCodec[K, V any, T lattice.Timestamp[T], R trace.Weight] struct {
	schema trace.Schema[K, V, T, R]
}

func (c recordCodec[K, V, T, R]) appendKey(dst []byte, key K) []byte {
	dst = c.schema.Key.Append(dst, key)
	return append(dst, metaEmpty)
}

// appendValueKey and appendValueTimeKey build the per-value layouts. The
// trace writes only the empty layout; readers accept all three.
func (c recordCodec[K, V, T, R]) appendValueKey(dst []byte, key K, val V) []byte {
	dst = c.schema.Key.Append(dst, key)
	dst = append(dst, metaValue)
	return c.schema.Val.Append(dst, val)
}

func (c recordCodec[K, V, T, R]) appendValueTimeKey(dst []byte, key K, val V, t T) []byte {
	dst = c.schema.Key.Append(dst, key)
	dst = append(dst, metaValueTimestamp)
	dst = c.schema.Val.Append(dst, val)
	return c.schema.Time.Append(dst, t)
}

// seekKey returns a key sorting before every record of key.
func (c recordCodec[K, V, T, R]) seekKey(key K) []byte {
	return c.schema.Key.Append(nil, key)
}

// seekPastKey returns a key sorting after every record of key.
func (c recordCodec[K, V, T, R]) seekPastKey(key K) []byte {
	return append(c.schema.Key.Append(nil, key), metaSentinel)
}

// decodeKey returns the trace key of a record key and the layout tag.
func (c recordCodec[K, V, T, R]) decodeKey(src []byte) (K, byte, error) {
	key, rest, err := c.schema.Key.Decode(src)
	if err != nil {
		return key, 0, fmt.Errorf("record key: %w", err)
	}
	if len(rest) == 0 {
		return key, 0, fmt.Errorf("record key: %w", codec.ErrCorrupt)
	}
	switch meta := rest[0]; meta {
	case metaEmpty, metaValue, metaValueTimestamp:
		return key, meta, nil
	default:
		return key, 0, fmt.Errorf("record key: layout tag 0x%02x: %w", meta, codec.ErrCorrupt)
	}
}

func (c recordCodec[K, V, T, R]) appendValues(dst []byte, values Values[V, T, R]) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(values)))
	for _, vt := range values {
		dst = c.schema.Val.Append(dst, vt.Val)
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(vt.Times)))
		for _, tw := range vt.Times {
			dst = c.schema.Time.Append(dst, tw.Time)
			dst = c.schema.Weight.Append(dst, tw.Weight)
		}
	}
	return dst
}

func readCount(src []byte) (int, []byte, error) {
	if len(src) < 4 {
		return 0, src, fmt.Errorf("count: %w", codec.ErrCorrupt)
	}
	n := binary.BigEndian.Uint32(src)
	// Every element takes at least one byte.
	if int64(n) > int64(len(src)-4) {
		return 0, src, fmt.Errorf("count %d exceeds %d remaining bytes: %w", n, len(src)-4, codec.ErrCorrupt)
	}
	return int(n), src[4:], nil
}

func (c recordCodec[K, V, T, R]) decodeValues(src []byte) (Values[V, T, R], []byte, error) {
	n, src, err := readCount(src)
	if err != nil {
		return nil, src, fmt.Errorf("values: %w", err)
	}
	values := make(Values[V, T, R], 0, n)
	for range n {
		var vt ValueTimes[V, T, R]
		if vt.Val, src, err = c.schema.Val.Decode(src); err != nil {
			return nil, src, fmt.Errorf("value: %w", err)
		}
		var m int
		if m, src, err = readCount(src); err != nil {
			return nil, src, fmt.Errorf("times: %w", err)
		}
		vt.Times = make([]TimeWeight[T, R], m)
		for i := range vt.Times {
			if vt.Times[i].Time, src, err = c.schema.Time.Decode(src); err != nil {
				return nil, src, fmt.Errorf("time: %w", err)
			}
			if vt.Times[i].Weight, src, err = c.schema.Weight.Decode(src); err != nil {
				return nil, src, fmt.Errorf("weight: %w", err)
			}
		}
		values = append(values, vt)
	}
	return values, src, nil
}

// encodeRecord writes the canonical encoding: an empty persisted value is a
// Tombstone, an operand without frontier is an Insert and one without values
// a RecedeTo.
func (c recordCodec[K, V, T, R]) encodeRecord(r record[V, T, R]) []byte {
	switch {
	case r.persisted && len(r.values) == 0:
		return []byte{tagTombstone}
	case r.persisted:
		return c.appendValues([]byte{tagValues}, r.values)
	case !r.hasFrontier:
		return c.appendValues([]byte{tagInsert}, r.values)
	case len(r.values) == 0:
		return c.schema.Time.Append([]byte{tagRecedeTo}, r.frontier)
	default:
		dst := c.schema.Time.Append([]byte{tagRecedeInsert}, r.frontier)
		return c.appendValues(dst, r.values)
	}
}

func (c recordCodec[K, V, T, R]) decodeRecord(src []byte) (record[V, T, R], error) {
	var r record[V, T, R]
	if len(src) == 0 {
		return r, fmt.Errorf("record: empty: %w", codec.ErrCorrupt)
	}
	tag, rest := src[0], src[1:]
	var err error
	switch tag {
	case tagTombstone:
		r.persisted = true
	case tagValues:
		r.persisted = true
		r.values, rest, err = c.decodeValues(rest)
	case tagInsert:
		r.values, rest, err = c.decodeValues(rest)
	case tagRecedeTo:
		r.hasFrontier = true
		r.frontier, rest, err = c.schema.Time.Decode(rest)
	case tagRecedeInsert:
		r.hasFrontier = true
		if r.frontier, rest, err = c.schema.Time.Decode(rest); err == nil {
			r.values, rest, err = c.decodeValues(rest)
		}
	default:
		return r, fmt.Errorf("record: tag 0x%02x: %w", tag, codec.ErrCorrupt)
	}
	if err != nil {
		return r, fmt.Errorf("record 0x%02x: %w", tag, err)
	}
	if len(rest) != 0 {
		return r, fmt.Errorf("record 0x%02x: %d trailing bytes: %w", tag, len(rest), codec.ErrCorrupt)
	}
	if !r.persisted {
		// Operands may come from any writer; zero weights must not reach a
		// persisted state.
		r.values = normalizeValues(c.schema.Val.Compare, r.values)
	}
	return r, nil
}
