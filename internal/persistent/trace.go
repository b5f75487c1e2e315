package persistent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"

	"github.com/roach88/tracestore/internal/kv"
	"github.com/roach88/tracestore/internal/lattice"
	"github.com/roach88/tracestore/internal/trace"
)

// recedeChunk bounds the operands per write when broadcasting RecedeTo.
const recedeChunk = 1024

type options struct {
	name string
}

// Option configures New.
type Option func(*options)

// WithName names the trace's partition. Reusing the name of a persisted
// partition reopens its data. The default is a fresh unique name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// Trace is a trace.Trace backed by one kv partition.
//
// A Trace has a single writer and no internal locking. Cursors must be
// closed before the trace is mutated or closed.
type Trace[K, V any, T lattice.Timestamp[T], R trace.Weight] struct {
	schema    trace.Schema[K, V, T, R]
	policy    *Policy[K, V, T, R]
	partition *kv.Partition

	lower lattice.Antichain[T]
	upper lattice.Antichain[T]
	// inserted is false until the first non-empty insert; upper then starts
	// from that batch's upper instead of joining with the empty antichain.
	inserted bool

	keyBound    K
	hasKeyBound bool
	valBound    V
	hasValBound bool

	dirty      bool
	approxLen  int
	approxKeys int
}

var _ trace.Trace[int64, string, lattice.Epoch, int64] = (*Trace[int64, string, lattice.Epoch, int64])(nil)

// New opens a partition on store with the schema's merge policy installed and
// returns an empty trace over it.
func New[K, V any, T lattice.Timestamp[T], R trace.Weight](store *kv.Store, schema trace.Schema[K, V, T, R], opts ...Option) (*Trace[K, V, T, R], error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	policy := NewPolicy(schema)
	partition, err := store.OpenPartition(o.name, policy)
	if err != nil {
		return nil, fmt.Errorf("new trace: %w", err)
	}

	slog.Debug("trace created",
		"partition", partition.Name(),
		"schema", schema.Name,
	)
	return &Trace[K, V, T, R]{
		schema:    schema,
		policy:    policy,
		partition: partition,
		lower:     lattice.NewAntichain(lattice.Minimum[T]()),
		upper:     lattice.NewAntichain[T](),
	}, nil
}

// Name returns the partition name.
func (t *Trace[K, V, T, R]) Name() string { return t.partition.Name() }

// Schema returns the trace's codecs.
func (t *Trace[K, V, T, R]) Schema() trace.Schema[K, V, T, R] { return t.schema }

// KeyCount estimates distinct keys as the sum of inserted batch key counts.
func (t *Trace[K, V, T, R]) KeyCount() int { return t.approxKeys }

// Len estimates updates as the number of updates ever inserted.
func (t *Trace[K, V, T, R]) Len() int { return t.approxLen }

func (t *Trace[K, V, T, R]) Lower() lattice.Antichain[T] { return t.lower }
func (t *Trace[K, V, T, R]) Upper() lattice.Antichain[T] { return t.upper }

func (t *Trace[K, V, T, R]) Dirty() bool     { return t.dirty }
func (t *Trace[K, V, T, R]) ClearDirtyFlag() { t.dirty = false }

// Exert does nothing: compaction is scheduled by the store.
func (t *Trace[K, V, T, R]) Exert(*int) {}

// Insert writes one Insert operand per key of batch, or smaller operands when
// a key's updates do not fit the store's value limit. The write is atomic;
// a *kv.CapacityError leaves the trace unchanged.
//
// Insert panics if batch.Lower() equals batch.Upper().
func (t *Trace[K, V, T, R]) Insert(batch trace.BatchReader[K, V, T, R]) error {
	if batch.Lower().Equal(batch.Upper()) {
		panic(fmt.Sprintf("persistent: insert of batch with lower == upper (%v)", batch.Lower()))
	}
	if batch.Len() == 0 {
		return nil
	}

	c, err := batch.Cursor()
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	defer c.Close()

	maxValue := t.partition.Store().Config().MaxValueSize
	var (
		ops     []kv.Op
		updates int
		keys    int
	)
	for c.RewindKeys(); c.KeyValid(); c.StepKey() {
		key := c.Key()
		var values Values[V, T, R]
		for ; c.ValValid(); c.StepVal() {
			vt := ValueTimes[V, T, R]{Val: c.Val()}
			c.MapTimes(func(tm T, w R) {
				vt.Times = append(vt.Times, TimeWeight[T, R]{Time: tm, Weight: w})
			})
			values = append(values, vt)
		}
		values = normalizeValues(t.schema.Val.Compare, values)
		if len(values) == 0 {
			continue
		}
		keys++
		updates += values.updateCount()
		ops = t.appendInsertOps(ops, t.policy.codec.appendKey(nil, key), values, maxValue)
	}
	// A batch whose updates all cancel writes nothing but still advances
	// the frontiers.
	if err := t.partition.Merge(ops...); err != nil {
		return fmt.Errorf("insert: %w", err)
	}

	t.dirty = true
	t.lower = t.lower.Meet(batch.Lower())
	if t.inserted {
		t.upper = t.upper.Join(batch.Upper())
	} else {
		t.upper = batch.Upper()
		t.inserted = true
	}
	t.approxLen += updates
	t.approxKeys += keys
	return nil
}

// appendInsertOps emits one operand for all of a key's values, splitting per
// value and then per time when the encoding exceeds maxValue. An update that
// does not fit on its own is left oversized for the partition to reject.
func (t *Trace[K, V, T, R]) appendInsertOps(ops []kv.Op, key []byte, values Values[V, T, R], maxValue int) []kv.Op {
	enc := t.policy.codec
	if v := enc.encodeRecord(record[V, T, R]{values: values}); len(v) <= maxValue || len(values) == 1 && len(values[0].Times) == 1 {
		return append(ops, kv.Op{Key: key, Value: v})
	}
	if len(values) > 1 {
		for _, vt := range values {
			ops = t.appendInsertOps(ops, key, Values[V, T, R]{vt}, maxValue)
		}
		return ops
	}
	for _, tw := range values[0].Times {
		single := Values[V, T, R]{{Val: values[0].Val, Times: []TimeWeight[T, R]{tw}}}
		ops = append(ops, kv.Op{Key: key, Value: enc.encodeRecord(record[V, T, R]{values: single})})
	}
	return ops
}

// RecedeTo broadcasts a RecedeTo operand to every stored key, including keys
// hidden by truncation bounds. The store applies it lazily.
func (t *Trace[K, V, T, R]) RecedeTo(frontier T) error {
	keys, err := t.storedKeys()
	if err != nil {
		return fmt.Errorf("recede to: %w", err)
	}
	op := t.policy.codec.encodeRecord(record[V, T, R]{hasFrontier: true, frontier: frontier})
	for start := 0; start < len(keys); start += recedeChunk {
		end := min(start+recedeChunk, len(keys))
		chunk := make([]kv.Op, 0, end-start)
		for _, key := range keys[start:end] {
			chunk = append(chunk, kv.Op{Key: key, Value: op})
		}
		if err := t.partition.Merge(chunk...); err != nil {
			return fmt.Errorf("recede to: %w", err)
		}
	}
	slog.Debug("trace receded",
		"partition", t.partition.Name(),
		"frontier", frontier,
		"keys", len(keys),
	)
	return nil
}

// storedKeys lists every record key in the partition.
func (t *Trace[K, V, T, R]) storedKeys() ([][]byte, error) {
	it, err := t.partition.NewIterator()
	if err != nil {
		return nil, err
	}
	var keys [][]byte
	for valid := it.First(); valid; valid = it.Next() {
		keys = append(keys, append([]byte(nil), it.Key()...))
	}
	return keys, errors.Join(it.Error(), it.Close())
}

// Cursor opens a cursor positioned on the first visible key.
func (t *Trace[K, V, T, R]) Cursor() (trace.Cursor[K, V, T, R], error) {
	c, err := t.newCursor()
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (t *Trace[K, V, T, R]) newCursor() (*Cursor[K, V, T, R], error) {
	it, err := t.partition.NewIterator()
	if err != nil {
		return nil, fmt.Errorf("cursor: %w", err)
	}
	c := &Cursor[K, V, T, R]{
		it:          it,
		policy:      t.policy,
		keyBound:    t.keyBound,
		hasKeyBound: t.hasKeyBound,
		valBound:    t.valBound,
		hasValBound: t.hasValBound,
	}
	c.RewindKeys()
	return c, nil
}

// Consolidate sums the weights of every visible (key, value) across times and
// returns the non-zero sums at the minimum time.
func (t *Trace[K, V, T, R]) Consolidate() (*trace.Batch[K, V, T, R], error) {
	c, err := t.newCursor()
	if err != nil {
		return nil, fmt.Errorf("consolidate: %w", err)
	}
	defer c.Close()

	minTime := lattice.Minimum[T]()
	b := trace.NewBuilder(t.schema)
	for ; c.KeyValid(); c.StepKey() {
		for ; c.ValValid(); c.StepVal() {
			sum := trace.FoldTimes[K, V, T, R](c, R(0), func(acc R, _ T, w R) R { return acc + w })
			if sum != 0 {
				b.Push(c.Key(), c.Val(), minTime, sum)
			}
		}
	}
	return b.Done(lattice.NewAntichain(minTime), t.upper), nil
}

// TruncateKeysBelow hides keys below bound from cursors. Bounds only rise.
func (t *Trace[K, V, T, R]) TruncateKeysBelow(bound K) {
	if !t.hasKeyBound || t.schema.Key.Compare(bound, t.keyBound) > 0 {
		t.keyBound, t.hasKeyBound = bound, true
	}
}

// TruncateValuesBelow hides values below bound from cursors. Bounds only
// rise.
func (t *Trace[K, V, T, R]) TruncateValuesBelow(bound V) {
	if !t.hasValBound || t.schema.Val.Compare(bound, t.valBound) > 0 {
		t.valBound, t.hasValBound = bound, true
	}
}

// LowerKeyBound returns the key truncation bound, if any.
func (t *Trace[K, V, T, R]) LowerKeyBound() (K, bool) { return t.keyBound, t.hasKeyBound }

// LowerValueBound returns the value truncation bound, if any.
func (t *Trace[K, V, T, R]) LowerValueBound() (V, bool) { return t.valBound, t.hasValBound }

// SampleKeys reservoir-samples n visible keys.
func (t *Trace[K, V, T, R]) SampleKeys(rng *rand.Rand, n int, out []K) ([]K, error) {
	c, err := t.newCursor()
	if err != nil {
		return out, fmt.Errorf("sample keys: %w", err)
	}
	defer c.Close()
	return trace.SampleCursorKeys[K, V, T, R](c, rng, n, t.schema.Key.Compare, out), nil
}

// Dump writes the visible contents in trace.Dump format.
func (t *Trace[K, V, T, R]) Dump(w io.Writer) error {
	c, err := t.newCursor()
	if err != nil {
		return err
	}
	defer c.Close()
	return trace.Dump[K, V, T, R](w, c)
}

// Compact asks the store to fold every pending operand now.
func (t *Trace[K, V, T, R]) Compact(ctx context.Context) error {
	return t.partition.Compact(ctx)
}

// DiskUsage reports the partition's on-disk footprint in bytes.
func (t *Trace[K, V, T, R]) DiskUsage() (uint64, error) {
	return t.partition.DiskUsage()
}

// Close releases the partition. Stored data is kept.
func (t *Trace[K, V, T, R]) Close() error {
	return t.partition.Close()
}
