package kv

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

type pebbleBackend struct {
	db   *pebble.DB
	cmp  *pebble.Comparer
	sync *pebble.WriteOptions
	// dir is empty for in-memory partitions.
	dir string
}

func openPebble(cfg Config, cache *pebble.Cache, name string, policy MergePolicy) (*pebbleBackend, error) {
	cmp := newComparer(policy)
	opts := &pebble.Options{
		Cache:    cache,
		Comparer: cmp,
		Merger:   newMerger(policy),
	}

	b := &pebbleBackend{cmp: cmp, sync: pebble.NoSync}
	if cfg.SyncWrites {
		b.sync = pebble.Sync
	}

	path := name
	if cfg.InMemory {
		opts.FS = vfs.NewMem()
	} else {
		path = filepath.Join(cfg.Dir, name)
		b.dir = path
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	b.db = db
	return b, nil
}

// newComparer installs the policy ordering. Byte-ordered policies keep
// Pebble's native key shortening; otherwise separators and successors fall
// back to the identity, which is always correct under any total order.
func newComparer(policy MergePolicy) *pebble.Comparer {
	c := *pebble.DefaultComparer
	c.Name = policy.Name()
	if isByteOrdered(policy) {
		return &c
	}
	c.Compare = policy.Compare
	c.Equal = func(a, b []byte) bool { return policy.Compare(a, b) == 0 }
	c.AbbreviatedKey = func([]byte) uint64 { return 0 }
	c.Separator = func(dst, a, _ []byte) []byte { return append(dst, a...) }
	c.Successor = func(dst, a []byte) []byte { return append(dst, a...) }
	return &c
}

func newMerger(policy MergePolicy) *pebble.Merger {
	return &pebble.Merger{
		Name: policy.Name(),
		Merge: func(key, value []byte) (pebble.ValueMerger, error) {
			return &valueMerger{
				policy: policy,
				key:    slices.Clone(key),
				newer:  [][]byte{slices.Clone(value)},
			}, nil
		},
	}
}

// valueMerger buffers the operands Pebble hands it and folds them on Finish.
// Pebble reuses the operand buffers, so every operand is copied.
type valueMerger struct {
	policy MergePolicy
	key    []byte
	// older holds operands older than the first, newest first.
	older [][]byte
	// newer holds the first operand followed by newer ones, oldest first.
	newer [][]byte
}

var _ pebble.DeletableValueMerger = (*valueMerger)(nil)

func (m *valueMerger) MergeNewer(value []byte) error {
	m.newer = append(m.newer, slices.Clone(value))
	return nil
}

func (m *valueMerger) MergeOlder(value []byte) error {
	m.older = append(m.older, slices.Clone(value))
	return nil
}

func (m *valueMerger) operands() [][]byte {
	ops := make([][]byte, 0, len(m.older)+len(m.newer))
	for i := len(m.older) - 1; i >= 0; i-- {
		ops = append(ops, m.older[i])
	}
	return append(ops, m.newer...)
}

func (m *valueMerger) Finish(includesBase bool) ([]byte, io.Closer, error) {
	out, _ := fold(m.policy, m.key, m.operands(), includesBase)
	return out, nil, nil
}

func (m *valueMerger) DeletableFinish(includesBase bool) ([]byte, bool, io.Closer, error) {
	out, keep := fold(m.policy, m.key, m.operands(), includesBase)
	return out, !keep, nil, nil
}

func (b *pebbleBackend) apply(ops []Op) error {
	batch := b.db.NewBatch()
	defer batch.Close()
	for _, op := range ops {
		if err := batch.Merge(op.Key, op.Value, nil); err != nil {
			return err
		}
	}
	return batch.Commit(b.sync)
}

func (b *pebbleBackend) newIterator() (Iterator, error) {
	it, err := b.db.NewIter(nil)
	if err != nil {
		return nil, err
	}
	return it, nil
}

// compact flushes the memtable and compacts the span covering every table.
func (b *pebbleBackend) compact(ctx context.Context) error {
	if err := b.db.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	levels, err := b.db.SSTables()
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	var start, end []byte
	for _, tables := range levels {
		for _, t := range tables {
			if start == nil || b.cmp.Compare(t.Smallest.UserKey, start) < 0 {
				start = t.Smallest.UserKey
			}
			if end == nil || b.cmp.Compare(t.Largest.UserKey, end) > 0 {
				end = t.Largest.UserKey
			}
		}
	}
	if start == nil {
		return nil
	}
	// Any suffix sorts after the largest key itself.
	end = append(slices.Clone(end), 0xFF)
	return b.db.Compact(start, end, true)
}

func (b *pebbleBackend) diskUsage() (uint64, error) {
	return b.db.Metrics().DiskSpaceUsage(), nil
}

func (b *pebbleBackend) close() error {
	return b.db.Close()
}

func (b *pebbleBackend) destroy() error {
	if b.dir == "" {
		return nil
	}
	return os.RemoveAll(b.dir)
}
