package kv

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// backend is one engine's view of a single partition.
type backend interface {
	apply(ops []Op) error
	newIterator() (Iterator, error)
	compact(ctx context.Context) error
	diskUsage() (uint64, error)
	close() error
	// destroy deletes the partition's data. It is called after close.
	destroy() error
}

// Partition is one keyspace of a Store with a MergePolicy installed.
//
// Merge and NewIterator are safe for concurrent use; callers still serialize
// writes against open iterators when they need a stable view.
type Partition struct {
	name    string
	store   *Store
	policy  MergePolicy
	backend backend

	mu     sync.RWMutex
	closed bool
}

// Name returns the partition name.
func (p *Partition) Name() string { return p.name }

// Store returns the store the partition belongs to.
func (p *Partition) Store() *Store { return p.store }

// Policy returns the installed merge policy.
func (p *Partition) Policy() MergePolicy { return p.policy }

// Merge writes merge operands atomically. The whole write is rejected with a
// *CapacityError if any key or value exceeds its limit or the store, summed
// over its open partitions, would outgrow the store size limit.
func (p *Partition) Merge(ops ...Op) error {
	if len(ops) == 0 {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	if err := p.checkCapacity(ops); err != nil {
		return err
	}
	if err := p.backend.apply(ops); err != nil {
		return fmt.Errorf("partition %s: write: %w", p.name, err)
	}

	engine := string(p.store.cfg.Engine)
	p.store.metrics.writes.WithLabelValues(engine).Inc()
	p.store.metrics.operands.WithLabelValues(engine).Add(float64(len(ops)))
	return nil
}

func (p *Partition) checkCapacity(ops []Op) error {
	cfg := p.store.cfg
	var total int64
	for _, op := range ops {
		if len(op.Key) > cfg.MaxKeySize {
			return p.reject(LimitKeySize, int64(len(op.Key)), int64(cfg.MaxKeySize))
		}
		if len(op.Value) > cfg.MaxValueSize {
			return p.reject(LimitValueSize, int64(len(op.Value)), int64(cfg.MaxValueSize))
		}
		total += int64(len(op.Key) + len(op.Value))
	}

	used, err := p.backend.diskUsage()
	if err != nil {
		return fmt.Errorf("partition %s: disk usage: %w", p.name, err)
	}
	others, err := p.store.usageExcept(p)
	if err != nil {
		return fmt.Errorf("partition %s: %w", p.name, err)
	}
	if size := int64(used+others) + total; size > cfg.MaxStoreSize {
		return p.reject(LimitStoreSize, size, cfg.MaxStoreSize)
	}
	return nil
}

func (p *Partition) reject(limit Limit, size, maxSize int64) error {
	p.store.metrics.rejected.WithLabelValues(string(limit)).Inc()
	return &CapacityError{Limit: limit, Size: size, Max: maxSize}
}

// NewIterator opens a scan over the resolved records. The caller must close
// it before closing the partition.
func (p *Partition) NewIterator() (Iterator, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}
	it, err := p.backend.newIterator()
	if err != nil {
		return nil, fmt.Errorf("partition %s: new iterator: %w", p.name, err)
	}
	return it, nil
}

// Compact asks the engine to fold every pending operand and apply
// MergeFinal, reclaiming deleted keys.
func (p *Partition) Compact(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	start := time.Now()
	if err := p.backend.compact(ctx); err != nil {
		return fmt.Errorf("partition %s: compact: %w", p.name, err)
	}
	elapsed := time.Since(start)
	p.store.metrics.compaction.WithLabelValues(string(p.store.cfg.Engine)).Observe(elapsed.Seconds())

	slog.Debug("partition compacted",
		"partition", p.name,
		"duration", elapsed,
	)
	return nil
}

// DiskUsage reports the partition's storage footprint in bytes.
func (p *Partition) DiskUsage() (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return 0, ErrClosed
	}
	return p.backend.diskUsage()
}

// Close releases the partition. Its data is kept and can be reopened by
// name.
func (p *Partition) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true
	err := p.backend.close()
	p.mu.Unlock()

	p.store.forget(p.name)
	if err != nil {
		return fmt.Errorf("partition %s: close: %w", p.name, err)
	}
	return nil
}
