package kv

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
)

var partitionNameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Store is the explicitly constructed store context shared by traces.
type Store struct {
	cfg     Config
	cache   *pebble.Cache
	metrics *Metrics

	mu         sync.Mutex
	partitions map[string]*Partition
	closed     bool
}

// Open validates cfg and opens a store. On-disk stores create cfg.Dir.
func Open(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.InMemory {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	metrics, err := NewMetrics(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	s := &Store{
		cfg:        cfg,
		metrics:    metrics,
		partitions: make(map[string]*Partition),
	}
	if cfg.Engine == EnginePebble {
		s.cache = pebble.NewCache(cfg.CacheSize)
	}

	slog.Info("store opened",
		"engine", cfg.Engine,
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory,
	)
	return s, nil
}

// Config returns the configuration the store was opened with.
func (s *Store) Config() Config { return s.cfg }

// Metrics returns the store metrics.
func (s *Store) Metrics() *Metrics { return s.metrics }

// NewPartitionName returns a fresh unique partition name.
func NewPartitionName() string {
	return "trace-" + uuid.NewString()
}

// OpenPartition opens the named partition with policy installed, creating it
// if it does not exist. An empty name picks a fresh unique one. Persisted
// partitions must be reopened with a policy of the same Name.
func (s *Store) OpenPartition(name string, policy MergePolicy) (*Partition, error) {
	if name == "" {
		name = NewPartitionName()
	}
	if !partitionNameRE.MatchString(name) {
		return nil, fmt.Errorf("invalid partition name %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if _, ok := s.partitions[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrPartitionExists, name)
	}

	var (
		b   backend
		err error
	)
	switch s.cfg.Engine {
	case EnginePebble:
		b, err = openPebble(s.cfg, s.cache, name, policy)
	case EngineSQLite:
		b, err = openSQLite(s.cfg, name, policy, s.metrics)
	}
	if err != nil {
		return nil, fmt.Errorf("open partition %s: %w", name, err)
	}

	p := &Partition{
		name:    name,
		store:   s,
		policy:  policy,
		backend: b,
	}
	s.partitions[name] = p
	s.metrics.partitions.Inc()

	slog.Debug("partition opened",
		"partition", name,
		"engine", s.cfg.Engine,
		"policy", policy.Name(),
	)
	return p, nil
}

// Partitions lists the open partitions in name order.
func (s *Store) Partitions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DiskUsage sums the storage footprint of every open partition, in bytes.
func (s *Store) DiskUsage() (uint64, error) {
	return s.usageExcept(nil)
}

// usageExcept sums the footprint of the open partitions other than self.
// self is skipped because its caller already holds its lock.
func (s *Store) usageExcept(self *Partition) (uint64, error) {
	s.mu.Lock()
	open := make([]*Partition, 0, len(s.partitions))
	for _, p := range s.partitions {
		if p != self {
			open = append(open, p)
		}
	}
	s.mu.Unlock()

	var total uint64
	for _, p := range open {
		used, err := p.DiskUsage()
		if errors.Is(err, ErrClosed) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("disk usage of %s: %w", p.name, err)
		}
		total += used
	}
	return total, nil
}

// DropPartition closes an open partition and deletes its data.
func (s *Store) DropPartition(name string) error {
	s.mu.Lock()
	p, ok := s.partitions[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPartition, name)
	}
	if err := p.Close(); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	if err := p.backend.destroy(); err != nil {
		return fmt.Errorf("drop partition %s: %w", name, err)
	}
	slog.Info("partition dropped", "partition", name)
	return nil
}

// forget is called by Partition.Close.
func (s *Store) forget(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partitions[name]; ok {
		delete(s.partitions, name)
		s.metrics.partitions.Dec()
	}
}

// Close closes every open partition and releases the shared cache.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	open := make([]*Partition, 0, len(s.partitions))
	for _, p := range s.partitions {
		open = append(open, p)
	}
	s.mu.Unlock()

	var errs []error
	for _, p := range open {
		if err := p.Close(); err != nil && !errors.Is(err, ErrClosed) {
			errs = append(errs, err)
		}
	}
	if s.cache != nil {
		s.cache.Unref()
		s.cache = nil
	}
	slog.Info("store closed", "partitions", len(open))
	return errors.Join(errs...)
}
