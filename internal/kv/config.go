package kv

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Engine selects the storage engine backing a Store.
type Engine string

const (
	EnginePebble Engine = "pebble"
	EngineSQLite Engine = "sqlite"
)

// Config is fixed when the store is opened.
type Config struct {
	Engine Engine

	// Dir holds one database per partition. Ignored when InMemory.
	Dir string

	// InMemory keeps every partition in process memory.
	InMemory bool

	// CacheSize is the block cache shared by all pebble partitions, in bytes.
	CacheSize int64

	// MaxStoreSize bounds the summed size of every open partition, in bytes.
	MaxStoreSize int64

	// MaxKeySize and MaxValueSize bound individual writes, in bytes.
	MaxKeySize   int
	MaxValueSize int

	// CompactionInterval is the period of the sqlite background compactor.
	// Zero disables it; operands are then folded only before scans and on
	// explicit compaction.
	CompactionInterval time.Duration

	// SyncWrites makes every write durable before it returns.
	SyncWrites bool

	// Registerer receives the store metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
}

// Defaults for DefaultConfig.
const (
	DefaultCacheSize          = 1 << 30
	DefaultMaxStoreSize       = 128 << 30
	DefaultMaxKeySize         = 60
	DefaultMaxValueSize       = 512
	DefaultCompactionInterval = 5 * time.Second
)

// DefaultConfig returns an in-memory pebble configuration with the default
// limits.
func DefaultConfig() Config {
	return Config{
		Engine:             EnginePebble,
		InMemory:           true,
		CacheSize:          DefaultCacheSize,
		MaxStoreSize:       DefaultMaxStoreSize,
		MaxKeySize:         DefaultMaxKeySize,
		MaxValueSize:       DefaultMaxValueSize,
		CompactionInterval: DefaultCompactionInterval,
	}
}

// Validate checks that the configuration can open a store.
func (c Config) Validate() error {
	var errs []error
	switch c.Engine {
	case EnginePebble, EngineSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown engine %q", c.Engine))
	}
	if !c.InMemory && c.Dir == "" {
		errs = append(errs, errors.New("dir is required unless in_memory is set"))
	}
	if c.CacheSize <= 0 {
		errs = append(errs, errors.New("cache_size must be positive"))
	}
	if c.MaxStoreSize <= 0 {
		errs = append(errs, errors.New("max_store_size must be positive"))
	}
	if c.MaxKeySize <= 0 {
		errs = append(errs, errors.New("max_key_size must be positive"))
	}
	if c.MaxValueSize <= 0 {
		errs = append(errs, errors.New("max_value_size must be positive"))
	}
	if c.CompactionInterval < 0 {
		errs = append(errs, errors.New("compaction_interval must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid store config: %w", err)
	}
	return nil
}
