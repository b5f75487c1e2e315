package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tracestore/internal/kv"
)

// Engines lists every kv engine; tests that touch storage run once per
// engine.
var Engines = []kv.Engine{kv.EnginePebble, kv.EngineSQLite}

// StoreConfig returns an in-memory configuration for engine with a small
// cache and no background compaction.
func StoreConfig(engine kv.Engine) kv.Config {
	cfg := kv.DefaultConfig()
	cfg.Engine = engine
	cfg.CacheSize = 1 << 20
	cfg.CompactionInterval = 0
	return cfg
}

// OpenStore opens an in-memory store and closes it when the test ends.
func OpenStore(t testing.TB, engine kv.Engine) *kv.Store {
	t.Helper()
	return OpenStoreWithConfig(t, StoreConfig(engine))
}

// OpenStoreWithConfig opens a store from cfg and closes it when the test ends.
func OpenStoreWithConfig(t testing.TB, cfg kv.Config) *kv.Store {
	t.Helper()
	s, err := kv.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}
