package kv

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// concatPolicy concatenates operands. It is associative but not commutative,
// so it exposes any reordering of operands. A record ending in '!' is
// deleted by MergeFinal.
type concatPolicy struct {
	name    string
	reverse bool
}

func (p concatPolicy) Name() string { return p.name }

func (p concatPolicy) Compare(a, b []byte) int {
	if p.reverse {
		return bytes.Compare(b, a)
	}
	return bytes.Compare(a, b)
}

func (p concatPolicy) Merge(_, older, newer []byte) ([]byte, error) {
	out := make([]byte, 0, len(older)+len(newer))
	return append(append(out, older...), newer...), nil
}

func (p concatPolicy) MergeFinal(_, value []byte) ([]byte, bool, error) {
	return value, !bytes.HasSuffix(value, []byte("!")), nil
}

func (p concatPolicy) ByteOrdered() bool { return !p.reverse }

var engines = []Engine{EnginePebble, EngineSQLite}

func testConfig(engine Engine) Config {
	cfg := DefaultConfig()
	cfg.Engine = engine
	cfg.CacheSize = 1 << 20
	cfg.CompactionInterval = 0
	return cfg
}

func openTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	s, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type entry struct {
	Key   string
	Value string
}

func scan(t *testing.T, p *Partition) []entry {
	t.Helper()
	it, err := p.NewIterator()
	require.NoError(t, err)
	defer it.Close()

	var out []entry
	for valid := it.First(); valid; valid = it.Next() {
		out = append(out, entry{string(it.Key()), string(it.Value())})
	}
	require.NoError(t, it.Error())
	return out
}

func scanReverse(t *testing.T, p *Partition) []entry {
	t.Helper()
	it, err := p.NewIterator()
	require.NoError(t, err)
	defer it.Close()

	var out []entry
	for valid := it.Last(); valid; valid = it.Prev() {
		out = append(out, entry{string(it.Key()), string(it.Value())})
	}
	require.NoError(t, it.Error())
	return out
}

func ops(kvs ...string) []Op {
	var out []Op
	for i := 0; i+1 < len(kvs); i += 2 {
		out = append(out, Op{Key: []byte(kvs[i]), Value: []byte(kvs[i+1])})
	}
	return out
}

func TestPartition_MergeOrder(t *testing.T) {
	for _, engine := range engines {
		t.Run(string(engine), func(t *testing.T) {
			s := openTestStore(t, testConfig(engine))
			p, err := s.OpenPartition("p", concatPolicy{name: "concat"})
			require.NoError(t, err)

			require.NoError(t, p.Merge(ops("b", "1", "a", "x")...))
			require.NoError(t, p.Merge(ops("b", "2")...))
			require.NoError(t, p.Merge(ops("c", "z", "b", "3")...))

			want := []entry{{"a", "x"}, {"b", "123"}, {"c", "z"}}
			assert.Equal(t, want, scan(t, p))

			require.NoError(t, p.Compact(context.Background()))
			require.NoError(t, p.Merge(ops("b", "4")...))
			want[1].Value = "1234"
			assert.Equal(t, want, scan(t, p))
		})
	}
}

func TestPartition_CustomComparator(t *testing.T) {
	for _, engine := range engines {
		t.Run(string(engine), func(t *testing.T) {
			s := openTestStore(t, testConfig(engine))
			p, err := s.OpenPartition("reversed", concatPolicy{name: "concat-reverse", reverse: true})
			require.NoError(t, err)

			require.NoError(t, p.Merge(ops("a", "1", "c", "3", "b", "2")...))

			assert.Equal(t, []entry{{"c", "3"}, {"b", "2"}, {"a", "1"}}, scan(t, p))
			assert.Equal(t, []entry{{"a", "1"}, {"b", "2"}, {"c", "3"}}, scanReverse(t, p))

			it, err := p.NewIterator()
			require.NoError(t, err)
			defer it.Close()

			// Under the reversed order "bb" sorts between "c" and "b".
			require.True(t, it.SeekGE([]byte("bb")))
			assert.Equal(t, "b", string(it.Key()))
			require.True(t, it.SeekLT([]byte("bb")))
			assert.Equal(t, "c", string(it.Key()))
			assert.False(t, it.SeekGE([]byte("0")))
		})
	}
}

func TestPartition_CompactDeletes(t *testing.T) {
	for _, engine := range engines {
		t.Run(string(engine), func(t *testing.T) {
			s := openTestStore(t, testConfig(engine))
			p, err := s.OpenPartition("p", concatPolicy{name: "concat"})
			require.NoError(t, err)

			require.NoError(t, p.Merge(ops("a", "1", "b", "2")...))
			require.NoError(t, p.Compact(context.Background()))
			require.NoError(t, p.Merge(ops("a", "!")...))
			require.NoError(t, p.Compact(context.Background()))

			assert.Equal(t, []entry{{"b", "2"}}, scan(t, p))
		})
	}
}

func TestPartition_Capacity(t *testing.T) {
	tests := []struct {
		name  string
		tweak func(*Config)
		ops   []Op
		limit Limit
	}{
		{"key too large", func(c *Config) { c.MaxKeySize = 2 }, ops("ok", "1", "big", "1"), LimitKeySize},
		{"value too large", func(c *Config) { c.MaxValueSize = 2 }, ops("a", "12", "b", "123"), LimitValueSize},
		{"store full", func(c *Config) { c.MaxStoreSize = 1 }, ops("a", "1"), LimitStoreSize},
	}

	for _, engine := range engines {
		for _, tt := range tests {
			t.Run(string(engine)+"/"+tt.name, func(t *testing.T) {
				cfg := testConfig(engine)
				tt.tweak(&cfg)
				s := openTestStore(t, cfg)
				p, err := s.OpenPartition("p", concatPolicy{name: "concat"})
				require.NoError(t, err)

				err = p.Merge(tt.ops...)
				require.Error(t, err)
				assert.True(t, IsCapacityError(err))
				assert.True(t, errors.Is(err, ErrCapacity))

				var ce *CapacityError
				require.True(t, errors.As(err, &ce))
				assert.Equal(t, tt.limit, ce.Limit)
				assert.Greater(t, ce.Size, ce.Max)

				assert.Empty(t, scan(t, p), "rejected writes apply nothing")
			})
		}
	}
}

func TestStore_DiskUsageSumsPartitions(t *testing.T) {
	for _, engine := range engines {
		t.Run(string(engine), func(t *testing.T) {
			s := openTestStore(t, testConfig(engine))
			policy := concatPolicy{name: "concat"}

			var parts []*Partition
			for _, name := range []string{"a", "b", "c"} {
				p, err := s.OpenPartition(name, policy)
				require.NoError(t, err)
				require.NoError(t, p.Merge(ops("k", name)...))
				parts = append(parts, p)
			}
			var want uint64
			for _, p := range parts {
				used, err := p.DiskUsage()
				require.NoError(t, err)
				want += used
			}
			got, err := s.DiskUsage()
			require.NoError(t, err)
			// Pebble may still be appending to its WAL in the background.
			if engine == EngineSQLite {
				assert.Equal(t, want, got)
			} else {
				assert.GreaterOrEqual(t, got, want)
			}
		})
	}
}

// The store size limit covers every open partition, not just the writer.
// SQLite page counts are deterministic, so the limit can be set exactly.
func TestStore_SizeLimitSpansPartitions(t *testing.T) {
	policy := concatPolicy{name: "concat"}
	write := ops("key", "value")
	opSize := uint64(len("key") + len("value"))

	measure := openTestStore(t, testConfig(EngineSQLite))
	first, err := measure.OpenPartition("first", policy)
	require.NoError(t, err)
	require.NoError(t, first.Merge(write...))
	written, err := first.DiskUsage()
	require.NoError(t, err)
	second, err := measure.OpenPartition("second", policy)
	require.NoError(t, err)
	empty, err := second.DiskUsage()
	require.NoError(t, err)
	require.Positive(t, written)

	cfg := testConfig(EngineSQLite)
	cfg.MaxStoreSize = int64(written + empty + opSize - 1)
	s := openTestStore(t, cfg)

	p1, err := s.OpenPartition("first", policy)
	require.NoError(t, err)
	require.NoError(t, p1.Merge(write...), "one partition alone fits")

	p2, err := s.OpenPartition("second", policy)
	require.NoError(t, err)
	err = p2.Merge(write...)
	var ce *CapacityError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, LimitStoreSize, ce.Limit)
	assert.Equal(t, int64(written+empty+opSize), ce.Size)
	assert.Empty(t, scan(t, p2))

	// Dropping the first partition frees its share.
	require.NoError(t, s.DropPartition("first"))
	require.NoError(t, p2.Merge(write...))
}

func TestStore_PartitionLifecycle(t *testing.T) {
	for _, engine := range engines {
		t.Run(string(engine), func(t *testing.T) {
			s := openTestStore(t, testConfig(engine))
			policy := concatPolicy{name: "concat"}

			anon, err := s.OpenPartition("", policy)
			require.NoError(t, err)
			assert.Regexp(t, `^trace-[0-9a-f-]{36}$`, anon.Name())

			p, err := s.OpenPartition("named", policy)
			require.NoError(t, err)
			assert.Equal(t, policy, p.Policy())

			_, err = s.OpenPartition("named", policy)
			assert.ErrorIs(t, err, ErrPartitionExists)

			_, err = s.OpenPartition("../escape", policy)
			assert.Error(t, err)

			assert.Equal(t, []string{"named", anon.Name()}, s.Partitions())

			require.NoError(t, p.Close())
			assert.ErrorIs(t, p.Close(), ErrClosed)
			assert.ErrorIs(t, p.Merge(ops("a", "1")...), ErrClosed)
			_, err = p.NewIterator()
			assert.ErrorIs(t, err, ErrClosed)
			assert.Equal(t, []string{anon.Name()}, s.Partitions())

			require.NoError(t, s.DropPartition(anon.Name()))
			assert.ErrorIs(t, s.DropPartition(anon.Name()), ErrUnknownPartition)
			assert.Empty(t, s.Partitions())

			require.NoError(t, s.Close())
			_, err = s.OpenPartition("late", policy)
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestStore_ReopenOnDisk(t *testing.T) {
	for _, engine := range engines {
		t.Run(string(engine), func(t *testing.T) {
			cfg := testConfig(engine)
			cfg.InMemory = false
			cfg.Dir = t.TempDir()
			cfg.SyncWrites = true
			policy := concatPolicy{name: "concat"}

			s, err := Open(cfg)
			require.NoError(t, err)
			p, err := s.OpenPartition("durable", policy)
			require.NoError(t, err)
			require.NoError(t, p.Merge(ops("k", "ab")...))
			require.NoError(t, s.Close())

			s = openTestStore(t, cfg)
			_, err = s.OpenPartition("durable", concatPolicy{name: "other"})
			require.Error(t, err, "a different policy must not open persisted data")

			p, err = s.OpenPartition("durable", policy)
			require.NoError(t, err)
			require.NoError(t, p.Merge(ops("k", "c")...))
			assert.Equal(t, []entry{{"k", "abc"}}, scan(t, p))

			used, err := p.DiskUsage()
			require.NoError(t, err)
			assert.Positive(t, used)

			require.NoError(t, s.DropPartition("durable"))
			p, err = s.OpenPartition("durable", policy)
			require.NoError(t, err)
			assert.Empty(t, scan(t, p), "dropped data is gone")
		})
	}
}

func TestValueMerger_OperandOrder(t *testing.T) {
	m := newMerger(concatPolicy{name: "concat"})
	vm, err := m.Merge([]byte("k"), []byte("c"))
	require.NoError(t, err)

	require.NoError(t, vm.MergeOlder([]byte("b")))
	require.NoError(t, vm.MergeNewer([]byte("d")))
	require.NoError(t, vm.MergeOlder([]byte("a")))
	require.NoError(t, vm.MergeNewer([]byte("e!")))

	out, _, err := vm.Finish(false)
	require.NoError(t, err)
	assert.Equal(t, "abcde!", string(out))

	dvm, ok := vm.(pebble.DeletableValueMerger)
	require.True(t, ok)
	out, del, _, err := dvm.DeletableFinish(true)
	require.NoError(t, err)
	assert.True(t, del, "a final record ending in ! is deleted")
	assert.Equal(t, "abcde!", string(out))
}

func TestFold_PanicsOnPolicyError(t *testing.T) {
	assert.Panics(t, func() {
		fold(failingPolicy{}, []byte("k"), [][]byte{{1}, {2}}, false)
	})
	assert.Panics(t, func() {
		fold(failingPolicy{}, []byte("k"), [][]byte{{1}}, true)
	})
}

type failingPolicy struct{ concatPolicy }

func (failingPolicy) Merge(_, _, _ []byte) ([]byte, error) {
	return nil, errors.New("bad operand")
}

func (failingPolicy) MergeFinal(_, _ []byte) ([]byte, bool, error) {
	return nil, false, errors.New("bad record")
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := testConfig(EnginePebble)
	cfg.Registerer = reg
	cfg.MaxKeySize = 4

	s := openTestStore(t, cfg)
	p, err := s.OpenPartition("p", concatPolicy{name: "concat"})
	require.NoError(t, err)
	require.NoError(t, p.Merge(ops("a", "1", "b", "2")...))
	require.Error(t, p.Merge(ops("toolong", "1")...))
	require.NoError(t, p.Compact(context.Background()))

	m := s.Metrics()
	assert.Equal(t, 1.0, promtest.ToFloat64(m.writes.WithLabelValues("pebble")))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.operands.WithLabelValues("pebble")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.rejected.WithLabelValues(string(LimitKeySize))))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.partitions))

	// A second store on the same registry shares the collectors.
	other := openTestStore(t, cfg)
	assert.Same(t, m.partitions, other.Metrics().partitions)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name  string
		tweak func(*Config)
		want  string
	}{
		{"engine", func(c *Config) { c.Engine = "rocks" }, `unknown engine "rocks"`},
		{"dir", func(c *Config) { c.InMemory = false }, "dir is required"},
		{"cache", func(c *Config) { c.CacheSize = 0 }, "cache_size"},
		{"key", func(c *Config) { c.MaxKeySize = -1 }, "max_key_size"},
		{"interval", func(c *Config) { c.CompactionInterval = -1 }, "compaction_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.tweak(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
