package persistent

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tracestore/internal/kv"
	"github.com/roach88/tracestore/internal/lattice"
	"github.com/roach88/tracestore/internal/testutil"
	"github.com/roach88/tracestore/internal/trace"
)

type (
	testTrace  = Trace[int64, string, lattice.Product, int64]
	testCursor = trace.Cursor[int64, string, lattice.Product, int64]
)

var U = testutil.U

func forEachEngine(t *testing.T, fn func(t *testing.T, store *kv.Store)) {
	for _, engine := range testutil.Engines {
		t.Run(string(engine), func(t *testing.T) {
			fn(t, testutil.OpenStore(t, engine))
		})
	}
}

func newTrace(t *testing.T, store *kv.Store, opts ...Option) *testTrace {
	t.Helper()
	tr, err := New(store, testutil.Schema(), opts...)
	require.NoError(t, err)
	return tr
}

func insert(t *testing.T, tr *testTrace, updates ...testutil.Update) {
	t.Helper()
	require.NoError(t, tr.Insert(testutil.BuildBatch(T(0, 0), T(10, 0), updates...)))
}

func collect(t *testing.T, tr *testTrace) []testutil.Update {
	t.Helper()
	c, err := tr.Cursor()
	require.NoError(t, err)
	defer c.Close()
	return trace.Collect(c)
}

func cursorKeys(t *testing.T, tr *testTrace, reverse bool) []int64 {
	t.Helper()
	c, err := tr.Cursor()
	require.NoError(t, err)
	defer c.Close()

	var keys []int64
	if reverse {
		for c.FastForwardKeys(); c.KeyValid(); c.StepKeyReverse() {
			keys = append(keys, c.Key())
		}
		return keys
	}
	for ; c.KeyValid(); c.StepKey() {
		keys = append(keys, c.Key())
	}
	return keys
}

func TestTrace_ConsolidateCancels(t *testing.T) {
	forEachEngine(t, func(t *testing.T, store *kv.Store) {
		tr := newTrace(t, store)
		insert(t, tr, U(1, "a", T(0, 0), 1))
		insert(t, tr, U(1, "a", T(0, 0), -1))

		b, err := tr.Consolidate()
		require.NoError(t, err)
		assert.True(t, b.IsEmpty())
	})
}

func TestTrace_Consolidate(t *testing.T) {
	forEachEngine(t, func(t *testing.T, store *kv.Store) {
		tr := newTrace(t, store)
		insert(t, tr,
			U(1, "a", T(0, 0), 1),
			U(1, "a", T(3, 1), 4),
			U(1, "b", T(1, 0), 2),
			U(2, "c", T(2, 0), 1),
		)
		insert(t, tr, U(1, "b", T(5, 0), -2), U(2, "c", T(0, 2), 1))

		b, err := tr.Consolidate()
		require.NoError(t, err)
		assert.Equal(t, []testutil.Update{
			U(1, "a", T(0, 0), 5),
			U(2, "c", T(0, 0), 2),
		}, b.Updates())
		assert.True(t, b.Lower().Equal(lattice.NewAntichain(T(0, 0))))
	})
}

func TestTrace_CursorOrder(t *testing.T) {
	forEachEngine(t, func(t *testing.T, store *kv.Store) {
		tr := newTrace(t, store)
		insert(t, tr, U(3, "v", T(0, 0), 1))
		insert(t, tr, U(1, "v", T(0, 0), 1))
		insert(t, tr, U(2, "v", T(0, 0), 1))

		assert.Equal(t, []int64{1, 2, 3}, cursorKeys(t, tr, false))
		assert.Equal(t, []int64{3, 2, 1}, cursorKeys(t, tr, true))
	})
}

func TestTrace_Grouping(t *testing.T) {
	forEachEngine(t, func(t *testing.T, store *kv.Store) {
		tr := newTrace(t, store)
		insert(t, tr, U(1, "x", T(0, 0), 1))
		insert(t, tr, U(1, "x", T(1, 0), 2))

		c, err := tr.Cursor()
		require.NoError(t, err)
		defer c.Close()

		require.True(t, c.ValValid())
		assert.Equal(t, int64(1), c.Key())
		assert.Equal(t, "x", c.Val())

		pairs := trace.FoldTimes(c, []testTW(nil), func(acc []testTW, tm lattice.Product, w int64) []testTW {
			return append(acc, tw(tm, w))
		})
		assert.Equal(t, []testTW{tw(T(0, 0), 1), tw(T(1, 0), 2)}, pairs)

		sum := func(acc int64, _ lattice.Product, w int64) int64 { return acc + w }
		assert.Equal(t, int64(3), trace.FoldTimes(c, int64(0), sum))
		assert.Equal(t, int64(1), trace.FoldTimesThrough(c, T(0, 0), int64(0), sum))
		assert.Equal(t, int64(3), c.Weight())

		c.StepVal()
		assert.False(t, c.ValValid(), "one group only")
		c.StepKey()
		assert.False(t, c.KeyValid())
	})
}

func TestTrace_KeyBound(t *testing.T) {
	forEachEngine(t, func(t *testing.T, store *kv.Store) {
		tr := newTrace(t, store)
		insert(t, tr, U(1, "a", T(0, 0), 1), U(2, "b", T(0, 0), 1), U(3, "c", T(0, 0), 1))

		tr.TruncateKeysBelow(2)
		assert.Equal(t, []int64{2, 3}, cursorKeys(t, tr, false))
		assert.Equal(t, []int64{3, 2}, cursorKeys(t, tr, true))

		c, err := tr.Cursor()
		require.NoError(t, err)
		defer c.Close()
		c.SeekKeyReverse(1)
		assert.False(t, c.KeyValid(), "key 1 is never exposed")
		c.SeekKey(0)
		assert.Equal(t, int64(2), c.Key())

		tr.TruncateKeysBelow(1)
		bound, ok := tr.LowerKeyBound()
		assert.True(t, ok)
		assert.Equal(t, int64(2), bound, "bounds never retreat")
	})
}

func TestTrace_ValueBound(t *testing.T) {
	forEachEngine(t, func(t *testing.T, store *kv.Store) {
		tr := newTrace(t, store)
		insert(t, tr,
			U(1, "a", T(0, 0), 1),
			U(2, "a", T(0, 0), 1),
			U(2, "c", T(0, 0), 1),
			U(3, "d", T(0, 0), 1),
		)
		_, ok := tr.LowerValueBound()
		assert.False(t, ok)

		tr.TruncateValuesBelow("b")
		tr.TruncateValuesBelow("a")
		bound, ok := tr.LowerValueBound()
		require.True(t, ok)
		assert.Equal(t, "b", bound)

		assert.Equal(t, []testutil.Update{
			U(2, "c", T(0, 0), 1),
			U(3, "d", T(0, 0), 1),
		}, collect(t, tr))
	})
}

func TestTrace_Bookkeeping(t *testing.T) {
	forEachEngine(t, func(t *testing.T, store *kv.Store) {
		tr := newTrace(t, store)
		assert.True(t, tr.Lower().Equal(lattice.NewAntichain(T(0, 0))))
		assert.True(t, tr.Upper().IsEmpty())
		assert.False(t, tr.Dirty())

		require.NoError(t, tr.Insert(testutil.BuildBatch(T(0, 0), T(2, 0),
			U(1, "a", T(0, 0), 1), U(1, "b", T(1, 0), 1), U(2, "a", T(1, 0), 1))))
		assert.True(t, tr.Dirty())
		assert.True(t, tr.Upper().Equal(lattice.NewAntichain(T(2, 0))))
		assert.Equal(t, 3, tr.Len())
		assert.Equal(t, 2, tr.KeyCount())

		tr.ClearDirtyFlag()
		assert.False(t, tr.Dirty())

		require.NoError(t, tr.Insert(testutil.BuildBatch(T(0, 0), T(1, 3), U(3, "a", T(0, 0), 1))))
		assert.True(t, tr.Upper().Equal(lattice.NewAntichain(T(2, 3))))
		assert.Equal(t, 4, tr.Len())

		effort := 10
		tr.Exert(&effort)
		assert.Equal(t, 10, effort)
	})
}

func TestTrace_InsertPreconditions(t *testing.T) {
	forEachEngine(t, func(t *testing.T, store *kv.Store) {
		tr := newTrace(t, store)

		degenerate := testutil.BuildBatch(T(1, 0), T(1, 0), U(1, "a", T(1, 0), 1))
		assert.Panics(t, func() { _ = tr.Insert(degenerate) })

		empty := testutil.BuildBatch(T(0, 0), T(1, 0))
		require.NoError(t, tr.Insert(empty))
		assert.False(t, tr.Dirty(), "empty batches are ignored")
		assert.True(t, tr.Upper().IsEmpty())
	})
}

// zeroingBatch reports every weight of the wrapped batch as zero, so its
// updates cancel on insert while Len stays positive.
type zeroingBatch struct{ *testutil.Batch }

type zeroingCursor struct{ testCursor }

func (b zeroingBatch) Cursor() (testCursor, error) {
	c, err := b.Batch.Cursor()
	if err != nil {
		return nil, err
	}
	return zeroingCursor{c}, nil
}

func (c zeroingCursor) MapTimes(f func(lattice.Product, int64)) {
	c.testCursor.MapTimes(func(tm lattice.Product, _ int64) { f(tm, 0) })
}

func TestTrace_InsertCancellingBatchAdvancesFrontiers(t *testing.T) {
	forEachEngine(t, func(t *testing.T, store *kv.Store) {
		tr := newTrace(t, store)
		batch := zeroingBatch{testutil.BuildBatch(T(0, 0), T(2, 0), U(1, "a", T(0, 0), 1))}
		require.Positive(t, batch.Len())

		require.NoError(t, tr.Insert(batch))
		assert.True(t, tr.Dirty())
		assert.Equal(t, []lattice.Product{{Epoch: 2, Round: 0}}, tr.Upper().Elements())
		assert.Equal(t, []lattice.Product{{Epoch: 0, Round: 0}}, tr.Lower().Elements())
		assert.Empty(t, collectOrEmpty(t, tr))
		assert.Zero(t, tr.Len())
	})
}

func TestTrace_RecedeTo(t *testing.T) {
	forEachEngine(t, func(t *testing.T, store *kv.Store) {
		tr := newTrace(t, store)
		insert(t, tr,
			U(1, "a", T(0, 1), 1),
			U(1, "a", T(1, 0), 1),
			U(1, "a", T(2, 2), 1),
			U(2, "b", T(3, 0), 1),
			U(2, "b", T(4, 0), -1),
		)
		require.NoError(t, tr.RecedeTo(T(1, 1)))

		assert.Equal(t, []testutil.Update{
			U(1, "a", T(0, 1), 1),
			U(1, "a", T(1, 0), 1),
			U(1, "a", T(1, 1), 1),
		}, collect(t, tr), "key 2 collapses onto (1, 0) and cancels")

		require.NoError(t, tr.RecedeTo(T(1, 1)))
		assert.Len(t, collect(t, tr), 3, "receding again changes nothing")

		require.NoError(t, tr.Compact(context.Background()))
		keys, err := tr.storedKeys()
		require.NoError(t, err)
		assert.Len(t, keys, 1)
	})
}

func TestTrace_ValueSizeSplitting(t *testing.T) {
	for _, engine := range testutil.Engines {
		t.Run(string(engine), func(t *testing.T) {
			cfg := testutil.StoreConfig(engine)
			cfg.MaxValueSize = 40
			store := testutil.OpenStoreWithConfig(t, cfg)
			tr := newTrace(t, store)

			fits := []testutil.Update{
				U(1, "a", T(0, 0), 1),
				U(1, "b", T(0, 0), 1),
				U(2, "a", T(0, 0), 1),
				U(2, "a", T(1, 0), 1),
			}
			insert(t, tr, fits...)
			assert.Equal(t, fits, collect(t, tr))
			tr.ClearDirtyFlag()

			err := tr.Insert(testutil.BuildBatch(T(0, 0), T(10, 0),
				U(3, "ok", T(0, 0), 1),
				U(4, "far-too-long", T(0, 0), 1),
			))
			require.Error(t, err)
			assert.True(t, kv.IsCapacityError(err))
			assert.Equal(t, fits, collect(t, tr), "rejected inserts write nothing")
			assert.False(t, tr.Dirty())
			assert.Equal(t, 4, tr.Len())
		})
	}
}

func TestTrace_Compact(t *testing.T) {
	forEachEngine(t, func(t *testing.T, store *kv.Store) {
		tr := newTrace(t, store)
		insert(t, tr, U(1, "a", T(0, 0), 1), U(2, "b", T(0, 0), 1))
		insert(t, tr, U(1, "a", T(0, 0), -1))
		require.NoError(t, tr.Compact(context.Background()))

		keys, err := tr.storedKeys()
		require.NoError(t, err)
		require.Len(t, keys, 1, "cancelled keys are reclaimed")
		assert.Equal(t, []testutil.Update{U(2, "b", T(0, 0), 1)}, collect(t, tr))
	})
}

func TestTrace_SampleKeys(t *testing.T) {
	forEachEngine(t, func(t *testing.T, store *kv.Store) {
		tr := newTrace(t, store)
		var updates []testutil.Update
		for k := range int64(10) {
			updates = append(updates, U(k, "v", T(0, 0), 1))
		}
		insert(t, tr, updates...)
		tr.TruncateKeysBelow(5)

		rng := rand.New(rand.NewPCG(1, 2))
		sample, err := tr.SampleKeys(rng, 3, nil)
		require.NoError(t, err)
		require.Len(t, sample, 3)
		for i, k := range sample {
			assert.GreaterOrEqual(t, k, int64(5))
			if i > 0 {
				assert.Less(t, sample[i-1], k)
			}
		}

		all, err := tr.SampleKeys(rng, 100, nil)
		require.NoError(t, err)
		assert.Equal(t, []int64{5, 6, 7, 8, 9}, all)
	})
}

func TestTrace_Dump(t *testing.T) {
	forEachEngine(t, func(t *testing.T, store *kv.Store) {
		tr := newTrace(t, store)
		insert(t, tr,
			U(1, "a", T(0, 0), 1),
			U(1, "a", T(1, 0), 2),
			U(1, "b", T(0, 1), -1),
			U(2, "c", T(0, 0), 5),
		)

		var buf bytes.Buffer
		require.NoError(t, tr.Dump(&buf))

		g := goldie.New(t,
			goldie.WithFixtureDir("testdata/golden"),
			goldie.WithNameSuffix(".golden"),
		)
		g.Assert(t, "trace_dump", buf.Bytes())
	})
}

func TestTrace_ReopenByName(t *testing.T) {
	for _, engine := range testutil.Engines {
		t.Run(string(engine), func(t *testing.T) {
			cfg := testutil.StoreConfig(engine)
			cfg.InMemory = false
			cfg.Dir = t.TempDir()
			store := testutil.OpenStoreWithConfig(t, cfg)

			tr := newTrace(t, store, WithName("orders"))
			assert.Equal(t, "orders", tr.Name())
			insert(t, tr, U(1, "a", T(0, 0), 1))
			require.NoError(t, tr.Close())

			reopened := newTrace(t, store, WithName("orders"))
			insert(t, reopened, U(1, "a", T(0, 0), 2))
			assert.Equal(t, []testutil.Update{U(1, "a", T(0, 0), 3)}, collect(t, reopened))

			_, err := New(store, testutil.Schema(), WithName("orders"))
			assert.ErrorIs(t, err, kv.ErrPartitionExists)
		})
	}
}

func TestTrace_CollatedKeys(t *testing.T) {
	forEachEngine(t, func(t *testing.T, store *kv.Store) {
		tr, err := New(store, collatedSchema())
		require.NoError(t, err)

		b := trace.NewBuilder(collatedSchema())
		for _, k := range []string{"banana", "Apple", "cherry", "apple"} {
			b.Push(k, "v", 0, 1)
		}
		require.NoError(t, tr.Insert(b.Done(lattice.NewAntichain[lattice.Epoch](0), lattice.NewAntichain[lattice.Epoch](1))))

		c, err := tr.Cursor()
		require.NoError(t, err)
		defer c.Close()

		var keys []string
		for ; c.KeyValid(); c.StepKey() {
			keys = append(keys, c.Key())
		}
		assert.Equal(t, []string{"apple", "Apple", "banana", "cherry"}, keys)

		c.RewindKeys()
		c.SeekKey("B")
		assert.Equal(t, "banana", c.Key())
	})
}

func TestTrace_MatchesBatch(t *testing.T) {
	forEachEngine(t, func(t *testing.T, store *kv.Store) {
		rng := rand.New(rand.NewPCG(42, 7))
		for round := range 6 {
			tr := newTrace(t, store)
			var all []testutil.Update
			for range 1 + rng.IntN(4) {
				updates := testutil.RandomUpdates(rng, rng.IntN(25))
				all = append(all, updates...)
				insert(t, tr, updates...)
				if rng.IntN(2) == 0 {
					require.NoError(t, tr.Compact(context.Background()))
				}
			}

			if round%2 == 1 {
				f := T(rng.Uint64N(4), rng.Uint64N(3))
				require.NoError(t, tr.RecedeTo(f))
				for i := range all {
					all[i].Time = all[i].Time.Meet(f)
				}
			}

			var keyBound int64 = -100
			valBound := ""
			if round >= 3 {
				keyBound = rng.Int64N(6)
				valBound = fmt.Sprintf("v%d", rng.IntN(3))
				tr.TruncateKeysBelow(keyBound)
				tr.TruncateValuesBelow(valBound)
			}
			var visible []testutil.Update
			for _, u := range all {
				if u.Key >= keyBound && strings.Compare(u.Val, valBound) >= 0 {
					visible = append(visible, u)
				}
			}
			reference := testutil.BuildBatch(T(0, 0), T(10, 0), visible...)

			assert.Equal(t, reference.Updates(), collectOrEmpty(t, tr), "round %d", round)
			walkBoth(t, rng, tr, reference)
		}
	})
}

func collectOrEmpty(t *testing.T, tr *testTrace) []testutil.Update {
	got := collect(t, tr)
	if got == nil {
		return []testutil.Update{}
	}
	return got
}

type cursorState struct {
	KeyValid bool
	ValValid bool
	Key      int64
	Val      string
	Times    []testTW
}

func snapshot(c testCursor) cursorState {
	s := cursorState{KeyValid: c.KeyValid(), ValValid: c.ValValid()}
	if s.KeyValid {
		s.Key = c.Key()
	}
	if s.ValValid {
		s.Val = c.Val()
	}
	c.MapTimes(func(tm lattice.Product, w int64) { s.Times = append(s.Times, tw(tm, w)) })
	return s
}

// walkBoth drives a persistent cursor and a batch cursor through the same
// random moves and requires identical positions after each.
func walkBoth(t *testing.T, rng *rand.Rand, tr *testTrace, reference *testutil.Batch) {
	t.Helper()
	got, err := tr.Cursor()
	require.NoError(t, err)
	defer got.Close()
	want, err := reference.Cursor()
	require.NoError(t, err)

	moves := []struct {
		name string
		do   func(c testCursor, k int64, v string)
	}{
		{"StepKey", func(c testCursor, _ int64, _ string) { c.StepKey() }},
		{"StepKeyReverse", func(c testCursor, _ int64, _ string) { c.StepKeyReverse() }},
		{"SeekKey", func(c testCursor, k int64, _ string) { c.SeekKey(k) }},
		{"SeekKeyReverse", func(c testCursor, k int64, _ string) { c.SeekKeyReverse(k) }},
		{"SeekKeyWith", func(c testCursor, k int64, _ string) { c.SeekKeyWith(func(x int64) bool { return x%3 == k%3 }) }},
		{"SeekKeyWithReverse", func(c testCursor, k int64, _ string) { c.SeekKeyWithReverse(func(x int64) bool { return x%2 == k%2 }) }},
		{"StepVal", func(c testCursor, _ int64, _ string) { c.StepVal() }},
		{"StepValReverse", func(c testCursor, _ int64, _ string) { c.StepValReverse() }},
		{"SeekVal", func(c testCursor, _ int64, v string) { c.SeekVal(v) }},
		{"SeekValReverse", func(c testCursor, _ int64, v string) { c.SeekValReverse(v) }},
		{"SeekValWith", func(c testCursor, _ int64, v string) { c.SeekValWith(func(x string) bool { return x >= v }) }},
		{"SeekValWithReverse", func(c testCursor, _ int64, v string) { c.SeekValWithReverse(func(x string) bool { return x <= v }) }},
		{"RewindKeys", func(c testCursor, _ int64, _ string) { c.RewindKeys() }},
		{"FastForwardKeys", func(c testCursor, _ int64, _ string) { c.FastForwardKeys() }},
		{"RewindVals", func(c testCursor, _ int64, _ string) { c.RewindVals() }},
		{"FastForwardVals", func(c testCursor, _ int64, _ string) { c.FastForwardVals() }},
	}

	require.Equal(t, snapshot(want), snapshot(got), "initial position")
	var history []string
	for range 200 {
		m := moves[rng.IntN(len(moves))]
		k := rng.Int64N(16) - 4
		v := fmt.Sprintf("v%d", rng.IntN(6))
		history = append(history, fmt.Sprintf("%s(%d,%s)", m.name, k, v))

		m.do(want, k, v)
		m.do(got, k, v)
		require.Equal(t, snapshot(want), snapshot(got), "after %v", history)
	}
}
