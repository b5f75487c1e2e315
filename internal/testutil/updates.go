package testutil

import (
	"fmt"
	"math/rand/v2"

	"github.com/roach88/tracestore/internal/codec"
	"github.com/roach88/tracestore/internal/lattice"
	"github.com/roach88/tracestore/internal/trace"
)

// Update is the update type of Schema.
type Update = trace.Update[int64, string, lattice.Product, int64]

// Batch is the batch type of Schema.
type Batch = trace.Batch[int64, string, lattice.Product, int64]

// Schema is the standard test schema: int64 keys, string values,
// (epoch, round) times and int64 weights.
func Schema() trace.Schema[int64, string, lattice.Product, int64] {
	return trace.Schema[int64, string, lattice.Product, int64]{
		Name:   "test-int64-string",
		Key:    codec.Int64{},
		Val:    codec.String{},
		Time:   codec.Product{},
		Weight: codec.Int64{},
	}
}

// T is shorthand for a product time.
func T(epoch, round uint64) lattice.Product {
	return lattice.Product{Epoch: epoch, Round: round}
}

// U is shorthand for an update.
func U(key int64, val string, t lattice.Product, weight int64) Update {
	return Update{Key: key, Val: val, Time: t, Weight: weight}
}

// BuildBatch consolidates updates into a batch over [lower, upper).
func BuildBatch(lower, upper lattice.Product, updates ...Update) *Batch {
	b := trace.NewBuilder(Schema())
	b.PushUpdates(updates...)
	return b.Done(lattice.NewAntichain(lower), lattice.NewAntichain(upper))
}

// RandomUpdates draws n updates from a small domain so keys, values and
// times collide often. Weights are in [-2, 2].
func RandomUpdates(rng *rand.Rand, n int) []Update {
	out := make([]Update, n)
	for i := range out {
		out[i] = U(
			rng.Int64N(12)-2,
			fmt.Sprintf("v%d", rng.IntN(5)),
			T(rng.Uint64N(4), rng.Uint64N(3)),
			rng.Int64N(5)-2,
		)
	}
	return out
}
