package trace

import (
	"math/rand/v2"
	"slices"

	"github.com/roach88/tracestore/internal/lattice"
)

// SampleCursorKeys walks every key of c and reservoir-samples up to n of
// them. The sample is sorted with cmp and appended to out.
func SampleCursorKeys[K, V any, T lattice.Timestamp[T], R Weight](c Cursor[K, V, T, R], rng *rand.Rand, n int, cmp func(K, K) int, out []K) []K {
	if n <= 0 {
		return out
	}
	reservoir := make([]K, 0, n)
	seen := 0
	for c.RewindKeys(); c.KeyValid(); c.StepKey() {
		seen++
		if len(reservoir) < n {
			reservoir = append(reservoir, c.Key())
			continue
		}
		if j := rng.IntN(seen); j < n {
			reservoir[j] = c.Key()
		}
	}
	slices.SortFunc(reservoir, cmp)
	return append(out, reservoir...)
}
