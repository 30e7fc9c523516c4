package dataset

import (
	"math/rand/v2"
	"slices"
)

// Split shuffles records deterministically for seed and separates an evaluation
// subset of floor(n*evalFraction) rows, at least one when n > 1 and the fraction is
// positive. The input slice is not modified.
func Split(records []Record, evalFraction float64, seed int64) (train, eval []Record) {
	shuffled := slices.Clone(records)

	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	evalCount := 0
	if evalFraction > 0 && len(shuffled) > 1 {
		evalCount = max(1, int(float64(len(shuffled))*evalFraction))
	}

	return shuffled[evalCount:], shuffled[:evalCount]
}
