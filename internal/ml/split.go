package ml

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// splitStream keeps the split permutation independent of model seeds.
const splitStream uint64 = 0x5eed

// TrainTestSplit partitions the indexes [0, n) uniformly at random. The
// test part holds ceil(n*testFraction) indexes.
func TrainTestSplit(n int, testFraction float64, seed uint64) (train, test []int, err error) {
	if n < 2 {
		return nil, nil, fmt.Errorf("split: need at least 2 rows, got %d", n)
	}
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("split: test fraction must be in (0, 1), got %v", testFraction)
	}
	nTest := int(math.Ceil(float64(n) * testFraction))
	if nTest >= n {
		nTest = n - 1
	}
	rng := rand.New(rand.NewPCG(seed, splitStream))
	perm := rng.Perm(n)
	return perm[nTest:], perm[:nTest], nil
}
