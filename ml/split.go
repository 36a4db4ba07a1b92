package ml

import (
	"math"
	"math/rand"
)

// TrainTestSplit shuffles with a seeded permutation and holds out
// ceil(n*testRatio) rows, so the same seed always yields the same partitions.
func TrainTestSplit(features [][]float64, labels []int, testRatio float64, seed int64) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	n := len(features)
	rnd := rand.New(rand.NewSource(seed))
	indices := rnd.Perm(n)

	testSize := int(math.Ceil(float64(n) * testRatio))
	if testSize >= n {
		testSize = n - 1
	}
	for i, idx := range indices {
		if i < testSize {
			testX = append(testX, features[idx])
			testY = append(testY, labels[idx])
		} else {
			trainX = append(trainX, features[idx])
			trainY = append(trainY, labels[idx])
		}
	}
	return trainX, trainY, testX, testY
}
