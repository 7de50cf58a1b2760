package ml

import "math/rand"

// StratifiedSplit shuffles deterministically and carves off testFrac of each
// class, so both splits keep the original class balance. Every class with at
// least two samples lands on both sides.
func StratifiedSplit(x [][]float64, y []int, testFrac float64, seed int64) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	rng := rand.New(rand.NewSource(seed))
	byClass := map[int][]int{}
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}

	// Deterministic class order; map iteration would reshuffle runs.
	classes := make([]int, 0, len(byClass))
	for label := range byClass {
		classes = append(classes, label)
	}
	for i := 1; i < len(classes); i++ {
		for j := i; j > 0 && classes[j] < classes[j-1]; j-- {
			classes[j], classes[j-1] = classes[j-1], classes[j]
		}
	}

	for _, label := range classes {
		idx := byClass[label]
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
		nTest := int(float64(len(idx))*testFrac + 0.5)
		if len(idx) >= 2 {
			if nTest == 0 {
				nTest = 1
			}
			if nTest == len(idx) {
				nTest = len(idx) - 1
			}
		}
		for i, sample := range idx {
			if i < nTest {
				testX = append(testX, x[sample])
				testY = append(testY, y[sample])
			} else {
				trainX = append(trainX, x[sample])
				trainY = append(trainY, y[sample])
			}
		}
	}
	return trainX, trainY, testX, testY
}
