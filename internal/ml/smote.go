package ml

import (
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// SMOTE balances a binary training set by synthesizing minority samples
// interpolated between a minority point and one of its k nearest minority
// neighbors. The returned set appends synthetic rows after the originals so
// the caller's test split is never contaminated. k is clamped to the number
// of available neighbors; with a single minority sample the point itself is
// duplicated.
func SMOTE(x [][]float64, y []int, k int, rng *rand.Rand) ([][]float64, []int) {
	if len(x) < 2 {
		return x, y
	}

	var minority, majority []int
	for i, label := range y {
		if label == 1 {
			minority = append(minority, i)
		} else {
			majority = append(majority, i)
		}
	}
	if len(minority) > len(majority) {
		minority, majority = majority, minority
	}
	need := len(majority) - len(minority)
	if need == 0 || len(minority) == 0 {
		return x, y
	}

	minorityLabel := y[minority[0]]
	if k > len(minority)-1 {
		k = len(minority) - 1
	}

	outX := make([][]float64, len(x), len(x)+need)
	copy(outX, x)
	outY := make([]int, len(y), len(y)+need)
	copy(outY, y)

	for s := 0; s < need; s++ {
		base := minority[rng.Intn(len(minority))]
		neighbor := base
		if k > 0 {
			neighbor = nearestNeighbors(x, minority, base, k)[rng.Intn(k)]
		}
		row := make([]float64, len(x[base]))
		u := rng.Float64()
		for j := range row {
			row[j] = x[base][j] + u*(x[neighbor][j]-x[base][j])
		}
		outX = append(outX, row)
		outY = append(outY, minorityLabel)
	}
	return outX, outY
}

// nearestNeighbors returns the k minority indices closest to base by
// euclidean distance, excluding base itself.
func nearestNeighbors(x [][]float64, minority []int, base int, k int) []int {
	type candidate struct {
		idx  int
		dist float64
	}
	candidates := make([]candidate, 0, len(minority)-1)
	for _, i := range minority {
		if i == base {
			continue
		}
		candidates = append(candidates, candidate{idx: i, dist: floats.Distance(x[base], x[i], 2)})
	}
	sort.Slice(candidates, func(a, b int) bool { return candidates[a].dist < candidates[b].dist })
	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]int, k)
	for i := 0; i < k; i++ {
		out[i] = candidates[i].idx
	}
	return out
}
