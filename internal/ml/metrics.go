package ml

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// Confusion counts outcomes at a decision threshold. Probabilities at or
// above the threshold predict the positive class.
func Confusion(probs []float64, y []int, threshold float64) (tp, fp, tn, fn int) {
	for i, p := range probs {
		predicted := p >= threshold
		actual := y[i] == 1
		switch {
		case predicted && actual:
			tp++
		case predicted && !actual:
			fp++
		case !predicted && !actual:
			tn++
		default:
			fn++
		}
	}
	return tp, fp, tn, fn
}

// Precision is tp / (tp + fp), zero when nothing was predicted positive.
func Precision(tp, fp int) float64 {
	if tp+fp == 0 {
		return 0
	}
	return float64(tp) / float64(tp+fp)
}

// Recall is tp / (tp + fn), zero when no positives exist.
func Recall(tp, fn int) float64 {
	if tp+fn == 0 {
		return 0
	}
	return float64(tp) / float64(tp+fn)
}

// F1 is the harmonic mean of precision and recall.
func F1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

// ThresholdSweep walks thresholds from start down to floor and returns the
// first one whose recall meets the target. Prioritizing recall keeps missed
// at-risk students rarer than false alarms; when no threshold reaches the
// target the floor wins.
func ThresholdSweep(probs []float64, y []int, start, floor, step, targetRecall float64) float64 {
	if step <= 0 {
		return floor
	}
	for threshold := start; threshold >= floor-1e-9; threshold -= step {
		rounded := math.Round(threshold*100) / 100
		tp, _, _, fn := Confusion(probs, y, rounded)
		if Recall(tp, fn) >= targetRecall {
			return rounded
		}
	}
	return floor
}

// AUC computes the area under the ROC curve. Returns 0 when only one class
// is present, where the curve is undefined.
func AUC(probs []float64, y []int) float64 {
	if len(probs) == 0 || len(probs) != len(y) {
		return 0
	}
	pos := 0
	for _, label := range y {
		if label == 1 {
			pos++
		}
	}
	if pos == 0 || pos == len(y) {
		return 0
	}

	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return probs[order[a]] < probs[order[b]] })

	scores := make([]float64, len(order))
	classes := make([]bool, len(order))
	for i, idx := range order {
		scores[i] = probs[idx]
		classes[i] = y[idx] == 1
	}

	tpr, fpr, _ := stat.ROC(nil, scores, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}
