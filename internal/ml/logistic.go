// Package ml implements the statistical core of the risk classifier: a
// binary logistic regression, a shallow decision tree used as explainer,
// minority oversampling and the evaluation metrics that drive threshold
// tuning. Everything operates on plain float64 matrices so the package has
// no persistence or transport dependencies.
package ml

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// LogisticConfig controls the gradient descent fit.
type LogisticConfig struct {
	Epochs       int
	LearningRate float64
	L2           float64
}

// Standardizer rescales features to zero mean and unit variance. The
// constants are captured at training time and persisted with the model so
// prediction applies the exact same transform.
type Standardizer struct {
	Means   []float64
	Stddevs []float64
}

// FitStandardizer computes per-column location and scale. Constant columns
// get a unit scale so they pass through unchanged.
func FitStandardizer(x [][]float64) Standardizer {
	if len(x) == 0 {
		return Standardizer{}
	}
	cols := len(x[0])
	means := make([]float64, cols)
	stds := make([]float64, cols)
	for _, row := range x {
		floats.Add(means, row)
	}
	floats.Scale(1/float64(len(x)), means)
	for _, row := range x {
		for j, v := range row {
			d := v - means[j]
			stds[j] += d * d
		}
	}
	for j := range stds {
		stds[j] = math.Sqrt(stds[j] / float64(len(x)))
		if stds[j] == 0 {
			stds[j] = 1
		}
	}
	return Standardizer{Means: means, Stddevs: stds}
}

// Transform returns the standardized copy of one row.
func (s Standardizer) Transform(row []float64) []float64 {
	if len(s.Means) != len(row) {
		out := make([]float64, len(row))
		copy(out, row)
		return out
	}
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Means[j]) / s.Stddevs[j]
	}
	return out
}

// TransformAll standardizes a whole matrix.
func (s Standardizer) TransformAll(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		out[i] = s.Transform(row)
	}
	return out
}

// Logistic is a fitted binary classifier over standardized features.
type Logistic struct {
	Weights []float64
	Bias    float64
}

// TrainLogistic fits weights with full-batch gradient descent. Classes are
// weighted inversely to their prevalence so the minority class contributes
// as much to the gradient as the majority.
func TrainLogistic(x [][]float64, y []int, cfg LogisticConfig) Logistic {
	n := len(x)
	if n == 0 {
		return Logistic{}
	}
	cols := len(x[0])

	pos := 0
	for _, label := range y {
		if label == 1 {
			pos++
		}
	}
	neg := n - pos
	wPos, wNeg := 1.0, 1.0
	if pos > 0 && neg > 0 {
		wPos = float64(n) / float64(2*pos)
		wNeg = float64(n) / float64(2*neg)
	}

	weights := make([]float64, cols)
	bias := 0.0
	grad := make([]float64, cols)

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		for j := range grad {
			grad[j] = 0
		}
		gradBias := 0.0
		for i, row := range x {
			p := sigmoid(floats.Dot(weights, row) + bias)
			sw := wNeg
			target := 0.0
			if y[i] == 1 {
				sw = wPos
				target = 1.0
			}
			err := sw * (p - target)
			floats.AddScaled(grad, err, row)
			gradBias += err
		}
		scale := cfg.LearningRate / float64(n)
		for j := range weights {
			weights[j] -= scale * (grad[j] + cfg.L2*weights[j])
		}
		bias -= scale * gradBias
	}
	return Logistic{Weights: weights, Bias: bias}
}

// Probability returns P(class=1) for one standardized row.
func (m Logistic) Probability(row []float64) float64 {
	if len(m.Weights) != len(row) {
		return 0
	}
	return sigmoid(floats.Dot(m.Weights, row) + m.Bias)
}

// Probabilities scores a whole standardized matrix.
func (m Logistic) Probabilities(x [][]float64) []float64 {
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = m.Probability(row)
	}
	return out
}

func sigmoid(z float64) float64 {
	// Clamp to keep Exp out of overflow territory for extreme logits.
	if z > 35 {
		return 1
	}
	if z < -35 {
		return 0
	}
	return 1 / (1 + math.Exp(-z))
}
