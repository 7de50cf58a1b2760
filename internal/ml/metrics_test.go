package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfusion(t *testing.T) {
	probs := []float64{0.9, 0.8, 0.3, 0.6, 0.1}
	y := []int{1, 0, 1, 1, 0}

	tp, fp, tn, fn := Confusion(probs, y, 0.5)
	assert.Equal(t, 2, tp)
	assert.Equal(t, 1, fp)
	assert.Equal(t, 1, tn)
	assert.Equal(t, 1, fn)
}

func TestPrecisionRecallF1(t *testing.T) {
	assert.InDelta(t, 0.6667, Precision(2, 1), 0.001)
	assert.InDelta(t, 0.6667, Recall(2, 1), 0.001)
	assert.InDelta(t, 0.6667, F1(Precision(2, 1), Recall(2, 1)), 0.001)

	assert.Equal(t, 0.0, Precision(0, 0))
	assert.Equal(t, 0.0, Recall(0, 0))
	assert.Equal(t, 0.0, F1(0, 0))
}

func TestAUCPerfectRanking(t *testing.T) {
	probs := []float64{0.1, 0.2, 0.8, 0.9}
	y := []int{0, 0, 1, 1}
	assert.InDelta(t, 1.0, AUC(probs, y), 0.001)
}

func TestAUCInvertedRanking(t *testing.T) {
	probs := []float64{0.9, 0.8, 0.2, 0.1}
	y := []int{0, 0, 1, 1}
	assert.InDelta(t, 0.0, AUC(probs, y), 0.001)
}

func TestAUCPartialRanking(t *testing.T) {
	probs := []float64{0.1, 0.9, 0.8, 0.2}
	y := []int{0, 1, 0, 1}
	// Three of four positive/negative pairs are ordered correctly.
	assert.InDelta(t, 0.75, AUC(probs, y), 0.001)
}

func TestAUCSingleClass(t *testing.T) {
	assert.Equal(t, 0.0, AUC([]float64{0.1, 0.9}, []int{1, 1}))
	assert.Equal(t, 0.0, AUC(nil, nil))
}

func TestThresholdSweepPicksFirstMeetingRecall(t *testing.T) {
	probs := []float64{0.9, 0.6, 0.4, 0.2}
	y := []int{1, 1, 1, 0}

	// Recall at 0.50 and 0.45 is 2/3; at 0.40 all positives are caught.
	got := ThresholdSweep(probs, y, 0.50, 0.30, 0.05, 0.70)
	assert.InDelta(t, 0.40, got, 0.001)
}

func TestThresholdSweepKeepsStartWhenMet(t *testing.T) {
	probs := []float64{0.9, 0.8, 0.1}
	y := []int{1, 1, 0}
	got := ThresholdSweep(probs, y, 0.50, 0.30, 0.05, 0.70)
	assert.InDelta(t, 0.50, got, 0.001)
}

func TestThresholdSweepFallsBackToFloor(t *testing.T) {
	probs := []float64{0.1, 0.15, 0.2}
	y := []int{1, 1, 0}
	got := ThresholdSweep(probs, y, 0.50, 0.30, 0.05, 0.70)
	assert.InDelta(t, 0.30, got, 0.001)
}

func TestEndToEndTrainingRecoversSignal(t *testing.T) {
	// Students with high absence ratios are labeled at risk; the fitted
	// model must rank a heavy absentee above a regular attender.
	var x [][]float64
	var y []int
	for i := 0; i < 20; i++ {
		ratio := 0.02 + float64(i)*0.004
		x = append(x, []float64{ratio, float64(i % 3)})
		y = append(y, 0)
	}
	for i := 0; i < 8; i++ {
		ratio := 0.25 + float64(i)*0.02
		x = append(x, []float64{ratio, float64(i % 4)})
		y = append(y, 1)
	}

	s := FitStandardizer(x)
	m := TrainLogistic(s.TransformAll(x), y, LogisticConfig{Epochs: 2000, LearningRate: 0.3, L2: 0.01})

	atRisk := m.Probability(s.Transform([]float64{0.3, 1}))
	healthy := m.Probability(s.Transform([]float64{0.03, 1}))
	require.Greater(t, atRisk, healthy)
	assert.Greater(t, atRisk, 0.5)
	assert.Less(t, healthy, 0.5)
}
