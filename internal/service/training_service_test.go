package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-ews-api/internal/ml"
	"github.com/noah-isme/sma-ews-api/internal/models"
	appErrors "github.com/noah-isme/sma-ews-api/pkg/errors"
)

type trainingFeatureSourceStub struct {
	vectors []models.FeatureVector
}

func (s *trainingFeatureSourceStub) ComputeAll(_ context.Context, _ models.FeatureWindow) ([]models.FeatureVector, error) {
	return s.vectors, nil
}

type artifactStoreStub struct {
	artifacts []models.ModelArtifact
	insertErr error
}

func (s *artifactStoreStub) Insert(_ context.Context, artifact *models.ModelArtifact) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	artifact.Version = len(s.artifacts) + 1
	s.artifacts = append(s.artifacts, *artifact)
	return nil
}

func (s *artifactStoreStub) Latest(_ context.Context) (*models.ModelArtifact, error) {
	if len(s.artifacts) == 0 {
		return nil, sql.ErrNoRows
	}
	artifact := s.artifacts[len(s.artifacts)-1]
	return &artifact, nil
}

func newTrainingServiceForTest(vectors []models.FeatureVector) (*TrainingService, *artifactStoreStub, *ArtifactHolder) {
	store := &artifactStoreStub{}
	holder := NewArtifactHolder()
	svc := NewTrainingService(&trainingFeatureSourceStub{vectors: vectors}, store, holder, nil, TrainingConfig{}, zap.NewNop())
	return svc, store, holder
}

// trainingCohort builds a cleanly separable cohort: twenty students with at
// most one absence and ten with five or more over the same twenty days.
func trainingCohort() []models.FeatureVector {
	vectors := make([]models.FeatureVector, 0, 30)
	for i := 0; i < 20; i++ {
		absent := i % 2
		vectors = append(vectors, models.FeatureVector{
			StudentNIS:      fmt.Sprintf("good-%02d", i),
			PresentCount:    20 - absent,
			RecordedAbsent:  absent,
			AbsentCount:     absent,
			RecordedDays:    20,
			ExpectedDays:    20,
			AbsentRatio:     float64(absent) / 20,
			AttendanceRatio: float64(20-absent) / 20,
		})
	}
	for i := 0; i < 10; i++ {
		absent := 5 + i%3
		vectors = append(vectors, models.FeatureVector{
			StudentNIS:      fmt.Sprintf("risk-%02d", i),
			PresentCount:    20 - absent - 1,
			LateCount:       1,
			RecordedAbsent:  absent,
			AbsentCount:     absent,
			RecordedDays:    20,
			ExpectedDays:    20,
			AbsentRatio:     float64(absent) / 20,
			LateRatio:       0.05,
			AttendanceRatio: float64(20-absent-1) / 20,
			TrendScore:      -0.3 - 0.05*float64(i%3),
			RuleTriggered:   true,
		})
	}
	return vectors
}

func TestTrainingServiceTrainFitsAndSwapsModel(t *testing.T) {
	svc, store, holder := newTrainingServiceForTest(trainingCohort())

	result, err := svc.Train(context.Background())
	require.NoError(t, err)

	// 30 students split 24/6; SMOTE levels the 8 minority rows up to 16.
	assert.Equal(t, 1, result.Version)
	assert.Equal(t, 32, result.TrainSamples)
	assert.Equal(t, 6, result.TestSamples)

	// The cohort is perfectly separable, so the sweep stops at its start.
	assert.Equal(t, 0.5, result.Threshold)
	assert.Equal(t, 1.0, result.Metrics.Recall)
	assert.Equal(t, 1.0, result.Metrics.Precision)
	assert.InDelta(t, 1.0, result.Metrics.AUC, 1e-9)

	require.Len(t, store.artifacts, 1)
	assert.Len(t, store.artifacts[0].Logistic.Weights, len(models.FeatureNames))
	assert.NotEmpty(t, store.artifacts[0].Tree)

	runtime := holder.Current()
	require.NotNil(t, runtime)
	assert.Equal(t, 1, runtime.Artifact.Version)
	assert.NotNil(t, runtime.Tree)
}

func TestTrainingServiceTrainRejectsSmallCohort(t *testing.T) {
	svc, store, holder := newTrainingServiceForTest(trainingCohort()[:5])

	_, err := svc.Train(context.Background())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDataQuality.Code, appErrors.FromError(err).Code)
	assert.Empty(t, store.artifacts)
	assert.Nil(t, holder.Current())
}

func TestTrainingServiceTrainRejectsSingleClass(t *testing.T) {
	svc, store, holder := newTrainingServiceForTest(trainingCohort()[:12])

	_, err := svc.Train(context.Background())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDataQuality.Code, appErrors.FromError(err).Code)
	assert.Contains(t, appErrors.FromError(err).Message, "single class")
	assert.Empty(t, store.artifacts)
	assert.Nil(t, holder.Current())
}

func TestTrainingServiceTrainKeepsOldModelOnPersistFailure(t *testing.T) {
	svc, store, holder := newTrainingServiceForTest(trainingCohort())
	store.insertErr = fmt.Errorf("connection reset")

	_, err := svc.Train(context.Background())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
	assert.Nil(t, holder.Current())
}

func TestTrainingServiceModelInfo(t *testing.T) {
	svc, _, _ := newTrainingServiceForTest(trainingCohort())

	_, err := svc.Train(context.Background())
	require.NoError(t, err)

	info, err := svc.ModelInfo(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, info.Version)
	assert.Equal(t, []string(models.FeatureNames), info.FeatureNames)
	require.Len(t, info.Importance, len(models.FeatureNames))
	for i := 1; i < len(info.Importance); i++ {
		assert.GreaterOrEqual(t,
			math.Abs(info.Importance[i-1].Weight),
			math.Abs(info.Importance[i].Weight),
			"importance must rank by coefficient magnitude")
	}
}

func TestTrainingServiceModelInfoColdStart(t *testing.T) {
	store := &artifactStoreStub{}
	holder := NewArtifactHolder()
	svc := NewTrainingService(&trainingFeatureSourceStub{}, store, holder, nil, TrainingConfig{}, zap.NewNop())

	leaf, err := json.Marshal(ml.TreeNode{Leaf: true, Class: 0, Prob: 0.1, Samples: 10})
	require.NoError(t, err)
	store.artifacts = append(store.artifacts, models.ModelArtifact{
		Version:      7,
		Logistic:     models.LogisticParams{Weights: make([]float64, len(models.FeatureNames))},
		Tree:         leaf,
		Threshold:    0.45,
		FeatureNames: models.FeatureList(models.FeatureNames),
	})

	info, err := svc.ModelInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, info.Version)
	assert.Equal(t, 0.45, info.Threshold)
	require.NotNil(t, holder.Current())
	assert.Equal(t, 7, holder.Current().Artifact.Version)
}

func TestTrainingServiceModelInfoWithoutModel(t *testing.T) {
	svc, _, _ := newTrainingServiceForTest(nil)

	_, err := svc.ModelInfo(context.Background())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestTrainingServiceLoadLatest(t *testing.T) {
	svc, store, holder := newTrainingServiceForTest(trainingCohort())

	// Nothing persisted yet: a clean no-op.
	require.NoError(t, svc.LoadLatest(context.Background()))
	assert.Nil(t, holder.Current())

	_, err := svc.Train(context.Background())
	require.NoError(t, err)
	holder.Swap(nil)

	require.NoError(t, svc.LoadLatest(context.Background()))
	require.NotNil(t, holder.Current())
	assert.Equal(t, store.artifacts[0].Threshold, holder.Current().Artifact.Threshold)
}

func TestTrainingServiceLabelHeuristics(t *testing.T) {
	svc, _, _ := newTrainingServiceForTest(nil)

	cases := []struct {
		name  string
		vec   models.FeatureVector
		label int
	}{
		{"clean history", models.FeatureVector{AbsentRatio: 0.05, AbsentCount: 1, LateCount: 2, LateRatio: 0.1}, 0},
		{"absence ratio above limit", models.FeatureVector{AbsentRatio: 0.12}, 1},
		{"absence count above limit", models.FeatureVector{AbsentCount: 4}, 1},
		{"late count above limit", models.FeatureVector{LateCount: 4}, 1},
		{"late ratio above limit", models.FeatureVector{LateRatio: 0.2}, 1},
		{"declining trend", models.FeatureVector{TrendScore: -0.3}, 1},
		{"boundary values stay clean", models.FeatureVector{AbsentRatio: 0.10, AbsentCount: 3, LateCount: 3, LateRatio: 0.15, TrendScore: -0.2}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.label, svc.labelFor(tc.vec))
		})
	}
}
