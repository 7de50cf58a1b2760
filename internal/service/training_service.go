package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-ews-api/internal/ml"
	"github.com/noah-isme/sma-ews-api/internal/models"
	appErrors "github.com/noah-isme/sma-ews-api/pkg/errors"
)

type trainingFeatureSource interface {
	ComputeAll(ctx context.Context, window models.FeatureWindow) ([]models.FeatureVector, error)
}

type artifactStore interface {
	Insert(ctx context.Context, artifact *models.ModelArtifact) error
	Latest(ctx context.Context) (*models.ModelArtifact, error)
}

// TrainingConfig tunes the label heuristics, the fit and the threshold
// sweep. Zero values fall back to the defaults the model was designed
// around.
type TrainingConfig struct {
	MinSamples     int
	TestFraction   float64
	Seed           int64
	Epochs         int
	LearningRate   float64
	L2             float64
	TreeDepth      int
	TreeMinLeaf    int
	SMOTENeighbors int

	ThresholdStart float64
	ThresholdFloor float64
	ThresholdStep  float64
	TargetRecall   float64

	// Label heuristics derive the at-risk class from historical behavior.
	// They sit deliberately below the hard rule limits so the model learns
	// students who are drifting, not only those already flagged.
	LabelAbsenceRatio float64
	LabelAbsentCount  int
	LabelLateCount    int
	LabelLateRatio    float64
	LabelTrendFloor   float64
}

// TrainingService fits the risk model from historical attendance and
// publishes versioned artifacts. Training is synchronous and serialized;
// a failed run never touches the active model.
type TrainingService struct {
	features  trainingFeatureSource
	artifacts artifactStore
	holder    *ArtifactHolder
	metrics   *MetricsService
	cfg       TrainingConfig
	logger    *zap.Logger

	mu sync.Mutex
}

// NewTrainingService constructs the training service.
func NewTrainingService(
	features trainingFeatureSource,
	artifacts artifactStore,
	holder *ArtifactHolder,
	metrics *MetricsService,
	cfg TrainingConfig,
	logger *zap.Logger,
) *TrainingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if holder == nil {
		holder = NewArtifactHolder()
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 10
	}
	if cfg.TestFraction <= 0 || cfg.TestFraction >= 1 {
		cfg.TestFraction = 0.2
	}
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = 500
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.1
	}
	if cfg.L2 <= 0 {
		cfg.L2 = 0.001
	}
	if cfg.TreeDepth <= 0 {
		cfg.TreeDepth = 4
	}
	if cfg.TreeMinLeaf <= 0 {
		cfg.TreeMinLeaf = 5
	}
	if cfg.SMOTENeighbors <= 0 {
		cfg.SMOTENeighbors = 5
	}
	if cfg.ThresholdStart <= 0 {
		cfg.ThresholdStart = 0.50
	}
	if cfg.ThresholdFloor <= 0 {
		cfg.ThresholdFloor = 0.30
	}
	if cfg.ThresholdStep <= 0 {
		cfg.ThresholdStep = 0.05
	}
	if cfg.TargetRecall <= 0 {
		cfg.TargetRecall = 0.70
	}
	if cfg.LabelAbsenceRatio <= 0 {
		cfg.LabelAbsenceRatio = 0.10
	}
	if cfg.LabelAbsentCount <= 0 {
		cfg.LabelAbsentCount = 3
	}
	if cfg.LabelLateCount <= 0 {
		cfg.LabelLateCount = 3
	}
	if cfg.LabelLateRatio <= 0 {
		cfg.LabelLateRatio = 0.15
	}
	if cfg.LabelTrendFloor == 0 {
		cfg.LabelTrendFloor = -0.2
	}
	return &TrainingService{
		features:  features,
		artifacts: artifacts,
		holder:    holder,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
	}
}

// Train fits a new model on the full attendance history and swaps it in
// once the artifact row is persisted.
func (s *TrainingService) Train(ctx context.Context) (*models.TrainResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	collectStart := time.Now()
	vectors, err := s.features.ComputeAll(ctx, models.FeatureWindow{})
	if err != nil {
		return nil, s.fail(err)
	}
	s.metrics.ObserveDBQuery("training_features", time.Since(collectStart))

	x := make([][]float64, 0, len(vectors))
	y := make([]int, 0, len(vectors))
	positives := 0
	for _, vec := range vectors {
		x = append(x, vec.Values())
		label := s.labelFor(vec)
		if label == 1 {
			positives++
		}
		y = append(y, label)
	}

	if len(x) < s.cfg.MinSamples {
		return nil, s.fail(appErrors.Clone(appErrors.ErrDataQuality,
			fmt.Sprintf("need at least %d students with attendance history to train, have %d", s.cfg.MinSamples, len(x))))
	}
	if positives == 0 || positives == len(y) {
		return nil, s.fail(appErrors.Clone(appErrors.ErrDataQuality,
			"training data contains a single class; need both at-risk and normal students"))
	}

	trainX, trainY, testX, testY := ml.StratifiedSplit(x, y, s.cfg.TestFraction, s.cfg.Seed)
	if len(testX) == 0 {
		return nil, s.fail(appErrors.Clone(appErrors.ErrDataQuality,
			"not enough samples to hold out a test split"))
	}

	rng := rand.New(rand.NewSource(s.cfg.Seed))
	resX, resY := ml.SMOTE(trainX, trainY, s.cfg.SMOTENeighbors, rng)

	scaler := ml.FitStandardizer(resX)
	model := ml.TrainLogistic(scaler.TransformAll(resX), resY, ml.LogisticConfig{
		Epochs:       s.cfg.Epochs,
		LearningRate: s.cfg.LearningRate,
		L2:           s.cfg.L2,
	})
	// The explainer tree sees raw features so its path conditions read in
	// natural units (days, ratios), not standardized ones.
	tree := ml.TrainTree(resX, resY, ml.TreeConfig{MaxDepth: s.cfg.TreeDepth, MinSamplesLeaf: s.cfg.TreeMinLeaf})

	probs := model.Probabilities(scaler.TransformAll(testX))
	threshold := ml.ThresholdSweep(probs, testY, s.cfg.ThresholdStart, s.cfg.ThresholdFloor, s.cfg.ThresholdStep, s.cfg.TargetRecall)
	tp, fp, _, fn := ml.Confusion(probs, testY, threshold)
	precision := ml.Precision(tp, fp)
	recall := ml.Recall(tp, fn)

	treeJSON, err := json.Marshal(tree)
	if err != nil {
		return nil, s.fail(appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode tree artifact"))
	}

	artifact := &models.ModelArtifact{
		Logistic: models.LogisticParams{
			Weights: model.Weights,
			Bias:    model.Bias,
			Means:   scaler.Means,
			Stddevs: scaler.Stddevs,
		},
		Tree:      treeJSON,
		Threshold: threshold,
		Metrics: models.TrainingMetrics{
			Recall:    recall,
			Precision: precision,
			F1:        ml.F1(precision, recall),
			AUC:       ml.AUC(probs, testY),
		},
		FeatureNames: models.FeatureList(models.FeatureNames),
		TrainSamples: len(resX),
		TestSamples:  len(testX),
		TrainedAt:    time.Now().UTC(),
	}

	if err := s.artifacts.Insert(ctx, artifact); err != nil {
		return nil, s.fail(appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist model artifact"))
	}

	runtime, err := NewModelRuntime(*artifact)
	if err != nil {
		return nil, s.fail(appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load trained model"))
	}
	s.holder.Swap(runtime)
	s.metrics.RecordTrainingRun(true)

	s.logger.Info("model trained",
		zap.Int("version", artifact.Version),
		zap.Float64("threshold", artifact.Threshold),
		zap.Float64("recall", artifact.Metrics.Recall),
		zap.Float64("auc", artifact.Metrics.AUC),
		zap.Int("train_samples", artifact.TrainSamples),
		zap.Int("test_samples", artifact.TestSamples),
	)

	return &models.TrainResult{
		Version:      artifact.Version,
		Threshold:    artifact.Threshold,
		Metrics:      artifact.Metrics,
		TrainSamples: artifact.TrainSamples,
		TestSamples:  artifact.TestSamples,
		TrainedAt:    artifact.TrainedAt,
	}, nil
}

// LoadLatest restores the newest persisted artifact into the holder. Called
// once at startup; a missing artifact is not an error, the classifier just
// runs on its heuristic until the first training.
func (s *TrainingService) LoadLatest(ctx context.Context) error {
	artifact, err := s.artifacts.Latest(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Info("no model artifact persisted yet")
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load model artifact")
	}
	runtime, err := NewModelRuntime(*artifact)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode model artifact")
	}
	s.holder.Swap(runtime)
	s.logger.Info("model artifact loaded", zap.Int("version", artifact.Version), zap.Float64("threshold", artifact.Threshold))
	return nil
}

// ModelInfo describes the active artifact, loading it lazily from the store
// when the process has not trained or warmed up yet.
func (s *TrainingService) ModelInfo(ctx context.Context) (*models.ModelInfo, error) {
	runtime := s.holder.Current()
	if runtime == nil {
		artifact, err := s.artifacts.Latest(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "no trained model available")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load model artifact")
		}
		runtime, err = NewModelRuntime(*artifact)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode model artifact")
		}
		s.holder.Swap(runtime)
	}

	artifact := runtime.Artifact
	return &models.ModelInfo{
		Version:      artifact.Version,
		Threshold:    artifact.Threshold,
		Metrics:      artifact.Metrics,
		FeatureNames: artifact.FeatureNames,
		Importance:   importanceFor(runtime),
		TrainSamples: artifact.TrainSamples,
		TestSamples:  artifact.TestSamples,
		TrainedAt:    artifact.TrainedAt,
	}, nil
}

// labelFor derives the training label from one student's history.
func (s *TrainingService) labelFor(vec models.FeatureVector) int {
	if vec.AbsentRatio > s.cfg.LabelAbsenceRatio ||
		vec.AbsentCount > s.cfg.LabelAbsentCount ||
		vec.LateCount > s.cfg.LabelLateCount ||
		vec.LateRatio > s.cfg.LabelLateRatio ||
		vec.TrendScore < s.cfg.LabelTrendFloor {
		return 1
	}
	return 0
}

// importanceFor ranks the signed coefficients by magnitude.
func importanceFor(runtime *ModelRuntime) []models.FeatureWeight {
	names := runtime.FeatureNames()
	weights := runtime.Model.Weights
	out := make([]models.FeatureWeight, 0, len(weights))
	for i, w := range weights {
		name := fmt.Sprintf("feature_%d", i)
		if i < len(names) {
			name = names[i]
		}
		out = append(out, models.FeatureWeight{Feature: name, Weight: w})
	}
	sort.SliceStable(out, func(a, b int) bool { return math.Abs(out[a].Weight) > math.Abs(out[b].Weight) })
	return out
}

func (s *TrainingService) fail(err error) error {
	s.metrics.RecordTrainingRun(false)
	s.logger.Error("training run failed", zap.Error(err))
	return err
}
