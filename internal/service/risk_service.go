package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-ews-api/internal/ml"
	"github.com/noah-isme/sma-ews-api/internal/models"
	appErrors "github.com/noah-isme/sma-ews-api/pkg/errors"
	"github.com/noah-isme/sma-ews-api/pkg/jobs"
)

type riskFeatureSource interface {
	ComputeStudent(ctx context.Context, nis string, window models.FeatureWindow) (*models.FeatureVector, error)
}

type assessmentStore interface {
	Insert(ctx context.Context, assessment *models.RiskAssessment) error
	ListByStudent(ctx context.Context, studentNIS string, limit int) ([]models.RiskAssessment, error)
}

type riskStudentSource interface {
	FindByNIS(ctx context.Context, nis string) (*models.Student, error)
	ListActiveNIS(ctx context.Context, classID string) ([]string, error)
}

type sweepDispatcher interface {
	Enqueue(job jobs.Job) error
}

// RecalculateJobType tags sweep jobs on the background queue.
const RecalculateJobType = "risk.recalculate"

// RiskConfig tunes the rule override, the no-model fallback and the tier
// bands. The bands are fixed display buckets; the artifact's tuned threshold
// only drives the binary at-risk label inside training metrics.
type RiskConfig struct {
	AbsenceRatioLimit     float64
	AbsenceCountLimit     int
	HeuristicAbsenceRatio float64
	RedProbability        float64
	YellowProbability     float64
	HistoryLimit          int
	TopFactors            int
	MaxPathConditions     int
}

// RiskService classifies students into risk tiers. Hard attendance rules
// override everything, the trained model covers the rest, and a coarse
// heuristic stands in while no model is available.
type RiskService struct {
	features  riskFeatureSource
	history   assessmentStore
	students  riskStudentSource
	artifacts *ArtifactHolder
	queue     sweepDispatcher
	metrics   *MetricsService
	cfg       RiskConfig
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewRiskService constructs the risk service.
func NewRiskService(
	features riskFeatureSource,
	history assessmentStore,
	students riskStudentSource,
	artifacts *ArtifactHolder,
	queue sweepDispatcher,
	metrics *MetricsService,
	cfg RiskConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *RiskService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if artifacts == nil {
		artifacts = NewArtifactHolder()
	}
	if cfg.AbsenceRatioLimit <= 0 {
		cfg.AbsenceRatioLimit = 0.15
	}
	if cfg.AbsenceCountLimit <= 0 {
		cfg.AbsenceCountLimit = 5
	}
	if cfg.HeuristicAbsenceRatio <= 0 {
		cfg.HeuristicAbsenceRatio = 0.10
	}
	if cfg.RedProbability <= 0 {
		cfg.RedProbability = 0.70
	}
	if cfg.YellowProbability <= 0 {
		cfg.YellowProbability = 0.40
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.TopFactors <= 0 {
		cfg.TopFactors = 3
	}
	if cfg.MaxPathConditions <= 0 {
		cfg.MaxPathConditions = 4
	}
	return &RiskService{
		features:  features,
		history:   history,
		students:  students,
		artifacts: artifacts,
		queue:     queue,
		metrics:   metrics,
		cfg:       cfg,
		validate:  validate,
		logger:    logger,
	}
}

// Predict classifies one student and appends the assessment to history.
func (s *RiskService) Predict(ctx context.Context, nis string) (*models.RiskPrediction, error) {
	student, err := s.students.FindByNIS(ctx, nis)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, fmt.Sprintf("student %s not found", nis))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	vec, err := s.features.ComputeStudent(ctx, nis, models.FeatureWindow{})
	if err != nil {
		return nil, err
	}

	prediction := s.classify(*vec)
	prediction.StudentNIS = nis
	prediction.StudentName = student.FullName
	prediction.TierDescription = prediction.Tier.Description()
	prediction.Recommendations = prediction.Tier.Recommendations()
	prediction.Factors = factorsFor(*vec)
	prediction.Features = *vec
	prediction.AssessedAt = time.Now().UTC()

	assessment := &models.RiskAssessment{
		StudentNIS:  nis,
		Tier:        prediction.Tier,
		Level:       prediction.Tier.Level(),
		Probability: prediction.Probability,
		Method:      prediction.Method,
		RuleReason:  prediction.RuleReason,
		Factors:     prediction.Factors,
		Explanation: prediction.Explanation,
		AssessedAt:  prediction.AssessedAt,
	}
	if err := s.history.Insert(ctx, assessment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist risk assessment")
	}
	s.metrics.RecordPrediction(prediction.Tier, prediction.Method)

	s.logger.Info("risk assessed",
		zap.String("nis", nis),
		zap.String("tier", string(prediction.Tier)),
		zap.Float64("probability", prediction.Probability),
		zap.String("method", string(prediction.Method)),
	)
	return prediction, nil
}

// PredictBatch classifies an explicit roster. Items fail independently.
func (s *RiskService) PredictBatch(ctx context.Context, req models.BatchPredictRequest) (*models.BatchPredictResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "student list is required")
	}

	result := &models.BatchPredictResult{Items: make([]models.BatchPredictItem, 0, len(req.StudentNIS))}
	for _, nis := range req.StudentNIS {
		item := models.BatchPredictItem{StudentNIS: nis}
		prediction, err := s.Predict(ctx, nis)
		if err != nil {
			item.Error = appErrors.FromError(err).Message
			result.Failed++
		} else {
			item.Prediction = prediction
			result.Succeeded++
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

// History returns persisted assessments for one student, newest first.
func (s *RiskService) History(ctx context.Context, nis string, limit int) ([]models.RiskAssessment, error) {
	if _, err := s.students.FindByNIS(ctx, nis); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, fmt.Sprintf("student %s not found", nis))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if limit <= 0 {
		limit = s.cfg.HistoryLimit
	}
	if limit > 100 {
		limit = 100
	}
	assessments, err := s.history.ListByStudent(ctx, nis, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessment history")
	}
	return assessments, nil
}

// Recalculate queues a sweep over all active students, optionally scoped to
// one class. Without a queue the sweep runs inline.
func (s *RiskService) Recalculate(ctx context.Context, req models.RecalculateRequest) (*models.RecalculateAck, error) {
	classID := ""
	if req.ClassID != nil {
		classID = *req.ClassID
	}
	nisList, err := s.students.ListActiveNIS(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list active students")
	}
	if len(nisList) == 0 {
		return &models.RecalculateAck{}, nil
	}

	if s.queue == nil {
		result, err := s.RunSweep(ctx, classID)
		if err != nil {
			return nil, err
		}
		return &models.RecalculateAck{Students: result.Students}, nil
	}

	job := jobs.Job{ID: uuid.NewString(), Type: RecalculateJobType, Payload: classID}
	if err := s.queue.Enqueue(job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue recalculation sweep")
	}
	s.logger.Info("risk sweep queued", zap.String("job_id", job.ID), zap.String("class_id", classID), zap.Int("students", len(nisList)))
	return &models.RecalculateAck{Students: len(nisList), Queued: true}, nil
}

// RunSweep predicts every active student in scope, persisting each
// assessment. Per-student failures are logged and counted, never fatal.
// The background queue calls this from its job handler.
func (s *RiskService) RunSweep(ctx context.Context, classID string) (*models.RecalculateResult, error) {
	nisList, err := s.students.ListActiveNIS(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list active students")
	}

	result := &models.RecalculateResult{Students: len(nisList)}
	for _, nis := range nisList {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if _, err := s.Predict(ctx, nis); err != nil {
			result.Failed++
			s.logger.Warn("sweep prediction failed", zap.String("nis", nis), zap.Error(err))
			continue
		}
		result.Succeeded++
	}
	s.logger.Info("risk sweep finished",
		zap.String("class_id", classID),
		zap.Int("students", result.Students),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// classify decides tier, probability and explanation from one vector. The
// precedence is fixed: hard rules, then the trained model, then the
// heuristic fallback.
func (s *RiskService) classify(vec models.FeatureVector) *models.RiskPrediction {
	if vec.RuleTriggered || vec.AbsentRatio > s.cfg.AbsenceRatioLimit || vec.AbsentCount > s.cfg.AbsenceCountLimit {
		reason := s.ruleReason(vec)
		return &models.RiskPrediction{
			Tier:        models.RiskTierRed,
			Probability: 1.0,
			Method:      models.PredictionMethodRule,
			RuleReason:  &reason,
			Explanation: ml.ComposeExplanation(nil, []string{reason}),
		}
	}

	runtime := s.artifacts.Current()
	if runtime == nil {
		return s.heuristic(vec)
	}

	raw := vec.Values()
	prob := runtime.Model.Probability(runtime.Scaler.Transform(raw))
	names := runtime.FeatureNames()

	contributions := ml.TopRiskContributions(runtime.Model, runtime.Scaler, raw, names, s.cfg.TopFactors)
	var path []string
	if runtime.Tree != nil {
		path = runtime.Tree.PathConditions(raw, names, s.cfg.MaxPathConditions)
	}

	return &models.RiskPrediction{
		Tier:        s.tierFor(prob),
		Probability: round4(prob),
		Method:      models.PredictionMethodML,
		Explanation: ml.ComposeExplanation(contributions, path),
	}
}

// heuristic is the stand-in classifier used while no artifact is loaded.
func (s *RiskService) heuristic(vec models.FeatureVector) *models.RiskPrediction {
	s.logger.Warn("no model loaded, using heuristic fallback", zap.String("nis", vec.StudentNIS))

	tier := models.RiskTierGreen
	prob := 0.2
	var rules []string
	if vec.AbsentRatio > s.cfg.HeuristicAbsenceRatio {
		tier = models.RiskTierYellow
		prob = 0.5
		rules = append(rules, fmt.Sprintf("absent_ratio (%.1f%%) > %.0f%%", vec.AbsentRatio*100, s.cfg.HeuristicAbsenceRatio*100))
	}
	return &models.RiskPrediction{
		Tier:        tier,
		Probability: prob,
		Method:      models.PredictionMethodHeuristic,
		Explanation: ml.ComposeExplanation(nil, rules),
	}
}

// ruleReason names each exceeded hard limit the way operators read them.
func (s *RiskService) ruleReason(vec models.FeatureVector) string {
	var parts []string
	if vec.AbsentRatio > s.cfg.AbsenceRatioLimit {
		parts = append(parts, fmt.Sprintf("absent_ratio (%.1f%%) > %.0f%%", vec.AbsentRatio*100, s.cfg.AbsenceRatioLimit*100))
	}
	if vec.AbsentCount > s.cfg.AbsenceCountLimit {
		parts = append(parts, fmt.Sprintf("absent_count (%d) > %d", vec.AbsentCount, s.cfg.AbsenceCountLimit))
	}
	if len(parts) == 0 {
		parts = append(parts, "attendance rule limit exceeded")
	}
	return strings.Join(parts, "; ")
}

func (s *RiskService) tierFor(prob float64) models.RiskTier {
	switch {
	case prob > s.cfg.RedProbability:
		return models.RiskTierRed
	case prob >= s.cfg.YellowProbability:
		return models.RiskTierYellow
	default:
		return models.RiskTierGreen
	}
}

// factorsFor flattens the reporting factors persisted with an assessment.
func factorsFor(vec models.FeatureVector) models.RiskFactors {
	return models.RiskFactors{
		"absent_ratio":     round3(vec.AbsentRatio),
		"absent_count":     float64(vec.AbsentCount),
		"late_ratio":       round3(vec.LateRatio),
		"late_count":       float64(vec.LateCount),
		"trend_score":      round3(vec.TrendScore),
		"total_days":       float64(vec.ExpectedDays),
		"attendance_ratio": round3(vec.AttendanceRatio),
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
