package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-ews-api/internal/models"
	appErrors "github.com/noah-isme/sma-ews-api/pkg/errors"
)

type featureFactSource interface {
	ListRange(ctx context.Context, from, to time.Time, classID *string) ([]models.DailyAttendanceFact, error)
}

// FeatureConfig tunes feature extraction and the rule trigger.
type FeatureConfig struct {
	AbsenceRatioLimit float64
	AbsenceCountLimit int
	CacheTTL          time.Duration
}

// FeatureService turns daily attendance facts into model feature vectors.
// Silence is treated as a risk signal: days the cohort was observed but a
// student produced no record count as inferred absences.
type FeatureService struct {
	facts  featureFactSource
	cache  *CacheService
	cfg    FeatureConfig
	logger *zap.Logger
}

// NewFeatureService constructs the feature service.
func NewFeatureService(facts featureFactSource, cache *CacheService, cfg FeatureConfig, logger *zap.Logger) *FeatureService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AbsenceRatioLimit <= 0 {
		cfg.AbsenceRatioLimit = 0.15
	}
	if cfg.AbsenceCountLimit <= 0 {
		cfg.AbsenceCountLimit = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	return &FeatureService{facts: facts, cache: cache, cfg: cfg, logger: logger}
}

// ComputeAll extracts one vector per student with facts in the window,
// ordered by NIS. Results are cached briefly because training and sweeps
// reuse them.
func (s *FeatureService) ComputeAll(ctx context.Context, window models.FeatureWindow) ([]models.FeatureVector, error) {
	from, to := s.resolveWindow(window)
	cacheKey := fmt.Sprintf("features:all:%s:%s", from.Format("2006-01-02"), to.Format("2006-01-02"))

	var cached []models.FeatureVector
	if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		return cached, nil
	}

	facts, err := s.facts.ListRange(ctx, from, to, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance facts")
	}
	vectors := s.engineer(facts)

	if err := s.cache.Set(ctx, cacheKey, vectors, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("failed to cache feature vectors", zap.Error(err))
	}
	return vectors, nil
}

// ComputeStudent extracts one student's vector against the cohort in the
// window. A student without any fact gets the zero-record vector: every
// expected day counts as inferred absence.
func (s *FeatureService) ComputeStudent(ctx context.Context, nis string, window models.FeatureWindow) (*models.FeatureVector, error) {
	vectors, err := s.ComputeAll(ctx, window)
	if err != nil {
		return nil, err
	}
	expected := 0
	for i := range vectors {
		if vectors[i].ExpectedDays > expected {
			expected = vectors[i].ExpectedDays
		}
		if vectors[i].StudentNIS == nis {
			v := vectors[i]
			return &v, nil
		}
	}

	vec := models.FeatureVector{
		StudentNIS:     nis,
		ExpectedDays:   expected,
		InferredAbsent: expected,
		AbsentCount:    expected,
	}
	if expected > 0 {
		vec.AbsentRatio = 1.0
	}
	vec.RuleTriggered = s.ruleTriggered(vec.AbsentRatio, vec.AbsentCount)
	return &vec, nil
}

func (s *FeatureService) resolveWindow(window models.FeatureWindow) (time.Time, time.Time) {
	var from time.Time
	if window.From != nil {
		from = *window.From
	}
	to := time.Now().UTC()
	if window.To != nil {
		to = *window.To
	}
	return from, to
}

func (s *FeatureService) ruleTriggered(absentRatio float64, absentCount int) bool {
	return absentRatio > s.cfg.AbsenceRatioLimit || absentCount > s.cfg.AbsenceCountLimit
}

type studentAccumulator struct {
	present    int
	late       int
	absent     int
	sick       int
	permission int
	facts      []models.DailyAttendanceFact
}

// engineer reduces facts to per-student vectors. Expected school days is the
// maximum recorded-day count across the cohort, assuming at least one
// student has a record for every school day in the window.
func (s *FeatureService) engineer(facts []models.DailyAttendanceFact) []models.FeatureVector {
	if len(facts) == 0 {
		return []models.FeatureVector{}
	}

	perStudent := map[string]*studentAccumulator{}
	var maxDate time.Time
	for _, f := range facts {
		acc, ok := perStudent[f.StudentNIS]
		if !ok {
			acc = &studentAccumulator{}
			perStudent[f.StudentNIS] = acc
		}
		switch f.Status {
		case models.AttendanceStatusPresent:
			acc.present++
		case models.AttendanceStatusLate:
			acc.late++
		case models.AttendanceStatusAbsent:
			acc.absent++
		case models.AttendanceStatusSick:
			acc.sick++
		case models.AttendanceStatusPermission:
			acc.permission++
		}
		acc.facts = append(acc.facts, f)
		if f.Date.After(maxDate) {
			maxDate = f.Date
		}
	}

	expected := 0
	for _, acc := range perStudent {
		if recorded := acc.recorded(); recorded > expected {
			expected = recorded
		}
	}

	vectors := make([]models.FeatureVector, 0, len(perStudent))
	for nis, acc := range perStudent {
		recorded := acc.recorded()
		inferred := expected - recorded
		if inferred < 0 {
			inferred = 0
		}
		absentCount := acc.absent + inferred

		vec := models.FeatureVector{
			StudentNIS:      nis,
			PresentCount:    acc.present,
			LateCount:       acc.late,
			SickCount:       acc.sick,
			PermissionCount: acc.permission,
			RecordedAbsent:  acc.absent,
			InferredAbsent:  inferred,
			AbsentCount:     absentCount,
			RecordedDays:    recorded,
			ExpectedDays:    expected,
			TrendScore:      trendScore(acc.facts, maxDate),
		}
		if expected > 0 {
			vec.AbsentRatio = clamp01(float64(absentCount) / float64(expected))
			vec.LateRatio = clamp01(float64(acc.late) / float64(expected))
			vec.AttendanceRatio = clamp01(float64(acc.present) / float64(expected))
		}
		vec.RuleTriggered = s.ruleTriggered(vec.AbsentRatio, vec.AbsentCount)
		vectors = append(vectors, vec)
	}

	sort.Slice(vectors, func(i, j int) bool { return vectors[i].StudentNIS < vectors[j].StudentNIS })
	return vectors
}

func (a *studentAccumulator) recorded() int {
	return a.present + a.late + a.absent + a.sick + a.permission
}

// trendScore compares the good-day rate of the last seven days against the
// seven before, anchored on the cohort's most recent fact. Good means the
// student showed up at all. Empty sub-windows are neutral at 0.5.
func trendScore(facts []models.DailyAttendanceFact, maxDate time.Time) float64 {
	recentStart := maxDate.AddDate(0, 0, -7)
	previousStart := maxDate.AddDate(0, 0, -14)

	recentGood, recentTotal := 0, 0
	previousGood, previousTotal := 0, 0
	for _, f := range facts {
		if f.Date.After(recentStart) {
			recentTotal++
			if f.Status.Attended() {
				recentGood++
			}
		} else if f.Date.After(previousStart) {
			previousTotal++
			if f.Status.Attended() {
				previousGood++
			}
		}
	}

	recentRate := 0.5
	if recentTotal > 0 {
		recentRate = float64(recentGood) / float64(recentTotal)
	}
	previousRate := 0.5
	if previousTotal > 0 {
		previousRate = float64(previousGood) / float64(previousTotal)
	}
	return recentRate - previousRate
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
