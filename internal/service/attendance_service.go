package service

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-ews-api/internal/models"
	appErrors "github.com/noah-isme/sma-ews-api/pkg/errors"
)

type factStore interface {
	UpsertDerived(ctx context.Context, fact *models.DailyAttendanceFact, force bool) (*models.DailyAttendanceFact, bool, error)
	UpsertManual(ctx context.Context, fact *models.DailyAttendanceFact) error
	InsertAbsentIfMissing(ctx context.Context, studentNIS string, date time.Time) (bool, error)
	List(ctx context.Context, filter models.DailyAttendanceFilter) ([]models.DailyAttendanceFact, int, error)
	ListByStudent(ctx context.Context, studentNIS string, from, to time.Time) ([]models.DailyAttendanceFact, error)
}

type aggregatorEventStore interface {
	ListByBatch(ctx context.Context, batchID string) ([]models.RawScanEvent, error)
	ListWindow(ctx context.Context, from, to time.Time) ([]models.RawScanEvent, error)
	OrphanGroups(ctx context.Context, batchID string) ([]models.OrphanedEventGroup, error)
}

type aggregatorBatchStore interface {
	FindByID(ctx context.Context, id string) (*models.ImportBatch, error)
}

type verifiedMappingLister interface {
	ListVerified(ctx context.Context) ([]models.IdentityMapping, error)
}

type aggregatorStudentStore interface {
	FindByNIS(ctx context.Context, nis string) (*models.Student, error)
	ListActive(ctx context.Context) ([]models.Student, error)
}

// AttendanceConfig carries the school-day parameters the aggregator
// classifies against.
type AttendanceConfig struct {
	StartTime        string
	GraceMinutes     int
	Timezone         string
	ConsecutiveAlert int
}

// AttendanceService reduces raw scan events into daily attendance facts and
// serves fact queries. Facts are the single source of truth downstream; the
// reducer is deterministic so re-processing a batch is idempotent.
type AttendanceService struct {
	facts       factStore
	events      aggregatorEventStore
	batches     aggregatorBatchStore
	mappings    verifiedMappingLister
	students    aggregatorStudentStore
	metrics     *MetricsService
	location    *time.Location
	startHour   int
	startMinute int
	grace       time.Duration
	streakMin   int
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewAttendanceService constructs the attendance service.
func NewAttendanceService(facts factStore, events aggregatorEventStore, batches aggregatorBatchStore, mappings verifiedMappingLister, students aggregatorStudentStore, metrics *MetricsService, cfg AttendanceConfig, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil || cfg.Timezone == "" {
		location = time.UTC
	}
	hour, minute := parseClock(cfg.StartTime, 7, 0)
	if cfg.GraceMinutes < 0 {
		cfg.GraceMinutes = 0
	}
	if cfg.ConsecutiveAlert <= 0 {
		cfg.ConsecutiveAlert = 3
	}
	return &AttendanceService{
		facts:       facts,
		events:      events,
		batches:     batches,
		mappings:    mappings,
		students:    students,
		metrics:     metrics,
		location:    location,
		startHour:   hour,
		startMinute: minute,
		grace:       time.Duration(cfg.GraceMinutes) * time.Minute,
		streakMin:   cfg.ConsecutiveAlert,
		validator:   validate,
		logger:      logger,
	}
}

// parseClock splits "HH:MM", falling back to the given defaults.
func parseClock(value string, defHour, defMinute int) (int, int) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return defHour, defMinute
	}
	hour, err1 := strconv.Atoi(parts[0])
	minute, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return defHour, defMinute
	}
	return hour, minute
}

type studentDay struct {
	nis  string
	date string
}

// ProcessBatch derives daily facts from the scan events a batch covers. The
// reduction always runs over the full event set of each covered civil date,
// not just the batch's own rows, so overlapping imports converge on the same
// facts regardless of arrival order.
func (s *AttendanceService) ProcessBatch(ctx context.Context, req models.ProcessBatchRequest) (*models.ProcessBatchResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "batch_id is required")
	}

	batch, err := s.batches.FindByID(ctx, req.BatchID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	if batch.Kind != models.BatchKindLogs {
		return nil, appErrors.Clone(appErrors.ErrValidation, "batch does not contain scan events")
	}
	if batch.Status != models.BatchStatusCompleted && batch.Status != models.BatchStatusCompletedWithErrors {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("batch in status %s cannot be processed", batch.Status))
	}

	loadStart := time.Now()
	batchEvents, err := s.events.ListByBatch(ctx, req.BatchID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch events")
	}
	s.metrics.ObserveDBQuery("batch_events", time.Since(loadStart))
	result := &models.ProcessBatchResult{BatchID: req.BatchID}
	if len(batchEvents) == 0 {
		return result, nil
	}

	// The batch asserts only the civil dates it has events for. Absence is
	// inferred for those dates and never for silent ones.
	coveredDates := map[string]time.Time{}
	var windowFrom, windowTo time.Time
	for _, ev := range batchEvents {
		day := s.civilDate(ev.EventTime)
		key := day.Format("2006-01-02")
		if _, ok := coveredDates[key]; !ok {
			coveredDates[key] = day
			if windowFrom.IsZero() || day.Before(windowFrom) {
				windowFrom = day
			}
			if windowTo.IsZero() || day.After(windowTo) {
				windowTo = day
			}
		}
	}

	allEvents, err := s.events.ListWindow(ctx, windowFrom, windowTo.Add(24*time.Hour))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load events for covered dates")
	}

	verified, err := s.mappings.ListVerified(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load verified mappings")
	}
	nisByDeviceUser := make(map[string]string, len(verified))
	for _, m := range verified {
		nisByDeviceUser[m.DeviceUserID] = m.StudentNIS
	}

	type group struct {
		earliest time.Time
		latest   time.Time
	}
	groups := map[studentDay]*group{}
	orphaned := 0
	for _, ev := range allEvents {
		day := s.civilDate(ev.EventTime)
		key := day.Format("2006-01-02")
		if _, covered := coveredDates[key]; !covered {
			continue
		}
		nis, mapped := nisByDeviceUser[ev.DeviceUserID]
		if !mapped {
			orphaned++
			continue
		}
		gk := studentDay{nis: nis, date: key}
		g, ok := groups[gk]
		if !ok {
			groups[gk] = &group{earliest: ev.EventTime, latest: ev.EventTime}
			continue
		}
		if ev.EventTime.Before(g.earliest) {
			g.earliest = ev.EventTime
		}
		if ev.EventTime.After(g.latest) {
			g.latest = ev.EventTime
		}
	}

	seen := make(map[studentDay]bool, len(groups))
	for gk, g := range groups {
		day := coveredDates[gk.date]
		fact := &models.DailyAttendanceFact{
			StudentNIS: gk.nis,
			Date:       day,
			CheckIn:    timePtr(g.earliest),
			Status:     s.classify(day, g.earliest),
		}
		if g.latest.After(g.earliest) {
			fact.CheckOut = timePtr(g.latest)
		}
		_, skipped, err := s.facts.UpsertDerived(ctx, fact, req.Force)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attendance fact")
		}
		if skipped {
			result.SkippedManual++
		} else {
			result.FactsUpserted++
		}
		seen[gk] = true
	}

	inserted, err := s.backfillAbsences(ctx, coveredDates, nisByDeviceUser, seen)
	if err != nil {
		return nil, err
	}
	result.AbsentInserted = inserted
	result.OrphanedEvents = orphaned

	s.metrics.RecordOrphanedEvents(orphaned)
	s.logger.Info("batch processed",
		zap.String("batch_id", req.BatchID),
		zap.Int("dates", len(coveredDates)),
		zap.Int("facts_upserted", result.FactsUpserted),
		zap.Int("absent_inserted", result.AbsentInserted),
		zap.Int("orphaned_events", result.OrphanedEvents),
		zap.Int("skipped_manual", result.SkippedManual))
	return result, nil
}

// backfillAbsences inserts Absent facts for mapped active students with no
// event on a covered date. Existing rows, manual ones included, stay.
func (s *AttendanceService) backfillAbsences(ctx context.Context, coveredDates map[string]time.Time, nisByDeviceUser map[string]string, seen map[studentDay]bool) (int, error) {
	students, err := s.students.ListActive(ctx)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active students")
	}
	mappedNIS := make(map[string]bool, len(nisByDeviceUser))
	for _, nis := range nisByDeviceUser {
		mappedNIS[nis] = true
	}

	dateKeys := make([]string, 0, len(coveredDates))
	for key := range coveredDates {
		dateKeys = append(dateKeys, key)
	}
	sort.Strings(dateKeys)

	inserted := 0
	for _, key := range dateKeys {
		day := coveredDates[key]
		for _, st := range students {
			if !mappedNIS[st.NIS] || seen[studentDay{nis: st.NIS, date: key}] {
				continue
			}
			created, err := s.facts.InsertAbsentIfMissing(ctx, st.NIS, day)
			if err != nil {
				return inserted, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to backfill absence")
			}
			if created {
				inserted++
			}
		}
	}
	return inserted, nil
}

// civilDate maps an instant to its school-day midnight in the configured
// timezone.
func (s *AttendanceService) civilDate(t time.Time) time.Time {
	lt := t.In(s.location)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, s.location)
}

// classify labels a check-in against the school start plus grace.
func (s *AttendanceService) classify(day, checkIn time.Time) models.AttendanceStatus {
	cutoff := time.Date(day.Year(), day.Month(), day.Day(), s.startHour, s.startMinute, 0, 0, s.location).Add(s.grace)
	if checkIn.After(cutoff) {
		return models.AttendanceStatusLate
	}
	return models.AttendanceStatusPresent
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// RecordManual stores an operator-entered fact. Manual rows win over
// derivation until a forced re-process.
func (s *AttendanceService) RecordManual(ctx context.Context, req models.ManualAttendanceRequest, recordedBy string) (*models.DailyAttendanceFact, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "student, date and status are required")
	}
	if !req.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "status must be one of Present, Late, Absent, Sick, Permission")
	}
	if _, err := s.students.FindByNIS(ctx, req.StudentNIS); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	day := time.Date(req.Date.Year(), req.Date.Month(), req.Date.Day(), 0, 0, 0, 0, s.location)
	fact := &models.DailyAttendanceFact{
		StudentNIS: req.StudentNIS,
		Date:       day,
		Status:     req.Status,
		Notes:      req.Notes,
		RecordedBy: &recordedBy,
		Manual:     true,
	}
	if err := s.facts.UpsertManual(ctx, fact); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store manual fact")
	}

	s.logger.Info("manual attendance recorded",
		zap.String("student_nis", req.StudentNIS),
		zap.String("date", day.Format("2006-01-02")),
		zap.String("status", string(req.Status)),
		zap.String("recorded_by", recordedBy))
	return fact, nil
}

// ListDaily returns facts matching the filter plus pagination metadata.
func (s *AttendanceService) ListDaily(ctx context.Context, filter models.DailyAttendanceFilter) ([]models.DailyAttendanceFact, *models.Pagination, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown attendance status filter")
	}
	facts, total, err := s.facts.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance facts")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return facts, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// StudentHistory returns one student's facts with a summary and detected
// consecutive-absence streaks.
func (s *AttendanceService) StudentHistory(ctx context.Context, nis string, from, to time.Time) (*models.StudentAttendanceHistory, error) {
	if _, err := s.students.FindByNIS(ctx, nis); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	facts, err := s.facts.ListByStudent(ctx, nis, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance history")
	}
	return &models.StudentAttendanceHistory{
		StudentNIS: nis,
		Records:    facts,
		Summary:    summarize(nis, facts),
		Patterns:   s.detectStreaks(facts),
	}, nil
}

// Summary aggregates one student's facts over a range.
func (s *AttendanceService) Summary(ctx context.Context, nis string, from, to time.Time) (*models.AttendanceSummary, error) {
	if _, err := s.students.FindByNIS(ctx, nis); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	facts, err := s.facts.ListByStudent(ctx, nis, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance facts")
	}
	summary := summarize(nis, facts)
	return &summary, nil
}

func summarize(nis string, facts []models.DailyAttendanceFact) models.AttendanceSummary {
	summary := models.AttendanceSummary{StudentNIS: nis, Total: len(facts)}
	for _, f := range facts {
		switch f.Status {
		case models.AttendanceStatusPresent:
			summary.Present++
		case models.AttendanceStatusLate:
			summary.Late++
		case models.AttendanceStatusAbsent:
			summary.Absent++
		case models.AttendanceStatusSick:
			summary.Sick++
		case models.AttendanceStatusPermission:
			summary.Permission++
		}
	}
	if summary.Total > 0 {
		rate := float64(summary.Present+summary.Late) / float64(summary.Total) * 100
		summary.Percent = math.Round(rate*10) / 10
	}
	return summary
}

// detectStreaks finds runs of recorded Absent/Sick days long enough to alert
// on. Facts must arrive oldest first.
func (s *AttendanceService) detectStreaks(facts []models.DailyAttendanceFact) []models.AbsencePattern {
	var patterns []models.AbsencePattern
	var streak []models.DailyAttendanceFact
	flush := func() {
		if len(streak) >= s.streakMin {
			patterns = append(patterns, models.AbsencePattern{
				Start:  streak[0].Date,
				End:    streak[len(streak)-1].Date,
				Length: len(streak),
			})
		}
		streak = streak[:0]
	}
	for _, f := range facts {
		if f.Status == models.AttendanceStatusAbsent || f.Status == models.AttendanceStatusSick {
			streak = append(streak, f)
			continue
		}
		flush()
	}
	flush()
	return patterns
}

// OrphanedEvents reports a batch's events that no verified mapping can claim,
// grouped per device user so operators know which mapping to fix.
func (s *AttendanceService) OrphanedEvents(ctx context.Context, batchID string) (*models.OrphanedEventReport, error) {
	if _, err := s.batches.FindByID(ctx, batchID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	groups, err := s.events.OrphanGroups(ctx, batchID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load orphaned events")
	}
	report := &models.OrphanedEventReport{Groups: groups}
	for _, g := range groups {
		report.Total += g.Events
	}
	return report, nil
}
