package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-ews-api/internal/models"
	appErrors "github.com/noah-isme/sma-ews-api/pkg/errors"
)

type factStoreStub struct {
	manualRows  map[string]bool
	existing    map[string]bool
	derived     []*models.DailyAttendanceFact
	forced      []bool
	manuals     []*models.DailyAttendanceFact
	absents     []string
	list        []models.DailyAttendanceFact
	byStudent   []models.DailyAttendanceFact
	byStudentFn func(nis string) []models.DailyAttendanceFact
}

func factKey(nis string, date time.Time) string {
	return fmt.Sprintf("%s|%s", nis, date.Format("2006-01-02"))
}

func (s *factStoreStub) UpsertDerived(_ context.Context, fact *models.DailyAttendanceFact, force bool) (*models.DailyAttendanceFact, bool, error) {
	if s.manualRows[factKey(fact.StudentNIS, fact.Date)] && !force {
		return nil, true, nil
	}
	s.derived = append(s.derived, fact)
	s.forced = append(s.forced, force)
	return fact, false, nil
}

func (s *factStoreStub) UpsertManual(_ context.Context, fact *models.DailyAttendanceFact) error {
	s.manuals = append(s.manuals, fact)
	return nil
}

func (s *factStoreStub) InsertAbsentIfMissing(_ context.Context, studentNIS string, date time.Time) (bool, error) {
	key := factKey(studentNIS, date)
	if s.existing[key] || s.manualRows[key] {
		return false, nil
	}
	s.absents = append(s.absents, key)
	return true, nil
}

func (s *factStoreStub) List(_ context.Context, _ models.DailyAttendanceFilter) ([]models.DailyAttendanceFact, int, error) {
	return s.list, len(s.list), nil
}

func (s *factStoreStub) ListByStudent(_ context.Context, nis string, _, _ time.Time) ([]models.DailyAttendanceFact, error) {
	if s.byStudentFn != nil {
		return s.byStudentFn(nis), nil
	}
	return s.byStudent, nil
}

type aggregatorEventStoreStub struct {
	byBatch []models.RawScanEvent
	window  []models.RawScanEvent
	orphans []models.OrphanedEventGroup
}

func (s *aggregatorEventStoreStub) ListByBatch(_ context.Context, _ string) ([]models.RawScanEvent, error) {
	return s.byBatch, nil
}

func (s *aggregatorEventStoreStub) ListWindow(_ context.Context, _, _ time.Time) ([]models.RawScanEvent, error) {
	return s.window, nil
}

func (s *aggregatorEventStoreStub) OrphanGroups(_ context.Context, _ string) ([]models.OrphanedEventGroup, error) {
	return s.orphans, nil
}

type aggregatorBatchStoreStub struct {
	batches map[string]*models.ImportBatch
}

func (s *aggregatorBatchStoreStub) FindByID(_ context.Context, id string) (*models.ImportBatch, error) {
	if b, ok := s.batches[id]; ok {
		return b, nil
	}
	return nil, sql.ErrNoRows
}

type verifiedMappingListerStub struct {
	mappings []models.IdentityMapping
}

func (s *verifiedMappingListerStub) ListVerified(_ context.Context) ([]models.IdentityMapping, error) {
	return s.mappings, nil
}

type aggregatorStudentStoreStub struct {
	students map[string]*models.Student
	active   []models.Student
}

func (s *aggregatorStudentStoreStub) FindByNIS(_ context.Context, nis string) (*models.Student, error) {
	if st, ok := s.students[nis]; ok {
		return st, nil
	}
	return nil, sql.ErrNoRows
}

func (s *aggregatorStudentStoreStub) ListActive(_ context.Context) ([]models.Student, error) {
	return s.active, nil
}

func newAttendanceServiceForTest(facts *factStoreStub, events *aggregatorEventStoreStub, batches *aggregatorBatchStoreStub, mappings *verifiedMappingListerStub, students *aggregatorStudentStoreStub) *AttendanceService {
	cfg := AttendanceConfig{StartTime: "07:00", GraceMinutes: 5, Timezone: "UTC", ConsecutiveAlert: 3}
	return NewAttendanceService(facts, events, batches, mappings, students, nil, cfg, nil, zap.NewNop())
}

func logBatch(id string) *aggregatorBatchStoreStub {
	return &aggregatorBatchStoreStub{batches: map[string]*models.ImportBatch{
		id: {ID: id, Kind: models.BatchKindLogs, Status: models.BatchStatusCompleted},
	}}
}

func TestAttendanceServiceProcessBatchDerivesFacts(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	batchEvents := []models.RawScanEvent{
		{ID: "ev-1", BatchID: "batch-1", DeviceUserID: "du-1", EventTime: day.Add(6*time.Hour + 45*time.Minute)},
		{ID: "ev-2", BatchID: "batch-1", DeviceUserID: "du-1", EventTime: day.Add(13*time.Hour + 30*time.Minute)},
		{ID: "ev-3", BatchID: "batch-1", DeviceUserID: "du-9", EventTime: day.Add(7 * time.Hour)},
	}
	// An earlier overlapping import contributed a still earlier scan; the
	// reduction must pick it up even though it is not in this batch.
	windowEvents := append([]models.RawScanEvent{
		{ID: "ev-0", BatchID: "batch-0", DeviceUserID: "du-1", EventTime: day.Add(6*time.Hour + 30*time.Minute)},
	}, batchEvents...)

	facts := &factStoreStub{}
	events := &aggregatorEventStoreStub{byBatch: batchEvents, window: windowEvents}
	mappings := &verifiedMappingListerStub{mappings: []models.IdentityMapping{
		{DeviceUserID: "du-1", StudentNIS: "2024001", Status: models.MappingStatusVerified},
		{DeviceUserID: "du-2", StudentNIS: "2024002", Status: models.MappingStatusVerified},
	}}
	students := &aggregatorStudentStoreStub{active: []models.Student{
		{NIS: "2024001", Active: true},
		{NIS: "2024002", Active: true},
		{NIS: "2024003", Active: true},
	}}
	svc := newAttendanceServiceForTest(facts, events, logBatch("batch-1"), mappings, students)

	result, err := svc.ProcessBatch(context.Background(), models.ProcessBatchRequest{BatchID: "batch-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FactsUpserted)
	assert.Equal(t, 1, result.AbsentInserted)
	assert.Equal(t, 1, result.OrphanedEvents)
	assert.Equal(t, 0, result.SkippedManual)

	require.Len(t, facts.derived, 1)
	fact := facts.derived[0]
	assert.Equal(t, "2024001", fact.StudentNIS)
	assert.Equal(t, day, fact.Date)
	require.NotNil(t, fact.CheckIn)
	assert.Equal(t, day.Add(6*time.Hour+30*time.Minute), *fact.CheckIn)
	require.NotNil(t, fact.CheckOut)
	assert.Equal(t, day.Add(13*time.Hour+30*time.Minute), *fact.CheckOut)
	assert.Equal(t, models.AttendanceStatusPresent, fact.Status)

	require.Len(t, facts.absents, 1)
	assert.Equal(t, "2024002|2026-03-02", facts.absents[0])
}

func TestAttendanceServiceProcessBatchLateAfterCutoff(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	batchEvents := []models.RawScanEvent{
		{ID: "ev-1", BatchID: "batch-1", DeviceUserID: "du-1", EventTime: day.Add(7*time.Hour + 6*time.Minute)},
	}
	facts := &factStoreStub{}
	events := &aggregatorEventStoreStub{byBatch: batchEvents, window: batchEvents}
	mappings := &verifiedMappingListerStub{mappings: []models.IdentityMapping{
		{DeviceUserID: "du-1", StudentNIS: "2024001", Status: models.MappingStatusVerified},
	}}
	students := &aggregatorStudentStoreStub{active: []models.Student{{NIS: "2024001", Active: true}}}
	svc := newAttendanceServiceForTest(facts, events, logBatch("batch-1"), mappings, students)

	_, err := svc.ProcessBatch(context.Background(), models.ProcessBatchRequest{BatchID: "batch-1"})
	require.NoError(t, err)
	require.Len(t, facts.derived, 1)
	assert.Equal(t, models.AttendanceStatusLate, facts.derived[0].Status)
	assert.Nil(t, facts.derived[0].CheckOut)
}

func TestAttendanceServiceProcessBatchBoundaryIsPresent(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	batchEvents := []models.RawScanEvent{
		{ID: "ev-1", BatchID: "batch-1", DeviceUserID: "du-1", EventTime: day.Add(7*time.Hour + 5*time.Minute)},
	}
	facts := &factStoreStub{}
	events := &aggregatorEventStoreStub{byBatch: batchEvents, window: batchEvents}
	mappings := &verifiedMappingListerStub{mappings: []models.IdentityMapping{
		{DeviceUserID: "du-1", StudentNIS: "2024001", Status: models.MappingStatusVerified},
	}}
	students := &aggregatorStudentStoreStub{active: []models.Student{{NIS: "2024001", Active: true}}}
	svc := newAttendanceServiceForTest(facts, events, logBatch("batch-1"), mappings, students)

	_, err := svc.ProcessBatch(context.Background(), models.ProcessBatchRequest{BatchID: "batch-1"})
	require.NoError(t, err)
	require.Len(t, facts.derived, 1)
	assert.Equal(t, models.AttendanceStatusPresent, facts.derived[0].Status)
}

func TestAttendanceServiceProcessBatchIdempotent(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	batchEvents := []models.RawScanEvent{
		{ID: "ev-1", BatchID: "batch-1", DeviceUserID: "du-1", EventTime: day.Add(6*time.Hour + 50*time.Minute)},
		{ID: "ev-2", BatchID: "batch-1", DeviceUserID: "du-1", EventTime: day.Add(14 * time.Hour)},
	}
	facts := &factStoreStub{}
	events := &aggregatorEventStoreStub{byBatch: batchEvents, window: batchEvents}
	mappings := &verifiedMappingListerStub{mappings: []models.IdentityMapping{
		{DeviceUserID: "du-1", StudentNIS: "2024001", Status: models.MappingStatusVerified},
	}}
	students := &aggregatorStudentStoreStub{active: []models.Student{{NIS: "2024001", Active: true}}}
	svc := newAttendanceServiceForTest(facts, events, logBatch("batch-1"), mappings, students)

	first, err := svc.ProcessBatch(context.Background(), models.ProcessBatchRequest{BatchID: "batch-1"})
	require.NoError(t, err)
	second, err := svc.ProcessBatch(context.Background(), models.ProcessBatchRequest{BatchID: "batch-1"})
	require.NoError(t, err)

	assert.Equal(t, first.FactsUpserted, second.FactsUpserted)
	assert.Equal(t, first.AbsentInserted, second.AbsentInserted)

	require.Len(t, facts.derived, 2)
	a, b := facts.derived[0], facts.derived[1]
	assert.Equal(t, a.StudentNIS, b.StudentNIS)
	assert.Equal(t, a.Date, b.Date)
	assert.Equal(t, a.Status, b.Status)
	require.NotNil(t, a.CheckIn)
	require.NotNil(t, b.CheckIn)
	assert.Equal(t, *a.CheckIn, *b.CheckIn)
	require.NotNil(t, a.CheckOut)
	require.NotNil(t, b.CheckOut)
	assert.Equal(t, *a.CheckOut, *b.CheckOut)
}

func TestAttendanceServiceProcessBatchFollowsVerifiedMapping(t *testing.T) {
	// Device user 195 was verified against NIS 2024099; the derived fact
	// must land on the student, not the device identity.
	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	batchEvents := []models.RawScanEvent{
		{ID: "ev-1", BatchID: "batch-7", DeviceUserID: "195", EventTime: day.Add(6*time.Hour + 55*time.Minute)},
	}
	facts := &factStoreStub{}
	events := &aggregatorEventStoreStub{byBatch: batchEvents, window: batchEvents}
	mappings := &verifiedMappingListerStub{mappings: []models.IdentityMapping{
		{DeviceUserID: "195", StudentNIS: "2024099", Status: models.MappingStatusVerified},
	}}
	students := &aggregatorStudentStoreStub{active: []models.Student{{NIS: "2024099", Active: true}}}
	svc := newAttendanceServiceForTest(facts, events, logBatch("batch-7"), mappings, students)

	result, err := svc.ProcessBatch(context.Background(), models.ProcessBatchRequest{BatchID: "batch-7"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FactsUpserted)
	assert.Equal(t, 0, result.OrphanedEvents)
	require.Len(t, facts.derived, 1)
	assert.Equal(t, "2024099", facts.derived[0].StudentNIS)
	assert.Equal(t, models.AttendanceStatusPresent, facts.derived[0].Status)
}

func TestAttendanceServiceProcessBatchRespectsManual(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	batchEvents := []models.RawScanEvent{
		{ID: "ev-1", BatchID: "batch-1", DeviceUserID: "du-1", EventTime: day.Add(7 * time.Hour)},
	}
	facts := &factStoreStub{manualRows: map[string]bool{"2024001|2026-03-02": true}}
	events := &aggregatorEventStoreStub{byBatch: batchEvents, window: batchEvents}
	mappings := &verifiedMappingListerStub{mappings: []models.IdentityMapping{
		{DeviceUserID: "du-1", StudentNIS: "2024001", Status: models.MappingStatusVerified},
	}}
	students := &aggregatorStudentStoreStub{active: []models.Student{{NIS: "2024001", Active: true}}}
	svc := newAttendanceServiceForTest(facts, events, logBatch("batch-1"), mappings, students)

	result, err := svc.ProcessBatch(context.Background(), models.ProcessBatchRequest{BatchID: "batch-1"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.FactsUpserted)
	assert.Equal(t, 1, result.SkippedManual)
	assert.Equal(t, 0, result.AbsentInserted)
	assert.Empty(t, facts.derived)
}

func TestAttendanceServiceProcessBatchForceOverridesManual(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	batchEvents := []models.RawScanEvent{
		{ID: "ev-1", BatchID: "batch-1", DeviceUserID: "du-1", EventTime: day.Add(7 * time.Hour)},
	}
	facts := &factStoreStub{manualRows: map[string]bool{"2024001|2026-03-02": true}}
	events := &aggregatorEventStoreStub{byBatch: batchEvents, window: batchEvents}
	mappings := &verifiedMappingListerStub{mappings: []models.IdentityMapping{
		{DeviceUserID: "du-1", StudentNIS: "2024001", Status: models.MappingStatusVerified},
	}}
	students := &aggregatorStudentStoreStub{active: []models.Student{{NIS: "2024001", Active: true}}}
	svc := newAttendanceServiceForTest(facts, events, logBatch("batch-1"), mappings, students)

	result, err := svc.ProcessBatch(context.Background(), models.ProcessBatchRequest{BatchID: "batch-1", Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FactsUpserted)
	assert.Equal(t, 0, result.SkippedManual)
	require.Len(t, facts.forced, 1)
	assert.True(t, facts.forced[0])
}

func TestAttendanceServiceProcessBatchNotFound(t *testing.T) {
	svc := newAttendanceServiceForTest(&factStoreStub{}, &aggregatorEventStoreStub{}, &aggregatorBatchStoreStub{}, &verifiedMappingListerStub{}, &aggregatorStudentStoreStub{})

	_, err := svc.ProcessBatch(context.Background(), models.ProcessBatchRequest{BatchID: "missing"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAttendanceServiceProcessBatchWrongKind(t *testing.T) {
	batches := &aggregatorBatchStoreStub{batches: map[string]*models.ImportBatch{
		"batch-1": {ID: "batch-1", Kind: models.BatchKindUsers, Status: models.BatchStatusCompleted},
	}}
	svc := newAttendanceServiceForTest(&factStoreStub{}, &aggregatorEventStoreStub{}, batches, &verifiedMappingListerStub{}, &aggregatorStudentStoreStub{})

	_, err := svc.ProcessBatch(context.Background(), models.ProcessBatchRequest{BatchID: "batch-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAttendanceServiceProcessBatchRolledBack(t *testing.T) {
	batches := &aggregatorBatchStoreStub{batches: map[string]*models.ImportBatch{
		"batch-1": {ID: "batch-1", Kind: models.BatchKindLogs, Status: models.BatchStatusRolledBack},
	}}
	svc := newAttendanceServiceForTest(&factStoreStub{}, &aggregatorEventStoreStub{}, batches, &verifiedMappingListerStub{}, &aggregatorStudentStoreStub{})

	_, err := svc.ProcessBatch(context.Background(), models.ProcessBatchRequest{BatchID: "batch-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAttendanceServiceRecordManual(t *testing.T) {
	facts := &factStoreStub{}
	students := &aggregatorStudentStoreStub{students: map[string]*models.Student{
		"2024001": {NIS: "2024001", FullName: "Ahmad Fauzi", Active: true},
	}}
	svc := newAttendanceServiceForTest(facts, &aggregatorEventStoreStub{}, &aggregatorBatchStoreStub{}, &verifiedMappingListerStub{}, students)

	req := models.ManualAttendanceRequest{
		StudentNIS: "2024001",
		Date:       time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Status:     models.AttendanceStatusSick,
	}
	fact, err := svc.RecordManual(context.Background(), req, "operator1")
	require.NoError(t, err)
	assert.True(t, fact.Manual)
	assert.Equal(t, models.AttendanceStatusSick, fact.Status)
	require.NotNil(t, fact.RecordedBy)
	assert.Equal(t, "operator1", *fact.RecordedBy)
	require.Len(t, facts.manuals, 1)
}

func TestAttendanceServiceRecordManualUnknownStudent(t *testing.T) {
	svc := newAttendanceServiceForTest(&factStoreStub{}, &aggregatorEventStoreStub{}, &aggregatorBatchStoreStub{}, &verifiedMappingListerStub{}, &aggregatorStudentStoreStub{})

	req := models.ManualAttendanceRequest{
		StudentNIS: "2024099",
		Date:       time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Status:     models.AttendanceStatusAbsent,
	}
	_, err := svc.RecordManual(context.Background(), req, "operator1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAttendanceServiceRecordManualInvalidStatus(t *testing.T) {
	students := &aggregatorStudentStoreStub{students: map[string]*models.Student{
		"2024001": {NIS: "2024001", Active: true},
	}}
	svc := newAttendanceServiceForTest(&factStoreStub{}, &aggregatorEventStoreStub{}, &aggregatorBatchStoreStub{}, &verifiedMappingListerStub{}, students)

	req := models.ManualAttendanceRequest{
		StudentNIS: "2024001",
		Date:       time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Status:     models.AttendanceStatus("Bolos"),
	}
	_, err := svc.RecordManual(context.Background(), req, "operator1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAttendanceServiceStudentHistoryPatterns(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC) }
	history := []models.DailyAttendanceFact{
		{StudentNIS: "2024001", Date: day(2), Status: models.AttendanceStatusPresent},
		{StudentNIS: "2024001", Date: day(3), Status: models.AttendanceStatusAbsent},
		{StudentNIS: "2024001", Date: day(4), Status: models.AttendanceStatusAbsent},
		{StudentNIS: "2024001", Date: day(5), Status: models.AttendanceStatusSick},
		{StudentNIS: "2024001", Date: day(6), Status: models.AttendanceStatusPresent},
		{StudentNIS: "2024001", Date: day(9), Status: models.AttendanceStatusAbsent},
		{StudentNIS: "2024001", Date: day(10), Status: models.AttendanceStatusAbsent},
	}
	facts := &factStoreStub{byStudent: history}
	students := &aggregatorStudentStoreStub{students: map[string]*models.Student{
		"2024001": {NIS: "2024001", Active: true},
	}}
	svc := newAttendanceServiceForTest(facts, &aggregatorEventStoreStub{}, &aggregatorBatchStoreStub{}, &verifiedMappingListerStub{}, students)

	result, err := svc.StudentHistory(context.Background(), "2024001", day(1), day(31))
	require.NoError(t, err)
	assert.Len(t, result.Records, 7)
	assert.Equal(t, 2, result.Summary.Present)
	assert.Equal(t, 4, result.Summary.Absent)
	assert.Equal(t, 1, result.Summary.Sick)
	assert.InDelta(t, 28.6, result.Summary.Percent, 0.01)

	require.Len(t, result.Patterns, 1)
	assert.Equal(t, day(3), result.Patterns[0].Start)
	assert.Equal(t, day(5), result.Patterns[0].End)
	assert.Equal(t, 3, result.Patterns[0].Length)
}

func TestAttendanceServiceSummaryEmpty(t *testing.T) {
	students := &aggregatorStudentStoreStub{students: map[string]*models.Student{
		"2024001": {NIS: "2024001", Active: true},
	}}
	svc := newAttendanceServiceForTest(&factStoreStub{}, &aggregatorEventStoreStub{}, &aggregatorBatchStoreStub{}, &verifiedMappingListerStub{}, students)

	summary, err := svc.Summary(context.Background(), "2024001", time.Now().AddDate(0, -1, 0), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total)
	assert.Equal(t, 0.0, summary.Percent)
}

func TestAttendanceServiceOrphanedEvents(t *testing.T) {
	events := &aggregatorEventStoreStub{orphans: []models.OrphanedEventGroup{
		{DeviceUserID: "du-9", DisplayName: "Guru Tamu", DeviceCode: "FP-GERBANG-1", Events: 6},
		{DeviceUserID: "du-8", DisplayName: "Satpam", DeviceCode: "FP-GERBANG-1", Events: 2},
	}}
	svc := newAttendanceServiceForTest(&factStoreStub{}, events, logBatch("batch-1"), &verifiedMappingListerStub{}, &aggregatorStudentStoreStub{})

	report, err := svc.OrphanedEvents(context.Background(), "batch-1")
	require.NoError(t, err)
	assert.Equal(t, 8, report.Total)
	assert.Len(t, report.Groups, 2)
}
