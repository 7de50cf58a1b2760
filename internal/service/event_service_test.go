package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-ews-api/internal/models"
	appErrors "github.com/noah-isme/sma-ews-api/pkg/errors"
)

type eventBatchStoreStub struct {
	createCalls     int
	createErr       error
	batches         map[string]*models.ImportBatch
	finishStatus    models.BatchStatus
	finishRecords   int
	finishLog       models.ErrorLog
	list            []models.ImportBatch
	rollbackDeleted int64
	rollbackErr     error
}

func (s *eventBatchStoreStub) Create(_ context.Context, batch *models.ImportBatch) error {
	s.createCalls++
	if s.createErr != nil {
		return s.createErr
	}
	if batch.ID == "" {
		batch.ID = "batch-1"
	}
	batch.Status = models.BatchStatusProcessing
	return nil
}

func (s *eventBatchStoreStub) Finish(_ context.Context, _ string, status models.BatchStatus, records int, errorLog models.ErrorLog) error {
	s.finishStatus = status
	s.finishRecords = records
	s.finishLog = errorLog
	return nil
}

func (s *eventBatchStoreStub) FindByID(_ context.Context, id string) (*models.ImportBatch, error) {
	if b, ok := s.batches[id]; ok {
		return b, nil
	}
	return nil, sql.ErrNoRows
}

func (s *eventBatchStoreStub) List(_ context.Context, _ models.BatchFilter) ([]models.ImportBatch, int, error) {
	return s.list, len(s.list), nil
}

func (s *eventBatchStoreStub) Rollback(_ context.Context, _ string) (int64, error) {
	return s.rollbackDeleted, s.rollbackErr
}

type scanEventStoreStub struct {
	inserted  []models.RawScanEvent
	insertErr error
	count     int
}

func (s *scanEventStoreStub) BulkInsert(_ context.Context, events []models.RawScanEvent) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, events...)
	return nil
}

func (s *scanEventStoreStub) CountByBatch(_ context.Context, _ string) (int, error) {
	return s.count, nil
}

type eventDeviceStoreStub struct {
	device *models.Device
	users  []models.DeviceUser
}

func (s *eventDeviceStoreStub) FindByCode(_ context.Context, _ string) (*models.Device, error) {
	if s.device == nil {
		return nil, sql.ErrNoRows
	}
	return s.device, nil
}

func (s *eventDeviceStoreStub) ListUsersByDevice(_ context.Context, _ string) ([]models.DeviceUser, error) {
	return s.users, nil
}

func newEventServiceForTest(batches *eventBatchStoreStub, events *scanEventStoreStub, devices *eventDeviceStoreStub) *EventService {
	return NewEventService(batches, events, devices, nil, nil, zap.NewNop())
}

func TestEventServiceIngestSkipsUnknownUsers(t *testing.T) {
	batches := &eventBatchStoreStub{}
	events := &scanEventStoreStub{}
	devices := &eventDeviceStoreStub{
		device: &models.Device{ID: "dev-1", Code: "FP-GERBANG-1"},
		users: []models.DeviceUser{
			{ID: "uuid-101", DeviceID: "dev-1", DeviceUserID: "101"},
			{ID: "uuid-102", DeviceID: "dev-1", DeviceUserID: "102"},
		},
	}
	svc := newEventServiceForTest(batches, events, devices)

	base := time.Date(2026, 3, 2, 6, 45, 0, 0, time.UTC)
	req := models.IngestBatchRequest{
		SourceFile: "log-2026-03-02.xlsx",
		DeviceCode: "FP-GERBANG-1",
		Rows: []models.ScanEventRow{
			{DeviceUserID: "101", EventTime: base},
			{DeviceUserID: "999", EventTime: base.Add(time.Minute)},
			{DeviceUserID: "102", EventTime: base.Add(2 * time.Minute)},
		},
	}

	result, err := svc.Ingest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "batch-1", result.BatchID)
	assert.Equal(t, models.BatchStatusCompletedWithErrors, result.Status)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 1, result.Rejected)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "999")

	require.Len(t, events.inserted, 2)
	assert.Equal(t, "uuid-101", events.inserted[0].DeviceUserID)
	assert.Equal(t, "uuid-102", events.inserted[1].DeviceUserID)
	assert.Equal(t, models.BatchStatusCompletedWithErrors, batches.finishStatus)
	assert.Equal(t, 2, batches.finishRecords)
}

func TestEventServiceIngestCleanBatchCompletes(t *testing.T) {
	batches := &eventBatchStoreStub{}
	events := &scanEventStoreStub{}
	devices := &eventDeviceStoreStub{
		device: &models.Device{ID: "dev-1", Code: "FP-GERBANG-1"},
		users:  []models.DeviceUser{{ID: "uuid-101", DeviceID: "dev-1", DeviceUserID: "101"}},
	}
	svc := newEventServiceForTest(batches, events, devices)

	req := models.IngestBatchRequest{
		SourceFile: "log.xlsx",
		DeviceCode: "FP-GERBANG-1",
		Rows:       []models.ScanEventRow{{DeviceUserID: "101", EventTime: time.Now()}},
	}
	result, err := svc.Ingest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, result.Status)
	assert.Empty(t, result.Errors)
}

func TestEventServiceIngestUnknownDevice(t *testing.T) {
	batches := &eventBatchStoreStub{}
	svc := newEventServiceForTest(batches, &scanEventStoreStub{}, &eventDeviceStoreStub{})

	req := models.IngestBatchRequest{
		SourceFile: "log.xlsx",
		DeviceCode: "FP-TIDAK-ADA",
		Rows:       []models.ScanEventRow{{DeviceUserID: "101", EventTime: time.Now()}},
	}
	_, err := svc.Ingest(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.BatchStatusFailed, batches.finishStatus)
	require.NotEmpty(t, batches.finishLog)
	assert.Contains(t, batches.finishLog[0], "FP-TIDAK-ADA")
}

func TestEventServiceIngestValidation(t *testing.T) {
	batches := &eventBatchStoreStub{}
	svc := newEventServiceForTest(batches, &scanEventStoreStub{}, &eventDeviceStoreStub{})

	_, err := svc.Ingest(context.Background(), models.IngestBatchRequest{DeviceCode: "FP-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Zero(t, batches.createCalls)
}

func TestEventServiceGetBatchNotFound(t *testing.T) {
	batches := &eventBatchStoreStub{batches: map[string]*models.ImportBatch{}}
	svc := newEventServiceForTest(batches, &scanEventStoreStub{}, &eventDeviceStoreStub{})

	_, err := svc.GetBatch(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEventServiceGetBatchWithEventCount(t *testing.T) {
	batches := &eventBatchStoreStub{batches: map[string]*models.ImportBatch{
		"batch-1": {ID: "batch-1", Kind: models.BatchKindLogs, Status: models.BatchStatusCompleted, Records: 120},
	}}
	events := &scanEventStoreStub{count: 120}
	svc := newEventServiceForTest(batches, events, &eventDeviceStoreStub{})

	detail, err := svc.GetBatch(context.Background(), "batch-1")
	require.NoError(t, err)
	assert.Equal(t, 120, detail.EventCount)
	assert.Equal(t, models.BatchStatusCompleted, detail.Status)
}

func TestEventServiceRollbackAlreadyRolledBack(t *testing.T) {
	batches := &eventBatchStoreStub{batches: map[string]*models.ImportBatch{
		"batch-1": {ID: "batch-1", Status: models.BatchStatusRolledBack},
	}}
	svc := newEventServiceForTest(batches, &scanEventStoreStub{}, &eventDeviceStoreStub{})

	_, err := svc.Rollback(context.Background(), "batch-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestEventServiceRollback(t *testing.T) {
	batches := &eventBatchStoreStub{
		batches:         map[string]*models.ImportBatch{"batch-1": {ID: "batch-1", Status: models.BatchStatusCompleted}},
		rollbackDeleted: 240,
	}
	svc := newEventServiceForTest(batches, &scanEventStoreStub{}, &eventDeviceStoreStub{})

	result, err := svc.Rollback(context.Background(), "batch-1")
	require.NoError(t, err)
	assert.Equal(t, int64(240), result.EventsDeleted)
}
