package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-ews-api/internal/models"
	appErrors "github.com/noah-isme/sma-ews-api/pkg/errors"
)

type eventBatchStore interface {
	Create(ctx context.Context, batch *models.ImportBatch) error
	Finish(ctx context.Context, id string, status models.BatchStatus, records int, errorLog models.ErrorLog) error
	FindByID(ctx context.Context, id string) (*models.ImportBatch, error)
	List(ctx context.Context, filter models.BatchFilter) ([]models.ImportBatch, int, error)
	Rollback(ctx context.Context, id string) (int64, error)
}

type scanEventStore interface {
	BulkInsert(ctx context.Context, events []models.RawScanEvent) error
	CountByBatch(ctx context.Context, batchID string) (int, error)
}

type eventDeviceStore interface {
	FindByCode(ctx context.Context, code string) (*models.Device, error)
	ListUsersByDevice(ctx context.Context, deviceID string) ([]models.DeviceUser, error)
}

// EventService ingests raw scan events as import batches and owns the batch
// lifecycle, including rollback of a bad import.
type EventService struct {
	batches   eventBatchStore
	events    scanEventStore
	devices   eventDeviceStore
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEventService constructs the event service.
func NewEventService(batches eventBatchStore, events scanEventStore, devices eventDeviceStore, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EventService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventService{
		batches:   batches,
		events:    events,
		devices:   devices,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// Ingest stores parsed scan rows as a new import batch. Rows referencing a
// device user the device never synced are logged and skipped; the batch
// still completes. An unknown device fails the whole batch because nothing
// in it could ever resolve.
func (s *EventService) Ingest(ctx context.Context, req models.IngestBatchRequest) (*models.IngestBatchResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "source file, device code and at least one row are required")
	}

	batch := &models.ImportBatch{SourceFile: req.SourceFile, Kind: models.BatchKindLogs}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create import batch")
	}

	device, err := s.devices.FindByCode(ctx, strings.TrimSpace(req.DeviceCode))
	if err != nil {
		if err == sql.ErrNoRows {
			s.failBatch(ctx, batch.ID, fmt.Sprintf("device %s not found; sync its users first", req.DeviceCode))
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("device %s not found; sync its users first", req.DeviceCode))
		}
		s.failBatch(ctx, batch.ID, "failed to load device")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load device")
	}

	roster, err := s.devices.ListUsersByDevice(ctx, device.ID)
	if err != nil {
		s.failBatch(ctx, batch.ID, "failed to load device users")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load device users")
	}
	byDeviceUserID := make(map[string]string, len(roster))
	for _, u := range roster {
		byDeviceUserID[u.DeviceUserID] = u.ID
	}

	var errorLog models.ErrorLog
	events := make([]models.RawScanEvent, 0, len(req.Rows))
	for i, row := range req.Rows {
		if err := s.validator.Struct(row); err != nil {
			errorLog = append(errorLog, fmt.Sprintf("Row %d: missing device user id or event time", i+1))
			continue
		}
		internalID, ok := byDeviceUserID[strings.TrimSpace(row.DeviceUserID)]
		if !ok {
			errorLog = append(errorLog, fmt.Sprintf("Row %d: user %s not found on device %s", i+1, row.DeviceUserID, device.Code))
			continue
		}
		events = append(events, models.RawScanEvent{
			BatchID:      batch.ID,
			DeviceUserID: internalID,
			EventTime:    row.EventTime.UTC(),
		})
	}

	if err := s.events.BulkInsert(ctx, events); err != nil {
		s.failBatch(ctx, batch.ID, "failed to store scan events")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store scan events")
	}

	status := models.BatchStatusCompleted
	if len(errorLog) > 0 {
		status = models.BatchStatusCompletedWithErrors
	}
	if err := s.batches.Finish(ctx, batch.ID, status, len(events), errorLog); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finalize import batch")
	}

	rejected := len(req.Rows) - len(events)
	s.metrics.RecordIngestedRows(models.BatchKindLogs, "accepted", len(events))
	s.metrics.RecordIngestedRows(models.BatchKindLogs, "rejected", rejected)

	s.logger.Info("scan events ingested",
		zap.String("batch_id", batch.ID),
		zap.String("device", device.Code),
		zap.Int("inserted", len(events)),
		zap.Int("rejected", rejected))
	return &models.IngestBatchResult{
		BatchID:  batch.ID,
		Status:   status,
		Inserted: len(events),
		Rejected: rejected,
		Errors:   errorLog,
	}, nil
}

func (s *EventService) failBatch(ctx context.Context, id, reason string) {
	if err := s.batches.Finish(ctx, id, models.BatchStatusFailed, 0, models.ErrorLog{reason}); err != nil {
		s.logger.Error("failed to mark batch failed", zap.String("batch_id", id), zap.Error(err))
	}
}

// ListBatches returns import batches matching the filter.
func (s *EventService) ListBatches(ctx context.Context, filter models.BatchFilter) ([]models.ImportBatch, *models.Pagination, error) {
	batches, total, err := s.batches.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list batches")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return batches, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// GetBatch returns one batch together with its surviving event count.
func (s *EventService) GetBatch(ctx context.Context, id string) (*models.BatchDetail, error) {
	batch, err := s.batches.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	count, err := s.events.CountByBatch(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count batch events")
	}
	return &models.BatchDetail{ImportBatch: *batch, EventCount: count}, nil
}

// Rollback deletes a batch's events and marks the batch rolled back. Facts
// already derived from those events stay until the affected dates are
// re-processed.
func (s *EventService) Rollback(ctx context.Context, id string) (*models.RollbackResult, error) {
	batch, err := s.batches.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	if batch.Status == models.BatchStatusRolledBack {
		return nil, appErrors.Clone(appErrors.ErrConflict, "batch is already rolled back")
	}

	deleted, err := s.batches.Rollback(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to roll back batch")
	}

	s.logger.Info("batch rolled back",
		zap.String("batch_id", id),
		zap.Int64("events_deleted", deleted))
	return &models.RollbackResult{BatchID: id, EventsDeleted: deleted}, nil
}
