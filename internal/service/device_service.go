package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-ews-api/internal/models"
	appErrors "github.com/noah-isme/sma-ews-api/pkg/errors"
)

type deviceRepository interface {
	List(ctx context.Context) ([]models.Device, error)
	FindByCode(ctx context.Context, code string) (*models.Device, error)
	Register(ctx context.Context, device *models.Device) error
	TouchSync(ctx context.Context, id string, at time.Time) error
	UpsertUser(ctx context.Context, user *models.DeviceUser) (bool, error)
	ListUsers(ctx context.Context, filter models.DeviceUserFilter) ([]models.DeviceUser, int, error)
}

type deviceBatchRepository interface {
	Create(ctx context.Context, batch *models.ImportBatch) error
	Finish(ctx context.Context, id string, status models.BatchStatus, records int, errorLog models.ErrorLog) error
}

// DeviceService handles attendance machines and their user rosters.
type DeviceService struct {
	devices           deviceRepository
	batches           deviceBatchRepository
	metrics           *MetricsService
	studentDepartment string
	validator         *validator.Validate
	logger            *zap.Logger
}

// NewDeviceService constructs the device service.
func NewDeviceService(devices deviceRepository, batches deviceBatchRepository, metrics *MetricsService, studentDepartment string, validate *validator.Validate, logger *zap.Logger) *DeviceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if studentDepartment == "" {
		studentDepartment = "SISWA"
	}
	return &DeviceService{
		devices:           devices,
		batches:           batches,
		metrics:           metrics,
		studentDepartment: studentDepartment,
		validator:         validate,
		logger:            logger,
	}
}

// List returns all registered devices.
func (s *DeviceService) List(ctx context.Context) ([]models.Device, error) {
	devices, err := s.devices.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list devices")
	}
	return devices, nil
}

// ListUsers returns device users and pagination metadata.
func (s *DeviceService) ListUsers(ctx context.Context, filter models.DeviceUserFilter) ([]models.DeviceUser, *models.Pagination, error) {
	users, total, err := s.devices.ListUsers(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list device users")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	return users, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// SyncUsers upserts a device's user roster from parsed export rows. Unknown
// device codes are registered on the fly so a new machine can sync before an
// operator fills in its location.
func (s *DeviceService) SyncUsers(ctx context.Context, deviceCode string, req models.DeviceUserSyncRequest) (*models.DeviceUserSyncResult, error) {
	deviceCode = strings.TrimSpace(deviceCode)
	if deviceCode == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "device code is required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid sync payload")
	}

	device, err := s.devices.FindByCode(ctx, deviceCode)
	if err != nil {
		if err != sql.ErrNoRows {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load device")
		}
		device = &models.Device{Code: deviceCode}
		if err := s.devices.Register(ctx, device); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register device")
		}
		s.logger.Info("registered new device", zap.String("code", deviceCode))
	}

	batch := &models.ImportBatch{SourceFile: req.SourceFile, Kind: models.BatchKindUsers}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create import batch")
	}

	result := &models.DeviceUserSyncResult{BatchID: batch.ID, DeviceCode: device.Code}
	var errorLog models.ErrorLog

	for i, row := range req.Rows {
		if err := s.validator.Struct(row); err != nil {
			errorLog = append(errorLog, fmt.Sprintf("Row %d: missing device user id or display name", i+1))
			result.Rejected++
			continue
		}
		user := &models.DeviceUser{
			DeviceID:     device.ID,
			DeviceUserID: strings.TrimSpace(row.DeviceUserID),
			DisplayName:  strings.TrimSpace(row.DisplayName),
			Department:   strings.TrimSpace(row.Department),
		}
		created, err := s.devices.UpsertUser(ctx, user)
		if err != nil {
			s.logger.Error("device user upsert failed",
				zap.String("device", device.Code),
				zap.String("device_user_id", user.DeviceUserID),
				zap.Error(err))
			errorLog = append(errorLog, fmt.Sprintf("Row %d: failed to store user %s", i+1, user.DeviceUserID))
			result.Rejected++
			continue
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
		if strings.EqualFold(user.Department, s.studentDepartment) {
			result.Students++
		} else {
			result.Others++
		}
	}

	status := models.BatchStatusCompleted
	if len(errorLog) > 0 {
		status = models.BatchStatusCompletedWithErrors
	}
	processed := result.Created + result.Updated
	if err := s.batches.Finish(ctx, batch.ID, status, processed, errorLog); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finalize import batch")
	}
	if err := s.devices.TouchSync(ctx, device.ID, time.Now().UTC()); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stamp device sync")
	}

	s.metrics.RecordIngestedRows(models.BatchKindUsers, "accepted", processed)
	s.metrics.RecordIngestedRows(models.BatchKindUsers, "rejected", result.Rejected)
	result.Errors = errorLog

	s.logger.Info("device users synced",
		zap.String("device", device.Code),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("rejected", result.Rejected))
	return result, nil
}
