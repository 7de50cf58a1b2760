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

type deviceRepositoryStub struct {
	devices    map[string]*models.Device
	registered []models.Device
	upserted   []models.DeviceUser
	existing   map[string]bool
	upsertErr  map[string]error
	synced     []string
}

func newDeviceRepositoryStub() *deviceRepositoryStub {
	return &deviceRepositoryStub{
		devices:   map[string]*models.Device{},
		existing:  map[string]bool{},
		upsertErr: map[string]error{},
	}
}

func (s *deviceRepositoryStub) List(_ context.Context) ([]models.Device, error) {
	out := make([]models.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, *d)
	}
	return out, nil
}

func (s *deviceRepositoryStub) FindByCode(_ context.Context, code string) (*models.Device, error) {
	if device, ok := s.devices[code]; ok {
		return device, nil
	}
	return nil, sql.ErrNoRows
}

func (s *deviceRepositoryStub) Register(_ context.Context, device *models.Device) error {
	device.ID = "dev-" + device.Code
	s.devices[device.Code] = device
	s.registered = append(s.registered, *device)
	return nil
}

func (s *deviceRepositoryStub) TouchSync(_ context.Context, id string, _ time.Time) error {
	s.synced = append(s.synced, id)
	return nil
}

func (s *deviceRepositoryStub) UpsertUser(_ context.Context, user *models.DeviceUser) (bool, error) {
	if err := s.upsertErr[user.DeviceUserID]; err != nil {
		return false, err
	}
	s.upserted = append(s.upserted, *user)
	return !s.existing[user.DeviceUserID], nil
}

func (s *deviceRepositoryStub) ListUsers(_ context.Context, _ models.DeviceUserFilter) ([]models.DeviceUser, int, error) {
	return s.upserted, len(s.upserted), nil
}

type deviceBatchRepositoryStub struct {
	created      int
	finishStatus models.BatchStatus
	finishCount  int
	finishLog    models.ErrorLog
}

func (s *deviceBatchRepositoryStub) Create(_ context.Context, batch *models.ImportBatch) error {
	s.created++
	batch.ID = "batch-1"
	return nil
}

func (s *deviceBatchRepositoryStub) Finish(_ context.Context, _ string, status models.BatchStatus, records int, errorLog models.ErrorLog) error {
	s.finishStatus = status
	s.finishCount = records
	s.finishLog = errorLog
	return nil
}

func newDeviceServiceForTest() (*DeviceService, *deviceRepositoryStub, *deviceBatchRepositoryStub) {
	devices := newDeviceRepositoryStub()
	batches := &deviceBatchRepositoryStub{}
	svc := NewDeviceService(devices, batches, nil, "", nil, zap.NewNop())
	return svc, devices, batches
}

func TestDeviceServiceSyncUsersRegistersUnknownDevice(t *testing.T) {
	svc, devices, batches := newDeviceServiceForTest()

	result, err := svc.SyncUsers(context.Background(), "FP-GERBANG-01", models.DeviceUserSyncRequest{
		SourceFile: "users_gerbang.dat",
		Rows: []models.DeviceUserRow{
			{DeviceUserID: "101", DisplayName: "AHMAD FAUZI", Department: "SISWA"},
			{DeviceUserID: "102", DisplayName: "SITI RAHAYU", Department: "Siswa"},
			{DeviceUserID: "901", DisplayName: "BUDI SANTOSO", Department: "GURU"},
		},
	})
	require.NoError(t, err)

	require.Len(t, devices.registered, 1)
	assert.Equal(t, "FP-GERBANG-01", devices.registered[0].Code)

	assert.Equal(t, "batch-1", result.BatchID)
	assert.Equal(t, 3, result.Created)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 2, result.Students, "department match must be case insensitive")
	assert.Equal(t, 1, result.Others)
	assert.Equal(t, 0, result.Rejected)

	assert.Equal(t, models.BatchStatusCompleted, batches.finishStatus)
	assert.Equal(t, 3, batches.finishCount)
	assert.Equal(t, []string{"dev-FP-GERBANG-01"}, devices.synced)
}

func TestDeviceServiceSyncUsersUpdatesExisting(t *testing.T) {
	svc, devices, _ := newDeviceServiceForTest()
	devices.devices["FP-GERBANG-01"] = &models.Device{ID: "dev-1", Code: "FP-GERBANG-01"}
	devices.existing["101"] = true

	result, err := svc.SyncUsers(context.Background(), "FP-GERBANG-01", models.DeviceUserSyncRequest{
		Rows: []models.DeviceUserRow{
			{DeviceUserID: "101", DisplayName: "AHMAD FAUZI", Department: "SISWA"},
			{DeviceUserID: "102", DisplayName: "SITI RAHAYU", Department: "SISWA"},
		},
	})
	require.NoError(t, err)

	assert.Empty(t, devices.registered)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Updated)
	require.Len(t, devices.upserted, 2)
	assert.Equal(t, "dev-1", devices.upserted[0].DeviceID)
}

func TestDeviceServiceSyncUsersToleratesBadRows(t *testing.T) {
	svc, devices, batches := newDeviceServiceForTest()
	devices.upsertErr["103"] = sql.ErrConnDone

	result, err := svc.SyncUsers(context.Background(), "FP-GERBANG-01", models.DeviceUserSyncRequest{
		Rows: []models.DeviceUserRow{
			{DeviceUserID: "101", DisplayName: "AHMAD FAUZI", Department: "SISWA"},
			{DeviceUserID: "", DisplayName: "TANPA ID", Department: "SISWA"},
			{DeviceUserID: "103", DisplayName: "GAGAL SIMPAN", Department: "SISWA"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 2, result.Rejected)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "Row 2:")
	assert.Contains(t, result.Errors[1], "Row 3:")

	assert.Equal(t, models.BatchStatusCompletedWithErrors, batches.finishStatus)
	assert.Equal(t, 1, batches.finishCount)
}

func TestDeviceServiceSyncUsersValidation(t *testing.T) {
	svc, _, batches := newDeviceServiceForTest()

	_, err := svc.SyncUsers(context.Background(), "", models.DeviceUserSyncRequest{
		Rows: []models.DeviceUserRow{{DeviceUserID: "101", DisplayName: "AHMAD"}},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.SyncUsers(context.Background(), "FP-GERBANG-01", models.DeviceUserSyncRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, batches.created, "invalid requests must not open a batch")
}

func TestDeviceServiceListUsersPagination(t *testing.T) {
	svc, devices, _ := newDeviceServiceForTest()
	devices.upserted = []models.DeviceUser{{ID: "u-1"}, {ID: "u-2"}}

	users, pagination, err := svc.ListUsers(context.Background(), models.DeviceUserFilter{})
	require.NoError(t, err)

	assert.Len(t, users, 2)
	require.NotNil(t, pagination)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 50, pagination.PageSize)
	assert.Equal(t, 2, pagination.TotalCount)
}
