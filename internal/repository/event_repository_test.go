package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-ews-api/internal/models"
)

func newEventRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
		db.Close()
	}
	return sqlxDB, mock, cleanup
}

func TestEventRepositoryBulkInsert(t *testing.T) {
	db, mock, cleanup := newEventRepoMock(t)
	defer cleanup()
	repo := NewEventRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO raw_scan_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO raw_scan_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	events := []models.RawScanEvent{
		{BatchID: "batch-1", DeviceUserID: "du-1", EventTime: time.Now()},
		{BatchID: "batch-1", DeviceUserID: "du-2", EventTime: time.Now()},
	}
	err := repo.BulkInsert(context.Background(), events)
	require.NoError(t, err)
	assert.NotEmpty(t, events[0].ID)
	assert.NotEmpty(t, events[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepositoryBulkInsertEmpty(t *testing.T) {
	db, mock, cleanup := newEventRepoMock(t)
	defer cleanup()
	repo := NewEventRepository(db)

	err := repo.BulkInsert(context.Background(), nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepositoryListWindow(t *testing.T) {
	db, mock, cleanup := newEventRepoMock(t)
	defer cleanup()
	repo := NewEventRepository(db)

	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	rows := sqlmock.NewRows([]string{"id", "batch_id", "device_user_id", "event_time", "created_at"}).
		AddRow("ev-1", "batch-1", "du-1", from.Add(7*time.Hour), time.Now()).
		AddRow("ev-2", "batch-2", "du-1", from.Add(14*time.Hour), time.Now())
	mock.ExpectQuery("FROM raw_scan_events WHERE event_time").
		WithArgs(from, to).
		WillReturnRows(rows)

	events, err := repo.ListWindow(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "batch-2", events[1].BatchID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepositoryOrphanGroups(t *testing.T) {
	db, mock, cleanup := newEventRepoMock(t)
	defer cleanup()
	repo := NewEventRepository(db)

	rows := sqlmock.NewRows([]string{"device_user_id", "display_name", "device_code", "events"}).
		AddRow("du-3", "Guru Tamu", "FP-GERBANG-1", 6).
		AddRow("du-4", "Rina", "FP-GERBANG-1", 2)
	mock.ExpectQuery("FROM raw_scan_events e").
		WithArgs("batch-1").
		WillReturnRows(rows)

	groups, err := repo.OrphanGroups(context.Background(), "batch-1")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "Guru Tamu", groups[0].DisplayName)
	assert.Equal(t, 6, groups[0].Events)
	assert.NoError(t, mock.ExpectationsWereMet())
}
