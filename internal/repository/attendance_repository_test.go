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

func newAttendanceRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
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

func TestAttendanceRepositoryUpsertDerived(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	date := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	checkIn := date.Add(7 * time.Hour)
	rows := sqlmock.NewRows([]string{"id", "student_nis", "date", "check_in", "check_out", "status", "notes", "recorded_by", "manual", "created_at", "updated_at"}).
		AddRow("fact-1", "2024001", date, &checkIn, nil, "Present", nil, nil, false, time.Now(), time.Now())
	mock.ExpectQuery("INSERT INTO daily_attendance_facts").
		WillReturnRows(rows)

	fact := &models.DailyAttendanceFact{StudentNIS: "2024001", Date: date, CheckIn: &checkIn, Status: models.AttendanceStatusPresent}
	stored, skipped, err := repo.UpsertDerived(context.Background(), fact, false)
	require.NoError(t, err)
	assert.False(t, skipped)
	require.NotNil(t, stored)
	assert.Equal(t, models.AttendanceStatusPresent, stored.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryUpsertDerivedSkipsManualRow(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	rows := sqlmock.NewRows([]string{"id", "student_nis", "date", "check_in", "check_out", "status", "notes", "recorded_by", "manual", "created_at", "updated_at"})
	mock.ExpectQuery("INSERT INTO daily_attendance_facts").
		WillReturnRows(rows)

	date := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	fact := &models.DailyAttendanceFact{StudentNIS: "2024001", Date: date, Status: models.AttendanceStatusLate}
	stored, skipped, err := repo.UpsertDerived(context.Background(), fact, false)
	require.NoError(t, err)
	assert.True(t, skipped)
	assert.Nil(t, stored)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryInsertAbsentIfMissing(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	date := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO daily_attendance_facts").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("fact-2"))
	created, err := repo.InsertAbsentIfMissing(context.Background(), "2024001", date)
	require.NoError(t, err)
	assert.True(t, created)

	mock.ExpectQuery("INSERT INTO daily_attendance_facts").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	created, err = repo.InsertAbsentIfMissing(context.Background(), "2024001", date)
	require.NoError(t, err)
	assert.False(t, created)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryListByStudent(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "student_nis", "date", "check_in", "check_out", "status", "notes", "recorded_by", "manual", "created_at", "updated_at"}).
		AddRow("fact-1", "2024001", from, nil, nil, "Absent", nil, nil, false, time.Now(), time.Now()).
		AddRow("fact-2", "2024001", from.AddDate(0, 0, 1), nil, nil, "Present", nil, nil, false, time.Now(), time.Now())
	mock.ExpectQuery("FROM daily_attendance_facts").
		WithArgs("2024001", from, to).
		WillReturnRows(rows)

	facts, err := repo.ListByStudent(context.Background(), "2024001", from, to)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, models.AttendanceStatusAbsent, facts[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryListRangeWithClass(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	classID := "X-IPA-1"
	rows := sqlmock.NewRows([]string{"id", "student_nis", "date", "check_in", "check_out", "status", "notes", "recorded_by", "manual", "created_at", "updated_at"}).
		AddRow("fact-1", "2024001", from, nil, nil, "Present", nil, nil, false, time.Now(), time.Now())
	mock.ExpectQuery("FROM daily_attendance_facts f").
		WithArgs(from, to, classID).
		WillReturnRows(rows)

	facts, err := repo.ListRange(context.Background(), from, to, &classID)
	require.NoError(t, err)
	assert.Len(t, facts, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
