package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-ews-api/internal/models"
)

// AttendanceRepository persists daily attendance facts. Derived writes respect
// the manual flag; manual writes always win.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs an AttendanceRepository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// UpsertDerived writes one aggregated fact. An existing manual row is left
// untouched unless force is set; the second return value reports that skip.
func (r *AttendanceRepository) UpsertDerived(ctx context.Context, fact *models.DailyAttendanceFact, force bool) (*models.DailyAttendanceFact, bool, error) {
	now := time.Now().UTC()
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	const query = `INSERT INTO daily_attendance_facts
        (id, student_nis, date, check_in, check_out, status, notes, recorded_by, manual, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $9)
        ON CONFLICT (student_nis, date) DO UPDATE SET
            check_in = EXCLUDED.check_in,
            check_out = EXCLUDED.check_out,
            status = EXCLUDED.status,
            manual = FALSE,
            updated_at = EXCLUDED.updated_at
        WHERE daily_attendance_facts.manual = FALSE OR $10
        RETURNING id, student_nis, date, check_in, check_out, status, notes, recorded_by, manual, created_at, updated_at`

	var stored models.DailyAttendanceFact
	err := r.db.GetContext(ctx, &stored, query,
		fact.ID, fact.StudentNIS, fact.Date, fact.CheckIn, fact.CheckOut,
		fact.Status, fact.Notes, fact.RecordedBy, now, force)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("upsert derived fact: %w", err)
	}
	return &stored, false, nil
}

// UpsertManual writes an operator override, replacing whatever is there.
func (r *AttendanceRepository) UpsertManual(ctx context.Context, fact *models.DailyAttendanceFact) error {
	now := time.Now().UTC()
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	const query = `INSERT INTO daily_attendance_facts
        (id, student_nis, date, check_in, check_out, status, notes, recorded_by, manual, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9, $9)
        ON CONFLICT (student_nis, date) DO UPDATE SET
            check_in = EXCLUDED.check_in,
            check_out = EXCLUDED.check_out,
            status = EXCLUDED.status,
            notes = EXCLUDED.notes,
            recorded_by = EXCLUDED.recorded_by,
            manual = TRUE,
            updated_at = EXCLUDED.updated_at
        RETURNING id, student_nis, date, check_in, check_out, status, notes, recorded_by, manual, created_at, updated_at`

	var stored models.DailyAttendanceFact
	if err := r.db.GetContext(ctx, &stored, query,
		fact.ID, fact.StudentNIS, fact.Date, fact.CheckIn, fact.CheckOut,
		fact.Status, fact.Notes, fact.RecordedBy, now); err != nil {
		return fmt.Errorf("upsert manual fact: %w", err)
	}
	*fact = stored
	return nil
}

// InsertAbsentIfMissing backfills an Absent fact for a student-day that has no
// row yet. Returns true when a row was actually created.
func (r *AttendanceRepository) InsertAbsentIfMissing(ctx context.Context, studentNIS string, date time.Time) (bool, error) {
	now := time.Now().UTC()
	const query = `INSERT INTO daily_attendance_facts
        (id, student_nis, date, status, manual, created_at, updated_at)
        VALUES ($1, $2, $3, $4, FALSE, $5, $5)
        ON CONFLICT (student_nis, date) DO NOTHING
        RETURNING id`

	var id string
	err := r.db.GetContext(ctx, &id, query, uuid.NewString(), studentNIS, date, models.AttendanceStatusAbsent, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("insert absent fact: %w", err)
	}
	return true, nil
}

// List returns facts matching the filter, newest date first.
func (r *AttendanceRepository) List(ctx context.Context, filter models.DailyAttendanceFilter) ([]models.DailyAttendanceFact, int, error) {
	base := "FROM daily_attendance_facts f"
	if filter.ClassID != "" {
		base += " JOIN students s ON s.nis = f.student_nis"
	}
	args := []interface{}{}
	conditions := []string{"1=1"}

	if filter.StudentNIS != "" {
		conditions = append(conditions, fmt.Sprintf("f.student_nis = $%d", len(args)+1))
		args = append(args, filter.StudentNIS)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("s.class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("f.status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("f.date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("f.date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	if filter.Manual != nil {
		conditions = append(conditions, fmt.Sprintf("f.manual = $%d", len(args)+1))
		args = append(args, *filter.Manual)
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT f.id, f.student_nis, f.date, f.check_in, f.check_out, f.status,
        f.notes, f.recorded_by, f.manual, f.created_at, f.updated_at
        %s ORDER BY f.date DESC, f.student_nis ASC LIMIT %d OFFSET %d`, base, size, offset)

	var facts []models.DailyAttendanceFact
	if err := r.db.SelectContext(ctx, &facts, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list facts: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count facts: %w", err)
	}
	return facts, total, nil
}

// ListByStudent returns one student's facts inside [from, to], oldest first.
func (r *AttendanceRepository) ListByStudent(ctx context.Context, studentNIS string, from, to time.Time) ([]models.DailyAttendanceFact, error) {
	const query = `SELECT id, student_nis, date, check_in, check_out, status, notes, recorded_by, manual, created_at, updated_at
        FROM daily_attendance_facts
        WHERE student_nis = $1 AND date >= $2 AND date <= $3
        ORDER BY date ASC`
	var facts []models.DailyAttendanceFact
	if err := r.db.SelectContext(ctx, &facts, query, studentNIS, from, to); err != nil {
		return nil, fmt.Errorf("list student facts: %w", err)
	}
	return facts, nil
}

// ListRange returns all facts inside [from, to], optionally limited to one
// class, oldest first. Feature computation walks this per cohort.
func (r *AttendanceRepository) ListRange(ctx context.Context, from, to time.Time, classID *string) ([]models.DailyAttendanceFact, error) {
	query := `SELECT f.id, f.student_nis, f.date, f.check_in, f.check_out, f.status,
        f.notes, f.recorded_by, f.manual, f.created_at, f.updated_at
        FROM daily_attendance_facts f
        WHERE f.date >= $1 AND f.date <= $2`
	args := []interface{}{from, to}
	if classID != nil {
		query += " AND EXISTS (SELECT 1 FROM students s WHERE s.nis = f.student_nis AND s.class_id = $3)"
		args = append(args, *classID)
	}
	query += " ORDER BY f.date ASC, f.student_nis ASC"

	var facts []models.DailyAttendanceFact
	if err := r.db.SelectContext(ctx, &facts, query, args...); err != nil {
		return nil, fmt.Errorf("list facts range: %w", err)
	}
	return facts, nil
}
