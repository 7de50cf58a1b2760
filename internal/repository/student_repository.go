package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-ews-api/internal/models"
)

// StudentRepository reads the canonical student registry. Registry rows are
// written by an external system, so this repository has no mutators.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByNIS fetches a student by registry number.
func (r *StudentRepository) FindByNIS(ctx context.Context, nis string) (*models.Student, error) {
	const query = `SELECT id, nis, full_name, class_id, guardian_phone, active, created_at, updated_at
        FROM students WHERE nis = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, nis); err != nil {
		return nil, err
	}
	return &student, nil
}

// ListActive returns every active student, used by the matcher and the
// absence backfill.
func (r *StudentRepository) ListActive(ctx context.Context) ([]models.Student, error) {
	const query = `SELECT id, nis, full_name, class_id, guardian_phone, active, created_at, updated_at
        FROM students WHERE active = true ORDER BY nis ASC`
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query); err != nil {
		return nil, fmt.Errorf("list active students: %w", err)
	}
	return students, nil
}

// ListActiveNIS returns registry numbers of active students, optionally
// scoped to one class.
func (r *StudentRepository) ListActiveNIS(ctx context.Context, classID string) ([]string, error) {
	query := "SELECT nis FROM students WHERE active = true"
	args := []interface{}{}
	if classID != "" {
		query += " AND class_id = $1"
		args = append(args, classID)
	}
	query += " ORDER BY nis ASC"
	var nisList []string
	if err := r.db.SelectContext(ctx, &nisList, query, args...); err != nil {
		return nil, fmt.Errorf("list active nis: %w", err)
	}
	return nisList, nil
}
