package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-ews-api/internal/models"
)

// RiskRepository stores risk assessments as an append-only history.
type RiskRepository struct {
	db *sqlx.DB
}

// NewRiskRepository constructs a RiskRepository.
func NewRiskRepository(db *sqlx.DB) *RiskRepository {
	return &RiskRepository{db: db}
}

// Insert appends one assessment.
func (r *RiskRepository) Insert(ctx context.Context, assessment *models.RiskAssessment) error {
	if assessment.ID == "" {
		assessment.ID = uuid.NewString()
	}
	if assessment.AssessedAt.IsZero() {
		assessment.AssessedAt = time.Now().UTC()
	}
	const query = `INSERT INTO risk_assessments
        (id, student_nis, tier, level, probability, method, rule_reason, factors, explanation, assessed_at)
        VALUES (:id, :student_nis, :tier, :level, :probability, :method, :rule_reason, :factors, :explanation, :assessed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, assessment); err != nil {
		return fmt.Errorf("insert risk assessment: %w", err)
	}
	return nil
}

// ListByStudent returns the student's most recent assessments.
func (r *RiskRepository) ListByStudent(ctx context.Context, studentNIS string, limit int) ([]models.RiskAssessment, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	const query = `SELECT id, student_nis, tier, level, probability, method, rule_reason, factors, explanation, assessed_at
        FROM risk_assessments
        WHERE student_nis = $1
        ORDER BY assessed_at DESC
        LIMIT $2`
	var assessments []models.RiskAssessment
	if err := r.db.SelectContext(ctx, &assessments, query, studentNIS, limit); err != nil {
		return nil, fmt.Errorf("list risk assessments: %w", err)
	}
	return assessments, nil
}
