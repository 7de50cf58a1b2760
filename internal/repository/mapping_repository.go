package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-ews-api/internal/models"
)

// MappingRepository persists identity mappings between device users and
// registry students.
type MappingRepository struct {
	db *sqlx.DB
}

// NewMappingRepository constructs a MappingRepository.
func NewMappingRepository(db *sqlx.DB) *MappingRepository {
	return &MappingRepository{db: db}
}

// Create inserts a new mapping row.
func (r *MappingRepository) Create(ctx context.Context, mapping *models.IdentityMapping) error {
	now := time.Now().UTC()
	if mapping.ID == "" {
		mapping.ID = uuid.NewString()
	}
	if mapping.CreatedAt.IsZero() {
		mapping.CreatedAt = now
	}
	mapping.UpdatedAt = now
	const query = `INSERT INTO identity_mappings (id, device_user_id, student_nis, similarity, status, verified_by, verified_at, created_at, updated_at)
        VALUES (:id, :device_user_id, :student_nis, :similarity, :status, :verified_by, :verified_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, mapping); err != nil {
		return fmt.Errorf("create mapping: %w", err)
	}
	return nil
}

// FindByID fetches one mapping row.
func (r *MappingRepository) FindByID(ctx context.Context, id string) (*models.IdentityMapping, error) {
	const query = `SELECT id, device_user_id, student_nis, similarity, status, verified_by, verified_at, created_at, updated_at
        FROM identity_mappings WHERE id = $1`
	var mapping models.IdentityMapping
	if err := r.db.GetContext(ctx, &mapping, query, id); err != nil {
		return nil, err
	}
	return &mapping, nil
}

// FindActiveByDeviceUser returns the pending or verified mapping for a
// device user, if any.
func (r *MappingRepository) FindActiveByDeviceUser(ctx context.Context, deviceUserID string) (*models.IdentityMapping, error) {
	const query = `SELECT id, device_user_id, student_nis, similarity, status, verified_by, verified_at, created_at, updated_at
        FROM identity_mappings WHERE device_user_id = $1 AND status <> 'rejected' LIMIT 1`
	var mapping models.IdentityMapping
	if err := r.db.GetContext(ctx, &mapping, query, deviceUserID); err != nil {
		return nil, err
	}
	return &mapping, nil
}

// FindVerifiedByStudent returns the verified mapping that already claims a
// student, if any.
func (r *MappingRepository) FindVerifiedByStudent(ctx context.Context, nis string) (*models.IdentityMapping, error) {
	const query = `SELECT id, device_user_id, student_nis, similarity, status, verified_by, verified_at, created_at, updated_at
        FROM identity_mappings WHERE student_nis = $1 AND status = 'verified' LIMIT 1`
	var mapping models.IdentityMapping
	if err := r.db.GetContext(ctx, &mapping, query, nis); err != nil {
		return nil, err
	}
	return &mapping, nil
}

// ListByStatus returns mappings in one state joined with device and student
// context, newest first.
func (r *MappingRepository) ListByStatus(ctx context.Context, status models.MappingStatus, page, pageSize int) ([]models.MappingDetail, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf(`SELECT m.id, m.device_user_id, m.student_nis, m.similarity, m.status, m.verified_by, m.verified_at, m.created_at, m.updated_at,
        du.display_name AS device_user_name, d.code AS device_code, s.full_name AS student_name
        FROM identity_mappings m
        JOIN device_users du ON du.id = m.device_user_id
        JOIN devices d ON d.id = du.device_id
        JOIN students s ON s.nis = m.student_nis
        WHERE m.status = $1
        ORDER BY m.created_at DESC
        LIMIT %d OFFSET %d`, pageSize, offset)

	var details []models.MappingDetail
	if err := r.db.SelectContext(ctx, &details, query, status); err != nil {
		return nil, 0, fmt.Errorf("list mappings by status: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM identity_mappings WHERE status = $1", status); err != nil {
		return nil, 0, fmt.Errorf("count mappings by status: %w", err)
	}
	return details, total, nil
}

// ListVerified returns all verified mappings, the resolver output consumed
// by the aggregator.
func (r *MappingRepository) ListVerified(ctx context.Context) ([]models.IdentityMapping, error) {
	const query = `SELECT id, device_user_id, student_nis, similarity, status, verified_by, verified_at, created_at, updated_at
        FROM identity_mappings WHERE status = 'verified'`
	var mappings []models.IdentityMapping
	if err := r.db.SelectContext(ctx, &mappings, query); err != nil {
		return nil, fmt.Errorf("list verified mappings: %w", err)
	}
	return mappings, nil
}

// UpdateStatus records a verification decision.
func (r *MappingRepository) UpdateStatus(ctx context.Context, id string, status models.MappingStatus, verifiedBy string) (*models.IdentityMapping, error) {
	const query = `UPDATE identity_mappings
        SET status = $2, verified_by = $3, verified_at = $4, updated_at = $4
        WHERE id = $1
        RETURNING id, device_user_id, student_nis, similarity, status, verified_by, verified_at, created_at, updated_at`
	var mapping models.IdentityMapping
	if err := r.db.GetContext(ctx, &mapping, query, id, status, verifiedBy, time.Now().UTC()); err != nil {
		return nil, err
	}
	return &mapping, nil
}

// Delete removes one mapping row.
func (r *MappingRepository) Delete(ctx context.Context, id string) error {
	var deleted string
	if err := r.db.GetContext(ctx, &deleted, "DELETE FROM identity_mappings WHERE id = $1 RETURNING id", id); err != nil {
		return err
	}
	return nil
}

// Stats aggregates mapping counts by status plus the unmapped device users
// in the student department.
func (r *MappingRepository) Stats(ctx context.Context, department string) (*models.MappingStats, error) {
	const query = `SELECT
        COUNT(*) FILTER (WHERE m.status = 'pending') AS pending,
        COUNT(*) FILTER (WHERE m.status = 'verified') AS verified,
        COUNT(*) FILTER (WHERE m.status = 'rejected') AS rejected,
        (SELECT COUNT(*) FROM device_users du
          WHERE du.department = $1
            AND NOT EXISTS (SELECT 1 FROM identity_mappings im WHERE im.device_user_id = du.id AND im.status <> 'rejected')) AS unmapped
        FROM identity_mappings m`
	var stats models.MappingStats
	if err := r.db.GetContext(ctx, &stats, query, department); err != nil {
		return nil, fmt.Errorf("mapping stats: %w", err)
	}
	return &stats, nil
}
