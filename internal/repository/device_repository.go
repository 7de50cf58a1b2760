package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-ews-api/internal/models"
)

// DeviceRepository manages attendance machines and their device-local users.
type DeviceRepository struct {
	db *sqlx.DB
}

// NewDeviceRepository constructs a DeviceRepository.
func NewDeviceRepository(db *sqlx.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// List returns all registered devices.
func (r *DeviceRepository) List(ctx context.Context) ([]models.Device, error) {
	const query = `SELECT id, code, location, last_synced_at, created_at, updated_at
        FROM devices ORDER BY code ASC`
	var devices []models.Device
	if err := r.db.SelectContext(ctx, &devices, query); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

// Register inserts a new device row.
func (r *DeviceRepository) Register(ctx context.Context, device *models.Device) error {
	now := time.Now().UTC()
	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	device.CreatedAt = now
	device.UpdatedAt = now
	const query = `INSERT INTO devices (id, code, location, last_synced_at, created_at, updated_at)
        VALUES (:id, :code, :location, :last_synced_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, device); err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	return nil
}

// FindByCode fetches a device by its unique code.
func (r *DeviceRepository) FindByCode(ctx context.Context, code string) (*models.Device, error) {
	const query = `SELECT id, code, location, last_synced_at, created_at, updated_at
        FROM devices WHERE code = $1`
	var device models.Device
	if err := r.db.GetContext(ctx, &device, query, code); err != nil {
		return nil, err
	}
	return &device, nil
}

// TouchSync stamps the device's last successful sync.
func (r *DeviceRepository) TouchSync(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE devices SET last_synced_at = $2, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("touch device sync: %w", err)
	}
	return nil
}

// UpsertUser inserts or refreshes a device user keyed by the device and its
// local user id. Returns true when the row was newly created.
func (r *DeviceRepository) UpsertUser(ctx context.Context, user *models.DeviceUser) (bool, error) {
	now := time.Now().UTC()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	const query = `INSERT INTO device_users (id, device_id, device_user_id, display_name, department, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (device_id, device_user_id)
DO UPDATE SET display_name = EXCLUDED.display_name, department = EXCLUDED.department, updated_at = EXCLUDED.updated_at
RETURNING id, device_id, device_user_id, display_name, department, created_at, updated_at`
	var stored models.DeviceUser
	if err := r.db.GetContext(ctx, &stored, query, user.ID, user.DeviceID, user.DeviceUserID, user.DisplayName, user.Department, user.CreatedAt, user.UpdatedAt); err != nil {
		return false, fmt.Errorf("upsert device user: %w", err)
	}
	created := stored.CreatedAt.Equal(stored.UpdatedAt)
	*user = stored
	return created, nil
}

// ListUsers returns device users matching the filter.
func (r *DeviceRepository) ListUsers(ctx context.Context, filter models.DeviceUserFilter) ([]models.DeviceUser, int, error) {
	base := "FROM device_users du"
	args := []interface{}{}
	conditions := []string{"1=1"}

	if filter.DeviceID != "" {
		conditions = append(conditions, fmt.Sprintf("du.device_id = $%d", len(args)+1))
		args = append(args, filter.DeviceID)
	}
	if filter.Department != "" {
		conditions = append(conditions, fmt.Sprintf("du.department = $%d", len(args)+1))
		args = append(args, filter.Department)
	}
	if filter.Unmapped != nil && *filter.Unmapped {
		conditions = append(conditions, "NOT EXISTS (SELECT 1 FROM identity_mappings m WHERE m.device_user_id = du.id AND m.status <> 'rejected')")
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT du.id, du.device_id, du.device_user_id, du.display_name, du.department, du.created_at, du.updated_at
        %s ORDER BY du.display_name ASC LIMIT %d OFFSET %d`, base, size, offset)

	var users []models.DeviceUser
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list device users: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count device users: %w", err)
	}
	return users, total, nil
}

// ListUsersByDevice returns every user known to one device.
func (r *DeviceRepository) ListUsersByDevice(ctx context.Context, deviceID string) ([]models.DeviceUser, error) {
	const query = `SELECT id, device_id, device_user_id, display_name, department, created_at, updated_at
        FROM device_users WHERE device_id = $1`
	var users []models.DeviceUser
	if err := r.db.SelectContext(ctx, &users, query, deviceID); err != nil {
		return nil, fmt.Errorf("list device users by device: %w", err)
	}
	return users, nil
}

// ListUnmappedByDepartment returns device users in the given department that
// have no pending or verified mapping. Rejected mappings do not block a
// fresh proposal.
func (r *DeviceRepository) ListUnmappedByDepartment(ctx context.Context, department string) ([]models.DeviceUser, error) {
	const query = `SELECT du.id, du.device_id, du.device_user_id, du.display_name, du.department, du.created_at, du.updated_at
        FROM device_users du
        WHERE du.department = $1
          AND NOT EXISTS (SELECT 1 FROM identity_mappings m WHERE m.device_user_id = du.id AND m.status <> 'rejected')
        ORDER BY du.display_name ASC`
	var users []models.DeviceUser
	if err := r.db.SelectContext(ctx, &users, query, department); err != nil {
		return nil, fmt.Errorf("list unmapped device users: %w", err)
	}
	return users, nil
}
