package models

import "time"

// Device represents a registered biometric attendance machine.
type Device struct {
	ID           string     `db:"id" json:"id"`
	Code         string     `db:"code" json:"code"`
	Location     *string    `db:"location" json:"location,omitempty"`
	LastSyncedAt *time.Time `db:"last_synced_at" json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// DeviceUser represents an identity as known by a device. The device-local
// DeviceUserID is only unique within a single device.
type DeviceUser struct {
	ID           string    `db:"id" json:"id"`
	DeviceID     string    `db:"device_id" json:"device_id"`
	DeviceUserID string    `db:"device_user_id" json:"device_user_id"`
	DisplayName  string    `db:"display_name" json:"display_name"`
	Department   string    `db:"department" json:"department"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// DeviceUserRow is one parsed row of a device user export, supplied by an
// external parser.
type DeviceUserRow struct {
	DeviceUserID string `json:"device_user_id" validate:"required"`
	DisplayName  string `json:"display_name" validate:"required"`
	Department   string `json:"department"`
}

// DeviceUserSyncRequest carries the parsed rows for one device sync. Row
// validation happens per row so one bad row never rejects the sync.
type DeviceUserSyncRequest struct {
	SourceFile string          `json:"source_file"`
	Rows       []DeviceUserRow `json:"rows" validate:"required,min=1"`
}

// DeviceUserSyncResult summarises a completed sync.
type DeviceUserSyncResult struct {
	BatchID    string   `json:"batch_id"`
	DeviceCode string   `json:"device_code"`
	Created    int      `json:"created"`
	Updated    int      `json:"updated"`
	Students   int      `json:"students"`
	Others     int      `json:"others"`
	Rejected   int      `json:"rejected"`
	Errors     []string `json:"errors,omitempty"`
}

// DeviceUserFilter scopes device user listing queries.
type DeviceUserFilter struct {
	DeviceID   string
	Department string
	Unmapped   *bool
	Page       int
	PageSize   int
}
