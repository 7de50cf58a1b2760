package models

import "time"

// MappingStatus tracks the verification state of an identity mapping.
type MappingStatus string

const (
	MappingStatusPending  MappingStatus = "pending"
	MappingStatusVerified MappingStatus = "verified"
	MappingStatusRejected MappingStatus = "rejected"
)

// Valid returns true when the status is a supported value.
func (s MappingStatus) Valid() bool {
	switch s {
	case MappingStatusPending, MappingStatusVerified, MappingStatusRejected:
		return true
	default:
		return false
	}
}

// Decision reports whether the status is an allowed verification outcome.
func (s MappingStatus) Decision() bool {
	return s == MappingStatusVerified || s == MappingStatusRejected
}

// IdentityMapping links a device user to a registry student. At most one
// non-rejected mapping may exist per device user.
type IdentityMapping struct {
	ID           string        `db:"id" json:"id"`
	DeviceUserID string        `db:"device_user_id" json:"device_user_id"`
	StudentNIS   string        `db:"student_nis" json:"student_nis"`
	Similarity   int           `db:"similarity" json:"similarity"`
	Status       MappingStatus `db:"status" json:"status"`
	VerifiedBy   *string       `db:"verified_by" json:"verified_by,omitempty"`
	VerifiedAt   *time.Time    `db:"verified_at" json:"verified_at,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}

// MappingDetail joins a mapping with its device user and student context.
type MappingDetail struct {
	IdentityMapping
	DeviceUserName string `db:"device_user_name" json:"device_user_name"`
	DeviceCode     string `db:"device_code" json:"device_code"`
	StudentName    string `db:"student_name" json:"student_name"`
}

// MappingSuggestion is one candidate student for an unmapped device user.
type MappingSuggestion struct {
	StudentNIS  string `json:"student_nis"`
	StudentName string `json:"student_name"`
	Score       int    `json:"score"`
}

// UnmappedDeviceUser pairs an unresolved device user with ranked candidates.
type UnmappedDeviceUser struct {
	DeviceUser  DeviceUser          `json:"device_user"`
	Suggestions []MappingSuggestion `json:"suggestions"`
}

// AutoMapRequest tunes one auto-matching run.
type AutoMapRequest struct {
	Threshold *int `json:"threshold" validate:"omitempty,min=1,max=100"`
}

// AutoMapResult summarises one auto-matching run.
type AutoMapResult struct {
	Threshold  int `json:"threshold"`
	Candidates int `json:"candidates"`
	Created    int `json:"created"`
	Skipped    int `json:"skipped"`
	Unmatched  int `json:"unmatched"`
}

// VerifyMappingRequest carries a single verification decision.
type VerifyMappingRequest struct {
	Status MappingStatus `json:"status" validate:"required"`
}

// BulkVerifyItem is one decision inside a bulk verification request.
type BulkVerifyItem struct {
	MappingID string        `json:"mapping_id" validate:"required"`
	Status    MappingStatus `json:"status" validate:"required"`
}

// BulkVerifyRequest carries multiple verification decisions. Items are
// validated individually so one bad item never rejects the rest.
type BulkVerifyRequest struct {
	Items []BulkVerifyItem `json:"items" validate:"required,min=1"`
}

// BulkVerifyOutcome reports the result for one bulk item.
type BulkVerifyOutcome struct {
	MappingID string `json:"mapping_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// BulkVerifyResult aggregates bulk verification outcomes.
type BulkVerifyResult struct {
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
	Outcomes  []BulkVerifyOutcome `json:"outcomes"`
}

// MappingStats summarises resolver progress for operators.
type MappingStats struct {
	Pending  int `db:"pending" json:"pending"`
	Verified int `db:"verified" json:"verified"`
	Rejected int `db:"rejected" json:"rejected"`
	Unmapped int `db:"unmapped" json:"unmapped"`
}
