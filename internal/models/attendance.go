package models

import "time"

// AttendanceStatus classifies one student-day.
type AttendanceStatus string

const (
	AttendanceStatusPresent    AttendanceStatus = "Present"
	AttendanceStatusLate       AttendanceStatus = "Late"
	AttendanceStatusAbsent     AttendanceStatus = "Absent"
	AttendanceStatusSick       AttendanceStatus = "Sick"
	AttendanceStatusPermission AttendanceStatus = "Permission"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusLate, AttendanceStatusAbsent,
		AttendanceStatusSick, AttendanceStatusPermission:
		return true
	default:
		return false
	}
}

// Attended reports whether the student showed up that day at all.
func (s AttendanceStatus) Attended() bool {
	return s == AttendanceStatusPresent || s == AttendanceStatusLate
}

// DailyAttendanceFact is the single source of truth for one student-day.
// Derived rows come from the aggregator; manual rows are operator overrides
// and survive reprocessing unless explicitly forced.
type DailyAttendanceFact struct {
	ID         string           `db:"id" json:"id"`
	StudentNIS string           `db:"student_nis" json:"student_nis"`
	Date       time.Time        `db:"date" json:"date"`
	CheckIn    *time.Time       `db:"check_in" json:"check_in,omitempty"`
	CheckOut   *time.Time       `db:"check_out" json:"check_out,omitempty"`
	Status     AttendanceStatus `db:"status" json:"status"`
	Notes      *string          `db:"notes" json:"notes,omitempty"`
	RecordedBy *string          `db:"recorded_by" json:"recorded_by,omitempty"`
	Manual     bool             `db:"manual" json:"manual"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updated_at"`
}

// DailyAttendanceFilter defines query filters for fact listings.
type DailyAttendanceFilter struct {
	StudentNIS string
	ClassID    string
	Status     *AttendanceStatus
	DateFrom   *time.Time
	DateTo     *time.Time
	Manual     *bool
	Page       int
	PageSize   int
}

// ManualAttendanceRequest records or overrides one fact by hand.
type ManualAttendanceRequest struct {
	StudentNIS string           `json:"student_nis" validate:"required"`
	Date       time.Time        `json:"date" validate:"required"`
	Status     AttendanceStatus `json:"status" validate:"required"`
	Notes      *string          `json:"notes"`
}

// ProcessBatchRequest triggers aggregation of one import batch.
type ProcessBatchRequest struct {
	BatchID string `json:"batch_id" validate:"required"`
	Force   bool   `json:"force"`
}

// ProcessBatchResult summarises one aggregation run.
type ProcessBatchResult struct {
	BatchID        string `json:"batch_id"`
	FactsUpserted  int    `json:"facts_upserted"`
	AbsentInserted int    `json:"absent_inserted"`
	OrphanedEvents int    `json:"orphaned_events"`
	SkippedManual  int    `json:"skipped_manual"`
}

// AttendanceSummary aggregates one student's facts over a range.
type AttendanceSummary struct {
	StudentNIS string  `json:"student_nis"`
	Present    int     `json:"present"`
	Late       int     `json:"late"`
	Absent     int     `json:"absent"`
	Sick       int     `json:"sick"`
	Permission int     `json:"permission"`
	Total      int     `json:"total"`
	Percent    float64 `json:"percent"`
}

// AbsencePattern flags a run of consecutive non-attended days.
type AbsencePattern struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Length int       `json:"length"`
}

// StudentAttendanceHistory bundles facts, summary and detected patterns.
type StudentAttendanceHistory struct {
	StudentNIS string                `json:"student_nis"`
	Records    []DailyAttendanceFact `json:"records"`
	Summary    AttendanceSummary     `json:"summary"`
	Patterns   []AbsencePattern      `json:"patterns"`
}

// OrphanedEventGroup counts unresolvable events for one device user.
type OrphanedEventGroup struct {
	DeviceUserID string `db:"device_user_id" json:"device_user_id"`
	DisplayName  string `db:"display_name" json:"display_name"`
	DeviceCode   string `db:"device_code" json:"device_code"`
	Events       int    `db:"events" json:"events"`
}

// OrphanedEventReport summarises events that no verified mapping can claim.
type OrphanedEventReport struct {
	Total  int                  `json:"total"`
	Groups []OrphanedEventGroup `json:"groups"`
}
