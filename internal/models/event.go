package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// BatchKind distinguishes what an import batch carried.
type BatchKind string

const (
	BatchKindUsers BatchKind = "users"
	BatchKindLogs  BatchKind = "logs"
)

// BatchStatus tracks the lifecycle of an import batch.
type BatchStatus string

const (
	BatchStatusProcessing          BatchStatus = "processing"
	BatchStatusCompleted           BatchStatus = "completed"
	BatchStatusCompletedWithErrors BatchStatus = "completed_with_errors"
	BatchStatusFailed              BatchStatus = "failed"
	BatchStatusRolledBack          BatchStatus = "rolled_back"
)

// ImportBatch groups raw events ingested together so a bad import can be
// rolled back as a unit.
type ImportBatch struct {
	ID         string      `db:"id" json:"id"`
	SourceFile string      `db:"source_file" json:"source_file"`
	Kind       BatchKind   `db:"kind" json:"kind"`
	Status     BatchStatus `db:"status" json:"status"`
	Records    int         `db:"records" json:"records"`
	ErrorLog   ErrorLog    `db:"error_log" json:"error_log,omitempty"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at" json:"updated_at"`
}

// RawScanEvent is one immutable biometric scan observation.
type RawScanEvent struct {
	ID           string    `db:"id" json:"id"`
	BatchID      string    `db:"batch_id" json:"batch_id"`
	DeviceUserID string    `db:"device_user_id" json:"device_user_id"`
	EventTime    time.Time `db:"event_time" json:"event_time"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// ScanEventRow is one parsed row of a device log export.
type ScanEventRow struct {
	DeviceUserID string    `json:"device_user_id" validate:"required"`
	EventTime    time.Time `json:"event_time" validate:"required"`
}

// IngestBatchRequest carries the parsed scan rows for one import. Row
// validation happens per row so one bad row never rejects the batch.
type IngestBatchRequest struct {
	SourceFile string         `json:"source_file" validate:"required"`
	DeviceCode string         `json:"device_code" validate:"required"`
	Rows       []ScanEventRow `json:"rows" validate:"required,min=1"`
}

// IngestBatchResult summarises a completed ingestion.
type IngestBatchResult struct {
	BatchID  string      `json:"batch_id"`
	Status   BatchStatus `json:"status"`
	Inserted int         `json:"inserted"`
	Rejected int         `json:"rejected"`
	Errors   []string    `json:"errors,omitempty"`
}

// BatchFilter scopes batch listing queries.
type BatchFilter struct {
	Kind     *BatchKind
	Status   *BatchStatus
	Page     int
	PageSize int
}

// BatchDetail is one batch together with its surviving event count.
type BatchDetail struct {
	ImportBatch
	EventCount int `json:"event_count"`
}

// RollbackResult reports a completed batch rollback.
type RollbackResult struct {
	BatchID       string `json:"batch_id"`
	EventsDeleted int64  `json:"events_deleted"`
}

// ErrorLog stores per-row import errors persisted as JSONB.
type ErrorLog []string

// Value marshals the error log to JSON for persistence.
func (e ErrorLog) Value() (driver.Value, error) {
	if e == nil {
		e = ErrorLog{}
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal error log: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the error log.
func (e *ErrorLog) Scan(value interface{}) error {
	if value == nil {
		*e = ErrorLog{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for ErrorLog", value)
	}
	if len(data) == 0 {
		*e = ErrorLog{}
		return nil
	}
	if err := json.Unmarshal(data, e); err != nil {
		return fmt.Errorf("unmarshal error log: %w", err)
	}
	return nil
}
