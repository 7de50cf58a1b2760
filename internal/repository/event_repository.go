package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-ews-api/internal/models"
)

// EventRepository stores raw scan events exactly as ingested.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// BulkInsert writes a batch's accepted events in a single transaction.
func (r *EventRepository) BulkInsert(ctx context.Context, events []models.RawScanEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk insert: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	const query = `INSERT INTO raw_scan_events (id, batch_id, device_user_id, event_time, created_at)
        VALUES (:id, :batch_id, :device_user_id, :event_time, :created_at)`

	now := time.Now().UTC()
	for i := range events {
		if events[i].ID == "" {
			events[i].ID = uuid.NewString()
		}
		if events[i].CreatedAt.IsZero() {
			events[i].CreatedAt = now
		}
		if _, err := tx.NamedExecContext(ctx, query, events[i]); err != nil {
			return fmt.Errorf("insert scan event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk insert: %w", err)
	}
	committed = true
	return nil
}

// CountByBatch returns the number of surviving events for a batch.
func (r *EventRepository) CountByBatch(ctx context.Context, batchID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM raw_scan_events WHERE batch_id = $1", batchID); err != nil {
		return 0, fmt.Errorf("count batch events: %w", err)
	}
	return count, nil
}

// ListByBatch returns a batch's events ordered by occurrence.
func (r *EventRepository) ListByBatch(ctx context.Context, batchID string) ([]models.RawScanEvent, error) {
	const query = `SELECT id, batch_id, device_user_id, event_time, created_at
        FROM raw_scan_events WHERE batch_id = $1 ORDER BY event_time ASC`
	var events []models.RawScanEvent
	if err := r.db.SelectContext(ctx, &events, query, batchID); err != nil {
		return nil, fmt.Errorf("list batch events: %w", err)
	}
	return events, nil
}

// ListWindow returns every stored event with an occurrence time inside
// [from, to), regardless of source batch. The aggregator reduces over the
// full window so re-processing a batch stays order-independent.
func (r *EventRepository) ListWindow(ctx context.Context, from, to time.Time) ([]models.RawScanEvent, error) {
	const query = `SELECT id, batch_id, device_user_id, event_time, created_at
        FROM raw_scan_events WHERE event_time >= $1 AND event_time < $2 ORDER BY event_time ASC`
	var events []models.RawScanEvent
	if err := r.db.SelectContext(ctx, &events, query, from, to); err != nil {
		return nil, fmt.Errorf("list events in window: %w", err)
	}
	return events, nil
}

// OrphanGroups summarizes a batch's events whose device user has no verified
// mapping, grouped per device user.
func (r *EventRepository) OrphanGroups(ctx context.Context, batchID string) ([]models.OrphanedEventGroup, error) {
	const query = `SELECT e.device_user_id, du.display_name, d.code AS device_code, COUNT(*) AS events
        FROM raw_scan_events e
        JOIN device_users du ON du.id = e.device_user_id
        JOIN devices d ON d.id = du.device_id
        WHERE e.batch_id = $1
          AND NOT EXISTS (
            SELECT 1 FROM identity_mappings m
            WHERE m.device_user_id = e.device_user_id AND m.status = 'verified'
          )
        GROUP BY e.device_user_id, du.display_name, d.code
        ORDER BY events DESC, du.display_name ASC`
	var groups []models.OrphanedEventGroup
	if err := r.db.SelectContext(ctx, &groups, query, batchID); err != nil {
		return nil, fmt.Errorf("list orphaned events: %w", err)
	}
	return groups, nil
}
