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

// BatchRepository persists import batches and owns their lifecycle,
// including the rollback that removes a batch's raw events.
type BatchRepository struct {
	db *sqlx.DB
}

// NewBatchRepository constructs a BatchRepository.
func NewBatchRepository(db *sqlx.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create inserts a new batch in processing state.
func (r *BatchRepository) Create(ctx context.Context, batch *models.ImportBatch) error {
	now := time.Now().UTC()
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.Status == "" {
		batch.Status = models.BatchStatusProcessing
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}
	batch.UpdatedAt = now
	const query = `INSERT INTO import_batches (id, source_file, kind, status, records, error_log, created_at, updated_at)
        VALUES (:id, :source_file, :kind, :status, :records, :error_log, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, batch); err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

// Finish records the terminal state of a batch run.
func (r *BatchRepository) Finish(ctx context.Context, id string, status models.BatchStatus, records int, errorLog models.ErrorLog) error {
	const query = `UPDATE import_batches SET status = $2, records = $3, error_log = $4, updated_at = $5 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, records, errorLog, time.Now().UTC()); err != nil {
		return fmt.Errorf("finish batch: %w", err)
	}
	return nil
}

// FindByID fetches one batch.
func (r *BatchRepository) FindByID(ctx context.Context, id string) (*models.ImportBatch, error) {
	const query = `SELECT id, source_file, kind, status, records, error_log, created_at, updated_at
        FROM import_batches WHERE id = $1`
	var batch models.ImportBatch
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		return nil, err
	}
	return &batch, nil
}

// List returns batches matching the filter, newest first.
func (r *BatchRepository) List(ctx context.Context, filter models.BatchFilter) ([]models.ImportBatch, int, error) {
	base := "FROM import_batches b"
	args := []interface{}{}
	conditions := []string{"1=1"}

	if filter.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("b.kind = $%d", len(args)+1))
		args = append(args, *filter.Kind)
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("b.status = $%d", len(args)+1))
		args = append(args, *filter.Status)
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

	query := fmt.Sprintf(`SELECT b.id, b.source_file, b.kind, b.status, b.records, b.error_log, b.created_at, b.updated_at
        %s ORDER BY b.created_at DESC LIMIT %d OFFSET %d`, base, size, offset)

	var batches []models.ImportBatch
	if err := r.db.SelectContext(ctx, &batches, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list batches: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count batches: %w", err)
	}
	return batches, total, nil
}

// Rollback deletes the batch's raw events and marks it rolled back, as one
// transaction. Returns the number of events removed.
func (r *BatchRepository) Rollback(ctx context.Context, id string) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin batch rollback: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, "DELETE FROM raw_scan_events WHERE batch_id = $1", id)
	if err != nil {
		return 0, fmt.Errorf("delete batch events: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted events: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE import_batches SET status = $2, updated_at = $3 WHERE id = $1",
		id, models.BatchStatusRolledBack, time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("mark batch rolled back: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch rollback: %w", err)
	}
	commit = true
	return deleted, nil
}
