package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stitchworks/be-mfg-subbatches/internal/platform/database"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/errors"
)

// SubBatchRepository reads and updates sub-batch records. Sub-batches are
// created by the planning service; Create exists for seeding and tests.
type SubBatchRepository struct {
	db *database.DB
}

// NewSubBatchRepository creates a new SubBatchRepository.
func NewSubBatchRepository(db *database.DB) *SubBatchRepository {
	return &SubBatchRepository{db: db}
}

// Create inserts a sub-batch in draft status.
func (r *SubBatchRepository) Create(ctx context.Context, sb *SubBatch) error {
	if sb.ID == "" {
		sb.ID = uuid.NewString()
	}
	if sb.Status == "" {
		sb.Status = SubBatchDraft
	}

	query := `
		INSERT INTO sub_batches
		    (id, lot_number, estimated_pieces, start_date, due_date, status)
		VALUES ($1, $2, $3, $4, $5, $6::sub_batch_status)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		sb.ID,
		sb.LotNumber,
		sb.EstimatedPieces,
		sb.StartDate,
		sb.DueDate,
		sb.Status,
	).Scan(&sb.CreatedAt, &sb.UpdatedAt)
	return errors.Wrap(err, errors.ErrCodeInternal, "failed to create sub-batch")
}

// GetByID retrieves a sub-batch by its primary key.
func (r *SubBatchRepository) GetByID(ctx context.Context, id string) (*SubBatch, error) {
	query := `
		SELECT id, lot_number, estimated_pieces, start_date, due_date, status,
		       created_at, updated_at
		FROM sub_batches
		WHERE id = $1
	`

	sb := &SubBatch{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&sb.ID,
		&sb.LotNumber,
		&sb.EstimatedPieces,
		&sb.StartDate,
		&sb.DueDate,
		&sb.Status,
		&sb.CreatedAt,
		&sb.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("sub_batch", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get sub-batch")
	}
	return sb, nil
}

// MarkCompleted freezes a sub-batch. The status guard in the WHERE clause
// makes completion idempotence a database-level property: a second call
// finds no row and reports the conflict.
func (r *SubBatchRepository) MarkCompleted(ctx context.Context, id string) error {
	query := `
		UPDATE sub_batches
		SET status     = 'completed'::sub_batch_status,
		    updated_at = NOW()
		WHERE id = $1
		  AND status <> 'completed'
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.New(errors.ErrCodeSubBatchFrozen, "sub-batch is already completed")
	}
	return errors.Wrap(err, errors.ErrCodeInternal, "failed to complete sub-batch")
}
