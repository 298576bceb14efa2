package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/stitchworks/be-mfg-subbatches/internal/platform/database"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/errors"
)

// HistoryRepository reads the append-only stage-transition log. Appending
// happens inside the stage/advance/branch transactions; the table carries
// a delete-prevention trigger so reads are the only standalone operation.
type HistoryRepository struct {
	db *database.DB
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *database.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// ListBySubBatch returns the full transition log for a sub-batch,
// oldest first.
func (r *HistoryRepository) ListBySubBatch(ctx context.Context, subBatchID string) ([]*StageHistoryEntry, error) {
	query := `
		SELECT id, assignment_id, sub_batch_id,
		       COALESCE(from_stage::text, ''), to_stage, acted_by, occurred_at
		FROM stage_history
		WHERE sub_batch_id = $1
		ORDER BY occurred_at ASC
	`
	return r.list(ctx, query, subBatchID)
}

// ListByAssignment returns the transition log for one assignment.
func (r *HistoryRepository) ListByAssignment(ctx context.Context, assignmentID string) ([]*StageHistoryEntry, error) {
	query := `
		SELECT id, assignment_id, sub_batch_id,
		       COALESCE(from_stage::text, ''), to_stage, acted_by, occurred_at
		FROM stage_history
		WHERE assignment_id = $1
		ORDER BY occurred_at ASC
	`
	return r.list(ctx, query, assignmentID)
}

func (r *HistoryRepository) list(ctx context.Context, query string, arg any) ([]*StageHistoryEntry, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list stage history")
	}
	defer rows.Close()

	var entries []*StageHistoryEntry
	for rows.Next() {
		entry, err := scanHistory(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan stage history entry")
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func scanHistory(rows pgx.Rows) (*StageHistoryEntry, error) {
	entry := &StageHistoryEntry{}
	var fromStage string
	err := rows.Scan(
		&entry.ID,
		&entry.AssignmentID,
		&entry.SubBatchID,
		&fromStage,
		&entry.ToStage,
		&entry.ActedBy,
		&entry.OccurredAt,
	)
	if err != nil {
		return nil, err
	}
	entry.FromStage = Stage(fromStage)
	return entry, nil
}
