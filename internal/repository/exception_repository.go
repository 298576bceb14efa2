package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stitchworks/be-mfg-subbatches/internal/platform/database"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/errors"
)

// ExceptionRepository appends and reads immutable rejection/alteration
// entries. Branch creation is transactional: the entry, its branch
// assignment, and the creation history record land together.
type ExceptionRepository struct {
	db *database.DB
}

// NewExceptionRepository creates a new ExceptionRepository.
func NewExceptionRepository(db *database.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

const exceptionColumns = `
	id, sub_batch_id, kind, source_assignment_id, source_work_log_id,
	source_department_id, target_department_id, branch_assignment_id,
	quantity, reason, created_at
`

// BranchParams carries everything the branch transaction touches.
type BranchParams struct {
	SourceID      string
	SourceVersion int64
	Entry         *ExceptionEntry
	Branch        *WorkAssignment
	BranchHistory *StageHistoryEntry
}

// CreateWithBranch inserts the exception entry plus its branch assignment
// in one transaction, retiring any previous current head of the branch's
// (sub-batch, department, kind) lineage first. The version compare-and-set
// on the source assignment serializes concurrent branches cut from the
// same assignment, so the remaining-quantity check made before the call
// still holds at commit time; the loser gets ConcurrentModification.
func (r *ExceptionRepository) CreateWithBranch(ctx context.Context, p BranchParams) error {
	entry, branch, branchHistory := p.Entry, p.Branch, p.BranchHistory
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		guardQuery := `
			UPDATE work_assignments
			SET version    = version + 1,
			    updated_at = NOW()
			WHERE id = $1
			  AND version = $2
		`
		tag, err := tx.Exec(ctx, guardQuery, p.SourceID, p.SourceVersion)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to guard source assignment")
		}
		if tag.RowsAffected() == 0 {
			return errors.New(errors.ErrCodeConcurrentModification,
				"source assignment modified concurrently; re-read and retry")
		}

		retireQuery := `
			UPDATE work_assignments
			SET is_current = FALSE,
			    updated_at = NOW()
			WHERE sub_batch_id = $1
			  AND department_id = $2
			  AND kind = $3::lineage_kind
			  AND is_current
		`
		if _, err := tx.Exec(ctx, retireQuery, branch.SubBatchID, branch.DepartmentID, branch.Kind); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to retire branch lineage")
		}

		if err := insertAssignment(ctx, tx, branch); err != nil {
			return err
		}

		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		entry.BranchAssignmentID = branch.ID

		entryQuery := `
			INSERT INTO exception_entries
			    (id, sub_batch_id, kind, source_assignment_id, source_work_log_id,
			     source_department_id, target_department_id, branch_assignment_id,
			     quantity, reason)
			VALUES ($1, $2, $3::exception_kind, $4, $5, $6, $7, $8, $9, $10)
			RETURNING created_at
		`
		err = tx.QueryRow(ctx, entryQuery,
			entry.ID,
			entry.SubBatchID,
			entry.Kind,
			entry.SourceAssignmentID,
			entry.SourceWorkLogID,
			entry.SourceDepartmentID,
			entry.TargetDepartmentID,
			entry.BranchAssignmentID,
			entry.Quantity,
			entry.Reason,
		).Scan(&entry.CreatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create exception entry")
		}

		if branchHistory != nil {
			branchHistory.AssignmentID = branch.ID
		}
		return insertHistory(ctx, tx, branchHistory)
	})
}

// ListBySourceAssignment returns exceptions cut from one assignment,
// oldest first. The ledger uses this scope for conservation arithmetic.
func (r *ExceptionRepository) ListBySourceAssignment(ctx context.Context, assignmentID string) ([]*ExceptionEntry, error) {
	query := `
		SELECT ` + exceptionColumns + `
		FROM exception_entries
		WHERE source_assignment_id = $1
		ORDER BY created_at ASC
	`
	return r.list(ctx, query, assignmentID)
}

// ListBySubBatch returns every exception entry for a sub-batch.
func (r *ExceptionRepository) ListBySubBatch(ctx context.Context, subBatchID string) ([]*ExceptionEntry, error) {
	query := `
		SELECT ` + exceptionColumns + `
		FROM exception_entries
		WHERE sub_batch_id = $1
		ORDER BY created_at ASC
	`
	return r.list(ctx, query, subBatchID)
}

func (r *ExceptionRepository) list(ctx context.Context, query string, arg any) ([]*ExceptionEntry, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list exception entries")
	}
	defer rows.Close()

	var entries []*ExceptionEntry
	for rows.Next() {
		entry := &ExceptionEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.SubBatchID,
			&entry.Kind,
			&entry.SourceAssignmentID,
			&entry.SourceWorkLogID,
			&entry.SourceDepartmentID,
			&entry.TargetDepartmentID,
			&entry.BranchAssignmentID,
			&entry.Quantity,
			&entry.Reason,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan exception entry")
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
