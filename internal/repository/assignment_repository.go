package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stitchworks/be-mfg-subbatches/internal/platform/database"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/errors"
)

// AssignmentRepository handles work-assignment reads, stage updates, and
// the advance transaction. Assignments are never deleted; retirement is
// is_current=false.
type AssignmentRepository struct {
	db *database.DB
}

// NewAssignmentRepository creates a new AssignmentRepository.
func NewAssignmentRepository(db *database.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

const assignmentColumns = `
	id, sub_batch_id, department_id, department_name,
	stage, kind, is_current, quantity_received,
	source_lineage_id, source_work_log_id, source_department, branch_reason,
	version, created_at, updated_at
`

// GetByID retrieves an assignment by its primary key.
func (r *AssignmentRepository) GetByID(ctx context.Context, id string) (*WorkAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM work_assignments WHERE id = $1`

	a, err := scanAssignment(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("work_assignment", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get work assignment")
	}
	return a, nil
}

// GetCurrentHead returns the is_current assignment for a (sub-batch,
// department, lineage-kind) triple, or nil when that lineage has no open
// head at the department.
func (r *AssignmentRepository) GetCurrentHead(ctx context.Context, subBatchID string, departmentID int64, kind LineageKind) (*WorkAssignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM work_assignments
		WHERE sub_batch_id = $1
		  AND department_id = $2
		  AND kind = $3::lineage_kind
		  AND is_current
	`

	a, err := scanAssignment(r.db.QueryRow(ctx, query, subBatchID, departmentID, kind))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get current assignment")
	}
	return a, nil
}

// ListBySubBatch returns every assignment of a sub-batch, oldest first.
func (r *AssignmentRepository) ListBySubBatch(ctx context.Context, subBatchID string) ([]*WorkAssignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM work_assignments
		WHERE sub_batch_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, subBatchID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list assignments")
	}
	defer rows.Close()

	return scanAssignmentRows(rows)
}

// ListCurrentByDepartment returns the current assignments sitting at a
// department across all sub-batches, for the kanban view.
func (r *AssignmentRepository) ListCurrentByDepartment(ctx context.Context, departmentID int64) ([]*WorkAssignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM work_assignments
		WHERE department_id = $1
		  AND is_current
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, departmentID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list department assignments")
	}
	defer rows.Close()

	return scanAssignmentRows(rows)
}

// UpdateStage sets the stage and appends the transition record atomically.
func (r *AssignmentRepository) UpdateStage(ctx context.Context, id string, to Stage, history *StageHistoryEntry) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE work_assignments
			SET stage      = $2::assignment_stage,
			    updated_at = NOW()
			WHERE id = $1
			RETURNING id
		`

		var returnedID string
		err := tx.QueryRow(ctx, query, id, to).Scan(&returnedID)
		if err == pgx.ErrNoRows {
			return errors.NotFound("work_assignment", id)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update stage")
		}

		return insertHistory(ctx, tx, history)
	})
}

// AdvanceParams carries everything the advance transaction touches.
type AdvanceParams struct {
	WorkflowID        string
	ExpectedStepIndex int
	SubBatchID        string
	DepartmentID      int64 // department being left
	ClosingID         string
	ClosingVersion    int64
	Next              *WorkAssignment
	NextHistory       *StageHistoryEntry
}

// Advance closes the current main-lineage head and opens the next step's
// assignment in one transaction. The version check on the closing row and
// the compare-and-set on the workflow cursor ensure that of two concurrent
// advances exactly one succeeds; the loser gets ConcurrentModification.
func (r *AssignmentRepository) Advance(ctx context.Context, p AdvanceParams) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		cursorQuery := `
			UPDATE workflows
			SET current_step_index = $2 + 1,
			    updated_at         = NOW()
			WHERE id = $1
			  AND current_step_index = $2
		`
		tag, err := tx.Exec(ctx, cursorQuery, p.WorkflowID, p.ExpectedStepIndex)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to advance workflow cursor")
		}
		if tag.RowsAffected() == 0 {
			return errors.New(errors.ErrCodeConcurrentModification,
				"workflow advanced concurrently; re-read and retry")
		}

		closeQuery := `
			UPDATE work_assignments
			SET is_current = FALSE,
			    version    = version + 1,
			    updated_at = NOW()
			WHERE id = $1
			  AND version = $2
		`
		tag, err = tx.Exec(ctx, closeQuery, p.ClosingID, p.ClosingVersion)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to close assignment")
		}
		if tag.RowsAffected() == 0 {
			return errors.New(errors.ErrCodeConcurrentModification,
				"assignment modified concurrently; re-read and retry")
		}

		// Retire any other stragglers of the advancing lineage at this department.
		retireQuery := `
			UPDATE work_assignments
			SET is_current = FALSE,
			    updated_at = NOW()
			WHERE sub_batch_id = $1
			  AND department_id = $2
			  AND kind = $3::lineage_kind
			  AND is_current
		`
		if _, err := tx.Exec(ctx, retireQuery, p.SubBatchID, p.DepartmentID, p.Next.Kind); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to retire lineage")
		}

		if err := insertAssignment(ctx, tx, p.Next); err != nil {
			return err
		}
		if p.NextHistory != nil {
			p.NextHistory.AssignmentID = p.Next.ID
		}
		return insertHistory(ctx, tx, p.NextHistory)
	})
}

// ── shared tx helpers ─────────────────────────────────────────────────────────

func insertAssignment(ctx context.Context, tx pgx.Tx, a *WorkAssignment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	query := `
		INSERT INTO work_assignments
		    (id, sub_batch_id, department_id, department_name,
		     stage, kind, is_current, quantity_received,
		     source_lineage_id, source_work_log_id, source_department, branch_reason)
		VALUES ($1, $2, $3, $4,
		        $5::assignment_stage, $6::lineage_kind, $7, $8,
		        $9, $10, $11, $12)
		RETURNING version, created_at, updated_at
	`

	err := tx.QueryRow(ctx, query,
		a.ID,
		a.SubBatchID,
		a.DepartmentID,
		a.DepartmentName,
		a.Stage,
		a.Kind,
		a.IsCurrent,
		a.QuantityReceived,
		a.SourceLineageID,
		a.SourceWorkLogID,
		a.SourceDepartment,
		a.BranchReason,
	).Scan(&a.Version, &a.CreatedAt, &a.UpdatedAt)
	return errors.Wrap(err, errors.ErrCodeInternal, "failed to create work assignment")
}

func insertHistory(ctx context.Context, tx pgx.Tx, h *StageHistoryEntry) error {
	if h == nil {
		return nil
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}

	query := `
		INSERT INTO stage_history
		    (id, assignment_id, sub_batch_id, from_stage, to_stage, acted_by)
		VALUES ($1, $2, $3, NULLIF($4, '')::assignment_stage, $5::assignment_stage, $6)
		RETURNING occurred_at
	`

	err := tx.QueryRow(ctx, query,
		h.ID,
		h.AssignmentID,
		h.SubBatchID,
		string(h.FromStage),
		h.ToStage,
		h.ActedBy,
	).Scan(&h.OccurredAt)
	return errors.Wrap(err, errors.ErrCodeInternal, "failed to append stage history")
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type assignmentScanner interface {
	Scan(dest ...any) error
}

func scanAssignment(row assignmentScanner) (*WorkAssignment, error) {
	a := &WorkAssignment{}
	err := row.Scan(
		&a.ID,
		&a.SubBatchID,
		&a.DepartmentID,
		&a.DepartmentName,
		&a.Stage,
		&a.Kind,
		&a.IsCurrent,
		&a.QuantityReceived,
		&a.SourceLineageID,
		&a.SourceWorkLogID,
		&a.SourceDepartment,
		&a.BranchReason,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func scanAssignmentRows(rows pgx.Rows) ([]*WorkAssignment, error) {
	var assignments []*WorkAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan work assignment")
		}
		assignments = append(assignments, a)
	}
	return assignments, nil
}
