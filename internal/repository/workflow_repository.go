package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stitchworks/be-mfg-subbatches/internal/platform/database"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/errors"
)

// WorkflowRepository manages workflow instances and their ordered steps.
// Workflow, steps, and the step-0 assignment are always created together
// in a single transaction.
type WorkflowRepository struct {
	db *database.DB
}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository(db *database.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// CreateWithFirstAssignment inserts the workflow, its steps, the initial
// main-lineage assignment, and the creation history record, and moves the
// sub-batch into production, all in one transaction.
func (r *WorkflowRepository) CreateWithFirstAssignment(
	ctx context.Context,
	wf *Workflow,
	first *WorkAssignment,
	firstHistory *StageHistoryEntry,
) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if wf.ID == "" {
			wf.ID = uuid.NewString()
		}

		wfQuery := `
			INSERT INTO workflows (id, sub_batch_id, current_step_index)
			VALUES ($1, $2, $3)
			RETURNING created_at, updated_at
		`
		err := tx.QueryRow(ctx, wfQuery, wf.ID, wf.SubBatchID, wf.CurrentStepIndex).
			Scan(&wf.CreatedAt, &wf.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create workflow")
		}

		stepQuery := `
			INSERT INTO workflow_steps
			    (id, workflow_id, department_id, department_name, position)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at
		`
		for _, step := range wf.Steps {
			if step.ID == "" {
				step.ID = uuid.NewString()
			}
			step.WorkflowID = wf.ID

			err := tx.QueryRow(ctx, stepQuery,
				step.ID,
				step.WorkflowID,
				step.DepartmentID,
				step.DepartmentName,
				step.Position,
			).Scan(&step.CreatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create workflow step")
			}
		}

		if err := insertAssignment(ctx, tx, first); err != nil {
			return err
		}
		if firstHistory != nil {
			firstHistory.AssignmentID = first.ID
		}
		if err := insertHistory(ctx, tx, firstHistory); err != nil {
			return err
		}

		statusQuery := `
			UPDATE sub_batches
			SET status     = 'in_production'::sub_batch_status,
			    updated_at = NOW()
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, statusQuery, wf.SubBatchID); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to move sub-batch into production")
		}

		return nil
	})
}

// GetBySubBatchID returns the workflow (with steps, ordered by position)
// for a sub-batch, or nil when none has been dispatched yet.
func (r *WorkflowRepository) GetBySubBatchID(ctx context.Context, subBatchID string) (*Workflow, error) {
	wfQuery := `
		SELECT id, sub_batch_id, current_step_index, created_at, updated_at
		FROM workflows
		WHERE sub_batch_id = $1
	`

	wf := &Workflow{}
	err := r.db.QueryRow(ctx, wfQuery, subBatchID).Scan(
		&wf.ID,
		&wf.SubBatchID,
		&wf.CurrentStepIndex,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get workflow")
	}

	stepQuery := `
		SELECT id, workflow_id, department_id, department_name, position, created_at
		FROM workflow_steps
		WHERE workflow_id = $1
		ORDER BY position ASC
	`

	rows, err := r.db.Query(ctx, stepQuery, wf.ID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get workflow steps")
	}
	defer rows.Close()

	for rows.Next() {
		step := &WorkflowStep{}
		err := rows.Scan(
			&step.ID,
			&step.WorkflowID,
			&step.DepartmentID,
			&step.DepartmentName,
			&step.Position,
			&step.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow step")
		}
		wf.Steps = append(wf.Steps, step)
	}

	return wf, nil
}
