package service

import (
	"context"
	"fmt"

	"github.com/stitchworks/be-mfg-subbatches/internal/ledger"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/errors"
	"github.com/stitchworks/be-mfg-subbatches/internal/repository"
)

// ensureMutable rejects operations on frozen sub-batches. Completed and
// cancelled sub-batches are both terminal for this core.
func ensureMutable(sb *repository.SubBatch) error {
	switch sb.Status {
	case repository.SubBatchCompleted:
		return errors.New(errors.ErrCodeSubBatchFrozen,
			fmt.Sprintf("sub-batch %s is completed and frozen", sb.ID))
	case repository.SubBatchCancelled:
		return errors.New(errors.ErrCodeSubBatchFrozen,
			fmt.Sprintf("sub-batch %s is cancelled and frozen", sb.ID))
	}
	return nil
}

// assignmentProgress loads the ledger inputs for one assignment and
// derives its conservation breakdown.
func assignmentProgress(
	ctx context.Context,
	workLogs WorkLogStore,
	exceptions ExceptionStore,
	a *repository.WorkAssignment,
) (ledger.Progress, error) {
	logs, err := workLogs.ListByAssignment(ctx, a.ID)
	if err != nil {
		return ledger.Progress{}, err
	}
	exs, err := exceptions.ListBySourceAssignment(ctx, a.ID)
	if err != nil {
		return ledger.Progress{}, err
	}
	return ledger.ComputeProgress(a.QuantityReceived, logs, exs)
}

// kanbanCacheKey is the Redis key for one department's kanban view.
func kanbanCacheKey(departmentID int64) string {
	return fmt.Sprintf("kanban:dept:%d", departmentID)
}
