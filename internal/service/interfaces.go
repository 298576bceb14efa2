package service

import (
	"context"

	"github.com/stitchworks/be-mfg-subbatches/internal/repository"
)

// Store interfaces abstract the pgx repositories so the routing logic can
// be exercised against in-memory fakes. The concrete implementations live
// in internal/repository.

// SubBatchStore reads sub-batches and applies the completion freeze.
type SubBatchStore interface {
	GetByID(ctx context.Context, id string) (*repository.SubBatch, error)
	MarkCompleted(ctx context.Context, id string) error
}

// WorkflowStore persists workflow instances and their ordered steps.
type WorkflowStore interface {
	CreateWithFirstAssignment(ctx context.Context, wf *repository.Workflow, first *repository.WorkAssignment, firstHistory *repository.StageHistoryEntry) error
	GetBySubBatchID(ctx context.Context, subBatchID string) (*repository.Workflow, error)
}

// AssignmentStore persists work assignments and runs the advance
// transaction.
type AssignmentStore interface {
	GetByID(ctx context.Context, id string) (*repository.WorkAssignment, error)
	GetCurrentHead(ctx context.Context, subBatchID string, departmentID int64, kind repository.LineageKind) (*repository.WorkAssignment, error)
	ListBySubBatch(ctx context.Context, subBatchID string) ([]*repository.WorkAssignment, error)
	ListCurrentByDepartment(ctx context.Context, departmentID int64) ([]*repository.WorkAssignment, error)
	UpdateStage(ctx context.Context, id string, to repository.Stage, history *repository.StageHistoryEntry) error
	Advance(ctx context.Context, p repository.AdvanceParams) error
}

// WorkLogStore persists work-log entries.
type WorkLogStore interface {
	Create(ctx context.Context, entry *repository.WorkLogEntry, assignmentVersion int64) error
	GetByID(ctx context.Context, id string) (*repository.WorkLogEntry, error)
	ListByAssignment(ctx context.Context, assignmentID string) ([]*repository.WorkLogEntry, error)
	ListBySubBatch(ctx context.Context, subBatchID string) ([]*repository.WorkLogEntry, error)
}

// ExceptionStore persists rejection/alteration entries and their branches.
type ExceptionStore interface {
	CreateWithBranch(ctx context.Context, p repository.BranchParams) error
	ListBySourceAssignment(ctx context.Context, assignmentID string) ([]*repository.ExceptionEntry, error)
	ListBySubBatch(ctx context.Context, subBatchID string) ([]*repository.ExceptionEntry, error)
}

// HistoryStore reads the append-only stage-transition log.
type HistoryStore interface {
	ListBySubBatch(ctx context.Context, subBatchID string) ([]*repository.StageHistoryEntry, error)
	ListByAssignment(ctx context.Context, assignmentID string) ([]*repository.StageHistoryEntry, error)
}
