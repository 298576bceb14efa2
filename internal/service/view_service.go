package service

import (
	"context"
	"encoding/json"

	"github.com/stitchworks/be-mfg-subbatches/internal/ledger"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/cache"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/errors"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/logger"
	"github.com/stitchworks/be-mfg-subbatches/internal/repository"
)

// ViewService serves the read-only kanban and flow-reconstruction queries.
type ViewService struct {
	subBatches  SubBatchStore
	workflows   WorkflowStore
	assignments AssignmentStore
	workLogs    WorkLogStore
	exceptions  ExceptionStore
	history     HistoryStore
	cache       *cache.Cache
	log         *logger.Logger
}

// NewViewService creates a new ViewService.
func NewViewService(
	subBatches SubBatchStore,
	workflows WorkflowStore,
	assignments AssignmentStore,
	workLogs WorkLogStore,
	exceptions ExceptionStore,
	history HistoryStore,
	kanbanCache *cache.Cache,
	log *logger.Logger,
) *ViewService {
	return &ViewService{
		subBatches:  subBatches,
		workflows:   workflows,
		assignments: assignments,
		workLogs:    workLogs,
		exceptions:  exceptions,
		history:     history,
		cache:       kanbanCache,
		log:         log,
	}
}

// ── Kanban ────────────────────────────────────────────────────────────────────

// KanbanCard is one assignment on the department board.
type KanbanCard struct {
	AssignmentID     string                 `json:"assignment_id"`
	SubBatchID       string                 `json:"sub_batch_id"`
	Kind             repository.LineageKind `json:"kind"`
	QuantityReceived int64                  `json:"quantity_received"`
	SourceDepartment *string                `json:"source_department,omitempty"`
	BranchReason     *string                `json:"branch_reason,omitempty"`
}

// KanbanView groups a department's current assignments by stage.
type KanbanView struct {
	DepartmentID int64        `json:"department_id"`
	NewArrival   []KanbanCard `json:"new_arrival"`
	InProgress   []KanbanCard `json:"in_progress"`
	Completed    []KanbanCard `json:"completed"`
}

// GetKanbanView returns the current assignments at a department grouped by
// stage. Served from the Redis cache when warm; mutating services
// invalidate the department's key.
func (s *ViewService) GetKanbanView(ctx context.Context, departmentID int64) (*KanbanView, error) {
	key := kanbanCacheKey(departmentID)
	if data, ok := s.cache.Get(ctx, key); ok {
		view := &KanbanView{}
		if err := json.Unmarshal(data, view); err == nil {
			return view, nil
		}
		s.cache.Delete(ctx, key)
	}

	assignments, err := s.assignments.ListCurrentByDepartment(ctx, departmentID)
	if err != nil {
		return nil, err
	}

	view := &KanbanView{
		DepartmentID: departmentID,
		NewArrival:   []KanbanCard{},
		InProgress:   []KanbanCard{},
		Completed:    []KanbanCard{},
	}
	for _, a := range assignments {
		card := KanbanCard{
			AssignmentID:     a.ID,
			SubBatchID:       a.SubBatchID,
			Kind:             a.Kind,
			QuantityReceived: a.QuantityReceived,
			SourceDepartment: a.SourceDepartment,
			BranchReason:     a.BranchReason,
		}
		switch a.Stage {
		case repository.StageNewArrival:
			view.NewArrival = append(view.NewArrival, card)
		case repository.StageInProgress:
			view.InProgress = append(view.InProgress, card)
		case repository.StageCompleted:
			view.Completed = append(view.Completed, card)
		}
	}

	if data, err := json.Marshal(view); err == nil {
		s.cache.Set(ctx, key, data)
	}
	return view, nil
}

// ── Flow reconstruction ───────────────────────────────────────────────────────

// AssignmentFlow is one assignment with its full accounting detail.
type AssignmentFlow struct {
	AssignmentID     string                          `json:"assignment_id"`
	Kind             repository.LineageKind          `json:"kind"`
	Stage            repository.Stage                `json:"stage"`
	IsCurrent        bool                            `json:"is_current"`
	QuantityReceived int64                           `json:"quantity_received"`
	Progress         ledger.Progress                 `json:"progress"`
	SourceDepartment *string                         `json:"source_department,omitempty"`
	BranchReason     *string                         `json:"branch_reason,omitempty"`
	WorkLogs         []*repository.WorkLogEntry      `json:"work_logs"`
	Exceptions       []*repository.ExceptionEntry    `json:"exceptions"`
	History          []*repository.StageHistoryEntry `json:"history"`
}

// DepartmentFlow is one department's slice of the narrative. Position is
// the workflow step index, or -1 for off-route departments reached only by
// exception branches.
type DepartmentFlow struct {
	DepartmentID   int64            `json:"department_id"`
	DepartmentName string           `json:"department_name"`
	Position       int              `json:"position"`
	Assignments    []AssignmentFlow `json:"assignments"`
}

// FlowView is the reconstructed production narrative of a sub-batch.
type FlowView struct {
	SubBatchID       string                    `json:"sub_batch_id"`
	Status           repository.SubBatchStatus `json:"status"`
	EstimatedPieces  int64                     `json:"estimated_pieces"`
	CurrentStepIndex int                       `json:"current_step_index"`
	Departments      []DepartmentFlow          `json:"departments"`
}

// ReconstructFlow rebuilds the department-by-department narrative of a
// sub-batch from the structured workflow steps, grouping work logs,
// exceptions, and stage history by assignment and noting lineage kind.
func (s *ViewService) ReconstructFlow(ctx context.Context, subBatchID string) (*FlowView, error) {
	subBatch, err := s.subBatches.GetByID(ctx, subBatchID)
	if err != nil {
		return nil, err
	}

	wf, err := s.workflows.GetBySubBatchID(ctx, subBatchID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, errors.NotFound("workflow", subBatchID)
	}

	assignments, err := s.assignments.ListBySubBatch(ctx, subBatchID)
	if err != nil {
		return nil, err
	}
	logs, err := s.workLogs.ListBySubBatch(ctx, subBatchID)
	if err != nil {
		return nil, err
	}
	exs, err := s.exceptions.ListBySubBatch(ctx, subBatchID)
	if err != nil {
		return nil, err
	}
	hist, err := s.history.ListBySubBatch(ctx, subBatchID)
	if err != nil {
		return nil, err
	}

	logsByAssignment := make(map[string][]*repository.WorkLogEntry)
	for _, entry := range logs {
		logsByAssignment[entry.AssignmentID] = append(logsByAssignment[entry.AssignmentID], entry)
	}
	exsBySource := make(map[string][]*repository.ExceptionEntry)
	for _, entry := range exs {
		exsBySource[entry.SourceAssignmentID] = append(exsBySource[entry.SourceAssignmentID], entry)
	}
	histByAssignment := make(map[string][]*repository.StageHistoryEntry)
	for _, entry := range hist {
		histByAssignment[entry.AssignmentID] = append(histByAssignment[entry.AssignmentID], entry)
	}

	byDepartment := make(map[int64][]*repository.WorkAssignment)
	for _, a := range assignments {
		byDepartment[a.DepartmentID] = append(byDepartment[a.DepartmentID], a)
	}

	view := &FlowView{
		SubBatchID:       subBatchID,
		Status:           subBatch.Status,
		EstimatedPieces:  subBatch.EstimatedPieces,
		CurrentStepIndex: wf.CurrentStepIndex,
	}

	onRoute := make(map[int64]bool)
	for _, step := range wf.Steps {
		onRoute[step.DepartmentID] = true
		flow := DepartmentFlow{
			DepartmentID:   step.DepartmentID,
			DepartmentName: step.DepartmentName,
			Position:       step.Position,
			Assignments:    []AssignmentFlow{},
		}
		for _, a := range byDepartment[step.DepartmentID] {
			af, err := s.assignmentFlow(a, logsByAssignment, exsBySource, histByAssignment)
			if err != nil {
				return nil, err
			}
			flow.Assignments = append(flow.Assignments, af)
		}
		view.Departments = append(view.Departments, flow)
	}

	// Branch targets outside the planned route, in first-seen order.
	for _, a := range assignments {
		if onRoute[a.DepartmentID] {
			continue
		}
		onRoute[a.DepartmentID] = true

		flow := DepartmentFlow{
			DepartmentID:   a.DepartmentID,
			DepartmentName: a.DepartmentName,
			Position:       -1,
			Assignments:    []AssignmentFlow{},
		}
		for _, other := range byDepartment[a.DepartmentID] {
			af, err := s.assignmentFlow(other, logsByAssignment, exsBySource, histByAssignment)
			if err != nil {
				return nil, err
			}
			flow.Assignments = append(flow.Assignments, af)
		}
		view.Departments = append(view.Departments, flow)
	}

	return view, nil
}

func (s *ViewService) assignmentFlow(
	a *repository.WorkAssignment,
	logs map[string][]*repository.WorkLogEntry,
	exs map[string][]*repository.ExceptionEntry,
	hist map[string][]*repository.StageHistoryEntry,
) (AssignmentFlow, error) {
	progress, err := ledger.ComputeProgress(a.QuantityReceived, logs[a.ID], exs[a.ID])
	if err != nil {
		s.log.Error().Err(err).
			Str("assignment_id", a.ID).
			Str("sub_batch_id", a.SubBatchID).
			Msg("Conservation violation detected during flow reconstruction")
		return AssignmentFlow{}, err
	}

	af := AssignmentFlow{
		AssignmentID:     a.ID,
		Kind:             a.Kind,
		Stage:            a.Stage,
		IsCurrent:        a.IsCurrent,
		QuantityReceived: a.QuantityReceived,
		Progress:         progress,
		SourceDepartment: a.SourceDepartment,
		BranchReason:     a.BranchReason,
		WorkLogs:         logs[a.ID],
		Exceptions:       exs[a.ID],
		History:          hist[a.ID],
	}
	if af.WorkLogs == nil {
		af.WorkLogs = []*repository.WorkLogEntry{}
	}
	if af.Exceptions == nil {
		af.Exceptions = []*repository.ExceptionEntry{}
	}
	if af.History == nil {
		af.History = []*repository.StageHistoryEntry{}
	}
	return af, nil
}
