package service

import (
	"context"
	"fmt"

	"github.com/stitchworks/be-mfg-subbatches/internal/client"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/cache"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/errors"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/logger"
	"github.com/stitchworks/be-mfg-subbatches/internal/repository"
)

// RoutingService owns the ordered department sequence of a sub-batch: it
// dispatches the workflow, advances the main lineage step by step, and
// applies the one-way completion gate.
type RoutingService struct {
	subBatches  SubBatchStore
	workflows   WorkflowStore
	assignments AssignmentStore
	workLogs    WorkLogStore
	exceptions  ExceptionStore
	masterData  client.MasterDataClientInterface
	publisher   *client.EventPublisher
	cache       *cache.Cache
	log         *logger.Logger
}

// NewRoutingService creates a new RoutingService.
func NewRoutingService(
	subBatches SubBatchStore,
	workflows WorkflowStore,
	assignments AssignmentStore,
	workLogs WorkLogStore,
	exceptions ExceptionStore,
	masterData client.MasterDataClientInterface,
	publisher *client.EventPublisher,
	kanbanCache *cache.Cache,
	log *logger.Logger,
) *RoutingService {
	return &RoutingService{
		subBatches:  subBatches,
		workflows:   workflows,
		assignments: assignments,
		workLogs:    workLogs,
		exceptions:  exceptions,
		masterData:  masterData,
		publisher:   publisher,
		cache:       kanbanCache,
		log:         log,
	}
}

// ── Dispatch ──────────────────────────────────────────────────────────────────

// Dispatch creates the workflow for a sub-batch from the planner-supplied
// department order and opens the first main-lineage assignment with the
// full estimated quantity.
func (s *RoutingService) Dispatch(ctx context.Context, subBatchID string, departmentIDs []int64, dispatchedBy string) (*repository.Workflow, *repository.WorkAssignment, error) {
	if len(departmentIDs) == 0 {
		return nil, nil, errors.InvalidInput("department_ids", "at least one department is required")
	}

	subBatch, err := s.subBatches.GetByID(ctx, subBatchID)
	if err != nil {
		return nil, nil, err
	}
	if err := ensureMutable(subBatch); err != nil {
		return nil, nil, err
	}

	existing, err := s.workflows.GetBySubBatchID(ctx, subBatchID)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, errors.New(errors.ErrCodeAlreadyDispatched,
			fmt.Sprintf("sub-batch %s already has a workflow", subBatchID))
	}

	wf := &repository.Workflow{SubBatchID: subBatchID, CurrentStepIndex: 0}
	for i, deptID := range departmentIDs {
		dept, err := s.masterData.GetDepartment(ctx, deptID)
		if err != nil {
			return nil, nil, err
		}
		wf.Steps = append(wf.Steps, &repository.WorkflowStep{
			DepartmentID:   dept.ID,
			DepartmentName: dept.Name,
			Position:       i,
		})
	}

	first := &repository.WorkAssignment{
		SubBatchID:       subBatchID,
		DepartmentID:     wf.Steps[0].DepartmentID,
		DepartmentName:   wf.Steps[0].DepartmentName,
		Stage:            repository.StageNewArrival,
		Kind:             repository.LineageMain,
		IsCurrent:        true,
		QuantityReceived: subBatch.EstimatedPieces,
	}
	firstHistory := &repository.StageHistoryEntry{
		SubBatchID: subBatchID,
		ToStage:    repository.StageNewArrival,
		ActedBy:    dispatchedBy,
	}

	if err := s.workflows.CreateWithFirstAssignment(ctx, wf, first, firstHistory); err != nil {
		return nil, nil, err
	}

	s.cache.Delete(ctx, kanbanCacheKey(first.DepartmentID))

	s.log.Info().
		Str("sub_batch_id", subBatchID).
		Str("workflow_id", wf.ID).
		Int("step_count", len(wf.Steps)).
		Int64("quantity", first.QuantityReceived).
		Str("dispatched_by", dispatchedBy).
		Msg("Sub-batch dispatched to production")

	s.publisher.Publish(ctx, &client.ProductionEvent{
		EventType:    "dispatched",
		SubBatchID:   subBatchID,
		AssignmentID: first.ID,
		DepartmentID: first.DepartmentID,
		ActorID:      dispatchedBy,
		Payload: map[string]interface{}{
			"workflow_id": wf.ID,
			"step_count":  len(wf.Steps),
		},
	})

	return wf, first, nil
}

// ── Advance ───────────────────────────────────────────────────────────────────

// Advance moves the main lineage to the next department. The current head
// must be fully accounted for (remaining == 0); the next assignment
// receives the quantity actually worked, so a lot shrinks as rejected and
// altered pieces leave the main flow. At the final step Advance returns
// (nil, nil): a normal terminal condition, not an error.
//
// Exactly one of two concurrent advances succeeds; the loser observes
// ConcurrentModification and should re-read and retry.
func (s *RoutingService) Advance(ctx context.Context, subBatchID, actedBy string) (*repository.WorkAssignment, error) {
	subBatch, err := s.subBatches.GetByID(ctx, subBatchID)
	if err != nil {
		return nil, err
	}
	if err := ensureMutable(subBatch); err != nil {
		return nil, err
	}

	wf, err := s.workflows.GetBySubBatchID(ctx, subBatchID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, errors.NotFound("workflow", subBatchID)
	}
	if wf.AtFinalStep() {
		return nil, nil
	}

	currentStep := wf.CurrentStep()
	head, err := s.assignments.GetCurrentHead(ctx, subBatchID, currentStep.DepartmentID, repository.LineageMain)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, errors.NotFound("work_assignment",
			fmt.Sprintf("no current main assignment at department %d", currentStep.DepartmentID))
	}

	progress, err := assignmentProgress(ctx, s.workLogs, s.exceptions, head)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeConservationViolation) {
			s.log.Error().Err(err).
				Str("assignment_id", head.ID).
				Str("sub_batch_id", subBatchID).
				Msg("Conservation violation detected during advance")
		}
		return nil, err
	}
	if progress.Remaining != 0 {
		return nil, errors.Newf(errors.ErrCodeIncompleteWork,
			"complete remaining work before advancing (remaining=%d)", progress.Remaining)
	}

	nextStep := wf.Steps[wf.CurrentStepIndex+1]
	next := &repository.WorkAssignment{
		SubBatchID:       subBatchID,
		DepartmentID:     nextStep.DepartmentID,
		DepartmentName:   nextStep.DepartmentName,
		Stage:            repository.StageNewArrival,
		Kind:             repository.LineageMain,
		IsCurrent:        true,
		QuantityReceived: progress.Worked,
		SourceLineageID:  &head.ID,
	}
	nextHistory := &repository.StageHistoryEntry{
		SubBatchID: subBatchID,
		ToStage:    repository.StageNewArrival,
		ActedBy:    actedBy,
	}

	err = s.assignments.Advance(ctx, repository.AdvanceParams{
		WorkflowID:        wf.ID,
		ExpectedStepIndex: wf.CurrentStepIndex,
		SubBatchID:        subBatchID,
		DepartmentID:      currentStep.DepartmentID,
		ClosingID:         head.ID,
		ClosingVersion:    head.Version,
		Next:              next,
		NextHistory:       nextHistory,
	})
	if err != nil {
		return nil, err
	}

	s.cache.Delete(ctx,
		kanbanCacheKey(currentStep.DepartmentID),
		kanbanCacheKey(nextStep.DepartmentID),
	)

	s.log.Info().
		Str("sub_batch_id", subBatchID).
		Str("closed_assignment_id", head.ID).
		Str("next_assignment_id", next.ID).
		Int64("from_department", currentStep.DepartmentID).
		Int64("to_department", nextStep.DepartmentID).
		Int64("quantity_forward", next.QuantityReceived).
		Msg("Sub-batch advanced")

	s.publisher.Publish(ctx, &client.ProductionEvent{
		EventType:    "advanced",
		SubBatchID:   subBatchID,
		AssignmentID: next.ID,
		DepartmentID: nextStep.DepartmentID,
		ActorID:      actedBy,
		Payload: map[string]interface{}{
			"from_department_id": currentStep.DepartmentID,
			"quantity_forward":   next.QuantityReceived,
		},
	})

	return next, nil
}

// ── Completion gate ───────────────────────────────────────────────────────────

// MarkCompleted freezes a sub-batch once the terminal department's main
// assignment is completed. Irreversible: no operation in this core ever
// leaves the completed status.
func (s *RoutingService) MarkCompleted(ctx context.Context, subBatchID, actedBy string) (*repository.SubBatch, error) {
	subBatch, err := s.subBatches.GetByID(ctx, subBatchID)
	if err != nil {
		return nil, err
	}
	if err := ensureMutable(subBatch); err != nil {
		return nil, err
	}

	wf, err := s.workflows.GetBySubBatchID(ctx, subBatchID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, errors.NotFound("workflow", subBatchID)
	}
	if !wf.AtFinalStep() {
		return nil, errors.Newf(errors.ErrCodeNotAtFinalDepartment,
			"sub-batch is at step %d of %d", wf.CurrentStepIndex+1, len(wf.Steps))
	}

	finalStep := wf.CurrentStep()
	head, err := s.assignments.GetCurrentHead(ctx, subBatchID, finalStep.DepartmentID, repository.LineageMain)
	if err != nil {
		return nil, err
	}
	if head == nil || head.Stage != repository.StageCompleted {
		return nil, errors.New(errors.ErrCodeNotAtFinalDepartment,
			"final department assignment is not completed")
	}

	if err := s.subBatches.MarkCompleted(ctx, subBatchID); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("sub_batch_id", subBatchID).
		Str("final_assignment_id", head.ID).
		Str("acted_by", actedBy).
		Msg("Sub-batch completed and frozen")

	s.publisher.Publish(ctx, &client.ProductionEvent{
		EventType:    "completed",
		SubBatchID:   subBatchID,
		AssignmentID: head.ID,
		DepartmentID: finalStep.DepartmentID,
		ActorID:      actedBy,
	})

	subBatch.Status = repository.SubBatchCompleted
	return subBatch, nil
}
