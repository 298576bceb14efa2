package service

import (
	"context"

	"github.com/stitchworks/be-mfg-subbatches/internal/client"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/cache"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/errors"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/logger"
	"github.com/stitchworks/be-mfg-subbatches/internal/repository"
)

// ExceptionService creates rejection and alteration branches: quantity is
// removed from a worked assignment and a new, independently tracked
// assignment opens at the target department, linked back to its source
// for audit.
type ExceptionService struct {
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

// NewExceptionService creates a new ExceptionService.
func NewExceptionService(
	subBatches SubBatchStore,
	workflows WorkflowStore,
	assignments AssignmentStore,
	workLogs WorkLogStore,
	exceptions ExceptionStore,
	masterData client.MasterDataClientInterface,
	publisher *client.EventPublisher,
	kanbanCache *cache.Cache,
	log *logger.Logger,
) *ExceptionService {
	return &ExceptionService{
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

// ExceptionRequest carries one rejection or alteration.
type ExceptionRequest struct {
	AssignmentID       string
	WorkLogID          string
	Quantity           int64
	TargetDepartmentID int64
	Reason             string
	ActedBy            string
}

// Reject removes quantity from a worked assignment as scrap-or-rework and
// opens a rejected-lineage assignment at the target department. The target
// may be any department, including the source itself.
func (s *ExceptionService) Reject(ctx context.Context, req *ExceptionRequest) (*repository.ExceptionEntry, *repository.WorkAssignment, error) {
	return s.branch(ctx, repository.ExceptionRejected, req)
}

// Alter removes quantity from a worked assignment for correction and opens
// an altered-lineage assignment at an earlier department in the flow. An
// alteration corrects prior work, so the target must occur strictly before
// the source assignment's department in the workflow step order.
func (s *ExceptionService) Alter(ctx context.Context, req *ExceptionRequest) (*repository.ExceptionEntry, *repository.WorkAssignment, error) {
	return s.branch(ctx, repository.ExceptionAltered, req)
}

func (s *ExceptionService) branch(ctx context.Context, kind repository.ExceptionKind, req *ExceptionRequest) (*repository.ExceptionEntry, *repository.WorkAssignment, error) {
	if req.Quantity <= 0 {
		return nil, nil, errors.InvalidInput("quantity", "quantity must be positive")
	}
	if req.Reason == "" {
		return nil, nil, errors.InvalidInput("reason", "a reason is required")
	}

	source, err := s.assignments.GetByID(ctx, req.AssignmentID)
	if err != nil {
		return nil, nil, err
	}

	subBatch, err := s.subBatches.GetByID(ctx, source.SubBatchID)
	if err != nil {
		return nil, nil, err
	}
	if err := ensureMutable(subBatch); err != nil {
		return nil, nil, err
	}

	workLog, err := s.workLogs.GetByID(ctx, req.WorkLogID)
	if err != nil {
		return nil, nil, err
	}
	if workLog.AssignmentID != source.ID {
		return nil, nil, errors.InvalidInput("work_log_id", "entry does not belong to the source assignment")
	}
	if req.Quantity > workLog.QuantityWorked {
		return nil, nil, errors.Newf(errors.ErrCodeInvalidInput,
			"quantity: cannot exceed the %d pieces worked on the referenced entry", workLog.QuantityWorked)
	}

	progress, err := assignmentProgress(ctx, s.workLogs, s.exceptions, source)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeConservationViolation) {
			s.log.Error().Err(err).
				Str("assignment_id", source.ID).
				Msg("Conservation violation detected during exception branch")
		}
		return nil, nil, err
	}
	if req.Quantity > progress.Remaining {
		err := errors.Newf(errors.ErrCodeConservationViolation,
			"branching %d pieces would leave remaining negative (remaining=%d)",
			req.Quantity, progress.Remaining)
		s.log.Error().Err(err).
			Str("assignment_id", source.ID).
			Str("sub_batch_id", source.SubBatchID).
			Msg("Exception branch rejected by quantity ledger")
		return nil, nil, err
	}

	target, err := s.masterData.GetDepartment(ctx, req.TargetDepartmentID)
	if err != nil {
		return nil, nil, err
	}

	if kind == repository.ExceptionAltered {
		if err := s.assertEarlierInFlow(ctx, source, target.ID); err != nil {
			return nil, nil, err
		}
	}

	branchKind := repository.LineageRejected
	eventType := "rejected"
	if kind == repository.ExceptionAltered {
		branchKind = repository.LineageAltered
		eventType = "altered"
	}

	branch := &repository.WorkAssignment{
		SubBatchID:       source.SubBatchID,
		DepartmentID:     target.ID,
		DepartmentName:   target.Name,
		Stage:            repository.StageNewArrival,
		Kind:             branchKind,
		IsCurrent:        true,
		QuantityReceived: req.Quantity,
		SourceLineageID:  &source.ID,
		SourceWorkLogID:  &workLog.ID,
		SourceDepartment: &source.DepartmentName,
		BranchReason:     &req.Reason,
	}
	entry := &repository.ExceptionEntry{
		SubBatchID:         source.SubBatchID,
		Kind:               kind,
		SourceAssignmentID: source.ID,
		SourceWorkLogID:    workLog.ID,
		SourceDepartmentID: source.DepartmentID,
		TargetDepartmentID: target.ID,
		Quantity:           req.Quantity,
		Reason:             req.Reason,
	}
	branchHistory := &repository.StageHistoryEntry{
		SubBatchID: source.SubBatchID,
		ToStage:    repository.StageNewArrival,
		ActedBy:    req.ActedBy,
	}

	if err := s.exceptions.CreateWithBranch(ctx, repository.BranchParams{
		SourceID:      source.ID,
		SourceVersion: source.Version,
		Entry:         entry,
		Branch:        branch,
		BranchHistory: branchHistory,
	}); err != nil {
		return nil, nil, err
	}

	s.cache.Delete(ctx,
		kanbanCacheKey(source.DepartmentID),
		kanbanCacheKey(target.ID),
	)

	s.log.Info().
		Str("sub_batch_id", source.SubBatchID).
		Str("source_assignment_id", source.ID).
		Str("branch_assignment_id", branch.ID).
		Str("kind", string(kind)).
		Int64("quantity", req.Quantity).
		Int64("target_department", target.ID).
		Str("reason", req.Reason).
		Msg("Exception branch created")

	s.publisher.Publish(ctx, &client.ProductionEvent{
		EventType:    eventType,
		SubBatchID:   source.SubBatchID,
		AssignmentID: branch.ID,
		DepartmentID: target.ID,
		ActorID:      req.ActedBy,
		Payload: map[string]interface{}{
			"source_assignment_id": source.ID,
			"quantity":             req.Quantity,
			"reason":               req.Reason,
		},
	})

	return entry, branch, nil
}

// assertEarlierInFlow enforces alteration directionality: the target must
// sit strictly before the source assignment's department in the workflow
// step order. Off-route departments and the source itself are invalid.
func (s *ExceptionService) assertEarlierInFlow(ctx context.Context, source *repository.WorkAssignment, targetDepartmentID int64) error {
	wf, err := s.workflows.GetBySubBatchID(ctx, source.SubBatchID)
	if err != nil {
		return err
	}
	if wf == nil {
		return errors.NotFound("workflow", source.SubBatchID)
	}

	sourceStep := wf.StepFor(source.DepartmentID)
	targetStep := wf.StepFor(targetDepartmentID)
	if sourceStep == nil || targetStep == nil {
		return errors.New(errors.ErrCodeInvalidAlterationTarget,
			"alteration target must be a department on the sub-batch's workflow")
	}
	if targetStep.Position >= sourceStep.Position {
		return errors.Newf(errors.ErrCodeInvalidAlterationTarget,
			"alteration must go to an earlier department (target position %d, source position %d)",
			targetStep.Position, sourceStep.Position)
	}
	return nil
}
