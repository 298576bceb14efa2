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

// StageService governs the three-state lifecycle of a single work
// assignment. Every transition is recorded to the append-only history.
type StageService struct {
	subBatches  SubBatchStore
	assignments AssignmentStore
	publisher   *client.EventPublisher
	cache       *cache.Cache
	log         *logger.Logger
}

// NewStageService creates a new StageService.
func NewStageService(
	subBatches SubBatchStore,
	assignments AssignmentStore,
	publisher *client.EventPublisher,
	kanbanCache *cache.Cache,
	log *logger.Logger,
) *StageService {
	return &StageService{
		subBatches:  subBatches,
		assignments: assignments,
		publisher:   publisher,
		cache:       kanbanCache,
		log:         log,
	}
}

// MoveStage transitions an assignment to the given stage. Backward
// transitions (completed back to in_progress) are allowed for corrections;
// the only hard gate is the sub-batch freeze. Moving to completed has no
// quantity side effects; advancing the workflow is a separate, explicit
// operation.
func (s *StageService) MoveStage(ctx context.Context, assignmentID string, to repository.Stage, actedBy string) (*repository.WorkAssignment, error) {
	if !to.Valid() {
		return nil, errors.InvalidInput("to_stage", fmt.Sprintf("unknown stage '%s'", to))
	}

	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	subBatch, err := s.subBatches.GetByID(ctx, assignment.SubBatchID)
	if err != nil {
		return nil, err
	}
	if err := ensureMutable(subBatch); err != nil {
		return nil, err
	}

	if assignment.Stage == to {
		return assignment, nil
	}

	history := &repository.StageHistoryEntry{
		AssignmentID: assignment.ID,
		SubBatchID:   assignment.SubBatchID,
		FromStage:    assignment.Stage,
		ToStage:      to,
		ActedBy:      actedBy,
	}
	if err := s.assignments.UpdateStage(ctx, assignment.ID, to, history); err != nil {
		return nil, err
	}

	s.cache.Delete(ctx, kanbanCacheKey(assignment.DepartmentID))

	s.log.Info().
		Str("assignment_id", assignment.ID).
		Str("sub_batch_id", assignment.SubBatchID).
		Str("from_stage", string(assignment.Stage)).
		Str("to_stage", string(to)).
		Str("acted_by", actedBy).
		Msg("Assignment stage moved")

	s.publisher.Publish(ctx, &client.ProductionEvent{
		EventType:    "stage_moved",
		SubBatchID:   assignment.SubBatchID,
		AssignmentID: assignment.ID,
		DepartmentID: assignment.DepartmentID,
		ActorID:      actedBy,
		Payload: map[string]interface{}{
			"from_stage": string(assignment.Stage),
			"to_stage":   string(to),
		},
	})

	assignment.Stage = to
	return assignment, nil
}
