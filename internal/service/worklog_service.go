package service

import (
	"context"
	"time"

	"github.com/stitchworks/be-mfg-subbatches/internal/client"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/errors"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/logger"
	"github.com/stitchworks/be-mfg-subbatches/internal/repository"
)

// WorkLogService records acts of work against in-progress assignments,
// gated by the quantity ledger so a worker can never log more pieces than
// the assignment still holds.
type WorkLogService struct {
	subBatches  SubBatchStore
	assignments AssignmentStore
	workLogs    WorkLogStore
	exceptions  ExceptionStore
	masterData  client.MasterDataClientInterface
	publisher   *client.EventPublisher
	log         *logger.Logger
}

// NewWorkLogService creates a new WorkLogService.
func NewWorkLogService(
	subBatches SubBatchStore,
	assignments AssignmentStore,
	workLogs WorkLogStore,
	exceptions ExceptionStore,
	masterData client.MasterDataClientInterface,
	publisher *client.EventPublisher,
	log *logger.Logger,
) *WorkLogService {
	return &WorkLogService{
		subBatches:  subBatches,
		assignments: assignments,
		workLogs:    workLogs,
		exceptions:  exceptions,
		masterData:  masterData,
		publisher:   publisher,
		log:         log,
	}
}

// LogWorkRequest represents one recorded act of work.
type LogWorkRequest struct {
	AssignmentID     string
	WorkerID         int64
	WorkDate         string // YYYY-MM-DD
	QuantityReceived int64
	QuantityWorked   int64
	UnitPrice        int64 // cents per piece
	ActivityType     repository.ActivityType
}

// LogWork validates and records a work-log entry.
func (s *WorkLogService) LogWork(ctx context.Context, req *LogWorkRequest) (*repository.WorkLogEntry, error) {
	if req.QuantityWorked <= 0 {
		return nil, errors.InvalidInput("quantity_worked", "quantity must be positive")
	}
	if req.QuantityReceived < 0 {
		return nil, errors.InvalidInput("quantity_received", "quantity cannot be negative")
	}
	if req.UnitPrice < 0 {
		return nil, errors.InvalidInput("unit_price", "unit price cannot be negative")
	}
	if _, err := time.Parse("2006-01-02", req.WorkDate); err != nil {
		return nil, errors.InvalidInput("work_date", "invalid date format, expected YYYY-MM-DD")
	}

	activity := req.ActivityType
	if activity == "" {
		activity = repository.ActivityNormal
	}
	switch activity {
	case repository.ActivityNormal, repository.ActivityRejected, repository.ActivityAltered:
	default:
		return nil, errors.InvalidInput("activity_type", "unknown activity type")
	}

	assignment, err := s.assignments.GetByID(ctx, req.AssignmentID)
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

	if assignment.Stage != repository.StageInProgress {
		return nil, errors.Newf(errors.ErrCodeConflict,
			"work can only be logged against an in-progress assignment (stage: %s)", assignment.Stage)
	}

	// Worker lookup is advisory when master data is unreachable, hard when
	// the worker genuinely does not exist.
	if _, err := s.masterData.GetWorker(ctx, req.WorkerID); err != nil {
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			return nil, errors.InvalidInput("worker_id", "unknown worker")
		}
		s.log.Warn().Err(err).Int64("worker_id", req.WorkerID).
			Msg("Could not verify worker; accepting work log")
	}

	progress, err := assignmentProgress(ctx, s.workLogs, s.exceptions, assignment)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeConservationViolation) {
			s.log.Error().Err(err).
				Str("assignment_id", assignment.ID).
				Msg("Conservation violation detected during work logging")
		}
		return nil, err
	}
	if req.QuantityWorked > progress.Remaining {
		return nil, errors.Newf(errors.ErrCodeInvalidInput,
			"quantity_worked: only %d pieces remain on this assignment", progress.Remaining)
	}

	entry := &repository.WorkLogEntry{
		AssignmentID:     assignment.ID,
		SubBatchID:       assignment.SubBatchID,
		WorkerID:         req.WorkerID,
		WorkDate:         req.WorkDate,
		QuantityReceived: req.QuantityReceived,
		QuantityWorked:   req.QuantityWorked,
		UnitPrice:        req.UnitPrice,
		ActivityType:     activity,
	}
	if err := s.workLogs.Create(ctx, entry, assignment.Version); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("work_log_id", entry.ID).
		Str("assignment_id", assignment.ID).
		Str("sub_batch_id", assignment.SubBatchID).
		Int64("worker_id", req.WorkerID).
		Int64("quantity_worked", req.QuantityWorked).
		Msg("Work logged")

	s.publisher.Publish(ctx, &client.ProductionEvent{
		EventType:    "work_logged",
		SubBatchID:   assignment.SubBatchID,
		AssignmentID: assignment.ID,
		DepartmentID: assignment.DepartmentID,
		Payload: map[string]interface{}{
			"work_log_id":     entry.ID,
			"worker_id":       req.WorkerID,
			"quantity_worked": req.QuantityWorked,
		},
	})

	return entry, nil
}

// ListByAssignment returns the work-log entries for one assignment.
func (s *WorkLogService) ListByAssignment(ctx context.Context, assignmentID string) ([]*repository.WorkLogEntry, error) {
	return s.workLogs.ListByAssignment(ctx, assignmentID)
}
