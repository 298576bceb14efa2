package service

import (
	"context"
	"testing"

	"github.com/stitchworks/be-mfg-subbatches/internal/platform/errors"
	"github.com/stitchworks/be-mfg-subbatches/internal/repository"
)

func TestDispatchCreatesWorkflowAndFirstAssignment(t *testing.T) {
	f := newFixture(10, 20, 30)
	sb := f.seedSubBatch(100)
	ctx := context.Background()

	wf, first, err := f.routing.Dispatch(ctx, sb.ID, []int64{10, 20, 30}, "planner")
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if len(wf.Steps) != 3 {
		t.Fatalf("expected 3 workflow steps, got %d", len(wf.Steps))
	}
	if wf.CurrentStepIndex != 0 {
		t.Errorf("expected cursor at 0, got %d", wf.CurrentStepIndex)
	}
	for i, wantDept := range []int64{10, 20, 30} {
		if wf.Steps[i].DepartmentID != wantDept {
			t.Errorf("step %d: expected department %d, got %d", i, wantDept, wf.Steps[i].DepartmentID)
		}
		if wf.Steps[i].Position != i {
			t.Errorf("step %d: expected position %d, got %d", i, i, wf.Steps[i].Position)
		}
	}

	if first.DepartmentID != 10 {
		t.Errorf("expected first assignment at department 10, got %d", first.DepartmentID)
	}
	if first.QuantityReceived != 100 {
		t.Errorf("expected first assignment to receive 100 pieces, got %d", first.QuantityReceived)
	}
	if first.Stage != repository.StageNewArrival {
		t.Errorf("expected stage new_arrival, got %s", first.Stage)
	}
	if first.Kind != repository.LineageMain {
		t.Errorf("expected main lineage, got %s", first.Kind)
	}
	if !first.IsCurrent {
		t.Error("expected first assignment to be current")
	}

	got, err := f.store.GetByID(ctx, sb.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != repository.SubBatchInProduction {
		t.Errorf("expected sub-batch status in_production, got %s", got.Status)
	}

	history, err := f.store.ListHistoryByAssignment(ctx, first.ID)
	if err != nil {
		t.Fatalf("ListHistoryByAssignment failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 creation history entry, got %d", len(history))
	}
	if history[0].FromStage != "" || history[0].ToStage != repository.StageNewArrival {
		t.Errorf("creation history: expected ''->new_arrival, got '%s'->'%s'",
			history[0].FromStage, history[0].ToStage)
	}
}

func TestDispatchValidation(t *testing.T) {
	f := newFixture(10, 20)
	sb := f.seedSubBatch(100)
	ctx := context.Background()

	if _, _, err := f.routing.Dispatch(ctx, sb.ID, nil, "planner"); !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Errorf("empty department list: expected INVALID_INPUT, got %v", err)
	}
	if _, _, err := f.routing.Dispatch(ctx, sb.ID, []int64{10, 999}, "planner"); !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("unknown department: expected NOT_FOUND, got %v", err)
	}
	if _, _, err := f.routing.Dispatch(ctx, "no-such-sub-batch", []int64{10}, "planner"); !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("unknown sub-batch: expected NOT_FOUND, got %v", err)
	}

	if _, _, err := f.routing.Dispatch(ctx, sb.ID, []int64{10, 20}, "planner"); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if _, _, err := f.routing.Dispatch(ctx, sb.ID, []int64{20, 10}, "planner"); !errors.HasCode(err, errors.ErrCodeAlreadyDispatched) {
		t.Errorf("second dispatch: expected ALREADY_DISPATCHED, got %v", err)
	}
}

func TestAdvanceCarriesWorkedQuantityForward(t *testing.T) {
	f := newFixture(10, 20)
	sb := f.seedSubBatch(100)
	first := f.dispatchAndStart(t, sb, []int64{10, 20})
	ctx := context.Background()

	f.logWork(t, first.ID, 100)

	next, err := f.routing.Advance(ctx, sb.ID, "supervisor")
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if next.DepartmentID != 20 {
		t.Errorf("expected next assignment at department 20, got %d", next.DepartmentID)
	}
	if next.QuantityReceived != 100 {
		t.Errorf("expected 100 pieces forwarded, got %d", next.QuantityReceived)
	}
	if next.SourceLineageID == nil || *next.SourceLineageID != first.ID {
		t.Error("expected next assignment to link back to the closed head")
	}

	if n := f.store.currentHeadCount(sb.ID, 10, repository.LineageMain); n != 0 {
		t.Errorf("expected closed department to have no current head, got %d", n)
	}
	if n := f.store.currentHeadCount(sb.ID, 20, repository.LineageMain); n != 1 {
		t.Errorf("expected exactly one current head at department 20, got %d", n)
	}

	wf, err := f.store.GetBySubBatchID(ctx, sb.ID)
	if err != nil {
		t.Fatalf("GetBySubBatchID failed: %v", err)
	}
	if wf.CurrentStepIndex != 1 {
		t.Errorf("expected cursor at 1, got %d", wf.CurrentStepIndex)
	}

	// Already at the last department: a no-op, not an error.
	tail, err := f.routing.Advance(ctx, sb.ID, "supervisor")
	if err != nil {
		t.Fatalf("Advance at final step failed: %v", err)
	}
	if tail != nil {
		t.Errorf("expected nil assignment at final step, got %+v", tail)
	}
	wf, _ = f.store.GetBySubBatchID(ctx, sb.ID)
	if wf.CurrentStepIndex != 1 {
		t.Errorf("cursor moved past the final step: %d", wf.CurrentStepIndex)
	}
}

func TestAdvanceRequiresFullAccounting(t *testing.T) {
	f := newFixture(10, 20)
	sb := f.seedSubBatch(100)
	first := f.dispatchAndStart(t, sb, []int64{10, 20})
	ctx := context.Background()

	f.logWork(t, first.ID, 60)

	_, err := f.routing.Advance(ctx, sb.ID, "supervisor")
	if !errors.HasCode(err, errors.ErrCodeIncompleteWork) {
		t.Fatalf("expected INCOMPLETE_WORK with 40 pieces remaining, got %v", err)
	}

	f.logWork(t, first.ID, 40)
	if _, err := f.routing.Advance(ctx, sb.ID, "supervisor"); err != nil {
		t.Fatalf("Advance after full accounting failed: %v", err)
	}
}

func TestAdvanceStaleStateLoses(t *testing.T) {
	f := newFixture(10, 20, 30)
	sb := f.seedSubBatch(50)
	first := f.dispatchAndStart(t, sb, []int64{10, 20, 30})
	ctx := context.Background()

	f.logWork(t, first.ID, 50)

	wf, _ := f.store.GetBySubBatchID(ctx, sb.ID)
	head, _ := f.store.GetCurrentHead(ctx, sb.ID, 10, repository.LineageMain)

	if _, err := f.routing.Advance(ctx, sb.ID, "supervisor"); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	// A second actor holding the pre-advance snapshot must lose the race.
	stale := repository.AdvanceParams{
		WorkflowID:        wf.ID,
		ExpectedStepIndex: wf.CurrentStepIndex,
		SubBatchID:        sb.ID,
		DepartmentID:      10,
		ClosingID:         head.ID,
		ClosingVersion:    head.Version,
		Next: &repository.WorkAssignment{
			SubBatchID:   sb.ID,
			DepartmentID: 20,
			Stage:        repository.StageNewArrival,
			Kind:         repository.LineageMain,
			IsCurrent:    true,
		},
	}
	err := f.store.Advance(ctx, stale)
	if !errors.HasCode(err, errors.ErrCodeConcurrentModification) {
		t.Fatalf("expected CONCURRENT_MODIFICATION for stale cursor, got %v", err)
	}

	if n := f.store.currentHeadCount(sb.ID, 20, repository.LineageMain); n != 1 {
		t.Errorf("expected exactly one current head at department 20, got %d", n)
	}
}

func TestMarkCompletedFreezesSubBatch(t *testing.T) {
	f := newFixture(10, 20)
	sb := f.seedSubBatch(100)
	first := f.dispatchAndStart(t, sb, []int64{10, 20})
	ctx := context.Background()

	f.logWork(t, first.ID, 100)
	next, err := f.routing.Advance(ctx, sb.ID, "supervisor")
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	// Not at the final stage yet: the gate holds.
	if _, err := f.routing.MarkCompleted(ctx, sb.ID, "supervisor"); !errors.HasCode(err, errors.ErrCodeNotAtFinalDepartment) {
		t.Fatalf("expected NOT_AT_FINAL_DEPARTMENT before terminal work, got %v", err)
	}

	if _, err := f.stages.MoveStage(ctx, next.ID, repository.StageInProgress, "operator"); err != nil {
		t.Fatalf("MoveStage failed: %v", err)
	}
	if _, err := f.stages.MoveStage(ctx, next.ID, repository.StageCompleted, "operator"); err != nil {
		t.Fatalf("MoveStage failed: %v", err)
	}

	done, err := f.routing.MarkCompleted(ctx, sb.ID, "supervisor")
	if err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	if done.Status != repository.SubBatchCompleted {
		t.Errorf("expected status completed, got %s", done.Status)
	}

	// The freeze is one-way: every mutating operation bounces.
	if _, err := f.routing.MarkCompleted(ctx, sb.ID, "supervisor"); !errors.HasCode(err, errors.ErrCodeSubBatchFrozen) {
		t.Errorf("repeat MarkCompleted: expected SUB_BATCH_FROZEN, got %v", err)
	}
	if _, err := f.routing.Advance(ctx, sb.ID, "supervisor"); !errors.HasCode(err, errors.ErrCodeSubBatchFrozen) {
		t.Errorf("Advance after freeze: expected SUB_BATCH_FROZEN, got %v", err)
	}
	if _, err := f.stages.MoveStage(ctx, next.ID, repository.StageInProgress, "operator"); !errors.HasCode(err, errors.ErrCodeSubBatchFrozen) {
		t.Errorf("MoveStage after freeze: expected SUB_BATCH_FROZEN, got %v", err)
	}
	if _, err := f.workLogs.LogWork(ctx, &LogWorkRequest{
		AssignmentID:   next.ID,
		WorkerID:       1,
		WorkDate:       "2026-03-03",
		QuantityWorked: 1,
	}); !errors.HasCode(err, errors.ErrCodeSubBatchFrozen) {
		t.Errorf("LogWork after freeze: expected SUB_BATCH_FROZEN, got %v", err)
	}
}

func TestMarkCompletedRequiresCompletedTerminalAssignment(t *testing.T) {
	f := newFixture(10)
	sb := f.seedSubBatch(30)
	first := f.dispatchAndStart(t, sb, []int64{10})
	ctx := context.Background()

	// Single-department workflow sits at its final step from dispatch, but
	// the assignment is still open.
	if _, err := f.routing.MarkCompleted(ctx, sb.ID, "supervisor"); !errors.HasCode(err, errors.ErrCodeNotAtFinalDepartment) {
		t.Fatalf("expected NOT_AT_FINAL_DEPARTMENT for open terminal assignment, got %v", err)
	}

	if _, err := f.stages.MoveStage(ctx, first.ID, repository.StageCompleted, "operator"); err != nil {
		t.Fatalf("MoveStage failed: %v", err)
	}
	if _, err := f.routing.MarkCompleted(ctx, sb.ID, "supervisor"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
}
