package service

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stitchworks/be-mfg-subbatches/internal/client"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/errors"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/logger"
	"github.com/stitchworks/be-mfg-subbatches/internal/repository"
)

// memStore is an in-memory stand-in for the pgx repositories. It implements
// every store interface and mirrors the SQL layer's transactional semantics:
// the advance compare-and-set, lineage retirement, and history backfill.
type memStore struct {
	mu          sync.Mutex
	subBatches  map[string]*repository.SubBatch
	workflows   map[string]*repository.Workflow // keyed by sub-batch ID
	assignments []*repository.WorkAssignment
	workLogs    []*repository.WorkLogEntry
	exceptions  []*repository.ExceptionEntry
	history     []*repository.StageHistoryEntry
	clock       time.Time

	// workLogListHook runs after a work-log list read, outside the lock.
	// Tests use it to pin two callers between ledger read and commit.
	workLogListHook func()
}

func newMemStore() *memStore {
	return &memStore{
		subBatches: make(map[string]*repository.SubBatch),
		workflows:  make(map[string]*repository.Workflow),
		clock:      time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

// tick returns a strictly increasing timestamp so insertion order and
// created_at order agree, as they do under the real database.
func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) addSubBatch(sb *repository.SubBatch) *repository.SubBatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sb.ID == "" {
		sb.ID = uuid.NewString()
	}
	if sb.Status == "" {
		sb.Status = repository.SubBatchDraft
	}
	sb.CreatedAt = m.tick()
	sb.UpdatedAt = sb.CreatedAt
	m.subBatches[sb.ID] = sb
	return sb
}

// ── SubBatchStore ─────────────────────────────────────────────────────────────

func (m *memStore) GetByID(ctx context.Context, id string) (*repository.SubBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sb, ok := m.subBatches[id]
	if !ok {
		return nil, errors.NotFound("sub_batch", id)
	}
	copied := *sb
	return &copied, nil
}

func (m *memStore) MarkCompleted(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sb, ok := m.subBatches[id]
	if !ok {
		return errors.NotFound("sub_batch", id)
	}
	if sb.Status == repository.SubBatchCompleted {
		return errors.Newf(errors.ErrCodeSubBatchFrozen, "sub-batch %s is already completed", id)
	}
	sb.Status = repository.SubBatchCompleted
	sb.UpdatedAt = m.tick()
	return nil
}

// ── WorkflowStore ─────────────────────────────────────────────────────────────

func (m *memStore) CreateWithFirstAssignment(ctx context.Context, wf *repository.Workflow, first *repository.WorkAssignment, firstHistory *repository.StageHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	wf.CreatedAt = m.tick()
	wf.UpdatedAt = wf.CreatedAt
	for _, step := range wf.Steps {
		if step.ID == "" {
			step.ID = uuid.NewString()
		}
		step.WorkflowID = wf.ID
		step.CreatedAt = wf.CreatedAt
	}
	m.workflows[wf.SubBatchID] = wf

	m.insertAssignmentLocked(first)
	if firstHistory != nil {
		firstHistory.AssignmentID = first.ID
	}
	m.appendHistoryLocked(firstHistory)

	if sb, ok := m.subBatches[wf.SubBatchID]; ok {
		sb.Status = repository.SubBatchInProduction
		sb.UpdatedAt = m.tick()
	}
	return nil
}

func (m *memStore) GetBySubBatchID(ctx context.Context, subBatchID string) (*repository.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[subBatchID]
	if !ok {
		return nil, nil
	}
	copied := *wf
	return &copied, nil
}

// ── AssignmentStore ───────────────────────────────────────────────────────────

func (m *memStore) GetAssignment(ctx context.Context, id string) (*repository.WorkAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.findAssignmentLocked(id)
	if a == nil {
		return nil, errors.NotFound("work_assignment", id)
	}
	copied := *a
	return &copied, nil
}

func (m *memStore) GetCurrentHead(ctx context.Context, subBatchID string, departmentID int64, kind repository.LineageKind) (*repository.WorkAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments {
		if a.SubBatchID == subBatchID && a.DepartmentID == departmentID && a.Kind == kind && a.IsCurrent {
			copied := *a
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListBySubBatch(ctx context.Context, subBatchID string) ([]*repository.WorkAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.WorkAssignment
	for _, a := range m.assignments {
		if a.SubBatchID == subBatchID {
			copied := *a
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memStore) ListCurrentByDepartment(ctx context.Context, departmentID int64) ([]*repository.WorkAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.WorkAssignment
	for _, a := range m.assignments {
		if a.DepartmentID == departmentID && a.IsCurrent {
			copied := *a
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memStore) UpdateStage(ctx context.Context, id string, to repository.Stage, history *repository.StageHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.findAssignmentLocked(id)
	if a == nil {
		return errors.NotFound("work_assignment", id)
	}
	a.Stage = to
	a.UpdatedAt = m.tick()
	m.appendHistoryLocked(history)
	return nil
}

func (m *memStore) Advance(ctx context.Context, p repository.AdvanceParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var wf *repository.Workflow
	for _, candidate := range m.workflows {
		if candidate.ID == p.WorkflowID {
			wf = candidate
		}
	}
	if wf == nil || wf.CurrentStepIndex != p.ExpectedStepIndex {
		return errors.New(errors.ErrCodeConcurrentModification,
			"workflow advanced concurrently; re-read and retry")
	}

	closing := m.findAssignmentLocked(p.ClosingID)
	if closing == nil || closing.Version != p.ClosingVersion {
		return errors.New(errors.ErrCodeConcurrentModification,
			"assignment modified concurrently; re-read and retry")
	}

	wf.CurrentStepIndex++
	wf.UpdatedAt = m.tick()

	closing.IsCurrent = false
	closing.Version++
	closing.UpdatedAt = m.tick()

	for _, a := range m.assignments {
		if a.SubBatchID == p.SubBatchID && a.DepartmentID == p.DepartmentID && a.Kind == p.Next.Kind && a.IsCurrent {
			a.IsCurrent = false
			a.UpdatedAt = m.tick()
		}
	}

	m.insertAssignmentLocked(p.Next)
	if p.NextHistory != nil {
		p.NextHistory.AssignmentID = p.Next.ID
	}
	m.appendHistoryLocked(p.NextHistory)
	return nil
}

// ── WorkLogStore ──────────────────────────────────────────────────────────────

func (m *memStore) Create(ctx context.Context, entry *repository.WorkLogEntry, assignmentVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.findAssignmentLocked(entry.AssignmentID)
	if a == nil || a.Version != assignmentVersion {
		return errors.New(errors.ErrCodeConcurrentModification,
			"assignment modified concurrently; re-read and retry")
	}
	a.Version++
	a.UpdatedAt = m.tick()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.ActivityType == "" {
		entry.ActivityType = repository.ActivityNormal
	}
	entry.CreatedAt = m.tick()
	m.workLogs = append(m.workLogs, entry)
	return nil
}

func (m *memStore) GetWorkLog(ctx context.Context, id string) (*repository.WorkLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.workLogs {
		if entry.ID == id {
			copied := *entry
			return &copied, nil
		}
	}
	return nil, errors.NotFound("work_log_entry", id)
}

func (m *memStore) ListWorkLogsByAssignment(ctx context.Context, assignmentID string) ([]*repository.WorkLogEntry, error) {
	m.mu.Lock()
	var out []*repository.WorkLogEntry
	for _, entry := range m.workLogs {
		if entry.AssignmentID == assignmentID {
			copied := *entry
			out = append(out, &copied)
		}
	}
	m.mu.Unlock()

	if m.workLogListHook != nil {
		m.workLogListHook()
	}
	return out, nil
}

func (m *memStore) ListWorkLogsBySubBatch(ctx context.Context, subBatchID string) ([]*repository.WorkLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.WorkLogEntry
	for _, entry := range m.workLogs {
		if entry.SubBatchID == subBatchID {
			copied := *entry
			out = append(out, &copied)
		}
	}
	return out, nil
}

// ── ExceptionStore ────────────────────────────────────────────────────────────

func (m *memStore) CreateWithBranch(ctx context.Context, p repository.BranchParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, branch, branchHistory := p.Entry, p.Branch, p.BranchHistory

	source := m.findAssignmentLocked(p.SourceID)
	if source == nil || source.Version != p.SourceVersion {
		return errors.New(errors.ErrCodeConcurrentModification,
			"source assignment modified concurrently; re-read and retry")
	}
	source.Version++
	source.UpdatedAt = m.tick()

	for _, a := range m.assignments {
		if a.SubBatchID == branch.SubBatchID && a.DepartmentID == branch.DepartmentID && a.Kind == branch.Kind && a.IsCurrent {
			a.IsCurrent = false
			a.UpdatedAt = m.tick()
		}
	}
	m.insertAssignmentLocked(branch)

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.BranchAssignmentID = branch.ID
	entry.CreatedAt = m.tick()
	m.exceptions = append(m.exceptions, entry)

	if branchHistory != nil {
		branchHistory.AssignmentID = branch.ID
	}
	m.appendHistoryLocked(branchHistory)
	return nil
}

func (m *memStore) ListBySourceAssignment(ctx context.Context, assignmentID string) ([]*repository.ExceptionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.ExceptionEntry
	for _, entry := range m.exceptions {
		if entry.SourceAssignmentID == assignmentID {
			copied := *entry
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memStore) ListExceptionsBySubBatch(ctx context.Context, subBatchID string) ([]*repository.ExceptionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.ExceptionEntry
	for _, entry := range m.exceptions {
		if entry.SubBatchID == subBatchID {
			copied := *entry
			out = append(out, &copied)
		}
	}
	return out, nil
}

// ── HistoryStore ──────────────────────────────────────────────────────────────

func (m *memStore) ListHistoryBySubBatch(ctx context.Context, subBatchID string) ([]*repository.StageHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.StageHistoryEntry
	for _, entry := range m.history {
		if entry.SubBatchID == subBatchID {
			copied := *entry
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memStore) ListHistoryByAssignment(ctx context.Context, assignmentID string) ([]*repository.StageHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.StageHistoryEntry
	for _, entry := range m.history {
		if entry.AssignmentID == assignmentID {
			copied := *entry
			out = append(out, &copied)
		}
	}
	return out, nil
}

// ── internals ─────────────────────────────────────────────────────────────────

func (m *memStore) findAssignmentLocked(id string) *repository.WorkAssignment {
	for _, a := range m.assignments {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (m *memStore) insertAssignmentLocked(a *repository.WorkAssignment) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Version = 1
	a.CreatedAt = m.tick()
	a.UpdatedAt = a.CreatedAt
	m.assignments = append(m.assignments, a)
}

func (m *memStore) appendHistoryLocked(h *repository.StageHistoryEntry) {
	if h == nil {
		return
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	h.OccurredAt = m.tick()
	m.history = append(m.history, h)
}

// currentHeadCount reports how many current assignments exist for a
// (sub-batch, department, kind) triple. Anything above one is a lineage
// invariant breach.
func (m *memStore) currentHeadCount(subBatchID string, departmentID int64, kind repository.LineageKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, a := range m.assignments {
		if a.SubBatchID == subBatchID && a.DepartmentID == departmentID && a.Kind == kind && a.IsCurrent {
			count++
		}
	}
	return count
}

// ── Interface adapters ────────────────────────────────────────────────────────

// The store interfaces have colliding method names (GetByID, ListBySubBatch),
// so thin adapters slice the one memStore into per-interface views.

type memAssignments struct{ *memStore }

func (m memAssignments) GetByID(ctx context.Context, id string) (*repository.WorkAssignment, error) {
	return m.GetAssignment(ctx, id)
}

type memWorkLogs struct{ *memStore }

func (m memWorkLogs) GetByID(ctx context.Context, id string) (*repository.WorkLogEntry, error) {
	return m.GetWorkLog(ctx, id)
}

func (m memWorkLogs) ListByAssignment(ctx context.Context, assignmentID string) ([]*repository.WorkLogEntry, error) {
	return m.ListWorkLogsByAssignment(ctx, assignmentID)
}

func (m memWorkLogs) ListBySubBatch(ctx context.Context, subBatchID string) ([]*repository.WorkLogEntry, error) {
	return m.ListWorkLogsBySubBatch(ctx, subBatchID)
}

type memExceptions struct{ *memStore }

func (m memExceptions) ListBySubBatch(ctx context.Context, subBatchID string) ([]*repository.ExceptionEntry, error) {
	return m.ListExceptionsBySubBatch(ctx, subBatchID)
}

type memHistory struct{ *memStore }

func (m memHistory) ListBySubBatch(ctx context.Context, subBatchID string) ([]*repository.StageHistoryEntry, error) {
	return m.ListHistoryBySubBatch(ctx, subBatchID)
}

func (m memHistory) ListByAssignment(ctx context.Context, assignmentID string) ([]*repository.StageHistoryEntry, error) {
	return m.ListHistoryByAssignment(ctx, assignmentID)
}

// ── Master data fake ──────────────────────────────────────────────────────────

type fakeMasterData struct {
	departments map[int64]*client.Department
	workers     map[int64]*client.Worker
	workerErr   error

	// departmentHook runs before each department lookup. Tests use it to
	// pin two callers between ledger read and commit.
	departmentHook func()
}

func newFakeMasterData(departmentIDs ...int64) *fakeMasterData {
	f := &fakeMasterData{
		departments: make(map[int64]*client.Department),
		workers:     make(map[int64]*client.Worker),
	}
	for _, id := range departmentIDs {
		f.departments[id] = &client.Department{
			ID:       id,
			Name:     "Department " + strconv.FormatInt(id, 10),
			IsActive: true,
		}
	}
	f.workers[1] = &client.Worker{ID: 1, Name: "Worker One", DepartmentID: 10, IsActive: true}
	return f
}

func (f *fakeMasterData) GetDepartment(ctx context.Context, id int64) (*client.Department, error) {
	if f.departmentHook != nil {
		f.departmentHook()
	}
	dept, ok := f.departments[id]
	if !ok || !dept.IsActive {
		return nil, errors.NotFound("department", strconv.FormatInt(id, 10))
	}
	return dept, nil
}

func (f *fakeMasterData) GetWorker(ctx context.Context, id int64) (*client.Worker, error) {
	if f.workerErr != nil {
		return nil, f.workerErr
	}
	worker, ok := f.workers[id]
	if !ok || !worker.IsActive {
		return nil, errors.NotFound("worker", strconv.FormatInt(id, 10))
	}
	return worker, nil
}

// ── Test fixture ──────────────────────────────────────────────────────────────

type fixture struct {
	store      *memStore
	masterData *fakeMasterData
	routing    *RoutingService
	stages     *StageService
	exceptions *ExceptionService
	workLogs   *WorkLogService
	views      *ViewService
}

func newFixture(departmentIDs ...int64) *fixture {
	store := newMemStore()
	masterData := newFakeMasterData(departmentIDs...)
	log := &logger.Logger{Logger: zerolog.Nop()}
	publisher := client.NewEventPublisher(nil, zerolog.Nop())

	assignments := memAssignments{store}
	workLogs := memWorkLogs{store}
	exceptions := memExceptions{store}
	history := memHistory{store}

	return &fixture{
		store:      store,
		masterData: masterData,
		routing:    NewRoutingService(store, store, assignments, workLogs, exceptions, masterData, publisher, nil, log),
		stages:     NewStageService(store, assignments, publisher, nil, log),
		exceptions: NewExceptionService(store, store, assignments, workLogs, exceptions, masterData, publisher, nil, log),
		workLogs:   NewWorkLogService(store, assignments, workLogs, exceptions, masterData, publisher, log),
		views:      NewViewService(store, store, assignments, workLogs, exceptions, history, nil, log),
	}
}

func (f *fixture) seedSubBatch(pieces int64) *repository.SubBatch {
	return f.store.addSubBatch(&repository.SubBatch{
		LotNumber:       "LOT-" + uuid.NewString()[:8],
		EstimatedPieces: pieces,
	})
}

// dispatchAndStart dispatches the sub-batch and moves the first assignment
// to in_progress, the state work logging requires.
func (f *fixture) dispatchAndStart(t *testing.T, sb *repository.SubBatch, departmentIDs []int64) *repository.WorkAssignment {
	t.Helper()
	ctx := context.Background()
	_, first, err := f.routing.Dispatch(ctx, sb.ID, departmentIDs, "planner")
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	started, err := f.stages.MoveStage(ctx, first.ID, repository.StageInProgress, "operator")
	if err != nil {
		t.Fatalf("MoveStage to in_progress failed: %v", err)
	}
	return started
}

// logWork records a plain work-log entry against an assignment.
func (f *fixture) logWork(t *testing.T, assignmentID string, worked int64) *repository.WorkLogEntry {
	t.Helper()
	entry, err := f.workLogs.LogWork(context.Background(), &LogWorkRequest{
		AssignmentID:   assignmentID,
		WorkerID:       1,
		WorkDate:       "2026-03-02",
		QuantityWorked: worked,
		UnitPrice:      150,
	})
	if err != nil {
		t.Fatalf("LogWork failed: %v", err)
	}
	return entry
}
