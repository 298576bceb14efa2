package repository

import "time"

// ── Enums ─────────────────────────────────────────────────────────────────────

// Stage is the lifecycle state of a single work assignment.
type Stage string

const (
	StageNewArrival Stage = "new_arrival"
	StageInProgress Stage = "in_progress"
	StageCompleted  Stage = "completed"
)

// Valid reports whether s is one of the three known stages.
func (s Stage) Valid() bool {
	switch s {
	case StageNewArrival, StageInProgress, StageCompleted:
		return true
	}
	return false
}

// SubBatchStatus is the terminal status of a sub-batch.
type SubBatchStatus string

const (
	SubBatchDraft        SubBatchStatus = "draft"
	SubBatchInProduction SubBatchStatus = "in_production"
	SubBatchCompleted    SubBatchStatus = "completed"
	SubBatchCancelled    SubBatchStatus = "cancelled"
)

// LineageKind tags which lineage a work assignment belongs to. A closed set
// replaces free-form remarks text so branching is exhaustive-match safe.
type LineageKind string

const (
	LineageMain     LineageKind = "main"
	LineageAssigned LineageKind = "assigned"
	LineageRejected LineageKind = "rejected"
	LineageAltered  LineageKind = "altered"
)

// ActivityType marks whether a work-log entry originated from an exception
// branch.
type ActivityType string

const (
	ActivityNormal   ActivityType = "normal"
	ActivityRejected ActivityType = "rejected"
	ActivityAltered  ActivityType = "altered"
)

// ExceptionKind distinguishes rejection from alteration entries.
type ExceptionKind string

const (
	ExceptionRejected ExceptionKind = "rejected"
	ExceptionAltered  ExceptionKind = "altered"
)

// ── Records ───────────────────────────────────────────────────────────────────

// SubBatch is a trackable lot of production pieces. Created by the external
// planner; this service only reads it and flips its status at dispatch and
// completion.
type SubBatch struct {
	ID              string
	LotNumber       string
	EstimatedPieces int64
	StartDate       *string // YYYY-MM-DD
	DueDate         *string // YYYY-MM-DD
	Status          SubBatchStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Workflow is the ordered department sequence for a sub-batch, created once
// at dispatch. Only the cursor ever changes.
type Workflow struct {
	ID               string
	SubBatchID       string
	CurrentStepIndex int
	Steps            []*WorkflowStep
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// WorkflowStep is one department position in a workflow. The step list is
// immutable after dispatch.
type WorkflowStep struct {
	ID             string
	WorkflowID     string
	DepartmentID   int64
	DepartmentName string
	Position       int
	CreatedAt      time.Time
}

// StepFor returns the step whose department matches, or nil.
func (w *Workflow) StepFor(departmentID int64) *WorkflowStep {
	for _, step := range w.Steps {
		if step.DepartmentID == departmentID {
			return step
		}
	}
	return nil
}

// CurrentStep returns the step at the cursor.
func (w *Workflow) CurrentStep() *WorkflowStep {
	if w.CurrentStepIndex < 0 || w.CurrentStepIndex >= len(w.Steps) {
		return nil
	}
	return w.Steps[w.CurrentStepIndex]
}

// AtFinalStep reports whether the cursor sits on the last step.
func (w *Workflow) AtFinalStep() bool {
	return w.CurrentStepIndex == len(w.Steps)-1
}

// WorkAssignment is one department's slice of a sub-batch: the card the
// stage machine operates on. Never deleted; retired via is_current=false.
// Version backs the optimistic check that serializes concurrent closes.
type WorkAssignment struct {
	ID               string
	SubBatchID       string
	DepartmentID     int64
	DepartmentName   string
	Stage            Stage
	Kind             LineageKind
	IsCurrent        bool
	QuantityReceived int64
	SourceLineageID  *string // assignment this one was advanced or branched from
	SourceWorkLogID  *string // set on exception branches
	SourceDepartment *string // department name the branch came from, for display
	BranchReason     *string
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// WorkLogEntry is one recorded act of work against an assignment.
type WorkLogEntry struct {
	ID               string
	AssignmentID     string
	SubBatchID       string
	WorkerID         int64
	WorkDate         string // YYYY-MM-DD
	QuantityReceived int64
	QuantityWorked   int64
	UnitPrice        int64 // cents per piece
	ActivityType     ActivityType
	CreatedAt        time.Time
}

// ExceptionEntry records a rejection or alteration branch. Immutable.
type ExceptionEntry struct {
	ID                 string
	SubBatchID         string
	Kind               ExceptionKind
	SourceAssignmentID string
	SourceWorkLogID    string
	SourceDepartmentID int64
	TargetDepartmentID int64
	BranchAssignmentID string
	Quantity           int64
	Reason             string
	CreatedAt          time.Time
}

// StageHistoryEntry is one append-only stage transition record. FromStage is
// empty for the creation event of an assignment.
type StageHistoryEntry struct {
	ID           string
	AssignmentID string
	SubBatchID   string
	FromStage    Stage
	ToStage      Stage
	ActedBy      string
	OccurredAt   time.Time
}
