package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/stitchworks/be-mfg-subbatches/internal/platform/errors"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/logger"
	"github.com/stitchworks/be-mfg-subbatches/internal/repository"
	"github.com/stitchworks/be-mfg-subbatches/internal/service"
)

// HTTPHandler exposes the routing, exception, and view operations.
type HTTPHandler struct {
	routing    *service.RoutingService
	stages     *service.StageService
	exceptions *service.ExceptionService
	workLogs   *service.WorkLogService
	views      *service.ViewService
	log        *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	routing *service.RoutingService,
	stages *service.StageService,
	exceptions *service.ExceptionService,
	workLogs *service.WorkLogService,
	views *service.ViewService,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		routing:    routing,
		stages:     stages,
		exceptions: exceptions,
		workLogs:   workLogs,
		views:      views,
		log:        log,
	}
}

// Dispatch handles dispatch-to-production requests.
func (h *HTTPHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubBatchID    string  `json:"sub_batch_id"`
		DepartmentIDs []int64 `json:"department_ids"`
		DispatchedBy  string  `json:"dispatched_by"`
	}
	if !decode(w, r, &req) {
		return
	}

	wf, first, err := h.routing.Dispatch(r.Context(), req.SubBatchID, req.DepartmentIDs, req.DispatchedBy)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"workflow":         wf,
		"first_assignment": first,
	})
}

// MoveStage handles stage-change requests from the kanban UI.
func (h *HTTPHandler) MoveStage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssignmentID string `json:"assignment_id"`
		ToStage      string `json:"to_stage"`
		ActedBy      string `json:"acted_by"`
	}
	if !decode(w, r, &req) {
		return
	}

	assignment, err := h.stages.MoveStage(r.Context(), req.AssignmentID, repository.Stage(req.ToStage), req.ActedBy)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, assignment)
}

// Advance handles move-to-next-department requests.
func (h *HTTPHandler) Advance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubBatchID string `json:"sub_batch_id"`
		ActedBy    string `json:"acted_by"`
	}
	if !decode(w, r, &req) {
		return
	}

	next, err := h.routing.Advance(r.Context(), req.SubBatchID, req.ActedBy)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if next == nil {
		// Already at the last department: a normal terminal condition.
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"advanced": false,
			"message":  "sub-batch is already at its last department",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"advanced":        true,
		"next_assignment": next,
	})
}

// LogWork handles work-log creation.
func (h *HTTPHandler) LogWork(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssignmentID     string `json:"assignment_id"`
		WorkerID         int64  `json:"worker_id"`
		WorkDate         string `json:"work_date"`
		QuantityReceived int64  `json:"quantity_received"`
		QuantityWorked   int64  `json:"quantity_worked"`
		UnitPrice        int64  `json:"unit_price"`
		ActivityType     string `json:"activity_type"`
	}
	if !decode(w, r, &req) {
		return
	}

	entry, err := h.workLogs.LogWork(r.Context(), &service.LogWorkRequest{
		AssignmentID:     req.AssignmentID,
		WorkerID:         req.WorkerID,
		WorkDate:         req.WorkDate,
		QuantityReceived: req.QuantityReceived,
		QuantityWorked:   req.QuantityWorked,
		UnitPrice:        req.UnitPrice,
		ActivityType:     repository.ActivityType(req.ActivityType),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

// Reject handles rejection-branch requests.
func (h *HTTPHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.exceptionBranch(w, r, false)
}

// Alter handles alteration-branch requests.
func (h *HTTPHandler) Alter(w http.ResponseWriter, r *http.Request) {
	h.exceptionBranch(w, r, true)
}

func (h *HTTPHandler) exceptionBranch(w http.ResponseWriter, r *http.Request, alter bool) {
	var req struct {
		AssignmentID       string `json:"assignment_id"`
		WorkLogID          string `json:"work_log_id"`
		Quantity           int64  `json:"quantity"`
		TargetDepartmentID int64  `json:"target_department_id"`
		Reason             string `json:"reason"`
		ActedBy            string `json:"acted_by"`
	}
	if !decode(w, r, &req) {
		return
	}

	svcReq := &service.ExceptionRequest{
		AssignmentID:       req.AssignmentID,
		WorkLogID:          req.WorkLogID,
		Quantity:           req.Quantity,
		TargetDepartmentID: req.TargetDepartmentID,
		Reason:             req.Reason,
		ActedBy:            req.ActedBy,
	}

	var (
		entry  *repository.ExceptionEntry
		branch *repository.WorkAssignment
		err    error
	)
	if alter {
		entry, branch, err = h.exceptions.Alter(r.Context(), svcReq)
	} else {
		entry, branch, err = h.exceptions.Reject(r.Context(), svcReq)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"exception":         entry,
		"branch_assignment": branch,
	})
}

// MarkCompleted handles the terminal completion confirmation.
func (h *HTTPHandler) MarkCompleted(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubBatchID string `json:"sub_batch_id"`
		ActedBy    string `json:"acted_by"`
	}
	if !decode(w, r, &req) {
		return
	}

	subBatch, err := h.routing.MarkCompleted(r.Context(), req.SubBatchID, req.ActedBy)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, subBatch)
}

// KanbanView handles the department board query.
func (h *HTTPHandler) KanbanView(w http.ResponseWriter, r *http.Request) {
	departmentID, err := strconv.ParseInt(r.URL.Query().Get("department_id"), 10, 64)
	if err != nil {
		h.writeError(w, errors.InvalidInput("department_id", "a numeric department id is required"))
		return
	}

	view, err := h.views.GetKanbanView(r.Context(), departmentID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// Flow handles the audit/history reconstruction query.
func (h *HTTPHandler) Flow(w http.ResponseWriter, r *http.Request) {
	subBatchID := r.URL.Query().Get("sub_batch_id")
	if subBatchID == "" {
		h.writeError(w, errors.InvalidInput("sub_batch_id", "sub-batch id is required"))
		return
	}

	view, err := h.views.ReconstructFlow(r.Context(), subBatchID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// ── helpers ───────────────────────────────────────────────────────────────────

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": map[string]string{
				"code":    string(errors.ErrCodeInvalidInput),
				"message": "invalid request body",
			},
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps error codes to HTTP statuses and emits the stable
// {code, message} envelope the UI keys prompts off.
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidAlterationTarget:
		status = http.StatusBadRequest
	case errors.ErrCodeConflict,
		errors.ErrCodeAlreadyDispatched,
		errors.ErrCodeIncompleteWork,
		errors.ErrCodeSubBatchFrozen,
		errors.ErrCodeNotAtFinalDepartment,
		errors.ErrCodeConcurrentModification,
		errors.ErrCodeConservationViolation:
		status = http.StatusConflict
	case errors.ErrCodeUnavailable:
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}

	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    string(code),
			"message": errors.MessageOf(err),
		},
	})
}
