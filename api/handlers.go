/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes leave.Engine via REST. Handles HTTP request/response, JSON
  serialization and caller authorization, and delegates every domain
  decision to the engine.

ENDPOINTS:
  Employees:
    POST   /api/employees                    Register profile (admin)
    GET    /api/employees/{id}               Profile
    GET    /api/employees/{id}/balance       Balances (?as_of=, ?type=)
    POST   /api/employees/{id}/requests      Submit leave (the employee only)
    GET    /api/employees/{id}/requests      Request history
    GET    /api/employees/{id}/statement     XLSX statement (?year=)

  Requests:
    GET    /api/requests                     Work queue (?status=pending,checked)
    GET    /api/requests/{id}                One request
    POST   /api/requests/{id}/check          Reviewer pre-screen
    POST   /api/requests/{id}/approve        Approver decision
    POST   /api/requests/{id}/reject         Approver decision

  Admin:
    POST   /api/admin/refresh                Run the balance refresh now
    GET    /api/admin/scenarios              Demo scenarios (scenarios.go)
    POST   /api/admin/scenarios/load         Seed one scenario

REQUEST FLOW:
  1. Actor from the JWT (auth.go)
  2. Decode and validate the body (validator/v10)
  3. Call the engine
  4. Serialize response, or map the error to a status

ERROR HANDLING:
  Errors are returned as {"error": ..., "code": ...}:
  - 400: ValidationError codes, malformed input
  - 401: missing or invalid token
  - 403: UnauthorizedTransition, or reading someone else's data
  - 404: unknown employee or request
  - 409: TerminalStateError, InvalidTransition, StaleSnapshot, duplicates
  - 500: anything else (logged)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/report"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *leave.Engine
	Logger    *zap.Logger
	Scheduler *AccrualScheduler // optional; enables POST /api/admin/refresh

	// Ping reports backend health for /healthz. Optional.
	Ping func(ctx context.Context) error

	// Now is the clock used for "today". Defaults to time.Now.
	Now func() time.Time

	validate *validator.Validate
}

// NewHandler creates a handler around an engine.
func NewHandler(engine *leave.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine:   engine,
		Logger:   logger,
		Now:      time.Now,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) today() generic.TimePoint {
	return generic.FromTime(h.Now())
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports liveness and, when configured, backend reachability.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Unavailable", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// CreateEmployee registers a new profile.
// POST /api/employees
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	actor := mustActor(r)
	if actor.Role != leave.RoleAdmin {
		writeError(w, http.StatusForbidden, "Forbidden", "only admins register employees")
		return
	}

	var req CreateEmployeeRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	appointed, err := generic.ParseTimePoint(req.AppointmentDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidInput", err.Error())
		return
	}

	p, err := h.Engine.RegisterProfile(r.Context(), leave.Profile{
		ID:              leave.EmployeeID(req.ID),
		Name:            req.Name,
		Department:      req.Department,
		Position:        req.Position,
		StaffRole:       leave.StaffRole(req.StaffRole),
		AppointmentDate: appointed,
		Class:           leave.EmploymentClass(req.Class),
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(p))
}

// GetEmployee returns a profile.
// GET /api/employees/{id}
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	p, ok := h.visibleProfile(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(p))
}

// GetBalance returns balances as of a date (default today).
// GET /api/employees/{id}/balance?as_of=2025-03-01&type=Casual
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	p, ok := h.visibleProfile(w, r)
	if !ok {
		return
	}

	asOf := h.today()
	if s := r.URL.Query().Get("as_of"); s != "" {
		tp, err := generic.ParseTimePoint(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "InvalidInput", err.Error())
			return
		}
		asOf = tp
	}

	var balances []leave.BalanceSnapshot
	if t := leave.LeaveType(r.URL.Query().Get("type")); t != "" {
		if !t.AppliesTo(p.Class) {
			writeError(w, http.StatusBadRequest, string(leave.LeaveTypeNotApplicable),
				fmt.Sprintf("%s leave is not available to %s employees", t, p.Class))
			return
		}
		b, err := h.Engine.GetBalance(r.Context(), p, t, asOf)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		balances = []leave.BalanceSnapshot{b}
	} else {
		all, err := h.Engine.GetBalances(r.Context(), p, asOf)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		balances = all
	}

	summary := BalanceSummaryDTO{EmployeeID: string(p.ID), AsOf: asOf.String(), Balances: make([]BalanceDTO, len(balances))}
	for i, b := range balances {
		summary.Balances[i] = toBalanceDTO(b)
	}
	writeJSON(w, http.StatusOK, summary)
}

// SubmitRequest files a leave request as of today.
// POST /api/employees/{id}/requests
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	actor := mustActor(r)
	id := leave.EmployeeID(chi.URLParam(r, "id"))
	if actor.ID != string(id) {
		writeError(w, http.StatusForbidden, "Forbidden", "employees can only file their own requests")
		return
	}

	p, err := h.Engine.Profile(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	var req SubmitLeaveRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	start, err := generic.ParseTimePoint(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidInput", err.Error())
		return
	}
	end, err := generic.ParseTimePoint(req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidInput", err.Error())
		return
	}

	created, err := h.Engine.SubmitRequest(r.Context(), p, leave.Draft{
		LeaveType: leave.LeaveType(req.LeaveType),
		StartDate: start,
		EndDate:   end,
		Reason:    req.Reason,
	}, h.today())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(*created))
}

// ListEmployeeRequests returns an employee's requests, oldest first.
// GET /api/employees/{id}/requests
func (h *Handler) ListEmployeeRequests(w http.ResponseWriter, r *http.Request) {
	p, ok := h.visibleProfile(w, r)
	if !ok {
		return
	}
	reqs, err := h.Engine.Requests(r.Context(), p.ID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(reqs))
}

// GetStatement streams the employee's XLSX statement for a year.
// GET /api/employees/{id}/statement?year=2025
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	p, ok := h.visibleProfile(w, r)
	if !ok {
		return
	}

	today := h.today()
	year := today.Year()
	if s := r.URL.Query().Get("year"); s != "" {
		y, err := strconv.Atoi(s)
		if err != nil || y < 1900 || y > 9999 {
			writeError(w, http.StatusBadRequest, "InvalidInput", fmt.Sprintf("invalid year %q", s))
			return
		}
		year = y
	}

	st, err := report.Build(r.Context(), h.Engine, p.ID, year, today)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteXLSX(&buf, st); err != nil {
		h.writeEngineError(w, r, fmt.Errorf("render statement: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", st.Filename()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// ListRequests is the approvers' work queue.
// GET /api/requests?status=pending,checked
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	if !isStaff(mustActor(r)) {
		writeError(w, http.StatusForbidden, "Forbidden", "work queue is for reviewers and approvers")
		return
	}

	statuses := []leave.Status{leave.StatusPending, leave.StatusChecked}
	if s := r.URL.Query().Get("status"); s != "" {
		statuses = statuses[:0]
		for _, part := range strings.Split(s, ",") {
			st := leave.Status(strings.TrimSpace(part))
			switch st {
			case leave.StatusPending, leave.StatusChecked, leave.StatusApproved, leave.StatusRejected:
				statuses = append(statuses, st)
			default:
				writeError(w, http.StatusBadRequest, "InvalidInput", fmt.Sprintf("unknown status %q", part))
				return
			}
		}
	}

	reqs, err := h.Engine.RequestsByStatus(r.Context(), statuses...)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(reqs))
}

// GetRequest returns one request.
// GET /api/requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Engine.Request(r.Context(), leave.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if !canSee(mustActor(r), req.EmployeeID) {
		writeError(w, http.StatusNotFound, "NotFound", "request not found")
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// CheckRequest, ApproveRequest and RejectRequest fire lifecycle events.
// The engine decides whether the caller's role may fire them.
func (h *Handler) CheckRequest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, leave.EventMarkChecked)
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, leave.EventApprove)
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, leave.EventReject)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, ev leave.Event) {
	// the body is optional; chunked requests may send none at all
	var body TransitionRequest
	if !h.decodeBody(w, r, &body, true) {
		return
	}

	updated, err := h.Engine.Transition(r.Context(), leave.RequestID(chi.URLParam(r, "id")), ev, mustActor(r), strings.TrimSpace(body.Comment))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*updated))
}

// =============================================================================
// ADMIN
// =============================================================================

// TriggerRefresh runs the balance refresh immediately.
// POST /api/admin/refresh
func (h *Handler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	if mustActor(r).Role != leave.RoleAdmin {
		writeError(w, http.StatusForbidden, "Forbidden", "admin only")
		return
	}
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "scheduler not configured")
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.RunNow(r.Context()))
}

// =============================================================================
// HELPERS
// =============================================================================

// visibleProfile loads {id} and checks the caller may read it. Callers
// who may not see the employee get the same 404 as for a missing one.
func (h *Handler) visibleProfile(w http.ResponseWriter, r *http.Request) (leave.Profile, bool) {
	id := leave.EmployeeID(chi.URLParam(r, "id"))
	if !canSee(mustActor(r), id) {
		writeError(w, http.StatusNotFound, "NotFound", "employee not found")
		return leave.Profile{}, false
	}
	p, err := h.Engine.Profile(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return leave.Profile{}, false
	}
	return p, true
}

func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	return h.decodeBody(w, r, dst, false)
}

// decodeBody is decodeAndValidate; with optional set an empty body leaves
// dst at its zero value instead of failing.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
	if optional && errors.Is(err, io.EOF) {
		err = nil
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidInput", "invalid JSON body: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag())
			}
			writeError(w, http.StatusBadRequest, "InvalidInput", strings.Join(msgs, "; "))
			return false
		}
		writeError(w, http.StatusBadRequest, "InvalidInput", err.Error())
		return false
	}
	return true
}

// statusFor maps an engine error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	if code, ok := leave.ValidationCodeOf(err); ok {
		return http.StatusBadRequest, string(code)
	}
	if code, ok := leave.LifecycleCodeOf(err); ok {
		if code == leave.UnauthorizedTransition {
			return http.StatusForbidden, string(code)
		}
		return http.StatusConflict, string(code)
	}
	switch {
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, generic.ErrAlreadyExists):
		return http.StatusConflict, "AlreadyExists"
	case errors.Is(err, leave.ErrInvalidProfile):
		return http.StatusBadRequest, "InvalidProfile"
	case errors.Is(err, leave.ErrAsOfBeforeAppointment):
		return http.StatusBadRequest, "AsOfBeforeAppointment"
	case errors.Is(err, generic.ErrLockTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "Busy"
	}
	return http.StatusInternalServerError, "Internal"
}

func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, code, "internal error")
		return
	}
	writeError(w, status, code, err.Error())
}

func mustActor(r *http.Request) leave.Actor {
	actor, _ := ActorFrom(r.Context())
	return actor
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}
