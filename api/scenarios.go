/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the engine with realistic
  employees and requests. Each scenario shows one stretch of the accrual
  bands or one approval route.

AVAILABLE SCENARIOS:
  new-employee:    Permanent hire still in probation, nothing earned
  early-tenure:    Lecturer five months in, Casual only, pending with HOD
  full-rate:       Dean past nine months, approved Vacation, checked Casual
  temporary-staff: Temporary lecturer, Casual only
  new-parent:      Permanent administrator with a maternity request

HOW SCENARIOS WORK:
 1. Register the profile (appointment dates are relative to today)
 2. Submit requests as the employee
 3. Fire lifecycle events as the routed approver

  Employee IDs are prefixed with the scenario ID, so several scenarios can
  be loaded side by side. Loading the same scenario twice fails with
  AlreadyExists; nothing is reset.

USAGE VIA API:
	POST /api/admin/scenarios/load
	{"scenario_id": "full-rate"}

SEE ALSO:
  - cmd/server/main.go: -seed flag
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO describes a loadable scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest names the scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

type scenarioLoader func(ctx context.Context, e *leave.Engine, today generic.TimePoint) error

var scenarios = []ScenarioDTO{
	{ID: "new-employee", Name: "New Employee", Description: "Permanent hire in probation: Casual and Vacation are both zero"},
	{ID: "early-tenure", Name: "Early Tenure", Description: "Academic five months in: Casual 6, no Vacation, request pending with HOD"},
	{ID: "full-rate", Name: "Full Rate", Description: "Dean at month 14: prorated Casual and Vacation, decisions by admin"},
	{ID: "temporary-staff", Name: "Temporary Staff", Description: "Temporary lecturer: Casual only"},
	{ID: "new-parent", Name: "New Parent", Description: "Maternity request against the 365-day allowance"},
}

var loaders = map[string]scenarioLoader{
	"new-employee":    loadNewEmployee,
	"early-tenure":    loadEarlyTenure,
	"full-rate":       loadFullRate,
	"temporary-staff": loadTemporaryStaff,
	"new-parent":      loadNewParent,
}

// Scenarios lists what LoadScenario accepts.
func Scenarios() []ScenarioDTO {
	out := make([]ScenarioDTO, len(scenarios))
	copy(out, scenarios)
	return out
}

// LoadScenario seeds one scenario into the engine.
func LoadScenario(ctx context.Context, e *leave.Engine, id string, today generic.TimePoint) error {
	load, ok := loaders[id]
	if !ok {
		return fmt.Errorf("unknown scenario %q", id)
	}
	if err := load(ctx, e, today); err != nil {
		return fmt.Errorf("load scenario %s: %w", id, err)
	}
	return nil
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
// GET /api/admin/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Scenarios())
}

// LoadScenarioHandler loads a predefined scenario.
// POST /api/admin/scenarios/load
func (h *Handler) LoadScenarioHandler(w http.ResponseWriter, r *http.Request) {
	if mustActor(r).Role != leave.RoleAdmin {
		writeError(w, http.StatusForbidden, "Forbidden", "admin only")
		return
	}
	var req LoadScenarioRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if _, ok := loaders[req.ScenarioID]; !ok {
		writeError(w, http.StatusBadRequest, "UnknownScenario", fmt.Sprintf("unknown scenario %q", req.ScenarioID))
		return
	}
	if err := LoadScenario(r.Context(), h.Engine, req.ScenarioID, h.today()); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadNewEmployee(ctx context.Context, e *leave.Engine, today generic.TimePoint) error {
	_, err := e.RegisterProfile(ctx, leave.Profile{
		ID:              "new-employee-001",
		Name:            "Alice Johnson",
		Department:      "Registry",
		Position:        "Administrative Officer",
		StaffRole:       leave.StaffNonAcademic,
		AppointmentDate: monthsAgo(today, 0),
	})
	return err
}

func loadEarlyTenure(ctx context.Context, e *leave.Engine, today generic.TimePoint) error {
	p, err := e.RegisterProfile(ctx, leave.Profile{
		ID:              "early-tenure-001",
		Name:            "Bola Adeyemi",
		Department:      "Computer Science",
		Position:        "Lecturer II",
		StaffRole:       leave.StaffAcademic,
		AppointmentDate: monthsAgo(today, 5),
	})
	if err != nil {
		return err
	}
	// Casual earned: floor(4 x 1.5) = 6
	_, err = submit(ctx, e, p, today, leave.Casual, 7, 2, "conference travel")
	return err
}

func loadFullRate(ctx context.Context, e *leave.Engine, today generic.TimePoint) error {
	p, err := e.RegisterProfile(ctx, leave.Profile{
		ID:              "full-rate-001",
		Name:            "Chen Wei",
		Department:      "Faculty of Science",
		Position:        "Dean",
		StaffRole:       leave.StaffDean,
		AppointmentDate: monthsAgo(today, 14),
	})
	if err != nil {
		return err
	}

	vacation, err := submit(ctx, e, p, today, leave.Vacation, 14, 5, "family holiday")
	if err != nil {
		return err
	}
	if _, err := e.Transition(ctx, vacation.ID, leave.EventApprove, leave.Actor{ID: "admin-001", Role: leave.RoleAdmin}, "enjoy"); err != nil {
		return err
	}

	casual, err := submit(ctx, e, p, today, leave.Casual, 30, 2, "")
	if err != nil {
		return err
	}
	_, err = e.Transition(ctx, casual.ID, leave.EventMarkChecked, leave.Actor{ID: "reviewer-001", Role: leave.RoleReviewer}, "")
	return err
}

func loadTemporaryStaff(ctx context.Context, e *leave.Engine, today generic.TimePoint) error {
	// class is inferred from the position
	p, err := e.RegisterProfile(ctx, leave.Profile{
		ID:              "temporary-staff-001",
		Name:            "Dana Okafor",
		Department:      "Mathematics",
		Position:        "Temporary Lecturer",
		StaffRole:       leave.StaffAcademic,
		AppointmentDate: monthsAgo(today, 4),
	})
	if err != nil {
		return err
	}
	_, err = submit(ctx, e, p, today, leave.Casual, 3, 1, "")
	return err
}

func loadNewParent(ctx context.Context, e *leave.Engine, today generic.TimePoint) error {
	p, err := e.RegisterProfile(ctx, leave.Profile{
		ID:              "new-parent-001",
		Name:            "Efua Mensah",
		Department:      "Bursary",
		Position:        "Senior Accountant",
		StaffRole:       leave.StaffNonAcademic,
		AppointmentDate: monthsAgo(today, 20),
	})
	if err != nil {
		return err
	}
	_, err = submit(ctx, e, p, today, leave.Maternity, 21, 90, "maternity")
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// monthsAgo is the first day of the month n months before today, so the
// month difference to today is exactly n.
func monthsAgo(today generic.TimePoint, n int) generic.TimePoint {
	return generic.NewTimePoint(today.Year(), today.Month()-time.Month(n), 1)
}

// submit files days of leave starting inDays from today.
func submit(ctx context.Context, e *leave.Engine, p leave.Profile, today generic.TimePoint, t leave.LeaveType, inDays, days int, reason string) (*leave.Request, error) {
	start := today.AddDays(inDays)
	return e.SubmitRequest(ctx, p, leave.Draft{
		LeaveType: t,
		StartDate: start,
		EndDate:   start.AddDays(days - 1),
		Reason:    reason,
	}, today)
}
