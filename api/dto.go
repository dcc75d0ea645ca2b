/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the leave package's model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request bodies carry go-playground/validator tags and are checked in
  decodeAndValidate before they reach the engine. Domain rules (balances,
  overlaps, lifecycle) stay in the engine.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// REQUEST BODIES
// =============================================================================

// CreateEmployeeRequest registers an employee profile.
type CreateEmployeeRequest struct {
	ID              string `json:"id" validate:"required,max=64"`
	Name            string `json:"name" validate:"required,max=200"`
	Department      string `json:"department" validate:"max=200"`
	Position        string `json:"position" validate:"max=200"`
	StaffRole       string `json:"staff_role" validate:"omitempty,oneof=academic hod dean non_academic"`
	AppointmentDate string `json:"appointment_date" validate:"required,datetime=2006-01-02"`
	Class           string `json:"employment_class" validate:"omitempty,oneof=Permanent Temporary"`
}

// SubmitLeaveRequest is an employee's leave draft.
type SubmitLeaveRequest struct {
	LeaveType string `json:"leave_type" validate:"required"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
	Reason    string `json:"reason" validate:"max=1000"`
}

// TransitionRequest carries the approver's optional comment.
type TransitionRequest struct {
	Comment string `json:"comment" validate:"max=1000"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Department      string `json:"department,omitempty"`
	Position        string `json:"position,omitempty"`
	StaffRole       string `json:"staff_role"`
	AppointmentDate string `json:"appointment_date"`
	Class           string `json:"employment_class"`
	CreatedAt       string `json:"created_at,omitempty"`
}

// BalanceDTO is one leave type's balance. Earned and Remaining are omitted
// for unlimited types.
type BalanceDTO struct {
	LeaveType string `json:"leave_type"`
	Year      int    `json:"year"`
	AsOf      string `json:"as_of"`
	Earned    *int   `json:"earned,omitempty"`
	Used      int    `json:"used"`
	Pending   int    `json:"pending"`
	Remaining *int   `json:"remaining,omitempty"`
	Unlimited bool   `json:"unlimited"`
}

// BalanceSummaryDTO lists every applicable leave type for an employee.
type BalanceSummaryDTO struct {
	EmployeeID string       `json:"employee_id"`
	AsOf       string       `json:"as_of"`
	Balances   []BalanceDTO `json:"balances"`
}

// RequestDTO represents a leave request in API responses.
type RequestDTO struct {
	ID            string  `json:"id"`
	EmployeeID    string  `json:"employee_id"`
	LeaveType     string  `json:"leave_type"`
	StartDate     string  `json:"start_date"`
	EndDate       string  `json:"end_date"`
	RequestedDays int     `json:"requested_days"`
	Reason        string  `json:"reason,omitempty"`
	Status        string  `json:"status"`
	ApproverRole  string  `json:"approver_role"`
	SubmittedAt   string  `json:"submitted_at"`
	CheckedBy     string  `json:"checked_by,omitempty"`
	CheckedAt     *string `json:"checked_at,omitempty"`
	DecidedBy     string  `json:"decided_by,omitempty"`
	DecidedAt     *string `json:"decided_at,omitempty"`
	Comment       string  `json:"comment,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toEmployeeDTO(p leave.Profile) EmployeeDTO {
	dto := EmployeeDTO{
		ID:              string(p.ID),
		Name:            p.Name,
		Department:      p.Department,
		Position:        p.Position,
		StaffRole:       string(p.StaffRole),
		AppointmentDate: p.AppointmentDate.String(),
		Class:           string(p.Class),
	}
	if !p.CreatedAt.IsZero() {
		dto.CreatedAt = p.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toBalanceDTO(b leave.BalanceSnapshot) BalanceDTO {
	dto := BalanceDTO{
		LeaveType: string(b.LeaveType),
		Year:      b.Year,
		AsOf:      b.AsOf.String(),
		Used:      b.Used,
		Pending:   b.Pending,
		Unlimited: b.Unlimited,
	}
	if !b.Unlimited {
		earned, remaining := b.Earned, b.Remaining
		dto.Earned, dto.Remaining = &earned, &remaining
	}
	return dto
}

func toRequestDTO(r leave.Request) RequestDTO {
	return RequestDTO{
		ID:            string(r.ID),
		EmployeeID:    string(r.EmployeeID),
		LeaveType:     string(r.LeaveType),
		StartDate:     r.StartDate.String(),
		EndDate:       r.EndDate.String(),
		RequestedDays: r.RequestedDays,
		Reason:        r.Reason,
		Status:        string(r.Status),
		ApproverRole:  string(r.ApproverRole),
		SubmittedAt:   r.SubmittedAt.Format(time.RFC3339),
		CheckedBy:     r.CheckedBy,
		CheckedAt:     timePtr(r.CheckedAt),
		DecidedBy:     r.DecidedBy,
		DecidedAt:     timePtr(r.DecidedAt),
		Comment:       r.Comment,
	}
}

func toRequestDTOs(rs []leave.Request) []RequestDTO {
	out := make([]RequestDTO, len(rs))
	for i, r := range rs {
		out[i] = toRequestDTO(r)
	}
	return out
}

func timePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
