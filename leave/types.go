/*
Package leave implements the leave entitlement and request lifecycle engine.

PURPOSE:
  Staff submit leave requests, approvers decide them, and the engine keeps
  per-employee balances honest. Four parts cooperate:

  Calculator: what an employee has earned as of a date (accrual.go)
  Validate:   whether a draft may become a request (validator.go)
  NextStatus: which status an event moves a request to, and who may fire it (lifecycle.go)
  Ledger:     used/pending counters per employee, leave type and year (ledger.go)

  Engine (engine.go) ties them together behind SubmitRequest, Transition
  and GetBalance, running every mutation under a per-employee lock and
  inside a single store transaction.

KEY CONCEPTS IN THIS FILE (types.go):
  - LeaveType:       fixed catalog (Casual, Vacation, Other, Maternity)
  - EmploymentClass: Permanent or Temporary, stored on the profile
  - Profile:         the employee as the engine sees it
  - Request:         a persisted leave request and its status
  - BalanceSnapshot: earned/used/pending/remaining for one type and year

SEE ALSO:
  - generic/time.go: TimePoint calendar dates
  - leave/store.go:  persistence contract
*/
package leave

import (
	"time"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type RequestID string

// =============================================================================
// LEAVE TYPE CATALOG
// =============================================================================

type LeaveType string

const (
	Casual    LeaveType = "Casual"
	Vacation  LeaveType = "Vacation"
	Other     LeaveType = "Other"
	Maternity LeaveType = "Maternity"
)

// LeaveTypeInfo describes one catalog entry.
type LeaveTypeInfo struct {
	ID            LeaveType
	AnnualCap     int  // days per accrual year; ignored when Unlimited
	Unlimited     bool // no capacity check at all
	PermanentOnly bool
}

var catalog = map[LeaveType]LeaveTypeInfo{
	Casual:    {ID: Casual, AnnualCap: 21},
	Vacation:  {ID: Vacation, AnnualCap: 24, PermanentOnly: true},
	Other:     {ID: Other, Unlimited: true, PermanentOnly: true},
	Maternity: {ID: Maternity, AnnualCap: 365, PermanentOnly: true},
}

// LeaveTypes lists the catalog in display order.
func LeaveTypes() []LeaveType {
	return []LeaveType{Casual, Vacation, Other, Maternity}
}

// Lookup returns the catalog entry for t.
func Lookup(t LeaveType) (LeaveTypeInfo, bool) {
	info, ok := catalog[t]
	return info, ok
}

// IsCapped is true for every type whose balance is checked.
func (t LeaveType) IsCapped() bool {
	info, ok := catalog[t]
	return ok && !info.Unlimited
}

// AppliesTo reports whether an employee of the given class may take t.
func (t LeaveType) AppliesTo(class EmploymentClass) bool {
	info, ok := catalog[t]
	if !ok {
		return false
	}
	return class == Permanent || !info.PermanentOnly
}

// ApplicableTypes returns the types an employee class is entitled to.
func ApplicableTypes(class EmploymentClass) []LeaveType {
	var out []LeaveType
	for _, t := range LeaveTypes() {
		if t.AppliesTo(class) {
			out = append(out, t)
		}
	}
	return out
}

// =============================================================================
// EMPLOYEE PROFILE
// =============================================================================

type EmploymentClass string

const (
	Permanent EmploymentClass = "Permanent"
	Temporary EmploymentClass = "Temporary"
)

func (c EmploymentClass) Valid() bool { return c == Permanent || c == Temporary }

// StaffRole is the requester's position in the organisation. It selects
// the approver through the routing table.
type StaffRole string

const (
	StaffAcademic    StaffRole = "academic"
	StaffHOD         StaffRole = "hod"
	StaffDean        StaffRole = "dean"
	StaffNonAcademic StaffRole = "non_academic"
)

// Profile is an employee as the engine sees it. AppointmentDate and Class
// are fixed once the profile is registered.
type Profile struct {
	ID              EmployeeID
	Name            string
	Department      string
	Position        string
	StaffRole       StaffRole
	AppointmentDate generic.TimePoint
	Class           EmploymentClass
	CreatedAt       time.Time
}

// =============================================================================
// ACTORS
// =============================================================================

// Role is what an actor is allowed to do, as resolved by the caller's
// authorization layer.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleReviewer Role = "reviewer"
	RoleHOD      Role = "hod"
	RoleDean     Role = "dean"
	RoleAdmin    Role = "admin"
)

type Actor struct {
	ID   string
	Role Role
}

// =============================================================================
// REQUEST
// =============================================================================

type Status string

const (
	StatusPending  Status = "pending"
	StatusChecked  Status = "checked"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// IsTerminal is true once a request has been decided.
func (s Status) IsTerminal() bool { return s == StatusApproved || s == StatusRejected }

// Blocks reports whether a request in this status still occupies its days.
func (s Status) Blocks() bool { return s != StatusRejected }

// Draft is what an employee submits.
type Draft struct {
	LeaveType LeaveType
	StartDate generic.TimePoint
	EndDate   generic.TimePoint
	Reason    string
}

// Request is a persisted leave request. Requests are never deleted.
type Request struct {
	ID            RequestID
	EmployeeID    EmployeeID
	LeaveType     LeaveType
	StartDate     generic.TimePoint
	EndDate       generic.TimePoint
	RequestedDays int
	Reason        string
	Status        Status

	// Resolved at submission
	ApproverRole Role
	LedgerYear   int

	SubmittedAt time.Time
	CheckedBy   string
	CheckedAt   *time.Time
	DecidedBy   string
	DecidedAt   *time.Time
	Comment     string
}

func (r Request) Period() generic.Period {
	return generic.Period{Start: r.StartDate, End: r.EndDate}
}

// =============================================================================
// BALANCES
// =============================================================================

// BalanceRow is the persisted part of a balance: what has been reserved and
// consumed. Earned is never stored; it is recomputed on every read.
type BalanceRow struct {
	EmployeeID EmployeeID
	LeaveType  LeaveType
	Year       int
	Used       int
	Pending    int
	Version    int64 // 0 means the row does not exist yet
}

// BalanceSnapshot is the computed balance for one employee, leave type and
// accrual year.
type BalanceSnapshot struct {
	EmployeeID EmployeeID
	LeaveType  LeaveType
	Year       int
	AsOf       generic.TimePoint
	Earned     int
	Used       int
	Pending    int
	Remaining  int
	Unlimited  bool
	Version    int64
}

// Sufficient reports whether days can still be reserved.
func (b BalanceSnapshot) Sufficient(days int) bool {
	return b.Unlimited || b.Remaining >= days
}

func newSnapshot(row BalanceRow, earned Entitlement, asOf generic.TimePoint) BalanceSnapshot {
	s := BalanceSnapshot{
		EmployeeID: row.EmployeeID,
		LeaveType:  row.LeaveType,
		Year:       row.Year,
		AsOf:       asOf,
		Earned:     earned.Days,
		Used:       row.Used,
		Pending:    row.Pending,
		Unlimited:  earned.Unlimited,
		Version:    row.Version,
	}
	if !s.Unlimited {
		// Earned can fall inside a 12-month cycle; never report a negative balance.
		s.Remaining = max(s.Earned-s.Used-s.Pending, 0)
	}
	return s
}
