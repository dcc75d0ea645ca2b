/*
lifecycle.go - Request status state machine

STATES:

    submit ──▶ pending ──mark-checked──▶ checked
                  │                        │
                  ├────── approve ─────────┼──▶ approved   (commit reservation)
                  └────── reject ──────────┴──▶ rejected   (release reservation)

  approved and rejected are terminal: every event on them fails with
  TerminalStateError and nothing is written.

ROLE GATES:
  mark-checked:    RoleReviewer (department pre-screen)
  approve, reject: the request's ApproverRole, fixed at submission from the
                   routing table

  The engine does not resolve who an actor is. It trusts the Role handed
  in by the caller's authorization layer and only compares it with the
  gate for the edge.

SEE ALSO:
  - engine.go: applies the returned LedgerEffect atomically with the status
*/
package leave

// =============================================================================
// EVENTS AND EFFECTS
// =============================================================================

type Event string

const (
	EventSubmit      Event = "submit"
	EventMarkChecked Event = "mark-checked"
	EventApprove     Event = "approve"
	EventReject      Event = "reject"
)

// LedgerEffect is the balance mutation that accompanies a transition.
type LedgerEffect string

const (
	EffectNone    LedgerEffect = "none"
	EffectReserve LedgerEffect = "reserve"
	EffectCommit  LedgerEffect = "commit"
	EffectRelease LedgerEffect = "release"
)

type edge struct {
	from  Status
	event Event
}

type transition struct {
	to     Status
	effect LedgerEffect
	role   Role // empty: the request's ApproverRole
}

var transitions = map[edge]transition{
	{StatusPending, EventMarkChecked}: {to: StatusChecked, effect: EffectNone, role: RoleReviewer},
	{StatusPending, EventApprove}:     {to: StatusApproved, effect: EffectCommit},
	{StatusChecked, EventApprove}:     {to: StatusApproved, effect: EffectCommit},
	{StatusPending, EventReject}:      {to: StatusRejected, effect: EffectRelease},
	{StatusChecked, EventReject}:      {to: StatusRejected, effect: EffectRelease},
}

// NextStatus returns the status and ledger effect of applying ev to r by
// an actor holding role. It has no side effects.
func NextStatus(r Request, ev Event, role Role) (Status, LedgerEffect, error) {
	if r.Status.IsTerminal() {
		return r.Status, EffectNone, &LifecycleError{
			Code: TerminalStateError, RequestID: r.ID, From: r.Status, Event: ev, Role: role,
		}
	}

	t, ok := transitions[edge{from: r.Status, event: ev}]
	if !ok {
		return r.Status, EffectNone, &LifecycleError{
			Code: InvalidTransition, RequestID: r.ID, From: r.Status, Event: ev, Role: role,
		}
	}

	required := t.role
	if required == "" {
		required = r.ApproverRole
	}
	if role != required {
		return r.Status, EffectNone, &LifecycleError{
			Code: UnauthorizedTransition, RequestID: r.ID, From: r.Status, Event: ev, Role: role,
		}
	}

	return t.to, t.effect, nil
}

// =============================================================================
// ROUTING TABLE
// =============================================================================

// RoutingTable maps a requester's staff role to the role that decides
// their requests.
type RoutingTable map[StaffRole]Role

// DefaultRouting: academic staff go to their HOD, an HOD goes to the Dean,
// everyone else to Admin.
func DefaultRouting() RoutingTable {
	return RoutingTable{
		StaffAcademic:    RoleHOD,
		StaffHOD:         RoleDean,
		StaffDean:        RoleAdmin,
		StaffNonAcademic: RoleAdmin,
	}
}

// ApproverFor returns the approver role for a requester, Admin when the
// staff role is not in the table.
func (rt RoutingTable) ApproverFor(s StaffRole) Role {
	if r, ok := rt[s]; ok {
		return r
	}
	return RoleAdmin
}
