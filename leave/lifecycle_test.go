package leave_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
)

func requestIn(status leave.Status, approver leave.Role) leave.Request {
	return leave.Request{ID: "r-1", EmployeeID: "emp-1", Status: status, ApproverRole: approver}
}

func TestNextStatus_Table(t *testing.T) {
	tests := []struct {
		name   string
		from   leave.Status
		event  leave.Event
		role   leave.Role
		to     leave.Status
		effect leave.LedgerEffect
	}{
		{"reviewer checks pending", leave.StatusPending, leave.EventMarkChecked, leave.RoleReviewer, leave.StatusChecked, leave.EffectNone},
		{"approver approves pending", leave.StatusPending, leave.EventApprove, leave.RoleHOD, leave.StatusApproved, leave.EffectCommit},
		{"approver approves checked", leave.StatusChecked, leave.EventApprove, leave.RoleHOD, leave.StatusApproved, leave.EffectCommit},
		{"approver rejects pending", leave.StatusPending, leave.EventReject, leave.RoleHOD, leave.StatusRejected, leave.EffectRelease},
		{"approver rejects checked", leave.StatusChecked, leave.EventReject, leave.RoleHOD, leave.StatusRejected, leave.EffectRelease},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			to, effect, err := leave.NextStatus(requestIn(tt.from, leave.RoleHOD), tt.event, tt.role)
			require.NoError(t, err)
			assert.Equal(t, tt.to, to)
			assert.Equal(t, tt.effect, effect)
		})
	}
}

func TestNextStatus_TerminalStatesRefuseEverything(t *testing.T) {
	for _, status := range []leave.Status{leave.StatusApproved, leave.StatusRejected} {
		for _, ev := range []leave.Event{leave.EventMarkChecked, leave.EventApprove, leave.EventReject, leave.EventSubmit} {
			to, effect, err := leave.NextStatus(requestIn(status, leave.RoleAdmin), ev, leave.RoleAdmin)

			code, ok := leave.LifecycleCodeOf(err)
			require.True(t, ok)
			assert.Equal(t, leave.TerminalStateError, code, "%s/%s", status, ev)
			assert.Equal(t, status, to)
			assert.Equal(t, leave.EffectNone, effect)
		}
	}
}

func TestNextStatus_WrongRole(t *testing.T) {
	_, _, err := leave.NextStatus(requestIn(leave.StatusPending, leave.RoleHOD), leave.EventApprove, leave.RoleDean)
	code, _ := leave.LifecycleCodeOf(err)
	assert.Equal(t, leave.UnauthorizedTransition, code)
	assert.ErrorIs(t, err, leave.ErrLifecycle)

	// Approvers cannot pre-screen; that is the reviewer's edge.
	_, _, err = leave.NextStatus(requestIn(leave.StatusPending, leave.RoleHOD), leave.EventMarkChecked, leave.RoleHOD)
	code, _ = leave.LifecycleCodeOf(err)
	assert.Equal(t, leave.UnauthorizedTransition, code)

	// Reviewers cannot decide.
	_, _, err = leave.NextStatus(requestIn(leave.StatusChecked, leave.RoleHOD), leave.EventReject, leave.RoleReviewer)
	code, _ = leave.LifecycleCodeOf(err)
	assert.Equal(t, leave.UnauthorizedTransition, code)
}

func TestNextStatus_MissingEdge(t *testing.T) {
	_, _, err := leave.NextStatus(requestIn(leave.StatusChecked, leave.RoleHOD), leave.EventMarkChecked, leave.RoleReviewer)
	code, _ := leave.LifecycleCodeOf(err)
	assert.Equal(t, leave.InvalidTransition, code)

	_, _, err = leave.NextStatus(requestIn(leave.StatusPending, leave.RoleHOD), leave.EventSubmit, leave.RoleEmployee)
	code, _ = leave.LifecycleCodeOf(err)
	assert.Equal(t, leave.InvalidTransition, code)
}

func TestRouting(t *testing.T) {
	rt := leave.DefaultRouting()

	assert.Equal(t, leave.RoleHOD, rt.ApproverFor(leave.StaffAcademic))
	assert.Equal(t, leave.RoleDean, rt.ApproverFor(leave.StaffHOD))
	assert.Equal(t, leave.RoleAdmin, rt.ApproverFor(leave.StaffDean))
	assert.Equal(t, leave.RoleAdmin, rt.ApproverFor(leave.StaffNonAcademic))
	assert.Equal(t, leave.RoleAdmin, rt.ApproverFor("janitor"))
}

func TestInferEmploymentClass(t *testing.T) {
	tests := map[string]leave.EmploymentClass{
		"Senior Lecturer":          leave.Permanent,
		"Temporary Lecturer":       leave.Temporary,
		"Contract Driver":          leave.Temporary,
		"Part-time Tutor":          leave.Temporary,
		"Visiting Professor":       leave.Temporary,
		"Registrar":                leave.Permanent,
		"Assistant Registrar TEMP": leave.Temporary,
	}
	for position, want := range tests {
		assert.Equal(t, want, leave.InferEmploymentClass(position), position)
	}
}
