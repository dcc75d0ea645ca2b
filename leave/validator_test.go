package leave_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

func draft(t leave.LeaveType, start, end string) leave.Draft {
	return leave.Draft{
		LeaveType: t,
		StartDate: generic.MustParseTimePoint(start),
		EndDate:   generic.MustParseTimePoint(end),
		Reason:    "  family  ",
	}
}

func remaining(t leave.LeaveType, n int) leave.BalanceSnapshot {
	return leave.BalanceSnapshot{EmployeeID: "emp-1", LeaveType: t, Earned: n, Remaining: n}
}

func existingRequest(id, start, end string, status leave.Status) leave.Request {
	return leave.Request{
		ID:         leave.RequestID(id),
		EmployeeID: "emp-1",
		LeaveType:  leave.Casual,
		StartDate:  generic.MustParseTimePoint(start),
		EndDate:    generic.MustParseTimePoint(end),
		Status:     status,
	}
}

func requireCode(t *testing.T, err error, want leave.ValidationCode) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, leave.ErrValidation)
	code, ok := leave.ValidationCodeOf(err)
	require.True(t, ok, "expected *ValidationError, got %v", err)
	assert.Equal(t, want, code)
}

var asOf = generic.MustParseTimePoint("2025-03-01")

func TestValidate_Accepts(t *testing.T) {
	p := permanent("2024-01-01")

	r, err := leave.Validate(p, draft(leave.Casual, "2025-03-10", "2025-03-14"), remaining(leave.Casual, 10), nil, asOf)
	require.NoError(t, err)
	assert.Equal(t, 5, r.RequestedDays)
	assert.Equal(t, leave.EmployeeID("emp-1"), r.EmployeeID)
	assert.Equal(t, "family", r.Reason)
}

func TestValidate_SingleDayAndExactBalance(t *testing.T) {
	p := permanent("2024-01-01")

	r, err := leave.Validate(p, draft(leave.Casual, "2025-03-01", "2025-03-01"), remaining(leave.Casual, 1), nil, asOf)
	require.NoError(t, err)
	assert.Equal(t, 1, r.RequestedDays)
}

func TestValidate_InvalidDateRange(t *testing.T) {
	_, err := leave.Validate(permanent("2024-01-01"), draft(leave.Casual, "2025-03-10", "2025-03-09"), remaining(leave.Casual, 10), nil, asOf)
	requireCode(t, err, leave.InvalidDateRange)
}

func TestValidate_Retroactive(t *testing.T) {
	_, err := leave.Validate(permanent("2024-01-01"), draft(leave.Casual, "2025-02-28", "2025-03-02"), remaining(leave.Casual, 10), nil, asOf)
	requireCode(t, err, leave.RetroactiveDateNotAllowed)
}

func TestValidate_NotApplicable(t *testing.T) {
	_, err := leave.Validate(temporary("2024-01-01"), draft(leave.Vacation, "2025-03-10", "2025-03-10"), remaining(leave.Vacation, 10), nil, asOf)
	requireCode(t, err, leave.LeaveTypeNotApplicable)

	_, err = leave.Validate(permanent("2024-01-01"), draft("Sabbatical", "2025-03-10", "2025-03-10"), leave.BalanceSnapshot{}, nil, asOf)
	requireCode(t, err, leave.LeaveTypeNotApplicable)
}

func TestValidate_InsufficientBalance(t *testing.T) {
	_, err := leave.Validate(permanent("2024-01-01"), draft(leave.Casual, "2025-03-10", "2025-03-14"), remaining(leave.Casual, 4), nil, asOf)
	requireCode(t, err, leave.InsufficientBalance)

	var ve *leave.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 5, ve.Requested)
	assert.Equal(t, 4, ve.Remaining)
}

func TestValidate_OtherLeaveIsNeverCapped(t *testing.T) {
	bal := leave.BalanceSnapshot{LeaveType: leave.Other, Unlimited: true}

	r, err := leave.Validate(permanent("2024-01-01"), draft(leave.Other, "2025-03-10", "2025-06-10"), bal, nil, asOf)
	require.NoError(t, err)
	assert.Equal(t, 93, r.RequestedDays)
}

func TestValidate_OtherLeaveCountsCenturies(t *testing.T) {
	bal := leave.BalanceSnapshot{LeaveType: leave.Other, Unlimited: true}

	r, err := leave.Validate(permanent("2024-01-01"), draft(leave.Other, "2025-03-10", "2400-03-09"), bal, nil, asOf)
	require.NoError(t, err)
	assert.Equal(t, 136965, r.RequestedDays)
}

func TestValidate_Overlap(t *testing.T) {
	existing := []leave.Request{
		existingRequest("r-rejected", "2025-03-10", "2025-03-20", leave.StatusRejected),
		existingRequest("r-approved", "2025-03-14", "2025-03-16", leave.StatusApproved),
	}

	_, err := leave.Validate(permanent("2024-01-01"), draft(leave.Casual, "2025-03-10", "2025-03-14"), remaining(leave.Casual, 10), existing, asOf)
	requireCode(t, err, leave.OverlappingRequest)

	var ve *leave.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, leave.RequestID("r-approved"), ve.ConflictID)

	// Adjacent ranges do not overlap, rejected requests never block.
	_, err = leave.Validate(permanent("2024-01-01"), draft(leave.Casual, "2025-03-10", "2025-03-13"), remaining(leave.Casual, 10), existing, asOf)
	assert.NoError(t, err)
}


func TestValidate_Overlap_EveryBlockingStatus(t *testing.T) {
	tests := []struct {
		status leave.Status
		blocks bool
	}{
		{leave.StatusPending, true},
		{leave.StatusChecked, true},
		{leave.StatusApproved, true},
		{leave.StatusRejected, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			existing := []leave.Request{existingRequest("r-1", "2025-03-12", "2025-03-12", tt.status)}

			_, err := leave.Validate(permanent("2024-01-01"), draft(leave.Vacation, "2025-03-10", "2025-03-14"), remaining(leave.Vacation, 10), existing, asOf)
			if !tt.blocks {
				assert.NoError(t, err)
				return
			}
			requireCode(t, err, leave.OverlappingRequest)
		})
	}
}

func TestValidate_CheckOrder(t *testing.T) {
	// GIVEN: A draft that is retroactive, not applicable and over balance
	// THEN: The first failing check wins

	d := draft(leave.Vacation, "2025-02-01", "2025-02-28")
	_, err := leave.Validate(temporary("2024-01-01"), d, remaining(leave.Vacation, 0), nil, asOf)
	requireCode(t, err, leave.RetroactiveDateNotAllowed)

	d = draft(leave.Vacation, "2025-04-01", "2025-04-28")
	_, err = leave.Validate(temporary("2024-01-01"), d, remaining(leave.Vacation, 0), nil, asOf)
	requireCode(t, err, leave.LeaveTypeNotApplicable)

	existing := []leave.Request{existingRequest("r-1", "2025-04-01", "2025-04-02", leave.StatusPending)}
	d = draft(leave.Casual, "2025-04-01", "2025-04-28")
	_, err = leave.Validate(permanent("2024-01-01"), d, remaining(leave.Casual, 3), existing, asOf)
	requireCode(t, err, leave.InsufficientBalance)
}
