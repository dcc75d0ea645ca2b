package leave

import (
	"fmt"
	"strings"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// REQUEST VALIDATOR
// =============================================================================

// Validate checks a draft against the employee's balance for the draft's
// leave type and the employee's other requests. On success it returns the
// accepted request fields (status is left for the caller to set). On
// failure it returns a *ValidationError; checks run in this order:
//
//  1. InvalidDateRange          start after end
//  2. RetroactiveDateNotAllowed start before as-of
//  3. LeaveTypeNotApplicable    unknown type, or not in the class's catalog
//  4. InsufficientBalance       capped type with remaining < requested days
//  5. OverlappingRequest        shares a day with a non-rejected request
func Validate(p Profile, d Draft, balance BalanceSnapshot, existing []Request, asOf generic.TimePoint) (Request, error) {
	if d.EndDate.Before(d.StartDate) {
		return Request{}, &ValidationError{
			Code:      InvalidDateRange,
			Message:   fmt.Sprintf("start %s is after end %s", d.StartDate, d.EndDate),
			LeaveType: d.LeaveType,
		}
	}
	if d.StartDate.Before(asOf) {
		return Request{}, &ValidationError{
			Code:      RetroactiveDateNotAllowed,
			Message:   fmt.Sprintf("start %s is before %s", d.StartDate, asOf),
			LeaveType: d.LeaveType,
		}
	}
	if !d.LeaveType.AppliesTo(p.Class) {
		return Request{}, &ValidationError{
			Code:      LeaveTypeNotApplicable,
			Message:   fmt.Sprintf("%s leave is not available to %s employees", d.LeaveType, p.Class),
			LeaveType: d.LeaveType,
		}
	}

	days := generic.DaysInclusive(d.StartDate, d.EndDate)
	if d.LeaveType.IsCapped() && !balance.Sufficient(days) {
		return Request{}, &ValidationError{
			Code:      InsufficientBalance,
			Message:   fmt.Sprintf("%d %s days requested, %d remaining", days, d.LeaveType, balance.Remaining),
			LeaveType: d.LeaveType,
			Requested: days,
			Remaining: balance.Remaining,
		}
	}

	period := generic.Period{Start: d.StartDate, End: d.EndDate}
	for _, r := range existing {
		if r.EmployeeID != p.ID || !r.Status.Blocks() {
			continue
		}
		if r.Period().Overlaps(period) {
			return Request{}, &ValidationError{
				Code:       OverlappingRequest,
				Message:    fmt.Sprintf("%s overlaps %s request %s %s", period, r.Status, r.ID, r.Period()),
				LeaveType:  d.LeaveType,
				Requested:  days,
				ConflictID: r.ID,
			}
		}
	}

	return Request{
		EmployeeID:    p.ID,
		LeaveType:     d.LeaveType,
		StartDate:     d.StartDate,
		EndDate:       d.EndDate,
		RequestedDays: days,
		Reason:        strings.TrimSpace(d.Reason),
	}, nil
}
