/*
accrual.go - Tenure-banded entitlement calculation

PURPOSE:
  Answers "how many days of each leave type has this employee earned as of
  this date". Pure computation, no store access.

BANDS (Permanent):
  m = calendar months between appointment and as-of (year/month only).

    m < 1        probation: Casual 0, Vacation 0
    1 <= m < 9   early tenure: Casual floor((m-1) x 1.5), Vacation 0
    m >= 9       full rate over the rest of the 12-month cycle:
                   r = 12 - (m mod 12)
                   Casual   floor(r x 21/12)
                   Vacation floor(r x 24/12)

  Other is unlimited. Maternity is 365 days from the first day.

BANDS (Temporary):
    m < 1        0
    m >= 1       Casual floor((m-1) x 1.5), nothing else

  The full-rate band restarts every 12 months, so earned drops at each
  cycle position and jumps back at m = 12, 24, ... This is intended.

ARITHMETIC:
  decimal.Decimal throughout; results are floored, never rounded.

SEE ALSO:
  - ledger.go: combines earned with used/pending into a BalanceSnapshot
*/
package leave

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

// Entitlement is what has been earned for one leave type.
type Entitlement struct {
	Days      int
	Unlimited bool
}

// AccrualSchedule computes earned entitlements for every leave type an
// employee is eligible for.
type AccrualSchedule interface {
	Entitlements(p Profile, asOf generic.TimePoint) (map[LeaveType]Entitlement, error)
}

// =============================================================================
// TENURE ACCRUAL
// =============================================================================

// TenureAccrual implements the probation / early-tenure / full-rate bands.
type TenureAccrual struct {
	ProbationMonths int             // months with nothing earned
	FullRateAfter   int             // first month of the full-rate band
	EarlyRate       decimal.Decimal // Casual days per month in the early band
	CycleMonths     int
	MaternityDays   int
}

// DefaultAccrual returns the organisation's standard schedule.
func DefaultAccrual() *TenureAccrual {
	return &TenureAccrual{
		ProbationMonths: 1,
		FullRateAfter:   9,
		EarlyRate:       decimal.RequireFromString("1.5"),
		CycleMonths:     12,
		MaternityDays:   365,
	}
}

var _ AccrualSchedule = (*TenureAccrual)(nil)

// Entitlements returns earned days per applicable leave type. Types the
// employee's class is not entitled to are absent from the map.
func (a *TenureAccrual) Entitlements(p Profile, asOf generic.TimePoint) (map[LeaveType]Entitlement, error) {
	if asOf.Before(p.AppointmentDate) {
		return nil, fmt.Errorf("employee %s as of %s: %w", p.ID, asOf, ErrAsOfBeforeAppointment)
	}
	m := generic.MonthsBetween(p.AppointmentDate, asOf)

	switch p.Class {
	case Temporary:
		return map[LeaveType]Entitlement{
			Casual: {Days: a.earlyCasual(m)},
		}, nil
	case Permanent:
		out := map[LeaveType]Entitlement{
			Other:     {Unlimited: true},
			Maternity: {Days: a.MaternityDays},
		}
		if m < a.FullRateAfter {
			out[Casual] = Entitlement{Days: a.earlyCasual(m)}
			out[Vacation] = Entitlement{Days: 0}
		} else {
			remaining := int64(a.CycleMonths - m%a.CycleMonths)
			out[Casual] = Entitlement{Days: a.prorate(remaining, catalog[Casual].AnnualCap)}
			out[Vacation] = Entitlement{Days: a.prorate(remaining, catalog[Vacation].AnnualCap)}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("employee %s has employment class %q: %w", p.ID, p.Class, ErrInvalidProfile)
	}
}

// EntitlementFor returns the entitlement for a single leave type. A type
// the employee is not eligible for earns zero.
func (a *TenureAccrual) EntitlementFor(p Profile, t LeaveType, asOf generic.TimePoint) (Entitlement, error) {
	all, err := a.Entitlements(p, asOf)
	if err != nil {
		return Entitlement{}, err
	}
	return all[t], nil
}

// earlyCasual is floor((m - probation) x rate), zero during probation.
func (a *TenureAccrual) earlyCasual(m int) int {
	if m < a.ProbationMonths {
		return 0
	}
	months := decimal.NewFromInt(int64(m - a.ProbationMonths))
	return int(months.Mul(a.EarlyRate).Floor().IntPart())
}

// prorate is floor(remainingMonths x annualCap / cycle).
func (a *TenureAccrual) prorate(remainingMonths int64, annualCap int) int {
	v := decimal.NewFromInt(remainingMonths).
		Mul(decimal.NewFromInt(int64(annualCap))).
		Div(decimal.NewFromInt(int64(a.CycleMonths)))
	return int(v.Floor().IntPart())
}
