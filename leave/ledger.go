/*
ledger.go - Balance ledger (used / pending counters)

PURPOSE:
  Holds the authoritative used and pending day counts per employee, leave
  type and accrual year. Earned days come from the AccrualSchedule on every
  read, so a snapshot is always current for its as-of date.

OPERATIONS:
  Reserve: pending += days          (submission)
  Commit:  pending -= days; used += days (approval)
  Release: pending -= days          (rejection)
  Snapshot: earned/used/pending/remaining as of a date

INVARIANTS:
  - Reserve on a capped type fails unless remaining >= days afterwards.
  - Commit and Release fail if fewer than days are pending.
  - Other is never capacity-checked.

YEAR ROLLOVER:
  Rows are keyed by calendar year. The first read in a new year finds no
  row, so used and pending start at zero and earned is recomputed for the
  new as-of date. Nothing is carried forward.

SEE ALSO:
  - engine.go: calls the ledger inside TxStore.WithTx
*/
package leave

import (
	"context"
	"fmt"

	"github.com/warp/leave-engine/generic"
)

// Ledger reads and mutates balance rows through a Store. Create one per
// transaction, bound to the transactional store.
type Ledger struct {
	Store   Store
	Accrual AccrualSchedule
}

func NewLedger(store Store, accrual AccrualSchedule) *Ledger {
	return &Ledger{Store: store, Accrual: accrual}
}

// Snapshot returns the balance of one leave type for the accrual year
// containing asOf.
func (l *Ledger) Snapshot(ctx context.Context, p Profile, t LeaveType, asOf generic.TimePoint) (BalanceSnapshot, error) {
	ents, err := l.Accrual.Entitlements(p, asOf)
	if err != nil {
		return BalanceSnapshot{}, err
	}
	row, err := l.Store.GetBalanceRow(ctx, p.ID, t, asOf.Year())
	if err != nil {
		return BalanceSnapshot{}, fmt.Errorf("load balance %s/%s/%d: %w", p.ID, t, asOf.Year(), err)
	}
	row.EmployeeID, row.LeaveType, row.Year = p.ID, t, asOf.Year()
	return newSnapshot(row, ents[t], asOf), nil
}

// Reserve holds days against the balance of the year containing asOf.
// Returns an InsufficientBalance *ValidationError for capped types when
// the balance would go negative.
func (l *Ledger) Reserve(ctx context.Context, p Profile, t LeaveType, asOf generic.TimePoint, days int) (BalanceSnapshot, error) {
	snap, err := l.Snapshot(ctx, p, t, asOf)
	if err != nil {
		return BalanceSnapshot{}, err
	}
	if t.IsCapped() && snap.Remaining-days < 0 {
		return snap, &ValidationError{
			Code:      InsufficientBalance,
			Message:   fmt.Sprintf("cannot reserve %d %s days, %d remaining", days, t, snap.Remaining),
			LeaveType: t,
			Requested: days,
			Remaining: snap.Remaining,
		}
	}

	row := rowOf(snap)
	row.Pending += days
	if err := l.Store.PutBalanceRow(ctx, row); err != nil {
		return snap, err
	}
	return l.Snapshot(ctx, p, t, asOf)
}

// Commit turns reserved days into used days.
func (l *Ledger) Commit(ctx context.Context, employeeID EmployeeID, t LeaveType, year, days int) error {
	return l.movePending(ctx, employeeID, t, year, days, true)
}

// Release drops reserved days without using them.
func (l *Ledger) Release(ctx context.Context, employeeID EmployeeID, t LeaveType, year, days int) error {
	return l.movePending(ctx, employeeID, t, year, days, false)
}

func (l *Ledger) movePending(ctx context.Context, employeeID EmployeeID, t LeaveType, year, days int, consume bool) error {
	row, err := l.Store.GetBalanceRow(ctx, employeeID, t, year)
	if err != nil {
		return fmt.Errorf("load balance %s/%s/%d: %w", employeeID, t, year, err)
	}
	if row.Pending < days {
		return fmt.Errorf("%s/%s/%d has %d pending, need %d: %w",
			employeeID, t, year, row.Pending, days, ErrLedgerUnderflow)
	}
	row.EmployeeID, row.LeaveType, row.Year = employeeID, t, year
	row.Pending -= days
	if consume {
		row.Used += days
	}
	return l.Store.PutBalanceRow(ctx, row)
}

func rowOf(s BalanceSnapshot) BalanceRow {
	return BalanceRow{
		EmployeeID: s.EmployeeID,
		LeaveType:  s.LeaveType,
		Year:       s.Year,
		Used:       s.Used,
		Pending:    s.Pending,
		Version:    s.Version,
	}
}
