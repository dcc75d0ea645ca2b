/*
store.go - Persistence contract for the engine

PURPOSE:
  The engine never talks to a database directly. It needs three things
  from a store: profiles, request records, and balance rows, plus a way
  to make several writes atomic.

ATOMICITY:
  TxStore.WithTx runs fn against a Store bound to one transaction. If fn
  returns an error nothing it wrote is kept. The engine creates a request
  and reserves its days in one WithTx call, and changes a status and
  commits/releases days in another.

OPTIMISTIC CONCURRENCY:
  - UpdateRequest is a compare-and-set on the previous status.
  - PutBalanceRow is a compare-and-set on BalanceRow.Version: the row is
    written with Version+1 only if the stored version still equals
    row.Version (0 = must not exist yet).
  Both return generic.ErrConcurrentModification on conflict.

EMPLOYEE LOCK:
  Version checks only collide on the same row. Two submissions of
  different leave types touch different balance rows, so the overlap
  check needs the employee's requests to stay put until commit. The
  engine calls LockEmployee first in every transaction; stores whose
  transactions already run one at a time implement it as a no-op.

IMPLEMENTATIONS:
  - leave/store/memory.go:    in-memory, for tests and demos
  - store/sqlite/sqlite.go:   embedded SQLite
  - store/postgres:           PostgreSQL via pgx
*/
package leave

import "context"

// Store persists profiles, requests and balance rows.
type Store interface {
	// SaveProfile inserts a profile. Returns generic.ErrAlreadyExists if the
	// ID is taken; profiles are immutable once stored.
	SaveProfile(ctx context.Context, p Profile) error

	// GetProfile returns generic.ErrNotFound for unknown IDs.
	GetProfile(ctx context.Context, id EmployeeID) (Profile, error)

	ListProfiles(ctx context.Context) ([]Profile, error)

	// CreateRequest inserts a new request record.
	CreateRequest(ctx context.Context, r Request) error

	// GetRequest returns generic.ErrNotFound for unknown IDs.
	GetRequest(ctx context.Context, id RequestID) (Request, error)

	// ListRequests returns every request of an employee, oldest first.
	ListRequests(ctx context.Context, employeeID EmployeeID) ([]Request, error)

	// ListRequestsByStatus returns requests in any of the given statuses, oldest first.
	ListRequestsByStatus(ctx context.Context, statuses ...Status) ([]Request, error)

	// UpdateRequest overwrites the mutable fields of r if the stored status
	// still equals expected.
	UpdateRequest(ctx context.Context, r Request, expected Status) error

	// GetBalanceRow returns the row, or a zero row with Version 0 when none exists.
	GetBalanceRow(ctx context.Context, employeeID EmployeeID, t LeaveType, year int) (BalanceRow, error)

	// PutBalanceRow writes row with Version+1 if the stored version equals row.Version.
	PutBalanceRow(ctx context.Context, row BalanceRow) error

	// LockEmployee blocks other transactions that lock the same employee
	// until the current transaction ends. Outside WithTx it has no effect.
	LockEmployee(ctx context.Context, id EmployeeID) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
