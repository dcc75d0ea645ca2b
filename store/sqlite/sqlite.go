/*
Package sqlite provides a SQLite-backed leave.TxStore.

PURPOSE:
  Single-file persistence for small deployments and for tests that want a
  real SQL engine without a server. Implements the same contract as the
  in-memory store (leave/store) and the PostgreSQL store (store/postgres).

KEY TABLES:
  employees:      registered profiles (immutable once inserted)
  leave_requests: every request ever submitted, never deleted
  leave_balances: used / pending per (employee, leave type, year) with a
                  version column for compare-and-set

OPTIMISTIC CONCURRENCY:
  - leave_balances: INSERT when version 0 is expected, otherwise
    UPDATE ... WHERE version = ?. Zero rows affected or a primary key
    violation means somebody else wrote first.
  - leave_requests: UPDATE ... WHERE status = ? for status changes.
  Both surface as generic.ErrConcurrentModification.

CONNECTIONS:
  The pool is limited to one connection. SQLite allows a single writer
  anyway, and ":memory:" databases are private to their connection.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := leave.NewEngine(store)

SEE ALSO:
  - leave/store.go: interface definitions
  - leave/store/memory.go: in-memory implementation for testing
  - store/postgres: production backend
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// Store implements leave.TxStore using SQLite.
type Store struct {
	conn
	db *sql.DB
}

var _ leave.TxStore = (*Store)(nil)

// New opens (and migrates) a SQLite database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{conn: conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		department TEXT NOT NULL DEFAULT '',
		position TEXT NOT NULL DEFAULT '',
		staff_role TEXT NOT NULL,
		appointment_date TEXT NOT NULL,
		employment_class TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- seq keeps submission order; id is the public identifier
	CREATE TABLE IF NOT EXISTS leave_requests (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		leave_type TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		requested_days INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		approver_role TEXT NOT NULL,
		ledger_year INTEGER NOT NULL,
		submitted_at TEXT NOT NULL,
		checked_by TEXT,
		checked_at TEXT,
		decided_by TEXT,
		decided_at TEXT,
		comment TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_employee
		ON leave_requests(employee_id, seq);
	CREATE INDEX IF NOT EXISTS idx_leave_requests_status
		ON leave_requests(status, seq);

	CREATE TABLE IF NOT EXISTS leave_balances (
		employee_id TEXT NOT NULL,
		leave_type TEXT NOT NULL,
		year INTEGER NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		pending INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL,
		PRIMARY KEY (employee_id, leave_type, year),
		CHECK (used >= 0 AND pending >= 0)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// QUERIES - shared by *sql.DB and *sql.Tx
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type conn struct {
	q querier
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (c *conn) SaveProfile(ctx context.Context, p leave.Profile) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO employees (id, name, department, position, staff_role,
			appointment_date, employment_class, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Department, p.Position, p.StaffRole,
		p.AppointmentDate.String(), p.Class, formatTime(p.CreatedAt),
	)
	if isConstraintError(err) {
		return generic.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

const profileColumns = `id, name, department, position, staff_role, appointment_date, employment_class, created_at`

func (c *conn) GetProfile(ctx context.Context, id leave.EmployeeID) (leave.Profile, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM employees WHERE id = ?`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.Profile{}, generic.ErrNotFound
	}
	return p, err
}

func (c *conn) ListProfiles(ctx context.Context) ([]leave.Profile, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT `+profileColumns+` FROM employees ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leave.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// REQUESTS
// =============================================================================

func (c *conn) CreateRequest(ctx context.Context, r leave.Request) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO leave_requests (id, employee_id, leave_type, start_date, end_date,
			requested_days, reason, status, approver_role, ledger_year, submitted_at,
			checked_by, checked_at, decided_by, decided_at, comment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EmployeeID, r.LeaveType, r.StartDate.String(), r.EndDate.String(),
		r.RequestedDays, r.Reason, r.Status, r.ApproverRole, r.LedgerYear, formatTime(r.SubmittedAt),
		nullString(r.CheckedBy), nullTime(r.CheckedAt), nullString(r.DecidedBy), nullTime(r.DecidedAt),
		nullString(r.Comment),
	)
	if isConstraintError(err) {
		return generic.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

const requestColumns = `id, employee_id, leave_type, start_date, end_date, requested_days, reason,
	status, approver_role, ledger_year, submitted_at, checked_by, checked_at, decided_by, decided_at, comment`

func (c *conn) GetRequest(ctx context.Context, id leave.RequestID) (leave.Request, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM leave_requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.Request{}, generic.ErrNotFound
	}
	return r, err
}

func (c *conn) ListRequests(ctx context.Context, employeeID leave.EmployeeID) ([]leave.Request, error) {
	return c.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM leave_requests WHERE employee_id = ? ORDER BY seq`, employeeID)
}

func (c *conn) ListRequestsByStatus(ctx context.Context, statuses ...leave.Status) ([]leave.Request, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	return c.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM leave_requests WHERE status IN (`+placeholders+`) ORDER BY seq`, args...)
}

func (c *conn) UpdateRequest(ctx context.Context, r leave.Request, expected leave.Status) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE leave_requests
		SET status = ?, checked_by = ?, checked_at = ?, decided_by = ?, decided_at = ?, comment = ?
		WHERE id = ? AND status = ?`,
		r.Status, nullString(r.CheckedBy), nullTime(r.CheckedAt), nullString(r.DecidedBy),
		nullTime(r.DecidedAt), nullString(r.Comment), r.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := c.GetRequest(ctx, r.ID); err != nil {
		return err
	}
	return generic.ErrConcurrentModification
}

func (c *conn) queryRequests(ctx context.Context, query string, args ...any) ([]leave.Request, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leave.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// BALANCES
// =============================================================================

func (c *conn) GetBalanceRow(ctx context.Context, employeeID leave.EmployeeID, t leave.LeaveType, year int) (leave.BalanceRow, error) {
	row := leave.BalanceRow{EmployeeID: employeeID, LeaveType: t, Year: year}
	err := c.q.QueryRowContext(ctx, `
		SELECT used, pending, version FROM leave_balances
		WHERE employee_id = ? AND leave_type = ? AND year = ?`,
		employeeID, t, year,
	).Scan(&row.Used, &row.Pending, &row.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return row, nil
	}
	if err != nil {
		return leave.BalanceRow{}, fmt.Errorf("failed to load balance: %w", err)
	}
	return row, nil
}

func (c *conn) PutBalanceRow(ctx context.Context, row leave.BalanceRow) error {
	if row.Version == 0 {
		_, err := c.q.ExecContext(ctx, `
			INSERT INTO leave_balances (employee_id, leave_type, year, used, pending, version)
			VALUES (?, ?, ?, ?, ?, 1)`,
			row.EmployeeID, row.LeaveType, row.Year, row.Used, row.Pending,
		)
		if isConstraintError(err) {
			return generic.ErrConcurrentModification
		}
		return err
	}

	res, err := c.q.ExecContext(ctx, `
		UPDATE leave_balances SET used = ?, pending = ?, version = version + 1
		WHERE employee_id = ? AND leave_type = ? AND year = ? AND version = ?`,
		row.Used, row.Pending, row.EmployeeID, row.LeaveType, row.Year, row.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return generic.ErrConcurrentModification
	}
	return nil
}

// LockEmployee is a no-op: the single connection already runs one
// transaction at a time.
func (c *conn) LockEmployee(context.Context, leave.EmployeeID) error { return nil }

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(s scanner) (leave.Profile, error) {
	var p leave.Profile
	var appointed, created string
	if err := s.Scan(&p.ID, &p.Name, &p.Department, &p.Position, &p.StaffRole,
		&appointed, &p.Class, &created); err != nil {
		return leave.Profile{}, err
	}
	var err error
	if p.AppointmentDate, err = generic.ParseTimePoint(appointed); err != nil {
		return leave.Profile{}, err
	}
	p.CreatedAt = parseTime(created)
	return p, nil
}

func scanRequest(s scanner) (leave.Request, error) {
	var r leave.Request
	var start, end, submitted string
	var checkedBy, checkedAt, decidedBy, decidedAt, comment sql.NullString
	err := s.Scan(&r.ID, &r.EmployeeID, &r.LeaveType, &start, &end, &r.RequestedDays, &r.Reason,
		&r.Status, &r.ApproverRole, &r.LedgerYear, &submitted,
		&checkedBy, &checkedAt, &decidedBy, &decidedAt, &comment)
	if err != nil {
		return leave.Request{}, err
	}

	if r.StartDate, err = generic.ParseTimePoint(start); err != nil {
		return leave.Request{}, err
	}
	if r.EndDate, err = generic.ParseTimePoint(end); err != nil {
		return leave.Request{}, err
	}
	r.SubmittedAt = parseTime(submitted)
	r.CheckedBy = checkedBy.String
	r.CheckedAt = parseNullTime(checkedAt)
	r.DecidedBy = decidedBy.String
	r.DecidedAt = parseNullTime(decidedAt)
	r.Comment = comment.String
	return r, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func isConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}
