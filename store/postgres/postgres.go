/*
Package postgres provides a PostgreSQL-backed leave.TxStore using pgx.

PURPOSE:
  Production persistence. Same contract and the same compare-and-set
  semantics as store/sqlite, with the schema managed by golang-migrate
  from migrations embedded in the binary.

MIGRATIONS:
  migrations/NNNNNN_name.up.sql / .down.sql, applied by Migrate() on
  startup through a database/sql handle borrowed from the pool.

CONCURRENCY:
  Transactions run at READ COMMITTED. LockEmployee takes a
  transaction-scoped advisory lock keyed on the employee ID, so two
  instances submitting for the same employee run one after the other
  even without Redis. The conditional UPDATEs (version / status) and the
  primary keys catch the rest: a lost race shows up as zero affected rows
  or a unique violation, both mapped to generic.ErrConcurrentModification.

SEE ALSO:
  - leave/store.go: interface definitions
  - store/sqlite: embedded variant
*/
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const uniqueViolation = "23505"

// Store implements leave.TxStore on a pgx pool.
type Store struct {
	conn
	pool *pgxpool.Pool
}

var _ leave.TxStore = (*Store)(nil)

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Connect opens a pool against databaseURL. Zero fields in pc keep pgx defaults.
func Connect(ctx context.Context, databaseURL string, pc PoolConfig) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		cfg.MinConns = pc.MinConns
	}
	if pc.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = pc.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{conn: conn{q: pool}, pool: pool}
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies every pending up migration.
func (s *Store) Migrate(logger *zap.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	if dirty {
		logger.Warn("database migration is dirty", zap.Uint("version", version))
	} else {
		logger.Info("database migrated", zap.Uint("version", version))
	}
	return nil
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&conn{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// =============================================================================
// QUERIES - shared by the pool and pgx.Tx
// =============================================================================

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type conn struct {
	q querier
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (c *conn) SaveProfile(ctx context.Context, p leave.Profile) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO employees (id, name, department, position, staff_role,
			appointment_date, employment_class, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(p.ID), p.Name, p.Department, p.Position, string(p.StaffRole),
		p.AppointmentDate.Time, string(p.Class), p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return generic.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("save employee: %w", err)
	}
	return nil
}

const profileColumns = `id, name, department, position, staff_role, appointment_date, employment_class, created_at`

func (c *conn) GetProfile(ctx context.Context, id leave.EmployeeID) (leave.Profile, error) {
	p, err := scanProfile(c.q.QueryRow(ctx, `SELECT `+profileColumns+` FROM employees WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return leave.Profile{}, generic.ErrNotFound
	}
	return p, err
}

func (c *conn) ListProfiles(ctx context.Context) ([]leave.Profile, error) {
	rows, err := c.q.Query(ctx, `SELECT `+profileColumns+` FROM employees ORDER BY id`)
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
	_, err := c.q.Exec(ctx, `
		INSERT INTO leave_requests (id, employee_id, leave_type, start_date, end_date,
			requested_days, reason, status, approver_role, ledger_year, submitted_at,
			checked_by, checked_at, decided_by, decided_at, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		string(r.ID), string(r.EmployeeID), string(r.LeaveType), r.StartDate.Time, r.EndDate.Time,
		r.RequestedDays, r.Reason, string(r.Status), string(r.ApproverRole), r.LedgerYear, r.SubmittedAt,
		nullString(r.CheckedBy), r.CheckedAt, nullString(r.DecidedBy), r.DecidedAt, nullString(r.Comment),
	)
	if isUniqueViolation(err) {
		return generic.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

const requestColumns = `id, employee_id, leave_type, start_date, end_date, requested_days, reason,
	status, approver_role, ledger_year, submitted_at, checked_by, checked_at, decided_by, decided_at, comment`

func (c *conn) GetRequest(ctx context.Context, id leave.RequestID) (leave.Request, error) {
	r, err := scanRequest(c.q.QueryRow(ctx, `SELECT `+requestColumns+` FROM leave_requests WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return leave.Request{}, generic.ErrNotFound
	}
	return r, err
}

func (c *conn) ListRequests(ctx context.Context, employeeID leave.EmployeeID) ([]leave.Request, error) {
	return c.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM leave_requests WHERE employee_id = $1 ORDER BY seq`, string(employeeID))
}

func (c *conn) ListRequestsByStatus(ctx context.Context, statuses ...leave.Status) ([]leave.Request, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return c.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM leave_requests WHERE status = ANY($1) ORDER BY seq`, names)
}

func (c *conn) UpdateRequest(ctx context.Context, r leave.Request, expected leave.Status) error {
	tag, err := c.q.Exec(ctx, `
		UPDATE leave_requests
		SET status = $1, checked_by = $2, checked_at = $3, decided_by = $4, decided_at = $5, comment = $6
		WHERE id = $7 AND status = $8`,
		string(r.Status), nullString(r.CheckedBy), r.CheckedAt, nullString(r.DecidedBy), r.DecidedAt,
		nullString(r.Comment), string(r.ID), string(expected),
	)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := c.GetRequest(ctx, r.ID); err != nil {
		return err
	}
	return generic.ErrConcurrentModification
}

func (c *conn) queryRequests(ctx context.Context, query string, args ...any) ([]leave.Request, error) {
	rows, err := c.q.Query(ctx, query, args...)
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
	err := c.q.QueryRow(ctx, `
		SELECT used, pending, version FROM leave_balances
		WHERE employee_id = $1 AND leave_type = $2 AND year = $3`,
		string(employeeID), string(t), year,
	).Scan(&row.Used, &row.Pending, &row.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return row, nil
	}
	if err != nil {
		return leave.BalanceRow{}, fmt.Errorf("load balance: %w", err)
	}
	return row, nil
}

func (c *conn) PutBalanceRow(ctx context.Context, row leave.BalanceRow) error {
	if row.Version == 0 {
		_, err := c.q.Exec(ctx, `
			INSERT INTO leave_balances (employee_id, leave_type, year, used, pending, version)
			VALUES ($1, $2, $3, $4, $5, 1)`,
			string(row.EmployeeID), string(row.LeaveType), row.Year, row.Used, row.Pending,
		)
		if isUniqueViolation(err) {
			return generic.ErrConcurrentModification
		}
		return err
	}

	tag, err := c.q.Exec(ctx, `
		UPDATE leave_balances SET used = $1, pending = $2, version = version + 1
		WHERE employee_id = $3 AND leave_type = $4 AND year = $5 AND version = $6`,
		row.Used, row.Pending, string(row.EmployeeID), string(row.LeaveType), row.Year, row.Version,
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return generic.ErrConcurrentModification
	}
	return nil
}

// LockEmployee takes pg_advisory_xact_lock, released at commit or rollback.
func (c *conn) LockEmployee(ctx context.Context, id leave.EmployeeID) error {
	if _, err := c.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(id)); err != nil {
		return fmt.Errorf("lock employee %s: %w", id, err)
	}
	return nil
}

// =============================================================================
// SCANNING
// =============================================================================

func scanProfile(row pgx.Row) (leave.Profile, error) {
	var (
		id, role, class string
		appointed       time.Time
		p               leave.Profile
	)
	if err := row.Scan(&id, &p.Name, &p.Department, &p.Position, &role, &appointed, &class, &p.CreatedAt); err != nil {
		return leave.Profile{}, err
	}
	p.ID = leave.EmployeeID(id)
	p.StaffRole = leave.StaffRole(role)
	p.Class = leave.EmploymentClass(class)
	p.AppointmentDate = generic.FromTime(appointed)
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func scanRequest(row pgx.Row) (leave.Request, error) {
	var (
		r                             leave.Request
		id, emp, lt, status, approver string
		start, end                    time.Time
		checkedBy, decidedBy, comment *string
	)
	err := row.Scan(&id, &emp, &lt, &start, &end, &r.RequestedDays, &r.Reason,
		&status, &approver, &r.LedgerYear, &r.SubmittedAt,
		&checkedBy, &r.CheckedAt, &decidedBy, &r.DecidedAt, &comment)
	if err != nil {
		return leave.Request{}, err
	}
	r.ID = leave.RequestID(id)
	r.EmployeeID = leave.EmployeeID(emp)
	r.LeaveType = leave.LeaveType(lt)
	r.Status = leave.Status(status)
	r.ApproverRole = leave.Role(approver)
	r.StartDate = generic.FromTime(start)
	r.EndDate = generic.FromTime(end)
	r.SubmittedAt = r.SubmittedAt.UTC()
	r.CheckedBy = deref(checkedBy)
	r.DecidedBy = deref(decidedBy)
	r.Comment = deref(comment)
	return r, nil
}

// Helper functions

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
