/*
engine.go - The engine boundary

PURPOSE:
  SubmitRequest, Transition and GetBalance are what the web layer calls.
  Everything else in this package is reachable from here.

REQUEST FLOW:
  ┌──────────────────────────────────────────────────────────────────┐
  │ SubmitRequest                                                    │
  │   lock(employee) ─▶ WithTx { LockEmployee ─▶                     │
  │       snapshot ─▶ Validate ─▶ CreateRequest(pending) ─▶ Reserve  │
  │   }                                                              │
  │                                                                  │
  │ Transition                                                       │
  │   lock(employee) ─▶ WithTx { LockEmployee ─▶                     │
  │       GetRequest ─▶ NextStatus ─▶ Commit|Release ─▶ UpdateRequest│
  │   }                                                              │
  └──────────────────────────────────────────────────────────────────┘

CONCURRENCY:
  The per-employee lock serializes work inside one process (or across
  processes with store/redis.Locker). Inside the transaction the store's
  LockEmployee serializes the same employee across processes sharing one
  database, so the overlap check always sees the other's requests. The
  store's compare-and-set on balance versions and request status catches
  anything left; the engine retries those conflicts MaxRetries times and
  then reports StaleSnapshot. Different employees never contend.

ERRORS:
  SubmitRequest: *ValidationError, *LifecycleError (StaleSnapshot), or a
  wrapped store / accrual error. Transition: *LifecycleError or
  generic.ErrNotFound. No error path leaves a partial write behind.
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
)

// Engine is safe for concurrent use.
type Engine struct {
	store      TxStore
	accrual    AccrualSchedule
	routing    RoutingTable
	locker     generic.Locker
	logger     *zap.Logger
	maxRetries int
	now        func() time.Time
	newID      func() RequestID
}

type Option func(*Engine)

func WithAccrual(a AccrualSchedule) Option  { return func(e *Engine) { e.accrual = a } }
func WithRouting(rt RoutingTable) Option    { return func(e *Engine) { e.routing = rt } }
func WithLocker(l generic.Locker) Option    { return func(e *Engine) { e.locker = l } }
func WithLogger(l *zap.Logger) Option       { return func(e *Engine) { e.logger = l } }
func WithMaxRetries(n int) Option           { return func(e *Engine) { e.maxRetries = n } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }
func WithIDs(next func() RequestID) Option  { return func(e *Engine) { e.newID = next } }

func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		accrual:    DefaultAccrual(),
		routing:    DefaultRouting(),
		locker:     generic.NewKeyedMutex(),
		logger:     zap.NewNop(),
		maxRetries: 3,
		now:        time.Now,
		newID:      func() RequestID { return RequestID(uuid.NewString()) },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// PROFILES
// =============================================================================

// RegisterProfile validates and stores a new profile. An empty Class is
// inferred from Position and then stored explicitly.
func (e *Engine) RegisterProfile(ctx context.Context, p Profile) (Profile, error) {
	p.ID = EmployeeID(strings.TrimSpace(string(p.ID)))
	if p.ID == "" {
		return Profile{}, fmt.Errorf("employee id is required: %w", ErrInvalidProfile)
	}
	if p.AppointmentDate.IsZero() {
		return Profile{}, fmt.Errorf("appointment date is required: %w", ErrInvalidProfile)
	}
	if p.Class == "" {
		p.Class = InferEmploymentClass(p.Position)
	}
	if !p.Class.Valid() {
		return Profile{}, fmt.Errorf("employment class %q: %w", p.Class, ErrInvalidProfile)
	}
	if p.StaffRole == "" {
		p.StaffRole = StaffNonAcademic
	}
	p.CreatedAt = e.now().UTC()

	if err := e.store.SaveProfile(ctx, p); err != nil {
		return Profile{}, fmt.Errorf("save profile %s: %w", p.ID, err)
	}
	e.logger.Info("profile registered",
		zap.String("employee_id", string(p.ID)),
		zap.String("class", string(p.Class)),
		zap.String("staff_role", string(p.StaffRole)),
		zap.Stringer("appointed", p.AppointmentDate),
	)
	return p, nil
}

func (e *Engine) Profile(ctx context.Context, id EmployeeID) (Profile, error) {
	return e.store.GetProfile(ctx, id)
}

func (e *Engine) Profiles(ctx context.Context) ([]Profile, error) {
	return e.store.ListProfiles(ctx)
}

// =============================================================================
// SUBMIT
// =============================================================================

// SubmitRequest validates d for employee p as of asOf and, if accepted,
// creates a pending request and reserves its days in one transaction.
func (e *Engine) SubmitRequest(ctx context.Context, p Profile, d Draft, asOf generic.TimePoint) (*Request, error) {
	unlock, err := e.locker.Lock(ctx, string(p.ID))
	if err != nil {
		return nil, fmt.Errorf("lock employee %s: %w", p.ID, err)
	}
	defer unlock()

	var created Request
	err = e.retry(ctx, func() error {
		return e.store.WithTx(ctx, func(s Store) error {
			if err := s.LockEmployee(ctx, p.ID); err != nil {
				return err
			}
			ledger := NewLedger(s, e.accrual)

			snap, err := ledger.Snapshot(ctx, p, d.LeaveType, asOf)
			if err != nil {
				return err
			}
			existing, err := s.ListRequests(ctx, p.ID)
			if err != nil {
				return fmt.Errorf("list requests of %s: %w", p.ID, err)
			}

			req, err := Validate(p, d, snap, existing, asOf)
			if err != nil {
				return err
			}
			req.ID = e.newID()
			req.Status = StatusPending
			req.ApproverRole = e.routing.ApproverFor(p.StaffRole)
			req.LedgerYear = asOf.Year()
			req.SubmittedAt = e.now().UTC()

			if err := s.CreateRequest(ctx, req); err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			if _, err := ledger.Reserve(ctx, p, req.LeaveType, asOf, req.RequestedDays); err != nil {
				return err
			}
			created = req
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, generic.ErrConcurrentModification) {
			err = &LifecycleError{Code: StaleSnapshot, Event: EventSubmit, Role: RoleEmployee}
		}
		e.logger.Info("leave request refused",
			zap.String("employee_id", string(p.ID)),
			zap.String("leave_type", string(d.LeaveType)),
			zap.Error(err),
		)
		return nil, err
	}

	e.logger.Info("leave request submitted",
		zap.String("request_id", string(created.ID)),
		zap.String("employee_id", string(p.ID)),
		zap.String("leave_type", string(created.LeaveType)),
		zap.Int("days", created.RequestedDays),
		zap.String("approver_role", string(created.ApproverRole)),
	)
	return &created, nil
}

// =============================================================================
// TRANSITION
// =============================================================================

// Transition applies ev to a request on behalf of actor. Status change and
// ledger effect are written in one transaction or not at all. An actor
// holding the right role still may not act on their own request.
func (e *Engine) Transition(ctx context.Context, id RequestID, ev Event, actor Actor, comment string) (*Request, error) {
	current, err := e.store.GetRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", id, err)
	}

	unlock, err := e.locker.Lock(ctx, string(current.EmployeeID))
	if err != nil {
		return nil, fmt.Errorf("lock employee %s: %w", current.EmployeeID, err)
	}
	defer unlock()

	var updated Request
	err = e.retry(ctx, func() error {
		return e.store.WithTx(ctx, func(s Store) error {
			if err := s.LockEmployee(ctx, current.EmployeeID); err != nil {
				return err
			}
			r, err := s.GetRequest(ctx, id)
			if err != nil {
				return fmt.Errorf("request %s: %w", id, err)
			}
			from := r.Status
			to, effect, err := NextStatus(r, ev, actor.Role)
			if err != nil {
				return err
			}
			// nobody screens or decides their own request
			if actor.ID == string(r.EmployeeID) {
				return &LifecycleError{Code: UnauthorizedTransition, RequestID: r.ID, From: from, Event: ev, Role: actor.Role}
			}

			ledger := NewLedger(s, e.accrual)
			switch effect {
			case EffectCommit:
				err = ledger.Commit(ctx, r.EmployeeID, r.LeaveType, r.LedgerYear, r.RequestedDays)
			case EffectRelease:
				err = ledger.Release(ctx, r.EmployeeID, r.LeaveType, r.LedgerYear, r.RequestedDays)
			}
			if err != nil {
				return err
			}

			now := e.now().UTC()
			r.Status = to
			if ev == EventMarkChecked {
				r.CheckedBy, r.CheckedAt = actor.ID, &now
			} else {
				r.DecidedBy, r.DecidedAt = actor.ID, &now
			}
			if comment != "" {
				r.Comment = comment
			}
			if err := s.UpdateRequest(ctx, r, from); err != nil {
				return err
			}
			updated = r
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, generic.ErrConcurrentModification) {
			err = &LifecycleError{Code: StaleSnapshot, RequestID: id, From: current.Status, Event: ev, Role: actor.Role}
		}
		e.logger.Info("leave transition refused",
			zap.String("request_id", string(id)),
			zap.String("event", string(ev)),
			zap.String("actor", actor.ID),
			zap.String("role", string(actor.Role)),
			zap.Error(err),
		)
		return nil, err
	}

	e.logger.Info("leave request transitioned",
		zap.String("request_id", string(id)),
		zap.String("event", string(ev)),
		zap.String("status", string(updated.Status)),
		zap.String("actor", actor.ID),
	)
	return &updated, nil
}

// =============================================================================
// READS
// =============================================================================

// GetBalance returns the balance of one leave type as of asOf.
func (e *Engine) GetBalance(ctx context.Context, p Profile, t LeaveType, asOf generic.TimePoint) (BalanceSnapshot, error) {
	return NewLedger(e.store, e.accrual).Snapshot(ctx, p, t, asOf)
}

// GetBalances returns a snapshot for every leave type p is entitled to.
func (e *Engine) GetBalances(ctx context.Context, p Profile, asOf generic.TimePoint) ([]BalanceSnapshot, error) {
	ledger := NewLedger(e.store, e.accrual)
	var out []BalanceSnapshot
	for _, t := range ApplicableTypes(p.Class) {
		snap, err := ledger.Snapshot(ctx, p, t, asOf)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (e *Engine) Request(ctx context.Context, id RequestID) (Request, error) {
	return e.store.GetRequest(ctx, id)
}

func (e *Engine) Requests(ctx context.Context, employeeID EmployeeID) ([]Request, error) {
	return e.store.ListRequests(ctx, employeeID)
}

func (e *Engine) RequestsByStatus(ctx context.Context, statuses ...Status) ([]Request, error) {
	return e.store.ListRequestsByStatus(ctx, statuses...)
}

// retry runs fn again while it fails with a concurrent modification.
func (e *Engine) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, generic.ErrConcurrentModification) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		e.logger.Debug("retrying after concurrent modification", zap.Int("attempt", attempt+1))
	}
	return err
}
