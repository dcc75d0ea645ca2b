package leave_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/leave/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	today = generic.MustParseTimePoint("2025-01-10")
	admin = leave.Actor{ID: "admin-1", Role: leave.RoleAdmin}
)

func newTestEngine(t *testing.T, s leave.TxStore) *leave.Engine {
	t.Helper()
	return leave.NewEngine(s, leave.WithClock(func() time.Time { return today.Time }))
}

// registered stores a permanent non-academic employee appointed
// 2024-01-15, which gives 21 Casual and 24 Vacation days on 2025-01-10.
func registered(t *testing.T, e *leave.Engine, id string) leave.Profile {
	t.Helper()
	p, err := e.RegisterProfile(context.Background(), leave.Profile{
		ID:              leave.EmployeeID(id),
		Name:            "Ada",
		Position:        "Senior Accountant",
		StaffRole:       leave.StaffNonAcademic,
		AppointmentDate: generic.MustParseTimePoint("2024-01-15"),
	})
	require.NoError(t, err)
	return p
}

func balanceOf(t *testing.T, e *leave.Engine, p leave.Profile, lt leave.LeaveType) leave.BalanceSnapshot {
	t.Helper()
	b, err := e.GetBalance(context.Background(), p, lt, today)
	require.NoError(t, err)
	return b
}

// conflictingStore fails every balance write inside a transaction.
type conflictingStore struct {
	*store.Memory
}

type conflictingTx struct {
	leave.Store
}

func (c conflictingStore) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	return c.Memory.WithTx(ctx, func(s leave.Store) error { return fn(conflictingTx{s}) })
}

func (conflictingTx) PutBalanceRow(context.Context, leave.BalanceRow) error {
	return generic.ErrConcurrentModification
}

// =============================================================================
// PROFILES
// =============================================================================

func TestEngine_RegisterProfile_InfersClass(t *testing.T) {
	e := newTestEngine(t, store.NewMemory())
	ctx := context.Background()

	p, err := e.RegisterProfile(ctx, leave.Profile{
		ID:              " temp-1 ",
		Position:        "Temporary Lecturer",
		StaffRole:       leave.StaffAcademic,
		AppointmentDate: generic.MustParseTimePoint("2024-06-01"),
	})
	require.NoError(t, err)
	assert.Equal(t, leave.EmployeeID("temp-1"), p.ID)
	assert.Equal(t, leave.Temporary, p.Class)

	stored, err := e.Profile(ctx, "temp-1")
	require.NoError(t, err)
	assert.Equal(t, leave.Temporary, stored.Class)

	_, err = e.SubmitRequest(ctx, stored, draft(leave.Vacation, "2025-02-01", "2025-02-02"), today)
	requireCode(t, err, leave.LeaveTypeNotApplicable)
}

func TestEngine_RegisterProfile_Rejects(t *testing.T) {
	e := newTestEngine(t, store.NewMemory())
	ctx := context.Background()

	_, err := e.RegisterProfile(ctx, leave.Profile{ID: "x"})
	assert.ErrorIs(t, err, leave.ErrInvalidProfile)

	_, err = e.RegisterProfile(ctx, leave.Profile{ID: "x", AppointmentDate: today, Class: "Seasonal"})
	assert.ErrorIs(t, err, leave.ErrInvalidProfile)

	registered(t, e, "dup")
	_, err = e.RegisterProfile(ctx, leave.Profile{ID: "dup", AppointmentDate: today})
	assert.ErrorIs(t, err, generic.ErrAlreadyExists)
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestEngine_Submit_ReservesDays(t *testing.T) {
	e := newTestEngine(t, store.NewMemory())
	p := registered(t, e, "emp-1")

	req, err := e.SubmitRequest(context.Background(), p, draft(leave.Casual, "2025-01-20", "2025-01-24"), today)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPending, req.Status)
	assert.Equal(t, 5, req.RequestedDays)
	assert.Equal(t, leave.RoleAdmin, req.ApproverRole)
	assert.Equal(t, 2025, req.LedgerYear)
	assert.NotEmpty(t, req.ID)

	b := balanceOf(t, e, p, leave.Casual)
	assert.Equal(t, 5, b.Pending)
	assert.Equal(t, 16, b.Remaining)
}

func TestEngine_Submit_InsufficientBalanceLeavesNothingBehind(t *testing.T) {
	e := newTestEngine(t, store.NewMemory())
	p := registered(t, e, "emp-1")
	ctx := context.Background()

	_, err := e.SubmitRequest(ctx, p, draft(leave.Casual, "2025-02-01", "2025-02-22"), today)
	requireCode(t, err, leave.InsufficientBalance)

	reqs, err := e.Requests(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, reqs)
	assert.Equal(t, 21, balanceOf(t, e, p, leave.Casual).Remaining)
}

func TestEngine_Submit_Overlap(t *testing.T) {
	e := newTestEngine(t, store.NewMemory())
	p := registered(t, e, "emp-1")
	ctx := context.Background()

	first, err := e.SubmitRequest(ctx, p, draft(leave.Casual, "2025-02-03", "2025-02-05"), today)
	require.NoError(t, err)

	_, err = e.SubmitRequest(ctx, p, draft(leave.Vacation, "2025-02-05", "2025-02-07"), today)
	requireCode(t, err, leave.OverlappingRequest)

	// Once rejected, the days are free again.
	_, err = e.Transition(ctx, first.ID, leave.EventReject, admin, "clash with audit")
	require.NoError(t, err)

	_, err = e.SubmitRequest(ctx, p, draft(leave.Vacation, "2025-02-05", "2025-02-07"), today)
	assert.NoError(t, err)
}

func TestEngine_Submit_ConcurrentFullBalance_OnlyOneWins(t *testing.T) {
	// GIVEN: 21 Casual days remaining
	// WHEN: Ten goroutines each ask for 21 different days at once
	// THEN: Exactly one is accepted, the rest see InsufficientBalance

	e := newTestEngine(t, store.NewMemory())
	p := registered(t, e, "emp-1")
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		refused  []error
	)
	start := generic.MustParseTimePoint("2025-02-01")
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from := start.AddDays(i * 30)
			d := leave.Draft{LeaveType: leave.Casual, StartDate: from, EndDate: from.AddDays(20)}
			_, err := e.SubmitRequest(ctx, p, d, today)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
			} else {
				refused = append(refused, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	for _, err := range refused {
		code, _ := leave.ValidationCodeOf(err)
		assert.Equal(t, leave.InsufficientBalance, code)
	}

	b := balanceOf(t, e, p, leave.Casual)
	assert.Equal(t, 21, b.Pending)
	assert.Equal(t, 0, b.Remaining)
}

func TestEngine_Submit_StaleSnapshotAfterRetries(t *testing.T) {
	mem := store.NewMemory()
	e := leave.NewEngine(conflictingStore{mem},
		leave.WithClock(func() time.Time { return today.Time }),
		leave.WithMaxRetries(2),
	)
	p := registered(t, e, "emp-1")
	ctx := context.Background()

	_, err := e.SubmitRequest(ctx, p, draft(leave.Casual, "2025-02-03", "2025-02-04"), today)
	code, ok := leave.LifecycleCodeOf(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, leave.StaleSnapshot, code)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	reqs, err := mem.ListRequests(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, reqs, "request creation rolled back with the failed reservation")
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func TestEngine_Approve_CommitsDays(t *testing.T) {
	e := newTestEngine(t, store.NewMemory())
	p := registered(t, e, "emp-1")
	ctx := context.Background()

	req, err := e.SubmitRequest(ctx, p, draft(leave.Vacation, "2025-03-03", "2025-03-07"), today)
	require.NoError(t, err)

	checked, err := e.Transition(ctx, req.ID, leave.EventMarkChecked, leave.Actor{ID: "rev-1", Role: leave.RoleReviewer}, "")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusChecked, checked.Status)
	assert.Equal(t, "rev-1", checked.CheckedBy)
	require.NotNil(t, checked.CheckedAt)
	assert.Equal(t, 5, balanceOf(t, e, p, leave.Vacation).Pending, "checking moves no days")

	approved, err := e.Transition(ctx, req.ID, leave.EventApprove, admin, "enjoy")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, approved.Status)
	assert.Equal(t, "admin-1", approved.DecidedBy)
	assert.Equal(t, "enjoy", approved.Comment)

	b := balanceOf(t, e, p, leave.Vacation)
	assert.Equal(t, 5, b.Used)
	assert.Equal(t, 0, b.Pending)
	assert.Equal(t, 19, b.Remaining)
}

func TestEngine_Reject_ReleasesDays(t *testing.T) {
	e := newTestEngine(t, store.NewMemory())
	p := registered(t, e, "emp-1")
	ctx := context.Background()

	req, err := e.SubmitRequest(ctx, p, draft(leave.Casual, "2025-03-03", "2025-03-07"), today)
	require.NoError(t, err)

	_, err = e.Transition(ctx, req.ID, leave.EventReject, admin, "")
	require.NoError(t, err)

	b := balanceOf(t, e, p, leave.Casual)
	assert.Equal(t, 0, b.Pending)
	assert.Equal(t, 0, b.Used)
	assert.Equal(t, 21, b.Remaining)
}

func TestEngine_TerminalRequestsAreFrozen(t *testing.T) {
	e := newTestEngine(t, store.NewMemory())
	p := registered(t, e, "emp-1")
	ctx := context.Background()

	req, err := e.SubmitRequest(ctx, p, draft(leave.Casual, "2025-03-03", "2025-03-04"), today)
	require.NoError(t, err)
	_, err = e.Transition(ctx, req.ID, leave.EventApprove, admin, "")
	require.NoError(t, err)
	before := balanceOf(t, e, p, leave.Casual)

	for _, ev := range []leave.Event{leave.EventApprove, leave.EventReject, leave.EventMarkChecked} {
		_, err := e.Transition(ctx, req.ID, ev, admin, "")
		code, _ := leave.LifecycleCodeOf(err)
		assert.Equal(t, leave.TerminalStateError, code, string(ev))
	}

	assert.Equal(t, before, balanceOf(t, e, p, leave.Casual))
	stored, err := e.Request(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, stored.Status)
}

func TestEngine_RoutingDecidesWhoApproves(t *testing.T) {
	e := newTestEngine(t, store.NewMemory())
	ctx := context.Background()

	p, err := e.RegisterProfile(ctx, leave.Profile{
		ID:              "lect-1",
		Position:        "Lecturer",
		StaffRole:       leave.StaffAcademic,
		AppointmentDate: generic.MustParseTimePoint("2024-01-15"),
	})
	require.NoError(t, err)

	req, err := e.SubmitRequest(ctx, p, draft(leave.Casual, "2025-03-03", "2025-03-04"), today)
	require.NoError(t, err)
	assert.Equal(t, leave.RoleHOD, req.ApproverRole)

	_, err = e.Transition(ctx, req.ID, leave.EventApprove, admin, "")
	code, _ := leave.LifecycleCodeOf(err)
	assert.Equal(t, leave.UnauthorizedTransition, code)
	assert.Equal(t, 2, balanceOf(t, e, p, leave.Casual).Pending)

	_, err = e.Transition(ctx, req.ID, leave.EventApprove, leave.Actor{ID: "hod-1", Role: leave.RoleHOD}, "")
	assert.NoError(t, err)
}

func TestEngine_Transition_UnknownRequest(t *testing.T) {
	e := newTestEngine(t, store.NewMemory())

	_, err := e.Transition(context.Background(), "nope", leave.EventApprove, admin, "")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestEngine_Transition_OwnRequestRefused(t *testing.T) {
	// GIVEN: a reviewer who is also an employee with a pending request
	e := newTestEngine(t, store.NewMemory())
	p := registered(t, e, "rev-1")
	ctx := context.Background()

	req, err := e.SubmitRequest(ctx, p, draft(leave.Casual, "2025-03-03", "2025-03-04"), today)
	require.NoError(t, err)

	// WHEN: they mark their own request checked
	_, err = e.Transition(ctx, req.ID, leave.EventMarkChecked, leave.Actor{ID: "rev-1", Role: leave.RoleReviewer}, "")

	// THEN: the role fits but the actor does not
	code, _ := leave.LifecycleCodeOf(err)
	assert.Equal(t, leave.UnauthorizedTransition, code)
	stored, err := e.Request(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPending, stored.Status)

	// AND: an admin deciding their own request is refused the same way
	boss := registered(t, e, "admin-1")
	own, err := e.SubmitRequest(ctx, boss, draft(leave.Casual, "2025-03-10", "2025-03-10"), today)
	require.NoError(t, err)
	_, err = e.Transition(ctx, own.ID, leave.EventApprove, admin, "")
	code, _ = leave.LifecycleCodeOf(err)
	assert.Equal(t, leave.UnauthorizedTransition, code)
	assert.Equal(t, 1, balanceOf(t, e, boss, leave.Casual).Pending)
}

// lockRecordingStore records the calls made inside each transaction.
type lockRecordingStore struct {
	*store.Memory
	mu    sync.Mutex
	calls []string
}

type lockRecordingTx struct {
	leave.Store
	rec *lockRecordingStore
}

func (l *lockRecordingStore) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	return l.Memory.WithTx(ctx, func(s leave.Store) error { return fn(lockRecordingTx{s, l}) })
}

func (l *lockRecordingStore) record(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (t lockRecordingTx) LockEmployee(ctx context.Context, id leave.EmployeeID) error {
	t.rec.record("lock:" + string(id))
	return t.Store.LockEmployee(ctx, id)
}

func (t lockRecordingTx) ListRequests(ctx context.Context, id leave.EmployeeID) ([]leave.Request, error) {
	t.rec.record("list")
	return t.Store.ListRequests(ctx, id)
}

func (t lockRecordingTx) GetBalanceRow(ctx context.Context, id leave.EmployeeID, lt leave.LeaveType, year int) (leave.BalanceRow, error) {
	t.rec.record("balance")
	return t.Store.GetBalanceRow(ctx, id, lt, year)
}

func (t lockRecordingTx) GetRequest(ctx context.Context, id leave.RequestID) (leave.Request, error) {
	t.rec.record("get")
	return t.Store.GetRequest(ctx, id)
}

func TestEngine_LocksEmployeeBeforeReading(t *testing.T) {
	// GIVEN: a store that records what each transaction does
	rec := &lockRecordingStore{Memory: store.NewMemory()}
	e := newTestEngine(t, rec)
	p := registered(t, e, "emp-1")
	ctx := context.Background()

	// WHEN: a request is submitted and then approved
	req, err := e.SubmitRequest(ctx, p, draft(leave.Vacation, "2025-03-03", "2025-03-04"), today)
	require.NoError(t, err)
	submitCalls := append([]string(nil), rec.calls...)
	rec.calls = nil

	_, err = e.Transition(ctx, req.ID, leave.EventApprove, admin, "")
	require.NoError(t, err)

	// THEN: both transactions take the employee lock before any read, so
	// a second database client cannot slip an overlapping request in
	require.NotEmpty(t, submitCalls)
	assert.Equal(t, "lock:emp-1", submitCalls[0])
	assert.Contains(t, submitCalls, "list")
	require.NotEmpty(t, rec.calls)
	assert.Equal(t, "lock:emp-1", rec.calls[0])
}

// =============================================================================
// READS
// =============================================================================

func TestEngine_GetBalances_ByClass(t *testing.T) {
	e := newTestEngine(t, store.NewMemory())
	ctx := context.Background()
	p := registered(t, e, "emp-1")

	all, err := e.GetBalances(ctx, p, today)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, leave.Casual, all[0].LeaveType)
	assert.True(t, all[2].Unlimited)

	tmp, err := e.RegisterProfile(ctx, leave.Profile{
		ID: "tmp-1", Class: leave.Temporary, AppointmentDate: generic.MustParseTimePoint("2024-06-15"),
	})
	require.NoError(t, err)
	only, err := e.GetBalances(ctx, tmp, today)
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, 9, only[0].Earned)
}

func TestEngine_RequestsByStatus(t *testing.T) {
	e := newTestEngine(t, store.NewMemory())
	p := registered(t, e, "emp-1")
	ctx := context.Background()

	a, err := e.SubmitRequest(ctx, p, draft(leave.Casual, "2025-03-03", "2025-03-03"), today)
	require.NoError(t, err)
	_, err = e.SubmitRequest(ctx, p, draft(leave.Casual, "2025-03-10", "2025-03-10"), today)
	require.NoError(t, err)
	_, err = e.Transition(ctx, a.ID, leave.EventApprove, admin, "")
	require.NoError(t, err)

	pending, err := e.RequestsByStatus(ctx, leave.StatusPending, leave.StatusChecked)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	all, err := e.Requests(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, a.ID, all[0].ID)
}
