// Package store provides an in-memory leave.TxStore.
package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps everything in maps guarded by one mutex. WithTx holds the
// mutex for the whole transaction and restores a copy of the state if fn
// fails, so transactions are serializable and all-or-nothing.
type Memory struct {
	mu    sync.Mutex
	state state
}

type state struct {
	profiles map[leave.EmployeeID]leave.Profile
	requests map[leave.RequestID]leave.Request
	order    []leave.RequestID // insertion order
	balances map[balanceKey]leave.BalanceRow
}

type balanceKey struct {
	EmployeeID leave.EmployeeID
	LeaveType  leave.LeaveType
	Year       int
}

func NewMemory() *Memory {
	return &Memory{state: state{
		profiles: make(map[leave.EmployeeID]leave.Profile),
		requests: make(map[leave.RequestID]leave.Request),
		balances: make(map[balanceKey]leave.BalanceRow),
	}}
}

var _ leave.TxStore = (*Memory)(nil)

func (s state) clone() state {
	return state{
		profiles: maps.Clone(s.profiles),
		requests: maps.Clone(s.requests),
		order:    slices.Clone(s.order),
		balances: maps.Clone(s.balances),
	}
}

// WithTx runs fn with exclusive access and rolls back on error.
func (m *Memory) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := m.state.clone()
	if err := fn(&txView{st: &m.state}); err != nil {
		m.state = saved
		return err
	}
	return nil
}

// Non-transactional access takes the mutex per call.

func (m *Memory) SaveProfile(ctx context.Context, p leave.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{st: &m.state}).SaveProfile(ctx, p)
}

func (m *Memory) GetProfile(ctx context.Context, id leave.EmployeeID) (leave.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{st: &m.state}).GetProfile(ctx, id)
}

func (m *Memory) ListProfiles(ctx context.Context) ([]leave.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{st: &m.state}).ListProfiles(ctx)
}

func (m *Memory) CreateRequest(ctx context.Context, r leave.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{st: &m.state}).CreateRequest(ctx, r)
}

func (m *Memory) GetRequest(ctx context.Context, id leave.RequestID) (leave.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{st: &m.state}).GetRequest(ctx, id)
}

func (m *Memory) ListRequests(ctx context.Context, employeeID leave.EmployeeID) ([]leave.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{st: &m.state}).ListRequests(ctx, employeeID)
}

func (m *Memory) ListRequestsByStatus(ctx context.Context, statuses ...leave.Status) ([]leave.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{st: &m.state}).ListRequestsByStatus(ctx, statuses...)
}

func (m *Memory) UpdateRequest(ctx context.Context, r leave.Request, expected leave.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{st: &m.state}).UpdateRequest(ctx, r, expected)
}

func (m *Memory) GetBalanceRow(ctx context.Context, employeeID leave.EmployeeID, t leave.LeaveType, year int) (leave.BalanceRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{st: &m.state}).GetBalanceRow(ctx, employeeID, t, year)
}

func (m *Memory) PutBalanceRow(ctx context.Context, row leave.BalanceRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{st: &m.state}).PutBalanceRow(ctx, row)
}

// LockEmployee is a no-op: WithTx already holds the store mutex.
func (m *Memory) LockEmployee(context.Context, leave.EmployeeID) error { return nil }

// =============================================================================
// TX VIEW - Lock-free access used inside WithTx
// =============================================================================

type txView struct {
	st *state
}

func (v *txView) SaveProfile(_ context.Context, p leave.Profile) error {
	if _, ok := v.st.profiles[p.ID]; ok {
		return generic.ErrAlreadyExists
	}
	v.st.profiles[p.ID] = p
	return nil
}

func (v *txView) GetProfile(_ context.Context, id leave.EmployeeID) (leave.Profile, error) {
	p, ok := v.st.profiles[id]
	if !ok {
		return leave.Profile{}, generic.ErrNotFound
	}
	return p, nil
}

func (v *txView) ListProfiles(_ context.Context) ([]leave.Profile, error) {
	out := make([]leave.Profile, 0, len(v.st.profiles))
	for _, p := range v.st.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *txView) CreateRequest(_ context.Context, r leave.Request) error {
	if _, ok := v.st.requests[r.ID]; ok {
		return generic.ErrAlreadyExists
	}
	v.st.requests[r.ID] = r
	v.st.order = append(v.st.order, r.ID)
	return nil
}

func (v *txView) GetRequest(_ context.Context, id leave.RequestID) (leave.Request, error) {
	r, ok := v.st.requests[id]
	if !ok {
		return leave.Request{}, generic.ErrNotFound
	}
	return r, nil
}

func (v *txView) ListRequests(_ context.Context, employeeID leave.EmployeeID) ([]leave.Request, error) {
	var out []leave.Request
	for _, id := range v.st.order {
		if r := v.st.requests[id]; r.EmployeeID == employeeID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (v *txView) ListRequestsByStatus(_ context.Context, statuses ...leave.Status) ([]leave.Request, error) {
	var out []leave.Request
	for _, id := range v.st.order {
		if r := v.st.requests[id]; slices.Contains(statuses, r.Status) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (v *txView) UpdateRequest(_ context.Context, r leave.Request, expected leave.Status) error {
	stored, ok := v.st.requests[r.ID]
	if !ok {
		return generic.ErrNotFound
	}
	if stored.Status != expected {
		return generic.ErrConcurrentModification
	}
	v.st.requests[r.ID] = r
	return nil
}

func (v *txView) GetBalanceRow(_ context.Context, employeeID leave.EmployeeID, t leave.LeaveType, year int) (leave.BalanceRow, error) {
	k := balanceKey{EmployeeID: employeeID, LeaveType: t, Year: year}
	if row, ok := v.st.balances[k]; ok {
		return row, nil
	}
	return leave.BalanceRow{EmployeeID: employeeID, LeaveType: t, Year: year}, nil
}

func (v *txView) PutBalanceRow(_ context.Context, row leave.BalanceRow) error {
	k := balanceKey{EmployeeID: row.EmployeeID, LeaveType: row.LeaveType, Year: row.Year}
	if v.st.balances[k].Version != row.Version {
		return generic.ErrConcurrentModification
	}
	row.Version++
	v.st.balances[k] = row
	return nil
}

func (v *txView) LockEmployee(context.Context, leave.EmployeeID) error { return nil }
