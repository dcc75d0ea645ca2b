/*
scheduler.go - Periodic balance refresh

PURPOSE:
  Walks every employee on an interval, recomputes their balances as of
  today and flags requests nobody has decided before their start date.
  Balances are never cached, so a refresh changes no state: it surfaces
  accrual errors (bad profiles) and stale work-queue items in the logs.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - RunNow is also exposed through POST /api/admin/refresh

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewAccrualScheduler(engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerRefresh endpoint
  - leave/engine.go: GetBalances, RequestsByStatus
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// AccrualScheduler periodically refreshes every employee's balances.
type AccrualScheduler struct {
	Engine        *leave.Engine
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// RefreshSummary is the outcome of one run.
type RefreshSummary struct {
	AsOf      string   `json:"as_of"`
	Profiles  int      `json:"profiles"`
	Skipped   int      `json:"skipped"`
	Exhausted int      `json:"exhausted"`
	Failed    []string `json:"failed,omitempty"`
	Overdue   []string `json:"overdue,omitempty"`
}

// NewAccrualScheduler creates a new scheduler.
func NewAccrualScheduler(engine *leave.Engine, logger *zap.Logger) *AccrualScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccrualScheduler{
		Engine:        engine,
		Logger:        logger.Named("scheduler"),
		CheckInterval: time.Hour,
		Enabled:       true,
		Now:           time.Now,
	}
}

// Start begins the scheduler.
func (s *AccrualScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.Logger.Info("started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (s *AccrualScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info("stopped")
}

func (s *AccrualScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	s.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one refresh immediately.
func (s *AccrualScheduler) RunNow(ctx context.Context) RefreshSummary {
	today := generic.FromTime(s.Now())
	summary := RefreshSummary{AsOf: today.String()}

	profiles, err := s.Engine.Profiles(ctx)
	if err != nil {
		s.Logger.Error("list profiles", zap.Error(err))
		return summary
	}

	for _, p := range profiles {
		if ctx.Err() != nil {
			break
		}
		balances, err := s.Engine.GetBalances(ctx, p, today)
		switch {
		case errors.Is(err, leave.ErrAsOfBeforeAppointment):
			// appointed in the future
			summary.Skipped++
			continue
		case err != nil:
			s.Logger.Error("refresh balances", zap.String("employee", string(p.ID)), zap.Error(err))
			summary.Failed = append(summary.Failed, string(p.ID))
			continue
		}
		summary.Profiles++
		for _, b := range balances {
			if !b.Unlimited && b.Earned > 0 && b.Remaining == 0 {
				summary.Exhausted++
				s.Logger.Debug("balance exhausted",
					zap.String("employee", string(p.ID)),
					zap.String("leave_type", string(b.LeaveType)),
					zap.Int("year", b.Year))
			}
		}
	}

	open, err := s.Engine.RequestsByStatus(ctx, leave.StatusPending, leave.StatusChecked)
	if err != nil {
		s.Logger.Error("list open requests", zap.Error(err))
		return summary
	}
	for _, r := range open {
		if r.StartDate.Before(today) {
			summary.Overdue = append(summary.Overdue, string(r.ID))
			s.Logger.Warn("request undecided past its start date",
				zap.String("request", string(r.ID)),
				zap.String("employee", string(r.EmployeeID)),
				zap.String("status", string(r.Status)),
				zap.String("approver", string(r.ApproverRole)),
				zap.String("start", r.StartDate.String()))
		}
	}

	s.Logger.Info("refresh completed",
		zap.Int("profiles", summary.Profiles),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", len(summary.Failed)),
		zap.Int("overdue", len(summary.Overdue)))
	return summary
}
