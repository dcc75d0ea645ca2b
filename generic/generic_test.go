package generic_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
)

func date(s string) generic.TimePoint { return generic.MustParseTimePoint(s) }

// =============================================================================
// TIME POINT TESTS
// =============================================================================

func TestMonthsBetween_IgnoresDayOfMonth(t *testing.T) {
	assert.Equal(t, 1, generic.MonthsBetween(date("2024-01-31"), date("2024-02-01")))
	assert.Equal(t, 0, generic.MonthsBetween(date("2024-01-01"), date("2024-01-31")))
	assert.Equal(t, 21, generic.MonthsBetween(date("2022-03-15"), date("2023-12-01")))
	assert.Equal(t, -1, generic.MonthsBetween(date("2024-02-01"), date("2024-01-31")))
}

func TestDaysInclusive(t *testing.T) {
	assert.Equal(t, 1, generic.DaysInclusive(date("2025-03-10"), date("2025-03-10")))
	assert.Equal(t, 5, generic.DaysInclusive(date("2025-03-10"), date("2025-03-14")))
	assert.Equal(t, 3, generic.DaysInclusive(date("2024-02-28"), date("2024-03-01")), "leap day counts")
	assert.Equal(t, 0, generic.DaysInclusive(date("2025-03-14"), date("2025-03-10")))
}

func TestDaysBetween_WideRanges(t *testing.T) {
	assert.Equal(t, 136965, generic.DaysBetween(date("2025-01-01"), date("2400-01-01")))
	assert.Equal(t, -136965, generic.DaysBetween(date("2400-01-01"), date("2025-01-01")))
	assert.Equal(t, 3652059, generic.DaysInclusive(date("0001-01-01"), date("9999-12-31")))
}

func TestParseTimePoint(t *testing.T) {
	tp, err := generic.ParseTimePoint("2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01", tp.String())

	_, err = generic.ParseTimePoint("01/06/2025")
	assert.Error(t, err)
}

func TestFromTime_DropsClock(t *testing.T) {
	tp := generic.FromTime(time.Date(2025, 5, 4, 23, 59, 0, 0, time.UTC))
	assert.True(t, tp.Equal(date("2025-05-04")))
}

// =============================================================================
// PERIOD TESTS
// =============================================================================

func TestPeriod_Overlaps(t *testing.T) {
	base := generic.Period{Start: date("2025-03-10"), End: date("2025-03-14")}

	tests := []struct {
		name  string
		other generic.Period
		want  bool
	}{
		{"identical", base, true},
		{"touching start", generic.Period{Start: date("2025-03-01"), End: date("2025-03-10")}, true},
		{"touching end", generic.Period{Start: date("2025-03-14"), End: date("2025-03-20")}, true},
		{"inside", generic.Period{Start: date("2025-03-11"), End: date("2025-03-11")}, true},
		{"before", generic.Period{Start: date("2025-03-01"), End: date("2025-03-09")}, false},
		{"after", generic.Period{Start: date("2025-03-15"), End: date("2025-03-20")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, base.Overlaps(tt.other))
			assert.Equal(t, tt.want, tt.other.Overlaps(base))
		})
	}
}

func TestNewPeriod_RejectsInverted(t *testing.T) {
	_, err := generic.NewPeriod(date("2025-03-14"), date("2025-03-10"))
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)

	p, err := generic.NewPeriod(date("2025-03-10"), date("2025-03-14"))
	require.NoError(t, err)
	assert.Equal(t, 5, p.Days())
}

func TestCalendarYear(t *testing.T) {
	p := generic.CalendarYear(2024)
	assert.Equal(t, 366, p.Days())
	assert.True(t, p.Contains(date("2024-12-31")))
	assert.False(t, p.Contains(date("2025-01-01")))
}

// =============================================================================
// KEYED MUTEX TESTS
// =============================================================================

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := generic.NewKeyedMutex()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := km.Lock(ctx, "emp-1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestKeyedMutex_DifferentKeysIndependent(t *testing.T) {
	km := generic.NewKeyedMutex()
	ctx := context.Background()

	unlockA, err := km.Lock(ctx, "emp-a")
	require.NoError(t, err)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := km.Lock(ctx, "emp-b")
		if err == nil {
			unlockB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestKeyedMutex_ContextCancel(t *testing.T) {
	km := generic.NewKeyedMutex()

	unlock, err := km.Lock(context.Background(), "emp-1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = km.Lock(ctx, "emp-1")
	assert.ErrorIs(t, err, generic.ErrLockTimeout)
	assert.True(t, generic.IsRetryable(err))
}
