package report_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/leave/store"
	"github.com/warp/leave-engine/report"
)

var today = generic.MustParseTimePoint("2025-01-10")

func seeded(t *testing.T) (*leave.Engine, leave.Profile) {
	t.Helper()
	ctx := context.Background()
	e := leave.NewEngine(store.NewMemory(), leave.WithClock(func() time.Time { return today.Time }))

	p, err := e.RegisterProfile(ctx, leave.Profile{
		ID:              "emp-1",
		Name:            "Ada Lovelace",
		Department:      "Mathematics",
		Position:        "Lecturer",
		StaffRole:       leave.StaffAcademic,
		AppointmentDate: generic.MustParseTimePoint("2024-01-15"),
	})
	require.NoError(t, err)

	req, err := e.SubmitRequest(ctx, p, leave.Draft{
		LeaveType: leave.Casual,
		StartDate: generic.MustParseTimePoint("2025-02-03"),
		EndDate:   generic.MustParseTimePoint("2025-02-04"),
	}, today)
	require.NoError(t, err)
	_, err = e.Transition(ctx, req.ID, leave.EventApprove, leave.Actor{ID: "hod-1", Role: leave.RoleHOD}, "approved")
	require.NoError(t, err)
	return e, p
}

func TestBuild_FiltersByYear(t *testing.T) {
	e, p := seeded(t)

	st, err := report.Build(context.Background(), e, p.ID, 2025, today)
	require.NoError(t, err)
	assert.Equal(t, today, st.AsOf)
	assert.Len(t, st.Requests, 1)
	require.Len(t, st.Balances, 4)
	assert.Equal(t, 2, st.Balances[0].Used)

	past, err := report.Build(context.Background(), e, p.ID, 2024, today)
	require.NoError(t, err)
	assert.Equal(t, generic.MustParseTimePoint("2024-12-31"), past.AsOf)
	assert.Empty(t, past.Requests)

	_, err = report.Build(context.Background(), e, p.ID, 2023, today)
	assert.ErrorIs(t, err, leave.ErrAsOfBeforeAppointment)

	_, err = report.Build(context.Background(), e, "ghost", 2025, today)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestAsOfFor(t *testing.T) {
	appointed := generic.MustParseTimePoint("2024-06-01")

	assert.Equal(t, today, report.AsOfFor(2025, today, appointed))
	assert.Equal(t, generic.MustParseTimePoint("2026-01-01"), report.AsOfFor(2026, today, appointed))
	assert.Equal(t, generic.MustParseTimePoint("2024-12-31"), report.AsOfFor(2024, today, appointed))
	assert.Equal(t, appointed, report.AsOfFor(2024, generic.MustParseTimePoint("2024-03-01"), appointed))
}

func TestWriteXLSX_RoundTrip(t *testing.T) {
	e, p := seeded(t)
	st, err := report.Build(context.Background(), e, p.ID, 2025, today)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, report.WriteXLSX(&buf, st))
	assert.Equal(t, "leave-statement-emp-1-2025.xlsx", st.Filename())

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Summary", "Requests"}, f.GetSheetList())

	name, err := f.GetCellValue("Summary", "B2")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", name)

	rows, err := f.GetRows("Summary")
	require.NoError(t, err)
	// 8 header rows, the column row, 4 leave types
	require.Len(t, rows, 13)
	assert.Equal(t, []string{"Leave type", "Earned", "Used", "Pending", "Remaining"}, rows[8])
	assert.Equal(t, []string{"Casual", "21", "2", "0", "19"}, rows[9])
	assert.Equal(t, []string{"Other", "unlimited", "0", "0", "unlimited"}, rows[11])

	reqs, err := f.GetRows("Requests")
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "Casual", reqs[1][1])
	assert.Equal(t, "approved", reqs[1][5])
	assert.Equal(t, "hod-1", reqs[1][7])
}
