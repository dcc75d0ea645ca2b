/*
Package report renders per-employee leave statements as XLSX workbooks.

PURPOSE:
  HR downloads a yearly statement per employee: who they are, what they
  have earned, used and have pending per leave type, and every request
  charged to that year with its outcome.

WORKBOOK LAYOUT:
  Summary   employee header, then one row per applicable leave type
  Requests  one row per request whose ledger year is the statement year

SEE ALSO:
  - api/handlers.go: GET /api/employees/{id}/statement
*/
package report

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

const (
	summarySheet  = "Summary"
	requestsSheet = "Requests"
)

// Source is the slice of the engine a statement needs.
type Source interface {
	Profile(ctx context.Context, id leave.EmployeeID) (leave.Profile, error)
	GetBalances(ctx context.Context, p leave.Profile, asOf generic.TimePoint) ([]leave.BalanceSnapshot, error)
	Requests(ctx context.Context, employeeID leave.EmployeeID) ([]leave.Request, error)
}

// Statement is everything that goes into one workbook.
type Statement struct {
	Profile  leave.Profile
	Year     int
	AsOf     generic.TimePoint
	Balances []leave.BalanceSnapshot
	Requests []leave.Request
}

// AsOfFor picks the balance date for a statement year: today for the
// current year, Dec 31 for past years and Jan 1 for future ones. The
// result is never before the appointment date.
func AsOfFor(year int, today, appointed generic.TimePoint) generic.TimePoint {
	var asOf generic.TimePoint
	switch {
	case year < today.Year():
		asOf = generic.EndOfYear(year)
	case year > today.Year():
		asOf = generic.StartOfYear(year)
	default:
		asOf = today
	}
	if asOf.Before(appointed) {
		return appointed
	}
	return asOf
}

// Build collects the statement for one employee and year.
func Build(ctx context.Context, src Source, id leave.EmployeeID, year int, today generic.TimePoint) (Statement, error) {
	p, err := src.Profile(ctx, id)
	if err != nil {
		return Statement{}, err
	}
	if year < p.AppointmentDate.Year() {
		return Statement{}, fmt.Errorf("statement %d for %s: %w", year, id, leave.ErrAsOfBeforeAppointment)
	}
	asOf := AsOfFor(year, today, p.AppointmentDate)

	balances, err := src.GetBalances(ctx, p, asOf)
	if err != nil {
		return Statement{}, err
	}
	all, err := src.Requests(ctx, id)
	if err != nil {
		return Statement{}, err
	}

	st := Statement{Profile: p, Year: year, AsOf: asOf, Balances: balances}
	for _, r := range all {
		if r.LedgerYear == year {
			st.Requests = append(st.Requests, r)
		}
	}
	return st, nil
}

// Filename is the suggested download name.
func (st Statement) Filename() string {
	return fmt.Sprintf("leave-statement-%s-%d.xlsx", st.Profile.ID, st.Year)
}

// WriteXLSX renders st as a workbook into w.
func WriteXLSX(w io.Writer, st Statement) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(requestsSheet); err != nil {
		return err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return err
	}

	if err := writeSummary(f, st, headerStyle); err != nil {
		return err
	}
	if err := writeRequests(f, st, headerStyle); err != nil {
		return err
	}

	_, err = f.WriteTo(w)
	return err
}

func writeSummary(f *excelize.File, st Statement, headerStyle int) error {
	p := st.Profile
	header := [][]any{
		{"Employee", string(p.ID)},
		{"Name", p.Name},
		{"Department", p.Department},
		{"Position", p.Position},
		{"Class", string(p.Class)},
		{"Appointed", p.AppointmentDate.String()},
		{"Year", st.Year},
		{"As of", st.AsOf.String()},
	}
	for i, row := range header {
		if err := f.SetSheetRow(summarySheet, cell("A", i+1), &row); err != nil {
			return err
		}
	}

	top := len(header) + 1
	columns := []any{"Leave type", "Earned", "Used", "Pending", "Remaining"}
	if err := f.SetSheetRow(summarySheet, cell("A", top), &columns); err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, cell("A", top), cell("E", top), headerStyle); err != nil {
		return err
	}

	for i, b := range st.Balances {
		var earned, remaining any = b.Earned, b.Remaining
		if b.Unlimited {
			earned, remaining = "unlimited", "unlimited"
		}
		row := []any{string(b.LeaveType), earned, b.Used, b.Pending, remaining}
		if err := f.SetSheetRow(summarySheet, cell("A", top+1+i), &row); err != nil {
			return err
		}
	}

	f.SetColWidth(summarySheet, "A", "A", 14)
	f.SetColWidth(summarySheet, "B", "E", 12)
	return nil
}

func writeRequests(f *excelize.File, st Statement, headerStyle int) error {
	columns := []any{"Request", "Type", "From", "To", "Days", "Status", "Approver", "Decided by", "Comment"}
	if err := f.SetSheetRow(requestsSheet, "A1", &columns); err != nil {
		return err
	}
	if err := f.SetCellStyle(requestsSheet, "A1", cell(colName(len(columns)-1), 1), headerStyle); err != nil {
		return err
	}

	for i, r := range st.Requests {
		row := []any{
			string(r.ID), string(r.LeaveType), r.StartDate.String(), r.EndDate.String(),
			r.RequestedDays, string(r.Status), string(r.ApproverRole), r.DecidedBy, r.Comment,
		}
		if err := f.SetSheetRow(requestsSheet, cell("A", i+2), &row); err != nil {
			return err
		}
	}

	f.SetColWidth(requestsSheet, "A", "A", 38)
	f.SetColWidth(requestsSheet, "B", "H", 12)
	f.SetColWidth(requestsSheet, "I", "I", 30)
	return nil
}

func colName(idx int) string {
	name, _ := excelize.ColumnNumberToName(idx + 1)
	return name
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
