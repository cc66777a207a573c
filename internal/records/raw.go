package records

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kzoteam/qbo-bridge/internal/sheets"
)

// RawRecord is one row of the client-maintained input tab, typed at the
// boundary. Rows are immutable once read.
type RawRecord struct {
	Row int // 1-based sheet row

	No             int64
	Date           time.Time
	Category       string
	Type           string
	Description    string
	Location       string // "CO" column
	AccountFrom    string
	AccountTo      string
	Currency       string
	Amount         decimal.Decimal // "Amount (USD)", signed
	Method         string
	CounterAccount string // "If Journal/Expense"
	TransferFrom   string
	TransferTo     string
	Class          string
	Excluded       bool
}

// Raw tab column names. Lookup goes through header normalization, so these
// match regardless of case and in-cell line breaks; the aliases cover older
// workbook revisions.
var rawColumns = struct {
	no, date, category, typ, description, location         []string
	accountFrom, accountTo, currency, amount, method       []string
	counterAccount, transferFrom, transferTo, class, check []string
}{
	no:             []string{"No"},
	date:           []string{"Payment Date", "Date"},
	category:       []string{"Category"},
	typ:            []string{"Type"},
	description:    []string{"Description"},
	location:       []string{"CO", "Location"},
	accountFrom:    []string{"Account From"},
	accountTo:      []string{"Account To"},
	currency:       []string{"Currency"},
	amount:         []string{"Amount (USD)", "Amount USD", "Amount"},
	method:         []string{"Method (Journal/Expense/Transfer)", "Method"},
	counterAccount: []string{"If Journal/Expense"},
	transferFrom:   []string{"Transfer From"},
	transferTo:     []string{"Transfer To"},
	class:          []string{"Class"},
	check:          []string{"Check (Internal use)", "Check"},
}

// ParseRawTable types every data row of the raw tab. A missing required
// column or an unparsable cell is an error carrying the offending row, so
// malformed input stops a run before any state is touched.
func ParseRawTable(t *sheets.Table) ([]RawRecord, error) {
	if t.Len() == 0 && len(t.Headers()) == 0 {
		return nil, nil
	}

	required := map[string][]string{
		"No":                                rawColumns.no,
		"Payment Date":                      rawColumns.date,
		"Amount (USD)":                      rawColumns.amount,
		"Method (Journal/Expense/Transfer)": rawColumns.method,
	}
	for canonical, aliases := range required {
		if pickColumn(t, aliases) == "" {
			return nil, fmt.Errorf("raw tab %q: missing required column %q", t.Tab, canonical)
		}
	}

	out := make([]RawRecord, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		noCell := cell(t, i, rawColumns.no)
		if noCell == "" {
			continue // blank spacer row
		}
		no, err := ParseSeq(noCell)
		if err != nil {
			return nil, fmt.Errorf("raw tab %q row %d: %w", t.Tab, t.SheetRow(i), err)
		}

		date, err := ParseDate(cell(t, i, rawColumns.date))
		if err != nil {
			return nil, fmt.Errorf("raw tab %q row %d: %w", t.Tab, t.SheetRow(i), err)
		}
		amount, err := ParseAmount(cell(t, i, rawColumns.amount))
		if err != nil {
			return nil, fmt.Errorf("raw tab %q row %d: %w", t.Tab, t.SheetRow(i), err)
		}

		out = append(out, RawRecord{
			Row:            t.SheetRow(i),
			No:             no,
			Date:           date,
			Category:       cell(t, i, rawColumns.category),
			Type:           cell(t, i, rawColumns.typ),
			Description:    cell(t, i, rawColumns.description),
			Location:       cell(t, i, rawColumns.location),
			AccountFrom:    cell(t, i, rawColumns.accountFrom),
			AccountTo:      cell(t, i, rawColumns.accountTo),
			Currency:       cell(t, i, rawColumns.currency),
			Amount:         amount,
			Method:         cell(t, i, rawColumns.method),
			CounterAccount: cell(t, i, rawColumns.counterAccount),
			TransferFrom:   cell(t, i, rawColumns.transferFrom),
			TransferTo:     cell(t, i, rawColumns.transferTo),
			Class:          cell(t, i, rawColumns.class),
			Excluded:       strings.Contains(strings.ToLower(cell(t, i, rawColumns.check)), "exclude"),
		})
	}

	return out, nil
}

// pickColumn returns the first alias present in the table, or "".
func pickColumn(t *sheets.Table, aliases []string) string {
	for _, a := range aliases {
		if t.HasColumn(a) {
			return a
		}
	}
	return ""
}

func cell(t *sheets.Table, row int, aliases []string) string {
	col := pickColumn(t, aliases)
	if col == "" {
		return ""
	}
	return t.Cell(row, col)
}
