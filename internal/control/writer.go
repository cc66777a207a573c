package control

import (
	"context"

	"github.com/kzoteam/qbo-bridge/internal/records"
	"github.com/kzoteam/qbo-bridge/internal/sheets"
)

// Output tab names inside the transform workbook.
const (
	TabJournal  = "QBO Journal"
	TabExpense  = "QBO Expense"
	TabTransfer = "QBO Transfer"
)

// tabWriter persists record families to their tabs: records carrying a
// sheet row are rewritten in place, fresh ones are appended. It serves the
// sync and reconcile engines' write-backs and the transform persist step.
type tabWriter struct {
	sheets        SheetService
	spreadsheetID string
}

func newTabWriter(s SheetService, spreadsheetID string) *tabWriter {
	return &tabWriter{sheets: s, spreadsheetID: spreadsheetID}
}

func (w *tabWriter) WriteJournalLines(ctx context.Context, lines []records.JournalLine) error {
	updates := make([]sheets.RowUpdate, 0, len(lines))
	var appends [][]interface{}
	for _, l := range lines {
		if l.Row > 0 {
			updates = append(updates, sheets.RowUpdate{Tab: TabJournal, Row: l.Row, Values: l.Values()})
		} else {
			appends = append(appends, l.Values())
		}
	}
	if err := w.sheets.UpdateRows(ctx, w.spreadsheetID, updates); err != nil {
		return err
	}
	return w.sheets.Append(ctx, w.spreadsheetID, TabJournal, appends)
}

func (w *tabWriter) WriteExpenses(ctx context.Context, recs []records.ExpenseRecord) error {
	updates := make([]sheets.RowUpdate, 0, len(recs))
	var appends [][]interface{}
	for _, r := range recs {
		if r.Row > 0 {
			updates = append(updates, sheets.RowUpdate{Tab: TabExpense, Row: r.Row, Values: r.Values()})
		} else {
			appends = append(appends, r.Values())
		}
	}
	if err := w.sheets.UpdateRows(ctx, w.spreadsheetID, updates); err != nil {
		return err
	}
	return w.sheets.Append(ctx, w.spreadsheetID, TabExpense, appends)
}

func (w *tabWriter) WriteTransfers(ctx context.Context, recs []records.TransferRecord) error {
	updates := make([]sheets.RowUpdate, 0, len(recs))
	var appends [][]interface{}
	for _, r := range recs {
		if r.Row > 0 {
			updates = append(updates, sheets.RowUpdate{Tab: TabTransfer, Row: r.Row, Values: r.Values()})
		} else {
			appends = append(appends, r.Values())
		}
	}
	if err := w.sheets.UpdateRows(ctx, w.spreadsheetID, updates); err != nil {
		return err
	}
	return w.sheets.Append(ctx, w.spreadsheetID, TabTransfer, appends)
}

// headerValues renders a header slice for EnsureTab.
func headerValues(header []string) []interface{} {
	out := make([]interface{}, len(header))
	for i, h := range header {
		out[i] = h
	}
	return out
}

// retrySlots maps a raw sequence number to the sheet rows its previous
// attempt occupies in one tab, in sheet order.
type retrySlots map[int64][]int

func (s retrySlots) add(no int64, row int) {
	s[no] = append(s[no], row)
}

// take pops the next slot for a sequence number, 0 when none remain.
func (s retrySlots) take(no int64) int {
	rows := s[no]
	if len(rows) == 0 {
		return 0
	}
	s[no] = rows[1:]
	return rows[0]
}

// tabState is what the transform stage learns from one family's existing
// tab: which raw rows to retry (and where their rows live), which to leave
// alone, and the IDs to retain.
type tabState struct {
	retained map[int64]string
	retry    map[int64]bool
	skip     map[int64]bool
	slots    retrySlots
}

func newTabState() tabState {
	return tabState{
		retained: make(map[int64]string),
		retry:    make(map[int64]bool),
		skip:     make(map[int64]bool),
		slots:    make(retrySlots),
	}
}

func (ts *tabState) observe(no int64, id string, state records.SyncState, row int) {
	if state == records.StateRetry {
		ts.retry[no] = true
		if id != "" {
			ts.retained[no] = id
		}
		ts.slots.add(no, row)
		return
	}
	ts.skip[no] = true
}
