package control_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kzoteam/qbo-bridge/internal/control"
	"github.com/kzoteam/qbo-bridge/internal/dimensions"
	"github.com/kzoteam/qbo-bridge/internal/qbo"
	"github.com/kzoteam/qbo-bridge/internal/sheets"
)

// fakeSheets is an in-memory workbook store. Tabs are addressed as
// "spreadsheetID!tab"; rows and cells are kept as rendered strings, the way
// the real API hands them back.
type fakeSheets struct {
	mu      sync.Mutex
	tabs    map[string]*fakeTab
	missing map[string]bool
}

type fakeTab struct {
	headers []string
	rows    [][]string
}

func newFakeSheets() *fakeSheets {
	return &fakeSheets{tabs: make(map[string]*fakeTab), missing: make(map[string]bool)}
}

func tabKey(spreadsheetID, tab string) string {
	return spreadsheetID + "!" + tab
}

func (f *fakeSheets) setTab(spreadsheetID, tab string, headers []string, rows [][]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tabs[tabKey(spreadsheetID, tab)] = &fakeTab{headers: headers, rows: rows}
}

func (f *fakeSheets) tab(t *testing.T, spreadsheetID, tab string) *fakeTab {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	ft, ok := f.tabs[tabKey(spreadsheetID, tab)]
	if !ok {
		t.Fatalf("tab %s!%s does not exist", spreadsheetID, tab)
	}
	return ft
}

func (f *fakeSheets) cell(t *testing.T, spreadsheetID, tab string, row, col int) string {
	t.Helper()
	ft := f.tab(t, spreadsheetID, tab)
	i := row - 2
	if i < 0 || i >= len(ft.rows) || col-1 >= len(ft.rows[i]) {
		return ""
	}
	return ft.rows[i][col-1]
}

func (f *fakeSheets) ReadTable(ctx context.Context, spreadsheetID, tab string) (*sheets.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ft, ok := f.tabs[tabKey(spreadsheetID, tab)]
	if !ok {
		return nil, fmt.Errorf("fake: no tab %s!%s", spreadsheetID, tab)
	}
	rows := make([][]string, len(ft.rows))
	for i, r := range ft.rows {
		rows[i] = append([]string(nil), r...)
	}
	return sheets.NewTable(spreadsheetID, tab, append([]string(nil), ft.headers...), rows), nil
}

func (f *fakeSheets) Append(ctx context.Context, spreadsheetID, tab string, rows [][]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ft, ok := f.tabs[tabKey(spreadsheetID, tab)]
	if !ok {
		return fmt.Errorf("fake: no tab %s!%s", spreadsheetID, tab)
	}
	for _, r := range rows {
		row := make([]string, len(r))
		for i, v := range r {
			row[i] = fmt.Sprint(v)
		}
		ft.rows = append(ft.rows, row)
	}
	return nil
}

func (f *fakeSheets) UpdateRows(ctx context.Context, spreadsheetID string, updates []sheets.RowUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range updates {
		ft, ok := f.tabs[tabKey(spreadsheetID, u.Tab)]
		if !ok {
			return fmt.Errorf("fake: no tab %s!%s", spreadsheetID, u.Tab)
		}
		i := u.Row - 2
		if i < 0 {
			return fmt.Errorf("fake: row %d out of range", u.Row)
		}
		for i >= len(ft.rows) {
			ft.rows = append(ft.rows, nil)
		}
		row := make([]string, len(u.Values))
		for j, v := range u.Values {
			row[j] = fmt.Sprint(v)
		}
		ft.rows[i] = row
	}
	return nil
}

func (f *fakeSheets) UpdateCells(ctx context.Context, spreadsheetID string, updates []sheets.CellUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range updates {
		ft, ok := f.tabs[tabKey(spreadsheetID, u.Tab)]
		if !ok {
			return fmt.Errorf("fake: no tab %s!%s", spreadsheetID, u.Tab)
		}
		i := u.Row - 2
		if i < 0 {
			return fmt.Errorf("fake: cell row %d out of range", u.Row)
		}
		for i >= len(ft.rows) {
			ft.rows = append(ft.rows, nil)
		}
		for u.Col > len(ft.rows[i]) {
			ft.rows[i] = append(ft.rows[i], "")
		}
		ft.rows[i][u.Col-1] = fmt.Sprint(u.Value)
	}
	return nil
}

func (f *fakeSheets) EnsureTab(ctx context.Context, spreadsheetID, tab string, header []interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := tabKey(spreadsheetID, tab)
	if _, ok := f.tabs[key]; ok {
		return false, nil
	}
	headers := make([]string, len(header))
	for i, h := range header {
		headers[i] = fmt.Sprint(h)
	}
	f.tabs[key] = &fakeTab{headers: headers}
	return true, nil
}

func (f *fakeSheets) FileExists(ctx context.Context, spreadsheetID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.missing[spreadsheetID], nil
}

// fakeLedger implements control.Ledger with canned dimensions and recorded
// writes.
type fakeLedger struct {
	mu       sync.Mutex
	maxSeq   int64
	journals []qbo.JournalEntry
	posted   []*qbo.JournalEntry
	nextID   int

	onDimensions func() // optional test hook, runs inside DimensionSets
}

func (l *fakeLedger) DimensionSets(ctx context.Context) (dimensions.Sets, error) {
	if l.onDimensions != nil {
		l.onDimensions()
	}
	return dimensions.Sets{
		dimensions.KindAccount: {
			{Name: "Bank", ID: "a-bank"},
			{Name: "Payroll", ID: "a-payroll"},
			{Name: "Petty Cash", ID: "a-petty"},
			{Name: "Meals", ID: "a-meals"},
		},
	}, nil
}

func (l *fakeLedger) MaxJournalDocSeq(ctx context.Context, prefix string) (int64, error) {
	return l.maxSeq, nil
}

func (l *fakeLedger) QueryJournalEntries(ctx context.Context, where string) ([]qbo.JournalEntry, error) {
	return l.journals, nil
}

func (l *fakeLedger) QueryPurchases(ctx context.Context, where string) ([]qbo.Purchase, error) {
	return nil, nil
}

func (l *fakeLedger) QueryTransfers(ctx context.Context, where string) ([]qbo.Transfer, error) {
	return nil, nil
}

func (l *fakeLedger) CreateJournalEntry(ctx context.Context, je *qbo.JournalEntry) (*qbo.JournalEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.posted = append(l.posted, je)
	l.nextID++
	out := *je
	out.ID = fmt.Sprintf("%d", 150+l.nextID)
	return &out, nil
}

func (l *fakeLedger) CreatePurchase(ctx context.Context, p *qbo.Purchase) (*qbo.Purchase, error) {
	return nil, errors.New("fake: unexpected purchase")
}

func (l *fakeLedger) CreateTransfer(ctx context.Context, t *qbo.Transfer) (*qbo.Transfer, error) {
	return nil, errors.New("fake: unexpected transfer")
}

var jobHeaders = []string{
	"Country", "Source File", "Transform File", "Tab Name", "Month",
	"Transform", "Transform Status", "QBO Sync", "QBO Sync Status",
	"QBO Reconcile", "QBO Reconcile Status", "Last Run At",
	"Last Processed Row", "Last Journal No", "Last Expense No", "Last Transfer No",
	"QBO Journal", "QBO Expense", "QBO Transfer",
}

// Column positions in jobHeaders, 1-based.
const (
	colTransformStatus = 7
	colSyncStatus      = 9
	colReconcileStatus = 11
	colLastRunAt       = 12
	colCursor          = 13
	colJournalNo       = 14
	colExpenseNo       = 15
	colFamilyJournal   = 17
)

func jobRow(trigger map[string]string) []string {
	row := []string{"KE", "src-1", "tf-1", "Oct Raw", "October 2025",
		"", "", "", "", "", "", "", "0", "0", "0", "0", "", "", ""}
	for col, v := range trigger {
		for i, h := range jobHeaders {
			if h == col {
				row[i] = v
			}
		}
	}
	return row
}

var rawHeaders = []string{
	"No", "Payment Date", "Category", "Type", "Description", "CO",
	"Account From", "Account To", "Currency", "Amount (USD)", "In/Out",
	"Method (Journal/Expense/Transfer)", "If Journal/Expense",
	"Transfer From", "Transfer To", "Class", "Check (Internal use)",
}

func rawRow(no, date, typ, amount, method, acctFrom string) []string {
	return []string{no, date, "", typ, "test row", "", acctFrom, "", "USD", amount, "", method, "", "", "", "", ""}
}

func fixture(t *testing.T, trigger map[string]string) (*fakeSheets, *fakeLedger, *control.Controller, control.Client) {
	t.Helper()
	fs := newFakeSheets()
	fs.setTab("master", "Clients",
		[]string{"Client Name", "Country", "Spreadsheet ID", "Realm ID", "Refresh Token", "Status"},
		[][]string{{"Kazo Kenya", "KE", "ctrl-1", "realm-1", "rt-1", "active"}},
	)
	fs.setTab("ctrl-1", "JOBS CONTROL", jobHeaders, [][]string{jobRow(trigger)})
	fs.setTab("src-1", "Oct Raw", rawHeaders, [][]string{
		rawRow("1", "2025-10-03", "Bank", "100", "Journal", ""),
		rawRow("2", "2025-10-03", "Payroll", "-100", "Journal", ""),
		rawRow("3", "2025-10-12", "Meals", "-85.50", "Expense", "Petty Cash"),
	})

	ledger := &fakeLedger{}
	registry := control.NewRegistry(fs, "master", "Clients")
	factory := func(ctx context.Context, c control.Client) (control.Ledger, error) {
		return ledger, nil
	}
	ctrl := control.New(fs, registry, factory, control.Options{})

	return fs, ledger, ctrl, control.Client{
		Row: 2, Name: "Kazo Kenya", Country: "KE",
		SpreadsheetID: "ctrl-1", RealmID: "realm-1", RefreshToken: "rt-1", Status: "active",
	}
}

func loadJob(t *testing.T, fs *fakeSheets) *control.Job {
	t.Helper()
	store := control.NewJobStore(fs, "ctrl-1", "JOBS CONTROL")
	jobs, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	return &jobs[0]
}

func TestSweepTransform(t *testing.T) {
	fs, _, ctrl, _ := fixture(t, map[string]string{"Transform": control.TriggerTransform})

	if err := ctrl.Sweep(context.Background(), control.StageTransform, ""); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	if got := fs.cell(t, "ctrl-1", "JOBS CONTROL", 2, 6); got != "" {
		t.Errorf("trigger cell = %q, want cleared", got)
	}
	if got := fs.cell(t, "ctrl-1", "JOBS CONTROL", 2, colTransformStatus); got != control.StatusDone {
		t.Errorf("status = %q, want %q", got, control.StatusDone)
	}
	if got := fs.cell(t, "ctrl-1", "JOBS CONTROL", 2, colCursor); got != "3" {
		t.Errorf("cursor = %q, want 3", got)
	}
	if got := fs.cell(t, "ctrl-1", "JOBS CONTROL", 2, colJournalNo); got != "1" {
		t.Errorf("journal counter = %q, want 1", got)
	}
	if got := fs.cell(t, "ctrl-1", "JOBS CONTROL", 2, colExpenseNo); got != "1" {
		t.Errorf("expense counter = %q, want 1", got)
	}
	stamp := fs.cell(t, "ctrl-1", "JOBS CONTROL", 2, colLastRunAt)
	if _, err := time.Parse(time.RFC3339, stamp); err != nil {
		t.Errorf("Last Run At = %q: %v", stamp, err)
	}

	jt := fs.tab(t, "tf-1", "QBO Journal")
	if len(jt.rows) != 2 {
		t.Fatalf("journal tab rows = %d, want 2", len(jt.rows))
	}
	for _, row := range jt.rows {
		if row[1] != "KZO-JV1" {
			t.Errorf("journal no = %q, want KZO-JV1", row[1])
		}
		if row[9] != "pending" || row[10] != "Ready to sync" {
			t.Errorf("state/remarks = %q/%q", row[9], row[10])
		}
	}
	et := fs.tab(t, "tf-1", "QBO Expense")
	if len(et.rows) != 1 || et.rows[0][1] != "KZOKE1025E1" {
		t.Fatalf("expense tab = %+v", et.rows)
	}
}

func TestTransformSeedsCounterFromLedger(t *testing.T) {
	fs, ledger, ctrl, cl := fixture(t, nil)
	ledger.maxSeq = 7

	if err := ctrl.RunTransform(context.Background(), cl, loadJob(t, fs)); err != nil {
		t.Fatalf("RunTransform() error = %v", err)
	}

	if got := fs.cell(t, "ctrl-1", "JOBS CONTROL", 2, colJournalNo); got != "8" {
		t.Errorf("journal counter = %q, want 8", got)
	}
	jt := fs.tab(t, "tf-1", "QBO Journal")
	if jt.rows[0][1] != "KZO-JV8" {
		t.Errorf("journal no = %q, want KZO-JV8", jt.rows[0][1])
	}
}

func TestTransformValidationErrorStatus(t *testing.T) {
	fs, _, ctrl, cl := fixture(t, nil)
	fs.setTab("src-1", "Oct Raw", rawHeaders, [][]string{
		rawRow("1", "2025-10-03", "Mystery Account", "100", "Journal", ""),
	})

	if err := ctrl.RunTransform(context.Background(), cl, loadJob(t, fs)); err != nil {
		t.Fatalf("RunTransform() error = %v", err)
	}
	// The single-line group is unbalanced, so the run reports one bad row.
	if got := fs.cell(t, "ctrl-1", "JOBS CONTROL", 2, colTransformStatus); got != "ERROR (1 rows)" {
		t.Errorf("status = %q", got)
	}
	jt := fs.tab(t, "tf-1", "QBO Journal")
	if len(jt.rows) != 1 || !strings.HasPrefix(jt.rows[0][10], "ERROR: Unbalance") {
		t.Fatalf("journal tab = %+v", jt.rows)
	}
}

func TestTransformBusyJob(t *testing.T) {
	fs, ledger, ctrl, cl := fixture(t, nil)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	ledger.onDimensions = func() {
		once.Do(func() { close(entered) })
		<-unblock
	}

	first := loadJob(t, fs)
	second := *first

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		firstErr = ctrl.RunTransform(context.Background(), cl, first)
	}()

	<-entered
	if err := ctrl.RunTransform(context.Background(), cl, &second); !errors.Is(err, control.ErrJobBusy) {
		t.Errorf("concurrent run error = %v, want ErrJobBusy", err)
	}
	close(unblock)
	wg.Wait()
	if firstErr != nil {
		t.Fatalf("first run error = %v", firstErr)
	}
}

func TestSweepSync(t *testing.T) {
	fs, ledger, ctrl, _ := fixture(t, map[string]string{"QBO Sync": control.TriggerSync})

	fs.setTab("tf-1", control.TabJournal,
		[]string{"No", "Journal No", "Date", "Account", "Amount", "Description",
			"Location", "Class", "Currency", "State", "Remarks",
			"QBO ID", "QBO Link", "QBO Match", "Source Match"},
		[][]string{
			{"1", "KZO-JV1", "2025-10-03", "Bank", "100.00", "", "", "", "USD", "pending", "Ready to sync", "", "", "", ""},
			{"2", "KZO-JV1", "2025-10-03", "Payroll", "-100.00", "", "", "", "USD", "pending", "Ready to sync", "", "", "", ""},
		},
	)

	if err := ctrl.Sweep(context.Background(), control.StageSync, ""); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	if len(ledger.posted) != 1 {
		t.Fatalf("posted %d entries, want 1", len(ledger.posted))
	}
	if ledger.posted[0].DocNumber != "KZO-JV1" {
		t.Errorf("doc number = %q", ledger.posted[0].DocNumber)
	}
	if got := fs.cell(t, "ctrl-1", "JOBS CONTROL", 2, colSyncStatus); got != control.StatusDone {
		t.Errorf("sync status = %q", got)
	}
	if got := fs.cell(t, "ctrl-1", "JOBS CONTROL", 2, colFamilyJournal); got != "DONE (1 posted, 0 skipped)" {
		t.Errorf("journal family status = %q", got)
	}

	jt := fs.tab(t, "tf-1", control.TabJournal)
	for _, row := range jt.rows {
		if row[9] != "synced" || row[11] != "151" {
			t.Errorf("written back row = %v", row)
		}
	}
}

func TestSweepIgnoresUntriggeredJobs(t *testing.T) {
	fs, ledger, ctrl, _ := fixture(t, nil)

	if err := ctrl.Sweep(context.Background(), control.StageTransform, ""); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if got := fs.cell(t, "ctrl-1", "JOBS CONTROL", 2, colTransformStatus); got != "" {
		t.Errorf("status = %q, want untouched", got)
	}
	if len(ledger.posted) != 0 {
		t.Errorf("posted = %d", len(ledger.posted))
	}
}

func TestSweepUnknownClientFilter(t *testing.T) {
	_, _, ctrl, _ := fixture(t, nil)
	err := ctrl.Sweep(context.Background(), control.StageTransform, "No Such Client")
	if err == nil || !strings.Contains(err.Error(), "No Such Client") {
		t.Fatalf("error = %v, want unknown-client failure", err)
	}
}

func TestReconcileMissingInfoStatus(t *testing.T) {
	fs, _, ctrl, cl := fixture(t, nil)
	// Blank the month so the job cannot identify its period.
	if err := fs.UpdateCells(context.Background(), "ctrl-1", []sheets.CellUpdate{
		{Tab: "JOBS CONTROL", Row: 2, Col: 5, Value: ""},
	}); err != nil {
		t.Fatal(err)
	}

	err := ctrl.RunReconcile(context.Background(), cl, loadJob(t, fs))
	if err == nil {
		t.Fatal("RunReconcile() error = nil, want missing-info failure")
	}
	if got := fs.cell(t, "ctrl-1", "JOBS CONTROL", 2, colReconcileStatus); got != control.StatusMissingInfo {
		t.Errorf("reconcile status = %q, want %q", got, control.StatusMissingInfo)
	}
}

func TestReconcileMissingWorkbook(t *testing.T) {
	fs, _, ctrl, cl := fixture(t, nil)
	fs.missing["tf-1"] = true

	err := ctrl.RunReconcile(context.Background(), cl, loadJob(t, fs))
	if err == nil {
		t.Fatal("RunReconcile() error = nil, want missing workbook failure")
	}
	if got := fs.cell(t, "ctrl-1", "JOBS CONTROL", 2, colReconcileStatus); got != control.StatusMissingInfo {
		t.Errorf("reconcile status = %q", got)
	}
}

func TestReconcileEndToEnd(t *testing.T) {
	fs, ledger, ctrl, cl := fixture(t, nil)

	fs.setTab("tf-1", control.TabJournal,
		[]string{"No", "Journal No", "Date", "Account", "Amount", "Description",
			"Location", "Class", "Currency", "State", "Remarks",
			"QBO ID", "QBO Link", "QBO Match", "Source Match"},
		[][]string{
			{"1", "KZO-JV1", "2025-10-03", "Bank", "100.00", "", "", "", "USD", "synced", "Synced", "151", "", "", ""},
			{"2", "KZO-JV1", "2025-10-03", "Payroll", "-100.00", "", "", "", "USD", "synced", "Synced", "151", "", "", ""},
		},
	)
	ledger.journals = []qbo.JournalEntry{{
		ID: "151", DocNumber: "KZO-JV1", TxnDate: "2025-10-03",
		Line: []qbo.Line{
			{Amount: 100, DetailType: qbo.DetailJournalLine, JournalEntryLineDetail: &qbo.JournalEntryLineDetail{
				PostingType: qbo.PostingDebit, AccountRef: &qbo.Ref{Value: "a-bank"}}},
			{Amount: 100, DetailType: qbo.DetailJournalLine, JournalEntryLineDetail: &qbo.JournalEntryLineDetail{
				PostingType: qbo.PostingCredit, AccountRef: &qbo.Ref{Value: "a-payroll"}}},
		},
	}}

	if err := ctrl.RunReconcile(context.Background(), cl, loadJob(t, fs)); err != nil {
		t.Fatalf("RunReconcile() error = %v", err)
	}

	if got := fs.cell(t, "ctrl-1", "JOBS CONTROL", 2, colReconcileStatus); got != control.StatusDone {
		t.Errorf("reconcile status = %q", got)
	}
	jt := fs.tab(t, "tf-1", control.TabJournal)
	for _, row := range jt.rows {
		if row[13] != "Matched" || row[14] != "Matched" {
			t.Errorf("match columns = %q/%q", row[13], row[14])
		}
	}
}

func TestRegistrySaveRefreshToken(t *testing.T) {
	fs, _, _, cl := fixture(t, nil)
	registry := control.NewRegistry(fs, "master", "Clients")

	clients, err := registry.ActiveClients(context.Background())
	if err != nil {
		t.Fatalf("ActiveClients() error = %v", err)
	}
	if len(clients) != 1 || clients[0].Name != cl.Name {
		t.Fatalf("clients = %+v", clients)
	}

	if err := registry.SaveRefreshToken(context.Background(), clients[0], "rt-2"); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}
	if got := fs.cell(t, "master", "Clients", 2, 5); got != "rt-2" {
		t.Errorf("token cell = %q, want rt-2", got)
	}
}

func TestJobStoreMissingColumn(t *testing.T) {
	fs := newFakeSheets()
	headers := append([]string(nil), jobHeaders...)
	headers[7] = "Push" // replace "QBO Sync"
	fs.setTab("ctrl-1", "JOBS CONTROL", headers, [][]string{jobRow(nil)})

	store := control.NewJobStore(fs, "ctrl-1", "JOBS CONTROL")
	_, err := store.Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "QBO Sync") {
		t.Fatalf("error = %v, want missing column failure", err)
	}
}

func TestTransformRetryReplacesRow(t *testing.T) {
	fs, _, ctrl, cl := fixture(t, nil)

	// Prior run left row No 3 as an error with a retained ID; its source row
	// now carries a resolvable account.
	fs.setTab("tf-1", control.TabExpense,
		[]string{"No", "Expense No", "Date", "Payment Account", "Expense Account", "Amount",
			"Description", "Payee", "Location", "Class", "Currency", "Payment Method",
			"State", "Remarks", "QBO ID", "QBO Link", "QBO Match", "Source Match"},
		[][]string{
			{"3", "KZOKE1025E1", "2025-10-12", "Petty Cash", "Unknown Category", "85.50",
				"test row", "", "", "", "USD", "", "error-retryable", "ERROR: Unknown Category not found", "", "", "", ""},
		},
	)
	// Cursor already past every row; only the retry is selectable.
	if err := fs.UpdateCells(context.Background(), "ctrl-1", []sheets.CellUpdate{
		{Tab: "JOBS CONTROL", Row: 2, Col: colCursor, Value: "3"},
		{Tab: "JOBS CONTROL", Row: 2, Col: colExpenseNo, Value: "1"},
	}); err != nil {
		t.Fatal(err)
	}

	if err := ctrl.RunTransform(context.Background(), cl, loadJob(t, fs)); err != nil {
		t.Fatalf("RunTransform() error = %v", err)
	}

	et := fs.tab(t, "tf-1", control.TabExpense)
	if len(et.rows) != 1 {
		t.Fatalf("expense tab rows = %d, want the error row replaced in place", len(et.rows))
	}
	row := et.rows[0]
	if row[1] != "KZOKE1025E1" {
		t.Errorf("expense no = %q, want retained KZOKE1025E1", row[1])
	}
	if row[12] != "pending" || row[13] != "Ready to sync" {
		t.Errorf("state/remarks = %q/%q", row[12], row[13])
	}
	if got := fs.cell(t, "ctrl-1", "JOBS CONTROL", 2, colExpenseNo); got != "1" {
		t.Errorf("expense counter = %q, want unchanged 1", got)
	}
}
