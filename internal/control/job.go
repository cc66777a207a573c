package control

import (
	"context"
	"fmt"
	"time"

	"github.com/kzoteam/qbo-bridge/internal/records"
	"github.com/kzoteam/qbo-bridge/internal/sheets"
)

// Trigger values an operator types into a stage's trigger cell. Matching is
// exact; anything else leaves the job alone.
const (
	TriggerTransform = "READY"
	TriggerSync      = "SYNC NOW"
	TriggerReconcile = "RECONCILE NOW"
)

// Stage status values written to the job row.
const (
	StatusProcessing  = "PROCESSING"
	StatusRunning     = "RUNNING"
	StatusDone        = "DONE"
	StatusDoneEmpty   = "DONE (Empty)"
	StatusDoneNoData  = "DONE (No Data)"
	StatusDoneIssues  = "DONE (Issues Found)"
	StatusPartial     = "PARTIAL ERROR"
	StatusMissingInfo = "ERROR: Missing Info"
)

// Job is one row of a client's jobs control tab: a month of work against one
// raw tab and one transform workbook. Stage triggers and statuses, the
// cursor and the three ID counters all live on this row; the controller is
// their only writer.
type Job struct {
	Row int

	Country       string
	SourceFile    string
	TransformFile string
	TabName       string
	Month         string

	TransformTrigger string
	TransformStatus  string
	SyncTrigger      string
	SyncStatus       string
	ReconcileTrigger string
	ReconcileStatus  string

	LastRunAt        string
	LastProcessedRow int64
	LastJournalNo    int64
	LastExpenseNo    int64
	LastTransferNo   int64

	JournalStatus  string
	ExpenseStatus  string
	TransferStatus string

	cols jobColumns
}

// Period parses the job's Month cell.
func (j *Job) Period() (records.Period, error) {
	return records.ParsePeriod(j.Month)
}

// jobColumns holds the 1-based sheet columns of every cell the controller
// writes.
type jobColumns struct {
	transformTrigger int
	transformStatus  int
	syncTrigger      int
	syncStatus       int
	reconcileTrigger int
	reconcileStatus  int
	lastRunAt        int
	lastProcessedRow int
	lastJournalNo    int
	lastExpenseNo    int
	lastTransferNo   int
	journalStatus    int
	expenseStatus    int
	transferStatus   int
}

// jobColumnNames maps the canonical header of every required column to the
// field that records its position.
var jobColumnNames = []struct {
	header string
	col    func(*jobColumns) *int
}{
	{"Transform", func(c *jobColumns) *int { return &c.transformTrigger }},
	{"Transform Status", func(c *jobColumns) *int { return &c.transformStatus }},
	{"QBO Sync", func(c *jobColumns) *int { return &c.syncTrigger }},
	{"QBO Sync Status", func(c *jobColumns) *int { return &c.syncStatus }},
	{"QBO Reconcile", func(c *jobColumns) *int { return &c.reconcileTrigger }},
	{"QBO Reconcile Status", func(c *jobColumns) *int { return &c.reconcileStatus }},
	{"Last Run At", func(c *jobColumns) *int { return &c.lastRunAt }},
	{"Last Processed Row", func(c *jobColumns) *int { return &c.lastProcessedRow }},
	{"Last Journal No", func(c *jobColumns) *int { return &c.lastJournalNo }},
	{"Last Expense No", func(c *jobColumns) *int { return &c.lastExpenseNo }},
	{"Last Transfer No", func(c *jobColumns) *int { return &c.lastTransferNo }},
	{"QBO Journal", func(c *jobColumns) *int { return &c.journalStatus }},
	{"QBO Expense", func(c *jobColumns) *int { return &c.expenseStatus }},
	{"QBO Transfer", func(c *jobColumns) *int { return &c.transferStatus }},
}

// JobStore reads and writes one client's jobs control tab. Writes are
// per-cell batches so operator-owned cells are never stomped.
type JobStore struct {
	sheets        SheetService
	spreadsheetID string
	tab           string
}

func NewJobStore(s SheetService, spreadsheetID, tab string) *JobStore {
	return &JobStore{sheets: s, spreadsheetID: spreadsheetID, tab: tab}
}

// Load reads every job row. A control tab missing any controller-owned
// column is an error before any job runs.
func (s *JobStore) Load(ctx context.Context) ([]Job, error) {
	t, err := s.sheets.ReadTable(ctx, s.spreadsheetID, s.tab)
	if err != nil {
		return nil, fmt.Errorf("control: read jobs tab: %w", err)
	}

	var cols jobColumns
	for _, c := range jobColumnNames {
		i, ok := t.Col(c.header)
		if !ok {
			return nil, fmt.Errorf("control: jobs tab %q: missing required column %q", s.tab, c.header)
		}
		*c.col(&cols) = i + 1
	}
	for _, required := range []string{"Source File", "Transform File", "Tab Name", "Month"} {
		if !t.HasColumn(required) {
			return nil, fmt.Errorf("control: jobs tab %q: missing required column %q", s.tab, required)
		}
	}

	out := make([]Job, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		if t.Cell(i, "Source File") == "" && t.Cell(i, "Transform File") == "" {
			continue
		}
		j := Job{
			Row:              t.SheetRow(i),
			Country:          t.Cell(i, "Country"),
			SourceFile:       t.Cell(i, "Source File"),
			TransformFile:    t.Cell(i, "Transform File"),
			TabName:          t.Cell(i, "Tab Name"),
			Month:            t.Cell(i, "Month"),
			TransformTrigger: t.Cell(i, "Transform"),
			TransformStatus:  t.Cell(i, "Transform Status"),
			SyncTrigger:      t.Cell(i, "QBO Sync"),
			SyncStatus:       t.Cell(i, "QBO Sync Status"),
			ReconcileTrigger: t.Cell(i, "QBO Reconcile"),
			ReconcileStatus:  t.Cell(i, "QBO Reconcile Status"),
			LastRunAt:        t.Cell(i, "Last Run At"),
			JournalStatus:    t.Cell(i, "QBO Journal"),
			ExpenseStatus:    t.Cell(i, "QBO Expense"),
			TransferStatus:   t.Cell(i, "QBO Transfer"),
			cols:             cols,
		}
		if j.LastProcessedRow, err = records.ParseSeq(t.Cell(i, "Last Processed Row")); err != nil {
			return nil, fmt.Errorf("control: jobs tab row %d: %w", j.Row, err)
		}
		if j.LastJournalNo, err = records.ParseSeq(t.Cell(i, "Last Journal No")); err != nil {
			return nil, fmt.Errorf("control: jobs tab row %d: %w", j.Row, err)
		}
		if j.LastExpenseNo, err = records.ParseSeq(t.Cell(i, "Last Expense No")); err != nil {
			return nil, fmt.Errorf("control: jobs tab row %d: %w", j.Row, err)
		}
		if j.LastTransferNo, err = records.ParseSeq(t.Cell(i, "Last Transfer No")); err != nil {
			return nil, fmt.Errorf("control: jobs tab row %d: %w", j.Row, err)
		}
		out = append(out, j)
	}
	return out, nil
}

func (s *JobStore) cell(j *Job, col int, v interface{}) sheets.CellUpdate {
	return sheets.CellUpdate{Tab: s.tab, Row: j.Row, Col: col, Value: v}
}

// ClaimTransform clears the trigger and marks the stage in flight, in one
// batch.
func (s *JobStore) ClaimTransform(ctx context.Context, j *Job) error {
	j.TransformTrigger = ""
	j.TransformStatus = StatusProcessing
	return s.write(ctx, []sheets.CellUpdate{
		s.cell(j, j.cols.transformTrigger, ""),
		s.cell(j, j.cols.transformStatus, StatusProcessing),
	})
}

func (s *JobStore) ClaimSync(ctx context.Context, j *Job) error {
	j.SyncTrigger = ""
	j.SyncStatus = StatusProcessing
	return s.write(ctx, []sheets.CellUpdate{
		s.cell(j, j.cols.syncTrigger, ""),
		s.cell(j, j.cols.syncStatus, StatusProcessing),
	})
}

func (s *JobStore) ClaimReconcile(ctx context.Context, j *Job) error {
	j.ReconcileTrigger = ""
	j.ReconcileStatus = StatusRunning
	return s.write(ctx, []sheets.CellUpdate{
		s.cell(j, j.cols.reconcileTrigger, ""),
		s.cell(j, j.cols.reconcileStatus, StatusRunning),
	})
}

// FinishTransform writes the terminal status together with the cursor and
// counters carried on the job, stamping Last Run At.
func (s *JobStore) FinishTransform(ctx context.Context, j *Job, status string) error {
	j.TransformStatus = status
	j.LastRunAt = nowStamp()
	return s.write(ctx, []sheets.CellUpdate{
		s.cell(j, j.cols.transformStatus, status),
		s.cell(j, j.cols.lastRunAt, j.LastRunAt),
		s.cell(j, j.cols.lastProcessedRow, j.LastProcessedRow),
		s.cell(j, j.cols.lastJournalNo, j.LastJournalNo),
		s.cell(j, j.cols.lastExpenseNo, j.LastExpenseNo),
		s.cell(j, j.cols.lastTransferNo, j.LastTransferNo),
	})
}

// FinishSync writes the terminal status and the three family statuses.
func (s *JobStore) FinishSync(ctx context.Context, j *Job, status string) error {
	j.SyncStatus = status
	j.LastRunAt = nowStamp()
	return s.write(ctx, []sheets.CellUpdate{
		s.cell(j, j.cols.syncStatus, status),
		s.cell(j, j.cols.lastRunAt, j.LastRunAt),
		s.cell(j, j.cols.journalStatus, j.JournalStatus),
		s.cell(j, j.cols.expenseStatus, j.ExpenseStatus),
		s.cell(j, j.cols.transferStatus, j.TransferStatus),
	})
}

func (s *JobStore) FinishReconcile(ctx context.Context, j *Job, status string) error {
	j.ReconcileStatus = status
	j.LastRunAt = nowStamp()
	return s.write(ctx, []sheets.CellUpdate{
		s.cell(j, j.cols.reconcileStatus, status),
		s.cell(j, j.cols.lastRunAt, j.LastRunAt),
	})
}

func (s *JobStore) write(ctx context.Context, cells []sheets.CellUpdate) error {
	if err := s.sheets.UpdateCells(ctx, s.spreadsheetID, cells); err != nil {
		return fmt.Errorf("control: update job row: %w", err)
	}
	return nil
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
