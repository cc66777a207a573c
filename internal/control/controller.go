// Package control drives client jobs through their stages. It owns the
// master registry of clients, the per-client jobs control tab, and the
// lifecycle of every stage run: claim the trigger, load the data, invoke
// the engine, persist outputs and terminal status in bounded writes.
package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kzoteam/qbo-bridge/internal/config"
	"github.com/kzoteam/qbo-bridge/internal/dimensions"
	"github.com/kzoteam/qbo-bridge/internal/logger"
	"github.com/kzoteam/qbo-bridge/internal/pipeline"
	"github.com/kzoteam/qbo-bridge/internal/qbo"
	"github.com/kzoteam/qbo-bridge/internal/qbosync"
	"github.com/kzoteam/qbo-bridge/internal/reconcile"
	"github.com/kzoteam/qbo-bridge/internal/records"
	"github.com/kzoteam/qbo-bridge/internal/sheets"
)

// ErrJobBusy reports a stage invocation that found the job already being
// worked in this process. The trigger is left set so a later sweep retries.
var ErrJobBusy = errors.New("control: stage already running for this job")

// Stage names one of the three pipeline stages.
type Stage string

const (
	StageTransform Stage = "transform"
	StageSync      Stage = "sync"
	StageReconcile Stage = "reconcile"
)

// SheetService is the slice of the sheets client the controller uses.
// *sheets.Client implements it.
type SheetService interface {
	ReadTable(ctx context.Context, spreadsheetID, tab string) (*sheets.Table, error)
	Append(ctx context.Context, spreadsheetID, tab string, rows [][]interface{}) error
	UpdateRows(ctx context.Context, spreadsheetID string, updates []sheets.RowUpdate) error
	UpdateCells(ctx context.Context, spreadsheetID string, updates []sheets.CellUpdate) error
	EnsureTab(ctx context.Context, spreadsheetID, tab string, header []interface{}) (bool, error)
	FileExists(ctx context.Context, spreadsheetID string) (bool, error)
}

// Ledger is the slice of the ledger client the stages use. *qbo.Client
// implements it.
type Ledger interface {
	QueryJournalEntries(ctx context.Context, where string) ([]qbo.JournalEntry, error)
	QueryPurchases(ctx context.Context, where string) ([]qbo.Purchase, error)
	QueryTransfers(ctx context.Context, where string) ([]qbo.Transfer, error)
	CreateJournalEntry(ctx context.Context, je *qbo.JournalEntry) (*qbo.JournalEntry, error)
	CreatePurchase(ctx context.Context, p *qbo.Purchase) (*qbo.Purchase, error)
	CreateTransfer(ctx context.Context, t *qbo.Transfer) (*qbo.Transfer, error)
	DimensionSets(ctx context.Context) (dimensions.Sets, error)
	MaxJournalDocSeq(ctx context.Context, prefix string) (int64, error)
}

// LedgerFactory opens a ledger connection for one client company.
type LedgerFactory func(ctx context.Context, client Client) (Ledger, error)

// NewQBOClient opens the ledger connection for one registry client. Rotated
// refresh tokens are persisted back to the client's master row as soon as the
// token endpoint reports them.
func NewQBOClient(ctx context.Context, cfg config.Config, reg *Registry, c Client) (*qbo.Client, error) {
	log := logger.FromContext(ctx)
	qc, err := qbo.NewClient(ctx, qbo.Config{
		ClientID:     cfg.QBOClientID,
		ClientSecret: cfg.QBOClientSecret,
		RefreshToken: c.RefreshToken,
		RealmID:      c.RealmID,
		BaseURL:      cfg.QBOBaseURL,
		TokenURL:     cfg.QBOTokenURL,
		MinorVersion: cfg.QBOMinorVersion,
		OnTokenRefresh: func(token string) {
			pctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := reg.SaveRefreshToken(pctx, c, token); err != nil {
				log.Error().Err(err).Str("client", c.Name).Msg("Persisting rotated refresh token failed")
				return
			}
			log.Info().Str("client", c.Name).Msg("Refresh token rotated and saved")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("control: ledger client for %s: %w", c.Name, err)
	}
	return qc, nil
}

// NewLedgerFactory adapts NewQBOClient to the factory the controller takes.
func NewLedgerFactory(cfg config.Config, reg *Registry) LedgerFactory {
	return func(ctx context.Context, c Client) (Ledger, error) {
		qc, err := NewQBOClient(ctx, cfg, reg, c)
		if err != nil {
			return nil, err
		}
		return qc, nil
	}
}

// Options tunes a Controller.
type Options struct {
	// ControlTab is the jobs table tab name inside each client's control
	// workbook; defaults to "JOBS CONTROL".
	ControlTab string
	// WriteBatchSize bounds sync write-back batches.
	WriteBatchSize int
	// DryRun makes the sync stage report without posting.
	DryRun bool
}

// Controller runs stages for jobs. One Controller serves all clients; jobs
// are worked sequentially within a sweep and a per-job guard keeps
// concurrent triggers from re-entering a row.
type Controller struct {
	sheets   SheetService
	registry *Registry
	ledgers  LedgerFactory

	controlTab string
	batchSize  int
	dryRun     bool

	mu      sync.Mutex
	running map[string]bool
}

func New(s SheetService, registry *Registry, ledgers LedgerFactory, opts Options) *Controller {
	tab := opts.ControlTab
	if tab == "" {
		tab = "JOBS CONTROL"
	}
	return &Controller{
		sheets:     s,
		registry:   registry,
		ledgers:    ledgers,
		controlTab: tab,
		batchSize:  opts.WriteBatchSize,
		dryRun:     opts.DryRun,
		running:    make(map[string]bool),
	}
}

// Sweep runs one stage for every triggered job of every active client.
// clientFilter narrows the sweep to one client by name; empty sweeps all.
// Per-client failures are logged and do not stop the sweep.
func (c *Controller) Sweep(ctx context.Context, stage Stage, clientFilter string) error {
	clients, err := c.registry.ActiveClients(ctx)
	if err != nil {
		return err
	}
	log := logger.FromContext(ctx)
	matched := 0
	for _, cl := range clients {
		if clientFilter != "" && !strings.EqualFold(cl.Name, clientFilter) {
			continue
		}
		matched++
		if err := c.sweepClient(ctx, stage, cl); err != nil {
			log.Error().Err(err).Str("client", cl.Name).Str("stage", string(stage)).Msg("Client sweep failed")
		}
	}
	if clientFilter != "" && matched == 0 {
		return fmt.Errorf("control: no active client named %q", clientFilter)
	}
	return nil
}

func (c *Controller) sweepClient(ctx context.Context, stage Stage, cl Client) error {
	if cl.SpreadsheetID == "" {
		return fmt.Errorf("control: client %s has no control workbook", cl.Name)
	}
	store := NewJobStore(c.sheets, cl.SpreadsheetID, c.controlTab)
	jobs, err := store.Load(ctx)
	if err != nil {
		return err
	}
	for i := range jobs {
		job := &jobs[i]
		if !triggered(job, stage) {
			continue
		}
		rctx, log := logger.ForRun(ctx, cl.Name, string(stage), uuid.NewString())
		log.Info().Int("job_row", job.Row).Str("month", job.Month).Msg("Trigger found, starting stage")
		if err := c.Run(rctx, stage, cl, job); err != nil {
			if errors.Is(err, ErrJobBusy) {
				log.Warn().Int("job_row", job.Row).Msg("Job already running, leaving trigger for next sweep")
				continue
			}
			log.Error().Err(err).Int("job_row", job.Row).Msg("Stage run failed")
		}
	}
	return nil
}

func triggered(j *Job, stage Stage) bool {
	switch stage {
	case StageTransform:
		return j.TransformTrigger == TriggerTransform
	case StageSync:
		return j.SyncTrigger == TriggerSync
	case StageReconcile:
		return j.ReconcileTrigger == TriggerReconcile
	}
	return false
}

// Run executes one stage of one job end to end. The terminal status is
// written even when the run fails; the returned error reports what went
// wrong for the caller's logs.
func (c *Controller) Run(ctx context.Context, stage Stage, cl Client, job *Job) error {
	switch stage {
	case StageTransform:
		return c.RunTransform(ctx, cl, job)
	case StageSync:
		return c.RunSync(ctx, cl, job)
	case StageReconcile:
		return c.RunReconcile(ctx, cl, job)
	}
	return fmt.Errorf("control: unknown stage %q", stage)
}

// RunTransform runs the transform stage for one job.
func (c *Controller) RunTransform(ctx context.Context, cl Client, job *Job) error {
	key := jobKey(cl, job)
	if !c.acquire(key) {
		return ErrJobBusy
	}
	defer c.release(key)

	store := NewJobStore(c.sheets, cl.SpreadsheetID, c.controlTab)
	if err := store.ClaimTransform(ctx, job); err != nil {
		return err
	}

	status, runErr := c.transform(ctx, cl, job)
	if err := store.FinishTransform(ctx, job, status); err != nil {
		if runErr != nil {
			return fmt.Errorf("%w (writing status also failed: %v)", runErr, err)
		}
		return err
	}
	log := logger.FromContext(ctx)
	log.Info().Str("status", status).Int64("cursor", job.LastProcessedRow).Msg("Transform stage finished")
	return runErr
}

func (c *Controller) transform(ctx context.Context, cl Client, job *Job) (string, error) {
	log := logger.FromContext(ctx)

	period, err := job.Period()
	if err != nil {
		err = fmt.Errorf("control: job row %d: %w", job.Row, err)
		return statusError(err), err
	}
	if job.SourceFile == "" || job.TransformFile == "" || job.TabName == "" {
		err := fmt.Errorf("control: job row %d: source file, transform file and tab name are required", job.Row)
		return statusError(err), err
	}
	country := job.Country
	if country == "" {
		country = cl.Country
	}

	rawTable, err := c.sheets.ReadTable(ctx, job.SourceFile, job.TabName)
	if err != nil {
		return statusError(err), err
	}
	raw, err := records.ParseRawTable(rawTable)
	if err != nil {
		return statusError(err), err
	}

	journals, expenses, transfers, err := c.loadFamilies(ctx, job.TransformFile)
	if err != nil {
		return statusError(err), err
	}

	ledger, err := c.ledgers(ctx, cl)
	if err != nil {
		return statusError(err), err
	}
	sets, err := ledger.DimensionSets(ctx)
	if err != nil {
		return statusError(err), err
	}

	counters := pipeline.Counters{
		Journal:  job.LastJournalNo,
		Expense:  job.LastExpenseNo,
		Transfer: job.LastTransferNo,
	}
	ledgerSeq, err := ledger.MaxJournalDocSeq(ctx, records.JournalIDPrefix)
	if err != nil {
		return statusError(err), err
	}
	if ledgerSeq > counters.Journal {
		log.Info().Int64("job_counter", counters.Journal).Int64("ledger_seq", ledgerSeq).
			Msg("Seeding journal counter from ledger")
		counters.Journal = ledgerSeq
	}

	jState, eState, tState := newTabState(), newTabState(), newTabState()
	for _, l := range journals {
		jState.observe(l.No, l.JournalNo, l.State, l.Row)
	}
	for _, r := range expenses {
		eState.observe(r.No, r.ExpenseNo, r.State, r.Row)
	}
	for _, r := range transfers {
		tState.observe(r.No, r.TransferNo, r.State, r.Row)
	}

	res, err := pipeline.NewTransformer(dimensions.NewMatcher(sets)).Run(ctx, pipeline.Input{
		Country:  country,
		Period:   period,
		Cursor:   job.LastProcessedRow,
		Counters: counters,
		Rows:     raw,
		Retained: pipeline.RetainedIDs{
			Journal:  jState.retained,
			Expense:  eState.retained,
			Transfer: tState.retained,
		},
		RetryNos: mergeNos(jState.retry, eState.retry, tState.retry),
		SkipNos:  mergeNos(jState.skip, eState.skip, tState.skip),
	})
	if err != nil {
		return statusError(err), err
	}

	// Rebuilt retry records land on the rows of their previous attempt;
	// everything else appends.
	for i := range res.Journals {
		res.Journals[i].Row = jState.slots.take(res.Journals[i].No)
	}
	for i := range res.Expenses {
		res.Expenses[i].Row = eState.slots.take(res.Expenses[i].No)
	}
	for i := range res.Transfers {
		res.Transfers[i].Row = tState.slots.take(res.Transfers[i].No)
	}

	writer := newTabWriter(c.sheets, job.TransformFile)
	if err := writer.WriteJournalLines(ctx, res.Journals); err != nil {
		return statusError(err), err
	}
	if err := writer.WriteExpenses(ctx, res.Expenses); err != nil {
		return statusError(err), err
	}
	if err := writer.WriteTransfers(ctx, res.Transfers); err != nil {
		return statusError(err), err
	}

	job.LastProcessedRow = res.Cursor
	job.LastJournalNo = res.Counters.Journal
	job.LastExpenseNo = res.Counters.Expense
	job.LastTransferNo = res.Counters.Transfer

	switch {
	case res.Outcome == pipeline.OutcomeEmpty:
		return StatusDoneEmpty, nil
	case res.Outcome == pipeline.OutcomeNoData:
		return StatusDoneNoData, nil
	case res.Errors > 0:
		return fmt.Sprintf("ERROR (%d rows)", res.Errors), nil
	default:
		return StatusDone, nil
	}
}

// RunSync runs the sync stage for one job.
func (c *Controller) RunSync(ctx context.Context, cl Client, job *Job) error {
	key := jobKey(cl, job)
	if !c.acquire(key) {
		return ErrJobBusy
	}
	defer c.release(key)

	store := NewJobStore(c.sheets, cl.SpreadsheetID, c.controlTab)
	if err := store.ClaimSync(ctx, job); err != nil {
		return err
	}

	status, runErr := c.sync(ctx, cl, job)
	if err := store.FinishSync(ctx, job, status); err != nil {
		if runErr != nil {
			return fmt.Errorf("%w (writing status also failed: %v)", runErr, err)
		}
		return err
	}
	log := logger.FromContext(ctx)
	log.Info().Str("status", status).Msg("Sync stage finished")
	return runErr
}

func (c *Controller) sync(ctx context.Context, cl Client, job *Job) (string, error) {
	period, err := job.Period()
	if err != nil {
		err = fmt.Errorf("control: job row %d: %w", job.Row, err)
		return statusError(err), err
	}
	if job.TransformFile == "" {
		err := fmt.Errorf("control: job row %d: transform file is required", job.Row)
		return statusError(err), err
	}

	journals, expenses, transfers, err := c.loadFamilies(ctx, job.TransformFile)
	if err != nil {
		return statusError(err), err
	}

	ledger, err := c.ledgers(ctx, cl)
	if err != nil {
		return statusError(err), err
	}
	sets, err := ledger.DimensionSets(ctx)
	if err != nil {
		return statusError(err), err
	}

	engine := qbosync.NewEngine(ledger, newTabWriter(c.sheets, job.TransformFile), dimensions.NewMatcher(sets), qbosync.Config{
		BatchSize: c.batchSize,
		DryRun:    c.dryRun,
	})
	res, err := engine.Run(ctx, qbosync.Input{
		Period:    period,
		Journals:  journals,
		Expenses:  expenses,
		Transfers: transfers,
	})
	if err != nil {
		return statusError(err), err
	}

	job.JournalStatus = res.Journal.Status()
	job.ExpenseStatus = res.Expense.Status()
	job.TransferStatus = res.Transfer.Status()
	if res.Partial() {
		return StatusPartial, nil
	}
	return StatusDone, nil
}

// RunReconcile runs the reconcile stage for one job.
func (c *Controller) RunReconcile(ctx context.Context, cl Client, job *Job) error {
	key := jobKey(cl, job)
	if !c.acquire(key) {
		return ErrJobBusy
	}
	defer c.release(key)

	store := NewJobStore(c.sheets, cl.SpreadsheetID, c.controlTab)
	if err := store.ClaimReconcile(ctx, job); err != nil {
		return err
	}

	status, runErr := c.reconcileJob(ctx, cl, job)
	if err := store.FinishReconcile(ctx, job, status); err != nil {
		if runErr != nil {
			return fmt.Errorf("%w (writing status also failed: %v)", runErr, err)
		}
		return err
	}
	log := logger.FromContext(ctx)
	log.Info().Str("status", status).Msg("Reconcile stage finished")
	return runErr
}

func (c *Controller) reconcileJob(ctx context.Context, cl Client, job *Job) (string, error) {
	if job.SourceFile == "" || job.TransformFile == "" || job.TabName == "" || job.Month == "" {
		err := fmt.Errorf("%w: job row %d needs source file, transform file, tab name and month", reconcile.ErrMissingInfo, job.Row)
		return StatusMissingInfo, err
	}
	period, err := job.Period()
	if err != nil {
		return StatusMissingInfo, fmt.Errorf("%w: %v", reconcile.ErrMissingInfo, err)
	}
	exists, err := c.sheets.FileExists(ctx, job.TransformFile)
	if err != nil {
		return statusError(err), err
	}
	if !exists {
		err := fmt.Errorf("%w: transform workbook %s not found", reconcile.ErrMissingInfo, job.TransformFile)
		return StatusMissingInfo, err
	}

	rawTable, err := c.sheets.ReadTable(ctx, job.SourceFile, job.TabName)
	if err != nil {
		return statusError(err), err
	}
	raw, err := records.ParseRawTable(rawTable)
	if err != nil {
		return statusError(err), err
	}

	journals, expenses, transfers, err := c.loadFamilies(ctx, job.TransformFile)
	if err != nil {
		return statusError(err), err
	}

	ledger, err := c.ledgers(ctx, cl)
	if err != nil {
		return statusError(err), err
	}
	sets, err := ledger.DimensionSets(ctx)
	if err != nil {
		return statusError(err), err
	}

	engine := reconcile.NewEngine(ledger, newTabWriter(c.sheets, job.TransformFile), dimensions.NewMatcher(sets))
	res, err := engine.Run(ctx, reconcile.Input{
		Period:    period,
		Raw:       raw,
		Journals:  journals,
		Expenses:  expenses,
		Transfers: transfers,
	})
	if err != nil {
		if errors.Is(err, reconcile.ErrMissingInfo) {
			return StatusMissingInfo, err
		}
		return statusError(err), err
	}
	return res.Status(), nil
}

// loadFamilies creates missing output tabs and reads all three back.
func (c *Controller) loadFamilies(ctx context.Context, spreadsheetID string) ([]records.JournalLine, []records.ExpenseRecord, []records.TransferRecord, error) {
	if _, err := c.sheets.EnsureTab(ctx, spreadsheetID, TabJournal, headerValues(records.JournalHeader)); err != nil {
		return nil, nil, nil, err
	}
	if _, err := c.sheets.EnsureTab(ctx, spreadsheetID, TabExpense, headerValues(records.ExpenseHeader)); err != nil {
		return nil, nil, nil, err
	}
	if _, err := c.sheets.EnsureTab(ctx, spreadsheetID, TabTransfer, headerValues(records.TransferHeader)); err != nil {
		return nil, nil, nil, err
	}

	jt, err := c.sheets.ReadTable(ctx, spreadsheetID, TabJournal)
	if err != nil {
		return nil, nil, nil, err
	}
	journals, err := records.ParseJournalTable(jt)
	if err != nil {
		return nil, nil, nil, err
	}
	et, err := c.sheets.ReadTable(ctx, spreadsheetID, TabExpense)
	if err != nil {
		return nil, nil, nil, err
	}
	expenses, err := records.ParseExpenseTable(et)
	if err != nil {
		return nil, nil, nil, err
	}
	tt, err := c.sheets.ReadTable(ctx, spreadsheetID, TabTransfer)
	if err != nil {
		return nil, nil, nil, err
	}
	transfers, err := records.ParseTransferTable(tt)
	if err != nil {
		return nil, nil, nil, err
	}
	return journals, expenses, transfers, nil
}

// statusError renders an aborting error for the job's status cell. Auth and
// rate-limit failures get stable, actionable messages; anything else is
// written verbatim.
func statusError(err error) string {
	switch {
	case errors.Is(err, qbo.ErrAuthExpired):
		return "ERROR: QBO authorization expired, reconnect the company"
	case errors.Is(err, qbo.ErrRateLimited):
		return "ERROR: QBO rate limited, retry later"
	default:
		return "ERROR: " + err.Error()
	}
}

func jobKey(cl Client, job *Job) string {
	return fmt.Sprintf("%s#%d", cl.SpreadsheetID, job.Row)
}

func (c *Controller) acquire(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running[key] {
		return false
	}
	c.running[key] = true
	return true
}

func (c *Controller) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, key)
}

func mergeNos(sets ...map[int64]bool) map[int64]bool {
	out := make(map[int64]bool)
	for _, s := range sets {
		for no := range s {
			out[no] = true
		}
	}
	return out
}
