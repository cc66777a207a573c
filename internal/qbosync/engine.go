package qbosync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kzoteam/qbo-bridge/internal/dimensions"
	"github.com/kzoteam/qbo-bridge/internal/logger"
	"github.com/kzoteam/qbo-bridge/internal/qbo"
	"github.com/kzoteam/qbo-bridge/internal/records"
)

const defaultBatchSize = 50

// LedgerService is the slice of the ledger client the engine needs.
// *qbo.Client implements it.
type LedgerService interface {
	QueryJournalEntries(ctx context.Context, where string) ([]qbo.JournalEntry, error)
	QueryPurchases(ctx context.Context, where string) ([]qbo.Purchase, error)
	QueryTransfers(ctx context.Context, where string) ([]qbo.Transfer, error)
	CreateJournalEntry(ctx context.Context, je *qbo.JournalEntry) (*qbo.JournalEntry, error)
	CreatePurchase(ctx context.Context, p *qbo.Purchase) (*qbo.Purchase, error)
	CreateTransfer(ctx context.Context, t *qbo.Transfer) (*qbo.Transfer, error)
}

// RecordWriter persists updated records back to their tabs. Implementations
// update by each record's sheet row.
type RecordWriter interface {
	WriteJournalLines(ctx context.Context, lines []records.JournalLine) error
	WriteExpenses(ctx context.Context, recs []records.ExpenseRecord) error
	WriteTransfers(ctx context.Context, recs []records.TransferRecord) error
}

// Resolver resolves free-text dimension names. The same matcher instance
// the transformer used must be passed here so a name that transformed
// cleanly resolves to the same ID when posting.
type Resolver interface {
	Resolve(kind dimensions.Kind, name string) (dimensions.Match, bool)
}

// Input is one sync run: the full output tabs of a job. The engine selects
// the pending records itself.
type Input struct {
	Period    records.Period
	Journals  []records.JournalLine
	Expenses  []records.ExpenseRecord
	Transfers []records.TransferRecord
}

// FamilyOutcome tallies one record family. Journal counts are per posted
// transaction (group), expense and transfer counts per record.
type FamilyOutcome struct {
	Posted  int
	Skipped int
	Failed  int
}

// Status renders the family's job-row column.
func (f FamilyOutcome) Status() string {
	if f.Posted+f.Skipped+f.Failed == 0 {
		return "NO DATA"
	}
	if f.Failed > 0 {
		return fmt.Sprintf("PARTIAL ERROR (%d posted, %d skipped, %d failed)", f.Posted, f.Skipped, f.Failed)
	}
	return fmt.Sprintf("DONE (%d posted, %d skipped)", f.Posted, f.Skipped)
}

// Result is the outcome of one sync run across all three families.
type Result struct {
	Journal  FamilyOutcome
	Expense  FamilyOutcome
	Transfer FamilyOutcome
}

// Partial reports whether any row failed, which maps to the PARTIAL ERROR
// job status.
func (r *Result) Partial() bool {
	return r.Journal.Failed > 0 || r.Expense.Failed > 0 || r.Transfer.Failed > 0
}

// Config tunes one engine instance.
type Config struct {
	// BatchSize bounds write-back round-trips; defaults to 50.
	BatchSize int
	// DryRun posts nothing and writes nothing back, only reports what
	// would happen.
	DryRun bool
}

// Engine pushes pending records to the ledger exactly once per generated
// ID. Duplicate detection runs against the ledger's natural keys, so a
// crash between posting and write-back repairs itself on the next run.
type Engine struct {
	ledger    LedgerService
	writer    RecordWriter
	resolver  Resolver
	batchSize int
	dryRun    bool
}

func NewEngine(ledger LedgerService, writer RecordWriter, resolver Resolver, cfg Config) *Engine {
	size := cfg.BatchSize
	if size <= 0 {
		size = defaultBatchSize
	}
	return &Engine{
		ledger:    ledger,
		writer:    writer,
		resolver:  resolver,
		batchSize: size,
		dryRun:    cfg.DryRun,
	}
}

func (e *Engine) Run(ctx context.Context, in Input) (*Result, error) {
	if in.Period.IsZero() {
		return nil, fmt.Errorf("sync: target period is not set")
	}
	res := &Result{}
	if err := e.syncJournals(ctx, in, &res.Journal); err != nil {
		return res, err
	}
	if err := e.syncExpenses(ctx, in, &res.Expense); err != nil {
		return res, err
	}
	if err := e.syncTransfers(ctx, in, &res.Transfer); err != nil {
		return res, err
	}
	log := logger.FromContext(ctx)
	log.Info().
		Str("journal", res.Journal.Status()).
		Str("expense", res.Expense.Status()).
		Str("transfer", res.Transfer.Status()).
		Bool("dry_run", e.dryRun).
		Msg("Sync complete")
	return res, nil
}

// fatal reports errors that abort the whole run instead of being recorded
// on the row: expired credentials and exhausted rate limits.
func fatal(err error) bool {
	return errors.Is(err, qbo.ErrAuthExpired) || errors.Is(err, qbo.ErrRateLimited)
}

func (e *Engine) syncJournals(ctx context.Context, in Input, out *FamilyOutcome) error {
	log := logger.FromContext(ctx)

	type group struct {
		id    string
		lines []records.JournalLine
	}
	order, byID := records.GroupJournalLines(in.Journals)
	var cands []group
	for _, id := range order {
		if id == "" {
			continue
		}
		lines := byID[id]
		pending, held := 0, 0
		for _, l := range lines {
			if l.State == records.StatePending {
				pending++
			} else {
				held++
			}
		}
		if pending == 0 {
			continue
		}
		// A group posts as one transaction, so it only goes when every
		// line is ready.
		if held > 0 {
			log.Info().Str("journal_no", id).Msg("Journal group has non-ready lines, holding")
			continue
		}
		cands = append(cands, group{id: id, lines: lines})
	}
	if len(cands) == 0 {
		return nil
	}

	existing, err := e.ledger.QueryJournalEntries(ctx, qbo.TxnDateRange(in.Period.Start(), in.Period.End()))
	if err != nil {
		return fmt.Errorf("sync journals: %w", err)
	}
	byDoc := make(map[string]qbo.JournalEntry, len(existing))
	for _, je := range existing {
		if je.DocNumber != "" {
			byDoc[je.DocNumber] = je
		}
	}

	fl := &flusher[records.JournalLine]{size: e.batchSize, skip: e.dryRun, write: e.writer.WriteJournalLines}
	for _, c := range cands {
		if prior, ok := byDoc[c.id]; ok {
			for i := range c.lines {
				c.lines[i].State = records.StateSkipped
				c.lines[i].Remarks = records.RemarkSkipped(prior.ID)
				c.lines[i].QBOID = prior.ID
				c.lines[i].QBOLink = qbo.DeepLink(qbo.EntityJournalEntry, prior.ID)
			}
			out.Skipped++
			log.Info().Str("journal_no", c.id).Str("qbo_id", prior.ID).Msg("Journal entry already in ledger, skipping")
			if err := fl.add(ctx, c.lines...); err != nil {
				return err
			}
			continue
		}

		je, remark := e.buildJournalEntry(c.id, c.lines)
		if remark != "" {
			markLines(c.lines, remark)
			out.Failed++
			if err := fl.add(ctx, c.lines...); err != nil {
				return err
			}
			continue
		}
		if e.dryRun {
			log.Info().Str("journal_no", c.id).Int("lines", len(je.Line)).Msg("Dry run: would post journal entry")
			out.Posted++
			continue
		}

		created, err := e.ledger.CreateJournalEntry(ctx, je)
		if err != nil {
			if fatal(err) {
				return fmt.Errorf("sync journals: %w", err)
			}
			log.Warn().Err(err).Str("journal_no", c.id).Msg("Posting journal entry failed")
			markLines(c.lines, records.RemarkError(err.Error()))
			out.Failed++
			if err := fl.add(ctx, c.lines...); err != nil {
				return err
			}
			continue
		}
		for i := range c.lines {
			c.lines[i].State = records.StateSynced
			c.lines[i].Remarks = records.RemarkSynced
			c.lines[i].QBOID = created.ID
			c.lines[i].QBOLink = qbo.DeepLink(qbo.EntityJournalEntry, created.ID)
		}
		out.Posted++
		if err := fl.add(ctx, c.lines...); err != nil {
			return err
		}
	}
	return fl.flush(ctx)
}

func (e *Engine) buildJournalEntry(id string, lines []records.JournalLine) (*qbo.JournalEntry, string) {
	je := &qbo.JournalEntry{
		DocNumber: id,
		TxnDate:   records.FormatDate(lines[0].Date),
	}
	for _, l := range lines {
		acct, ok := e.resolver.Resolve(dimensions.KindAccount, l.Account)
		if !ok {
			return nil, records.RemarkNotFound(l.Account)
		}
		detail := &qbo.JournalEntryLineDetail{
			PostingType: qbo.PostingDebit,
			AccountRef:  &qbo.Ref{Value: acct.ID, Name: acct.Name},
		}
		if l.Amount.IsNegative() {
			detail.PostingType = qbo.PostingCredit
		}
		if l.Location != "" {
			m, ok := e.resolver.Resolve(dimensions.KindLocation, l.Location)
			if !ok {
				return nil, records.RemarkNotFound(l.Location)
			}
			detail.DepartmentRef = &qbo.Ref{Value: m.ID, Name: m.Name}
		}
		if l.Class != "" {
			m, ok := e.resolver.Resolve(dimensions.KindClass, l.Class)
			if !ok {
				return nil, records.RemarkNotFound(l.Class)
			}
			detail.ClassRef = &qbo.Ref{Value: m.ID, Name: m.Name}
		}
		je.Line = append(je.Line, qbo.Line{
			Description:            l.Description,
			Amount:                 amountFloat(l.Amount),
			DetailType:             qbo.DetailJournalLine,
			JournalEntryLineDetail: detail,
		})
	}
	return je, ""
}

func (e *Engine) syncExpenses(ctx context.Context, in Input, out *FamilyOutcome) error {
	log := logger.FromContext(ctx)

	var cands []records.ExpenseRecord
	for _, rec := range in.Expenses {
		if rec.State == records.StatePending {
			cands = append(cands, rec)
		}
	}
	if len(cands) == 0 {
		return nil
	}

	existing, err := e.ledger.QueryPurchases(ctx, qbo.TxnDateRange(in.Period.Start(), in.Period.End()))
	if err != nil {
		return fmt.Errorf("sync expenses: %w", err)
	}
	byDoc := make(map[string]qbo.Purchase, len(existing))
	for _, p := range existing {
		if p.DocNumber != "" {
			byDoc[p.DocNumber] = p
		}
	}

	fl := &flusher[records.ExpenseRecord]{size: e.batchSize, skip: e.dryRun, write: e.writer.WriteExpenses}
	for _, rec := range cands {
		if prior, ok := byDoc[rec.ExpenseNo]; ok {
			rec.State = records.StateSkipped
			rec.Remarks = records.RemarkSkipped(prior.ID)
			rec.QBOID = prior.ID
			rec.QBOLink = qbo.DeepLink(qbo.EntityPurchase, prior.ID)
			out.Skipped++
			log.Info().Str("expense_no", rec.ExpenseNo).Str("qbo_id", prior.ID).Msg("Expense already in ledger, skipping")
			if err := fl.add(ctx, rec); err != nil {
				return err
			}
			continue
		}

		purchase, remark := e.buildPurchase(rec)
		if remark != "" {
			rec.State = records.StateRetry
			rec.Remarks = remark
			out.Failed++
			if err := fl.add(ctx, rec); err != nil {
				return err
			}
			continue
		}
		if e.dryRun {
			log.Info().Str("expense_no", rec.ExpenseNo).Msg("Dry run: would post expense")
			out.Posted++
			continue
		}

		created, err := e.ledger.CreatePurchase(ctx, purchase)
		if err != nil {
			if fatal(err) {
				return fmt.Errorf("sync expenses: %w", err)
			}
			log.Warn().Err(err).Str("expense_no", rec.ExpenseNo).Msg("Posting expense failed")
			rec.State = records.StateRetry
			rec.Remarks = records.RemarkError(err.Error())
			out.Failed++
			if err := fl.add(ctx, rec); err != nil {
				return err
			}
			continue
		}
		rec.State = records.StateSynced
		rec.Remarks = records.RemarkSynced
		rec.QBOID = created.ID
		rec.QBOLink = qbo.DeepLink(qbo.EntityPurchase, created.ID)
		out.Posted++
		if err := fl.add(ctx, rec); err != nil {
			return err
		}
	}
	return fl.flush(ctx)
}

func (e *Engine) buildPurchase(rec records.ExpenseRecord) (*qbo.Purchase, string) {
	payAcct, ok := e.resolver.Resolve(dimensions.KindAccount, rec.PaymentAccount)
	if !ok {
		return nil, records.RemarkNotFound(rec.PaymentAccount)
	}
	expAcct, ok := e.resolver.Resolve(dimensions.KindAccount, rec.ExpenseAccount)
	if !ok {
		return nil, records.RemarkNotFound(rec.ExpenseAccount)
	}

	p := &qbo.Purchase{
		DocNumber:   rec.ExpenseNo,
		TxnDate:     records.FormatDate(rec.Date),
		PaymentType: qbo.PaymentCash,
		AccountRef:  &qbo.Ref{Value: payAcct.ID, Name: payAcct.Name},
		TotalAmt:    amountFloat(rec.Amount),
	}
	if rec.PaymentMethod != "" {
		m, ok := e.resolver.Resolve(dimensions.KindPaymentMethod, rec.PaymentMethod)
		if !ok {
			return nil, records.RemarkNotFound(rec.PaymentMethod)
		}
		p.PaymentType = paymentType(m.Name)
	}
	if rec.Payee != "" {
		m, ok := e.resolver.Resolve(dimensions.KindVendor, rec.Payee)
		if !ok {
			return nil, records.RemarkNotFound(rec.Payee)
		}
		p.EntityRef = &qbo.Ref{Value: m.ID, Name: m.Name}
	}
	if rec.Location != "" {
		m, ok := e.resolver.Resolve(dimensions.KindLocation, rec.Location)
		if !ok {
			return nil, records.RemarkNotFound(rec.Location)
		}
		p.DepartmentRef = &qbo.Ref{Value: m.ID, Name: m.Name}
	}

	detail := &qbo.AccountBasedExpenseLineDetail{
		AccountRef: &qbo.Ref{Value: expAcct.ID, Name: expAcct.Name},
	}
	if rec.Class != "" {
		m, ok := e.resolver.Resolve(dimensions.KindClass, rec.Class)
		if !ok {
			return nil, records.RemarkNotFound(rec.Class)
		}
		detail.ClassRef = &qbo.Ref{Value: m.ID, Name: m.Name}
	}
	p.Line = []qbo.Line{{
		Description:                   rec.Description,
		Amount:                        amountFloat(rec.Amount),
		DetailType:                    qbo.DetailExpenseLine,
		AccountBasedExpenseLineDetail: detail,
	}}
	return p, ""
}

func (e *Engine) syncTransfers(ctx context.Context, in Input, out *FamilyOutcome) error {
	log := logger.FromContext(ctx)

	var cands []records.TransferRecord
	for _, rec := range in.Transfers {
		if rec.State == records.StatePending {
			cands = append(cands, rec)
		}
	}
	if len(cands) == 0 {
		return nil
	}

	existing, err := e.ledger.QueryTransfers(ctx, qbo.TxnDateRange(in.Period.Start(), in.Period.End()))
	if err != nil {
		return fmt.Errorf("sync transfers: %w", err)
	}

	fl := &flusher[records.TransferRecord]{size: e.batchSize, skip: e.dryRun, write: e.writer.WriteTransfers}
	for _, rec := range cands {
		if prior, ok := findTransferByRef(existing, rec.TransferNo); ok {
			rec.State = records.StateSkipped
			rec.Remarks = records.RemarkSkipped(prior.ID)
			rec.QBOID = prior.ID
			rec.QBOLink = qbo.DeepLink(qbo.EntityTransfer, prior.ID)
			out.Skipped++
			log.Info().Str("transfer_no", rec.TransferNo).Str("qbo_id", prior.ID).Msg("Transfer already in ledger, skipping")
			if err := fl.add(ctx, rec); err != nil {
				return err
			}
			continue
		}

		transfer, remark := e.buildTransfer(rec)
		if remark != "" {
			rec.State = records.StateRetry
			rec.Remarks = remark
			out.Failed++
			if err := fl.add(ctx, rec); err != nil {
				return err
			}
			continue
		}
		if e.dryRun {
			log.Info().Str("transfer_no", rec.TransferNo).Msg("Dry run: would post transfer")
			out.Posted++
			continue
		}

		created, err := e.ledger.CreateTransfer(ctx, transfer)
		if err != nil {
			if fatal(err) {
				return fmt.Errorf("sync transfers: %w", err)
			}
			log.Warn().Err(err).Str("transfer_no", rec.TransferNo).Msg("Posting transfer failed")
			rec.State = records.StateRetry
			rec.Remarks = records.RemarkError(err.Error())
			out.Failed++
			if err := fl.add(ctx, rec); err != nil {
				return err
			}
			continue
		}
		rec.State = records.StateSynced
		rec.Remarks = records.RemarkSynced
		rec.QBOID = created.ID
		rec.QBOLink = qbo.DeepLink(qbo.EntityTransfer, created.ID)
		out.Posted++
		if err := fl.add(ctx, rec); err != nil {
			return err
		}
	}
	return fl.flush(ctx)
}

func (e *Engine) buildTransfer(rec records.TransferRecord) (*qbo.Transfer, string) {
	from, ok := e.resolver.Resolve(dimensions.KindAccount, rec.FromAccount)
	if !ok {
		return nil, records.RemarkNotFound(rec.FromAccount)
	}
	to, ok := e.resolver.Resolve(dimensions.KindAccount, rec.ToAccount)
	if !ok {
		return nil, records.RemarkNotFound(rec.ToAccount)
	}
	if from.ID == to.ID {
		return nil, records.RemarkError("From and To accounts are identical")
	}
	return &qbo.Transfer{
		TxnDate:        records.FormatDate(rec.Date),
		Amount:         amountFloat(rec.Amount),
		FromAccountRef: &qbo.Ref{Value: from.ID, Name: from.Name},
		ToAccountRef:   &qbo.Ref{Value: to.ID, Name: to.Name},
		PrivateNote:    transferNote(rec),
	}, ""
}

// transferNote builds the private note carrying the natural key.
func transferNote(rec records.TransferRecord) string {
	if rec.Description == "" {
		return rec.TransferNo
	}
	return rec.TransferNo + ": " + rec.Description
}

// findTransferByRef matches an existing transfer whose note carries the
// generated reference.
func findTransferByRef(existing []qbo.Transfer, ref string) (qbo.Transfer, bool) {
	for _, t := range existing {
		if qbo.NoteCarriesRef(t.PrivateNote, ref) {
			return t, true
		}
	}
	return qbo.Transfer{}, false
}

// paymentType maps payment-method text onto the ledger's payment type
// enum. Anything unrecognized posts as cash.
func paymentType(method string) string {
	m := strings.ToLower(method)
	switch {
	case strings.Contains(m, "credit"):
		return qbo.PaymentCreditCard
	case strings.Contains(m, "check") || strings.Contains(m, "cheque"):
		return qbo.PaymentCheck
	default:
		return qbo.PaymentCash
	}
}

func amountFloat(d decimal.Decimal) float64 {
	return d.Abs().Round(2).InexactFloat64()
}

func markLines(lines []records.JournalLine, remark string) {
	for i := range lines {
		lines[i].State = records.StateRetry
		lines[i].Remarks = remark
	}
}
