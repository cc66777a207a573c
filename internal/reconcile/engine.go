// Package reconcile verifies that the three record families, the raw input
// rows and the ledger still agree after syncing. It reads all three sides,
// writes a verdict into each record's match columns and never corrects
// anything: a discrepancy is a human decision.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kzoteam/qbo-bridge/internal/dimensions"
	"github.com/kzoteam/qbo-bridge/internal/logger"
	"github.com/kzoteam/qbo-bridge/internal/qbo"
	"github.com/kzoteam/qbo-bridge/internal/records"
)

// ErrMissingInfo marks a run that could not start because the job row lacks
// required fields. The controller maps it to the "ERROR: Missing Info"
// status.
var ErrMissingInfo = errors.New("reconcile: required job information is missing")

// Verdict cell values. Mismatches carry a reason after a colon.
const (
	VerdictMatched = "Matched"
	VerdictMissing = "Missing"
)

func verdictMismatch(detail string) string {
	return "Mismatch: " + detail
}

// LedgerService is the read-only slice of the ledger client the engine
// needs. *qbo.Client implements it.
type LedgerService interface {
	QueryJournalEntries(ctx context.Context, where string) ([]qbo.JournalEntry, error)
	QueryPurchases(ctx context.Context, where string) ([]qbo.Purchase, error)
	QueryTransfers(ctx context.Context, where string) ([]qbo.Transfer, error)
}

// RecordWriter persists the updated match columns back to the record tabs.
type RecordWriter interface {
	WriteJournalLines(ctx context.Context, lines []records.JournalLine) error
	WriteExpenses(ctx context.Context, recs []records.ExpenseRecord) error
	WriteTransfers(ctx context.Context, recs []records.TransferRecord) error
}

// Resolver resolves record dimension names to ledger IDs. It must be the
// same matcher the sync engine used so a name that posted cleanly resolves
// to the same ID here.
type Resolver interface {
	Resolve(kind dimensions.Kind, name string) (dimensions.Match, bool)
}

// Input is one reconcile run: the raw rows and the full output tabs of a
// job, all already loaded.
type Input struct {
	Period    records.Period
	Raw       []records.RawRecord
	Journals  []records.JournalLine
	Expenses  []records.ExpenseRecord
	Transfers []records.TransferRecord
}

// Tally counts verdicts for one comparison side.
type Tally struct {
	Matched  int
	Mismatch int
	Missing  int
}

func (t Tally) issues() bool {
	return t.Mismatch+t.Missing > 0
}

func (t Tally) String() string {
	return fmt.Sprintf("%d matched, %d mismatch, %d missing", t.Matched, t.Mismatch, t.Missing)
}

// FamilyReport carries both comparison tallies for one record family.
// Ledger counts journal groups (one posted transaction each); Source counts
// individual lines.
type FamilyReport struct {
	Ledger Tally
	Source Tally
}

// Result is the outcome of one reconcile run.
type Result struct {
	Journal  FamilyReport
	Expense  FamilyReport
	Transfer FamilyReport
}

// IssuesFound reports whether any record came back Mismatch or Missing on
// either side.
func (r *Result) IssuesFound() bool {
	for _, f := range []FamilyReport{r.Journal, r.Expense, r.Transfer} {
		if f.Ledger.issues() || f.Source.issues() {
			return true
		}
	}
	return false
}

// Status renders the job-row reconcile status.
func (r *Result) Status() string {
	if r.IssuesFound() {
		return "DONE (Issues Found)"
	}
	return "DONE"
}

// Engine runs the two comparisons of one job. Records that have not reached
// the ledger yet (pending or error states) are only checked against the raw
// source; their ledger match column is left untouched.
type Engine struct {
	ledger   LedgerService
	writer   RecordWriter
	resolver Resolver
}

func NewEngine(ledger LedgerService, writer RecordWriter, resolver Resolver) *Engine {
	return &Engine{ledger: ledger, writer: writer, resolver: resolver}
}

func (e *Engine) Run(ctx context.Context, in Input) (*Result, error) {
	if in.Period.IsZero() {
		return nil, fmt.Errorf("%w: target period is not set", ErrMissingInfo)
	}
	log := logger.FromContext(ctx)
	res := &Result{}

	rawByNo := make(map[int64]records.RawRecord, len(in.Raw))
	for _, r := range in.Raw {
		rawByNo[r.No] = r
	}

	if err := e.reconcileJournals(ctx, in, rawByNo, &res.Journal); err != nil {
		return res, err
	}
	if err := e.reconcileExpenses(ctx, in, rawByNo, &res.Expense); err != nil {
		return res, err
	}
	if err := e.reconcileTransfers(ctx, in, rawByNo, &res.Transfer); err != nil {
		return res, err
	}

	log.Info().
		Str("journal_ledger", res.Journal.Ledger.String()).
		Str("journal_source", res.Journal.Source.String()).
		Str("expense_ledger", res.Expense.Ledger.String()).
		Str("expense_source", res.Expense.Source.String()).
		Str("transfer_ledger", res.Transfer.Ledger.String()).
		Str("transfer_source", res.Transfer.Source.String()).
		Bool("issues", res.IssuesFound()).
		Msg("Reconcile complete")
	return res, nil
}

// inLedger reports whether a record's state claims it exists in the ledger.
func inLedger(s records.SyncState) bool {
	return s == records.StateSynced || s == records.StateSkipped
}

func (e *Engine) reconcileJournals(ctx context.Context, in Input, rawByNo map[int64]records.RawRecord, rep *FamilyReport) error {
	if len(in.Journals) == 0 {
		return nil
	}

	existing, err := e.ledger.QueryJournalEntries(ctx, qbo.TxnDateRange(in.Period.Start(), in.Period.End()))
	if err != nil {
		return fmt.Errorf("reconcile journals: %w", err)
	}
	byID := make(map[string]qbo.JournalEntry, len(existing))
	byDoc := make(map[string]qbo.JournalEntry, len(existing))
	for _, je := range existing {
		byID[je.ID] = je
		if je.DocNumber != "" {
			byDoc[je.DocNumber] = je
		}
	}

	lines := make([]records.JournalLine, len(in.Journals))
	copy(lines, in.Journals)

	order, groups := records.GroupJournalLines(lines)
	byIndex := make(map[string][]int, len(order))
	for i := range lines {
		byIndex[lines[i].JournalNo] = append(byIndex[lines[i].JournalNo], i)
	}

	for _, id := range order {
		group := groups[id]
		if id == "" || !groupInLedger(group) {
			continue
		}
		je, found := byID[group[0].QBOID]
		if !found || group[0].QBOID == "" {
			je, found = byDoc[id]
		}

		verdict := VerdictMissing
		if found {
			if detail := e.compareJournalGroup(je, group); detail == "" {
				verdict = VerdictMatched
				rep.Ledger.Matched++
			} else {
				verdict = verdictMismatch(detail)
				rep.Ledger.Mismatch++
			}
		} else {
			rep.Ledger.Missing++
		}
		for _, i := range byIndex[id] {
			lines[i].LedgerMatch = verdict
		}
	}

	for i := range lines {
		lines[i].SourceMatch = sourceVerdict(rawByNo, lines[i].No, lines[i].Amount, &rep.Source)
	}

	return e.writer.WriteJournalLines(ctx, lines)
}

// groupInLedger reports whether every line of the group claims ledger
// presence. Groups still pending or held for errors are not expected there.
func groupInLedger(group []records.JournalLine) bool {
	for _, l := range group {
		if !inLedger(l.State) {
			return false
		}
	}
	return true
}

// compareJournalGroup checks one posted transaction line by line. It
// returns "" on a full match, or a description of the first difference.
func (e *Engine) compareJournalGroup(je qbo.JournalEntry, group []records.JournalLine) string {
	if want := records.FormatDate(group[0].Date); je.TxnDate != want {
		return fmt.Sprintf("date %s != %s", want, je.TxnDate)
	}
	if len(je.Line) != len(group) {
		return fmt.Sprintf("line count %d != %d", len(group), len(je.Line))
	}

	used := make([]bool, len(je.Line))
	for _, l := range group {
		acct, ok := e.resolver.Resolve(dimensions.KindAccount, l.Account)
		if !ok {
			return fmt.Sprintf("%s not found", l.Account)
		}
		posting := qbo.PostingDebit
		if l.Amount.IsNegative() {
			posting = qbo.PostingCredit
		}
		amount := amountFloat(l.Amount)

		found := false
		for i, wire := range je.Line {
			if used[i] || wire.JournalEntryLineDetail == nil || wire.JournalEntryLineDetail.AccountRef == nil {
				continue
			}
			d := wire.JournalEntryLineDetail
			if d.AccountRef.Value == acct.ID && d.PostingType == posting && wire.Amount == amount {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return fmt.Sprintf("no ledger line %s %s %.2f", l.Account, posting, amount)
		}
	}
	return ""
}

func (e *Engine) reconcileExpenses(ctx context.Context, in Input, rawByNo map[int64]records.RawRecord, rep *FamilyReport) error {
	if len(in.Expenses) == 0 {
		return nil
	}

	existing, err := e.ledger.QueryPurchases(ctx, qbo.TxnDateRange(in.Period.Start(), in.Period.End()))
	if err != nil {
		return fmt.Errorf("reconcile expenses: %w", err)
	}
	byID := make(map[string]qbo.Purchase, len(existing))
	byDoc := make(map[string]qbo.Purchase, len(existing))
	for _, p := range existing {
		byID[p.ID] = p
		if p.DocNumber != "" {
			byDoc[p.DocNumber] = p
		}
	}

	recs := make([]records.ExpenseRecord, len(in.Expenses))
	copy(recs, in.Expenses)

	for i := range recs {
		rec := &recs[i]
		if inLedger(rec.State) {
			p, found := byID[rec.QBOID]
			if !found || rec.QBOID == "" {
				p, found = byDoc[rec.ExpenseNo]
			}
			switch {
			case !found:
				rec.LedgerMatch = VerdictMissing
				rep.Ledger.Missing++
			default:
				if detail := e.compareExpense(p, *rec); detail == "" {
					rec.LedgerMatch = VerdictMatched
					rep.Ledger.Matched++
				} else {
					rec.LedgerMatch = verdictMismatch(detail)
					rep.Ledger.Mismatch++
				}
			}
		}
		rec.SourceMatch = sourceVerdict(rawByNo, rec.No, rec.Amount, &rep.Source)
	}

	return e.writer.WriteExpenses(ctx, recs)
}

func (e *Engine) compareExpense(p qbo.Purchase, rec records.ExpenseRecord) string {
	if want := records.FormatDate(rec.Date); p.TxnDate != want {
		return fmt.Sprintf("date %s != %s", want, p.TxnDate)
	}
	if want := amountFloat(rec.Amount); p.TotalAmt != want {
		return fmt.Sprintf("amount %.2f != %.2f", want, p.TotalAmt)
	}
	pay, ok := e.resolver.Resolve(dimensions.KindAccount, rec.PaymentAccount)
	if !ok {
		return fmt.Sprintf("%s not found", rec.PaymentAccount)
	}
	if p.AccountRef == nil || p.AccountRef.Value != pay.ID {
		return fmt.Sprintf("payment account %s != ledger", rec.PaymentAccount)
	}
	if len(p.Line) > 0 {
		wire := p.Line[0]
		if wire.Description != rec.Description {
			return fmt.Sprintf("memo %q != %q", rec.Description, wire.Description)
		}
		exp, ok := e.resolver.Resolve(dimensions.KindAccount, rec.ExpenseAccount)
		if !ok {
			return fmt.Sprintf("%s not found", rec.ExpenseAccount)
		}
		d := wire.AccountBasedExpenseLineDetail
		if d == nil || d.AccountRef == nil || d.AccountRef.Value != exp.ID {
			return fmt.Sprintf("expense account %s != ledger", rec.ExpenseAccount)
		}
	}
	return ""
}

func (e *Engine) reconcileTransfers(ctx context.Context, in Input, rawByNo map[int64]records.RawRecord, rep *FamilyReport) error {
	if len(in.Transfers) == 0 {
		return nil
	}

	existing, err := e.ledger.QueryTransfers(ctx, qbo.TxnDateRange(in.Period.Start(), in.Period.End()))
	if err != nil {
		return fmt.Errorf("reconcile transfers: %w", err)
	}
	byID := make(map[string]qbo.Transfer, len(existing))
	for _, t := range existing {
		byID[t.ID] = t
	}

	recs := make([]records.TransferRecord, len(in.Transfers))
	copy(recs, in.Transfers)

	for i := range recs {
		rec := &recs[i]
		if inLedger(rec.State) {
			t, found := byID[rec.QBOID]
			if !found || rec.QBOID == "" {
				t, found = findTransferByRef(existing, rec.TransferNo)
			}
			switch {
			case !found:
				rec.LedgerMatch = VerdictMissing
				rep.Ledger.Missing++
			default:
				if detail := e.compareTransfer(t, *rec); detail == "" {
					rec.LedgerMatch = VerdictMatched
					rep.Ledger.Matched++
				} else {
					rec.LedgerMatch = verdictMismatch(detail)
					rep.Ledger.Mismatch++
				}
			}
		}
		rec.SourceMatch = sourceVerdict(rawByNo, rec.No, rec.Amount, &rep.Source)
	}

	return e.writer.WriteTransfers(ctx, recs)
}

func (e *Engine) compareTransfer(t qbo.Transfer, rec records.TransferRecord) string {
	if want := records.FormatDate(rec.Date); t.TxnDate != want {
		return fmt.Sprintf("date %s != %s", want, t.TxnDate)
	}
	if want := amountFloat(rec.Amount); t.Amount != want {
		return fmt.Sprintf("amount %.2f != %.2f", want, t.Amount)
	}
	from, ok := e.resolver.Resolve(dimensions.KindAccount, rec.FromAccount)
	if !ok {
		return fmt.Sprintf("%s not found", rec.FromAccount)
	}
	if t.FromAccountRef == nil || t.FromAccountRef.Value != from.ID {
		return fmt.Sprintf("from account %s != ledger", rec.FromAccount)
	}
	to, ok := e.resolver.Resolve(dimensions.KindAccount, rec.ToAccount)
	if !ok {
		return fmt.Sprintf("%s not found", rec.ToAccount)
	}
	if t.ToAccountRef == nil || t.ToAccountRef.Value != to.ID {
		return fmt.Sprintf("to account %s != ledger", rec.ToAccount)
	}
	return ""
}

func findTransferByRef(existing []qbo.Transfer, ref string) (qbo.Transfer, bool) {
	for _, t := range existing {
		if qbo.NoteCarriesRef(t.PrivateNote, ref) {
			return t, true
		}
	}
	return qbo.Transfer{}, false
}

// sourceTolerance absorbs the auto-balance adjustment: a transformed amount
// may differ from its raw row by up to the balancing tolerance and still
// trace back to it.
var sourceTolerance = decimal.New(50, -2)

// sourceVerdict traces one transformed amount back to its raw row by
// sequence number.
func sourceVerdict(rawByNo map[int64]records.RawRecord, no int64, amount decimal.Decimal, tally *Tally) string {
	raw, ok := rawByNo[no]
	if !ok {
		tally.Missing++
		return VerdictMissing
	}
	diff := amount.Abs().Sub(raw.Amount.Abs()).Abs()
	if diff.GreaterThan(sourceTolerance) {
		tally.Mismatch++
		return verdictMismatch(fmt.Sprintf("amount %s != raw %s",
			amount.Abs().StringFixed(2), raw.Amount.Abs().StringFixed(2)))
	}
	tally.Matched++
	return VerdictMatched
}

func amountFloat(d decimal.Decimal) float64 {
	return d.Abs().Round(2).InexactFloat64()
}
