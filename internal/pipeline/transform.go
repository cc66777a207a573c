package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kzoteam/qbo-bridge/internal/dimensions"
	"github.com/kzoteam/qbo-bridge/internal/logger"
	"github.com/kzoteam/qbo-bridge/internal/records"
)

// balanceTolerance is the largest absolute imbalance a journal group may
// carry and still be auto-corrected. Anything beyond it marks the whole
// group unbalanced.
var balanceTolerance = decimal.New(50, -2)

// Resolver resolves free-text dimension names against the ledger.
// *dimensions.Matcher implements it.
type Resolver interface {
	Resolve(kind dimensions.Kind, name string) (dimensions.Match, bool)
}

// Counters are the per-family ID sequences persisted on the job row. A
// counter only moves when a fresh ID is drawn; retried records keep the ID
// they already have.
type Counters struct {
	Journal  int64
	Expense  int64
	Transfer int64
}

// RetainedIDs maps raw sequence numbers to IDs assigned on earlier runs.
type RetainedIDs struct {
	Journal  map[int64]string
	Expense  map[int64]string
	Transfer map[int64]string
}

// Input is one transform run over a single job.
type Input struct {
	Country  string
	Period   records.Period
	Cursor   int64
	Counters Counters

	// Rows is the full raw tab in sheet order.
	Rows []records.RawRecord

	// Retained and RetryNos come from the existing output tabs: Retained
	// keeps IDs stable across reruns, RetryNos reselects source rows whose
	// records are tagged error-retryable.
	Retained RetainedIDs
	RetryNos map[int64]bool

	// SkipNos lists source rows whose records are already synced or
	// skipped; they are never reprocessed.
	SkipNos map[int64]bool
}

// Outcome classifies a run that completed without a run-level error.
type Outcome int

const (
	// OutcomeProcessed means candidate rows were transformed, possibly
	// with per-record errors.
	OutcomeProcessed Outcome = iota
	// OutcomeEmpty means the raw tab held no rows at all.
	OutcomeEmpty
	// OutcomeNoData means rows exist but none were selected for this
	// cursor and period.
	OutcomeNoData
)

// Result is everything the caller persists in one logical update: the three
// record families, the moved counters and cursor, and the rows that could
// not be routed to a family.
type Result struct {
	Journals  []records.JournalLine
	Expenses  []records.ExpenseRecord
	Transfers []records.TransferRecord
	Unrouted  []records.RawRecord

	Counters Counters
	Cursor   int64
	Outcome  Outcome

	// Errors counts records tagged error-retryable plus unrouted rows.
	Errors int
}

// Transformer converts raw rows into typed record families with stable
// generated IDs. It performs no I/O; the controller loads rows and persists
// the result.
type Transformer struct {
	resolver Resolver
}

func NewTransformer(resolver Resolver) *Transformer {
	return &Transformer{resolver: resolver}
}

func (t *Transformer) Run(ctx context.Context, in Input) (*Result, error) {
	if in.Period.IsZero() {
		return nil, fmt.Errorf("transform: target period is not set")
	}
	if in.Country == "" {
		return nil, fmt.Errorf("transform: country is not set")
	}
	log := logger.FromContext(ctx)

	res := &Result{Counters: in.Counters, Cursor: in.Cursor}
	if len(in.Rows) == 0 {
		res.Outcome = OutcomeEmpty
		return res, nil
	}

	cands, maxProcessed := selectRows(ctx, in)
	res.Cursor = maxProcessed
	if len(cands) == 0 {
		res.Outcome = OutcomeNoData
		return res, nil
	}

	var journalRows []records.RawRecord
	for _, r := range cands {
		switch classify(r.Method) {
		case famJournal:
			journalRows = append(journalRows, r)
		case famExpense:
			res.Expenses = append(res.Expenses, t.buildExpense(in, &res.Counters, r))
		case famTransfer:
			res.Transfers = append(res.Transfers, t.buildTransfer(in, &res.Counters, r))
		default:
			res.Unrouted = append(res.Unrouted, r)
		}
	}
	res.Journals = t.buildJournals(ctx, in, &res.Counters, journalRows)

	// Unrouted rows have no record to retry through, so the cursor stays
	// below the first of them; once the operator fixes the method cell the
	// row is selected again. Rows behind it reprocess idempotently through
	// their retained IDs.
	if len(res.Unrouted) > 0 {
		hold := res.Unrouted[0].No
		nos := make([]int64, 0, len(res.Unrouted))
		for _, r := range res.Unrouted {
			nos = append(nos, r.No)
			if r.No < hold {
				hold = r.No
			}
		}
		if hold-1 < res.Cursor {
			res.Cursor = hold - 1
		}
		if res.Cursor < in.Cursor {
			res.Cursor = in.Cursor
		}
		log.Warn().Ints64("rows", nos).Msg("Rows with unrecognized method held for rerun")
	}

	res.Errors = len(res.Unrouted)
	for _, l := range res.Journals {
		if l.State == records.StateRetry {
			res.Errors++
		}
	}
	for _, e := range res.Expenses {
		if e.State == records.StateRetry {
			res.Errors++
		}
	}
	for _, x := range res.Transfers {
		if x.State == records.StateRetry {
			res.Errors++
		}
	}

	log.Info().
		Int("journal_lines", len(res.Journals)).
		Int("expenses", len(res.Expenses)).
		Int("transfers", len(res.Transfers)).
		Int("unrouted", len(res.Unrouted)).
		Int("errors", res.Errors).
		Int64("cursor", res.Cursor).
		Msg("Transform complete")
	return res, nil
}

// selectRows picks the candidate rows: fresh rows past the cursor plus
// flagged retries, minus excluded, already-synced and out-of-period rows.
// The second return is the cursor position after this run, counting every
// fresh row a decision was made about.
func selectRows(ctx context.Context, in Input) ([]records.RawRecord, int64) {
	log := logger.FromContext(ctx)
	maxProcessed := in.Cursor
	cands := make([]records.RawRecord, 0, len(in.Rows))
	for _, r := range in.Rows {
		fresh := r.No > in.Cursor
		if !fresh && !in.RetryNos[r.No] {
			continue
		}
		advance := func() {
			if fresh && r.No > maxProcessed {
				maxProcessed = r.No
			}
		}
		if in.SkipNos[r.No] {
			advance()
			continue
		}
		if r.Excluded {
			advance()
			continue
		}
		if !r.Date.IsZero() && !in.Period.Contains(r.Date) {
			log.Debug().Int64("no", r.No).Time("date", r.Date).Msg("Row outside target period")
			advance()
			continue
		}
		advance()
		cands = append(cands, r)
	}
	return cands, maxProcessed
}

type family int

const (
	famNone family = iota
	famJournal
	famExpense
	famTransfer
)

// classify routes a raw row by its method keyword, case-insensitively.
// Journal wins over expense wins over transfer if a cell somehow carries
// more than one keyword.
func classify(method string) family {
	m := strings.ToLower(method)
	switch {
	case strings.Contains(m, "journal") || strings.Contains(m, "reclass"):
		return famJournal
	case strings.Contains(m, "expense"):
		return famExpense
	case strings.Contains(m, "transfer"):
		return famTransfer
	default:
		return famNone
	}
}

func (t *Transformer) buildExpense(in Input, c *Counters, r records.RawRecord) records.ExpenseRecord {
	rec := records.ExpenseRecord{
		No:             r.No,
		Date:           r.Date,
		PaymentAccount: firstNonEmpty(r.AccountFrom, r.CounterAccount),
		ExpenseAccount: r.Type,
		Amount:         r.Amount.Abs(),
		Description:    r.Description,
		Location:       r.Location,
		Class:          r.Class,
		Currency:       r.Currency,
		State:          records.StatePending,
		Remarks:        records.RemarkReady,
	}
	if id := in.Retained.Expense[r.No]; id != "" {
		rec.ExpenseNo = id
	} else {
		c.Expense++
		rec.ExpenseNo = records.ExpenseID(in.Country, in.Period, c.Expense)
	}

	remark := ""
	switch {
	case rec.Date.IsZero():
		remark = records.RemarkError("Date is missing")
	case rec.PaymentAccount == "":
		remark = records.RemarkError("Payment Account is missing")
	case rec.ExpenseAccount == "":
		remark = records.RemarkError("Expense Account is missing")
	case rec.Amount.IsZero():
		remark = records.RemarkError("Amount is zero")
	default:
		remark = t.checkDims(
			dimCheck{dimensions.KindAccount, rec.PaymentAccount},
			dimCheck{dimensions.KindAccount, rec.ExpenseAccount},
			dimCheck{dimensions.KindLocation, rec.Location},
			dimCheck{dimensions.KindClass, rec.Class},
		)
	}
	if remark != "" {
		rec.State = records.StateRetry
		rec.Remarks = remark
	}
	return rec
}

func (t *Transformer) buildTransfer(in Input, c *Counters, r records.RawRecord) records.TransferRecord {
	rec := records.TransferRecord{
		No:          r.No,
		Date:        r.Date,
		FromAccount: firstNonEmpty(r.TransferFrom, r.AccountFrom),
		ToAccount:   firstNonEmpty(r.TransferTo, r.AccountTo),
		Amount:      r.Amount.Abs(),
		Description: r.Description,
		Currency:    r.Currency,
		State:       records.StatePending,
		Remarks:     records.RemarkReady,
	}
	if id := in.Retained.Transfer[r.No]; id != "" {
		rec.TransferNo = id
	} else {
		c.Transfer++
		rec.TransferNo = records.TransferID(in.Country, in.Period, c.Transfer)
	}

	remark := ""
	switch {
	case rec.Date.IsZero():
		remark = records.RemarkError("Date is missing")
	case rec.FromAccount == "":
		remark = records.RemarkError("From Account is missing")
	case rec.ToAccount == "":
		remark = records.RemarkError("To Account is missing")
	case rec.Amount.IsZero():
		remark = records.RemarkError("Amount is zero")
	default:
		remark = t.checkDims(
			dimCheck{dimensions.KindAccount, rec.FromAccount},
			dimCheck{dimensions.KindAccount, rec.ToAccount},
		)
	}
	if remark != "" {
		rec.State = records.StateRetry
		rec.Remarks = remark
	}
	return rec
}

// buildJournals groups journal-family rows by record date. Every row
// contributes a signed line on its account; a row with a counter-account
// contributes a second, offsetting line, so such pairs balance on their own.
func (t *Transformer) buildJournals(ctx context.Context, in Input, c *Counters, rows []records.RawRecord) []records.JournalLine {
	if len(rows) == 0 {
		return nil
	}
	log := logger.FromContext(ctx)

	type group struct {
		nos   []int64
		lines []records.JournalLine
	}
	var order []string
	groups := make(map[string]*group)

	for _, r := range rows {
		key := records.FormatDate(r.Date)
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
			order = append(order, key)
		}
		g.nos = append(g.nos, r.No)
		base := records.JournalLine{
			No:          r.No,
			Date:        r.Date,
			Account:     r.Type,
			Amount:      r.Amount,
			Description: r.Description,
			Location:    r.Location,
			Class:       r.Class,
			Currency:    r.Currency,
			State:       records.StatePending,
			Remarks:     records.RemarkReady,
		}
		g.lines = append(g.lines, base)
		if r.CounterAccount != "" {
			counter := base
			counter.Account = r.CounterAccount
			counter.Amount = r.Amount.Neg()
			g.lines = append(g.lines, counter)
		}
	}

	out := make([]records.JournalLine, 0, len(rows))
	for _, key := range order {
		g := groups[key]

		id := ""
		for _, no := range g.nos {
			rid := in.Retained.Journal[no]
			if rid == "" {
				continue
			}
			if id == "" {
				id = rid
			} else if rid != id {
				log.Warn().Str("kept", id).Str("dropped", rid).Int64("no", no).
					Msg("Conflicting retained journal numbers in one date group")
			}
		}
		if id == "" {
			c.Journal++
			id = records.JournalID(c.Journal)
		}
		for i := range g.lines {
			g.lines[i].JournalNo = id
		}

		if key == "" {
			for i := range g.lines {
				g.lines[i].State = records.StateRetry
				g.lines[i].Remarks = records.RemarkError("Date is missing")
			}
		} else {
			t.validateJournalGroup(ctx, g.lines)
		}
		out = append(out, g.lines...)
	}
	return out
}

// validateJournalGroup enforces the zero-sum invariant, correcting drift up
// to balanceTolerance on the largest line, then resolves dimensions per
// line. An unbalanced group is marked as a whole and skips dimension checks
// so the unbalance remark is what the operator sees.
func (t *Transformer) validateJournalGroup(ctx context.Context, lines []records.JournalLine) {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Amount)
	}
	if !sum.IsZero() {
		if sum.Abs().GreaterThan(balanceTolerance) {
			remark := records.RemarkUnbalance(sum.Abs().StringFixed(2))
			for i := range lines {
				lines[i].State = records.StateRetry
				lines[i].Remarks = remark
			}
			return
		}
		biggest := 0
		for i := 1; i < len(lines); i++ {
			if lines[i].Amount.Abs().GreaterThan(lines[biggest].Amount.Abs()) {
				biggest = i
			}
		}
		log := logger.FromContext(ctx)
		log.Info().
			Str("journal_no", lines[0].JournalNo).
			Str("adjustment", sum.Neg().StringFixed(2)).
			Msg("Auto-balancing journal group")
		lines[biggest].Amount = lines[biggest].Amount.Sub(sum)
	}

	for i := range lines {
		l := &lines[i]
		remark := ""
		if l.Account == "" {
			remark = records.RemarkError("Account is missing")
		} else {
			remark = t.checkDims(
				dimCheck{dimensions.KindAccount, l.Account},
				dimCheck{dimensions.KindLocation, l.Location},
				dimCheck{dimensions.KindClass, l.Class},
			)
		}
		if remark != "" {
			l.State = records.StateRetry
			l.Remarks = remark
		}
	}
}

type dimCheck struct {
	kind dimensions.Kind
	name string
}

// checkDims resolves each non-empty name and reports the first failure.
// Empty names pass: required fields are checked for presence by the caller.
func (t *Transformer) checkDims(checks ...dimCheck) string {
	for _, ch := range checks {
		if ch.name == "" {
			continue
		}
		if _, ok := t.resolver.Resolve(ch.kind, ch.name); !ok {
			return records.RemarkNotFound(ch.name)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
