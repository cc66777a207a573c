package records

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kzoteam/qbo-bridge/internal/sheets"
)

// ExpenseRecord is one cash purchase. PaymentAccount is the funding bank or
// credit account; ExpenseAccount is the category account the spend posts to.
// Amount is the absolute spend.
type ExpenseRecord struct {
	Row int

	No             int64
	ExpenseNo      string
	Date           time.Time
	PaymentAccount string
	ExpenseAccount string
	Amount         decimal.Decimal
	Description    string
	Payee          string
	Location       string
	Class          string
	Currency       string
	PaymentMethod  string

	State       SyncState
	Remarks     string
	QBOID       string
	QBOLink     string
	LedgerMatch string
	SourceMatch string
}

// ExpenseHeader is the column order of the QBO Expense tab.
var ExpenseHeader = []string{
	"No", "Expense No", "Date", "Payment Account", "Expense Account", "Amount",
	"Description", "Payee", "Location", "Class", "Currency", "Payment Method",
	"State", "Remarks", "QBO ID", "QBO Link", "QBO Match", "Source Match",
}

// Values renders the record in ExpenseHeader order for write-back.
func (r ExpenseRecord) Values() []interface{} {
	return []interface{}{
		r.No, r.ExpenseNo, FormatDate(r.Date), r.PaymentAccount, r.ExpenseAccount,
		r.Amount.StringFixed(2), r.Description, r.Payee, r.Location, r.Class,
		r.Currency, r.PaymentMethod, string(r.State), r.Remarks,
		r.QBOID, r.QBOLink, r.LedgerMatch, r.SourceMatch,
	}
}

// ParseExpenseTable reads persisted expense records back from the tab.
func ParseExpenseTable(t *sheets.Table) ([]ExpenseRecord, error) {
	out := make([]ExpenseRecord, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		if t.Cell(i, "Expense No") == "" && t.Cell(i, "No") == "" {
			continue
		}
		no, err := ParseSeq(t.Cell(i, "No"))
		if err != nil {
			return nil, fmt.Errorf("expense tab row %d: %w", t.SheetRow(i), err)
		}
		date, err := ParseDate(t.Cell(i, "Date"))
		if err != nil {
			return nil, fmt.Errorf("expense tab row %d: %w", t.SheetRow(i), err)
		}
		amount, err := ParseAmount(t.Cell(i, "Amount"))
		if err != nil {
			return nil, fmt.Errorf("expense tab row %d: %w", t.SheetRow(i), err)
		}
		out = append(out, ExpenseRecord{
			Row:            t.SheetRow(i),
			No:             no,
			ExpenseNo:      t.Cell(i, "Expense No"),
			Date:           date,
			PaymentAccount: t.Cell(i, "Payment Account"),
			ExpenseAccount: t.Cell(i, "Expense Account"),
			Amount:         amount,
			Description:    t.Cell(i, "Description"),
			Payee:          t.Cell(i, "Payee"),
			Location:       t.Cell(i, "Location"),
			Class:          t.Cell(i, "Class"),
			Currency:       t.Cell(i, "Currency"),
			PaymentMethod:  t.Cell(i, "Payment Method"),
			State:          ParseSyncState(t.Cell(i, "State")),
			Remarks:        t.Cell(i, "Remarks"),
			QBOID:          t.Cell(i, "QBO ID"),
			QBOLink:        t.Cell(i, "QBO Link"),
			LedgerMatch:    t.Cell(i, "QBO Match"),
			SourceMatch:    t.Cell(i, "Source Match"),
		})
	}
	return out, nil
}
