package records

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kzoteam/qbo-bridge/internal/sheets"
)

// TransferRecord is one movement of funds between two balance-sheet
// accounts. The generated TransferNo doubles as the ledger-side natural key,
// carried in the entry's private note.
type TransferRecord struct {
	Row int

	No          int64
	TransferNo  string
	Date        time.Time
	FromAccount string
	ToAccount   string
	Amount      decimal.Decimal
	Description string
	Currency    string

	State       SyncState
	Remarks     string
	QBOID       string
	QBOLink     string
	LedgerMatch string
	SourceMatch string
}

// TransferHeader is the column order of the QBO Transfer tab.
var TransferHeader = []string{
	"No", "Transfer No", "Date", "From Account", "To Account", "Amount",
	"Description", "Currency", "State", "Remarks",
	"QBO ID", "QBO Link", "QBO Match", "Source Match",
}

// Values renders the record in TransferHeader order for write-back.
func (r TransferRecord) Values() []interface{} {
	return []interface{}{
		r.No, r.TransferNo, FormatDate(r.Date), r.FromAccount, r.ToAccount,
		r.Amount.StringFixed(2), r.Description, r.Currency, string(r.State),
		r.Remarks, r.QBOID, r.QBOLink, r.LedgerMatch, r.SourceMatch,
	}
}

// ParseTransferTable reads persisted transfer records back from the tab.
func ParseTransferTable(t *sheets.Table) ([]TransferRecord, error) {
	out := make([]TransferRecord, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		if t.Cell(i, "Transfer No") == "" && t.Cell(i, "No") == "" {
			continue
		}
		no, err := ParseSeq(t.Cell(i, "No"))
		if err != nil {
			return nil, fmt.Errorf("transfer tab row %d: %w", t.SheetRow(i), err)
		}
		date, err := ParseDate(t.Cell(i, "Date"))
		if err != nil {
			return nil, fmt.Errorf("transfer tab row %d: %w", t.SheetRow(i), err)
		}
		amount, err := ParseAmount(t.Cell(i, "Amount"))
		if err != nil {
			return nil, fmt.Errorf("transfer tab row %d: %w", t.SheetRow(i), err)
		}
		out = append(out, TransferRecord{
			Row:         t.SheetRow(i),
			No:          no,
			TransferNo:  t.Cell(i, "Transfer No"),
			Date:        date,
			FromAccount: t.Cell(i, "From Account"),
			ToAccount:   t.Cell(i, "To Account"),
			Amount:      amount,
			Description: t.Cell(i, "Description"),
			Currency:    t.Cell(i, "Currency"),
			State:       ParseSyncState(t.Cell(i, "State")),
			Remarks:     t.Cell(i, "Remarks"),
			QBOID:       t.Cell(i, "QBO ID"),
			QBOLink:     t.Cell(i, "QBO Link"),
			LedgerMatch: t.Cell(i, "QBO Match"),
			SourceMatch: t.Cell(i, "Source Match"),
		})
	}
	return out, nil
}
