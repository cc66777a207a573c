package records

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kzoteam/qbo-bridge/internal/sheets"
)

// JournalLine is one line of a journal entry. Lines sharing a JournalNo form
// one balanced ledger transaction. Amounts are signed: positive posts as a
// debit, negative as a credit.
type JournalLine struct {
	Row int // sheet row when loaded from the tab, 0 for fresh records

	No          int64
	JournalNo   string
	Date        time.Time
	Account     string
	Amount      decimal.Decimal
	Description string
	Location    string
	Class       string
	Currency    string

	State       SyncState
	Remarks     string
	QBOID       string
	QBOLink     string
	LedgerMatch string
	SourceMatch string
}

// JournalHeader is the column order of the QBO Journal tab.
var JournalHeader = []string{
	"No", "Journal No", "Date", "Account", "Amount", "Description",
	"Location", "Class", "Currency", "State", "Remarks",
	"QBO ID", "QBO Link", "QBO Match", "Source Match",
}

// Values renders the line in JournalHeader order for write-back.
func (l JournalLine) Values() []interface{} {
	return []interface{}{
		l.No, l.JournalNo, FormatDate(l.Date), l.Account, l.Amount.StringFixed(2),
		l.Description, l.Location, l.Class, l.Currency, string(l.State), l.Remarks,
		l.QBOID, l.QBOLink, l.LedgerMatch, l.SourceMatch,
	}
}

// ParseJournalTable reads persisted journal lines back from the tab.
func ParseJournalTable(t *sheets.Table) ([]JournalLine, error) {
	out := make([]JournalLine, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		if t.Cell(i, "Journal No") == "" && t.Cell(i, "No") == "" {
			continue
		}
		no, err := ParseSeq(t.Cell(i, "No"))
		if err != nil {
			return nil, fmt.Errorf("journal tab row %d: %w", t.SheetRow(i), err)
		}
		date, err := ParseDate(t.Cell(i, "Date"))
		if err != nil {
			return nil, fmt.Errorf("journal tab row %d: %w", t.SheetRow(i), err)
		}
		amount, err := ParseAmount(t.Cell(i, "Amount"))
		if err != nil {
			return nil, fmt.Errorf("journal tab row %d: %w", t.SheetRow(i), err)
		}
		out = append(out, JournalLine{
			Row:         t.SheetRow(i),
			No:          no,
			JournalNo:   t.Cell(i, "Journal No"),
			Date:        date,
			Account:     t.Cell(i, "Account"),
			Amount:      amount,
			Description: t.Cell(i, "Description"),
			Location:    t.Cell(i, "Location"),
			Class:       t.Cell(i, "Class"),
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

// GroupJournalLines partitions lines by journal number, preserving first-seen
// order of the groups and line order within each group.
func GroupJournalLines(lines []JournalLine) ([]string, map[string][]JournalLine) {
	order := make([]string, 0)
	groups := make(map[string][]JournalLine)
	for _, l := range lines {
		if _, ok := groups[l.JournalNo]; !ok {
			order = append(order, l.JournalNo)
		}
		groups[l.JournalNo] = append(groups[l.JournalNo], l)
	}
	return order, groups
}
