package records

import (
	"fmt"
	"strings"
)

// JournalIDPrefix starts every generated journal number. The ledger-side
// counter seed scans DocNumbers with this prefix.
const JournalIDPrefix = "KZO-JV"

// Generated IDs carry no zero padding: the first journal of a job is
// KZO-JV1, the first October 2025 Kenya expense is KZOKE1025E1.

func JournalID(seq int64) string {
	return fmt.Sprintf("%s%d", JournalIDPrefix, seq)
}

func ExpenseID(country string, p Period, seq int64) string {
	return fmt.Sprintf("%s%d", ExpenseIDPrefix(country, p), seq)
}

func TransferID(country string, p Period, seq int64) string {
	return fmt.Sprintf("%s%d", TransferIDPrefix(country, p), seq)
}

// ExpenseIDPrefix is the prefix shared by every expense generated for one
// country and period.
func ExpenseIDPrefix(country string, p Period) string {
	return fmt.Sprintf("KZO%s%02d%02dE", strings.ToUpper(country), int(p.Month), p.Year%100)
}

// TransferIDPrefix is the prefix shared by every transfer generated for one
// country and period.
func TransferIDPrefix(country string, p Period) string {
	return fmt.Sprintf("KZO%s%02d%02dT", strings.ToUpper(country), int(p.Month), p.Year%100)
}
