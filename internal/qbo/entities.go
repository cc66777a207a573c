package qbo

import (
	"fmt"
	"strings"
)

// Entity type names as they appear in query statements and batch payloads.
const (
	EntityJournalEntry = "JournalEntry"
	EntityPurchase     = "Purchase"
	EntityTransfer     = "Transfer"
)

// Line detail discriminators.
const (
	DetailJournalLine = "JournalEntryLineDetail"
	DetailExpenseLine = "AccountBasedExpenseLineDetail"
)

// Posting types for journal lines.
const (
	PostingDebit  = "Debit"
	PostingCredit = "Credit"
)

// Payment types for purchases.
const (
	PaymentCash       = "Cash"
	PaymentCheck      = "Check"
	PaymentCreditCard = "CreditCard"
)

// Ref points at another ledger entity by ID.
type Ref struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

// JournalEntryLineDetail carries the double-entry side of one journal line.
type JournalEntryLineDetail struct {
	PostingType   string `json:"PostingType"`
	AccountRef    *Ref   `json:"AccountRef,omitempty"`
	DepartmentRef *Ref   `json:"DepartmentRef,omitempty"`
	ClassRef      *Ref   `json:"ClassRef,omitempty"`
}

// AccountBasedExpenseLineDetail carries the category side of a purchase line.
type AccountBasedExpenseLineDetail struct {
	AccountRef *Ref `json:"AccountRef,omitempty"`
	ClassRef   *Ref `json:"ClassRef,omitempty"`
}

// Line is one transaction line. DetailType selects which detail is set.
type Line struct {
	ID                            string                         `json:"Id,omitempty"`
	Description                   string                         `json:"Description,omitempty"`
	Amount                        float64                        `json:"Amount"`
	DetailType                    string                         `json:"DetailType"`
	JournalEntryLineDetail        *JournalEntryLineDetail        `json:"JournalEntryLineDetail,omitempty"`
	AccountBasedExpenseLineDetail *AccountBasedExpenseLineDetail `json:"AccountBasedExpenseLineDetail,omitempty"`
}

// JournalEntry is a balanced multi-line ledger transaction. DocNumber is the
// natural key for idempotent posting.
type JournalEntry struct {
	ID          string `json:"Id,omitempty"`
	SyncToken   string `json:"SyncToken,omitempty"`
	DocNumber   string `json:"DocNumber,omitempty"`
	TxnDate     string `json:"TxnDate,omitempty"`
	PrivateNote string `json:"PrivateNote,omitempty"`
	Line        []Line `json:"Line,omitempty"`
}

// Purchase is a cash/check/card spend against a funding account.
type Purchase struct {
	ID            string  `json:"Id,omitempty"`
	SyncToken     string  `json:"SyncToken,omitempty"`
	DocNumber     string  `json:"DocNumber,omitempty"`
	TxnDate       string  `json:"TxnDate,omitempty"`
	PaymentType   string  `json:"PaymentType,omitempty"`
	AccountRef    *Ref    `json:"AccountRef,omitempty"`
	EntityRef     *Ref    `json:"EntityRef,omitempty"`
	DepartmentRef *Ref    `json:"DepartmentRef,omitempty"`
	TotalAmt      float64 `json:"TotalAmt,omitempty"`
	PrivateNote   string  `json:"PrivateNote,omitempty"`
	Line          []Line  `json:"Line,omitempty"`
}

// Transfer moves funds between two balance-sheet accounts. It has no
// DocNumber; PrivateNote carries the natural key.
type Transfer struct {
	ID             string  `json:"Id,omitempty"`
	SyncToken      string  `json:"SyncToken,omitempty"`
	TxnDate        string  `json:"TxnDate,omitempty"`
	Amount         float64 `json:"Amount,omitempty"`
	FromAccountRef *Ref    `json:"FromAccountRef,omitempty"`
	ToAccountRef   *Ref    `json:"ToAccountRef,omitempty"`
	PrivateNote    string  `json:"PrivateNote,omitempty"`
}

// Account, Department, Class, Vendor and PaymentMethod are the dimension
// entities the matcher indexes.
type Account struct {
	ID                 string `json:"Id"`
	Name               string `json:"Name"`
	FullyQualifiedName string `json:"FullyQualifiedName"`
	AccountType        string `json:"AccountType,omitempty"`
	Active             bool   `json:"Active"`
}

type Department struct {
	ID                 string `json:"Id"`
	Name               string `json:"Name"`
	FullyQualifiedName string `json:"FullyQualifiedName"`
	Active             bool   `json:"Active"`
}

type Class struct {
	ID                 string `json:"Id"`
	Name               string `json:"Name"`
	FullyQualifiedName string `json:"FullyQualifiedName"`
	Active             bool   `json:"Active"`
}

type Vendor struct {
	ID          string `json:"Id"`
	DisplayName string `json:"DisplayName"`
	Active      bool   `json:"Active"`
}

type PaymentMethod struct {
	ID     string `json:"Id"`
	Name   string `json:"Name"`
	Active bool   `json:"Active"`
}

// NoteCarriesRef reports whether a private note begins with the generated
// reference followed by a non-digit boundary, so that ref T1 never matches a
// note written for T10.
func NoteCarriesRef(note, ref string) bool {
	if ref == "" || !strings.HasPrefix(note, ref) {
		return false
	}
	rest := note[len(ref):]
	return rest == "" || rest[0] < '0' || rest[0] > '9'
}

// DeepLink returns the in-app URL for a posted transaction.
func DeepLink(entity, id string) string {
	var path string
	switch entity {
	case EntityJournalEntry:
		path = "journal"
	case EntityPurchase:
		path = "expense"
	case EntityTransfer:
		path = "transfer"
	default:
		path = "transactions"
	}
	return fmt.Sprintf("https://app.qb.intuit.com/app/%s?txnId=%s", path, id)
}
