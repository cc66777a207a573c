package records

import "fmt"

// SyncState is the machine-readable lifecycle tag on every persisted record.
// Engines branch on this tag, never on the free-text remarks next to it.
type SyncState string

const (
	// StatePending marks a record validated and awaiting push.
	StatePending SyncState = "pending"
	// StateRetry marks a record that failed validation or posting and will
	// be reprocessed, keeping its generated ID.
	StateRetry SyncState = "error-retryable"
	// StateSynced marks a record confirmed in the ledger.
	StateSynced SyncState = "synced"
	// StateSkipped marks a record found already present in the ledger under
	// its natural key.
	StateSkipped SyncState = "skipped"
)

// ParseSyncState maps a persisted cell back to a state tag. Unknown values
// read as pending so a hand-edited cell degrades to "re-examine" rather than
// being dropped.
func ParseSyncState(s string) SyncState {
	switch SyncState(s) {
	case StateRetry, StateSynced, StateSkipped:
		return SyncState(s)
	default:
		return StatePending
	}
}

// Human-readable remarks vocabulary. The remarks column explains the state
// tag to the operator; it is never parsed by the engines.
const (
	RemarkReady  = "Ready to sync"
	RemarkSynced = "Synced"
)

func RemarkError(detail string) string {
	return "ERROR: " + detail
}

func RemarkUnbalance(diff string) string {
	return "ERROR: Unbalance " + diff
}

func RemarkNotFound(field string) string {
	return fmt.Sprintf("ERROR: %s not found", field)
}

func RemarkSkipped(ref string) string {
	return fmt.Sprintf("Skipped (already synced at %s)", ref)
}
