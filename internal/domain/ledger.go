package domain

import "time"

type LedgerEntryKind string

const (
	LedgerEntryApproval   LedgerEntryKind = "APPROVAL"
	LedgerEntryWithdrawal LedgerEntryKind = "WITHDRAWAL"
	LedgerEntryRelease    LedgerEntryKind = "RELEASE"
	LedgerEntrySettlement LedgerEntryKind = "SETTLEMENT"
)

// LedgerEntry is an audit record of a contribution ledger mutation.
// Delta is the change applied to the pool's current value and Total the
// value after the change. Amount is the contribution concerned.
type LedgerEntry struct {
	ID            string          `json:"id"`
	PoolID        string          `json:"pool_id"`
	ParticipantID string          `json:"participant_id"`
	Kind          LedgerEntryKind `json:"kind"`
	Amount        int64           `json:"amount"`
	Delta         int64           `json:"delta"`
	Total         int64           `json:"total"`
	CreatedAt     time.Time       `json:"created_at"`
}
