package domain

import (
	"fmt"
	"time"
)

type PaymentInstructionKind string

const (
	PaymentInstructionHold    PaymentInstructionKind = "HOLD"
	PaymentInstructionRefund  PaymentInstructionKind = "REFUND"
	PaymentInstructionRelease PaymentInstructionKind = "RELEASE"
	PaymentInstructionSettle  PaymentInstructionKind = "SETTLE"
)

type PaymentInstructionStatus string

const (
	PaymentInstructionPending   PaymentInstructionStatus = "PENDING"
	PaymentInstructionInFlight  PaymentInstructionStatus = "IN_FLIGHT"
	PaymentInstructionDelivered PaymentInstructionStatus = "DELIVERED"
	PaymentInstructionFailed    PaymentInstructionStatus = "FAILED"
	// PaymentInstructionCancelled marks an instruction a later RELEASE made obsolete.
	PaymentInstructionCancelled PaymentInstructionStatus = "CANCELLED"
)

// PaymentLine is one contributor's part of an instruction.
type PaymentLine struct {
	ParticipantID string `json:"participant_id"`
	UserID        string `json:"user_id"`
	Amount        int64  `json:"amount"`
	Share         string `json:"share,omitempty"`
}

// PaymentInstruction is an outbox record for the payment collaborator.
// DedupKey is unique in storage so a RELEASE or SETTLE is recorded at most once per pool.
type PaymentInstruction struct {
	ID        string                   `json:"id"`
	PoolID    string                   `json:"pool_id"`
	Kind      PaymentInstructionKind   `json:"kind"`
	DedupKey  string                   `json:"dedup_key"`
	Lines     []PaymentLine            `json:"lines"`
	Status    PaymentInstructionStatus `json:"status"`
	Attempts  int                      `json:"attempts"`
	LastError string                   `json:"last_error,omitempty"`
	CreatedAt time.Time                `json:"created_at"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// InstructionDedupKey builds the uniqueness key for an instruction.
// HOLD and REFUND are unique per participant, RELEASE and SETTLE per pool.
func InstructionDedupKey(poolID string, kind PaymentInstructionKind, participantID string) string {
	if kind == PaymentInstructionHold || kind == PaymentInstructionRefund {
		return fmt.Sprintf("%s:%s:%s", poolID, kind, participantID)
	}
	return fmt.Sprintf("%s:%s", poolID, kind)
}

// Total sums the instruction lines.
func (p *PaymentInstruction) Total() int64 {
	var total int64
	for _, l := range p.Lines {
		total += l.Amount
	}
	return total
}
