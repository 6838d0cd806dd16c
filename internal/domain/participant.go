package domain

import "time"

type ParticipantStatus string

const (
	ParticipantStatusPending   ParticipantStatus = "PENDING"
	ParticipantStatusApproved  ParticipantStatus = "APPROVED"
	ParticipantStatusRejected  ParticipantStatus = "REJECTED"
	ParticipantStatusWithdrawn ParticipantStatus = "WITHDRAWN"
)

// IsLive reports whether the row still blocks the user from joining again.
func (s ParticipantStatus) IsLive() bool {
	return s == ParticipantStatusPending || s == ParticipantStatusApproved
}

type Participant struct {
	ID         string            `json:"id"`
	PoolID     string            `json:"pool_id"`
	UserID     string            `json:"user_id"`
	Status     ParticipantStatus `json:"status"`
	CashAmount int64             `json:"cash_amount"`
	ApprovedAt *time.Time        `json:"approved_at,omitempty"`
	// Released is set once the contribution has been marked for refund.
	Released  bool      `json:"released"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CountApproved returns the number of APPROVED participants.
func CountApproved(participants []Participant) int32 {
	var n int32
	for _, p := range participants {
		if p.Status == ParticipantStatusApproved {
			n++
		}
	}
	return n
}

// SumApproved returns the total cash committed by APPROVED participants.
func SumApproved(participants []Participant) int64 {
	var total int64
	for _, p := range participants {
		if p.Status == ParticipantStatusApproved {
			total += p.CashAmount
		}
	}
	return total
}
