package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

type PoolStatus string

const (
	PoolStatusOpen        PoolStatus = "OPEN"
	PoolStatusMatching    PoolStatus = "MATCHING"
	PoolStatusMatched     PoolStatus = "MATCHED"
	PoolStatusNegotiating PoolStatus = "NEGOTIATING"
	PoolStatusExecuting   PoolStatus = "EXECUTING"
	PoolStatusCompleted   PoolStatus = "COMPLETED"
	PoolStatusFailed      PoolStatus = "FAILED"
	PoolStatusCancelled   PoolStatus = "CANCELLED"
)

// poolTransitions lists the forward moves allowed out of each status.
var poolTransitions = map[PoolStatus][]PoolStatus{
	PoolStatusOpen:        {PoolStatusMatching, PoolStatusCancelled},
	PoolStatusMatching:    {PoolStatusMatched, PoolStatusFailed},
	PoolStatusMatched:     {PoolStatusNegotiating},
	PoolStatusNegotiating: {PoolStatusExecuting, PoolStatusFailed},
	PoolStatusExecuting:   {PoolStatusCompleted, PoolStatusFailed},
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s PoolStatus) CanTransition(next PoolStatus) bool {
	return slices.Contains(poolTransitions[s], next)
}

// IsTerminal reports whether no further mutation is permitted.
func (s PoolStatus) IsTerminal() bool {
	return s == PoolStatusCompleted || s == PoolStatusFailed || s == PoolStatusCancelled
}

// ReleasesContributions reports whether entering s obliges a refund of held contributions.
func (s PoolStatus) ReleasesContributions() bool {
	return s == PoolStatusFailed || s == PoolStatusCancelled
}

func (s PoolStatus) Valid() bool {
	switch s {
	case PoolStatusOpen, PoolStatusMatching, PoolStatusMatched, PoolStatusNegotiating,
		PoolStatusExecuting, PoolStatusCompleted, PoolStatusFailed, PoolStatusCancelled:
		return true
	}
	return false
}

// OfferKind tags what a pool intends to acquire.
type OfferKind string

const (
	OfferKindGeneral      OfferKind = "GENERAL"
	OfferKindMobileBarter OfferKind = "MOBILE_BARTER"
)

type Pool struct {
	ID                string     `json:"id"`
	CreatorID         string     `json:"creator_id"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	TargetDescription string     `json:"target_description"`
	OfferKind         OfferKind  `json:"offer_kind"`
	TargetMinValue    int64      `json:"target_min_value"`
	TargetMaxValue    int64      `json:"target_max_value"`
	CurrentValue      int64      `json:"current_value"`
	MinParticipants   int32      `json:"min_participants"`
	MaxParticipants   int32      `json:"max_participants"`
	Deadline          time.Time  `json:"deadline"`
	Status            PoolStatus `json:"status"`

	// Matching bookkeeping
	MatchInFlight  bool       `json:"match_in_flight"`
	MatchRequestID string     `json:"match_request_id,omitempty"`
	MatchStartedAt *time.Time `json:"match_started_at,omitempty"`
	MatchedItemID  string     `json:"matched_item_id,omitempty"`
	MatchedTitle   string     `json:"matched_title,omitempty"`
	MatchedPrice   int64      `json:"matched_price,omitempty"`

	// User ids that confirmed the matched terms
	Confirmations []string `json:"confirmations,omitempty"`
	FailureReason string   `json:"failure_reason,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// HasConfirmed reports whether userID already confirmed the matched terms.
func (p *Pool) HasConfirmed(userID string) bool {
	return slices.Contains(p.Confirmations, userID)
}

// MatchStarted returns when the current search was issued, falling back to
// the last update for rows written before the column existed.
func (p *Pool) MatchStarted() time.Time {
	if p.MatchStartedAt != nil {
		return *p.MatchStartedAt
	}
	return p.UpdatedAt
}

// InRange reports whether price lies inside the pool's target window.
func (p *Pool) InRange(price int64) bool {
	return price >= p.TargetMinValue && price <= p.TargetMaxValue
}

// CreatePoolInput carries the creator-supplied pool attributes.
type CreatePoolInput struct {
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	TargetDescription string    `json:"target_description"`
	OfferKind         OfferKind `json:"offer_kind"`
	TargetMinValue    int64     `json:"target_min_value"`
	TargetMaxValue    int64     `json:"target_max_value"`
	MinParticipants   int32     `json:"min_participants"`
	MaxParticipants   int32     `json:"max_participants"`
	Deadline          time.Time `json:"deadline"`
}

// Validate checks the pool invariants that are fixed at creation time.
func (in *CreatePoolInput) Validate(now time.Time) error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.OfferKind == "" {
		in.OfferKind = OfferKindGeneral
	}
	if in.OfferKind != OfferKindGeneral && in.OfferKind != OfferKindMobileBarter {
		return fmt.Errorf("%w: unknown offer kind %q", ErrInvalidInput, in.OfferKind)
	}
	if in.TargetMinValue < 0 {
		return fmt.Errorf("%w: target minimum value must not be negative", ErrInvalidInput)
	}
	if in.TargetMinValue > in.TargetMaxValue {
		return fmt.Errorf("%w: target minimum value exceeds maximum", ErrInvalidInput)
	}
	if in.MinParticipants < 1 {
		return fmt.Errorf("%w: at least one participant is required", ErrInvalidInput)
	}
	if in.MaxParticipants < in.MinParticipants {
		return fmt.Errorf("%w: max participants below min participants", ErrInvalidInput)
	}
	if !in.Deadline.After(now) {
		return fmt.Errorf("%w: deadline must be in the future", ErrInvalidInput)
	}
	return nil
}

// PoolDetail is the read model served to the presentation layer.
type PoolDetail struct {
	Pool
	ParticipantCount int32         `json:"participant_count"`
	Participants     []Participant `json:"participants"`
}
