package domain

import "errors"

// MatchQuery is what the matching collaborator searches for.
type MatchQuery struct {
	PoolID            string    `json:"pool_id"`
	RequestID         string    `json:"request_id"`
	TargetDescription string    `json:"target_description"`
	OfferKind         OfferKind `json:"offer_kind"`
	MinValue          int64     `json:"min_value"`
	MaxValue          int64     `json:"max_value"`
}

// MatchCandidate is a purchasable item proposed by the matching collaborator.
type MatchCandidate struct {
	ItemID string `json:"item_id"`
	Title  string `json:"title"`
	Price  int64  `json:"price"`
}

// MatchResult is the outcome of one search. A nil Candidate means no match.
type MatchResult struct {
	RequestID string          `json:"request_id"`
	Candidate *MatchCandidate `json:"candidate,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// ErrSearchDeferred is returned by a matcher that accepted the query and
// will deliver the result later through the match result callback.
var ErrSearchDeferred = errors.New("search deferred to callback")
