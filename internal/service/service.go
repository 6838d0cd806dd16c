package service

import (
	"context"
	"time"

	"barterpool-backend/internal/domain"
)

// ContributionLedger owns the committed cash of a pool. Every mutation runs
// under the pool's lock and inside the caller's transaction when one is open.
type ContributionLedger interface {
	RecordApproval(ctx context.Context, poolID, participantID string, cashAmount int64) error
	RecordWithdrawal(ctx context.Context, poolID, participantID string) error
	CurrentValue(ctx context.Context, poolID string) (int64, error)
	History(ctx context.Context, poolID string) ([]domain.LedgerEntry, error)
	ShareTable(ctx context.Context, poolID string) (*domain.ShareTable, error)
}

type ParticipantRegistry interface {
	RequestJoin(ctx context.Context, poolID, userID string, cashAmount int64) (*domain.Participant, error)
	UpdateContribution(ctx context.Context, poolID, participantID, actingUserID string, cashAmount int64) (*domain.Participant, error)
	Approve(ctx context.Context, poolID, participantID, actingUserID string) (*domain.Participant, error)
	Reject(ctx context.Context, poolID, participantID, actingUserID string) (*domain.Participant, error)
	Withdraw(ctx context.Context, poolID, participantID, actingUserID string) (*domain.Participant, error)
	ListParticipants(ctx context.Context, poolID string) ([]domain.Participant, error)
}

type PoolLifecycle interface {
	CreatePool(ctx context.Context, creatorID string, in domain.CreatePoolInput) (*domain.Pool, error)
	GetPool(ctx context.Context, poolID string) (*domain.PoolDetail, error)
	ListPools(ctx context.Context, status domain.PoolStatus, page, pageSize int32) ([]domain.Pool, int32, error)
	StartMatching(ctx context.Context, poolID, actingUserID string) (*domain.Pool, error)
	Cancel(ctx context.Context, poolID, actingUserID string) (*domain.Pool, error)
	ConfirmTerms(ctx context.Context, poolID, actingUserID string) (*domain.Pool, error)
	FinalizeTerms(ctx context.Context, poolID, actingUserID string) (*domain.Pool, error)
	RejectTerms(ctx context.Context, poolID, actingUserID, reason string) (*domain.Pool, error)
	// ReportExecution closes an EXECUTING pool as COMPLETED or FAILED.
	ReportExecution(ctx context.Context, poolID string, succeeded bool, reason string) (*domain.Pool, error)
	// ExpireIfDue cancels an OPEN pool whose deadline passed before now with
	// its threshold unmet. It reports whether the pool was cancelled.
	ExpireIfDue(ctx context.Context, poolID string, now time.Time) (bool, error)
}

type MatchCoordinator interface {
	// InitiateMatch issues one search for a MATCHING pool. A second call while
	// a search is in flight is a no-op.
	InitiateMatch(ctx context.Context, poolID string) error
	// OnMatchResult applies a search outcome. Results for a pool that left
	// MATCHING, or for a superseded request, are discarded and reported as not applied.
	OnMatchResult(ctx context.Context, poolID string, result domain.MatchResult) (bool, error)
	// StallCutoff returns the search start before which a MATCHING pool
	// counts as stalled at now.
	StallCutoff(now time.Time) time.Time
	// ExpireStalled fails a MATCHING pool whose search started before cutoff.
	// It reports whether the pool was failed.
	ExpireStalled(ctx context.Context, poolID string, cutoff time.Time) (bool, error)
	// Wait blocks until all outstanding searches have delivered their result
	// or were cancelled.
	Wait()
}

type NotificationService interface {
	GetNotifications(ctx context.Context, userID string, page, pageSize int32) ([]domain.Notification, int32, error)
	MarkAsRead(ctx context.Context, userID, notificationID string) error
}

// Matcher is the external search collaborator.
type Matcher interface {
	// Search returns the best candidate, nil when nothing fits, or
	// domain.ErrSearchDeferred when the result will arrive through OnMatchResult.
	Search(ctx context.Context, q domain.MatchQuery) (*domain.MatchCandidate, error)
}

// PaymentGateway moves money on behalf of the pool. Implementations must treat
// the idempotency key as the identity of the request.
type PaymentGateway interface {
	Hold(ctx context.Context, idempotencyKey, poolID string, line domain.PaymentLine) error
	Refund(ctx context.Context, idempotencyKey, poolID string, line domain.PaymentLine) error
	Release(ctx context.Context, idempotencyKey, poolID string, lines []domain.PaymentLine) error
	Settle(ctx context.Context, idempotencyKey, poolID string, lines []domain.PaymentLine) error
}

// PushSender delivers a stored notification to the user's devices.
type PushSender interface {
	Send(ctx context.Context, note *domain.Notification) error
}
