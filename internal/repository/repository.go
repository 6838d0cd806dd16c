package repository

import (
	"context"
	"time"

	"barterpool-backend/internal/domain"
)

// Transactor runs fn in a storage transaction. Repository calls made with the
// ctx passed to fn join that transaction; fn returning an error rolls it back.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type PoolRepository interface {
	Create(ctx context.Context, pool *domain.Pool) error
	GetByID(ctx context.Context, id string) (*domain.Pool, error)
	// GetForUpdate reads the pool row and locks it until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id string) (*domain.Pool, error)
	Update(ctx context.Context, pool *domain.Pool) error
	List(ctx context.Context, status domain.PoolStatus, page, pageSize int32) ([]domain.Pool, int32, error)
	// ListExpiredOpen returns the ids of OPEN pools whose deadline is before now.
	ListExpiredOpen(ctx context.Context, now time.Time) ([]string, error)
	// ListStalledMatching returns the ids of MATCHING pools whose search
	// started before startedBefore.
	ListStalledMatching(ctx context.Context, startedBefore time.Time) ([]string, error)
}

type ParticipantRepository interface {
	Create(ctx context.Context, p *domain.Participant) error
	GetByID(ctx context.Context, id string) (*domain.Participant, error)
	Update(ctx context.Context, p *domain.Participant) error
	ListByPool(ctx context.Context, poolID string) ([]domain.Participant, error)
}

type LedgerRepository interface {
	Append(ctx context.Context, entry *domain.LedgerEntry) error
	ListByPool(ctx context.Context, poolID string) ([]domain.LedgerEntry, error)
}

type PaymentInstructionRepository interface {
	// Enqueue stores a new instruction; it returns domain.ErrDuplicateInstruction
	// when an instruction with the same dedup key already exists.
	Enqueue(ctx context.Context, in *domain.PaymentInstruction) error
	GetByID(ctx context.Context, id string) (*domain.PaymentInstruction, error)
	// Claim moves a PENDING instruction, or an IN_FLIGHT one last touched before
	// staleBefore, to IN_FLIGHT. It reports false when another worker owns it.
	Claim(ctx context.Context, id string, now, staleBefore time.Time) (bool, error)
	// ListPending returns deliverable instructions: PENDING, or IN_FLIGHT and stale.
	ListPending(ctx context.Context, limit int, staleBefore time.Time) ([]domain.PaymentInstruction, error)
	ListByPool(ctx context.Context, poolID string) ([]domain.PaymentInstruction, error)
	// Update records a delivery attempt. It returns domain.ErrNotFound when the
	// instruction is missing or was cancelled since it was claimed.
	Update(ctx context.Context, in *domain.PaymentInstruction) error
	// CancelPending marks the PENDING or IN_FLIGHT instructions with one of the
	// given dedup keys as CANCELLED and returns how many it changed.
	CancelPending(ctx context.Context, dedupKeys []string, now time.Time) (int64, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, note *domain.Notification) error
	List(ctx context.Context, userID string, limit, offset int32) ([]domain.Notification, int32, error)
	MarkAsRead(ctx context.Context, id, userID string) error
}

// Store groups every repository behind one backend.
type Store struct {
	Transactor
	Pools         PoolRepository
	Participants  ParticipantRepository
	Ledger        LedgerRepository
	Payments      PaymentInstructionRepository
	Notifications NotificationRepository
}
