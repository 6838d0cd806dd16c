package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"barterpool-backend/internal/domain"
	"barterpool-backend/internal/logger"
)

type participantRegistry struct {
	guard    *poolGuard
	ledger   *contributionLedger
	notifier *notifier
}

func (r *participantRegistry) RequestJoin(ctx context.Context, poolID, userID string, cashAmount int64) (*domain.Participant, error) {
	logger.EnterMethod("ParticipantRegistry.RequestJoin", "poolID", poolID, "userID", userID, "cashAmount", cashAmount)
	if cashAmount <= 0 {
		err := fmt.Errorf("%w: contribution must be positive", domain.ErrInvalidInput)
		logger.ExitMethodWithError("ParticipantRegistry.RequestJoin", err)
		return nil, err
	}

	var joined domain.Participant
	err := r.guard.mutate(ctx, poolID, func(ctx context.Context, st *poolState) error {
		if st.pool.Status != domain.PoolStatusOpen {
			return fmt.Errorf("pool %s is %s: %w: %w", st.pool.ID, st.pool.Status, domain.ErrPoolNotJoinable, domain.ErrInvalidState)
		}
		if !st.now.Before(st.pool.Deadline) {
			return fmt.Errorf("pool %s deadline passed: %w", st.pool.ID, domain.ErrPoolNotJoinable)
		}
		if domain.CountApproved(st.participants) >= st.pool.MaxParticipants {
			return fmt.Errorf("pool %s is full: %w", st.pool.ID, domain.ErrPoolNotJoinable)
		}
		for _, p := range st.participants {
			if p.UserID == userID && p.Status.IsLive() {
				return fmt.Errorf("user %s already in pool %s: %w", userID, st.pool.ID, domain.ErrDuplicateParticipant)
			}
		}

		p := domain.Participant{
			ID:         uuid.NewString(),
			PoolID:     st.pool.ID,
			UserID:     userID,
			Status:     domain.ParticipantStatusPending,
			CashAmount: cashAmount,
			CreatedAt:  st.now,
			UpdatedAt:  st.now,
		}
		if err := st.store.Participants.Create(ctx, &p); err != nil {
			return err
		}
		st.participants = append(st.participants, p)
		joined = p

		pool := st.snapshot()
		st.onCommit(func(ctx context.Context) {
			r.notifier.notify(ctx, []string{pool.CreatorID}, pool, domain.NotificationParticipantRequested,
				"New join request", fmt.Sprintf("A user asked to join %q with %d", pool.Title, cashAmount),
				map[string]string{"participant_id": p.ID, "cash_amount": strconv.FormatInt(cashAmount, 10)})
		})
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("ParticipantRegistry.RequestJoin", err)
		return nil, err
	}
	logger.ExitMethod("ParticipantRegistry.RequestJoin", "participantID", joined.ID)
	return &joined, nil
}

// UpdateContribution changes the amount offered while the request is still PENDING.
func (r *participantRegistry) UpdateContribution(ctx context.Context, poolID, participantID, actingUserID string, cashAmount int64) (*domain.Participant, error) {
	logger.EnterMethod("ParticipantRegistry.UpdateContribution", "poolID", poolID, "participantID", participantID)
	if cashAmount <= 0 {
		err := fmt.Errorf("%w: contribution must be positive", domain.ErrInvalidInput)
		logger.ExitMethodWithError("ParticipantRegistry.UpdateContribution", err)
		return nil, err
	}

	var updated domain.Participant
	err := r.guard.mutate(ctx, poolID, func(ctx context.Context, st *poolState) error {
		p, err := st.participant(participantID)
		if err != nil {
			return err
		}
		if p.UserID != actingUserID {
			return fmt.Errorf("user %s does not own participant %s: %w", actingUserID, p.ID, domain.ErrNotAuthorized)
		}
		if st.pool.Status != domain.PoolStatusOpen {
			return fmt.Errorf("pool %s is %s: %w", st.pool.ID, st.pool.Status, domain.ErrInvalidState)
		}
		if p.Status != domain.ParticipantStatusPending {
			return fmt.Errorf("participant %s is %s: %w", p.ID, p.Status, domain.ErrInvalidState)
		}
		p.CashAmount = cashAmount
		if err := st.saveParticipant(ctx, p); err != nil {
			return err
		}
		updated = *p
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("ParticipantRegistry.UpdateContribution", err)
		return nil, err
	}
	logger.ExitMethod("ParticipantRegistry.UpdateContribution")
	return &updated, nil
}

// Approve admits a PENDING participant. The capacity check, status change and
// ledger update commit together, so concurrent approvals never exceed capacity.
func (r *participantRegistry) Approve(ctx context.Context, poolID, participantID, actingUserID string) (*domain.Participant, error) {
	logger.EnterMethod("ParticipantRegistry.Approve", "poolID", poolID, "participantID", participantID)
	var approved domain.Participant
	err := r.guard.mutate(ctx, poolID, func(ctx context.Context, st *poolState) error {
		p, err := r.creatorAction(st, participantID, actingUserID)
		if err != nil {
			return err
		}
		if err := r.ledger.recordApproval(ctx, st, p.ID, p.CashAmount); err != nil {
			return err
		}
		approved = *p

		pool := st.snapshot()
		st.onCommit(func(ctx context.Context) {
			r.notifier.notify(ctx, []string{approved.UserID}, pool, domain.NotificationParticipantApproved,
				"Join request approved", fmt.Sprintf("You joined %q with %d", pool.Title, approved.CashAmount),
				map[string]string{"participant_id": approved.ID})
		})
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("ParticipantRegistry.Approve", err)
		return nil, err
	}
	logger.ExitMethod("ParticipantRegistry.Approve")
	return &approved, nil
}

func (r *participantRegistry) Reject(ctx context.Context, poolID, participantID, actingUserID string) (*domain.Participant, error) {
	logger.EnterMethod("ParticipantRegistry.Reject", "poolID", poolID, "participantID", participantID)
	var rejected domain.Participant
	err := r.guard.mutate(ctx, poolID, func(ctx context.Context, st *poolState) error {
		p, err := r.creatorAction(st, participantID, actingUserID)
		if err != nil {
			return err
		}
		p.Status = domain.ParticipantStatusRejected
		if err := st.saveParticipant(ctx, p); err != nil {
			return err
		}
		rejected = *p

		pool := st.snapshot()
		st.onCommit(func(ctx context.Context) {
			r.notifier.notify(ctx, []string{rejected.UserID}, pool, domain.NotificationParticipantRejected,
				"Join request declined", fmt.Sprintf("Your request to join %q was declined", pool.Title),
				map[string]string{"participant_id": rejected.ID})
		})
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("ParticipantRegistry.Reject", err)
		return nil, err
	}
	logger.ExitMethod("ParticipantRegistry.Reject")
	return &rejected, nil
}

// creatorAction checks that the creator acts on a PENDING participant of an OPEN pool.
func (r *participantRegistry) creatorAction(st *poolState, participantID, actingUserID string) (*domain.Participant, error) {
	p, err := st.participant(participantID)
	if err != nil {
		return nil, err
	}
	if st.pool.CreatorID != actingUserID {
		return nil, fmt.Errorf("user %s is not the creator of pool %s: %w", actingUserID, st.pool.ID, domain.ErrNotAuthorized)
	}
	if st.pool.Status != domain.PoolStatusOpen {
		return nil, fmt.Errorf("pool %s is %s: %w", st.pool.ID, st.pool.Status, domain.ErrInvalidState)
	}
	if p.Status != domain.ParticipantStatusPending {
		return nil, fmt.Errorf("participant %s is %s: %w", p.ID, p.Status, domain.ErrInvalidState)
	}
	return p, nil
}

// Withdraw lets a participant leave an OPEN pool. An approved contribution is
// removed from the ledger in the same transaction.
func (r *participantRegistry) Withdraw(ctx context.Context, poolID, participantID, actingUserID string) (*domain.Participant, error) {
	logger.EnterMethod("ParticipantRegistry.Withdraw", "poolID", poolID, "participantID", participantID)
	var withdrawn domain.Participant
	err := r.guard.mutate(ctx, poolID, func(ctx context.Context, st *poolState) error {
		p, err := st.participant(participantID)
		if err != nil {
			return err
		}
		if p.UserID != actingUserID {
			return fmt.Errorf("user %s does not own participant %s: %w", actingUserID, p.ID, domain.ErrNotAuthorized)
		}
		if st.pool.Status != domain.PoolStatusOpen {
			return fmt.Errorf("pool %s is %s: %w", st.pool.ID, st.pool.Status, domain.ErrInvalidState)
		}

		switch p.Status {
		case domain.ParticipantStatusApproved:
			if err := r.ledger.recordWithdrawal(ctx, st, p.ID); err != nil {
				return err
			}
		case domain.ParticipantStatusPending:
			p.Status = domain.ParticipantStatusWithdrawn
			if err := st.saveParticipant(ctx, p); err != nil {
				return err
			}
		default:
			return fmt.Errorf("participant %s is %s: %w", p.ID, p.Status, domain.ErrInvalidState)
		}
		withdrawn = *p

		pool := st.snapshot()
		st.onCommit(func(ctx context.Context) {
			r.notifier.notify(ctx, []string{pool.CreatorID}, pool, domain.NotificationParticipantWithdrawn,
				"Participant withdrew", fmt.Sprintf("A participant left %q", pool.Title),
				map[string]string{"participant_id": withdrawn.ID})
		})
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("ParticipantRegistry.Withdraw", err)
		return nil, err
	}
	logger.ExitMethod("ParticipantRegistry.Withdraw")
	return &withdrawn, nil
}

func (r *participantRegistry) ListParticipants(ctx context.Context, poolID string) ([]domain.Participant, error) {
	var out []domain.Participant
	err := r.guard.view(ctx, poolID, func(_ *domain.Pool, participants []domain.Participant) error {
		out = participants
		return nil
	})
	return out, err
}
