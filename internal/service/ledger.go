package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"barterpool-backend/internal/domain"
	"barterpool-backend/internal/logger"
	"barterpool-backend/internal/metrics"
)

var errLedgerDrift = errors.New("current value does not match approved contributions")

type contributionLedger struct {
	guard    *poolGuard
	payments *PaymentDispatcher
}

func newContributionLedger(guard *poolGuard, payments *PaymentDispatcher) *contributionLedger {
	return &contributionLedger{guard: guard, payments: payments}
}

// RecordApproval freezes the participant's contribution, adds it to the
// current value and requests a hold on the funds.
func (l *contributionLedger) RecordApproval(ctx context.Context, poolID, participantID string, cashAmount int64) error {
	logger.EnterMethod("ContributionLedger.RecordApproval", "poolID", poolID, "participantID", participantID)
	err := l.guard.mutate(ctx, poolID, func(ctx context.Context, st *poolState) error {
		return l.recordApproval(ctx, st, participantID, cashAmount)
	})
	if err != nil {
		logger.ExitMethodWithError("ContributionLedger.RecordApproval", err)
		return err
	}
	logger.ExitMethod("ContributionLedger.RecordApproval")
	return nil
}

func (l *contributionLedger) recordApproval(ctx context.Context, st *poolState, participantID string, cashAmount int64) error {
	if st.pool.Status != domain.PoolStatusOpen {
		return fmt.Errorf("pool %s is %s: %w", st.pool.ID, st.pool.Status, domain.ErrInvalidState)
	}
	p, err := st.participant(participantID)
	if err != nil {
		return err
	}
	if p.Status != domain.ParticipantStatusPending {
		return fmt.Errorf("participant %s is %s: %w", p.ID, p.Status, domain.ErrInvalidState)
	}
	if cashAmount <= 0 {
		return fmt.Errorf("%w: contribution must be positive", domain.ErrInvalidInput)
	}
	if domain.CountApproved(st.participants) >= st.pool.MaxParticipants {
		return fmt.Errorf("pool %s already has %d approved participants: %w",
			st.pool.ID, st.pool.MaxParticipants, domain.ErrOverCapacity)
	}

	approvedAt := st.now
	p.Status = domain.ParticipantStatusApproved
	p.CashAmount = cashAmount
	p.ApprovedAt = &approvedAt
	if err := st.saveParticipant(ctx, p); err != nil {
		return err
	}

	st.pool.CurrentValue += cashAmount
	if err := l.checkBalance(st); err != nil {
		return err
	}
	if err := st.savePool(ctx); err != nil {
		return err
	}
	if err := l.append(ctx, st, p, domain.LedgerEntryApproval, cashAmount, cashAmount); err != nil {
		return err
	}

	line := domain.PaymentLine{ParticipantID: p.ID, UserID: p.UserID, Amount: cashAmount}
	_, err = l.payments.enqueue(ctx, st, domain.PaymentInstructionHold, p.ID, []domain.PaymentLine{line})
	return err
}

// RecordWithdrawal removes an APPROVED participant's contribution and refunds its hold.
func (l *contributionLedger) RecordWithdrawal(ctx context.Context, poolID, participantID string) error {
	logger.EnterMethod("ContributionLedger.RecordWithdrawal", "poolID", poolID, "participantID", participantID)
	err := l.guard.mutate(ctx, poolID, func(ctx context.Context, st *poolState) error {
		return l.recordWithdrawal(ctx, st, participantID)
	})
	if err != nil {
		logger.ExitMethodWithError("ContributionLedger.RecordWithdrawal", err)
		return err
	}
	logger.ExitMethod("ContributionLedger.RecordWithdrawal")
	return nil
}

func (l *contributionLedger) recordWithdrawal(ctx context.Context, st *poolState, participantID string) error {
	if st.pool.Status != domain.PoolStatusOpen {
		return fmt.Errorf("pool %s is %s: %w", st.pool.ID, st.pool.Status, domain.ErrInvalidState)
	}
	p, err := st.participant(participantID)
	if err != nil {
		return err
	}
	if p.Status != domain.ParticipantStatusApproved {
		return fmt.Errorf("participant %s is %s: %w", p.ID, p.Status, domain.ErrInvalidState)
	}

	p.Status = domain.ParticipantStatusWithdrawn
	if err := st.saveParticipant(ctx, p); err != nil {
		return err
	}

	st.pool.CurrentValue -= p.CashAmount
	if err := l.checkBalance(st); err != nil {
		return err
	}
	if err := st.savePool(ctx); err != nil {
		return err
	}
	if err := l.append(ctx, st, p, domain.LedgerEntryWithdrawal, p.CashAmount, -p.CashAmount); err != nil {
		return err
	}

	hold := domain.InstructionDedupKey(st.pool.ID, domain.PaymentInstructionHold, p.ID)
	if err := l.payments.supersede(ctx, st, []string{hold}); err != nil {
		return err
	}
	line := domain.PaymentLine{ParticipantID: p.ID, UserID: p.UserID, Amount: p.CashAmount}
	_, err = l.payments.enqueue(ctx, st, domain.PaymentInstructionRefund, p.ID, []domain.PaymentLine{line})
	return err
}

// releaseAll marks every held contribution for refund and records a single
// RELEASE instruction for the pool. Undelivered HOLD and SETTLE instructions
// are cancelled first. A second call finds nothing left to release.
func (l *contributionLedger) releaseAll(ctx context.Context, st *poolState) error {
	obsolete := []string{domain.InstructionDedupKey(st.pool.ID, domain.PaymentInstructionSettle, "")}
	for _, p := range st.participants {
		obsolete = append(obsolete, domain.InstructionDedupKey(st.pool.ID, domain.PaymentInstructionHold, p.ID))
	}
	if err := l.payments.supersede(ctx, st, obsolete); err != nil {
		return err
	}

	var lines []domain.PaymentLine
	for i := range st.participants {
		p := &st.participants[i]
		if p.Status != domain.ParticipantStatusApproved || p.Released {
			continue
		}
		p.Released = true
		if err := st.saveParticipant(ctx, p); err != nil {
			return err
		}
		if err := l.append(ctx, st, p, domain.LedgerEntryRelease, p.CashAmount, 0); err != nil {
			return err
		}
		lines = append(lines, domain.PaymentLine{ParticipantID: p.ID, UserID: p.UserID, Amount: p.CashAmount})
	}
	if len(lines) == 0 {
		return nil
	}

	queued, err := l.payments.enqueue(ctx, st, domain.PaymentInstructionRelease, "", lines)
	if err != nil {
		return err
	}
	if !queued {
		logger.WithPool(st.pool.ID).Warn("Release already recorded for pool")
	}
	return nil
}

// settle records each participant's part of the purchase price and queues
// the single SETTLE instruction.
func (l *contributionLedger) settle(ctx context.Context, st *poolState) error {
	table := domain.NewShareTable(st.pool.ID, st.participants)
	lines := table.PaymentLines(st.pool.MatchedPrice)
	for _, line := range lines {
		entry := &domain.LedgerEntry{
			ID:            uuid.NewString(),
			PoolID:        st.pool.ID,
			ParticipantID: line.ParticipantID,
			Kind:          domain.LedgerEntrySettlement,
			Amount:        line.Amount,
			Total:         st.pool.CurrentValue,
			CreatedAt:     st.now,
		}
		if err := st.store.Ledger.Append(ctx, entry); err != nil {
			return err
		}
		metrics.RecordLedgerEvent(string(entry.Kind))
	}

	queued, err := l.payments.enqueue(ctx, st, domain.PaymentInstructionSettle, "", lines)
	if err != nil {
		return err
	}
	if !queued {
		logger.WithPool(st.pool.ID).Warn("Settlement already recorded for pool")
	}
	return nil
}

func (l *contributionLedger) checkBalance(st *poolState) error {
	if sum := domain.SumApproved(st.participants); sum != st.pool.CurrentValue {
		return fmt.Errorf("pool %s: %w (current %d, approved %d)", st.pool.ID, errLedgerDrift, st.pool.CurrentValue, sum)
	}
	return nil
}

func (l *contributionLedger) append(ctx context.Context, st *poolState, p *domain.Participant, kind domain.LedgerEntryKind, amount, delta int64) error {
	entry := &domain.LedgerEntry{
		ID:            uuid.NewString(),
		PoolID:        st.pool.ID,
		ParticipantID: p.ID,
		Kind:          kind,
		Amount:        amount,
		Delta:         delta,
		Total:         st.pool.CurrentValue,
		CreatedAt:     st.now,
	}
	if err := st.store.Ledger.Append(ctx, entry); err != nil {
		return err
	}
	logger.LedgerEvent(st.pool.ID, p.ID, string(kind), delta, st.pool.CurrentValue)
	metrics.RecordLedgerEvent(string(kind))
	return nil
}

// CurrentValue reads the committed total under the pool lock, so it never
// reflects a half-applied mutation.
func (l *contributionLedger) CurrentValue(ctx context.Context, poolID string) (int64, error) {
	var value int64
	err := l.guard.view(ctx, poolID, func(pool *domain.Pool, _ []domain.Participant) error {
		value = pool.CurrentValue
		return nil
	})
	return value, err
}

func (l *contributionLedger) History(ctx context.Context, poolID string) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	err := l.guard.view(ctx, poolID, func(_ *domain.Pool, _ []domain.Participant) error {
		var err error
		entries, err = l.guard.store.Ledger.ListByPool(ctx, poolID)
		return err
	})
	return entries, err
}

func (l *contributionLedger) ShareTable(ctx context.Context, poolID string) (*domain.ShareTable, error) {
	var table *domain.ShareTable
	err := l.guard.view(ctx, poolID, func(pool *domain.Pool, participants []domain.Participant) error {
		table = domain.NewShareTable(pool.ID, participants)
		return nil
	})
	return table, err
}
