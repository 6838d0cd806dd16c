package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"barterpool-backend/internal/domain"
	"barterpool-backend/internal/logger"
	"barterpool-backend/internal/metrics"
	"barterpool-backend/internal/repository"
)

// claimLease is how long an IN_FLIGHT instruction is owned by the worker
// that claimed it before another worker may retry it.
const claimLease = 2 * time.Minute

// PaymentDispatcher delivers payment instructions recorded in the outbox.
// Instructions are written in the same transaction as the state change that
// caused them and handed to the gateway only after commit.
type PaymentDispatcher struct {
	store       *repository.Store
	gateway     PaymentGateway
	maxAttempts int
	batchSize   int
	clock       func() time.Time

	// settled is told the final outcome of a SETTLE instruction.
	settled func(ctx context.Context, poolID string, err error)
}

func NewPaymentDispatcher(store *repository.Store, gateway PaymentGateway, maxAttempts, batchSize int) *PaymentDispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &PaymentDispatcher{
		store:       store,
		gateway:     gateway,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
		clock:       time.Now,
	}
}

// enqueue records an instruction inside the pool transaction and schedules
// its delivery after commit. It reports false when the dedup key was taken.
func (d *PaymentDispatcher) enqueue(ctx context.Context, st *poolState, kind domain.PaymentInstructionKind, participantID string, lines []domain.PaymentLine) (bool, error) {
	in := &domain.PaymentInstruction{
		ID:        uuid.NewString(),
		PoolID:    st.pool.ID,
		Kind:      kind,
		DedupKey:  domain.InstructionDedupKey(st.pool.ID, kind, participantID),
		Lines:     lines,
		Status:    domain.PaymentInstructionPending,
		CreatedAt: st.now,
		UpdatedAt: st.now,
	}
	err := d.store.Payments.Enqueue(ctx, in)
	if errors.Is(err, domain.ErrDuplicateInstruction) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("enqueue %s instruction: %w", kind, err)
	}

	id := in.ID
	st.onCommit(func(ctx context.Context) {
		if err := d.Deliver(ctx, id); err != nil {
			logger.Warn("Payment instruction left for retry", "instruction_id", id, "error", err)
		}
	})
	return true, nil
}

// supersede cancels undelivered instructions made obsolete by a release or refund.
func (d *PaymentDispatcher) supersede(ctx context.Context, st *poolState, dedupKeys []string) error {
	n, err := d.store.Payments.CancelPending(ctx, dedupKeys, st.now)
	if err != nil {
		return fmt.Errorf("cancel superseded instructions: %w", err)
	}
	if n > 0 {
		logger.WithPool(st.pool.ID).Info("Superseded payment instructions cancelled", "count", n)
	}
	return nil
}

// Deliver sends one instruction to the gateway if no other worker owns it.
func (d *PaymentDispatcher) Deliver(ctx context.Context, instructionID string) error {
	now := d.clock().UTC()
	claimed, err := d.store.Payments.Claim(ctx, instructionID, now, now.Add(-claimLease))
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	in, err := d.store.Payments.GetByID(ctx, instructionID)
	if err != nil {
		return err
	}
	return d.deliver(ctx, in)
}

func (d *PaymentDispatcher) deliver(ctx context.Context, in *domain.PaymentInstruction) error {
	logger.ExternalServiceCall("PaymentGateway", string(in.Kind), "instruction_id", in.ID, "pool_id", in.PoolID)
	callErr := d.call(ctx, in)
	logger.ExternalServiceResult("PaymentGateway", string(in.Kind), callErr, "instruction_id", in.ID, "pool_id", in.PoolID)

	in.Attempts++
	in.UpdatedAt = d.clock().UTC()
	switch {
	case callErr == nil:
		in.Status = domain.PaymentInstructionDelivered
		in.LastError = ""
		metrics.RecordPaymentDelivery(string(in.Kind), "delivered")
	case in.Attempts >= d.maxAttempts:
		in.Status = domain.PaymentInstructionFailed
		in.LastError = callErr.Error()
		metrics.RecordPaymentDelivery(string(in.Kind), "failed")
		logger.Error("Payment instruction exhausted its attempts",
			"instruction_id", in.ID, "pool_id", in.PoolID, "kind", in.Kind, "attempts", in.Attempts, "error", callErr)
	default:
		in.Status = domain.PaymentInstructionPending
		in.LastError = callErr.Error()
		metrics.RecordPaymentDelivery(string(in.Kind), "retry")
	}

	if err := d.store.Payments.Update(ctx, in); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("Payment instruction cancelled during delivery",
				"instruction_id", in.ID, "pool_id", in.PoolID, "kind", in.Kind, "gateway_error", callErr)
			return nil
		}
		return fmt.Errorf("record delivery of instruction %s: %w", in.ID, err)
	}

	if in.Kind == domain.PaymentInstructionSettle && d.settled != nil {
		switch in.Status {
		case domain.PaymentInstructionDelivered:
			d.settled(ctx, in.PoolID, nil)
		case domain.PaymentInstructionFailed:
			d.settled(ctx, in.PoolID, callErr)
		}
	}

	if callErr != nil {
		return fmt.Errorf("%w: payment %s: %w", domain.ErrExternalCollaborator, in.Kind, callErr)
	}
	return nil
}

func (d *PaymentDispatcher) call(ctx context.Context, in *domain.PaymentInstruction) error {
	switch in.Kind {
	case domain.PaymentInstructionHold, domain.PaymentInstructionRefund:
		if len(in.Lines) != 1 {
			return fmt.Errorf("%s instruction %s carries %d lines", in.Kind, in.ID, len(in.Lines))
		}
		if in.Kind == domain.PaymentInstructionHold {
			return d.gateway.Hold(ctx, in.ID, in.PoolID, in.Lines[0])
		}
		return d.gateway.Refund(ctx, in.ID, in.PoolID, in.Lines[0])
	case domain.PaymentInstructionRelease:
		return d.gateway.Release(ctx, in.ID, in.PoolID, in.Lines)
	case domain.PaymentInstructionSettle:
		return d.gateway.Settle(ctx, in.ID, in.PoolID, in.Lines)
	}
	return fmt.Errorf("unknown instruction kind %q", in.Kind)
}

// DeliverPending retries every deliverable instruction once. It returns the
// number delivered and the number still failing.
func (d *PaymentDispatcher) DeliverPending(ctx context.Context) (int, int, error) {
	now := d.clock().UTC()
	pending, err := d.store.Payments.ListPending(ctx, d.batchSize, now.Add(-claimLease))
	if err != nil {
		return 0, 0, err
	}

	var delivered, failed int
	for _, in := range pending {
		if err := ctx.Err(); err != nil {
			return delivered, failed, err
		}
		err := d.Deliver(ctx, in.ID)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, domain.ErrExternalCollaborator):
			failed++
		default:
			return delivered, failed, err
		}
	}
	return delivered, failed, nil
}
