package jobs

import (
	"context"

	"barterpool-backend/internal/logger"
)

// SweepExpiredPools cancels OPEN pools past their deadline with the threshold unmet
func (jr *JobRunner) SweepExpiredPools() {
	jr.runWithRecovery("SweepExpiredPools", func() error {
		ctx := context.Background()
		n, err := jr.sweeper.Sweep(ctx, jr.clock().UTC())
		logger.Info("Expired pools swept", "cancelled", n)
		return err
	})
}

// ExpireStalledMatches fails MATCHING pools whose search never reported back
func (jr *JobRunner) ExpireStalledMatches() {
	jr.runWithRecovery("ExpireStalledMatches", func() error {
		ctx := context.Background()
		n, err := jr.sweeper.SweepStalledMatches(ctx, jr.clock().UTC())
		logger.Info("Stalled matches swept", "failed", n)
		return err
	})
}

// RetryPaymentInstructions redelivers payment instructions that have not reached the gateway
func (jr *JobRunner) RetryPaymentInstructions() {
	jr.runWithRecovery("RetryPaymentInstructions", func() error {
		ctx := context.Background()
		delivered, failed, err := jr.engine.Payments.DeliverPending(ctx)
		logger.Info("Payment instructions retried", "delivered", delivered, "failing", failed)
		return err
	})
}
