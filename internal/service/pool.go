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
)

const (
	reasonDeadline        = "deadline elapsed with threshold unmet"
	reasonAbortedMatching = "cancelled by creator during matching"
	reasonTermsRejected   = "matched terms rejected"
)

type poolLifecycle struct {
	guard    *poolGuard
	ledger   *contributionLedger
	notifier *notifier
	matching *matchCoordinator
}

func (s *poolLifecycle) CreatePool(ctx context.Context, creatorID string, in domain.CreatePoolInput) (*domain.Pool, error) {
	logger.EnterMethod("PoolLifecycle.CreatePool", "creatorID", creatorID, "title", in.Title)
	now := s.guard.clock().UTC()
	if creatorID == "" {
		err := fmt.Errorf("%w: creator is required", domain.ErrInvalidInput)
		logger.ExitMethodWithError("PoolLifecycle.CreatePool", err)
		return nil, err
	}
	if err := in.Validate(now); err != nil {
		logger.ExitMethodWithError("PoolLifecycle.CreatePool", err)
		return nil, err
	}

	pool := &domain.Pool{
		ID:                uuid.NewString(),
		CreatorID:         creatorID,
		Title:             in.Title,
		Description:       in.Description,
		TargetDescription: in.TargetDescription,
		OfferKind:         in.OfferKind,
		TargetMinValue:    in.TargetMinValue,
		TargetMaxValue:    in.TargetMaxValue,
		MinParticipants:   in.MinParticipants,
		MaxParticipants:   in.MaxParticipants,
		Deadline:          in.Deadline.UTC(),
		Status:            domain.PoolStatusOpen,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.guard.store.Pools.Create(ctx, pool); err != nil {
		logger.ExitMethodWithError("PoolLifecycle.CreatePool", err)
		return nil, err
	}
	logger.WithPool(pool.ID).Info("Pool created", "creator_id", creatorID, "deadline", pool.Deadline)
	logger.ExitMethod("PoolLifecycle.CreatePool", "poolID", pool.ID)
	return pool, nil
}

func (s *poolLifecycle) GetPool(ctx context.Context, poolID string) (*domain.PoolDetail, error) {
	var detail *domain.PoolDetail
	err := s.guard.view(ctx, poolID, func(pool *domain.Pool, participants []domain.Participant) error {
		detail = &domain.PoolDetail{
			Pool:             *pool,
			ParticipantCount: domain.CountApproved(participants),
			Participants:     participants,
		}
		return nil
	})
	return detail, err
}

func (s *poolLifecycle) ListPools(ctx context.Context, status domain.PoolStatus, page, pageSize int32) ([]domain.Pool, int32, error) {
	if status != "" && !status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, status)
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.guard.store.Pools.List(ctx, status, page, pageSize)
}

// StartMatching moves an OPEN pool whose participant threshold is met into
// MATCHING and issues the search once the transition committed.
func (s *poolLifecycle) StartMatching(ctx context.Context, poolID, actingUserID string) (*domain.Pool, error) {
	logger.EnterMethod("PoolLifecycle.StartMatching", "poolID", poolID)
	pool, err := s.mutatePool(ctx, poolID, func(ctx context.Context, st *poolState) error {
		if err := requireCreator(st, actingUserID); err != nil {
			return err
		}
		if st.pool.Status != domain.PoolStatusOpen {
			return fmt.Errorf("pool %s is %s: %w", st.pool.ID, st.pool.Status, domain.ErrInvalidState)
		}
		if approved := domain.CountApproved(st.participants); approved < st.pool.MinParticipants {
			return fmt.Errorf("pool %s has %d of %d required participants: %w",
				st.pool.ID, approved, st.pool.MinParticipants, domain.ErrInvalidState)
		}
		if err := s.transition(ctx, st, domain.PoolStatusMatching, ""); err != nil {
			return err
		}
		st.onCommit(func(ctx context.Context) {
			if err := s.matching.InitiateMatch(ctx, poolID); err != nil {
				logger.WithPool(poolID).Error("Failed to initiate match", "error", err)
			}
		})
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("PoolLifecycle.StartMatching", err)
		return nil, err
	}
	logger.ExitMethod("PoolLifecycle.StartMatching")
	return pool, nil
}

// Cancel closes an OPEN pool. A pool still searching for a match is failed
// instead, which makes any late search result moot.
func (s *poolLifecycle) Cancel(ctx context.Context, poolID, actingUserID string) (*domain.Pool, error) {
	logger.EnterMethod("PoolLifecycle.Cancel", "poolID", poolID)
	pool, err := s.mutatePool(ctx, poolID, func(ctx context.Context, st *poolState) error {
		if err := requireCreator(st, actingUserID); err != nil {
			return err
		}
		switch st.pool.Status {
		case domain.PoolStatusOpen:
			return s.transition(ctx, st, domain.PoolStatusCancelled, "cancelled by creator")
		case domain.PoolStatusMatching:
			return s.transition(ctx, st, domain.PoolStatusFailed, reasonAbortedMatching)
		}
		return fmt.Errorf("pool %s is %s: %w", st.pool.ID, st.pool.Status, domain.ErrInvalidState)
	})
	if err != nil {
		logger.ExitMethodWithError("PoolLifecycle.Cancel", err)
		return nil, err
	}
	logger.ExitMethod("PoolLifecycle.Cancel")
	return pool, nil
}

// ConfirmTerms records that a stakeholder accepts the matched item. When the
// creator and every approved participant confirmed, the pool enters NEGOTIATING.
func (s *poolLifecycle) ConfirmTerms(ctx context.Context, poolID, actingUserID string) (*domain.Pool, error) {
	logger.EnterMethod("PoolLifecycle.ConfirmTerms", "poolID", poolID, "userID", actingUserID)
	pool, err := s.mutatePool(ctx, poolID, func(ctx context.Context, st *poolState) error {
		if err := requireStakeholder(st, actingUserID); err != nil {
			return err
		}
		if st.pool.Status != domain.PoolStatusMatched {
			return fmt.Errorf("pool %s is %s: %w", st.pool.ID, st.pool.Status, domain.ErrInvalidState)
		}
		if st.pool.HasConfirmed(actingUserID) {
			return nil
		}
		st.pool.Confirmations = append(st.pool.Confirmations, actingUserID)

		for _, userID := range st.stakeholders() {
			if !st.pool.HasConfirmed(userID) {
				return st.savePool(ctx)
			}
		}
		return s.transition(ctx, st, domain.PoolStatusNegotiating, "")
	})
	if err != nil {
		logger.ExitMethodWithError("PoolLifecycle.ConfirmTerms", err)
		return nil, err
	}
	logger.ExitMethod("PoolLifecycle.ConfirmTerms", "status", pool.Status)
	return pool, nil
}

// FinalizeTerms starts execution of the purchase and queues the settlement.
func (s *poolLifecycle) FinalizeTerms(ctx context.Context, poolID, actingUserID string) (*domain.Pool, error) {
	logger.EnterMethod("PoolLifecycle.FinalizeTerms", "poolID", poolID)
	pool, err := s.mutatePool(ctx, poolID, func(ctx context.Context, st *poolState) error {
		if err := requireCreator(st, actingUserID); err != nil {
			return err
		}
		return s.transition(ctx, st, domain.PoolStatusExecuting, "")
	})
	if err != nil {
		logger.ExitMethodWithError("PoolLifecycle.FinalizeTerms", err)
		return nil, err
	}
	logger.ExitMethod("PoolLifecycle.FinalizeTerms")
	return pool, nil
}

func (s *poolLifecycle) RejectTerms(ctx context.Context, poolID, actingUserID, reason string) (*domain.Pool, error) {
	logger.EnterMethod("PoolLifecycle.RejectTerms", "poolID", poolID, "userID", actingUserID)
	if reason == "" {
		reason = reasonTermsRejected
	}
	pool, err := s.mutatePool(ctx, poolID, func(ctx context.Context, st *poolState) error {
		if err := requireStakeholder(st, actingUserID); err != nil {
			return err
		}
		if st.pool.Status != domain.PoolStatusNegotiating {
			return fmt.Errorf("pool %s is %s: %w", st.pool.ID, st.pool.Status, domain.ErrInvalidState)
		}
		return s.transition(ctx, st, domain.PoolStatusFailed, reason)
	})
	if err != nil {
		logger.ExitMethodWithError("PoolLifecycle.RejectTerms", err)
		return nil, err
	}
	logger.ExitMethod("PoolLifecycle.RejectTerms")
	return pool, nil
}

func (s *poolLifecycle) ReportExecution(ctx context.Context, poolID string, succeeded bool, reason string) (*domain.Pool, error) {
	logger.EnterMethod("PoolLifecycle.ReportExecution", "poolID", poolID, "succeeded", succeeded)
	pool, err := s.mutatePool(ctx, poolID, func(ctx context.Context, st *poolState) error {
		if st.pool.Status != domain.PoolStatusExecuting {
			return fmt.Errorf("pool %s is %s: %w", st.pool.ID, st.pool.Status, domain.ErrInvalidState)
		}
		if succeeded {
			return s.transition(ctx, st, domain.PoolStatusCompleted, "")
		}
		if reason == "" {
			reason = "execution failed"
		}
		return s.transition(ctx, st, domain.PoolStatusFailed, reason)
	})
	if err != nil {
		logger.ExitMethodWithError("PoolLifecycle.ReportExecution", err)
		return nil, err
	}
	logger.ExitMethod("PoolLifecycle.ReportExecution", "status", pool.Status)
	return pool, nil
}

// settlementOutcome closes the pool once the settlement instruction resolved.
func (s *poolLifecycle) settlementOutcome(ctx context.Context, poolID string, err error) {
	reason := ""
	if err != nil {
		reason = fmt.Sprintf("settlement failed: %v", err)
	}
	_, repErr := s.ReportExecution(ctx, poolID, err == nil, reason)
	if errors.Is(repErr, domain.ErrInvalidState) {
		logger.WithPool(poolID).Warn("Settlement outcome arrived after pool left EXECUTING", "error", repErr)
		return
	}
	if repErr != nil {
		logger.WithPool(poolID).Error("Failed to record settlement outcome", "error", repErr)
	}
}

func (s *poolLifecycle) ExpireIfDue(ctx context.Context, poolID string, now time.Time) (bool, error) {
	cancelled := false
	err := s.guard.mutate(ctx, poolID, func(ctx context.Context, st *poolState) error {
		if st.pool.Status != domain.PoolStatusOpen || !st.pool.Deadline.Before(now) {
			return nil
		}
		met := domain.CountApproved(st.participants) >= st.pool.MinParticipants &&
			st.pool.CurrentValue >= st.pool.TargetMinValue
		if met {
			return nil
		}
		cancelled = true
		return s.transition(ctx, st, domain.PoolStatusCancelled, reasonDeadline)
	})
	return cancelled, err
}

// mutatePool runs fn under the pool guard and returns the committed pool.
func (s *poolLifecycle) mutatePool(ctx context.Context, poolID string, fn func(ctx context.Context, st *poolState) error) (*domain.Pool, error) {
	var pool *domain.Pool
	err := s.guard.mutate(ctx, poolID, func(ctx context.Context, st *poolState) error {
		if err := fn(ctx, st); err != nil {
			return err
		}
		pool = st.snapshot()
		return nil
	})
	return pool, err
}

// transition moves the pool along the state machine and applies the side
// effects of the new status within the same transaction.
func (s *poolLifecycle) transition(ctx context.Context, st *poolState, to domain.PoolStatus, reason string) error {
	from := st.pool.Status
	if !from.CanTransition(to) {
		return fmt.Errorf("pool %s cannot move from %s to %s: %w", st.pool.ID, from, to, domain.ErrInvalidState)
	}

	st.pool.Status = to
	switch {
	case to == domain.PoolStatusMatching:
		startedAt := st.now
		st.pool.MatchStartedAt = &startedAt
	case from == domain.PoolStatusMatching:
		st.pool.MatchInFlight = false
		requestID := st.pool.MatchRequestID
		st.onCommit(func(context.Context) {
			s.matching.forget(requestID)
		})
	}
	if reason != "" {
		st.pool.FailureReason = reason
	}
	if to.IsTerminal() {
		closedAt := st.now
		st.pool.ClosedAt = &closedAt
	}

	switch {
	case to.ReleasesContributions():
		if err := s.ledger.releaseAll(ctx, st); err != nil {
			return err
		}
	case to == domain.PoolStatusExecuting:
		if err := s.ledger.settle(ctx, st); err != nil {
			return err
		}
	}
	if err := st.savePool(ctx); err != nil {
		return err
	}

	logger.WithPool(st.pool.ID).Info("Pool status changed", "from", from, "to", to, "reason", reason)
	metrics.RecordTransition(string(from), string(to))

	pool := st.snapshot()
	users := st.stakeholders()
	st.onCommit(func(ctx context.Context) {
		s.notifier.poolStatusChanged(ctx, pool, users)
	})
	return nil
}

func requireCreator(st *poolState, userID string) error {
	if st.pool.CreatorID != userID {
		return fmt.Errorf("user %s is not the creator of pool %s: %w", userID, st.pool.ID, domain.ErrNotAuthorized)
	}
	return nil
}

func requireStakeholder(st *poolState, userID string) error {
	if st.pool.CreatorID == userID || st.approvedUser(userID) {
		return nil
	}
	return fmt.Errorf("user %s has no approved seat in pool %s: %w", userID, st.pool.ID, domain.ErrNotAuthorized)
}
