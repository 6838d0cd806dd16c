package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"barterpool-backend/internal/domain"
	"barterpool-backend/internal/logger"
	"barterpool-backend/internal/repository"
	"barterpool-backend/internal/service"
)

// DeadlineSweeper cancels OPEN pools whose deadline passed with the
// participant or value threshold unmet, and fails MATCHING pools whose search
// never reported back. Each pool is re-checked under its own lock, so a pool
// that moved on since the scan is left alone.
type DeadlineSweeper struct {
	pools     repository.PoolRepository
	lifecycle service.PoolLifecycle
	matching  service.MatchCoordinator
}

func NewDeadlineSweeper(pools repository.PoolRepository, lifecycle service.PoolLifecycle, matching service.MatchCoordinator) *DeadlineSweeper {
	return &DeadlineSweeper{pools: pools, lifecycle: lifecycle, matching: matching}
}

// Sweep returns the number of pools it cancelled. A failure on one pool does
// not stop the others; the errors are joined.
func (s *DeadlineSweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.pools.ListExpiredOpen(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired pools: %w", err)
	}

	var (
		cancelled int
		errs      []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ok, err := s.lifecycle.ExpireIfDue(ctx, id, now)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			logger.WithPool(id).Error("Failed to expire pool", "error", err)
			errs = append(errs, fmt.Errorf("pool %s: %w", id, err))
			continue
		}
		if ok {
			cancelled++
			logger.WithPool(id).Info("Pool cancelled at deadline")
		}
	}
	return cancelled, errors.Join(errs...)
}

// SweepStalledMatches returns the number of MATCHING pools it failed.
func (s *DeadlineSweeper) SweepStalledMatches(ctx context.Context, now time.Time) (int, error) {
	cutoff := s.matching.StallCutoff(now)
	ids, err := s.pools.ListStalledMatching(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stalled pools: %w", err)
	}

	var (
		failed int
		errs   []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ok, err := s.matching.ExpireStalled(ctx, id, cutoff)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			logger.WithPool(id).Error("Failed to expire stalled match", "error", err)
			errs = append(errs, fmt.Errorf("pool %s: %w", id, err))
			continue
		}
		if ok {
			failed++
			logger.WithPool(id).Warn("Stalled match failed")
		}
	}
	return failed, errors.Join(errs...)
}
