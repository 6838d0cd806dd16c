package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barterpool-backend/internal/domain"
	"barterpool-backend/internal/service"
)

// readyPool returns an OPEN pool with the threshold met.
func (f *fixture) readyPool(t *testing.T) *domain.Pool {
	t.Helper()
	pool := f.createPool(t, nil)
	for i := 1; i <= 3; i++ {
		f.joinApproved(t, pool.ID, fmt.Sprintf("user-%d", i), 4000)
	}
	return pool
}

func TestMatchCoordinator_InitiateMatchIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, service.Options{})
	f.matcher.gate = make(chan struct{})
	pool := f.readyPool(t)

	_, err := f.engine.Pools.StartMatching(ctx, pool.ID, creator)
	require.NoError(t, err)
	requestID := f.pool(t, pool.ID).MatchRequestID

	require.NoError(t, f.engine.Matching.InitiateMatch(ctx, pool.ID))
	require.NoError(t, f.engine.Matching.InitiateMatch(ctx, pool.ID))
	assert.Equal(t, requestID, f.pool(t, pool.ID).MatchRequestID)

	close(f.matcher.gate)
	f.engine.Matching.Wait()

	assert.Equal(t, 1, f.matcher.calls())
	assert.Equal(t, domain.PoolStatusMatched, f.pool(t, pool.ID).Status)
}

func TestMatchCoordinator_InitiateMatchRequiresMatching(t *testing.T) {
	f := newFixture(t, service.Options{})
	pool := f.readyPool(t)

	err := f.engine.Matching.InitiateMatch(context.Background(), pool.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Zero(t, f.matcher.calls())
}

func TestMatchCoordinator_Outcomes(t *testing.T) {
	tests := []struct {
		name      string
		candidate *domain.MatchCandidate
		err       error
		status    domain.PoolStatus
		reason    string
	}{
		{
			name:      "InRange",
			candidate: &domain.MatchCandidate{ItemID: "item-9", Title: "Lens", Price: 15000},
			status:    domain.PoolStatusMatched,
		},
		{
			name:      "OutOfRange",
			candidate: &domain.MatchCandidate{ItemID: "item-9", Title: "Lens", Price: 20000},
			status:    domain.PoolStatusFailed,
			reason:    "outside target range",
		},
		{
			name:   "NoCandidate",
			status: domain.PoolStatusFailed,
			reason: "no matching item found",
		},
		{
			name:   "SearchError",
			err:    errors.New("upstream unavailable"),
			status: domain.PoolStatusFailed,
			reason: "search failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, service.Options{})
			f.matcher.answer(tt.candidate, tt.err)
			pool := f.readyPool(t)

			_, err := f.engine.Pools.StartMatching(context.Background(), pool.ID, creator)
			require.NoError(t, err)
			f.engine.Matching.Wait()

			detail := f.pool(t, pool.ID)
			assert.Equal(t, tt.status, detail.Status)
			assert.False(t, detail.MatchInFlight)
			assert.Contains(t, detail.FailureReason, tt.reason)

			releases := f.instructions(t, pool.ID, domain.PaymentInstructionRelease)
			if tt.status == domain.PoolStatusFailed {
				require.Len(t, releases, 1)
				assert.Equal(t, int64(12000), releases[0].Total())
			} else {
				assert.Empty(t, releases)
			}
		})
	}
}

func TestMatchCoordinator_SearchTimeout(t *testing.T) {
	f := newFixture(t, service.Options{MatchTimeout: 50 * time.Millisecond})
	f.matcher.gate = make(chan struct{})
	defer close(f.matcher.gate)
	pool := f.readyPool(t)

	_, err := f.engine.Pools.StartMatching(context.Background(), pool.ID, creator)
	require.NoError(t, err)
	f.engine.Matching.Wait()

	detail := f.pool(t, pool.ID)
	assert.Equal(t, domain.PoolStatusFailed, detail.Status)
	assert.Contains(t, detail.FailureReason, "timed out")
}

func TestMatchCoordinator_StaleResultDiscarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, service.Options{})
	f.matcher.gate = make(chan struct{})
	pool := f.readyPool(t)

	_, err := f.engine.Pools.StartMatching(ctx, pool.ID, creator)
	require.NoError(t, err)
	requestID := f.pool(t, pool.ID).MatchRequestID

	applied, err := f.engine.Matching.OnMatchResult(ctx, pool.ID, domain.MatchResult{
		RequestID: "superseded",
		Candidate: &domain.MatchCandidate{ItemID: "old", Price: 11000},
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, domain.PoolStatusMatching, f.pool(t, pool.ID).Status)

	applied, err = f.engine.Matching.OnMatchResult(ctx, pool.ID, domain.MatchResult{
		RequestID: requestID,
		Candidate: &domain.MatchCandidate{ItemID: "fresh", Price: 11000},
	})
	require.NoError(t, err)
	assert.True(t, applied)

	// The outstanding search finishes after the pool already matched.
	close(f.matcher.gate)
	f.engine.Matching.Wait()

	detail := f.pool(t, pool.ID)
	assert.Equal(t, domain.PoolStatusMatched, detail.Status)
	assert.Equal(t, "fresh", detail.MatchedItemID)
	assert.Equal(t, int64(11000), detail.MatchedPrice)
}

func TestMatchCoordinator_DeferredSearchAnsweredByCallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, service.Options{MatchTimeout: 5 * time.Second})
	f.matcher.answer(nil, domain.ErrSearchDeferred)
	pool := f.readyPool(t)

	_, err := f.engine.Pools.StartMatching(ctx, pool.ID, creator)
	require.NoError(t, err)

	applied, err := f.engine.Matching.OnMatchResult(ctx, pool.ID, domain.MatchResult{
		RequestID: f.pool(t, pool.ID).MatchRequestID,
		Candidate: &domain.MatchCandidate{ItemID: "cb", Title: "Callback", Price: 14000},
	})
	require.NoError(t, err)
	assert.True(t, applied)

	// The answered search stops waiting instead of running out its timeout.
	start := time.Now()
	f.engine.Matching.Wait()
	assert.Less(t, time.Since(start), time.Second)

	detail := f.pool(t, pool.ID)
	assert.Equal(t, domain.PoolStatusMatched, detail.Status)
	assert.Equal(t, "cb", detail.MatchedItemID)
	f.matcher.AssertNumberOfCalls(t, "Search", 1)
}

func TestMatchCoordinator_CancelStopsSearch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, service.Options{MatchTimeout: 5 * time.Second})
	f.matcher.gate = make(chan struct{})
	defer close(f.matcher.gate)
	pool := f.readyPool(t)

	_, err := f.engine.Pools.StartMatching(ctx, pool.ID, creator)
	require.NoError(t, err)
	_, err = f.engine.Pools.Cancel(ctx, pool.ID, creator)
	require.NoError(t, err)

	start := time.Now()
	f.engine.Matching.Wait()
	assert.Less(t, time.Since(start), time.Second)

	detail := f.pool(t, pool.ID)
	assert.Equal(t, domain.PoolStatusFailed, detail.Status)
	assert.Contains(t, detail.FailureReason, "cancelled by creator")
}

func TestMatchCoordinator_DeferredSearchTimesOut(t *testing.T) {
	f := newFixture(t, service.Options{MatchTimeout: 50 * time.Millisecond})
	f.matcher.answer(nil, domain.ErrSearchDeferred)
	pool := f.readyPool(t)

	_, err := f.engine.Pools.StartMatching(context.Background(), pool.ID, creator)
	require.NoError(t, err)
	f.engine.Matching.Wait()

	detail := f.pool(t, pool.ID)
	assert.Equal(t, domain.PoolStatusFailed, detail.Status)
	assert.Contains(t, detail.FailureReason, "timed out")
}

func TestMatchCoordinator_ResultForOpenPoolDiscarded(t *testing.T) {
	f := newFixture(t, service.Options{})
	pool := f.readyPool(t)

	applied, err := f.engine.Matching.OnMatchResult(context.Background(), pool.ID, domain.MatchResult{
		Candidate: &domain.MatchCandidate{ItemID: "x", Price: 12000},
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, domain.PoolStatusOpen, f.pool(t, pool.ID).Status)
}

func TestMatchCoordinator_ExpireStalled(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	f := newFixture(t, service.Options{MatchTimeout: time.Minute, Clock: func() time.Time { return now }})
	f.matcher.gate = make(chan struct{})
	defer close(f.matcher.gate)
	pool := f.readyPool(t)

	_, err := f.engine.Pools.StartMatching(ctx, pool.ID, creator)
	require.NoError(t, err)
	detail := f.pool(t, pool.ID)
	require.NotNil(t, detail.MatchStartedAt)
	assert.Equal(t, now, *detail.MatchStartedAt)

	cutoff := f.engine.Matching.StallCutoff(now.Add(time.Minute))
	assert.Equal(t, now.Add(-time.Minute), cutoff)
	expired, err := f.engine.Matching.ExpireStalled(ctx, pool.ID, cutoff)
	require.NoError(t, err)
	assert.False(t, expired)
	assert.Equal(t, domain.PoolStatusMatching, f.pool(t, pool.ID).Status)

	cutoff = f.engine.Matching.StallCutoff(now.Add(3 * time.Minute))
	expired, err = f.engine.Matching.ExpireStalled(ctx, pool.ID, cutoff)
	require.NoError(t, err)
	assert.True(t, expired)

	// The search this process issued is cancelled with the pool.
	f.engine.Matching.Wait()
	detail = f.pool(t, pool.ID)
	assert.Equal(t, domain.PoolStatusFailed, detail.Status)
	assert.Equal(t, "search did not complete", detail.FailureReason)
	assert.False(t, detail.MatchInFlight)
	assert.Len(t, f.instructions(t, pool.ID, domain.PaymentInstructionRelease), 1)

	expired, err = f.engine.Matching.ExpireStalled(ctx, pool.ID, cutoff)
	require.NoError(t, err)
	assert.False(t, expired)
}
