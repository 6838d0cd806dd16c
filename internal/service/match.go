package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"barterpool-backend/internal/domain"
	"barterpool-backend/internal/logger"
	"barterpool-backend/internal/metrics"
)

const reasonSearchStalled = "search did not complete"

type matchCoordinator struct {
	guard     *poolGuard
	lifecycle *poolLifecycle
	matcher   Matcher
	timeout   time.Duration
	wg        sync.WaitGroup

	mu sync.Mutex
	// searches holds the cancel func of each running search by request id.
	searches map[string]context.CancelFunc
}

func (m *matchCoordinator) InitiateMatch(ctx context.Context, poolID string) error {
	logger.EnterMethod("MatchCoordinator.InitiateMatch", "poolID", poolID)
	var (
		query     domain.MatchQuery
		searchCtx context.Context
	)
	base := context.WithoutCancel(ctx)
	err := m.guard.mutate(ctx, poolID, func(ctx context.Context, st *poolState) error {
		if st.pool.Status != domain.PoolStatusMatching {
			return fmt.Errorf("pool %s is %s: %w", st.pool.ID, st.pool.Status, domain.ErrInvalidState)
		}
		if st.pool.MatchInFlight {
			return nil
		}
		startedAt := st.now
		st.pool.MatchInFlight = true
		st.pool.MatchRequestID = uuid.NewString()
		st.pool.MatchStartedAt = &startedAt
		if err := st.savePool(ctx); err != nil {
			return err
		}
		query = domain.MatchQuery{
			PoolID:            st.pool.ID,
			RequestID:         st.pool.MatchRequestID,
			TargetDescription: st.pool.TargetDescription,
			OfferKind:         st.pool.OfferKind,
			MinValue:          st.pool.TargetMinValue,
			MaxValue:          st.pool.TargetMaxValue,
		}
		// Registered under the pool lock, before any result can commit.
		searchCtx = m.track(base, query.RequestID)
		return nil
	})
	if err != nil {
		if searchCtx != nil {
			m.forget(query.RequestID)
		}
		logger.ExitMethodWithError("MatchCoordinator.InitiateMatch", err)
		return err
	}
	if searchCtx == nil {
		logger.ExitMethod("MatchCoordinator.InitiateMatch", "inFlight", true)
		return nil
	}

	m.wg.Add(1)
	go m.search(base, searchCtx, query)
	logger.ExitMethod("MatchCoordinator.InitiateMatch", "requestID", query.RequestID)
	return nil
}

// track starts the timeout of the search issued under requestID.
func (m *matchCoordinator) track(parent context.Context, requestID string) context.Context {
	searchCtx, cancel := context.WithTimeout(parent, m.timeout)
	m.mu.Lock()
	m.searches[requestID] = cancel
	m.mu.Unlock()
	return searchCtx
}

// forget cancels the search issued under requestID if it is still running.
func (m *matchCoordinator) forget(requestID string) {
	m.mu.Lock()
	cancel, ok := m.searches[requestID]
	delete(m.searches, requestID)
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// search runs the external query outside the pool lock and feeds its outcome
// back through OnMatchResult like any other event. A search cancelled because
// its pool left MATCHING reports nothing.
func (m *matchCoordinator) search(ctx, searchCtx context.Context, q domain.MatchQuery) {
	defer m.wg.Done()
	defer m.forget(q.RequestID)

	start := time.Now()
	logger.ExternalServiceCall("Matcher", "Search", "pool_id", q.PoolID, "request_id", q.RequestID)
	candidate, err := m.matcher.Search(searchCtx, q)
	logger.ExternalServiceResult("Matcher", "Search", err, "pool_id", q.PoolID, "request_id", q.RequestID)
	metrics.ObserveSearch(time.Since(start))

	result := domain.MatchResult{RequestID: q.RequestID, Candidate: candidate}
	switch {
	case errors.Is(err, domain.ErrSearchDeferred):
		// The matcher answers through the callback, which cancels searchCtx.
		<-searchCtx.Done()
		if errors.Is(searchCtx.Err(), context.Canceled) {
			return
		}
		result = domain.MatchResult{RequestID: q.RequestID, Reason: "search timed out"}
	case err != nil && errors.Is(searchCtx.Err(), context.Canceled):
		logger.WithPool(q.PoolID).Debug("Search cancelled", "request_id", q.RequestID)
		return
	case errors.Is(err, context.DeadlineExceeded):
		result = domain.MatchResult{RequestID: q.RequestID, Reason: "search timed out"}
	case err != nil:
		result = domain.MatchResult{RequestID: q.RequestID, Reason: fmt.Sprintf("search failed: %v", err)}
	}

	if _, err := m.OnMatchResult(ctx, q.PoolID, result); err != nil {
		logger.WithPool(q.PoolID).Error("Failed to apply match result", "request_id", q.RequestID, "error", err)
	}
}

func (m *matchCoordinator) OnMatchResult(ctx context.Context, poolID string, result domain.MatchResult) (bool, error) {
	logger.EnterMethod("MatchCoordinator.OnMatchResult", "poolID", poolID, "requestID", result.RequestID)
	applied := false
	err := m.guard.mutate(ctx, poolID, func(ctx context.Context, st *poolState) error {
		log := logger.WithPool(st.pool.ID)
		if st.pool.Status != domain.PoolStatusMatching {
			log.Warn("Discarding match result for pool no longer matching",
				"status", st.pool.Status, "request_id", result.RequestID)
			metrics.RecordMatchOutcome("discarded")
			return nil
		}
		if !st.pool.MatchInFlight || (result.RequestID != "" && result.RequestID != st.pool.MatchRequestID) {
			log.Warn("Discarding stale match result",
				"request_id", result.RequestID, "current_request_id", st.pool.MatchRequestID)
			metrics.RecordMatchOutcome("discarded")
			return nil
		}
		applied = true

		c := result.Candidate
		if c != nil && st.pool.InRange(c.Price) {
			st.pool.MatchedItemID = c.ItemID
			st.pool.MatchedTitle = c.Title
			st.pool.MatchedPrice = c.Price
			metrics.RecordMatchOutcome("matched")
			return m.lifecycle.transition(ctx, st, domain.PoolStatusMatched, "")
		}

		reason := result.Reason
		switch {
		case c != nil:
			reason = fmt.Sprintf("candidate price %d outside target range [%d, %d]",
				c.Price, st.pool.TargetMinValue, st.pool.TargetMaxValue)
		case reason == "":
			reason = "no matching item found"
		}
		metrics.RecordMatchOutcome("failed")
		return m.lifecycle.transition(ctx, st, domain.PoolStatusFailed, reason)
	})
	if err != nil {
		logger.ExitMethodWithError("MatchCoordinator.OnMatchResult", err)
		return false, err
	}
	logger.ExitMethod("MatchCoordinator.OnMatchResult", "applied", applied)
	return applied, nil
}

// StallCutoff returns the search start before which a MATCHING pool is
// considered stalled: no search issued in this process can still be running.
func (m *matchCoordinator) StallCutoff(now time.Time) time.Time {
	return now.Add(-2 * m.timeout)
}

// ExpireStalled fails a MATCHING pool whose search started before cutoff and
// never reported back, e.g. because the process restarted mid-search.
func (m *matchCoordinator) ExpireStalled(ctx context.Context, poolID string, cutoff time.Time) (bool, error) {
	expired := false
	err := m.guard.mutate(ctx, poolID, func(ctx context.Context, st *poolState) error {
		if st.pool.Status != domain.PoolStatusMatching || !st.pool.MatchStarted().Before(cutoff) {
			return nil
		}
		expired = true
		logger.WithPool(st.pool.ID).Warn("Match search stalled",
			"request_id", st.pool.MatchRequestID, "in_flight", st.pool.MatchInFlight, "started_at", st.pool.MatchStarted())
		metrics.RecordMatchOutcome("stalled")
		return m.lifecycle.transition(ctx, st, domain.PoolStatusFailed, reasonSearchStalled)
	})
	return expired, err
}

func (m *matchCoordinator) Wait() {
	m.wg.Wait()
}
