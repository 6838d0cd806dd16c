package service

import (
	"context"
	"fmt"
	"time"

	"barterpool-backend/internal/domain"
	"barterpool-backend/internal/repository"
)

// poolState is the locked view of one pool while a mutation runs.
// Changes are written through the store inside the same transaction.
type poolState struct {
	store        *repository.Store
	now          time.Time
	pool         *domain.Pool
	participants []domain.Participant
	afterCommit  []func(ctx context.Context)
}

type stateKey struct{}

// poolGuard gives each pool a single writer: it takes the pool lock, opens a
// transaction, and loads the pool row FOR UPDATE with its participants.
type poolGuard struct {
	store  *repository.Store
	locker PoolLocker
	clock  func() time.Time
}

// mutate runs fn against the locked pool state. Nested calls for the same pool
// reuse the outer state. Hooks registered with onCommit run once the
// transaction committed and the lock is released.
func (g *poolGuard) mutate(ctx context.Context, poolID string, fn func(ctx context.Context, st *poolState) error) error {
	if st, ok := ctx.Value(stateKey{}).(*poolState); ok && st.pool.ID == poolID {
		return fn(ctx, st)
	}

	unlock, err := g.locker.Lock(ctx, poolID)
	if err != nil {
		return err
	}

	var st *poolState
	err = g.store.WithTx(ctx, func(txCtx context.Context) error {
		pool, err := g.store.Pools.GetForUpdate(txCtx, poolID)
		if err != nil {
			return err
		}
		participants, err := g.store.Participants.ListByPool(txCtx, poolID)
		if err != nil {
			return err
		}
		st = &poolState{
			store:        g.store,
			now:          g.clock().UTC(),
			pool:         pool,
			participants: participants,
		}
		return fn(context.WithValue(txCtx, stateKey{}, st), st)
	})
	unlock()
	if err != nil {
		return err
	}

	hookCtx := context.WithoutCancel(ctx)
	for _, hook := range st.afterCommit {
		hook(hookCtx)
	}
	return nil
}

// view runs fn against a consistent snapshot taken under the pool lock.
func (g *poolGuard) view(ctx context.Context, poolID string, fn func(pool *domain.Pool, participants []domain.Participant) error) error {
	if st, ok := ctx.Value(stateKey{}).(*poolState); ok && st.pool.ID == poolID {
		return fn(st.pool, st.participants)
	}

	unlock, err := g.locker.Lock(ctx, poolID)
	if err != nil {
		return err
	}
	defer unlock()

	pool, err := g.store.Pools.GetByID(ctx, poolID)
	if err != nil {
		return err
	}
	participants, err := g.store.Participants.ListByPool(ctx, poolID)
	if err != nil {
		return err
	}
	return fn(pool, participants)
}

func (st *poolState) onCommit(hook func(ctx context.Context)) {
	st.afterCommit = append(st.afterCommit, hook)
}

// participant returns the pool's participant row for update in place.
func (st *poolState) participant(participantID string) (*domain.Participant, error) {
	for i := range st.participants {
		if st.participants[i].ID == participantID {
			return &st.participants[i], nil
		}
	}
	return nil, fmt.Errorf("participant %s in pool %s: %w", participantID, st.pool.ID, domain.ErrNotFound)
}

// approvedUser reports whether userID holds an APPROVED seat.
func (st *poolState) approvedUser(userID string) bool {
	for _, p := range st.participants {
		if p.UserID == userID && p.Status == domain.ParticipantStatusApproved {
			return true
		}
	}
	return false
}

// stakeholders returns the creator and every APPROVED participant's user, deduplicated.
func (st *poolState) stakeholders() []string {
	return stakeholders(st.pool, st.participants)
}

func stakeholders(pool *domain.Pool, participants []domain.Participant) []string {
	users := []string{pool.CreatorID}
	seen := map[string]bool{pool.CreatorID: true}
	for _, p := range participants {
		if p.Status == domain.ParticipantStatusApproved && !seen[p.UserID] {
			seen[p.UserID] = true
			users = append(users, p.UserID)
		}
	}
	return users
}

func (st *poolState) savePool(ctx context.Context) error {
	st.pool.UpdatedAt = st.now
	return st.store.Pools.Update(ctx, st.pool)
}

func (st *poolState) saveParticipant(ctx context.Context, p *domain.Participant) error {
	p.UpdatedAt = st.now
	return st.store.Participants.Update(ctx, p)
}

// snapshot copies the pool for use after the lock is released.
func (st *poolState) snapshot() *domain.Pool {
	cp := *st.pool
	cp.Confirmations = append([]string(nil), st.pool.Confirmations...)
	return &cp
}
