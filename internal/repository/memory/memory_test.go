package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barterpool-backend/internal/domain"
)

func testPool(id string) *domain.Pool {
	now := time.Now().UTC()
	return &domain.Pool{
		ID:              id,
		CreatorID:       "creator",
		Title:           "Pool " + id,
		MinParticipants: 1,
		MaxParticipants: 3,
		Deadline:        now.Add(time.Hour),
		Status:          domain.PoolStatusOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestWithTx_RollbackUndoesWrites(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.Pools.Create(ctx, testPool("p1")))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(ctx context.Context) error {
		pool, err := store.Pools.GetForUpdate(ctx, "p1")
		require.NoError(t, err)
		pool.CurrentValue = 500
		require.NoError(t, store.Pools.Update(ctx, pool))
		require.NoError(t, store.Participants.Create(ctx, &domain.Participant{
			ID: "pa1", PoolID: "p1", UserID: "u1", Status: domain.ParticipantStatusApproved, CashAmount: 500,
		}))
		require.NoError(t, store.Ledger.Append(ctx, &domain.LedgerEntry{ID: "l1", PoolID: "p1", Kind: domain.LedgerEntryApproval}))
		require.NoError(t, store.Payments.Enqueue(ctx, &domain.PaymentInstruction{
			ID: "i1", PoolID: "p1", Kind: domain.PaymentInstructionRelease, DedupKey: "p1:RELEASE",
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	pool, err := store.Pools.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, pool.CurrentValue)

	participants, err := store.Participants.ListByPool(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, participants)

	entries, err := store.Ledger.ListByPool(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	// The dedup key is free again after rollback.
	require.NoError(t, store.Payments.Enqueue(ctx, &domain.PaymentInstruction{
		ID: "i2", PoolID: "p1", Kind: domain.PaymentInstructionRelease, DedupKey: "p1:RELEASE",
	}))
}

func TestWithTx_RollbackKeepsOtherPoolsLedger(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	err := store.WithTx(ctx, func(ctx context.Context) error {
		require.NoError(t, store.Ledger.Append(ctx, &domain.LedgerEntry{ID: "a1", PoolID: "a"}))
		// Another pool commits outside this transaction meanwhile.
		require.NoError(t, store.Ledger.Append(context.Background(), &domain.LedgerEntry{ID: "b1", PoolID: "b"}))
		return errors.New("abort")
	})
	require.Error(t, err)

	a, err := store.Ledger.ListByPool(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, a)
	b, err := store.Ledger.ListByPool(ctx, "b")
	require.NoError(t, err)
	require.Len(t, b, 1)
	assert.Equal(t, "b1", b[0].ID)
}

func TestParticipantRepository_LiveUniqueness(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	p := &domain.Participant{ID: "pa1", PoolID: "p1", UserID: "u1", Status: domain.ParticipantStatusPending}
	require.NoError(t, store.Participants.Create(ctx, p))

	err := store.Participants.Create(ctx, &domain.Participant{ID: "pa2", PoolID: "p1", UserID: "u1", Status: domain.ParticipantStatusPending})
	assert.ErrorIs(t, err, domain.ErrDuplicateParticipant)

	p.Status = domain.ParticipantStatusWithdrawn
	require.NoError(t, store.Participants.Update(ctx, p))
	require.NoError(t, store.Participants.Create(ctx, &domain.Participant{ID: "pa3", PoolID: "p1", UserID: "u1", Status: domain.ParticipantStatusPending}))

	assert.ErrorIs(t, store.Participants.Update(ctx, &domain.Participant{ID: "missing"}), domain.ErrNotFound)
}

func TestPaymentInstructionRepository_Claim(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now().UTC()
	require.NoError(t, store.Payments.Enqueue(ctx, &domain.PaymentInstruction{
		ID: "i1", PoolID: "p1", Kind: domain.PaymentInstructionSettle, DedupKey: "p1:SETTLE",
		Status: domain.PaymentInstructionPending, CreatedAt: now, UpdatedAt: now,
	}))

	err := store.Payments.Enqueue(ctx, &domain.PaymentInstruction{ID: "i2", DedupKey: "p1:SETTLE"})
	assert.ErrorIs(t, err, domain.ErrDuplicateInstruction)

	claimed, err := store.Payments.Claim(ctx, "i1", now, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = store.Payments.Claim(ctx, "i1", now, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, claimed)

	pending, err := store.Payments.ListPending(ctx, 10, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Once the lease lapsed the instruction is deliverable again.
	later := now.Add(5 * time.Minute)
	pending, err = store.Payments.ListPending(ctx, 10, later.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	claimed, err = store.Payments.Claim(ctx, "i1", later, later.Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, claimed)

	_, err = store.Payments.Claim(ctx, "missing", now, now)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPaymentInstructionRepository_CancelPending(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now().UTC()
	for _, in := range []domain.PaymentInstruction{
		{ID: "hold-a", DedupKey: "p1:HOLD:a", Status: domain.PaymentInstructionPending},
		{ID: "hold-b", DedupKey: "p1:HOLD:b", Status: domain.PaymentInstructionDelivered},
		{ID: "settle", DedupKey: "p1:SETTLE", Status: domain.PaymentInstructionPending},
	} {
		in := in
		in.PoolID = "p1"
		require.NoError(t, store.Payments.Enqueue(ctx, &in))
	}
	claimed, err := store.Payments.Claim(ctx, "settle", now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	n, err := store.Payments.CancelPending(ctx, []string{"p1:HOLD:a", "p1:HOLD:b", "p1:SETTLE", "p1:HOLD:missing"}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for id, want := range map[string]domain.PaymentInstructionStatus{
		"hold-a": domain.PaymentInstructionCancelled,
		"hold-b": domain.PaymentInstructionDelivered,
		"settle": domain.PaymentInstructionCancelled,
	} {
		in, err := store.Payments.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, in.Status, id)
	}

	// A worker that claimed the instruction before it was cancelled cannot overwrite it.
	in, err := store.Payments.GetByID(ctx, "settle")
	require.NoError(t, err)
	in.Status = domain.PaymentInstructionDelivered
	assert.ErrorIs(t, store.Payments.Update(ctx, in), domain.ErrNotFound)

	pending, err := store.Payments.ListPending(ctx, 10, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPaymentInstructionRepository_CancelPendingRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.Payments.Enqueue(ctx, &domain.PaymentInstruction{
		ID: "hold", PoolID: "p1", DedupKey: "p1:HOLD:a", Status: domain.PaymentInstructionPending,
	}))

	err := store.Transactor.WithTx(ctx, func(ctx context.Context) error {
		n, err := store.Payments.CancelPending(ctx, []string{"p1:HOLD:a"}, time.Now())
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
		return errors.New("abort")
	})
	require.Error(t, err)

	in, err := store.Payments.GetByID(ctx, "hold")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentInstructionPending, in.Status)
}

func TestPoolRepository_ListStalledMatching(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now().UTC()

	started := now.Add(-10 * time.Minute)
	stalled := testPool("stalled")
	stalled.Status = domain.PoolStatusMatching
	stalled.MatchStartedAt = &started
	legacy := testPool("legacy")
	legacy.Status = domain.PoolStatusMatching
	legacy.UpdatedAt = now.Add(-time.Hour)
	recent := testPool("recent")
	recent.Status = domain.PoolStatusMatching
	recent.MatchStartedAt = &now
	open := testPool("open")
	open.UpdatedAt = now.Add(-time.Hour)
	for _, p := range []*domain.Pool{stalled, legacy, recent, open} {
		require.NoError(t, store.Pools.Create(ctx, p))
	}

	ids, err := store.Pools.ListStalledMatching(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"legacy", "stalled"}, ids)
}

func TestPoolRepository_ListAndExpired(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now().UTC()

	old := testPool("old")
	old.Deadline = now.Add(-time.Hour)
	old.CreatedAt = now.Add(-2 * time.Hour)
	closed := testPool("closed")
	closed.Deadline = now.Add(-time.Hour)
	closed.Status = domain.PoolStatusCancelled
	fresh := testPool("fresh")
	for _, p := range []*domain.Pool{old, closed, fresh} {
		require.NoError(t, store.Pools.Create(ctx, p))
	}

	ids, err := store.Pools.ListExpiredOpen(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids)

	pools, total, err := store.Pools.List(ctx, domain.PoolStatusOpen, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(2), total)
	require.Len(t, pools, 1)
	assert.Equal(t, "fresh", pools[0].ID)

	pools, _, err = store.Pools.List(ctx, "", 2, 2)
	require.NoError(t, err)
	assert.Len(t, pools, 1)
}

func TestNotificationRepository(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Now().UTC()
	for i, id := range []string{"n1", "n2", "n3"} {
		require.NoError(t, store.Notifications.Create(ctx, &domain.Notification{
			ID: id, UserID: "u1", CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	notes, total, err := store.Notifications.List(ctx, "u1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(3), total)
	require.Len(t, notes, 2)
	assert.Equal(t, "n3", notes[0].ID)

	notes, _, err = store.Notifications.List(ctx, "u1", 2, 5)
	require.NoError(t, err)
	assert.Empty(t, notes)

	require.NoError(t, store.Notifications.MarkAsRead(ctx, "n1", "u1"))
	assert.ErrorIs(t, store.Notifications.MarkAsRead(ctx, "n1", "u2"), domain.ErrNotFound)
}
