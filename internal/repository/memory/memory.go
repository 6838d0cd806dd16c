// Package memory is an in-process store used for local runs and tests.
// Writes made inside WithTx are journaled and undone if the transaction fails.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"barterpool-backend/internal/domain"
	"barterpool-backend/internal/repository"
)

type db struct {
	mu            sync.RWMutex
	pools         map[string]domain.Pool
	participants  map[string]domain.Participant
	ledger        []domain.LedgerEntry
	instructions  map[string]domain.PaymentInstruction
	dedup         map[string]string
	notifications map[string]domain.Notification
}

type journalKey struct{}

// journal collects undo steps for the running transaction.
type journal struct {
	mu    sync.Mutex
	undos []func()
}

// record registers undo to run if the surrounding transaction fails.
// Callers hold d.mu.
func record(ctx context.Context, undo func()) {
	if j, ok := ctx.Value(journalKey{}).(*journal); ok {
		j.mu.Lock()
		j.undos = append(j.undos, undo)
		j.mu.Unlock()
	}
}

// NewStore returns an empty in-memory store.
func NewStore() *repository.Store {
	d := &db{
		pools:         make(map[string]domain.Pool),
		participants:  make(map[string]domain.Participant),
		instructions:  make(map[string]domain.PaymentInstruction),
		dedup:         make(map[string]string),
		notifications: make(map[string]domain.Notification),
	}
	return &repository.Store{
		Transactor:    &transactor{db: d},
		Pools:         &poolRepository{db: d},
		Participants:  &participantRepository{db: d},
		Ledger:        &ledgerRepository{db: d},
		Payments:      &paymentInstructionRepository{db: d},
		Notifications: &notificationRepository{db: d},
	}
}

type transactor struct {
	db *db
}

func (t *transactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(journalKey{}).(*journal); ok {
		return fn(ctx)
	}
	j := &journal{}
	if err := fn(context.WithValue(ctx, journalKey{}, j)); err != nil {
		t.db.mu.Lock()
		for i := len(j.undos) - 1; i >= 0; i-- {
			j.undos[i]()
		}
		t.db.mu.Unlock()
		return err
	}
	return nil
}

func clonePool(p domain.Pool) domain.Pool {
	p.Confirmations = slices.Clone(p.Confirmations)
	return p
}

func cloneInstruction(in domain.PaymentInstruction) domain.PaymentInstruction {
	in.Lines = slices.Clone(in.Lines)
	return in
}

func paginate[T any](items []T, page, pageSize int32) []T {
	if pageSize <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := int((page - 1) * pageSize)
	if start >= len(items) {
		return nil
	}
	end := start + int(pageSize)
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

type poolRepository struct {
	db *db
}

func (r *poolRepository) Create(ctx context.Context, p *domain.Pool) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.pools[p.ID] = clonePool(*p)
	id := p.ID
	record(ctx, func() { delete(r.db.pools, id) })
	return nil
}

func (r *poolRepository) GetByID(ctx context.Context, id string) (*domain.Pool, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	p, ok := r.db.pools[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := clonePool(p)
	return &cp, nil
}

// GetForUpdate relies on the caller's pool lock; memory has no row locks.
func (r *poolRepository) GetForUpdate(ctx context.Context, id string) (*domain.Pool, error) {
	return r.GetByID(ctx, id)
}

func (r *poolRepository) Update(ctx context.Context, p *domain.Pool) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	prev, ok := r.db.pools[p.ID]
	if !ok {
		return domain.ErrNotFound
	}
	r.db.pools[p.ID] = clonePool(*p)
	record(ctx, func() { r.db.pools[prev.ID] = prev })
	return nil
}

func (r *poolRepository) List(ctx context.Context, status domain.PoolStatus, page, pageSize int32) ([]domain.Pool, int32, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []domain.Pool
	for _, p := range r.db.pools {
		if status == "" || p.Status == status {
			out = append(out, clonePool(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, page, pageSize), int32(len(out)), nil
}

func (r *poolRepository) ListExpiredOpen(ctx context.Context, now time.Time) ([]string, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var expired []domain.Pool
	for _, p := range r.db.pools {
		if p.Status == domain.PoolStatusOpen && p.Deadline.Before(now) {
			expired = append(expired, p)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].Deadline.Before(expired[j].Deadline) })
	ids := make([]string, len(expired))
	for i, p := range expired {
		ids[i] = p.ID
	}
	return ids, nil
}

func (r *poolRepository) ListStalledMatching(ctx context.Context, startedBefore time.Time) ([]string, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var stalled []domain.Pool
	for _, p := range r.db.pools {
		if p.Status == domain.PoolStatusMatching && p.MatchStarted().Before(startedBefore) {
			stalled = append(stalled, p)
		}
	}
	sort.Slice(stalled, func(i, j int) bool { return stalled[i].MatchStarted().Before(stalled[j].MatchStarted()) })
	ids := make([]string, len(stalled))
	for i, p := range stalled {
		ids[i] = p.ID
	}
	return ids, nil
}

type participantRepository struct {
	db *db
}

func (r *participantRepository) Create(ctx context.Context, p *domain.Participant) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if p.Status.IsLive() {
		for _, other := range r.db.participants {
			if other.PoolID == p.PoolID && other.UserID == p.UserID && other.Status.IsLive() {
				return domain.ErrDuplicateParticipant
			}
		}
	}
	r.db.participants[p.ID] = *p
	id := p.ID
	record(ctx, func() { delete(r.db.participants, id) })
	return nil
}

func (r *participantRepository) GetByID(ctx context.Context, id string) (*domain.Participant, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	p, ok := r.db.participants[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (r *participantRepository) Update(ctx context.Context, p *domain.Participant) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	prev, ok := r.db.participants[p.ID]
	if !ok {
		return domain.ErrNotFound
	}
	r.db.participants[p.ID] = *p
	record(ctx, func() { r.db.participants[prev.ID] = prev })
	return nil
}

func (r *participantRepository) ListByPool(ctx context.Context, poolID string) ([]domain.Participant, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []domain.Participant
	for _, p := range r.db.participants {
		if p.PoolID == poolID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

type ledgerRepository struct {
	db *db
}

func (r *ledgerRepository) Append(ctx context.Context, e *domain.LedgerEntry) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.ledger = append(r.db.ledger, *e)
	id := e.ID
	record(ctx, func() {
		r.db.ledger = slices.DeleteFunc(r.db.ledger, func(x domain.LedgerEntry) bool { return x.ID == id })
	})
	return nil
}

func (r *ledgerRepository) ListByPool(ctx context.Context, poolID string) ([]domain.LedgerEntry, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []domain.LedgerEntry
	for _, e := range r.db.ledger {
		if e.PoolID == poolID {
			out = append(out, e)
		}
	}
	return out, nil
}

type paymentInstructionRepository struct {
	db *db
}

func (r *paymentInstructionRepository) Enqueue(ctx context.Context, in *domain.PaymentInstruction) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, dup := r.db.dedup[in.DedupKey]; dup {
		return domain.ErrDuplicateInstruction
	}
	r.db.instructions[in.ID] = cloneInstruction(*in)
	r.db.dedup[in.DedupKey] = in.ID
	id, key := in.ID, in.DedupKey
	record(ctx, func() {
		delete(r.db.instructions, id)
		delete(r.db.dedup, key)
	})
	return nil
}

func (r *paymentInstructionRepository) GetByID(ctx context.Context, id string) (*domain.PaymentInstruction, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	in, ok := r.db.instructions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := cloneInstruction(in)
	return &cp, nil
}

func (r *paymentInstructionRepository) Claim(ctx context.Context, id string, now, staleBefore time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	in, ok := r.db.instructions[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if !deliverable(in, staleBefore) {
		return false, nil
	}
	prev := in
	in.Status = domain.PaymentInstructionInFlight
	in.UpdatedAt = now
	r.db.instructions[id] = in
	record(ctx, func() { r.db.instructions[id] = prev })
	return true, nil
}

func deliverable(in domain.PaymentInstruction, staleBefore time.Time) bool {
	return in.Status == domain.PaymentInstructionPending ||
		(in.Status == domain.PaymentInstructionInFlight && in.UpdatedAt.Before(staleBefore))
}

func (r *paymentInstructionRepository) ListPending(ctx context.Context, limit int, staleBefore time.Time) ([]domain.PaymentInstruction, error) {
	out := r.filter(func(in domain.PaymentInstruction) bool {
		return deliverable(in, staleBefore)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *paymentInstructionRepository) ListByPool(ctx context.Context, poolID string) ([]domain.PaymentInstruction, error) {
	return r.filter(func(in domain.PaymentInstruction) bool { return in.PoolID == poolID }), nil
}

func (r *paymentInstructionRepository) filter(keep func(domain.PaymentInstruction) bool) []domain.PaymentInstruction {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []domain.PaymentInstruction
	for _, in := range r.db.instructions {
		if keep(in) {
			out = append(out, cloneInstruction(in))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *paymentInstructionRepository) Update(ctx context.Context, in *domain.PaymentInstruction) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	prev, ok := r.db.instructions[in.ID]
	if !ok || prev.Status == domain.PaymentInstructionCancelled {
		return domain.ErrNotFound
	}
	r.db.instructions[in.ID] = cloneInstruction(*in)
	record(ctx, func() { r.db.instructions[prev.ID] = prev })
	return nil
}

func (r *paymentInstructionRepository) CancelPending(ctx context.Context, dedupKeys []string, now time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for _, key := range dedupKeys {
		id, ok := r.db.dedup[key]
		if !ok {
			continue
		}
		in := r.db.instructions[id]
		if in.Status != domain.PaymentInstructionPending && in.Status != domain.PaymentInstructionInFlight {
			continue
		}
		prev := in
		in.Status = domain.PaymentInstructionCancelled
		in.UpdatedAt = now
		r.db.instructions[id] = in
		record(ctx, func() { r.db.instructions[id] = prev })
		n++
	}
	return n, nil
}

type notificationRepository struct {
	db *db
}

func (r *notificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.notifications[n.ID] = *n
	id := n.ID
	record(ctx, func() { delete(r.db.notifications, id) })
	return nil
}

func (r *notificationRepository) List(ctx context.Context, userID string, limit, offset int32) ([]domain.Notification, int32, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []domain.Notification
	for _, n := range r.db.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	total := int32(len(out))
	if offset >= total {
		return nil, total, nil
	}
	out = out[offset:]
	if limit > 0 && int32(len(out)) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (r *notificationRepository) MarkAsRead(ctx context.Context, id, userID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n, ok := r.db.notifications[id]
	if !ok || n.UserID != userID {
		return domain.ErrNotFound
	}
	prev := n
	n.IsRead = true
	r.db.notifications[id] = n
	record(ctx, func() { r.db.notifications[id] = prev })
	return nil
}
