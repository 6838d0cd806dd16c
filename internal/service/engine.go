package service

import (
	"context"
	"time"

	"barterpool-backend/internal/repository"
)

// Options tunes the engine.
type Options struct {
	MatchTimeout       time.Duration
	PaymentMaxAttempts int
	PaymentBatchSize   int
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Collaborators are the external systems the engine talks to. Push may be nil.
type Collaborators struct {
	Matcher Matcher
	Payment PaymentGateway
	Push    PushSender
}

// Engine wires the barter pool components around one store and one locker.
type Engine struct {
	Ledger        ContributionLedger
	Registry      ParticipantRegistry
	Pools         PoolLifecycle
	Matching      MatchCoordinator
	Payments      *PaymentDispatcher
	Notifications NotificationService
}

func NewEngine(store *repository.Store, locker PoolLocker, collab Collaborators, opts Options) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	if opts.MatchTimeout <= 0 {
		opts.MatchTimeout = 30 * time.Second
	}

	guard := &poolGuard{store: store, locker: locker, clock: clock}
	payments := NewPaymentDispatcher(store, collab.Payment, opts.PaymentMaxAttempts, opts.PaymentBatchSize)
	payments.clock = clock
	ledger := newContributionLedger(guard, payments)
	notes := &notifier{noteRepo: store.Notifications, push: collab.Push, clock: clock}

	lifecycle := &poolLifecycle{guard: guard, ledger: ledger, notifier: notes}
	matching := &matchCoordinator{
		guard:     guard,
		lifecycle: lifecycle,
		matcher:   collab.Matcher,
		timeout:   opts.MatchTimeout,
		searches:  make(map[string]context.CancelFunc),
	}
	lifecycle.matching = matching
	payments.settled = lifecycle.settlementOutcome

	return &Engine{
		Ledger:        ledger,
		Registry:      &participantRegistry{guard: guard, ledger: ledger, notifier: notes},
		Pools:         lifecycle,
		Matching:      matching,
		Payments:      payments,
		Notifications: NewNotificationService(store.Notifications),
	}
}
