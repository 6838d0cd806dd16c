package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"barterpool-backend/internal/domain"
	"barterpool-backend/internal/repository"
	"barterpool-backend/internal/repository/memory"
	"barterpool-backend/internal/service"
)

const creator = "creator"

// stubMatcher answers Search from its expectations. When gate is set, Search
// waits for it to close or for its context to end.
type stubMatcher struct {
	mock.Mock
	gate chan struct{}
}

func newStubMatcher() *stubMatcher {
	m := &stubMatcher{}
	m.answer(&domain.MatchCandidate{ItemID: "item-1", Title: "Camera", Price: 12000}, nil)
	return m
}

// answer sets the outcome of every later search.
func (m *stubMatcher) answer(candidate *domain.MatchCandidate, err error) {
	m.ExpectedCalls = nil
	m.On("Search", mock.AnythingOfType("domain.MatchQuery")).Return(candidate, err)
}

func (m *stubMatcher) Search(ctx context.Context, q domain.MatchQuery) (*domain.MatchCandidate, error) {
	args := m.Called(q)
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	candidate, _ := args.Get(0).(*domain.MatchCandidate)
	return candidate, args.Error(1)
}

func (m *stubMatcher) calls() int {
	return len(m.queries())
}

func (m *stubMatcher) queries() []domain.MatchQuery {
	var out []domain.MatchQuery
	for _, c := range m.Calls {
		out = append(out, c.Arguments.Get(0).(domain.MatchQuery))
	}
	return out
}

type gatewayCall struct {
	kind   domain.PaymentInstructionKind
	key    string
	poolID string
	lines  []domain.PaymentLine
}

var paymentKinds = []domain.PaymentInstructionKind{
	domain.PaymentInstructionHold,
	domain.PaymentInstructionRefund,
	domain.PaymentInstructionRelease,
	domain.PaymentInstructionSettle,
}

// recordingGateway is a mock gateway keyed by instruction kind. Every kind
// succeeds unless failNext or blockNext queued a different answer.
type recordingGateway struct {
	mock.Mock
}

func newRecordingGateway() *recordingGateway {
	g := &recordingGateway{}
	for _, kind := range paymentKinds {
		g.On(string(kind), mock.Anything, mock.Anything, mock.Anything).Return(nil)
	}
	return g
}

func (g *recordingGateway) Hold(ctx context.Context, key, poolID string, line domain.PaymentLine) error {
	return g.MethodCalled(string(domain.PaymentInstructionHold), key, poolID, []domain.PaymentLine{line}).Error(0)
}

func (g *recordingGateway) Refund(ctx context.Context, key, poolID string, line domain.PaymentLine) error {
	return g.MethodCalled(string(domain.PaymentInstructionRefund), key, poolID, []domain.PaymentLine{line}).Error(0)
}

func (g *recordingGateway) Release(ctx context.Context, key, poolID string, lines []domain.PaymentLine) error {
	return g.MethodCalled(string(domain.PaymentInstructionRelease), key, poolID, lines).Error(0)
}

func (g *recordingGateway) Settle(ctx context.Context, key, poolID string, lines []domain.PaymentLine) error {
	return g.MethodCalled(string(domain.PaymentInstructionSettle), key, poolID, lines).Error(0)
}

// first registers an expectation that takes precedence over the defaults.
func (g *recordingGateway) first(kind domain.PaymentInstructionKind) *mock.Call {
	rest := g.ExpectedCalls
	g.ExpectedCalls = nil
	call := g.On(string(kind), mock.Anything, mock.Anything, mock.Anything)
	g.ExpectedCalls = append(g.ExpectedCalls, rest...)
	return call
}

// failNext rejects the next n calls of kind.
func (g *recordingGateway) failNext(kind domain.PaymentInstructionKind, n int) {
	g.first(kind).Return(fmt.Errorf("%s rejected", kind)).Times(n)
}

// blockNext holds the next call of kind until release is closed. entered is
// closed once the call reached the gateway.
func (g *recordingGateway) blockNext(kind domain.PaymentInstructionKind) (entered <-chan struct{}, release chan struct{}) {
	in := make(chan struct{})
	release = make(chan struct{})
	g.first(kind).Run(func(mock.Arguments) {
		close(in)
		<-release
	}).Return(nil).Once()
	return in, release
}

// recorded lists the gateway calls in the order they arrived.
func (g *recordingGateway) recorded() []gatewayCall {
	var out []gatewayCall
	for _, c := range g.Calls {
		out = append(out, gatewayCall{
			kind:   domain.PaymentInstructionKind(c.Method),
			key:    c.Arguments.String(0),
			poolID: c.Arguments.String(1),
			lines:  c.Arguments.Get(2).([]domain.PaymentLine),
		})
	}
	return out
}

func (g *recordingGateway) kinds() []domain.PaymentInstructionKind {
	var out []domain.PaymentInstructionKind
	for _, c := range g.recorded() {
		out = append(out, c.kind)
	}
	return out
}

func (g *recordingGateway) callsOf(kind domain.PaymentInstructionKind) []gatewayCall {
	var out []gatewayCall
	for _, c := range g.recorded() {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

type fixture struct {
	engine  *service.Engine
	store   *repository.Store
	matcher *stubMatcher
	gateway *recordingGateway
}

func newFixture(t *testing.T, opts service.Options) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.NewStore(),
		matcher: newStubMatcher(),
		gateway: newRecordingGateway(),
	}
	if opts.MatchTimeout == 0 {
		opts.MatchTimeout = 2 * time.Second
	}
	f.engine = service.NewEngine(f.store, service.NewLocalPoolLocker(), service.Collaborators{
		Matcher: f.matcher,
		Payment: f.gateway,
	}, opts)
	t.Cleanup(f.engine.Matching.Wait)
	return f
}

// createPool makes the Scenario A pool unless overridden by mutate.
func (f *fixture) createPool(t *testing.T, mutate func(in *domain.CreatePoolInput)) *domain.Pool {
	t.Helper()
	in := domain.CreatePoolInput{
		Title:             "Group camera",
		TargetDescription: "camera",
		TargetMinValue:    10000,
		TargetMaxValue:    15000,
		MinParticipants:   3,
		MaxParticipants:   5,
		Deadline:          time.Now().Add(24 * time.Hour),
	}
	if mutate != nil {
		mutate(&in)
	}
	pool, err := f.engine.Pools.CreatePool(context.Background(), creator, in)
	require.NoError(t, err)
	return pool
}

func (f *fixture) join(t *testing.T, poolID, userID string, amount int64) *domain.Participant {
	t.Helper()
	p, err := f.engine.Registry.RequestJoin(context.Background(), poolID, userID, amount)
	require.NoError(t, err)
	return p
}

func (f *fixture) joinApproved(t *testing.T, poolID, userID string, amount int64) *domain.Participant {
	t.Helper()
	p := f.join(t, poolID, userID, amount)
	approved, err := f.engine.Registry.Approve(context.Background(), poolID, p.ID, creator)
	require.NoError(t, err)
	return approved
}

func (f *fixture) pool(t *testing.T, poolID string) *domain.PoolDetail {
	t.Helper()
	detail, err := f.engine.Pools.GetPool(context.Background(), poolID)
	require.NoError(t, err)
	return detail
}

func (f *fixture) instructions(t *testing.T, poolID string, kind domain.PaymentInstructionKind) []domain.PaymentInstruction {
	t.Helper()
	all, err := f.store.Payments.ListByPool(context.Background(), poolID)
	require.NoError(t, err)
	var out []domain.PaymentInstruction
	for _, in := range all {
		if in.Kind == kind {
			out = append(out, in)
		}
	}
	return out
}

func (f *fixture) ledgerKinds(t *testing.T, poolID string, kind domain.LedgerEntryKind) int {
	t.Helper()
	entries, err := f.engine.Ledger.History(context.Background(), poolID)
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// matchedPool drives a fresh Scenario A pool to MATCHED and returns it with its participants.
func (f *fixture) matchedPool(t *testing.T) (*domain.Pool, []*domain.Participant) {
	t.Helper()
	pool := f.createPool(t, nil)
	var ps []*domain.Participant
	for i := 1; i <= 3; i++ {
		ps = append(ps, f.joinApproved(t, pool.ID, fmt.Sprintf("user-%d", i), 4000))
	}
	_, err := f.engine.Pools.StartMatching(context.Background(), pool.ID, creator)
	require.NoError(t, err)
	f.engine.Matching.Wait()
	require.Equal(t, domain.PoolStatusMatched, f.pool(t, pool.ID).Status)
	return pool, ps
}
