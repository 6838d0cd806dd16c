package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barterpool-backend/internal/domain"
	"barterpool-backend/internal/matching"
	"barterpool-backend/internal/payment"
	"barterpool-backend/internal/repository/memory"
	"barterpool-backend/internal/security"
	"barterpool-backend/internal/service"
)

const testSecret = "test-secret-test-secret-test-secret!"

type apiFixture struct {
	engine *service.Engine
	tm     security.TokenManager
	router *mux.Router
}

func newAPIFixture(t *testing.T, limiter *RateLimiter) *apiFixture {
	t.Helper()
	engine := service.NewEngine(memory.NewStore(), service.NewLocalPoolLocker(), service.Collaborators{
		Matcher: &matching.Mock{},
		Payment: payment.LoggingGateway{},
	}, service.Options{MatchTimeout: time.Second})
	t.Cleanup(engine.Matching.Wait)

	tm := security.NewTokenManager(testSecret)
	if limiter == nil {
		limiter = NewRateLimiter(1000, 1000)
	}
	return &apiFixture{engine: engine, tm: tm, router: NewRouter(engine, tm, limiter)}
}

func (f *apiFixture) userToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := f.tm.GenerateAccessToken(userID)
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createPoolBody() map[string]any {
	return map[string]any{
		"title":              "Shared camera",
		"target_description": "mirrorless camera",
		"target_min_value":   10000,
		"target_max_value":   15000,
		"min_participants":   3,
		"max_participants":   5,
		"deadline":           time.Now().Add(24 * time.Hour).Format(time.RFC3339),
	}
}

func TestRouter_PoolFlow(t *testing.T) {
	f := newAPIFixture(t, nil)
	creator := f.userToken(t, "creator")

	rec := f.do(t, http.MethodPost, "/api/v1/pools", creator, createPoolBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pool := decode[domain.Pool](t, rec)
	assert.Equal(t, domain.PoolStatusOpen, pool.Status)
	assert.Equal(t, "creator", pool.CreatorID)

	for i := 1; i <= 3; i++ {
		user := f.userToken(t, fmt.Sprintf("user-%d", i))
		rec = f.do(t, http.MethodPost, "/api/v1/pools/"+pool.ID+"/participants", user, map[string]any{"cash_amount": 4000})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		p := decode[domain.Participant](t, rec)

		rec = f.do(t, http.MethodPost, "/api/v1/pools/"+pool.ID+"/participants/"+p.ID+"/approve", user, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "NOT_AUTHORIZED", decode[errorResponse](t, rec).Code)

		rec = f.do(t, http.MethodPost, "/api/v1/pools/"+pool.ID+"/participants/"+p.ID+"/approve", creator, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/v1/pools/"+pool.ID+"/ledger", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ledger := decode[struct {
		CurrentValue int64                `json:"current_value"`
		Entries      []domain.LedgerEntry `json:"entries"`
	}](t, rec)
	assert.Equal(t, int64(12000), ledger.CurrentValue)
	assert.Len(t, ledger.Entries, 3)

	rec = f.do(t, http.MethodGet, "/api/v1/pools/"+pool.ID+"/shares", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[domain.ShareTable](t, rec).Entries, 3)

	rec = f.do(t, http.MethodPost, "/api/v1/pools/"+pool.ID+"/start-matching", creator, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	f.engine.Matching.Wait()

	rec = f.do(t, http.MethodGet, "/api/v1/pools/"+pool.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[domain.PoolDetail](t, rec)
	assert.Equal(t, domain.PoolStatusMatched, detail.Status)
	assert.Equal(t, int64(12500), detail.MatchedPrice)
	assert.Equal(t, int32(3), detail.ParticipantCount)

	rec = f.do(t, http.MethodGet, "/api/v1/pools?status=MATCHED", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[listResponse[domain.Pool]](t, rec)
	assert.Equal(t, int32(1), list.TotalCount)

	rec = f.do(t, http.MethodGet, "/api/v1/notifications?page=1&page_size=5", f.userToken(t, "user-1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	notes := decode[listResponse[domain.Notification]](t, rec)
	assert.NotZero(t, notes.TotalCount)
	require.NotEmpty(t, notes.Items)

	rec = f.do(t, http.MethodPost, "/api/v1/notifications/"+notes.Items[0].ID+"/read", f.userToken(t, "user-1"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Authentication(t *testing.T) {
	f := newAPIFixture(t, nil)
	serviceToken, err := f.tm.GenerateServiceToken("matching")
	require.NoError(t, err)

	t.Run("MissingToken", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/pools", "", createPoolBody())
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("InvalidToken", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/pools", "not-a-jwt", createPoolBody())
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("ServiceTokenOnUserRoute", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/pools", serviceToken, createPoolBody())
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("UserTokenOnCallback", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/pools/any/match-result", f.userToken(t, "user-1"), map[string]any{})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("PublicRoutes", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "", nil).Code)
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/pools", "", nil).Code)
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/pools/missing", "", nil).Code)
	})
}

func TestRouter_MatchResultCallback(t *testing.T) {
	f := newAPIFixture(t, nil)
	ctx := context.Background()
	serviceToken, err := f.tm.GenerateServiceToken("matching")
	require.NoError(t, err)

	pool, err := f.engine.Pools.CreatePool(ctx, "creator", domain.CreatePoolInput{
		Title: "Kayak", TargetMinValue: 100, TargetMaxValue: 200,
		MinParticipants: 1, MaxParticipants: 2, Deadline: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	// The pool is still OPEN, so the result is acknowledged but discarded.
	rec := f.do(t, http.MethodPost, "/api/v1/pools/"+pool.ID+"/match-result", serviceToken, map[string]any{
		"request_id": "r-1",
		"candidate":  map[string]any{"item_id": "k-1", "title": "Kayak", "price": 150},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]bool{"applied": false}, decode[map[string]bool](t, rec))

	rec = f.do(t, http.MethodPost, "/api/v1/pools/"+pool.ID+"/execution-result", serviceToken, map[string]any{"succeeded": true})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATE", decode[errorResponse](t, rec).Code)
}

func TestRouter_ErrorMapping(t *testing.T) {
	f := newAPIFixture(t, nil)
	creator := f.userToken(t, "creator")
	user := f.userToken(t, "user-1")

	rec := f.do(t, http.MethodPost, "/api/v1/pools", creator, map[string]any{"title": "x", "unknown": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decode[errorResponse](t, rec).Code)

	rec = f.do(t, http.MethodPost, "/api/v1/pools", creator, createPoolBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	pool := decode[domain.Pool](t, rec)

	path := "/api/v1/pools/" + pool.ID + "/participants"
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, path, user, map[string]any{"cash_amount": 100}).Code)
	rec = f.do(t, http.MethodPost, path, user, map[string]any{"cash_amount": 100})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DUPLICATE_PARTICIPANT", decode[errorResponse](t, rec).Code)

	rec = f.do(t, http.MethodPost, "/api/v1/pools/"+pool.ID+"/start-matching", creator, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/pools/"+pool.ID+"/cancel", creator, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, path, f.userToken(t, "user-2"), map[string]any{"cash_amount": 100})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "POOL_NOT_JOINABLE", decode[errorResponse](t, rec).Code)

	rec = f.do(t, http.MethodGet, "/api/v1/pools?page=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_RateLimit(t *testing.T) {
	f := newAPIFixture(t, NewRateLimiter(0.001, 1))
	creator := f.userToken(t, "creator")

	assert.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/pools", creator, createPoolBody()).Code)
	rec := f.do(t, http.MethodPost, "/api/v1/pools", creator, createPoolBody())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Reads are not throttled, and other users have their own budget.
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/pools", creator, nil).Code)
	assert.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/pools", f.userToken(t, "other"), createPoolBody()).Code)
}
