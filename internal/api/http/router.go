package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"barterpool-backend/internal/metrics"
	"barterpool-backend/internal/security"
	"barterpool-backend/internal/service"
)

// NewRouter mounts the API under /api/v1. Route names key the endpoint
// security table in config.
func NewRouter(engine *service.Engine, tm security.TokenManager, limiter *RateLimiter) *mux.Router {
	pools := NewPoolHandler(engine.Pools, engine.Ledger)
	participants := NewParticipantHandler(engine.Registry)
	notes := NewNotificationHandler(engine.Notifications)
	callbacks := NewCallbackHandler(engine.Matching, engine.Pools)

	r := mux.NewRouter()
	r.Use(metrics.InstrumentHandler)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet).Name("Health")
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet).Name("Metrics")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(NewAuthMiddleware(tm).Handler)
	if limiter != nil {
		api.Use(limiter.Handler)
	}

	api.HandleFunc("/pools", pools.CreatePool).Methods(http.MethodPost).Name("CreatePool")
	api.HandleFunc("/pools", pools.ListPools).Methods(http.MethodGet).Name("ListPools")
	api.HandleFunc("/pools/{poolID}", pools.GetPool).Methods(http.MethodGet).Name("GetPool")
	api.HandleFunc("/pools/{poolID}/ledger", pools.GetLedger).Methods(http.MethodGet).Name("GetPoolLedger")
	api.HandleFunc("/pools/{poolID}/shares", pools.GetShareTable).Methods(http.MethodGet).Name("GetPoolShareTable")
	api.HandleFunc("/pools/{poolID}/cancel", pools.Cancel()).Methods(http.MethodPost).Name("CancelPool")
	api.HandleFunc("/pools/{poolID}/start-matching", pools.StartMatching()).Methods(http.MethodPost).Name("StartMatching")
	api.HandleFunc("/pools/{poolID}/terms/confirm", pools.ConfirmTerms()).Methods(http.MethodPost).Name("ConfirmTerms")
	api.HandleFunc("/pools/{poolID}/terms/finalize", pools.FinalizeTerms()).Methods(http.MethodPost).Name("FinalizeTerms")
	api.HandleFunc("/pools/{poolID}/terms/reject", pools.RejectTerms()).Methods(http.MethodPost).Name("RejectTerms")

	api.HandleFunc("/pools/{poolID}/participants", participants.ListParticipants).Methods(http.MethodGet).Name("ListParticipants")
	api.HandleFunc("/pools/{poolID}/participants", participants.RequestJoin).Methods(http.MethodPost).Name("RequestJoin")
	api.HandleFunc("/pools/{poolID}/participants/{participantID}", participants.UpdateContribution).Methods(http.MethodPut).Name("UpdateContribution")
	api.HandleFunc("/pools/{poolID}/participants/{participantID}/approve", participants.Approve()).Methods(http.MethodPost).Name("ApproveParticipant")
	api.HandleFunc("/pools/{poolID}/participants/{participantID}/reject", participants.Reject()).Methods(http.MethodPost).Name("RejectParticipant")
	api.HandleFunc("/pools/{poolID}/participants/{participantID}/withdraw", participants.Withdraw()).Methods(http.MethodPost).Name("WithdrawParticipant")

	api.HandleFunc("/pools/{poolID}/match-result", callbacks.MatchResult).Methods(http.MethodPost).Name("MatchResult")
	api.HandleFunc("/pools/{poolID}/execution-result", callbacks.ExecutionResult).Methods(http.MethodPost).Name("ExecutionResult")

	api.HandleFunc("/notifications", notes.GetNotifications).Methods(http.MethodGet).Name("ListNotifications")
	api.HandleFunc("/notifications/{notificationID}/read", notes.MarkNotificationRead).Methods(http.MethodPost).Name("MarkNotificationRead")

	return r
}
