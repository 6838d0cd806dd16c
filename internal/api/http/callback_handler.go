package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"barterpool-backend/internal/domain"
	"barterpool-backend/internal/service"
)

// CallbackHandler receives results pushed by the matching and payment collaborators.
type CallbackHandler struct {
	matching service.MatchCoordinator
	pools    service.PoolLifecycle
}

func NewCallbackHandler(matching service.MatchCoordinator, pools service.PoolLifecycle) *CallbackHandler {
	return &CallbackHandler{matching: matching, pools: pools}
}

type matchResultRequest struct {
	RequestID string                 `json:"request_id"`
	Candidate *domain.MatchCandidate `json:"candidate"`
	Reason    string                 `json:"reason"`
}

func (h *CallbackHandler) MatchResult(w http.ResponseWriter, r *http.Request) {
	var req matchResultRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	applied, err := h.matching.OnMatchResult(r.Context(), mux.Vars(r)["poolID"], domain.MatchResult{
		RequestID: req.RequestID,
		Candidate: req.Candidate,
		Reason:    req.Reason,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	// A discarded result is acknowledged so the collaborator stops retrying.
	writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

type executionResultRequest struct {
	Succeeded bool   `json:"succeeded"`
	Reason    string `json:"reason"`
}

func (h *CallbackHandler) ExecutionResult(w http.ResponseWriter, r *http.Request) {
	var req executionResultRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	pool, err := h.pools.ReportExecution(r.Context(), mux.Vars(r)["poolID"], req.Succeeded, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}
