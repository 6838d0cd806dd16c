package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"barterpool-backend/internal/domain"
	"barterpool-backend/internal/service"
)

type ParticipantHandler struct {
	registry service.ParticipantRegistry
}

func NewParticipantHandler(registry service.ParticipantRegistry) *ParticipantHandler {
	return &ParticipantHandler{registry: registry}
}

type contributionRequest struct {
	CashAmount int64 `json:"cash_amount"`
}

func (h *ParticipantHandler) RequestJoin(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromContext(r.Context())
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req contributionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.registry.RequestJoin(r.Context(), mux.Vars(r)["poolID"], userID, req.CashAmount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *ParticipantHandler) UpdateContribution(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromContext(r.Context())
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req contributionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	p, err := h.registry.UpdateContribution(r.Context(), vars["poolID"], vars["participantID"], userID, req.CashAmount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ParticipantHandler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := h.registry.ListParticipants(r.Context(), mux.Vars(r)["poolID"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if participants == nil {
		participants = []domain.Participant{}
	}
	writeJSON(w, http.StatusOK, participants)
}

type participantAction func(r *http.Request, poolID, participantID, userID string) (*domain.Participant, error)

func (h *ParticipantHandler) handle(action participantAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromContext(r.Context())
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, err.Error())
			return
		}
		vars := mux.Vars(r)
		p, err := action(r, vars["poolID"], vars["participantID"], userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func (h *ParticipantHandler) Approve() http.HandlerFunc {
	return h.handle(func(r *http.Request, poolID, participantID, userID string) (*domain.Participant, error) {
		return h.registry.Approve(r.Context(), poolID, participantID, userID)
	})
}

func (h *ParticipantHandler) Reject() http.HandlerFunc {
	return h.handle(func(r *http.Request, poolID, participantID, userID string) (*domain.Participant, error) {
		return h.registry.Reject(r.Context(), poolID, participantID, userID)
	})
}

func (h *ParticipantHandler) Withdraw() http.HandlerFunc {
	return h.handle(func(r *http.Request, poolID, participantID, userID string) (*domain.Participant, error) {
		return h.registry.Withdraw(r.Context(), poolID, participantID, userID)
	})
}
