package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"barterpool-backend/internal/domain"
	"barterpool-backend/internal/service"
)

type PoolHandler struct {
	pools  service.PoolLifecycle
	ledger service.ContributionLedger
}

func NewPoolHandler(pools service.PoolLifecycle, ledger service.ContributionLedger) *PoolHandler {
	return &PoolHandler{pools: pools, ledger: ledger}
}

func (h *PoolHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromContext(r.Context())
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in domain.CreatePoolInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	pool, err := h.pools.CreatePool(r.Context(), userID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pool)
}

func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	page, size, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := domain.PoolStatus(r.URL.Query().Get("status"))
	pools, total, err := h.pools.ListPools(r.Context(), status, page, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if pools == nil {
		pools = []domain.Pool{}
	}
	writeJSON(w, http.StatusOK, listResponse[domain.Pool]{Items: pools, TotalCount: total, Page: page, PageSize: size})
}

func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	detail, err := h.pools.GetPool(r.Context(), mux.Vars(r)["poolID"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *PoolHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	poolID := mux.Vars(r)["poolID"]
	entries, err := h.ledger.History(r.Context(), poolID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	value, err := h.ledger.CurrentValue(r.Context(), poolID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, struct {
		PoolID       string               `json:"pool_id"`
		CurrentValue int64                `json:"current_value"`
		Entries      []domain.LedgerEntry `json:"entries"`
	}{poolID, value, entries})
}

func (h *PoolHandler) GetShareTable(w http.ResponseWriter, r *http.Request) {
	table, err := h.ledger.ShareTable(r.Context(), mux.Vars(r)["poolID"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

type rejectTermsRequest struct {
	Reason string `json:"reason"`
}

// poolAction adapts a creator or stakeholder action that returns the updated pool.
func (h *PoolHandler) poolAction(action func(r *http.Request, poolID, userID string) (*domain.Pool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromContext(r.Context())
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, err.Error())
			return
		}
		pool, err := action(r, mux.Vars(r)["poolID"], userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pool)
	}
}

func (h *PoolHandler) Cancel() http.HandlerFunc {
	return h.poolAction(func(r *http.Request, poolID, userID string) (*domain.Pool, error) {
		return h.pools.Cancel(r.Context(), poolID, userID)
	})
}

func (h *PoolHandler) StartMatching() http.HandlerFunc {
	return h.poolAction(func(r *http.Request, poolID, userID string) (*domain.Pool, error) {
		return h.pools.StartMatching(r.Context(), poolID, userID)
	})
}

func (h *PoolHandler) ConfirmTerms() http.HandlerFunc {
	return h.poolAction(func(r *http.Request, poolID, userID string) (*domain.Pool, error) {
		return h.pools.ConfirmTerms(r.Context(), poolID, userID)
	})
}

func (h *PoolHandler) FinalizeTerms() http.HandlerFunc {
	return h.poolAction(func(r *http.Request, poolID, userID string) (*domain.Pool, error) {
		return h.pools.FinalizeTerms(r.Context(), poolID, userID)
	})
}

func (h *PoolHandler) RejectTerms() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rejectTermsRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, r, err)
				return
			}
		}
		h.poolAction(func(r *http.Request, poolID, userID string) (*domain.Pool, error) {
			return h.pools.RejectTerms(r.Context(), poolID, userID, req.Reason)
		})(w, r)
	}
}
