package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sportsbook-ops/backbone/infrastructure/httputil"
	"github.com/sportsbook-ops/backbone/internal/domain/matchingqueue"
	"github.com/sportsbook-ops/backbone/internal/domain/model"
)

type enqueueItemRequest struct {
	Direction      model.QueueDirection `json:"direction"`
	CustomerID     string               `json:"customerId"`
	Amount         int64                `json:"amount"`
	Currency       string               `json:"currency"`
	AllowedMethods map[string]bool      `json:"allowedMethods,omitempty"`
	AllowPartial   bool                 `json:"allowPartial"`
	RiskScore      int                  `json:"riskScore"`
	Tier           model.CustomerTier   `json:"tier"`
}

func (h *handler) enqueueItem(w http.ResponseWriter, r *http.Request) {
	var req enqueueItemRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	item, err := h.deps.Queue.Enqueue(r.Context(), matchingqueue.EnqueueInput{
		Direction: req.Direction, CustomerID: req.CustomerID, Amount: req.Amount,
		Currency: req.Currency, AllowedMethods: req.AllowedMethods,
		AllowPartial: req.AllowPartial, RiskScore: req.RiskScore, Tier: req.Tier,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusCreated, item, nil)
}

func (h *handler) cancelQueueItem(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := h.deps.Queue.CancelItem(r.Context(), chi.URLParam(r, "itemID"), req.Reason); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusNoContent, nil, nil)
}

func (h *handler) queueStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, r, http.StatusOK, h.deps.Queue.Snapshot(), nil)
}
