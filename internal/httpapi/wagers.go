package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sportsbook-ops/backbone/infrastructure/apperr"
	"github.com/sportsbook-ops/backbone/infrastructure/httputil"
	"github.com/sportsbook-ops/backbone/internal/domain/model"
	"github.com/sportsbook-ops/backbone/internal/domain/wagerengine"
)

type createWagerRequest struct {
	CustomerID  string             `json:"customerId"`
	AgentID     string             `json:"agentId"`
	EventID     string             `json:"eventId"`
	BetType     string             `json:"betType"`
	Selection   string             `json:"selection"`
	Stake       int64              `json:"stake"`
	OddsMilli   int64              `json:"oddsMilli"`
	RiskLevel   string             `json:"riskLevel"`
	VIPTier     model.CustomerTier `json:"vipTier"`
	Currency    string             `json:"currency"`
	Correlation string             `json:"correlation"`
}

func (h *handler) createWager(w http.ResponseWriter, r *http.Request) {
	var req createWagerRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	wager, err := h.deps.WagerEngine.CreateBet(r.Context(), wagerengine.CreateBetInput{
		CustomerID: req.CustomerID, AgentID: req.AgentID, EventID: req.EventID,
		BetType: req.BetType, Selection: req.Selection, Stake: req.Stake,
		OddsMilli: req.OddsMilli, RiskLevel: req.RiskLevel, VIPTier: req.VIPTier,
		Currency: req.Currency, Correlation: req.Correlation,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusCreated, wager, nil)
}

type updateWagerRequest struct {
	Notes     *string             `json:"notes,omitempty"`
	RiskLevel *string             `json:"riskLevel,omitempty"`
	VIPTier   *model.CustomerTier `json:"vipTier,omitempty"`
}

func (h *handler) updateWager(w http.ResponseWriter, r *http.Request) {
	var req updateWagerRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	wager, err := h.deps.WagerEngine.UpdateBet(r.Context(), chi.URLParam(r, "wagerID"), wagerengine.BetPatch{
		Notes: req.Notes, RiskLevel: req.RiskLevel, VIPTier: req.VIPTier,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusOK, wager, nil)
}

type settleWagerRequest struct {
	Outcome     model.WagerStatus `json:"outcome"`
	Currency    string            `json:"currency"`
	SettledBy   string            `json:"settledBy"`
	Correlation string            `json:"correlation"`
}

func (h *handler) settleWager(w http.ResponseWriter, r *http.Request) {
	var req settleWagerRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	wager, err := h.deps.WagerEngine.SettleBet(r.Context(), wagerengine.Settlement{
		WagerID: chi.URLParam(r, "wagerID"), Outcome: req.Outcome,
		Currency: req.Currency, SettledBy: req.SettledBy, Correlation: req.Correlation,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusOK, wager, nil)
}

type cancelWagerRequest struct {
	Reason      string `json:"reason"`
	Currency    string `json:"currency"`
	Correlation string `json:"correlation"`
}

func (h *handler) cancelWager(w http.ResponseWriter, r *http.Request) {
	var req cancelWagerRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := h.deps.WagerEngine.CancelBet(r.Context(), chi.URLParam(r, "wagerID"), req.Reason, req.Currency, req.Correlation); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusNoContent, nil, nil)
}

type bulkSettleRequest struct {
	Settlements []settleWagerRequest `json:"settlements"`
}

// bulkSettleEvent settles every wager named in the request body in one call,
// returning per-wager success/failure so one bad wager doesn't abort the
// rest of the grading run. The event id in the route path is not read, so
// the wagers are not checked against that event.
func (h *handler) bulkSettleEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Settlements []struct {
			WagerID     string            `json:"wagerId"`
			Outcome     model.WagerStatus `json:"outcome"`
			Currency    string            `json:"currency"`
			SettledBy   string            `json:"settledBy"`
			Correlation string            `json:"correlation"`
		} `json:"settlements"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	settlements := make([]wagerengine.Settlement, 0, len(req.Settlements))
	for _, s := range req.Settlements {
		settlements = append(settlements, wagerengine.Settlement{
			WagerID: s.WagerID, Outcome: s.Outcome, Currency: s.Currency,
			SettledBy: s.SettledBy, Correlation: s.Correlation,
		})
	}

	results := h.deps.WagerEngine.BulkSettleBets(r.Context(), settlements)
	httputil.WriteSuccess(w, r, http.StatusOK, bulkSettleResponse(results), nil)
}

type bulkSettleItem struct {
	WagerID string       `json:"wagerId"`
	Wager   *model.Wager `json:"wager,omitempty"`
	Error   string       `json:"error,omitempty"`
}

func bulkSettleResponse(results []wagerengine.BulkSettleResult) []bulkSettleItem {
	out := make([]bulkSettleItem, 0, len(results))
	for _, res := range results {
		item := bulkSettleItem{WagerID: res.WagerID, Wager: res.Wager}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		out = append(out, item)
	}
	return out
}

type updateOddsRequest struct {
	MoneylineHomeMilli int64  `json:"moneylineHomeMilli"`
	MoneylineAwayMilli int64  `json:"moneylineAwayMilli"`
	Volume             int64  `json:"volume"`
	Reason             string `json:"reason"`
}

func (h *handler) updateOdds(w http.ResponseWriter, r *http.Request) {
	var req updateOddsRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	event, err := h.deps.WagerEngine.UpdateOdds(r.Context(), chi.URLParam(r, "eventID"), wagerengine.OddsUpdate{
		MoneylineHomeMilli: req.MoneylineHomeMilli,
		MoneylineAwayMilli: req.MoneylineAwayMilli,
		Volume:             req.Volume,
		Reason:             req.Reason,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusOK, event, nil)
}

// settlementHistory returns the settled wagers for a single event, the
// granularity the reconciliation desk actually queries by; a global
// cross-event scan has no supporting index in the store.
func (h *handler) settlementHistory(w http.ResponseWriter, r *http.Request) {
	eventID := r.URL.Query().Get("eventId")
	if eventID == "" {
		httputil.WriteError(w, r, apperr.Validation("eventId", "required query parameter"))
		return
	}
	wagers, err := h.deps.Store.ListWagersByEvent(r.Context(), eventID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	settled := make([]*model.Wager, 0, len(wagers))
	for _, wg := range wagers {
		switch wg.Status {
		case model.WagerStatusWon, model.WagerStatusLost, model.WagerStatusVoid, model.WagerStatusPushed, model.WagerStatusCancelled:
			settled = append(settled, wg)
		}
	}
	httputil.WriteSuccess(w, r, http.StatusOK, settled, &httputil.Pagination{Page: 1, PerPage: len(settled), TotalItems: len(settled)})
}
