package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sportsbook-ops/backbone/infrastructure/httputil"
	"github.com/sportsbook-ops/backbone/internal/domain/commission"
)

type revenueSliceRequest struct {
	Sport      string `json:"sport"`
	BetType    string `json:"betType"`
	CustomerID string `json:"customerId"`
	Amount     int64  `json:"amount"`
}

type calculateCommissionRequest struct {
	AgentID     string                 `json:"agentId"`
	PeriodStart time.Time              `json:"periodStart"`
	PeriodEnd   time.Time              `json:"periodEnd"`
	Slices      []revenueSliceRequest  `json:"slices"`
	Metrics     map[string]float64     `json:"metrics,omitempty"`
}

func (h *handler) calculateCommission(w http.ResponseWriter, r *http.Request) {
	var req calculateCommissionRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	slices := make([]commission.RevenueSlice, 0, len(req.Slices))
	for _, s := range req.Slices {
		slices = append(slices, commission.RevenueSlice{
			Sport: s.Sport, BetType: s.BetType, CustomerID: s.CustomerID, Amount: s.Amount,
		})
	}

	calc, err := h.deps.Commissions.Calculate(r.Context(), commission.CalculateInput{
		AgentID: req.AgentID, PeriodStart: req.PeriodStart, PeriodEnd: req.PeriodEnd,
		Slices: slices, Metrics: req.Metrics,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := h.deps.Commissions.PersistCalculation(r.Context(), calc); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusCreated, calc, nil)
}

type createPayoutRequest struct {
	AgentID        string   `json:"agentId"`
	Currency       string   `json:"currency"`
	Amount         int64    `json:"amount"`
	CalculationIDs []string `json:"calculationIds"`
}

func (h *handler) createPayout(w http.ResponseWriter, r *http.Request) {
	var req createPayoutRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	payout, err := h.deps.Commissions.CreatePayout(r.Context(), req.AgentID, req.Currency, req.Amount, req.CalculationIDs)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusCreated, payout, nil)
}

func (h *handler) processPayout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProcessedBy string `json:"processedBy"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	payout, err := h.deps.Commissions.ProcessPayout(r.Context(), chi.URLParam(r, "payoutID"), req.ProcessedBy)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusOK, payout, nil)
}

func (h *handler) completePayout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Correlation string `json:"correlation"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	payout, err := h.deps.Commissions.CompletePayout(r.Context(), chi.URLParam(r, "payoutID"), req.Correlation)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusOK, payout, nil)
}

func (h *handler) failPayout(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	payout, err := h.deps.Commissions.FailPayout(r.Context(), chi.URLParam(r, "payoutID"), req.Reason)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusOK, payout, nil)
}

func (h *handler) cancelPayout(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	payout, err := h.deps.Commissions.CancelPayout(r.Context(), chi.URLParam(r, "payoutID"), req.Reason)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusOK, payout, nil)
}
