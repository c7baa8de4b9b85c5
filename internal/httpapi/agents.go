package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sportsbook-ops/backbone/infrastructure/httputil"
	"github.com/sportsbook-ops/backbone/internal/domain/agentgraph"
	"github.com/sportsbook-ops/backbone/internal/domain/model"
)

// handler holds every collaborator a route needs. It carries no state of
// its own; all mutation happens inside the domain components it wraps.
type handler struct {
	deps Deps
}

type createAgentRequest struct {
	Login                 string            `json:"login"`
	ParentID               string            `json:"parentId"`
	Type                   model.AgentType   `json:"type"`
	OfficeTag              string            `json:"officeTag"`
	CommissionStructureID  string            `json:"commissionStructureId"`
	Permissions            uint64            `json:"permissions"`
	Config                 map[string]string `json:"config,omitempty"`
}

func (h *handler) createAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	agent, err := h.deps.AgentGraph.CreateAgent(r.Context(), agentgraph.CreateAgentInput{
		Login:                 req.Login,
		ParentID:              req.ParentID,
		Type:                  req.Type,
		OfficeTag:             req.OfficeTag,
		CommissionStructureID: req.CommissionStructureID,
		Permissions:           req.Permissions,
		Config:                req.Config,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusCreated, agent, nil)
}

type updateAgentRequest struct {
	ParentID               *string           `json:"parentId,omitempty"`
	OfficeTag              *string           `json:"officeTag,omitempty"`
	CommissionStructureID  *string           `json:"commissionStructureId,omitempty"`
	Permissions            *uint64           `json:"permissions,omitempty"`
	Config                 map[string]string `json:"config,omitempty"`
}

func (h *handler) updateAgent(w http.ResponseWriter, r *http.Request) {
	var req updateAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	agent, err := h.deps.AgentGraph.UpdateAgent(r.Context(), chi.URLParam(r, "agentID"), agentgraph.AgentPatch{
		ParentID:              req.ParentID,
		OfficeTag:             req.OfficeTag,
		CommissionStructureID: req.CommissionStructureID,
		Permissions:           req.Permissions,
		Config:                req.Config,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusOK, agent, nil)
}

type attachCustomerRequest struct {
	CustomerID string               `json:"customerId"`
	Kind       model.AttachmentKind `json:"kind"`
	SplitBps   int                  `json:"splitBps"`
}

func (h *handler) attachCustomer(w http.ResponseWriter, r *http.Request) {
	var req attachCustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	agentID := chi.URLParam(r, "agentID")
	if err := h.deps.AgentGraph.AttachCustomer(r.Context(), req.CustomerID, agentID, req.Kind, req.SplitBps); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusNoContent, nil, nil)
}

func (h *handler) hierarchy(w http.ResponseWriter, r *http.Request) {
	node, err := h.deps.AgentGraph.HierarchyOf(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusOK, node, nil)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *handler) suspendAgent(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := h.deps.AgentGraph.Suspend(r.Context(), chi.URLParam(r, "agentID"), req.Reason); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusNoContent, nil, nil)
}

func (h *handler) reactivateAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.AgentGraph.Reactivate(r.Context(), chi.URLParam(r, "agentID")); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusNoContent, nil, nil)
}
