// Package agentgraph manages the agent hierarchy: creation, hierarchy
// queries, customer attachment, and suspend/reactivate lifecycle moves.
package agentgraph

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sportsbook-ops/backbone/infrastructure/apperr"
	"github.com/sportsbook-ops/backbone/infrastructure/cache"
	"github.com/sportsbook-ops/backbone/infrastructure/logging"
	"github.com/sportsbook-ops/backbone/internal/domain/model"
	"github.com/sportsbook-ops/backbone/internal/domain/store"
)

// defaultMaxDepth bounds parent-chain walks when Config.MaxHierarchyDepth is unset.
const defaultMaxDepth = 8

// EventPublisher is the minimal surface AgentGraph needs from the event
// fabric. Implemented by the eventbus package; declared here so this
// package has no import-time dependency on it.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, scope map[string]string, payload map[string]interface{}) error
}

// noopPublisher discards events; used when no bus is wired (tests).
type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, map[string]string, map[string]interface{}) error {
	return nil
}

// Config tunes AgentGraph behavior per spec §6.
type Config struct {
	MaxHierarchyDepth int
}

// AgentGraph is the agent hierarchy component.
type AgentGraph struct {
	store     store.Store
	logger    *logging.Logger
	publisher EventPublisher
	cache     *cache.Cache
	maxDepth  int
}

// New builds an AgentGraph. publisher may be nil, in which case events are
// discarded (useful for component-level tests that don't exercise the bus).
func New(s store.Store, logger *logging.Logger, publisher EventPublisher, cfg Config) *AgentGraph {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	maxDepth := cfg.MaxHierarchyDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	return &AgentGraph{
		store:     s,
		logger:    logger,
		publisher: publisher,
		cache:     cache.New(cache.DefaultConfig()),
		maxDepth:  maxDepth,
	}
}

// Close stops the background cache cleanup loop.
func (g *AgentGraph) Close() { g.cache.Close() }

// CreateAgentInput is the payload for CreateAgent.
type CreateAgentInput struct {
	Login                 string
	ParentID               string
	Type                   model.AgentType
	OfficeTag              string
	CommissionStructureID  string
	Permissions            uint64
	Config                 map[string]string
}

// CreateAgent validates login uniqueness and parent existence, then
// persists a new active agent. Emits agent.created.
func (g *AgentGraph) CreateAgent(ctx context.Context, in CreateAgentInput) (*model.Agent, error) {
	if in.Login == "" {
		return nil, apperr.Validation("login", "required")
	}
	if in.Config == nil {
		in.Config = map[string]string{}
	}

	var created *model.Agent
	err := store.WithTx(ctx, g.store, func(tx store.Tx) error {
		claimed, err := tx.ReserveCorrelation(ctx, "agent-login:"+in.Login)
		if err != nil {
			return apperr.Internal("reserve login", err)
		}
		if !claimed {
			return apperr.Conflict("login already in use")
		}

		if in.ParentID != "" {
			parent, ok, err := tx.GetAgent(ctx, in.ParentID)
			if err != nil {
				return apperr.Internal("get parent", err)
			}
			if !ok {
				return apperr.NotFound("agent", in.ParentID)
			}
			_ = parent
		}

		now := store.Now()
		created = &model.Agent{
			ID:                    uuid.NewString(),
			Login:                 in.Login,
			ParentID:              in.ParentID,
			Type:                  in.Type,
			Status:                model.AgentStatusActive,
			OfficeTag:             in.OfficeTag,
			CommissionStructureID: in.CommissionStructureID,
			Permissions:           in.Permissions,
			Config:                in.Config,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if err := tx.PutAgent(ctx, created); err != nil {
			return apperr.Internal("put agent", err)
		}
		return tx.AppendAudit(ctx, &model.AuditEntry{
			Resource: "agent", ResourceID: created.ID, Action: "create", Result: "ok", Timestamp: now,
		})
	})
	if err != nil {
		return nil, err
	}

	g.cache.Bump()
	_ = g.publisher.Publish(ctx, "agent.created", map[string]string{"agentId": created.ID}, map[string]interface{}{
		"agentId": created.ID, "login": created.Login, "parentId": created.ParentID,
	})
	return created, nil
}

// AgentPatch carries the mutable subset of an Agent's fields.
type AgentPatch struct {
	ParentID              *string
	OfficeTag             *string
	CommissionStructureID *string
	Permissions           *uint64
	Config                map[string]string
}

// UpdateAgent applies patch, re-validating the acyclic parent-chain
// invariant when ParentID changes.
func (g *AgentGraph) UpdateAgent(ctx context.Context, id string, patch AgentPatch) (*model.Agent, error) {
	var updated *model.Agent
	err := store.WithTx(ctx, g.store, func(tx store.Tx) error {
		agent, ok, err := tx.GetAgent(ctx, id)
		if err != nil {
			return apperr.Internal("get agent", err)
		}
		if !ok {
			return apperr.NotFound("agent", id)
		}

		parentChanged := patch.ParentID != nil && *patch.ParentID != agent.ParentID
		if parentChanged {
			if err := g.checkAcyclic(ctx, tx, id, *patch.ParentID); err != nil {
				return err
			}
			agent.ParentID = *patch.ParentID
		}
		if patch.OfficeTag != nil {
			agent.OfficeTag = *patch.OfficeTag
		}
		if patch.CommissionStructureID != nil {
			agent.CommissionStructureID = *patch.CommissionStructureID
		}
		if patch.Permissions != nil {
			agent.Permissions = *patch.Permissions
		}
		if patch.Config != nil {
			agent.Config = patch.Config
		}
		agent.UpdatedAt = store.Now()

		if err := tx.PutAgent(ctx, agent); err != nil {
			return apperr.Internal("put agent", err)
		}
		updated = agent
		return tx.AppendAudit(ctx, &model.AuditEntry{
			Resource: "agent", ResourceID: id, Action: "update", Result: "ok", Timestamp: agent.UpdatedAt,
		})
	})
	if err != nil {
		return nil, err
	}
	g.cache.Bump()
	_ = g.publisher.Publish(ctx, "agent.updated", map[string]string{"agentId": id}, map[string]interface{}{"agentId": id})
	return updated, nil
}

// checkAcyclic walks newParentID's ancestor chain, failing with
// ErrInvariant if agentID appears in it or the chain exceeds maxDepth.
func (g *AgentGraph) checkAcyclic(ctx context.Context, tx store.Tx, agentID, newParentID string) error {
	if newParentID == "" {
		return nil
	}
	if newParentID == agentID {
		return apperr.Invariant("agent cannot be its own parent")
	}
	cursor := newParentID
	for depth := 0; depth < g.maxDepth; depth++ {
		parent, ok, err := tx.GetAgent(ctx, cursor)
		if err != nil {
			return apperr.Internal("walk ancestors", err)
		}
		if !ok {
			return apperr.NotFound("agent", cursor)
		}
		if parent.ID == agentID {
			return apperr.Invariant("parent change would introduce a cycle")
		}
		if parent.ParentID == "" {
			return nil
		}
		cursor = parent.ParentID
	}
	return apperr.Invariant("parent chain exceeds maximum hierarchy depth")
}

// AttachCustomer links a customer to an agent. A customer has at most one
// primary attachment; secondary/temporary split percentages must sum to
// <= 100% across all non-primary attachments.
func (g *AgentGraph) AttachCustomer(ctx context.Context, customerID, agentID string, kind model.AttachmentKind, splitBps int) error {
	if splitBps < 0 || splitBps > 10000 {
		return apperr.Validation("splitBps", "must be between 0 and 10000")
	}
	return store.WithTx(ctx, g.store, func(tx store.Tx) error {
		if _, ok, err := tx.GetAgent(ctx, agentID); err != nil {
			return apperr.Internal("get agent", err)
		} else if !ok {
			return apperr.NotFound("agent", agentID)
		}
		if _, ok, err := tx.GetCustomer(ctx, customerID); err != nil {
			return apperr.Internal("get customer", err)
		} else if !ok {
			return apperr.NotFound("customer", customerID)
		}

		existing, err := tx.ListAttachments(ctx, customerID)
		if err != nil {
			return apperr.Internal("list attachments", err)
		}

		if kind == model.AttachmentPrimary {
			for _, att := range existing {
				if att.Kind == model.AttachmentPrimary && att.AgentID != agentID {
					return apperr.Conflict("customer already has a primary agent")
				}
			}
		} else {
			total := splitBps
			for _, att := range existing {
				if att.Kind != model.AttachmentPrimary && att.AgentID != agentID {
					total += att.SplitBps
				}
			}
			if total > 10000 {
				return apperr.Invariant("secondary/temporary splits cannot exceed 100%")
			}
		}

		return tx.PutCustomerAttachment(ctx, model.CustomerAttachment{
			CustomerID: customerID, AgentID: agentID, Kind: kind, SplitBps: splitBps,
		})
	})
}

// HierarchyNode is the computed-on-read view returned by HierarchyOf.
type HierarchyNode struct {
	AgentID         string
	Level           int
	Children        []*HierarchyNode
	TotalSubAgents  int
	ActiveSubAgents int
}

// HierarchyOf returns the subtree rooted at id, memoized per (id,
// graph-version) so repeated reads between structural mutations are free.
func (g *AgentGraph) HierarchyOf(ctx context.Context, id string) (*HierarchyNode, error) {
	version := g.cache.Version()
	key := "hierarchy:" + id
	if cached, ok := g.cache.GetVersioned(key, version); ok {
		return cached.(*HierarchyNode), nil
	}

	if _, ok, err := g.store.GetAgent(ctx, id); err != nil {
		return nil, apperr.Internal("get agent", err)
	} else if !ok {
		return nil, apperr.NotFound("agent", id)
	}

	node, err := g.buildNode(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	g.cache.Set(key, node, 2*time.Minute)
	return node, nil
}

func (g *AgentGraph) buildNode(ctx context.Context, id string, level int) (*HierarchyNode, error) {
	children, err := g.store.ListChildAgents(ctx, id)
	if err != nil {
		return nil, apperr.Internal("list children", err)
	}
	node := &HierarchyNode{AgentID: id, Level: level}
	for _, child := range children {
		childNode, err := g.buildNode(ctx, child.ID, level+1)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, childNode)
		node.TotalSubAgents += 1 + childNode.TotalSubAgents
		if child.Status == model.AgentStatusActive {
			node.ActiveSubAgents++
		}
		node.ActiveSubAgents += childNode.ActiveSubAgents
	}
	return node, nil
}

// Suspend sets an agent's status to suspended. Descendants are not
// auto-suspended per spec.
func (g *AgentGraph) Suspend(ctx context.Context, id, reason string) error {
	return g.setStatus(ctx, id, model.AgentStatusSuspended, "suspend", reason)
}

// Reactivate sets a suspended agent's status back to active.
func (g *AgentGraph) Reactivate(ctx context.Context, id string) error {
	return g.setStatus(ctx, id, model.AgentStatusActive, "reactivate", "")
}

func (g *AgentGraph) setStatus(ctx context.Context, id string, status model.AgentStatus, action, reason string) error {
	err := store.WithTx(ctx, g.store, func(tx store.Tx) error {
		agent, ok, err := tx.GetAgent(ctx, id)
		if err != nil {
			return apperr.Internal("get agent", err)
		}
		if !ok {
			return apperr.NotFound("agent", id)
		}
		if status == model.AgentStatusSuspended && agent.Status == model.AgentStatusTerminated {
			return apperr.Precondition("cannot suspend a terminated agent")
		}
		agent.Status = status
		agent.UpdatedAt = store.Now()
		if err := tx.PutAgent(ctx, agent); err != nil {
			return apperr.Internal("put agent", err)
		}
		details := map[string]interface{}{}
		if reason != "" {
			details["reason"] = reason
		}
		return tx.AppendAudit(ctx, &model.AuditEntry{
			Resource: "agent", ResourceID: id, Action: action, Result: "ok", Timestamp: agent.UpdatedAt, Details: details,
		})
	})
	if err != nil {
		return err
	}
	g.cache.Bump()
	eventType := "agent.suspended"
	if action == "reactivate" {
		eventType = "agent.reactivated"
	}
	_ = g.publisher.Publish(ctx, eventType, map[string]string{"agentId": id}, map[string]interface{}{"agentId": id})
	return nil
}
