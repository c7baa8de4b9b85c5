// Package store defines the durable, transactional access contract every
// domain component uses (spec §4.9). Two implementations satisfy it: an
// in-memory store for tests and small deployments, and a Postgres store
// backed by sqlx for production use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sportsbook-ops/backbone/internal/domain/model"
)

// ErrTxClosed is returned by any Tx method called after Commit or Rollback.
var ErrTxClosed = errors.New("store: transaction already closed")

// Store opens transactions. Every mutation a component performs runs inside
// one; readers may use Store directly for lock-free snapshots.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	// Reader methods usable outside a transaction for snapshot reads.
	Reader
}

// Reader exposes read-only lookups usable without a transaction.
type Reader interface {
	GetAgent(ctx context.Context, id string) (*model.Agent, bool, error)
	ListChildAgents(ctx context.Context, parentID string) ([]*model.Agent, error)
	ListAgents(ctx context.Context) ([]*model.Agent, error)
	GetCustomer(ctx context.Context, id string) (*model.Customer, bool, error)
	ListCustomersByAgent(ctx context.Context, agentID string) ([]*model.Customer, error)
	GetLedgerAccount(ctx context.Context, ref model.AccountRef) (*model.LedgerAccount, error)
	GetWager(ctx context.Context, id string) (*model.Wager, bool, error)
	ListWagersByEvent(ctx context.Context, eventID string) ([]*model.Wager, error)
	GetEvent(ctx context.Context, id string) (*model.Event, bool, error)
	ListEventsByStatus(ctx context.Context, statuses ...model.EventStatus) ([]*model.Event, error)
	GetCommissionStructure(ctx context.Context, id string) (*model.CommissionStructure, bool, error)
	GetPayout(ctx context.Context, id string) (*model.Payout, bool, error)
	GetQueueItem(ctx context.Context, id string) (*model.QueueItem, bool, error)
	ListQueueItemsByState(ctx context.Context, currency string, states ...model.QueueItemState) ([]*model.QueueItem, error)
	FindPostingByCorrelation(ctx context.Context, correlationID string) (*model.Posting, bool, error)
	ListAuditEntries(ctx context.Context, resource, resourceID string) ([]*model.AuditEntry, error)
}

// Tx is a single durable transaction. All writes made through it are
// invisible to other transactions until Commit returns successfully.
type Tx interface {
	Reader

	PutAgent(ctx context.Context, a *model.Agent) error
	PutCustomer(ctx context.Context, c *model.Customer) error
	PutCustomerAttachment(ctx context.Context, a model.CustomerAttachment) error
	ListAttachments(ctx context.Context, customerID string) ([]model.CustomerAttachment, error)

	PutLedgerAccount(ctx context.Context, a *model.LedgerAccount) error
	AppendPosting(ctx context.Context, p *model.Posting) error

	PutWager(ctx context.Context, w *model.Wager) error
	PutEvent(ctx context.Context, e *model.Event) error

	PutCommissionStructure(ctx context.Context, s *model.CommissionStructure) error
	PutCommissionCalculation(ctx context.Context, c *model.CommissionCalculation) error
	PutPayout(ctx context.Context, p *model.Payout) error

	PutQueueItem(ctx context.Context, q *model.QueueItem) error
	PutMatchAttempt(ctx context.Context, m *model.MatchAttempt) error
	GetMatchAttempt(ctx context.Context, id string) (*model.MatchAttempt, bool, error)

	AppendAudit(ctx context.Context, e *model.AuditEntry) error

	// ReserveCorrelation claims correlationID for this transaction's
	// mutation, returning false if it was already claimed by a prior
	// committed transaction. This is the idempotency primitive the spec
	// requires for retried operations.
	ReserveCorrelation(ctx context.Context, correlationID string) (bool, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic.
func WithTx(ctx context.Context, s Store, fn func(tx Tx) error) (err error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// Now is overridable in tests that need deterministic timestamps.
var Now = func() time.Time { return time.Now().UTC() }
