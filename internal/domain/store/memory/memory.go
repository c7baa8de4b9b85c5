// Package memory implements store.Store entirely in process memory. Writes
// made inside a transaction are buffered and only become visible to other
// transactions on Commit; Rollback discards them. It is the default store
// for tests and for small deployments that don't need Postgres.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sportsbook-ops/backbone/internal/domain/model"
	"github.com/sportsbook-ops/backbone/internal/domain/store"
)

type state struct {
	agents       map[string]*model.Agent
	customers    map[string]*model.Customer
	attachments  map[string][]model.CustomerAttachment // by customerID
	accounts     map[model.AccountRef]*model.LedgerAccount
	postings     []*model.Posting
	postingByCor map[string]*model.Posting
	wagers       map[string]*model.Wager
	events       map[string]*model.Event
	structures   map[string]*model.CommissionStructure
	calculations map[string]*model.CommissionCalculation
	payouts      map[string]*model.Payout
	queueItems   map[string]*model.QueueItem
	attempts     map[string]*model.MatchAttempt
	audit        []*model.AuditEntry
	correlations map[string]bool
}

func newState() *state {
	return &state{
		agents:       make(map[string]*model.Agent),
		customers:    make(map[string]*model.Customer),
		attachments:  make(map[string][]model.CustomerAttachment),
		accounts:     make(map[model.AccountRef]*model.LedgerAccount),
		postingByCor: make(map[string]*model.Posting),
		wagers:       make(map[string]*model.Wager),
		events:       make(map[string]*model.Event),
		structures:   make(map[string]*model.CommissionStructure),
		calculations: make(map[string]*model.CommissionCalculation),
		payouts:      make(map[string]*model.Payout),
		queueItems:   make(map[string]*model.QueueItem),
		attempts:     make(map[string]*model.MatchAttempt),
		correlations: make(map[string]bool),
	}
}

// Store is an in-memory store.Store. Zero value is not usable; use New.
type Store struct {
	mu    sync.Mutex // serializes transactions; the committed state below is read under rmu
	rmu   sync.RWMutex
	state *state
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{state: newState()}
}

// Begin starts a transaction, blocking until any other transaction commits
// or rolls back. This in-memory store executes transactions serially; it
// trades write concurrency for a trivially correct isolation model.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	s.mu.Lock()
	s.rmu.RLock()
	base := s.state
	s.rmu.RUnlock()
	return &tx{store: s, base: base, overlay: cloneState(base)}, nil
}

func cloneState(base *state) *state {
	st := newState()
	for k, v := range base.agents {
		st.agents[k] = v
	}
	for k, v := range base.customers {
		st.customers[k] = v
	}
	for k, v := range base.attachments {
		st.attachments[k] = append([]model.CustomerAttachment(nil), v...)
	}
	for k, v := range base.accounts {
		st.accounts[k] = v
	}
	st.postings = append([]*model.Posting(nil), base.postings...)
	for k, v := range base.postingByCor {
		st.postingByCor[k] = v
	}
	for k, v := range base.wagers {
		st.wagers[k] = v
	}
	for k, v := range base.events {
		st.events[k] = v
	}
	for k, v := range base.structures {
		st.structures[k] = v
	}
	for k, v := range base.calculations {
		st.calculations[k] = v
	}
	for k, v := range base.payouts {
		st.payouts[k] = v
	}
	for k, v := range base.queueItems {
		st.queueItems[k] = v
	}
	for k, v := range base.attempts {
		st.attempts[k] = v
	}
	st.audit = append([]*model.AuditEntry(nil), base.audit...)
	for k, v := range base.correlations {
		st.correlations[k] = v
	}
	return st
}

// ---- Reader methods against committed state ----

func (s *Store) snapshot() *state {
	s.rmu.RLock()
	defer s.rmu.RUnlock()
	return s.state
}

func (s *Store) GetAgent(ctx context.Context, id string) (*model.Agent, bool, error) {
	a, ok := s.snapshot().agents[id]
	return a, ok, nil
}

func (s *Store) ListChildAgents(ctx context.Context, parentID string) ([]*model.Agent, error) {
	var out []*model.Agent
	for _, a := range s.snapshot().agents {
		if a.ParentID == parentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	st := s.snapshot()
	out := make([]*model.Agent, 0, len(st.agents))
	for _, a := range st.agents {
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*model.Customer, bool, error) {
	c, ok := s.snapshot().customers[id]
	return c, ok, nil
}

func (s *Store) ListCustomersByAgent(ctx context.Context, agentID string) ([]*model.Customer, error) {
	st := s.snapshot()
	var out []*model.Customer
	for _, atts := range st.attachments {
		for _, att := range atts {
			if att.AgentID == agentID {
				if c, ok := st.customers[att.CustomerID]; ok {
					out = append(out, c)
				}
			}
		}
	}
	return out, nil
}

func (s *Store) GetLedgerAccount(ctx context.Context, ref model.AccountRef) (*model.LedgerAccount, error) {
	if a, ok := s.snapshot().accounts[ref]; ok {
		return a, nil
	}
	return &model.LedgerAccount{Ref: ref}, nil
}

func (s *Store) GetWager(ctx context.Context, id string) (*model.Wager, bool, error) {
	w, ok := s.snapshot().wagers[id]
	return w, ok, nil
}

func (s *Store) ListWagersByEvent(ctx context.Context, eventID string) ([]*model.Wager, error) {
	var out []*model.Wager
	for _, w := range s.snapshot().wagers {
		if w.EventID == eventID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (*model.Event, bool, error) {
	e, ok := s.snapshot().events[id]
	return e, ok, nil
}

func (s *Store) ListEventsByStatus(ctx context.Context, statuses ...model.EventStatus) ([]*model.Event, error) {
	want := make(map[model.EventStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []*model.Event
	for _, e := range s.snapshot().events {
		if want[e.Status] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) GetCommissionStructure(ctx context.Context, id string) (*model.CommissionStructure, bool, error) {
	st, ok := s.snapshot().structures[id]
	return st, ok, nil
}

func (s *Store) GetPayout(ctx context.Context, id string) (*model.Payout, bool, error) {
	p, ok := s.snapshot().payouts[id]
	return p, ok, nil
}

func (s *Store) GetQueueItem(ctx context.Context, id string) (*model.QueueItem, bool, error) {
	q, ok := s.snapshot().queueItems[id]
	return q, ok, nil
}

func (s *Store) ListQueueItemsByState(ctx context.Context, currency string, states ...model.QueueItemState) ([]*model.QueueItem, error) {
	want := make(map[model.QueueItemState]bool, len(states))
	for _, st := range states {
		want[st] = true
	}
	var out []*model.QueueItem
	for _, q := range s.snapshot().queueItems {
		if q.Currency == currency && want[q.State] {
			out = append(out, q)
		}
	}
	return out, nil
}

func (s *Store) FindPostingByCorrelation(ctx context.Context, correlationID string) (*model.Posting, bool, error) {
	p, ok := s.snapshot().postingByCor[correlationID]
	return p, ok, nil
}

func (s *Store) ListAuditEntries(ctx context.Context, resource, resourceID string) ([]*model.AuditEntry, error) {
	var out []*model.AuditEntry
	for _, e := range s.snapshot().audit {
		if e.Resource == resource && e.ResourceID == resourceID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ---- transaction ----

type tx struct {
	store    *Store
	base     *state
	overlay  *state
	done     bool
}

func (t *tx) ensureOpen() error {
	if t.done {
		return store.ErrTxClosed
	}
	return nil
}

func (t *tx) GetAgent(ctx context.Context, id string) (*model.Agent, bool, error) {
	a, ok := t.overlay.agents[id]
	return a, ok, nil
}
func (t *tx) ListChildAgents(ctx context.Context, parentID string) ([]*model.Agent, error) {
	var out []*model.Agent
	for _, a := range t.overlay.agents {
		if a.ParentID == parentID {
			out = append(out, a)
		}
	}
	return out, nil
}
func (t *tx) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	out := make([]*model.Agent, 0, len(t.overlay.agents))
	for _, a := range t.overlay.agents {
		out = append(out, a)
	}
	return out, nil
}
func (t *tx) GetCustomer(ctx context.Context, id string) (*model.Customer, bool, error) {
	c, ok := t.overlay.customers[id]
	return c, ok, nil
}
func (t *tx) ListCustomersByAgent(ctx context.Context, agentID string) ([]*model.Customer, error) {
	var out []*model.Customer
	for _, atts := range t.overlay.attachments {
		for _, att := range atts {
			if att.AgentID == agentID {
				if c, ok := t.overlay.customers[att.CustomerID]; ok {
					out = append(out, c)
				}
			}
		}
	}
	return out, nil
}
func (t *tx) GetLedgerAccount(ctx context.Context, ref model.AccountRef) (*model.LedgerAccount, error) {
	if a, ok := t.overlay.accounts[ref]; ok {
		return a, nil
	}
	return &model.LedgerAccount{Ref: ref}, nil
}
func (t *tx) GetWager(ctx context.Context, id string) (*model.Wager, bool, error) {
	w, ok := t.overlay.wagers[id]
	return w, ok, nil
}
func (t *tx) ListWagersByEvent(ctx context.Context, eventID string) ([]*model.Wager, error) {
	var out []*model.Wager
	for _, w := range t.overlay.wagers {
		if w.EventID == eventID {
			out = append(out, w)
		}
	}
	return out, nil
}
func (t *tx) GetEvent(ctx context.Context, id string) (*model.Event, bool, error) {
	e, ok := t.overlay.events[id]
	return e, ok, nil
}
func (t *tx) ListEventsByStatus(ctx context.Context, statuses ...model.EventStatus) ([]*model.Event, error) {
	want := make(map[model.EventStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []*model.Event
	for _, e := range t.overlay.events {
		if want[e.Status] {
			out = append(out, e)
		}
	}
	return out, nil
}
func (t *tx) GetCommissionStructure(ctx context.Context, id string) (*model.CommissionStructure, bool, error) {
	s, ok := t.overlay.structures[id]
	return s, ok, nil
}
func (t *tx) GetPayout(ctx context.Context, id string) (*model.Payout, bool, error) {
	p, ok := t.overlay.payouts[id]
	return p, ok, nil
}
func (t *tx) GetQueueItem(ctx context.Context, id string) (*model.QueueItem, bool, error) {
	q, ok := t.overlay.queueItems[id]
	return q, ok, nil
}
func (t *tx) ListQueueItemsByState(ctx context.Context, currency string, states ...model.QueueItemState) ([]*model.QueueItem, error) {
	want := make(map[model.QueueItemState]bool, len(states))
	for _, st := range states {
		want[st] = true
	}
	var out []*model.QueueItem
	for _, q := range t.overlay.queueItems {
		if q.Currency == currency && want[q.State] {
			out = append(out, q)
		}
	}
	return out, nil
}
func (t *tx) FindPostingByCorrelation(ctx context.Context, correlationID string) (*model.Posting, bool, error) {
	p, ok := t.overlay.postingByCor[correlationID]
	return p, ok, nil
}
func (t *tx) ListAuditEntries(ctx context.Context, resource, resourceID string) ([]*model.AuditEntry, error) {
	var out []*model.AuditEntry
	for _, e := range t.overlay.audit {
		if e.Resource == resource && e.ResourceID == resourceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *tx) PutAgent(ctx context.Context, a *model.Agent) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	t.overlay.agents[a.ID] = a
	return nil
}
func (t *tx) PutCustomer(ctx context.Context, c *model.Customer) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	t.overlay.customers[c.ID] = c
	return nil
}
func (t *tx) PutCustomerAttachment(ctx context.Context, a model.CustomerAttachment) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	existing := t.overlay.attachments[a.CustomerID]
	replaced := false
	for i, e := range existing {
		if e.AgentID == a.AgentID && e.Kind == a.Kind {
			existing[i] = a
			replaced = true
			break
		}
	}
	if !replaced {
		existing = append(existing, a)
	}
	t.overlay.attachments[a.CustomerID] = existing
	return nil
}
func (t *tx) ListAttachments(ctx context.Context, customerID string) ([]model.CustomerAttachment, error) {
	return append([]model.CustomerAttachment(nil), t.overlay.attachments[customerID]...), nil
}
func (t *tx) PutLedgerAccount(ctx context.Context, a *model.LedgerAccount) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	t.overlay.accounts[a.Ref] = a
	return nil
}
func (t *tx) AppendPosting(ctx context.Context, p *model.Posting) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	t.overlay.postings = append(t.overlay.postings, p)
	if p.CorrelationID != "" {
		t.overlay.postingByCor[p.CorrelationID] = p
	}
	return nil
}
func (t *tx) PutWager(ctx context.Context, w *model.Wager) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	t.overlay.wagers[w.ID] = w
	return nil
}
func (t *tx) PutEvent(ctx context.Context, e *model.Event) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	t.overlay.events[e.ID] = e
	return nil
}
func (t *tx) PutCommissionStructure(ctx context.Context, s *model.CommissionStructure) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	t.overlay.structures[s.ID] = s
	return nil
}
func (t *tx) PutCommissionCalculation(ctx context.Context, c *model.CommissionCalculation) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	t.overlay.calculations[c.ID] = c
	return nil
}
func (t *tx) PutPayout(ctx context.Context, p *model.Payout) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	t.overlay.payouts[p.ID] = p
	return nil
}
func (t *tx) PutQueueItem(ctx context.Context, q *model.QueueItem) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	t.overlay.queueItems[q.ID] = q
	return nil
}
func (t *tx) PutMatchAttempt(ctx context.Context, m *model.MatchAttempt) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	t.overlay.attempts[m.ID] = m
	return nil
}
func (t *tx) GetMatchAttempt(ctx context.Context, id string) (*model.MatchAttempt, bool, error) {
	m, ok := t.overlay.attempts[id]
	return m, ok, nil
}
func (t *tx) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	t.overlay.audit = append(t.overlay.audit, e)
	return nil
}
func (t *tx) ReserveCorrelation(ctx context.Context, correlationID string) (bool, error) {
	if err := t.ensureOpen(); err != nil {
		return false, err
	}
	if correlationID == "" {
		return true, nil
	}
	if t.overlay.correlations[correlationID] {
		return false, nil
	}
	t.overlay.correlations[correlationID] = true
	return true, nil
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	t.done = true
	t.store.rmu.Lock()
	t.store.state = t.overlay
	t.store.rmu.Unlock()
	t.store.mu.Unlock()
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}
