// Package postgres implements store.Store against PostgreSQL via sqlx and
// lib/pq. Composite fields (config maps, odds history, commission
// breakdowns) are stored as jsonb columns and marshalled at the boundary;
// every other field maps to a plain scalar column.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sportsbook-ops/backbone/internal/domain/model"
	"github.com/sportsbook-ops/backbone/internal/domain/store"
)

// Store is a store.Store backed by a *sqlx.DB.
type Store struct {
	db *sqlx.DB
}

// Open connects to driverName/dsn and returns a ready Store. Callers own the
// returned *sqlx.DB's lifecycle via Store.Close.
func Open(driverName, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already-open *sqlx.DB, for callers that manage pooling
// themselves (tests with go-sqlmock, shared pools).
func New(db *sqlx.DB) *Store { return &Store{db: db} }

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Begin opens a real database/sql transaction.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &tx{q: sqlTx}, nil
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx, letting Reader methods
// be shared between out-of-transaction snapshot reads and in-tx reads.
type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) GetAgent(ctx context.Context, id string) (*model.Agent, bool, error) {
	return getAgent(ctx, s.db, id)
}
func (s *Store) ListChildAgents(ctx context.Context, parentID string) ([]*model.Agent, error) {
	return listChildAgents(ctx, s.db, parentID)
}
func (s *Store) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	return listAgents(ctx, s.db)
}
func (s *Store) GetCustomer(ctx context.Context, id string) (*model.Customer, bool, error) {
	return getCustomer(ctx, s.db, id)
}
func (s *Store) ListCustomersByAgent(ctx context.Context, agentID string) ([]*model.Customer, error) {
	return listCustomersByAgent(ctx, s.db, agentID)
}
func (s *Store) GetLedgerAccount(ctx context.Context, ref model.AccountRef) (*model.LedgerAccount, error) {
	return getLedgerAccount(ctx, s.db, ref)
}
func (s *Store) GetWager(ctx context.Context, id string) (*model.Wager, bool, error) {
	return getWager(ctx, s.db, id)
}
func (s *Store) ListWagersByEvent(ctx context.Context, eventID string) ([]*model.Wager, error) {
	return listWagersByEvent(ctx, s.db, eventID)
}
func (s *Store) GetEvent(ctx context.Context, id string) (*model.Event, bool, error) {
	return getEvent(ctx, s.db, id)
}
func (s *Store) ListEventsByStatus(ctx context.Context, statuses ...model.EventStatus) ([]*model.Event, error) {
	return listEventsByStatus(ctx, s.db, statuses...)
}
func (s *Store) GetCommissionStructure(ctx context.Context, id string) (*model.CommissionStructure, bool, error) {
	return getCommissionStructure(ctx, s.db, id)
}
func (s *Store) GetPayout(ctx context.Context, id string) (*model.Payout, bool, error) {
	return getPayout(ctx, s.db, id)
}
func (s *Store) GetQueueItem(ctx context.Context, id string) (*model.QueueItem, bool, error) {
	return getQueueItem(ctx, s.db, id)
}
func (s *Store) ListQueueItemsByState(ctx context.Context, currency string, states ...model.QueueItemState) ([]*model.QueueItem, error) {
	return listQueueItemsByState(ctx, s.db, currency, states...)
}
func (s *Store) FindPostingByCorrelation(ctx context.Context, correlationID string) (*model.Posting, bool, error) {
	return findPostingByCorrelation(ctx, s.db, correlationID)
}
func (s *Store) ListAuditEntries(ctx context.Context, resource, resourceID string) ([]*model.AuditEntry, error) {
	return listAuditEntries(ctx, s.db, resource, resourceID)
}

// tx wraps a *sqlx.Tx to satisfy store.Tx.
type tx struct {
	q      *sqlx.Tx
	closed bool
}

func (t *tx) guard() error {
	if t.closed {
		return store.ErrTxClosed
	}
	return nil
}

func (t *tx) GetAgent(ctx context.Context, id string) (*model.Agent, bool, error) {
	return getAgent(ctx, t.q, id)
}
func (t *tx) ListChildAgents(ctx context.Context, parentID string) ([]*model.Agent, error) {
	return listChildAgents(ctx, t.q, parentID)
}
func (t *tx) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	return listAgents(ctx, t.q)
}
func (t *tx) GetCustomer(ctx context.Context, id string) (*model.Customer, bool, error) {
	return getCustomer(ctx, t.q, id)
}
func (t *tx) ListCustomersByAgent(ctx context.Context, agentID string) ([]*model.Customer, error) {
	return listCustomersByAgent(ctx, t.q, agentID)
}
func (t *tx) GetLedgerAccount(ctx context.Context, ref model.AccountRef) (*model.LedgerAccount, error) {
	return getLedgerAccount(ctx, t.q, ref)
}
func (t *tx) GetWager(ctx context.Context, id string) (*model.Wager, bool, error) {
	return getWager(ctx, t.q, id)
}
func (t *tx) ListWagersByEvent(ctx context.Context, eventID string) ([]*model.Wager, error) {
	return listWagersByEvent(ctx, t.q, eventID)
}
func (t *tx) GetEvent(ctx context.Context, id string) (*model.Event, bool, error) {
	return getEvent(ctx, t.q, id)
}
func (t *tx) ListEventsByStatus(ctx context.Context, statuses ...model.EventStatus) ([]*model.Event, error) {
	return listEventsByStatus(ctx, t.q, statuses...)
}
func (t *tx) GetCommissionStructure(ctx context.Context, id string) (*model.CommissionStructure, bool, error) {
	return getCommissionStructure(ctx, t.q, id)
}
func (t *tx) GetPayout(ctx context.Context, id string) (*model.Payout, bool, error) {
	return getPayout(ctx, t.q, id)
}
func (t *tx) GetQueueItem(ctx context.Context, id string) (*model.QueueItem, bool, error) {
	return getQueueItem(ctx, t.q, id)
}
func (t *tx) ListQueueItemsByState(ctx context.Context, currency string, states ...model.QueueItemState) ([]*model.QueueItem, error) {
	return listQueueItemsByState(ctx, t.q, currency, states...)
}
func (t *tx) FindPostingByCorrelation(ctx context.Context, correlationID string) (*model.Posting, bool, error) {
	return findPostingByCorrelation(ctx, t.q, correlationID)
}
func (t *tx) ListAuditEntries(ctx context.Context, resource, resourceID string) ([]*model.AuditEntry, error) {
	return listAuditEntries(ctx, t.q, resource, resourceID)
}

func (t *tx) PutAgent(ctx context.Context, a *model.Agent) error {
	if err := t.guard(); err != nil {
		return err
	}
	return putAgent(ctx, t.q, a)
}
func (t *tx) PutCustomer(ctx context.Context, c *model.Customer) error {
	if err := t.guard(); err != nil {
		return err
	}
	return putCustomer(ctx, t.q, c)
}
func (t *tx) PutCustomerAttachment(ctx context.Context, a model.CustomerAttachment) error {
	if err := t.guard(); err != nil {
		return err
	}
	return putAttachment(ctx, t.q, a)
}
func (t *tx) ListAttachments(ctx context.Context, customerID string) ([]model.CustomerAttachment, error) {
	return listAttachments(ctx, t.q, customerID)
}
func (t *tx) PutLedgerAccount(ctx context.Context, a *model.LedgerAccount) error {
	if err := t.guard(); err != nil {
		return err
	}
	return putLedgerAccount(ctx, t.q, a)
}
func (t *tx) AppendPosting(ctx context.Context, p *model.Posting) error {
	if err := t.guard(); err != nil {
		return err
	}
	return appendPosting(ctx, t.q, p)
}
func (t *tx) PutWager(ctx context.Context, w *model.Wager) error {
	if err := t.guard(); err != nil {
		return err
	}
	return putWager(ctx, t.q, w)
}
func (t *tx) PutEvent(ctx context.Context, e *model.Event) error {
	if err := t.guard(); err != nil {
		return err
	}
	return putEvent(ctx, t.q, e)
}
func (t *tx) PutCommissionStructure(ctx context.Context, s *model.CommissionStructure) error {
	if err := t.guard(); err != nil {
		return err
	}
	return putCommissionStructure(ctx, t.q, s)
}
func (t *tx) PutCommissionCalculation(ctx context.Context, c *model.CommissionCalculation) error {
	if err := t.guard(); err != nil {
		return err
	}
	return putCommissionCalculation(ctx, t.q, c)
}
func (t *tx) PutPayout(ctx context.Context, p *model.Payout) error {
	if err := t.guard(); err != nil {
		return err
	}
	return putPayout(ctx, t.q, p)
}
func (t *tx) PutQueueItem(ctx context.Context, q *model.QueueItem) error {
	if err := t.guard(); err != nil {
		return err
	}
	return putQueueItem(ctx, t.q, q)
}
func (t *tx) PutMatchAttempt(ctx context.Context, m *model.MatchAttempt) error {
	if err := t.guard(); err != nil {
		return err
	}
	return putMatchAttempt(ctx, t.q, m)
}
func (t *tx) GetMatchAttempt(ctx context.Context, id string) (*model.MatchAttempt, bool, error) {
	return getMatchAttempt(ctx, t.q, id)
}
func (t *tx) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	if err := t.guard(); err != nil {
		return err
	}
	return appendAudit(ctx, t.q, e)
}
func (t *tx) ReserveCorrelation(ctx context.Context, correlationID string) (bool, error) {
	if err := t.guard(); err != nil {
		return false, err
	}
	if correlationID == "" {
		return true, nil
	}
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO idempotency_keys (correlation_id) VALUES ($1) ON CONFLICT DO NOTHING`, correlationID)
	if err != nil {
		return false, fmt.Errorf("postgres: reserve correlation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: check correlation: %w", err)
	}
	return n == 1, nil
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.guard(); err != nil {
		return err
	}
	t.closed = true
	if err := t.q.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.q.Rollback(); err != nil {
		return fmt.Errorf("postgres: rollback: %w", err)
	}
	return nil
}

// ---- agents ----

type agentRow struct {
	ID                    string    `db:"id"`
	Login                 string    `db:"login"`
	ParentID              string    `db:"parent_id"`
	Type                  string    `db:"type"`
	Status                string    `db:"status"`
	OfficeTag             string    `db:"office_tag"`
	CommissionStructureID string    `db:"commission_structure_id"`
	Permissions           int64     `db:"permissions"`
	Config                []byte    `db:"config"`
	CreatedAt             sql.NullTime `db:"created_at"`
	UpdatedAt             sql.NullTime `db:"updated_at"`
}

func (row agentRow) toModel() *model.Agent {
	a := &model.Agent{
		ID: row.ID, Login: row.Login, ParentID: row.ParentID,
		Type: model.AgentType(row.Type), Status: model.AgentStatus(row.Status),
		OfficeTag: row.OfficeTag, CommissionStructureID: row.CommissionStructureID,
		Permissions: uint64(row.Permissions),
		CreatedAt:   row.CreatedAt.Time, UpdatedAt: row.UpdatedAt.Time,
	}
	if len(row.Config) > 0 {
		_ = json.Unmarshal(row.Config, &a.Config)
	}
	return a
}

func getAgent(ctx context.Context, q queryer, id string) (*model.Agent, bool, error) {
	var row agentRow
	err := q.GetContext(ctx, &row, `SELECT id, login, parent_id, type, status, office_tag,
		commission_structure_id, permissions, config, created_at, updated_at
		FROM agents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get agent: %w", err)
	}
	return row.toModel(), true, nil
}

func listChildAgents(ctx context.Context, q queryer, parentID string) ([]*model.Agent, error) {
	var rows []agentRow
	err := q.SelectContext(ctx, &rows, `SELECT id, login, parent_id, type, status, office_tag,
		commission_structure_id, permissions, config, created_at, updated_at
		FROM agents WHERE parent_id = $1`, parentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list child agents: %w", err)
	}
	out := make([]*model.Agent, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func listAgents(ctx context.Context, q queryer) ([]*model.Agent, error) {
	var rows []agentRow
	err := q.SelectContext(ctx, &rows, `SELECT id, login, parent_id, type, status, office_tag,
		commission_structure_id, permissions, config, created_at, updated_at
		FROM agents`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list agents: %w", err)
	}
	out := make([]*model.Agent, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func putAgent(ctx context.Context, q queryer, a *model.Agent) error {
	cfg, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("postgres: marshal agent config: %w", err)
	}
	_, err = q.ExecContext(ctx, `INSERT INTO agents
		(id, login, parent_id, type, status, office_tag, commission_structure_id, permissions, config, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			login = EXCLUDED.login, parent_id = EXCLUDED.parent_id, type = EXCLUDED.type,
			status = EXCLUDED.status, office_tag = EXCLUDED.office_tag,
			commission_structure_id = EXCLUDED.commission_structure_id,
			permissions = EXCLUDED.permissions, config = EXCLUDED.config, updated_at = EXCLUDED.updated_at`,
		a.ID, a.Login, a.ParentID, string(a.Type), string(a.Status), a.OfficeTag,
		a.CommissionStructureID, int64(a.Permissions), cfg, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: put agent: %w", err)
	}
	return nil
}

// ---- customers ----

type customerRow struct {
	ID             string       `db:"id"`
	Tier           string       `db:"tier"`
	Status         string       `db:"status"`
	LifetimeVolume int64        `db:"lifetime_volume"`
	RiskScore      int          `db:"risk_score"`
	RiskLevel      string       `db:"risk_level"`
	KYCState       string       `db:"kyc_state"`
	CreatedAt      sql.NullTime `db:"created_at"`
	UpdatedAt      sql.NullTime `db:"updated_at"`
}

func (row customerRow) toModel() *model.Customer {
	return &model.Customer{
		ID: row.ID, Tier: model.CustomerTier(row.Tier), Status: model.CustomerStatus(row.Status),
		LifetimeVolume: row.LifetimeVolume, RiskScore: row.RiskScore, RiskLevel: row.RiskLevel,
		KYCState: row.KYCState, CreatedAt: row.CreatedAt.Time, UpdatedAt: row.UpdatedAt.Time,
	}
}

func getCustomer(ctx context.Context, q queryer, id string) (*model.Customer, bool, error) {
	var row customerRow
	err := q.GetContext(ctx, &row, `SELECT id, tier, status, lifetime_volume, risk_score, risk_level,
		kyc_state, created_at, updated_at FROM customers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get customer: %w", err)
	}
	return row.toModel(), true, nil
}

func listCustomersByAgent(ctx context.Context, q queryer, agentID string) ([]*model.Customer, error) {
	var rows []customerRow
	err := q.SelectContext(ctx, &rows, `SELECT c.id, c.tier, c.status, c.lifetime_volume, c.risk_score,
		c.risk_level, c.kyc_state, c.created_at, c.updated_at
		FROM customers c JOIN customer_attachments a ON a.customer_id = c.id
		WHERE a.agent_id = $1`, agentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list customers by agent: %w", err)
	}
	out := make([]*model.Customer, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func putCustomer(ctx context.Context, q queryer, c *model.Customer) error {
	_, err := q.ExecContext(ctx, `INSERT INTO customers
		(id, tier, status, lifetime_volume, risk_score, risk_level, kyc_state, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET tier = EXCLUDED.tier, status = EXCLUDED.status,
			lifetime_volume = EXCLUDED.lifetime_volume, risk_score = EXCLUDED.risk_score,
			risk_level = EXCLUDED.risk_level, kyc_state = EXCLUDED.kyc_state, updated_at = EXCLUDED.updated_at`,
		c.ID, string(c.Tier), string(c.Status), c.LifetimeVolume, c.RiskScore, c.RiskLevel,
		c.KYCState, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: put customer: %w", err)
	}
	return nil
}

func putAttachment(ctx context.Context, q queryer, a model.CustomerAttachment) error {
	_, err := q.ExecContext(ctx, `INSERT INTO customer_attachments (customer_id, agent_id, kind, split_bps)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (customer_id, agent_id, kind) DO UPDATE SET split_bps = EXCLUDED.split_bps`,
		a.CustomerID, a.AgentID, string(a.Kind), a.SplitBps)
	if err != nil {
		return fmt.Errorf("postgres: put attachment: %w", err)
	}
	return nil
}

func listAttachments(ctx context.Context, q queryer, customerID string) ([]model.CustomerAttachment, error) {
	type row struct {
		CustomerID string `db:"customer_id"`
		AgentID    string `db:"agent_id"`
		Kind       string `db:"kind"`
		SplitBps   int    `db:"split_bps"`
	}
	var rows []row
	err := q.SelectContext(ctx, &rows, `SELECT customer_id, agent_id, kind, split_bps
		FROM customer_attachments WHERE customer_id = $1`, customerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attachments: %w", err)
	}
	out := make([]model.CustomerAttachment, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.CustomerAttachment{
			CustomerID: r.CustomerID, AgentID: r.AgentID, Kind: model.AttachmentKind(r.Kind), SplitBps: r.SplitBps,
		})
	}
	return out, nil
}

// ---- ledger ----

func getLedgerAccount(ctx context.Context, q queryer, ref model.AccountRef) (*model.LedgerAccount, error) {
	type row struct {
		Available int64 `db:"available"`
		Reserved  int64 `db:"reserved"`
	}
	var r row
	err := q.GetContext(ctx, &r, `SELECT available, reserved FROM ledger_accounts
		WHERE owner_kind = $1 AND owner_id = $2 AND bucket = $3 AND currency = $4`,
		string(ref.OwnerKind), ref.OwnerID, string(ref.Bucket), ref.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.LedgerAccount{Ref: ref}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get ledger account: %w", err)
	}
	return &model.LedgerAccount{Ref: ref, Available: r.Available, Reserved: r.Reserved}, nil
}

func putLedgerAccount(ctx context.Context, q queryer, a *model.LedgerAccount) error {
	_, err := q.ExecContext(ctx, `INSERT INTO ledger_accounts (owner_kind, owner_id, bucket, currency, available, reserved)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (owner_kind, owner_id, bucket, currency) DO UPDATE SET
			available = EXCLUDED.available, reserved = EXCLUDED.reserved`,
		string(a.Ref.OwnerKind), a.Ref.OwnerID, string(a.Ref.Bucket), a.Ref.Currency, a.Available, a.Reserved)
	if err != nil {
		return fmt.Errorf("postgres: put ledger account: %w", err)
	}
	return nil
}

func appendPosting(ctx context.Context, q queryer, p *model.Posting) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := q.ExecContext(ctx, `INSERT INTO postings
		(id, from_owner_kind, from_owner_id, from_bucket, from_currency,
		 to_owner_kind, to_owner_id, to_bucket, to_currency,
		 amount, reason, correlation_id, ts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		p.ID, string(p.From.OwnerKind), p.From.OwnerID, string(p.From.Bucket), p.From.Currency,
		string(p.To.OwnerKind), p.To.OwnerID, string(p.To.Bucket), p.To.Currency,
		p.Amount, p.Reason, nullableString(p.CorrelationID), p.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: append posting: %w", err)
	}
	return nil
}

func findPostingByCorrelation(ctx context.Context, q queryer, correlationID string) (*model.Posting, bool, error) {
	type row struct {
		ID            string       `db:"id"`
		FromOK        string       `db:"from_owner_kind"`
		FromOID       string       `db:"from_owner_id"`
		FromB         string       `db:"from_bucket"`
		FromCur       string       `db:"from_currency"`
		ToOK          string       `db:"to_owner_kind"`
		ToOID         string       `db:"to_owner_id"`
		ToB           string       `db:"to_bucket"`
		ToCur         string       `db:"to_currency"`
		Amount        int64        `db:"amount"`
		Reason        string       `db:"reason"`
		CorrelationID string       `db:"correlation_id"`
		Timestamp     sql.NullTime `db:"ts"`
	}
	var r row
	err := q.GetContext(ctx, &r, `SELECT id, from_owner_kind, from_owner_id, from_bucket, from_currency,
		to_owner_kind, to_owner_id, to_bucket, to_currency, amount, reason, correlation_id, ts
		FROM postings WHERE correlation_id = $1`, correlationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: find posting: %w", err)
	}
	return &model.Posting{
		ID:            r.ID,
		From:          model.AccountRef{OwnerKind: model.OwnerKind(r.FromOK), OwnerID: r.FromOID, Bucket: model.Bucket(r.FromB), Currency: r.FromCur},
		To:            model.AccountRef{OwnerKind: model.OwnerKind(r.ToOK), OwnerID: r.ToOID, Bucket: model.Bucket(r.ToB), Currency: r.ToCur},
		Amount:        r.Amount,
		Reason:        r.Reason,
		CorrelationID: r.CorrelationID,
		Timestamp:     r.Timestamp.Time,
	}, true, nil
}

// ---- wagers & events ----

type wagerRow struct {
	ID                string       `db:"id"`
	CustomerID        string       `db:"customer_id"`
	AgentID           string       `db:"agent_id"`
	EventID           string       `db:"event_id"`
	BetType           string       `db:"bet_type"`
	Selection         string       `db:"selection"`
	Stake             int64        `db:"stake"`
	OddsMilli         int64        `db:"odds_milli"`
	PotentialPayout   int64        `db:"potential_payout"`
	RiskLevel         string       `db:"risk_level"`
	VIPTier           string       `db:"vip_tier"`
	Status            string       `db:"status"`
	PlacedAt          sql.NullTime `db:"placed_at"`
	SettledAt         sql.NullTime `db:"settled_at"`
	ActualWin         int64        `db:"actual_win"`
	SettlementOutcome string       `db:"settlement_outcome"`
	SettledBy         string       `db:"settled_by"`
	Notes             string       `db:"notes"`
}

func (row wagerRow) toModel() *model.Wager {
	w := &model.Wager{
		ID: row.ID, CustomerID: row.CustomerID, AgentID: row.AgentID, EventID: row.EventID,
		BetType: row.BetType, Selection: row.Selection, Stake: row.Stake, OddsMilli: row.OddsMilli,
		PotentialPayout: row.PotentialPayout, RiskLevel: row.RiskLevel, VIPTier: model.CustomerTier(row.VIPTier),
		Status: model.WagerStatus(row.Status), PlacedAt: row.PlacedAt.Time, ActualWin: row.ActualWin,
		SettlementOutcome: model.WagerStatus(row.SettlementOutcome), SettledBy: row.SettledBy, Notes: row.Notes,
	}
	if row.SettledAt.Valid {
		t := row.SettledAt.Time
		w.SettledAt = &t
	}
	return w
}

func getWager(ctx context.Context, q queryer, id string) (*model.Wager, bool, error) {
	var row wagerRow
	err := q.GetContext(ctx, &row, `SELECT id, customer_id, agent_id, event_id, bet_type, selection, stake,
		odds_milli, potential_payout, risk_level, vip_tier, status, placed_at, settled_at, actual_win,
		settlement_outcome, settled_by, notes FROM wagers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get wager: %w", err)
	}
	return row.toModel(), true, nil
}

func listWagersByEvent(ctx context.Context, q queryer, eventID string) ([]*model.Wager, error) {
	var rows []wagerRow
	err := q.SelectContext(ctx, &rows, `SELECT id, customer_id, agent_id, event_id, bet_type, selection, stake,
		odds_milli, potential_payout, risk_level, vip_tier, status, placed_at, settled_at, actual_win,
		settlement_outcome, settled_by, notes FROM wagers WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wagers by event: %w", err)
	}
	out := make([]*model.Wager, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func putWager(ctx context.Context, q queryer, w *model.Wager) error {
	_, err := q.ExecContext(ctx, `INSERT INTO wagers
		(id, customer_id, agent_id, event_id, bet_type, selection, stake, odds_milli, potential_payout,
		 risk_level, vip_tier, status, placed_at, settled_at, actual_win, settlement_outcome, settled_by, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, settled_at = EXCLUDED.settled_at,
			actual_win = EXCLUDED.actual_win, settlement_outcome = EXCLUDED.settlement_outcome,
			settled_by = EXCLUDED.settled_by, notes = EXCLUDED.notes`,
		w.ID, w.CustomerID, w.AgentID, w.EventID, w.BetType, w.Selection, w.Stake, w.OddsMilli,
		w.PotentialPayout, w.RiskLevel, string(w.VIPTier), string(w.Status), w.PlacedAt,
		nullableTime(w.SettledAt), w.ActualWin, string(w.SettlementOutcome), w.SettledBy, w.Notes)
	if err != nil {
		return fmt.Errorf("postgres: put wager: %w", err)
	}
	return nil
}

type eventRow struct {
	ID        string       `db:"id"`
	Sport     string       `db:"sport"`
	League    string       `db:"league"`
	StartTime sql.NullTime `db:"start_time"`
	Status    string       `db:"status"`
	VIPAccess []byte       `db:"vip_access"`
	Odds      []byte       `db:"odds"`
}

func (row eventRow) toModel() (*model.Event, error) {
	e := &model.Event{
		ID: row.ID, Sport: row.Sport, League: row.League, StartTime: row.StartTime.Time,
		Status: model.EventStatus(row.Status),
	}
	if len(row.VIPAccess) > 0 {
		if err := json.Unmarshal(row.VIPAccess, &e.VIPAccess); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal vip access: %w", err)
		}
	}
	if len(row.Odds) > 0 {
		if err := json.Unmarshal(row.Odds, &e.Odds); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal odds: %w", err)
		}
	}
	return e, nil
}

func getEvent(ctx context.Context, q queryer, id string) (*model.Event, bool, error) {
	var row eventRow
	err := q.GetContext(ctx, &row, `SELECT id, sport, league, start_time, status, vip_access, odds
		FROM events WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get event: %w", err)
	}
	e, err := row.toModel()
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

func listEventsByStatus(ctx context.Context, q queryer, statuses ...model.EventStatus) ([]*model.Event, error) {
	strStatuses := make([]string, len(statuses))
	for i, st := range statuses {
		strStatuses[i] = string(st)
	}
	query, args, err := sqlx.In(`SELECT id, sport, league, start_time, status, vip_access, odds
		FROM events WHERE status IN (?)`, strStatuses)
	if err != nil {
		return nil, fmt.Errorf("postgres: build event status query: %w", err)
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)
	var rows []eventRow
	if err := q.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("postgres: list events by status: %w", err)
	}
	out := make([]*model.Event, 0, len(rows))
	for _, row := range rows {
		e, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func putEvent(ctx context.Context, q queryer, e *model.Event) error {
	vipAccess, err := json.Marshal(e.VIPAccess)
	if err != nil {
		return fmt.Errorf("postgres: marshal vip access: %w", err)
	}
	odds, err := json.Marshal(e.Odds)
	if err != nil {
		return fmt.Errorf("postgres: marshal odds: %w", err)
	}
	_, err = q.ExecContext(ctx, `INSERT INTO events (id, sport, league, start_time, status, vip_access, odds)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, vip_access = EXCLUDED.vip_access,
			odds = EXCLUDED.odds`,
		e.ID, e.Sport, e.League, e.StartTime, string(e.Status), vipAccess, odds)
	if err != nil {
		return fmt.Errorf("postgres: put event: %w", err)
	}
	return nil
}

// ---- commission ----

type structureRow struct {
	ID                 string `db:"id"`
	BaseRate           float64 `db:"base_rate"`
	VolumeBonusTiers   []byte  `db:"volume_bonus_tiers"`
	PerformanceBonuses []byte  `db:"performance_bonuses"`
	Overrides          []byte  `db:"overrides"`
	PayoutSchedule     string  `db:"payout_schedule"`
}

func getCommissionStructure(ctx context.Context, q queryer, id string) (*model.CommissionStructure, bool, error) {
	var row structureRow
	err := q.GetContext(ctx, &row, `SELECT id, base_rate, volume_bonus_tiers, performance_bonuses, overrides,
		payout_schedule FROM commission_structures WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get commission structure: %w", err)
	}
	s := &model.CommissionStructure{ID: row.ID, BaseRate: row.BaseRate, PayoutSchedule: model.PayoutSchedule(row.PayoutSchedule)}
	if len(row.VolumeBonusTiers) > 0 {
		_ = json.Unmarshal(row.VolumeBonusTiers, &s.VolumeBonusTiers)
	}
	if len(row.PerformanceBonuses) > 0 {
		_ = json.Unmarshal(row.PerformanceBonuses, &s.PerformanceBonuses)
	}
	if len(row.Overrides) > 0 {
		_ = json.Unmarshal(row.Overrides, &s.Overrides)
	}
	return s, true, nil
}

func putCommissionStructure(ctx context.Context, q queryer, s *model.CommissionStructure) error {
	tiers, _ := json.Marshal(s.VolumeBonusTiers)
	perf, _ := json.Marshal(s.PerformanceBonuses)
	overrides, _ := json.Marshal(s.Overrides)
	_, err := q.ExecContext(ctx, `INSERT INTO commission_structures
		(id, base_rate, volume_bonus_tiers, performance_bonuses, overrides, payout_schedule)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET base_rate = EXCLUDED.base_rate,
			volume_bonus_tiers = EXCLUDED.volume_bonus_tiers, performance_bonuses = EXCLUDED.performance_bonuses,
			overrides = EXCLUDED.overrides, payout_schedule = EXCLUDED.payout_schedule`,
		s.ID, s.BaseRate, tiers, perf, overrides, string(s.PayoutSchedule))
	if err != nil {
		return fmt.Errorf("postgres: put commission structure: %w", err)
	}
	return nil
}

func putCommissionCalculation(ctx context.Context, q queryer, c *model.CommissionCalculation) error {
	breakdown, err := json.Marshal(c.Breakdown)
	if err != nil {
		return fmt.Errorf("postgres: marshal breakdown: %w", err)
	}
	_, err = q.ExecContext(ctx, `INSERT INTO commission_calculations
		(id, agent_id, structure_id, period_start, period_end, gross_revenue, amount, breakdown, state)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, amount = EXCLUDED.amount,
			breakdown = EXCLUDED.breakdown`,
		c.ID, c.AgentID, c.StructureID, c.PeriodStart, c.PeriodEnd, c.GrossRevenue, c.Amount,
		breakdown, string(c.State))
	if err != nil {
		return fmt.Errorf("postgres: put commission calculation: %w", err)
	}
	return nil
}

type payoutRow struct {
	ID             string       `db:"id"`
	AgentID        string       `db:"agent_id"`
	Amount         int64        `db:"amount"`
	Currency       string       `db:"currency"`
	State          string       `db:"state"`
	Reference      string       `db:"reference"`
	ProcessedBy    string       `db:"processed_by"`
	CompletedAt    sql.NullTime `db:"completed_at"`
	CreatedAt      sql.NullTime `db:"created_at"`
	CalculationIDs []byte       `db:"calculation_ids"`
}

func (row payoutRow) toModel() *model.Payout {
	p := &model.Payout{
		ID: row.ID, AgentID: row.AgentID, Amount: row.Amount, Currency: row.Currency,
		State: model.PayoutState(row.State), Reference: row.Reference, ProcessedBy: row.ProcessedBy,
		CreatedAt: row.CreatedAt.Time,
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time
		p.CompletedAt = &t
	}
	if len(row.CalculationIDs) > 0 {
		_ = json.Unmarshal(row.CalculationIDs, &p.CalculationIDs)
	}
	return p
}

func getPayout(ctx context.Context, q queryer, id string) (*model.Payout, bool, error) {
	var row payoutRow
	err := q.GetContext(ctx, &row, `SELECT id, agent_id, amount, currency, state, reference, processed_by,
		completed_at, created_at, calculation_ids FROM payouts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get payout: %w", err)
	}
	return row.toModel(), true, nil
}

func putPayout(ctx context.Context, q queryer, p *model.Payout) error {
	calcIDs, err := json.Marshal(p.CalculationIDs)
	if err != nil {
		return fmt.Errorf("postgres: marshal calculation ids: %w", err)
	}
	_, err = q.ExecContext(ctx, `INSERT INTO payouts
		(id, agent_id, amount, currency, state, reference, processed_by, completed_at, created_at, calculation_ids)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, reference = EXCLUDED.reference,
			processed_by = EXCLUDED.processed_by, completed_at = EXCLUDED.completed_at`,
		p.ID, p.AgentID, p.Amount, p.Currency, string(p.State), p.Reference, p.ProcessedBy,
		nullableTime(p.CompletedAt), p.CreatedAt, calcIDs)
	if err != nil {
		return fmt.Errorf("postgres: put payout: %w", err)
	}
	return nil
}

// ---- matching queue ----

type queueItemRow struct {
	ID              string       `db:"id"`
	Direction       string       `db:"direction"`
	CustomerID      string       `db:"customer_id"`
	Amount          int64        `db:"amount"`
	Residual        int64        `db:"residual"`
	Currency        string       `db:"currency"`
	AllowedMethods  []byte       `db:"allowed_methods"`
	AllowPartial    bool         `db:"allow_partial"`
	EnqueuedAt      sql.NullTime `db:"enqueued_at"`
	TimeoutAt       sql.NullTime `db:"timeout_at"`
	State           string       `db:"state"`
	RiskScore       int          `db:"risk_score"`
	Tier            string       `db:"tier"`
	Attempts        int          `db:"attempts"`
	ActiveAttemptID string       `db:"active_attempt_id"`
}

func (row queueItemRow) toModel() *model.QueueItem {
	q := &model.QueueItem{
		ID: row.ID, Direction: model.QueueDirection(row.Direction), CustomerID: row.CustomerID,
		Amount: row.Amount, Residual: row.Residual, Currency: row.Currency, AllowPartial: row.AllowPartial,
		EnqueuedAt: row.EnqueuedAt.Time, TimeoutAt: row.TimeoutAt.Time, State: model.QueueItemState(row.State),
		RiskScore: row.RiskScore, Tier: model.CustomerTier(row.Tier), Attempts: row.Attempts,
		ActiveAttemptID: row.ActiveAttemptID,
	}
	if len(row.AllowedMethods) > 0 {
		_ = json.Unmarshal(row.AllowedMethods, &q.AllowedMethods)
	}
	return q
}

func getQueueItem(ctx context.Context, q queryer, id string) (*model.QueueItem, bool, error) {
	var row queueItemRow
	err := q.GetContext(ctx, &row, `SELECT id, direction, customer_id, amount, residual, currency,
		allowed_methods, allow_partial, enqueued_at, timeout_at, state, risk_score, tier, attempts,
		active_attempt_id FROM queue_items WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get queue item: %w", err)
	}
	return row.toModel(), true, nil
}

func listQueueItemsByState(ctx context.Context, q queryer, currency string, states ...model.QueueItemState) ([]*model.QueueItem, error) {
	strStates := make([]string, len(states))
	for i, st := range states {
		strStates[i] = string(st)
	}
	query, args, err := sqlx.In(`SELECT id, direction, customer_id, amount, residual, currency,
		allowed_methods, allow_partial, enqueued_at, timeout_at, state, risk_score, tier, attempts,
		active_attempt_id FROM queue_items WHERE currency = ? AND state IN (?)`, currency, strStates)
	if err != nil {
		return nil, fmt.Errorf("postgres: build queue item query: %w", err)
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)
	var rows []queueItemRow
	if err := q.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("postgres: list queue items: %w", err)
	}
	out := make([]*model.QueueItem, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func putQueueItem(ctx context.Context, q queryer, item *model.QueueItem) error {
	methods, err := json.Marshal(item.AllowedMethods)
	if err != nil {
		return fmt.Errorf("postgres: marshal allowed methods: %w", err)
	}
	_, err = q.ExecContext(ctx, `INSERT INTO queue_items
		(id, direction, customer_id, amount, residual, currency, allowed_methods, allow_partial,
		 enqueued_at, timeout_at, state, risk_score, tier, attempts, active_attempt_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET residual = EXCLUDED.residual, timeout_at = EXCLUDED.timeout_at,
			state = EXCLUDED.state, attempts = EXCLUDED.attempts, active_attempt_id = EXCLUDED.active_attempt_id`,
		item.ID, string(item.Direction), item.CustomerID, item.Amount, item.Residual, item.Currency,
		methods, item.AllowPartial, item.EnqueuedAt, item.TimeoutAt, string(item.State), item.RiskScore,
		string(item.Tier), item.Attempts, nullableString(item.ActiveAttemptID))
	if err != nil {
		return fmt.Errorf("postgres: put queue item: %w", err)
	}
	return nil
}

func putMatchAttempt(ctx context.Context, q queryer, m *model.MatchAttempt) error {
	_, err := q.ExecContext(ctx, `INSERT INTO match_attempts
		(id, withdrawal_id, deposit_id, amount, expires_at, state)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state`,
		m.ID, m.WithdrawalID, m.DepositID, m.Amount, m.ExpiresAt, string(m.State))
	if err != nil {
		return fmt.Errorf("postgres: put match attempt: %w", err)
	}
	return nil
}

func getMatchAttempt(ctx context.Context, q queryer, id string) (*model.MatchAttempt, bool, error) {
	type row struct {
		ID           string       `db:"id"`
		WithdrawalID string       `db:"withdrawal_id"`
		DepositID    string       `db:"deposit_id"`
		Amount       int64        `db:"amount"`
		ExpiresAt    sql.NullTime `db:"expires_at"`
		State        string       `db:"state"`
	}
	var r row
	err := q.GetContext(ctx, &r, `SELECT id, withdrawal_id, deposit_id, amount, expires_at, state
		FROM match_attempts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get match attempt: %w", err)
	}
	return &model.MatchAttempt{
		ID: r.ID, WithdrawalID: r.WithdrawalID, DepositID: r.DepositID, Amount: r.Amount,
		ExpiresAt: r.ExpiresAt.Time, State: model.MatchAttemptState(r.State),
	}, true, nil
}

// ---- audit ----

func appendAudit(ctx context.Context, q queryer, e *model.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit details: %w", err)
	}
	_, err = q.ExecContext(ctx, `INSERT INTO audit_entries (id, resource, resource_id, action, result, ts, details)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.Resource, e.ResourceID, e.Action, e.Result, e.Timestamp, details)
	if err != nil {
		return fmt.Errorf("postgres: append audit: %w", err)
	}
	return nil
}

func listAuditEntries(ctx context.Context, q queryer, resource, resourceID string) ([]*model.AuditEntry, error) {
	type row struct {
		ID         string       `db:"id"`
		Resource   string       `db:"resource"`
		ResourceID string       `db:"resource_id"`
		Action     string       `db:"action"`
		Result     string       `db:"result"`
		Timestamp  sql.NullTime `db:"ts"`
		Details    []byte       `db:"details"`
	}
	var rows []row
	err := q.SelectContext(ctx, &rows, `SELECT id, resource, resource_id, action, result, ts, details
		FROM audit_entries WHERE resource = $1 AND resource_id = $2 ORDER BY ts ASC`, resource, resourceID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	out := make([]*model.AuditEntry, 0, len(rows))
	for _, r := range rows {
		entry := &model.AuditEntry{
			ID: r.ID, Resource: r.Resource, ResourceID: r.ResourceID, Action: r.Action,
			Result: r.Result, Timestamp: r.Timestamp.Time,
		}
		if len(r.Details) > 0 {
			_ = json.Unmarshal(r.Details, &entry.Details)
		}
		out = append(out, entry)
	}
	return out, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
