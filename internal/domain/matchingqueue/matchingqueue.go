// Package matchingqueue implements the P2P deposit/withdrawal matching
// queue: priority ordering, candidate search, timed reservations, and
// fairness-boosted retries. A single worker goroutine serializes matches;
// producers enqueue through a buffered channel and status/stats reads take
// a read lock on the worker's index.
package matchingqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sportsbook-ops/backbone/infrastructure/apperr"
	"github.com/sportsbook-ops/backbone/infrastructure/logging"
	"github.com/sportsbook-ops/backbone/internal/domain/ledger"
	"github.com/sportsbook-ops/backbone/internal/domain/model"
	"github.com/sportsbook-ops/backbone/internal/domain/store"
)

// EventPublisher is the minimal surface MatchingQueue needs from the event
// fabric.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, scope map[string]string, payload map[string]interface{}) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, map[string]string, map[string]interface{}) error {
	return nil
}

// Config controls matching rules and fairness behavior (spec §6 queue.*).
type Config struct {
	ReservationTTL      time.Duration
	MaxAttempts         int
	MaxRiskDelta        float64
	AllowCrossTier      bool
	StarvationThreshold int
	TierWeight          float64
	AgeWeight           float64
	RiskWeight          float64
}

func (c *Config) applyDefaults() {
	if c.ReservationTTL <= 0 {
		c.ReservationTTL = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.MaxRiskDelta <= 0 {
		c.MaxRiskDelta = 0.25
	}
	if c.TierWeight == 0 && c.AgeWeight == 0 && c.RiskWeight == 0 {
		c.TierWeight, c.AgeWeight, c.RiskWeight = 0.4, 0.4, 0.2
	}
	if c.StarvationThreshold <= 0 {
		c.StarvationThreshold = 10
	}
}

// enqueueRequest is one unit of producer work handed to the worker
// goroutine over a channel, per the spec's single-logical-worker model.
type enqueueRequest struct {
	item   *model.QueueItem
	result chan error
}

// Queue is the P2P matching queue. Enqueue/Cancel are safe to call
// concurrently; the actual matching work runs on a single owned goroutine.
type Queue struct {
	store     store.Store
	ledger    *ledger.Ledger
	logger    *logging.Logger
	publisher EventPublisher
	cfg       Config
	limiter   *rate.Limiter

	requests chan enqueueRequest
	done     chan struct{}
	cancel   context.CancelFunc

	mu    sync.RWMutex
	index map[string]*model.QueueItem // snapshot source for status/stats reads, guarded by mu
}

// New builds a Queue. Start launches the worker goroutine.
func New(s store.Store, l *ledger.Ledger, logger *logging.Logger, publisher EventPublisher, cfg Config) *Queue {
	cfg.applyDefaults()
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &Queue{
		store: s, ledger: l, logger: logger, publisher: publisher, cfg: cfg,
		limiter:  rate.NewLimiter(rate.Limit(50), 50),
		requests: make(chan enqueueRequest, 256),
		index:    make(map[string]*model.QueueItem),
	}
}

// Name identifies this service to a lifecycle.Manager.
func (q *Queue) Name() string { return "matchingqueue" }

// Start launches the worker goroutine that owns the priority queue and
// executes matches.
func (q *Queue) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	go q.Run(runCtx)
	return nil
}

// Stop cancels the worker and waits for it to exit.
func (q *Queue) Stop(ctx context.Context) error {
	if q.cancel == nil {
		return nil
	}
	q.cancel()
	select {
	case <-q.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// EnqueueInput is the payload for Enqueue.
type EnqueueInput struct {
	Direction      model.QueueDirection
	CustomerID     string
	Amount         int64
	Currency       string
	AllowedMethods map[string]bool
	AllowPartial   bool
	RiskScore      int
	Tier           model.CustomerTier
}

// Enqueue validates and persists a new queue item and hands it to the
// worker for matching consideration.
func (q *Queue) Enqueue(ctx context.Context, in EnqueueInput) (*model.QueueItem, error) {
	if in.Amount <= 0 {
		return nil, apperr.Validation("amount", "must be positive")
	}
	now := store.Now()
	item := &model.QueueItem{
		ID: uuid.NewString(), Direction: in.Direction, CustomerID: in.CustomerID,
		Amount: in.Amount, Residual: in.Amount, Currency: in.Currency,
		AllowedMethods: in.AllowedMethods, AllowPartial: in.AllowPartial,
		EnqueuedAt: now, TimeoutAt: now.Add(q.cfg.ReservationTTL * time.Duration(q.cfg.MaxAttempts)),
		State: model.QueueStateQueued, RiskScore: in.RiskScore, Tier: in.Tier,
	}
	if err := store.WithTx(ctx, q.store, func(tx store.Tx) error {
		return tx.PutQueueItem(ctx, item)
	}); err != nil {
		return nil, apperr.Internal("put queue item", err)
	}

	result := make(chan error, 1)
	select {
	case q.requests <- enqueueRequest{item: item, result: result}:
	case <-ctx.Done():
		return nil, apperr.Timeout("enqueue")
	}
	select {
	case err := <-result:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, apperr.Timeout("enqueue")
	}
	_ = q.publisher.Publish(ctx, "queue.item.enqueued", map[string]string{"customerId": in.CustomerID}, map[string]interface{}{"itemId": item.ID})
	return item, nil
}

// CancelItem cancels an item in queued or partially-filled state. An item
// currently reserved must wait for the reservation to resolve or expire.
func (q *Queue) CancelItem(ctx context.Context, id, reason string) error {
	err := store.WithTx(ctx, q.store, func(tx store.Tx) error {
		item, ok, err := tx.GetQueueItem(ctx, id)
		if err != nil {
			return apperr.Internal("get queue item", err)
		}
		if !ok {
			return apperr.NotFound("queue item", id)
		}
		if item.State != model.QueueStateQueued && item.State != model.QueueStatePartiallyFilled {
			return apperr.Precondition("item must be queued or partially-filled to cancel")
		}
		item.State = model.QueueStateCancelled
		if err := tx.PutQueueItem(ctx, item); err != nil {
			return apperr.Internal("put queue item", err)
		}
		return tx.AppendAudit(ctx, &model.AuditEntry{
			Resource: "queue_item", ResourceID: id, Action: "cancel", Result: reason, Timestamp: store.Now(),
		})
	})
	if err != nil {
		return err
	}
	q.mu.Lock()
	delete(q.index, id)
	q.mu.Unlock()
	_ = q.publisher.Publish(ctx, "queue.item.cancelled", map[string]string{"itemId": id}, map[string]interface{}{"itemId": id})
	return nil
}

// Stats is a snapshot of queue depth by state.
type Stats struct {
	Queued          int
	Reserved        int
	PartiallyFilled int
}

// Snapshot returns current in-memory counters. The authoritative state
// lives in Store; this reflects the worker's working set.
func (q *Queue) Snapshot() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var s Stats
	for _, item := range q.index {
		switch item.State {
		case model.QueueStateQueued:
			s.Queued++
		case model.QueueStateReserved:
			s.Reserved++
		case model.QueueStatePartiallyFilled:
			s.PartiallyFilled++
		}
	}
	return s
}

// priorityScore combines tier rank, queue age and risk score into a single
// ordering key, higher is more urgent.
func (q *Queue) priorityScore(item *model.QueueItem, now time.Time) float64 {
	tierComponent := float64(item.Tier.Rank()) / 5.0
	ageComponent := now.Sub(item.EnqueuedAt).Seconds() / (24 * 3600)
	if ageComponent > 1 {
		ageComponent = 1
	}
	riskComponent := 1 - float64(item.RiskScore)/100.0

	score := q.cfg.TierWeight*tierComponent + q.cfg.AgeWeight*ageComponent + q.cfg.RiskWeight*riskComponent
	if item.Attempts >= q.cfg.StarvationThreshold {
		score += ageComponent // fairness boost equal to the age quantile
	}
	return score
}

// Run starts the worker goroutine that owns the priority queue and
// executes matches. It blocks until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	defer close(q.done)

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-q.requests:
			q.mu.Lock()
			q.index[req.item.ID] = req.item
			q.mu.Unlock()
			req.result <- nil
			q.tryMatch(ctx)
		case <-ticker.C:
			q.tryMatch(ctx)
		}
	}
}

// tryMatch pops candidates in priority order and attempts to pair the
// highest-priority withdrawal with the highest-priority compatible
// deposit, reserving both on success.
func (q *Queue) tryMatch(ctx context.Context) {
	if !q.limiter.Allow() {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := store.Now()
	var withdrawals, deposits []*model.QueueItem
	for _, item := range q.index {
		if item.State != model.QueueStateQueued && item.State != model.QueueStatePartiallyFilled {
			continue
		}
		if item.Direction == model.DirectionWithdrawal {
			withdrawals = append(withdrawals, item)
		} else {
			deposits = append(deposits, item)
		}
	}

	byPriority := func(items []*model.QueueItem) {
		sort.SliceStable(items, func(i, j int) bool {
			si, sj := q.priorityScore(items[i], now), q.priorityScore(items[j], now)
			if si != sj {
				return si > sj
			}
			return items[i].EnqueuedAt.Before(items[j].EnqueuedAt)
		})
	}
	byPriority(withdrawals)
	byPriority(deposits)

	for _, w := range withdrawals {
		for _, d := range deposits {
			if !q.compatible(w, d) {
				continue
			}
			if err := q.reserve(ctx, w, d, now); err != nil {
				q.logger.WithContext(ctx).WithFields(map[string]interface{}{"error": err}).Warn("reserve match attempt failed")
				continue
			}
			return // one match per tick keeps ordering simple and auditable
		}
	}
}

// compatible applies the matching rules: currency, method overlap, risk
// window, tier compatibility.
func (q *Queue) compatible(a, b *model.QueueItem) bool {
	if a.Currency != b.Currency {
		return false
	}
	if a.State == model.QueueStateReserved || b.State == model.QueueStateReserved {
		return false
	}
	if !methodsOverlap(a.AllowedMethods, b.AllowedMethods) {
		return false
	}
	riskDelta := float64(a.RiskScore-b.RiskScore) / 100.0
	if riskDelta < 0 {
		riskDelta = -riskDelta
	}
	if riskDelta > q.cfg.MaxRiskDelta {
		return false
	}
	if !q.cfg.AllowCrossTier && a.Tier != b.Tier {
		return false
	}
	if q.cfg.AllowCrossTier {
		diff := a.Tier.Rank() - b.Tier.Rank()
		if diff > 1 || diff < -1 {
			return false
		}
	}
	return true
}

func methodsOverlap(a, b map[string]bool) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	for m := range a {
		if b[m] {
			return true
		}
	}
	return false
}

// reserve transitions both items to reserved and creates a pending
// MatchAttempt with a wall-clock expiry.
func (q *Queue) reserve(ctx context.Context, w, d *model.QueueItem, now time.Time) error {
	amount := w.Residual
	if d.Residual < amount {
		amount = d.Residual
	}
	attempt := &model.MatchAttempt{
		ID: uuid.NewString(), WithdrawalID: w.ID, DepositID: d.ID, Amount: amount,
		ExpiresAt: now.Add(q.cfg.ReservationTTL), State: model.AttemptPending,
	}

	err := store.WithTx(ctx, q.store, func(tx store.Tx) error {
		if err := tx.PutMatchAttempt(ctx, attempt); err != nil {
			return err
		}
		w.State, d.State = model.QueueStateReserved, model.QueueStateReserved
		w.ActiveAttemptID, d.ActiveAttemptID = attempt.ID, attempt.ID
		if err := tx.PutQueueItem(ctx, w); err != nil {
			return err
		}
		return tx.PutQueueItem(ctx, d)
	})
	if err != nil {
		return err
	}
	_ = q.publisher.Publish(ctx, "queue.match.reserved", nil, map[string]interface{}{
		"attemptId": attempt.ID, "withdrawalId": w.ID, "depositId": d.ID, "amount": amount,
	})
	return nil
}

// ConfirmMatch executes the ledger transfer for a pending attempt and
// advances each item to filled when its residual reaches zero, otherwise to
// partially-filled (AllowPartial) or back to queued.
func (q *Queue) ConfirmMatch(ctx context.Context, attemptID, correlation string) error {
	var w, d *model.QueueItem
	err := store.WithTx(ctx, q.store, func(tx store.Tx) error {
		attempt, ok, err := tx.GetMatchAttempt(ctx, attemptID)
		if err != nil {
			return apperr.Internal("get match attempt", err)
		}
		if !ok {
			return apperr.NotFound("match attempt", attemptID)
		}
		if attempt.State != model.AttemptPending {
			return apperr.Precondition("attempt is not pending")
		}

		wItem, ok, err := tx.GetQueueItem(ctx, attempt.WithdrawalID)
		if err != nil || !ok {
			return apperr.NotFound("queue item", attempt.WithdrawalID)
		}
		dItem, ok, err := tx.GetQueueItem(ctx, attempt.DepositID)
		if err != nil || !ok {
			return apperr.NotFound("queue item", attempt.DepositID)
		}

		depositorAvail := model.AccountRef{OwnerKind: model.OwnerCustomer, OwnerID: dItem.CustomerID, Bucket: model.BucketAvailable, Currency: dItem.Currency}
		withdrawerAvail := model.AccountRef{OwnerKind: model.OwnerCustomer, OwnerID: wItem.CustomerID, Bucket: model.BucketAvailable, Currency: wItem.Currency}
		if err := q.ledger.TransferTx(ctx, tx, depositorAvail, withdrawerAvail, attempt.Amount, correlation, "p2p match"); err != nil {
			return err
		}

		wItem.Residual -= attempt.Amount
		dItem.Residual -= attempt.Amount
		wItem.ActiveAttemptID, dItem.ActiveAttemptID = "", ""
		wItem.State = stateFor(wItem)
		dItem.State = stateFor(dItem)

		if err := tx.PutQueueItem(ctx, wItem); err != nil {
			return err
		}
		if err := tx.PutQueueItem(ctx, dItem); err != nil {
			return err
		}
		attempt.State = model.AttemptConfirmed
		if err := tx.PutMatchAttempt(ctx, attempt); err != nil {
			return err
		}
		w, d = wItem, dItem
		return tx.AppendAudit(ctx, &model.AuditEntry{
			Resource: "match_attempt", ResourceID: attemptID, Action: "confirm", Result: "ok", Timestamp: store.Now(),
		})
	})
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.index[w.ID] = w
	q.index[d.ID] = d
	q.mu.Unlock()
	_ = q.publisher.Publish(ctx, "queue.match.confirmed", nil, map[string]interface{}{"attemptId": attemptID})
	return nil
}

// stateFor derives a queue item's post-transfer state from its residual.
func stateFor(item *model.QueueItem) model.QueueItemState {
	if item.Residual <= 0 {
		return model.QueueStateFilled
	}
	if item.AllowPartial {
		return model.QueueStatePartiallyFilled
	}
	return model.QueueStateQueued
}

// SweepExpiredAttempts returns expired reservations to queued, incrementing
// attempts, and expires any item that has exhausted maxAttempts. Intended
// to be called by the scheduler's queue sweeper.
func (q *Queue) SweepExpiredAttempts(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := store.Now()
	swept := 0
	for _, item := range q.index {
		if item.State != model.QueueStateReserved || item.ActiveAttemptID == "" {
			continue
		}
		expired, err := q.expireIfPast(ctx, item, now)
		if err != nil {
			return swept, err
		}
		if expired {
			swept++
		}
	}
	return swept, nil
}

func (q *Queue) expireIfPast(ctx context.Context, item *model.QueueItem, now time.Time) (bool, error) {
	var acted bool
	err := store.WithTx(ctx, q.store, func(tx store.Tx) error {
		attempt, ok, err := tx.GetMatchAttempt(ctx, item.ActiveAttemptID)
		if err != nil || !ok {
			return nil
		}
		switch attempt.State {
		case model.AttemptPending:
			if now.Before(attempt.ExpiresAt) {
				return nil
			}
			attempt.State = model.AttemptAborted
			if err := tx.PutMatchAttempt(ctx, attempt); err != nil {
				return err
			}
		case model.AttemptAborted:
			// the paired item's sweep already aborted this attempt
		default:
			return nil
		}
		item.Attempts++
		item.ActiveAttemptID = ""
		if item.Attempts >= q.cfg.MaxAttempts {
			item.State = model.QueueStateExpired
		} else {
			item.State = model.QueueStateQueued
		}
		acted = true
		return tx.PutQueueItem(ctx, item)
	})
	return acted, err
}
