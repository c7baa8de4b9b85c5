// Package wagerengine implements the wager lifecycle state machine: bet
// placement, cancellation, grading/settlement, and odds maintenance.
package wagerengine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sportsbook-ops/backbone/infrastructure/apperr"
	"github.com/sportsbook-ops/backbone/infrastructure/logging"
	"github.com/sportsbook-ops/backbone/internal/domain/ledger"
	"github.com/sportsbook-ops/backbone/internal/domain/model"
	"github.com/sportsbook-ops/backbone/internal/domain/store"
)

const maxOddsHistory = 50

// EventPublisher is the minimal surface WagerEngine needs from the event
// fabric.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, scope map[string]string, payload map[string]interface{}) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, map[string]string, map[string]interface{}) error {
	return nil
}

// Config tunes placement limits (spec §6 wager.*).
type Config struct {
	SportMinStake  int64
	BetTypeMaxOdds float64
}

// WagerEngine is the bet lifecycle component.
type WagerEngine struct {
	store     store.Store
	ledger    *ledger.Ledger
	logger    *logging.Logger
	publisher EventPublisher
	cfg       Config
}

// New builds a WagerEngine.
func New(s store.Store, l *ledger.Ledger, logger *logging.Logger, publisher EventPublisher, cfg Config) *WagerEngine {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if cfg.SportMinStake <= 0 {
		cfg.SportMinStake = 100
	}
	if cfg.BetTypeMaxOdds <= 0 {
		cfg.BetTypeMaxOdds = 1000
	}
	return &WagerEngine{store: s, ledger: l, logger: logger, publisher: publisher, cfg: cfg}
}

// allowedTransitions is the total state-transition table; any pair not
// present here fails with ErrPrecondition regardless of caller intent.
var allowedTransitions = map[model.WagerStatus]map[model.WagerStatus]bool{
	model.WagerStatusPending: {
		model.WagerStatusActive:    true,
		model.WagerStatusWon:       true,
		model.WagerStatusLost:      true,
		model.WagerStatusVoid:      true,
		model.WagerStatusPushed:    true,
		model.WagerStatusCancelled: true,
	},
	model.WagerStatusActive: {
		model.WagerStatusWon:    true,
		model.WagerStatusLost:   true,
		model.WagerStatusVoid:   true,
		model.WagerStatusPushed: true,
	},
}

func canTransition(from, to model.WagerStatus) bool {
	next, ok := allowedTransitions[from]
	return ok && next[to]
}

// CreateBetInput is the payload for CreateBet.
type CreateBetInput struct {
	CustomerID   string
	AgentID      string
	EventID      string
	BetType      string
	Selection    string
	Stake        int64
	OddsMilli    int64
	RiskLevel    string
	VIPTier      model.CustomerTier
	Currency     string
	Correlation  string
}

// CreateBet validates the customer, event and stake, reserves the stake in
// the ledger, persists the wager and emits wager.placed.
func (e *WagerEngine) CreateBet(ctx context.Context, in CreateBetInput) (*model.Wager, error) {
	if in.Stake < e.cfg.SportMinStake {
		return nil, apperr.Validation("stake", fmt.Sprintf("must be at least %d minor units", e.cfg.SportMinStake))
	}
	if in.OddsMilli <= 1000 {
		return nil, apperr.Validation("odds", "must be greater than 1.000")
	}

	var wager *model.Wager
	err := store.WithTx(ctx, e.store, func(tx store.Tx) error {
		customer, ok, err := tx.GetCustomer(ctx, in.CustomerID)
		if err != nil {
			return apperr.Internal("get customer", err)
		}
		if !ok {
			return apperr.NotFound("customer", in.CustomerID)
		}
		if customer.Status != model.CustomerStatusActive {
			return apperr.Precondition("customer is not active")
		}

		ev, ok, err := tx.GetEvent(ctx, in.EventID)
		if err != nil {
			return apperr.Internal("get event", err)
		}
		if !ok {
			return apperr.NotFound("event", in.EventID)
		}
		if ev.Status != model.EventStatusScheduled && ev.Status != model.EventStatusLive {
			return apperr.Precondition("event is not open for wagering")
		}
		if !ev.VIPAccess[in.VIPTier] {
			return apperr.Precondition("event does not permit this customer tier")
		}

		if float64(in.OddsMilli)/1000.0 > e.cfg.BetTypeMaxOdds {
			e.logger.WithContext(ctx).WithFields(map[string]interface{}{
				"eventId": in.EventID, "oddsMilli": in.OddsMilli,
			}).Warn("odds exceed configured ceiling, accepting with warning")
		}

		potentialPayout := potentialPayout(in.Stake, in.OddsMilli)

		avail := model.AccountRef{OwnerKind: model.OwnerCustomer, OwnerID: in.CustomerID, Bucket: model.BucketAvailable, Currency: in.Currency}
		reserved := model.AccountRef{OwnerKind: model.OwnerCustomer, OwnerID: in.CustomerID, Bucket: model.BucketReserved, Currency: in.Currency}
		if err := e.ledger.ReserveTx(ctx, tx, avail, reserved, in.Stake, in.Correlation, "wager stake reservation"); err != nil {
			return err
		}

		now := store.Now()
		wager = &model.Wager{
			ID: uuid.NewString(), CustomerID: in.CustomerID, AgentID: in.AgentID, EventID: in.EventID,
			BetType: in.BetType, Selection: in.Selection, Stake: in.Stake, OddsMilli: in.OddsMilli,
			PotentialPayout: potentialPayout, RiskLevel: in.RiskLevel, VIPTier: in.VIPTier,
			Status: model.WagerStatusPending, PlacedAt: now,
		}
		if err := tx.PutWager(ctx, wager); err != nil {
			return apperr.Internal("put wager", err)
		}
		return tx.AppendAudit(ctx, &model.AuditEntry{
			Resource: "wager", ResourceID: wager.ID, Action: "place", Result: "ok", Timestamp: now,
		})
	})
	if err != nil {
		return nil, err
	}
	_ = e.publisher.Publish(ctx, "wager.placed", map[string]string{"agentId": wager.AgentID, "customerId": wager.CustomerID}, map[string]interface{}{
		"wagerId": wager.ID, "eventId": wager.EventID, "stake": wager.Stake,
	})
	return wager, nil
}

// potentialPayout computes stake * (odds - 1.000) with banker's rounding on
// the integer multiply, per spec §4.2 numeric semantics.
func potentialPayout(stake, oddsMilli int64) int64 {
	numerator := stake * (oddsMilli - 1000)
	return bankersRoundDiv(numerator, 1000)
}

// bankersRoundDiv divides n by d, rounding halves to even.
func bankersRoundDiv(n, d int64) int64 {
	q := n / d
	r := n % d
	if r == 0 {
		return q
	}
	twiceR := r * 2
	neg := (n < 0) != (d < 0)
	absTwiceR := twiceR
	if absTwiceR < 0 {
		absTwiceR = -absTwiceR
	}
	absD := d
	if absD < 0 {
		absD = -absD
	}
	switch {
	case absTwiceR < absD:
		return q
	case absTwiceR > absD:
		if neg {
			return q - 1
		}
		return q + 1
	default:
		if q%2 == 0 {
			return q
		}
		if neg {
			return q - 1
		}
		return q + 1
	}
}

// BetPatch carries the fields updateBet may change while a wager is pending.
type BetPatch struct {
	Notes     *string
	RiskLevel *string
	VIPTier   *model.CustomerTier
}

// UpdateBet applies patch. Only Notes/RiskLevel/VIPTier may change, and only
// while the wager is pending.
func (e *WagerEngine) UpdateBet(ctx context.Context, id string, patch BetPatch) (*model.Wager, error) {
	var updated *model.Wager
	err := store.WithTx(ctx, e.store, func(tx store.Tx) error {
		w, ok, err := tx.GetWager(ctx, id)
		if err != nil {
			return apperr.Internal("get wager", err)
		}
		if !ok {
			return apperr.NotFound("wager", id)
		}
		if w.Status != model.WagerStatusPending {
			return apperr.Precondition("wager is not pending")
		}
		if patch.Notes != nil {
			w.Notes = *patch.Notes
		}
		if patch.RiskLevel != nil {
			w.RiskLevel = *patch.RiskLevel
		}
		if patch.VIPTier != nil {
			w.VIPTier = *patch.VIPTier
		}
		if err := tx.PutWager(ctx, w); err != nil {
			return apperr.Internal("put wager", err)
		}
		updated = w
		return nil
	})
	return updated, err
}

// CancelBet releases the reserved stake and transitions a pending wager to
// cancelled.
func (e *WagerEngine) CancelBet(ctx context.Context, id, reason, currency, correlation string) error {
	err := store.WithTx(ctx, e.store, func(tx store.Tx) error {
		w, ok, err := tx.GetWager(ctx, id)
		if err != nil {
			return apperr.Internal("get wager", err)
		}
		if !ok {
			return apperr.NotFound("wager", id)
		}
		if w.Status != model.WagerStatusPending {
			return apperr.Precondition("only pending wagers can be cancelled")
		}

		reserved := model.AccountRef{OwnerKind: model.OwnerCustomer, OwnerID: w.CustomerID, Bucket: model.BucketReserved, Currency: currency}
		avail := model.AccountRef{OwnerKind: model.OwnerCustomer, OwnerID: w.CustomerID, Bucket: model.BucketAvailable, Currency: currency}
		if err := e.ledger.ReleaseTx(ctx, tx, reserved, avail, w.Stake, correlation, "wager cancelled: "+reason); err != nil {
			return err
		}

		w.Status = model.WagerStatusCancelled
		now := store.Now()
		w.SettledAt = &now
		w.SettlementOutcome = model.WagerStatusCancelled
		w.Notes = reason
		if err := tx.PutWager(ctx, w); err != nil {
			return apperr.Internal("put wager", err)
		}
		return tx.AppendAudit(ctx, &model.AuditEntry{
			Resource: "wager", ResourceID: id, Action: "cancel", Result: "ok", Timestamp: now,
		})
	})
	if err != nil {
		return err
	}
	_ = e.publisher.Publish(ctx, "wager.cancelled", map[string]string{"wagerId": id}, map[string]interface{}{"wagerId": id, "reason": reason})
	return nil
}

// Settlement is the input to SettleBet.
type Settlement struct {
	WagerID     string
	Outcome     model.WagerStatus // won, lost, void, pushed
	Currency    string
	SettledBy   string
	Correlation string
}

// SettleBet grades a pending/active wager. On won: release the reserved
// stake and credit potentialPayout from the house. On lost: move the
// reserved stake to the house. On void/pushed: release the reserved stake.
func (e *WagerEngine) SettleBet(ctx context.Context, s Settlement) (*model.Wager, error) {
	if s.Outcome != model.WagerStatusWon && s.Outcome != model.WagerStatusLost &&
		s.Outcome != model.WagerStatusVoid && s.Outcome != model.WagerStatusPushed {
		return nil, apperr.Validation("outcome", "must be won, lost, void or pushed")
	}

	var settled *model.Wager
	err := store.WithTx(ctx, e.store, func(tx store.Tx) error {
		w, ok, err := tx.GetWager(ctx, s.WagerID)
		if err != nil {
			return apperr.Internal("get wager", err)
		}
		if !ok {
			return apperr.NotFound("wager", s.WagerID)
		}
		if !canTransition(w.Status, s.Outcome) {
			return apperr.Precondition(fmt.Sprintf("cannot settle %s wager as %s", w.Status, s.Outcome))
		}

		reserved := model.AccountRef{OwnerKind: model.OwnerCustomer, OwnerID: w.CustomerID, Bucket: model.BucketReserved, Currency: s.Currency}
		avail := model.AccountRef{OwnerKind: model.OwnerCustomer, OwnerID: w.CustomerID, Bucket: model.BucketAvailable, Currency: s.Currency}
		house := model.AccountRef{OwnerKind: model.OwnerHouse, Bucket: model.BucketHouse, Currency: s.Currency}

		var actualWin int64
		switch s.Outcome {
		case model.WagerStatusWon:
			if err := e.ledger.ReleaseTx(ctx, tx, reserved, avail, w.Stake, s.Correlation+":release", "wager won: stake release"); err != nil {
				return err
			}
			if err := e.ledger.CreditTx(ctx, tx, house, avail, w.PotentialPayout, s.Correlation+":payout", "wager won: payout"); err != nil {
				return err
			}
			actualWin = w.PotentialPayout
		case model.WagerStatusLost:
			if err := e.ledger.TransferTx(ctx, tx, reserved, house, w.Stake, s.Correlation, "wager lost: stake to house"); err != nil {
				return err
			}
			actualWin = -w.Stake
		case model.WagerStatusVoid, model.WagerStatusPushed:
			if err := e.ledger.ReleaseTx(ctx, tx, reserved, avail, w.Stake, s.Correlation, "wager "+string(s.Outcome)+": stake release"); err != nil {
				return err
			}
		}

		now := store.Now()
		w.Status = s.Outcome
		w.SettledAt = &now
		w.SettlementOutcome = s.Outcome
		w.SettledBy = s.SettledBy
		w.ActualWin = actualWin
		if err := tx.PutWager(ctx, w); err != nil {
			return apperr.Internal("put wager", err)
		}
		settled = w
		return tx.AppendAudit(ctx, &model.AuditEntry{
			Resource: "wager", ResourceID: s.WagerID, Action: "settle", Result: string(s.Outcome), Timestamp: now,
		})
	})
	if err != nil {
		return nil, err
	}
	_ = e.publisher.Publish(ctx, "wager.settled", map[string]string{"wagerId": s.WagerID}, map[string]interface{}{
		"wagerId": s.WagerID, "outcome": string(s.Outcome),
	})
	return settled, nil
}

// BulkSettleResult is one bet's outcome from BulkSettleBets.
type BulkSettleResult struct {
	WagerID string
	Wager   *model.Wager
	Err     error
}

// BulkSettleBets applies settlements one bet per transaction, collecting
// per-bet success/error so a single bad wager doesn't abort the batch.
func (e *WagerEngine) BulkSettleBets(ctx context.Context, settlements []Settlement) []BulkSettleResult {
	results := make([]BulkSettleResult, 0, len(settlements))
	for _, s := range settlements {
		w, err := e.SettleBet(ctx, s)
		results = append(results, BulkSettleResult{WagerID: s.WagerID, Wager: w, Err: err})
	}
	return results
}

// OddsUpdate is the payload for UpdateOdds.
type OddsUpdate struct {
	MoneylineHomeMilli int64
	MoneylineAwayMilli int64
	Volume             int64
	Reason             string
}

// UpdateOdds appends a movement record and replaces the current snapshot,
// truncating history FIFO at 50. Idempotent by (eventId, reason) when reason
// carries a client correlation token (callers embed it in Reason, e.g.
// "feed-sync:corr-123"); a retry with the same token returns the event
// unchanged instead of appending a second movement.
func (e *WagerEngine) UpdateOdds(ctx context.Context, eventID string, patch OddsUpdate) (*model.Event, error) {
	var updated *model.Event
	err := store.WithTx(ctx, e.store, func(tx store.Tx) error {
		ev, ok, err := tx.GetEvent(ctx, eventID)
		if err != nil {
			return apperr.Internal("get event", err)
		}
		if !ok {
			return apperr.NotFound("event", eventID)
		}

		now := store.Now()
		if now.Before(ev.Odds.LastUpdated) {
			return apperr.Invariant("odds lastUpdated must be monotonically non-decreasing")
		}
		if patch.MoneylineHomeMilli <= 1010 || patch.MoneylineAwayMilli <= 1010 {
			return apperr.Validation("odds", "moneyline odds must exceed 1.01")
		}

		idempotencyKey := fmt.Sprintf("odds:%s:%s", eventID, patch.Reason)
		if patch.Reason != "" {
			claimed, err := tx.ReserveCorrelation(ctx, idempotencyKey)
			if err != nil {
				return apperr.Internal("reserve odds update", err)
			}
			if !claimed {
				updated = ev
				return nil
			}
		}

		movement := model.OddsMovement{
			Timestamp: now, HomeMilli: patch.MoneylineHomeMilli, AwayMilli: patch.MoneylineAwayMilli,
			Volume: patch.Volume, Reason: patch.Reason,
		}
		history := append(ev.Odds.Movements, movement)
		if len(history) > maxOddsHistory {
			history = history[len(history)-maxOddsHistory:]
		}
		ev.Odds = model.OddsSnapshot{
			MoneylineHomeMilli: patch.MoneylineHomeMilli,
			MoneylineAwayMilli: patch.MoneylineAwayMilli,
			LastUpdated:        now,
			Movements:          history,
		}
		if err := tx.PutEvent(ctx, ev); err != nil {
			return apperr.Internal("put event", err)
		}
		updated = ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	_ = e.publisher.Publish(ctx, "odds.updated", map[string]string{"eventId": eventID}, map[string]interface{}{"eventId": eventID})
	return updated, nil
}
