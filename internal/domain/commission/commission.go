// Package commission implements agent commission structure resolution,
// period-bound calculation, and the payout disbursement lifecycle.
package commission

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/sportsbook-ops/backbone/infrastructure/apperr"
	"github.com/sportsbook-ops/backbone/infrastructure/logging"
	"github.com/sportsbook-ops/backbone/internal/domain/ledger"
	"github.com/sportsbook-ops/backbone/internal/domain/model"
	"github.com/sportsbook-ops/backbone/internal/domain/store"
)

const defaultMaxResolveDepth = 8

// EventPublisher is the minimal surface CommissionEngine needs from the
// event fabric.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, scope map[string]string, payload map[string]interface{}) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, map[string]string, map[string]interface{}) error {
	return nil
}

// Config controls the fallback structure used when no agent in a parent
// chain carries an explicit commissionStructureId.
type Config struct {
	DefaultStructureID string
}

// Engine resolves commission structures, computes period calculations, and
// drives payouts through their lifecycle.
type Engine struct {
	store     store.Store
	ledger    *ledger.Ledger
	logger    *logging.Logger
	publisher EventPublisher
	cfg       Config
}

// New builds an Engine.
func New(s store.Store, l *ledger.Ledger, logger *logging.Logger, publisher EventPublisher, cfg Config) *Engine {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &Engine{store: s, ledger: l, logger: logger, publisher: publisher, cfg: cfg}
}

// ResolveStructure walks the agent's parent chain until one carries an
// explicit commissionStructureId, falling back to the system default.
func (e *Engine) ResolveStructure(ctx context.Context, agentID string) (*model.CommissionStructure, error) {
	currentID := agentID
	for depth := 0; depth < defaultMaxResolveDepth; depth++ {
		agent, ok, err := e.store.GetAgent(ctx, currentID)
		if err != nil {
			return nil, apperr.Internal("get agent", err)
		}
		if !ok {
			break
		}
		if agent.CommissionStructureID != "" {
			structure, ok, err := e.store.GetCommissionStructure(ctx, agent.CommissionStructureID)
			if err != nil {
				return nil, apperr.Internal("get commission structure", err)
			}
			if ok {
				return structure, nil
			}
		}
		if agent.ParentID == "" {
			break
		}
		currentID = agent.ParentID
	}
	structure, ok, err := e.store.GetCommissionStructure(ctx, e.cfg.DefaultStructureID)
	if err != nil {
		return nil, apperr.Internal("get default commission structure", err)
	}
	if !ok {
		return nil, apperr.NotFound("commission structure", e.cfg.DefaultStructureID)
	}
	return structure, nil
}

// RevenueSlice is one attributable portion of an agent's period revenue,
// used to match commission overrides against sport/betType/customer.
type RevenueSlice struct {
	Sport      string
	BetType    string
	CustomerID string
	Amount     int64
}

// CalculateInput is the payload for Calculate.
type CalculateInput struct {
	AgentID     string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Slices      []RevenueSlice
	Metrics     map[string]float64 // performance-bonus metric values observed during the period
}

// Calculate resolves the agent's effective structure and computes the
// commission amount: base rate plus the highest-qualifying volume-bonus
// tier, plus triggered performance bonuses, with per-slice overrides
// replacing the effective rate where they match.
func (e *Engine) Calculate(ctx context.Context, in CalculateInput) (*model.CommissionCalculation, error) {
	structure, err := e.ResolveStructure(ctx, in.AgentID)
	if err != nil {
		return nil, err
	}

	var revenue int64
	for _, s := range in.Slices {
		revenue += s.Amount
	}

	volumeBonus := greatestVolumeBonus(structure.VolumeBonusTiers, revenue)
	effectiveRate := structure.BaseRate + volumeBonus

	var fixedBonuses int64
	var performanceAmounts []int64
	for _, rule := range structure.PerformanceBonuses {
		value, observed := in.Metrics[rule.Metric]
		if !observed || value < rule.Threshold {
			continue
		}
		amt := rule.BonusAmount
		if rule.BonusRate != 0 {
			amt += roundToInt64(rule.BonusRate * float64(revenue))
		}
		fixedBonuses += amt
		performanceAmounts = append(performanceAmounts, amt)
	}

	var baseAmount int64
	var overridesApplied []string
	for _, slice := range in.Slices {
		rate := effectiveRate
		if ov, ok := matchOverride(structure.Overrides, slice); ok {
			rate = ov.Rate
			overridesApplied = append(overridesApplied, fmt.Sprintf("%s/%s/%s", ov.Sport, ov.BetType, ov.CustomerID))
		}
		baseAmount += roundToInt64(rate * float64(slice.Amount))
	}

	calc := &model.CommissionCalculation{
		ID:           uuid.NewString(),
		AgentID:      in.AgentID,
		StructureID:  structure.ID,
		PeriodStart:  in.PeriodStart,
		PeriodEnd:    in.PeriodEnd,
		GrossRevenue: revenue,
		Amount:       baseAmount + fixedBonuses,
		Breakdown: model.CommissionBreakdown{
			Revenue:            revenue,
			BaseRate:           structure.BaseRate,
			VolumeBonus:        volumeBonus,
			PerformanceBonuses: performanceAmounts,
			OverridesApplied:   overridesApplied,
			EffectiveRate:      effectiveRate,
			Amount:             baseAmount + fixedBonuses,
		},
		State: model.CalcPending,
	}
	return calc, nil
}

// greatestVolumeBonus returns the bonusRate of the highest tier whose
// minVolume does not exceed revenue, or 0 if none qualifies.
func greatestVolumeBonus(tiers []model.VolumeBonusTier, revenue int64) float64 {
	var best float64
	var bestMin int64 = -1
	for _, tier := range tiers {
		if tier.MinVolume <= revenue && tier.MinVolume > bestMin {
			best = tier.BonusRate
			bestMin = tier.MinVolume
		}
	}
	return best
}

// matchOverride returns the first override whose non-empty filter fields
// all match slice.
func matchOverride(overrides []model.CommissionOverride, slice RevenueSlice) (model.CommissionOverride, bool) {
	for _, ov := range overrides {
		if ov.Sport != "" && ov.Sport != slice.Sport {
			continue
		}
		if ov.BetType != "" && ov.BetType != slice.BetType {
			continue
		}
		if ov.CustomerID != "" && ov.CustomerID != slice.CustomerID {
			continue
		}
		return ov, true
	}
	return model.CommissionOverride{}, false
}

func roundToInt64(f float64) int64 {
	return int64(math.Round(f))
}

// PersistCalculation writes a calculation computed by Calculate, so batch
// callers (the commission batcher) can checkpoint results before deciding
// whether to roll them into a payout.
func (e *Engine) PersistCalculation(ctx context.Context, calc *model.CommissionCalculation) error {
	return store.WithTx(ctx, e.store, func(tx store.Tx) error {
		return tx.PutCommissionCalculation(ctx, calc)
	})
}

// payoutTransitions is the total payout state-transition table.
var payoutTransitions = map[model.PayoutState]map[model.PayoutState]bool{
	model.PayoutPending: {
		model.PayoutProcessing: true,
		model.PayoutCancelled:  true,
	},
	model.PayoutProcessing: {
		model.PayoutCompleted: true,
		model.PayoutFailed:    true,
	},
}

func canTransitionPayout(from, to model.PayoutState) bool {
	next, ok := payoutTransitions[from]
	return ok && next[to]
}

// CreatePayout opens a new pending payout batching the given calculations.
// Callers aggregate the amount from the CommissionCalculation results of a
// single period close; all calculations in a batch must share the payout's
// (agentId, currency).
func (e *Engine) CreatePayout(ctx context.Context, agentID, currency string, amount int64, calculationIDs []string) (*model.Payout, error) {
	if amount <= 0 {
		return nil, apperr.Validation("amount", "must be positive")
	}
	payout := &model.Payout{
		ID: uuid.NewString(), AgentID: agentID, Amount: amount, Currency: currency,
		State: model.PayoutPending, CalculationIDs: calculationIDs, CreatedAt: store.Now(),
	}
	err := store.WithTx(ctx, e.store, func(tx store.Tx) error {
		if err := tx.PutPayout(ctx, payout); err != nil {
			return apperr.Internal("put payout", err)
		}
		return tx.AppendAudit(ctx, &model.AuditEntry{
			Resource: "payout", ResourceID: payout.ID, Action: "create", Result: "ok", Timestamp: payout.CreatedAt,
		})
	})
	if err != nil {
		return nil, err
	}
	_ = e.publisher.Publish(ctx, "payout.created", map[string]string{"agentId": agentID}, map[string]interface{}{"payoutId": payout.ID, "amount": amount})
	return payout, nil
}

// transitionPayout is the shared implementation behind ProcessPayout,
// CompletePayout, FailPayout and CancelPayout.
func (e *Engine) transitionPayout(ctx context.Context, id string, to model.PayoutState, mutate func(tx store.Tx, p *model.Payout) error) (*model.Payout, error) {
	var payout *model.Payout
	err := store.WithTx(ctx, e.store, func(tx store.Tx) error {
		p, ok, err := tx.GetPayout(ctx, id)
		if err != nil {
			return apperr.Internal("get payout", err)
		}
		if !ok {
			return apperr.NotFound("payout", id)
		}
		if !canTransitionPayout(p.State, to) {
			return apperr.Precondition(fmt.Sprintf("cannot move payout from %s to %s", p.State, to))
		}
		if mutate != nil {
			if err := mutate(tx, p); err != nil {
				return err
			}
		}
		p.State = to
		if err := tx.PutPayout(ctx, p); err != nil {
			return apperr.Internal("put payout", err)
		}
		payout = p
		return tx.AppendAudit(ctx, &model.AuditEntry{
			Resource: "payout", ResourceID: id, Action: string(to), Result: "ok", Timestamp: store.Now(),
		})
	})
	if err != nil {
		return nil, err
	}
	_ = e.publisher.Publish(ctx, "payout."+string(to), map[string]string{"payoutId": id}, map[string]interface{}{"payoutId": id})
	return payout, nil
}

// ProcessPayout moves a pending payout into processing.
func (e *Engine) ProcessPayout(ctx context.Context, id, processedBy string) (*model.Payout, error) {
	return e.transitionPayout(ctx, id, model.PayoutProcessing, func(_ store.Tx, p *model.Payout) error {
		p.ProcessedBy = processedBy
		return nil
	})
}

// CompletePayout requires a prior processing state, credits the agent's
// ledger account from the house float, and marks the payout completed.
func (e *Engine) CompletePayout(ctx context.Context, id, correlation string) (*model.Payout, error) {
	return e.transitionPayout(ctx, id, model.PayoutCompleted, func(tx store.Tx, p *model.Payout) error {
		house := model.AccountRef{OwnerKind: model.OwnerHouse, Bucket: model.BucketHouse, Currency: p.Currency}
		agentAvail := model.AccountRef{OwnerKind: model.OwnerAgent, OwnerID: p.AgentID, Bucket: model.BucketAvailable, Currency: p.Currency}
		if err := e.ledger.CreditTx(ctx, tx, house, agentAvail, p.Amount, correlation, "commission payout"); err != nil {
			return err
		}
		now := store.Now()
		p.CompletedAt = &now
		return nil
	})
}

// FailPayout marks a processing payout as failed.
func (e *Engine) FailPayout(ctx context.Context, id, reason string) (*model.Payout, error) {
	return e.transitionPayout(ctx, id, model.PayoutFailed, func(_ store.Tx, p *model.Payout) error {
		p.Reference = reason
		return nil
	})
}

// CancelPayout cancels a pending payout before processing begins.
func (e *Engine) CancelPayout(ctx context.Context, id, reason string) (*model.Payout, error) {
	return e.transitionPayout(ctx, id, model.PayoutCancelled, func(_ store.Tx, p *model.Payout) error {
		p.Reference = reason
		return nil
	})
}

// PeriodBounds is a half-open [Start, End) window a payout schedule closes
// over.
type PeriodBounds struct {
	Start time.Time
	End   time.Time
}

// periodEpoch anchors biweekly numbering to the Monday of ISO week 1, 2024,
// so "which biweek" is stable and doesn't depend on wall-clock time of
// evaluation.
var periodEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// PeriodBoundsFor computes the schedule-bound window containing reference,
// in the given timezone (agent.Config["timezone"], defaulting to UTC).
func PeriodBoundsFor(schedule model.PayoutSchedule, reference time.Time, tz *time.Location) PeriodBounds {
	if tz == nil {
		tz = time.UTC
	}
	local := reference.In(tz)

	switch schedule {
	case model.ScheduleWeekly:
		start := startOfISOWeek(local)
		return PeriodBounds{Start: start, End: start.AddDate(0, 0, 7)}
	case model.ScheduleBiweekly:
		start := startOfISOWeek(local)
		weeksSinceEpoch := int(start.Sub(periodEpoch.In(tz)).Hours() / (24 * 7))
		if weeksSinceEpoch%2 != 0 {
			start = start.AddDate(0, 0, -7)
		}
		return PeriodBounds{Start: start, End: start.AddDate(0, 0, 14)}
	case model.ScheduleMonthly:
		start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, tz)
		return PeriodBounds{Start: start, End: start.AddDate(0, 1, 0)}
	default:
		start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tz)
		return PeriodBounds{Start: start, End: start.AddDate(0, 0, 1)}
	}
}

// startOfISOWeek returns the Monday 00:00 preceding or equal to t.
func startOfISOWeek(t time.Time) time.Time {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday -> 7, so Monday is day 1
	}
	offset := weekday - 1
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return d.AddDate(0, 0, -offset)
}

// AgentTimezone reads the agent's configured IANA timezone, defaulting to
// UTC when unset or invalid.
func AgentTimezone(agent *model.Agent) *time.Location {
	if agent == nil {
		return time.UTC
	}
	name := agent.Config["timezone"]
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
