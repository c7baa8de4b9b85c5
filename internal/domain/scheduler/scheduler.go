// Package scheduler runs the backbone's periodic reconcilers: the queue
// sweeper, the settlement sweeper, the commission batcher, and the metrics
// rollup (spec §4.8). Each reconciler is an independent task with its own
// interval, driven by lifecycle.TickerWorker except for the commission
// batcher, which is cron-scheduled.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sportsbook-ops/backbone/infrastructure/lifecycle"
	"github.com/sportsbook-ops/backbone/infrastructure/logging"
	"github.com/sportsbook-ops/backbone/internal/domain/commission"
	"github.com/sportsbook-ops/backbone/internal/domain/matchingqueue"
	"github.com/sportsbook-ops/backbone/internal/domain/model"
	"github.com/sportsbook-ops/backbone/internal/domain/store"
)

// EventPublisher is the narrow publish contract the scheduler depends on,
// declared locally so it can be constructed before EventBus exists.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, scope map[string]string, payload map[string]interface{}) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, map[string]string, map[string]interface{}) error {
	return nil
}

// overdueRenotifyInterval bounds how often the settlement sweeper re-emits
// a wager.settlement.overdue event for the same wager, so a wager stuck
// ungraded for hours doesn't flood the bus once per sweep.
const overdueRenotifyInterval = time.Minute

// Config controls reconciler cadence (spec §6 scheduler.*).
type Config struct {
	QueueSweepInterval    time.Duration
	SettleSweepInterval   time.Duration
	MetricsRollupInterval time.Duration
	CommissionCron        string // standard 5-field cron expression
	DefaultCurrency       string // commission batching assumes one operating currency; see DESIGN.md
}

func (c *Config) applyDefaults() {
	if c.QueueSweepInterval <= 0 {
		c.QueueSweepInterval = time.Second
	}
	if c.SettleSweepInterval <= 0 {
		c.SettleSweepInterval = 5 * time.Second
	}
	if c.MetricsRollupInterval <= 0 {
		c.MetricsRollupInterval = 10 * time.Second
	}
	if c.CommissionCron == "" {
		c.CommissionCron = "0 0 * * *"
	}
	if c.DefaultCurrency == "" {
		c.DefaultCurrency = "USD"
	}
}

// Scheduler owns the four background reconcilers.
type Scheduler struct {
	store       store.Store
	queue       *matchingqueue.Queue
	commissions *commission.Engine
	publisher   EventPublisher
	logger      *logging.Logger
	cfg         Config

	manager *lifecycle.Manager
	cron    *cron.Cron

	mu       sync.Mutex
	notified map[string]time.Time // wagerID -> last overdue notification
}

// New builds a Scheduler. publisher may be nil, in which case reconcilers
// run but emit no events.
func New(s store.Store, queue *matchingqueue.Queue, commissions *commission.Engine, logger *logging.Logger, publisher EventPublisher, cfg Config) *Scheduler {
	cfg.applyDefaults()
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &Scheduler{
		store: s, queue: queue, commissions: commissions,
		publisher: publisher, logger: logger, cfg: cfg,
		notified: make(map[string]time.Time),
	}
}

// Name implements lifecycle.Service.
func (s *Scheduler) Name() string { return "scheduler" }

// Start launches the three ticker-driven reconcilers and the cron-driven
// commission batcher.
func (s *Scheduler) Start(ctx context.Context) error {
	s.manager = lifecycle.NewManager()
	_ = s.manager.Register(lifecycle.NewTickerWorker("queue-sweep", s.cfg.QueueSweepInterval, s.queueSweepTick))
	_ = s.manager.Register(lifecycle.NewTickerWorker("settlement-sweep", s.cfg.SettleSweepInterval, s.settlementSweepTick))
	_ = s.manager.Register(lifecycle.NewTickerWorker("metrics-rollup", s.cfg.MetricsRollupInterval, s.metricsRollupTick))
	if err := s.manager.Start(ctx); err != nil {
		return err
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.cfg.CommissionCron, func() {
		if err := s.runCommissionBatch(context.Background()); err != nil {
			s.logger.WithContext(context.Background()).WithFields(map[string]interface{}{"error": err.Error()}).Error("commission batch failed")
		}
	}); err != nil {
		_ = s.manager.Stop(ctx)
		return fmt.Errorf("scheduler: invalid commission cron expression: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop stops every reconciler, waiting for in-flight units of work to
// complete, per spec §5's cancellation rule.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronCtx := s.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.manager.Stop(ctx)
}

// queueSweepTick promotes expired reservations back to the queue.
func (s *Scheduler) queueSweepTick(ctx context.Context) {
	n, err := s.queue.SweepExpiredAttempts(ctx)
	if err != nil {
		s.logger.WithContext(ctx).WithFields(map[string]interface{}{"error": err.Error()}).Warn("queue sweep failed")
		return
	}
	if n > 0 {
		s.logger.WithContext(ctx).WithFields(map[string]interface{}{"expired": n}).Info("queue sweep expired reservations")
	}
}

// settlementSweepTick finds wagers on completed events that have not
// reached a terminal state and surfaces them via EventBus. Grading a wager
// means resolving it against a winning-selection result, and no such result
// feed exists anywhere in this repository's data model (Event carries no
// outcome field) or its external interfaces, so there is nothing for the
// sweeper to grade against; its job is detection and alerting, not grading.
// See SPEC_FULL.md §6 and DESIGN.md's Scheduler entry for the scope
// narrowing this reflects.
func (s *Scheduler) settlementSweepTick(ctx context.Context) {
	events, err := s.store.ListEventsByStatus(ctx, model.EventStatusCompleted)
	if err != nil {
		s.logger.WithContext(ctx).WithFields(map[string]interface{}{"error": err.Error()}).Warn("settlement sweep: list events failed")
		return
	}

	now := store.Now()
	for _, event := range events {
		wagers, err := s.store.ListWagersByEvent(ctx, event.ID)
		if err != nil {
			s.logger.WithContext(ctx).WithFields(map[string]interface{}{"error": err.Error(), "eventId": event.ID}).Warn("settlement sweep: list wagers failed")
			continue
		}
		for _, w := range wagers {
			if w.Status != model.WagerStatusPending && w.Status != model.WagerStatusActive {
				continue
			}
			if s.shouldNotify(w.ID, now) {
				_ = s.publisher.Publish(ctx, "wager.settlement.overdue", map[string]string{
					"agentId":    w.AgentID,
					"customerId": w.CustomerID,
				}, map[string]interface{}{
					"wagerId": w.ID,
					"eventId": event.ID,
					"placedAt": w.PlacedAt,
				})
			}
		}
	}
}

func (s *Scheduler) shouldNotify(wagerID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.notified[wagerID]; ok && now.Sub(last) < overdueRenotifyInterval {
		return false
	}
	s.notified[wagerID] = now
	return true
}

// metricsRollupTick publishes aggregate dashboard counters.
func (s *Scheduler) metricsRollupTick(ctx context.Context) {
	snap := s.queue.Snapshot()
	_ = s.publisher.Publish(ctx, "dashboard.update", nil, map[string]interface{}{
		"queueDepth":      snap.Queued + snap.Reserved + snap.PartiallyFilled,
		"queueQueued":     snap.Queued,
		"queueReserved":   snap.Reserved,
		"queuePartial":    snap.PartiallyFilled,
	})
}

// runCommissionBatch closes the current period for every agent whose
// commission structure's payout schedule boundary has just elapsed,
// aggregating settled-wager revenue on completed events into
// CommissionCalculations and enqueuing a Payout per agent with nonzero
// revenue. Revenue is computed in cfg.DefaultCurrency: the Wager model does
// not carry a currency field (see DESIGN.md), so multi-currency books are
// out of scope for this reconciler.
func (s *Scheduler) runCommissionBatch(ctx context.Context) error {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list agents: %w", err)
	}
	events, err := s.store.ListEventsByStatus(ctx, model.EventStatusCompleted)
	if err != nil {
		return fmt.Errorf("scheduler: list completed events: %w", err)
	}

	now := store.Now()
	for _, agent := range agents {
		structure, err := s.commissions.ResolveStructure(ctx, agent.ID)
		if err != nil {
			s.logger.WithContext(ctx).WithFields(map[string]interface{}{"error": err.Error(), "agentId": agent.ID}).Warn("commission batch: resolve structure failed")
			continue
		}
		tz := commission.AgentTimezone(agent)
		bounds := commission.PeriodBoundsFor(structure.PayoutSchedule, now, tz)

		slices, err := s.revenueSlicesFor(ctx, agent.ID, events, bounds)
		if err != nil {
			return err
		}
		if len(slices) == 0 {
			continue
		}

		calc, err := s.commissions.Calculate(ctx, commission.CalculateInput{
			AgentID: agent.ID, PeriodStart: bounds.Start, PeriodEnd: bounds.End, Slices: slices,
		})
		if err != nil {
			s.logger.WithContext(ctx).WithFields(map[string]interface{}{"error": err.Error(), "agentId": agent.ID}).Warn("commission batch: calculate failed")
			continue
		}
		if err := s.commissions.PersistCalculation(ctx, calc); err != nil {
			return fmt.Errorf("scheduler: persist calculation for %s: %w", agent.ID, err)
		}
		if calc.Amount <= 0 {
			continue
		}
		if _, err := s.commissions.CreatePayout(ctx, agent.ID, s.cfg.DefaultCurrency, calc.Amount, []string{calc.ID}); err != nil {
			s.logger.WithContext(ctx).WithFields(map[string]interface{}{"error": err.Error(), "agentId": agent.ID}).Warn("commission batch: create payout failed")
		}
	}
	return nil
}

// revenueSlicesFor gathers one RevenueSlice per settled wager the agent
// placed on a completed event, within bounds. House revenue per wager is
// stake minus amount actually paid out.
func (s *Scheduler) revenueSlicesFor(ctx context.Context, agentID string, events []*model.Event, bounds commission.PeriodBounds) ([]commission.RevenueSlice, error) {
	var slices []commission.RevenueSlice
	for _, event := range events {
		wagers, err := s.store.ListWagersByEvent(ctx, event.ID)
		if err != nil {
			return nil, fmt.Errorf("scheduler: list wagers for event %s: %w", event.ID, err)
		}
		for _, w := range wagers {
			if w.AgentID != agentID || w.SettledAt == nil {
				continue
			}
			if w.SettledAt.Before(bounds.Start) || !w.SettledAt.Before(bounds.End) {
				continue
			}
			slices = append(slices, commission.RevenueSlice{
				Sport: event.Sport, BetType: w.BetType, CustomerID: w.CustomerID,
				Amount: w.Stake - w.ActualWin,
			})
		}
	}
	return slices, nil
}
