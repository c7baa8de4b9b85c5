// Package app wires the nine domain components into one running backbone:
// construction order mirrors their dependency graph (the event fabric
// first, then Ledger, then the components that post through it and publish
// onto the bus, then the stream adapters and the background reconcilers), and
// lifecycle.Manager starts/stops the long-lived ones together in a single
// ordered sequence, rolling back on a partial-start failure.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sportsbook-ops/backbone/infrastructure/lifecycle"
	"github.com/sportsbook-ops/backbone/infrastructure/logging"
	"github.com/sportsbook-ops/backbone/internal/chatbot"
	"github.com/sportsbook-ops/backbone/internal/domain/agentgraph"
	"github.com/sportsbook-ops/backbone/internal/domain/commission"
	"github.com/sportsbook-ops/backbone/internal/domain/eventbus"
	"github.com/sportsbook-ops/backbone/internal/domain/ledger"
	"github.com/sportsbook-ops/backbone/internal/domain/matchingqueue"
	"github.com/sportsbook-ops/backbone/internal/domain/scheduler"
	"github.com/sportsbook-ops/backbone/internal/domain/sse"
	"github.com/sportsbook-ops/backbone/internal/domain/store"
	"github.com/sportsbook-ops/backbone/internal/domain/wagerengine"
	"github.com/sportsbook-ops/backbone/internal/platform/rediscache"
	"github.com/sportsbook-ops/backbone/pkg/config"
)

// Application ties every domain component together behind one lifecycle.
type Application struct {
	Config *config.Config
	Logger *logging.Logger
	Store  store.Store

	Ledger      *ledger.Ledger
	AgentGraph  *agentgraph.AgentGraph
	WagerEngine *wagerengine.WagerEngine
	Commissions *commission.Engine
	Queue       *matchingqueue.Queue
	Bus         *eventbus.Bus
	SSE         *sse.Gateway
	Chatbot     *chatbot.Hub
	Scheduler   *scheduler.Scheduler

	redis   *rediscache.Client
	manager *lifecycle.Manager
}

// New constructs every component against s and registers the long-lived
// ones with an internal lifecycle.Manager. Call Start/Stop to run them.
func New(s store.Store, cfg *config.Config, logger *logging.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.New()
	}
	if logger == nil {
		logger = logging.NewFromEnv("backbone")
	}

	bus := eventbus.New(logger, eventbus.Config{
		BufferSize:     cfg.Bus.BufferSize,
		RingBufferSize: cfg.Bus.RingBufferSize,
	})
	pub := eventbus.NewAdapter(bus)

	l := ledger.New(s, logger, cfg.Ledger.CheckpointInterval)
	ag := agentgraph.New(s, logger, pub, agentgraph.Config{MaxHierarchyDepth: cfg.AgentGraph.MaxHierarchyDepth})
	we := wagerengine.New(s, l, logger, pub, wagerengine.Config{
		SportMinStake:  cfg.Wager.SportMinStake,
		BetTypeMaxOdds: cfg.Wager.BetTypeMaxOdds,
	})
	ce := commission.New(s, l, logger, pub, commission.Config{DefaultStructureID: cfg.Commission.DefaultStructure})
	queue := matchingqueue.New(s, l, logger, pub, matchingqueue.Config{
		ReservationTTL:      time.Duration(cfg.Queue.ReservationTTLMs) * time.Millisecond,
		MaxAttempts:         cfg.Queue.MaxAttempts,
		MaxRiskDelta:        cfg.Queue.MaxRiskDelta,
		AllowCrossTier:      cfg.Queue.AllowCrossTier,
		StarvationThreshold: cfg.Queue.StarvationThreshold,
		TierWeight:          cfg.Queue.TierWeight,
		AgeWeight:           cfg.Queue.AgeWeight,
		RiskWeight:          cfg.Queue.RiskWeight,
	})

	var (
		redisClient *rediscache.Client
		gateway     *sse.Gateway
	)
	sseCfg := sse.Config{HeartbeatInterval: time.Duration(cfg.SSE.HeartbeatMs) * time.Millisecond}
	if cfg.Redis.Enabled {
		// Passed directly (not through an intermediate *rediscache.Client-typed
		// nil) so the interface argument sse.New receives is genuinely nil when
		// Redis is disabled, not a non-nil interface wrapping a nil pointer.
		redisClient = rediscache.New(cfg.Redis, "backbone")
		gateway = sse.New(bus, redisClient, logger, cfg.Bus.RingBufferSize, sseCfg)
	} else {
		gateway = sse.New(bus, nil, logger, cfg.Bus.RingBufferSize, sseCfg)
	}

	hub := chatbot.New(bus, logger, chatbot.Config{}, nil)

	sched := scheduler.New(s, queue, ce, logger, pub, scheduler.Config{
		QueueSweepInterval:    time.Duration(cfg.Scheduler.QueueSweepMs) * time.Millisecond,
		SettleSweepInterval:   time.Duration(cfg.Scheduler.SettleSweepMs) * time.Millisecond,
		MetricsRollupInterval: time.Duration(cfg.Scheduler.MetricsRollupMs) * time.Millisecond,
		CommissionCron:        cfg.Scheduler.CommissionCron,
	})

	manager := lifecycle.NewManager()
	for _, svc := range []lifecycle.Service{queue, busService{bus}, gateway, hub, sched} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("app: register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		Config: cfg, Logger: logger, Store: s,
		Ledger: l, AgentGraph: ag, WagerEngine: we, Commissions: ce,
		Queue: queue, Bus: bus, SSE: gateway, Chatbot: hub, Scheduler: sched,
		redis: redisClient, manager: manager,
	}, nil
}

// Attach registers an additional lifecycle-managed service (typically the
// HTTP adapter). Call before Start.
func (a *Application) Attach(svc lifecycle.Service) error {
	return a.manager.Register(svc)
}

// Start launches every registered component in registration order, rolling
// back everything already started if one fails.
func (a *Application) Start(ctx context.Context) error {
	if a.redis != nil {
		if err := a.redis.Ping(ctx); err != nil {
			return fmt.Errorf("app: redis ping: %w", err)
		}
	}
	return a.manager.Start(ctx)
}

// Stop stops every registered component in reverse registration order.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	if a.redis != nil {
		_ = a.redis.Close()
	}
	return err
}

// busService adapts *eventbus.Bus to lifecycle.Service: the bus needs no
// explicit start, only an orderly shutdown so its ring buffer and
// subscriber channels drain before dependents are stopped.
type busService struct {
	bus *eventbus.Bus
}

func (busService) Name() string { return "eventbus" }

func (busService) Start(context.Context) error { return nil }

func (s busService) Stop(ctx context.Context) error {
	s.bus.Shutdown(ctx)
	return nil
}
