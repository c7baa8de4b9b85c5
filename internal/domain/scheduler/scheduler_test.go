package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportsbook-ops/backbone/infrastructure/logging"
	"github.com/sportsbook-ops/backbone/internal/domain/commission"
	"github.com/sportsbook-ops/backbone/internal/domain/ledger"
	"github.com/sportsbook-ops/backbone/internal/domain/matchingqueue"
	"github.com/sportsbook-ops/backbone/internal/domain/model"
	"github.com/sportsbook-ops/backbone/internal/domain/store"
	"github.com/sportsbook-ops/backbone/internal/domain/store/memory"
)

type capturedEvent struct {
	eventType string
	scope     map[string]string
	payload   map[string]interface{}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (f *fakePublisher) Publish(_ context.Context, eventType string, scope map[string]string, payload map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, capturedEvent{eventType: eventType, scope: scope, payload: payload})
	return nil
}

func (f *fakePublisher) snapshot() []capturedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capturedEvent(nil), f.events...)
}

func testScheduler(t *testing.T) (*Scheduler, store.Store, *fakePublisher, context.Context) {
	t.Helper()
	s := memory.New()
	logger := logging.New("test", "error", "json")
	l := ledger.New(s, logger, 100)
	pub := &fakePublisher{}
	q := matchingqueue.New(s, l, logger, nil, matchingqueue.Config{ReservationTTL: 30 * time.Millisecond})
	ce := commission.New(s, l, logger, pub, commission.Config{DefaultStructureID: "default"})
	sched := New(s, q, ce, logger, pub, Config{DefaultCurrency: "USD"})
	return sched, s, pub, context.Background()
}

func TestQueueSweepTickExpiresReservations(t *testing.T) {
	sched, s, _, ctx := testScheduler(t)
	queueCtx, cancel := context.WithCancel(ctx)
	require.NoError(t, sched.queue.Start(queueCtx))
	t.Cleanup(func() {
		cancel()
		_ = sched.queue.Stop(context.Background())
	})

	house := model.AccountRef{OwnerKind: model.OwnerHouse, Bucket: model.BucketHouse, Currency: "USD"}
	avail := model.AccountRef{OwnerKind: model.OwnerCustomer, OwnerID: "depositor-1", Bucket: model.BucketAvailable, Currency: "USD"}
	l := ledger.New(s, logging.New("test", "error", "json"), 100)
	require.NoError(t, l.Credit(ctx, house, avail, 5000, "fund", "test"))

	w, err := sched.queue.Enqueue(ctx, matchingqueue.EnqueueInput{Direction: model.DirectionWithdrawal, CustomerID: "withdrawer-1", Amount: 1000, Currency: "USD"})
	require.NoError(t, err)
	_, err = sched.queue.Enqueue(ctx, matchingqueue.EnqueueInput{Direction: model.DirectionDeposit, CustomerID: "depositor-1", Amount: 1000, Currency: "USD"})
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		item, ok, err := s.GetQueueItem(ctx, w.ID)
		require.NoError(t, err)
		if ok && item.State == model.QueueStateReserved {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(50 * time.Millisecond) // past the 30ms reservation TTL
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sched.queueSweepTick(ctx)
		item, ok, err := s.GetQueueItem(ctx, w.ID)
		require.NoError(t, err)
		if ok && item.State == model.QueueStateQueued {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expired reservation was never swept back to queued")
}

func TestSettlementSweepTickNotifiesOncePerInterval(t *testing.T) {
	sched, s, pub, ctx := testScheduler(t)

	require.NoError(t, store.WithTx(ctx, s, func(tx store.Tx) error {
		if err := tx.PutEvent(ctx, &model.Event{ID: "evt-1", Status: model.EventStatusCompleted}); err != nil {
			return err
		}
		return tx.PutWager(ctx, &model.Wager{ID: "w1", EventID: "evt-1", AgentID: "agent-1", CustomerID: "cust-1", Status: model.WagerStatusPending})
	}))

	sched.settlementSweepTick(ctx)
	sched.settlementSweepTick(ctx)

	overdue := 0
	for _, e := range pub.snapshot() {
		if e.eventType == "wager.settlement.overdue" {
			overdue++
		}
	}
	assert.Equal(t, 1, overdue, "second sweep within the renotify window must not re-publish")
}

func TestSettlementSweepTickIgnoresTerminalWagers(t *testing.T) {
	sched, s, pub, ctx := testScheduler(t)

	require.NoError(t, store.WithTx(ctx, s, func(tx store.Tx) error {
		if err := tx.PutEvent(ctx, &model.Event{ID: "evt-2", Status: model.EventStatusCompleted}); err != nil {
			return err
		}
		return tx.PutWager(ctx, &model.Wager{ID: "w2", EventID: "evt-2", AgentID: "agent-1", Status: model.WagerStatusWon})
	}))

	sched.settlementSweepTick(ctx)

	for _, e := range pub.snapshot() {
		assert.NotEqual(t, "wager.settlement.overdue", e.eventType)
	}
}

func TestMetricsRollupTickPublishesDashboardUpdate(t *testing.T) {
	sched, _, pub, ctx := testScheduler(t)

	sched.metricsRollupTick(ctx)

	events := pub.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "dashboard.update", events[0].eventType)
	assert.Contains(t, events[0].payload, "queueDepth")
}

func TestRunCommissionBatchCreatesCalculationAndPayout(t *testing.T) {
	sched, s, pub, ctx := testScheduler(t)

	require.NoError(t, store.WithTx(ctx, s, func(tx store.Tx) error {
		if err := tx.PutCommissionStructure(ctx, &model.CommissionStructure{ID: "struct-1", BaseRate: 0.1, PayoutSchedule: model.ScheduleWeekly}); err != nil {
			return err
		}
		if err := tx.PutAgent(ctx, &model.Agent{ID: "agent-1", CommissionStructureID: "struct-1"}); err != nil {
			return err
		}
		if err := tx.PutEvent(ctx, &model.Event{ID: "evt-3", Status: model.EventStatusCompleted}); err != nil {
			return err
		}
		now := store.Now()
		return tx.PutWager(ctx, &model.Wager{
			ID: "w3", AgentID: "agent-1", CustomerID: "cust-1", EventID: "evt-3",
			Status: model.WagerStatusLost, Stake: 1000, ActualWin: 0, SettledAt: &now,
		})
	}))

	require.NoError(t, sched.runCommissionBatch(ctx))

	events := pub.snapshot()
	var sawPayout bool
	for _, e := range events {
		if e.eventType == "payout.created" {
			sawPayout = true
		}
	}
	assert.True(t, sawPayout, "expected a payout.created event for agent-1's positive revenue")
}
