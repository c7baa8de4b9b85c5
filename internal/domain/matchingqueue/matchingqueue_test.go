package matchingqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportsbook-ops/backbone/infrastructure/apperr"
	"github.com/sportsbook-ops/backbone/infrastructure/logging"
	"github.com/sportsbook-ops/backbone/internal/domain/ledger"
	"github.com/sportsbook-ops/backbone/internal/domain/model"
	"github.com/sportsbook-ops/backbone/internal/domain/store"
	"github.com/sportsbook-ops/backbone/internal/domain/store/memory"
)

func testQueue(t *testing.T) (*Queue, *ledger.Ledger, context.Context) {
	t.Helper()
	s := memory.New()
	logger := logging.New("test", "error", "json")
	l := ledger.New(s, logger, 100)
	q := New(s, l, logger, nil, Config{ReservationTTL: 50 * time.Millisecond, MaxAttempts: 2, AllowCrossTier: true})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = q.Stop(context.Background())
	})
	return q, l, context.Background()
}

func fundAvailable(ctx context.Context, l *ledger.Ledger, customerID, currency string, amount int64) error {
	house := model.AccountRef{OwnerKind: model.OwnerHouse, Bucket: model.BucketHouse, Currency: currency}
	avail := model.AccountRef{OwnerKind: model.OwnerCustomer, OwnerID: customerID, Bucket: model.BucketAvailable, Currency: currency}
	return l.Credit(ctx, house, avail, amount, "fund-"+customerID, "test funding")
}

func waitForState(t *testing.T, q *Queue, s store.Store, id string, state model.QueueItemState) *model.QueueItem {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		item, ok, err := s.GetQueueItem(context.Background(), id)
		require.NoError(t, err)
		if ok && item.State == state {
			return item
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("item %s never reached state %s", id, state)
	return nil
}

func TestEnqueueRejectsNonPositiveAmount(t *testing.T) {
	q, _, ctx := testQueue(t)
	_, err := q.Enqueue(ctx, EnqueueInput{Direction: model.DirectionDeposit, Amount: 0, Currency: "USD"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestMatchingReservesCompatiblePair(t *testing.T) {
	q, l, ctx := testQueue(t)
	require.NoError(t, fundAvailable(ctx, l, "depositor-1", "USD", 10000))

	w, err := q.Enqueue(ctx, EnqueueInput{Direction: model.DirectionWithdrawal, CustomerID: "withdrawer-1", Amount: 5000, Currency: "USD", Tier: model.TierBronze})
	require.NoError(t, err)
	d, err := q.Enqueue(ctx, EnqueueInput{Direction: model.DirectionDeposit, CustomerID: "depositor-1", Amount: 5000, Currency: "USD", Tier: model.TierBronze})
	require.NoError(t, err)

	wReserved := waitForState(t, q, q.store, w.ID, model.QueueStateReserved)
	dReserved := waitForState(t, q, q.store, d.ID, model.QueueStateReserved)
	assert.Equal(t, wReserved.ActiveAttemptID, dReserved.ActiveAttemptID)
	assert.NotEmpty(t, wReserved.ActiveAttemptID)
}

func TestConfirmMatchTransfersAndFills(t *testing.T) {
	q, l, ctx := testQueue(t)
	require.NoError(t, fundAvailable(ctx, l, "depositor-2", "USD", 10000))

	w, err := q.Enqueue(ctx, EnqueueInput{Direction: model.DirectionWithdrawal, CustomerID: "withdrawer-2", Amount: 3000, Currency: "USD"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, EnqueueInput{Direction: model.DirectionDeposit, CustomerID: "depositor-2", Amount: 3000, Currency: "USD"})
	require.NoError(t, err)

	wReserved := waitForState(t, q, q.store, w.ID, model.QueueStateReserved)
	require.NoError(t, q.ConfirmMatch(ctx, wReserved.ActiveAttemptID, "confirm-1"))

	filled := waitForState(t, q, q.store, w.ID, model.QueueStateFilled)
	assert.EqualValues(t, 0, filled.Residual)

	withdrawerAvail, err := l.Balance(ctx, model.AccountRef{OwnerKind: model.OwnerCustomer, OwnerID: "withdrawer-2", Bucket: model.BucketAvailable, Currency: "USD"})
	require.NoError(t, err)
	assert.EqualValues(t, 3000, withdrawerAvail.Available)
}

func TestCancelItemRejectsWhileReserved(t *testing.T) {
	q, l, ctx := testQueue(t)
	require.NoError(t, fundAvailable(ctx, l, "depositor-3", "USD", 10000))

	w, err := q.Enqueue(ctx, EnqueueInput{Direction: model.DirectionWithdrawal, CustomerID: "withdrawer-3", Amount: 1000, Currency: "USD"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, EnqueueInput{Direction: model.DirectionDeposit, CustomerID: "depositor-3", Amount: 1000, Currency: "USD"})
	require.NoError(t, err)

	waitForState(t, q, q.store, w.ID, model.QueueStateReserved)
	err = q.CancelItem(ctx, w.ID, "customer request")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodePrecondition))
}

func TestSweepExpiredAttemptsReturnsToQueued(t *testing.T) {
	q, l, ctx := testQueue(t)
	require.NoError(t, fundAvailable(ctx, l, "depositor-4", "USD", 10000))

	w, err := q.Enqueue(ctx, EnqueueInput{Direction: model.DirectionWithdrawal, CustomerID: "withdrawer-4", Amount: 2000, Currency: "USD"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, EnqueueInput{Direction: model.DirectionDeposit, CustomerID: "depositor-4", Amount: 2000, Currency: "USD"})
	require.NoError(t, err)
	waitForState(t, q, q.store, w.ID, model.QueueStateReserved)

	time.Sleep(80 * time.Millisecond) // past the 50ms reservation TTL
	deadline := time.Now().Add(2 * time.Second)
	var swept int
	for time.Now().Before(deadline) {
		swept, err = q.SweepExpiredAttempts(ctx)
		require.NoError(t, err)
		if swept > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Greater(t, swept, 0)

	item, ok, err := q.store.GetQueueItem(ctx, w.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.QueueStateQueued, item.State)
	assert.Equal(t, 1, item.Attempts)
}

func TestMethodsOverlapTreatsEmptyAsWildcard(t *testing.T) {
	assert.True(t, methodsOverlap(nil, map[string]bool{"ach": true}))
	assert.True(t, methodsOverlap(map[string]bool{"ach": true}, map[string]bool{"ach": true, "wire": true}))
	assert.False(t, methodsOverlap(map[string]bool{"ach": true}, map[string]bool{"wire": true}))
}
