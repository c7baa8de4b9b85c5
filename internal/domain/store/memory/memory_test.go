package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportsbook-ops/backbone/internal/domain/model"
	"github.com/sportsbook-ops/backbone/internal/domain/store"
)

func TestCommitMakesWritesVisibleToNewTransactions(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := store.WithTx(ctx, s, func(tx store.Tx) error {
		return tx.PutAgent(ctx, &model.Agent{ID: "a1", Login: "agent-one"})
	})
	require.NoError(t, err)

	got, ok, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "agent-one", got.Login)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.PutAgent(ctx, &model.Agent{ID: "a2"}))
	require.NoError(t, tx.Rollback(ctx))

	_, ok, err := s.GetAgent(ctx, "a2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReserveCorrelationRejectsDuplicateAcrossTransactions(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := store.WithTx(ctx, s, func(tx store.Tx) error {
		ok, err := tx.ReserveCorrelation(ctx, "corr-1")
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	})
	require.NoError(t, err)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	ok, err := tx.ReserveCorrelation(ctx, "corr-1")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, tx.Rollback(ctx))
}

func TestTxMethodsFailAfterClose(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	err = tx.PutAgent(ctx, &model.Agent{ID: "a3"})
	assert.ErrorIs(t, err, store.ErrTxClosed)
}

func TestBeginSerializesConcurrentTransactions(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx1, err := s.Begin(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		tx2, err := s.Begin(ctx)
		require.NoError(t, err)
		_ = tx2.Rollback(ctx)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second Begin should have blocked until first tx closed")
	default:
	}
	require.NoError(t, tx1.Rollback(ctx))
	<-done
}

func TestAppendPostingIndexesByCorrelation(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := store.WithTx(ctx, s, func(tx store.Tx) error {
		return tx.AppendPosting(ctx, &model.Posting{
			From:          model.AccountRef{OwnerKind: model.OwnerHouse, Bucket: model.BucketHouse, Currency: "USD"},
			To:            model.AccountRef{OwnerKind: model.OwnerCustomer, OwnerID: "c1", Bucket: model.BucketAvailable, Currency: "USD"},
			Amount:        1000,
			CorrelationID: "wager-settle-1",
		})
	})
	require.NoError(t, err)

	p, ok, err := s.FindPostingByCorrelation(ctx, "wager-settle-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1000, p.Amount)
}

func TestListQueueItemsByStateFiltersCurrencyAndState(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := store.WithTx(ctx, s, func(tx store.Tx) error {
		items := []*model.QueueItem{
			{ID: "q1", Currency: "USD", State: model.QueueStateQueued},
			{ID: "q2", Currency: "USD", State: model.QueueStateFilled},
			{ID: "q3", Currency: "EUR", State: model.QueueStateQueued},
		}
		for _, it := range items {
			if err := tx.PutQueueItem(ctx, it); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	out, err := s.ListQueueItemsByState(ctx, "USD", model.QueueStateQueued)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "q1", out[0].ID)
}

func TestListEventsByStatusFilters(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := store.WithTx(ctx, s, func(tx store.Tx) error {
		events := []*model.Event{
			{ID: "e1", Status: model.EventStatusCompleted},
			{ID: "e2", Status: model.EventStatusLive},
			{ID: "e3", Status: model.EventStatusCompleted},
		}
		for _, e := range events {
			if err := tx.PutEvent(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	out, err := s.ListEventsByStatus(ctx, model.EventStatusCompleted)
	require.NoError(t, err)
	require.Len(t, out, 2)
}
