package wagerengine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportsbook-ops/backbone/infrastructure/apperr"
	"github.com/sportsbook-ops/backbone/infrastructure/logging"
	"github.com/sportsbook-ops/backbone/internal/domain/ledger"
	"github.com/sportsbook-ops/backbone/internal/domain/model"
	"github.com/sportsbook-ops/backbone/internal/domain/store"
	"github.com/sportsbook-ops/backbone/internal/domain/store/memory"
)

func testEngine(t *testing.T) (*WagerEngine, *ledger.Ledger, context.Context) {
	t.Helper()
	s := memory.New()
	logger := logging.New("test", "error", "json")
	l := ledger.New(s, logger, 100)
	e := New(s, l, logger, nil, Config{SportMinStake: 100, BetTypeMaxOdds: 1000})
	return e, l, context.Background()
}

func seedEventAndCustomer(ctx context.Context, s store.Store, customerID, eventID string, tier model.CustomerTier) error {
	return store.WithTx(ctx, s, func(tx store.Tx) error {
		if err := tx.PutCustomer(ctx, &model.Customer{ID: customerID, Tier: tier, Status: model.CustomerStatusActive}); err != nil {
			return err
		}
		return tx.PutEvent(ctx, &model.Event{
			ID: eventID, Sport: "soccer", Status: model.EventStatusScheduled,
			VIPAccess: map[model.CustomerTier]bool{tier: true},
			Odds:      model.OddsSnapshot{MoneylineHomeMilli: 1900, MoneylineAwayMilli: 2100},
		})
	})
}

func fundCustomer(ctx context.Context, l *ledger.Ledger, customerID, currency string, amount int64) error {
	house := model.AccountRef{OwnerKind: model.OwnerHouse, Bucket: model.BucketHouse, Currency: currency}
	avail := model.AccountRef{OwnerKind: model.OwnerCustomer, OwnerID: customerID, Bucket: model.BucketAvailable, Currency: currency}
	return l.Credit(ctx, house, avail, amount, "fund-"+customerID, "test funding")
}

func TestCreateBetReservesStakeAndPersists(t *testing.T) {
	e, l, ctx := testEngine(t)
	require.NoError(t, seedEventAndCustomer(ctx, e.store, "cust-1", "evt-1", model.TierBronze))
	require.NoError(t, fundCustomer(ctx, l, "cust-1", "USD", 10000))

	w, err := e.CreateBet(ctx, CreateBetInput{
		CustomerID: "cust-1", AgentID: "agent-1", EventID: "evt-1", BetType: "moneyline",
		Selection: "home", Stake: 1000, OddsMilli: 1900, VIPTier: model.TierBronze, Currency: "USD",
		Correlation: "bet-1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.WagerStatusPending, w.Status)
	assert.EqualValues(t, 900, w.PotentialPayout)

	avail, err := l.Balance(ctx, model.AccountRef{OwnerKind: model.OwnerCustomer, OwnerID: "cust-1", Bucket: model.BucketAvailable, Currency: "USD"})
	require.NoError(t, err)
	assert.EqualValues(t, 9000, avail.Available)
}

func TestCreateBetRejectsBelowMinStake(t *testing.T) {
	e, l, ctx := testEngine(t)
	require.NoError(t, seedEventAndCustomer(ctx, e.store, "cust-2", "evt-2", model.TierBronze))
	require.NoError(t, fundCustomer(ctx, l, "cust-2", "USD", 10000))

	_, err := e.CreateBet(ctx, CreateBetInput{
		CustomerID: "cust-2", EventID: "evt-2", Stake: 10, OddsMilli: 1900,
		VIPTier: model.TierBronze, Currency: "USD", Correlation: "bet-2",
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestCreateBetRejectsInsufficientFunds(t *testing.T) {
	e, _, ctx := testEngine(t)
	require.NoError(t, seedEventAndCustomer(ctx, e.store, "cust-3", "evt-3", model.TierBronze))

	_, err := e.CreateBet(ctx, CreateBetInput{
		CustomerID: "cust-3", EventID: "evt-3", Stake: 1000, OddsMilli: 1900,
		VIPTier: model.TierBronze, Currency: "USD", Correlation: "bet-3",
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInsufficient))
}

func TestCancelBetReleasesStake(t *testing.T) {
	e, l, ctx := testEngine(t)
	require.NoError(t, seedEventAndCustomer(ctx, e.store, "cust-4", "evt-4", model.TierBronze))
	require.NoError(t, fundCustomer(ctx, l, "cust-4", "USD", 10000))

	w, err := e.CreateBet(ctx, CreateBetInput{
		CustomerID: "cust-4", EventID: "evt-4", Stake: 1000, OddsMilli: 1900,
		VIPTier: model.TierBronze, Currency: "USD", Correlation: "bet-4",
	})
	require.NoError(t, err)

	require.NoError(t, e.CancelBet(ctx, w.ID, "customer request", "USD", "cancel-4"))

	avail, err := l.Balance(ctx, model.AccountRef{OwnerKind: model.OwnerCustomer, OwnerID: "cust-4", Bucket: model.BucketAvailable, Currency: "USD"})
	require.NoError(t, err)
	assert.EqualValues(t, 10000, avail.Available)
}

func TestCancelBetRejectsNonPending(t *testing.T) {
	e, l, ctx := testEngine(t)
	require.NoError(t, seedEventAndCustomer(ctx, e.store, "cust-5", "evt-5", model.TierBronze))
	require.NoError(t, fundCustomer(ctx, l, "cust-5", "USD", 10000))

	w, err := e.CreateBet(ctx, CreateBetInput{
		CustomerID: "cust-5", EventID: "evt-5", Stake: 1000, OddsMilli: 1900,
		VIPTier: model.TierBronze, Currency: "USD", Correlation: "bet-5",
	})
	require.NoError(t, err)
	require.NoError(t, e.CancelBet(ctx, w.ID, "dup", "USD", "cancel-5"))

	err = e.CancelBet(ctx, w.ID, "dup2", "USD", "cancel-5b")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodePrecondition))
}

func TestSettleBetWonCreditsPayout(t *testing.T) {
	e, l, ctx := testEngine(t)
	require.NoError(t, seedEventAndCustomer(ctx, e.store, "cust-6", "evt-6", model.TierBronze))
	require.NoError(t, fundCustomer(ctx, l, "cust-6", "USD", 10000))

	w, err := e.CreateBet(ctx, CreateBetInput{
		CustomerID: "cust-6", EventID: "evt-6", Stake: 1000, OddsMilli: 1900,
		VIPTier: model.TierBronze, Currency: "USD", Correlation: "bet-6",
	})
	require.NoError(t, err)

	settled, err := e.SettleBet(ctx, Settlement{WagerID: w.ID, Outcome: model.WagerStatusWon, Currency: "USD", Correlation: "settle-6"})
	require.NoError(t, err)
	assert.Equal(t, model.WagerStatusWon, settled.Status)
	assert.EqualValues(t, 900, settled.ActualWin)

	avail, err := l.Balance(ctx, model.AccountRef{OwnerKind: model.OwnerCustomer, OwnerID: "cust-6", Bucket: model.BucketAvailable, Currency: "USD"})
	require.NoError(t, err)
	assert.EqualValues(t, 10000+900, avail.Available)
}

func TestSettleBetLostMovesStakeToHouse(t *testing.T) {
	e, l, ctx := testEngine(t)
	require.NoError(t, seedEventAndCustomer(ctx, e.store, "cust-7", "evt-7", model.TierBronze))
	require.NoError(t, fundCustomer(ctx, l, "cust-7", "USD", 10000))

	w, err := e.CreateBet(ctx, CreateBetInput{
		CustomerID: "cust-7", EventID: "evt-7", Stake: 1000, OddsMilli: 1900,
		VIPTier: model.TierBronze, Currency: "USD", Correlation: "bet-7",
	})
	require.NoError(t, err)

	settled, err := e.SettleBet(ctx, Settlement{WagerID: w.ID, Outcome: model.WagerStatusLost, Currency: "USD", Correlation: "settle-7"})
	require.NoError(t, err)
	assert.EqualValues(t, -1000, settled.ActualWin)

	reserved, err := l.Balance(ctx, model.AccountRef{OwnerKind: model.OwnerCustomer, OwnerID: "cust-7", Bucket: model.BucketReserved, Currency: "USD"})
	require.NoError(t, err)
	assert.EqualValues(t, 0, reserved.Available)
}

func TestSettleBetRejectsInvalidTransition(t *testing.T) {
	e, l, ctx := testEngine(t)
	require.NoError(t, seedEventAndCustomer(ctx, e.store, "cust-8", "evt-8", model.TierBronze))
	require.NoError(t, fundCustomer(ctx, l, "cust-8", "USD", 10000))

	w, err := e.CreateBet(ctx, CreateBetInput{
		CustomerID: "cust-8", EventID: "evt-8", Stake: 1000, OddsMilli: 1900,
		VIPTier: model.TierBronze, Currency: "USD", Correlation: "bet-8",
	})
	require.NoError(t, err)
	_, err = e.SettleBet(ctx, Settlement{WagerID: w.ID, Outcome: model.WagerStatusWon, Currency: "USD", Correlation: "settle-8"})
	require.NoError(t, err)

	_, err = e.SettleBet(ctx, Settlement{WagerID: w.ID, Outcome: model.WagerStatusLost, Currency: "USD", Correlation: "settle-8b"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodePrecondition))
}

func TestUpdateOddsAppendsMovementAndCapsHistory(t *testing.T) {
	e, _, ctx := testEngine(t)
	require.NoError(t, seedEventAndCustomer(ctx, e.store, "cust-9", "evt-9", model.TierBronze))

	var last *model.Event
	for i := 0; i < maxOddsHistory+5; i++ {
		ev, err := e.UpdateOdds(ctx, "evt-9", OddsUpdate{
			MoneylineHomeMilli: 1900 + int64(i), MoneylineAwayMilli: 2100, Volume: 10,
			Reason: fmt.Sprintf("feed-sync-%d", i),
		})
		require.NoError(t, err)
		last = ev
	}
	assert.LessOrEqual(t, len(last.Odds.Movements), maxOddsHistory)
}

func TestUpdateOddsRetryWithSameReasonDoesNotDuplicate(t *testing.T) {
	e, _, ctx := testEngine(t)
	require.NoError(t, seedEventAndCustomer(ctx, e.store, "cust-11", "evt-11", model.TierBronze))

	first, err := e.UpdateOdds(ctx, "evt-11", OddsUpdate{
		MoneylineHomeMilli: 1950, MoneylineAwayMilli: 2050, Volume: 10,
		Reason: "feed-sync:corr-abc",
	})
	require.NoError(t, err)
	require.Len(t, first.Odds.Movements, 1)

	retry, err := e.UpdateOdds(ctx, "evt-11", OddsUpdate{
		MoneylineHomeMilli: 1950, MoneylineAwayMilli: 2050, Volume: 10,
		Reason: "feed-sync:corr-abc",
	})
	require.NoError(t, err)
	assert.Len(t, retry.Odds.Movements, 1)
	assert.Equal(t, first.Odds.LastUpdated, retry.Odds.LastUpdated)
}

func TestUpdateBetRestrictedToPendingWagers(t *testing.T) {
	e, l, ctx := testEngine(t)
	require.NoError(t, seedEventAndCustomer(ctx, e.store, "cust-10", "evt-10", model.TierBronze))
	require.NoError(t, fundCustomer(ctx, l, "cust-10", "USD", 10000))

	w, err := e.CreateBet(ctx, CreateBetInput{
		CustomerID: "cust-10", EventID: "evt-10", Stake: 1000, OddsMilli: 1900,
		VIPTier: model.TierBronze, Currency: "USD", Correlation: "bet-10",
	})
	require.NoError(t, err)

	notes := "flagged for review"
	updated, err := e.UpdateBet(ctx, w.ID, BetPatch{Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, notes, updated.Notes)

	_, err = e.SettleBet(ctx, Settlement{WagerID: w.ID, Outcome: model.WagerStatusVoid, Currency: "USD", Correlation: "settle-10"})
	require.NoError(t, err)

	_, err = e.UpdateBet(ctx, w.ID, BetPatch{Notes: &notes})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodePrecondition))
}
