package ledger

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportsbook-ops/backbone/infrastructure/apperr"
	"github.com/sportsbook-ops/backbone/infrastructure/logging"
	"github.com/sportsbook-ops/backbone/internal/domain/model"
	"github.com/sportsbook-ops/backbone/internal/domain/store/memory"
)

func testLedger(t *testing.T) (*Ledger, context.Context) {
	t.Helper()
	s := memory.New()
	logger := logging.New("test", "error", "json")
	return New(s, logger, 5), context.Background()
}

func houseRef(currency string) model.AccountRef {
	return model.AccountRef{OwnerKind: model.OwnerHouse, Bucket: model.BucketHouse, Currency: currency}
}

func customerAvailable(id, currency string) model.AccountRef {
	return model.AccountRef{OwnerKind: model.OwnerCustomer, OwnerID: id, Bucket: model.BucketAvailable, Currency: currency}
}

func customerReserved(id, currency string) model.AccountRef {
	return model.AccountRef{OwnerKind: model.OwnerCustomer, OwnerID: id, Bucket: model.BucketReserved, Currency: currency}
}

func TestCreditThenReserveThenRelease(t *testing.T) {
	l, ctx := testLedger(t)
	avail := customerAvailable("c1", "USD")
	reserved := customerReserved("c1", "USD")
	house := houseRef("USD")

	require.NoError(t, l.Credit(ctx, house, avail, 10000, "deposit-1", "initial deposit"))
	acct, err := l.Balance(ctx, avail)
	require.NoError(t, err)
	assert.EqualValues(t, 10000, acct.Available)

	require.NoError(t, l.Reserve(ctx, avail, reserved, 4000, "stake-1", "wager stake"))
	avAcct, _ := l.Balance(ctx, avail)
	resAcct, _ := l.Balance(ctx, reserved)
	assert.EqualValues(t, 6000, avAcct.Available)
	assert.EqualValues(t, 4000, resAcct.Available)

	require.NoError(t, l.Release(ctx, reserved, avail, 4000, "release-1", "wager cancelled"))
	avAcct, _ = l.Balance(ctx, avail)
	resAcct, _ = l.Balance(ctx, reserved)
	assert.EqualValues(t, 10000, avAcct.Available)
	assert.EqualValues(t, 0, resAcct.Available)
}

func TestTransferFailsWhenInsufficientFunds(t *testing.T) {
	l, ctx := testLedger(t)
	from := customerAvailable("c2", "USD")
	to := customerAvailable("c3", "USD")

	err := l.Transfer(ctx, from, to, 100, "xfer-1", "p2p match")
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeInsufficient, appErr.Code)
}

func TestCreditIsIdempotentByCorrelation(t *testing.T) {
	l, ctx := testLedger(t)
	house := houseRef("USD")
	avail := customerAvailable("c4", "USD")

	require.NoError(t, l.Credit(ctx, house, avail, 500, "deposit-dup", "deposit"))
	require.NoError(t, l.Credit(ctx, house, avail, 500, "deposit-dup", "retry of same deposit"))

	acct, err := l.Balance(ctx, avail)
	require.NoError(t, err)
	assert.EqualValues(t, 500, acct.Available, "second call with the same correlation must not double-post")
}

func TestDebitFailsWithoutFunds(t *testing.T) {
	l, ctx := testLedger(t)
	from := customerAvailable("c5", "USD")
	house := houseRef("USD")

	err := l.Debit(ctx, from, house, 100, "debit-1", "fee")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInsufficient))
}

func TestVerifyNonNegativeCatchesViolations(t *testing.T) {
	l, ctx := testLedger(t)
	house := houseRef("USD")
	avail := customerAvailable("c6", "USD")

	require.NoError(t, l.Credit(ctx, house, avail, 100, "d1", "deposit"))
	require.NoError(t, l.VerifyNonNegative(ctx, []model.AccountRef{avail, house}))

	// Credit skips the funds check, so crediting out of an empty customer
	// account drives it to -50.
	overdrawn := customerAvailable("c6b", "USD")
	require.NoError(t, l.Credit(ctx, overdrawn, house, 50, "d2", "overdraw"))
	err := l.VerifyNonNegative(ctx, []model.AccountRef{avail, overdrawn, house})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvariant))
}

func TestCheckpointAppendsAuditEveryInterval(t *testing.T) {
	l, ctx := testLedger(t)
	house := houseRef("USD")
	avail := customerAvailable("c7", "USD")

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Credit(ctx, house, avail, 10, correlationFor(i), "deposit"))
	}
	assert.EqualValues(t, 5, atomic.LoadInt64(&l.postCount))

	entries, err := l.store.ListAuditEntries(ctx, "ledger_account", "customer:c7:available:USD")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "checkpoint", entries[0].Action)
}

func correlationFor(i int) string {
	return "corr-" + string(rune('a'+i))
}
