package ledger

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestFreezeSettleLifecycle(t *testing.T) {
	l := New(nil, nil)
	k := Key{UserID: "alice", Currency: "USDT"}
	require.NoError(t, l.Deposit(k, d("10000"), "", "seed"))

	require.NoError(t, l.Freeze(k, d("2500"), "ord-1", "limit buy"))
	b := l.Balance(k)
	assert.True(t, b.Total.Equal(d("10000")))
	assert.True(t, b.Frozen.Equal(d("2500")))
	assert.True(t, b.Available.Equal(d("7500")))

	g := l.Group(k)
	require.NoError(t, g.SettleDebit(k, d("2500"), "trade-1", "fill"))
	g.Release()

	b = l.Balance(k)
	assert.True(t, b.Total.Equal(d("7500")))
	assert.True(t, b.Frozen.IsZero())
	assert.True(t, b.Available.Equal(d("7500")))
}

func TestFreezeInsufficientFunds(t *testing.T) {
	l := New(nil, nil)
	k := Key{UserID: "bob", Currency: "USDT"}
	require.NoError(t, l.Deposit(k, d("100"), "", ""))

	err := l.Freeze(k, d("100.00000001"), "ord-1", "")
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// Balance untouched on rejection.
	b := l.Balance(k)
	assert.True(t, b.Frozen.IsZero())
	assert.True(t, b.Available.Equal(d("100")))
}

func TestFrozenFundsNotAvailable(t *testing.T) {
	l := New(nil, nil)
	k := Key{UserID: "carol", Currency: "BTC"}
	require.NoError(t, l.Deposit(k, d("1"), "", ""))
	require.NoError(t, l.Freeze(k, d("0.6"), "ord-1", ""))

	err := l.Freeze(k, d("0.5"), "ord-2", "")
	require.ErrorIs(t, err, ErrInsufficientFunds)

	err = l.Withdraw(k, d("0.5"), "", "")
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestUnfreezeClampsAndAlarms(t *testing.T) {
	l := New(nil, nil)
	alarms := 0
	l.OnAlarm(func() { alarms++ })

	k := Key{UserID: "dave", Currency: "USDT"}
	require.NoError(t, l.Deposit(k, d("50"), "", ""))
	require.NoError(t, l.Freeze(k, d("50"), "ord-1", ""))

	l.Unfreeze(k, d("60"), "ord-1", "over-release")
	b := l.Balance(k)
	assert.True(t, b.Frozen.IsZero(), "frozen clamps at zero")
	assert.True(t, b.Available.Equal(d("50")))
	assert.Equal(t, 1, alarms)
}

func TestSettleDebitExceedingFrozenIsInvariant(t *testing.T) {
	l := New(nil, nil)
	k := Key{UserID: "erin", Currency: "USDT"}
	require.NoError(t, l.Deposit(k, d("1000"), "", ""))
	require.NoError(t, l.Freeze(k, d("100"), "ord-1", ""))

	g := l.Group(k)
	err := g.SettleDebit(k, d("150"), "trade-1", "")
	g.Release()
	require.ErrorIs(t, err, ErrInvariant)
}

func TestFeeFromFrozenAndFromTotal(t *testing.T) {
	l := New(nil, nil)
	k := Key{UserID: "frank", Currency: "USDT"}
	require.NoError(t, l.Deposit(k, d("1000"), "", ""))
	require.NoError(t, l.Freeze(k, d("200"), "ord-1", ""))

	g := l.Group(k)
	require.NoError(t, g.ApplyFee(k, d("10"), true, "trade-1", "taker fee"))
	g.Release()
	b := l.Balance(k)
	assert.True(t, b.Total.Equal(d("990")))
	assert.True(t, b.Frozen.Equal(d("190")))

	g = l.Group(k)
	require.NoError(t, g.ApplyFee(k, d("10"), false, "trade-2", "maker fee"))
	g.Release()
	b = l.Balance(k)
	assert.True(t, b.Total.Equal(d("980")))
	assert.True(t, b.Frozen.Equal(d("190")))
	assert.True(t, b.Available.Equal(d("790")))
}

func TestGroupSettlementConservesSupply(t *testing.T) {
	l := New(nil, nil)
	buyer := "alice"
	seller := "bob"
	require.NoError(t, l.Deposit(Key{buyer, "USDT"}, d("10000"), "", ""))
	require.NoError(t, l.Deposit(Key{seller, "BTC"}, d("1"), "", ""))

	require.NoError(t, l.Freeze(Key{buyer, "USDT"}, d("50000").Mul(d("0.1")), "ord-b", ""))
	require.NoError(t, l.Freeze(Key{seller, "BTC"}, d("0.1"), "ord-s", ""))

	usdtBefore := l.TotalSupply("USDT")
	btcBefore := l.TotalSupply("BTC")

	g := l.Group(
		Key{buyer, "USDT"}, Key{buyer, "BTC"},
		Key{seller, "USDT"}, Key{seller, "BTC"},
	)
	require.NoError(t, g.SettleDebit(Key{buyer, "USDT"}, d("5000"), "t1", ""))
	require.NoError(t, g.SettleCredit(Key{seller, "USDT"}, d("5000"), "t1", ""))
	require.NoError(t, g.SettleDebit(Key{seller, "BTC"}, d("0.1"), "t1", ""))
	require.NoError(t, g.SettleCredit(Key{buyer, "BTC"}, d("0.1"), "t1", ""))
	g.Release()

	assert.True(t, l.TotalSupply("USDT").Equal(usdtBefore))
	assert.True(t, l.TotalSupply("BTC").Equal(btcBefore))
	assert.True(t, l.Balance(Key{buyer, "BTC"}).Total.Equal(d("0.1")))
	assert.True(t, l.Balance(Key{seller, "USDT"}).Total.Equal(d("5000")))
}

func TestJournalEntriesBalanceConsistent(t *testing.T) {
	l := New(nil, nil)
	k := Key{UserID: "gina", Currency: "USDT"}
	require.NoError(t, l.Deposit(k, d("500"), "", ""))
	require.NoError(t, l.Freeze(k, d("200"), "ord-1", ""))
	l.Unfreeze(k, d("200"), "ord-1", "")
	require.NoError(t, l.Withdraw(k, d("100"), "wd-1", ""))

	entries := l.Journal().ForUser("gina", 0)
	require.Len(t, entries, 4)
	for _, e := range entries {
		assert.True(t, e.BalanceAfter.Sub(e.BalanceBefore).Equal(e.Amount),
			"entry %s/%s: %s -> %s amount %s", e.Kind, e.Status,
			e.BalanceBefore, e.BalanceAfter, e.Amount)
	}
	// Newest first.
	assert.Equal(t, KindWithdrawal, entries[0].Kind)
	assert.Equal(t, KindDeposit, entries[3].Kind)
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	l := New(nil, nil)
	k := Key{UserID: "hank", Currency: "ETH"}
	require.NoError(t, l.Deposit(k, d("3.14159"), "", ""))
	require.NoError(t, l.Withdraw(k, d("3.14159"), "", ""))
	b := l.Balance(k)
	assert.True(t, b.Total.IsZero())
	assert.True(t, b.Frozen.IsZero())
}

func TestConcurrentGroupsNoDeadlock(t *testing.T) {
	l := New(nil, nil)
	users := []string{"u1", "u2", "u3"}
	for _, u := range users {
		require.NoError(t, l.Deposit(Key{u, "USDT"}, d("1000000"), "", ""))
		require.NoError(t, l.Deposit(Key{u, "BTC"}, d("100"), "", ""))
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		buyer := users[i%3]
		seller := users[(i+1)%3]
		go func() {
			defer wg.Done()
			// Opposite acquisition order at the call site; Group sorts.
			g := l.Group(
				Key{seller, "BTC"}, Key{buyer, "USDT"},
				Key{seller, "USDT"}, Key{buyer, "BTC"},
			)
			_ = g.SettleCredit(Key{buyer, "BTC"}, d("0.001"), "t", "")
			_ = g.SettleCredit(Key{seller, "USDT"}, d("1"), "t", "")
			g.Release()
		}()
	}
	wg.Wait()
}

func TestProvisionMaterializesZeroWallets(t *testing.T) {
	l := New(nil, nil)
	l.Provision("ivy", "BTC", "ETH", "USDT")
	snap := l.Snapshot("ivy")
	require.Len(t, snap, 3)
	for _, b := range snap {
		assert.True(t, b.Total.IsZero())
	}
	// Sorted by currency for a stable listing.
	assert.Equal(t, "BTC", snap[0].Currency)
	assert.Equal(t, "USDT", snap[2].Currency)
}
