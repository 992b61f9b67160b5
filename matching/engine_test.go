package matching_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openalpha/spot-exchange/ledger"
	"github.com/openalpha/spot-exchange/market"
	"github.com/openalpha/spot-exchange/matching"
	"github.com/openalpha/spot-exchange/trading"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type exchange struct {
	svc    *trading.Service
	led    *ledger.Ledger
	eng    *matching.Engine
	trades *trading.TradeLog
}

func newExchange(t testing.TB) *exchange {
	t.Helper()
	reg := market.NewRegistry()
	reg.SeedDefaults()

	led := ledger.New(nil, nil)
	orders := trading.NewOrderStore()
	trades := trading.NewTradeLog()
	data := market.NewData(market.NewKlineStore(), nil)
	eng := matching.New(reg, led, orders, trades, data, nil, nil)
	svc := trading.NewService(reg, led, orders, trades, eng, nil, nil, trading.Options{})
	t.Cleanup(svc.Close)
	return &exchange{svc: svc, led: led, eng: eng, trades: trades}
}

func (e *exchange) fund(userID, currency, amount string) {
	if err := e.led.Deposit(ledger.Key{UserID: userID, Currency: currency}, d(amount), "", "seed"); err != nil {
		panic(err)
	}
}

func (e *exchange) balance(userID, currency string) ledger.Balance {
	return e.led.Balance(ledger.Key{UserID: userID, Currency: currency})
}

func (e *exchange) limit(user string, side trading.Side, qty, price string, tif trading.TimeInForce) (trading.Order, *trading.MatchResult, error) {
	return e.svc.Submit(trading.SubmitRequest{
		UserID:      user,
		Symbol:      "BTC/USDT",
		Type:        trading.OrderTypeLimit,
		Side:        side,
		Quantity:    d(qty),
		Price:       d(price),
		TimeInForce: tif,
	})
}

func (e *exchange) marketOrder(user string, side trading.Side, qty string) (trading.Order, *trading.MatchResult, error) {
	return e.svc.Submit(trading.SubmitRequest{
		UserID:   user,
		Symbol:   "BTC/USDT",
		Type:     trading.OrderTypeMarket,
		Side:     side,
		Quantity: d(qty),
	})
}

func TestCrossedLimitFullFill(t *testing.T) {
	ex := newExchange(t)
	ex.fund("alice", "USDT", "100000")
	ex.fund("bob", "BTC", "1")

	sell, _, err := ex.limit("bob", trading.SideSell, "1", "50000", trading.TifGTC)
	require.NoError(t, err)
	assert.Equal(t, trading.StatusPending, sell.Status)

	buy, res, err := ex.limit("alice", trading.SideBuy, "1", "50000", trading.TifGTC)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.True(t, tr.Price.Equal(d("50000")))
	assert.True(t, tr.Quantity.Equal(d("1")))
	assert.Equal(t, trading.StatusFilled, buy.Status)

	aliceUSDT := ex.balance("alice", "USDT")
	assert.True(t, aliceUSDT.Total.Equal(d("49950")), "got %s", aliceUSDT.Total)
	assert.True(t, aliceUSDT.Frozen.IsZero())
	assert.True(t, ex.balance("alice", "BTC").Total.Equal(d("1")))

	bobUSDT := ex.balance("bob", "USDT")
	assert.True(t, bobUSDT.Total.Equal(d("49950")), "got %s", bobUSDT.Total)
	assert.True(t, ex.balance("bob", "BTC").Total.IsZero())
	assert.True(t, ex.balance("bob", "BTC").Frozen.IsZero())
}

func TestMarketBuyPriceImprovement(t *testing.T) {
	ex := newExchange(t)
	ex.fund("alice", "USDT", "100000")
	ex.fund("bob", "BTC", "0.5")
	ex.fund("carol", "BTC", "1")

	_, _, err := ex.limit("bob", trading.SideSell, "0.5", "49900", trading.TifGTC)
	require.NoError(t, err)
	_, _, err = ex.limit("carol", trading.SideSell, "1", "50100", trading.TifGTC)
	require.NoError(t, err)

	buy, res, err := ex.marketOrder("alice", trading.SideBuy, "1")
	require.NoError(t, err)

	// Reservation bound: 1 x 50100 x 1.05.
	assert.True(t, buy.Reserved.Equal(d("52605")), "reserved %s", buy.Reserved)

	require.Len(t, res.Trades, 2)
	assert.True(t, res.Trades[0].Price.Equal(d("49900")))
	assert.True(t, res.Trades[0].Quantity.Equal(d("0.5")))
	assert.True(t, res.Trades[1].Price.Equal(d("50100")))
	assert.True(t, res.Trades[1].Quantity.Equal(d("0.5")))
	assert.Equal(t, trading.StatusFilled, buy.Status)

	aliceUSDT := ex.balance("alice", "USDT")
	assert.True(t, aliceUSDT.Total.Equal(d("49950")), "got %s", aliceUSDT.Total)
	assert.True(t, aliceUSDT.Frozen.IsZero(), "reservation excess released, frozen %s", aliceUSDT.Frozen)
	assert.True(t, ex.balance("alice", "BTC").Total.Equal(d("1")))
}

func TestFOKInsufficientLiquidity(t *testing.T) {
	ex := newExchange(t)
	ex.fund("alice", "USDT", "100000")
	ex.fund("bob", "BTC", "0.3")

	_, _, err := ex.limit("bob", trading.SideSell, "0.3", "50000", trading.TifGTC)
	require.NoError(t, err)

	buy, res, err := ex.limit("alice", trading.SideBuy, "1", "50000", trading.TifFOK)
	require.ErrorIs(t, err, trading.ErrNoLiquidity)
	assert.Empty(t, res.Trades)
	assert.Equal(t, trading.StatusRejected, buy.Status)

	aliceUSDT := ex.balance("alice", "USDT")
	assert.True(t, aliceUSDT.Total.Equal(d("100000")))
	assert.True(t, aliceUSDT.Frozen.IsZero())

	// The resting ask is untouched.
	ask, ok := ex.eng.BestAsk("BTC/USDT")
	require.True(t, ok)
	assert.True(t, ask.Equal(d("50000")))
}

func TestIOCPartialFill(t *testing.T) {
	ex := newExchange(t)
	ex.fund("alice", "USDT", "100000")
	ex.fund("bob", "BTC", "0.3")

	_, _, err := ex.limit("bob", trading.SideSell, "0.3", "50000", trading.TifGTC)
	require.NoError(t, err)

	buy, res, err := ex.limit("alice", trading.SideBuy, "1", "50000", trading.TifIOC)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.True(t, res.FilledQty.Equal(d("0.3")))
	assert.Equal(t, trading.StatusPartialFilled, buy.Status)

	// Remainder cancelled, nothing rests.
	_, hasBid := ex.eng.BestBid("BTC/USDT")
	assert.False(t, hasBid)

	// 15000 settled + 15 fee, rest of the 50000 reservation released.
	aliceUSDT := ex.balance("alice", "USDT")
	assert.True(t, aliceUSDT.Total.Equal(d("84985")), "got %s", aliceUSDT.Total)
	assert.True(t, aliceUSDT.Frozen.IsZero())
}

func TestSelfTradePrevented(t *testing.T) {
	ex := newExchange(t)
	ex.fund("alice", "USDT", "100000")
	ex.fund("alice", "BTC", "1")

	_, _, err := ex.limit("alice", trading.SideSell, "1", "50000", trading.TifGTC)
	require.NoError(t, err)

	buy, res, err := ex.limit("alice", trading.SideBuy, "1", "50000", trading.TifGTC)
	require.ErrorIs(t, err, trading.ErrNoLiquidity)
	assert.Empty(t, res.Trades)
	assert.Equal(t, trading.StatusRejected, buy.Status)

	// No trade happened and the book did not cross.
	aliceUSDT := ex.balance("alice", "USDT")
	assert.True(t, aliceUSDT.Total.Equal(d("100000")))
	assert.True(t, aliceUSDT.Frozen.IsZero())
	_, hasBid := ex.eng.BestBid("BTC/USDT")
	assert.False(t, hasBid)
	ask, ok := ex.eng.BestAsk("BTC/USDT")
	require.True(t, ok)
	assert.True(t, ask.Equal(d("50000")))
}

func TestCancelPartiallyFilled(t *testing.T) {
	ex := newExchange(t)
	ex.fund("alice", "USDT", "100000")
	ex.fund("bob", "BTC", "1")

	buy, _, err := ex.limit("alice", trading.SideBuy, "2", "50000", trading.TifGTC)
	require.NoError(t, err)
	assert.Equal(t, trading.StatusPending, buy.Status)

	_, res, err := ex.limit("bob", trading.SideSell, "1", "50000", trading.TifGTC)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	cancelled, err := ex.svc.Cancel("alice", buy.ID)
	require.NoError(t, err)
	assert.Equal(t, trading.StatusCancelled, cancelled.Status)
	assert.True(t, cancelled.Filled.Equal(d("1")))

	// 50000 settled + 50 maker fee, 50000 remainder refunded.
	aliceUSDT := ex.balance("alice", "USDT")
	assert.True(t, aliceUSDT.Total.Equal(d("49950")), "got %s", aliceUSDT.Total)
	assert.True(t, aliceUSDT.Frozen.IsZero())
	assert.True(t, ex.balance("alice", "BTC").Total.Equal(d("1")))

	assert.Len(t, ex.trades.Recent("BTC/USDT", 10), 1)
}

func TestSubmitCancelRoundTrip(t *testing.T) {
	ex := newExchange(t)
	ex.fund("alice", "USDT", "12345.678")

	before := ex.balance("alice", "USDT")
	o, _, err := ex.limit("alice", trading.SideBuy, "0.1", "50000", trading.TifGTC)
	require.NoError(t, err)

	mid := ex.balance("alice", "USDT")
	assert.True(t, mid.Frozen.Equal(d("5000")))

	_, err = ex.svc.Cancel("alice", o.ID)
	require.NoError(t, err)

	after := ex.balance("alice", "USDT")
	assert.True(t, after.Total.Equal(before.Total))
	assert.True(t, after.Frozen.Equal(before.Frozen))
	assert.True(t, after.Available.Equal(before.Available))
}

func TestCancelIsIdempotent(t *testing.T) {
	ex := newExchange(t)
	ex.fund("alice", "USDT", "10000")

	o, _, err := ex.limit("alice", trading.SideBuy, "0.1", "50000", trading.TifGTC)
	require.NoError(t, err)

	first, err := ex.svc.Cancel("alice", o.ID)
	require.NoError(t, err)
	second, err := ex.svc.Cancel("alice", o.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.True(t, ex.balance("alice", "USDT").Frozen.IsZero())
}

func TestPriceTimePriority(t *testing.T) {
	ex := newExchange(t)
	ex.fund("alice", "USDT", "200000")
	ex.fund("bob", "BTC", "1")
	ex.fund("carol", "BTC", "1")

	// Same price: bob rested first, so bob fills first.
	_, _, err := ex.limit("bob", trading.SideSell, "1", "50000", trading.TifGTC)
	require.NoError(t, err)
	_, _, err = ex.limit("carol", trading.SideSell, "1", "50000", trading.TifGTC)
	require.NoError(t, err)

	_, res, err := ex.limit("alice", trading.SideBuy, "1", "50000", trading.TifGTC)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "bob", res.Trades[0].SellerID)
	assert.True(t, ex.balance("bob", "BTC").Total.IsZero())
	assert.True(t, ex.balance("carol", "BTC").Frozen.Equal(d("1")), "carol still resting")
}

func TestAggressorLimitPriceImprovementRefund(t *testing.T) {
	ex := newExchange(t)
	ex.fund("alice", "USDT", "100000")
	ex.fund("bob", "BTC", "1")

	_, _, err := ex.limit("bob", trading.SideSell, "1", "49000", trading.TifGTC)
	require.NoError(t, err)

	// Alice bids 50000 but fills at the maker's 49000.
	buy, res, err := ex.limit("alice", trading.SideBuy, "1", "50000", trading.TifGTC)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Price.Equal(d("49000")))
	assert.Equal(t, trading.StatusFilled, buy.Status)

	// 49000 settled + 49 fee; the 1000 improvement came straight back.
	aliceUSDT := ex.balance("alice", "USDT")
	assert.True(t, aliceUSDT.Total.Equal(d("50951")), "got %s", aliceUSDT.Total)
	assert.True(t, aliceUSDT.Frozen.IsZero())
}

func TestConservationAcrossMatching(t *testing.T) {
	ex := newExchange(t)
	ex.fund("alice", "USDT", "100000")
	ex.fund("bob", "BTC", "2")
	usdtBefore := ex.led.TotalSupply("USDT")
	btcBefore := ex.led.TotalSupply("BTC")

	_, _, err := ex.limit("bob", trading.SideSell, "2", "50000", trading.TifGTC)
	require.NoError(t, err)
	_, _, err = ex.limit("alice", trading.SideBuy, "1.5", "50000", trading.TifGTC)
	require.NoError(t, err)

	// Fees burn quote supply; base supply is conserved exactly.
	fees := d("75").Add(d("75")) // 0.001 x 75000 per side
	assert.True(t, ex.led.TotalSupply("USDT").Equal(usdtBefore.Sub(fees)),
		"got %s", ex.led.TotalSupply("USDT"))
	assert.True(t, ex.led.TotalSupply("BTC").Equal(btcBefore))
}

func TestMarketSellIntoBids(t *testing.T) {
	ex := newExchange(t)
	ex.fund("alice", "USDT", "100000")
	ex.fund("bob", "BTC", "1")

	_, _, err := ex.limit("alice", trading.SideBuy, "1", "50000", trading.TifGTC)
	require.NoError(t, err)

	sell, res, err := ex.marketOrder("bob", trading.SideSell, "1")
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, trading.StatusFilled, sell.Status)
	assert.True(t, ex.balance("bob", "USDT").Total.Equal(d("49950")))
}

func TestMarketBuyNoAsksRejected(t *testing.T) {
	ex := newExchange(t)
	ex.fund("alice", "USDT", "100000")

	_, _, err := ex.marketOrder("alice", trading.SideBuy, "1")
	require.ErrorIs(t, err, trading.ErrNoLiquidity)

	b := ex.balance("alice", "USDT")
	assert.True(t, b.Total.Equal(d("100000")))
	assert.True(t, b.Frozen.IsZero())
}

// BenchmarkSubmitRestingOrders measures the full admission path for orders
// that rest without matching: freeze, writer hop, book insert.
func BenchmarkSubmitRestingOrders(b *testing.B) {
	ex := newExchange(b)
	ex.fund("alice", "USDT", "1000000000000000")
	ex.fund("bob", "BTC", "10000000000")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var err error
		if i%2 == 0 {
			price := decimal.NewFromInt(int64(49000 - i%500))
			_, _, err = ex.svc.Submit(trading.SubmitRequest{
				UserID: "alice", Symbol: "BTC/USDT",
				Type: trading.OrderTypeLimit, Side: trading.SideBuy,
				Quantity: d("0.01"), Price: price,
			})
		} else {
			price := decimal.NewFromInt(int64(51000 + i%500))
			_, _, err = ex.svc.Submit(trading.SubmitRequest{
				UserID: "bob", Symbol: "BTC/USDT",
				Type: trading.OrderTypeLimit, Side: trading.SideSell,
				Quantity: d("0.01"), Price: price,
			})
		}
		if err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSubmitCrossingOrders measures a rest-then-fill cycle: one maker
// sell, one taker buy, one four-wallet settlement.
func BenchmarkSubmitCrossingOrders(b *testing.B) {
	ex := newExchange(b)
	ex.fund("alice", "USDT", "1000000000000000")
	ex.fund("bob", "BTC", "10000000000")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, err := ex.svc.Submit(trading.SubmitRequest{
			UserID: "bob", Symbol: "BTC/USDT",
			Type: trading.OrderTypeLimit, Side: trading.SideSell,
			Quantity: d("1"), Price: d("50000"),
		})
		if err != nil {
			b.Fatal(err)
		}
		_, res, err := ex.svc.Submit(trading.SubmitRequest{
			UserID: "alice", Symbol: "BTC/USDT",
			Type: trading.OrderTypeLimit, Side: trading.SideBuy,
			Quantity: d("1"), Price: d("50000"),
		})
		if err != nil {
			b.Fatal(err)
		}
		if len(res.Trades) != 1 {
			b.Fatalf("expected 1 trade, got %d", len(res.Trades))
		}
	}
}
