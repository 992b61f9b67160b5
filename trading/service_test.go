package trading_test

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openalpha/spot-exchange/bus"
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

// safeBus records published events across goroutines.
type safeBus struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *safeBus) Publish(topic, eventType string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, bus.Event{Topic: topic, Type: eventType, Data: data})
}

func (r *safeBus) byType(eventType string) []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bus.Event
	for _, ev := range r.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	svc *trading.Service
	led *ledger.Ledger
	rec *safeBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := market.NewRegistry()
	reg.SeedDefaults()

	rec := &safeBus{}
	led := ledger.New(nil, nil)
	orders := trading.NewOrderStore()
	trades := trading.NewTradeLog()
	data := market.NewData(market.NewKlineStore(), nil)
	eng := matching.New(reg, led, orders, trades, data, nil, nil)
	svc := trading.NewService(reg, led, orders, trades, eng, rec, nil, trading.Options{})
	t.Cleanup(svc.Close)
	return &fixture{svc: svc, led: led, rec: rec}
}

func (f *fixture) fund(userID, currency, amount string) {
	if err := f.led.Deposit(ledger.Key{UserID: userID, Currency: currency}, d(amount), "", "seed"); err != nil {
		panic(err)
	}
}

func submit(f *fixture, req trading.SubmitRequest) (trading.Order, *trading.MatchResult, error) {
	return f.svc.Submit(req)
}

func limitReq(user, symbol string, side trading.Side, qty, price string) trading.SubmitRequest {
	return trading.SubmitRequest{
		UserID:   user,
		Symbol:   symbol,
		Type:     trading.OrderTypeLimit,
		Side:     side,
		Quantity: d(qty),
		Price:    d(price),
	}
}

func TestSubmitUnknownPair(t *testing.T) {
	f := newFixture(t)
	_, _, err := submit(f, limitReq("alice", "DOGE/USDT", trading.SideBuy, "1", "1"))
	require.ErrorIs(t, err, trading.ErrValidation)
}

func TestSubmitFuturesPairNotTradable(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", "USDT", "100000")
	_, _, err := submit(f, limitReq("alice", "BTC/USDT-PERP", trading.SideBuy, "1", "50000"))
	require.ErrorIs(t, err, trading.ErrValidation)
}

func TestSubmitStopTypesRejected(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", "USDT", "100000")
	for _, typ := range []trading.OrderType{trading.OrderTypeStop, trading.OrderTypeStopLimit} {
		_, _, err := submit(f, trading.SubmitRequest{
			UserID: "alice", Symbol: "BTC/USDT", Type: typ,
			Side: trading.SideBuy, Quantity: d("1"), Price: d("50000"),
		})
		require.ErrorIs(t, err, trading.ErrValidation, "type %s", typ)
	}
}

func TestSubmitQuantityBounds(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", "USDT", "100000000")

	_, _, err := submit(f, limitReq("alice", "BTC/USDT", trading.SideBuy, "0.00005", "50000"))
	require.ErrorIs(t, err, trading.ErrValidation, "below pair minimum")

	_, _, err = submit(f, limitReq("alice", "BTC/USDT", trading.SideBuy, "1001", "50000"))
	require.ErrorIs(t, err, trading.ErrValidation, "above pair maximum")

	_, _, err = submit(f, limitReq("alice", "BTC/USDT", trading.SideBuy, "0", "50000"))
	require.ErrorIs(t, err, trading.ErrValidation)

	_, _, err = submit(f, limitReq("alice", "BTC/USDT", trading.SideBuy, "-1", "50000"))
	require.ErrorIs(t, err, trading.ErrValidation)
}

func TestSubmitRoundsToPairPrecision(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", "USDT", "100000")

	o, _, err := submit(f, limitReq("alice", "BTC/USDT", trading.SideBuy, "0.123456789", "50000.128"))
	require.NoError(t, err)
	assert.True(t, o.Quantity.Equal(d("0.12345679")), "quantity %s", o.Quantity)
	assert.True(t, o.Price.Equal(d("50000.13")), "price %s", o.Price)
}

func TestSubmitLimitRequiresPrice(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", "USDT", "100000")

	_, _, err := submit(f, limitReq("alice", "BTC/USDT", trading.SideBuy, "1", "0"))
	require.ErrorIs(t, err, trading.ErrValidation)

	_, _, err = submit(f, limitReq("alice", "BTC/USDT", trading.SideBuy, "1", "-5"))
	require.ErrorIs(t, err, trading.ErrValidation)
}

func TestSubmitUnknownTimeInForce(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", "USDT", "100000")

	req := limitReq("alice", "BTC/USDT", trading.SideBuy, "0.1", "50000")
	req.TimeInForce = trading.TimeInForce("DAY")
	_, _, err := submit(f, req)
	require.ErrorIs(t, err, trading.ErrValidation)
}

func TestSubmitDefaultsToGTC(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", "USDT", "100000")

	o, _, err := submit(f, limitReq("alice", "BTC/USDT", trading.SideBuy, "0.1", "50000"))
	require.NoError(t, err)
	assert.Equal(t, trading.TifGTC, o.TimeInForce)
}

func TestSubmitInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", "USDT", "100")

	_, _, err := submit(f, limitReq("alice", "BTC/USDT", trading.SideBuy, "1", "50000"))
	require.ErrorIs(t, err, trading.ErrInsufficientFunds)

	b := f.led.Balance(ledger.Key{UserID: "alice", Currency: "USDT"})
	assert.True(t, b.Frozen.IsZero())
	assert.Empty(t, f.svc.Orders().ForUser("alice", "", 0), "rejected admission leaves no record")
}

func TestLimitBuyReservesQuote(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", "USDT", "100000")

	o, _, err := submit(f, limitReq("alice", "BTC/USDT", trading.SideBuy, "0.5", "50000"))
	require.NoError(t, err)
	assert.Equal(t, "USDT", o.ReservedCurrency)
	assert.True(t, o.Reserved.Equal(d("25000")))

	b := f.led.Balance(ledger.Key{UserID: "alice", Currency: "USDT"})
	assert.True(t, b.Frozen.Equal(d("25000")))
	assert.True(t, b.Available.Equal(d("75000")))
}

func TestLimitSellReservesBase(t *testing.T) {
	f := newFixture(t)
	f.fund("bob", "BTC", "2")

	o, _, err := submit(f, limitReq("bob", "BTC/USDT", trading.SideSell, "1.5", "50000"))
	require.NoError(t, err)
	assert.Equal(t, "BTC", o.ReservedCurrency)
	assert.True(t, o.Reserved.Equal(d("1.5")))

	b := f.led.Balance(ledger.Key{UserID: "bob", Currency: "BTC"})
	assert.True(t, b.Frozen.Equal(d("1.5")))
	assert.True(t, b.Available.Equal(d("0.5")))
}

func TestMarketSellNoBidsRejected(t *testing.T) {
	f := newFixture(t)
	f.fund("bob", "BTC", "1")

	_, _, err := submit(f, trading.SubmitRequest{
		UserID: "bob", Symbol: "BTC/USDT", Type: trading.OrderTypeMarket,
		Side: trading.SideSell, Quantity: d("1"),
	})
	require.ErrorIs(t, err, trading.ErrNoLiquidity)
	assert.True(t, f.led.Balance(ledger.Key{UserID: "bob", Currency: "BTC"}).Frozen.IsZero())
}

func TestOrdersForUserStatusFilter(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", "USDT", "100000")

	first, _, err := submit(f, limitReq("alice", "BTC/USDT", trading.SideBuy, "0.1", "49000"))
	require.NoError(t, err)
	_, _, err = submit(f, limitReq("alice", "BTC/USDT", trading.SideBuy, "0.1", "48000"))
	require.NoError(t, err)

	_, err = f.svc.Cancel("alice", first.ID)
	require.NoError(t, err)

	all := f.svc.Orders().ForUser("alice", "", 0)
	assert.Len(t, all, 2)
	pending := f.svc.Orders().ForUser("alice", trading.StatusPending, 0)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Price.Equal(d("48000")))
	cancelled := f.svc.Orders().ForUser("alice", trading.StatusCancelled, 0)
	assert.Len(t, cancelled, 1)
}

func TestGetEnforcesOwnership(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", "USDT", "100000")

	o, _, err := submit(f, limitReq("alice", "BTC/USDT", trading.SideBuy, "0.1", "50000"))
	require.NoError(t, err)

	got, err := f.svc.Get("alice", o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = f.svc.Get("mallory", o.ID)
	require.ErrorIs(t, err, trading.ErrForbidden)

	_, err = f.svc.Get("alice", "no-such-order")
	require.ErrorIs(t, err, trading.ErrNotFound)
}

func TestCancelEnforcesOwnership(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", "USDT", "100000")

	o, _, err := submit(f, limitReq("alice", "BTC/USDT", trading.SideBuy, "0.1", "50000"))
	require.NoError(t, err)

	_, err = f.svc.Cancel("mallory", o.ID)
	require.ErrorIs(t, err, trading.ErrForbidden)

	_, err = f.svc.Cancel("alice", "no-such-order")
	require.ErrorIs(t, err, trading.ErrNotFound)
}

func TestSubmitPublishesOrderUpdates(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", "USDT", "100000")

	o, _, err := submit(f, limitReq("alice", "BTC/USDT", trading.SideBuy, "0.1", "50000"))
	require.NoError(t, err)

	updates := f.rec.byType("order_update")
	require.NotEmpty(t, updates)
	assert.Equal(t, bus.UserOrders("alice"), updates[0].Topic)
	first, ok := updates[0].Data.(trading.Order)
	require.True(t, ok)
	assert.Equal(t, o.ID, first.ID)

	_, err = f.svc.Cancel("alice", o.ID)
	require.NoError(t, err)

	updates = f.rec.byType("order_update")
	last, ok := updates[len(updates)-1].Data.(trading.Order)
	require.True(t, ok)
	assert.Equal(t, trading.StatusCancelled, last.Status)
}

func TestRestingOrderPublishesBookFeed(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", "USDT", "100000")

	_, _, err := submit(f, limitReq("alice", "BTC/USDT", trading.SideBuy, "0.1", "50000"))
	require.NoError(t, err)

	deltas := f.rec.byType("orderbook_update")
	require.NotEmpty(t, deltas)
	assert.Equal(t, bus.BookTopic("BTC/USDT"), deltas[0].Topic)

	// First publish always carries a full snapshot too.
	snaps := f.rec.byType("orderbook_data")
	require.NotEmpty(t, snaps)
}

func TestRealFlowHookFires(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", "USDT", "100000")

	var touched []string
	f.svc.OnRealFlow(func(symbol string) { touched = append(touched, symbol) })

	_, _, err := submit(f, limitReq("alice", "BTC/USDT", trading.SideBuy, "0.1", "50000"))
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/USDT"}, touched)
}
