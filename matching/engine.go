// Package matching implements price-time priority matching. All calls for
// one pair arrive on that pair's writer goroutine; the engine owns the
// books and performs fill settlement through ledger lock groups.
package matching

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openalpha/spot-exchange/bus"
	"github.com/openalpha/spot-exchange/ledger"
	"github.com/openalpha/spot-exchange/market"
	"github.com/openalpha/spot-exchange/orderbook"
	"github.com/openalpha/spot-exchange/trading"
)

// Engine matches aggressors against resting limit orders.
type Engine struct {
	registry *market.Registry
	ledger   *ledger.Ledger
	orders   *trading.OrderStore
	trades   *trading.TradeLog
	data     *market.Data
	events   bus.Publisher
	log      *zap.Logger

	mu      sync.Mutex
	books   map[string]*orderbook.Book
	resting map[string]*orderbook.Entry // order id -> book entry

	// onMatch is a metrics hook fed with per-aggressor latency.
	onMatch func(symbol string, trades int, elapsed time.Duration)
}

func New(registry *market.Registry, led *ledger.Ledger, orders *trading.OrderStore,
	trades *trading.TradeLog, data *market.Data, events bus.Publisher, log *zap.Logger) *Engine {

	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		registry: registry,
		ledger:   led,
		orders:   orders,
		trades:   trades,
		data:     data,
		events:   events,
		log:      log,
		books:    make(map[string]*orderbook.Book),
		resting:  make(map[string]*orderbook.Entry),
	}
}

// OnMatch installs the matching metrics hook.
func (e *Engine) OnMatch(fn func(symbol string, trades int, elapsed time.Duration)) {
	e.onMatch = fn
}

// Book returns the pair's book, creating it on first use. The simulator
// loads synthetic depth through this.
func (e *Engine) Book(symbol string) *orderbook.Book {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.books[symbol]
	if !ok {
		b = orderbook.New(symbol)
		e.books[symbol] = b
	}
	return b
}

// BestAsk reports the real best ask; synthetic depth does not count.
func (e *Engine) BestAsk(symbol string) (decimal.Decimal, bool) {
	b := e.Book(symbol)
	if b.Synthetic() {
		return decimal.Zero, false
	}
	lv, ok := b.BestAsk()
	return lv.Price, ok
}

// BestBid reports the real best bid; synthetic depth does not count.
func (e *Engine) BestBid(symbol string) (decimal.Decimal, bool) {
	b := e.Book(symbol)
	if b.Synthetic() {
		return decimal.Zero, false
	}
	lv, ok := b.BestBid()
	return lv.Price, ok
}

// BookSnapshot returns the seq-numbered top-N view of the pair's book.
func (e *Engine) BookSnapshot(symbol string, depth int) orderbook.Snapshot {
	return e.Book(symbol).Snapshot(depth)
}

// BookDeltas drains the pair's pending level deltas.
func (e *Engine) BookDeltas(symbol string) ([]orderbook.Delta, bool) {
	return e.Book(symbol).DrainDeltas()
}

// CancelResting removes the order's remainder from the book, if resting.
func (e *Engine) CancelResting(o *trading.Order) {
	e.mu.Lock()
	entry := e.resting[o.ID]
	delete(e.resting, o.ID)
	e.mu.Unlock()
	if entry == nil {
		return
	}
	e.Book(o.Symbol).Remove(o.ID, entry.Side, entry.Price)
}

// Process is the engine's entry point for one aggressor. It leaves the
// order in a consistent state: filled quantities settled, the remainder
// rested or unwound, and any unused reservation released.
func (e *Engine) Process(o *trading.Order) (*trading.MatchResult, error) {
	start := time.Now()
	res, err := e.process(o)
	if e.onMatch != nil {
		n := 0
		if res != nil {
			n = len(res.Trades)
		}
		e.onMatch(o.Symbol, n, time.Since(start))
	}
	return res, err
}

func (e *Engine) process(o *trading.Order) (*trading.MatchResult, error) {
	pair, ok := e.registry.Pair(o.Symbol)
	if !ok {
		return nil, fmt.Errorf("%w: pair %s", trading.ErrNotFound, o.Symbol)
	}
	book := e.Book(o.Symbol)
	if book.Synthetic() {
		// First real order on a simulated pair: the synthetic depth is
		// display-only and can never be filled.
		book.Clear()
	}

	res := &trading.MatchResult{
		Trades:       make([]*trading.Trade, 0),
		FilledQty:    decimal.Zero,
		AvgPrice:     decimal.Zero,
		RemainingQty: o.Remaining(),
	}

	if o.Type == trading.OrderTypeLimit && o.TimeInForce == trading.TifFOK {
		if !e.fillableInFull(book, o) {
			e.reject(o, "FOK order cannot fill in full")
			return res, fmt.Errorf("%w: FOK quantity %s not available at %s",
				trading.ErrNoLiquidity, o.Quantity, o.Price)
		}
	}

	candidates := e.collect(book, o)
	totalValue := decimal.Zero
	for _, entry := range candidates {
		if !res.RemainingQty.IsPositive() {
			break
		}
		maker, err := e.orders.Get(entry.OrderID)
		if err != nil || !maker.Status.Active() {
			continue
		}

		q := decimal.Min(res.RemainingQty, entry.Remaining)
		p := entry.Price // maker's price, improvement goes to the aggressor

		trade, err := e.settle(pair, o, maker, q, p)
		if err != nil {
			// Broken invariant mid-fill: the step was not applied. Prior
			// fills stand on their own journal entries.
			e.log.Error("fill settlement aborted",
				zap.String("symbol", o.Symbol),
				zap.String("taker", o.ID),
				zap.String("maker", maker.ID),
				zap.Error(err))
			e.reject(o, "settlement invariant failure")
			return res, err
		}

		res.Trades = append(res.Trades, trade)
		res.FilledQty = res.FilledQty.Add(q)
		res.RemainingQty = res.RemainingQty.Sub(q)
		totalValue = totalValue.Add(q.Mul(p))

		book.Reduce(entry, q)
		if !maker.Remaining().IsPositive() {
			e.mu.Lock()
			delete(e.resting, maker.ID)
			e.mu.Unlock()
		}
		e.orders.Save(maker)
		e.publishOrder(maker)
		e.publishTrade(trade)
	}

	if res.FilledQty.IsPositive() {
		res.AvgPrice = totalValue.Div(res.FilledQty)
	}
	if err := e.finish(book, o, res); err != nil {
		return res, err
	}
	return res, nil
}

// collect walks the opposite side best-first and returns the price-
// compatible entries, excluding the aggressor's own orders.
func (e *Engine) collect(book *orderbook.Book, o *trading.Order) []*orderbook.Entry {
	need := o.Remaining()
	out := make([]*orderbook.Entry, 0, 4)
	book.Walk(o.Side.Opposite(), func(entry *orderbook.Entry) bool {
		if !e.compatible(o, entry.Price) {
			return false
		}
		if entry.UserID == o.UserID {
			return true // self-trade prevention by exclusion
		}
		out = append(out, entry)
		need = need.Sub(entry.Remaining)
		return need.IsPositive()
	})
	return out
}

// compatible mirrors limit-price crossing rules; market orders cross any
// level.
func (e *Engine) compatible(o *trading.Order, levelPrice decimal.Decimal) bool {
	if o.Type == trading.OrderTypeMarket {
		return true
	}
	if o.Side == trading.SideBuy {
		return o.Price.GreaterThanOrEqual(levelPrice)
	}
	return o.Price.LessThanOrEqual(levelPrice)
}

// fillableInFull is the FOK dry run: no mutation, only availability.
func (e *Engine) fillableInFull(book *orderbook.Book, o *trading.Order) bool {
	available := decimal.Zero
	book.Walk(o.Side.Opposite(), func(entry *orderbook.Entry) bool {
		if !e.compatible(o, entry.Price) {
			return false
		}
		if entry.UserID == o.UserID {
			return true
		}
		available = available.Add(entry.Remaining)
		return available.LessThan(o.Quantity)
	})
	return available.GreaterThanOrEqual(o.Quantity)
}

// finish applies terminal and time-in-force handling after the fill walk.
func (e *Engine) finish(book *orderbook.Book, o *trading.Order, res *trading.MatchResult) error {
	switch {
	case !res.RemainingQty.IsPositive():
		// Fully filled; release the rounding remainder of the reservation,
		// if any (market-buy headroom, price improvement).
		e.releaseReservation(o, "reservation released on fill")

	case o.Type == trading.OrderTypeMarket:
		e.releaseReservation(o, "unfilled market remainder")
		if res.FilledQty.IsPositive() {
			o.Status = trading.StatusPartialFilled
		} else {
			o.Status = trading.StatusCancelled
		}
		o.UpdatedAt = time.Now().UTC()

	case o.TimeInForce == trading.TifIOC:
		e.releaseReservation(o, "IOC remainder cancelled")
		if res.FilledQty.IsPositive() {
			o.Status = trading.StatusPartialFilled
		} else {
			o.Status = trading.StatusCancelled
		}
		o.UpdatedAt = time.Now().UTC()

	default:
		// GTC remainder rests. A remainder that would tie or cross the
		// opposite best is only possible when matching skipped the user's
		// own orders; resting it would cross the book, so reject instead.
		if e.wouldCross(book, o) {
			e.reject(o, "resting remainder would cross own order")
			return fmt.Errorf("%w: order would cross own resting order on %s",
				trading.ErrNoLiquidity, o.Symbol)
		}
		entry := &orderbook.Entry{
			OrderID:   o.ID,
			UserID:    o.UserID,
			Side:      o.Side,
			Price:     o.Price,
			Remaining: res.RemainingQty,
			CreatedAt: o.CreatedAt,
		}
		book.Add(entry)
		e.mu.Lock()
		e.resting[o.ID] = entry
		e.mu.Unlock()
		if res.FilledQty.IsPositive() {
			o.Status = trading.StatusPartialFilled
		} else {
			o.Status = trading.StatusPending
		}
	}
	return nil
}

func (e *Engine) wouldCross(book *orderbook.Book, o *trading.Order) bool {
	if o.Side == trading.SideBuy {
		if ask, ok := book.BestAsk(); ok {
			return o.Price.GreaterThanOrEqual(ask.Price)
		}
		return false
	}
	if bid, ok := book.BestBid(); ok {
		return o.Price.LessThanOrEqual(bid.Price)
	}
	return false
}

// releaseReservation unfreezes whatever is left of the order's reservation.
func (e *Engine) releaseReservation(o *trading.Order, why string) {
	if !o.ReservedRemaining.IsPositive() {
		o.ReservedRemaining = decimal.Zero
		return
	}
	e.ledger.Unfreeze(
		ledger.Key{UserID: o.UserID, Currency: o.ReservedCurrency},
		o.ReservedRemaining, o.ID, why)
	o.ReservedRemaining = decimal.Zero
}

// reject unwinds the reservation and marks the order rejected.
func (e *Engine) reject(o *trading.Order, why string) {
	e.releaseReservation(o, why)
	o.Status = trading.StatusRejected
	o.UpdatedAt = time.Now().UTC()
}

func (e *Engine) publishOrder(o *trading.Order) {
	if e.events != nil {
		e.events.Publish(bus.UserOrders(o.UserID), "order_update", *o)
	}
}

func (e *Engine) publishTrade(t *trading.Trade) {
	if e.events != nil {
		e.events.Publish(bus.TradeTopic(t.Symbol), "trade", *t)
	}
}
