package trading

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openalpha/spot-exchange/bus"
	"github.com/openalpha/spot-exchange/ledger"
	"github.com/openalpha/spot-exchange/market"
)

const (
	defaultQueueSize        = 128
	defaultSubmitTimeout    = 5 * time.Second
	bookPublishDepth        = 15
	defaultSnapshotEvery    = 20
	defaultSnapshotInterval = 10 * time.Second
)

// SubmitRequest is an order admission request.
type SubmitRequest struct {
	UserID      string
	Symbol      string
	Type        OrderType
	Side        Side
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	TimeInForce TimeInForce

	// Deadline bounds the wait on the pair writer queue; zero selects the
	// default of 5s.
	Deadline time.Duration
}

// Service is the public order boundary: admission, reservation, dispatch to
// the pair's matching writer, cancel.
type Service struct {
	registry     *market.Registry
	ledger       *ledger.Ledger
	orders       *OrderStore
	trades       *TradeLog
	engine       Engine
	events       bus.Publisher
	log          *zap.Logger
	slippageCap  decimal.Decimal
	queueSize    int
	snapEvery    int
	snapInterval time.Duration

	wmu     sync.Mutex
	writers map[string]*pairWriter

	// onRealFlow tells the simulator a pair has live traffic.
	onRealFlow func(symbol string)
}

// Options tunes the service; zero values select defaults.
type Options struct {
	SlippageCap decimal.Decimal // default 0.05
	QueueSize   int             // pair writer queue depth, default 128

	// Full book snapshots are republished every SnapshotEvery deltas or
	// SnapshotInterval, whichever comes first. Defaults 20 and 10s.
	SnapshotEvery    int
	SnapshotInterval time.Duration
}

func NewService(registry *market.Registry, led *ledger.Ledger, orders *OrderStore,
	trades *TradeLog, engine Engine, events bus.Publisher, log *zap.Logger, opts Options) *Service {

	if log == nil {
		log = zap.NewNop()
	}
	cap := opts.SlippageCap
	if !cap.IsPositive() {
		cap = decimal.NewFromFloat(0.05)
	}
	qs := opts.QueueSize
	if qs <= 0 {
		qs = defaultQueueSize
	}
	if opts.SnapshotEvery <= 0 {
		opts.SnapshotEvery = defaultSnapshotEvery
	}
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = defaultSnapshotInterval
	}
	return &Service{
		registry:     registry,
		ledger:       led,
		orders:       orders,
		trades:       trades,
		engine:       engine,
		events:       events,
		log:          log,
		slippageCap:  cap,
		queueSize:    qs,
		snapEvery:    opts.SnapshotEvery,
		snapInterval: opts.SnapshotInterval,
		writers:      make(map[string]*pairWriter),
	}
}

// OnRealFlow installs the live-traffic hook (simulator suppression).
func (s *Service) OnRealFlow(fn func(symbol string)) { s.onRealFlow = fn }

// Orders exposes the order store for read paths.
func (s *Service) Orders() *OrderStore { return s.orders }

// Trades exposes the trade log for read paths.
func (s *Service) Trades() *TradeLog { return s.trades }

// Submit validates, reserves funds, persists the order and runs it through
// the pair's matching writer. The returned order reflects every fill
// reachable within the request.
func (s *Service) Submit(req SubmitRequest) (Order, *MatchResult, error) {
	pair, ok := s.registry.Pair(req.Symbol)
	if !ok {
		return Order{}, nil, fmt.Errorf("%w: unknown pair %q", ErrValidation, req.Symbol)
	}
	if !pair.Tradable() {
		return Order{}, nil, fmt.Errorf("%w: pair %s is not tradable", ErrValidation, pair.Symbol)
	}
	if !req.Type.Matchable() {
		return Order{}, nil, fmt.Errorf("%w: order type %q is not matchable", ErrValidation, req.Type)
	}

	qty := req.Quantity.Round(pair.QuantityPrecision)
	if !qty.IsPositive() {
		return Order{}, nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if qty.LessThan(pair.MinOrderSize) || qty.GreaterThan(pair.MaxOrderSize) {
		return Order{}, nil, fmt.Errorf("%w: quantity %s outside [%s, %s]",
			ErrValidation, qty, pair.MinOrderSize, pair.MaxOrderSize)
	}

	price := decimal.Zero
	if req.Type == OrderTypeLimit {
		if !req.Price.IsPositive() {
			return Order{}, nil, fmt.Errorf("%w: limit orders require a positive price", ErrValidation)
		}
		price = req.Price.Round(pair.PricePrecision)
	}

	tif := req.TimeInForce
	if tif == "" {
		tif = TifGTC
	}
	switch tif {
	case TifGTC, TifIOC, TifFOK:
	default:
		return Order{}, nil, fmt.Errorf("%w: unknown time in force %q", ErrValidation, tif)
	}

	w := s.writer(pair.Symbol)
	if w.full() {
		return Order{}, nil, fmt.Errorf("%w: pair %s", ErrOverloaded, pair.Symbol)
	}

	reserved, currency, feeFromReserve, err := s.reservation(pair, req.Type, req.Side, qty, price)
	if err != nil {
		return Order{}, nil, err
	}

	now := time.Now().UTC()
	o := &Order{
		ID:                uuid.NewString(),
		UserID:            req.UserID,
		Symbol:            pair.Symbol,
		Type:              req.Type,
		Side:              req.Side,
		TimeInForce:       tif,
		Price:             price,
		Quantity:          qty,
		Filled:            decimal.Zero,
		QuoteFilled:       decimal.Zero,
		FeePaid:           decimal.Zero,
		Status:            StatusPending,
		ReservedCurrency:  currency,
		Reserved:          reserved,
		ReservedRemaining: reserved,
		FeeFromReserve:    feeFromReserve,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	key := ledger.Key{UserID: o.UserID, Currency: currency}
	if err := s.ledger.Freeze(key, reserved, o.ID, "order reservation"); err != nil {
		return Order{}, nil, err
	}
	s.orders.Put(o)
	s.publishOrder(o)
	if s.onRealFlow != nil {
		s.onRealFlow(pair.Symbol)
	}

	deadline := req.Deadline
	if deadline <= 0 {
		deadline = defaultSubmitTimeout
	}
	reply, err := w.run(job{kind: jobMatch, order: o}, deadline)
	if err != nil {
		// Writer saturated after admission: unwind the reservation.
		s.ledger.Unfreeze(key, reserved, o.ID, "submit timed out")
		o.Status = StatusRejected
		o.ReservedRemaining = decimal.Zero
		o.UpdatedAt = time.Now().UTC()
		s.orders.Save(o)
		s.publishOrder(o)
		return *o, nil, err
	}
	return *o, reply.result, reply.err
}

// reservation computes the amount and currency to freeze for an order, and
// whether fees settle out of the frozen amount.
func (s *Service) reservation(pair market.Pair, typ OrderType, side Side,
	qty, price decimal.Decimal) (decimal.Decimal, string, bool, error) {

	switch {
	case typ == OrderTypeLimit && side == SideBuy:
		return qty.Mul(price).Round(market.MoneyScale), pair.Quote, false, nil

	case typ == OrderTypeLimit && side == SideSell:
		return qty, pair.Base, false, nil

	case typ == OrderTypeMarket && side == SideBuy:
		best, ok := s.engine.BestAsk(pair.Symbol)
		if !ok {
			return decimal.Zero, "", false, fmt.Errorf("%w: no asks on %s", ErrNoLiquidity, pair.Symbol)
		}
		bound := qty.Mul(best).Mul(decimal.NewFromInt(1).Add(s.slippageCap)).Round(market.MoneyScale)
		return bound, pair.Quote, true, nil

	default: // market sell
		if _, ok := s.engine.BestBid(pair.Symbol); !ok {
			return decimal.Zero, "", false, fmt.Errorf("%w: no bids on %s", ErrNoLiquidity, pair.Symbol)
		}
		return qty, pair.Base, false, nil
	}
}

// Cancel terminates an active order. Idempotent: cancelling a terminal
// order returns its current state unchanged.
func (s *Service) Cancel(userID, orderID string) (Order, error) {
	o, err := s.orders.Get(orderID)
	if err != nil {
		return Order{}, err
	}
	if o.UserID != userID {
		return Order{}, fmt.Errorf("%w: order %s", ErrForbidden, orderID)
	}
	if o.Status.Terminal() {
		return *o, nil
	}

	w := s.writer(o.Symbol)
	reply, err := w.run(job{kind: jobCancel, order: o}, defaultSubmitTimeout)
	if err != nil {
		return Order{}, err
	}
	return *o, reply.err
}

// Get returns an order with an ownership check.
func (s *Service) Get(userID, orderID string) (Order, error) {
	o, err := s.orders.Get(orderID)
	if err != nil {
		return Order{}, err
	}
	if o.UserID != userID {
		return Order{}, fmt.Errorf("%w: order %s", ErrForbidden, orderID)
	}
	return *o, nil
}

func (s *Service) publishOrder(o *Order) {
	if s.events != nil {
		s.events.Publish(bus.UserOrders(o.UserID), "order_update", *o)
	}
}

// Close stops all pair writers.
func (s *Service) Close() {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	for _, w := range s.writers {
		w.stop()
	}
}
