package market

import (
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openalpha/spot-exchange/bus"
	"github.com/openalpha/spot-exchange/orderbook"
)

// liveSuppressTicks is how many price ticks a pair stays simulator-free
// after real order flow touches it.
const liveSuppressTicks = 10

// SimulatorOptions tunes the synthetic producer; zero values select the
// defaults (5s price ticks, 2s book refreshes, 15 levels per side).
type SimulatorOptions struct {
	PriceInterval time.Duration
	BookInterval  time.Duration
	Depth         int
	Seed          int64
}

// Simulator produces synthetic price walks and book depth for pairs with no
// real participant flow. It writes to the books and the bus directly and
// never touches the ledger.
type Simulator struct {
	registry *Registry
	data     *Data
	events   bus.Publisher
	book     func(symbol string) *orderbook.Book
	log      *zap.Logger

	priceInterval time.Duration
	bookInterval  time.Duration
	depth         int

	mu       sync.Mutex
	rng      *rand.Rand
	prices   map[string]decimal.Decimal
	suppress map[string]int

	// onTick is a metrics hook, called once per producer tick with
	// "price" or "book".
	onTick func(kind string)

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewSimulator(registry *Registry, data *Data, events bus.Publisher,
	book func(symbol string) *orderbook.Book, log *zap.Logger, opts SimulatorOptions) *Simulator {

	if log == nil {
		log = zap.NewNop()
	}
	if opts.PriceInterval <= 0 {
		opts.PriceInterval = 5 * time.Second
	}
	if opts.BookInterval <= 0 {
		opts.BookInterval = 2 * time.Second
	}
	if opts.Depth <= 0 {
		opts.Depth = 15
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	return &Simulator{
		registry:      registry,
		data:          data,
		events:        events,
		book:          book,
		log:           log,
		priceInterval: opts.PriceInterval,
		bookInterval:  opts.BookInterval,
		depth:         opts.Depth,
		rng:           rand.New(rand.NewSource(opts.Seed)),
		prices:        make(map[string]decimal.Decimal),
		suppress:      make(map[string]int),
		quit:          make(chan struct{}),
	}
}

// Touch suppresses the simulator on a pair for the next K ticks. The order
// service calls this on every real submission.
func (s *Simulator) Touch(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppress[symbol] = liveSuppressTicks
}

// OnTick installs the metrics hook.
func (s *Simulator) OnTick(fn func(kind string)) { s.onTick = fn }

// Start launches the price and book producers.
func (s *Simulator) Start() {
	s.wg.Add(2)
	go s.loop(s.priceInterval, s.priceTick)
	go s.loop(s.bookInterval, s.bookTick)
	s.log.Info("market simulator started",
		zap.Duration("price_interval", s.priceInterval),
		zap.Duration("book_interval", s.bookInterval),
		zap.Int("depth", s.depth))
}

// Stop halts the producers and waits for them to exit.
func (s *Simulator) Stop() {
	close(s.quit)
	s.wg.Wait()
}

func (s *Simulator) loop(every time.Duration, tick func()) {
	defer s.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			tick()
		case <-s.quit:
			return
		}
	}
}

// priceTick advances every idle pair's price by a bounded random walk of
// ±0.1% and feeds the result into market data.
func (s *Simulator) priceTick() {
	if s.onTick != nil {
		s.onTick("price")
	}
	now := time.Now().UTC()
	for _, pair := range s.registry.ActivePairs() {
		s.mu.Lock()
		if n := s.suppress[pair.Symbol]; n > 0 {
			s.suppress[pair.Symbol] = n - 1
			s.mu.Unlock()
			continue
		}
		price := s.walkLocked(pair)
		qty := decimal.NewFromFloat(0.1 + s.rng.Float64()*2).Round(4)
		s.mu.Unlock()

		s.data.RecordTick(pair.Symbol, price, qty, now)
	}
}

// bookTick regenerates synthetic depth for every idle pair and publishes
// the snapshot.
func (s *Simulator) bookTick() {
	if s.onTick != nil {
		s.onTick("book")
	}
	for _, pair := range s.registry.ActivePairs() {
		s.mu.Lock()
		if s.suppress[pair.Symbol] > 0 {
			s.mu.Unlock()
			continue
		}
		price, ok := s.prices[pair.Symbol]
		if !ok {
			price = basePrice(pair.Symbol)
		}
		bids, asks := s.levelsLocked(pair, price)
		s.mu.Unlock()

		book := s.book(pair.Symbol)
		if !book.Synthetic() {
			if _, hasBid := book.BestBid(); hasBid {
				continue // real resting orders own the book now
			}
			if _, hasAsk := book.BestAsk(); hasAsk {
				continue
			}
		}
		// A synthetic reload replaces the whole book, so it goes out as a
		// full snapshot rather than a level delta.
		book.LoadSynthetic(bids, asks)
		if s.events != nil {
			s.events.Publish(bus.BookTopic(pair.Symbol), "orderbook_data",
				book.Snapshot(s.depth))
		}
	}
}

// walkLocked applies one ±0.1% step. Caller holds s.mu.
func (s *Simulator) walkLocked(pair Pair) decimal.Decimal {
	price, ok := s.prices[pair.Symbol]
	if !ok {
		price = basePrice(pair.Symbol)
	}
	drift := decimal.NewFromFloat((s.rng.Float64()*2 - 1) * 0.001)
	price = price.Mul(decimal.NewFromInt(1).Add(drift)).Round(pair.PricePrecision)
	if !price.IsPositive() {
		price = basePrice(pair.Symbol)
	}
	s.prices[pair.Symbol] = price
	return price
}

// levelsLocked builds depth levels per side around mid with a 0.05% step,
// bids below, asks above, so the synthetic book never crosses. Caller
// holds s.mu.
func (s *Simulator) levelsLocked(pair Pair, mid decimal.Decimal) (bids, asks []orderbook.Level) {
	step := decimal.NewFromFloat(0.0005)
	for i := 1; i <= s.depth; i++ {
		offset := step.Mul(decimal.NewFromInt(int64(i)))
		qty := decimal.NewFromFloat(0.1 + s.rng.Float64()*3).Round(4)
		bids = append(bids, orderbook.Level{
			Price:    mid.Mul(decimal.NewFromInt(1).Sub(offset)).Round(pair.PricePrecision),
			Quantity: qty,
			Count:    1 + s.rng.Intn(5),
		})
		qty = decimal.NewFromFloat(0.1 + s.rng.Float64()*3).Round(4)
		asks = append(asks, orderbook.Level{
			Price:    mid.Mul(decimal.NewFromInt(1).Add(offset)).Round(pair.PricePrecision),
			Quantity: qty,
			Count:    1 + s.rng.Intn(5),
		})
	}
	return bids, asks
}

// basePrice seeds the walk for known development symbols.
func basePrice(symbol string) decimal.Decimal {
	switch symbol {
	case "BTC/USDT":
		return decimal.NewFromInt(50000)
	case "ETH/USDT":
		return decimal.NewFromInt(3000)
	case "SOL/USDT":
		return decimal.NewFromInt(150)
	}
	return decimal.NewFromInt(100)
}
