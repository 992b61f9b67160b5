package market

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openalpha/spot-exchange/bus"
)

// Ticker is the rolling 24h market-data snapshot for one pair.
type Ticker struct {
	Symbol           string          `json:"symbol"`
	Price            decimal.Decimal `json:"price"`
	Change24h        decimal.Decimal `json:"change_24h"`
	ChangePercent24h decimal.Decimal `json:"change_percent_24h"`
	Volume24h        decimal.Decimal `json:"volume_24h"`
	High24h          decimal.Decimal `json:"high_24h"`
	Low24h           decimal.Decimal `json:"low_24h"`
	Timestamp        time.Time       `json:"timestamp"`
}

type pricePoint struct {
	ts    time.Time
	price decimal.Decimal
	qty   decimal.Decimal
}

// Data aggregates trades and simulator ticks into tickers and klines, and
// publishes price updates on the bus. Both the matching engine and the
// simulator feed it; subscribers cannot tell the producers apart.
type Data struct {
	mu     sync.Mutex
	window map[string][]pricePoint
	klines *KlineStore
	events bus.Publisher
}

func NewData(klines *KlineStore, events bus.Publisher) *Data {
	return &Data{
		window: make(map[string][]pricePoint),
		klines: klines,
		events: events,
	}
}

// RecordTrade folds a real execution into the snapshot and candles.
func (d *Data) RecordTrade(symbol string, price, qty decimal.Decimal, ts time.Time) {
	d.record(symbol, price, qty, ts)
}

// RecordTick folds a synthetic simulator tick into the snapshot and candles.
func (d *Data) RecordTick(symbol string, price, qty decimal.Decimal, ts time.Time) {
	d.record(symbol, price, qty, ts)
}

func (d *Data) record(symbol string, price, qty decimal.Decimal, ts time.Time) {
	d.mu.Lock()
	pts := append(d.window[symbol], pricePoint{ts: ts, price: price, qty: qty})
	cutoff := ts.Add(-24 * time.Hour)
	for len(pts) > 0 && pts[0].ts.Before(cutoff) {
		pts = pts[1:]
	}
	d.window[symbol] = pts
	ticker := d.tickerLocked(symbol)
	d.mu.Unlock()

	if d.klines != nil {
		d.klines.Update(symbol, price, qty, ts)
	}
	if d.events != nil {
		d.events.Publish(bus.PriceTopic(symbol), "price_update", ticker)
	}
}

// Snapshot returns the pair's current ticker, or false when the pair has
// never traded or ticked.
func (d *Data) Snapshot(symbol string) (Ticker, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.window[symbol]) == 0 {
		return Ticker{}, false
	}
	return d.tickerLocked(symbol), true
}

func (d *Data) tickerLocked(symbol string) Ticker {
	pts := d.window[symbol]
	last := pts[len(pts)-1]
	t := Ticker{
		Symbol:    symbol,
		Price:     last.price,
		High24h:   last.price,
		Low24h:    last.price,
		Volume24h: decimal.Zero,
		Timestamp: last.ts,
	}
	open := pts[0].price
	for _, p := range pts {
		if p.price.GreaterThan(t.High24h) {
			t.High24h = p.price
		}
		if p.price.LessThan(t.Low24h) {
			t.Low24h = p.price
		}
		t.Volume24h = t.Volume24h.Add(p.qty)
	}
	t.Change24h = last.price.Sub(open)
	if open.IsPositive() {
		t.ChangePercent24h = t.Change24h.Div(open).Mul(decimal.NewFromInt(100)).Round(4)
	}
	return t
}
