package market

import (
	"sync"
	"time"

	"github.com/huandu/skiplist"
	"github.com/shopspring/decimal"
)

// Interval is a candle duration.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

// Intervals lists the supported candle durations.
var Intervals = []Interval{Interval1m, Interval5m, Interval15m, Interval1h, Interval4h, Interval1d}

// Duration returns the interval length, or false for an unknown interval.
func (i Interval) Duration() (time.Duration, bool) {
	switch i {
	case Interval1m:
		return time.Minute, true
	case Interval5m:
		return 5 * time.Minute, true
	case Interval15m:
		return 15 * time.Minute, true
	case Interval1h:
		return time.Hour, true
	case Interval4h:
		return 4 * time.Hour, true
	case Interval1d:
		return 24 * time.Hour, true
	}
	return 0, false
}

// Kline is one OHLCV candle.
type Kline struct {
	Symbol   string          `json:"symbol"`
	Interval Interval        `json:"interval"`
	Start    time.Time       `json:"start"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
}

func (k *Kline) update(price, qty decimal.Decimal) {
	if price.GreaterThan(k.High) {
		k.High = price
	}
	if price.LessThan(k.Low) {
		k.Low = price
	}
	k.Close = price
	k.Volume = k.Volume.Add(qty)
}

// KlineStore keeps one time-indexed skip list of candles per (symbol,
// interval). Skip lists give ordered range reads for the REST kline
// endpoint without re-sorting.
type KlineStore struct {
	mu     sync.RWMutex
	series map[string]*skiplist.SkipList // key: symbol + "|" + interval
}

func NewKlineStore() *KlineStore {
	return &KlineStore{series: make(map[string]*skiplist.SkipList)}
}

func seriesKey(symbol string, iv Interval) string {
	return symbol + "|" + string(iv)
}

// Update folds one price/volume observation into every interval's candle.
func (s *KlineStore) Update(symbol string, price, qty decimal.Decimal, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, iv := range Intervals {
		d, _ := iv.Duration()
		start := ts.UTC().Truncate(d)

		list, ok := s.series[seriesKey(symbol, iv)]
		if !ok {
			list = skiplist.New(skiplist.Int64)
			s.series[seriesKey(symbol, iv)] = list
		}

		key := start.Unix()
		if elem := list.Get(key); elem != nil {
			elem.Value.(*Kline).update(price, qty)
			continue
		}
		list.Set(key, &Kline{
			Symbol:   symbol,
			Interval: iv,
			Start:    start,
			Open:     price,
			High:     price,
			Low:      price,
			Close:    price,
			Volume:   qty,
		})
	}
}

// Recent returns up to limit candles for the series, oldest first.
func (s *KlineStore) Recent(symbol string, iv Interval, limit int) []Kline {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, ok := s.series[seriesKey(symbol, iv)]
	if !ok {
		return nil
	}
	if limit <= 0 || limit > list.Len() {
		limit = list.Len()
	}

	out := make([]Kline, 0, limit)
	elem := list.Back()
	for elem != nil && len(out) < limit {
		out = append(out, *elem.Value.(*Kline))
		elem = elem.Prev()
	}
	// Collected newest-first; flip.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
