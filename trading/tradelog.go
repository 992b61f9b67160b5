package trading

import (
	"sync"
)

// tradeLogCap bounds the in-memory per-symbol history; older trades live
// only in the durable store.
const tradeLogCap = 1000

// TradeLog keeps recent executions per symbol and per user.
type TradeLog struct {
	mu       sync.RWMutex
	bySymbol map[string][]*Trade
	byUser   map[string][]*Trade
	archive  func(Trade)
}

func NewTradeLog() *TradeLog {
	return &TradeLog{
		bySymbol: make(map[string][]*Trade),
		byUser:   make(map[string][]*Trade),
	}
}

// SetArchive installs the durable-store mirror.
func (l *TradeLog) SetArchive(fn func(Trade)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.archive = fn
}

// Add appends a trade.
func (l *TradeLog) Add(t *Trade) {
	l.mu.Lock()
	l.bySymbol[t.Symbol] = capped(append(l.bySymbol[t.Symbol], t))
	l.byUser[t.BuyerID] = capped(append(l.byUser[t.BuyerID], t))
	if t.SellerID != t.BuyerID {
		l.byUser[t.SellerID] = capped(append(l.byUser[t.SellerID], t))
	}
	archive := l.archive
	l.mu.Unlock()

	if archive != nil {
		archive(*t)
	}
}

func capped(ts []*Trade) []*Trade {
	if len(ts) > tradeLogCap {
		return ts[len(ts)-tradeLogCap:]
	}
	return ts
}

// Recent returns up to n trades for a symbol, newest first.
func (l *TradeLog) Recent(symbol string, n int) []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return newestFirst(l.bySymbol[symbol], n)
}

// ForUser returns up to n of the user's trades, newest first.
func (l *TradeLog) ForUser(userID string, n int) []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return newestFirst(l.byUser[userID], n)
}

func newestFirst(ts []*Trade, n int) []Trade {
	if n <= 0 || n > len(ts) {
		n = len(ts)
	}
	out := make([]Trade, 0, n)
	for i := len(ts) - 1; i >= len(ts)-n; i-- {
		out = append(out, *ts[i])
	}
	return out
}
