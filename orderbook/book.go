// Package orderbook keeps one B-tree per book side with FIFO order queues
// inside each price level. All operations are O(log n) in the number of
// levels; iteration is best-first (descending bids, ascending asks).
package orderbook

import (
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

const btreeDegree = 32

// priceLevel holds the FIFO queue of entries resting at one price.
// Synthetic levels (simulator depth) carry quantity and a display count
// with no queue.
type priceLevel struct {
	price    decimal.Decimal
	quantity decimal.Decimal
	count    int // synthetic levels only; real levels count entries
	entries  []*Entry
}

func (pl *priceLevel) add(e *Entry) {
	pl.entries = append(pl.entries, e)
	pl.quantity = pl.quantity.Add(e.Remaining)
}

func (pl *priceLevel) orderCount() int {
	if len(pl.entries) > 0 {
		return len(pl.entries)
	}
	return pl.count
}

func (pl *priceLevel) remove(orderID string) *Entry {
	for i, e := range pl.entries {
		if e.OrderID == orderID {
			pl.entries = append(pl.entries[:i], pl.entries[i+1:]...)
			pl.quantity = pl.quantity.Sub(e.Remaining)
			return e
		}
	}
	return nil
}

func (pl *priceLevel) empty() bool {
	return len(pl.entries) == 0 && !pl.quantity.IsPositive()
}

// priceLevelItem adapts a level to btree.Item, ascending by price.
type priceLevelItem struct {
	price decimal.Decimal
	level *priceLevel
}

func (a *priceLevelItem) Less(b btree.Item) bool {
	return a.price.LessThan(b.(*priceLevelItem).price)
}

type treeSide struct {
	tree *btree.BTree
	desc bool // bids iterate descending, asks ascending
}

func newTreeSide(desc bool) *treeSide {
	return &treeSide{tree: btree.New(btreeDegree), desc: desc}
}

func (s *treeSide) get(price decimal.Decimal) *priceLevel {
	item := s.tree.Get(&priceLevelItem{price: price})
	if item == nil {
		return nil
	}
	return item.(*priceLevelItem).level
}

func (s *treeSide) getOrCreate(price decimal.Decimal) *priceLevel {
	if pl := s.get(price); pl != nil {
		return pl
	}
	pl := &priceLevel{price: price, quantity: decimal.Zero}
	s.tree.ReplaceOrInsert(&priceLevelItem{price: price, level: pl})
	return pl
}

func (s *treeSide) remove(price decimal.Decimal) {
	s.tree.Delete(&priceLevelItem{price: price})
}

func (s *treeSide) best() *priceLevel {
	var item btree.Item
	if s.desc {
		item = s.tree.Max()
	} else {
		item = s.tree.Min()
	}
	if item == nil {
		return nil
	}
	return item.(*priceLevelItem).level
}

// iterate visits levels best-first until fn returns false.
func (s *treeSide) iterate(fn func(*priceLevel) bool) {
	wrap := func(item btree.Item) bool {
		return fn(item.(*priceLevelItem).level)
	}
	if s.desc {
		s.tree.Descend(wrap)
	} else {
		s.tree.Ascend(wrap)
	}
}

// Book is one trading pair's order book.
type Book struct {
	mu     sync.RWMutex
	symbol string
	bids   *treeSide
	asks   *treeSide
	seq    uint64

	// synthetic marks a book whose levels came from the simulator rather
	// than from resting orders. A live order clears synthetic depth first.
	synthetic bool

	// pending accumulates level deltas between drains. resync is set when
	// the whole book was replaced and consumers need a fresh snapshot.
	pending []Delta
	resync  bool
}

func New(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids:   newTreeSide(true),
		asks:   newTreeSide(false),
	}
}

func (b *Book) Symbol() string { return b.symbol }

func (b *Book) side(s Side) *treeSide {
	if s == SideBuy {
		return b.bids
	}
	return b.asks
}

// Synthetic reports whether the current depth is simulator-generated.
func (b *Book) Synthetic() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.synthetic
}

// recordLocked appends a delta describing the level's state after a
// mutation. Gone levels report zero quantity and count.
func (b *Book) recordLocked(side Side, price decimal.Decimal) {
	d := Delta{Symbol: b.symbol, Seq: b.seq, Side: side, Price: price, Quantity: decimal.Zero}
	if pl := b.side(side).get(price); pl != nil {
		d.Quantity = pl.quantity
		d.Count = pl.orderCount()
	}
	b.pending = append(b.pending, d)
}

// Add rests an entry at its price. Synthetic depth is discarded when the
// first real order arrives.
func (b *Book) Add(e *Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.synthetic {
		b.clearLocked()
	}
	b.side(e.Side).getOrCreate(e.Price).add(e)
	b.seq++
	b.recordLocked(e.Side, e.Price)
}

// Remove takes an entry out of the book. Returns nil if the entry is not
// resting (already filled, never booked).
func (b *Book) Remove(orderID string, side Side, price decimal.Decimal) *Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.side(side)
	pl := s.get(price)
	if pl == nil {
		return nil
	}
	e := pl.remove(orderID)
	if e != nil {
		if pl.empty() {
			s.remove(price)
		}
		b.seq++
		b.recordLocked(side, price)
	}
	return e
}

// Reduce shrinks a resting entry after a partial fill and drops it when its
// remainder reaches zero.
func (b *Book) Reduce(e *Entry, qty decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.side(e.Side)
	pl := s.get(e.Price)
	if pl == nil {
		return
	}
	e.Remaining = e.Remaining.Sub(qty)
	pl.quantity = pl.quantity.Sub(qty)
	if !e.Remaining.IsPositive() {
		pl.remove(e.OrderID)
	}
	if pl.empty() {
		s.remove(e.Price)
	}
	b.seq++
	b.recordLocked(e.Side, e.Price)
}

// BestBid returns the highest bid, or false on an empty side. Synthetic
// levels count; matching never runs against them because real flow clears
// them first.
func (b *Book) BestBid() (Level, bool) { return b.bestOf(SideBuy) }

// BestAsk returns the lowest ask, or false on an empty side.
func (b *Book) BestAsk() (Level, bool) { return b.bestOf(SideSell) }

func (b *Book) bestOf(side Side) (Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pl := b.side(side).best()
	if pl == nil {
		return Level{}, false
	}
	return Level{Price: pl.price, Quantity: pl.quantity, Count: pl.orderCount()}, true
}

// Walk visits resting entries on one side, best price first and FIFO within
// each level, until fn returns false. Callers mutate the book through
// Reduce/Remove only, never during the walk; collect first, then act.
func (b *Book) Walk(side Side, fn func(e *Entry) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.side(side).iterate(func(pl *priceLevel) bool {
		for _, e := range pl.entries {
			if !fn(e) {
				return false
			}
		}
		return true
	})
}

// Snapshot returns the top depth levels of both sides with the current
// sequence number.
func (b *Book) Snapshot(depth int) Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := Snapshot{
		Symbol:    b.symbol,
		Seq:       b.seq,
		Bids:      make([]Level, 0, depth),
		Asks:      make([]Level, 0, depth),
		Timestamp: time.Now().UTC(),
	}
	collect := func(dst *[]Level) func(*priceLevel) bool {
		return func(pl *priceLevel) bool {
			if len(*dst) >= depth {
				return false
			}
			*dst = append(*dst, Level{Price: pl.price, Quantity: pl.quantity, Count: pl.orderCount()})
			return true
		}
	}
	b.bids.iterate(collect(&snap.Bids))
	b.asks.iterate(collect(&snap.Asks))
	return snap
}

// Seq returns the current mutation sequence number.
func (b *Book) Seq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// Depth reports the number of price levels per side.
func (b *Book) Depth() (bidLevels, askLevels int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.tree.Len(), b.asks.tree.Len()
}

// LoadSynthetic replaces the whole book with simulator-generated aggregate
// levels. No-op markers: the loaded levels carry no order queues, so they
// can never be matched or cancelled, only displayed.
func (b *Book) LoadSynthetic(bids, asks []Level) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.clearLocked()
	b.synthetic = true
	for _, lv := range bids {
		pl := b.bids.getOrCreate(lv.Price)
		pl.quantity = lv.Quantity
		pl.count = max(lv.Count, 1)
	}
	for _, lv := range asks {
		pl := b.asks.getOrCreate(lv.Price)
		pl.quantity = lv.Quantity
		pl.count = max(lv.Count, 1)
	}
	b.seq++
}

// Clear removes all levels.
func (b *Book) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearLocked()
	b.seq++
}

func (b *Book) clearLocked() {
	b.bids = newTreeSide(true)
	b.asks = newTreeSide(false)
	b.synthetic = false
	b.pending = nil
	b.resync = true
}

// DrainDeltas returns the level deltas accumulated since the previous
// drain, in mutation order. resync reports that the book was rebuilt in
// between (synthetic reload, clear) and consumers should take a fresh
// snapshot instead of applying deltas.
func (b *Book) DrainDeltas() (deltas []Delta, resync bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	deltas, resync = b.pending, b.resync
	b.pending = nil
	b.resync = false
	return deltas, resync
}
