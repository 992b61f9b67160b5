package orderbook

import (
	"strconv"
	"testing"
	"time"

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

func entry(id string, side Side, price, qty string) *Entry {
	return &Entry{
		OrderID:   id,
		UserID:    "u-" + id,
		Side:      side,
		Price:     d(price),
		Remaining: d(qty),
		CreatedAt: time.Now(),
	}
}

func TestBestBidAskOrdering(t *testing.T) {
	b := New("BTC/USDT")
	b.Add(entry("b1", SideBuy, "49900", "1"))
	b.Add(entry("b2", SideBuy, "50000", "2"))
	b.Add(entry("b3", SideBuy, "49800", "3"))
	b.Add(entry("a1", SideSell, "50100", "1"))
	b.Add(entry("a2", SideSell, "50050", "2"))

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(d("50000")))

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Price.Equal(d("50050")))
}

func TestWalkBestFirstFIFO(t *testing.T) {
	b := New("BTC/USDT")
	first := entry("a1", SideSell, "50000", "1")
	b.Add(first)
	b.Add(entry("a2", SideSell, "50000", "1"))
	b.Add(entry("a3", SideSell, "49990", "1"))

	var got []string
	b.Walk(SideSell, func(e *Entry) bool {
		got = append(got, e.OrderID)
		return true
	})
	// Better price first, then arrival order within the level.
	assert.Equal(t, []string{"a3", "a1", "a2"}, got)
}

func TestReduceDropsFilledEntryAndEmptyLevel(t *testing.T) {
	b := New("ETH/USDT")
	e := entry("a1", SideSell, "3000", "2")
	b.Add(e)

	b.Reduce(e, d("0.5"))
	lv, ok := b.BestAsk()
	require.True(t, ok)
	assert.True(t, lv.Quantity.Equal(d("1.5")))

	b.Reduce(e, d("1.5"))
	_, ok = b.BestAsk()
	assert.False(t, ok, "empty level removed")

	_, asks := b.Depth()
	assert.Zero(t, asks)
}

func TestRemoveUnknownOrderReturnsNil(t *testing.T) {
	b := New("ETH/USDT")
	b.Add(entry("b1", SideBuy, "3000", "1"))
	assert.Nil(t, b.Remove("nope", SideBuy, d("3000")))
	assert.Nil(t, b.Remove("b1", SideBuy, d("2999")))
	assert.NotNil(t, b.Remove("b1", SideBuy, d("3000")))
}

func TestSnapshotDepthAndSeq(t *testing.T) {
	b := New("BTC/USDT")
	for i := 0; i < 20; i++ {
		price := decimal.NewFromInt(int64(50000 - i*10))
		b.Add(&Entry{OrderID: "b" + price.String(), Side: SideBuy, Price: price, Remaining: d("1")})
	}
	seqBefore := b.Seq()

	snap := b.Snapshot(15)
	assert.Len(t, snap.Bids, 15)
	assert.Empty(t, snap.Asks)
	assert.Equal(t, seqBefore, snap.Seq)
	// Bids descend.
	assert.True(t, snap.Bids[0].Price.GreaterThan(snap.Bids[14].Price))

	b.Add(entry("a1", SideSell, "50100", "1"))
	assert.Greater(t, b.Snapshot(1).Seq, seqBefore)
}

func TestLevelCountTracksRestingOrders(t *testing.T) {
	b := New("BTC/USDT")
	e1 := entry("a1", SideSell, "50000", "1")
	b.Add(e1)
	b.Add(entry("a2", SideSell, "50000", "2"))

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, 2, ask.Count)
	assert.True(t, ask.Quantity.Equal(d("3")))

	b.Reduce(e1, d("1"))
	ask, ok = b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, 1, ask.Count)

	snap := b.Snapshot(5)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, 1, snap.Asks[0].Count)
}

func TestDeltasFollowMutations(t *testing.T) {
	b := New("BTC/USDT")
	b.DrainDeltas() // discard nothing, establishes a clean slate

	e1 := entry("a1", SideSell, "50000", "1")
	b.Add(e1)
	b.Add(entry("a2", SideSell, "50000", "2"))
	b.Reduce(e1, d("1"))

	deltas, resync := b.DrainDeltas()
	assert.False(t, resync)
	require.Len(t, deltas, 3)

	assert.True(t, deltas[0].Quantity.Equal(d("1")))
	assert.Equal(t, 1, deltas[0].Count)
	assert.True(t, deltas[1].Quantity.Equal(d("3")))
	assert.Equal(t, 2, deltas[1].Count)
	assert.True(t, deltas[2].Quantity.Equal(d("2")))
	assert.Equal(t, 1, deltas[2].Count)
	assert.Equal(t, SideSell, deltas[2].Side)
	assert.Greater(t, deltas[2].Seq, deltas[0].Seq)

	// Removing the last entry reports the level as gone.
	b.Remove("a2", SideSell, d("50000"))
	deltas, resync = b.DrainDeltas()
	assert.False(t, resync)
	require.Len(t, deltas, 1)
	assert.True(t, deltas[0].Quantity.IsZero())
	assert.Zero(t, deltas[0].Count)

	// Drained means drained.
	deltas, _ = b.DrainDeltas()
	assert.Empty(t, deltas)
}

func TestRebuildSignalsResync(t *testing.T) {
	b := New("BTC/USDT")
	b.Add(entry("b1", SideBuy, "49000", "1"))
	b.LoadSynthetic(
		[]Level{{Price: d("49990"), Quantity: d("3"), Count: 2}},
		[]Level{{Price: d("50010"), Quantity: d("2")}},
	)

	deltas, resync := b.DrainDeltas()
	assert.True(t, resync, "synthetic reload replaces the book")
	assert.Empty(t, deltas, "pre-rebuild deltas are stale")

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, 2, bid.Count)
	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, 1, ask.Count, "synthetic count floors at one")

	// The first real order clears synthetic depth: resync again, plus the
	// delta for the new entry.
	b.Add(entry("b2", SideBuy, "49100", "1"))
	deltas, resync = b.DrainDeltas()
	assert.True(t, resync)
	require.Len(t, deltas, 1)
	assert.True(t, deltas[0].Price.Equal(d("49100")))
}

func TestSyntheticDepthClearedByRealOrder(t *testing.T) {
	b := New("BTC/USDT")
	b.LoadSynthetic(
		[]Level{{Price: d("49990"), Quantity: d("3")}},
		[]Level{{Price: d("50010"), Quantity: d("2")}},
	)
	require.True(t, b.Synthetic())
	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Price.Equal(d("50010")))

	b.Add(entry("b1", SideBuy, "49000", "1"))
	assert.False(t, b.Synthetic())
	_, ok = b.BestAsk()
	assert.False(t, ok, "synthetic asks discarded with the rest")
	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(d("49000")))
}

func BenchmarkBookAdd(b *testing.B) {
	book := New("BTC/USDT")
	base := decimal.NewFromInt(50000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		side := SideBuy
		price := base.Sub(decimal.NewFromInt(int64(i%1000 + 1)))
		if i%2 == 0 {
			side = SideSell
			price = base.Add(decimal.NewFromInt(int64(i%1000 + 1)))
		}
		book.Add(&Entry{
			OrderID:   strconv.Itoa(i),
			Side:      side,
			Price:     price,
			Remaining: decimal.NewFromInt(1),
		})
	}
}

func BenchmarkBookRemove(b *testing.B) {
	book := New("BTC/USDT")
	base := decimal.NewFromInt(50000)
	entries := make([]*Entry, b.N)
	for i := 0; i < b.N; i++ {
		entries[i] = &Entry{
			OrderID:   strconv.Itoa(i),
			Side:      SideBuy,
			Price:     base.Sub(decimal.NewFromInt(int64(i%1000 + 1))),
			Remaining: decimal.NewFromInt(1),
		}
		book.Add(entries[i])
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		book.Remove(entries[i].OrderID, entries[i].Side, entries[i].Price)
	}
}

func BenchmarkBookBestBid(b *testing.B) {
	book := New("BTC/USDT")
	base := decimal.NewFromInt(50000)
	for i := 0; i < 10000; i++ {
		book.Add(&Entry{
			OrderID:   strconv.Itoa(i),
			Side:      SideBuy,
			Price:     base.Sub(decimal.NewFromInt(int64(i%1000 + 1))),
			Remaining: decimal.NewFromInt(1),
		})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = book.BestBid()
	}
}
