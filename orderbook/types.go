package orderbook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side of the book an entry rests on.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// MarshalJSON renders the side as its string label.
func (s Side) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses the string label form.
func (s *Side) UnmarshalJSON(b []byte) error {
	var label string
	if err := json.Unmarshal(b, &label); err != nil {
		return err
	}
	v, ok := ParseSide(label)
	if !ok {
		return fmt.Errorf("unknown side %q", label)
	}
	*s = v
	return nil
}

// ParseSide maps a label to a Side.
func ParseSide(s string) (Side, bool) {
	switch s {
	case "buy":
		return SideBuy, true
	case "sell":
		return SideSell, true
	}
	return SideBuy, false
}

// Entry is one resting order's footprint in the book. The book tracks only
// what matching needs; the full order record lives in the order store.
type Entry struct {
	OrderID   string
	UserID    string
	Side      Side
	Price     decimal.Decimal
	Remaining decimal.Decimal
	CreatedAt time.Time
}

// Level is the aggregate view of one price level, as served over the API
// and the websocket feed. Count is the number of resting orders at the
// level.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Count    int             `json:"count"`
}

// Delta describes one price level after a mutation: the new aggregate
// quantity and order count, zero when the level is gone. Seq orders deltas
// against snapshots of the same book.
type Delta struct {
	Symbol   string          `json:"symbol"`
	Seq      uint64          `json:"seq"`
	Side     Side            `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Count    int             `json:"count"`
}

// Snapshot is a sequence-numbered top-of-book view. Seq increases on every
// book mutation, so consumers can discard deltas older than the snapshot
// they joined with.
type Snapshot struct {
	Symbol    string    `json:"symbol"`
	Seq       uint64    `json:"seq"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
	Timestamp time.Time `json:"timestamp"`
}
