package trading

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/openalpha/spot-exchange/orderbook"
)

// Side aliases the book side so callers deal with one type.
type Side = orderbook.Side

const (
	SideBuy  = orderbook.SideBuy
	SideSell = orderbook.SideSell
)

// OrderType enumerates supported order types. Stop variants are accepted by
// the enum but rejected on submit until a trigger component exists.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// Matchable reports whether the engine can process this type.
func (t OrderType) Matchable() bool {
	return t == OrderTypeMarket || t == OrderTypeLimit
}

// TimeInForce controls remainder handling for limit orders.
type TimeInForce string

const (
	TifGTC TimeInForce = "GTC"
	TifIOC TimeInForce = "IOC"
	TifFOK TimeInForce = "FOK"
)

// Status is an order's lifecycle state. Terminal statuses are permanent.
type Status string

const (
	StatusPending       Status = "pending"
	StatusPartialFilled Status = "partial_filled"
	StatusFilled        Status = "filled"
	StatusCancelled     Status = "cancelled"
	StatusRejected      Status = "rejected"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// Active reports whether the order can still match or be cancelled.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusPartialFilled
}

// Order is the authoritative record of one submission. The pair writer is
// the sole mutator after admission; everyone else reads copies.
type Order struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Symbol      string          `json:"symbol"`
	Type        OrderType       `json:"type"`
	Side        Side            `json:"side"`
	TimeInForce TimeInForce     `json:"time_in_force"`
	Price       decimal.Decimal `json:"price"` // zero for market orders
	Quantity    decimal.Decimal `json:"quantity"`
	Filled      decimal.Decimal `json:"filled"`
	QuoteFilled decimal.Decimal `json:"quote_filled"` // sum of qty*price over fills
	FeePaid     decimal.Decimal `json:"fee_paid"`
	Status      Status          `json:"status"`

	// Reservation accounting. Reserved is the amount frozen at admission;
	// ReservedRemaining is the part still frozen. Market buys pay fees out
	// of the reservation (the slippage headroom covers them).
	ReservedCurrency  string          `json:"-"`
	Reserved          decimal.Decimal `json:"-"`
	ReservedRemaining decimal.Decimal `json:"-"`
	FeeFromReserve    bool            `json:"-"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	FilledAt  *time.Time `json:"filled_at,omitempty"`
}

// Remaining is the unfilled base quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

// AvgFillPrice is quote filled over base filled, zero before the first fill.
func (o *Order) AvgFillPrice() decimal.Decimal {
	if !o.Filled.IsPositive() {
		return decimal.Zero
	}
	return o.QuoteFilled.Div(o.Filled)
}

// ApplyFill records a fill of qty at price.
func (o *Order) ApplyFill(qty, price decimal.Decimal, at time.Time) {
	o.Filled = o.Filled.Add(qty)
	o.QuoteFilled = o.QuoteFilled.Add(qty.Mul(price))
	o.UpdatedAt = at
	if o.Remaining().IsPositive() {
		o.Status = StatusPartialFilled
	} else {
		o.Status = StatusFilled
		o.FilledAt = &at
	}
}

// Trade is one immutable execution. Price is the resting order's price;
// price improvement goes to the aggressor.
type Trade struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Value       decimal.Decimal `json:"value"`
	BuyOrderID  string          `json:"buy_order_id"`
	SellOrderID string          `json:"sell_order_id"`
	BuyerID     string          `json:"buyer_id"`
	SellerID    string          `json:"seller_id"`
	BuyerFee    decimal.Decimal `json:"buyer_fee"`
	SellerFee   decimal.Decimal `json:"seller_fee"`
	TakerSide   string          `json:"taker_side"`
	CreatedAt   time.Time       `json:"created_at"`
}

// MatchResult summarizes one engine pass over an aggressor.
type MatchResult struct {
	Trades       []*Trade        `json:"trades"`
	FilledQty    decimal.Decimal `json:"filled_qty"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	RemainingQty decimal.Decimal `json:"remaining_qty"`
}

// Engine is the matching boundary the order service dispatches to. The
// implementation owns the books; all calls for one pair come from that
// pair's writer goroutine.
type Engine interface {
	// Process matches the aggressor, settles fills, rests or resolves the
	// remainder, and leaves the order in a consistent terminal or resting
	// state (reservation released where due).
	Process(order *Order) (*MatchResult, error)

	// CancelResting removes the order's remainder from the book, if resting.
	CancelResting(order *Order)

	// BestAsk/BestBid report the real top of book (synthetic depth does not
	// count). Used for market-buy reservation bounds.
	BestAsk(symbol string) (decimal.Decimal, bool)
	BestBid(symbol string) (decimal.Decimal, bool)

	// BookSnapshot returns the seq-numbered top-N view of the pair's book.
	BookSnapshot(symbol string, depth int) orderbook.Snapshot

	// BookDeltas drains the level deltas accumulated since the last drain.
	// resync means the book was rebuilt and a fresh snapshot must be
	// published instead.
	BookDeltas(symbol string) (deltas []orderbook.Delta, resync bool)
}
