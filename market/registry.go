// Package market holds the reference data (currencies, trading pairs), the
// live market-data snapshots, the kline store, and the background simulator
// that keeps idle pairs moving.
package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyScale is the storage precision of monetary columns, regardless of a
// pair's display precision.
const MoneyScale int32 = 8

// MarketType separates matched spot pairs from recorded-only futures.
type MarketType string

const (
	TypeSpot    MarketType = "spot"
	TypeFutures MarketType = "futures"
)

// PairStatus gates order admission.
type PairStatus string

const (
	StatusActive      PairStatus = "active"
	StatusInactive    PairStatus = "inactive"
	StatusMaintenance PairStatus = "maintenance"
)

// Currency is immutable reference data.
type Currency struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Precision int32  `json:"precision"`
	Active    bool   `json:"active"`
}

// Pair describes one trading pair.
type Pair struct {
	Symbol            string          `json:"symbol"`
	Base              string          `json:"base"`
	Quote             string          `json:"quote"`
	Type              MarketType      `json:"market_type"`
	Status            PairStatus      `json:"status"`
	MinOrderSize      decimal.Decimal `json:"min_order_size"`
	MaxOrderSize      decimal.Decimal `json:"max_order_size"`
	PricePrecision    int32           `json:"price_precision"`
	QuantityPrecision int32           `json:"quantity_precision"`
	MakerFeeRate      decimal.Decimal `json:"maker_fee_rate"`
	TakerFeeRate      decimal.Decimal `json:"taker_fee_rate"`
}

// Tradable reports whether the pair accepts matched orders.
func (p Pair) Tradable() bool {
	return p.Type == TypeSpot && p.Status == StatusActive
}

// Registry is the read-mostly set of currencies and pairs. Reference data
// is loaded at startup and never mutated afterwards, so no lock is needed.
type Registry struct {
	currencies map[string]Currency
	pairs      map[string]Pair
	order      []string // insertion order for stable listings
}

func NewRegistry() *Registry {
	return &Registry{
		currencies: make(map[string]Currency),
		pairs:      make(map[string]Pair),
	}
}

// AddCurrency registers a currency; base ≠ quote is checked on AddPair.
func (r *Registry) AddCurrency(c Currency) {
	r.currencies[c.Code] = c
}

// AddPair registers a pair and derives the composite symbol if unset.
func (r *Registry) AddPair(p Pair) error {
	if p.Base == p.Quote {
		return fmt.Errorf("pair base and quote must differ: %s", p.Base)
	}
	if _, ok := r.currencies[p.Base]; !ok {
		return fmt.Errorf("unknown base currency %s", p.Base)
	}
	if _, ok := r.currencies[p.Quote]; !ok {
		return fmt.Errorf("unknown quote currency %s", p.Quote)
	}
	if p.Symbol == "" {
		p.Symbol = p.Base + "/" + p.Quote
	}
	r.pairs[p.Symbol] = p
	r.order = append(r.order, p.Symbol)
	return nil
}

// Pair looks up a pair by composite symbol.
func (r *Registry) Pair(symbol string) (Pair, bool) {
	p, ok := r.pairs[symbol]
	return p, ok
}

// Currency looks up a currency by code.
func (r *Registry) Currency(code string) (Currency, bool) {
	c, ok := r.currencies[code]
	return c, ok
}

// ActivePairs lists tradable spot pairs in registration order.
func (r *Registry) ActivePairs() []Pair {
	out := make([]Pair, 0, len(r.order))
	for _, sym := range r.order {
		if p := r.pairs[sym]; p.Tradable() {
			out = append(out, p)
		}
	}
	return out
}

// AllPairs lists every pair, futures included.
func (r *Registry) AllPairs() []Pair {
	out := make([]Pair, 0, len(r.order))
	for _, sym := range r.order {
		out = append(out, r.pairs[sym])
	}
	return out
}

// CurrencyCodes lists all registered currency codes.
func (r *Registry) CurrencyCodes() []string {
	out := make([]string, 0, len(r.currencies))
	for _, sym := range r.order {
		p := r.pairs[sym]
		out = appendUnique(out, p.Base)
		out = appendUnique(out, p.Quote)
	}
	for code := range r.currencies {
		out = appendUnique(out, code)
	}
	return out
}

func appendUnique(ss []string, s string) []string {
	for _, v := range ss {
		if v == s {
			return ss
		}
	}
	return append(ss, s)
}

// SeedDefaults loads the development currency and pair set.
func (r *Registry) SeedDefaults() {
	d := func(s string) decimal.Decimal { v, _ := decimal.NewFromString(s); return v }

	for _, c := range []Currency{
		{Code: "BTC", Name: "Bitcoin", Precision: 8, Active: true},
		{Code: "ETH", Name: "Ethereum", Precision: 8, Active: true},
		{Code: "SOL", Name: "Solana", Precision: 8, Active: true},
		{Code: "USDT", Name: "Tether", Precision: 8, Active: true},
	} {
		r.AddCurrency(c)
	}

	fee := d("0.001")
	for _, p := range []Pair{
		{Base: "BTC", Quote: "USDT", Type: TypeSpot, Status: StatusActive,
			MinOrderSize: d("0.0001"), MaxOrderSize: d("1000"),
			PricePrecision: 2, QuantityPrecision: 8, MakerFeeRate: fee, TakerFeeRate: fee},
		{Base: "ETH", Quote: "USDT", Type: TypeSpot, Status: StatusActive,
			MinOrderSize: d("0.001"), MaxOrderSize: d("10000"),
			PricePrecision: 2, QuantityPrecision: 8, MakerFeeRate: fee, TakerFeeRate: fee},
		{Base: "SOL", Quote: "USDT", Type: TypeSpot, Status: StatusActive,
			MinOrderSize: d("0.01"), MaxOrderSize: d("100000"),
			PricePrecision: 3, QuantityPrecision: 8, MakerFeeRate: fee, TakerFeeRate: fee},
		{Symbol: "BTC/USDT-PERP", Base: "BTC", Quote: "USDT", Type: TypeFutures,
			Status: StatusActive, MinOrderSize: d("0.0001"), MaxOrderSize: d("1000"),
			PricePrecision: 2, QuantityPrecision: 8, MakerFeeRate: fee, TakerFeeRate: fee},
	} {
		if err := r.AddPair(p); err != nil {
			panic(err)
		}
	}
}
