package matching

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openalpha/spot-exchange/ledger"
	"github.com/openalpha/spot-exchange/market"
	"github.com/openalpha/spot-exchange/trading"
)

// settle commits one fill of q at p between the aggressor and a resting
// maker: four wallets move under one lock group, both orders advance, and
// the trade is recorded. Preconditions are verified under the group locks
// before any mutation, so a failed step leaves every wallet untouched.
func (e *Engine) settle(pair market.Pair, taker, maker *trading.Order,
	q, p decimal.Decimal) (*trading.Trade, error) {

	var buyer, seller *trading.Order
	if taker.Side == trading.SideBuy {
		buyer, seller = taker, maker
	} else {
		buyer, seller = maker, taker
	}

	value := q.Mul(p).Round(market.MoneyScale)
	buyerFee := e.fee(pair, buyer == taker, value)
	sellerFee := e.fee(pair, seller == taker, value)

	// Aggressor limit buys freeze at their own limit; the difference to the
	// maker's price is released with each improved fill.
	improvement := decimal.Zero
	if buyer == taker && buyer.Type == trading.OrderTypeLimit && buyer.Price.GreaterThan(p) {
		improvement = buyer.Price.Sub(p).Mul(q).Round(market.MoneyScale)
	}

	buyerQuote := ledger.Key{UserID: buyer.UserID, Currency: pair.Quote}
	buyerBase := ledger.Key{UserID: buyer.UserID, Currency: pair.Base}
	sellerQuote := ledger.Key{UserID: seller.UserID, Currency: pair.Quote}
	sellerBase := ledger.Key{UserID: seller.UserID, Currency: pair.Base}

	g := e.ledger.Group(buyerQuote, buyerBase, sellerQuote, sellerBase)
	defer g.Release()

	// Precondition pass: both frozen sides must cover their consumption.
	buyerNeed := value.Add(improvement)
	if buyer.FeeFromReserve {
		buyerNeed = buyerNeed.Add(buyerFee)
	}
	if bb, err := g.Balance(buyerQuote); err != nil || bb.Frozen.LessThan(buyerNeed) {
		return nil, fmt.Errorf("%w: buyer frozen %s below fill consumption %s",
			trading.ErrInvariant, frozenOf(bb), buyerNeed)
	}
	if sb, err := g.Balance(sellerBase); err != nil || sb.Frozen.LessThan(q) {
		return nil, fmt.Errorf("%w: seller frozen %s below fill quantity %s",
			trading.ErrInvariant, frozenOf(sb), q)
	}

	tradeID := uuid.NewString()
	ref := tradeID

	if err := g.SettleDebit(buyerQuote, value, ref, "fill debit"); err != nil {
		return nil, err
	}
	if improvement.IsPositive() {
		if err := g.Unfreeze(buyerQuote, improvement, ref, "price improvement released"); err != nil {
			return nil, err
		}
	}
	if err := g.SettleCredit(sellerQuote, value, ref, "fill proceeds"); err != nil {
		return nil, err
	}
	if err := g.SettleDebit(sellerBase, q, ref, "fill debit"); err != nil {
		return nil, err
	}
	if err := g.SettleCredit(buyerBase, q, ref, "fill credit"); err != nil {
		return nil, err
	}
	if err := g.ApplyFee(buyerQuote, buyerFee, buyer.FeeFromReserve, ref, "trading fee"); err != nil {
		return nil, err
	}
	if err := g.ApplyFee(sellerQuote, sellerFee, false, ref, "trading fee"); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	buyer.ApplyFill(q, p, now)
	seller.ApplyFill(q, p, now)
	buyer.FeePaid = buyer.FeePaid.Add(buyerFee)
	seller.FeePaid = seller.FeePaid.Add(sellerFee)

	buyerConsumed := value.Add(improvement)
	if buyer.FeeFromReserve {
		buyerConsumed = buyerConsumed.Add(buyerFee)
	}
	buyer.ReservedRemaining = buyer.ReservedRemaining.Sub(buyerConsumed)
	seller.ReservedRemaining = seller.ReservedRemaining.Sub(q)

	trade := &trading.Trade{
		ID:          tradeID,
		Symbol:      pair.Symbol,
		Price:       p,
		Quantity:    q,
		Value:       value,
		BuyOrderID:  buyer.ID,
		SellOrderID: seller.ID,
		BuyerID:     buyer.UserID,
		SellerID:    seller.UserID,
		BuyerFee:    buyerFee,
		SellerFee:   sellerFee,
		TakerSide:   taker.Side.String(),
		CreatedAt:   now,
	}
	e.trades.Add(trade)
	if e.data != nil {
		e.data.RecordTrade(pair.Symbol, p, q, now)
	}
	return trade, nil
}

// fee computes the side's fee in quote currency, rounded half away from
// zero to the storage scale.
func (e *Engine) fee(pair market.Pair, isTaker bool, value decimal.Decimal) decimal.Decimal {
	rate := pair.MakerFeeRate
	if isTaker {
		rate = pair.TakerFeeRate
	}
	if rate.IsZero() {
		return decimal.Zero
	}
	return value.Mul(rate).Round(market.MoneyScale)
}

func frozenOf(b ledger.Balance) decimal.Decimal { return b.Frozen }
