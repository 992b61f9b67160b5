package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rows mirror the in-memory records one to one. Monetary columns are
// decimal(20,8) regardless of a pair's display precision.

type User struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Email        string    `gorm:"uniqueIndex;size:255"`
	Username     string    `gorm:"size:64"`
	PasswordHash string    `gorm:"size:128"`
	CreatedAt    time.Time `gorm:"index"`
}

type Currency struct {
	Code      string `gorm:"primaryKey;size:16"`
	Name      string `gorm:"size:64"`
	Precision int32
	Active    bool
}

type TradingPair struct {
	Symbol            string          `gorm:"primaryKey;size:32"`
	Base              string          `gorm:"size:16;uniqueIndex:idx_pair,priority:1"`
	Quote             string          `gorm:"size:16;uniqueIndex:idx_pair,priority:2"`
	MarketType        string          `gorm:"size:16;uniqueIndex:idx_pair,priority:3"`
	Status            string          `gorm:"size:16"`
	MinOrderSize      decimal.Decimal `gorm:"type:decimal(20,8)"`
	MaxOrderSize      decimal.Decimal `gorm:"type:decimal(20,8)"`
	PricePrecision    int32
	QuantityPrecision int32
	MakerFeeRate      decimal.Decimal `gorm:"type:decimal(20,8)"`
	TakerFeeRate      decimal.Decimal `gorm:"type:decimal(20,8)"`
}

type Wallet struct {
	ID        uint            `gorm:"primaryKey"`
	UserID    string          `gorm:"size:36;uniqueIndex:idx_wallet,priority:1"`
	Currency  string          `gorm:"size:16;uniqueIndex:idx_wallet,priority:2"`
	Total     decimal.Decimal `gorm:"type:decimal(20,8)"`
	Frozen    decimal.Decimal `gorm:"type:decimal(20,8)"`
	UpdatedAt time.Time
}

type Transaction struct {
	ID            string          `gorm:"primaryKey;size:36"`
	UserID        string          `gorm:"size:36;index"`
	Currency      string          `gorm:"size:16"`
	Kind          string          `gorm:"size:16"`
	Status        string          `gorm:"size:16"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,8)"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(20,8)"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,8)"`
	Reference     string          `gorm:"size:64;index"`
	Description   string          `gorm:"size:255"`
	CreatedAt     time.Time       `gorm:"index"`
}

type Order struct {
	ID          string          `gorm:"primaryKey;size:36"`
	UserID      string          `gorm:"size:36;index"`
	Symbol      string          `gorm:"size:32;index"`
	Type        string          `gorm:"size:16"`
	Side        string          `gorm:"size:8"`
	TimeInForce string          `gorm:"size:8"`
	Price       decimal.Decimal `gorm:"type:decimal(20,8)"`
	Quantity    decimal.Decimal `gorm:"type:decimal(20,8)"`
	Filled      decimal.Decimal `gorm:"type:decimal(20,8)"`
	QuoteFilled decimal.Decimal `gorm:"type:decimal(20,8)"`
	FeePaid     decimal.Decimal `gorm:"type:decimal(20,8)"`
	Status      string          `gorm:"size:16;index"`
	CreatedAt   time.Time       `gorm:"index"`
	UpdatedAt   time.Time
	FilledAt    *time.Time
}

type Trade struct {
	ID          string          `gorm:"primaryKey;size:36"`
	Symbol      string          `gorm:"size:32;index"`
	Price       decimal.Decimal `gorm:"type:decimal(20,8)"`
	Quantity    decimal.Decimal `gorm:"type:decimal(20,8)"`
	Value       decimal.Decimal `gorm:"type:decimal(20,8)"`
	BuyOrderID  string          `gorm:"size:36"`
	SellOrderID string          `gorm:"size:36"`
	BuyerID     string          `gorm:"size:36;index"`
	SellerID    string          `gorm:"size:36;index"`
	BuyerFee    decimal.Decimal `gorm:"type:decimal(20,8)"`
	SellerFee   decimal.Decimal `gorm:"type:decimal(20,8)"`
	TakerSide   string          `gorm:"size:8"`
	CreatedAt   time.Time       `gorm:"index"`
}
