// Package store mirrors the in-memory exchange state to Postgres through
// gorm. Memory stays authoritative; the mirror is write-through and
// best-effort. Writes run on a single background worker so archive hooks
// never block the matching path, and a full queue drops the write with a
// log line rather than applying backpressure.
package store

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	glogger "gorm.io/gorm/logger"

	"github.com/openalpha/spot-exchange/accounts"
	"github.com/openalpha/spot-exchange/ledger"
	"github.com/openalpha/spot-exchange/market"
	"github.com/openalpha/spot-exchange/trading"
)

const writeQueueSize = 4096

type writeJob struct {
	what string
	fn   func(db *gorm.DB) error
}

// Store is the durable mirror.
type Store struct {
	db   *gorm.DB
	log  *zap.Logger
	jobs chan writeJob
	wg   sync.WaitGroup
}

// Open connects, migrates the schema and starts the write worker.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: glogger.Default.LogMode(glogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(
		&User{}, &Currency{}, &TradingPair{}, &Wallet{},
		&Transaction{}, &Order{}, &Trade{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	s := &Store{
		db:   db,
		log:  log,
		jobs: make(chan writeJob, writeQueueSize),
	}
	s.wg.Add(1)
	go s.worker()
	return s, nil
}

// Close drains pending writes and shuts the connection.
func (s *Store) Close() error {
	close(s.jobs)
	s.wg.Wait()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) worker() {
	defer s.wg.Done()
	for j := range s.jobs {
		if err := j.fn(s.db); err != nil {
			s.log.Warn("store write failed", zap.String("what", j.what), zap.Error(err))
		}
	}
}

func (s *Store) enqueue(what string, fn func(db *gorm.DB) error) {
	select {
	case s.jobs <- writeJob{what: what, fn: fn}:
	default:
		s.log.Warn("store queue full, dropping write", zap.String("what", what))
	}
}

func upsert(db *gorm.DB, conflictCols []string, row any) error {
	cols := make([]clause.Column, len(conflictCols))
	for i, c := range conflictCols {
		cols[i] = clause.Column{Name: c}
	}
	return db.Clauses(clause.OnConflict{Columns: cols, UpdateAll: true}).Create(row).Error
}

// SaveUser mirrors a registered user.
func (s *Store) SaveUser(u accounts.User) {
	s.enqueue("user", func(db *gorm.DB) error {
		return upsert(db, []string{"id"}, &User{
			ID:           u.ID,
			Email:        u.Email,
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			CreatedAt:    u.CreatedAt,
		})
	})
}

// SaveWallet mirrors a wallet balance, keyed (user, currency).
func (s *Store) SaveWallet(b ledger.Balance) {
	s.enqueue("wallet", func(db *gorm.DB) error {
		return upsert(db, []string{"user_id", "currency"}, &Wallet{
			UserID:   b.UserID,
			Currency: b.Currency,
			Total:    b.Total,
			Frozen:   b.Frozen,
		})
	})
}

// SaveEntry appends a journal entry. Entries are immutable, so a conflict
// on id means a replay and is ignored.
func (s *Store) SaveEntry(e ledger.Entry) {
	s.enqueue("transaction", func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&Transaction{
			ID:            e.ID,
			UserID:        e.UserID,
			Currency:      e.Currency,
			Kind:          string(e.Kind),
			Status:        string(e.Status),
			Amount:        e.Amount,
			BalanceBefore: e.BalanceBefore,
			BalanceAfter:  e.BalanceAfter,
			Reference:     e.Reference,
			Description:   e.Description,
			CreatedAt:     e.CreatedAt,
		}).Error
	})
}

// SaveOrder mirrors an order's current state.
func (s *Store) SaveOrder(o trading.Order) {
	s.enqueue("order", func(db *gorm.DB) error {
		return upsert(db, []string{"id"}, &Order{
			ID:          o.ID,
			UserID:      o.UserID,
			Symbol:      o.Symbol,
			Type:        string(o.Type),
			Side:        o.Side.String(),
			TimeInForce: string(o.TimeInForce),
			Price:       o.Price,
			Quantity:    o.Quantity,
			Filled:      o.Filled,
			QuoteFilled: o.QuoteFilled,
			FeePaid:     o.FeePaid,
			Status:      string(o.Status),
			CreatedAt:   o.CreatedAt,
			UpdatedAt:   o.UpdatedAt,
			FilledAt:    o.FilledAt,
		})
	})
}

// SaveTrade appends an execution. Trades are immutable.
func (s *Store) SaveTrade(t trading.Trade) {
	s.enqueue("trade", func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&Trade{
			ID:          t.ID,
			Symbol:      t.Symbol,
			Price:       t.Price,
			Quantity:    t.Quantity,
			Value:       t.Value,
			BuyOrderID:  t.BuyOrderID,
			SellOrderID: t.SellOrderID,
			BuyerID:     t.BuyerID,
			SellerID:    t.SellerID,
			BuyerFee:    t.BuyerFee,
			SellerFee:   t.SellerFee,
			TakerSide:   t.TakerSide,
			CreatedAt:   t.CreatedAt,
		}).Error
	})
}

// SeedReference writes the registry's currencies and pairs synchronously.
// Called once at startup, before traffic.
func (s *Store) SeedReference(reg *market.Registry) error {
	for _, code := range reg.CurrencyCodes() {
		c, ok := reg.Currency(code)
		if !ok {
			continue
		}
		row := &Currency{Code: c.Code, Name: c.Name, Precision: c.Precision, Active: c.Active}
		if err := upsert(s.db, []string{"code"}, row); err != nil {
			return fmt.Errorf("seed currency %s: %w", c.Code, err)
		}
	}
	for _, p := range reg.AllPairs() {
		row := &TradingPair{
			Symbol:            p.Symbol,
			Base:              p.Base,
			Quote:             p.Quote,
			MarketType:        string(p.Type),
			Status:            string(p.Status),
			MinOrderSize:      p.MinOrderSize,
			MaxOrderSize:      p.MaxOrderSize,
			PricePrecision:    p.PricePrecision,
			QuantityPrecision: p.QuantityPrecision,
			MakerFeeRate:      p.MakerFeeRate,
			TakerFeeRate:      p.TakerFeeRate,
		}
		if err := upsert(s.db, []string{"symbol"}, row); err != nil {
			return fmt.Errorf("seed pair %s: %w", p.Symbol, err)
		}
	}
	return nil
}

// Attach wires the mirror into every in-memory store's archive hook.
func (s *Store) Attach(users *accounts.Store, led *ledger.Ledger,
	orders *trading.OrderStore, trades *trading.TradeLog) {

	users.SetArchive(s.SaveUser)
	led.SetWalletArchive(s.SaveWallet)
	led.Journal().SetArchive(s.SaveEntry)
	orders.SetArchive(s.SaveOrder)
	trades.SetArchive(s.SaveTrade)
}
