package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openalpha/spot-exchange/accounts"
	"github.com/openalpha/spot-exchange/api"
	"github.com/openalpha/spot-exchange/bus"
	"github.com/openalpha/spot-exchange/config"
	"github.com/openalpha/spot-exchange/ledger"
	"github.com/openalpha/spot-exchange/market"
	"github.com/openalpha/spot-exchange/matching"
	"github.com/openalpha/spot-exchange/metrics"
	"github.com/openalpha/spot-exchange/pkg/util"
	"github.com/openalpha/spot-exchange/store"
	"github.com/openalpha/spot-exchange/trading"
)

const shutdownGrace = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the exchange daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.Config) error {
	logger, err := util.NewLogger(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	coll := metrics.GetCollector()

	// Reference data.
	registry := market.NewRegistry()
	registry.SeedDefaults()

	// Event bus.
	events := bus.New(cfg.Bus.QueueLimit, logger.Named("bus"))
	events.OnDrop(coll.RecordSubscriberDrop)

	// Custody.
	led := ledger.New(events, logger.Named("ledger"))
	led.OnAlarm(coll.InvariantAlarms.Inc)

	// Stores, accounts, market data.
	orders := trading.NewOrderStore()
	trades := trading.NewTradeLog()
	klines := market.NewKlineStore()
	data := market.NewData(klines, events)
	users := accounts.NewStore()

	// Optional persistence mirror.
	var db *store.Store
	if cfg.Database.DSN != "" {
		db, err = store.Open(cfg.Database.DSN, logger.Named("store"))
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if err := db.SeedReference(registry); err != nil {
			return fmt.Errorf("seed reference data: %w", err)
		}
		db.Attach(users, led, orders, trades)
	}

	// Journal metrics ride the same archive hook as the mirror.
	led.Journal().SetArchive(func(e ledger.Entry) {
		coll.JournalEntries.WithLabelValues(string(e.Kind)).Inc()
		if db != nil {
			db.SaveEntry(e)
		}
	})

	// Matching and admission.
	engine := matching.New(registry, led, orders, trades, data, events, logger.Named("matching"))
	engine.OnMatch(coll.RecordMatch)
	svc := trading.NewService(registry, led, orders, trades, engine, events,
		logger.Named("trading"), trading.Options{
			SlippageCap:      decimal.NewFromFloat(cfg.Trading.SlippageCap),
			QueueSize:        cfg.Trading.QueueSize,
			SnapshotEvery:    cfg.Trading.SnapshotEvery,
			SnapshotInterval: cfg.Trading.SnapshotInterval,
		})
	defer svc.Close()

	// Late subscribers get current state before any delta.
	events.RegisterSnapshot("book.", func(topic string) (bus.Event, bool) {
		symbol := strings.TrimPrefix(topic, "book.")
		return bus.Event{
			Topic: topic,
			Type:  "orderbook_data",
			Data:  engine.BookSnapshot(symbol, cfg.Simulator.Depth),
		}, true
	})
	events.RegisterSnapshot("price.", func(topic string) (bus.Event, bool) {
		symbol := strings.TrimPrefix(topic, "price.")
		ticker, ok := data.Snapshot(symbol)
		if !ok {
			return bus.Event{}, false
		}
		return bus.Event{Topic: topic, Type: "price_data", Data: ticker}, true
	})

	// Simulator.
	sim := market.NewSimulator(registry, data, events, engine.Book,
		logger.Named("simulator"), market.SimulatorOptions{
			PriceInterval: cfg.Simulator.PriceInterval,
			BookInterval:  cfg.Simulator.BookInterval,
			Depth:         cfg.Simulator.Depth,
		})
	sim.OnTick(func(kind string) { coll.SimTicksTotal.WithLabelValues(kind).Inc() })
	svc.OnRealFlow(sim.Touch)
	if cfg.Simulator.Enabled {
		sim.Start()
		defer sim.Stop()
	}

	// HTTP front.
	srv := api.NewServer(api.Config{
		Addr:            cfg.Addr(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		RateLimit:       cfg.Server.RateLimit,
		RateBurst:       cfg.Server.RateBurst,
		JWTSecret:       cfg.Auth.JWTSecret,
		AccessTTL:       cfg.Auth.AccessTTL,
		RefreshTTL:      cfg.Auth.RefreshTTL,
		StartingBalance: decimal.NewFromFloat(cfg.Trading.StartingBalance),
	}, api.Deps{
		Users:    users,
		Ledger:   led,
		Registry: registry,
		Data:     data,
		Klines:   klines,
		Service:  svc,
		Engine:   engine,
		Events:   events,
		Log:      logger.Named("api"),
	})
	srv.OnRegister(func(accounts.User) {
		coll.RegisteredUsers.Set(float64(users.Count()))
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
