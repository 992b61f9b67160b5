// Package api is the REST and WebSocket front of the exchange.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openalpha/spot-exchange/accounts"
	"github.com/openalpha/spot-exchange/api/handlers"
	"github.com/openalpha/spot-exchange/api/middleware"
	"github.com/openalpha/spot-exchange/api/websocket"
	"github.com/openalpha/spot-exchange/bus"
	"github.com/openalpha/spot-exchange/ledger"
	"github.com/openalpha/spot-exchange/market"
	"github.com/openalpha/spot-exchange/metrics"
	"github.com/openalpha/spot-exchange/trading"
)

// Config contains server configuration.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	AllowedOrigins  []string
	RateLimit       float64
	RateBurst       int
	JWTSecret       string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	StartingBalance decimal.Decimal
}

// Deps collects the domain components the API serves.
type Deps struct {
	Users    *accounts.Store
	Ledger   *ledger.Ledger
	Registry *market.Registry
	Data     *market.Data
	Klines   *market.KlineStore
	Service  *trading.Service
	Engine   trading.Engine
	Events   *bus.Bus
	Log      *zap.Logger
}

// Server owns the HTTP listener, the middleware chain, and the feed hub.
type Server struct {
	httpServer *http.Server
	limiter    *middleware.RateLimiter
	hub        *websocket.Hub
	auth       *handlers.AuthHandler
	log        *zap.Logger
	started    time.Time
}

// NewServer wires handlers, middleware, and routes.
func NewServer(cfg Config, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	tokens := middleware.NewTokenManager(cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL)
	limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	limiter.OnReject(func() { metrics.GetCollector().RateLimitHits.Inc() })

	authH := handlers.NewAuthHandler(deps.Users, deps.Ledger, deps.Registry, tokens)
	marketsH := handlers.NewMarketsHandler(deps.Registry, deps.Data, deps.Klines, deps.Engine, deps.Service.Trades())
	tradingH := handlers.NewTradingHandler(deps.Service)
	walletsH := handlers.NewWalletsHandler(deps.Ledger, deps.Registry, cfg.StartingBalance)
	hub := websocket.NewHub(deps.Events, deps.Registry, log)

	s := &Server{
		limiter: limiter,
		hub:     hub,
		auth:    authH,
		log:     log,
		started: time.Now(),
	}

	mux := http.NewServeMux()

	// Public.
	mux.HandleFunc("/auth/register", authH.HandleRegister)
	mux.HandleFunc("/auth/login", authH.HandleLogin)
	mux.HandleFunc("/auth/refresh", authH.HandleRefresh)
	mux.HandleFunc("/markets/pairs", marketsH.HandlePairs)
	mux.HandleFunc("/markets/ticker/", marketsH.HandleTicker)
	mux.HandleFunc("/markets/orderbook/", marketsH.HandleOrderbook)
	mux.HandleFunc("/markets/klines/", marketsH.HandleKlines)
	mux.HandleFunc("/markets/trades/", marketsH.HandleTrades)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	// WebSocket feeds.
	mux.HandleFunc("/ws/price/", hub.HandlePrice)
	mux.HandleFunc("/ws/orderbook/", hub.HandleOrderbook)
	mux.HandleFunc("/ws/trading/", hub.HandleTrading)

	// Authenticated.
	auth := middleware.Auth(tokens)
	mux.Handle("/auth/profile", auth(http.HandlerFunc(authH.HandleProfile)))
	mux.Handle("/trading/orders", auth(http.HandlerFunc(tradingH.HandleOrders)))
	mux.Handle("/trading/orders/", auth(http.HandlerFunc(tradingH.HandleOrder)))
	mux.Handle("/trading/trades", auth(http.HandlerFunc(tradingH.HandleTrades)))
	mux.Handle("/wallets", auth(http.HandlerFunc(walletsH.HandleWallets)))
	mux.Handle("/wallets/deposit", auth(http.HandlerFunc(walletsH.HandleDeposit)))
	mux.Handle("/wallets/withdraw", auth(http.HandlerFunc(walletsH.HandleWithdraw)))
	mux.Handle("/wallets/transactions", auth(http.HandlerFunc(walletsH.HandleTransactions)))

	// Middleware chain: CORS -> RateLimit -> request metrics -> mux.
	var handler http.Handler = requestMetrics(mux)
	handler = middleware.RateLimitMiddleware(limiter)(handler)
	handler = cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// OnRegister installs the post-registration hook (metrics, store mirror).
func (s *Server) OnRegister(fn func(accounts.User)) { s.auth.OnRegister(fn) }

// Handler exposes the full middleware-wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start serves until the listener closes.
func (s *Server) Start() error {
	s.log.Info("api server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains HTTP connections and tears down the feeds.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	s.limiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "healthy",
		"timestamp":      time.Now().Unix(),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"ws_connections": s.hub.Count(),
	})
}

// requestMetrics records request counts and latency per route. WebSocket
// upgrades skip it so the hijacked connection keeps the raw ResponseWriter.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/ws/") {
			next.ServeHTTP(w, r)
			return
		}
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		timer := metrics.NewTimer()
		next.ServeHTTP(sw, r)
		metrics.GetCollector().RecordAPIRequest(r.Method, routeLabel(r.URL.Path),
			http.StatusText(sw.status), timer.ElapsedMs())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// routeLabel collapses parameterized paths so metric cardinality stays
// bounded by the route table.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/markets/ticker/"):
		return "/markets/ticker"
	case strings.HasPrefix(path, "/markets/orderbook/"):
		return "/markets/orderbook"
	case strings.HasPrefix(path, "/markets/klines/"):
		return "/markets/klines"
	case strings.HasPrefix(path, "/markets/trades/"):
		return "/markets/trades"
	case strings.HasSuffix(path, "/cancel") && strings.HasPrefix(path, "/trading/orders/"):
		return "/trading/orders/cancel"
	case strings.HasPrefix(path, "/trading/orders/"):
		return "/trading/orders/{id}"
	}
	switch path {
	case "/auth/register", "/auth/login", "/auth/refresh", "/auth/profile",
		"/markets/pairs", "/trading/orders", "/trading/trades",
		"/wallets", "/wallets/deposit", "/wallets/withdraw", "/wallets/transactions",
		"/health", "/metrics":
		return path
	}
	return "other"
}
