package handlers

import (
	"net/http"
	"strconv"

	"github.com/openalpha/spot-exchange/market"
	"github.com/openalpha/spot-exchange/trading"
)

const (
	defaultBookDepth   = 15
	maxBookDepth       = 100
	defaultKlineLimit  = 100
	maxKlineLimit      = 1000
	defaultTradesLimit = 50
	maxTradesLimit     = 500
)

// MarketsHandler serves the public market-data endpoints.
type MarketsHandler struct {
	registry *market.Registry
	data     *market.Data
	klines   *market.KlineStore
	engine   trading.Engine
	trades   *trading.TradeLog
}

// NewMarketsHandler creates a new markets handler.
func NewMarketsHandler(registry *market.Registry, data *market.Data, klines *market.KlineStore,
	engine trading.Engine, trades *trading.TradeLog) *MarketsHandler {
	return &MarketsHandler{
		registry: registry,
		data:     data,
		klines:   klines,
		engine:   engine,
		trades:   trades,
	}
}

// HandlePairs handles GET /markets/pairs.
func (h *MarketsHandler) HandlePairs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pairs": h.registry.AllPairs()})
}

// HandleTicker handles GET /markets/ticker/{sym}.
func (h *MarketsHandler) HandleTicker(w http.ResponseWriter, r *http.Request) {
	symbol, ok := h.symbolFromPath(w, r, "/markets/ticker/")
	if !ok {
		return
	}
	ticker, ok := h.data.Snapshot(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "no_data", "pair has not traded yet")
		return
	}
	writeJSON(w, http.StatusOK, ticker)
}

// HandleOrderbook handles GET /markets/orderbook/{sym}?depth=.
func (h *MarketsHandler) HandleOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol, ok := h.symbolFromPath(w, r, "/markets/orderbook/")
	if !ok {
		return
	}
	depth := queryInt(r, "depth", defaultBookDepth, maxBookDepth)
	writeJSON(w, http.StatusOK, h.engine.BookSnapshot(symbol, depth))
}

// HandleKlines handles GET /markets/klines/{sym}?interval=&limit=.
func (h *MarketsHandler) HandleKlines(w http.ResponseWriter, r *http.Request) {
	symbol, ok := h.symbolFromPath(w, r, "/markets/klines/")
	if !ok {
		return
	}
	iv := market.Interval(r.URL.Query().Get("interval"))
	if iv == "" {
		iv = market.Interval1m
	}
	if _, ok := iv.Duration(); !ok {
		writeError(w, http.StatusBadRequest, "invalid_interval", "unsupported interval")
		return
	}
	limit := queryInt(r, "limit", defaultKlineLimit, maxKlineLimit)
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":   symbol,
		"interval": iv,
		"klines":   h.klines.Recent(symbol, iv, limit),
	})
}

// HandleTrades handles GET /markets/trades/{sym}?limit= (public tape).
func (h *MarketsHandler) HandleTrades(w http.ResponseWriter, r *http.Request) {
	symbol, ok := h.symbolFromPath(w, r, "/markets/trades/")
	if !ok {
		return
	}
	limit := queryInt(r, "limit", defaultTradesLimit, maxTradesLimit)
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"trades": h.trades.Recent(symbol, limit),
	})
}

// symbolFromPath parses and validates the trailing pair symbol. It writes
// the error response itself when the request is unusable.
func (h *MarketsHandler) symbolFromPath(w http.ResponseWriter, r *http.Request, prefix string) (string, bool) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return "", false
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return "", false
	}

	tail, ok := pathTail(r.URL.Path, prefix)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing_symbol", "pair symbol is required")
		return "", false
	}
	symbol := desymbol(tail)
	if _, ok := h.registry.Pair(symbol); !ok {
		writeError(w, http.StatusNotFound, "unknown_pair", "unknown trading pair")
		return "", false
	}
	return symbol, true
}

func queryInt(r *http.Request, key string, def, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
