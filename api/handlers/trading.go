package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/openalpha/spot-exchange/api/middleware"
	"github.com/openalpha/spot-exchange/api/types"
	"github.com/openalpha/spot-exchange/metrics"
	"github.com/openalpha/spot-exchange/orderbook"
	"github.com/openalpha/spot-exchange/trading"
)

const (
	defaultOrdersLimit = 100
	maxOrdersLimit     = 500
)

// TradingHandler serves the authenticated order endpoints.
type TradingHandler struct {
	svc *trading.Service
}

// NewTradingHandler creates a new trading handler.
func NewTradingHandler(svc *trading.Service) *TradingHandler {
	return &TradingHandler{svc: svc}
}

// HandleOrders handles /trading/orders (GET for list, POST for submit).
func (h *TradingHandler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listOrders(w, r)
	case http.MethodPost:
		h.placeOrder(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	}
}

// HandleOrder handles /trading/orders/{id} and /trading/orders/{id}/cancel.
func (h *TradingHandler) HandleOrder(w http.ResponseWriter, r *http.Request) {
	tail := strings.TrimPrefix(r.URL.Path, "/trading/orders/")
	if tail == "" || tail == r.URL.Path {
		writeError(w, http.StatusBadRequest, "missing_order_id", "Order ID is required")
		return
	}

	if orderID, ok := strings.CutSuffix(tail, "/cancel"); ok {
		h.cancelOrder(w, r, orderID)
		return
	}
	if strings.Contains(tail, "/") {
		writeError(w, http.StatusBadRequest, "invalid_path", "Invalid path")
		return
	}
	h.getOrder(w, r, tail)
}

// HandleTrades handles GET /trading/trades (the caller's executions).
func (h *TradingHandler) HandleTrades(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}

	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit := queryInt(r, "limit", defaultOrdersLimit, maxOrdersLimit)
	writeJSON(w, http.StatusOK, map[string]any{"trades": h.svc.Trades().ForUser(userID, limit)})
}

func (h *TradingHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	var req types.PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}
	if req.PairID == "" {
		writeError(w, http.StatusBadRequest, "missing_pair_id", "pair_id is required")
		return
	}
	side, ok := orderbook.ParseSide(req.Side)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_side", "side must be buy or sell")
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be a decimal string")
		return
	}
	price := decimal.Zero
	if req.Price != "" {
		if price, err = decimal.NewFromString(req.Price); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_price", "price must be a decimal string")
			return
		}
	}

	sreq := trading.SubmitRequest{
		UserID:      userID,
		Symbol:      req.PairID,
		Type:        trading.OrderType(req.Type),
		Side:        side,
		Quantity:    qty,
		Price:       price,
		TimeInForce: trading.TimeInForce(strings.ToUpper(req.TimeInForce)),
	}

	coll := metrics.GetCollector()
	timer := metrics.NewTimer()
	order, match, err := h.svc.Submit(sreq)
	coll.RecordOrderLatency(sreq.Symbol, req.Type, timer.ElapsedMs())
	if err != nil {
		coll.RecordOrder(sreq.Symbol, side.String(), req.Type, "rejected")
		writeDomainError(w, err)
		return
	}
	coll.RecordOrder(order.Symbol, order.Side.String(), string(order.Type), string(order.Status))

	writeJSON(w, http.StatusCreated, types.PlaceOrderResponse{Order: order, Match: match})
}

func (h *TradingHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	status := trading.Status(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", defaultOrdersLimit, maxOrdersLimit)
	writeJSON(w, http.StatusOK, map[string]any{
		"orders": h.svc.Orders().ForUser(userID, status, limit),
	})
}

func (h *TradingHandler) getOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}

	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	order, err := h.svc.Get(userID, orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (h *TradingHandler) cancelOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}

	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	order, err := h.svc.Cancel(userID, orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}
