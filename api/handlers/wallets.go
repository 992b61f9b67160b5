package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/openalpha/spot-exchange/api/middleware"
	"github.com/openalpha/spot-exchange/api/types"
	"github.com/openalpha/spot-exchange/ledger"
	"github.com/openalpha/spot-exchange/market"
)

// startingCurrency is what the first deposit call credits, regardless of
// the requested currency.
const startingCurrency = "USDT"

// WalletsHandler serves balances, deposit/withdraw tickets, and the
// transaction journal.
type WalletsHandler struct {
	ledger   *ledger.Ledger
	registry *market.Registry
	starting decimal.Decimal
}

// NewWalletsHandler creates a new wallets handler. starting is the quote
// credit granted on a user's first deposit call.
func NewWalletsHandler(led *ledger.Ledger, registry *market.Registry, starting decimal.Decimal) *WalletsHandler {
	return &WalletsHandler{ledger: led, registry: registry, starting: starting}
}

// HandleWallets handles GET /wallets.
func (h *WalletsHandler) HandleWallets(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedGet(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallets": h.ledger.Snapshot(userID)})
}

// HandleTransactions handles GET /wallets/transactions.
func (h *WalletsHandler) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedGet(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", defaultOrdersLimit, maxOrdersLimit)
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": h.ledger.Journal().ForUser(userID, limit),
	})
}

// HandleDeposit handles POST /wallets/deposit. Deposits are administrative
// tickets, not on-chain transfers: the first call credits the configured
// starting balance, later calls credit the requested amount.
func (h *WalletsHandler) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedPost(w, r)
	if !ok {
		return
	}

	var req types.MoveFundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}

	if !h.hasDeposited(userID) {
		key := ledger.Key{UserID: userID, Currency: startingCurrency}
		if err := h.ledger.Deposit(key, h.starting, "", "starting balance"); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"currency": startingCurrency,
			"amount":   h.starting,
			"wallet":   h.ledger.Balance(key),
		})
		return
	}

	currency, amount, ok := h.parseTicket(w, req)
	if !ok {
		return
	}
	key := ledger.Key{UserID: userID, Currency: currency}
	if err := h.ledger.Deposit(key, amount, "", "deposit ticket"); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"currency": currency,
		"amount":   amount,
		"wallet":   h.ledger.Balance(key),
	})
}

// HandleWithdraw handles POST /wallets/withdraw.
func (h *WalletsHandler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedPost(w, r)
	if !ok {
		return
	}

	var req types.MoveFundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}
	currency, amount, ok := h.parseTicket(w, req)
	if !ok {
		return
	}

	key := ledger.Key{UserID: userID, Currency: currency}
	if err := h.ledger.Withdraw(key, amount, "", "withdrawal ticket"); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"currency": currency,
		"amount":   amount.Neg(),
		"wallet":   h.ledger.Balance(key),
	})
}

// parseTicket validates the currency and amount of a funds movement.
func (h *WalletsHandler) parseTicket(w http.ResponseWriter, req types.MoveFundsRequest) (string, decimal.Decimal, bool) {
	if _, ok := h.registry.Currency(req.Currency); !ok {
		writeError(w, http.StatusBadRequest, "unknown_currency", "unknown currency")
		return "", decimal.Zero, false
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "invalid_amount", "amount must be a positive decimal string")
		return "", decimal.Zero, false
	}
	return req.Currency, amount, true
}

// hasDeposited reports whether the user has any prior deposit entry.
func (h *WalletsHandler) hasDeposited(userID string) bool {
	for _, e := range h.ledger.Journal().ForUser(userID, 0) {
		if e.Kind == ledger.KindDeposit {
			return true
		}
	}
	return false
}

func (h *WalletsHandler) authedGet(w http.ResponseWriter, r *http.Request) (string, bool) {
	return h.authed(w, r, http.MethodGet)
}

func (h *WalletsHandler) authedPost(w http.ResponseWriter, r *http.Request) (string, bool) {
	return h.authed(w, r, http.MethodPost)
}

func (h *WalletsHandler) authed(w http.ResponseWriter, r *http.Request, method string) (string, bool) {
	switch r.Method {
	case method:
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return "", false
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return "", false
	}
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return "", false
	}
	return userID, true
}
