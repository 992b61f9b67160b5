package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/openalpha/spot-exchange/trading"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
	})
}

// writeDomainError maps trading error kinds onto stable HTTP statuses and
// machine-readable codes. Invariant failures fall through to a bare 500;
// their detail is logged where they fire, never returned to callers.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, trading.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, trading.ErrNoLiquidity):
		writeError(w, http.StatusBadRequest, "no_liquidity", err.Error())
	case errors.Is(err, trading.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "insufficient_funds", err.Error())
	case errors.Is(err, trading.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, trading.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, trading.ErrOverloaded):
		writeError(w, http.StatusConflict, "overloaded", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

// desymbol restores a pair symbol from its URL-safe spelling
// ("BTC-USDT" -> "BTC/USDT"). Only the first dash separates base from
// quote; later dashes belong to the symbol ("BTC-USDT-PERP").
func desymbol(s string) string {
	return strings.Replace(s, "-", "/", 1)
}

// pathTail returns the path segment after prefix, rejecting empty and
// nested remainders.
func pathTail(path, prefix string) (string, bool) {
	tail := strings.TrimPrefix(path, prefix)
	if tail == "" || tail == path || strings.Contains(tail, "/") {
		return "", false
	}
	return tail, true
}
