package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openalpha/spot-exchange/accounts"
	"github.com/openalpha/spot-exchange/api/middleware"
	"github.com/openalpha/spot-exchange/api/types"
	"github.com/openalpha/spot-exchange/ledger"
	"github.com/openalpha/spot-exchange/market"
)

// AuthHandler handles registration, login, and token refresh.
type AuthHandler struct {
	users    *accounts.Store
	ledger   *ledger.Ledger
	registry *market.Registry
	tokens   *middleware.TokenManager

	// onRegister runs after a successful registration (metrics, mirrors).
	onRegister func(accounts.User)
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(users *accounts.Store, led *ledger.Ledger, registry *market.Registry,
	tokens *middleware.TokenManager) *AuthHandler {
	return &AuthHandler{users: users, ledger: led, registry: registry, tokens: tokens}
}

// OnRegister installs the post-registration hook.
func (h *AuthHandler) OnRegister(fn func(accounts.User)) { h.onRegister = fn }

// HandleRegister handles POST /auth/register.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}

	var req types.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}

	user, err := h.users.Register(req.Email, req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, accounts.ErrEmailTaken):
			writeError(w, http.StatusBadRequest, "email_taken", err.Error())
		case errors.Is(err, accounts.ErrValidation):
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		}
		return
	}

	// Wallets exist from the first moment the user can trade; no lazy
	// materialization on the hot path.
	h.ledger.Provision(user.ID, h.registry.CurrencyCodes()...)
	if h.onRegister != nil {
		h.onRegister(user)
	}

	access, refresh, err := h.tokens.IssuePair(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, types.AuthResponse{
		User:   user,
		Tokens: types.TokenPair{Access: access, Refresh: refresh},
	})
}

// HandleLogin handles POST /auth/login.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}

	var req types.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}

	user, err := h.users.Authenticate(req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "bad_credentials", "invalid email or password")
		return
	}

	access, refresh, err := h.tokens.IssuePair(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, types.AuthResponse{
		User:   user,
		Tokens: types.TokenPair{Access: access, Refresh: refresh},
	})
}

// HandleRefresh handles POST /auth/refresh.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}

	var req types.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}

	userID, err := h.tokens.Verify(req.RefreshToken, middleware.TokenRefresh)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired refresh token")
		return
	}
	if _, err := h.users.Get(userID); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "unknown user")
		return
	}

	access, refresh, err := h.tokens.IssuePair(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, types.TokenPair{Access: access, Refresh: refresh})
}

// HandleProfile handles GET /auth/profile. Mounted behind the auth
// middleware.
func (h *AuthHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
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
	user, err := h.users.Get(userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}
