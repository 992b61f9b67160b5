// Package types defines the REST request and response bodies. Domain types
// (orders, trades, tickers, book snapshots) marshal themselves; only inbound
// payloads and composite envelopes live here.
package types

import (
	"github.com/openalpha/spot-exchange/accounts"
	"github.com/openalpha/spot-exchange/trading"
)

// RegisterRequest represents the request to create a user account
type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
	Password string `json:"password"`
}

// LoginRequest represents the request to exchange credentials for tokens
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest represents the request to rotate a refresh token
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenPair carries one issued access/refresh token pair
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// AuthResponse is returned by register and login
type AuthResponse struct {
	User   accounts.User `json:"user"`
	Tokens TokenPair     `json:"tokens"`
}

// PlaceOrderRequest represents the request to submit an order. Numeric
// fields are decimal strings to avoid float round-trips; pair symbols keep
// their canonical form ("BTC/USDT").
type PlaceOrderRequest struct {
	PairID      string `json:"pair_id"`
	Type        string `json:"type"`
	Side        string `json:"side"`
	Quantity    string `json:"quantity"`
	Price       string `json:"price,omitempty"`
	TimeInForce string `json:"time_in_force,omitempty"`
}

// PlaceOrderResponse returns the order plus whatever matching completed
// within the request
type PlaceOrderResponse struct {
	Order trading.Order        `json:"order"`
	Match *trading.MatchResult `json:"match,omitempty"`
}

// MoveFundsRequest represents a deposit or withdrawal ticket
type MoveFundsRequest struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount,omitempty"`
}
