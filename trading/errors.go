package trading

import (
	"errors"

	"github.com/openalpha/spot-exchange/ledger"
)

// Behavioral error kinds. The HTTP layer maps each kind to a stable
// machine-readable code; invariant violations are logged and surfaced as
// internal errors, never as their own kind.
var (
	ErrValidation  = errors.New("validation failed")
	ErrNoLiquidity = errors.New("no liquidity")
	ErrOverloaded  = errors.New("pair writer overloaded")
	ErrNotFound    = errors.New("not found")
	ErrForbidden   = errors.New("forbidden")

	// Ledger kinds surfaced through order admission.
	ErrInsufficientFunds = ledger.ErrInsufficientFunds
	ErrInvariant         = ledger.ErrInvariant
)
