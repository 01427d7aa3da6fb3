package engine

import "errors"

// Stable error kinds surfaced to relayers and executors. Everything
// here rejects the call before any funds move, except ErrTransferFailed
// which reports a ledger leg that aborted the whole call.

// Authorization errors
var (
	// ErrInvalidSignature means the signature bytes could not be parsed
	// into canonical (v, r, s) components or recovery failed.
	ErrInvalidSignature = errors.New("invalid signature format")

	// ErrSignerMismatch means the recovered signer is not the claimed owner.
	ErrSignerMismatch = errors.New("signer does not match claimed owner")

	// ErrNonceMismatch means the submitted nonce is not exactly the
	// owner's current counter. Nonces are consumed strictly in sequence.
	ErrNonceMismatch = errors.New("nonce does not match owner counter")

	// ErrDuplicateOrder means the order hash was already admitted once.
	ErrDuplicateOrder = errors.New("order hash already recorded")
)

// State errors
var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrOrderCancelled   = errors.New("order is cancelled")
	ErrOrderExpired     = errors.New("order deadline has passed")
	ErrExceedsRemaining = errors.New("fill exceeds remaining amount")
	ErrPriceBelowLimit  = errors.New("fill price below order limit")
	ErrNothingToCancel  = errors.New("no remaining amount to cancel")

	// ErrInvalidOrder covers malformed creation parameters: zero
	// amounts, identical token pair, nil fields.
	ErrInvalidOrder = errors.New("invalid order parameters")

	// ErrPriceInconsistent means the signed limitPrice does not agree
	// with minAmountOut/amountIn.
	ErrPriceInconsistent = errors.New("limit price inconsistent with min amount out")

	// ErrInvalidFill covers non-positive fill legs.
	ErrInvalidFill = errors.New("invalid fill amounts")
)

// Configuration errors
var (
	ErrNotOrderOwner = errors.New("caller is not the order owner")
	ErrNotOwner      = errors.New("caller is not the engine owner")
	ErrFeeTooHigh    = errors.New("fee rate exceeds configured cap")
	ErrEnginePaused  = errors.New("engine is paused")
)

// External-dependency errors
var (
	// ErrTransferFailed wraps a token ledger failure. The enclosing call
	// rolled back completely; the condition may be retryable once the
	// executor is funded.
	ErrTransferFailed = errors.New("token transfer failed")
)
