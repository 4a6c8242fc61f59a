package domain

import (
	"context"
	"errors"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrValidation       = errors.New("validation failed")
	ErrInvalidState     = errors.New("invalid state transition")
	ErrDivisionByZero   = errors.New("division by zero")
	ErrAlreadyActive    = errors.New("monitoring already active")
	ErrNotActive        = errors.New("monitoring not active")
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrConfiguration    = errors.New("configuration error")
	ErrLockHeld         = errors.New("lock already held")
	ErrDuplicateIntent  = errors.New("duplicate trade intent")
	ErrNotImplemented   = errors.New("not implemented")
	ErrRiskLimit        = errors.New("risk limit exceeded")
	ErrSigningFailed    = errors.New("signing failed")

	// Exchange connector failures. Everything except ErrConnector is
	// permanent for the request that produced it.
	ErrNoPosition            = errors.New("no active position found to close")
	ErrUnsupportedToken      = errors.New("unsupported token")
	ErrInsufficientBalance   = errors.New("insufficient balance for transaction")
	ErrInsufficientAllowance = errors.New("token allowance not granted")
	ErrPriceImpactTooHigh    = errors.New("price impact too high, try smaller size")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity for trade")
	ErrReverted              = errors.New("transaction reverted")
	ErrConnector             = errors.New("exchange connector unavailable")
)

// IsTransient reports whether err is worth retrying on a later attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrConnector) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrPriceUnavailable) ||
		errors.Is(err, ErrLockHeld) ||
		errors.Is(err, ErrRateLimited)
}
