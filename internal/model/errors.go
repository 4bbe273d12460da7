package model

import "errors"

// Sentinel errors for domain-level failures. Each is scoped to a single
// order or request; none aborts the process. The handler layer maps these
// to HTTP status codes.
var (
	ErrInsufficientFunds    = errors.New("insufficient balance")
	ErrInsufficientShares   = errors.New("insufficient shares available")
	ErrInsufficientHoldings = errors.New("insufficient shares to sell")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrUserNotFound         = errors.New("user not found")
	ErrMovieNotFound        = errors.New("movie not found")
	ErrHoldingNotFound      = errors.New("holding not found")
	ErrUserExists           = errors.New("user already exists")
	ErrMovieExists          = errors.New("movie already exists")
)
