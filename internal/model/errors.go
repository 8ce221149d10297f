package model

import "errors"

// Trade-path error taxonomy. Every rejection the engine or store produces
// wraps exactly one of these sentinels so callers can branch with
// errors.Is and map them to HTTP statuses.
var (
	// ErrInvalidInput marks malformed user input (symbol or share count).
	// Locally correctable; the wrapped message is surfaced verbatim.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidSymbol means the quote lookup failed or the symbol is
	// unrecognized. The two cases are indistinguishable at this layer.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrInvalidQuote means the provider answered but the payload carried
	// no usable price.
	ErrInvalidQuote = errors.New("invalid quote data")

	// ErrUnavailable means the quote provider could not be reached in
	// bounded time. Safe to retry after backoff.
	ErrUnavailable = errors.New("quote provider unavailable")

	// ErrInsufficientFunds rejects a buy that would drive cash negative.
	ErrInsufficientFunds = errors.New("insufficient balance")

	// ErrInsufficientShares rejects a sell of more shares than held.
	ErrInsufficientShares = errors.New("too many shares")

	// ErrConflict means a concurrent mutation invalidated the trade's
	// pre-checks between validation and commit. The whole
	// validate-fetch-check-commit sequence may be retried.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrNotFound marks an unknown user. Fatal to the request.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateUser rejects registration with a taken username.
	ErrDuplicateUser = errors.New("username is taken")

	// ErrBadCredentials rejects a login or password change with a wrong
	// username/password pair.
	ErrBadCredentials = errors.New("invalid username and/or password")
)
