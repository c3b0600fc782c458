package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind is the normalized error classification every layer above the
// repositories is expected to check with errors.As, never by string
// matching against Error().
type Kind string

const (
	KindInsufficientFunds    Kind = "insufficient_funds"
	KindInsufficientHoldings Kind = "insufficient_holdings"
	KindInvalidPrice         Kind = "invalid_price"
	KindInvalidQuantity      Kind = "invalid_quantity"
	KindNotAuthorized        Kind = "not_authorized"
	KindSessionError         Kind = "session_error"
	KindRateLimit            Kind = "rate_limit"
	KindTemporaryError       Kind = "temporary_error"
	KindPermanentError       Kind = "permanent_error"
	KindFillAlreadyApplied   Kind = "fill_already_applied"
	KindFillOnTerminal       Kind = "fill_on_terminal"
	KindInvariantViolation   Kind = "invariant_violation"
	KindNotFound             Kind = "not_found"
)

// Error is the single error type carried across every package boundary in
// the ledger. Kind() is what callers branch on; Error() is for logs.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the normalized classification for this error.
func (e *Error) Kind() Kind { return e.kind }

func newErr(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Wrap attaches kind to an underlying error, preserving it for errors.Is.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{kind: kind, msg: msg, err: err}
}

// InsufficientFunds is raised when a reservation or debit would drive
// cash_available negative.
func InsufficientFunds(have, want decimal.Decimal) *Error {
	return newErr(KindInsufficientFunds, fmt.Sprintf("have %s, want %s", have, want))
}

// InsufficientHoldings is raised when a sell (or its validation) requests
// more quantity than is free on the holding.
func InsufficientHoldings(symbol string, have, want int64) *Error {
	return newErr(KindInsufficientHoldings, fmt.Sprintf("%s: have %d, want %d", symbol, have, want))
}

// InvalidPrice is raised for a non-positive price where one is required.
func InvalidPrice(price decimal.Decimal) *Error {
	return newErr(KindInvalidPrice, fmt.Sprintf("price must be > 0, got %s", price))
}

// InvalidQuantity is raised for a non-positive quantity.
func InvalidQuantity(qty int64) *Error {
	return newErr(KindInvalidQuantity, fmt.Sprintf("quantity must be > 0, got %d", qty))
}

// NotAuthorized is raised when a trader has no mapping to the client they
// are trying to act on behalf of.
func NotAuthorized(traderID, clientID int64) *Error {
	return newErr(KindNotAuthorized, fmt.Sprintf("trader %d is not mapped to client %d", traderID, clientID))
}

// SessionError wraps a broker session failure (expired/invalid auth).
func SessionError(err error) *Error {
	return Wrap(KindSessionError, "broker session invalid", err)
}

// RateLimit wraps a broker 429.
func RateLimit(err error) *Error {
	return Wrap(KindRateLimit, "broker rate limit", err)
}

// TemporaryError wraps a broker 5xx/timeout/network failure, retryable.
func TemporaryError(err error) *Error {
	return Wrap(KindTemporaryError, "broker temporary failure", err)
}

// PermanentError wraps a broker 4xx rejection that is not auth-related.
func PermanentError(err error) *Error {
	return Wrap(KindPermanentError, "broker rejected request", err)
}

// FillAlreadyApplied signals idempotent replay of a previously seen fill.
func FillAlreadyApplied(orderID int64, brokerFillID string) *Error {
	return newErr(KindFillAlreadyApplied, fmt.Sprintf("order %d fill %q already applied", orderID, brokerFillID))
}

// FillOnTerminal is raised when a fill webhook targets an order that is
// already in a terminal state.
func FillOnTerminal(orderID int64, status OrderStatus) *Error {
	return newErr(KindFillOnTerminal, fmt.Sprintf("order %d is already %s", orderID, status))
}

// InvariantViolation indicates ledger state that should be impossible;
// callers must abort the enclosing transaction.
func InvariantViolation(msg string) *Error {
	return newErr(KindInvariantViolation, msg)
}

// NotFound wraps a missing-row lookup.
func NotFound(what string, id int64) *Error {
	return newErr(KindNotFound, fmt.Sprintf("%s %d not found", what, id))
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error, otherwise returns the empty Kind.
func KindOf(err error) Kind {
	var e *Error
	if err == nil {
		return ""
	}
	if errors.As(err, &e) {
		return e.kind
	}
	return ""
}
