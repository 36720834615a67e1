// Package apperrors defines the uniform error shape that reaches callers of
// the client core. No raw transport error escapes internal/client; everything
// is classified into one of the kinds below first.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and presentation decisions.
type Kind int

const (
	// KindAuth: identity cannot be established or refresh failed. Terminal;
	// the session must be reset.
	KindAuth Kind = iota
	// KindTransient: network failure, 5xx, or rate limiting after retries.
	KindTransient
	// KindValidation: 4xx other than 401/404/429. Never retried.
	KindValidation
	// KindNotFound: the entity does not exist.
	KindNotFound
	// KindPaymentPending: payment still pending after polling was exhausted.
	// Distinct from failure: the user should check back, nothing broke.
	KindPaymentPending
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindPaymentPending:
		return "payment_pending"
	default:
		return "unknown"
	}
}

// Error is the normalized shape surfaced to the view layer.
type Error struct {
	Kind    Kind
	Message string
	Details string
	wrapped error
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// New builds a normalized error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a normalized error that keeps the cause on the chain.
func Wrap(kind Kind, message string, cause error) *Error {
	e := &Error{Kind: kind, Message: message, wrapped: cause}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// WithDetails attaches server-provided detail text.
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

func kindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func IsAuth(err error) bool           { k, ok := kindOf(err); return ok && k == KindAuth }
func IsTransient(err error) bool      { k, ok := kindOf(err); return ok && k == KindTransient }
func IsValidation(err error) bool     { k, ok := kindOf(err); return ok && k == KindValidation }
func IsNotFound(err error) bool       { k, ok := kindOf(err); return ok && k == KindNotFound }
func IsPaymentPending(err error) bool { k, ok := kindOf(err); return ok && k == KindPaymentPending }
