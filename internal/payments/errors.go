package payments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/stripe/stripe-go/v76"
)

var (
	// ErrSignatureInvalid is returned when a webhook payload fails verification.
	ErrSignatureInvalid = errors.New("payments: webhook signature invalid")
	// ErrSessionNotFound is returned when the processor has no such session.
	ErrSessionNotFound = errors.New("payments: session not found")
	// ErrInvalidRequest rejects malformed gateway requests before any network call.
	ErrInvalidRequest = errors.New("payments: invalid request")
)

// CallError wraps a failed processor call with its retry classification.
type CallError struct {
	Op        string
	Transient bool
	Attempts  int
	Err       error
}

func (e *CallError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("payments: %s failed (%s after %d attempt(s)): %v", e.Op, kind, e.Attempts, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a processor failure that may succeed on
// a later attempt.
func IsTransient(err error) bool {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Transient
	}
	return isTransient(err)
}

type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// MarkTransient flags err as retryable. Gateways that do not speak the Stripe
// error model use it to opt into the retry loop.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// isTransient classifies a raw error returned from one processor attempt.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var marked transientError
	if errors.As(err, &marked) {
		return true
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
			return true
		}
		return stripeErr.Type == stripe.ErrorTypeAPI
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
