package billing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/stripe/stripe-go/v83"
)

var (
	// ErrInvalidAPIKey is returned when the Stripe API key is invalid or missing.
	ErrInvalidAPIKey = errors.New("billing: invalid or missing API key")

	// ErrInvalidWebhookSignature is returned when webhook signature verification fails.
	ErrInvalidWebhookSignature = errors.New("billing: invalid webhook signature")

	// ErrMalformedEvent is returned when a verified event cannot be decoded.
	ErrMalformedEvent = errors.New("billing: malformed event payload")
)

// ProviderError wraps a Stripe API error with additional context.
type ProviderError struct {
	Op         string // Provider operation (e.g., "retrieve_session")
	Message    string // Human-readable error message
	Code       string // Stripe error code (e.g., "resource_missing")
	StatusCode int    // HTTP status code from Stripe
	RequestID  string // Stripe request ID for debugging
	Err        error  // Original error from the Stripe SDK or transport
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe %s: %s (code: %s)", e.Op, e.Message, e.Code)
	}
	return fmt.Sprintf("stripe %s: %s", e.Op, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the failure is transient: rate limiting, a
// provider-side 5xx, a timeout, or a transport error.
func (e *ProviderError) Temporary() bool {
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError {
		return true
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(e.Err, &netErr) {
		return true
	}
	return e.StatusCode == 0 && e.Code == ""
}

// NotFound reports whether the provider has no such object.
func (e *ProviderError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound || e.Code == string(stripe.ErrorCodeResourceMissing)
}

// IsNotFound reports whether err is a provider not-found error.
func IsNotFound(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.NotFound()
}

// IsTemporary reports whether err is a transient provider error.
func IsTemporary(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Temporary()
}

func wrapStripeError(op string, err error) error {
	if err == nil {
		return nil
	}

	var se *stripe.Error
	if errors.As(err, &se) {
		return &ProviderError{
			Op:         op,
			Message:    se.Msg,
			Code:       string(se.Code),
			StatusCode: se.HTTPStatusCode,
			RequestID:  se.RequestID,
			Err:        err,
		}
	}
	return &ProviderError{Op: op, Message: err.Error(), Err: err}
}
