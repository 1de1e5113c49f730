// Package billing is the payment provider boundary. Provider objects are
// converted into domain types here and nowhere else.
package billing

import (
	"context"
	"time"

	"github.com/dukerupert/reconciler/internal/domain"
)

// Provider defines the payment provider operations the reconciler needs.
type Provider interface {
	// VerifyWebhook checks the signature of a webhook delivery and decodes it.
	// Returns ErrInvalidWebhookSignature for unverifiable payloads.
	VerifyWebhook(payload []byte, signature string) (domain.Event, error)

	// GetEvent re-fetches the canonical event from the provider.
	GetEvent(ctx context.Context, eventID string) (domain.Event, error)

	// GetCheckoutSession retrieves a session with line items and payment details.
	GetCheckoutSession(ctx context.Context, sessionID string) (domain.CheckoutSession, error)

	// ListOpenCheckoutSessions returns up to limit open sessions created before cutoff.
	// Line items are not populated.
	ListOpenCheckoutSessions(ctx context.Context, cutoff time.Time, limit int) ([]domain.CheckoutSession, error)

	// ExpireCheckoutSession closes an open session so it can no longer be paid.
	ExpireCheckoutSession(ctx context.Context, sessionID string) (domain.CheckoutSession, error)

	// FindSessionByPaymentIntent returns the session that created a payment intent.
	FindSessionByPaymentIntent(ctx context.Context, paymentIntentID string) (domain.CheckoutSession, error)

	// RefundPayment creates a refund. Bookkeeping happens when the provider
	// reports it back through charge.refunded.
	RefundPayment(ctx context.Context, params RefundParams) (*Refund, error)
}

// RefundParams contains parameters for creating a refund.
type RefundParams struct {
	PaymentIntentID string

	// Amount in minor units. Zero refunds the remaining balance.
	Amount int64

	Reason string

	// IdempotencyKey makes operator retries safe.
	IdempotencyKey string
}

// Refund represents a provider refund.
type Refund struct {
	ID              string
	PaymentIntentID string
	Amount          int64
	Status          string // succeeded, pending, failed
	CreatedAt       time.Time
}
