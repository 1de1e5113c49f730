package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukerupert/reconciler/internal/domain"
	"github.com/dukerupert/reconciler/internal/telemetry"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"
)

// Expansions needed to build a complete domain.CheckoutSession.
var sessionExpand = []string{
	"line_items.data.price.product",
	"payment_intent.latest_charge",
}

// StripeProvider implements Provider using Stripe.
type StripeProvider struct {
	client *stripe.Client
	config StripeConfig
	logger *slog.Logger
}

// NewStripeProvider creates a new Stripe billing provider.
func NewStripeProvider(cfg StripeConfig, logger *slog.Logger) (*StripeProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &StripeProvider{
		client: stripe.NewClient(cfg.APIKey),
		config: cfg,
		logger: logger,
	}, nil
}

// VerifyWebhook verifies a Stripe webhook signature and decodes the event.
// API version mismatches are tolerated; decoding reads only stable fields.
func (s *StripeProvider) VerifyWebhook(payload []byte, signature string) (domain.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return domain.Event{}, errors.Join(ErrInvalidWebhookSignature, err)
	}
	return decodeEvent(&event)
}

// GetEvent retrieves an event by id.
func (s *StripeProvider) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	ctx, done := s.call(ctx, "retrieve_event")
	defer done()

	event, err := s.client.V1Events.Retrieve(ctx, eventID, &stripe.EventRetrieveParams{})
	if err != nil {
		return domain.Event{}, wrapStripeError("retrieve_event", err)
	}
	return decodeEvent(event)
}

// GetCheckoutSession retrieves a session with line items, products and the latest charge expanded.
func (s *StripeProvider) GetCheckoutSession(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	ctx, done := s.call(ctx, "retrieve_session")
	defer done()

	params := &stripe.CheckoutSessionRetrieveParams{}
	for _, e := range sessionExpand {
		params.AddExpand(e)
	}

	session, err := s.client.V1CheckoutSessions.Retrieve(ctx, sessionID, params)
	if err != nil {
		return domain.CheckoutSession{}, wrapStripeError("retrieve_session", err)
	}
	return sessionFromStripe(session), nil
}

// ListOpenCheckoutSessions lists open sessions created before cutoff, newest first,
// stopping after limit sessions.
func (s *StripeProvider) ListOpenCheckoutSessions(ctx context.Context, cutoff time.Time, limit int) ([]domain.CheckoutSession, error) {
	ctx, done := s.call(ctx, "list_sessions")
	defer done()

	params := &stripe.CheckoutSessionListParams{
		Status: stripe.String(string(stripe.CheckoutSessionStatusOpen)),
		CreatedRange: &stripe.RangeQueryParams{
			LesserThan: cutoff.Unix(),
		},
	}
	params.Limit = stripe.Int64(int64(min(limit, 100)))

	sessions := make([]domain.CheckoutSession, 0, limit)
	for session, err := range s.client.V1CheckoutSessions.List(ctx, params) {
		if err != nil {
			return sessions, wrapStripeError("list_sessions", err)
		}
		sessions = append(sessions, sessionFromStripe(session))
		if len(sessions) >= limit {
			break
		}
	}
	return sessions, nil
}

// ExpireCheckoutSession expires an open session.
func (s *StripeProvider) ExpireCheckoutSession(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	ctx, done := s.call(ctx, "expire_session")
	defer done()

	session, err := s.client.V1CheckoutSessions.Expire(ctx, sessionID, &stripe.CheckoutSessionExpireParams{})
	if err != nil {
		return domain.CheckoutSession{}, wrapStripeError("expire_session", err)
	}
	return sessionFromStripe(session), nil
}

// FindSessionByPaymentIntent looks up the session that owns a payment intent.
func (s *StripeProvider) FindSessionByPaymentIntent(ctx context.Context, paymentIntentID string) (domain.CheckoutSession, error) {
	ctx, done := s.call(ctx, "list_sessions")
	defer done()

	params := &stripe.CheckoutSessionListParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	params.Limit = stripe.Int64(1)

	for session, err := range s.client.V1CheckoutSessions.List(ctx, params) {
		if err != nil {
			return domain.CheckoutSession{}, wrapStripeError("list_sessions", err)
		}
		return sessionFromStripe(session), nil
	}
	return domain.CheckoutSession{}, domain.WrapError(domain.ErrSessionNotFound, domain.ENOTFOUND,
		"billing.FindSessionByPaymentIntent", "No checkout session for payment intent "+paymentIntentID)
}

// RefundPayment refunds a payment intent, fully when Amount is zero.
func (s *StripeProvider) RefundPayment(ctx context.Context, params RefundParams) (*Refund, error) {
	ctx, done := s.call(ctx, "create_refund")
	defer done()

	rp := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(params.PaymentIntentID),
	}
	if params.Amount > 0 {
		rp.Amount = stripe.Int64(params.Amount)
	}
	if params.Reason != "" {
		rp.Reason = stripe.String(params.Reason)
	}
	if params.IdempotencyKey != "" {
		rp.SetIdempotencyKey(params.IdempotencyKey)
	}

	refund, err := s.client.V1Refunds.Create(ctx, rp)
	if err != nil {
		return nil, wrapStripeError("create_refund", err)
	}

	return &Refund{
		ID:              refund.ID,
		PaymentIntentID: params.PaymentIntentID,
		Amount:          refund.Amount,
		Status:          string(refund.Status),
		CreatedAt:       time.Unix(refund.Created, 0).UTC(),
	}, nil
}

// call bounds a provider call by the configured timeout and records its latency.
func (s *StripeProvider) call(ctx context.Context, operation string) (context.Context, func()) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.config.timeout())
	return ctx, func() {
		cancel()
		elapsed := time.Since(start)
		if telemetry.Business != nil {
			telemetry.Business.StripeAPILatency.WithLabelValues(operation).Observe(elapsed.Seconds())
		}
		s.logger.Debug("stripe call", slog.String("operation", operation), slog.Duration("duration", elapsed))
	}
}
