// Package webhook receives provider webhook deliveries.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/reconciler/internal/billing"
	"github.com/dukerupert/reconciler/internal/domain"
	"github.com/dukerupert/reconciler/internal/handler"
	"github.com/dukerupert/reconciler/internal/middleware"
	"github.com/dukerupert/reconciler/internal/telemetry"
)

const signatureHeader = "Stripe-Signature"

// EventRouter routes a verified event under the idempotency ledger.
type EventRouter interface {
	Route(ctx context.Context, event domain.Event, source domain.EventSource) error
}

// StripeHandler handles Stripe webhook events
type StripeHandler struct {
	provider billing.Provider
	router   EventRouter
}

// NewStripeHandler creates a new Stripe webhook handler
func NewStripeHandler(provider billing.Provider, router EventRouter) *StripeHandler {
	return &StripeHandler{
		provider: provider,
		router:   router,
	}
}

type ackResponse struct {
	Received bool   `json:"received"`
	EventID  string `json:"event_id,omitempty"`
	Status   string `json:"status,omitempty"`
}

// HandleWebhook verifies and routes one delivery. It answers 2xx only once
// the event is durably processed:
//
//	401  signature missing or invalid; nothing is recorded
//	409  the event is being processed elsewhere; the provider redelivers later
//	200  processed or already processed
//	422  unsupported event type; recorded failed and never retried automatically
//	500  the handler failed; the ledger entry is failed and redelivery retries it
//
// Stripe CLI testing:
//
//	stripe listen --forward-to localhost:3000/webhooks/stripe
//	stripe trigger checkout.session.completed
func (h *StripeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const op = "webhook.Stripe"
	logger := middleware.GetLogger(r.Context())

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			reject("payload")
			handler.ErrorResponse(w, r, domain.Errorf(domain.ETOOLARGE, op, "Payload too large"))
			return
		}
		reject("read")
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, op, "Error reading request body"))
		return
	}

	signature := r.Header.Get(signatureHeader)
	if signature == "" {
		reject("signature")
		handler.ErrorResponse(w, r, domain.Unauthorized(op, "Missing signature"))
		return
	}

	event, err := h.provider.VerifyWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, billing.ErrMalformedEvent) && !errors.Is(err, billing.ErrInvalidWebhookSignature) {
			reject("payload")
			handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, op, "Malformed event"))
			return
		}
		reject("signature")
		logger.Warn("webhook signature verification failed", slog.String("error", err.Error()))
		handler.ErrorResponse(w, r, domain.Unauthorized(op, "Invalid signature"))
		return
	}

	logger = logger.With(
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
	)
	if telemetry.Business != nil {
		telemetry.Business.WebhookReceived.WithLabelValues(string(event.Type)).Inc()
	}

	err = h.router.Route(r.Context(), event, domain.SourceWebhook)
	switch {
	case err == nil:
		handler.JSON(w, http.StatusOK, ackResponse{Received: true, EventID: event.ID})

	case errors.Is(err, domain.ErrUnsupportedEventType):
		logger.Warn("unsupported event type recorded as failed")
		handler.JSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": map[string]string{
				"code":    "unsupported_event_type",
				"message": "Unsupported event type: " + string(event.Type),
			},
			"event_id": event.ID,
			"status":   string(domain.LedgerFailed),
		})

	case errors.Is(err, domain.ErrProcessingConflict):
		handler.ErrorResponse(w, r, err)

	default:
		// The router has logged and reported the failure.
		handler.JSON(w, http.StatusInternalServerError, map[string]any{
			"error": map[string]string{
				"code":    domain.EINTERNAL,
				"message": "Event processing failed",
			},
		})
	}
}

func reject(reason string) {
	if telemetry.Business != nil {
		telemetry.Business.WebhookRejected.WithLabelValues(reason).Inc()
	}
}
