// Package reconcile routes verified provider events to their handlers under
// the idempotency ledger, and replays failed ones.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukerupert/reconciler/internal/billing"
	"github.com/dukerupert/reconciler/internal/domain"
	"github.com/dukerupert/reconciler/internal/ledger"
	"github.com/dukerupert/reconciler/internal/telemetry"
	"go.uber.org/multierr"
)

// Router dispatches each event to exactly one handler. The ledger is claimed
// before dispatch and completed after it on every path, panics included.
type Router struct {
	ledger   *ledger.Service
	orders   domain.OrderService
	provider billing.Provider
	logger   *slog.Logger
}

func NewRouter(l *ledger.Service, orders domain.OrderService, provider billing.Provider, logger *slog.Logger) *Router {
	return &Router{
		ledger:   l,
		orders:   orders,
		provider: provider,
		logger:   logger,
	}
}

// Route records, claims, dispatches and completes one event.
//
// Returns nil when the event was already processed. Returns an error matching
// domain.ErrProcessingConflict when another worker holds it, and the handler's
// error when it failed; the ledger entry is then failed.
func (r *Router) Route(ctx context.Context, event domain.Event, source domain.EventSource) error {
	const op = "reconcile.Route"
	if event.ID == "" {
		return domain.Invalid(op, "Event ID is required")
	}

	start := time.Now()
	logger := r.logger.With(
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
		slog.String("source", string(source)),
	)

	isNew, err := r.ledger.RecordSeen(ctx, event.ID, event.Type, source)
	if err != nil {
		return err
	}
	if !isNew {
		logger.Debug("event seen before")
	}

	if _, err := r.ledger.BeginProcessing(ctx, event.ID); err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyProcessed):
			logger.Info("event already processed, skipping")
			r.countDuplicate(event.Type, "processed")
			return nil
		case errors.Is(err, domain.ErrProcessingConflict):
			logger.Info("event is being processed elsewhere")
			r.countDuplicate(event.Type, "conflict")
		}
		return err
	}

	handleErr := r.safeDispatch(ctx, event, logger)

	outcome := domain.Succeeded()
	if handleErr != nil {
		outcome = domain.FailedWith(handleErr, Retryable(handleErr))
	}

	// The ledger must leave processing even when the caller has gone away.
	if _, err := r.ledger.Complete(context.WithoutCancel(ctx), event.ID, outcome); err != nil {
		logger.Error("failed to complete ledger entry", slog.String("error", err.Error()))
		return multierr.Append(handleErr, err)
	}

	r.record(event.Type, source, outcome, time.Since(start))

	if handleErr != nil {
		logger.Error("event handling failed",
			slog.String("outcome", string(outcome.Status())),
			slog.Bool("retryable", outcome.Retryable),
			slog.String("error", handleErr.Error()),
		)
		if domain.ErrorCode(handleErr) == domain.EINTERNAL {
			telemetry.CaptureEventError(handleErr, event.ID, string(event.Type), string(source), nil)
		}
		return handleErr
	}

	logger.Info("event processed", slog.String("outcome", string(outcome.Status())))
	return nil
}

// Retryable reports whether automatic recovery may replay a failure.
// Invalid input, unsupported types included, needs an operator.
func Retryable(err error) bool {
	return domain.ErrorCode(err) != domain.EINVALID
}

func (r *Router) safeDispatch(ctx context.Context, event domain.Event, logger *slog.Logger) (err error) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("panic while handling event", slog.Any("panic", p))
			err = domain.Internal(fmt.Errorf("panic: %v", p), "reconcile.dispatch", "event handler panicked")
		}
	}()
	return r.dispatch(ctx, event, logger)
}

func (r *Router) dispatch(ctx context.Context, event domain.Event, logger *slog.Logger) error {
	const op = "reconcile.dispatch"

	switch event.Type {
	case domain.EventCheckoutSessionCompleted, domain.EventCheckoutAsyncPaymentSucceeded:
		p, err := sessionPayload(event)
		if err != nil {
			return err
		}
		session, err := r.completeSession(ctx, p.Session)
		if err != nil {
			return err
		}
		_, err = r.orders.MaterializeCheckout(ctx, session)
		return err

	case domain.EventCheckoutAsyncPaymentFailed:
		p, err := sessionPayload(event)
		if err != nil {
			return err
		}
		r.countPaymentFailed(event.Type)
		return r.orders.FailCheckout(ctx, domain.FailCheckoutParams{
			SessionID:       p.Session.ID,
			PaymentIntentID: p.Session.PaymentIntentID,
			Reason:          "asynchronous payment failed",
		})

	case domain.EventPaymentIntentFailed:
		p, ok := event.Payload.(domain.PaymentIntentPayload)
		if !ok || p.PaymentIntentID == "" {
			return domain.Invalid(op, "payment_intent.payment_failed without a payment intent")
		}
		r.countPaymentFailed(event.Type)
		return r.failPaymentIntent(ctx, p, logger)

	case domain.EventCheckoutSessionExpired:
		p, err := sessionPayload(event)
		if err != nil {
			return err
		}
		return r.orders.ExpireCheckout(ctx, p.Session.ID)

	case domain.EventChargeRefunded:
		p, ok := event.Payload.(domain.ChargePayload)
		if !ok || p.PaymentIntentID == "" {
			return domain.Invalid(op, "charge.refunded without a payment intent")
		}
		_, err := r.orders.ApplyRefund(ctx, domain.RefundParams{
			PaymentIntentID: p.PaymentIntentID,
			ChargeID:        p.ChargeID,
			AmountRefunded:  p.AmountRefunded,
		})
		return err

	case domain.EventCheckoutRecovery:
		p, err := sessionPayload(event)
		if err != nil {
			return err
		}
		return r.recoverSession(ctx, p.Session.ID, logger)
	}

	return domain.WrapError(domain.ErrUnsupportedEventType, domain.EINVALID, op,
		"Unsupported event type: "+string(event.Type))
}

// completeSession returns the session with line items, fetching it from the
// provider when the event carried a bare session.
func (r *Router) completeSession(ctx context.Context, s domain.CheckoutSession) (domain.CheckoutSession, error) {
	if len(s.LineItems) > 0 {
		return s, nil
	}
	full, err := r.provider.GetCheckoutSession(ctx, s.ID)
	if err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("fetch checkout session %s: %w", s.ID, err)
	}
	return full, nil
}

// failPaymentIntent resolves the session through the order, then the intent's
// metadata, then a provider lookup. An intent with no checkout session has
// nothing to release.
func (r *Router) failPaymentIntent(ctx context.Context, p domain.PaymentIntentPayload, logger *slog.Logger) error {
	params := domain.FailCheckoutParams{
		SessionID:       p.SessionID,
		PaymentIntentID: p.PaymentIntentID,
		Reason:          failureReason(p),
	}

	err := r.orders.FailCheckout(ctx, params)
	if !errors.Is(err, domain.ErrSessionNotFound) {
		return err
	}

	session, err := r.provider.FindSessionByPaymentIntent(ctx, p.PaymentIntentID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		logger.Info("payment intent has no checkout session, nothing to release",
			slog.String("payment_intent", p.PaymentIntentID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("find session for payment intent %s: %w", p.PaymentIntentID, err)
	}

	params.SessionID = session.ID
	return r.orders.FailCheckout(ctx, params)
}

// recoverSession resolves an abandoned session against its current provider state.
func (r *Router) recoverSession(ctx context.Context, sessionID string, logger *slog.Logger) error {
	session, err := r.provider.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("fetch checkout session %s: %w", sessionID, err)
	}

	logger = logger.With(
		slog.String("session_id", sessionID),
		slog.String("session_status", session.Status),
		slog.String("payment_status", session.PaymentStatus),
	)

	switch session.Status {
	case domain.SessionStatusOpen:
		if _, err := r.provider.ExpireCheckoutSession(ctx, sessionID); err != nil {
			return fmt.Errorf("expire checkout session %s: %w", sessionID, err)
		}
		logger.Info("expired abandoned checkout session")
		return r.orders.ExpireCheckout(ctx, sessionID)

	case domain.SessionStatusExpired:
		return r.orders.ExpireCheckout(ctx, sessionID)

	case domain.SessionStatusComplete:
		if !session.Paid() {
			logger.Info("checkout awaiting delayed payment, leaving reservation held")
			return nil
		}
		_, err := r.orders.MaterializeCheckout(ctx, session)
		return err
	}

	return domain.Invalid("reconcile.recoverSession", "Unknown checkout session status: "+session.Status)
}

func sessionPayload(event domain.Event) (domain.SessionPayload, error) {
	p, ok := event.Payload.(domain.SessionPayload)
	if !ok || p.Session.ID == "" {
		return p, domain.Invalid("reconcile.dispatch", string(event.Type)+" without a checkout session")
	}
	return p, nil
}

func failureReason(p domain.PaymentIntentPayload) string {
	switch {
	case p.FailureCode != "" && p.FailureMessage != "":
		return p.FailureCode + ": " + p.FailureMessage
	case p.FailureMessage != "":
		return p.FailureMessage
	}
	return p.FailureCode
}

func (r *Router) record(t domain.EventType, source domain.EventSource, outcome domain.Outcome, elapsed time.Duration) {
	if telemetry.Business == nil {
		return
	}
	telemetry.Business.EventLatency.WithLabelValues(string(t)).Observe(elapsed.Seconds())
	if outcome.Err == nil {
		telemetry.Business.EventsProcessed.WithLabelValues(string(t), string(source)).Inc()
		return
	}
	telemetry.Business.EventsFailed.WithLabelValues(string(t), string(source), strconv.FormatBool(outcome.Retryable)).Inc()
}

func (r *Router) countDuplicate(t domain.EventType, reason string) {
	if telemetry.Business != nil {
		telemetry.Business.EventsDuplicate.WithLabelValues(string(t), reason).Inc()
	}
}

func (r *Router) countPaymentFailed(t domain.EventType) {
	if telemetry.Business != nil {
		telemetry.Business.PaymentFailed.WithLabelValues(string(t)).Inc()
	}
}
