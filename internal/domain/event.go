package domain

import (
	"strings"
	"time"
)

// EventType is the provider event type string.
type EventType string

const (
	EventCheckoutSessionCompleted      EventType = "checkout.session.completed"
	EventCheckoutAsyncPaymentSucceeded EventType = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncPaymentFailed    EventType = "checkout.session.async_payment_failed"
	EventCheckoutSessionExpired        EventType = "checkout.session.expired"
	EventPaymentIntentFailed           EventType = "payment_intent.payment_failed"
	EventChargeRefunded                EventType = "charge.refunded"

	// EventCheckoutRecovery is synthesized by the recovery scan for abandoned sessions.
	EventCheckoutRecovery EventType = "checkout.session.recovery"
)

// RecoveryEventPrefix prefixes event ids synthesized by the recovery scan.
const RecoveryEventPrefix = "checkout_recovery:"

// RecoveryEventID returns the synthetic event id for an abandoned session.
func RecoveryEventID(sessionID string) string {
	return RecoveryEventPrefix + sessionID
}

// RecoverySessionID extracts the session id from a synthetic recovery event id.
func RecoverySessionID(eventID string) (string, bool) {
	id, ok := strings.CutPrefix(eventID, RecoveryEventPrefix)
	return id, ok && id != ""
}

// Supported reports whether the router has a handler for t.
func (t EventType) Supported() bool {
	switch t {
	case EventCheckoutSessionCompleted, EventCheckoutAsyncPaymentSucceeded,
		EventCheckoutAsyncPaymentFailed, EventCheckoutSessionExpired,
		EventPaymentIntentFailed, EventChargeRefunded, EventCheckoutRecovery:
		return true
	}
	return false
}

// EventSource records how an event reached the router.
type EventSource string

const (
	SourceWebhook  EventSource = "webhook"
	SourceRecovery EventSource = "recovery"
	SourceManual   EventSource = "manual"
)

// Event is a verified provider event. Payload is one of SessionPayload,
// PaymentIntentPayload, ChargePayload or UnknownPayload.
type Event struct {
	ID      string
	Type    EventType
	Created time.Time
	Payload EventPayload
}

// EventPayload is the closed set of payload variants.
type EventPayload interface {
	isEventPayload()
}

// SessionPayload is carried by checkout.session.* and recovery events.
type SessionPayload struct {
	Session CheckoutSession
}

// PaymentIntentPayload is carried by payment_intent.payment_failed.
type PaymentIntentPayload struct {
	PaymentIntentID string
	SessionID       string // from intent metadata, when the checkout set it
	FailureCode     string
	FailureMessage  string
}

// ChargePayload is carried by charge.refunded.
type ChargePayload struct {
	ChargeID        string
	PaymentIntentID string
	Amount          int64
	AmountRefunded  int64
}

// UnknownPayload is carried by event types this system does not handle.
type UnknownPayload struct {
	ObjectType string
}

func (SessionPayload) isEventPayload()       {}
func (PaymentIntentPayload) isEventPayload() {}
func (ChargePayload) isEventPayload()        {}
func (UnknownPayload) isEventPayload()       {}
