package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/reconciler/internal/domain"
	"github.com/stripe/stripe-go/v83"
)

// Metadata keys written by the checkout creator.
const (
	MetadataVariantID         = "variant_id"
	MetadataCheckoutSessionID = "checkout_session_id"
)

// decodeEvent converts a verified Stripe event into the domain event union.
// Unhandled types decode to UnknownPayload so the router can record them.
func decodeEvent(e *stripe.Event) (domain.Event, error) {
	event := domain.Event{
		ID:      e.ID,
		Type:    domain.EventType(e.Type),
		Created: time.Unix(e.Created, 0).UTC(),
	}
	if e.Data == nil {
		return event, fmt.Errorf("%w: event %s has no data", ErrMalformedEvent, e.ID)
	}

	switch event.Type {
	case domain.EventCheckoutSessionCompleted,
		domain.EventCheckoutAsyncPaymentSucceeded,
		domain.EventCheckoutAsyncPaymentFailed,
		domain.EventCheckoutSessionExpired:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(e.Data.Raw, &s); err != nil {
			return event, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		event.Payload = domain.SessionPayload{Session: sessionFromStripe(&s)}

	case domain.EventPaymentIntentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(e.Data.Raw, &pi); err != nil {
			return event, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		p := domain.PaymentIntentPayload{
			PaymentIntentID: pi.ID,
			SessionID:       pi.Metadata[MetadataCheckoutSessionID],
		}
		if pi.LastPaymentError != nil {
			p.FailureCode = string(pi.LastPaymentError.Code)
			p.FailureMessage = pi.LastPaymentError.Msg
		}
		event.Payload = p

	case domain.EventChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(e.Data.Raw, &ch); err != nil {
			return event, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		p := domain.ChargePayload{
			ChargeID:       ch.ID,
			Amount:         ch.Amount,
			AmountRefunded: ch.AmountRefunded,
		}
		if ch.PaymentIntent != nil {
			p.PaymentIntentID = ch.PaymentIntent.ID
		}
		event.Payload = p

	default:
		objectType, _ := e.Data.Object["object"].(string)
		event.Payload = domain.UnknownPayload{ObjectType: objectType}
	}

	return event, nil
}

// sessionFromStripe copies the fields the reconciler reads. Line items are
// present only when the session was retrieved with them expanded.
func sessionFromStripe(s *stripe.CheckoutSession) domain.CheckoutSession {
	session := domain.CheckoutSession{
		ID:             s.ID,
		Mode:           string(s.Mode),
		Status:         string(s.Status),
		PaymentStatus:  string(s.PaymentStatus),
		Currency:       string(s.Currency),
		CustomerEmail:  s.CustomerEmail,
		AmountSubtotal: s.AmountSubtotal,
		AmountTotal:    s.AmountTotal,
		Created:        time.Unix(s.Created, 0).UTC(),
	}

	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		session.CustomerEmail = s.CustomerDetails.Email
	}
	if s.TotalDetails != nil {
		session.AmountTax = s.TotalDetails.AmountTax
		session.AmountShipping = s.TotalDetails.AmountShipping
		session.AmountDiscount = s.TotalDetails.AmountDiscount
	}
	if s.PaymentIntent != nil {
		session.PaymentIntentID = s.PaymentIntent.ID
		session.PaymentMethodType = paymentMethodType(s.PaymentIntent)
	}
	if session.PaymentMethodType == "" && len(s.PaymentMethodTypes) > 0 {
		session.PaymentMethodType = s.PaymentMethodTypes[0]
	}

	if s.LineItems != nil {
		for _, li := range s.LineItems.Data {
			if li == nil {
				continue
			}
			session.LineItems = append(session.LineItems, lineItemFromStripe(li))
		}
	}

	return session
}

// paymentMethodType prefers the method actually charged over the intent's allowed list.
func paymentMethodType(pi *stripe.PaymentIntent) string {
	if pi.LatestCharge != nil && pi.LatestCharge.PaymentMethodDetails != nil {
		if t := string(pi.LatestCharge.PaymentMethodDetails.Type); t != "" {
			return t
		}
	}
	if len(pi.PaymentMethodTypes) > 0 {
		return pi.PaymentMethodTypes[0]
	}
	return ""
}

func lineItemFromStripe(li *stripe.LineItem) domain.LineItem {
	item := domain.LineItem{
		Description: li.Description,
		Quantity:    li.Quantity,
		TotalAmount: li.AmountTotal,
	}
	if li.Price != nil {
		item.UnitAmount = li.Price.UnitAmount
		if li.Price.Product != nil {
			item.VariantID = li.Price.Product.Metadata[MetadataVariantID]
		}
		if item.VariantID == "" {
			item.VariantID = li.Price.Metadata[MetadataVariantID]
		}
	}
	if item.UnitAmount == 0 && li.Quantity > 0 {
		item.UnitAmount = li.AmountSubtotal / li.Quantity
	}
	return item
}
