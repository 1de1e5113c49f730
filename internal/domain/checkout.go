package domain

import "time"

// Checkout session values mirrored from the payment provider.
const (
	SessionModePayment = "payment"

	SessionStatusOpen     = "open"
	SessionStatusComplete = "complete"
	SessionStatusExpired  = "expired"

	SessionPaymentPaid              = "paid"
	SessionPaymentUnpaid            = "unpaid"
	SessionPaymentNoPaymentRequired = "no_payment_required"
)

// CheckoutSession is the provider-owned purchase attempt, read-only to this system.
type CheckoutSession struct {
	ID                string
	Mode              string
	Status            string
	PaymentStatus     string
	PaymentIntentID   string
	PaymentMethodType string
	Currency          string
	CustomerEmail     string
	AmountSubtotal    int64
	AmountTax         int64
	AmountShipping    int64
	AmountDiscount    int64
	AmountTotal       int64
	LineItems         []LineItem
	Created           time.Time
}

// LineItem is one purchased variant within a checkout session.
type LineItem struct {
	VariantID   string
	Description string
	Quantity    int64
	UnitAmount  int64
	TotalAmount int64
}

// Paid reports whether the provider has confirmed payment.
func (s CheckoutSession) Paid() bool {
	return s.PaymentStatus == SessionPaymentPaid || s.PaymentStatus == SessionPaymentNoPaymentRequired
}

// Abandoned reports whether the session is an unpaid open payment session created before cutoff.
func (s CheckoutSession) Abandoned(cutoff time.Time) bool {
	return s.Mode == SessionModePayment &&
		s.Status == SessionStatusOpen &&
		s.PaymentStatus != SessionPaymentPaid &&
		s.Created.Before(cutoff)
}
