package domain

import (
	"context"

	"github.com/dukerupert/reconciler/internal/repository"
)

// OrderStatus is the lifecycle status of an order.
type OrderStatus string

const (
	OrderPending           OrderStatus = "pending"
	OrderPaid              OrderStatus = "paid"
	OrderFailed            OrderStatus = "failed"
	OrderFulfilled         OrderStatus = "fulfilled"
	OrderCanceled          OrderStatus = "canceled"
	OrderRefunded          OrderStatus = "refunded"
	OrderPartiallyRefunded OrderStatus = "partially_refunded"
	OrderReturnApproved    OrderStatus = "return_approved"
	OrderReturnRejected    OrderStatus = "return_rejected"
)

// PaymentStatus tracks money movement independently of fulfillment.
type PaymentStatus string

const (
	PaymentUnpaid            PaymentStatus = "unpaid"
	PaymentPaid              PaymentStatus = "paid"
	PaymentFailed            PaymentStatus = "failed"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

// ReturnStatus is set by the customer-facing return flow.
type ReturnStatus string

const (
	ReturnPending  ReturnStatus = "PENDING"
	ReturnApproved ReturnStatus = "APPROVED"
	ReturnRejected ReturnStatus = "REJECTED"
)

// Timeline event names.
const (
	TimelineOrderCreated   = "order.created"
	TimelineOrderPaid      = "order.paid"
	TimelinePaymentFailed  = "order.payment_failed"
	TimelineStockShortfall = "order.stock_shortfall"
	TimelineRefunded       = "order.refunded"
	TimelineReturnUpdated  = "order.return_updated"
)

// SystemActor is recorded on timeline entries written by webhooks and recovery.
const SystemActor = "system"

// Refunded reports whether the order has had money returned.
func (s OrderStatus) Refunded() bool {
	return s == OrderRefunded || s == OrderPartiallyRefunded
}

// OrderDetail aggregates an order with its items and timeline.
type OrderDetail struct {
	Order    repository.Order            `json:"order"`
	Items    []repository.OrderItem      `json:"items"`
	Timeline []repository.OrderTimeline `json:"timeline"`
}

// FailCheckoutParams identifies a checkout whose payment failed.
// Either SessionID or PaymentIntentID must be set.
type FailCheckoutParams struct {
	SessionID       string
	PaymentIntentID string
	Reason          string
}

// RefundParams carries the provider's authoritative refund total.
type RefundParams struct {
	PaymentIntentID string
	ChargeID        string
	AmountRefunded  int64
}

// OrderService applies payment outcomes to orders and inventory.
type OrderService interface {
	// MaterializeCheckout creates (or updates) the order for a checkout session.
	// Safe to call repeatedly for the same session.
	MaterializeCheckout(ctx context.Context, session CheckoutSession) (*OrderDetail, error)

	// FailCheckout releases the session's reservation and marks any existing order failed.
	FailCheckout(ctx context.Context, params FailCheckoutParams) error

	// ExpireCheckout releases the session's reservation.
	ExpireCheckout(ctx context.Context, sessionID string) error

	// ApplyRefund records the refunded amount on the order found by payment intent.
	ApplyRefund(ctx context.Context, params RefundParams) (*OrderDetail, error)

	// ApplyReturnDecision moves an order into return_approved or return_rejected.
	ApplyReturnDecision(ctx context.Context, returnRequestID string, actor string) (*OrderDetail, error)

	// GetOrder retrieves a single order by ID.
	GetOrder(ctx context.Context, orderID string) (*OrderDetail, error)
}
