package admin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dukerupert/reconciler/internal/billing"
	"github.com/dukerupert/reconciler/internal/domain"
	"github.com/dukerupert/reconciler/internal/handler"
	"github.com/dukerupert/reconciler/internal/middleware"
)

// Refunder creates refunds at the payment provider.
type Refunder interface {
	RefundPayment(ctx context.Context, params billing.RefundParams) (*billing.Refund, error)
}

// OrderHandler serves order inspection, refunds and return synchronization.
type OrderHandler struct {
	orders   domain.OrderService
	refunder Refunder
}

func NewOrderHandler(orders domain.OrderService, refunder Refunder) *OrderHandler {
	return &OrderHandler{orders: orders, refunder: refunder}
}

type refundRequest struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"omitempty,oneof=duplicate fraudulent requested_by_customer"`
}

type refundResponse struct {
	RefundID        string    `json:"refund_id"`
	OrderID         string    `json:"order_id"`
	PaymentIntentID string    `json:"payment_intent_id"`
	Amount          int64     `json:"amount"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// HandleGetOrder returns an order with its items and timeline.
//
// GET /admin/orders/{id}
func (h *OrderHandler) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	detail, err := h.orders.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, detail)
}

// HandleCreateRefund asks the provider to refund part or all of an order.
// The order itself changes only when the provider's charge.refunded event
// arrives, so the response is 202.
//
// POST /admin/orders/{id}/refunds {"amount": 1500, "reason": "requested_by_customer"}
func (h *OrderHandler) HandleCreateRefund(w http.ResponseWriter, r *http.Request) {
	const op = "admin.CreateRefund"
	ctx := r.Context()
	orderID := r.PathValue("id")

	var req refundRequest
	if err := decodeJSONBody(r, op, &req); err != nil {
		handler.ValidationErrorResponse(w, r, err)
		return
	}

	detail, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	order := detail.Order

	switch domain.PaymentStatus(order.PaymentStatus) {
	case domain.PaymentPaid, domain.PaymentPartiallyRefunded:
	default:
		handler.ErrorResponse(w, r, domain.Invalid(op, "Only paid orders can be refunded"))
		return
	}
	if !order.StripePaymentIntent.Valid {
		handler.ErrorResponse(w, r, domain.Invalid(op, "Order has no payment intent"))
		return
	}
	if remaining := order.AmountTotal - order.AmountRefunded; req.Amount > remaining {
		handler.ErrorResponse(w, r, domain.Invalid(op,
			fmt.Sprintf("Refund of %d exceeds the refundable balance of %d", req.Amount, remaining)))
		return
	}

	// Keyed on the target cumulative amount, so a double submit creates one refund.
	key := fmt.Sprintf("refund:%s:%d", orderID, order.AmountRefunded+req.Amount)
	refund, err := h.refunder.RefundPayment(ctx, billing.RefundParams{
		PaymentIntentID: order.StripePaymentIntent.String,
		Amount:          req.Amount,
		Reason:          req.Reason,
		IdempotencyKey:  key,
	})
	if err != nil {
		handler.ErrorResponse(w, r, providerError(op, err))
		return
	}

	middleware.GetLogger(ctx).Info("refund requested",
		"order_id", orderID,
		"refund_id", refund.ID,
		"amount", req.Amount,
	)

	handler.JSON(w, http.StatusAccepted, refundResponse{
		RefundID:        refund.ID,
		OrderID:         orderID,
		PaymentIntentID: refund.PaymentIntentID,
		Amount:          refund.Amount,
		Status:          refund.Status,
		CreatedAt:       refund.CreatedAt,
	})
}

// HandleSyncReturn applies a return request's decision to its order.
//
// POST /admin/returns/{id}/sync
func (h *OrderHandler) HandleSyncReturn(w http.ResponseWriter, r *http.Request) {
	detail, err := h.orders.ApplyReturnDecision(r.Context(), r.PathValue("id"), middleware.GetActor(r.Context()))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, detail)
}

// providerError keeps the provider's message for requests it rejected and
// hides it for outages.
func providerError(op string, err error) error {
	if billing.IsTemporary(err) {
		return domain.Internal(err, op, "Payment provider unavailable")
	}
	return domain.WrapError(err, domain.EINVALID, op, "Payment provider rejected the refund: "+err.Error())
}
