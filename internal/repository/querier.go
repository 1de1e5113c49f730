package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

type Querier interface {
	// Idempotency ledger
	InsertLedgerEntry(ctx context.Context, arg InsertLedgerEntryParams) (WebhookLedger, error)
	GetLedgerEntry(ctx context.Context, eventID string) (WebhookLedger, error)
	ClaimLedgerEntry(ctx context.Context, eventID string) (WebhookLedger, error)
	CompleteLedgerEntry(ctx context.Context, arg CompleteLedgerEntryParams) (WebhookLedger, error)
	ListRetryableFailedEntries(ctx context.Context, arg ListRetryableFailedEntriesParams) ([]WebhookLedger, error)
	ListStaleProcessingEntries(ctx context.Context, arg ListStaleProcessingEntriesParams) ([]WebhookLedger, error)

	// Inventory
	CreateVariant(ctx context.Context, arg CreateVariantParams) (Variant, error)
	GetVariant(ctx context.Context, id pgtype.UUID) (Variant, error)
	ReserveVariantStock(ctx context.Context, arg VariantStockParams) (Variant, error)
	ReleaseVariantStock(ctx context.Context, arg VariantStockParams) (Variant, error)
	DeductVariantStock(ctx context.Context, arg VariantStockParams) (Variant, error)
	DeductUnreservedStock(ctx context.Context, arg VariantStockParams) (DeductUnreservedStockRow, error)
	CreateCheckoutReservation(ctx context.Context, arg CreateCheckoutReservationParams) (CheckoutReservation, error)
	TransitionSessionReservations(ctx context.Context, arg TransitionSessionReservationsParams) ([]CheckoutReservation, error)

	// Orders
	LockCheckoutSession(ctx context.Context, sessionID string) error
	CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error)
	GetOrder(ctx context.Context, id pgtype.UUID) (Order, error)
	GetOrderBySessionID(ctx context.Context, stripeSessionID string) (Order, error)
	GetOrderByPaymentIntent(ctx context.Context, stripePaymentIntent pgtype.Text) (Order, error)
	GetOrderByPaymentIntentForUpdate(ctx context.Context, stripePaymentIntent pgtype.Text) (Order, error)
	UpdateOrderPayment(ctx context.Context, arg UpdateOrderPaymentParams) (Order, error)
	UpdateOrderRefund(ctx context.Context, arg UpdateOrderRefundParams) (Order, error)
	UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error)
	CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error)
	ListOrderItems(ctx context.Context, orderID pgtype.UUID) ([]OrderItem, error)
	UpdateOrderItemRefund(ctx context.Context, arg UpdateOrderItemRefundParams) error
	InsertOrderTimeline(ctx context.Context, arg InsertOrderTimelineParams) (OrderTimeline, error)
	ListOrderTimeline(ctx context.Context, orderID pgtype.UUID) ([]OrderTimeline, error)

	// Returns
	CreateReturnRequest(ctx context.Context, arg CreateReturnRequestParams) (ReturnRequest, error)
	GetReturnRequest(ctx context.Context, id pgtype.UUID) (ReturnRequest, error)
}

var _ Querier = (*Queries)(nil)
