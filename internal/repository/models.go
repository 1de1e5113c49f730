package repository

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type CheckoutReservation struct {
	ID        pgtype.UUID        `json:"id"`
	SessionID string             `json:"session_id"`
	VariantID pgtype.UUID        `json:"variant_id"`
	Quantity  int32              `json:"quantity"`
	Status    string             `json:"status"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
}

type Order struct {
	ID                  pgtype.UUID        `json:"id"`
	Status              string             `json:"status"`
	PaymentStatus       string             `json:"payment_status"`
	Currency            string             `json:"currency"`
	CustomerEmail       pgtype.Text        `json:"customer_email"`
	PaymentMethodType   pgtype.Text        `json:"payment_method_type"`
	AmountSubtotal      int64              `json:"amount_subtotal"`
	AmountTax           int64              `json:"amount_tax"`
	AmountShipping      int64              `json:"amount_shipping"`
	AmountDiscount      int64              `json:"amount_discount"`
	AmountTotal         int64              `json:"amount_total"`
	AmountRefunded      int64              `json:"amount_refunded"`
	StripePaymentIntent pgtype.Text        `json:"stripe_payment_intent"`
	StripeSessionID     string             `json:"stripe_session_id"`
	PaidAt              pgtype.Timestamptz `json:"paid_at"`
	CreatedAt           pgtype.Timestamptz `json:"created_at"`
	UpdatedAt           pgtype.Timestamptz `json:"updated_at"`
}

type OrderItem struct {
	ID                 pgtype.UUID        `json:"id"`
	OrderID            pgtype.UUID        `json:"order_id"`
	VariantID          pgtype.UUID        `json:"variant_id"`
	Description        string             `json:"description"`
	Quantity           int32              `json:"quantity"`
	UnitAmount         int64              `json:"unit_amount"`
	TotalAmount        int64              `json:"total_amount"`
	BaseCostAmount     int64              `json:"base_cost_amount"`
	PaymentFeeAmount   int64              `json:"payment_fee_amount"`
	AdjustedCostAmount int64              `json:"adjusted_cost_amount"`
	RefundedAmount     int64              `json:"refunded_amount"`
	CreatedAt          pgtype.Timestamptz `json:"created_at"`
}

type OrderTimeline struct {
	ID        int64              `json:"id"`
	OrderID   pgtype.UUID        `json:"order_id"`
	Event     string             `json:"event"`
	Message   string             `json:"message"`
	Actor     string             `json:"actor"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
}

type ReturnRequest struct {
	ID        pgtype.UUID        `json:"id"`
	OrderID   pgtype.UUID        `json:"order_id"`
	UserID    string             `json:"user_id"`
	Status    string             `json:"status"`
	Reason    string             `json:"reason"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
}

type Variant struct {
	ID             pgtype.UUID        `json:"id"`
	Sku            string             `json:"sku"`
	Name           string             `json:"name"`
	CostAmount     int64              `json:"cost_amount"`
	QuantityOnHand int32              `json:"quantity_on_hand"`
	Reserved       int32              `json:"reserved"`
	CreatedAt      pgtype.Timestamptz `json:"created_at"`
	UpdatedAt      pgtype.Timestamptz `json:"updated_at"`
}

type WebhookLedger struct {
	EventID     string             `json:"event_id"`
	EventType   string             `json:"event_type"`
	Source      string             `json:"source"`
	Status      string             `json:"status"`
	Attempts    int32              `json:"attempts"`
	Retryable   bool               `json:"retryable"`
	LastError   pgtype.Text        `json:"last_error"`
	ProcessedAt pgtype.Timestamptz `json:"processed_at"`
	CreatedAt   pgtype.Timestamptz `json:"created_at"`
	UpdatedAt   pgtype.Timestamptz `json:"updated_at"`
}
