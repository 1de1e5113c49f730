package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, status, payment_status, currency, customer_email, payment_method_type,
    amount_subtotal, amount_tax, amount_shipping, amount_discount, amount_total, amount_refunded,
    stripe_payment_intent, stripe_session_id, paid_at, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }, i *Order) error {
	return row.Scan(
		&i.ID,
		&i.Status,
		&i.PaymentStatus,
		&i.Currency,
		&i.CustomerEmail,
		&i.PaymentMethodType,
		&i.AmountSubtotal,
		&i.AmountTax,
		&i.AmountShipping,
		&i.AmountDiscount,
		&i.AmountTotal,
		&i.AmountRefunded,
		&i.StripePaymentIntent,
		&i.StripeSessionID,
		&i.PaidAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
}

const lockCheckoutSession = `-- name: LockCheckoutSession :exec
SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

// LockCheckoutSession serializes work on one checkout session until the
// surrounding transaction ends. Outside a transaction it is a no-op.
func (q *Queries) LockCheckoutSession(ctx context.Context, sessionID string) error {
	_, err := q.db.Exec(ctx, lockCheckoutSession, sessionID)
	return err
}

const createOrder = `-- name: CreateOrder :one
INSERT INTO orders (
    status, payment_status, currency, customer_email, payment_method_type,
    amount_subtotal, amount_tax, amount_shipping, amount_discount, amount_total,
    stripe_payment_intent, stripe_session_id, paid_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING ` + orderColumns

type CreateOrderParams struct {
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
	StripePaymentIntent pgtype.Text        `json:"stripe_payment_intent"`
	StripeSessionID     string             `json:"stripe_session_id"`
	PaidAt              pgtype.Timestamptz `json:"paid_at"`
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, createOrder,
		arg.Status,
		arg.PaymentStatus,
		arg.Currency,
		arg.CustomerEmail,
		arg.PaymentMethodType,
		arg.AmountSubtotal,
		arg.AmountTax,
		arg.AmountShipping,
		arg.AmountDiscount,
		arg.AmountTotal,
		arg.StripePaymentIntent,
		arg.StripeSessionID,
		arg.PaidAt,
	)
	var i Order
	err := scanOrder(row, &i)
	return i, err
}

const getOrder = `-- name: GetOrder :one
SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

func (q *Queries) GetOrder(ctx context.Context, id pgtype.UUID) (Order, error) {
	row := q.db.QueryRow(ctx, getOrder, id)
	var i Order
	err := scanOrder(row, &i)
	return i, err
}

const getOrderBySessionID = `-- name: GetOrderBySessionID :one
SELECT ` + orderColumns + ` FROM orders WHERE stripe_session_id = $1`

func (q *Queries) GetOrderBySessionID(ctx context.Context, stripeSessionID string) (Order, error) {
	row := q.db.QueryRow(ctx, getOrderBySessionID, stripeSessionID)
	var i Order
	err := scanOrder(row, &i)
	return i, err
}

const getOrderByPaymentIntent = `-- name: GetOrderByPaymentIntent :one
SELECT ` + orderColumns + `
FROM orders
WHERE stripe_payment_intent = $1
ORDER BY created_at
LIMIT 1`

func (q *Queries) GetOrderByPaymentIntent(ctx context.Context, stripePaymentIntent pgtype.Text) (Order, error) {
	row := q.db.QueryRow(ctx, getOrderByPaymentIntent, stripePaymentIntent)
	var i Order
	err := scanOrder(row, &i)
	return i, err
}

const getOrderByPaymentIntentForUpdate = `-- name: GetOrderByPaymentIntentForUpdate :one
SELECT ` + orderColumns + `
FROM orders
WHERE stripe_payment_intent = $1
ORDER BY created_at
LIMIT 1
FOR UPDATE`

func (q *Queries) GetOrderByPaymentIntentForUpdate(ctx context.Context, stripePaymentIntent pgtype.Text) (Order, error) {
	row := q.db.QueryRow(ctx, getOrderByPaymentIntentForUpdate, stripePaymentIntent)
	var i Order
	err := scanOrder(row, &i)
	return i, err
}

const updateOrderPayment = `-- name: UpdateOrderPayment :one
UPDATE orders
SET status = $2,
    payment_status = $3,
    stripe_payment_intent = COALESCE($4, stripe_payment_intent),
    payment_method_type = COALESCE($5, payment_method_type),
    paid_at = COALESCE($6, paid_at),
    updated_at = now()
WHERE id = $1
RETURNING ` + orderColumns

type UpdateOrderPaymentParams struct {
	ID                  pgtype.UUID        `json:"id"`
	Status              string             `json:"status"`
	PaymentStatus       string             `json:"payment_status"`
	StripePaymentIntent pgtype.Text        `json:"stripe_payment_intent"`
	PaymentMethodType   pgtype.Text        `json:"payment_method_type"`
	PaidAt              pgtype.Timestamptz `json:"paid_at"`
}

// UpdateOrderPayment keeps the stored payment intent, method and paid_at when the
// corresponding argument is NULL.
func (q *Queries) UpdateOrderPayment(ctx context.Context, arg UpdateOrderPaymentParams) (Order, error) {
	row := q.db.QueryRow(ctx, updateOrderPayment,
		arg.ID,
		arg.Status,
		arg.PaymentStatus,
		arg.StripePaymentIntent,
		arg.PaymentMethodType,
		arg.PaidAt,
	)
	var i Order
	err := scanOrder(row, &i)
	return i, err
}

const updateOrderRefund = `-- name: UpdateOrderRefund :one
UPDATE orders
SET amount_refunded = $2,
    status = $3,
    payment_status = $4,
    updated_at = now()
WHERE id = $1
RETURNING ` + orderColumns

type UpdateOrderRefundParams struct {
	ID             pgtype.UUID `json:"id"`
	AmountRefunded int64       `json:"amount_refunded"`
	Status         string      `json:"status"`
	PaymentStatus  string      `json:"payment_status"`
}

func (q *Queries) UpdateOrderRefund(ctx context.Context, arg UpdateOrderRefundParams) (Order, error) {
	row := q.db.QueryRow(ctx, updateOrderRefund, arg.ID, arg.AmountRefunded, arg.Status, arg.PaymentStatus)
	var i Order
	err := scanOrder(row, &i)
	return i, err
}

const updateOrderStatus = `-- name: UpdateOrderStatus :one
UPDATE orders
SET status = $2,
    updated_at = now()
WHERE id = $1
RETURNING ` + orderColumns

type UpdateOrderStatusParams struct {
	ID     pgtype.UUID `json:"id"`
	Status string      `json:"status"`
}

func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error) {
	row := q.db.QueryRow(ctx, updateOrderStatus, arg.ID, arg.Status)
	var i Order
	err := scanOrder(row, &i)
	return i, err
}

const orderItemColumns = `id, order_id, variant_id, description, quantity, unit_amount, total_amount,
    base_cost_amount, payment_fee_amount, adjusted_cost_amount, refunded_amount, created_at`

func scanOrderItem(row interface{ Scan(...any) error }, i *OrderItem) error {
	return row.Scan(
		&i.ID,
		&i.OrderID,
		&i.VariantID,
		&i.Description,
		&i.Quantity,
		&i.UnitAmount,
		&i.TotalAmount,
		&i.BaseCostAmount,
		&i.PaymentFeeAmount,
		&i.AdjustedCostAmount,
		&i.RefundedAmount,
		&i.CreatedAt,
	)
}

const createOrderItem = `-- name: CreateOrderItem :one
INSERT INTO order_items (
    order_id, variant_id, description, quantity, unit_amount, total_amount,
    base_cost_amount, payment_fee_amount, adjusted_cost_amount
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + orderItemColumns

type CreateOrderItemParams struct {
	OrderID            pgtype.UUID `json:"order_id"`
	VariantID          pgtype.UUID `json:"variant_id"`
	Description        string      `json:"description"`
	Quantity           int32       `json:"quantity"`
	UnitAmount         int64       `json:"unit_amount"`
	TotalAmount        int64       `json:"total_amount"`
	BaseCostAmount     int64       `json:"base_cost_amount"`
	PaymentFeeAmount   int64       `json:"payment_fee_amount"`
	AdjustedCostAmount int64       `json:"adjusted_cost_amount"`
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	row := q.db.QueryRow(ctx, createOrderItem,
		arg.OrderID,
		arg.VariantID,
		arg.Description,
		arg.Quantity,
		arg.UnitAmount,
		arg.TotalAmount,
		arg.BaseCostAmount,
		arg.PaymentFeeAmount,
		arg.AdjustedCostAmount,
	)
	var i OrderItem
	err := scanOrderItem(row, &i)
	return i, err
}

const listOrderItems = `-- name: ListOrderItems :many
SELECT ` + orderItemColumns + `
FROM order_items
WHERE order_id = $1
ORDER BY created_at, id`

func (q *Queries) ListOrderItems(ctx context.Context, orderID pgtype.UUID) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, listOrderItems, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []OrderItem{}
	for rows.Next() {
		var i OrderItem
		if err := scanOrderItem(rows, &i); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateOrderItemRefund = `-- name: UpdateOrderItemRefund :exec
UPDATE order_items SET refunded_amount = $2 WHERE id = $1`

type UpdateOrderItemRefundParams struct {
	ID             pgtype.UUID `json:"id"`
	RefundedAmount int64       `json:"refunded_amount"`
}

func (q *Queries) UpdateOrderItemRefund(ctx context.Context, arg UpdateOrderItemRefundParams) error {
	_, err := q.db.Exec(ctx, updateOrderItemRefund, arg.ID, arg.RefundedAmount)
	return err
}

const insertOrderTimeline = `-- name: InsertOrderTimeline :one
INSERT INTO order_timeline (order_id, event, message, actor)
VALUES ($1, $2, $3, $4)
RETURNING id, order_id, event, message, actor, created_at`

type InsertOrderTimelineParams struct {
	OrderID pgtype.UUID `json:"order_id"`
	Event   string      `json:"event"`
	Message string      `json:"message"`
	Actor   string      `json:"actor"`
}

func (q *Queries) InsertOrderTimeline(ctx context.Context, arg InsertOrderTimelineParams) (OrderTimeline, error) {
	row := q.db.QueryRow(ctx, insertOrderTimeline, arg.OrderID, arg.Event, arg.Message, arg.Actor)
	var i OrderTimeline
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.Event,
		&i.Message,
		&i.Actor,
		&i.CreatedAt,
	)
	return i, err
}

const listOrderTimeline = `-- name: ListOrderTimeline :many
SELECT id, order_id, event, message, actor, created_at
FROM order_timeline
WHERE order_id = $1
ORDER BY created_at, id`

func (q *Queries) ListOrderTimeline(ctx context.Context, orderID pgtype.UUID) ([]OrderTimeline, error) {
	rows, err := q.db.Query(ctx, listOrderTimeline, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []OrderTimeline{}
	for rows.Next() {
		var i OrderTimeline
		if err := rows.Scan(
			&i.ID,
			&i.OrderID,
			&i.Event,
			&i.Message,
			&i.Actor,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
