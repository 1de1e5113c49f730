package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const variantColumns = `id, sku, name, cost_amount, quantity_on_hand, reserved, created_at, updated_at`

func scanVariant(row interface{ Scan(...any) error }, i *Variant) error {
	return row.Scan(
		&i.ID,
		&i.Sku,
		&i.Name,
		&i.CostAmount,
		&i.QuantityOnHand,
		&i.Reserved,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
}

const createVariant = `-- name: CreateVariant :one
INSERT INTO variants (sku, name, cost_amount, quantity_on_hand)
VALUES ($1, $2, $3, $4)
RETURNING ` + variantColumns

type CreateVariantParams struct {
	Sku            string `json:"sku"`
	Name           string `json:"name"`
	CostAmount     int64  `json:"cost_amount"`
	QuantityOnHand int32  `json:"quantity_on_hand"`
}

func (q *Queries) CreateVariant(ctx context.Context, arg CreateVariantParams) (Variant, error) {
	row := q.db.QueryRow(ctx, createVariant, arg.Sku, arg.Name, arg.CostAmount, arg.QuantityOnHand)
	var i Variant
	err := scanVariant(row, &i)
	return i, err
}

const getVariant = `-- name: GetVariant :one
SELECT ` + variantColumns + ` FROM variants WHERE id = $1`

func (q *Queries) GetVariant(ctx context.Context, id pgtype.UUID) (Variant, error) {
	row := q.db.QueryRow(ctx, getVariant, id)
	var i Variant
	err := scanVariant(row, &i)
	return i, err
}

type VariantStockParams struct {
	ID       pgtype.UUID `json:"id"`
	Quantity int32       `json:"quantity"`
}

const reserveVariantStock = `-- name: ReserveVariantStock :one
UPDATE variants
SET reserved = reserved + $2,
    updated_at = now()
WHERE id = $1
  AND quantity_on_hand - reserved >= $2
RETURNING ` + variantColumns

// ReserveVariantStock returns pgx.ErrNoRows when the variant is missing or
// does not have enough available stock.
func (q *Queries) ReserveVariantStock(ctx context.Context, arg VariantStockParams) (Variant, error) {
	row := q.db.QueryRow(ctx, reserveVariantStock, arg.ID, arg.Quantity)
	var i Variant
	err := scanVariant(row, &i)
	return i, err
}

const releaseVariantStock = `-- name: ReleaseVariantStock :one
UPDATE variants
SET reserved = GREATEST(reserved - $2, 0),
    updated_at = now()
WHERE id = $1
RETURNING ` + variantColumns

func (q *Queries) ReleaseVariantStock(ctx context.Context, arg VariantStockParams) (Variant, error) {
	row := q.db.QueryRow(ctx, releaseVariantStock, arg.ID, arg.Quantity)
	var i Variant
	err := scanVariant(row, &i)
	return i, err
}

// Right-hand sides read the pre-update row, so reserved is capped by the new on-hand count.
const deductVariantStock = `-- name: DeductVariantStock :one
UPDATE variants
SET quantity_on_hand = GREATEST(quantity_on_hand - $2, 0),
    reserved = LEAST(GREATEST(reserved - $2, 0), GREATEST(quantity_on_hand - $2, 0)),
    updated_at = now()
WHERE id = $1
RETURNING ` + variantColumns

func (q *Queries) DeductVariantStock(ctx context.Context, arg VariantStockParams) (Variant, error) {
	row := q.db.QueryRow(ctx, deductVariantStock, arg.ID, arg.Quantity)
	var i Variant
	err := scanVariant(row, &i)
	return i, err
}

const deductUnreservedStock = `-- name: DeductUnreservedStock :one
WITH cur AS (
    SELECT id, LEAST($2::int, GREATEST(quantity_on_hand - reserved, 0)) AS taken
    FROM variants
    WHERE id = $1
    FOR UPDATE
)
UPDATE variants v
SET quantity_on_hand = v.quantity_on_hand - cur.taken,
    updated_at = now()
FROM cur
WHERE v.id = cur.id
RETURNING v.id, v.sku, v.name, v.cost_amount, v.quantity_on_hand, v.reserved, v.created_at, v.updated_at, cur.taken`

type DeductUnreservedStockRow struct {
	Variant Variant `json:"variant"`
	Taken   int32   `json:"taken"`
}

// DeductUnreservedStock takes up to Quantity units from on-hand stock that no
// session holds, leaving reserved untouched. Taken reports how many were removed.
func (q *Queries) DeductUnreservedStock(ctx context.Context, arg VariantStockParams) (DeductUnreservedStockRow, error) {
	row := q.db.QueryRow(ctx, deductUnreservedStock, arg.ID, arg.Quantity)
	var i DeductUnreservedStockRow
	err := row.Scan(
		&i.Variant.ID,
		&i.Variant.Sku,
		&i.Variant.Name,
		&i.Variant.CostAmount,
		&i.Variant.QuantityOnHand,
		&i.Variant.Reserved,
		&i.Variant.CreatedAt,
		&i.Variant.UpdatedAt,
		&i.Taken,
	)
	return i, err
}

const reservationColumns = `id, session_id, variant_id, quantity, status, created_at, updated_at`

func scanReservation(row interface{ Scan(...any) error }, i *CheckoutReservation) error {
	return row.Scan(
		&i.ID,
		&i.SessionID,
		&i.VariantID,
		&i.Quantity,
		&i.Status,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
}

const createCheckoutReservation = `-- name: CreateCheckoutReservation :one
INSERT INTO checkout_reservations (session_id, variant_id, quantity, status)
VALUES ($1, $2, $3, 'held')
RETURNING ` + reservationColumns

type CreateCheckoutReservationParams struct {
	SessionID string      `json:"session_id"`
	VariantID pgtype.UUID `json:"variant_id"`
	Quantity  int32       `json:"quantity"`
}

func (q *Queries) CreateCheckoutReservation(ctx context.Context, arg CreateCheckoutReservationParams) (CheckoutReservation, error) {
	row := q.db.QueryRow(ctx, createCheckoutReservation, arg.SessionID, arg.VariantID, arg.Quantity)
	var i CheckoutReservation
	err := scanReservation(row, &i)
	return i, err
}

const transitionSessionReservations = `-- name: TransitionSessionReservations :many
UPDATE checkout_reservations
SET status = $3,
    updated_at = now()
WHERE session_id = $1
  AND status = $2
RETURNING ` + reservationColumns

type TransitionSessionReservationsParams struct {
	SessionID  string `json:"session_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
}

// TransitionSessionReservations moves every row of a session in FromStatus to
// ToStatus and returns the rows it moved.
func (q *Queries) TransitionSessionReservations(ctx context.Context, arg TransitionSessionReservationsParams) ([]CheckoutReservation, error) {
	rows, err := q.db.Query(ctx, transitionSessionReservations, arg.SessionID, arg.FromStatus, arg.ToStatus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []CheckoutReservation{}
	for rows.Next() {
		var i CheckoutReservation
		if err := scanReservation(rows, &i); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
