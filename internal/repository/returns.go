package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const returnRequestColumns = `id, order_id, user_id, status, reason, created_at, updated_at`

const createReturnRequest = `-- name: CreateReturnRequest :one
INSERT INTO return_requests (order_id, user_id, status, reason)
VALUES ($1, $2, $3, $4)
RETURNING ` + returnRequestColumns

type CreateReturnRequestParams struct {
	OrderID pgtype.UUID `json:"order_id"`
	UserID  string      `json:"user_id"`
	Status  string      `json:"status"`
	Reason  string      `json:"reason"`
}

func (q *Queries) CreateReturnRequest(ctx context.Context, arg CreateReturnRequestParams) (ReturnRequest, error) {
	row := q.db.QueryRow(ctx, createReturnRequest, arg.OrderID, arg.UserID, arg.Status, arg.Reason)
	var i ReturnRequest
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.UserID,
		&i.Status,
		&i.Reason,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getReturnRequest = `-- name: GetReturnRequest :one
SELECT ` + returnRequestColumns + ` FROM return_requests WHERE id = $1`

func (q *Queries) GetReturnRequest(ctx context.Context, id pgtype.UUID) (ReturnRequest, error) {
	row := q.db.QueryRow(ctx, getReturnRequest, id)
	var i ReturnRequest
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.UserID,
		&i.Status,
		&i.Reason,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}
