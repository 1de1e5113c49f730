package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const ledgerColumns = `event_id, event_type, source, status, attempts, retryable, last_error, processed_at, created_at, updated_at`

func scanLedger(row interface{ Scan(...any) error }, i *WebhookLedger) error {
	return row.Scan(
		&i.EventID,
		&i.EventType,
		&i.Source,
		&i.Status,
		&i.Attempts,
		&i.Retryable,
		&i.LastError,
		&i.ProcessedAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
}

const insertLedgerEntry = `-- name: InsertLedgerEntry :one
INSERT INTO webhook_ledger (event_id, event_type, source, status)
VALUES ($1, $2, $3, 'received')
ON CONFLICT (event_id) DO NOTHING
RETURNING ` + ledgerColumns

type InsertLedgerEntryParams struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Source    string `json:"source"`
}

// InsertLedgerEntry returns pgx.ErrNoRows when the event id already exists.
func (q *Queries) InsertLedgerEntry(ctx context.Context, arg InsertLedgerEntryParams) (WebhookLedger, error) {
	row := q.db.QueryRow(ctx, insertLedgerEntry, arg.EventID, arg.EventType, arg.Source)
	var i WebhookLedger
	err := scanLedger(row, &i)
	return i, err
}

const getLedgerEntry = `-- name: GetLedgerEntry :one
SELECT ` + ledgerColumns + ` FROM webhook_ledger WHERE event_id = $1`

func (q *Queries) GetLedgerEntry(ctx context.Context, eventID string) (WebhookLedger, error) {
	row := q.db.QueryRow(ctx, getLedgerEntry, eventID)
	var i WebhookLedger
	err := scanLedger(row, &i)
	return i, err
}

const claimLedgerEntry = `-- name: ClaimLedgerEntry :one
UPDATE webhook_ledger
SET status = 'processing',
    attempts = attempts + 1,
    updated_at = now()
WHERE event_id = $1
  AND status IN ('received', 'failed')
RETURNING ` + ledgerColumns

// ClaimLedgerEntry moves a received or failed entry to processing in one
// statement. It returns pgx.ErrNoRows when the entry is missing or not claimable.
func (q *Queries) ClaimLedgerEntry(ctx context.Context, eventID string) (WebhookLedger, error) {
	row := q.db.QueryRow(ctx, claimLedgerEntry, eventID)
	var i WebhookLedger
	err := scanLedger(row, &i)
	return i, err
}

const completeLedgerEntry = `-- name: CompleteLedgerEntry :one
UPDATE webhook_ledger
SET status = $2,
    last_error = $3,
    retryable = $4,
    processed_at = CASE WHEN $2 = 'processed' THEN now() ELSE processed_at END,
    updated_at = now()
WHERE event_id = $1
  AND status = 'processing'
RETURNING ` + ledgerColumns

type CompleteLedgerEntryParams struct {
	EventID   string      `json:"event_id"`
	Status    string      `json:"status"`
	LastError pgtype.Text `json:"last_error"`
	Retryable bool        `json:"retryable"`
}

// CompleteLedgerEntry returns pgx.ErrNoRows when the entry is not processing.
func (q *Queries) CompleteLedgerEntry(ctx context.Context, arg CompleteLedgerEntryParams) (WebhookLedger, error) {
	row := q.db.QueryRow(ctx, completeLedgerEntry, arg.EventID, arg.Status, arg.LastError, arg.Retryable)
	var i WebhookLedger
	err := scanLedger(row, &i)
	return i, err
}

const listRetryableFailedEntries = `-- name: ListRetryableFailedEntries :many
SELECT ` + ledgerColumns + `
FROM webhook_ledger
WHERE status = 'failed'
  AND retryable
  AND updated_at < $1
  AND attempts < $2
ORDER BY updated_at
LIMIT $3`

type ListRetryableFailedEntriesParams struct {
	UpdatedBefore pgtype.Timestamptz `json:"updated_before"`
	MaxAttempts   int32              `json:"max_attempts"`
	Limit         int32              `json:"limit"`
}

func (q *Queries) ListRetryableFailedEntries(ctx context.Context, arg ListRetryableFailedEntriesParams) ([]WebhookLedger, error) {
	return q.listLedger(ctx, listRetryableFailedEntries, arg.UpdatedBefore, arg.MaxAttempts, arg.Limit)
}

const listStaleProcessingEntries = `-- name: ListStaleProcessingEntries :many
SELECT ` + ledgerColumns + `
FROM webhook_ledger
WHERE status = 'processing'
  AND updated_at < $1
ORDER BY updated_at
LIMIT $2`

type ListStaleProcessingEntriesParams struct {
	UpdatedBefore pgtype.Timestamptz `json:"updated_before"`
	Limit         int32              `json:"limit"`
}

func (q *Queries) ListStaleProcessingEntries(ctx context.Context, arg ListStaleProcessingEntriesParams) ([]WebhookLedger, error) {
	return q.listLedger(ctx, listStaleProcessingEntries, arg.UpdatedBefore, arg.Limit)
}

func (q *Queries) listLedger(ctx context.Context, query string, args ...interface{}) ([]WebhookLedger, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []WebhookLedger{}
	for rows.Next() {
		var i WebhookLedger
		if err := scanLedger(rows, &i); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
