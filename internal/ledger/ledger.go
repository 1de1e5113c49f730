// Package ledger is the idempotency ledger: one row per provider event id,
// moved through received → processing → processed|failed.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/dukerupert/reconciler/internal/domain"
	"github.com/dukerupert/reconciler/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// maxErrorLength bounds last_error so a huge provider message cannot bloat the row.
const maxErrorLength = 1000

// ErrLeaseExpired is recorded on entries the reaper pulls out of processing.
var ErrLeaseExpired = errors.New("processing lease expired")

type Service struct {
	repo   repository.Querier
	logger *slog.Logger
}

func NewService(repo repository.Querier, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// RecordSeen inserts a received entry unless one exists, and reports whether
// this was the first sighting of eventID.
func (s *Service) RecordSeen(ctx context.Context, eventID string, eventType domain.EventType, source domain.EventSource) (bool, error) {
	const op = "ledger.RecordSeen"
	if eventID == "" {
		return false, domain.Invalid(op, "Event ID is required")
	}

	_, err := s.repo.InsertLedgerEntry(ctx, repository.InsertLedgerEntryParams{
		EventID:   eventID,
		EventType: string(eventType),
		Source:    string(source),
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, domain.Internal(err, op, "failed to record event")
	}
	return true, nil
}

// BeginProcessing claims the entry. It fails fast with ErrProcessingConflict
// when another worker holds it and ErrAlreadyProcessed when it is done.
func (s *Service) BeginProcessing(ctx context.Context, eventID string) (repository.WebhookLedger, error) {
	const op = "ledger.BeginProcessing"

	entry, err := s.repo.ClaimLedgerEntry(ctx, eventID)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return repository.WebhookLedger{}, domain.Internal(err, op, "failed to claim event")
	}

	current, err := s.repo.GetLedgerEntry(ctx, eventID)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.WebhookLedger{}, domain.WrapError(domain.ErrLedgerEntryNotFound, domain.ENOTFOUND, op, "Event not found")
	}
	if err != nil {
		return repository.WebhookLedger{}, domain.Internal(err, op, "failed to load event")
	}

	switch domain.LedgerStatus(current.Status) {
	case domain.LedgerProcessed:
		return current, domain.WrapError(domain.ErrAlreadyProcessed, domain.ECONFLICT, op, domain.ErrAlreadyProcessed.Message)
	default:
		// Processing, or claimed and finished between our two statements.
		return current, domain.WrapError(domain.ErrProcessingConflict, domain.ECONFLICT, op, domain.ErrProcessingConflict.Message)
	}
}

// Complete moves a processing entry to its terminal state for outcome.
func (s *Service) Complete(ctx context.Context, eventID string, outcome domain.Outcome) (repository.WebhookLedger, error) {
	const op = "ledger.Complete"

	params := repository.CompleteLedgerEntryParams{
		EventID:   eventID,
		Status:    string(outcome.Status()),
		Retryable: true,
	}
	if outcome.Err != nil {
		params.LastError = repository.Text(truncate(outcome.Err.Error()))
		params.Retryable = outcome.Retryable
	}

	entry, err := s.repo.CompleteLedgerEntry(ctx, params)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.WebhookLedger{}, domain.Conflict(op, "Event is not being processed")
	}
	if err != nil {
		return repository.WebhookLedger{}, domain.Internal(err, op, "failed to complete event")
	}
	return entry, nil
}

func (s *Service) Get(ctx context.Context, eventID string) (repository.WebhookLedger, error) {
	entry, err := s.repo.GetLedgerEntry(ctx, eventID)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.WebhookLedger{}, domain.WrapError(domain.ErrLedgerEntryNotFound, domain.ENOTFOUND, "ledger.Get", "Event not found")
	}
	if err != nil {
		return repository.WebhookLedger{}, domain.Internal(err, "ledger.Get", "failed to load event")
	}
	return entry, nil
}

// ListRetryable returns failed, retryable entries last touched before cutoff
// with fewer than maxAttempts attempts, oldest first.
func (s *Service) ListRetryable(ctx context.Context, cutoff time.Time, maxAttempts, limit int) ([]repository.WebhookLedger, error) {
	entries, err := s.repo.ListRetryableFailedEntries(ctx, repository.ListRetryableFailedEntriesParams{
		UpdatedBefore: timestamptz(cutoff),
		MaxAttempts:   int32(maxAttempts),
		Limit:         int32(limit),
	})
	if err != nil {
		return nil, domain.Internal(err, "ledger.ListRetryable", "failed to list retryable events")
	}
	return entries, nil
}

// ReapStuck fails entries held in processing since before cutoff, leaving them
// retryable. A worker that crashed mid-event would otherwise pin them forever.
func (s *Service) ReapStuck(ctx context.Context, cutoff time.Time, limit int) ([]repository.WebhookLedger, error) {
	const op = "ledger.ReapStuck"

	stale, err := s.repo.ListStaleProcessingEntries(ctx, repository.ListStaleProcessingEntriesParams{
		UpdatedBefore: timestamptz(cutoff),
		Limit:         int32(limit),
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list stuck events")
	}

	reaped := make([]repository.WebhookLedger, 0, len(stale))
	for _, e := range stale {
		entry, err := s.Complete(ctx, e.EventID, domain.FailedWith(ErrLeaseExpired, true))
		if err != nil {
			// Finished on its own since the listing.
			if domain.IsCode(err, domain.ECONFLICT) {
				continue
			}
			return reaped, err
		}
		s.logger.Warn("reaped stuck ledger entry",
			slog.String("event_id", e.EventID),
			slog.String("event_type", e.EventType),
			slog.Int("attempts", int(e.Attempts)),
		)
		reaped = append(reaped, entry)
	}
	return reaped, nil
}

// truncate cuts s to at most maxErrorLength bytes without splitting a rune.
func truncate(s string) string {
	if len(s) <= maxErrorLength {
		return s
	}
	cut := maxErrorLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}
