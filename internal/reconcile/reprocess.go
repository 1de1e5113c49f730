package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/reconciler/internal/billing"
	"github.com/dukerupert/reconciler/internal/domain"
	"github.com/dukerupert/reconciler/internal/ledger"
	"github.com/dukerupert/reconciler/internal/repository"
	"go.uber.org/multierr"
)

// Resolver rebuilds the canonical event for a ledger entry.
type Resolver struct {
	provider billing.Provider
	now      func() time.Time
}

func NewResolver(provider billing.Provider) *Resolver {
	return &Resolver{provider: provider, now: time.Now}
}

// Resolve returns the event for eventID. Recovery events are synthesized
// from the session id; the router fetches the session's current state.
func (r *Resolver) Resolve(ctx context.Context, eventID string) (domain.Event, error) {
	if sessionID, ok := domain.RecoverySessionID(eventID); ok {
		return RecoveryEvent(sessionID, r.now()), nil
	}

	event, err := r.provider.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, fmt.Errorf("fetch event %s: %w", eventID, err)
	}
	return event, nil
}

// RecoveryEvent builds the synthetic event the recovery scan routes for an abandoned session.
func RecoveryEvent(sessionID string, at time.Time) domain.Event {
	return domain.Event{
		ID:      domain.RecoveryEventID(sessionID),
		Type:    domain.EventCheckoutRecovery,
		Created: at,
		Payload: domain.SessionPayload{Session: domain.CheckoutSession{ID: sessionID}},
	}
}

// Reprocessor replays failed ledger entries, on operator request or from
// the automatic retry scan.
type Reprocessor struct {
	ledger   *ledger.Service
	resolver *Resolver
	router   *Router
	logger   *slog.Logger
}

func NewReprocessor(l *ledger.Service, resolver *Resolver, router *Router, logger *slog.Logger) *Reprocessor {
	return &Reprocessor{
		ledger:   l,
		resolver: resolver,
		router:   router,
		logger:   logger,
	}
}

// Reprocess replays one failed event on behalf of actor.
//
// Returns an error matching domain.ErrLedgerEntryNotFound for an unknown id
// and domain.ErrNotReplayable when the entry is not failed.
func (p *Reprocessor) Reprocess(ctx context.Context, eventID, actor string) error {
	const op = "reconcile.Reprocess"

	entry, err := p.ledger.Get(ctx, eventID)
	if err != nil {
		return err
	}
	if domain.LedgerStatus(entry.Status) != domain.LedgerFailed {
		return domain.WrapError(domain.ErrNotReplayable, domain.EINVALID, op,
			fmt.Sprintf("Event is %s; only failed events can be reprocessed", entry.Status))
	}

	p.logger.Info("manual reprocess requested",
		slog.String("event_id", eventID),
		slog.String("actor", actor),
		slog.Int("attempts", int(entry.Attempts)),
	)
	return p.Replay(ctx, entry, domain.SourceManual)
}

// Replay resolves and routes a failed entry. An entry that cannot be
// resolved still counts an attempt; one the provider no longer has is
// left to an operator.
func (p *Reprocessor) Replay(ctx context.Context, entry repository.WebhookLedger, source domain.EventSource) error {
	event, err := p.resolver.Resolve(ctx, entry.EventID)
	if err == nil {
		return p.router.Route(ctx, event, source)
	}

	if _, claimErr := p.ledger.BeginProcessing(ctx, entry.EventID); claimErr != nil {
		return multierr.Append(err, claimErr)
	}
	outcome := domain.FailedWith(err, !billing.IsNotFound(err))
	if _, completeErr := p.ledger.Complete(context.WithoutCancel(ctx), entry.EventID, outcome); completeErr != nil {
		return multierr.Append(err, completeErr)
	}
	return err
}
