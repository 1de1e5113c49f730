// Package inventory holds, releases and deducts stock per variant.
//
// Every mutation is a single conditional UPDATE, so concurrent checkouts for the
// same variant cannot lose updates. Callers pass the Querier of the transaction
// that also writes the accompanying order state.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukerupert/reconciler/internal/domain"
	"github.com/dukerupert/reconciler/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Line is one variant quantity held for a checkout session.
type Line struct {
	VariantID pgtype.UUID
	Quantity  int32
}

// Manager is the reservation manager.
type Manager struct {
	logger *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{logger: logger}
}

// Reserve increments reserved only if available stock covers qty.
func (m *Manager) Reserve(ctx context.Context, q repository.Querier, variantID pgtype.UUID, qty int32) (repository.Variant, error) {
	const op = "inventory.Reserve"
	if qty <= 0 {
		return repository.Variant{}, domain.Invalid(op, "Quantity must be greater than 0")
	}

	v, err := q.ReserveVariantStock(ctx, repository.VariantStockParams{ID: variantID, Quantity: qty})
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return repository.Variant{}, domain.Internal(err, op, "failed to reserve stock")
	}

	// The conditional update matched nothing: tell a missing variant from a short one.
	if _, getErr := q.GetVariant(ctx, variantID); getErr != nil {
		if errors.Is(getErr, pgx.ErrNoRows) {
			return repository.Variant{}, domain.WrapError(domain.ErrVariantNotFound, domain.ENOTFOUND, op, "Variant not found")
		}
		return repository.Variant{}, domain.Internal(getErr, op, "failed to load variant")
	}
	return repository.Variant{}, domain.WrapError(domain.ErrInsufficientStock, domain.ECONFLICT, op, domain.ErrInsufficientStock.Message)
}

// Release decrements reserved, floored at 0.
func (m *Manager) Release(ctx context.Context, q repository.Querier, variantID pgtype.UUID, qty int32) (repository.Variant, error) {
	const op = "inventory.Release"
	if qty <= 0 {
		return repository.Variant{}, domain.Invalid(op, "Quantity must be greater than 0")
	}

	v, err := q.ReleaseVariantStock(ctx, repository.VariantStockParams{ID: variantID, Quantity: qty})
	if err != nil {
		return repository.Variant{}, variantError(err, op, "failed to release stock")
	}
	return v, nil
}

// Deduct removes qty from both on-hand and reserved, each floored at 0.
func (m *Manager) Deduct(ctx context.Context, q repository.Querier, variantID pgtype.UUID, qty int32) (repository.Variant, error) {
	const op = "inventory.Deduct"
	if qty <= 0 {
		return repository.Variant{}, domain.Invalid(op, "Quantity must be greater than 0")
	}

	v, err := q.DeductVariantStock(ctx, repository.VariantStockParams{ID: variantID, Quantity: qty})
	if err != nil {
		return repository.Variant{}, variantError(err, op, "failed to deduct stock")
	}
	return v, nil
}

// DeductUnreserved removes up to qty from on-hand stock that no session holds
// and returns how many units it took. Other sessions' holds are never consumed.
func (m *Manager) DeductUnreserved(ctx context.Context, q repository.Querier, variantID pgtype.UUID, qty int32) (repository.Variant, int32, error) {
	const op = "inventory.DeductUnreserved"
	if qty <= 0 {
		return repository.Variant{}, 0, domain.Invalid(op, "Quantity must be greater than 0")
	}

	row, err := q.DeductUnreservedStock(ctx, repository.VariantStockParams{ID: variantID, Quantity: qty})
	if err != nil {
		return repository.Variant{}, 0, variantError(err, op, "failed to deduct stock")
	}
	return row.Variant, row.Taken, nil
}

// ReserveForSession reserves every line and records a held reservation row per
// line, all in one transaction. Either every line is held or none is.
func (m *Manager) ReserveForSession(ctx context.Context, store repository.Store, sessionID string, lines []Line) error {
	const op = "inventory.ReserveForSession"
	if sessionID == "" {
		return domain.Invalid(op, "Session ID is required")
	}
	if len(lines) == 0 {
		return domain.Invalid(op, "At least one line is required")
	}

	return store.ExecTx(ctx, func(q repository.Querier) error {
		for _, line := range lines {
			if _, err := m.Reserve(ctx, q, line.VariantID, line.Quantity); err != nil {
				return err
			}
			_, err := q.CreateCheckoutReservation(ctx, repository.CreateCheckoutReservationParams{
				SessionID: sessionID,
				VariantID: line.VariantID,
				Quantity:  line.Quantity,
			})
			if err != nil {
				return domain.Internal(err, op, "failed to record reservation")
			}
		}
		m.logger.Debug("reserved stock for session",
			slog.String("session_id", sessionID),
			slog.Int("lines", len(lines)),
		)
		return nil
	})
}

// ReleaseSession returns the session's held stock to the available pool.
// Rows move held → released before stock is touched, so a second call finds
// nothing to release. Returns the number of units released.
func (m *Manager) ReleaseSession(ctx context.Context, q repository.Querier, sessionID string) (int64, error) {
	rows, err := q.TransitionSessionReservations(ctx, repository.TransitionSessionReservationsParams{
		SessionID:  sessionID,
		FromStatus: string(domain.ReservationHeld),
		ToStatus:   string(domain.ReservationReleased),
	})
	if err != nil {
		return 0, domain.Internal(err, "inventory.ReleaseSession", "failed to release reservations")
	}

	var units int64
	for _, r := range rows {
		if _, err := m.Release(ctx, q, r.VariantID, r.Quantity); err != nil {
			return 0, fmt.Errorf("release variant %s: %w", repository.UUIDString(r.VariantID), err)
		}
		units += int64(r.Quantity)
	}
	return units, nil
}

// SettleSession marks the session's held rows as deducted and returns them.
// Stock itself is deducted by the caller: held quantities through Deduct, the
// rest through DeductUnreserved.
func (m *Manager) SettleSession(ctx context.Context, q repository.Querier, sessionID string) ([]repository.CheckoutReservation, error) {
	rows, err := q.TransitionSessionReservations(ctx, repository.TransitionSessionReservationsParams{
		SessionID:  sessionID,
		FromStatus: string(domain.ReservationHeld),
		ToStatus:   string(domain.ReservationDeducted),
	})
	if err != nil {
		return nil, domain.Internal(err, "inventory.SettleSession", "failed to settle reservations")
	}
	return rows, nil
}

func variantError(err error, op, message string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WrapError(domain.ErrVariantNotFound, domain.ENOTFOUND, op, "Variant not found")
	}
	return domain.Internal(err, op, message)
}
