package memstore

import (
	"context"

	"github.com/dukerupert/reconciler/internal/repository"
	"github.com/jackc/pgx/v5/pgtype"
)

func (s *Store) InsertLedgerEntry(ctx context.Context, arg repository.InsertLedgerEntryParams) (repository.WebhookLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).InsertLedgerEntry(ctx, arg)
}

func (s *Store) GetLedgerEntry(ctx context.Context, eventID string) (repository.WebhookLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).GetLedgerEntry(ctx, eventID)
}

func (s *Store) ClaimLedgerEntry(ctx context.Context, eventID string) (repository.WebhookLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).ClaimLedgerEntry(ctx, eventID)
}

func (s *Store) CompleteLedgerEntry(ctx context.Context, arg repository.CompleteLedgerEntryParams) (repository.WebhookLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).CompleteLedgerEntry(ctx, arg)
}

func (s *Store) ListRetryableFailedEntries(ctx context.Context, arg repository.ListRetryableFailedEntriesParams) ([]repository.WebhookLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).ListRetryableFailedEntries(ctx, arg)
}

func (s *Store) ListStaleProcessingEntries(ctx context.Context, arg repository.ListStaleProcessingEntriesParams) ([]repository.WebhookLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).ListStaleProcessingEntries(ctx, arg)
}

func (s *Store) CreateVariant(ctx context.Context, arg repository.CreateVariantParams) (repository.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).CreateVariant(ctx, arg)
}

func (s *Store) GetVariant(ctx context.Context, id pgtype.UUID) (repository.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).GetVariant(ctx, id)
}

func (s *Store) ReserveVariantStock(ctx context.Context, arg repository.VariantStockParams) (repository.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).ReserveVariantStock(ctx, arg)
}

func (s *Store) ReleaseVariantStock(ctx context.Context, arg repository.VariantStockParams) (repository.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).ReleaseVariantStock(ctx, arg)
}

func (s *Store) DeductVariantStock(ctx context.Context, arg repository.VariantStockParams) (repository.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).DeductVariantStock(ctx, arg)
}

func (s *Store) DeductUnreservedStock(ctx context.Context, arg repository.VariantStockParams) (repository.DeductUnreservedStockRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).DeductUnreservedStock(ctx, arg)
}

func (s *Store) CreateCheckoutReservation(ctx context.Context, arg repository.CreateCheckoutReservationParams) (repository.CheckoutReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).CreateCheckoutReservation(ctx, arg)
}

func (s *Store) TransitionSessionReservations(ctx context.Context, arg repository.TransitionSessionReservationsParams) ([]repository.CheckoutReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).TransitionSessionReservations(ctx, arg)
}

func (s *Store) LockCheckoutSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).LockCheckoutSession(ctx, sessionID)
}

func (s *Store) CreateOrder(ctx context.Context, arg repository.CreateOrderParams) (repository.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).CreateOrder(ctx, arg)
}

func (s *Store) GetOrder(ctx context.Context, id pgtype.UUID) (repository.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).GetOrder(ctx, id)
}

func (s *Store) GetOrderBySessionID(ctx context.Context, stripeSessionID string) (repository.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).GetOrderBySessionID(ctx, stripeSessionID)
}

func (s *Store) GetOrderByPaymentIntent(ctx context.Context, stripePaymentIntent pgtype.Text) (repository.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).GetOrderByPaymentIntent(ctx, stripePaymentIntent)
}

func (s *Store) GetOrderByPaymentIntentForUpdate(ctx context.Context, stripePaymentIntent pgtype.Text) (repository.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).GetOrderByPaymentIntentForUpdate(ctx, stripePaymentIntent)
}

func (s *Store) UpdateOrderPayment(ctx context.Context, arg repository.UpdateOrderPaymentParams) (repository.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).UpdateOrderPayment(ctx, arg)
}

func (s *Store) UpdateOrderRefund(ctx context.Context, arg repository.UpdateOrderRefundParams) (repository.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).UpdateOrderRefund(ctx, arg)
}

func (s *Store) UpdateOrderStatus(ctx context.Context, arg repository.UpdateOrderStatusParams) (repository.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).UpdateOrderStatus(ctx, arg)
}

func (s *Store) CreateOrderItem(ctx context.Context, arg repository.CreateOrderItemParams) (repository.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).CreateOrderItem(ctx, arg)
}

func (s *Store) ListOrderItems(ctx context.Context, orderID pgtype.UUID) ([]repository.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).ListOrderItems(ctx, orderID)
}

func (s *Store) UpdateOrderItemRefund(ctx context.Context, arg repository.UpdateOrderItemRefundParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).UpdateOrderItemRefund(ctx, arg)
}

func (s *Store) InsertOrderTimeline(ctx context.Context, arg repository.InsertOrderTimelineParams) (repository.OrderTimeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).InsertOrderTimeline(ctx, arg)
}

func (s *Store) ListOrderTimeline(ctx context.Context, orderID pgtype.UUID) ([]repository.OrderTimeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).ListOrderTimeline(ctx, orderID)
}

func (s *Store) CreateReturnRequest(ctx context.Context, arg repository.CreateReturnRequestParams) (repository.ReturnRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).CreateReturnRequest(ctx, arg)
}

func (s *Store) GetReturnRequest(ctx context.Context, id pgtype.UUID) (repository.ReturnRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{store: s}).GetReturnRequest(ctx, id)
}
