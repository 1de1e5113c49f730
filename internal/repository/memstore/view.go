package memstore

import (
	"context"
	"sort"

	"github.com/dukerupert/reconciler/internal/repository"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// view executes queries against the current state without locking.
// The caller holds Store.mu.
type view struct {
	store *Store
}

func (v *view) st() *state { return v.store.state }

func (v *view) InsertLedgerEntry(ctx context.Context, arg repository.InsertLedgerEntryParams) (repository.WebhookLedger, error) {
	if err := v.store.fail("InsertLedgerEntry"); err != nil {
		return repository.WebhookLedger{}, err
	}
	if _, ok := v.st().ledger[arg.EventID]; ok {
		return repository.WebhookLedger{}, errNoRows
	}
	now := v.store.now()
	e := repository.WebhookLedger{
		EventID:   arg.EventID,
		EventType: arg.EventType,
		Source:    arg.Source,
		Status:    "received",
		Retryable: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	v.st().ledger[arg.EventID] = e
	return e, nil
}

func (v *view) GetLedgerEntry(ctx context.Context, eventID string) (repository.WebhookLedger, error) {
	if err := v.store.fail("GetLedgerEntry"); err != nil {
		return repository.WebhookLedger{}, err
	}
	e, ok := v.st().ledger[eventID]
	if !ok {
		return repository.WebhookLedger{}, errNoRows
	}
	return e, nil
}

func (v *view) ClaimLedgerEntry(ctx context.Context, eventID string) (repository.WebhookLedger, error) {
	if err := v.store.fail("ClaimLedgerEntry"); err != nil {
		return repository.WebhookLedger{}, err
	}
	e, ok := v.st().ledger[eventID]
	if !ok || (e.Status != "received" && e.Status != "failed") {
		return repository.WebhookLedger{}, errNoRows
	}
	e.Status = "processing"
	e.Attempts++
	e.UpdatedAt = v.store.now()
	v.st().ledger[eventID] = e
	return e, nil
}

func (v *view) CompleteLedgerEntry(ctx context.Context, arg repository.CompleteLedgerEntryParams) (repository.WebhookLedger, error) {
	if err := v.store.fail("CompleteLedgerEntry"); err != nil {
		return repository.WebhookLedger{}, err
	}
	e, ok := v.st().ledger[arg.EventID]
	if !ok || e.Status != "processing" {
		return repository.WebhookLedger{}, errNoRows
	}
	now := v.store.now()
	e.Status = arg.Status
	e.LastError = arg.LastError
	e.Retryable = arg.Retryable
	if arg.Status == "processed" {
		e.ProcessedAt = now
	}
	e.UpdatedAt = now
	v.st().ledger[arg.EventID] = e
	return e, nil
}

func (v *view) ListRetryableFailedEntries(ctx context.Context, arg repository.ListRetryableFailedEntriesParams) ([]repository.WebhookLedger, error) {
	if err := v.store.fail("ListRetryableFailedEntries"); err != nil {
		return nil, err
	}
	return v.listLedger(arg.Limit, func(e repository.WebhookLedger) bool {
		return e.Status == "failed" && e.Retryable &&
			e.UpdatedAt.Time.Before(arg.UpdatedBefore.Time) &&
			e.Attempts < arg.MaxAttempts
	}), nil
}

func (v *view) ListStaleProcessingEntries(ctx context.Context, arg repository.ListStaleProcessingEntriesParams) ([]repository.WebhookLedger, error) {
	if err := v.store.fail("ListStaleProcessingEntries"); err != nil {
		return nil, err
	}
	return v.listLedger(arg.Limit, func(e repository.WebhookLedger) bool {
		return e.Status == "processing" && e.UpdatedAt.Time.Before(arg.UpdatedBefore.Time)
	}), nil
}

func (v *view) listLedger(limit int32, keep func(repository.WebhookLedger) bool) []repository.WebhookLedger {
	items := []repository.WebhookLedger{}
	for _, e := range v.st().ledger {
		if keep(e) {
			items = append(items, e)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].UpdatedAt.Time.Equal(items[j].UpdatedAt.Time) {
			return items[i].EventID < items[j].EventID
		}
		return items[i].UpdatedAt.Time.Before(items[j].UpdatedAt.Time)
	})
	if limit >= 0 && len(items) > int(limit) {
		items = items[:limit]
	}
	return items
}

func (v *view) CreateVariant(ctx context.Context, arg repository.CreateVariantParams) (repository.Variant, error) {
	if err := v.store.fail("CreateVariant"); err != nil {
		return repository.Variant{}, err
	}
	now := v.store.now()
	variant := repository.Variant{
		ID:             newID(),
		Sku:            arg.Sku,
		Name:           arg.Name,
		CostAmount:     arg.CostAmount,
		QuantityOnHand: arg.QuantityOnHand,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	v.st().variants[variant.ID.Bytes] = variant
	return variant, nil
}

func (v *view) GetVariant(ctx context.Context, id pgtype.UUID) (repository.Variant, error) {
	if err := v.store.fail("GetVariant"); err != nil {
		return repository.Variant{}, err
	}
	variant, ok := v.st().variants[id.Bytes]
	if !ok || !id.Valid {
		return repository.Variant{}, errNoRows
	}
	return variant, nil
}

func (v *view) ReserveVariantStock(ctx context.Context, arg repository.VariantStockParams) (repository.Variant, error) {
	if err := v.store.fail("ReserveVariantStock"); err != nil {
		return repository.Variant{}, err
	}
	variant, ok := v.st().variants[arg.ID.Bytes]
	if !ok || variant.QuantityOnHand-variant.Reserved < arg.Quantity {
		return repository.Variant{}, errNoRows
	}
	variant.Reserved += arg.Quantity
	variant.UpdatedAt = v.store.now()
	v.st().variants[arg.ID.Bytes] = variant
	return variant, nil
}

func (v *view) ReleaseVariantStock(ctx context.Context, arg repository.VariantStockParams) (repository.Variant, error) {
	if err := v.store.fail("ReleaseVariantStock"); err != nil {
		return repository.Variant{}, err
	}
	variant, ok := v.st().variants[arg.ID.Bytes]
	if !ok {
		return repository.Variant{}, errNoRows
	}
	variant.Reserved = max(variant.Reserved-arg.Quantity, 0)
	variant.UpdatedAt = v.store.now()
	v.st().variants[arg.ID.Bytes] = variant
	return variant, nil
}

func (v *view) DeductVariantStock(ctx context.Context, arg repository.VariantStockParams) (repository.Variant, error) {
	if err := v.store.fail("DeductVariantStock"); err != nil {
		return repository.Variant{}, err
	}
	variant, ok := v.st().variants[arg.ID.Bytes]
	if !ok {
		return repository.Variant{}, errNoRows
	}
	onHand := max(variant.QuantityOnHand-arg.Quantity, 0)
	variant.Reserved = min(max(variant.Reserved-arg.Quantity, 0), onHand)
	variant.QuantityOnHand = onHand
	variant.UpdatedAt = v.store.now()
	v.st().variants[arg.ID.Bytes] = variant
	return variant, nil
}

func (v *view) DeductUnreservedStock(ctx context.Context, arg repository.VariantStockParams) (repository.DeductUnreservedStockRow, error) {
	if err := v.store.fail("DeductUnreservedStock"); err != nil {
		return repository.DeductUnreservedStockRow{}, err
	}
	variant, ok := v.st().variants[arg.ID.Bytes]
	if !ok {
		return repository.DeductUnreservedStockRow{}, errNoRows
	}
	taken := min(arg.Quantity, max(variant.QuantityOnHand-variant.Reserved, 0))
	variant.QuantityOnHand -= taken
	variant.UpdatedAt = v.store.now()
	v.st().variants[arg.ID.Bytes] = variant
	return repository.DeductUnreservedStockRow{Variant: variant, Taken: taken}, nil
}

func (v *view) CreateCheckoutReservation(ctx context.Context, arg repository.CreateCheckoutReservationParams) (repository.CheckoutReservation, error) {
	if err := v.store.fail("CreateCheckoutReservation"); err != nil {
		return repository.CheckoutReservation{}, err
	}
	now := v.store.now()
	r := repository.CheckoutReservation{
		ID:        newID(),
		SessionID: arg.SessionID,
		VariantID: arg.VariantID,
		Quantity:  arg.Quantity,
		Status:    "held",
		CreatedAt: now,
		UpdatedAt: now,
	}
	v.st().reservations = append(v.st().reservations, r)
	return r, nil
}

func (v *view) TransitionSessionReservations(ctx context.Context, arg repository.TransitionSessionReservationsParams) ([]repository.CheckoutReservation, error) {
	if err := v.store.fail("TransitionSessionReservations"); err != nil {
		return nil, err
	}
	moved := []repository.CheckoutReservation{}
	for i, r := range v.st().reservations {
		if r.SessionID != arg.SessionID || r.Status != arg.FromStatus {
			continue
		}
		r.Status = arg.ToStatus
		r.UpdatedAt = v.store.now()
		v.st().reservations[i] = r
		moved = append(moved, r)
	}
	return moved, nil
}

func (v *view) LockCheckoutSession(ctx context.Context, sessionID string) error {
	return v.store.fail("LockCheckoutSession")
}

func (v *view) CreateOrder(ctx context.Context, arg repository.CreateOrderParams) (repository.Order, error) {
	if err := v.store.fail("CreateOrder"); err != nil {
		return repository.Order{}, err
	}
	for _, o := range v.st().orders {
		if o.StripeSessionID == arg.StripeSessionID {
			return repository.Order{}, &pgconn.PgError{Code: "23505", ConstraintName: "orders_stripe_session_id_key"}
		}
	}
	now := v.store.now()
	o := repository.Order{
		ID:                  newID(),
		Status:              arg.Status,
		PaymentStatus:       arg.PaymentStatus,
		Currency:            arg.Currency,
		CustomerEmail:       arg.CustomerEmail,
		PaymentMethodType:   arg.PaymentMethodType,
		AmountSubtotal:      arg.AmountSubtotal,
		AmountTax:           arg.AmountTax,
		AmountShipping:      arg.AmountShipping,
		AmountDiscount:      arg.AmountDiscount,
		AmountTotal:         arg.AmountTotal,
		StripePaymentIntent: arg.StripePaymentIntent,
		StripeSessionID:     arg.StripeSessionID,
		PaidAt:              arg.PaidAt,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	v.st().orders[o.ID.Bytes] = o
	return o, nil
}

func (v *view) GetOrder(ctx context.Context, id pgtype.UUID) (repository.Order, error) {
	if err := v.store.fail("GetOrder"); err != nil {
		return repository.Order{}, err
	}
	o, ok := v.st().orders[id.Bytes]
	if !ok || !id.Valid {
		return repository.Order{}, errNoRows
	}
	return o, nil
}

func (v *view) GetOrderBySessionID(ctx context.Context, stripeSessionID string) (repository.Order, error) {
	if err := v.store.fail("GetOrderBySessionID"); err != nil {
		return repository.Order{}, err
	}
	for _, o := range v.st().orders {
		if o.StripeSessionID == stripeSessionID {
			return o, nil
		}
	}
	return repository.Order{}, errNoRows
}

func (v *view) GetOrderByPaymentIntent(ctx context.Context, stripePaymentIntent pgtype.Text) (repository.Order, error) {
	if err := v.store.fail("GetOrderByPaymentIntent"); err != nil {
		return repository.Order{}, err
	}
	return v.orderByPaymentIntent(stripePaymentIntent)
}

func (v *view) GetOrderByPaymentIntentForUpdate(ctx context.Context, stripePaymentIntent pgtype.Text) (repository.Order, error) {
	if err := v.store.fail("GetOrderByPaymentIntentForUpdate"); err != nil {
		return repository.Order{}, err
	}
	return v.orderByPaymentIntent(stripePaymentIntent)
}

// orderByPaymentIntent returns the oldest order carrying the intent.
func (v *view) orderByPaymentIntent(stripePaymentIntent pgtype.Text) (repository.Order, error) {
	var found *repository.Order
	for _, o := range v.st().orders {
		if !stripePaymentIntent.Valid || o.StripePaymentIntent != stripePaymentIntent {
			continue
		}
		if found == nil || o.CreatedAt.Time.Before(found.CreatedAt.Time) {
			o := o
			found = &o
		}
	}
	if found == nil {
		return repository.Order{}, errNoRows
	}
	return *found, nil
}

func (v *view) UpdateOrderPayment(ctx context.Context, arg repository.UpdateOrderPaymentParams) (repository.Order, error) {
	if err := v.store.fail("UpdateOrderPayment"); err != nil {
		return repository.Order{}, err
	}
	o, ok := v.st().orders[arg.ID.Bytes]
	if !ok {
		return repository.Order{}, errNoRows
	}
	o.Status = arg.Status
	o.PaymentStatus = arg.PaymentStatus
	if arg.StripePaymentIntent.Valid {
		o.StripePaymentIntent = arg.StripePaymentIntent
	}
	if arg.PaymentMethodType.Valid {
		o.PaymentMethodType = arg.PaymentMethodType
	}
	if arg.PaidAt.Valid {
		o.PaidAt = arg.PaidAt
	}
	o.UpdatedAt = v.store.now()
	v.st().orders[arg.ID.Bytes] = o
	return o, nil
}

func (v *view) UpdateOrderRefund(ctx context.Context, arg repository.UpdateOrderRefundParams) (repository.Order, error) {
	if err := v.store.fail("UpdateOrderRefund"); err != nil {
		return repository.Order{}, err
	}
	o, ok := v.st().orders[arg.ID.Bytes]
	if !ok {
		return repository.Order{}, errNoRows
	}
	if arg.AmountRefunded < 0 || arg.AmountRefunded > o.AmountTotal {
		return repository.Order{}, &pgconn.PgError{Code: "23514", ConstraintName: "orders_refund_within_total"}
	}
	o.AmountRefunded = arg.AmountRefunded
	o.Status = arg.Status
	o.PaymentStatus = arg.PaymentStatus
	o.UpdatedAt = v.store.now()
	v.st().orders[arg.ID.Bytes] = o
	return o, nil
}

func (v *view) UpdateOrderStatus(ctx context.Context, arg repository.UpdateOrderStatusParams) (repository.Order, error) {
	if err := v.store.fail("UpdateOrderStatus"); err != nil {
		return repository.Order{}, err
	}
	o, ok := v.st().orders[arg.ID.Bytes]
	if !ok {
		return repository.Order{}, errNoRows
	}
	o.Status = arg.Status
	o.UpdatedAt = v.store.now()
	v.st().orders[arg.ID.Bytes] = o
	return o, nil
}

func (v *view) CreateOrderItem(ctx context.Context, arg repository.CreateOrderItemParams) (repository.OrderItem, error) {
	if err := v.store.fail("CreateOrderItem"); err != nil {
		return repository.OrderItem{}, err
	}
	if _, ok := v.st().orders[arg.OrderID.Bytes]; !ok {
		return repository.OrderItem{}, &pgconn.PgError{Code: "23503", ConstraintName: "order_items_order_id_fkey"}
	}
	item := repository.OrderItem{
		ID:                 newID(),
		OrderID:            arg.OrderID,
		VariantID:          arg.VariantID,
		Description:        arg.Description,
		Quantity:           arg.Quantity,
		UnitAmount:         arg.UnitAmount,
		TotalAmount:        arg.TotalAmount,
		BaseCostAmount:     arg.BaseCostAmount,
		PaymentFeeAmount:   arg.PaymentFeeAmount,
		AdjustedCostAmount: arg.AdjustedCostAmount,
		CreatedAt:          v.store.now(),
	}
	v.st().orderItems = append(v.st().orderItems, item)
	return item, nil
}

func (v *view) ListOrderItems(ctx context.Context, orderID pgtype.UUID) ([]repository.OrderItem, error) {
	if err := v.store.fail("ListOrderItems"); err != nil {
		return nil, err
	}
	items := []repository.OrderItem{}
	for _, item := range v.st().orderItems {
		if item.OrderID == orderID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (v *view) UpdateOrderItemRefund(ctx context.Context, arg repository.UpdateOrderItemRefundParams) error {
	if err := v.store.fail("UpdateOrderItemRefund"); err != nil {
		return err
	}
	for i, item := range v.st().orderItems {
		if item.ID == arg.ID {
			v.st().orderItems[i].RefundedAmount = arg.RefundedAmount
		}
	}
	return nil
}

func (v *view) InsertOrderTimeline(ctx context.Context, arg repository.InsertOrderTimelineParams) (repository.OrderTimeline, error) {
	if err := v.store.fail("InsertOrderTimeline"); err != nil {
		return repository.OrderTimeline{}, err
	}
	v.st().timelineSeq++
	entry := repository.OrderTimeline{
		ID:        v.st().timelineSeq,
		OrderID:   arg.OrderID,
		Event:     arg.Event,
		Message:   arg.Message,
		Actor:     arg.Actor,
		CreatedAt: v.store.now(),
	}
	v.st().timeline = append(v.st().timeline, entry)
	return entry, nil
}

func (v *view) ListOrderTimeline(ctx context.Context, orderID pgtype.UUID) ([]repository.OrderTimeline, error) {
	if err := v.store.fail("ListOrderTimeline"); err != nil {
		return nil, err
	}
	entries := []repository.OrderTimeline{}
	for _, entry := range v.st().timeline {
		if entry.OrderID == orderID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (v *view) CreateReturnRequest(ctx context.Context, arg repository.CreateReturnRequestParams) (repository.ReturnRequest, error) {
	if err := v.store.fail("CreateReturnRequest"); err != nil {
		return repository.ReturnRequest{}, err
	}
	now := v.store.now()
	r := repository.ReturnRequest{
		ID:        newID(),
		OrderID:   arg.OrderID,
		UserID:    arg.UserID,
		Status:    arg.Status,
		Reason:    arg.Reason,
		CreatedAt: now,
		UpdatedAt: now,
	}
	v.st().returns[r.ID.Bytes] = r
	return r, nil
}

func (v *view) GetReturnRequest(ctx context.Context, id pgtype.UUID) (repository.ReturnRequest, error) {
	if err := v.store.fail("GetReturnRequest"); err != nil {
		return repository.ReturnRequest{}, err
	}
	r, ok := v.st().returns[id.Bytes]
	if !ok || !id.Valid {
		return repository.ReturnRequest{}, errNoRows
	}
	return r, nil
}

var _ repository.Querier = (*view)(nil)
