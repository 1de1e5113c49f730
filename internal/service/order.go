package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/dukerupert/reconciler/internal/domain"
	"github.com/dukerupert/reconciler/internal/fees"
	"github.com/dukerupert/reconciler/internal/inventory"
	"github.com/dukerupert/reconciler/internal/notify"
	"github.com/dukerupert/reconciler/internal/repository"
	"github.com/dukerupert/reconciler/internal/telemetry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

type orderService struct {
	store     repository.Store
	inventory *inventory.Manager
	publisher notify.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrderService creates the order materializer and lifecycle handlers.
func NewOrderService(store repository.Store, inv *inventory.Manager, publisher notify.Publisher, logger *slog.Logger) domain.OrderService {
	if publisher == nil {
		publisher = notify.NoopPublisher{}
	}
	return &orderService{
		store:     store,
		inventory: inv,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// materialized collects what happened inside the transaction for post-commit reporting.
type materialized struct {
	detail    *domain.OrderDetail
	created   bool
	newlyPaid bool
	deducted  int64
}

// MaterializeCheckout creates the order for a session or advances an existing one.
//
// Flow, all in one transaction under the session lock:
//  1. Secondary idempotency check: an order already stored for the session is
//     updated, never duplicated.
//  2. Resolve each item's base cost from the variant's current cost.
//  3. Stamp payment fees via the fee allocator.
//  4. Create order, items and timeline entry.
//  5. If paid, deduct stock and settle the session's reservations.
//
// Stock is deducted exactly once, on the order's first transition to paid.
func (s *orderService) MaterializeCheckout(ctx context.Context, session domain.CheckoutSession) (*domain.OrderDetail, error) {
	const op = "order.Materialize"

	if session.ID == "" {
		return nil, domain.Invalid(op, "Checkout session ID is required")
	}
	if len(session.LineItems) == 0 {
		return nil, domain.Invalid(op, "Checkout session has no line items")
	}

	var result materialized
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		if err := q.LockCheckoutSession(ctx, session.ID); err != nil {
			return domain.Internal(err, op, "failed to lock checkout session")
		}

		existing, err := q.GetOrderBySessionID(ctx, session.ID)
		switch {
		case err == nil:
			return s.advanceExisting(ctx, q, existing, session, &result)
		case !errors.Is(err, pgx.ErrNoRows):
			return domain.Internal(err, op, "failed to check for existing order")
		}

		return s.createOrder(ctx, q, session, &result)
	})
	if err != nil {
		return nil, err
	}

	order := result.detail.Order
	logger := s.logger.With(
		slog.String("session_id", session.ID),
		slog.String("order_id", repository.UUIDString(order.ID)),
	)

	if result.created {
		logger.Info("order materialized",
			slog.String("status", order.Status),
			slog.Int64("amount_total", order.AmountTotal),
			slog.Int("items", len(result.detail.Items)),
		)
		if telemetry.Business != nil {
			telemetry.Business.OrdersCreated.WithLabelValues(paymentMethodLabel(order.PaymentMethodType)).Inc()
			telemetry.Business.OrderValue.WithLabelValues(order.Currency).Observe(float64(order.AmountTotal))
		}
	} else if !result.newlyPaid {
		logger.Info("order already materialized for session", slog.String("status", order.Status))
	}

	if result.newlyPaid {
		logger.Info("order paid", slog.Int64("units_deducted", result.deducted))
		if telemetry.Business != nil {
			telemetry.Business.UnitsDeducted.Add(float64(result.deducted))
		}
		notify.Send(ctx, s.publisher, s.logger, notify.SubjectOrderPaid, notify.Message{
			OrderID:       repository.UUIDString(order.ID),
			SessionID:     session.ID,
			Status:        order.Status,
			PaymentStatus: order.PaymentStatus,
			AmountTotal:   order.AmountTotal,
			Currency:      order.Currency,
		})
	}

	return result.detail, nil
}

func (s *orderService) createOrder(ctx context.Context, q repository.Querier, session domain.CheckoutSession, result *materialized) error {
	const op = "order.Materialize"

	type line struct {
		variantID pgtype.UUID
		quantity  int32
		item      domain.LineItem
	}

	lines := make([]line, 0, len(session.LineItems))
	costItems := make([]fees.CostItem, 0, len(session.LineItems))
	for _, item := range session.LineItems {
		variantID, err := repository.ParseUUID(item.VariantID)
		if err != nil {
			return domain.Invalid(op, fmt.Sprintf("Line item has invalid variant ID %q", item.VariantID))
		}
		qty, err := toQuantity(item.Quantity)
		if err != nil {
			return domain.Invalid(op, err.Error())
		}

		variant, err := q.GetVariant(ctx, variantID)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WrapError(domain.ErrVariantNotFound, domain.ENOTFOUND, op, "Variant not found: "+item.VariantID)
		}
		if err != nil {
			return domain.Internal(err, op, "failed to load variant")
		}

		lines = append(lines, line{variantID: variantID, quantity: qty, item: item})
		costItems = append(costItems, fees.CostItem{
			UnitAmount:     item.UnitAmount,
			TotalAmount:    item.TotalAmount,
			BaseCostAmount: variant.CostAmount * int64(qty),
		})
	}

	costItems = fees.ApplyPaymentFeesToCosts(costItems, session.AmountShipping, fees.ConfigForMethod(session.PaymentMethodType))

	status, paymentStatus := domain.OrderPending, domain.PaymentUnpaid
	var paidAt pgtype.Timestamptz
	if session.Paid() {
		status, paymentStatus = domain.OrderPaid, domain.PaymentPaid
		paidAt = pgtype.Timestamptz{Time: s.now(), Valid: true}
	}

	order, err := q.CreateOrder(ctx, repository.CreateOrderParams{
		Status:              string(status),
		PaymentStatus:       string(paymentStatus),
		Currency:            strings.ToLower(session.Currency),
		CustomerEmail:       repository.Text(session.CustomerEmail),
		PaymentMethodType:   repository.Text(session.PaymentMethodType),
		AmountSubtotal:      session.AmountSubtotal,
		AmountTax:           session.AmountTax,
		AmountShipping:      session.AmountShipping,
		AmountDiscount:      session.AmountDiscount,
		AmountTotal:         session.AmountTotal,
		StripePaymentIntent: repository.Text(session.PaymentIntentID),
		StripeSessionID:     session.ID,
		PaidAt:              paidAt,
	})
	if err != nil {
		return domain.Internal(err, op, "failed to create order")
	}

	items := make([]repository.OrderItem, 0, len(lines))
	for i, l := range lines {
		item, err := q.CreateOrderItem(ctx, repository.CreateOrderItemParams{
			OrderID:            order.ID,
			VariantID:          l.variantID,
			Description:        l.item.Description,
			Quantity:           l.quantity,
			UnitAmount:         l.item.UnitAmount,
			TotalAmount:        l.item.TotalAmount,
			BaseCostAmount:     costItems[i].BaseCostAmount,
			PaymentFeeAmount:   costItems[i].PaymentFeeAmount,
			AdjustedCostAmount: costItems[i].AdjustedCostAmount,
		})
		if err != nil {
			return domain.Internal(err, op, "failed to create order item")
		}
		items = append(items, item)
	}

	if err := addTimeline(ctx, q, order.ID, domain.TimelineOrderCreated,
		fmt.Sprintf("Order created from checkout session %s", session.ID), domain.SystemActor); err != nil {
		return err
	}

	result.created = true
	result.detail = &domain.OrderDetail{Order: order, Items: items}

	if order.PaymentStatus == string(domain.PaymentPaid) {
		return s.settlePaid(ctx, q, session.ID, result)
	}
	return nil
}

// advanceExisting applies a later payment confirmation to a pending order.
// Anything else is a redelivery and leaves the order untouched.
func (s *orderService) advanceExisting(ctx context.Context, q repository.Querier, order repository.Order, session domain.CheckoutSession, result *materialized) error {
	const op = "order.Materialize"

	items, err := q.ListOrderItems(ctx, order.ID)
	if err != nil {
		return domain.Internal(err, op, "failed to load order items")
	}
	result.detail = &domain.OrderDetail{Order: order, Items: items}

	if order.PaymentStatus != string(domain.PaymentUnpaid) || !session.Paid() {
		return nil
	}

	updated, err := q.UpdateOrderPayment(ctx, repository.UpdateOrderPaymentParams{
		ID:                  order.ID,
		Status:              string(domain.OrderPaid),
		PaymentStatus:       string(domain.PaymentPaid),
		StripePaymentIntent: repository.Text(session.PaymentIntentID),
		PaymentMethodType:   repository.Text(session.PaymentMethodType),
		PaidAt:              pgtype.Timestamptz{Time: s.now(), Valid: true},
	})
	if err != nil {
		return domain.Internal(err, op, "failed to mark order paid")
	}
	result.detail.Order = updated

	return s.settlePaid(ctx, q, session.ID, result)
}

// settlePaid settles the session's reservations and deducts every item's stock.
// Units the session still holds come out of on-hand and reserved together.
// Units whose hold was already released are taken only from unreserved stock,
// so a late payment can never consume another session's hold; any shortfall
// is recorded on the order timeline.
func (s *orderService) settlePaid(ctx context.Context, q repository.Querier, sessionID string, result *materialized) error {
	rows, err := s.inventory.SettleSession(ctx, q, sessionID)
	if err != nil {
		return err
	}
	held := make(map[[16]byte]int32, len(rows))
	for _, r := range rows {
		held[r.VariantID.Bytes] += r.Quantity
	}

	order := result.detail.Order
	for _, item := range result.detail.Items {
		fromHold := min(item.Quantity, held[item.VariantID.Bytes])
		if fromHold > 0 {
			if _, err := s.inventory.Deduct(ctx, q, item.VariantID, fromHold); err != nil {
				return err
			}
			held[item.VariantID.Bytes] -= fromHold
			result.deducted += int64(fromHold)
		}

		rest := item.Quantity - fromHold
		if rest == 0 {
			continue
		}
		_, taken, err := s.inventory.DeductUnreserved(ctx, q, item.VariantID, rest)
		if err != nil {
			return err
		}
		result.deducted += int64(taken)
		if short := rest - taken; short > 0 {
			s.logger.Warn("paid order short of stock",
				slog.String("session_id", sessionID),
				slog.String("variant_id", repository.UUIDString(item.VariantID)),
				slog.Int("short", int(short)),
			)
			if err := addTimeline(ctx, q, order.ID, domain.TimelineStockShortfall,
				fmt.Sprintf("%d unit(s) of %s could not be taken from stock", short, item.Description), domain.SystemActor); err != nil {
				return err
			}
		}
	}

	result.newlyPaid = true
	return addTimeline(ctx, q, order.ID, domain.TimelineOrderPaid,
		fmt.Sprintf("Payment of %s received", formatMoney(order.AmountTotal, order.Currency)), domain.SystemActor)
}

// FailCheckout releases the session's reservation and marks a still-unpaid
// order failed. When only a payment intent is known, the session is resolved
// through the order carrying that intent; ErrSessionNotFound means the caller
// must resolve it elsewhere.
func (s *orderService) FailCheckout(ctx context.Context, params domain.FailCheckoutParams) error {
	const op = "order.FailCheckout"

	if params.SessionID == "" && params.PaymentIntentID == "" {
		return domain.Invalid(op, "Session ID or payment intent ID is required")
	}

	var (
		sessionID = params.SessionID
		released  int64
		failed    *repository.Order
	)
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		// Resolve the session without row locks; the session lock is taken
		// before any row lock, as in MaterializeCheckout.
		if sessionID == "" {
			order, err := q.GetOrderByPaymentIntent(ctx, repository.Text(params.PaymentIntentID))
			switch {
			case err == nil:
				sessionID = order.StripeSessionID
			case !errors.Is(err, pgx.ErrNoRows):
				return domain.Internal(err, op, "failed to load order by payment intent")
			}
		}
		if sessionID == "" {
			return domain.WrapError(domain.ErrSessionNotFound, domain.ENOTFOUND, op,
				"No checkout session found for payment intent "+params.PaymentIntentID)
		}

		if err := q.LockCheckoutSession(ctx, sessionID); err != nil {
			return domain.Internal(err, op, "failed to lock checkout session")
		}

		units, err := s.inventory.ReleaseSession(ctx, q, sessionID)
		if err != nil {
			return err
		}
		released = units

		order, err := q.GetOrderBySessionID(ctx, sessionID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return domain.Internal(err, op, "failed to load order")
		}
		if order.PaymentStatus != string(domain.PaymentUnpaid) {
			return nil
		}

		updated, err := q.UpdateOrderPayment(ctx, repository.UpdateOrderPaymentParams{
			ID:            order.ID,
			Status:        string(domain.OrderFailed),
			PaymentStatus: string(domain.PaymentFailed),
		})
		if err != nil {
			return domain.Internal(err, op, "failed to mark order failed")
		}
		failed = &updated

		message := "Payment failed"
		if params.Reason != "" {
			message += ": " + params.Reason
		}
		return addTimeline(ctx, q, order.ID, domain.TimelinePaymentFailed, message, domain.SystemActor)
	})
	if err != nil {
		return err
	}

	s.logger.Info("checkout payment failed",
		slog.String("session_id", sessionID),
		slog.Int64("units_released", released),
		slog.Bool("order_failed", failed != nil),
	)
	s.reportRelease(ctx, sessionID, released, "failed")

	if failed != nil {
		notify.Send(ctx, s.publisher, s.logger, notify.SubjectOrderFailed, notify.Message{
			OrderID:       repository.UUIDString(failed.ID),
			SessionID:     sessionID,
			Status:        failed.Status,
			PaymentStatus: failed.PaymentStatus,
		})
	}
	return nil
}

// ExpireCheckout releases the session's reservation. No order exists for an
// expired session.
func (s *orderService) ExpireCheckout(ctx context.Context, sessionID string) error {
	const op = "order.ExpireCheckout"

	if sessionID == "" {
		return domain.Invalid(op, "Session ID is required")
	}

	var released int64
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		if err := q.LockCheckoutSession(ctx, sessionID); err != nil {
			return domain.Internal(err, op, "failed to lock checkout session")
		}
		units, err := s.inventory.ReleaseSession(ctx, q, sessionID)
		released = units
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Info("checkout session expired",
		slog.String("session_id", sessionID),
		slog.Int64("units_released", released),
	)
	s.reportRelease(ctx, sessionID, released, "expired")
	return nil
}

func (s *orderService) reportRelease(ctx context.Context, sessionID string, units int64, reason string) {
	if units == 0 {
		return
	}
	if telemetry.Business != nil {
		telemetry.Business.UnitsReleased.WithLabelValues(reason).Add(float64(units))
	}
	notify.Send(ctx, s.publisher, s.logger, notify.SubjectInventoryReleased, notify.Message{
		SessionID: sessionID,
		Status:    reason,
		Units:     units,
	})
}

// ApplyRefund records the provider's cumulative refunded amount. The amount is
// clamped to the order total and never moves backwards, so redelivered or
// out-of-order refund events are harmless.
func (s *orderService) ApplyRefund(ctx context.Context, params domain.RefundParams) (*domain.OrderDetail, error) {
	const op = "order.ApplyRefund"

	if params.PaymentIntentID == "" {
		return nil, domain.Invalid(op, "Payment intent ID is required")
	}
	if params.AmountRefunded < 0 {
		return nil, domain.Invalid(op, "Refunded amount cannot be negative")
	}

	var (
		detail *domain.OrderDetail
		delta  int64
	)
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		order, err := q.GetOrderByPaymentIntentForUpdate(ctx, repository.Text(params.PaymentIntentID))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WrapError(domain.ErrOrderNotFound, domain.ENOTFOUND, op,
				"No order found for payment intent "+params.PaymentIntentID)
		}
		if err != nil {
			return domain.Internal(err, op, "failed to load order")
		}

		items, err := q.ListOrderItems(ctx, order.ID)
		if err != nil {
			return domain.Internal(err, op, "failed to load order items")
		}
		detail = &domain.OrderDetail{Order: order, Items: items}

		amount := min(params.AmountRefunded, order.AmountTotal)
		if amount <= order.AmountRefunded {
			return nil
		}
		delta = amount - order.AmountRefunded

		status, paymentStatus := domain.OrderPartiallyRefunded, domain.PaymentPartiallyRefunded
		if amount >= order.AmountTotal {
			status, paymentStatus = domain.OrderRefunded, domain.PaymentRefunded
		}

		updated, err := q.UpdateOrderRefund(ctx, repository.UpdateOrderRefundParams{
			ID:             order.ID,
			AmountRefunded: amount,
			Status:         string(status),
			PaymentStatus:  string(paymentStatus),
		})
		if err != nil {
			return domain.Internal(err, op, "failed to record refund")
		}
		detail.Order = updated

		totals := make([]int64, len(items))
		for i, item := range items {
			totals[i] = item.TotalAmount
		}
		shares, _ := fees.ApportionRefund(amount, totals, order.AmountShipping)
		for i := range items {
			if err := q.UpdateOrderItemRefund(ctx, repository.UpdateOrderItemRefundParams{
				ID:             items[i].ID,
				RefundedAmount: shares[i],
			}); err != nil {
				return domain.Internal(err, op, "failed to apportion refund")
			}
			detail.Items[i].RefundedAmount = shares[i]
		}

		return addTimeline(ctx, q, order.ID, domain.TimelineRefunded,
			fmt.Sprintf("Refunded %s (total refunded %s of %s)",
				formatMoney(delta, order.Currency),
				formatMoney(amount, order.Currency),
				formatMoney(order.AmountTotal, order.Currency)),
			domain.SystemActor)
	})
	if err != nil {
		return nil, err
	}

	order := detail.Order
	if delta == 0 {
		s.logger.Info("refund already recorded",
			slog.String("order_id", repository.UUIDString(order.ID)),
			slog.Int64("amount_refunded", order.AmountRefunded),
		)
		return detail, nil
	}

	s.logger.Info("refund recorded",
		slog.String("order_id", repository.UUIDString(order.ID)),
		slog.String("charge_id", params.ChargeID),
		slog.Int64("amount_refunded", order.AmountRefunded),
		slog.String("status", order.Status),
	)
	if telemetry.Business != nil {
		telemetry.Business.RefundsRecorded.WithLabelValues(order.Status).Inc()
		telemetry.Business.RefundAmount.Add(float64(delta))
	}
	notify.Send(ctx, s.publisher, s.logger, notify.SubjectOrderRefunded, notify.Message{
		OrderID:        repository.UUIDString(order.ID),
		Status:         order.Status,
		PaymentStatus:  order.PaymentStatus,
		AmountTotal:    order.AmountTotal,
		AmountRefunded: order.AmountRefunded,
		Currency:       order.Currency,
	})
	return detail, nil
}

// ApplyReturnDecision moves the order of a decided return request into
// return_approved or return_rejected.
func (s *orderService) ApplyReturnDecision(ctx context.Context, returnRequestID string, actor string) (*domain.OrderDetail, error) {
	const op = "order.ApplyReturnDecision"

	id, err := repository.ParseUUID(returnRequestID)
	if err != nil {
		return nil, domain.Invalid(op, "Invalid return request ID")
	}
	if actor == "" {
		actor = domain.SystemActor
	}

	var (
		detail  *domain.OrderDetail
		changed bool
	)
	err = s.store.ExecTx(ctx, func(q repository.Querier) error {
		rr, err := q.GetReturnRequest(ctx, id)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WrapError(domain.ErrReturnNotFound, domain.ENOTFOUND, op, "Return request not found")
		}
		if err != nil {
			return domain.Internal(err, op, "failed to load return request")
		}

		var target domain.OrderStatus
		switch domain.ReturnStatus(rr.Status) {
		case domain.ReturnApproved:
			target = domain.OrderReturnApproved
		case domain.ReturnRejected:
			target = domain.OrderReturnRejected
		default:
			return domain.Invalid(op, "Return request has not been decided")
		}

		order, err := q.GetOrder(ctx, rr.OrderID)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WrapError(domain.ErrOrderNotFound, domain.ENOTFOUND, op, "Order not found")
		}
		if err != nil {
			return domain.Internal(err, op, "failed to load order")
		}
		detail = &domain.OrderDetail{Order: order}

		if order.Status != string(target) {
			updated, err := q.UpdateOrderStatus(ctx, repository.UpdateOrderStatusParams{ID: order.ID, Status: string(target)})
			if err != nil {
				return domain.Internal(err, op, "failed to update order status")
			}
			detail.Order = updated
			changed = true

			if err := addTimeline(ctx, q, order.ID, domain.TimelineReturnUpdated,
				fmt.Sprintf("Return request %s", strings.ToLower(rr.Status)), actor); err != nil {
				return err
			}
		}

		items, err := q.ListOrderItems(ctx, order.ID)
		if err != nil {
			return domain.Internal(err, op, "failed to load order items")
		}
		detail.Items = items
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.logger.Info("return decision applied",
			slog.String("order_id", repository.UUIDString(detail.Order.ID)),
			slog.String("status", detail.Order.Status),
			slog.String("actor", actor),
		)
		notify.Send(ctx, s.publisher, s.logger, notify.SubjectOrderReturnStatus, notify.Message{
			OrderID: repository.UUIDString(detail.Order.ID),
			Status:  detail.Order.Status,
		})
	}
	return detail, nil
}

// GetOrder retrieves a single order with its items and timeline.
func (s *orderService) GetOrder(ctx context.Context, orderID string) (*domain.OrderDetail, error) {
	const op = "order.Get"

	id, err := repository.ParseUUID(orderID)
	if err != nil {
		return nil, domain.Invalid(op, "Invalid order ID")
	}

	order, err := s.store.GetOrder(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.WrapError(domain.ErrOrderNotFound, domain.ENOTFOUND, op, "Order not found")
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load order")
	}

	items, err := s.store.ListOrderItems(ctx, id)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load order items")
	}
	timeline, err := s.store.ListOrderTimeline(ctx, id)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load order timeline")
	}

	return &domain.OrderDetail{Order: order, Items: items, Timeline: timeline}, nil
}

func addTimeline(ctx context.Context, q repository.Querier, orderID pgtype.UUID, event, message, actor string) error {
	_, err := q.InsertOrderTimeline(ctx, repository.InsertOrderTimelineParams{
		OrderID: orderID,
		Event:   event,
		Message: message,
		Actor:   actor,
	})
	if err != nil {
		return domain.Internal(err, "order.timeline", "failed to append timeline entry")
	}
	return nil
}

func toQuantity(q int64) (int32, error) {
	if q <= 0 || q > math.MaxInt32 {
		return 0, fmt.Errorf("line item quantity %d out of range", q)
	}
	return int32(q), nil
}

// formatMoney renders minor units as "12.34 EUR".
func formatMoney(amount int64, currency string) string {
	return decimal.New(amount, -2).StringFixed(2) + " " + strings.ToUpper(currency)
}

func paymentMethodLabel(method pgtype.Text) string {
	if !method.Valid || method.String == "" {
		return "unknown"
	}
	return method.String
}
