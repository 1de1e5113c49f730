package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/dukerupert/reconciler/internal/domain"
	"github.com/dukerupert/reconciler/internal/inventory"
	"github.com/dukerupert/reconciler/internal/notify"
	"github.com/dukerupert/reconciler/internal/repository"
	"github.com/dukerupert/reconciler/internal/repository/memstore"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPublisher captures published subjects.
type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, _ notify.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *recordingPublisher) Close() {}

type fixture struct {
	store     *memstore.Store
	inventory *inventory.Manager
	publisher *recordingPublisher
	svc       domain.OrderService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	inv := inventory.NewManager(logger)
	pub := &recordingPublisher{}
	return &fixture{
		store:     store,
		inventory: inv,
		publisher: pub,
		svc:       NewOrderService(store, inv, pub, logger),
	}
}

func (f *fixture) variant(t *testing.T, onHand int32, cost int64) repository.Variant {
	t.Helper()
	v, err := f.store.CreateVariant(context.Background(), repository.CreateVariantParams{
		Sku:            "SKU-" + uuid.NewString()[:8],
		Name:           "Variant",
		CostAmount:     cost,
		QuantityOnHand: onHand,
	})
	require.NoError(t, err)
	return v
}

func (f *fixture) reserve(t *testing.T, sessionID string, lines ...inventory.Line) {
	t.Helper()
	require.NoError(t, f.inventory.ReserveForSession(context.Background(), f.store, sessionID, lines))
}

func (f *fixture) stock(t *testing.T, v repository.Variant) repository.Variant {
	t.Helper()
	got, err := f.store.GetVariant(context.Background(), v.ID)
	require.NoError(t, err)
	return got
}

func session(id, paymentStatus string, items ...domain.LineItem) domain.CheckoutSession {
	var subtotal int64
	for _, it := range items {
		subtotal += it.TotalAmount
	}
	return domain.CheckoutSession{
		ID:                id,
		Mode:              domain.SessionModePayment,
		Status:            domain.SessionStatusComplete,
		PaymentStatus:     paymentStatus,
		PaymentIntentID:   "pi_" + id,
		PaymentMethodType: "card",
		Currency:          "eur",
		CustomerEmail:     "buyer@example.com",
		AmountSubtotal:    subtotal,
		AmountTotal:       subtotal,
		LineItems:         items,
	}
}

func line(v repository.Variant, qty, unit int64) domain.LineItem {
	return domain.LineItem{
		VariantID:   repository.UUIDString(v.ID),
		Description: v.Name,
		Quantity:    qty,
		UnitAmount:  unit,
		TotalAmount: qty * unit,
	}
}

func TestMaterializeCheckout_PaidCreatesOrderAndDeducts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.variant(t, 10, 2000)
	f.reserve(t, "cs_paid", inventory.Line{VariantID: v.ID, Quantity: 1})

	detail, err := f.svc.MaterializeCheckout(ctx, session("cs_paid", domain.SessionPaymentPaid, line(v, 1, 5000)))
	require.NoError(t, err)

	assert.Equal(t, string(domain.OrderPaid), detail.Order.Status)
	assert.Equal(t, string(domain.PaymentPaid), detail.Order.PaymentStatus)
	assert.True(t, detail.Order.PaidAt.Valid)
	require.Len(t, detail.Items, 1)

	item := detail.Items[0]
	assert.Equal(t, int64(2000), item.BaseCostAmount)
	assert.Equal(t, int64(100), item.PaymentFeeAmount, "card fee on a 50.00 item is 75 + 25")
	assert.Equal(t, int64(2100), item.AdjustedCostAmount)

	got := f.stock(t, v)
	assert.Equal(t, int32(9), got.QuantityOnHand)
	assert.Equal(t, int32(0), got.Reserved)

	for _, r := range f.store.Reservations("cs_paid") {
		assert.Equal(t, string(domain.ReservationDeducted), r.Status)
	}
	assert.Contains(t, f.publisher.subjects, notify.SubjectOrderPaid)
}

func TestMaterializeCheckout_RedeliveryIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.variant(t, 10, 500)
	f.reserve(t, "cs_dup", inventory.Line{VariantID: v.ID, Quantity: 2})
	s := session("cs_dup", domain.SessionPaymentPaid, line(v, 2, 1500))

	first, err := f.svc.MaterializeCheckout(ctx, s)
	require.NoError(t, err)
	second, err := f.svc.MaterializeCheckout(ctx, s)
	require.NoError(t, err)

	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Len(t, f.store.Orders(), 1, "secondary check must prevent a duplicate order")
	assert.Equal(t, int32(8), f.stock(t, v).QuantityOnHand, "stock deducted exactly once")
}

func TestMaterializeCheckout_DelayedPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.variant(t, 5, 500)
	f.reserve(t, "cs_async", inventory.Line{VariantID: v.ID, Quantity: 1})

	pending, err := f.svc.MaterializeCheckout(ctx, session("cs_async", domain.SessionPaymentUnpaid, line(v, 1, 3000)))
	require.NoError(t, err)
	assert.Equal(t, string(domain.OrderPending), pending.Order.Status)
	assert.Equal(t, string(domain.PaymentUnpaid), pending.Order.PaymentStatus)

	got := f.stock(t, v)
	assert.Equal(t, int32(5), got.QuantityOnHand, "unpaid order must not deduct")
	assert.Equal(t, int32(1), got.Reserved, "reservation stays held until payment settles")

	paid, err := f.svc.MaterializeCheckout(ctx, session("cs_async", domain.SessionPaymentPaid, line(v, 1, 3000)))
	require.NoError(t, err)
	assert.Equal(t, pending.Order.ID, paid.Order.ID)
	assert.Equal(t, string(domain.OrderPaid), paid.Order.Status)

	_, err = f.svc.MaterializeCheckout(ctx, session("cs_async", domain.SessionPaymentPaid, line(v, 1, 3000)))
	require.NoError(t, err)

	got = f.stock(t, v)
	assert.Equal(t, int32(4), got.QuantityOnHand)
	assert.Equal(t, int32(0), got.Reserved)
}

func TestMaterializeCheckout_RollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.variant(t, 5, 100)
	b := f.variant(t, 5, 100)
	f.store.FailOn["CreateOrderItem"] = errors.New("disk full")

	_, err := f.svc.MaterializeCheckout(ctx, session("cs_rollback", domain.SessionPaymentPaid, line(a, 1, 1000), line(b, 1, 1000)))
	require.Error(t, err)
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))

	assert.Empty(t, f.store.Orders(), "no partially created order")
	assert.Equal(t, int32(5), f.stock(t, a).QuantityOnHand, "no partial deduction")
}

func TestMaterializeCheckout_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.variant(t, 5, 100)

	tests := []struct {
		name     string
		session  domain.CheckoutSession
		wantCode string
	}{
		{"missing id", session("", domain.SessionPaymentPaid, line(v, 1, 100)), domain.EINVALID},
		{"no items", session("cs_empty", domain.SessionPaymentPaid), domain.EINVALID},
		{"bad variant id", session("cs_bad", domain.SessionPaymentPaid, domain.LineItem{VariantID: "nope", Quantity: 1}), domain.EINVALID},
		{"zero quantity", session("cs_zero", domain.SessionPaymentPaid, line(v, 0, 100)), domain.EINVALID},
		{"unknown variant", session("cs_unknown", domain.SessionPaymentPaid, domain.LineItem{VariantID: uuid.NewString(), Quantity: 1}), domain.ENOTFOUND},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.MaterializeCheckout(ctx, tt.session)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, domain.ErrorCode(err))
		})
	}
}

func TestFailCheckout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.variant(t, 5, 100)
	f.reserve(t, "cs_fail", inventory.Line{VariantID: v.ID, Quantity: 3})

	_, err := f.svc.MaterializeCheckout(ctx, session("cs_fail", domain.SessionPaymentUnpaid, line(v, 3, 1000)))
	require.NoError(t, err)

	require.NoError(t, f.svc.FailCheckout(ctx, domain.FailCheckoutParams{SessionID: "cs_fail", Reason: "insufficient_funds"}))
	require.NoError(t, f.svc.FailCheckout(ctx, domain.FailCheckoutParams{SessionID: "cs_fail"}))

	assert.Equal(t, int32(0), f.stock(t, v).Reserved, "released exactly once")
	assert.Equal(t, int32(5), f.stock(t, v).QuantityOnHand)

	orders := f.store.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, string(domain.OrderFailed), orders[0].Status)
	assert.Equal(t, string(domain.PaymentFailed), orders[0].PaymentStatus)

	detail, err := f.svc.GetOrder(ctx, repository.UUIDString(orders[0].ID))
	require.NoError(t, err)
	var failures int
	for _, e := range detail.Timeline {
		if e.Event == domain.TimelinePaymentFailed {
			failures++
			assert.Contains(t, e.Message, "insufficient_funds")
		}
	}
	assert.Equal(t, 1, failures)
}

func TestFailCheckout_ByPaymentIntent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.variant(t, 5, 100)
	f.reserve(t, "cs_pi", inventory.Line{VariantID: v.ID, Quantity: 2})

	_, err := f.svc.MaterializeCheckout(ctx, session("cs_pi", domain.SessionPaymentUnpaid, line(v, 2, 1000)))
	require.NoError(t, err)

	require.NoError(t, f.svc.FailCheckout(ctx, domain.FailCheckoutParams{PaymentIntentID: "pi_cs_pi"}))
	assert.Equal(t, int32(0), f.stock(t, v).Reserved)

	err = f.svc.FailCheckout(ctx, domain.FailCheckoutParams{PaymentIntentID: "pi_unknown"})
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound), "caller resolves the session elsewhere")
}

func TestFailCheckout_PaidOrderUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.variant(t, 5, 100)

	_, err := f.svc.MaterializeCheckout(ctx, session("cs_paid_fail", domain.SessionPaymentPaid, line(v, 1, 1000)))
	require.NoError(t, err)

	require.NoError(t, f.svc.FailCheckout(ctx, domain.FailCheckoutParams{SessionID: "cs_paid_fail"}))
	assert.Equal(t, string(domain.OrderPaid), f.store.Orders()[0].Status)
}

func TestMaterializeCheckout_PaidAfterReleaseKeepsOtherHolds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.variant(t, 2, 100)
	f.reserve(t, "cs_a", inventory.Line{VariantID: v.ID, Quantity: 1})
	f.reserve(t, "cs_b", inventory.Line{VariantID: v.ID, Quantity: 1})

	require.NoError(t, f.svc.FailCheckout(ctx, domain.FailCheckoutParams{SessionID: "cs_a", Reason: "card_declined"}))
	_, err := f.svc.MaterializeCheckout(ctx, session("cs_a", domain.SessionPaymentPaid, line(v, 1, 1000)))
	require.NoError(t, err)

	got := f.stock(t, v)
	assert.Equal(t, int32(1), got.QuantityOnHand)
	assert.Equal(t, int32(1), got.Reserved, "cs_b still holds its unit")

	err = f.inventory.ReserveForSession(ctx, f.store, "cs_c", []inventory.Line{{VariantID: v.ID, Quantity: 1}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientStock))

	_, err = f.svc.MaterializeCheckout(ctx, session("cs_b", domain.SessionPaymentPaid, line(v, 1, 1000)))
	require.NoError(t, err)

	got = f.stock(t, v)
	assert.Equal(t, int32(0), got.QuantityOnHand)
	assert.Equal(t, int32(0), got.Reserved)
}

func TestMaterializeCheckout_PaidAfterReleaseRecordsShortfall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.variant(t, 1, 100)
	f.reserve(t, "cs_late", inventory.Line{VariantID: v.ID, Quantity: 1})
	require.NoError(t, f.svc.ExpireCheckout(ctx, "cs_late"))
	f.reserve(t, "cs_next", inventory.Line{VariantID: v.ID, Quantity: 1})

	detail, err := f.svc.MaterializeCheckout(ctx, session("cs_late", domain.SessionPaymentPaid, line(v, 1, 1000)))
	require.NoError(t, err)
	assert.Equal(t, string(domain.OrderPaid), detail.Order.Status)

	got := f.stock(t, v)
	assert.Equal(t, int32(1), got.QuantityOnHand, "the unit held by cs_next is not taken")
	assert.Equal(t, int32(1), got.Reserved)

	full, err := f.svc.GetOrder(ctx, repository.UUIDString(detail.Order.ID))
	require.NoError(t, err)
	var shortfalls int
	for _, e := range full.Timeline {
		if e.Event == domain.TimelineStockShortfall {
			shortfalls++
		}
	}
	assert.Equal(t, 1, shortfalls)
}

// lockOrderStore records the order in which FailCheckout takes locks.
type lockOrderStore struct {
	*memstore.Store
	calls []string
}

func (s *lockOrderStore) ExecTx(ctx context.Context, fn func(q repository.Querier) error) error {
	return s.Store.ExecTx(ctx, func(q repository.Querier) error {
		return fn(&lockOrderQuerier{Querier: q, store: s})
	})
}

type lockOrderQuerier struct {
	repository.Querier
	store *lockOrderStore
}

func (q *lockOrderQuerier) LockCheckoutSession(ctx context.Context, sessionID string) error {
	q.store.calls = append(q.store.calls, "LockCheckoutSession")
	return q.Querier.LockCheckoutSession(ctx, sessionID)
}

func (q *lockOrderQuerier) GetOrderByPaymentIntentForUpdate(ctx context.Context, pi pgtype.Text) (repository.Order, error) {
	q.store.calls = append(q.store.calls, "GetOrderByPaymentIntentForUpdate")
	return q.Querier.GetOrderByPaymentIntentForUpdate(ctx, pi)
}

func TestFailCheckout_SessionLockBeforeRowLocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.variant(t, 5, 100)
	f.reserve(t, "cs_order", inventory.Line{VariantID: v.ID, Quantity: 1})
	_, err := f.svc.MaterializeCheckout(ctx, session("cs_order", domain.SessionPaymentUnpaid, line(v, 1, 1000)))
	require.NoError(t, err)

	store := &lockOrderStore{Store: f.store}
	svc := NewOrderService(store, f.inventory, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		name   string
		params domain.FailCheckoutParams
	}{
		{"by payment intent", domain.FailCheckoutParams{PaymentIntentID: "pi_cs_order"}},
		{"by session and payment intent", domain.FailCheckoutParams{SessionID: "cs_order", PaymentIntentID: "pi_cs_order"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store.calls = nil
			require.NoError(t, svc.FailCheckout(ctx, tt.params))
			require.NotEmpty(t, store.calls)
			assert.Equal(t, "LockCheckoutSession", store.calls[0])
			assert.NotContains(t, store.calls, "GetOrderByPaymentIntentForUpdate")
		})
	}

	assert.Equal(t, int32(0), f.stock(t, v).Reserved)
	assert.Equal(t, string(domain.OrderFailed), f.store.Orders()[0].Status)
}

func TestExpireCheckout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.variant(t, 5, 100)
	f.reserve(t, "cs_exp", inventory.Line{VariantID: v.ID, Quantity: 4})

	require.NoError(t, f.svc.ExpireCheckout(ctx, "cs_exp"))
	require.NoError(t, f.svc.ExpireCheckout(ctx, "cs_exp"))

	assert.Equal(t, int32(0), f.stock(t, v).Reserved)
	assert.Empty(t, f.store.Orders())
	assert.Equal(t, []string{notify.SubjectInventoryReleased}, f.publisher.subjects)
}

func TestApplyRefund(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		refunds     []int64
		wantStatus  domain.OrderStatus
		wantPayment domain.PaymentStatus
		wantAmount  int64
		explanation string
	}{
		{
			name:        "full refund",
			refunds:     []int64{10000},
			wantStatus:  domain.OrderRefunded,
			wantPayment: domain.PaymentRefunded,
			wantAmount:  10000,
			explanation: "amount_refunded equal to total marks the order refunded",
		},
		{
			name:        "partial refund",
			refunds:     []int64{2500},
			wantStatus:  domain.OrderPartiallyRefunded,
			wantPayment: domain.PaymentPartiallyRefunded,
			wantAmount:  2500,
			explanation: "amount_refunded below total marks the order partially refunded",
		},
		{
			name:        "partial then full",
			refunds:     []int64{2500, 10000},
			wantStatus:  domain.OrderRefunded,
			wantPayment: domain.PaymentRefunded,
			wantAmount:  10000,
			explanation: "cumulative provider amount drives the status",
		},
		{
			name:        "over-refund is clamped",
			refunds:     []int64{12000},
			wantStatus:  domain.OrderRefunded,
			wantPayment: domain.PaymentRefunded,
			wantAmount:  10000,
			explanation: "amountRefunded never exceeds amountTotal",
		},
		{
			name:        "out of order delivery",
			refunds:     []int64{6000, 2500},
			wantStatus:  domain.OrderPartiallyRefunded,
			wantPayment: domain.PaymentPartiallyRefunded,
			wantAmount:  6000,
			explanation: "a stale smaller amount does not move the refund backwards",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			a := f.variant(t, 10, 1000)
			b := f.variant(t, 10, 1000)
			s := session("cs_refund", domain.SessionPaymentPaid, line(a, 1, 6000), line(b, 1, 3500))
			s.AmountShipping = 500
			s.AmountTotal = 10000

			_, err := f.svc.MaterializeCheckout(ctx, s)
			require.NoError(t, err)

			var detail *domain.OrderDetail
			for _, amount := range tt.refunds {
				detail, err = f.svc.ApplyRefund(ctx, domain.RefundParams{PaymentIntentID: "pi_cs_refund", AmountRefunded: amount})
				require.NoError(t, err)
			}

			assert.Equal(t, string(tt.wantStatus), detail.Order.Status, tt.explanation)
			assert.Equal(t, string(tt.wantPayment), detail.Order.PaymentStatus, tt.explanation)
			assert.Equal(t, tt.wantAmount, detail.Order.AmountRefunded, tt.explanation)

			var itemsRefunded int64
			for _, item := range detail.Items {
				assert.LessOrEqual(t, item.RefundedAmount, item.TotalAmount)
				itemsRefunded += item.RefundedAmount
			}
			assert.LessOrEqual(t, itemsRefunded, tt.wantAmount, "shipping takes the rest of the refund")
			assert.GreaterOrEqual(t, itemsRefunded, tt.wantAmount-500)
		})
	}
}

func TestApplyRefund_UnknownPaymentIntent(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ApplyRefund(context.Background(), domain.RefundParams{PaymentIntentID: "pi_missing", AmountRefunded: 100})
	assert.True(t, errors.Is(err, domain.ErrOrderNotFound))
}

func TestApplyReturnDecision(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.variant(t, 5, 100)

	detail, err := f.svc.MaterializeCheckout(ctx, session("cs_return", domain.SessionPaymentPaid, line(v, 1, 1000)))
	require.NoError(t, err)

	pending, err := f.store.CreateReturnRequest(ctx, repository.CreateReturnRequestParams{
		OrderID: detail.Order.ID, UserID: "user_1", Status: string(domain.ReturnPending), Reason: "too small",
	})
	require.NoError(t, err)
	approved, err := f.store.CreateReturnRequest(ctx, repository.CreateReturnRequestParams{
		OrderID: detail.Order.ID, UserID: "user_1", Status: string(domain.ReturnApproved), Reason: "too small",
	})
	require.NoError(t, err)

	_, err = f.svc.ApplyReturnDecision(ctx, repository.UUIDString(pending.ID), "ops@example.com")
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err), "pending returns carry no decision")

	got, err := f.svc.ApplyReturnDecision(ctx, repository.UUIDString(approved.ID), "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, string(domain.OrderReturnApproved), got.Order.Status)

	_, err = f.svc.ApplyReturnDecision(ctx, uuid.NewString(), "ops@example.com")
	assert.True(t, errors.Is(err, domain.ErrReturnNotFound))

	full, err := f.svc.GetOrder(ctx, repository.UUIDString(detail.Order.ID))
	require.NoError(t, err)
	last := full.Timeline[len(full.Timeline)-1]
	assert.Equal(t, domain.TimelineReturnUpdated, last.Event)
	assert.Equal(t, "ops@example.com", last.Actor)
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "12.34 EUR", formatMoney(1234, "eur"))
	assert.Equal(t, "0.05 USD", formatMoney(5, "usd"))
	assert.Equal(t, "100.00 EUR", formatMoney(10000, "EUR"))
}
