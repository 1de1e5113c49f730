package inventory_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dukerupert/reconciler/internal/domain"
	"github.com/dukerupert/reconciler/internal/inventory"
	"github.com/dukerupert/reconciler/internal/repository"
	"github.com/dukerupert/reconciler/internal/repository/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager() *inventory.Manager {
	return inventory.NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func seedVariant(t *testing.T, store *memstore.Store, onHand int32) repository.Variant {
	t.Helper()
	v, err := store.CreateVariant(context.Background(), repository.CreateVariantParams{
		Sku:            "SKU-" + uuid.NewString()[:8],
		Name:           "Test variant",
		CostAmount:     1200,
		QuantityOnHand: onHand,
	})
	require.NoError(t, err)
	return v
}

func TestManager_Reserve(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	m := newManager()
	v := seedVariant(t, store, 5)

	got, err := m.Reserve(ctx, store, v.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, int32(3), got.Reserved)

	_, err = m.Reserve(ctx, store, v.ID, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientStock), "only 2 units remain available")
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))

	_, err = m.Reserve(ctx, store, repository.UUID(uuid.New()), 1)
	assert.True(t, errors.Is(err, domain.ErrVariantNotFound))

	_, err = m.Reserve(ctx, store, v.ID, 0)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestManager_ReleaseFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	m := newManager()
	v := seedVariant(t, store, 5)

	_, err := m.Reserve(ctx, store, v.ID, 2)
	require.NoError(t, err)

	got, err := m.Release(ctx, store, v.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(0), got.Reserved)

	got, err = m.Release(ctx, store, v.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(0), got.Reserved, "double release must not go negative")
	assert.Equal(t, int32(5), got.QuantityOnHand)
}

func TestManager_Deduct(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	m := newManager()
	v := seedVariant(t, store, 4)

	_, err := m.Reserve(ctx, store, v.ID, 3)
	require.NoError(t, err)

	got, err := m.Deduct(ctx, store, v.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, int32(1), got.QuantityOnHand)
	assert.Equal(t, int32(0), got.Reserved)

	got, err = m.Deduct(ctx, store, v.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, int32(0), got.QuantityOnHand)
	assert.Equal(t, int32(0), got.Reserved)
}

func TestManager_ReservedNeverExceedsOnHand(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	m := newManager()
	v := seedVariant(t, store, 6)

	type step struct {
		op  string
		qty int32
	}
	steps := []step{
		{"reserve", 4}, {"deduct", 1}, {"reserve", 2}, {"reserve", 5}, {"release", 1},
		{"deduct", 4}, {"release", 9}, {"reserve", 1}, {"deduct", 7}, {"reserve", 1},
	}

	for _, s := range steps {
		switch s.op {
		case "reserve":
			_, _ = m.Reserve(ctx, store, v.ID, s.qty)
		case "release":
			_, _ = m.Release(ctx, store, v.ID, s.qty)
		case "deduct":
			_, _ = m.Deduct(ctx, store, v.ID, s.qty)
		}

		got, err := store.GetVariant(ctx, v.ID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got.Reserved, int32(0), "after %s %d", s.op, s.qty)
		assert.GreaterOrEqual(t, got.QuantityOnHand, int32(0), "after %s %d", s.op, s.qty)
		assert.LessOrEqual(t, got.Reserved, got.QuantityOnHand, "after %s %d", s.op, s.qty)
	}
}

func TestManager_ReserveForSessionIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	m := newManager()
	plenty := seedVariant(t, store, 10)
	scarce := seedVariant(t, store, 1)

	err := m.ReserveForSession(ctx, store, "cs_atomic", []inventory.Line{
		{VariantID: plenty.ID, Quantity: 2},
		{VariantID: scarce.ID, Quantity: 2},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientStock))

	got, err := store.GetVariant(ctx, plenty.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(0), got.Reserved, "first line must roll back with the second")
	assert.Empty(t, store.Reservations("cs_atomic"))
}

func TestManager_PanicInTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	m := newManager()
	v := seedVariant(t, store, 4)

	assert.Panics(t, func() {
		_ = store.ExecTx(ctx, func(q repository.Querier) error {
			_, err := m.Reserve(ctx, q, v.ID, 3)
			require.NoError(t, err)
			panic("handler bug")
		})
	})

	got, err := store.GetVariant(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(0), got.Reserved)

	_, err = m.Reserve(ctx, store, v.ID, 4)
	assert.NoError(t, err, "store is usable after the panic")
}

func TestManager_DeductUnreserved(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	m := newManager()
	v := seedVariant(t, store, 3)
	_, err := m.Reserve(ctx, store, v.ID, 2)
	require.NoError(t, err)

	got, taken, err := m.DeductUnreserved(ctx, store, v.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(1), taken, "only one unit is unheld")
	assert.Equal(t, int32(2), got.QuantityOnHand)
	assert.Equal(t, int32(2), got.Reserved)

	_, taken, err = m.DeductUnreserved(ctx, store, v.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(0), taken)

	_, _, err = m.DeductUnreserved(ctx, store, repository.UUID(uuid.New()), 1)
	assert.True(t, errors.Is(err, domain.ErrVariantNotFound))

	_, _, err = m.DeductUnreserved(ctx, store, v.ID, 0)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestManager_ReleaseSessionExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	m := newManager()
	a := seedVariant(t, store, 10)
	b := seedVariant(t, store, 10)

	require.NoError(t, m.ReserveForSession(ctx, store, "cs_release", []inventory.Line{
		{VariantID: a.ID, Quantity: 2},
		{VariantID: b.ID, Quantity: 3},
	}))

	units, err := m.ReleaseSession(ctx, store, "cs_release")
	require.NoError(t, err)
	assert.Equal(t, int64(5), units)

	units, err = m.ReleaseSession(ctx, store, "cs_release")
	require.NoError(t, err)
	assert.Zero(t, units, "redelivered release must be a no-op")

	for _, id := range []repository.Variant{a, b} {
		got, err := store.GetVariant(ctx, id.ID)
		require.NoError(t, err)
		assert.Equal(t, int32(0), got.Reserved)
	}
	for _, r := range store.Reservations("cs_release") {
		assert.Equal(t, string(domain.ReservationReleased), r.Status)
	}
}

func TestManager_SettleSessionBlocksLaterRelease(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	m := newManager()
	v := seedVariant(t, store, 10)

	require.NoError(t, m.ReserveForSession(ctx, store, "cs_settle", []inventory.Line{{VariantID: v.ID, Quantity: 4}}))

	rows, err := m.SettleSession(ctx, store, "cs_settle")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	units, err := m.ReleaseSession(ctx, store, "cs_settle")
	require.NoError(t, err)
	assert.Zero(t, units, "deducted rows are never released")
}
