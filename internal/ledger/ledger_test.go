package ledger_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/dukerupert/reconciler/internal/domain"
	"github.com/dukerupert/reconciler/internal/ledger"
	"github.com/dukerupert/reconciler/internal/repository/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService() (*ledger.Service, *memstore.Store) {
	store := memstore.New()
	return ledger.NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestRecordSeen(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()

	isNew, err := svc.RecordSeen(ctx, "evt_1", domain.EventChargeRefunded, domain.SourceWebhook)
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = svc.RecordSeen(ctx, "evt_1", domain.EventChargeRefunded, domain.SourceWebhook)
	require.NoError(t, err)
	assert.False(t, isNew, "second sighting must not create a new entry")

	entry, err := svc.Get(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, string(domain.LedgerReceived), entry.Status)

	_, err = svc.RecordSeen(ctx, "", domain.EventChargeRefunded, domain.SourceWebhook)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestBeginProcessing(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func(t *testing.T, svc *ledger.Service)
		wantErr error
	}{
		{
			name: "received entry is claimed",
			setup: func(t *testing.T, svc *ledger.Service) {
				_, err := svc.RecordSeen(ctx, "evt", domain.EventChargeRefunded, domain.SourceWebhook)
				require.NoError(t, err)
			},
		},
		{
			name: "failed entry is claimable for replay",
			setup: func(t *testing.T, svc *ledger.Service) {
				_, err := svc.RecordSeen(ctx, "evt", domain.EventChargeRefunded, domain.SourceWebhook)
				require.NoError(t, err)
				_, err = svc.BeginProcessing(ctx, "evt")
				require.NoError(t, err)
				_, err = svc.Complete(ctx, "evt", domain.FailedWith(errors.New("boom"), true))
				require.NoError(t, err)
			},
		},
		{
			name: "processing entry conflicts",
			setup: func(t *testing.T, svc *ledger.Service) {
				_, err := svc.RecordSeen(ctx, "evt", domain.EventChargeRefunded, domain.SourceWebhook)
				require.NoError(t, err)
				_, err = svc.BeginProcessing(ctx, "evt")
				require.NoError(t, err)
			},
			wantErr: domain.ErrProcessingConflict,
		},
		{
			name: "processed entry is immutable",
			setup: func(t *testing.T, svc *ledger.Service) {
				_, err := svc.RecordSeen(ctx, "evt", domain.EventChargeRefunded, domain.SourceWebhook)
				require.NoError(t, err)
				_, err = svc.BeginProcessing(ctx, "evt")
				require.NoError(t, err)
				_, err = svc.Complete(ctx, "evt", domain.Succeeded())
				require.NoError(t, err)
			},
			wantErr: domain.ErrAlreadyProcessed,
		},
		{
			name:    "missing entry",
			setup:   func(t *testing.T, svc *ledger.Service) {},
			wantErr: domain.ErrLedgerEntryNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newService()
			tt.setup(t, svc)

			entry, err := svc.BeginProcessing(ctx, "evt")
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, string(domain.LedgerProcessing), entry.Status)
		})
	}
}

func TestComplete(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()

	_, err := svc.RecordSeen(ctx, "evt_ok", domain.EventChargeRefunded, domain.SourceWebhook)
	require.NoError(t, err)

	_, err = svc.Complete(ctx, "evt_ok", domain.Succeeded())
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err), "only processing entries complete")

	_, err = svc.BeginProcessing(ctx, "evt_ok")
	require.NoError(t, err)

	entry, err := svc.Complete(ctx, "evt_ok", domain.Succeeded())
	require.NoError(t, err)
	assert.Equal(t, string(domain.LedgerProcessed), entry.Status)
	assert.True(t, entry.ProcessedAt.Valid, "processedAt is stamped on success")
	assert.False(t, entry.LastError.Valid)

	_, err = svc.RecordSeen(ctx, "evt_bad", "invoice.paid", domain.SourceWebhook)
	require.NoError(t, err)
	_, err = svc.BeginProcessing(ctx, "evt_bad")
	require.NoError(t, err)

	long := strings.Repeat("x", 5000)
	entry, err = svc.Complete(ctx, "evt_bad", domain.FailedWith(errors.New(long), false))
	require.NoError(t, err)
	assert.Equal(t, string(domain.LedgerFailed), entry.Status)
	assert.False(t, entry.Retryable)
	assert.False(t, entry.ProcessedAt.Valid)
	assert.Len(t, entry.LastError.String, 1000)
}

func TestComplete_TruncatesOnRuneBoundary(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()

	_, err := svc.RecordSeen(ctx, "evt_utf8", domain.EventCheckoutSessionCompleted, domain.SourceWebhook)
	require.NoError(t, err)
	_, err = svc.BeginProcessing(ctx, "evt_utf8")
	require.NoError(t, err)

	// Byte 1000 falls inside a two-byte rune.
	msg := "x" + strings.Repeat("é", 600)
	entry, err := svc.Complete(ctx, "evt_utf8", domain.FailedWith(errors.New(msg), true))
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(entry.LastError.String))
	assert.Len(t, entry.LastError.String, 999)
	assert.True(t, strings.HasPrefix(msg, entry.LastError.String))
}

func TestListRetryable(t *testing.T) {
	ctx := context.Background()
	svc, store := newService()
	now := time.Now()

	fail := func(id string, retryable bool) {
		_, err := svc.RecordSeen(ctx, id, domain.EventChargeRefunded, domain.SourceWebhook)
		require.NoError(t, err)
		_, err = svc.BeginProcessing(ctx, id)
		require.NoError(t, err)
		_, err = svc.Complete(ctx, id, domain.FailedWith(errors.New("boom"), retryable))
		require.NoError(t, err)
	}

	fail("evt_old", true)
	fail("evt_fresh", true)
	fail("evt_terminal", false)
	store.AgeLedgerEntry("evt_old", now.Add(-time.Hour))
	store.AgeLedgerEntry("evt_terminal", now.Add(-time.Hour))

	entries, err := svc.ListRetryable(ctx, now.Add(-15*time.Minute), 5, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "evt_old", entries[0].EventID)

	entries, err = svc.ListRetryable(ctx, now.Add(-15*time.Minute), 1, 10)
	require.NoError(t, err)
	assert.Empty(t, entries, "entries at the attempt cap are not retried")
}

func TestReapStuck(t *testing.T) {
	ctx := context.Background()
	svc, store := newService()
	now := time.Now()

	for _, id := range []string{"evt_stuck", "evt_live"} {
		_, err := svc.RecordSeen(ctx, id, domain.EventCheckoutSessionCompleted, domain.SourceWebhook)
		require.NoError(t, err)
		_, err = svc.BeginProcessing(ctx, id)
		require.NoError(t, err)
	}
	store.AgeLedgerEntry("evt_stuck", now.Add(-time.Hour))

	reaped, err := svc.ReapStuck(ctx, now.Add(-15*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, "evt_stuck", reaped[0].EventID)
	assert.Equal(t, string(domain.LedgerFailed), reaped[0].Status)
	assert.True(t, reaped[0].Retryable)

	live, err := svc.Get(ctx, "evt_live")
	require.NoError(t, err)
	assert.Equal(t, string(domain.LedgerProcessing), live.Status)
}
