package admin

import (
	"context"
	"errors"
	"net/http"

	"github.com/dukerupert/reconciler/internal/domain"
	"github.com/dukerupert/reconciler/internal/handler"
	"github.com/dukerupert/reconciler/internal/middleware"
	"github.com/dukerupert/reconciler/internal/repository"
)

// Reprocessor replays a failed event on behalf of an operator.
type Reprocessor interface {
	Reprocess(ctx context.Context, eventID, actor string) error
}

// LedgerReader reads idempotency ledger entries.
type LedgerReader interface {
	Get(ctx context.Context, eventID string) (repository.WebhookLedger, error)
}

// EventHandler serves ledger inspection and manual reprocessing.
type EventHandler struct {
	reprocessor Reprocessor
	ledger      LedgerReader
}

func NewEventHandler(reprocessor Reprocessor, ledger LedgerReader) *EventHandler {
	return &EventHandler{reprocessor: reprocessor, ledger: ledger}
}

type reprocessRequest struct {
	EventID string `json:"eventId" validate:"required,max=255"`
}

type reprocessResponse struct {
	OK    bool                     `json:"ok"`
	Event repository.WebhookLedger `json:"event"`
}

// codeHandlerFailed marks a replay whose handler ran and failed again.
const codeHandlerFailed = "handler_failed"

// HandleReprocess replays one failed event.
//
// POST /admin/webhooks/reprocess {"eventId": "evt_..."}
//
//	200  replayed and processed
//	404  no ledger entry for the id
//	400  the entry is not failed
//	409  the entry is being processed right now
//	500  handler_failed; the entry stays failed with the new error
func (h *EventHandler) HandleReprocess(w http.ResponseWriter, r *http.Request) {
	const op = "admin.Reprocess"

	var req reprocessRequest
	if err := decodeJSONBody(r, op, &req); err != nil {
		handler.ValidationErrorResponse(w, r, err)
		return
	}

	err := h.reprocessor.Reprocess(r.Context(), req.EventID, middleware.GetActor(r.Context()))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrLedgerEntryNotFound),
			errors.Is(err, domain.ErrNotReplayable),
			errors.Is(err, domain.ErrProcessingConflict):
			handler.ErrorResponse(w, r, err)
		default:
			middleware.GetLogger(r.Context()).Error("reprocess failed",
				"event_id", req.EventID,
				"error", err.Error(),
			)
			handler.JSON(w, http.StatusInternalServerError, map[string]any{
				"error": map[string]string{
					"code":    codeHandlerFailed,
					"message": "Event handler failed: " + domain.ErrorMessage(err),
				},
				"event_id": req.EventID,
			})
		}
		return
	}

	entry, err := h.ledger.Get(r.Context(), req.EventID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, reprocessResponse{OK: true, Event: entry})
}

// HandleGetEvent returns one ledger entry.
//
// GET /admin/webhooks/events/{eventId}
func (h *EventHandler) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	entry, err := h.ledger.Get(r.Context(), r.PathValue("eventId"))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, entry)
}
