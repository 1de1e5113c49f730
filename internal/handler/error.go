// Package handler holds the HTTP error responses shared by the webhook and
// admin handlers.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/reconciler/internal/domain"
	"github.com/dukerupert/reconciler/internal/middleware"
	"github.com/dukerupert/reconciler/internal/telemetry"
)

const (
	internalErrorMessage    = "An internal error occurred. Please try again later."
	validationFailedMessage = "Validation failed"
)

// ErrorResponse writes err with the status its code maps to.
// JSON clients get {"error":{"code","message"}}; others get plain text.
// Internal errors are logged, reported to Sentry, and hidden from the client.
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	status := ErrorCodeToHTTPStatus(code)
	message := domain.ErrorMessage(err)
	if status >= http.StatusInternalServerError {
		message = internalErrorMessage
	}

	logError(r, err, code, status)

	if acceptsJSON(r) {
		writeJSONError(w, status, code, message, nil)
		return
	}
	http.Error(w, message, status)
}

// ValidationErrorResponse writes field errors as 400. Other errors fall
// back to ErrorResponse.
func ValidationErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	if !domain.IsValidationError(err) {
		ErrorResponse(w, r, err)
		return
	}

	fields := domain.GetValidationFields(err)
	logError(r, err, domain.EINVALID, http.StatusBadRequest)

	if acceptsJSON(r) {
		writeJSONError(w, http.StatusBadRequest, domain.EINVALID, validationFailedMessage, fields)
		return
	}

	var b strings.Builder
	b.WriteString(validationFailedMessage)
	for field, msg := range fields {
		b.WriteString("\n")
		b.WriteString(field)
		b.WriteString(": ")
		b.WriteString(msg)
	}
	http.Error(w, b.String(), http.StatusBadRequest)
}

// JSON writes v with status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest // 400
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized // 401
	case domain.EPAYMENT:
		return http.StatusPaymentRequired // 402
	case domain.EFORBIDDEN:
		return http.StatusForbidden // 403
	case domain.ENOTFOUND:
		return http.StatusNotFound // 404
	case domain.ECONFLICT:
		return http.StatusConflict // 409
	case domain.EGONE:
		return http.StatusGone // 410
	case domain.ETOOLARGE:
		return http.StatusRequestEntityTooLarge // 413
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests // 429
	case domain.EINTERNAL:
		return http.StatusInternalServerError // 500
	case domain.ENOTIMPL:
		return http.StatusNotImplemented // 501
	default:
		return http.StatusInternalServerError // 500
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, message string, fields map[string]string) {
	body := map[string]any{
		"code":    code,
		"message": message,
	}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	JSON(w, status, map[string]any{"error": body})
}

func logError(r *http.Request, err error, code string, status int) {
	logger := middleware.GetLogger(r.Context())
	attrs := []any{
		slog.String("error", err.Error()),
		slog.String("code", code),
		slog.Int("status", status),
	}
	if op := domain.ErrorOp(err); op != "" {
		attrs = append(attrs, slog.String("op", op))
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", attrs...)
		telemetry.CaptureErrorFromContext(r.Context(), err, map[string]interface{}{
			"path":       r.URL.Path,
			"method":     r.Method,
			"request_id": middleware.GetRequestID(r.Context()),
		})
		return
	}
	logger.Info("request rejected", attrs...)
}

// acceptsJSON checks if the client prefers JSON responses.
func acceptsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	return strings.HasSuffix(r.URL.Path, ".json")
}
