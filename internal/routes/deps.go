package routes

import (
	"net/http"

	"github.com/dukerupert/reconciler/internal/handler/admin"
)

// WebhookDeps contains dependencies for webhook routes
type WebhookDeps struct {
	StripeHandler http.HandlerFunc
}

// AdminDeps contains dependencies for admin routes
type AdminDeps struct {
	// Tokens maps admin API tokens to actor names.
	Tokens map[string]string

	EventHandler *admin.EventHandler
	OrderHandler *admin.OrderHandler
}

// OpsDeps contains dependencies for health and metrics routes
type OpsDeps struct {
	Health  http.HandlerFunc
	Metrics http.Handler
}
