package routes

import (
	"github.com/dukerupert/reconciler/internal/middleware"
	"github.com/dukerupert/reconciler/internal/router"
)

// RegisterAdminRoutes registers the operator API.
// All routes are protected by admin token authentication.
func RegisterAdminRoutes(r *router.Router, deps AdminDeps) {
	admin := r.Group(
		middleware.RequireAdmin(deps.Tokens),
		middleware.MaxBodySize(middleware.AdminMaxBodySize),
	)

	// Idempotency ledger
	admin.Post("/admin/webhooks/reprocess", deps.EventHandler.HandleReprocess)
	admin.Get("/admin/webhooks/events/{eventId}", deps.EventHandler.HandleGetEvent)

	// Orders
	admin.Get("/admin/orders/{id}", deps.OrderHandler.HandleGetOrder)
	admin.Post("/admin/orders/{id}/refunds", deps.OrderHandler.HandleCreateRefund)
	admin.Post("/admin/returns/{id}/sync", deps.OrderHandler.HandleSyncReturn)
}
