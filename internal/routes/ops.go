package routes

import (
	"net/http"

	"github.com/dukerupert/reconciler/internal/router"
)

// RegisterOpsRoutes registers health and metrics endpoints.
// Metrics carry no auth; restrict /metrics at the network edge.
func RegisterOpsRoutes(r *router.Router, deps OpsDeps) {
	r.Get("/health", deps.Health)
	if deps.Metrics != nil {
		r.Handle(http.MethodGet, "/metrics", deps.Metrics)
	}
}
