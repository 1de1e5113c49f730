package router

import (
	"net/http"
	"slices"
	"sync"
)

// Middleware is a function that wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// Router wraps http.ServeMux with middleware chaining. Groups share the
// parent's mux and route table.
type Router struct {
	mux    *http.ServeMux
	chain  []Middleware
	routes *routeTable
}

type routeTable struct {
	mu       sync.Mutex
	patterns []string
}

// New creates a Router whose middleware runs, in order, around every route.
func New(middleware ...Middleware) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		chain:  middleware,
		routes: &routeTable{},
	}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) Get(pattern string, handler http.HandlerFunc, middleware ...Middleware) {
	r.Handle(http.MethodGet, pattern, handler, middleware...)
}

func (r *Router) Post(pattern string, handler http.HandlerFunc, middleware ...Middleware) {
	r.Handle(http.MethodPost, pattern, handler, middleware...)
}

// Handle registers handler for method and pattern. Route-specific middleware
// runs inside the router's chain.
func (r *Router) Handle(method, pattern string, handler http.Handler, middleware ...Middleware) {
	full := method + " " + pattern
	r.mux.Handle(full, r.wrap(handler, middleware))

	r.routes.mu.Lock()
	r.routes.patterns = append(r.routes.patterns, full)
	r.routes.mu.Unlock()
}

// Routes returns every registered "METHOD /pattern" in registration order.
func (r *Router) Routes() []string {
	r.routes.mu.Lock()
	defer r.routes.mu.Unlock()
	return slices.Clone(r.routes.patterns)
}

// Group creates a sub-router with additional middleware
func (r *Router) Group(middleware ...Middleware) *Router {
	return &Router{
		mux:    r.mux,
		chain:  append(slices.Clone(r.chain), middleware...),
		routes: r.routes,
	}
}

func (r *Router) wrap(handler http.Handler, middleware []Middleware) http.Handler {
	combined := append(slices.Clone(r.chain), middleware...)

	// Wrap innermost first so the chain executes in declaration order.
	for i := len(combined) - 1; i >= 0; i-- {
		handler = combined[i](handler)
	}
	return handler
}
