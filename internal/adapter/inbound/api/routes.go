package api

import (
	"fmt"
	"net/http"
	"strings"
)

// RouteRegistry manages HTTP route registration using Go 1.22+ ServeMux
// patterns.
type RouteRegistry struct {
	routes   map[string]http.Handler
	patterns []string
	mux      *http.ServeMux
}

// NewRouteRegistry creates a new RouteRegistry.
func NewRouteRegistry() *RouteRegistry {
	return &RouteRegistry{
		routes:   make(map[string]http.Handler),
		patterns: make([]string, 0),
		mux:      http.NewServeMux(),
	}
}

// RegisterAPIRoutes registers all API routes with their handlers.
func (r *RouteRegistry) RegisterAPIRoutes(healthHandler *HealthHandler, enrichmentHandler *EnrichmentHandler) {
	register := func(pattern string, handler http.HandlerFunc) {
		if err := r.RegisterRoute(pattern, handler); err != nil {
			panic(fmt.Errorf("failed to register route %q: %w", pattern, err))
		}
	}

	register("GET /health", healthHandler.GetHealth)
	register("GET /workers/health", healthHandler.GetWorkerHealth)
	register("GET /workers/metrics", healthHandler.GetWorkerMetrics)

	register("POST /jobs", enrichmentHandler.SubmitJob)
	register("GET /jobs/{id}", enrichmentHandler.GetJob)
	register("GET /tenants/{tenant_id}/jobs", enrichmentHandler.ListTenantJobs)
}

// RegisterRoute registers a single route with the given pattern and handler.
func (r *RouteRegistry) RegisterRoute(pattern string, handler http.Handler) error {
	if err := validatePattern(pattern); err != nil {
		return err
	}
	if _, exists := r.routes[pattern]; exists {
		return fmt.Errorf("route %q already registered", pattern)
	}

	r.mux.Handle(pattern, handler)
	r.routes[pattern] = handler
	r.patterns = append(r.patterns, pattern)
	return nil
}

// BuildServeMux returns the configured ServeMux.
func (r *RouteRegistry) BuildServeMux() *http.ServeMux {
	return r.mux
}

// HasRoute checks if a route pattern is registered.
func (r *RouteRegistry) HasRoute(pattern string) bool {
	_, exists := r.routes[pattern]
	return exists
}

// RouteCount returns the number of registered routes.
func (r *RouteRegistry) RouteCount() int {
	return len(r.routes)
}

// validatePattern validates a "METHOD /path" ServeMux pattern.
func validatePattern(pattern string) error {
	parts := strings.SplitN(pattern, " ", 2)
	if len(parts) != 2 {
		return fmt.Errorf("pattern %q must have format 'METHOD /path'", pattern)
	}

	method, path := parts[0], parts[1]
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
	default:
		return fmt.Errorf("unsupported HTTP method %q in pattern %q", method, pattern)
	}

	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("path in pattern %q must start with '/'", pattern)
	}
	if strings.Contains(path, "//") {
		return fmt.Errorf("path in pattern %q contains double slashes", pattern)
	}
	return nil
}
