package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"enrichd/internal/application/dto"
	"enrichd/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverConfig() *config.Config {
	return &config.Config{
		API: config.APIConfig{
			Host:         "127.0.0.1",
			Port:         "0",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
	}
}

func buildTestServer(t *testing.T) *Server {
	t.Helper()

	server, err := NewServer(
		serverConfig(),
		&stubHealthService{response: &dto.HealthResponse{Status: string(dto.HealthStatusHealthy)}},
		&stubEnrichmentService{},
		&stubWorkerService{},
		NewDefaultErrorHandler(),
	)
	require.NoError(t, err)
	return server
}

func TestServerBuilder_RequiresServices(t *testing.T) {
	_, err := NewServerBuilder(serverConfig()).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health service is required")

	_, err = NewServerBuilder(serverConfig()).
		WithHealthService(&stubHealthService{}).
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enrichment service is required")

	_, err = NewServerBuilder(nil).Build()
	require.Error(t, err)
}

func TestServerBuilder_RejectsInvalidPort(t *testing.T) {
	cfg := serverConfig()
	cfg.API.Port = "not-a-port"

	_, err := NewServerBuilder(cfg).
		WithHealthService(&stubHealthService{}).
		WithEnrichmentService(&stubEnrichmentService{}).
		WithErrorHandler(NewDefaultErrorHandler()).
		Build()
	require.Error(t, err)
}

func TestServer_RegistersRoutes(t *testing.T) {
	server := buildTestServer(t)

	for _, pattern := range []string{
		"GET /health",
		"GET /workers/health",
		"GET /workers/metrics",
		"POST /jobs",
		"GET /jobs/{id}",
		"GET /tenants/{tenant_id}/jobs",
	} {
		assert.True(t, server.HasRoute(pattern), "route %q should be registered", pattern)
	}
	assert.False(t, server.HasRoute("DELETE /jobs/{id}"))
}

func TestServer_StartAndShutdown(t *testing.T) {
	server := buildTestServer(t)
	ctx := context.Background()

	require.NoError(t, server.Start(ctx))
	t.Cleanup(func() { _ = server.Shutdown(context.Background()) })

	assert.True(t, server.IsRunning())
	require.Error(t, server.Start(ctx), "double start must be rejected")

	response, err := http.Get(fmt.Sprintf("http://%s/health", server.Address()))
	require.NoError(t, err)
	defer response.Body.Close()
	assert.Equal(t, http.StatusOK, response.StatusCode)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(shutdownCtx))
	assert.False(t, server.IsRunning())
	require.NoError(t, server.Shutdown(shutdownCtx), "shutdown is idempotent")
}

func TestRouteRegistry_RejectsInvalidPatterns(t *testing.T) {
	registry := NewRouteRegistry()
	noop := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	tests := []struct {
		name    string
		pattern string
	}{
		{name: "missing method", pattern: "/health"},
		{name: "unsupported method", pattern: "TRACE /health"},
		{name: "relative path", pattern: "GET health"},
		{name: "double slash", pattern: "GET //health"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, registry.RegisterRoute(tt.pattern, noop))
		})
	}

	require.NoError(t, registry.RegisterRoute("GET /health", noop))
	assert.Error(t, registry.RegisterRoute("GET /health", noop), "duplicate registration rejected")
	assert.Equal(t, 1, registry.RouteCount())
}
