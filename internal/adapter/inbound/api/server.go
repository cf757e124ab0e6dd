package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"enrichd/internal/config"
	"enrichd/internal/port/inbound"
)

// Server represents the HTTP API server.
type Server struct {
	config        *config.Config
	httpServer    *http.Server
	routeRegistry *RouteRegistry
	listener      net.Listener
	isRunning     bool
	mu            sync.RWMutex
}

// MiddlewareFunc defines the middleware function signature.
type MiddlewareFunc func(http.Handler) http.Handler

// ServerBuilder provides a fluent interface for building Server instances.
type ServerBuilder struct {
	config            *config.Config
	healthService     inbound.HealthService
	enrichmentService inbound.EnrichmentService
	workerService     inbound.WorkerService
	errorHandler      ErrorHandler
	middleware        []MiddlewareFunc
}

// NewServerBuilder creates a new ServerBuilder.
func NewServerBuilder(config *config.Config) *ServerBuilder {
	return &ServerBuilder{
		config:     config,
		middleware: make([]MiddlewareFunc, 0),
	}
}

// WithHealthService sets the health service.
func (b *ServerBuilder) WithHealthService(service inbound.HealthService) *ServerBuilder {
	b.healthService = service
	return b
}

// WithEnrichmentService sets the enrichment service.
func (b *ServerBuilder) WithEnrichmentService(service inbound.EnrichmentService) *ServerBuilder {
	b.enrichmentService = service
	return b
}

// WithWorkerService sets the worker service backing the introspection
// endpoints. Optional.
func (b *ServerBuilder) WithWorkerService(service inbound.WorkerService) *ServerBuilder {
	b.workerService = service
	return b
}

// WithErrorHandler sets the error handler.
func (b *ServerBuilder) WithErrorHandler(handler ErrorHandler) *ServerBuilder {
	b.errorHandler = handler
	return b
}

// WithMiddleware adds middleware to the chain.
func (b *ServerBuilder) WithMiddleware(middleware MiddlewareFunc) *ServerBuilder {
	b.middleware = append(b.middleware, middleware)
	return b
}

// WithDefaultMiddleware adds the standard middleware chain.
func (b *ServerBuilder) WithDefaultMiddleware() *ServerBuilder {
	return b.
		WithMiddleware(NewRecoveryMiddleware()).
		WithMiddleware(NewCorrelationMiddleware()).
		WithMiddleware(NewLoggingMiddleware())
}

// Build creates the Server instance.
func (b *ServerBuilder) Build() (*Server, error) {
	if err := b.validate(); err != nil {
		return nil, fmt.Errorf("server builder validation failed: %w", err)
	}
	if err := validateServerConfig(b.config); err != nil {
		return nil, err
	}

	registry := NewRouteRegistry()
	healthHandler := NewHealthHandler(b.healthService, b.workerService, b.errorHandler)
	enrichmentHandler := NewEnrichmentHandler(b.enrichmentService, b.errorHandler)
	registry.RegisterAPIRoutes(healthHandler, enrichmentHandler)

	// Apply middleware in reverse order for proper stacking.
	var handler http.Handler = registry.BuildServeMux()
	for i := len(b.middleware) - 1; i >= 0; i-- {
		handler = b.middleware[i](handler)
	}

	host := b.config.API.Host
	if host == "" {
		host = "0.0.0.0"
	}

	return &Server{
		config: b.config,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%s", host, b.config.API.Port),
			Handler:      handler,
			ReadTimeout:  b.config.API.ReadTimeout,
			WriteTimeout: b.config.API.WriteTimeout,
		},
		routeRegistry: registry,
	}, nil
}

func (b *ServerBuilder) validate() error {
	if b.config == nil {
		return errors.New("config is required")
	}
	if b.healthService == nil {
		return errors.New("health service is required")
	}
	if b.enrichmentService == nil {
		return errors.New("enrichment service is required")
	}
	if b.errorHandler == nil {
		return errors.New("error handler is required")
	}
	return nil
}

// NewServer creates a new API server with the default middleware chain.
func NewServer(
	config *config.Config,
	healthService inbound.HealthService,
	enrichmentService inbound.EnrichmentService,
	workerService inbound.WorkerService,
	errorHandler ErrorHandler,
) (*Server, error) {
	return NewServerBuilder(config).
		WithHealthService(healthService).
		WithEnrichmentService(enrichmentService).
		WithWorkerService(workerService).
		WithErrorHandler(errorHandler).
		WithDefaultMiddleware().
		Build()
}

// Start starts the HTTP server.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return errors.New("server is already running")
	}

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener

	// Record the bound address; matters when configured with port 0.
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.httpServer.Addr = fmt.Sprintf("%s:%d", s.Host(), tcpAddr.Port)
	}
	s.isRunning = true

	go func() {
		if serveErr := s.httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}
	}()

	select {
	case <-ctx.Done():
		s.isRunning = false
		_ = listener.Close()
		return ctx.Err()
	default:
		return nil
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}
	s.isRunning = false
	return s.httpServer.Shutdown(ctx)
}

// Address returns the server's listening address.
func (s *Server) Address() string {
	return s.httpServer.Addr
}

// Host returns the server's host.
func (s *Server) Host() string {
	if s.config.API.Host == "" {
		return "0.0.0.0"
	}
	return s.config.API.Host
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// HasRoute checks if a specific route is registered.
func (s *Server) HasRoute(pattern string) bool {
	return s.routeRegistry.HasRoute(pattern)
}

// validateServerConfig validates the server configuration.
func validateServerConfig(config *config.Config) error {
	if config.API.Port != "" && config.API.Port != "0" {
		if port, err := strconv.Atoi(config.API.Port); err != nil || port < 0 || port > 65535 {
			return errors.New("invalid port")
		}
	}
	if config.API.ReadTimeout < 0 || config.API.WriteTimeout < 0 {
		return errors.New("invalid timeout")
	}
	return nil
}
