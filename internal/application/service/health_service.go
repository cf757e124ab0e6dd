package service

import (
	"context"
	"time"

	"enrichd/internal/application/dto"
	"enrichd/internal/domain/valueobject"
	"enrichd/internal/port/inbound"
	"enrichd/internal/port/outbound"
)

// HealthServiceDeps carries everything the health endpoint inspects.
type HealthServiceDeps struct {
	Store            outbound.JobStore
	Queue            outbound.JobQueue
	ProcessorBreaker CircuitBreaker
	EmbeddingBreaker CircuitBreaker
	Telemetry        *Telemetry
	Version          string
}

// DefaultHealthService implements inbound.HealthService. It reports store
// connectivity and both breaker states; the service is degraded whenever
// the store is unreachable or a breaker is open.
type DefaultHealthService struct {
	deps HealthServiceDeps
	now  func() time.Time
}

// NewHealthService creates the health service.
func NewHealthService(deps HealthServiceDeps) inbound.HealthService {
	return &DefaultHealthService{deps: deps, now: time.Now}
}

// GetHealth reports overall service health with per-dependency detail.
func (s *DefaultHealthService) GetHealth(ctx context.Context) (*dto.HealthResponse, error) {
	dependencies := make(map[string]dto.DependencyStatus)
	overall := dto.HealthStatusHealthy

	storeStatus := dto.DependencyStatus{Status: string(dto.DependencyStatusHealthy)}
	if err := s.deps.Store.Ping(ctx); err != nil {
		storeStatus = dto.DependencyStatus{
			Status:  string(dto.DependencyStatusUnhealthy),
			Message: err.Error(),
		}
		overall = dto.HealthStatusDegraded
	}
	dependencies["job_store"] = storeStatus

	queueStatus := dto.DependencyStatus{Status: string(dto.DependencyStatusHealthy)}
	if depth, err := s.deps.Queue.Depth(ctx); err != nil {
		queueStatus = dto.DependencyStatus{
			Status:  string(dto.DependencyStatusUnhealthy),
			Message: err.Error(),
		}
		overall = dto.HealthStatusDegraded
	} else {
		queueStatus.Details = map[string]interface{}{"depth": depth}
	}
	dependencies["queue"] = queueStatus

	for name, breaker := range map[string]CircuitBreaker{
		"processor_breaker": s.deps.ProcessorBreaker,
		"embedding_breaker": s.deps.EmbeddingBreaker,
	} {
		if breaker == nil {
			continue
		}
		status := breakerStatus(breaker)
		if breaker.State() == valueobject.BreakerStateOpen {
			overall = dto.HealthStatusDegraded
		}
		dependencies[name] = status
	}

	if s.deps.Telemetry != nil {
		percentiles := s.deps.Telemetry.Percentiles()
		dependencies["latency"] = dto.DependencyStatus{
			Status: string(dto.DependencyStatusHealthy),
			Details: map[string]interface{}{
				"p50_ms": percentiles.P50.Milliseconds(),
				"p95_ms": percentiles.P95.Milliseconds(),
				"p99_ms": percentiles.P99.Milliseconds(),
			},
		}
	}

	return &dto.HealthResponse{
		Status:       string(overall),
		Timestamp:    s.now(),
		Version:      s.deps.Version,
		Dependencies: dependencies,
	}, nil
}

func breakerStatus(breaker CircuitBreaker) dto.DependencyStatus {
	state := breaker.State()

	status := dto.DependencyStatusHealthy
	switch state {
	case valueobject.BreakerStateOpen:
		status = dto.DependencyStatusUnhealthy
	case valueobject.BreakerStateHalfOpen:
		status = dto.DependencyStatusDegraded
	case valueobject.BreakerStateClosed:
	}

	return dto.DependencyStatus{
		Status: string(status),
		Details: map[string]interface{}{
			"state":         state.String(),
			"state_gauge":   state.Gauge(),
			"failure_count": breaker.FailureCount(),
		},
	}
}
