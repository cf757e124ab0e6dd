// Package inbound defines the inbound ports (interfaces) for the application layer.
// These ports represent the entry points into the application's core business logic.
package inbound

import (
	"context"

	"enrichd/internal/application/dto"

	"github.com/google/uuid"
)

// EnrichmentService defines the inbound port for job submission and status
// queries.
type EnrichmentService interface {
	// SubmitJob validates, deduplicates and enqueues an enrichment request.
	// Synchronous submissions block, bounded by the sync-wait SLA, until the
	// job reaches a terminal status.
	SubmitJob(ctx context.Context, request dto.SubmitJobRequest) (*dto.SubmitJobResponse, error)

	// GetJob returns the job projection, or a not-found/expired error.
	GetJob(ctx context.Context, id uuid.UUID) (*dto.JobResponse, error)

	// ListTenantJobs returns all non-expired jobs for a tenant.
	ListTenantJobs(ctx context.Context, tenantID string) (*dto.JobListResponse, error)
}

// HealthService defines the inbound port for health check operations.
type HealthService interface {
	GetHealth(ctx context.Context) (*dto.HealthResponse, error)
}
