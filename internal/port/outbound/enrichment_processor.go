package outbound

import (
	"context"
	"time"

	"enrichd/internal/domain/valueobject"

	"github.com/google/uuid"
)

// EnrichmentRequest is the processor's input, derived from a claimed job.
type EnrichmentRequest struct {
	JobID      uuid.UUID              `json:"job_id"`
	TenantID   string                 `json:"tenant_id"`
	Kind       valueobject.JobKind    `json:"kind"`
	Attributes map[string]interface{} `json:"attributes"`
}

// EnrichmentResult is the processor's success payload.
type EnrichmentResult struct {
	Enriched      map[string]interface{} `json:"enriched"`
	ContentDigest string                 `json:"content_digest,omitempty"`
	ProducedAt    time.Time              `json:"produced_at"`
}

// ProcessorError is a typed failure from the processor. Retryable failures
// are driven through the retry executor; non-retryable ones exhaust the job
// immediately.
type ProcessorError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Error implements the error interface.
func (e *ProcessorError) Error() string {
	return "processor error (" + e.Code + "): " + e.Message
}

// IsRetryable returns whether the failure may succeed on a later attempt.
func (e *ProcessorError) IsRetryable() bool {
	return e.Retryable
}

// EnrichmentProcessor is the capability interface for the external
// long-running processor. The worker loop depends only on this contract;
// in-process and out-of-process transports are interchangeable behind it.
type EnrichmentProcessor interface {
	// Enrich runs the enrichment for one job. The call blocks up to the
	// context deadline; a deadline hit is treated as a failure by the
	// caller's retry executor.
	Enrich(ctx context.Context, request EnrichmentRequest) (*EnrichmentResult, error)

	// Name identifies the transport for logging and health reporting.
	Name() string
}
