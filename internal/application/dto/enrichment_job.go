package dto

import (
	"time"

	"github.com/google/uuid"
)

// SubmitJobRequest represents the request to submit an enrichment job.
type SubmitJobRequest struct {
	TenantID       string                 `json:"tenant_id"`
	IdempotencyKey string                 `json:"idempotency_key"`
	Kind           string                 `json:"kind"`
	Payload        map[string]interface{} `json:"payload"`
	// Force bypasses dedup and creates a new job even when a non-expired
	// job with the same identity exists.
	Force bool `json:"force,omitempty"`
	// Async defaults to true. When false the caller is held open, bounded
	// by the sync-wait SLA, until the job reaches a terminal status.
	Async *bool `json:"async,omitempty"`
}

// IsAsync returns whether the submission should return immediately.
func (r SubmitJobRequest) IsAsync() bool {
	return r.Async == nil || *r.Async
}

// SubmitJobResponse represents the response to a submission.
type SubmitJobResponse struct {
	JobID    uuid.UUID `json:"job_id"`
	Status   string    `json:"status"`
	CacheHit bool      `json:"cache_hit"`
	// Job carries the full terminal record for synchronous submissions.
	Job *JobResponse `json:"job,omitempty"`
}

// PhaseTimingsResponse reports phase durations in milliseconds.
type PhaseTimingsResponse struct {
	ProcessingMS int64 `json:"processing_ms"`
	EmbeddingMS  int64 `json:"embedding_ms"`
}

// JobResultResponse is the job result projection.
type JobResultResponse struct {
	EmbeddingUpserted      bool                   `json:"embedding_upserted"`
	EmbeddingSkippedReason string                 `json:"embedding_skipped_reason,omitempty"`
	ModelMetadata          map[string]interface{} `json:"model_metadata,omitempty"`
	Enriched               map[string]interface{} `json:"enriched,omitempty"`
}

// JobErrorResponse is the terminal error projection.
type JobErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
}

// JobResponse represents the job status projection.
type JobResponse struct {
	JobID        uuid.UUID            `json:"job_id"`
	TenantID     string               `json:"tenant_id"`
	Kind         string               `json:"kind"`
	Status       string               `json:"status"`
	Attempts     int                  `json:"attempts"`
	PhaseTimings PhaseTimingsResponse `json:"phase_timings"`
	Result       *JobResultResponse   `json:"result,omitempty"`
	Error        *JobErrorResponse    `json:"error,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
	ExpiresAt    time.Time            `json:"expires_at"`
}

// JobListResponse represents the response for listing a tenant's jobs.
type JobListResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Total int           `json:"total"`
}
