package outbound

import (
	"context"

	"enrichd/internal/domain/entity"

	"github.com/google/uuid"
)

// EmbeddingUpsertRequest carries enrichment output to the embedding sink.
type EmbeddingUpsertRequest struct {
	JobID    uuid.UUID              `json:"job_id"`
	TenantID string                 `json:"tenant_id"`
	Enriched map[string]interface{} `json:"enriched"`
}

// EmbeddingUpsertResult reports whether the vector was upserted and which
// model produced it.
type EmbeddingUpsertResult struct {
	Upserted      bool                  `json:"upserted"`
	ModelMetadata *entity.ModelMetadata `json:"model_metadata,omitempty"`
}

// EmbeddingError is a typed failure from the embedding service. The worker
// never fails a job on it; the retry executor uses Retryable to decide
// whether another attempt is worthwhile.
type EmbeddingError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Cause     error  `json:"-"`
}

// Error implements the error interface.
func (e *EmbeddingError) Error() string {
	if e.Cause != nil {
		return "embedding service error (" + e.Code + "): " + e.Message + ": " + e.Cause.Error()
	}
	return "embedding service error (" + e.Code + "): " + e.Message
}

// Unwrap returns the underlying cause error.
func (e *EmbeddingError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns whether the failure may succeed on a later attempt.
func (e *EmbeddingError) IsRetryable() bool {
	return e.Retryable
}

// EmbeddingService is the outbound port for the embedding upsert dependency.
type EmbeddingService interface {
	// UpsertEmbedding embeds the enrichment output and upserts the vector.
	UpsertEmbedding(ctx context.Context, request EmbeddingUpsertRequest) (*EmbeddingUpsertResult, error)

	// Ping reports embedding service reachability for health checks.
	Ping(ctx context.Context) error
}
