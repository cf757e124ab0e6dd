package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"enrichd/internal/domain/entity"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresResultSink mirrors terminal job records into the
// finished_enrichment_jobs table. Writes are insert-only; a conflict on the
// job ID means the record was already mirrored and the write is a no-op.
type PostgresResultSink struct {
	pool *pgxpool.Pool
}

// NewPostgresResultSink creates the sink on an existing pool.
func NewPostgresResultSink(pool *pgxpool.Pool) (*PostgresResultSink, error) {
	if pool == nil {
		return nil, errors.New("database pool cannot be nil")
	}
	return &PostgresResultSink{pool: pool}, nil
}

// MirrorFinished writes one terminal job record.
func (s *PostgresResultSink) MirrorFinished(ctx context.Context, job *entity.EnrichmentJob) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}
	if !job.IsTerminal() {
		return fmt.Errorf("job %s is not terminal", job.ID())
	}

	// nil slices map to SQL NULL in pgx.
	var resultJSON, errorJSON []byte
	var err error
	if result := job.Result(); result != nil {
		if resultJSON, err = json.Marshal(result); err != nil {
			return fmt.Errorf("encode job result: %w", err)
		}
	}
	if jobErr := job.Error(); jobErr != nil {
		if errorJSON, err = json.Marshal(jobErr); err != nil {
			return fmt.Errorf("encode job error: %w", err)
		}
	}

	query := `
		INSERT INTO finished_enrichment_jobs (
			id, tenant_id, idempotency_key, kind, status, attempts,
			processing_duration_ms, embedding_duration_ms,
			result, error, created_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query,
		job.ID(),
		job.TenantID(),
		job.DedupKey().IdempotencyKey(),
		job.Payload().Kind().String(),
		job.Status().String(),
		job.Attempts(),
		job.PhaseTimings().Processing.Milliseconds(),
		job.PhaseTimings().Embedding.Milliseconds(),
		resultJSON,
		errorJSON,
		job.CreatedAt(),
		job.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("mirror finished job %s: %w", job.ID(), err)
	}
	return nil
}

// Ping reports connectivity for health checks.
func (s *PostgresResultSink) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
