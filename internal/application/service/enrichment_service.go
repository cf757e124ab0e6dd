package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"enrichd/internal/application/common/slogger"
	"enrichd/internal/application/dto"
	"enrichd/internal/domain/entity"
	"enrichd/internal/domain/valueobject"
	"enrichd/internal/port/inbound"
	"enrichd/internal/port/outbound"

	"github.com/google/uuid"
)

const defaultSyncPollInterval = 100 * time.Millisecond

// EnrichmentServiceConfig holds submission-side configuration.
type EnrichmentServiceConfig struct {
	MaxQueueDepth int
	JobTTL        time.Duration
	// SyncWaitSLA bounds how long a synchronous submission is held open
	// waiting for a terminal status.
	SyncWaitSLA      time.Duration
	SyncPollInterval time.Duration
}

// DefaultEnrichmentService implements inbound.EnrichmentService against the
// job store and queue. Submission never blocks on an external dependency;
// the only blocking it does is the store's atomic check-and-create and, for
// synchronous calls, the bounded terminal-status wait.
type DefaultEnrichmentService struct {
	config    EnrichmentServiceConfig
	store     outbound.JobStore
	queue     outbound.JobQueue
	telemetry *Telemetry
	admission *submissionLocks
	now       func() time.Time
}

// NewEnrichmentService creates the submission/status service.
func NewEnrichmentService(
	config EnrichmentServiceConfig,
	store outbound.JobStore,
	queue outbound.JobQueue,
	telemetry *Telemetry,
) inbound.EnrichmentService {
	if config.SyncPollInterval <= 0 {
		config.SyncPollInterval = defaultSyncPollInterval
	}
	return &DefaultEnrichmentService{
		config:    config,
		store:     store,
		queue:     queue,
		telemetry: telemetry,
		admission: newSubmissionLocks(),
		now:       time.Now,
	}
}

// SubmitJob validates, deduplicates and enqueues an enrichment request.
func (s *DefaultEnrichmentService) SubmitJob(
	ctx context.Context,
	request dto.SubmitJobRequest,
) (*dto.SubmitJobResponse, error) {
	dedupKey, err := valueobject.NewDedupKey(request.TenantID, request.IdempotencyKey)
	if err != nil {
		return nil, entity.NewCategorizedError(err.Error(), "INVALID_SUBMISSION", valueobject.ErrorCategoryValidation)
	}

	payload, err := valueobject.NewEnrichmentPayload(request.Kind, request.Payload)
	if err != nil {
		return nil, entity.NewCategorizedError(err.Error(), "INVALID_PAYLOAD", valueobject.ErrorCategoryValidation)
	}

	// Backpressure check runs before any record is created.
	depth, err := s.queue.Depth(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue depth check: %w", err)
	}
	if depth >= s.config.MaxQueueDepth {
		return nil, entity.NewCategorizedError(
			"queue is at capacity, retry later",
			"QUEUE_SATURATED",
			valueobject.ErrorCategoryQueueSaturated,
		)
	}

	stored, cacheHit, err := s.admit(ctx, dedupKey, payload, request.Force)
	if err != nil {
		return nil, err
	}

	if !cacheHit {
		slogger.Info(ctx, "Enrichment job accepted", slogger.Fields{
			"job_id": stored.ID().String(),
			"tenant": dedupKey.TenantID(),
			"kind":   payload.Kind().String(),
		})
	}

	if s.telemetry != nil {
		s.telemetry.RecordSubmission(ctx, dedupKey.TenantID(), cacheHit)
	}

	response := &dto.SubmitJobResponse{
		JobID:    stored.ID(),
		Status:   stored.Status().String(),
		CacheHit: cacheHit,
	}

	if !request.IsAsync() {
		final, waitErr := s.waitForTerminal(ctx, stored.ID())
		if waitErr != nil {
			return nil, waitErr
		}
		response.Status = final.Status
		response.Job = final
	}

	return response, nil
}

// admit creates the record and enqueues it under a per-identity lock. The
// lock spans check-and-create and the enqueue, so a concurrent duplicate can
// never resolve to a record whose enqueue still may fail and roll back.
func (s *DefaultEnrichmentService) admit(
	ctx context.Context,
	dedupKey valueobject.DedupKey,
	payload valueobject.EnrichmentPayload,
	force bool,
) (*entity.EnrichmentJob, bool, error) {
	release := s.admission.acquire(dedupKey)
	defer release()

	job := entity.NewEnrichmentJob(dedupKey, payload, s.config.JobTTL, s.now())

	stored, cacheHit, err := s.store.CreateIfAbsent(ctx, job, force)
	if err != nil {
		return nil, false, fmt.Errorf("create job: %w", err)
	}
	if cacheHit {
		return stored, true, nil
	}

	if pushErr := s.queue.Push(ctx, dedupKey.TenantID(), stored.ID()); pushErr != nil {
		// Roll the record back so a saturated queue leaves no trace.
		if deleteErr := s.store.Delete(ctx, stored.ID()); deleteErr != nil {
			slogger.ErrorWithError(ctx, deleteErr, "Failed to roll back job after queue push failure", slogger.Fields{
				"job_id": stored.ID().String(),
			})
		}
		if errors.Is(pushErr, outbound.ErrQueueSaturated) {
			return nil, false, entity.NewCategorizedError(
				"queue is at capacity, retry later",
				"QUEUE_SATURATED",
				valueobject.ErrorCategoryQueueSaturated,
			)
		}
		return nil, false, fmt.Errorf("enqueue job: %w", pushErr)
	}
	return stored, false, nil
}

// submissionLocks serializes submissions sharing a dedup identity. Entries
// are reference counted and dropped when the last holder releases.
type submissionLocks struct {
	mu    sync.Mutex
	locks map[valueobject.DedupKey]*submissionLock
}

type submissionLock struct {
	mu   sync.Mutex
	refs int
}

func newSubmissionLocks() *submissionLocks {
	return &submissionLocks{locks: make(map[valueobject.DedupKey]*submissionLock)}
}

func (l *submissionLocks) acquire(key valueobject.DedupKey) (release func()) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &submissionLock{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// waitForTerminal polls the store until the job reaches a terminal status
// or the sync-wait SLA elapses, returning the latest projection either way.
func (s *DefaultEnrichmentService) waitForTerminal(ctx context.Context, id uuid.UUID) (*dto.JobResponse, error) {
	deadline := s.now().Add(s.config.SyncWaitSLA)
	ticker := time.NewTicker(s.config.SyncPollInterval)
	defer ticker.Stop()

	for {
		job, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("poll job %s: %w", id, err)
		}
		if job.IsTerminal() || !s.now().Before(deadline) {
			projection := jobToResponse(job)
			return &projection, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetJob returns the job projection, or a not-found/expired error.
func (s *DefaultEnrichmentService) GetJob(ctx context.Context, id uuid.UUID) (*dto.JobResponse, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	projection := jobToResponse(job)
	return &projection, nil
}

// ListTenantJobs returns all non-expired jobs for a tenant.
func (s *DefaultEnrichmentService) ListTenantJobs(ctx context.Context, tenantID string) (*dto.JobListResponse, error) {
	if tenantID == "" {
		return nil, entity.NewCategorizedError(
			"tenant ID cannot be empty",
			"INVALID_TENANT",
			valueobject.ErrorCategoryValidation,
		)
	}

	jobs, err := s.store.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list jobs for tenant %s: %w", tenantID, err)
	}

	responses := make([]dto.JobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, jobToResponse(job))
	}

	return &dto.JobListResponse{Jobs: responses, Total: len(responses)}, nil
}

// jobToResponse maps the job entity to its API projection.
func jobToResponse(job *entity.EnrichmentJob) dto.JobResponse {
	response := dto.JobResponse{
		JobID:    job.ID(),
		TenantID: job.TenantID(),
		Kind:     job.Payload().Kind().String(),
		Status:   job.Status().String(),
		Attempts: job.Attempts(),
		PhaseTimings: dto.PhaseTimingsResponse{
			ProcessingMS: job.PhaseTimings().Processing.Milliseconds(),
			EmbeddingMS:  job.PhaseTimings().Embedding.Milliseconds(),
		},
		CreatedAt: job.CreatedAt(),
		UpdatedAt: job.UpdatedAt(),
		ExpiresAt: job.ExpiresAt(),
	}

	if result := job.Result(); result != nil {
		resultResponse := &dto.JobResultResponse{
			EmbeddingUpserted: result.EmbeddingUpserted,
			Enriched:          result.Enriched,
		}
		if result.EmbeddingSkippedReason != nil {
			resultResponse.EmbeddingSkippedReason = result.EmbeddingSkippedReason.String()
		}
		if result.ModelMetadata != nil {
			resultResponse.ModelMetadata = map[string]interface{}{
				"name":       result.ModelMetadata.Name,
				"version":    result.ModelMetadata.Version,
				"dimensions": result.ModelMetadata.Dimensions,
			}
		}
		response.Result = resultResponse
	}

	if jobErr := job.Error(); jobErr != nil {
		response.Error = &dto.JobErrorResponse{
			Code:     jobErr.Code,
			Message:  jobErr.Message,
			Category: jobErr.Category.String(),
		}
	}

	return response
}
