package worker

import (
	"context"
	"errors"
	"math"
	"time"

	"enrichd/internal/application/common/slogger"
	"enrichd/internal/application/service"
	"enrichd/internal/domain/entity"
	"enrichd/internal/domain/valueobject"
	"enrichd/internal/port/outbound"
)

// RunOutcome classifies what happened to one popped job.
type RunOutcome int

const (
	// OutcomeSkipped means the job vanished or another worker holds it.
	OutcomeSkipped RunOutcome = iota
	// OutcomeCompleted means the job finished with a full success.
	OutcomeCompleted
	// OutcomePartial means the job completed but the embedding was skipped.
	OutcomePartial
	// OutcomeFailed means the job reached terminal failure.
	OutcomeFailed
	// OutcomeRequeued means the job went back to the queue with backoff.
	OutcomeRequeued
)

// RunnerConfig holds per-job execution policy.
type RunnerConfig struct {
	// RetryLimit bounds a job's total processor-call attempts across all
	// claims, including reclaims after worker crashes.
	RetryLimit        int
	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration
	RequeueBaseDelay  time.Duration
	RequeueMaxDelay   time.Duration
	// FailFastOnCircuitOpen fails a job immediately when the processor
	// breaker rejects it, instead of requeueing while attempts remain.
	FailFastOnCircuitOpen bool
}

// JobRunner drives a single claimed job through the processing and
// embedding phases. The embedding phase follows the partial-success policy:
// its failure downgrades the result but never fails the job.
type JobRunner struct {
	config        RunnerConfig
	workerID      string
	store         outbound.JobStore
	queue         outbound.JobQueue
	processor     outbound.EnrichmentProcessor
	embeddings    outbound.EmbeddingService
	processorExec *service.RetryExecutor
	embeddingExec *service.RetryExecutor
	sink          outbound.ResultSink
	telemetry     *service.Telemetry
}

// NewJobRunner creates a runner identified by workerID. The two retry
// executors carry independent circuit breakers for the processor and the
// embedding dependency.
func NewJobRunner(
	config RunnerConfig,
	workerID string,
	store outbound.JobStore,
	queue outbound.JobQueue,
	processor outbound.EnrichmentProcessor,
	embeddings outbound.EmbeddingService,
	processorExec *service.RetryExecutor,
	embeddingExec *service.RetryExecutor,
	sink outbound.ResultSink,
	telemetry *service.Telemetry,
) *JobRunner {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = config.LeaseTTL / 3
	}
	return &JobRunner{
		config:        config,
		workerID:      workerID,
		store:         store,
		queue:         queue,
		processor:     processor,
		embeddings:    embeddings,
		processorExec: processorExec,
		embeddingExec: embeddingExec,
		sink:          sink,
		telemetry:     telemetry,
	}
}

// Run claims and executes one queued job.
func (r *JobRunner) Run(ctx context.Context, queued outbound.QueuedJob) RunOutcome {
	job, err := r.store.Claim(ctx, queued.JobID, r.workerID, r.config.LeaseTTL)
	if err != nil {
		switch {
		case errors.Is(err, outbound.ErrAlreadyClaimed):
			slogger.Debug(ctx, "Job already claimed by another worker", slogger.Fields{
				"job_id": queued.JobID.String(),
			})
		case errors.Is(err, outbound.ErrJobNotFound), errors.Is(err, outbound.ErrJobExpired):
			slogger.Debug(ctx, "Popped job no longer claimable", slogger.Fields{
				"job_id": queued.JobID.String(),
			})
		default:
			slogger.ErrorWithError(ctx, err, "Claim failed", slogger.Fields{
				"job_id": queued.JobID.String(),
			})
		}
		return OutcomeSkipped
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	heartbeatDone := r.startHeartbeat(jobCtx, cancel, job)
	defer func() {
		cancel()
		<-heartbeatDone
	}()

	return r.execute(jobCtx, job)
}

// startHeartbeat refreshes the claim lease periodically while the job is
// being processed. Losing the lease cancels the job context so the phases
// stop mutating state they no longer own.
func (r *JobRunner) startHeartbeat(
	ctx context.Context,
	cancel context.CancelFunc,
	job *entity.EnrichmentJob,
) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.config.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.store.RefreshLease(ctx, job.ID(), r.workerID, r.config.LeaseTTL); err != nil {
					slogger.Warn(ctx, "Lost claim lease, abandoning job", slogger.Fields{
						"job_id": job.ID().String(),
						"error":  err.Error(),
					})
					cancel()
					return
				}
			}
		}
	}()

	return done
}

func (r *JobRunner) execute(ctx context.Context, job *entity.EnrichmentJob) RunOutcome {
	remaining := r.config.RetryLimit - job.Attempts()
	if remaining <= 0 {
		// A reclaimed job can arrive with its attempt budget already spent.
		return r.fail(ctx, job, job.Attempts(), entity.PhaseTimings{}, entity.JobError{
			Code:     "PROCESSOR_EXHAUSTED",
			Message:  "retry limit reached before processing could start",
			Category: valueobject.ErrorCategoryProcessorExhausted,
		})
	}

	request := outbound.EnrichmentRequest{
		JobID:      job.ID(),
		TenantID:   job.TenantID(),
		Kind:       job.Payload().Kind(),
		Attributes: job.Payload().Attributes(),
	}

	processingStart := time.Now()
	var enrichment *outbound.EnrichmentResult
	attempts, err := r.processorExec.ExecuteWithLimit(ctx, remaining, func(callCtx context.Context) error {
		result, callErr := r.processor.Enrich(callCtx, request)
		if callErr != nil {
			return callErr
		}
		enrichment = result
		return nil
	})

	totalAttempts := job.Attempts() + attempts
	timings := entity.PhaseTimings{Processing: time.Since(processingStart)}

	if err != nil {
		return r.handleProcessorFailure(ctx, job, totalAttempts, timings, err)
	}

	result, outcome := r.runEmbeddingPhase(ctx, job, enrichment, &timings)

	if err := r.store.Complete(ctx, job.ID(), r.workerID, result, timings, totalAttempts); err != nil {
		slogger.ErrorWithError(ctx, err, "Failed to finish job as completed", slogger.Fields{
			"job_id": job.ID().String(),
		})
		return OutcomeSkipped
	}

	if r.telemetry != nil {
		r.telemetry.RecordCompletion(ctx, job.TenantID(), timings.Processing+timings.Embedding)
	}
	r.mirror(ctx, job)

	slogger.Info(ctx, "Job completed", slogger.Fields{
		"job_id":             job.ID().String(),
		"tenant":             job.TenantID(),
		"attempts":           totalAttempts,
		"embedding_upserted": result.EmbeddingUpserted,
	})
	return outcome
}

// runEmbeddingPhase invokes the embedding upsert through its own retry
// executor. Any failure is absorbed: the job result records the skip and
// the job still completes.
func (r *JobRunner) runEmbeddingPhase(
	ctx context.Context,
	job *entity.EnrichmentJob,
	enrichment *outbound.EnrichmentResult,
	timings *entity.PhaseTimings,
) (entity.JobResult, RunOutcome) {
	result := entity.JobResult{Enriched: enrichment.Enriched}

	embeddingStart := time.Now()
	var upsert *outbound.EmbeddingUpsertResult
	_, err := r.embeddingExec.Execute(ctx, func(callCtx context.Context) error {
		response, callErr := r.embeddings.UpsertEmbedding(callCtx, outbound.EmbeddingUpsertRequest{
			JobID:    job.ID(),
			TenantID: job.TenantID(),
			Enriched: enrichment.Enriched,
		})
		if callErr != nil {
			return callErr
		}
		upsert = response
		return nil
	})
	timings.Embedding = time.Since(embeddingStart)

	if err == nil && upsert != nil && upsert.Upserted {
		result.EmbeddingUpserted = true
		result.ModelMetadata = upsert.ModelMetadata
		if r.telemetry != nil {
			r.telemetry.RecordEmbeddingUpserted(ctx, job.TenantID())
		}
		return result, OutcomeCompleted
	}

	reason := embeddingSkipReason(err)
	result.EmbeddingUpserted = false
	result.EmbeddingSkippedReason = &reason

	if r.telemetry != nil {
		r.telemetry.RecordEmbeddingSkipped(ctx, job.TenantID(), reason)
	}
	slogger.Warn(ctx, "Embedding phase skipped, preserving enrichment", slogger.Fields{
		"job_id": job.ID().String(),
		"tenant": job.TenantID(),
		"reason": reason.String(),
	})
	return result, OutcomePartial
}

func embeddingSkipReason(err error) valueobject.SkipReason {
	switch {
	case service.IsCircuitOpen(err):
		return valueobject.SkipReasonCircuitOpen
	case service.IsTimeout(err):
		return valueobject.SkipReasonTimeout
	default:
		return valueobject.SkipReasonError
	}
}

func (r *JobRunner) handleProcessorFailure(
	ctx context.Context,
	job *entity.EnrichmentJob,
	totalAttempts int,
	timings entity.PhaseTimings,
	err error,
) RunOutcome {
	circuitOpen := service.IsCircuitOpen(err)

	if circuitOpen && r.config.FailFastOnCircuitOpen {
		return r.fail(ctx, job, totalAttempts, timings, entity.JobError{
			Code:     "PROCESSOR_CIRCUIT_OPEN",
			Message:  err.Error(),
			Category: valueobject.ErrorCategoryProcessorCircuitOpen,
		})
	}

	if totalAttempts < r.config.RetryLimit {
		return r.requeue(ctx, job, totalAttempts)
	}

	jobErr := entity.JobError{
		Code:     "PROCESSOR_EXHAUSTED",
		Message:  err.Error(),
		Category: valueobject.ErrorCategoryProcessorExhausted,
	}
	if circuitOpen {
		jobErr.Code = "PROCESSOR_CIRCUIT_OPEN"
		jobErr.Category = valueobject.ErrorCategoryProcessorCircuitOpen
	}
	return r.fail(ctx, job, totalAttempts, timings, jobErr)
}

func (r *JobRunner) requeue(ctx context.Context, job *entity.EnrichmentJob, totalAttempts int) RunOutcome {
	if err := r.store.Requeue(ctx, job.ID(), r.workerID, totalAttempts); err != nil {
		slogger.ErrorWithError(ctx, err, "Requeue failed", slogger.Fields{
			"job_id": job.ID().String(),
		})
		return OutcomeSkipped
	}

	delay := r.requeueDelay(totalAttempts)
	if err := r.queue.PushDelayed(ctx, job.TenantID(), job.ID(), delay); err != nil {
		slogger.ErrorWithError(ctx, err, "Delayed push failed, job awaits lease reclaim", slogger.Fields{
			"job_id": job.ID().String(),
		})
		return OutcomeSkipped
	}

	if r.telemetry != nil {
		r.telemetry.RecordRequeue(ctx, job.TenantID())
	}
	slogger.Info(ctx, "Job requeued with backoff", slogger.Fields{
		"job_id":   job.ID().String(),
		"tenant":   job.TenantID(),
		"attempts": totalAttempts,
		"delay_ms": delay.Milliseconds(),
	})
	return OutcomeRequeued
}

func (r *JobRunner) requeueDelay(attempts int) time.Duration {
	if r.config.RequeueBaseDelay <= 0 {
		return 0
	}
	delay := time.Duration(float64(r.config.RequeueBaseDelay) * math.Pow(2, float64(attempts-1)))
	if r.config.RequeueMaxDelay > 0 && delay > r.config.RequeueMaxDelay {
		delay = r.config.RequeueMaxDelay
	}
	return delay
}

func (r *JobRunner) fail(
	ctx context.Context,
	job *entity.EnrichmentJob,
	totalAttempts int,
	timings entity.PhaseTimings,
	jobErr entity.JobError,
) RunOutcome {
	if err := r.store.Fail(ctx, job.ID(), r.workerID, jobErr, timings, totalAttempts); err != nil {
		slogger.ErrorWithError(ctx, err, "Failed to finish job as failed", slogger.Fields{
			"job_id": job.ID().String(),
		})
		return OutcomeSkipped
	}

	if r.telemetry != nil {
		r.telemetry.RecordFailure(ctx, job.TenantID(), jobErr.Category)
	}
	r.mirror(ctx, job)

	slogger.Error(ctx, "Job failed", slogger.Fields{
		"job_id":   job.ID().String(),
		"tenant":   job.TenantID(),
		"attempts": totalAttempts,
		"category": jobErr.Category.String(),
		"code":     jobErr.Code,
	})
	return OutcomeFailed
}

// mirror writes the terminal record to the durable sink. Mirror failures
// are logged only; the job's terminal status is already committed.
func (r *JobRunner) mirror(ctx context.Context, job *entity.EnrichmentJob) {
	if r.sink == nil {
		return
	}

	final, err := r.store.Get(ctx, job.ID())
	if err != nil {
		slogger.ErrorWithError(ctx, err, "Could not load terminal record for mirroring", slogger.Fields{
			"job_id": job.ID().String(),
		})
		return
	}
	if err := r.sink.MirrorFinished(ctx, final); err != nil {
		slogger.ErrorWithError(ctx, err, "Result mirror write failed", slogger.Fields{
			"job_id": job.ID().String(),
		})
	}
}
