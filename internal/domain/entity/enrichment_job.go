package entity

import (
	"time"

	"enrichd/internal/domain/valueobject"

	"github.com/google/uuid"
)

// ModelMetadata describes the embedding model that produced an upserted
// vector. Recorded on the job result when the embedding phase succeeds.
type ModelMetadata struct {
	Name       string `json:"name"`
	Version    string `json:"version,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
}

// JobResult is the outcome of a completed job. A job completes even when the
// embedding phase fails; EmbeddingUpserted and EmbeddingSkippedReason record
// that partial success.
type JobResult struct {
	EmbeddingUpserted      bool                    `json:"embedding_upserted"`
	EmbeddingSkippedReason *valueobject.SkipReason `json:"embedding_skipped_reason,omitempty"`
	ModelMetadata          *ModelMetadata          `json:"model_metadata,omitempty"`
	Enriched               map[string]interface{}  `json:"enriched,omitempty"`
}

// JobError records why a job reached the failed status.
type JobError struct {
	Code     string                    `json:"code"`
	Message  string                    `json:"message"`
	Category valueobject.ErrorCategory `json:"category"`
}

// PhaseTimings holds the measured durations of the two worker phases.
type PhaseTimings struct {
	Processing time.Duration `json:"processing"`
	Embedding  time.Duration `json:"embedding"`
}

// EnrichmentJob is the unit of work flowing through the orchestration core.
// Exactly one worker holds mutation rights while the job is processing; the
// claim is a time-bounded lease so abandoned work can be reclaimed with the
// attempts count preserved.
type EnrichmentJob struct {
	id             uuid.UUID
	dedupKey       valueobject.DedupKey
	payload        valueobject.EnrichmentPayload
	status         valueobject.JobStatus
	attempts       int
	phaseTimings   PhaseTimings
	result         *JobResult
	jobError       *JobError
	leaseOwner     string
	leaseExpiresAt time.Time
	createdAt      time.Time
	updatedAt      time.Time
	expiresAt      time.Time
}

// NewEnrichmentJob creates a queued job with a fresh ID and a TTL measured
// from now.
func NewEnrichmentJob(
	dedupKey valueobject.DedupKey,
	payload valueobject.EnrichmentPayload,
	ttl time.Duration,
	now time.Time,
) *EnrichmentJob {
	return &EnrichmentJob{
		id:        uuid.New(),
		dedupKey:  dedupKey,
		payload:   payload,
		status:    valueobject.JobStatusQueued,
		attempts:  0,
		createdAt: now,
		updatedAt: now,
		expiresAt: now.Add(ttl),
	}
}

// RestoreEnrichmentJob rebuilds a job entity from stored data.
func RestoreEnrichmentJob(
	id uuid.UUID,
	dedupKey valueobject.DedupKey,
	payload valueobject.EnrichmentPayload,
	status valueobject.JobStatus,
	attempts int,
	phaseTimings PhaseTimings,
	result *JobResult,
	jobError *JobError,
	leaseOwner string,
	leaseExpiresAt time.Time,
	createdAt time.Time,
	updatedAt time.Time,
	expiresAt time.Time,
) *EnrichmentJob {
	return &EnrichmentJob{
		id:             id,
		dedupKey:       dedupKey,
		payload:        payload,
		status:         status,
		attempts:       attempts,
		phaseTimings:   phaseTimings,
		result:         result,
		jobError:       jobError,
		leaseOwner:     leaseOwner,
		leaseExpiresAt: leaseExpiresAt,
		createdAt:      createdAt,
		updatedAt:      updatedAt,
		expiresAt:      expiresAt,
	}
}

// ID returns the job ID.
func (j *EnrichmentJob) ID() uuid.UUID {
	return j.id
}

// DedupKey returns the job's dedup identity.
func (j *EnrichmentJob) DedupKey() valueobject.DedupKey {
	return j.dedupKey
}

// TenantID returns the tenant the job belongs to.
func (j *EnrichmentJob) TenantID() string {
	return j.dedupKey.TenantID()
}

// Payload returns the enrichment payload.
func (j *EnrichmentJob) Payload() valueobject.EnrichmentPayload {
	return j.payload
}

// Status returns the current job status.
func (j *EnrichmentJob) Status() valueobject.JobStatus {
	return j.status
}

// Attempts returns the number of processor-call attempts consumed so far.
func (j *EnrichmentJob) Attempts() int {
	return j.attempts
}

// PhaseTimings returns the recorded phase durations.
func (j *EnrichmentJob) PhaseTimings() PhaseTimings {
	return j.phaseTimings
}

// Result returns the job result, present once the job completed.
func (j *EnrichmentJob) Result() *JobResult {
	return j.result
}

// Error returns the terminal error, present only when the job failed.
func (j *EnrichmentJob) Error() *JobError {
	return j.jobError
}

// LeaseOwner returns the worker currently holding the claim, if any.
func (j *EnrichmentJob) LeaseOwner() string {
	return j.leaseOwner
}

// LeaseExpiresAt returns when the current claim lease expires.
func (j *EnrichmentJob) LeaseExpiresAt() time.Time {
	return j.leaseExpiresAt
}

// CreatedAt returns the creation timestamp.
func (j *EnrichmentJob) CreatedAt() time.Time {
	return j.createdAt
}

// UpdatedAt returns the last mutation timestamp.
func (j *EnrichmentJob) UpdatedAt() time.Time {
	return j.updatedAt
}

// ExpiresAt returns the TTL deadline.
func (j *EnrichmentJob) ExpiresAt() time.Time {
	return j.expiresAt
}

// IsTerminal returns true if the job is in a terminal state.
func (j *EnrichmentJob) IsTerminal() bool {
	return j.status.IsTerminal()
}

// IsExpired returns true once the job has passed its TTL. Expired jobs are
// treated as not-found for dedup and status purposes.
func (j *EnrichmentJob) IsExpired(now time.Time) bool {
	return now.After(j.expiresAt)
}

// LeaseExpired returns true when the job is processing but its claim lease
// has lapsed, meaning the owning worker crashed or hung.
func (j *EnrichmentJob) LeaseExpired(now time.Time) bool {
	return j.status == valueobject.JobStatusProcessing && now.After(j.leaseExpiresAt)
}

// HoldsLease returns true when owner holds a still-valid claim on the job.
func (j *EnrichmentJob) HoldsLease(owner string, now time.Time) bool {
	return j.status == valueobject.JobStatusProcessing &&
		j.leaseOwner == owner &&
		!now.After(j.leaseExpiresAt)
}

// Claim transitions the job to processing and records a lease for owner.
// A processing job whose lease has expired may be claimed again; the
// attempts count carries over so the retry bound stays meaningful.
func (j *EnrichmentJob) Claim(owner string, leaseTTL time.Duration, now time.Time) error {
	if owner == "" {
		return NewDomainError("claim owner cannot be empty", "INVALID_CLAIM_OWNER")
	}

	reclaimable := j.LeaseExpired(now)
	if !reclaimable && !j.status.CanTransitionTo(valueobject.JobStatusProcessing) {
		return NewDomainError("job is not claimable in its current status", "ALREADY_CLAIMED")
	}

	j.status = valueobject.JobStatusProcessing
	j.leaseOwner = owner
	j.leaseExpiresAt = now.Add(leaseTTL)
	j.updatedAt = now
	return nil
}

// RefreshLease extends the claim lease. Only the current lease holder may
// heartbeat.
func (j *EnrichmentJob) RefreshLease(owner string, leaseTTL time.Duration, now time.Time) error {
	if !j.HoldsLease(owner, now) {
		return NewDomainError("lease is not held by this worker", "NOT_LEASE_OWNER")
	}
	j.leaseExpiresAt = now.Add(leaseTTL)
	j.updatedAt = now
	return nil
}

// Requeue returns a processing job to the queue after a recoverable
// processor failure, recording the attempts consumed so far.
func (j *EnrichmentJob) Requeue(owner string, attempts int, now time.Time) error {
	if !j.HoldsLease(owner, now) {
		return NewDomainError("lease is not held by this worker", "NOT_LEASE_OWNER")
	}
	if attempts < j.attempts {
		return NewDomainError("attempts count can never decrease", "ATTEMPTS_NOT_MONOTONIC")
	}

	j.status = valueobject.JobStatusQueued
	j.attempts = attempts
	j.leaseOwner = ""
	j.leaseExpiresAt = time.Time{}
	j.updatedAt = now
	return nil
}

// Complete marks the job as completed with its result and phase timings.
func (j *EnrichmentJob) Complete(
	owner string,
	result JobResult,
	timings PhaseTimings,
	attempts int,
	now time.Time,
) error {
	if !j.HoldsLease(owner, now) {
		return NewDomainError("lease is not held by this worker", "NOT_LEASE_OWNER")
	}
	if attempts < j.attempts {
		return NewDomainError("attempts count can never decrease", "ATTEMPTS_NOT_MONOTONIC")
	}

	j.status = valueobject.JobStatusCompleted
	j.attempts = attempts
	j.result = &result
	j.jobError = nil
	j.phaseTimings = timings
	j.leaseOwner = ""
	j.leaseExpiresAt = time.Time{}
	j.updatedAt = now
	return nil
}

// Fail marks the job as failed. Only processor failures reach this path;
// embedding failures downgrade to a completed job instead.
func (j *EnrichmentJob) Fail(
	owner string,
	jobErr JobError,
	timings PhaseTimings,
	attempts int,
	now time.Time,
) error {
	if !j.HoldsLease(owner, now) {
		return NewDomainError("lease is not held by this worker", "NOT_LEASE_OWNER")
	}
	if attempts < j.attempts {
		return NewDomainError("attempts count can never decrease", "ATTEMPTS_NOT_MONOTONIC")
	}
	if !jobErr.Category.IsTerminalJobCategory() {
		return NewDomainError("error category is not valid for a failed job", "INVALID_ERROR_CATEGORY")
	}

	j.status = valueobject.JobStatusFailed
	j.attempts = attempts
	j.jobError = &jobErr
	j.result = nil
	j.phaseTimings = timings
	j.leaseOwner = ""
	j.leaseExpiresAt = time.Time{}
	j.updatedAt = now
	return nil
}

// ReleaseExpiredLease moves a processing job with a lapsed lease back to
// queued so another worker can claim it. Attempts are preserved.
func (j *EnrichmentJob) ReleaseExpiredLease(now time.Time) error {
	if !j.LeaseExpired(now) {
		return NewDomainError("lease has not expired", "LEASE_STILL_HELD")
	}

	j.status = valueobject.JobStatusQueued
	j.leaseOwner = ""
	j.leaseExpiresAt = time.Time{}
	j.updatedAt = now
	return nil
}

// Clone returns an independent copy of the job. The store hands out clones
// so callers can never mutate a record outside its claim.
func (j *EnrichmentJob) Clone() *EnrichmentJob {
	copied := *j
	if j.result != nil {
		result := *j.result
		if j.result.Enriched != nil {
			enriched := make(map[string]interface{}, len(j.result.Enriched))
			for k, v := range j.result.Enriched {
				enriched[k] = v
			}
			result.Enriched = enriched
		}
		copied.result = &result
	}
	if j.jobError != nil {
		jobErr := *j.jobError
		copied.jobError = &jobErr
	}
	return &copied
}

// Equal compares two jobs by identity.
func (j *EnrichmentJob) Equal(other *EnrichmentJob) bool {
	if other == nil {
		return false
	}
	return j.id == other.id
}
