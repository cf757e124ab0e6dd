package outbound

import (
	"context"
	"errors"
	"time"

	"enrichd/internal/domain/entity"
	"enrichd/internal/domain/valueobject"

	"github.com/google/uuid"
)

// Sentinel errors returned by JobStore implementations.
var (
	// ErrJobNotFound indicates no record exists for the requested ID.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExpired indicates the record exists but has passed its TTL.
	// Expired jobs are treated as not-found for dedup purposes.
	ErrJobExpired = errors.New("job expired")
	// ErrAlreadyClaimed indicates another worker holds a valid claim lease.
	ErrAlreadyClaimed = errors.New("job already claimed")
	// ErrNotLeaseOwner indicates a mutation was attempted without holding
	// the claim lease.
	ErrNotLeaseOwner = errors.New("lease not held by caller")
	// ErrStoreUnavailable indicates the backing store cannot be reached.
	ErrStoreUnavailable = errors.New("job store unavailable")
)

// JobStore is the durable keyed record store for enrichment jobs. All
// mutating operations are atomic with respect to each other; claim
// exclusivity and dedup both rely on that.
type JobStore interface {
	// CreateIfAbsent atomically checks for a non-expired job with the same
	// dedup identity whose status is queued, processing or completed. If one
	// exists and force is false it is returned with cacheHit=true and
	// nothing is created. Otherwise job is stored and returned with
	// cacheHit=false.
	CreateIfAbsent(ctx context.Context, job *entity.EnrichmentJob, force bool) (*entity.EnrichmentJob, bool, error)

	// Get returns a snapshot of the job, ErrJobNotFound if absent, or
	// ErrJobExpired once the job has passed its TTL.
	Get(ctx context.Context, id uuid.UUID) (*entity.EnrichmentJob, error)

	// Claim atomically transitions queued -> processing and records a claim
	// lease for owner. A processing job whose lease has lapsed may be
	// reclaimed; its attempts count is preserved. Returns ErrAlreadyClaimed
	// when another worker holds a valid lease.
	Claim(ctx context.Context, id uuid.UUID, owner string, leaseTTL time.Duration) (*entity.EnrichmentJob, error)

	// RefreshLease extends the claim lease (worker heartbeat).
	RefreshLease(ctx context.Context, id uuid.UUID, owner string, leaseTTL time.Duration) error

	// Requeue returns a claimed job to queued, recording the attempts
	// consumed so far.
	Requeue(ctx context.Context, id uuid.UUID, owner string, attempts int) error

	// Complete atomically finishes the job as completed. Finishing an
	// already-terminal job is a no-op.
	Complete(
		ctx context.Context,
		id uuid.UUID,
		owner string,
		result entity.JobResult,
		timings entity.PhaseTimings,
		attempts int,
	) error

	// Fail atomically finishes the job as failed. Finishing an
	// already-terminal job is a no-op.
	Fail(
		ctx context.Context,
		id uuid.UUID,
		owner string,
		jobErr entity.JobError,
		timings entity.PhaseTimings,
		attempts int,
	) error

	// Delete removes a record. Used to roll back a submission whose queue
	// push hit backpressure after the record was created.
	Delete(ctx context.Context, id uuid.UUID) error

	// ListByTenant returns snapshots of all non-expired jobs for a tenant.
	ListByTenant(ctx context.Context, tenantID string) ([]*entity.EnrichmentJob, error)

	// CountByStatus returns the number of non-expired jobs per status.
	CountByStatus(ctx context.Context) (map[valueobject.JobStatus]int, error)

	// ReclaimExpiredLeases moves processing jobs with lapsed leases back to
	// queued (attempts preserved) and returns them so the caller can push
	// them onto the queue again.
	ReclaimExpiredLeases(ctx context.Context) ([]*entity.EnrichmentJob, error)

	// SweepExpired removes jobs past their TTL and returns how many were
	// dropped.
	SweepExpired(ctx context.Context) (int, error)

	// Ping reports store connectivity for health checks.
	Ping(ctx context.Context) error
}
