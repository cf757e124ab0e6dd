// Package memstore provides the in-memory JobStore used by single-process
// deployments and tests. All operations run under one mutex, which gives the
// atomicity the port contract demands without optimistic retries.
package memstore

import (
	"context"
	"sort"
	"time"

	"enrichd/internal/domain/entity"
	"enrichd/internal/domain/valueobject"
	"enrichd/internal/port/outbound"

	"github.com/google/uuid"
)

// Option configures the store.
type Option func(*JobStore)

// WithClock overrides the time source. Tests use this to drive TTL and
// lease expiry deterministically.
func WithClock(now func() time.Time) Option {
	return func(s *JobStore) {
		s.now = now
	}
}

// JobStore is a mutex-guarded map of job records with a dedup index keyed by
// the (tenant, idempotency key) identity. The index key is the DedupKey value
// itself rather than a joined string, so identities whose fields contain the
// join character cannot collide. Reads hand out clones so callers can never
// mutate a record they do not hold a claim on.
type JobStore struct {
	mu    chanMutex
	jobs  map[uuid.UUID]*entity.EnrichmentJob
	dedup map[valueobject.DedupKey]uuid.UUID
	now   func() time.Time
}

// chanMutex is a channel-based mutex so lock acquisition can respect context
// cancellation on a contended store.
type chanMutex chan struct{}

func (m chanMutex) lock(ctx context.Context) error {
	select {
	case m <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m chanMutex) unlock() {
	<-m
}

// NewJobStore creates an empty in-memory job store.
func NewJobStore(opts ...Option) *JobStore {
	s := &JobStore{
		mu:    make(chanMutex, 1),
		jobs:  make(map[uuid.UUID]*entity.EnrichmentJob),
		dedup: make(map[valueobject.DedupKey]uuid.UUID),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateIfAbsent implements the atomic dedup check-and-create. A prior job
// with the same dedup identity suppresses creation only while it is queued,
// processing or completed and not expired; failed or expired records do not
// block resubmission.
func (s *JobStore) CreateIfAbsent(
	ctx context.Context,
	job *entity.EnrichmentJob,
	force bool,
) (*entity.EnrichmentJob, bool, error) {
	if err := s.mu.lock(ctx); err != nil {
		return nil, false, err
	}
	defer s.mu.unlock()

	now := s.now()
	key := job.DedupKey()

	if !force {
		if existingID, ok := s.dedup[key]; ok {
			existing, present := s.jobs[existingID]
			if present && !existing.IsExpired(now) && dedupSuppresses(existing.Status()) {
				return existing.Clone(), true, nil
			}
		}
	}

	stored := job.Clone()
	s.jobs[stored.ID()] = stored
	s.dedup[key] = stored.ID()
	return stored.Clone(), false, nil
}

func dedupSuppresses(status valueobject.JobStatus) bool {
	switch status {
	case valueobject.JobStatusQueued, valueobject.JobStatusProcessing, valueobject.JobStatusCompleted:
		return true
	default:
		return false
	}
}

// Get returns a snapshot of the job.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*entity.EnrichmentJob, error) {
	if err := s.mu.lock(ctx); err != nil {
		return nil, err
	}
	defer s.mu.unlock()

	job, err := s.locked(id)
	if err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// locked fetches a live record; the caller must hold the mutex. Expired
// records surface as ErrJobExpired and are pruned lazily by SweepExpired.
func (s *JobStore) locked(id uuid.UUID) (*entity.EnrichmentJob, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, outbound.ErrJobNotFound
	}
	if job.IsExpired(s.now()) {
		return nil, outbound.ErrJobExpired
	}
	return job, nil
}

// Claim transitions queued -> processing under a lease for owner.
func (s *JobStore) Claim(
	ctx context.Context,
	id uuid.UUID,
	owner string,
	leaseTTL time.Duration,
) (*entity.EnrichmentJob, error) {
	if err := s.mu.lock(ctx); err != nil {
		return nil, err
	}
	defer s.mu.unlock()

	job, err := s.locked(id)
	if err != nil {
		return nil, err
	}
	if err := job.Claim(owner, leaseTTL, s.now()); err != nil {
		return nil, outbound.ErrAlreadyClaimed
	}
	return job.Clone(), nil
}

// RefreshLease extends the lease held by owner.
func (s *JobStore) RefreshLease(ctx context.Context, id uuid.UUID, owner string, leaseTTL time.Duration) error {
	if err := s.mu.lock(ctx); err != nil {
		return err
	}
	defer s.mu.unlock()

	job, err := s.locked(id)
	if err != nil {
		return err
	}
	if err := job.RefreshLease(owner, leaseTTL, s.now()); err != nil {
		return outbound.ErrNotLeaseOwner
	}
	return nil
}

// Requeue returns a claimed job to queued with the attempts count recorded.
func (s *JobStore) Requeue(ctx context.Context, id uuid.UUID, owner string, attempts int) error {
	if err := s.mu.lock(ctx); err != nil {
		return err
	}
	defer s.mu.unlock()

	job, err := s.locked(id)
	if err != nil {
		return err
	}
	if err := job.Requeue(owner, attempts, s.now()); err != nil {
		return outbound.ErrNotLeaseOwner
	}
	return nil
}

// Complete finishes the job as completed. Idempotent on terminal jobs.
func (s *JobStore) Complete(
	ctx context.Context,
	id uuid.UUID,
	owner string,
	result entity.JobResult,
	timings entity.PhaseTimings,
	attempts int,
) error {
	if err := s.mu.lock(ctx); err != nil {
		return err
	}
	defer s.mu.unlock()

	job, err := s.locked(id)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return nil
	}
	if err := job.Complete(owner, result, timings, attempts, s.now()); err != nil {
		return outbound.ErrNotLeaseOwner
	}
	return nil
}

// Fail finishes the job as failed. Idempotent on terminal jobs.
func (s *JobStore) Fail(
	ctx context.Context,
	id uuid.UUID,
	owner string,
	jobErr entity.JobError,
	timings entity.PhaseTimings,
	attempts int,
) error {
	if err := s.mu.lock(ctx); err != nil {
		return err
	}
	defer s.mu.unlock()

	job, err := s.locked(id)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return nil
	}
	if err := job.Fail(owner, jobErr, timings, attempts, s.now()); err != nil {
		return outbound.ErrNotLeaseOwner
	}
	return nil
}

// Delete removes the record and its dedup index entry.
func (s *JobStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.mu.lock(ctx); err != nil {
		return err
	}
	defer s.mu.unlock()

	job, ok := s.jobs[id]
	if !ok {
		return outbound.ErrJobNotFound
	}
	s.remove(job)
	return nil
}

// remove deletes the record, dropping the dedup index entry only when it
// still points at this record.
func (s *JobStore) remove(job *entity.EnrichmentJob) {
	key := job.DedupKey()
	if indexed, ok := s.dedup[key]; ok && indexed == job.ID() {
		delete(s.dedup, key)
	}
	delete(s.jobs, job.ID())
}

// ListByTenant returns snapshots of all non-expired jobs for a tenant,
// newest first.
func (s *JobStore) ListByTenant(ctx context.Context, tenantID string) ([]*entity.EnrichmentJob, error) {
	if err := s.mu.lock(ctx); err != nil {
		return nil, err
	}
	defer s.mu.unlock()

	now := s.now()
	result := make([]*entity.EnrichmentJob, 0)
	for _, job := range s.jobs {
		if job.TenantID() == tenantID && !job.IsExpired(now) {
			result = append(result, job.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt().After(result[j].CreatedAt())
	})
	return result, nil
}

// CountByStatus returns non-expired job counts per status.
func (s *JobStore) CountByStatus(ctx context.Context) (map[valueobject.JobStatus]int, error) {
	if err := s.mu.lock(ctx); err != nil {
		return nil, err
	}
	defer s.mu.unlock()

	now := s.now()
	counts := make(map[valueobject.JobStatus]int)
	for _, job := range s.jobs {
		if !job.IsExpired(now) {
			counts[job.Status()]++
		}
	}
	return counts, nil
}

// ReclaimExpiredLeases returns lapsed-lease jobs to queued and hands back
// snapshots so the caller can re-enqueue them.
func (s *JobStore) ReclaimExpiredLeases(ctx context.Context) ([]*entity.EnrichmentJob, error) {
	if err := s.mu.lock(ctx); err != nil {
		return nil, err
	}
	defer s.mu.unlock()

	now := s.now()
	reclaimed := make([]*entity.EnrichmentJob, 0)
	for _, job := range s.jobs {
		if job.IsExpired(now) || !job.LeaseExpired(now) {
			continue
		}
		if err := job.ReleaseExpiredLease(now); err != nil {
			continue
		}
		reclaimed = append(reclaimed, job.Clone())
	}
	return reclaimed, nil
}

// SweepExpired removes jobs past their TTL.
func (s *JobStore) SweepExpired(ctx context.Context) (int, error) {
	if err := s.mu.lock(ctx); err != nil {
		return 0, err
	}
	defer s.mu.unlock()

	now := s.now()
	dropped := 0
	for _, job := range s.jobs {
		if job.IsExpired(now) {
			s.remove(job)
			dropped++
		}
	}
	return dropped, nil
}

// Ping always succeeds for the in-memory store.
func (s *JobStore) Ping(_ context.Context) error {
	return nil
}
