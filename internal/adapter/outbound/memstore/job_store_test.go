package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"enrichd/internal/domain/entity"
	"enrichd/internal/domain/valueobject"
	"enrichd/internal/port/outbound"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeClock struct {
	mu      sync.Mutex
	current time.Time
}

func newStoreClock() *storeClock {
	return &storeClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *storeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *storeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

func newTestJob(t *testing.T, clock *storeClock, tenantID, key string, ttl time.Duration) *entity.EnrichmentJob {
	t.Helper()

	dedupKey, err := valueobject.NewDedupKey(tenantID, key)
	require.NoError(t, err)

	payload, err := valueobject.NewEnrichmentPayload("text", map[string]interface{}{"content": "hello"})
	require.NoError(t, err)

	return entity.NewEnrichmentJob(dedupKey, payload, ttl, clock.Now())
}

func TestJobStore_CreateIfAbsent_Dedup(t *testing.T) {
	clock := newStoreClock()
	store := NewJobStore(WithClock(clock.Now))
	ctx := context.Background()

	first := newTestJob(t, clock, "t1", "k1", time.Hour)
	created, cacheHit, err := store.CreateIfAbsent(ctx, first, false)
	require.NoError(t, err)
	assert.False(t, cacheHit)
	assert.Equal(t, first.ID(), created.ID())

	// Same identity resolves to the existing job.
	duplicate := newTestJob(t, clock, "t1", "k1", time.Hour)
	resolved, cacheHit, err := store.CreateIfAbsent(ctx, duplicate, false)
	require.NoError(t, err)
	assert.True(t, cacheHit)
	assert.Equal(t, first.ID(), resolved.ID())

	// A different tenant with the same key is a distinct identity.
	otherTenant := newTestJob(t, clock, "t2", "k1", time.Hour)
	_, cacheHit, err = store.CreateIfAbsent(ctx, otherTenant, false)
	require.NoError(t, err)
	assert.False(t, cacheHit)
}

func TestJobStore_CreateIfAbsent_SeparatorInFieldsIsDistinct(t *testing.T) {
	clock := newStoreClock()
	store := NewJobStore(WithClock(clock.Now))
	ctx := context.Background()

	// ("acme/eu", "k1") and ("acme", "eu/k1") format identically but are
	// different identities; neither may resolve to the other's job.
	first := newTestJob(t, clock, "acme/eu", "k1", time.Hour)
	created, cacheHit, err := store.CreateIfAbsent(ctx, first, false)
	require.NoError(t, err)
	require.False(t, cacheHit)

	second := newTestJob(t, clock, "acme", "eu/k1", time.Hour)
	resolved, cacheHit, err := store.CreateIfAbsent(ctx, second, false)
	require.NoError(t, err)
	assert.False(t, cacheHit)
	assert.NotEqual(t, created.ID(), resolved.ID())
	assert.Equal(t, "acme", resolved.TenantID())

	// Each identity still dedups against itself.
	duplicate := newTestJob(t, clock, "acme", "eu/k1", time.Hour)
	hit, cacheHit, err := store.CreateIfAbsent(ctx, duplicate, false)
	require.NoError(t, err)
	assert.True(t, cacheHit)
	assert.Equal(t, resolved.ID(), hit.ID())
}

func TestJobStore_CreateIfAbsent_ConcurrentSameKey(t *testing.T) {
	clock := newStoreClock()
	store := NewJobStore(WithClock(clock.Now))
	ctx := context.Background()

	const submitters = 16
	results := make(chan bool, submitters)

	var wg sync.WaitGroup
	for range submitters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job := newTestJob(t, clock, "t1", "k1", time.Hour)
			_, cacheHit, err := store.CreateIfAbsent(ctx, job, false)
			assert.NoError(t, err)
			results <- cacheHit
		}()
	}
	wg.Wait()
	close(results)

	creations := 0
	for cacheHit := range results {
		if !cacheHit {
			creations++
		}
	}
	assert.Equal(t, 1, creations, "exactly one submission may create the job")
}

func TestJobStore_CreateIfAbsent_ForceBypassesDedup(t *testing.T) {
	clock := newStoreClock()
	store := NewJobStore(WithClock(clock.Now))
	ctx := context.Background()

	first := newTestJob(t, clock, "t1", "k1", time.Hour)
	_, _, err := store.CreateIfAbsent(ctx, first, false)
	require.NoError(t, err)

	forced := newTestJob(t, clock, "t1", "k1", time.Hour)
	created, cacheHit, err := store.CreateIfAbsent(ctx, forced, true)
	require.NoError(t, err)
	assert.False(t, cacheHit)
	assert.NotEqual(t, first.ID(), created.ID())
}

func TestJobStore_CreateIfAbsent_FailedJobDoesNotSuppress(t *testing.T) {
	clock := newStoreClock()
	store := NewJobStore(WithClock(clock.Now))
	ctx := context.Background()

	first := newTestJob(t, clock, "t1", "k1", time.Hour)
	_, _, err := store.CreateIfAbsent(ctx, first, false)
	require.NoError(t, err)

	_, err = store.Claim(ctx, first.ID(), "w1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, first.ID(), "w1", entity.JobError{
		Code:     "PROCESSOR_EXHAUSTED",
		Message:  "gave up",
		Category: valueobject.ErrorCategoryProcessorExhausted,
	}, entity.PhaseTimings{}, 5))

	retry := newTestJob(t, clock, "t1", "k1", time.Hour)
	_, cacheHit, err := store.CreateIfAbsent(ctx, retry, false)
	require.NoError(t, err)
	assert.False(t, cacheHit, "a failed job must not suppress resubmission")
}

func TestJobStore_TTLExpiry(t *testing.T) {
	clock := newStoreClock()
	store := NewJobStore(WithClock(clock.Now))
	ctx := context.Background()

	job := newTestJob(t, clock, "t1", "k1", 3600*time.Second)
	_, _, err := store.CreateIfAbsent(ctx, job, false)
	require.NoError(t, err)

	clock.Advance(3500 * time.Second)
	_, err = store.Get(ctx, job.ID())
	require.NoError(t, err)

	clock.Advance(200 * time.Second)
	_, err = store.Get(ctx, job.ID())
	require.ErrorIs(t, err, outbound.ErrJobExpired)

	// The expired record no longer blocks a fresh submission.
	fresh := newTestJob(t, clock, "t1", "k1", time.Hour)
	_, cacheHit, err := store.CreateIfAbsent(ctx, fresh, false)
	require.NoError(t, err)
	assert.False(t, cacheHit)
}

func TestJobStore_SweepExpired(t *testing.T) {
	clock := newStoreClock()
	store := NewJobStore(WithClock(clock.Now))
	ctx := context.Background()

	shortLived := newTestJob(t, clock, "t1", "k1", time.Hour)
	longLived := newTestJob(t, clock, "t1", "k2", 48*time.Hour)
	_, _, err := store.CreateIfAbsent(ctx, shortLived, false)
	require.NoError(t, err)
	_, _, err = store.CreateIfAbsent(ctx, longLived, false)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	dropped, err := store.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)

	_, err = store.Get(ctx, shortLived.ID())
	require.ErrorIs(t, err, outbound.ErrJobNotFound)
	_, err = store.Get(ctx, longLived.ID())
	require.NoError(t, err)
}

func TestJobStore_ClaimExclusivity(t *testing.T) {
	clock := newStoreClock()
	store := NewJobStore(WithClock(clock.Now))
	ctx := context.Background()

	job := newTestJob(t, clock, "t1", "k1", time.Hour)
	_, _, err := store.CreateIfAbsent(ctx, job, false)
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, job.ID(), "w1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, valueobject.JobStatusProcessing, claimed.Status())
	assert.Equal(t, "w1", claimed.LeaseOwner())

	_, err = store.Claim(ctx, job.ID(), "w2", time.Minute)
	require.ErrorIs(t, err, outbound.ErrAlreadyClaimed)
}

func TestJobStore_ReclaimAfterLeaseExpiry(t *testing.T) {
	clock := newStoreClock()
	store := NewJobStore(WithClock(clock.Now))
	ctx := context.Background()

	job := newTestJob(t, clock, "t1", "k1", time.Hour)
	_, _, err := store.CreateIfAbsent(ctx, job, false)
	require.NoError(t, err)

	_, err = store.Claim(ctx, job.ID(), "w1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Requeue(ctx, job.ID(), "w1", 2))

	_, err = store.Claim(ctx, job.ID(), "w1", time.Minute)
	require.NoError(t, err)

	// The owner stops heartbeating; after the lease lapses another worker
	// may claim directly, attempts preserved.
	clock.Advance(2 * time.Minute)
	reclaimed, err := store.Claim(ctx, job.ID(), "w2", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "w2", reclaimed.LeaseOwner())
	assert.Equal(t, 2, reclaimed.Attempts())
}

func TestJobStore_ReclaimExpiredLeases(t *testing.T) {
	clock := newStoreClock()
	store := NewJobStore(WithClock(clock.Now))
	ctx := context.Background()

	abandoned := newTestJob(t, clock, "t1", "k1", time.Hour)
	healthy := newTestJob(t, clock, "t1", "k2", time.Hour)
	_, _, err := store.CreateIfAbsent(ctx, abandoned, false)
	require.NoError(t, err)
	_, _, err = store.CreateIfAbsent(ctx, healthy, false)
	require.NoError(t, err)

	_, err = store.Claim(ctx, abandoned.ID(), "w1", time.Minute)
	require.NoError(t, err)
	_, err = store.Claim(ctx, healthy.ID(), "w2", time.Hour)
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	reclaimed, err := store.ReclaimExpiredLeases(ctx)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, abandoned.ID(), reclaimed[0].ID())
	assert.Equal(t, valueobject.JobStatusQueued, reclaimed[0].Status())
}

func TestJobStore_RefreshLeaseExtendsOwnership(t *testing.T) {
	clock := newStoreClock()
	store := NewJobStore(WithClock(clock.Now))
	ctx := context.Background()

	job := newTestJob(t, clock, "t1", "k1", time.Hour)
	_, _, err := store.CreateIfAbsent(ctx, job, false)
	require.NoError(t, err)
	_, err = store.Claim(ctx, job.ID(), "w1", time.Minute)
	require.NoError(t, err)

	clock.Advance(50 * time.Second)
	require.NoError(t, store.RefreshLease(ctx, job.ID(), "w1", time.Minute))

	// Without the refresh the lease would have lapsed here.
	clock.Advance(50 * time.Second)
	_, err = store.Claim(ctx, job.ID(), "w2", time.Minute)
	require.ErrorIs(t, err, outbound.ErrAlreadyClaimed)

	require.ErrorIs(t, store.RefreshLease(ctx, job.ID(), "w2", time.Minute), outbound.ErrNotLeaseOwner)
}

func TestJobStore_CompleteIsIdempotent(t *testing.T) {
	clock := newStoreClock()
	store := NewJobStore(WithClock(clock.Now))
	ctx := context.Background()

	job := newTestJob(t, clock, "t1", "k1", time.Hour)
	_, _, err := store.CreateIfAbsent(ctx, job, false)
	require.NoError(t, err)
	_, err = store.Claim(ctx, job.ID(), "w1", time.Minute)
	require.NoError(t, err)

	result := entity.JobResult{EmbeddingUpserted: true, Enriched: map[string]interface{}{"ok": true}}
	timings := entity.PhaseTimings{Processing: 2 * time.Second, Embedding: time.Second}
	require.NoError(t, store.Complete(ctx, job.ID(), "w1", result, timings, 1))

	// A duplicate finish, even from another worker, is a no-op.
	require.NoError(t, store.Complete(ctx, job.ID(), "w2", entity.JobResult{}, entity.PhaseTimings{}, 3))
	require.NoError(t, store.Fail(ctx, job.ID(), "w1", entity.JobError{
		Code:     "PROCESSOR_EXHAUSTED",
		Message:  "late failure",
		Category: valueobject.ErrorCategoryProcessorExhausted,
	}, entity.PhaseTimings{}, 3))

	final, err := store.Get(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, valueobject.JobStatusCompleted, final.Status())
	assert.Equal(t, 1, final.Attempts())
	require.NotNil(t, final.Result())
	assert.True(t, final.Result().EmbeddingUpserted)
}

func TestJobStore_ListByTenantAndCounts(t *testing.T) {
	clock := newStoreClock()
	store := NewJobStore(WithClock(clock.Now))
	ctx := context.Background()

	for _, key := range []string{"k1", "k2", "k3"} {
		_, _, err := store.CreateIfAbsent(ctx, newTestJob(t, clock, "t1", key, time.Hour), false)
		require.NoError(t, err)
	}
	_, _, err := store.CreateIfAbsent(ctx, newTestJob(t, clock, "t2", "k1", time.Hour), false)
	require.NoError(t, err)

	jobs, err := store.ListByTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, jobs, 3)

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, counts[valueobject.JobStatusQueued])
}

func TestJobStore_DeleteRollsBackSubmission(t *testing.T) {
	clock := newStoreClock()
	store := NewJobStore(WithClock(clock.Now))
	ctx := context.Background()

	job := newTestJob(t, clock, "t1", "k1", time.Hour)
	_, _, err := store.CreateIfAbsent(ctx, job, false)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, job.ID()))
	_, err = store.Get(ctx, job.ID())
	require.ErrorIs(t, err, outbound.ErrJobNotFound)

	// Dedup no longer resolves to the deleted record.
	fresh := newTestJob(t, clock, "t1", "k1", time.Hour)
	_, cacheHit, err := store.CreateIfAbsent(ctx, fresh, false)
	require.NoError(t, err)
	assert.False(t, cacheHit)
}
