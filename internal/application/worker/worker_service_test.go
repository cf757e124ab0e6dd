package worker

import (
	"context"
	"testing"
	"time"

	"enrichd/internal/port/outbound"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerService_ProcessesQueuedJobs(t *testing.T) {
	f := newRunnerFixture(t, RunnerConfig{RetryLimit: 5}, nil, nil)
	ctx := context.Background()

	jobs := make([]outbound.QueuedJob, 0, 5)
	for _, key := range []string{"k1", "k2", "k3", "k4", "k5"} {
		job := f.submit(t, "t1", key)
		jobs = append(jobs, outbound.QueuedJob{JobID: job.ID(), TenantID: "t1"})
	}
	for _, queued := range jobs {
		require.NoError(t, f.queue.Push(ctx, queued.TenantID, queued.JobID))
	}

	service := NewWorkerService(Config{Concurrency: 2, PopTimeout: 50 * time.Millisecond}, f.queue, f.runner)
	require.NoError(t, service.Start(ctx))

	require.Eventually(t, func() bool {
		return service.Metrics().JobsCompleted == 5
	}, 5*time.Second, 20*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, service.Stop(stopCtx))

	for _, queued := range jobs {
		final, err := f.store.Get(ctx, queued.JobID)
		require.NoError(t, err)
		assert.True(t, final.IsTerminal())
	}
}

func TestWorkerService_HealthReflectsLifecycle(t *testing.T) {
	f := newRunnerFixture(t, RunnerConfig{RetryLimit: 5}, nil, nil)
	ctx := context.Background()

	service := NewWorkerService(Config{Concurrency: 3, PopTimeout: 50 * time.Millisecond}, f.queue, f.runner)
	assert.False(t, service.Health().IsRunning)

	require.NoError(t, service.Start(ctx))
	health := service.Health()
	assert.True(t, health.IsRunning)
	assert.Equal(t, 3, health.Concurrency)

	// Starting twice is an error.
	require.Error(t, service.Start(ctx))

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, service.Stop(stopCtx))
	assert.False(t, service.Health().IsRunning)

	// Stopping an already stopped service is a no-op.
	require.NoError(t, service.Stop(stopCtx))
}

func TestWorkerService_TracksReclaimedLeases(t *testing.T) {
	f := newRunnerFixture(t, RunnerConfig{RetryLimit: 5}, nil, nil)

	service := NewWorkerService(Config{Concurrency: 1}, f.queue, f.runner)
	assert.Equal(t, int64(0), service.Health().ReclaimedLeases)

	service.RecordReclaimedLeases(2)
	service.RecordReclaimedLeases(1)
	assert.Equal(t, int64(3), service.Health().ReclaimedLeases)
}

func TestWorkerService_CountsFailures(t *testing.T) {
	f := newRunnerFixture(t, RunnerConfig{RetryLimit: 1}, nil, nil)
	ctx := context.Background()

	f.processor.enrich = func(_ context.Context, _ outbound.EnrichmentRequest) (*outbound.EnrichmentResult, error) {
		return nil, &outbound.ProcessorError{Code: "UPSTREAM_BUSY", Message: "busy", Retryable: true}
	}

	job := f.submit(t, "t1", "k1")
	require.NoError(t, f.queue.Push(ctx, "t1", job.ID()))

	service := NewWorkerService(Config{Concurrency: 1, PopTimeout: 50 * time.Millisecond}, f.queue, f.runner)
	require.NoError(t, service.Start(ctx))

	require.Eventually(t, func() bool {
		return service.Metrics().JobsFailed == 1
	}, 5*time.Second, 20*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, service.Stop(stopCtx))

	health := service.Health()
	assert.Equal(t, int64(1), health.FailedJobs)
	assert.Equal(t, int64(0), health.ProcessedJobs)
}
