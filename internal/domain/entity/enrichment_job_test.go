package entity

import (
	"testing"
	"time"

	"enrichd/internal/domain/valueobject"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func buildJob(t *testing.T) *EnrichmentJob {
	t.Helper()

	dedupKey, err := valueobject.NewDedupKey("tenant-a", "doc-42")
	require.NoError(t, err)
	payload, err := valueobject.NewEnrichmentPayload("text", map[string]interface{}{"content": "hello"})
	require.NoError(t, err)

	return NewEnrichmentJob(dedupKey, payload, time.Hour, jobEpoch)
}

func TestNewEnrichmentJob(t *testing.T) {
	job := buildJob(t)

	assert.Equal(t, valueobject.JobStatusQueued, job.Status())
	assert.Equal(t, 0, job.Attempts())
	assert.Equal(t, "tenant-a", job.TenantID())
	assert.Equal(t, jobEpoch.Add(time.Hour), job.ExpiresAt())
	assert.False(t, job.IsTerminal())
	assert.False(t, job.IsExpired(jobEpoch.Add(59*time.Minute)))
	assert.True(t, job.IsExpired(jobEpoch.Add(61*time.Minute)))
}

func TestEnrichmentJob_Claim(t *testing.T) {
	job := buildJob(t)

	require.NoError(t, job.Claim("w1", time.Minute, jobEpoch))
	assert.Equal(t, valueobject.JobStatusProcessing, job.Status())
	assert.Equal(t, "w1", job.LeaseOwner())
	assert.True(t, job.HoldsLease("w1", jobEpoch.Add(30*time.Second)))

	// A second claim while the lease is valid is rejected.
	err := job.Claim("w2", time.Minute, jobEpoch.Add(30*time.Second))
	require.Error(t, err)
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "ALREADY_CLAIMED", domainErr.Code())

	require.Error(t, job.Claim("", time.Minute, jobEpoch))
}

func TestEnrichmentJob_ClaimAfterLeaseExpiry(t *testing.T) {
	job := buildJob(t)
	require.NoError(t, job.Claim("w1", time.Minute, jobEpoch))
	require.NoError(t, job.Requeue("w1", 3, jobEpoch.Add(time.Second)))
	require.NoError(t, job.Claim("w1", time.Minute, jobEpoch.Add(2*time.Second)))

	// The owner went silent; past the lease deadline another worker takes
	// over with the attempts count intact.
	later := jobEpoch.Add(5 * time.Minute)
	require.True(t, job.LeaseExpired(later))
	require.NoError(t, job.Claim("w2", time.Minute, later))
	assert.Equal(t, "w2", job.LeaseOwner())
	assert.Equal(t, 3, job.Attempts())
}

func TestEnrichmentJob_RefreshLease(t *testing.T) {
	job := buildJob(t)
	require.NoError(t, job.Claim("w1", time.Minute, jobEpoch))

	mid := jobEpoch.Add(40 * time.Second)
	require.NoError(t, job.RefreshLease("w1", time.Minute, mid))
	assert.Equal(t, mid.Add(time.Minute), job.LeaseExpiresAt())

	require.Error(t, job.RefreshLease("w2", time.Minute, mid))

	// Once the lease has lapsed even the original owner cannot heartbeat.
	require.Error(t, job.RefreshLease("w1", time.Minute, mid.Add(2*time.Minute)))
}

func TestEnrichmentJob_AttemptsAreMonotonic(t *testing.T) {
	job := buildJob(t)
	require.NoError(t, job.Claim("w1", time.Minute, jobEpoch))
	require.NoError(t, job.Requeue("w1", 2, jobEpoch.Add(time.Second)))
	require.NoError(t, job.Claim("w1", time.Minute, jobEpoch.Add(2*time.Second)))

	err := job.Requeue("w1", 1, jobEpoch.Add(3*time.Second))
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "ATTEMPTS_NOT_MONOTONIC", domainErr.Code())
	assert.Equal(t, 2, job.Attempts())
}

func TestEnrichmentJob_Complete(t *testing.T) {
	job := buildJob(t)
	require.NoError(t, job.Claim("w1", time.Minute, jobEpoch))

	result := JobResult{
		EmbeddingUpserted: true,
		ModelMetadata:     &ModelMetadata{Name: "embed-v2", Dimensions: 768},
		Enriched:          map[string]interface{}{"content_length": 5},
	}
	timings := PhaseTimings{Processing: 2 * time.Second, Embedding: 300 * time.Millisecond}
	require.NoError(t, job.Complete("w1", result, timings, 1, jobEpoch.Add(3*time.Second)))

	assert.Equal(t, valueobject.JobStatusCompleted, job.Status())
	assert.True(t, job.IsTerminal())
	assert.Empty(t, job.LeaseOwner())
	assert.Equal(t, 1, job.Attempts())
	require.NotNil(t, job.Result())
	assert.Nil(t, job.Error())
	assert.Equal(t, timings, job.PhaseTimings())
}

func TestEnrichmentJob_CompleteRequiresLease(t *testing.T) {
	job := buildJob(t)
	require.NoError(t, job.Claim("w1", time.Minute, jobEpoch))

	err := job.Complete("w2", JobResult{}, PhaseTimings{}, 1, jobEpoch.Add(time.Second))
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "NOT_LEASE_OWNER", domainErr.Code())
}

func TestEnrichmentJob_Fail(t *testing.T) {
	job := buildJob(t)
	require.NoError(t, job.Claim("w1", time.Minute, jobEpoch))

	jobErr := JobError{
		Code:     "PROCESSOR_EXHAUSTED",
		Message:  "retry budget consumed",
		Category: valueobject.ErrorCategoryProcessorExhausted,
	}
	require.NoError(t, job.Fail("w1", jobErr, PhaseTimings{Processing: time.Second}, 5, jobEpoch.Add(time.Second)))

	assert.Equal(t, valueobject.JobStatusFailed, job.Status())
	require.NotNil(t, job.Error())
	assert.Equal(t, "PROCESSOR_EXHAUSTED", job.Error().Code)
	assert.Nil(t, job.Result())
}

func TestEnrichmentJob_FailRejectsNonTerminalCategory(t *testing.T) {
	job := buildJob(t)
	require.NoError(t, job.Claim("w1", time.Minute, jobEpoch))

	err := job.Fail("w1", JobError{
		Code:     "QUEUE_SATURATED",
		Message:  "not a worker-phase failure",
		Category: valueobject.ErrorCategoryQueueSaturated,
	}, PhaseTimings{}, 1, jobEpoch.Add(time.Second))

	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "INVALID_ERROR_CATEGORY", domainErr.Code())
}

func TestEnrichmentJob_ReleaseExpiredLease(t *testing.T) {
	job := buildJob(t)
	require.NoError(t, job.Claim("w1", time.Minute, jobEpoch))

	require.Error(t, job.ReleaseExpiredLease(jobEpoch.Add(30*time.Second)))

	require.NoError(t, job.ReleaseExpiredLease(jobEpoch.Add(2*time.Minute)))
	assert.Equal(t, valueobject.JobStatusQueued, job.Status())
	assert.Empty(t, job.LeaseOwner())
}

func TestEnrichmentJob_CloneIsIndependent(t *testing.T) {
	job := buildJob(t)
	require.NoError(t, job.Claim("w1", time.Minute, jobEpoch))
	require.NoError(t, job.Complete("w1", JobResult{
		EmbeddingUpserted: false,
		Enriched:          map[string]interface{}{"content_length": 5},
	}, PhaseTimings{}, 1, jobEpoch.Add(time.Second)))

	clone := job.Clone()
	assert.True(t, job.Equal(clone))

	clone.Result().Enriched["content_length"] = 99
	assert.Equal(t, 5, job.Result().Enriched["content_length"])
}
