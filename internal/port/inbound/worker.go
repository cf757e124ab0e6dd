package inbound

import (
	"context"
	"time"
)

// WorkerService manages the worker pool that drains the job queue.
type WorkerService interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health() WorkerHealthStatus
	Metrics() WorkerMetrics
}

// WorkerHealthStatus represents the health of the worker pool.
type WorkerHealthStatus struct {
	IsRunning       bool      `json:"is_running"`
	Concurrency     int       `json:"concurrency"`
	ActiveWorkers   int       `json:"active_workers"`
	LastClaimTime   time.Time `json:"last_claim_time"`
	LastError       string    `json:"last_error,omitempty"`
	ServiceStarted  time.Time `json:"service_started"`
	ProcessedJobs   int64     `json:"processed_jobs"`
	FailedJobs      int64     `json:"failed_jobs"`
	PartialSuccess  int64     `json:"partial_success_jobs"`
	RequeuedJobs    int64     `json:"requeued_jobs"`
	ClaimConflicts  int64     `json:"claim_conflicts"`
	ReclaimedLeases int64     `json:"reclaimed_leases"`
}

// WorkerMetrics represents aggregate worker throughput metrics.
type WorkerMetrics struct {
	JobsCompleted     int64         `json:"jobs_completed"`
	JobsFailed        int64         `json:"jobs_failed"`
	JobsRequeued      int64         `json:"jobs_requeued"`
	EmbeddingSkips    int64         `json:"embedding_skips"`
	AverageJobTime    time.Duration `json:"average_job_time"`
	TotalJobTime      time.Duration `json:"-"`
	LastJobFinishedAt time.Time     `json:"last_job_finished_at"`
}
