package outbound

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors returned by JobQueue implementations.
var (
	// ErrQueueSaturated is the backpressure signal: total queue depth has
	// reached the configured maximum and the submission must be rejected
	// before any record is created.
	ErrQueueSaturated = errors.New("queue saturated")
	// ErrQueueEmpty indicates Pop timed out with no job available.
	ErrQueueEmpty = errors.New("queue empty")
	// ErrQueueClosed indicates the queue has been shut down.
	ErrQueueClosed = errors.New("queue closed")
)

// QueuedJob is a queue entry handed to a worker.
type QueuedJob struct {
	JobID    uuid.UUID
	TenantID string
}

// JobQueue is the tenant-partitioned work list feeding workers. Within one
// tenant partition jobs are delivered in submission order; across tenants
// delivery is round-robin so no tenant can starve others.
type JobQueue interface {
	// Push appends the job to its tenant partition. Returns
	// ErrQueueSaturated when total depth is at the configured maximum.
	Push(ctx context.Context, tenantID string, jobID uuid.UUID) error

	// PushDelayed schedules the job to enter its tenant partition after
	// delay. Used for requeue-with-backoff.
	PushDelayed(ctx context.Context, tenantID string, jobID uuid.UUID, delay time.Duration) error

	// Pop removes the next job using round-robin fairness across tenant
	// partitions, blocking up to timeout. Returns ErrQueueEmpty on timeout.
	Pop(ctx context.Context, timeout time.Duration) (QueuedJob, error)

	// Depth returns the total number of queued entries.
	Depth(ctx context.Context) (int, error)

	// DepthByTenant returns the queued entry count per tenant partition.
	DepthByTenant(ctx context.Context) (map[string]int, error)

	// Close shuts the queue down and unblocks pending Pops.
	Close() error
}
