// Package queue provides JobQueue implementations: an in-process
// tenant-partitioned queue for single-node deployments and a Redis-backed
// variant for multi-node ones.
package queue

import (
	"container/list"
	"context"
	"sync"
	"time"

	"enrichd/internal/port/outbound"

	"github.com/google/uuid"
)

// MemoryQueue is a tenant-partitioned FIFO queue with round-robin delivery
// across partitions. Push enforces the admission cap; PushDelayed does not,
// because delayed entries are requeues of already-admitted work.
type MemoryQueue struct {
	maxDepth int

	mu         sync.Mutex
	partitions map[string]*list.List
	order      []string
	cursor     int
	depth      int
	closed     bool
	notify     chan struct{}
	timers     map[*time.Timer]struct{}
}

// NewMemoryQueue creates a queue with the given total-depth admission cap.
func NewMemoryQueue(maxDepth int) *MemoryQueue {
	return &MemoryQueue{
		maxDepth:   maxDepth,
		partitions: make(map[string]*list.List),
		notify:     make(chan struct{}, 1),
		timers:     make(map[*time.Timer]struct{}),
	}
}

// Push appends the job to its tenant partition, rejecting the submission
// when the total depth is at the cap.
func (q *MemoryQueue) Push(ctx context.Context, tenantID string, jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return outbound.ErrQueueClosed
	}
	if q.maxDepth > 0 && q.depth >= q.maxDepth {
		return outbound.ErrQueueSaturated
	}
	q.enqueue(tenantID, jobID)
	return nil
}

// PushDelayed schedules the job to enter its partition after delay. The
// admission cap does not apply: the entry was admitted when first pushed.
func (q *MemoryQueue) PushDelayed(ctx context.Context, tenantID string, jobID uuid.UUID, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return outbound.ErrQueueClosed
	}
	if delay <= 0 {
		q.enqueue(tenantID, jobID)
		return nil
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, timer)
		if q.closed {
			return
		}
		q.enqueue(tenantID, jobID)
	})
	q.timers[timer] = struct{}{}
	return nil
}

// enqueue appends under the lock and wakes one waiting Pop.
func (q *MemoryQueue) enqueue(tenantID string, jobID uuid.UUID) {
	partition, ok := q.partitions[tenantID]
	if !ok {
		partition = list.New()
		q.partitions[tenantID] = partition
		q.order = append(q.order, tenantID)
	}
	partition.PushBack(jobID)
	q.depth++

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes the next job round-robin across tenant partitions, blocking
// up to timeout. Returns ErrQueueEmpty on timeout.
func (q *MemoryQueue) Pop(ctx context.Context, timeout time.Duration) (outbound.QueuedJob, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return outbound.QueuedJob{}, outbound.ErrQueueClosed
		}
		if job, ok := q.dequeue(); ok {
			q.mu.Unlock()
			return job, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return outbound.QueuedJob{}, ctx.Err()
		case <-deadline.C:
			return outbound.QueuedJob{}, outbound.ErrQueueEmpty
		case <-q.notify:
		}
	}
}

// dequeue advances the round-robin cursor to the next non-empty partition.
// The caller must hold the lock.
func (q *MemoryQueue) dequeue() (outbound.QueuedJob, bool) {
	if q.depth == 0 || len(q.order) == 0 {
		return outbound.QueuedJob{}, false
	}

	for range q.order {
		tenantID := q.order[q.cursor%len(q.order)]
		q.cursor++

		partition := q.partitions[tenantID]
		if partition.Len() == 0 {
			continue
		}

		front := partition.Front()
		partition.Remove(front)
		q.depth--

		return outbound.QueuedJob{
			JobID:    front.Value.(uuid.UUID),
			TenantID: tenantID,
		}, true
	}
	return outbound.QueuedJob{}, false
}

// Depth returns the total number of queued entries. Entries waiting on a
// delay timer are not counted until they land in a partition.
func (q *MemoryQueue) Depth(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, outbound.ErrQueueClosed
	}
	return q.depth, nil
}

// DepthByTenant returns queued entry counts per tenant partition.
func (q *MemoryQueue) DepthByTenant(_ context.Context) (map[string]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, outbound.ErrQueueClosed
	}

	depths := make(map[string]int, len(q.partitions))
	for tenantID, partition := range q.partitions {
		if partition.Len() > 0 {
			depths[tenantID] = partition.Len()
		}
	}
	return depths, nil
}

// Close shuts the queue down, unblocks pending Pops and drops pending
// delayed entries.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = nil
	close(q.notify)
	q.mu.Unlock()
	return nil
}
