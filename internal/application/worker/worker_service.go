package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"enrichd/internal/application/common/slogger"
	"enrichd/internal/port/inbound"
	"enrichd/internal/port/outbound"

	"github.com/panjf2000/ants/v2"
)

const defaultPopTimeout = 2 * time.Second

// Config holds worker pool configuration.
type Config struct {
	Concurrency int
	PopTimeout  time.Duration
}

// DefaultWorkerService drains the queue with a fixed-size goroutine pool.
// A single dispatcher pops jobs and submits them to the pool; submission
// blocks when all workers are busy, which keeps the pop rate matched to
// processing capacity.
type DefaultWorkerService struct {
	config Config
	queue  outbound.JobQueue
	runner *JobRunner

	pool       *ants.Pool
	cancel     context.CancelFunc
	dispatcher sync.WaitGroup
	inFlight   sync.WaitGroup

	mu        sync.Mutex
	running   bool
	startedAt time.Time

	activeWorkers   atomic.Int64
	processedJobs   atomic.Int64
	failedJobs      atomic.Int64
	partialJobs     atomic.Int64
	requeuedJobs    atomic.Int64
	claimConflicts  atomic.Int64
	reclaimedLeases atomic.Int64
	totalJobNanos   atomic.Int64
	lastClaimNanos  atomic.Int64
	lastDoneNanos   atomic.Int64
	lastError       atomic.Value
}

// NewWorkerService creates the worker pool service.
func NewWorkerService(config Config, queue outbound.JobQueue, runner *JobRunner) *DefaultWorkerService {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PopTimeout <= 0 {
		config.PopTimeout = defaultPopTimeout
	}
	return &DefaultWorkerService{
		config: config,
		queue:  queue,
		runner: runner,
	}
}

// Start spins up the pool and the dispatcher loop.
func (s *DefaultWorkerService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("worker service already running")
	}

	pool, err := ants.NewPool(s.config.Concurrency)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	s.pool = pool

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.dispatcher.Add(1)
	go s.dispatch(runCtx)

	s.running = true
	s.startedAt = time.Now()

	slogger.Info(ctx, "Worker service started", slogger.Fields{
		"concurrency": s.config.Concurrency,
	})
	return nil
}

// Stop halts dispatching, waits for in-flight jobs and releases the pool.
// The wait is bounded by ctx; jobs still running after that rely on lease
// reclaim to be picked up again.
func (s *DefaultWorkerService) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.cancel()
	s.dispatcher.Wait()

	drained := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = fmt.Errorf("worker drain interrupted: %w", ctx.Err())
	}

	s.pool.Release()
	s.running = false

	slogger.Info(ctx, "Worker service stopped", slogger.Fields{
		"processed_jobs": s.processedJobs.Load(),
		"failed_jobs":    s.failedJobs.Load(),
	})
	return err
}

func (s *DefaultWorkerService) dispatch(ctx context.Context) {
	defer s.dispatcher.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		queued, err := s.queue.Pop(ctx, s.config.PopTimeout)
		if err != nil {
			switch {
			case errors.Is(err, outbound.ErrQueueEmpty):
				continue
			case errors.Is(err, outbound.ErrQueueClosed), errors.Is(err, context.Canceled):
				return
			default:
				s.lastError.Store(err.Error())
				slogger.ErrorWithError(ctx, err, "Queue pop failed", nil)
				continue
			}
		}

		s.lastClaimNanos.Store(time.Now().UnixNano())
		s.inFlight.Add(1)
		job := queued
		if submitErr := s.pool.Submit(func() {
			defer s.inFlight.Done()
			s.runOne(ctx, job)
		}); submitErr != nil {
			s.inFlight.Done()
			if errors.Is(submitErr, ants.ErrPoolClosed) {
				return
			}
			s.lastError.Store(submitErr.Error())
			slogger.ErrorWithError(ctx, submitErr, "Pool submit failed", slogger.Fields{
				"job_id": job.JobID.String(),
			})
		}
	}
}

func (s *DefaultWorkerService) runOne(ctx context.Context, queued outbound.QueuedJob) {
	s.activeWorkers.Add(1)
	defer s.activeWorkers.Add(-1)

	start := time.Now()
	outcome := s.runner.Run(ctx, queued)
	elapsed := time.Since(start)

	switch outcome {
	case OutcomeCompleted:
		s.processedJobs.Add(1)
		s.recordFinished(elapsed)
	case OutcomePartial:
		s.processedJobs.Add(1)
		s.partialJobs.Add(1)
		s.recordFinished(elapsed)
	case OutcomeFailed:
		s.failedJobs.Add(1)
		s.recordFinished(elapsed)
	case OutcomeRequeued:
		s.requeuedJobs.Add(1)
	case OutcomeSkipped:
		s.claimConflicts.Add(1)
	}
}

func (s *DefaultWorkerService) recordFinished(elapsed time.Duration) {
	s.totalJobNanos.Add(int64(elapsed))
	s.lastDoneNanos.Store(time.Now().UnixNano())
}

// RecordReclaimedLeases counts jobs returned to the queue after their
// worker stopped heartbeating. The maintenance scheduler reports here so
// lease reclaims surface in worker health.
func (s *DefaultWorkerService) RecordReclaimedLeases(count int) {
	s.reclaimedLeases.Add(int64(count))
}

// Health reports the pool's current state.
func (s *DefaultWorkerService) Health() inbound.WorkerHealthStatus {
	s.mu.Lock()
	running := s.running
	startedAt := s.startedAt
	s.mu.Unlock()

	status := inbound.WorkerHealthStatus{
		IsRunning:       running,
		Concurrency:     s.config.Concurrency,
		ActiveWorkers:   int(s.activeWorkers.Load()),
		ServiceStarted:  startedAt,
		ProcessedJobs:   s.processedJobs.Load(),
		FailedJobs:      s.failedJobs.Load(),
		PartialSuccess:  s.partialJobs.Load(),
		RequeuedJobs:    s.requeuedJobs.Load(),
		ClaimConflicts:  s.claimConflicts.Load(),
		ReclaimedLeases: s.reclaimedLeases.Load(),
	}
	if nanos := s.lastClaimNanos.Load(); nanos > 0 {
		status.LastClaimTime = time.Unix(0, nanos)
	}
	if msg, ok := s.lastError.Load().(string); ok {
		status.LastError = msg
	}
	return status
}

// Metrics reports aggregate throughput numbers.
func (s *DefaultWorkerService) Metrics() inbound.WorkerMetrics {
	completed := s.processedJobs.Load()
	failed := s.failedJobs.Load()
	total := time.Duration(s.totalJobNanos.Load())

	metrics := inbound.WorkerMetrics{
		JobsCompleted:  completed,
		JobsFailed:     failed,
		JobsRequeued:   s.requeuedJobs.Load(),
		EmbeddingSkips: s.partialJobs.Load(),
		TotalJobTime:   total,
	}
	if finished := completed + failed; finished > 0 {
		metrics.AverageJobTime = total / time.Duration(finished)
	}
	if nanos := s.lastDoneNanos.Load(); nanos > 0 {
		metrics.LastJobFinishedAt = time.Unix(0, nanos)
	}
	return metrics
}
