package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"enrichd/internal/application/common/slogger"
	"enrichd/internal/port/outbound"

	"github.com/robfig/cron/v3"
)

// MaintenanceConfig holds the cron schedules for background upkeep.
type MaintenanceConfig struct {
	// SweepSchedule drops records past their TTL.
	SweepSchedule string
	// ReclaimSchedule returns jobs with lapsed claim leases to the queue.
	ReclaimSchedule string
	// OnReclaim, when set, receives the number of jobs re-enqueued by each
	// reclaim pass.
	OnReclaim func(count int)
}

// MaintenanceService runs periodic store upkeep: TTL expiry sweeps and
// crash recovery of jobs whose workers stopped heartbeating. Reclaimed jobs
// re-enter the queue with their attempts count intact.
type MaintenanceService struct {
	config MaintenanceConfig
	store  outbound.JobStore
	queue  outbound.JobQueue

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// NewMaintenanceService creates the maintenance scheduler.
func NewMaintenanceService(
	config MaintenanceConfig,
	store outbound.JobStore,
	queue outbound.JobQueue,
) *MaintenanceService {
	if config.SweepSchedule == "" {
		config.SweepSchedule = "@every 1m"
	}
	if config.ReclaimSchedule == "" {
		config.ReclaimSchedule = "@every 15s"
	}
	return &MaintenanceService{
		config: config,
		store:  store,
		queue:  queue,
		cron:   cron.New(),
	}
}

// Start registers the cron jobs and begins scheduling.
func (m *MaintenanceService) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errors.New("maintenance service already running")
	}

	if _, err := m.cron.AddFunc(m.config.SweepSchedule, func() { m.sweepExpired(ctx) }); err != nil {
		return fmt.Errorf("register sweep schedule: %w", err)
	}
	if _, err := m.cron.AddFunc(m.config.ReclaimSchedule, func() { m.reclaimLeases(ctx) }); err != nil {
		return fmt.Errorf("register reclaim schedule: %w", err)
	}

	m.cron.Start()
	m.running = true

	slogger.Info(ctx, "Maintenance service started", slogger.Fields{
		"sweep_schedule":   m.config.SweepSchedule,
		"reclaim_schedule": m.config.ReclaimSchedule,
	})
	return nil
}

// Stop halts scheduling and waits for in-flight maintenance runs.
func (m *MaintenanceService) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	stopCtx := m.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	m.running = false
	return nil
}

// RunOnce executes one sweep and one reclaim pass immediately. Used by
// tests and on-demand recovery.
func (m *MaintenanceService) RunOnce(ctx context.Context) {
	m.sweepExpired(ctx)
	m.reclaimLeases(ctx)
}

func (m *MaintenanceService) sweepExpired(ctx context.Context) {
	dropped, err := m.store.SweepExpired(ctx)
	if err != nil {
		slogger.ErrorWithError(ctx, err, "TTL sweep failed", nil)
		return
	}
	if dropped > 0 {
		slogger.Info(ctx, "TTL sweep removed expired jobs", slogger.Fields{"dropped": dropped})
	}
}

func (m *MaintenanceService) reclaimLeases(ctx context.Context) {
	reclaimed, err := m.store.ReclaimExpiredLeases(ctx)
	if err != nil {
		slogger.ErrorWithError(ctx, err, "Lease reclaim failed", nil)
		return
	}

	requeued := 0
	for _, job := range reclaimed {
		// PushDelayed bypasses the admission cap: reclaimed work was
		// already admitted once.
		if err := m.queue.PushDelayed(ctx, job.TenantID(), job.ID(), 0); err != nil {
			slogger.ErrorWithError(ctx, err, "Failed to requeue reclaimed job", slogger.Fields{
				"job_id": job.ID().String(),
				"tenant": job.TenantID(),
			})
			continue
		}
		requeued++
		slogger.Warn(ctx, "Reclaimed job with expired lease", slogger.Fields{
			"job_id":   job.ID().String(),
			"tenant":   job.TenantID(),
			"attempts": job.Attempts(),
		})
	}
	if requeued > 0 && m.config.OnReclaim != nil {
		m.config.OnReclaim(requeued)
	}
}
