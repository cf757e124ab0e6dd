package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"enrichd/internal/domain/valueobject"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names following OpenTelemetry semantic conventions.
const (
	JobsSubmittedCounterName    = "enrichment_jobs_submitted_total"
	JobsCompletedCounterName    = "enrichment_jobs_completed_total"
	JobsFailedCounterName       = "enrichment_jobs_failed_total"
	JobsRequeuedCounterName     = "enrichment_jobs_requeued_total"
	EmbeddingUpsertsCounterName = "enrichment_embedding_upserts_total"
	EmbeddingSkipsCounterName   = "enrichment_embedding_skips_total"
	JobDurationHistogramName    = "enrichment_job_duration_seconds"
	QueueDepthGaugeName         = "enrichment_queue_depth"
	QueueDepthTotalGaugeName    = "enrichment_queue_depth_total"
	BreakerStateGaugeName       = "enrichment_circuit_breaker_state"
)

// Common attribute keys for consistent metrics labeling.
const (
	AttrTenant          = "tenant"
	AttrFailureCategory = "failure_category"
	AttrSkipReason      = "skip_reason"
	AttrDependency      = "dependency"
	AttrCacheHit        = "cache_hit"
)

const defaultLatencyWindowSize = 512

// TelemetryConfig holds configuration for metrics collection.
type TelemetryConfig struct {
	ServiceName       string
	ServiceVersion    string
	Enabled           bool
	LatencyWindowSize int
}

// QueueDepthFunc supplies current queue depths for the observable gauges.
type QueueDepthFunc func(ctx context.Context) (total int, perTenant map[string]int)

// LatencyPercentiles summarizes completed-job latency over a rolling window.
type LatencyPercentiles struct {
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}

// Telemetry derives counters and gauges from job store, queue and breaker
// state. It is strictly read-only with respect to all of them.
type Telemetry struct {
	config  TelemetryConfig
	enabled bool

	submittedCounter metric.Int64Counter
	completedCounter metric.Int64Counter
	failedCounter    metric.Int64Counter
	requeuedCounter  metric.Int64Counter
	upsertsCounter   metric.Int64Counter
	skipsCounter     metric.Int64Counter
	durationHist     metric.Float64Histogram

	registration metric.Registration

	window *latencyWindow
}

// NewTelemetry creates telemetry instruments on the given meter provider.
// queueDepths and breakers feed the observable gauges; both may be nil when
// metrics export is disabled.
func NewTelemetry(
	config TelemetryConfig,
	provider metric.MeterProvider,
	queueDepths QueueDepthFunc,
	breakers []CircuitBreaker,
) (*Telemetry, error) {
	if config.LatencyWindowSize <= 0 {
		config.LatencyWindowSize = defaultLatencyWindowSize
	}

	t := &Telemetry{
		config:  config,
		enabled: config.Enabled,
		window:  newLatencyWindow(config.LatencyWindowSize),
	}

	if !config.Enabled {
		return t, nil
	}

	if config.ServiceName == "" {
		return nil, errors.New("service name cannot be empty")
	}
	if provider == nil {
		return nil, errors.New("meter provider cannot be nil")
	}

	meter := provider.Meter(config.ServiceName)

	var err error
	if t.submittedCounter, err = meter.Int64Counter(JobsSubmittedCounterName,
		metric.WithDescription("Enrichment job submissions, labeled by tenant and cache hit")); err != nil {
		return nil, err
	}
	if t.completedCounter, err = meter.Int64Counter(JobsCompletedCounterName,
		metric.WithDescription("Jobs reaching completed status, labeled by tenant")); err != nil {
		return nil, err
	}
	if t.failedCounter, err = meter.Int64Counter(JobsFailedCounterName,
		metric.WithDescription("Jobs reaching failed status, labeled by tenant and failure category")); err != nil {
		return nil, err
	}
	if t.requeuedCounter, err = meter.Int64Counter(JobsRequeuedCounterName,
		metric.WithDescription("Jobs requeued with backoff after recoverable processor failures")); err != nil {
		return nil, err
	}
	if t.upsertsCounter, err = meter.Int64Counter(EmbeddingUpsertsCounterName,
		metric.WithDescription("Successful embedding upserts, labeled by tenant")); err != nil {
		return nil, err
	}
	if t.skipsCounter, err = meter.Int64Counter(EmbeddingSkipsCounterName,
		metric.WithDescription("Embedding phases skipped on completed jobs, labeled by reason")); err != nil {
		return nil, err
	}
	if t.durationHist, err = meter.Float64Histogram(JobDurationHistogramName,
		metric.WithDescription("End-to-end duration of completed jobs in seconds")); err != nil {
		return nil, err
	}

	if err := t.registerGauges(meter, queueDepths, breakers); err != nil {
		return nil, err
	}

	return t, nil
}

func (t *Telemetry) registerGauges(
	meter metric.Meter,
	queueDepths QueueDepthFunc,
	breakers []CircuitBreaker,
) error {
	depthTotal, err := meter.Int64ObservableGauge(QueueDepthTotalGaugeName,
		metric.WithDescription("Total queued jobs across all tenant partitions"))
	if err != nil {
		return err
	}
	depthPerTenant, err := meter.Int64ObservableGauge(QueueDepthGaugeName,
		metric.WithDescription("Queued jobs per tenant partition"))
	if err != nil {
		return err
	}
	breakerState, err := meter.Float64ObservableGauge(BreakerStateGaugeName,
		metric.WithDescription("Circuit breaker state: closed=0, half-open=0.5, open=1"))
	if err != nil {
		return err
	}

	t.registration, err = meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			if queueDepths != nil {
				total, perTenant := queueDepths(ctx)
				observer.ObserveInt64(depthTotal, int64(total))
				for tenant, depth := range perTenant {
					observer.ObserveInt64(depthPerTenant, int64(depth),
						metric.WithAttributes(attribute.String(AttrTenant, tenant)))
				}
			}
			for _, breaker := range breakers {
				observer.ObserveFloat64(breakerState, breaker.State().Gauge(),
					metric.WithAttributes(attribute.String(AttrDependency, breaker.Name())))
			}
			return nil
		},
		depthTotal, depthPerTenant, breakerState,
	)
	return err
}

// Close unregisters the gauge callback.
func (t *Telemetry) Close() error {
	if t.registration == nil {
		return nil
	}
	return t.registration.Unregister()
}

// RecordSubmission records a job submission.
func (t *Telemetry) RecordSubmission(ctx context.Context, tenantID string, cacheHit bool) {
	if !t.enabled {
		return
	}
	t.submittedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrTenant, tenantID),
		attribute.Bool(AttrCacheHit, cacheHit),
	))
}

// RecordCompletion records a job reaching completed status together with
// its end-to-end duration.
func (t *Telemetry) RecordCompletion(ctx context.Context, tenantID string, duration time.Duration) {
	t.window.add(duration)
	if !t.enabled {
		return
	}
	t.completedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrTenant, tenantID)))
	t.durationHist.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String(AttrTenant, tenantID)))
}

// RecordFailure records a job reaching failed status.
func (t *Telemetry) RecordFailure(ctx context.Context, tenantID string, category valueobject.ErrorCategory) {
	if !t.enabled {
		return
	}
	t.failedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrTenant, tenantID),
		attribute.String(AttrFailureCategory, category.String()),
	))
}

// RecordRequeue records a requeue-with-backoff.
func (t *Telemetry) RecordRequeue(ctx context.Context, tenantID string) {
	if !t.enabled {
		return
	}
	t.requeuedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrTenant, tenantID)))
}

// RecordEmbeddingUpserted records a successful embedding upsert.
func (t *Telemetry) RecordEmbeddingUpserted(ctx context.Context, tenantID string) {
	if !t.enabled {
		return
	}
	t.upsertsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrTenant, tenantID)))
}

// RecordEmbeddingSkipped records an embedding phase downgraded to a partial
// success.
func (t *Telemetry) RecordEmbeddingSkipped(
	ctx context.Context,
	tenantID string,
	reason valueobject.SkipReason,
) {
	if !t.enabled {
		return
	}
	t.skipsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrTenant, tenantID),
		attribute.String(AttrSkipReason, reason.String()),
	))
}

// Percentiles returns p50/p95/p99 latency over the rolling window of
// completed jobs.
func (t *Telemetry) Percentiles() LatencyPercentiles {
	return t.window.percentiles()
}

// latencyWindow is a fixed-size ring of completed-job durations.
type latencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	filled  bool
}

func newLatencyWindow(size int) *latencyWindow {
	return &latencyWindow{samples: make([]time.Duration, size)}
}

func (w *latencyWindow) add(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
}

func (w *latencyWindow) percentiles() LatencyPercentiles {
	w.mu.Lock()
	count := len(w.samples)
	if !w.filled {
		count = w.next
	}
	snapshot := make([]time.Duration, count)
	copy(snapshot, w.samples[:count])
	w.mu.Unlock()

	if count == 0 {
		return LatencyPercentiles{}
	}

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i] < snapshot[j] })

	return LatencyPercentiles{
		P50: percentile(snapshot, 50),
		P95: percentile(snapshot, 95),
		P99: percentile(snapshot, 99),
	}
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	index := (p*len(sorted) + 99) / 100
	if index < 1 {
		index = 1
	}
	return sorted[index-1]
}
