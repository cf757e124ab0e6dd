package service

import (
	"context"
	"testing"
	"time"

	"enrichd/internal/domain/valueobject"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestTelemetry(t *testing.T, queueDepths QueueDepthFunc, breakers []CircuitBreaker) (*Telemetry, *metric.ManualReader) {
	t.Helper()

	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	telemetry, err := NewTelemetry(TelemetryConfig{
		ServiceName: "enrichd-test",
		Enabled:     true,
	}, provider, queueDepths, breakers)
	require.NoError(t, err)
	t.Cleanup(func() { _ = telemetry.Close() })

	return telemetry, reader
}

func collect(t *testing.T, reader *metric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var data metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &data))
	return data
}

func findMetric(data metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, scope := range data.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func sumTotal(t *testing.T, data metricdata.ResourceMetrics, name string) int64 {
	t.Helper()

	m, ok := findMetric(data, name)
	require.True(t, ok, "metric %s not collected", name)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", name)

	var total int64
	for _, point := range sum.DataPoints {
		total += point.Value
	}
	return total
}

func TestTelemetry_Counters(t *testing.T) {
	telemetry, reader := newTestTelemetry(t, nil, nil)
	ctx := context.Background()

	telemetry.RecordSubmission(ctx, "t1", false)
	telemetry.RecordSubmission(ctx, "t1", true)
	telemetry.RecordCompletion(ctx, "t1", 2*time.Second)
	telemetry.RecordFailure(ctx, "t1", valueobject.ErrorCategoryProcessorExhausted)
	telemetry.RecordRequeue(ctx, "t1")
	telemetry.RecordEmbeddingUpserted(ctx, "t1")
	telemetry.RecordEmbeddingSkipped(ctx, "t1", valueobject.SkipReasonCircuitOpen)

	data := collect(t, reader)
	assert.Equal(t, int64(2), sumTotal(t, data, JobsSubmittedCounterName))
	assert.Equal(t, int64(1), sumTotal(t, data, JobsCompletedCounterName))
	assert.Equal(t, int64(1), sumTotal(t, data, JobsFailedCounterName))
	assert.Equal(t, int64(1), sumTotal(t, data, JobsRequeuedCounterName))
	assert.Equal(t, int64(1), sumTotal(t, data, EmbeddingUpsertsCounterName))
	assert.Equal(t, int64(1), sumTotal(t, data, EmbeddingSkipsCounterName))

	hist, ok := findMetric(data, JobDurationHistogramName)
	require.True(t, ok)
	histData, ok := hist.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, histData.DataPoints, 1)
	assert.Equal(t, uint64(1), histData.DataPoints[0].Count)
	assert.InDelta(t, 2.0, histData.DataPoints[0].Sum, 0.001)
}

func TestTelemetry_QueueDepthGauges(t *testing.T) {
	depths := func(_ context.Context) (int, map[string]int) {
		return 5, map[string]int{"t1": 3, "t2": 2}
	}
	_, reader := newTestTelemetry(t, depths, nil)

	data := collect(t, reader)

	total, ok := findMetric(data, QueueDepthTotalGaugeName)
	require.True(t, ok)
	totalData, ok := total.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, totalData.DataPoints, 1)
	assert.Equal(t, int64(5), totalData.DataPoints[0].Value)

	perTenant, ok := findMetric(data, QueueDepthGaugeName)
	require.True(t, ok)
	perTenantData, ok := perTenant.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	assert.Len(t, perTenantData.DataPoints, 2)
}

func TestTelemetry_BreakerStateGauge(t *testing.T) {
	breaker := NewCircuitBreaker(BreakerConfig{
		Name:             "processor",
		FailureThreshold: 1,
		Cooldown:         time.Hour,
	})
	_, reader := newTestTelemetry(t, nil, []CircuitBreaker{breaker})

	data := collect(t, reader)
	m, ok := findMetric(data, BreakerStateGaugeName)
	require.True(t, ok)
	gauge, ok := m.Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, 0.0, gauge.DataPoints[0].Value)

	breaker.RecordFailure()

	data = collect(t, reader)
	m, _ = findMetric(data, BreakerStateGaugeName)
	gauge, ok = m.Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	assert.Equal(t, 1.0, gauge.DataPoints[0].Value)
}

func TestTelemetry_DisabledIsNoOp(t *testing.T) {
	telemetry, err := NewTelemetry(TelemetryConfig{Enabled: false}, nil, nil, nil)
	require.NoError(t, err)

	// Must not panic without instruments.
	ctx := context.Background()
	telemetry.RecordSubmission(ctx, "t1", false)
	telemetry.RecordCompletion(ctx, "t1", time.Second)
	telemetry.RecordFailure(ctx, "t1", valueobject.ErrorCategoryProcessorExhausted)
	require.NoError(t, telemetry.Close())
}

func TestTelemetry_Percentiles(t *testing.T) {
	telemetry, err := NewTelemetry(TelemetryConfig{Enabled: false, LatencyWindowSize: 100}, nil, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 1; i <= 100; i++ {
		telemetry.RecordCompletion(ctx, "t1", time.Duration(i)*time.Millisecond)
	}

	percentiles := telemetry.Percentiles()
	assert.Equal(t, 50*time.Millisecond, percentiles.P50)
	assert.Equal(t, 95*time.Millisecond, percentiles.P95)
	assert.Equal(t, 99*time.Millisecond, percentiles.P99)
}

func TestTelemetry_EnabledRequiresServiceName(t *testing.T) {
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	_, err := NewTelemetry(TelemetryConfig{Enabled: true}, provider, nil, nil)
	assert.Error(t, err)
}
