package oteladapters_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/openshelf/circulation-go/circulation/oteladapters"
)

func Test_MetricsCollector_RecordDuration_UsesAHistogram(t *testing.T) {
	// setup
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	collector := oteladapters.NewMetricsCollector(provider.Meter("circulation-test"))

	// act - 150 ms recorded as 0.15 seconds
	collector.RecordDuration("circulation_operation_duration_seconds", 150*time.Millisecond, map[string]string{
		"operation": "create_loan",
	})

	// assert
	var resourceMetrics metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &resourceMetrics)
	require.NoError(t, err)

	histogram := findHistogramMetric(t, resourceMetrics, "circulation_operation_duration_seconds")
	require.Len(t, histogram.DataPoints, 1)

	dataPoint := histogram.DataPoints[0]
	assert.Equal(t, uint64(1), dataPoint.Count)
	assert.InDelta(t, 0.15, dataPoint.Sum, 0.001)

	expectedAttrs := attribute.NewSet(attribute.String("operation", "create_loan"))
	assert.True(t, dataPoint.Attributes.Equals(&expectedAttrs))
}

func Test_MetricsCollector_IncrementCounter_Accumulates(t *testing.T) {
	// setup
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	collector := oteladapters.NewMetricsCollector(provider.Meter("circulation-test"))

	labels := map[string]string{
		"operation": "create_loan",
		"reason":    "precondition_failed",
	}

	// act
	collector.IncrementCounter("circulation_operations_rejected_total", labels)
	collector.IncrementCounter("circulation_operations_rejected_total", labels)
	collector.IncrementCounter("circulation_operations_rejected_total", labels)

	// assert
	var resourceMetrics metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &resourceMetrics)
	require.NoError(t, err)

	counter := findCounterMetric(t, resourceMetrics, "circulation_operations_rejected_total")
	require.Len(t, counter.DataPoints, 1)

	dataPoint := counter.DataPoints[0]
	assert.Equal(t, int64(3), dataPoint.Value)

	expectedAttrs := attribute.NewSet(
		attribute.String("operation", "create_loan"),
		attribute.String("reason", "precondition_failed"),
	)
	assert.True(t, dataPoint.Attributes.Equals(&expectedAttrs))
}

func Test_MetricsCollector_RecordValue_UsesAGauge(t *testing.T) {
	// setup
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	collector := oteladapters.NewMetricsCollector(provider.Meter("circulation-test"))

	// act
	collector.RecordValue("circulation_fines_assessed_cents", 250, map[string]string{
		"operation": "return_loan",
	})

	// assert
	var resourceMetrics metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &resourceMetrics)
	require.NoError(t, err)

	gauge := findGaugeMetric(t, resourceMetrics, "circulation_fines_assessed_cents")
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, 250.0, gauge.DataPoints[0].Value)
}

func Test_MetricsCollector_ContextualMethodsRecord(t *testing.T) {
	// setup
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	collector := oteladapters.NewMetricsCollector(provider.Meter("circulation-test"))

	ctx := context.Background()
	labels := map[string]string{"operation": "renew_loan"}

	// act
	collector.RecordDurationContext(ctx, "circulation_operation_duration_seconds", 100*time.Millisecond, labels)
	collector.IncrementCounterContext(ctx, "circulation_transaction_conflicts_total", labels)
	collector.RecordValueContext(ctx, "circulation_loans_marked_overdue", 2, labels)

	// assert
	var resourceMetrics metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &resourceMetrics)
	require.NoError(t, err)

	metricNames := make(map[string]bool)
	for _, scopeMetrics := range resourceMetrics.ScopeMetrics {
		for _, m := range scopeMetrics.Metrics {
			metricNames[m.Name] = true
		}
	}

	assert.True(t, metricNames["circulation_operation_duration_seconds"])
	assert.True(t, metricNames["circulation_transaction_conflicts_total"])
	assert.True(t, metricNames["circulation_loans_marked_overdue"])
}

func Test_MetricsCollector_ToleratesEmptyAndNilLabels(t *testing.T) {
	// setup
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	collector := oteladapters.NewMetricsCollector(provider.Meter("circulation-test"))

	// act
	collector.RecordDuration("empty_labels_metric", 50*time.Millisecond, map[string]string{})
	collector.RecordDuration("nil_labels_metric", 50*time.Millisecond, nil)

	// assert
	var resourceMetrics metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &resourceMetrics)
	require.NoError(t, err)

	assert.NotNil(t, findHistogramMetric(t, resourceMetrics, "empty_labels_metric"))
	assert.NotNil(t, findHistogramMetric(t, resourceMetrics, "nil_labels_metric"))
}

func Test_MetricsCollector_ReusesInstrumentsPerName(t *testing.T) {
	// setup
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	collector := oteladapters.NewMetricsCollector(provider.Meter("circulation-test"))

	// act
	collector.RecordDuration("reused_histogram", 100*time.Millisecond, nil)
	collector.RecordDuration("reused_histogram", 200*time.Millisecond, nil)

	collector.IncrementCounter("reused_counter", nil)
	collector.IncrementCounter("reused_counter", nil)
	collector.IncrementCounter("reused_counter", nil)

	collector.RecordValue("reused_gauge", 10, nil)
	collector.RecordValue("reused_gauge", 20, nil)

	// assert - aggregation proves the same instrument was used
	var resourceMetrics metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &resourceMetrics)
	require.NoError(t, err)

	histogram := findHistogramMetric(t, resourceMetrics, "reused_histogram")
	assert.Equal(t, uint64(2), histogram.DataPoints[0].Count)

	counter := findCounterMetric(t, resourceMetrics, "reused_counter")
	assert.Equal(t, int64(3), counter.DataPoints[0].Value)

	gauge := findGaugeMetric(t, resourceMetrics, "reused_gauge")
	assert.Equal(t, 20.0, gauge.DataPoints[0].Value)
}

func Test_MetricsCollector_DropsMeasurementsWhenInstrumentCreationFails(t *testing.T) {
	// setup
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	failingMeter := &errorInjectingMeter{Meter: provider.Meter("circulation-test")}
	collector := oteladapters.NewMetricsCollector(failingMeter)

	ctx := context.Background()

	// act + assert - the observed operation must not fail with it
	assert.NotPanics(t, func() {
		collector.RecordDuration("error_histogram", 100*time.Millisecond, nil)
	})

	assert.NotPanics(t, func() {
		collector.IncrementCounter("error_counter", nil)
	})

	assert.NotPanics(t, func() {
		collector.RecordValue("error_gauge", 42, nil)
	})

	assert.NotPanics(t, func() {
		collector.RecordDurationContext(ctx, "error_histogram", 100*time.Millisecond, nil)
	})

	assert.NotPanics(t, func() {
		collector.IncrementCounterContext(ctx, "error_counter", nil)
	})

	assert.NotPanics(t, func() {
		collector.RecordValueContext(ctx, "error_gauge", 42, nil)
	})
}

// errorInjectingMeter fails instrument creation for names with an "error_" prefix.
type errorInjectingMeter struct {
	metric.Meter
}

func (m *errorInjectingMeter) Float64Histogram(
	name string,
	options ...metric.Float64HistogramOption,
) (metric.Float64Histogram, error) {
	if name == "error_histogram" {
		return nil, errors.New("histogram creation failed")
	}

	return m.Meter.Float64Histogram(name, options...)
}

func (m *errorInjectingMeter) Int64Counter(
	name string,
	options ...metric.Int64CounterOption,
) (metric.Int64Counter, error) {
	if name == "error_counter" {
		return nil, errors.New("counter creation failed")
	}

	return m.Meter.Int64Counter(name, options...)
}

func (m *errorInjectingMeter) Float64Gauge(
	name string,
	options ...metric.Float64GaugeOption,
) (metric.Float64Gauge, error) {
	if name == "error_gauge" {
		return nil, errors.New("gauge creation failed")
	}

	return m.Meter.Float64Gauge(name, options...)
}

func findHistogramMetric(
	t *testing.T,
	resourceMetrics metricdata.ResourceMetrics,
	name string,
) *metricdata.Histogram[float64] {
	t.Helper()

	for _, scopeMetrics := range resourceMetrics.ScopeMetrics {
		for _, m := range scopeMetrics.Metrics {
			if m.Name == name {
				if h, ok := m.Data.(metricdata.Histogram[float64]); ok {
					return &h
				}
			}
		}
	}

	t.Fatalf("histogram metric %s not found", name)

	return nil
}

func findCounterMetric(
	t *testing.T,
	resourceMetrics metricdata.ResourceMetrics,
	name string,
) *metricdata.Sum[int64] {
	t.Helper()

	for _, scopeMetrics := range resourceMetrics.ScopeMetrics {
		for _, m := range scopeMetrics.Metrics {
			if m.Name == name {
				if c, ok := m.Data.(metricdata.Sum[int64]); ok {
					return &c
				}
			}
		}
	}

	t.Fatalf("counter metric %s not found", name)

	return nil
}

func findGaugeMetric(
	t *testing.T,
	resourceMetrics metricdata.ResourceMetrics,
	name string,
) *metricdata.Gauge[float64] {
	t.Helper()

	for _, scopeMetrics := range resourceMetrics.ScopeMetrics {
		for _, m := range scopeMetrics.Metrics {
			if m.Name == name {
				if g, ok := m.Data.(metricdata.Gauge[float64]); ok {
					return &g
				}
			}
		}
	}

	t.Fatalf("gauge metric %s not found", name)

	return nil
}
