// Package promadapters provides a Prometheus adapter for the circulation
// metrics interface. Unlike the OpenTelemetry adapter, which creates
// instruments on demand, Prometheus wants its label sets declared up front,
// so this collector registers instruments for the circulation metrics
// vocabulary and drops measurements outside of it.
package promadapters

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openshelf/circulation-go/circulation"
)

// Metric names emitted by the circulation storage engines.
const (
	metricOperationDuration    = "circulation_operation_duration_seconds"
	metricDatabaseErrors       = "circulation_database_errors_total"
	metricTransactionConflicts = "circulation_transaction_conflicts_total"
	metricOperationsRejected   = "circulation_operations_rejected_total"
	metricFinesAssessedCents   = "circulation_fines_assessed_cents"
	metricLoansMarkedOverdue   = "circulation_loans_marked_overdue"

	labelOperation = "operation"
	labelReason    = "reason"
)

// MetricsCollector implements circulation.MetricsCollector on top of
// prometheus/client_golang.
type MetricsCollector struct {
	operationDuration    *prometheus.HistogramVec // operation
	databaseErrors       *prometheus.CounterVec   // operation
	transactionConflicts *prometheus.CounterVec   // operation
	operationsRejected   *prometheus.CounterVec   // operation, reason
	finesAssessedCents   prometheus.Gauge
	loansMarkedOverdue   prometheus.Gauge
}

// NewMetricsCollector creates the circulation instruments and registers them
// with the given registerer. A nil registerer falls back to the default
// Prometheus registerer. Registering the instruments twice panics, so create
// one collector per registry.
func NewMetricsCollector(registerer prometheus.Registerer) *MetricsCollector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &MetricsCollector{
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricOperationDuration,
				Help:    "Circulation operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{labelOperation},
		),
		databaseErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricDatabaseErrors,
				Help: "Total database errors by operation",
			},
			[]string{labelOperation},
		),
		transactionConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricTransactionConflicts,
				Help: "Total transaction conflicts by operation",
			},
			[]string{labelOperation},
		),
		operationsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricOperationsRejected,
				Help: "Total rejected operations by operation and reason",
			},
			[]string{labelOperation, labelReason},
		),
		finesAssessedCents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricFinesAssessedCents,
			Help: "Cents assessed by the most recent late return",
		}),
		loansMarkedOverdue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricLoansMarkedOverdue,
			Help: "Loans marked overdue by the most recent sweep",
		}),
	}

	registerer.MustRegister(
		m.operationDuration,
		m.databaseErrors,
		m.transactionConflicts,
		m.operationsRejected,
		m.finesAssessedCents,
		m.loansMarkedOverdue,
	)

	return m
}

// RecordDuration observes an operation duration.
// Indexing a nil label map yields empty label values, which is fine here.
func (m *MetricsCollector) RecordDuration(metricName string, duration time.Duration, labels map[string]string) {
	if metricName != metricOperationDuration {
		return
	}

	m.operationDuration.WithLabelValues(labels[labelOperation]).Observe(duration.Seconds())
}

// IncrementCounter increments one of the circulation counters.
func (m *MetricsCollector) IncrementCounter(metricName string, labels map[string]string) {
	switch metricName {
	case metricDatabaseErrors:
		m.databaseErrors.WithLabelValues(labels[labelOperation]).Inc()
	case metricTransactionConflicts:
		m.transactionConflicts.WithLabelValues(labels[labelOperation]).Inc()
	case metricOperationsRejected:
		m.operationsRejected.WithLabelValues(labels[labelOperation], labels[labelReason]).Inc()
	}
}

// RecordValue sets one of the circulation gauges.
func (m *MetricsCollector) RecordValue(metricName string, value float64, _ map[string]string) {
	switch metricName {
	case metricFinesAssessedCents:
		m.finesAssessedCents.Set(value)
	case metricLoansMarkedOverdue:
		m.loansMarkedOverdue.Set(value)
	}
}

// Ensure MetricsCollector implements circulation.MetricsCollector.
var _ circulation.MetricsCollector = (*MetricsCollector)(nil)
