package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// MetricNodesResolved counts metric nodes computed by the resolver
	MetricNodesResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dqc_metric_nodes_resolved_total",
			Help: "Total number of metric nodes computed",
		},
		[]string{"backend", "strategy"}, // strategy: direct, aggregate, condition
	)

	// Materializations counts batched partial materializations
	Materializations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dqc_materializations_total",
			Help: "Total number of batched partial materializations",
		},
		[]string{"backend", "status"}, // status: success, error, timeout
	)

	// ResolutionDuration measures a full resolution run in seconds
	ResolutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dqc_resolution_duration_seconds",
			Help:    "Metric resolution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"backend"},
	)

	// ValidationsTotal counts rule evaluations
	ValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dqc_validations_total",
			Help: "Total number of rule evaluations",
		},
		[]string{"expectation", "status"}, // status: success, failed, exception, error
	)

	// QueriesTotal counts queries issued by the SQL backend queriers
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dqc_queries_total",
			Help: "Total number of queries executed against a query engine",
		},
		[]string{"querier", "status"}, // status: success, error
	)

	// QueryDuration measures query execution time
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dqc_query_duration_seconds",
			Help:    "Query execution time",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"querier"},
	)

	// ErrorsTotal counts total number of errors
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dqc_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordNodeResolved records one computed metric node
func RecordNodeResolved(backend, strategy string) {
	MetricNodesResolved.WithLabelValues(backend, strategy).Inc()
}

// RecordMaterialization records a batched materialization
func RecordMaterialization(backend, status string) {
	Materializations.WithLabelValues(backend, status).Inc()
}

// RecordResolution records the duration of a resolution run
func RecordResolution(backend string, duration float64) {
	ResolutionDuration.WithLabelValues(backend).Observe(duration)
}

// RecordValidation records a rule evaluation
func RecordValidation(expectation, status string) {
	ValidationsTotal.WithLabelValues(expectation, status).Inc()
}

// RecordQuery records query metrics
func RecordQuery(querier, status string, duration float64) {
	QueriesTotal.WithLabelValues(querier, status).Inc()
	QueryDuration.WithLabelValues(querier).Observe(duration)
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
