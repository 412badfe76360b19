package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for Vizor.
type Metrics struct {
	config MetricsConfig

	// Chart lifecycle metrics
	chartOperations *prometheus.CounterVec
	chartDuration   *prometheus.HistogramVec
	activeCharts    prometheus.Gauge

	// External data metrics
	fetches         *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	cachedSources   prometheus.Gauge
	policyDecisions *prometheus.CounterVec

	// Map metrics
	mapsRegistered *prometheus.CounterVec

	// Interaction metrics
	clicksForwarded *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	opBuckets := cfg.OperationBuckets
	if len(opBuckets) == 0 {
		opBuckets = prometheus.DefBuckets
	}
	fetchBuckets := cfg.FetchBuckets
	if len(fetchBuckets) == 0 {
		fetchBuckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		chartOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chart_operations_total",
				Help:      "Total number of chart operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		chartDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chart_operation_duration_seconds",
				Help:      "Duration of chart operations in seconds",
				Buckets:   opBuckets,
			},
			[]string{"operation"},
		),
		activeCharts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_charts",
				Help:      "Current number of registered charts",
			},
		),

		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Total number of external data retrievals by status",
			},
			[]string{"fetch_as", "status"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of external data retrievals in seconds",
				Buckets:   fetchBuckets,
			},
			[]string{"status"},
		),
		cachedSources: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cached_data_sources",
				Help:      "Current number of data source keys owned by live charts",
			},
		),
		policyDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_policy_decisions_total",
				Help:      "Total number of fetch admission decisions",
			},
			[]string{"decision"},
		),

		mapsRegistered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "maps_registered_total",
				Help:      "Total number of map registrations by type and status",
			},
			[]string{"type", "status"},
		),

		clicksForwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "clicks_forwarded_total",
				Help:      "Total number of click events handled by status",
			},
			[]string{"status"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.chartOperations,
		m.chartDuration,
		m.activeCharts,
		m.fetches,
		m.fetchDuration,
		m.cachedSources,
		m.policyDecisions,
		m.mapsRegistered,
		m.clicksForwarded,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// Chart Metrics

// RecordChartOperation records a controller operation with its outcome and duration.
func (m *Metrics) RecordChartOperation(operation, status string, duration time.Duration) {
	if m == nil || m.chartOperations == nil {
		return
	}
	m.chartOperations.WithLabelValues(operation, status).Inc()
	m.chartDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetActiveCharts sets the current number of registered charts.
func (m *Metrics) SetActiveCharts(count float64) {
	if m == nil || m.activeCharts == nil {
		return
	}
	m.activeCharts.Set(count)
}

// Fetch Metrics

// RecordFetch records one external data retrieval.
func (m *Metrics) RecordFetch(fetchAs, status string, duration time.Duration) {
	if m == nil || m.fetches == nil {
		return
	}
	m.fetches.WithLabelValues(fetchAs, status).Inc()
	m.fetchDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// AddCachedSources adjusts the number of data source keys owned by live charts.
func (m *Metrics) AddCachedSources(delta float64) {
	if m == nil || m.cachedSources == nil {
		return
	}
	m.cachedSources.Add(delta)
}

// RecordPolicyDecision records a fetch admission decision ("allow" or "deny").
func (m *Metrics) RecordPolicyDecision(decision string) {
	if m == nil || m.policyDecisions == nil {
		return
	}
	m.policyDecisions.WithLabelValues(decision).Inc()
}

// Map Metrics

// RecordMapRegistration records a map registration attempt.
func (m *Metrics) RecordMapRegistration(mapType, status string) {
	if m == nil || m.mapsRegistered == nil {
		return
	}
	m.mapsRegistered.WithLabelValues(mapType, status).Inc()
}

// Interaction Metrics

// RecordClick records a click event with its forwarding outcome.
func (m *Metrics) RecordClick(status string) {
	if m == nil || m.clicksForwarded == nil {
		return
	}
	m.clicksForwarded.WithLabelValues(status).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
