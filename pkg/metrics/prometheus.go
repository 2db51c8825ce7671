package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns the Prometheus collectors of the analytics service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	rateLimited         prometheus.Counter

	// Analytics
	computationLatency *prometheus.HistogramVec
	alertsEmitted      *prometheus.CounterVec
	recommendations    *prometheus.CounterVec

	// Response cache
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheSize   *prometheus.GaugeVec

	// Result source
	resultsLoaded      prometheus.Gauge
	sourceReloads      *prometheus.CounterVec
	sourceQueryLatency *prometheus.HistogramVec

	// Cache warm-up queue and workers
	warmQueueSize     prometheus.Gauge
	warmEnqueueErrors prometheus.Counter
	warmJobs          *prometheus.CounterVec
	warmJobLatency    *prometheus.HistogramVec
	warmWorkers       prometheus.Gauge

	// Errors
	errorsByComponent *prometheus.CounterVec
	errorsByEndpoint  *prometheus.CounterVec

	// Runtime
	goroutines  prometheus.Gauge
	memoryBytes prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "paddock",
		subsystem:        "analytics",
		histogramBuckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place to declare every collector
	auto := promauto.With(m.registry)

	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.rateLimited = auto.NewCounter(
		m.counterOpts("http_rate_limited_total", "Requests rejected by the per-client rate limiter"),
	)

	m.computationLatency = auto.NewHistogramVec(
		m.histogramOpts("computation_duration_milliseconds", "Time spent in an analytics computation"),
		[]string{"operation"},
	)
	m.alertsEmitted = auto.NewCounterVec(
		m.counterOpts("patch_alerts_total", "Patch alerts emitted by classification"),
		[]string{"alert_type"},
	)
	m.recommendations = auto.NewCounterVec(
		m.counterOpts("strategy_recommendations_total", "Strategy recommendations by strategy"),
		[]string{"strategy"},
	)

	m.cacheHits = auto.NewCounterVec(
		m.counterOpts("cache_hits_total", "Response cache hits by cache"),
		[]string{"cache"},
	)
	m.cacheMisses = auto.NewCounterVec(
		m.counterOpts("cache_misses_total", "Response cache misses by cache"),
		[]string{"cache"},
	)
	m.cacheSize = auto.NewGaugeVec(
		m.gaugeOpts("cache_entries", "Entries currently held by each response cache"),
		[]string{"cache"},
	)

	m.resultsLoaded = auto.NewGauge(
		m.gaugeOpts("results_loaded", "Participant results available to the analytics engine"),
	)
	m.sourceReloads = auto.NewCounterVec(
		m.counterOpts("source_reloads_total", "Result source reloads by outcome"),
		[]string{"status"},
	)
	m.sourceQueryLatency = auto.NewHistogramVec(
		m.histogramOpts("source_query_duration_milliseconds", "Result source query latency"),
		[]string{"query"},
	)

	m.warmQueueSize = auto.NewGauge(
		m.gaugeOpts("warm_queue_size", "Cache warm-up jobs waiting in the queue"),
	)
	m.warmEnqueueErrors = auto.NewCounter(
		m.counterOpts("warm_enqueue_errors_total", "Cache warm-up jobs rejected by the queue"),
	)
	m.warmJobs = auto.NewCounterVec(
		m.counterOpts("warm_jobs_total", "Cache warm-up jobs processed by kind and outcome"),
		[]string{"kind", "status"},
	)
	m.warmJobLatency = auto.NewHistogramVec(
		m.histogramOpts("warm_job_duration_milliseconds", "Time spent processing a cache warm-up job"),
		[]string{"kind"},
	)
	m.warmWorkers = auto.NewGauge(
		m.gaugeOpts("warm_workers", "Cache warm-up workers running"),
	)

	m.errorsByComponent = auto.NewCounterVec(
		m.counterOpts("errors_by_component_total", "Errors by component and type"),
		[]string{"component", "error_type"},
	)
	m.errorsByEndpoint = auto.NewCounterVec(
		m.counterOpts("errors_by_endpoint_total", "HTTP errors by endpoint, method and type"),
		[]string{"endpoint", "method", "error_type"},
	)

	m.goroutines = auto.NewGauge(m.gaugeOpts("system_goroutines", "Current number of goroutines"))
	m.memoryBytes = auto.NewGauge(m.gaugeOpts("system_memory_bytes", "Heap memory in use, in bytes"))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordRateLimited increments the rate limited requests counter.
func RecordRateLimited() {
	globalManager.rateLimited.Inc()
}

// RecordComputation records how long an analytics operation took.
func RecordComputation(operation string, durationMs float64) {
	globalManager.computationLatency.WithLabelValues(operation).Observe(durationMs)
}

// RecordPatchAlert counts one emitted patch alert.
func RecordPatchAlert(alertType string) {
	globalManager.alertsEmitted.WithLabelValues(alertType).Inc()
}

// RecordRecommendation counts one strategy recommendation.
func RecordRecommendation(strategy string) {
	globalManager.recommendations.WithLabelValues(strategy).Inc()
}

// RecordCacheHit counts a cache hit.
func RecordCacheHit(cache string) {
	globalManager.cacheHits.WithLabelValues(cache).Inc()
}

// RecordCacheMiss counts a cache miss.
func RecordCacheMiss(cache string) {
	globalManager.cacheMisses.WithLabelValues(cache).Inc()
}

// UpdateCacheSize sets the number of entries held by a cache.
func UpdateCacheSize(cache string, n int) {
	globalManager.cacheSize.WithLabelValues(cache).Set(float64(n))
}

// UpdateResultsLoaded sets the number of participant results available.
func UpdateResultsLoaded(n int) {
	globalManager.resultsLoaded.Set(float64(n))
}

// RecordSourceReload counts a source reload with its outcome ("ok" or "error").
func RecordSourceReload(status string) {
	globalManager.sourceReloads.WithLabelValues(status).Inc()
}

// RecordSourceQuery records the latency of a result source query.
func RecordSourceQuery(query string, durationMs float64) {
	globalManager.sourceQueryLatency.WithLabelValues(query).Observe(durationMs)
}

// UpdateWarmQueueSize sets the number of queued warm-up jobs.
func UpdateWarmQueueSize(n int) {
	globalManager.warmQueueSize.Set(float64(n))
}

// RecordWarmEnqueueError counts a warm-up job the queue rejected.
func RecordWarmEnqueueError() {
	globalManager.warmEnqueueErrors.Inc()
}

// RecordWarmJob counts a processed warm-up job and its latency.
func RecordWarmJob(kind, status string, durationMs float64) {
	globalManager.warmJobs.WithLabelValues(kind, status).Inc()
	globalManager.warmJobLatency.WithLabelValues(kind).Observe(durationMs)
}

// UpdateWarmWorkers sets the number of running warm-up workers.
func UpdateWarmWorkers(n int) {
	globalManager.warmWorkers.Set(float64(n))
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.goroutines.Set(float64(count))
}

// UpdateSystemMemoryUsage sets the heap memory in use.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.memoryBytes.Set(float64(bytes))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
