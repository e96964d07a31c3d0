package prometheus

import (
	"strconv"
	"time"

	"escola-client/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements MetricsCollector for Prometheus.
type PrometheusCollector struct {
	namespace string

	// Query cache
	reads         *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	fetchAttempts *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	evictions     prometheus.Counter

	// Refresh worker pool
	queueDepth      prometheus.Gauge
	droppedRefresh  *prometheus.CounterVec
	fetchLatency    *prometheus.HistogramVec
	mutationLatency *prometheus.HistogramVec

	// Mutations
	mutations *prometheus.CounterVec
	rollbacks *prometheus.CounterVec

	// Gateway
	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	errors         *prometheus.CounterVec
	circuitOpens   *prometheus.CounterVec
	circuitState   *prometheus.GaugeVec

	// Session
	sessionExpiries prometheus.Counter
}

// NewPrometheusCollector creates a new Prometheus metrics collector.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	return &PrometheusCollector{
		namespace: namespace,
		reads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_reads_total",
				Help:      "Total number of query reads per entity and freshness",
			},
			[]string{"entity", "fresh"},
		),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_fetches_total",
				Help:      "Total number of query fetch cycles per entity",
			},
			[]string{"entity", "status"},
		),
		fetchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_fetch_attempts_total",
				Help:      "Total number of fetch attempts including retries",
			},
			[]string{"entity"},
		),
		invalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_invalidated_entries_total",
				Help:      "Total number of entries marked stale per prefix",
			},
			[]string{"prefix"},
		),
		evictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_evictions_total",
				Help:      "Total number of entries evicted by the GC sweep",
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "refresh_queue_depth",
				Help:      "Current background refresh queue depth",
			},
		),
		droppedRefresh: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_dropped_total",
				Help:      "Total number of background refreshes dropped by backpressure",
			},
			[]string{"entity"},
		),
		fetchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_fetch_duration_seconds",
				Help:      "Query fetch cycle latency",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
			},
			[]string{"entity"},
		),
		mutationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "mutation_duration_seconds",
				Help:      "Mutation latency from start to settle",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"entity", "kind"},
		),
		mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_total",
				Help:      "Total number of settled mutations",
			},
			[]string{"entity", "kind", "status"},
		),
		rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutation_rollbacks_total",
				Help:      "Total number of optimistic patches rolled back",
			},
			[]string{"entity"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_requests_total",
				Help:      "Total number of backend requests",
			},
			[]string{"method", "entity", "code"},
		),
		requestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_request_duration_seconds",
				Help:      "Backend request latency",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"method", "entity"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors per entity and type",
			},
			[]string{"entity", "type"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Total number of circuit breaker opens",
			},
			[]string{"name"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		sessionExpiries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_expired_total",
				Help:      "Total number of session-expiry cycles",
			},
		),
	}
}

// Register registers all metrics with the given Prometheus registry.
func (pc *PrometheusCollector) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pc.reads,
		pc.fetches,
		pc.fetchAttempts,
		pc.invalidations,
		pc.evictions,
		pc.queueDepth,
		pc.droppedRefresh,
		pc.fetchLatency,
		pc.mutationLatency,
		pc.mutations,
		pc.rollbacks,
		pc.requests,
		pc.requestLatency,
		pc.errors,
		pc.circuitOpens,
		pc.circuitState,
		pc.sessionExpiries,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

// RecordRead records a hook-style read.
func (pc *PrometheusCollector) RecordRead(entity string, fresh bool) {
	pc.reads.WithLabelValues(entity, strconv.FormatBool(fresh)).Inc()
}

// RecordFetch records a completed fetch cycle.
func (pc *PrometheusCollector) RecordFetch(entity string, success bool, attempts int, duration time.Duration) {
	pc.fetches.WithLabelValues(entity, status(success)).Inc()
	pc.fetchAttempts.WithLabelValues(entity).Add(float64(attempts))
	pc.fetchLatency.WithLabelValues(entity).Observe(duration.Seconds())
}

// RecordInvalidate records a prefix invalidation.
func (pc *PrometheusCollector) RecordInvalidate(prefix string, entries int) {
	pc.invalidations.WithLabelValues(prefix).Add(float64(entries))
}

// RecordEviction records entries removed by the GC sweep.
func (pc *PrometheusCollector) RecordEviction(entries int) {
	pc.evictions.Add(float64(entries))
}

// RecordQueueDepth records the current refresh queue depth.
func (pc *PrometheusCollector) RecordQueueDepth(depth int) {
	pc.queueDepth.Set(float64(depth))
}

// RecordRefreshDropped records a dropped background refresh.
func (pc *PrometheusCollector) RecordRefreshDropped(entity string) {
	pc.droppedRefresh.WithLabelValues(entity).Inc()
}

// RecordMutation records a settled mutation.
func (pc *PrometheusCollector) RecordMutation(entity string, kind string, success bool, duration time.Duration) {
	pc.mutations.WithLabelValues(entity, kind, status(success)).Inc()
	pc.mutationLatency.WithLabelValues(entity, kind).Observe(duration.Seconds())
}

// RecordRollback records an optimistic patch rolled back.
func (pc *PrometheusCollector) RecordRollback(entity string) {
	pc.rollbacks.WithLabelValues(entity).Inc()
}

// RecordRequest records a gateway request.
func (pc *PrometheusCollector) RecordRequest(method string, entity string, code int, duration time.Duration) {
	pc.requests.WithLabelValues(method, entity, strconv.Itoa(code)).Inc()
	pc.requestLatency.WithLabelValues(method, entity).Observe(duration.Seconds())
}

// RecordError records an error by type.
func (pc *PrometheusCollector) RecordError(entity string, errorType string) {
	pc.errors.WithLabelValues(entity, errorType).Inc()
}

// RecordCircuitState records the current circuit breaker state.
func (pc *PrometheusCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(name).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(name).Inc()
	}
}

// RecordSessionExpired records one session-expiry cycle.
func (pc *PrometheusCollector) RecordSessionExpired() {
	pc.sessionExpiries.Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
