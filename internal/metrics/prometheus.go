package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps the collectors for the runtime loop and the
// local gateway emulator.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Runtime loop
	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	resolutionsTotal   *prometheus.CounterVec
	initErrorsTotal    *prometheus.CounterVec
	pollErrorsTotal    *prometheus.CounterVec
	activeWorkers      prometheus.Gauge

	// Local gateway
	gatewayRequestsTotal   *prometheus.CounterVec
	handoffRejectionsTotal prometheus.Counter
	correlationTimeouts    prometheus.Counter
	pendingCorrelations    prometheus.Gauge
	handoffWait            prometheus.Histogram

	uptime prometheus.GaugeFunc
}

// Default histogram buckets for invocation duration (in milliseconds)
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var (
	promMetrics *PrometheusMetrics
	startTime   = time.Now()
)

// InitPrometheus initializes the Prometheus metrics subsystem. Calling it
// again replaces the registry.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		invocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of handler invocations",
			},
			[]string{"handler", "kind", "status"},
		),

		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_milliseconds",
				Help:      "Duration of handler invocations in milliseconds",
				Buckets:   buckets,
			},
			[]string{"handler", "cold_start"},
		),

		resolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_resolutions_total",
				Help:      "Handler bindings resolved by workers",
			},
			[]string{"handler"},
		),

		initErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "init_errors_total",
				Help:      "Fatal initialization errors by reason",
			},
			[]string{"reason"},
		),

		pollErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_errors_total",
				Help:      "Failed polls of the runtime API next endpoint",
			},
			[]string{"kind"}, // transport, status
		),

		activeWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_workers",
				Help:      "Number of running invocation loop workers",
			},
		),

		gatewayRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_requests_total",
				Help:      "Requests served by the local gateway public surface",
			},
			[]string{"method", "code"},
		),

		handoffRejectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handoff_rejections_total",
				Help:      "Invocations not accepted by a worker within the enqueue timeout",
			},
		),

		correlationTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "correlation_timeouts_total",
				Help:      "Gateway requests answered with the timeout sentinel",
			},
		),

		pendingCorrelations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_correlations",
				Help:      "Gateway requests waiting for a worker result",
			},
		),

		handoffWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handoff_wait_milliseconds",
				Help:      "Time an invocation waited for a worker to take it",
				Buckets:   []float64{0.5, 1, 5, 10, 50, 100, 250, 500, 1000},
			},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the runtime started",
		},
		func() float64 {
			return time.Since(startTime).Seconds()
		},
	)

	registry.MustRegister(
		pm.invocationsTotal,
		pm.invocationDuration,
		pm.resolutionsTotal,
		pm.initErrorsTotal,
		pm.pollErrorsTotal,
		pm.activeWorkers,
		pm.gatewayRequestsTotal,
		pm.handoffRejectionsTotal,
		pm.correlationTimeouts,
		pm.pendingCorrelations,
		pm.handoffWait,
		pm.uptime,
	)

	promMetrics = pm
}

// RecordInvocation records a completed invocation.
func RecordInvocation(handlerID, kind string, durationMs int64, coldStart, success bool) {
	if promMetrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	promMetrics.invocationsTotal.WithLabelValues(handlerID, kind, status).Inc()
	promMetrics.invocationDuration.WithLabelValues(handlerID, strconv.FormatBool(coldStart)).Observe(float64(durationMs))
}

// RecordResolution records a handler binding being resolved.
func RecordResolution(handlerID string) {
	if promMetrics == nil {
		return
	}
	promMetrics.resolutionsTotal.WithLabelValues(handlerID).Inc()
}

// RecordInitError records a fatal initialization error.
func RecordInitError(reason string) {
	if promMetrics == nil {
		return
	}
	promMetrics.initErrorsTotal.WithLabelValues(reason).Inc()
}

// RecordPollError records a failed poll; kind is "transport" or "status".
func RecordPollError(kind string) {
	if promMetrics == nil {
		return
	}
	promMetrics.pollErrorsTotal.WithLabelValues(kind).Inc()
}

// IncActiveWorkers increments the running worker gauge
func IncActiveWorkers() {
	if promMetrics == nil {
		return
	}
	promMetrics.activeWorkers.Inc()
}

// DecActiveWorkers decrements the running worker gauge
func DecActiveWorkers() {
	if promMetrics == nil {
		return
	}
	promMetrics.activeWorkers.Dec()
}

// RecordGatewayRequest records a response sent by the gateway public surface.
func RecordGatewayRequest(method string, code int) {
	if promMetrics == nil {
		return
	}
	promMetrics.gatewayRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

// RecordHandoffRejection records a capacity-exhausted enqueue.
func RecordHandoffRejection() {
	if promMetrics == nil {
		return
	}
	promMetrics.handoffRejectionsTotal.Inc()
}

// RecordHandoffWait records how long an invocation waited to be taken.
func RecordHandoffWait(d time.Duration) {
	if promMetrics == nil {
		return
	}
	promMetrics.handoffWait.Observe(float64(d.Microseconds()) / 1000)
}

// RecordCorrelationTimeout records a gateway request answered with the sentinel.
func RecordCorrelationTimeout() {
	if promMetrics == nil {
		return
	}
	promMetrics.correlationTimeouts.Inc()
}

// SetPendingCorrelations sets the number of waiting gateway requests.
func SetPendingCorrelations(n int) {
	if promMetrics == nil {
		return
	}
	promMetrics.pendingCorrelations.Set(float64(n))
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors)
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
