package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queryTotal    *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	queryErrors   *prometheus.CounterVec
	fallbackTotal *prometheus.CounterVec

	processRunTotal    *prometheus.CounterVec
	processRunDuration prometheus.Histogram

	decodeTotal        *prometheus.CounterVec
	decodeSkippedTotal prometheus.Counter

	backpressureOccupancy *prometheus.GaugeVec
	backpressureDropped   *prometheus.CounterVec
	backpressureActive    *prometheus.GaugeVec

	activeStreams prometheus.Gauge
	sweptStreams  prometheus.Counter

	transcriptWriteDuration prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queryTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "query_total",
					Help: "Total queries by strategy mode and status.",
				},
				[]string{"mode", "status"},
			),
			queryDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "query_duration_seconds",
					Help:    "Query duration in seconds by strategy mode.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"mode"},
			),
			queryErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "query_errors_total",
					Help: "Total query errors by strategy mode.",
				},
				[]string{"mode"},
			),
			fallbackTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "strategy_fallback_total",
					Help: "Total interactive-to-batch fallbacks by reason.",
				},
				[]string{"reason"},
			),
			processRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "process_run_total",
					Help: "Total child process runs by status.",
				},
				[]string{"status"},
			),
			processRunDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "process_run_duration_seconds",
					Help:    "Child process run duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			decodeTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "decode_total",
					Help: "Total message decode attempts by status.",
				},
				[]string{"status"},
			),
			decodeSkippedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "decode_skipped_lines_total",
					Help: "Total malformed stream lines skipped during decode.",
				},
			),
			backpressureOccupancy: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "backpressure_occupancy",
					Help: "Current in-flight message count by admission strategy.",
				},
				[]string{"strategy"},
			),
			backpressureDropped: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "backpressure_dropped_total",
					Help: "Total messages refused admission by strategy.",
				},
				[]string{"strategy"},
			),
			backpressureActive: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "backpressure_active",
					Help: "Backpressure active state (1 active, 0 inactive).",
				},
				[]string{"strategy"},
			),
			activeStreams: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_streams",
					Help: "Current number of non-terminal streams in the registry.",
				},
			),
			sweptStreams: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "swept_streams_total",
					Help: "Total expired stream records removed by the sweeper.",
				},
			),
			transcriptWriteDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "transcript_write_duration_seconds",
					Help:    "Transcript append duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
		}

		prometheus.MustRegister(
			m.queryTotal,
			m.queryDuration,
			m.queryErrors,
			m.fallbackTotal,
			m.processRunTotal,
			m.processRunDuration,
			m.decodeTotal,
			m.decodeSkippedTotal,
			m.backpressureOccupancy,
			m.backpressureDropped,
			m.backpressureActive,
			m.activeStreams,
			m.sweptStreams,
			m.transcriptWriteDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordQuery(mode string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.queryTotal.WithLabelValues(mode, status).Inc()
	m.queryDuration.WithLabelValues(mode).Observe(duration.Seconds())
	if !success {
		m.queryErrors.WithLabelValues(mode).Inc()
	}
}

func RecordFallback(reason string) {
	getMetrics().fallbackTotal.WithLabelValues(reason).Inc()
}

func RecordProcessRun(duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.processRunTotal.WithLabelValues(status).Inc()
	m.processRunDuration.Observe(duration.Seconds())
}

func RecordDecode(success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().decodeTotal.WithLabelValues(status).Inc()
}

func RecordDecodeSkipped() {
	getMetrics().decodeSkippedTotal.Inc()
}

func SetBackpressureOccupancy(strategy string, occupancy int) {
	getMetrics().backpressureOccupancy.WithLabelValues(strategy).Set(float64(occupancy))
}

func RecordBackpressureDrop(strategy string) {
	getMetrics().backpressureDropped.WithLabelValues(strategy).Inc()
}

func SetBackpressureActive(strategy string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	getMetrics().backpressureActive.WithLabelValues(strategy).Set(v)
}

func SetActiveStreams(count int) {
	getMetrics().activeStreams.Set(float64(count))
}

func RecordSweptStreams(count int) {
	getMetrics().sweptStreams.Add(float64(count))
}

func RecordTranscriptWrite(duration time.Duration) {
	getMetrics().transcriptWriteDuration.Observe(duration.Seconds())
}
