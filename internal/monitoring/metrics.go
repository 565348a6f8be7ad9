package monitoring

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for API calls and the gateway.
// It satisfies webtranspose.Observer.
type Metrics struct {
	// Remote API metrics
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec

	// Gateway metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Job metrics
	JobsCreated  *prometheus.CounterVec
	JobsFinished *prometheus.CounterVec

	// Ledger snapshot gauges, set by the Checker.
	JobFailRatio   prometheus.Gauge
	APIFailRatio   prometheus.Gauge
	JobsInFlight   *prometheus.GaugeVec
	AlertsFiring   *prometheus.GaugeVec
	LastCheckEpoch prometheus.Gauge

	registry *prometheus.Registry

	apiTotal  atomic.Int64
	apiFailed atomic.Int64
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		APIRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webtranspose_client_requests_total",
				Help: "Total number of Web Transpose API requests by path and outcome",
			},
			[]string{"path", "outcome"},
		),
		APIDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webtranspose_client_request_duration_seconds",
				Help:    "Web Transpose API request duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 180},
			},
			[]string{"path"},
		),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webtranspose_gateway_requests_total",
				Help: "Total number of gateway HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webtranspose_gateway_request_duration_seconds",
				Help:    "Gateway HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 60},
			},
			[]string{"method", "route"},
		),

		JobsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webtranspose_jobs_created_total",
				Help: "Total number of remote jobs created",
			},
			[]string{"kind"},
		),
		JobsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webtranspose_jobs_finished_total",
				Help: "Total number of remote jobs reaching a terminal status",
			},
			[]string{"kind", "status"},
		),

		JobFailRatio: factory.NewGauge(prometheus.GaugeOpts{
			Name: "webtranspose_job_failure_ratio",
			Help: "Failed share of finished jobs in the lookback window",
		}),
		APIFailRatio: factory.NewGauge(prometheus.GaugeOpts{
			Name: "webtranspose_client_failure_ratio",
			Help: "Failed share of API calls since process start",
		}),
		JobsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "webtranspose_jobs_in_flight",
				Help: "Queued or running jobs in the lookback window",
			},
			[]string{"status"},
		),
		AlertsFiring: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "webtranspose_alerts_firing",
				Help: "1 while an alert of the given type is firing",
			},
			[]string{"type"},
		),
		LastCheckEpoch: factory.NewGauge(prometheus.GaugeOpts{
			Name: "webtranspose_monitoring_last_check_timestamp_seconds",
			Help: "Unix time of the last completed health check",
		}),
	}
}

// ObserveRequest records one remote API call.
func (m *Metrics) ObserveRequest(path, outcome string, d time.Duration) {
	m.APIRequests.WithLabelValues(path, outcome).Inc()
	m.APIDuration.WithLabelValues(path).Observe(d.Seconds())
	m.apiTotal.Add(1)
	if outcome != "ok" {
		m.apiFailed.Add(1)
	}
}

// ObserveHTTP records one gateway request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// JobCreated counts a job created on the remote service.
func (m *Metrics) JobCreated(kind string) {
	m.JobsCreated.WithLabelValues(kind).Inc()
}

// JobFinished counts a job reaching a terminal status.
func (m *Metrics) JobFinished(kind, status string) {
	m.JobsFinished.WithLabelValues(kind, status).Inc()
}

// PublishSnapshot exposes a health snapshot and its alerts as gauges.
func (m *Metrics) PublishSnapshot(snap *MetricsSnapshot, alerts []Alert) {
	m.JobFailRatio.Set(snap.JobFailRate)
	m.APIFailRatio.Set(snap.APIFailRate)
	m.JobsInFlight.WithLabelValues("queued").Set(float64(snap.JobsQueued))
	m.JobsInFlight.WithLabelValues("running").Set(float64(snap.JobsRunning))

	firing := make(map[AlertType]bool, len(alerts))
	for _, a := range alerts {
		firing[a.Type] = true
	}
	for _, t := range []AlertType{AlertJobFailureRate, AlertAPIFailureRate} {
		v := 0.0
		if firing[t] {
			v = 1
		}
		m.AlertsFiring.WithLabelValues(string(t)).Set(v)
	}
	m.LastCheckEpoch.Set(float64(snap.CollectedAt.Unix()))
}

// APICounts returns the running totals of API calls and failed API calls.
func (m *Metrics) APICounts() (total, failed int64) {
	return m.apiTotal.Load(), m.apiFailed.Load()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
