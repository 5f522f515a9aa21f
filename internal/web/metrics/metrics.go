package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultSuccess = "success"
	resultError   = "error"
)

// Recorder is what the services and handlers report to.
type Recorder interface {
	// RecordLoginStarted counts a redirect to the identity provider.
	RecordLoginStarted(success bool)

	// RecordLoginCompleted counts a callback. kind is the error taxonomy
	// name, empty on success.
	RecordLoginCompleted(kind string, duration time.Duration)

	// RecordRefresh counts a refresh grant. kind is empty on success.
	RecordRefresh(kind string)

	RecordLogout()

	// RecordGateRejection counts a token the request gate turned away.
	RecordGateRejection(kind string)

	// RecordPendingLoginsExpired counts housekeeping deletions.
	RecordPendingLoginsExpired(n int64)

	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

var _ Recorder = (*Metrics)(nil)

// Metrics holds all Prometheus metrics for the web service. Each instance
// has its own registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	LoginsStartedTotal   *prometheus.CounterVec
	LoginsCompletedTotal *prometheus.CounterVec
	LoginDuration        prometheus.Histogram
	RefreshesTotal       *prometheus.CounterVec
	LogoutsTotal         prometheus.Counter
	GateRejectionsTotal  *prometheus.CounterVec
	PendingLoginsExpired prometheus.Counter
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
}

// New creates and registers every metric, plus the Go runtime and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		LoginsStartedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "litcal_logins_started_total",
				Help: "Total number of redirects to the identity provider",
			},
			[]string{"result"}, // success, error
		),
		LoginsCompletedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "litcal_logins_completed_total",
				Help: "Total number of login callbacks by outcome",
			},
			[]string{"result", "kind"},
		),
		LoginDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "litcal_login_callback_duration_seconds",
				Help:    "Time spent handling a login callback, code exchange included",
				Buckets: prometheus.DefBuckets,
			},
		),
		RefreshesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "litcal_token_refreshes_total",
				Help: "Total number of refresh grants by outcome",
			},
			[]string{"result", "kind"},
		),
		LogoutsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "litcal_logouts_total",
				Help: "Total number of logouts",
			},
		),
		GateRejectionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "litcal_gate_rejections_total",
				Help: "Access tokens rejected by the request gate",
			},
			[]string{"kind"},
		),
		PendingLoginsExpired: f.NewCounter(
			prometheus.CounterOpts{
				Name: "litcal_pending_logins_expired_total",
				Help: "Pending logins removed by housekeeping",
			},
		),
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "litcal_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "litcal_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Registry is what /metrics serves.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func result(kind string) string {
	if kind == "" {
		return resultSuccess
	}
	return resultError
}

func (m *Metrics) RecordLoginStarted(success bool) {
	r := resultSuccess
	if !success {
		r = resultError
	}
	m.LoginsStartedTotal.WithLabelValues(r).Inc()
}

func (m *Metrics) RecordLoginCompleted(kind string, duration time.Duration) {
	m.LoginsCompletedTotal.WithLabelValues(result(kind), kind).Inc()
	m.LoginDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordRefresh(kind string) {
	m.RefreshesTotal.WithLabelValues(result(kind), kind).Inc()
}

func (m *Metrics) RecordLogout() { m.LogoutsTotal.Inc() }

func (m *Metrics) RecordGateRejection(kind string) {
	m.GateRejectionsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordPendingLoginsExpired(n int64) {
	if n > 0 {
		m.PendingLoginsExpired.Add(float64(n))
	}
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, statusLabel(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
