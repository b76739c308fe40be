package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics exposed by the admin server.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates the admin metrics and registers gauges that read
// live engine state on scrape.
func NewMetrics(engine EngineView) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reliability_admin_http_requests_total",
				Help: "Total admin HTTP requests by path and status code",
			},
			[]string{"path", "code"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reliability_admin_http_request_duration_seconds",
				Help:    "Admin HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		registry: registry,
	}

	registry.MustRegister(m.httpRequestsTotal, m.httpRequestDuration)
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "reliability_groups_registered",
			Help: "Number of registered fallback groups",
		},
		func() float64 { return float64(len(engine.GroupIDs())) },
	))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "reliability_alerts_active",
			Help: "Number of unresolved alerts",
		},
		func() float64 { return float64(len(engine.ActiveAlerts())) },
	))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "reliability_metrics_retained",
			Help: "Number of metric records inside the retention window",
		},
		func() float64 { return float64(engine.MetricCount()) },
	))
	return m
}

// Handler returns the /metrics exposition handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// instrument wraps an HTTP handler with request counting and latency
// observation under the given path label.
func (m *Metrics) instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		m.httpRequestsTotal.WithLabelValues(path, strconv.Itoa(rec.status)).Inc()
		m.httpRequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
