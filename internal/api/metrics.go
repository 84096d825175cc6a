package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/atagone-core/internal/atagone"
)

const metricsNamespace = "atagone"

// Metrics holds the Prometheus collectors. It is a report sink and endpoint
// observer, so poller output lands here as gauges.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	reportField     *prometheus.GaugeVec
	heating         *prometheus.GaugeVec
	lastReport      *prometheus.GaugeVec
	reports         prometheus.Counter
	endpointChanges prometheus.Counter
}

// NewMetrics creates collectors on a private registry, together with the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		reportField: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "report_value",
			Help:      "Latest numeric report field from the controller.",
		}, []string{"device_id", "field"}),
		heating: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "heating",
			Help:      "1 while the burner is on.",
		}, []string{"device_id"}),
		lastReport: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_report_timestamp_seconds",
			Help:      "Unix time of the last successful report.",
		}, []string{"device_id"}),
		reports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reports_total",
			Help:      "Reports received by the poller.",
		}),
		endpointChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "endpoint_changes_total",
			Help:      "Controller endpoint changes seen via discovery.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.reportField,
		m.heating,
		m.lastReport,
		m.reports,
		m.endpointChanges,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and durations by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.httpRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ReportUpdated implements bridge.ReportSink.
func (m *Metrics) ReportUpdated(_ context.Context, deviceID string, reply *atagone.RetrieveReply) error {
	m.reports.Inc()
	if reply == nil || reply.Report == nil {
		return nil
	}
	for field, value := range reply.Report.Numeric() {
		m.reportField.WithLabelValues(deviceID, field).Set(value)
	}
	heating := 0.0
	if reply.Report.Heating() {
		heating = 1
	}
	m.heating.WithLabelValues(deviceID).Set(heating)
	m.lastReport.WithLabelValues(deviceID).SetToCurrentTime()
	return nil
}

// EndpointChanged implements bridge.EndpointObserver.
func (m *Metrics) EndpointChanged(atagone.Endpoint) {
	m.endpointChanges.Inc()
}
