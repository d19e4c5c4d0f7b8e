// Package metrics exposes Prometheus collectors for scans and HTTP traffic
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raaihank/contract-sentinel/internal/sensitive"
)

// Metrics holds all Prometheus metrics of the service
type Metrics struct {
	scansTotal    *prometheus.CounterVec
	itemsDetected *prometheus.CounterVec
	scanDuration  *prometheus.HistogramVec
	scanErrors    *prometheus.CounterVec

	cacheLookups  *prometheus.CounterVec
	configReloads *prometheus.CounterVec
	etlRecords    *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates the collectors on a fresh registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_scans_total",
				Help: "Total number of completed scans by source and risk level",
			},
			[]string{"source", "risk_level"},
		),

		itemsDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_items_detected_total",
				Help: "Total number of sensitive items detected by type",
			},
			[]string{"type"},
		),

		scanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_scan_duration_seconds",
				Help:    "Scan latency in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"source"},
		),

		scanErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_scan_errors_total",
				Help: "Total number of aborted scans",
			},
			[]string{"source"},
		),

		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_cache_lookups_total",
				Help: "Report cache lookups by result",
			},
			[]string{"result"},
		),

		configReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_config_reloads_total",
				Help: "Total number of configuration reload attempts by status",
			},
			[]string{"status"},
		),

		etlRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_etl_records_total",
				Help: "Records handled by the batch pipeline by status",
			},
			[]string{"status"},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.scansTotal,
		m.itemsDetected,
		m.scanDuration,
		m.scanErrors,
		m.cacheLookups,
		m.configReloads,
		m.etlRecords,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordScan records a completed scan
func (m *Metrics) RecordScan(source string, report sensitive.Report, duration time.Duration) {
	m.scansTotal.WithLabelValues(source, string(report.RiskLevel)).Inc()
	m.scanDuration.WithLabelValues(source).Observe(duration.Seconds())
	for t, n := range report.ByType {
		m.itemsDetected.WithLabelValues(string(t)).Add(float64(n))
	}
}

// RecordScanError records a scan that was cancelled or timed out
func (m *Metrics) RecordScanError(source string) {
	m.scanErrors.WithLabelValues(source).Inc()
}

// RecordCacheLookup records a report cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordConfigReload records a configuration reload attempt
func (m *Metrics) RecordConfigReload(status string) {
	m.configReloads.WithLabelValues(status).Inc()
}

// RecordETLRecords adds n records with the given status
func (m *Metrics) RecordETLRecords(status string, n int) {
	if n > 0 {
		m.etlRecords.WithLabelValues(status).Add(float64(n))
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request metrics labelled by route template
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		m.RecordHTTPRequest(r.Method, endpointName(r), strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

// endpointName uses the matched route template so IDs do not explode
// label cardinality
func endpointName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets websocket upgrades pass through the middleware
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		rw.statusCode = http.StatusSwitchingProtocols
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not support http.Hijacker")
}
