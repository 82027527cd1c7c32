// Package metrics exposes scan and request counters in Prometheus format.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// Collector implements privacy.Observer and records HTTP traffic.
type Collector struct {
	registry *prometheus.Registry

	scans         *prometheus.CounterVec
	scanDuration  *prometheus.HistogramVec
	findings      *prometheus.CounterVec
	degraded      *prometheus.CounterVec
	maskFallbacks *prometheus.CounterVec
	requests      *prometheus.CounterVec
	requestTime   *prometheus.HistogramVec
	rulesLoaded   prometheus.Gauge
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pii_sentinel_scans_total",
			Help: "Texts scanned for PII",
		}, []string{"backend"}),
		scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pii_sentinel_scan_duration_seconds",
			Help:    "Time spent scanning one text",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend"}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pii_sentinel_findings_total",
			Help: "Findings reported by detection backends",
		}, []string{"backend", "pii_type"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pii_sentinel_backend_degraded_total",
			Help: "Scans that returned an empty report because the backend failed",
		}, []string{"backend", "reason"}),
		maskFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pii_sentinel_mask_fallbacks_total",
			Help: "Replace masks that fell back to redaction",
		}, []string{"pii_type"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pii_sentinel_http_requests_total",
			Help: "HTTP requests handled",
		}, []string{"route", "method", "status"}),
		requestTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pii_sentinel_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		rulesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pii_sentinel_rules_loaded",
			Help: "Rules in the active rule set",
		}),
	}

	c.registry.MustRegister(
		c.scans, c.scanDuration, c.findings, c.degraded, c.maskFallbacks,
		c.requests, c.requestTime, c.rulesLoaded,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ScanCompleted implements privacy.Observer.
func (c *Collector) ScanCompleted(backend string, findings []privacy.Finding, elapsed time.Duration) {
	c.scans.WithLabelValues(backend).Inc()
	c.scanDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
	for _, f := range findings {
		c.findings.WithLabelValues(backend, f.PIIType).Inc()
	}
}

// BackendDegraded implements privacy.Observer.
func (c *Collector) BackendDegraded(backend string, err error) {
	reason := "error"
	if errors.Is(err, privacy.ErrRecognizerUnavailable) {
		reason = "unavailable"
	}
	c.degraded.WithLabelValues(backend, reason).Inc()
}

// MaskFallback implements privacy.Observer.
func (c *Collector) MaskFallback(piiType string) {
	c.maskFallbacks.WithLabelValues(piiType).Inc()
}

// SetRulesLoaded records the size of the active rule set.
func (c *Collector) SetRulesLoaded(n int) {
	c.rulesLoaded.Set(float64(n))
}

// ObserveRequest records one HTTP request.
func (c *Collector) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	c.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.requestTime.WithLabelValues(route).Observe(elapsed.Seconds())
}
