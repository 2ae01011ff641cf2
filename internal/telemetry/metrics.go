// Package telemetry carries the Prometheus collectors and the structured operation logger.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsNamespace = "marketd"
	unmatchedRoute   = "unmatched"
)

// Metrics owns a private registry so tests and multiple servers never collide.
type Metrics struct {
	registry         *prometheus.Registry
	httpInFlight     prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	ledgerOperations *prometheus.CounterVec
	sweepRuns        *prometheus.CounterVec
	sweepExpired     prometheus.Counter
	sweepDuration    prometheus.Histogram
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "route"}),
		ledgerOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Credit ledger operations by kind and outcome.",
		}, []string{"operation", "status"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sweeper",
			Name:      "runs_total",
			Help:      "Expiration sweeps by outcome.",
		}, []string{"status"}),
		sweepExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sweeper",
			Name:      "expired_listings_total",
			Help:      "Listings moved to EXPIRED by the sweeper.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "sweeper",
			Name:      "run_duration_seconds",
			Help:      "Duration of expiration sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
	}
	metrics.registry.MustRegister(
		metrics.httpInFlight,
		metrics.httpRequests,
		metrics.httpDuration,
		metrics.ledgerOperations,
		metrics.sweepRuns,
		metrics.sweepExpired,
		metrics.sweepDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return metrics
}

// Registry exposes the underlying registry.
func (metrics *Metrics) Registry() *prometheus.Registry {
	return metrics.registry
}

// Handler serves the registry in the Prometheus text format.
func (metrics *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})
}

// GinMiddleware records request counts and latencies labelled by route template.
func (metrics *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		metrics.httpInFlight.Inc()
		defer metrics.httpInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method
		metrics.httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// RecordLedgerOperation counts one ledger operation.
func (metrics *Metrics) RecordLedgerOperation(operation string, status string) {
	metrics.ledgerOperations.WithLabelValues(operation, status).Inc()
}

// RecordSweep records one sweep run.
func (metrics *Metrics) RecordSweep(expired int, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.sweepRuns.WithLabelValues(status).Inc()
	metrics.sweepDuration.Observe(duration.Seconds())
	if expired > 0 {
		metrics.sweepExpired.Add(float64(expired))
	}
}
