package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	chainRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chain_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	chainRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chain_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	chainIntegrityChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chain_integrity_checks_total",
		Help: "Total monitor integrity probes by result.",
	}, []string{"result"})

	chainAlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chain_alerts_total",
		Help: "Total integrity alerts by outcome.",
	}, []string{"outcome"})

	chainWebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chain_webhook_deliveries_total",
		Help: "Total alert webhook delivery attempts by outcome.",
	}, []string{"outcome"})

	chainRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chain_rate_limited_total",
		Help: "Total requests refused by the per-IP rate limiter.",
	})

	chainAppendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chain_appends_total",
		Help: "Total records appended to the chain.",
	})

	chainGateVerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chain_gate_verdicts_total",
		Help: "Total integrity gate verdicts by result.",
	}, []string{"result"})

	chainIntegrityStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chain_integrity_valid",
		Help: "1 while the last determinate integrity status is valid, 0 otherwise.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		chainRequestsTotal.WithLabelValues(method, path, status).Inc()
		chainRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordIntegrityCheck records one monitor probe by its status string.
func RecordIntegrityCheck(result string) {
	chainIntegrityChecksTotal.WithLabelValues(result).Inc()
}

func recordRateLimited() {
	chainRateLimitedTotal.Inc()
}

// RecordWebhookDelivery counts one webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	if success {
		chainWebhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		chainWebhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}

// RecordAlert records an alert attempt.
func RecordAlert(sent bool) {
	if sent {
		chainAlertsTotal.WithLabelValues("sent").Inc()
	} else {
		chainAlertsTotal.WithLabelValues("failed").Inc()
	}
}

// RecordAppend records a chain append.
func RecordAppend() {
	chainAppendsTotal.Inc()
}

// RecordGateVerdict records one gate check by its status string.
func RecordGateVerdict(result string) {
	chainGateVerdictsTotal.WithLabelValues(result).Inc()
}

// SetIntegrityGauge sets the integrity gauge.
func SetIntegrityGauge(valid bool) {
	if valid {
		chainIntegrityStatus.Set(1)
	} else {
		chainIntegrityStatus.Set(0)
	}
}
