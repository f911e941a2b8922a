package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/uavledger/internal/verify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	uavlRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uavl_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	uavlRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "uavl_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	uavlRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uavl_checkpoint_runs_total",
		Help: "Total checkpoint runs by outcome.",
	}, []string{"outcome"})

	uavlCheckpointsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uavl_checkpoints_emitted_total",
		Help: "Total checkpoints written and anchored.",
	})

	uavlRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "uavl_checkpoint_run_duration_seconds",
		Help:    "Checkpoint run duration in seconds.",
		Buckets: []float64{.1, .5, 1, 5, 15, 60, 300},
	}, []string{"outcome"})

	uavlVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uavl_verifications_total",
		Help: "Total verifications by status.",
	}, []string{"status"})

	uavlHealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uavl_health_checks_total",
		Help: "Total dependency probes by dependency and result.",
	}, []string{"dependency", "result"})

	uavlDependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "uavl_dependency_up",
		Help: "1 when the dependency is healthy, 0 when degraded.",
	}, []string{"dependency"})
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

		uavlRequestsTotal.WithLabelValues(method, path, status).Inc()
		uavlRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordRun records a finished checkpoint run.
func RecordRun(outcome string, emitted int, elapsed time.Duration) {
	uavlRunsTotal.WithLabelValues(outcome).Inc()
	uavlCheckpointsTotal.Add(float64(emitted))
	uavlRunDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// RecordVerification records a completed verification.
func RecordVerification(status verify.Status, _ time.Duration) {
	uavlVerificationsTotal.WithLabelValues(string(status)).Inc()
}

// RecordHealthCheck records a dependency probe result.
func RecordHealthCheck(dependency string, success bool) {
	if success {
		uavlHealthChecksTotal.WithLabelValues(dependency, "success").Inc()
	} else {
		uavlHealthChecksTotal.WithLabelValues(dependency, "failure").Inc()
	}
}

// SetDependencyUp sets the health gauge for a dependency.
func SetDependencyUp(dependency string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	uavlDependencyUp.WithLabelValues(dependency).Set(v)
}
