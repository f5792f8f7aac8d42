package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	// HTTPRequestDuration tracks request latency by method, path, and status.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// Transaction processing metrics
var (
	// TransactionsProcessed counts processor outcomes by result.
	TransactionsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transactions_processed_total",
			Help: "Total number of processed transactions by result",
		},
		[]string{"result"},
	)

	// TransactionProcessingDuration tracks processing latency by transaction type.
	TransactionProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transaction_processing_duration_seconds",
			Help:    "Duration of transaction processing in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"type"},
	)

	// TransactionRetries counts processor retry attempts on transient conflicts.
	TransactionRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transaction_retries_total",
			Help: "Total number of processor retries on transient conflicts",
		},
	)

	// IdempotencyCacheHits counts replayed responses served from the idempotency table.
	IdempotencyCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "idempotency_cache_hits_total",
			Help: "Total number of idempotency cache hits",
		},
	)
)

// Outbox metrics
var (
	// OutboxPendingEvents gauges the number of unpublished outbox events.
	OutboxPendingEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_pending_events",
			Help: "Number of unpublished events in outbox",
		},
	)

	// OutboxOldestPendingAge gauges the age in seconds of the oldest pending event.
	OutboxOldestPendingAge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest pending outbox event in seconds",
		},
	)

	// OutboxPublished counts relay publish attempts by result.
	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Total number of outbox publish attempts by result",
		},
		[]string{"result"},
	)
)

// Consumer metrics
var (
	// ConsumedEvents counts ingress records by disposition.
	ConsumedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingress_events_consumed_total",
			Help: "Total number of consumed ingress events by disposition",
		},
		[]string{"result"},
	)

	// DLQSent counts records routed to the dead-letter topic.
	DLQSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dlq_sent_total",
			Help: "Total number of records routed to the DLQ topic",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns an HTTP middleware that records request metrics.
// Side effects: records Prometheus metrics and reads the current time.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip metrics endpoint itself
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.statusCode)
		path := normalizePath(r.URL.Path)

		HTTPRequestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// normalizePath normalizes URL paths to avoid cardinality explosion.
func normalizePath(path string) string {
	const prefix = "/api/v1/transactions"
	if strings.HasPrefix(path, prefix+"/") && path != prefix+"/health" {
		return prefix + "/{id}"
	}
	return path
}

// RecordTransactionProcessed increments the processed counter for a result.
// Side effects: records a Prometheus metric.
func RecordTransactionProcessed(result string) {
	TransactionsProcessed.WithLabelValues(result).Inc()
}

// RecordProcessingDuration records a processing duration for a transaction type.
// Side effects: records a Prometheus metric.
func RecordProcessingDuration(txType string, duration time.Duration) {
	TransactionProcessingDuration.WithLabelValues(txType).Observe(duration.Seconds())
}

// RecordIdempotencyCacheHit increments the cache hit counter.
// Side effects: records a Prometheus metric.
func RecordIdempotencyCacheHit() {
	IdempotencyCacheHits.Inc()
}
