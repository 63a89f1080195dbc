package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_dispatched_total",
			Help: "Total notifications accepted by the dispatcher",
		},
		[]string{"priority", "status"}, // status: sent, scheduled
	)

	DeliveriesAttempted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliveries_attempted_total",
			Help: "Total per-channel delivery attempts",
		},
		[]string{"channel", "result"}, // result: sent, failed
	)

	AdapterCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adapter_call_latency_ms",
			Help:    "Channel adapter call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"channel", "result"},
	)

	WebhooksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_processed_total",
			Help: "Total provider webhooks received",
		},
		[]string{"provider", "result"}, // result: processed, duplicate, rejected, malformed
	)

	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Sends rejected because every target channel was exhausted",
		},
		[]string{"channel"},
	)

	RetriesScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_retries_total",
			Help: "Delivery retry attempts",
		},
		[]string{"channel", "kind"}, // kind: auto, manual
	)

	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stream_subscribers",
			Help: "Currently connected notification stream subscribers",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

// RecordAdapterCall records one channel adapter invocation.
func RecordAdapterCall(channel, result string, duration time.Duration) {
	AdapterCallLatency.WithLabelValues(channel, result).Observe(float64(duration.Milliseconds()))
	DeliveriesAttempted.WithLabelValues(channel, result).Inc()
}

// RecordHTTPRequest records one HTTP request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
