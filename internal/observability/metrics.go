// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Upstream metrics
	RPCCallLatency   *prometheus.HistogramVec
	RPCCallErrors    *prometheus.CounterVec
	AdmissionWaits   prometheus.Counter
	AdmissionInUse   prometheus.Gauge
	RateLimitRetries prometheus.Counter
	RetriesExhausted prometheus.Counter

	// Subscription metrics
	ActiveSubscriptions  prometheus.Gauge
	SubscribeFailures    prometheus.Counter
	NotificationsHandled prometheus.Counter
	NotificationsDropped prometheus.Counter

	// Pipeline metrics
	TransactionsClassified *prometheus.CounterVec
	ZeroDeltaDiscarded     prometheus.Counter
	PipelineErrors         *prometheus.CounterVec

	// Holder cache metrics
	HolderRefreshes prometheus.Counter
	HolderCacheHits prometheus.Counter

	// Storage metrics
	StoreWriteErrors *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "token_wallet_monitor"
	}

	return &Metrics{
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_errors_total",
			Help:      "Total number of failed Solana RPC calls",
		}, []string{"method"}),
		AdmissionWaits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "waits_total",
			Help:      "Total number of times a caller waited for admission",
		}),
		AdmissionInUse: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "window_in_use",
			Help:      "Requests admitted within the current sliding window",
		}),
		RateLimitRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "rate_limit_retries_total",
			Help:      "Total number of retries caused by upstream rate limiting",
		}),
		RetriesExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "exhausted_total",
			Help:      "Total number of calls that stayed rate limited after all retries",
		}),

		ActiveSubscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "active",
			Help:      "Number of live account subscriptions",
		}),
		SubscribeFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "failures_total",
			Help:      "Total number of failed account subscriptions",
		}),
		NotificationsHandled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "notifications_total",
			Help:      "Total number of account change notifications handled",
		}),
		NotificationsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "notifications_dropped_total",
			Help:      "Total number of account change notifications dropped on full buffers",
		}),

		TransactionsClassified: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "transactions_classified_total",
			Help:      "Total number of classified transactions by direction and protocol",
		}, []string{"direction", "protocol"}),
		ZeroDeltaDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "zero_delta_discarded_total",
			Help:      "Total number of transactions discarded for a zero balance delta",
		}),
		PipelineErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "errors_total",
			Help:      "Total number of pipeline errors by stage",
		}, []string{"stage"}),

		HolderRefreshes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "holders",
			Name:      "refreshes_total",
			Help:      "Total number of upstream holder snapshot refreshes",
		}),
		HolderCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "holders",
			Name:      "cache_hits_total",
			Help:      "Total number of holder requests served from cache",
		}),

		StoreWriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "write_errors_total",
			Help:      "Total number of failed storage writes by record kind",
		}, []string{"kind"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordRPCCall records RPC call latency and failure.
func RecordRPCCall(method string, seconds float64, err error) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
	if err != nil {
		DefaultMetrics.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordAdmissionWait increments the admission wait counter.
func RecordAdmissionWait() {
	DefaultMetrics.AdmissionWaits.Inc()
}

// UpdateAdmissionInUse sets the sliding window occupancy gauge.
func UpdateAdmissionInUse(n int) {
	DefaultMetrics.AdmissionInUse.Set(float64(n))
}

// RecordRateLimitRetry increments the rate limit retry counter.
func RecordRateLimitRetry() {
	DefaultMetrics.RateLimitRetries.Inc()
}

// RecordRetriesExhausted increments the exhausted retries counter.
func RecordRetriesExhausted() {
	DefaultMetrics.RetriesExhausted.Inc()
}

// UpdateActiveSubscriptions sets the active subscriptions gauge.
func UpdateActiveSubscriptions(n int) {
	DefaultMetrics.ActiveSubscriptions.Set(float64(n))
}

// RecordSubscribeFailure increments the subscription failure counter.
func RecordSubscribeFailure() {
	DefaultMetrics.SubscribeFailures.Inc()
}

// RecordNotification increments the handled notifications counter.
func RecordNotification() {
	DefaultMetrics.NotificationsHandled.Inc()
}

// RecordNotificationDropped increments the dropped notifications counter.
func RecordNotificationDropped() {
	DefaultMetrics.NotificationsDropped.Inc()
}

// RecordClassified increments the classified transactions counter.
func RecordClassified(direction, protocol string) {
	DefaultMetrics.TransactionsClassified.WithLabelValues(direction, protocol).Inc()
}

// RecordZeroDelta increments the zero delta discard counter.
func RecordZeroDelta() {
	DefaultMetrics.ZeroDeltaDiscarded.Inc()
}

// RecordPipelineError records a pipeline error for a stage.
func RecordPipelineError(stage string) {
	DefaultMetrics.PipelineErrors.WithLabelValues(stage).Inc()
}

// RecordHolderRefresh increments the holder refresh counter.
func RecordHolderRefresh() {
	DefaultMetrics.HolderRefreshes.Inc()
}

// RecordHolderCacheHit increments the holder cache hit counter.
func RecordHolderCacheHit() {
	DefaultMetrics.HolderCacheHits.Inc()
}

// RecordStoreWriteError records a failed storage write.
func RecordStoreWriteError(kind string) {
	DefaultMetrics.StoreWriteErrors.WithLabelValues(kind).Inc()
}
