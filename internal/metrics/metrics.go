// Package metrics exposes the process-wide Prometheus instruments for the
// session pool and the request executor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session pool metrics.
	SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "prowl_sessions_active",
		Help: "Current number of sessions, partitioned by lifecycle state.",
	}, []string{"state"})
	SessionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prowl_sessions_created_total",
		Help: "Total number of browser sessions created, by engine.",
	}, []string{"engine"})
	SessionsDestroyed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prowl_sessions_destroyed_total",
		Help: "Total number of browser sessions destroyed, by reason.",
	}, []string{"reason"})
	AcquireRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prowl_acquire_rejections_total",
		Help: "Total number of acquire calls rejected at capacity.",
	})

	// Executor metrics.
	RequestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prowl_request_failures_total",
		Help: "Total number of classified request failures, by kind.",
	}, []string{"kind"})
	RequestRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prowl_request_retries_total",
		Help: "Total number of retry attempts issued by the executor.",
	})
	Escalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prowl_escalations_total",
		Help: "Total number of stealth escalation steps taken, by target engine.",
	}, []string{"engine"})
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prowl_request_duration_seconds",
		Help:    "End-to-end duration of logical platform operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// Proxy metrics.
	ProxyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prowl_proxy_failures_total",
		Help: "Total number of reported proxy failures.",
	})
	ProxyBans = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prowl_proxy_bans_total",
		Help: "Total number of proxies banned after repeated failures.",
	})
)
