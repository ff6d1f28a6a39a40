package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "carpool_sync"

var (
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "polls_total", Help: "Poll fetches by poller and outcome"},
		[]string{"poller", "outcome"},
	)
	PollLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "poll_latency_seconds", Help: "Poll fetch latency", Buckets: prometheus.DefBuckets},
		[]string{"poller"},
	)
	PollersDisabled = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "pollers_disabled_total", Help: "Pollers permanently disabled"},
		[]string{"poller"},
	)
	StaleResultsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "stale_results_dropped_total", Help: "Poll results discarded as stale or late"},
		[]string{"poller"},
	)
	DuplicatesSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "duplicates_suppressed_total", Help: "Items already surfaced to the user"},
		[]string{"kind"},
	)
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "transitions_total", Help: "Status transition events emitted"},
		[]string{"event"},
	)
	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "payments_total", Help: "Drop-off charges by outcome"},
		[]string{"outcome"},
	)
	ActiveViews = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "active_views", Help: "Mounted dashboards by role"},
		[]string{"role"},
	)
	PushClients = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "push_clients", Help: "Connected websocket clients"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
