package obsrpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// callsIssued counts remote calls by method
	callsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obsrpc",
		Name:      "calls_issued_total",
		Help:      "Remote calls dispatched, by method",
	}, []string{"method"})

	// callTimeouts counts waits that ran out of patience
	callTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "obsrpc",
		Name:      "call_timeouts_total",
		Help:      "Future waits that ended in a timeout",
	})

	eventsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obsrpc",
		Name:      "events_sent_total",
		Help:      "Events sent, by type",
	}, []string{"type"})

	eventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obsrpc",
		Name:      "events_delivered_total",
		Help:      "Events handed to local handlers, by type",
	}, []string{"type"})

	proxyResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obsrpc",
		Name:      "proxy_resolutions_total",
		Help:      "Proxy lookups by outcome",
	}, []string{"result"})

	logsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "obsrpc",
		Name:      "logs_forwarded_total",
		Help:      "Log records forwarded as LogEvent",
	})

	logsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "obsrpc",
		Name:      "logs_dropped_total",
		Help:      "Log records dropped because the queue was full",
	})

	variableBroadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obsrpc",
		Name:      "variable_broadcasts_total",
		Help:      "Shared variable broadcasts, by kind",
	}, []string{"kind"})

	taskRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obsrpc",
		Name:      "task_restarts_total",
		Help:      "Supervised task restarts, by task",
	}, []string{"task"})

	// localCallDuration tracks handler latency on the callee side
	localCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "obsrpc",
		Name:      "handler_duration_seconds",
		Help:      "Local handler execution time in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 12),
	}, []string{"method"})
)
