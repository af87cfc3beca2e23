package xmpp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// stanzasRouted counts stanzas the router forwarded, by element
	stanzasRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obsrpc",
		Subsystem: "router",
		Name:      "stanzas_routed_total",
		Help:      "Stanzas forwarded by the router, by element",
	}, []string{"kind"})

	routerSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "obsrpc",
		Subsystem: "router",
		Name:      "sessions",
		Help:      "Currently connected sessions",
	})

	// eventsDropped counts incoming events we refused, by reason
	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obsrpc",
		Subsystem: "xmpp",
		Name:      "events_dropped_total",
		Help:      "Incoming events dropped, by reason",
	}, []string{"reason"})

	faultsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "obsrpc",
		Subsystem: "xmpp",
		Name:      "faults_sent_total",
		Help:      "Calls answered with a fault",
	})

	capsCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obsrpc",
		Subsystem: "xmpp",
		Name:      "caps_cache_total",
		Help:      "Interface lookups served from the capability cache or by disco",
	}, []string{"result"})
)
