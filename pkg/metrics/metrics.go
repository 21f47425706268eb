// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections is the number of open WebSocket connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pullquiz_active_connections",
		Help: "Number of open WebSocket connections.",
	})

	// LiveEngines is the number of resident session engines.
	LiveEngines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pullquiz_live_engines",
		Help: "Number of session engines currently resident in memory.",
	})

	// EventsBroadcast counts server events fanned out, by event type.
	EventsBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pullquiz_events_broadcast_total",
		Help: "Server events fanned out to clients, by event type.",
	}, []string{"type"})

	// AnswersAdmitted counts admitted answer submissions, by correctness.
	AnswersAdmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pullquiz_answers_admitted_total",
		Help: "Answer submissions admitted by the engine.",
	}, []string{"correct"})

	// MessagesRateLimited counts client frames dropped by the rate limit.
	MessagesRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pullquiz_messages_rate_limited_total",
		Help: "Client messages rejected by the per-connection rate limit.",
	})

	// EngineRehydrations counts engines restored from the state store.
	EngineRehydrations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pullquiz_engine_rehydrations_total",
		Help: "Session engines rehydrated from persisted state.",
	})
)
