package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsTracked = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chat_analytics_events_tracked_total",
	Help: "The total number of platform events tracked, by type",
}, []string{"type"})

var unknownEvents = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chat_analytics_unknown_events_total",
	Help: "The total number of platform events bucketed as other",
})

var eventLogEvicted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chat_analytics_event_log_evicted_total",
	Help: "The total number of events evicted from the bounded event log",
})
