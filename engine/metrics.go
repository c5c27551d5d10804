package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var messagesSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chat_analytics_messages_submitted_total",
	Help: "The total number of chat messages submitted, by result",
}, []string{"result"})

var eventsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chat_analytics_events_submitted_total",
	Help: "The total number of platform events submitted",
})

var queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "chat_analytics_queue_depth",
	Help: "The number of items waiting in ingest queues",
}, []string{"queue"})

var processDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "chat_analytics_message_process_seconds",
	Help:    "Time from submission until a message is scored, classified and aggregated",
	Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
})

var discardedOnShutdown = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chat_analytics_discarded_on_shutdown_total",
	Help: "The total number of in-flight items discarded after the shutdown grace period",
})
