package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var messagesAggregated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chat_analytics_messages_aggregated_total",
	Help: "The total number of chat messages folded into analytics",
}, []string{"result"})

var moderationFlags = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chat_analytics_moderation_flags_total",
	Help: "The total number of moderation flags raised, by reason",
}, []string{"flag"})

var profilesSwept = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chat_analytics_profiles_swept_total",
	Help: "The total number of idle user profiles purged by the retention sweep",
})

var profilesTracked = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "chat_analytics_profiles",
	Help: "The number of user profiles currently held in memory",
})
