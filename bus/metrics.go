package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sessionsPublished = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chat_analytics_bus_sessions_published_total",
	Help: "The total number of closed sessions published on the bus",
})

var handlerResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chat_analytics_bus_handler_results_total",
	Help: "The total number of closed-session deliveries by subscriber and result",
}, []string{"subscriber", "result"})
