package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chat_analytics_sessions_opened_total",
	Help: "The total number of sessions opened",
})

var sessionsClosed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chat_analytics_sessions_closed_total",
	Help: "The total number of sessions closed",
})

var journalEvicted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chat_analytics_session_journal_evicted_total",
	Help: "The total number of export rows evicted from full session journals",
})
