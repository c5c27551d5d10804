package config

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rulesReloads = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chat_analytics_rules_reloads_total",
	Help: "The total number of rules file reloads, by result",
}, []string{"result"})
