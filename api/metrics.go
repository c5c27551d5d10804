package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "chat_analytics_http_request_duration_seconds",
	Help:    "HTTP request latency by route and status code",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "route", "code"})
