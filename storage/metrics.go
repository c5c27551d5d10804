package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rowsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chat_analytics_storage_rows_inserted_total",
	Help: "The total number of rows written to postgres, by table",
}, []string{"table"})

var rowsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chat_analytics_storage_rows_dropped_total",
	Help: "The total number of rows dropped because the batcher queue was full, by table",
}, []string{"table"})

var flushErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chat_analytics_storage_flush_errors_total",
	Help: "The total number of failed batch flushes",
})

var flushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "chat_analytics_storage_flush_seconds",
	Help:    "Duration of batch flushes",
	Buckets: prometheus.DefBuckets,
})
