// Package metrics holds the Prometheus instruments scraped externally. All
// collectors are registered with the global registry at init time, so
// importing this package is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Labels groups the two label values every instrument here is keyed by.
type Labels struct {
	Deployment string
	Function   string
}

var (
	Requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lagon_requests",
			Help: "Total number of requests dispatched to a deployment.",
		},
		[]string{"deployment", "function"},
	)

	BytesIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lagon_bytes_in",
			Help: "Total request body bytes received.",
		},
		[]string{"deployment", "function"},
	)

	BytesOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lagon_bytes_out",
			Help: "Total response body bytes sent.",
		},
		[]string{"deployment", "function"},
	)

	IsolateCPUTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lagon_isolate_cpu_time",
			Help:    "CPU time consumed per isolate run, in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"deployment", "function"},
	)

	IsolateMemoryUsage = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lagon_isolate_memory_usage",
			Help:    "Peak memory usage per isolate run, in bytes.",
			Buckets: prometheus.ExponentialBuckets(1<<16, 2, 14),
		},
		[]string{"deployment", "function"},
	)
)

func init() {
	prometheus.MustRegister(
		Requests,
		BytesIn,
		BytesOut,
		IsolateCPUTime,
		IsolateMemoryUsage,
	)
}
