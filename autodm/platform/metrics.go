package platform

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var apiCallCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "autodm_platform_api_calls",
	Help: "Number of platform API calls, by operation and result",
}, []string{"platform", "op", "result"})

var apiCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "autodm_platform_api_duration_sec",
	Help:    "Duration of platform API calls",
	Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
}, []string{"platform", "op"})
