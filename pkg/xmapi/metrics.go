package xmapi

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requestsTotal   *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restore",
			Name:      "api_requests_total",
			Help:      "Total number of requests sent to the target instance.",
		}, []string{"method", "status"}),
		retriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restore",
			Name:      "api_retries_total",
			Help:      "Total number of retries caused by transient statuses.",
		}, []string{"method", "status"}),
		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "restore",
			Name:      "api_request_duration_seconds",
			Help:      "Latency distribution for requests to the target instance.",
			Buckets: []float64{
				0.01, 0.02, 0.05,
				0.1, 0.2, 0.5,
				1, 2, 5, 10, 30,
			},
		}, []string{"method"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
