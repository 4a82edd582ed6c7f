package restore

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	recordsTotal   *prometheus.CounterVec
	lookupsTotal   *prometheus.CounterVec
	stageAttempted *prometheus.GaugeVec
	stageSucceeded *prometheus.GaugeVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		recordsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restore",
			Name:      "records_total",
			Help:      "Total number of restored records by entity kind and outcome.",
		}, []string{"kind", "outcome"}),
		lookupsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restore",
			Name:      "resolver_lookups_total",
			Help:      "Total number of remote lookups issued by the identity resolver.",
		}, []string{"kind", "result"}),
		stageAttempted: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "restore",
			Name:      "stage_attempted",
			Help:      "Records attempted by the last run of a stage.",
		}, []string{"stage"}),
		stageSucceeded: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "restore",
			Name:      "stage_succeeded",
			Help:      "Records restored by the last run of a stage.",
		}, []string{"stage"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
