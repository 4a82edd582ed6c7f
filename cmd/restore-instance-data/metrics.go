package main

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const pushJob = "restore_instance_data"

// pushMetrics sends the run's counters to a Prometheus Pushgateway.
func pushMetrics(url, instance, runID string) error {
	err := push.New(url, pushJob).
		Gatherer(prometheus.DefaultGatherer).
		Grouping("instance", instance).
		Grouping("run_id", runID).
		Push()
	return errors.Wrap(err, "push metrics")
}
