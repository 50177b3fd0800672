// Package metrics holds the controller's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fleetscale"

// DesiredCapacity is the replica count the controller currently wants.
var DesiredCapacity = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "desired_capacity",
	Help:      "Desired replica count of the fleet",
})

// ScheduleFloor is the max of all active schedule floors.
var ScheduleFloor = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "schedule_floor",
	Help:      "Capacity floor imposed by active schedule rules",
})

// Utilization is the last accepted fleet utilization sample.
var Utilization = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "utilization_percent",
	Help:      "Last sampled mean CPU utilization of the fleet",
})

// Decisions counts reconciliations by trigger and outcome.
var Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "decisions_total",
	Help:      "Total number of reconciliations",
}, []string{"trigger", "outcome"})

// SamplesSkipped counts ticks that produced no sample.
var SamplesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "samples_skipped_total",
	Help:      "Total number of metric ticks skipped",
}, []string{"reason"})

// SinkErrors counts failed capacity applies after retries.
var SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "sink_errors_total",
	Help:      "Total number of failed capacity applies",
}, []string{"kind"})

// ScheduleFires counts schedule rule fires.
var ScheduleFires = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "schedule_fires_total",
	Help:      "Total number of schedule rule fires",
}, []string{"rule"})
