// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodub_job_transitions_total",
		Help: "Total number of job state transitions by from and to state",
	}, []string{"from", "to"})

	EventsPersistedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodub_events_persisted_total",
		Help: "Total number of event rows written by the aggregator",
	}, []string{"kind"})

	JobsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vodub_jobs_created_total",
		Help: "Total number of jobs accepted by the control API",
	})
)

// RecordTransition counts one state machine edge.
func RecordTransition(from, to string) {
	JobTransitionsTotal.WithLabelValues(from, to).Inc()
}
