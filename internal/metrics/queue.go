// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vodub_queue_depth",
		Help: "Number of queue entries by queue and state",
	}, []string{"queue", "state"})

	QueueDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodub_queue_dispatched_total",
		Help: "Total number of queue entries dispatched to workers",
	}, []string{"queue"})

	QueueRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodub_queue_retries_total",
		Help: "Total number of delayed re-dispatches after transient worker errors",
	}, []string{"queue"})

	QueueExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodub_queue_exhausted_total",
		Help: "Total number of queue entries that ran out of attempts",
	}, []string{"queue"})
)
