// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubscriberClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vodub_subscriber_clients",
		Help: "Number of currently connected push clients",
	})

	PushDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodub_push_delivered_total",
		Help: "Total number of messages delivered to push clients by type",
	}, []string{"type"})

	PushDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vodub_push_dropped_total",
		Help: "Total number of messages dropped on slow push clients",
	})
)
