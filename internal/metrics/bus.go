// SPDX-License-Identifier: MIT

// Package metrics exposes the daemon's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodub_bus_dropped_total",
		Help: "Total number of bus message drops by channel and reason",
	}, []string{"channel", "reason"})

	BusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodub_bus_published_total",
		Help: "Total number of bus messages published by channel",
	}, []string{"channel"})
)

// IncBusDrop records a dropped bus message with a concrete reason.
func IncBusDrop(channel, reason string) {
	if channel == "" {
		channel = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	BusDroppedTotal.WithLabelValues(channel, reason).Inc()
}
