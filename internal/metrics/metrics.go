// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "coursemail"

var (
	// Passes counts watcher passes by outcome (ok, failed, skipped).
	Passes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "passes_total",
		Help:      "number of mailbox passes by outcome",
	}, []string{"outcome"})

	// Messages counts messages seen by the materializer by action
	// (filtered, processed, created, duplicate, failed).
	Messages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_total",
		Help:      "number of unseen messages handled, by action",
	}, []string{"action"})

	ConnectionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connection_errors_total",
		Help:      "number of transport connection failures",
	})

	// WatcherState is 1 for the current state of each account's watcher and 0
	// for the others.
	WatcherState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "watcher_state",
		Help:      "current watcher state per account",
	}, []string{"account", "state"})

	PassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pass_duration_seconds",
		Help:      "wall time of a mailbox pass",
		Buckets:   prometheus.DefBuckets,
	})
)
