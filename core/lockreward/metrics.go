// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package lockreward

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/obolnetwork/lockreward/app/promauto"
)

var (
	msgCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "core",
		Subsystem: "lockreward",
		Name:      "messages_total",
		Help:      "Total number of accepted lock-reward messages by type",
	}, []string{"type"})

	rejectCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "core",
		Subsystem: "lockreward",
		Name:      "rejected_total",
		Help:      "Total number of rejected lock-reward messages by type",
	}, []string{"type"})

	droppedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "core",
		Subsystem: "lockreward",
		Name:      "queue_dropped_total",
		Help:      "Total number of messages dropped due to a full queue",
	})

	groupCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "core",
		Subsystem: "lockreward",
		Name:      "groups_total",
		Help:      "Total number of signer groups formed for own requests",
	})

	registrationCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "core",
		Subsystem: "lockreward",
		Name:      "registrations_total",
		Help:      "Total number of aggregated registrations",
	})

	livenessHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "core",
		Subsystem: "lockreward",
		Name:      "liveness_duration_seconds",
		Help:      "Duration of candidate liveness challenges by result",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"result"})
)
