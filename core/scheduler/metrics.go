// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/obolnetwork/lockreward/app/promauto"
)

var (
	heightGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "core",
		Subsystem: "scheduler",
		Name:      "current_height",
		Help:      "The last processed block height",
	})

	blockCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "core",
		Subsystem: "scheduler",
		Name:      "block_total",
		Help:      "The total count of processed blocks",
	})

	registryGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "core",
		Subsystem: "scheduler",
		Name:      "registry_records",
		Help:      "Number of node records by state (confirmed or staged)",
	}, []string{"state"})
)

func instrumentBlock(height int64, confirmed, staged int) {
	heightGauge.Set(float64(height))
	blockCounter.Inc()
	registryGauge.WithLabelValues("confirmed").Set(float64(confirmed))
	registryGauge.WithLabelValues("staged").Set(float64(staged))
}
