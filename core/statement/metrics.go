// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package statement

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/obolnetwork/lockreward/app/promauto"
)

var (
	windowsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "core",
		Subsystem: "statement",
		Name:      "windows",
		Help:      "Number of statement windows by tier",
	}, []string{"tier"})

	windowSizeGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "core",
		Subsystem: "statement",
		Name:      "window_size",
		Help:      "Size of the current statement window by tier",
	}, []string{"tier"})

	revalidateCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "core",
		Subsystem: "statement",
		Name:      "revalidate_dropped_total",
		Help:      "Total number of statement truncations after registry updates by tier",
	}, []string{"tier"})
)
