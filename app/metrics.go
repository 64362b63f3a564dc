// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package app

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/obolnetwork/lockreward/app/promauto"
	"github.com/obolnetwork/lockreward/app/version"
)

var (
	versionGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "app",
		Name:      "version",
		Help:      "Constant gauge with label set to current app version",
	}, []string{"version"})

	startGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "app",
		Name:      "start_time_secs",
		Help:      "Gauge set to the app start time of the binary in unix seconds",
	})

	readyzGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "app",
		Name:      "monitoring_readyz",
		Help:      "Set to 1 if the node is ready, 0 otherwise",
	})
)

func initStartupMetrics() {
	versionGauge.WithLabelValues(version.Version.String()).Set(1)
	startGauge.SetToCurrentTime()
}
