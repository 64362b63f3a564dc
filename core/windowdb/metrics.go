// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package windowdb

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/obolnetwork/lockreward/app/promauto"
)

var sizeGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "core",
	Subsystem: "windowdb",
	Name:      "entries",
	Help:      "Number of stored lock-reward entries by kind",
}, []string{"kind"})
