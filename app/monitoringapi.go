// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/lifecycle"
	"github.com/obolnetwork/lockreward/app/log"
	"github.com/obolnetwork/lockreward/app/z"
	"github.com/obolnetwork/lockreward/core"
)

// maxSyncLag is the number of blocks the scheduler may lag the chain tip while ready.
const maxSyncLag = 1

var (
	errNotSynced    = errors.NewSentinel("scheduler not synced")
	errNoPeers      = errors.NewSentinel("no peers connected")
	errChainUnavail = errors.NewSentinel("chain tip unavailable")
)

// heightProvider returns the last processed height.
type heightProvider interface {
	Height() int64
}

// wireMonitoringAPI constructs the monitoring API and registers it with the life cycle manager.
// It serves prometheus metrics, liveness and readiness probes.
func wireMonitoringAPI(ctx context.Context, life *lifecycle.Manager, addr string, tcpNode host.Host,
	registry *prometheus.Registry, ready func(context.Context) error,
) {
	if addr == "" {
		log.Debug(ctx, "Monitoring API disabled")
		return
	}

	mux := mux.NewRouter()

	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(
		registry, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	))

	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		writeResponse(w, http.StatusOK, "ok")
	})

	mux.HandleFunc("/readyz", newReadyHandler(ready))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: time.Second,
	}

	log.Info(ctx, "Monitoring API started", z.Str("address", addr), z.Str("peer_id", tcpNode.ID().String()))

	life.RegisterStart(lifecycle.AsyncBackground, lifecycle.StartMonitoringAPI, httpServeHook(server.ListenAndServe))
	life.RegisterStop(lifecycle.StopMonitoringAPI, lifecycle.HookFunc(server.Shutdown))
}

// newReadyHandler returns a http.HandlerFunc which returns 200 when the node is ready
// and 503 with the reason otherwise.
func newReadyHandler(ready func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := ready(r.Context()); err != nil {
			readyzGauge.Set(0)
			writeResponse(w, http.StatusServiceUnavailable, err.Error())

			return
		}

		readyzGauge.Set(1)
		writeResponse(w, http.StatusOK, "ok")
	}
}

// readyChecker returns a function that returns nil if the scheduler processed the chain tip
// and at least one peer is connected when peers are configured.
func readyChecker(cl core.Chain, sched heightProvider, tcpNode host.Host, numPeers int) func(context.Context) error {
	return func(ctx context.Context) error {
		tip, err := cl.TipHeight(ctx)
		if err != nil {
			return errChainUnavail
		}

		if tip-sched.Height() > maxSyncLag {
			return errNotSynced
		}

		if numPeers > 0 && len(tcpNode.Network().Peers()) == 0 {
			return errNoPeers
		}

		return nil
	}
}

func writeResponse(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}
