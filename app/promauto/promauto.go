// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package promauto wraps github.com/prometheus/client_golang/prometheus/promauto and
// caches every created collector so that NewRegistry can register them with runtime labels.
package promauto

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/obolnetwork/lockreward/app/errors"
)

// Collectors are created at package initialisation time, hence the globals.
var (
	mu      sync.Mutex
	metrics []prometheus.Collector
)

// NewRegistry returns a new registry containing all promauto created metrics and
// built-in Go process metrics, all wrapped with the provided labels.
func NewRegistry(labels prometheus.Labels) (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()

	registerer := prometheus.WrapRegistererWith(labels, registry)
	if err := registerer.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, errors.Wrap(err, "register process collector")
	}
	if err := registerer.Register(collectors.NewGoCollector()); err != nil {
		return nil, errors.Wrap(err, "register go collector")
	}

	mu.Lock()
	defer mu.Unlock()

	for _, metric := range metrics {
		if err := registerer.Register(metric); err != nil {
			return nil, errors.Wrap(err, "register metric")
		}
	}

	return registry, nil
}

func cacheMetric(metric prometheus.Collector) {
	mu.Lock()
	defer mu.Unlock()

	metrics = append(metrics, metric)
}

// NewGaugeVec creates and caches a new GaugeVec.
func NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	c := promauto.With(nil).NewGaugeVec(opts, labelNames)
	cacheMetric(c)

	return c
}

// NewGauge creates and caches a new Gauge.
func NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	c := promauto.With(nil).NewGauge(opts)
	cacheMetric(c)

	return c
}

// NewHistogramVec creates and caches a new HistogramVec.
func NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
	c := promauto.With(nil).NewHistogramVec(opts, labelNames)
	cacheMetric(c)

	return c
}

// NewCounterVec creates and caches a new CounterVec.
func NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	c := promauto.With(nil).NewCounterVec(opts, labelNames)
	cacheMetric(c)

	return c
}

// NewCounter creates and caches a new Counter.
func NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	c := promauto.With(nil).NewCounter(opts)
	cacheMetric(c)

	return c
}
