// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package lifecycle provides a life cycle manager abstracting the starting and stopping
// of processes by registered start or stop hooks.
//
// Supported features:
//   - Start hooks are called synchronously or asynchronously.
//   - Start hooks use the application context (hard shutdown) or a background context (graceful shutdown).
//   - Stop hooks are synchronous and use a shutdown context with a timeout.
//   - Start and stop hooks are ordered.
//   - Any error from a start hook or closing the application context triggers graceful shutdown.
//   - Any error from a stop hook triggers hard shutdown.
package lifecycle

import (
	"context"
	"sort"
	"sync"
	"time"
)

const defaultStopTimeout = 10 * time.Second

// Manager manages process life cycle by registered start and stop hooks.
// The zero value is ready to use.
type Manager struct {
	// StopTimeout overrides the default 10s graceful shutdown timeout if non-zero.
	StopTimeout time.Duration

	mu         sync.Mutex
	started    bool
	startHooks []hook
	stopHooks  []hook
}

// RegisterStart registers a start hook. The type defines whether it is sync or async and which context is used.
// The order defines the order in which hooks are called.
func (m *Manager) RegisterStart(typ HookStartType, order OrderStart, fn IHookFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		panic("cycle already started")
	}

	m.startHooks = append(m.startHooks, hook{
		Label:     order.String(),
		Order:     int(order),
		StartType: typ,
		Func:      fn,
	})
}

// RegisterStop registers a synchronous stop hook that will be called with the shutdown context that may timeout.
func (m *Manager) RegisterStop(order OrderStop, fn IHookFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		panic("cycle already started")
	}

	m.stopHooks = append(m.stopHooks, hook{
		Label: order.String(),
		Order: int(order),
		Func:  fn,
	})
}

// Run the lifecycle; start all hooks, wait for shutdown, stop all hooks.
func (m *Manager) Run(appCtx context.Context) error {
	m.mu.Lock()
	m.started = true
	startHooks := append([]hook(nil), m.startHooks...)
	stopHooks := append([]hook(nil), m.stopHooks...)
	m.mu.Unlock()

	sort.SliceStable(startHooks, func(i, j int) bool {
		return startHooks[i].Order < startHooks[j].Order
	})
	sort.SliceStable(stopHooks, func(i, j int) bool {
		return stopHooks[i].Order < stopHooks[j].Order
	})

	timeout := m.StopTimeout
	if timeout == 0 {
		timeout = defaultStopTimeout
	}

	return runHooks(appCtx, startHooks, stopHooks, timeout)
}
