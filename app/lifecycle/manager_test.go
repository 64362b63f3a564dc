// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package lifecycle_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/lifecycle"
)

func TestManagerOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	record := func(label string) lifecycle.HookFuncMin {
		return func() {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, label)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := new(lifecycle.Manager)
	m.RegisterStart(lifecycle.SyncBackground, lifecycle.StartScheduler, lifecycle.HookFuncMin(func() {
		record("start scheduler")()
		cancel()
	}))
	m.RegisterStart(lifecycle.SyncBackground, lifecycle.StartSnapshotLoad, record("start snapshot"))
	m.RegisterStart(lifecycle.SyncBackground, lifecycle.StartEngine, record("start engine"))
	m.RegisterStop(lifecycle.StopSnapshotSave, record("stop snapshot"))
	m.RegisterStop(lifecycle.StopScheduler, record("stop scheduler"))

	require.NoError(t, m.Run(ctx))
	require.Equal(t, []string{
		"start snapshot",
		"start engine",
		"start scheduler",
		"stop scheduler",
		"stop snapshot",
	}, calls)
}

func TestManagerStartError(t *testing.T) {
	m := &lifecycle.Manager{StopTimeout: time.Second}

	var stopped bool
	m.RegisterStart(lifecycle.SyncBackground, lifecycle.StartEngine, lifecycle.HookFuncErr(func() error {
		return errors.New("boom")
	}))
	m.RegisterStop(lifecycle.StopEngine, lifecycle.HookFuncMin(func() { stopped = true }))

	err := m.Run(context.Background())
	require.ErrorContains(t, err, "boom")
	require.True(t, stopped)
}

func TestRegisterAfterStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := new(lifecycle.Manager)
	require.NoError(t, m.Run(ctx))

	require.Panics(t, func() {
		m.RegisterStop(lifecycle.StopEngine, lifecycle.HookFuncMin(func() {}))
	})
}
