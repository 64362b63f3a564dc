// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package lifecycle

import (
	"bytes"
	"context"
	"runtime/pprof"
	"time"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/log"
	"github.com/obolnetwork/lockreward/app/z"
)

// IHookFunc is the life cycle hook function interface.
// Functions are usually wrapped by one of the adapter types below.
type IHookFunc interface {
	Call(context.Context) error
}

// HookFunc wraps a standard hook function (context and error) as a IHookFunc.
type HookFunc func(ctx context.Context) error

func (fn HookFunc) Call(ctx context.Context) error {
	return fn(ctx)
}

// HookFuncMin wraps a minimum (no context, no error) hook function as a IHookFunc.
type HookFuncMin func()

func (fn HookFuncMin) Call(context.Context) error {
	fn()
	return nil
}

// HookFuncErr wraps an error (no context) hook function as a IHookFunc.
type HookFuncErr func() error

func (fn HookFuncErr) Call(context.Context) error {
	return fn()
}

// HookFuncCtx wraps a context (no error) hook function as a IHookFunc.
type HookFuncCtx func(ctx context.Context)

func (fn HookFuncCtx) Call(ctx context.Context) error {
	fn(ctx)
	return nil
}

// HookStartType defines the type of start hook.
type HookStartType int

const (
	// AsyncAppCtx defines a start hook that will be called asynchronously (non-blocking)
	// with the application context. Using the application usually results in hard shutdown.
	AsyncAppCtx HookStartType = iota + 1

	// SyncBackground defines a start hook that will be called synchronously (blocking)
	// with a fresh background context. Processes that support graceful shutdown can
	// associate this with a call to RegisterStop.
	SyncBackground

	// AsyncBackground defines a start hook that will be called asynchronously (non-blocking)
	// with a fresh background context. Processes that support graceful shutdown can
	// associate this with a call to RegisterStop.
	AsyncBackground
)

// hook represents a life cycle hook; either a start or a stop.
type hook struct {
	// Order defines the order in which hooks are called.
	Order int
	// Label is a text label for errors and logging.
	Label string
	// StartType defines whether the start type is (a)synchronous and which context to use.
	StartType HookStartType
	// Func is the hook function.
	Func IHookFunc
}

// runner runs start and stop hooks, recording the first error.
type runner struct {
	firstErr chan error
	// cancelStart triggers shutdown when a start hook fails.
	cancelStart context.CancelFunc
}

// fail records the error if it is the first.
func (r *runner) fail(err error) {
	select {
	case r.firstErr <- err:
	default:
	}
}

// result returns the first recorded error or nil.
func (r *runner) result() error {
	r.fail(nil)
	return <-r.firstErr
}

// runHooks starts all start hooks, waits for the application context to close or a start hook to fail
// and then stops all stop hooks within the timeout.
func runHooks(appCtx context.Context, startHooks []hook, stopHooks []hook, stopTimeout time.Duration) error {
	// startCtx is cancelled on shutdown or when a start hook fails.
	startCtx, cancelStart := context.WithCancel(appCtx)
	defer cancelStart()

	r := &runner{firstErr: make(chan error, 1), cancelStart: cancelStart}

	// Background hooks are stopped explicitly by stop hooks, their context is never closed.
	bgCtx := log.WithTopic(context.Background(), "app-start")

	if err := r.startAll(startCtx, bgCtx, startHooks); err != nil {
		return err
	}

	<-startCtx.Done()

	if appCtx.Err() != nil {
		log.Info(appCtx, "Shutdown signal detected")
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), stopTimeout)
	defer cancelStop()

	stopCtx = log.WithTopic(stopCtx, "app-stop")
	log.Info(stopCtx, "Shutting down gracefully")

	r.stopAll(stopCtx, stopHooks, cancelStop)

	return r.result()
}

// startAll calls the start hooks in order, either inline or in a goroutine.
func (r *runner) startAll(startCtx, bgCtx context.Context, hooks []hook) error {
	for _, h := range hooks {
		if startCtx.Err() != nil {
			return nil //nolint:nilerr // Shutdown before all hooks started.
		}

		switch h.StartType {
		case AsyncAppCtx:
			go r.start(startCtx, h)
		case SyncBackground:
			r.start(bgCtx, h)
		case AsyncBackground:
			go r.start(bgCtx, h)
		default:
			return errors.New("unexpected hook type", z.Any("type", h.StartType))
		}
	}

	return nil
}

// start calls the start hook and blocks until it returns.
func (r *runner) start(ctx context.Context, h hook) {
	log.Debug(ctx, "Starting hook", z.Str("hook", h.Label))

	err := h.Func.Call(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		r.fail(errors.Wrap(err, "start hook", z.Str("hook", h.Label)))
		r.cancelStart()
	}
}

// stopAll calls the stop hooks in order until the stop context closes.
// A failing stop hook aborts the graceful stop.
func (r *runner) stopAll(stopCtx context.Context, hooks []hook, abort context.CancelFunc) {
	for _, h := range hooks {
		if stopCtx.Err() != nil {
			return
		}

		r.stop(stopCtx, h, abort)
	}
}

// stop calls the stop hook and blocks until it returns.
func (r *runner) stop(stopCtx context.Context, h hook, abort context.CancelFunc) {
	t0 := time.Now()
	err := h.Func.Call(stopCtx)

	switch {
	case errors.Is(stopCtx.Err(), context.DeadlineExceeded):
		r.fail(errors.New("shutdown timeout", z.Str("hook", h.Label), z.Str("stack_dump", goroutineDump())))
	case err != nil && !errors.Is(err, context.Canceled):
		r.fail(errors.Wrap(err, "stop hook", z.Str("hook", h.Label)))
		abort()
	default:
		log.Debug(stopCtx, "Stopped hook", z.Str("hook", h.Label), z.Any("duration", time.Since(t0)))
	}
}

// goroutineDump returns a stack dump of all goroutines.
func goroutineDump() string {
	var buf bytes.Buffer
	_ = pprof.Lookup("goroutine").WriteTo(&buf, 2)

	return buf.String()
}
