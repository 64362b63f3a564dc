// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package tracer_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/obolnetwork/lockreward/app/tracer"
)

func TestDefaultNoopTracer(_ *testing.T) {
	// This just shouldn't panic.
	ctx, span := tracer.Start(context.Background(), "core/scheduler.poll")
	defer span.End()

	onNewBlock(ctx)
}

func TestStdOutTracer(t *testing.T) {
	ctx := context.Background()

	var buf bytes.Buffer
	stop, err := tracer.Init(ctx, tracer.WithStdOut(&buf))
	require.NoError(t, err)

	var span trace.Span
	ctx, span = tracer.Start(ctx, "core/scheduler.poll")
	onNewBlock(ctx)
	span.End()

	require.NoError(t, stop(ctx))

	type spanJSON struct {
		Name        string
		SpanContext struct {
			TraceID string
		}
	}

	var inner, outer spanJSON
	d := json.NewDecoder(&buf)
	require.NoError(t, d.Decode(&inner))
	require.NoError(t, d.Decode(&outer))

	require.Equal(t, "core/lockreward.OnNewBlock", inner.Name)
	require.Equal(t, "core/scheduler.poll", outer.Name)
	require.Equal(t, outer.SpanContext.TraceID, inner.SpanContext.TraceID)
}

func TestRootedCtx(t *testing.T) {
	ctx := context.Background()

	stop, err := tracer.Init(ctx, tracer.WithStdOut(io.Discard))
	require.NoError(t, err)

	traceID := trace.TraceID{1, 2, 3}

	// Spans of separate messages of a reward height share the trace.
	_, span1 := tracer.Start(tracer.RootedCtx(ctx, traceID), "core/lockreward.HandleMessage")
	_, span2 := tracer.Start(tracer.RootedCtx(ctx, traceID), "core/lockreward.HandleMessage")
	span1.End()
	span2.End()

	require.Equal(t, traceID, span1.SpanContext().TraceID())
	require.Equal(t, traceID, span2.SpanContext().TraceID())
	require.NotEqual(t, span1.SpanContext().SpanID(), span2.SpanContext().SpanID())

	require.NoError(t, stop(ctx))
}

func onNewBlock(ctx context.Context) {
	var span trace.Span
	_, span = tracer.Start(ctx, "core/lockreward.OnNewBlock")
	defer span.End()
}

func TestOTLPOrNoop(t *testing.T) {
	ctx := context.Background()

	stop, err := tracer.Init(ctx, tracer.WithOTLPOrNoop(""))
	require.NoError(t, err)
	require.NoError(t, stop(ctx))
}
