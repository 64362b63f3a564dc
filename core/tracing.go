// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package core

import (
	"context"
	"fmt"
	"hash/fnv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/obolnetwork/lockreward/app/tracer"
)

// StartRewardTrace returns a context and span rooted to the reward height traceID and wrapped in a reward span.
// All protocol messages of a reward height share the same trace.
func StartRewardTrace(ctx context.Context, rewardHeight int64, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	h := fnv.New128a()
	_, _ = h.Write([]byte(fmt.Sprintf("reward/%d", rewardHeight)))

	var traceID trace.TraceID
	copy(traceID[:], h.Sum(nil))

	var outerSpan, innerSpan trace.Span
	ctx, outerSpan = tracer.Start(tracer.RootedCtx(ctx, traceID), "core/reward")
	ctx, innerSpan = tracer.Start(ctx, spanName, opts...)

	outerSpan.SetAttributes(attribute.Int64("reward_height", rewardHeight))

	return ctx, withEndSpan{
		Span:    innerSpan,
		endFunc: func() { outerSpan.End() },
	}
}

// StartBlockSpan returns a span for processing of a new tip.
func StartBlockSpan(ctx context.Context, spanName string, height int64) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, spanName)
	span.SetAttributes(attribute.Int64("height", height))

	return ctx, span
}

// StartMsgSpan returns a span for a protocol message rooted to its reward trace.
func StartMsgSpan(ctx context.Context, spanName string, msg Message) (context.Context, trace.Span) {
	return StartRewardTrace(ctx, msg.RewardHeight(), spanName,
		trace.WithAttributes(attribute.String("msg_type", msg.Type.String())))
}

// withEndSpan wraps a trace span and calls endFunc when End is called.
type withEndSpan struct {
	trace.Span
	endFunc func()
}

func (s withEndSpan) End(options ...trace.SpanEndOption) {
	s.Span.End(options...)
	s.endFunc()
}
