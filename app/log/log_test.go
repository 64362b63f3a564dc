// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package log_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/log"
	"github.com/obolnetwork/lockreward/app/z"
)

func TestWithContext(t *testing.T) {
	buf := setup(t)

	ctx1 := context.Background()
	ctx2 := log.WithCtx(ctx1, z.Int("wrap2", 2))
	ctx3 := log.WithCtx(ctx2, z.Str("wrap3", "a"))

	log.Debug(ctx1, "msg1", z.Int("ctx1", 1))
	log.Info(ctx2, "msg2")
	log.Warn(ctx3, "msg3", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], `"ctx1": 1`)
	require.Contains(t, lines[1], `"wrap2": 2`)
	require.Contains(t, lines[2], `"wrap3": "a"`)
	require.Contains(t, lines[2], `"wrap2": 2`)
}

func TestFieldOverride(t *testing.T) {
	buf := setup(t)

	ctx := log.WithCtx(context.Background(), z.Str("peer", "ctx"))
	log.Info(ctx, "msg", z.Str("peer", "explicit"))

	require.Contains(t, buf.String(), "explicit")
	require.NotContains(t, buf.String(), "\"ctx\"")
}

func TestErrorWrap(t *testing.T) {
	buf := setup(t)

	err1 := errors.New("first", z.Int("one", 1))
	err2 := errors.Wrap(err1, "second", z.Int("two", 2))

	log.Error(context.Background(), "third", err2)

	out := buf.String()
	require.Contains(t, out, "third: second: first")
	require.Contains(t, out, `"one": 1`)
	require.Contains(t, out, `"two": 2`)
}

func TestErrorWrapOther(t *testing.T) {
	buf := setup(t)

	log.Error(context.Background(), "wrapped", io.EOF)

	require.Contains(t, buf.String(), "wrapped: EOF")
}

func TestTopic(t *testing.T) {
	buf := setup(t)

	ctx := log.WithTopic(context.Background(), "lockreward")
	log.Info(ctx, "msg")

	require.True(t, strings.Contains(buf.String(), "lockreward"))
}

func TestFilterAll(t *testing.T) {
	buf := setup(t)

	filter := log.Filter(log.WithFilterRateLimit(0), log.WithFilterBurst(0))
	log.Info(context.Background(), "dropped", filter)
	log.Info(context.Background(), "dropped", filter)

	require.Empty(t, buf.String())
}

func TestFilterDefault(t *testing.T) {
	buf := setup(t)

	filter := log.Filter()
	log.Info(context.Background(), "expect", filter)
	log.Info(context.Background(), "dropped", filter)

	require.Contains(t, buf.String(), "expect")
	require.NotContains(t, buf.String(), "dropped")
}

func TestLogfmt(t *testing.T) {
	var buf zaptest.Buffer
	log.InitLogfmtForT(t, &buf)

	log.Info(context.Background(), "structured", z.I64("reward_height", 41))

	require.Contains(t, buf.String(), "reward_height=41")
	require.Contains(t, buf.String(), "msg=structured")
}

// setup returns a buffer that logs are written to and stubs non-deterministic logging fields.
func setup(t *testing.T) *bytes.Buffer {
	t.Helper()

	var buf zaptest.Buffer

	log.InitLoggerForT(t, &buf, func(config *zapcore.EncoderConfig) {
		config.EncodeTime = func(time.Time, zapcore.PrimitiveArrayEncoder) {}
	})

	return &buf.Buffer
}
