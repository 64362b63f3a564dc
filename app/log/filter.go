// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package log

import (
	"math"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/obolnetwork/lockreward/app/z"
)

// FilterOption configures a log filter.
type FilterOption func(*filter)

// WithFilterRateLimit returns a filter option that rate limits logging by a per second limit.
func WithFilterRateLimit(limit rate.Limit) FilterOption {
	return func(f *filter) {
		f.limit = limit
	}
}

// WithFilterBurst returns a filter option allowing bursts of n logs.
func WithFilterBurst(n int) FilterOption {
	return func(f *filter) {
		f.burst = n
	}
}

type filter struct {
	limit rate.Limit
	burst int
}

func defaultFilter() filter {
	return filter{limit: rate.Every(time.Minute), burst: 1}
}

// Filter returns a stateful structured logging field that results in logs being dropped
// if the rate limit is exceeded. Peers flooding invalid protocol messages are the
// typical use, a filter per handler is created once and reused:
//
//	filter := log.Filter()
//	for msg := range msgs {
//	  log.Warn(ctx, "Dropping invalid commitment", err, filter)
//	}
func Filter(opts ...FilterOption) z.Field {
	f := defaultFilter()
	for _, opt := range opts {
		opt(&f)
	}

	limiter := rate.NewLimiter(f.limit, f.burst)

	return func(add func(zap.Field)) {
		if !limiter.Allow() {
			add(zap.Field{Type: filterFieldType})
		}
	}
}

// filterFieldType is a custom zap field type indicating the log should be dropped.
var filterFieldType = zapcore.FieldType(math.MaxUint8)
