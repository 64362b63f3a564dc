// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package app

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/obolnetwork/lockreward/app/log"
	"github.com/obolnetwork/lockreward/app/z"
	"github.com/obolnetwork/lockreward/core"
)

// registerTimeout bounds the retries of embedding a single registration.
const registerTimeout = 5 * time.Minute

// newRetryRegistrar returns a registrar that embeds registrations asynchronously,
// retrying failures with exponential backoff.
func newRetryRegistrar(registrar core.Registrar) *retryRegistrar {
	return &retryRegistrar{
		registrar: registrar,
		newBackoff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = registerTimeout

			return bo
		},
	}
}

type retryRegistrar struct {
	registrar  core.Registrar
	newBackoff func() backoff.BackOff
}

// Register starts embedding the registration and returns immediately.
func (r *retryRegistrar) Register(ctx context.Context, reg core.Registration) error {
	ctx = log.WithCtx(ctx, z.I64("reward_height", reg.RewardHeight))

	go func() {
		err := backoff.RetryNotify(
			func() error { return r.registrar.Register(ctx, reg) },
			backoff.WithContext(r.newBackoff(), ctx),
			func(err error, d time.Duration) {
				log.Warn(ctx, "Embedding registration failed, retrying", err, z.Any("backoff", d))
			},
		)
		if err != nil && ctx.Err() == nil {
			log.Error(ctx, "Embedding registration failed", err)
			return
		} else if err != nil {
			return
		}

		log.Info(ctx, "Registration embedded on chain", z.Str("registration", reg.String()))
	}()

	return nil
}
