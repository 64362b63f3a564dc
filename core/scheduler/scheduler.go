// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package scheduler polls the base chain and drives the registry, statements and
// lock-reward engine for every new block in order.
package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/log"
	"github.com/obolnetwork/lockreward/app/z"
	"github.com/obolnetwork/lockreward/core"
	"github.com/obolnetwork/lockreward/core/chain"
	"github.com/obolnetwork/lockreward/core/validator"
)

const defaultPollPeriod = 5 * time.Second

var _ core.Scheduler = (*Scheduler)(nil)

// Registry is the mutable node registry.
type Registry interface {
	Stage(rec core.NodeRecord) error
	Promote(tip, maxReorgDepth int64) []core.NodeRecord
	Expire(height int64) []core.NodeRecord
	MarkPaid(op core.Outpoint, height int64) error
	Len() (confirmed int, staged int)
}

// Statement extends the statements of a tier.
type Statement interface {
	Extend(ctx context.Context, tier core.Tier, chainHeight int64)
}

// HashRecorder records block hashes seeding quorum scores.
type HashRecorder interface {
	Record(height int64, hash core.Hash)
}

// Importer tracks registrations of blocks and resolves the payees of a height.
type Importer interface {
	ImportBlock(ctx context.Context, block core.Block) error
	Payees(ctx context.Context, height int64) ([]validator.Payee, error)
}

// Executor runs state updates on the goroutine owning the protocol state.
type Executor interface {
	Exec(ctx context.Context, fn func(context.Context)) error
}

// Config is the scheduler configuration.
type Config struct {
	Params    core.Params
	Chain     core.Chain
	Registry  Registry
	Statement Statement
	Hashes    HashRecorder
	Importer  Importer
	// Executor serializes registry and statement updates with the lock-reward engine.
	// Nil applies them on the Run goroutine.
	Executor Executor
	// StartHeight is the last processed height, blocks after it are processed.
	StartHeight int64
	// PollPeriod is the tip polling period.
	PollPeriod time.Duration
}

// NewForT returns a new scheduler for testing supporting a fake clock.
func NewForT(t *testing.T, clock clockwork.Clock, config Config) *Scheduler {
	t.Helper()

	s := New(config)
	s.clock = clock

	return s
}

// New returns a new scheduler.
func New(config Config) *Scheduler {
	if config.PollPeriod == 0 {
		config.PollPeriod = defaultPollPeriod
	}

	s := &Scheduler{
		config: config,
		clock:  clockwork.NewRealClock(),
	}
	s.height.Store(config.StartHeight)

	return s
}

// Scheduler polls the chain tip and processes new blocks.
type Scheduler struct {
	config Config
	clock  clockwork.Clock
	subs   []func(context.Context, int64) error

	// height is the last processed height, only written by the Run goroutine.
	height atomic.Int64
}

// Subscribe registers a callback for new tip heights.
// Note this should be called *before* Run.
func (s *Scheduler) Subscribe(fn func(context.Context, int64) error) {
	s.subs = append(s.subs, fn)
}

// Run blocks and polls the chain until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx = log.WithTopic(ctx, "sched")

	ticker := s.clock.NewTicker(s.config.PollPeriod)
	defer ticker.Stop()

	for {
		if err := s.poll(ctx); err != nil && ctx.Err() == nil {
			log.Warn(ctx, "Polling chain tip failed", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}
	}
}

// Height returns the last processed height.
func (s *Scheduler) Height() int64 {
	return s.height.Load()
}

// poll processes all blocks up to the chain tip.
func (s *Scheduler) poll(ctx context.Context) error {
	tip, err := s.config.Chain.TipHeight(ctx)
	if err != nil {
		return err
	}

	for h := s.height.Load() + 1; h <= tip; h++ {
		block, err := s.config.Chain.BlockByHeight(ctx, h)
		if err != nil {
			return err
		}

		if err := s.processBlock(log.WithCtx(ctx, z.I64("height", h)), block); err != nil {
			return err
		}
		s.height.Store(h)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return nil
}

// processBlock applies the block to the registry and statements and notifies subscribers.
func (s *Scheduler) processBlock(ctx context.Context, block core.Block) error {
	log.Debug(ctx, "Processing block", z.Int("txs", len(block.Txs)))

	errCh := make(chan error, 1)
	update := func(context.Context) {
		errCh <- s.applyBlock(ctx, block)
	}

	if s.config.Executor == nil {
		update(ctx)
	} else if err := s.config.Executor.Exec(ctx, update); err != nil {
		return err
	}

	if err := <-errCh; err != nil {
		return err
	}

	confirmed, staged := s.config.Registry.Len()
	instrumentBlock(block.Height, confirmed, staged)

	for _, sub := range s.subs {
		if err := sub(ctx, block.Height); err != nil {
			log.Warn(ctx, "New block subscriber failed", err)
		}
	}

	return nil
}

// applyBlock promotes, stages and expires node records, extends the statements and
// marks paid candidates.
func (s *Scheduler) applyBlock(ctx context.Context, block core.Block) error {
	params := s.config.Params
	height := block.Height

	s.config.Hashes.Record(height, block.Hash)

	for _, rec := range s.config.Registry.Promote(height, params.MaxReorgDepth) {
		log.Info(ctx, "Node registration confirmed", z.Str("outpoint", rec.Outpoint.String()), z.Any("tier", rec.Tier))
	}

	for _, rec := range chain.ExtractNodeRecords(params, block) {
		if err := s.config.Registry.Stage(rec); err != nil {
			log.Warn(ctx, "Invalid node registration", err)
			continue
		}
		log.Debug(ctx, "Node registration staged", z.Str("outpoint", rec.Outpoint.String()))
	}

	for _, rec := range s.config.Registry.Expire(height) {
		log.Info(ctx, "Node expired", z.Str("outpoint", rec.Outpoint.String()), z.Any("tier", rec.Tier))
	}

	if err := s.config.Importer.ImportBlock(ctx, block); err != nil {
		return errors.Wrap(err, "import block")
	}

	for _, tier := range core.AllTiers() {
		s.config.Statement.Extend(ctx, tier, height)
	}

	s.markPaid(ctx, height)

	return nil
}

// markPaid records the payment of candidates with valid registrations at the height.
func (s *Scheduler) markPaid(ctx context.Context, height int64) {
	payees, err := s.config.Importer.Payees(ctx, height)
	if err != nil {
		log.Warn(ctx, "Resolve payees failed", err)
		return
	}

	for _, payee := range payees {
		if !payee.Paid {
			continue
		}

		if err := s.config.Registry.MarkPaid(payee.Candidate.Outpoint, height); err != nil {
			log.Warn(ctx, "Mark node paid failed", err)
		}
	}
}
