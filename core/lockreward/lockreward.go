// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package lockreward implements the lock-reward protocol engine. A reward candidate requests
// attestation of its liveness from the score elected quorum of its reward height. Quorum members
// challenge the candidate and commit nonces, the candidate forms signer groups, signers return
// partial Schnorr signatures and the candidate aggregates them into an on-chain registration.
package lockreward

import (
	"context"
	"math/rand"
	"sync"
	"time"

	k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/sync/errgroup"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/k1util"
	"github.com/obolnetwork/lockreward/app/log"
	"github.com/obolnetwork/lockreward/app/z"
	"github.com/obolnetwork/lockreward/core"
)

const (
	defaultQueueSize     = 1024
	defaultVerifyTimeout = 5 * time.Second
)

var _ core.LockReward = (*Engine)(nil)

// Statement resolves reward candidates and this node's candidacy schedule.
type Statement interface {
	Resolve(height int64, tier core.Tier) (core.NodeRecord, bool)
	NextRewardHeight(op core.Outpoint, tip int64) int64
}

// Store is the replay window store.
type Store interface {
	Has(hash core.Hash) bool
	AddRequest(req core.LockRewardRequest) bool
	Request(hash core.Hash) (core.LockRewardRequest, bool)
	AddCommitment(c core.Commitment) bool
	CommitmentFor(requestHash core.Hash, signer core.Outpoint) (core.Commitment, bool)
	AddGroup(g core.GroupSigners) bool
	Group(hash core.Hash) (core.GroupSigners, bool)
	AddPartial(p core.PartialSignature) bool
	AddMySigner(c core.Commitment) bool
	MySigners(requestHash core.Hash) []core.Commitment
	ClearMySigners()
	AddMyPartial(p core.PartialSignature) bool
	MyPartials(groupHash core.Hash) []core.PartialSignature
	ClearMyPartials()
	MarkRegistered(rewardHeight int64) bool
	Prune(ctx context.Context, tip, limit int64) int
}

// Dialer connects to quorum members ahead of the protocol run.
type Dialer interface {
	Dial(ctx context.Context, pubkey []byte, addr string) error
}

// Config is the engine configuration.
type Config struct {
	Params core.Params
	// Key is this node's metadata key signing protocol messages.
	Key *k1.PrivateKey
	// Self is this node's outpoint. Zero disables candidacy and quorum participation.
	Self core.Outpoint

	Registry  Registry
	Statement Statement
	Scorer    Scorer
	Directory Directory
	Store     Store
	Verifier  core.Verifier
	Dialer    Dialer
	Penalizer core.Penalizer

	// VerifyTimeout bounds each liveness challenge.
	VerifyTimeout time.Duration
	// QueueSize is the size of the inbound queue.
	QueueSize int
}

// nonceSecret is a one time nonce committed to a request.
type nonceSecret struct {
	Key          *k1.PrivateKey
	RewardHeight int64
}

// New returns a new lock-reward engine.
func New(config Config) (*Engine, error) {
	if err := config.Params.Verify(); err != nil {
		return nil, err
	} else if config.Key == nil {
		return nil, errors.New("missing key")
	} else if config.Registry == nil || config.Statement == nil || config.Scorer == nil ||
		config.Directory == nil || config.Store == nil || config.Verifier == nil {
		return nil, errors.New("missing dependency")
	}

	if config.VerifyTimeout == 0 {
		config.VerifyTimeout = defaultVerifyTimeout
	}
	if config.QueueSize == 0 {
		config.QueueSize = defaultQueueSize
	}

	return &Engine{
		config:  config,
		params:  config.Params,
		checker: NewChecker(config.Params, config.Registry, config.Scorer, config.Directory),
		queue:   make(chan func(context.Context), config.QueueSize),
		nonces:  make(map[core.Hash]nonceSecret),
		signed:  make(map[core.Hash]bool),
		pending: make(map[core.Hash]core.GroupSigners),
		bad:     make(map[core.Outpoint]bool),
	}, nil
}

// Engine is the lock-reward protocol engine. All protocol state is owned by the Run goroutine
// which serially consumes block tips and inbound messages.
type Engine struct {
	config  Config
	params  core.Params
	checker *Checker
	queue   chan func(context.Context)
	subs    []func(context.Context, core.Message) error
	regSubs []func(context.Context, core.Registration) error
	wg      sync.WaitGroup

	mu      sync.Mutex
	tip     int64
	current *core.LockRewardRequest
	groups  int
	nonces  map[core.Hash]nonceSecret
	signed  map[core.Hash]bool
	pending map[core.Hash]core.GroupSigners
	bad     map[core.Outpoint]bool
}

// Subscribe registers a callback for messages to broadcast.
// It is not thread safe and must be called before Run.
func (e *Engine) Subscribe(fn func(context.Context, core.Message) error) {
	e.subs = append(e.subs, fn)
}

// SubscribeRegistration registers a callback for aggregated registrations.
// It is not thread safe and must be called before Run.
func (e *Engine) SubscribeRegistration(fn func(context.Context, core.Registration) error) {
	e.regSubs = append(e.regSubs, fn)
}

// Run consumes the inbound queue until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ctx = log.WithTopic(ctx, "lockreward")
	defer e.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-e.queue:
			e.mu.Lock()
			fn(ctx)
			e.mu.Unlock()
		}
	}
}

// OnNewBlock enqueues the new tip. It blocks if the queue is full.
func (e *Engine) OnNewBlock(ctx context.Context, height int64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case e.queue <- func(ctx context.Context) { e.processBlock(ctx, height) }:
		return nil
	}
}

// Exec runs fn on the engine goroutine, serialized with block tips and inbound messages, and
// waits for it to return. It blocks if the queue is full.
func (e *Engine) Exec(ctx context.Context, fn func(context.Context)) error {
	done := make(chan struct{})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case e.queue <- func(ctx context.Context) { fn(ctx); close(done) }:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// HandleMessage enqueues a message received from a peer. Structurally invalid messages are
// rejected immediately. Messages are dropped if the queue is full.
func (e *Engine) HandleMessage(ctx context.Context, from peer.ID, msg core.Message) error {
	if err := msg.Verify(); err != nil {
		e.penalize(ctx, from, dosMalformed, err)
		return err
	}

	select {
	case e.queue <- func(ctx context.Context) { e.handle(ctx, from, msg) }:
		return nil
	default:
		droppedCounter.Inc()
		return errors.New("lock-reward queue full")
	}
}

// ReplyVerify signs a liveness challenge addressed to this node.
func (e *Engine) ReplyVerify(_ context.Context, _ peer.ID, req core.VerifyRequest) (core.VerifyRequest, error) {
	if e.config.Self.IsZero() || req.Candidate != e.config.Self {
		return core.VerifyRequest{}, errors.New("challenge not addressed to this node")
	}

	if err := e.verifySig(req.Verifier, req.RewardHeight, req.ChallengeRoot(), req.Sig1); err != nil {
		return core.VerifyRequest{}, err
	}

	root := req.ReplyRoot()
	sig, err := k1util.Sign(e.config.Key, root[:])
	if err != nil {
		return core.VerifyRequest{}, err
	}
	req.Sig2 = sig

	return req, nil
}

// Tip returns the last processed tip.
func (e *Engine) Tip() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.tip
}

// processBlock is protocol step 0: issue or re-issue this node's request.
func (e *Engine) processBlock(ctx context.Context, tip int64) {
	ctx = log.WithCtx(ctx, z.I64("tip", tip))
	e.tip = tip
	e.prune(ctx, tip)

	if e.config.Self.IsZero() {
		return
	}

	reward := e.config.Statement.NextRewardHeight(e.config.Self, tip)
	if reward == 0 || reward < tip+e.params.LockLoop {
		e.clearRequest()
		return
	}

	rec, ok := e.config.Registry.Get(e.config.Self)
	if !ok {
		e.clearRequest()
		return
	} else if !e.canSign(reward) {
		log.Debug(ctx, "Metadata key not usable at reward height, skipping candidacy", z.I64("reward_height", reward))
		e.clearRequest()

		return
	}

	req := core.LockRewardRequest{
		RewardHeight: reward,
		Candidate:    e.config.Self,
		Tier:         rec.Tier,
		Loop:         e.params.LockDepth/(reward-tip) - 1,
	}

	sig, err := e.sign(req.Hash())
	if err != nil {
		log.Error(ctx, "Sign lock-reward request", err)
		return
	}
	req.Sig = sig

	if !e.config.Store.AddRequest(req) {
		return // Already issued.
	}

	ctx = log.WithCtx(ctx, z.I64("reward_height", reward), z.I64("loop", req.Loop))
	log.Info(ctx, "Requesting lock-reward")

	e.current = &req
	e.groups = 0
	e.bad = make(map[core.Outpoint]bool)
	e.config.Store.ClearMySigners()
	if req.Loop == 0 {
		e.config.Store.ClearMyPartials()
	}

	e.dialQuorum(ctx, req)
	e.broadcast(ctx, core.NewRequestMsg(req))
	e.participate(ctx, req)
}

// clearRequest drops this node's request state.
func (e *Engine) clearRequest() {
	e.current = nil
	e.groups = 0
	e.config.Store.ClearMySigners()
	e.config.Store.ClearMyPartials()
}

// prune drops protocol state of reward heights behind the replay window.
func (e *Engine) prune(ctx context.Context, tip int64) {
	e.config.Store.Prune(ctx, tip, e.params.WindowLimit)

	cutoff := tip - e.params.WindowLimit
	for hash, nonce := range e.nonces {
		if nonce.RewardHeight < cutoff {
			delete(e.nonces, hash)
			delete(e.signed, hash)
		}
	}

	for hash, g := range e.pending {
		if g.RewardHeight < cutoff {
			delete(e.pending, hash)
		}
	}
}

// dialQuorum connects to the top scored quorum members in the background.
// Members that fail are not dialled again for the same request.
func (e *Engine) dialQuorum(ctx context.Context, req core.LockRewardRequest) {
	if e.config.Dialer == nil {
		return
	}

	top, err := e.config.Scorer.TopN(e.params.QuorumTier, req.RewardHeight, e.params.QuorumTop)
	if err != nil {
		log.Debug(ctx, "Quorum not resolvable for dialling", z.Err(err))
		return
	}

	type target struct {
		Outpoint core.Outpoint
		Meta     core.Meta
	}
	var targets []target
	for _, rec := range top {
		if rec.Outpoint == e.config.Self || e.bad[rec.Outpoint] {
			continue
		}

		meta, err := e.config.Directory.Lookup(rec.MetadataID)
		if err != nil {
			continue
		}
		targets = append(targets, target{Outpoint: rec.Outpoint, Meta: meta})
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		var eg errgroup.Group
		for _, t := range targets {
			eg.Go(func() error {
				ctx, cancel := context.WithTimeout(ctx, e.config.VerifyTimeout)
				defer cancel()

				if err := e.config.Dialer.Dial(ctx, t.Meta.PubKey, t.Meta.Addr); err != nil {
					e.mu.Lock()
					e.bad[t.Outpoint] = true
					e.mu.Unlock()
					log.Debug(ctx, "Dialling quorum member failed", z.Str("signer", t.Outpoint.String()), z.Err(err))
				}

				return nil
			})
		}
		_ = eg.Wait()
	}()
}

// handle dispatches a queued message and penalizes its sender if rejected.
func (e *Engine) handle(ctx context.Context, from peer.ID, msg core.Message) {
	hash := msg.Hash()
	if e.config.Store.Has(hash) {
		return
	}

	ctx = log.WithCtx(ctx, z.Str("type", msg.Type.String()), z.I64("reward_height", msg.RewardHeight()))

	var err error
	switch msg.Type {
	case core.MsgRequest:
		err = e.handleRequest(ctx, *msg.Request)
	case core.MsgCommitment:
		err = e.handleCommitment(ctx, *msg.Commitment)
	case core.MsgGroupSigners:
		err = e.handleGroup(ctx, *msg.Group)
	case core.MsgPartialSig:
		err = e.handlePartial(ctx, *msg.Partial)
	default:
		err = newDoS(dosMalformed, "invalid message type")
	}

	if err != nil {
		rejectCounter.WithLabelValues(msg.Type.String()).Inc()
		e.penalize(ctx, from, DoSScore(err), err)

		return
	}

	msgCounter.WithLabelValues(msg.Type.String()).Inc()
}

func (e *Engine) penalize(ctx context.Context, from peer.ID, score int, err error) {
	if score == 0 {
		log.Debug(ctx, "Dropped lock-reward message", z.Err(err))
		return
	}

	log.Warn(ctx, "Rejected lock-reward message", err, z.Int("dos", score), z.Str("peer", from.String()))
	if e.config.Penalizer != nil {
		e.config.Penalizer.Misbehaving(ctx, from, score, err.Error())
	}
}

// broadcast relays the message to all subscribers.
func (e *Engine) broadcast(ctx context.Context, msg core.Message) {
	for _, sub := range e.subs {
		if err := sub(ctx, msg); err != nil {
			log.Warn(ctx, "Broadcast lock-reward message", err, z.Str("type", msg.Type.String()))
		}
	}
}

func (e *Engine) sign(hash core.Hash) ([]byte, error) {
	return k1util.Sign(e.config.Key, hash[:])
}

// verifySig verifies the node's signature of the hash with its metadata key usable at the height.
func (e *Engine) verifySig(op core.Outpoint, height int64, hash core.Hash, sig []byte) error {
	rec, ok := e.config.Registry.Get(op)
	if !ok {
		return newDoS(dosBadSig, "unknown signer", z.Str("signer", op.String()))
	}

	pubkey, err := e.checker.signerKey(rec, height)
	if err != nil {
		return err
	}

	if ok, err := k1util.Verify65(pubkey, hash[:], sig); err != nil || !ok {
		return newDoS(dosBadSig, "invalid signature", z.Str("signer", op.String()))
	}

	return nil
}

// canSign returns true if this node's key is its metadata key usable at the height.
func (e *Engine) canSign(height int64) bool {
	rec, ok := e.config.Registry.Get(e.config.Self)
	if !ok {
		return false
	}

	pubkey, err := e.checker.signerKey(rec, height)

	return err == nil && pubkey.IsEqual(e.config.Key.PubKey())
}

// randomNonce returns a liveness challenge nonce.
func randomNonce() uint64 {
	return rand.Uint64() //nolint:gosec // Challenge freshness only.
}
