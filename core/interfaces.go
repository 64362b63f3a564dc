// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package core

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Chain provides read access to the base chain.
type Chain interface {
	// TipHeight returns the height of the best block.
	TipHeight(ctx context.Context) (int64, error)

	// BlockByHeight returns the block at the height with resolved input scripts.
	BlockByHeight(ctx context.Context, height int64) (Block, error)
}

// MetadataDirectory resolves node metadata by metadata id.
type MetadataDirectory interface {
	// Lookup returns the metadata or ErrNotFound.
	Lookup(id string) (Meta, error)
}

// Scheduler notifies subscribers of new block tips after the registry and statements were updated.
type Scheduler interface {
	// Subscribe registers a callback for new tip heights.
	Subscribe(func(ctx context.Context, height int64) error)
}

// LockReward is the lock-reward protocol engine.
type LockReward interface {
	// OnNewBlock drives protocol step 0 for the new tip.
	OnNewBlock(ctx context.Context, height int64) error

	// HandleMessage processes a relayed protocol message received from a peer.
	HandleMessage(ctx context.Context, from peer.ID, msg Message) error

	// ReplyVerify answers a liveness challenge addressed to this node.
	ReplyVerify(ctx context.Context, from peer.ID, req VerifyRequest) (VerifyRequest, error)

	// Subscribe registers a callback for messages to broadcast.
	Subscribe(func(ctx context.Context, msg Message) error)

	// SubscribeRegistration registers a callback for aggregated registrations.
	SubscribeRegistration(func(ctx context.Context, reg Registration) error)
}

// Exchange relays protocol messages between peers.
type Exchange interface {
	// Broadcast sends the message to all peers.
	Broadcast(ctx context.Context, msg Message) error

	// Subscribe registers a callback for messages received from peers.
	Subscribe(func(ctx context.Context, from peer.ID, msg Message) error)
}

// LivenessServer answers liveness challenges from quorum members.
type LivenessServer interface {
	// RegisterReplier registers the function replying to challenges.
	RegisterReplier(func(ctx context.Context, from peer.ID, req VerifyRequest) (VerifyRequest, error))
}

// Verifier challenges a candidate over a direct connection.
type Verifier interface {
	// Verify sends the challenge to the node at addr and returns the signed reply.
	Verify(ctx context.Context, pubkey []byte, addr string, req VerifyRequest) (VerifyRequest, error)
}

// Registrar embeds registrations on chain.
type Registrar interface {
	Register(ctx context.Context, reg Registration) error
}

// Penalizer records peer misbehaviour.
type Penalizer interface {
	Misbehaving(ctx context.Context, p peer.ID, score int, reason string)
}

// wireFuncs defines the workflow components as a list of input and output functions
// instead of interfaces, since functions are easier to wrap than interfaces.
type wireFuncs struct {
	SchedulerSubscribe            func(func(context.Context, int64) error)
	LockRewardOnNewBlock          func(context.Context, int64) error
	LockRewardHandleMessage       func(context.Context, peer.ID, Message) error
	LockRewardReplyVerify         func(context.Context, peer.ID, VerifyRequest) (VerifyRequest, error)
	LockRewardSubscribe           func(func(context.Context, Message) error)
	LockRewardSubscribeRegister   func(func(context.Context, Registration) error)
	ExchangeBroadcast             func(context.Context, Message) error
	ExchangeSubscribe             func(func(context.Context, peer.ID, Message) error)
	LivenessServerRegisterReplier func(func(context.Context, peer.ID, VerifyRequest) (VerifyRequest, error))
	RegistrarRegister             func(context.Context, Registration) error
}

// WireOption defines a functional option to configure wiring.
type WireOption func(*wireFuncs)

// Wire wires the workflow components together.
func Wire(sched Scheduler,
	engine LockReward,
	ex Exchange,
	live LivenessServer,
	registrar Registrar,
	opts ...WireOption,
) {
	w := wireFuncs{
		SchedulerSubscribe:            sched.Subscribe,
		LockRewardOnNewBlock:          engine.OnNewBlock,
		LockRewardHandleMessage:       engine.HandleMessage,
		LockRewardReplyVerify:         engine.ReplyVerify,
		LockRewardSubscribe:           engine.Subscribe,
		LockRewardSubscribeRegister:   engine.SubscribeRegistration,
		ExchangeBroadcast:             ex.Broadcast,
		ExchangeSubscribe:             ex.Subscribe,
		LivenessServerRegisterReplier: live.RegisterReplier,
		RegistrarRegister:             registrar.Register,
	}

	for _, opt := range opts {
		opt(&w)
	}

	w.SchedulerSubscribe(w.LockRewardOnNewBlock)
	w.ExchangeSubscribe(w.LockRewardHandleMessage)
	w.LockRewardSubscribe(w.ExchangeBroadcast)
	w.LockRewardSubscribeRegister(w.RegistrarRegister)
	w.LivenessServerRegisterReplier(w.LockRewardReplyVerify)
}

// WithTracing returns a wire option that wraps the block and message handlers with tracing spans.
func WithTracing() WireOption {
	return func(w *wireFuncs) {
		onNewBlock := w.LockRewardOnNewBlock
		w.LockRewardOnNewBlock = func(ctx context.Context, height int64) error {
			ctx, span := StartBlockSpan(ctx, "core/lockreward.OnNewBlock", height)
			defer span.End()

			return onNewBlock(ctx, height)
		}

		handle := w.LockRewardHandleMessage
		w.LockRewardHandleMessage = func(ctx context.Context, from peer.ID, msg Message) error {
			ctx, span := StartMsgSpan(ctx, "core/lockreward.HandleMessage", msg)
			defer span.End()

			return handle(ctx, from, msg)
		}
	}
}
