// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package lrex relays lock-reward protocol messages between connected peers.
package lrex

import (
	"context"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"golang.org/x/sync/errgroup"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/z"
	"github.com/obolnetwork/lockreward/core"
	"github.com/obolnetwork/lockreward/p2p"
)

const protocolID protocol.ID = "/lockreward/lrex/1.0.0"

var _ core.Exchange = (*Exchange)(nil)

// Protocols returns the supported protocols of this package in order of precedence.
func Protocols() []protocol.ID {
	return []protocol.ID{protocolID}
}

// New returns a new lock-reward message exchange sending with the send function.
func New(tcpNode host.Host, sendFunc p2p.SendFunc) *Exchange {
	ex := &Exchange{
		tcpNode:  tcpNode,
		sendFunc: sendFunc,
	}

	p2p.RegisterHandler("lrex", tcpNode, protocolID,
		func() any { return new(core.Message) },
		ex.handle,
	)

	return ex
}

// Exchange relays lock-reward messages to all connected peers.
type Exchange struct {
	tcpNode  host.Host
	sendFunc p2p.SendFunc
	subs     []func(context.Context, peer.ID, core.Message) error
}

func (e *Exchange) handle(ctx context.Context, from peer.ID, req any) (any, bool, error) {
	msg, ok := req.(*core.Message)
	if !ok || msg == nil {
		return nil, false, errors.New("invalid lock-reward message")
	}

	for _, sub := range e.subs {
		if err := sub(ctx, from, *msg); err != nil {
			return nil, false, err
		}
	}

	return nil, false, nil
}

// Broadcast sends the message to all connected peers.
func (e *Exchange) Broadcast(ctx context.Context, msg core.Message) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, p := range e.tcpNode.Network().Peers() {
		eg.Go(func() error {
			if err := e.sendFunc(ctx, e.tcpNode, protocolID, p, msg); err != nil {
				return errors.Wrap(err, "send lock-reward message", z.Str("peer", p2p.PeerName(p)))
			}

			return nil
		})
	}

	return eg.Wait()
}

// Subscribe registers a callback for messages received from peers.
// It is not thread safe and must be called before starting the host.
func (e *Exchange) Subscribe(fn func(context.Context, peer.ID, core.Message) error) {
	e.subs = append(e.subs, fn)
}
