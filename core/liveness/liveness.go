// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package liveness implements the direct connection liveness challenge of lock-reward candidates.
package liveness

import (
	"context"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/k1util"
	"github.com/obolnetwork/lockreward/app/z"
	"github.com/obolnetwork/lockreward/core"
	"github.com/obolnetwork/lockreward/p2p"
)

const protocolID protocol.ID = "/lockreward/liveness/1.0.0"

var (
	_ core.LivenessServer = Server{}
	_ core.Verifier       = (*Verifier)(nil)
)

// Protocols returns the supported protocols of this package in order of precedence.
func Protocols() []protocol.ID {
	return []protocol.ID{protocolID}
}

// NewServer returns a liveness server answering challenges on the host.
func NewServer(tcpNode host.Host) Server {
	return Server{tcpNode: tcpNode}
}

// Server answers liveness challenges.
type Server struct {
	tcpNode host.Host
}

// RegisterReplier registers the function replying to challenges.
func (s Server) RegisterReplier(fn func(context.Context, peer.ID, core.VerifyRequest) (core.VerifyRequest, error)) {
	p2p.RegisterHandler("liveness", s.tcpNode, protocolID,
		func() any { return new(core.VerifyRequest) },
		func(ctx context.Context, from peer.ID, req any) (any, bool, error) {
			challenge, ok := req.(*core.VerifyRequest)
			if !ok || challenge == nil {
				return nil, false, errors.New("invalid liveness challenge")
			}

			reply, err := fn(ctx, from, *challenge)
			if err != nil {
				return nil, false, err
			}

			return reply, true, nil
		},
	)
}

// NewVerifier returns a liveness verifier dialing from the host.
func NewVerifier(tcpNode host.Host) *Verifier {
	return &Verifier{tcpNode: tcpNode}
}

// Verifier challenges candidates over direct libp2p connections.
type Verifier struct {
	tcpNode host.Host
}

// Verify connects to the node and returns its reply to the challenge.
func (v *Verifier) Verify(ctx context.Context, pubkey []byte, addr string, req core.VerifyRequest) (core.VerifyRequest, error) {
	id, err := v.connect(ctx, pubkey, addr)
	if err != nil {
		return core.VerifyRequest{}, err
	}

	var resp core.VerifyRequest
	if err := p2p.SendReceive(ctx, v.tcpNode, id, req, &resp, protocolID); err != nil {
		return core.VerifyRequest{}, err
	}

	return resp, nil
}

// Dial connects to the node.
func (v *Verifier) Dial(ctx context.Context, pubkey []byte, addr string) error {
	_, err := v.connect(ctx, pubkey, addr)
	return err
}

// connect connects to the node at the multiaddr. The peer ID must match the node's metadata key.
func (v *Verifier) connect(ctx context.Context, pubkey []byte, addr string) (peer.ID, error) {
	key, err := k1util.ParsePubKey(pubkey)
	if err != nil {
		return "", err
	}

	id, err := p2p.PeerIDFromKey(key)
	if err != nil {
		return "", err
	}

	info, err := addrInfo(id, addr)
	if err != nil {
		return "", err
	}

	if err := v.tcpNode.Connect(ctx, info); err != nil {
		return "", errors.Wrap(err, "connect to node", z.Str("addr", addr))
	}

	return id, nil
}

// addrInfo returns the address info of the node. A peer ID in the address must match the expected one.
func addrInfo(expect peer.ID, addr string) (peer.AddrInfo, error) {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return peer.AddrInfo{}, errors.Wrap(err, "parse node address", z.Str("addr", addr))
	}

	transport, id := peer.SplitAddr(maddr)
	if id == "" {
		return peer.AddrInfo{ID: expect, Addrs: []ma.Multiaddr{maddr}}, nil
	} else if id != expect {
		return peer.AddrInfo{}, errors.New("node address peer id mismatch",
			z.Str("expect", p2p.PeerName(expect)), z.Str("actual", p2p.PeerName(id)))
	}

	return peer.AddrInfo{ID: id, Addrs: []ma.Multiaddr{transport}}, nil
}
