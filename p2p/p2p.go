// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package p2p provides the libp2p host and json stream messaging of the lock-reward node.
package p2p

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/k1util"
	"github.com/obolnetwork/lockreward/app/lifecycle"
	"github.com/obolnetwork/lockreward/app/log"
	"github.com/obolnetwork/lockreward/app/version"
	"github.com/obolnetwork/lockreward/app/z"
)

const connectPeriod = 30 * time.Second

// NewTCPNode returns a started tcp-based libp2p host.
func NewTCPNode(ctx context.Context, cfg Config, key *k1.PrivateKey, opts ...libp2p.Option) (host.Host, error) {
	addrs, err := cfg.Multiaddrs()
	if err != nil {
		return nil, err
	}

	if len(addrs) == 0 {
		log.Info(ctx, "LibP2P not accepting incoming connections since --p2p-tcp-address empty")
	}

	defaultOpts := []libp2p.Option{
		// Set P2P identity key.
		libp2p.Identity(k1util.ToLibP2P(key)),
		// Set TCP listen addresses.
		libp2p.ListenAddrs(addrs...),
		// Set up user-agent.
		libp2p.UserAgent("lockreward/" + version.Version.String()),
	}

	tcpNode, err := libp2p.New(append(defaultOpts, opts...)...)
	if err != nil {
		return nil, errors.Wrap(err, "new libp2p node")
	}

	return tcpNode, nil
}

// NewConnector returns a lifecycle hook that keeps the host connected to the peers,
// backing off while a peer is unreachable.
func NewConnector(tcpNode host.Host, peers []peer.AddrInfo) lifecycle.HookFuncCtx {
	return func(ctx context.Context) {
		ctx = log.WithTopic(ctx, "p2p")
		for _, info := range peers {
			tcpNode.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
			go keepConnected(ctx, tcpNode, info)
		}
	}
}

func keepConnected(ctx context.Context, tcpNode host.Host, info peer.AddrInfo) {
	bo := newConnectBackoff()
	for ctx.Err() == nil {
		if tcpNode.Network().Connectedness(info.ID) == network.Connected {
			if !sleep(ctx, connectPeriod) {
				return
			}

			continue
		}

		if err := tcpNode.Connect(ctx, info); err != nil {
			log.Debug(ctx, "Failed connecting to peer", z.Str("peer", PeerName(info.ID)), z.Err(err))
			if !sleep(ctx, bo.NextBackOff()) {
				return
			}

			continue
		}

		log.Info(ctx, "Connected to peer", z.Str("peer", PeerName(info.ID)))
		bo.Reset()
	}
}

// newConnectBackoff returns an exponential backoff that never stops.
func newConnectBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 2 * time.Minute
	bo.MaxElapsedTime = 0

	return bo
}

// sleep blocks for the duration and returns false if the context was cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// RegisterConnectionLogger registers a connection logger and gauge with the host.
// libp2p uses the network.Notifiee interface as a map key, so the implementation only
// contains a hashable channel and the logic runs externally.
func RegisterConnectionLogger(ctx context.Context, tcpNode host.Host) {
	events := make(chan logEvent)
	tcpNode.Network().Notify(connLogger{events: events})

	ctx = log.WithTopic(ctx, "p2p")
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-events:
				if e.Connected {
					peerConnGauge.Inc()
					log.Debug(ctx, "Libp2p new connection",
						z.Str("peer", PeerName(e.Peer)),
						z.Any("peer_address", e.Addr),
						z.Any("direction", e.Direction),
					)
				} else {
					peerConnGauge.Dec()
					log.Debug(ctx, "Libp2p disconnected", z.Str("peer", PeerName(e.Peer)))
				}
			}
		}
	}()
}

type logEvent struct {
	Peer      peer.ID
	Addr      ma.Multiaddr
	Direction network.Direction
	Connected bool
}

// connLogger implements network.Notifiee and only sends logEvents on a channel.
type connLogger struct {
	events chan logEvent
}

func (connLogger) Listen(network.Network, ma.Multiaddr)      {}
func (connLogger) ListenClose(network.Network, ma.Multiaddr) {}

func (l connLogger) Connected(_ network.Network, conn network.Conn) {
	l.send(logEvent{
		Peer:      conn.RemotePeer(),
		Addr:      conn.RemoteMultiaddr(),
		Direction: conn.Stat().Direction,
		Connected: true,
	})
}

func (l connLogger) Disconnected(_ network.Network, conn network.Conn) {
	l.send(logEvent{
		Peer: conn.RemotePeer(),
		Addr: conn.RemoteMultiaddr(),
	})
}

// send drops the event if the logger goroutine is not running.
func (l connLogger) send(e logEvent) {
	select {
	case l.events <- e:
	case <-time.After(time.Second):
	}
}
