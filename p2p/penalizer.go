// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package p2p

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/log"
	"github.com/obolnetwork/lockreward/app/z"
)

const (
	// disconnectScore is the accumulated misbehaviour score at which a peer is disconnected.
	disconnectScore  = 100
	penaltyCacheSize = 1024
)

// NewPenalizer returns a new penalizer that disconnects misbehaving peers of the host.
func NewPenalizer(tcpNode host.Host) (*Penalizer, error) {
	scores, err := lru.New(penaltyCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "new lru cache")
	}

	return &Penalizer{tcpNode: tcpNode, scores: scores}, nil
}

// Penalizer accumulates misbehaviour scores per peer and closes connections
// to peers reaching the disconnect score.
type Penalizer struct {
	tcpNode host.Host

	mu     sync.Mutex
	scores *lru.Cache // map[peer.ID]int
}

// Misbehaving adds the score to the peer's accumulated score.
func (p *Penalizer) Misbehaving(ctx context.Context, peerID peer.ID, score int, reason string) {
	penaltyCounter.WithLabelValues(PeerName(peerID)).Add(float64(score))

	p.mu.Lock()
	total := score
	if val, ok := p.scores.Get(peerID); ok {
		total += val.(int)
	}
	disconnect := total >= disconnectScore
	if disconnect {
		p.scores.Remove(peerID)
	} else {
		p.scores.Add(peerID, total)
	}
	p.mu.Unlock()

	log.Debug(ctx, "Peer misbehaving",
		z.Str("peer", PeerName(peerID)),
		z.Int("score", total),
		z.Str("reason", reason),
	)

	if !disconnect {
		return
	}

	log.Warn(ctx, "Disconnecting misbehaving peer", nil, z.Str("peer", PeerName(peerID)), z.Str("reason", reason))
	if err := p.tcpNode.Network().ClosePeer(peerID); err != nil {
		log.Warn(ctx, "Close peer failed", err, z.Str("peer", PeerName(peerID)))
	}
}

// Score returns the accumulated score of the peer.
func (p *Penalizer) Score(peerID peer.ID) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	val, ok := p.scores.Get(peerID)
	if !ok {
		return 0
	}

	return val.(int)
}
