// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package lrex

import (
	"context"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/obolnetwork/lockreward/core"
)

type sub func(context.Context, peer.ID, core.Message) error

// NewMemExFunc returns a function that itself returns in-memory exchange components
// identified by the provided peer IDs.
func NewMemExFunc() func(peer.ID) core.Exchange {
	var (
		mu   sync.Mutex
		subs = make(map[peer.ID][]sub)
	)

	return func(self peer.ID) core.Exchange {
		return MemEx{
			self: self,
			addSub: func(s sub) {
				mu.Lock()
				defer mu.Unlock()

				subs[self] = append(subs[self], s)
			},
			getSubs: func() []sub {
				mu.Lock()
				defer mu.Unlock()

				var others []sub // Get other peer's subscriptions.
				for id, s := range subs {
					if id == self {
						continue
					}
					others = append(others, s...)
				}

				return others
			},
		}
	}
}

// MemEx provides an in-memory implementation of the lock-reward message exchange.
type MemEx struct {
	self    peer.ID
	addSub  func(sub)
	getSubs func() []sub
}

// Broadcast delivers the message to all other peers. Rejections by peers are not returned.
func (m MemEx) Broadcast(ctx context.Context, msg core.Message) error {
	for _, sub := range m.getSubs() {
		_ = sub(ctx, m.self, msg)
	}

	return nil
}

// Subscribe registers a callback for messages received from peers.
func (m MemEx) Subscribe(fn func(context.Context, peer.ID, core.Message) error) {
	m.addSub(fn)
}
