// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package liveness

import (
	"context"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/z"
	"github.com/obolnetwork/lockreward/core"
)

type replier func(context.Context, peer.ID, core.VerifyRequest) (core.VerifyRequest, error)

// NewMemNetwork returns an in-memory liveness network keyed by node address.
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{repliers: make(map[string]replier)}
}

// MemNetwork connects in-memory liveness servers and verifiers.
type MemNetwork struct {
	mu       sync.Mutex
	repliers map[string]replier
	down     map[string]bool
}

// Server returns the liveness server listening on addr.
func (n *MemNetwork) Server(addr string) core.LivenessServer {
	return memServer{addr: addr, network: n}
}

// Verifier returns a verifier sending challenges as the peer.
func (n *MemNetwork) Verifier(self peer.ID) *MemVerifier {
	return &MemVerifier{self: self, network: n}
}

// SetDown marks the address as unreachable or reachable again.
func (n *MemNetwork) SetDown(addr string, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.down == nil {
		n.down = make(map[string]bool)
	}
	n.down[addr] = down
}

func (n *MemNetwork) get(addr string) (replier, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	fn, ok := n.repliers[addr]
	if !ok || n.down[addr] {
		return nil, errors.New("node unreachable", z.Str("addr", addr))
	}

	return fn, nil
}

type memServer struct {
	addr    string
	network *MemNetwork
}

func (s memServer) RegisterReplier(fn func(context.Context, peer.ID, core.VerifyRequest) (core.VerifyRequest, error)) {
	s.network.mu.Lock()
	defer s.network.mu.Unlock()

	s.network.repliers[s.addr] = fn
}

// MemVerifier is an in-memory liveness verifier.
type MemVerifier struct {
	self    peer.ID
	network *MemNetwork
}

// Verify sends the challenge to the server at addr.
func (v *MemVerifier) Verify(ctx context.Context, _ []byte, addr string, req core.VerifyRequest) (core.VerifyRequest, error) {
	fn, err := v.network.get(addr)
	if err != nil {
		return core.VerifyRequest{}, err
	}

	return fn(ctx, v.self, req)
}

// Dial returns an error if the server at addr is unreachable.
func (v *MemVerifier) Dial(_ context.Context, _ []byte, addr string) error {
	_, err := v.network.get(addr)
	return err
}
