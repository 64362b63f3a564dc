// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package lockreward_test

import (
	"context"
	"sync"
	"testing"
	"time"

	k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/obolnetwork/lockreward/app/k1util"
	"github.com/obolnetwork/lockreward/core"
	"github.com/obolnetwork/lockreward/core/liveness"
	"github.com/obolnetwork/lockreward/core/lockreward"
	"github.com/obolnetwork/lockreward/core/schnorr"
	"github.com/obolnetwork/lockreward/core/windowdb"
	"github.com/obolnetwork/lockreward/testutil"
)

const testPeer = peer.ID("peer")

// harness runs a single engine of the cluster and records its broadcasts and registrations.
type harness struct {
	engine    *lockreward.Engine
	penalizer *testPenalizer
	regs      chan core.Registration

	mu   sync.Mutex
	sent []core.Message
}

func newHarness(t *testing.T, c cluster, self int, key *k1.PrivateKey) *harness {
	t.Helper()

	h := &harness{
		penalizer: new(testPenalizer),
		regs:      make(chan core.Registration, 1),
	}

	engine, err := lockreward.New(lockreward.Config{
		Params:    c.params,
		Key:       key,
		Self:      c.records[self].Outpoint,
		Registry:  c.reg,
		Statement: c.stmt,
		Scorer:    c.scorer,
		Directory: c.dir,
		Store:     windowdb.NewMemDB(),
		Verifier:  liveness.NewMemNetwork().Verifier(peer.ID(nodeAddr(self))),
		Penalizer: h.penalizer,
	})
	require.NoError(t, err)

	engine.Subscribe(func(_ context.Context, msg core.Message) error {
		h.mu.Lock()
		defer h.mu.Unlock()

		h.sent = append(h.sent, msg)

		return nil
	})
	engine.SubscribeRegistration(func(_ context.Context, reg core.Registration) error {
		h.regs <- reg
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = engine.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	h.engine = engine

	return h
}

// tip processes the tip and waits for it.
func (h *harness) tip(t *testing.T, height int64) {
	t.Helper()

	require.NoError(t, h.engine.OnNewBlock(context.Background(), height))
	h.flush(t)
}

// deliver hands the message to the engine and waits until it is processed.
func (h *harness) deliver(t *testing.T, msg core.Message) {
	t.Helper()

	require.NoError(t, h.engine.HandleMessage(context.Background(), testPeer, msg))
	h.flush(t)
}

// flush waits until all queued work is processed.
func (h *harness) flush(t *testing.T) {
	t.Helper()

	require.NoError(t, h.engine.Exec(context.Background(), func(context.Context) {}))
}

// relayed returns the number of broadcasts of the message.
func (h *harness) relayed(msg core.Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	var n int
	for _, m := range h.sent {
		if m.Type == msg.Type && m.Hash() == msg.Hash() {
			n++
		}
	}

	return n
}

// sentOf returns the broadcasts of the type.
func (h *harness) sentOf(typ core.MsgType) []core.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	var resp []core.Message
	for _, m := range h.sent {
		if m.Type == typ {
			resp = append(resp, m)
		}
	}

	return resp
}

func sign(t *testing.T, key *k1.PrivateKey, hash core.Hash) []byte {
	t.Helper()

	sig, err := k1util.Sign(key, hash[:])
	require.NoError(t, err)

	return sig
}

// request returns the candidate's request of the reward height.
func (c cluster) request(t *testing.T, candidate int, loop int64) core.LockRewardRequest {
	t.Helper()

	req := core.LockRewardRequest{
		RewardHeight: rewardHeight,
		Candidate:    c.records[candidate].Outpoint,
		Tier:         core.TierBIG,
		Loop:         loop,
	}
	req.Sig = sign(t, c.keys[candidate], req.Hash())

	return req
}

// commitment returns the signer's commitment to the request signed by key, and its nonce.
func (c cluster) commitment(t *testing.T, signer int, key *k1.PrivateKey, reqHash core.Hash) (core.Commitment, *k1.PrivateKey) {
	t.Helper()

	nonce := testutil.RandomKey(t)
	com := core.Commitment{
		Signer:       c.records[signer].Outpoint,
		RequestHash:  reqHash,
		RewardHeight: rewardHeight,
		Nonce:        nonce.PubKey().SerializeCompressed(),
	}
	com.Sig = sign(t, key, com.Hash())

	return com, nonce
}

// group returns the candidate's signer group of the request.
func (c cluster) group(t *testing.T, candidate int, reqHash core.Hash, ranks []int) core.GroupSigners {
	t.Helper()

	g := core.GroupSigners{
		Candidate:    c.records[candidate].Outpoint,
		RequestHash:  reqHash,
		Group:        1,
		RewardHeight: rewardHeight,
		SignerRanks:  ranks,
	}
	g.Sig = sign(t, c.keys[candidate], g.Hash())

	return g
}

// partial returns the signer's partial signature message of the group.
func (c cluster) partial(t *testing.T, signer int, groupHash core.Hash, partial []byte) core.PartialSignature {
	t.Helper()

	p := core.PartialSignature{
		Signer:       c.records[signer].Outpoint,
		GroupHash:    groupHash,
		RewardHeight: rewardHeight,
		Partial:      partial,
	}
	p.Sig = sign(t, c.keys[signer], p.Hash())

	return p
}

func TestHandleMessages(t *testing.T) {
	tests := []struct {
		name string
		// msg returns the message delivered to a quorum member that accepted the request.
		msg     func(t *testing.T, c cluster, req core.LockRewardRequest) core.Message
		times   int
		relayed int
		penalty string
	}{
		{
			name: "duplicate commitment",
			msg: func(t *testing.T, c cluster, req core.LockRewardRequest) core.Message {
				com, _ := c.commitment(t, 2, c.keys[2], req.Hash())
				return core.NewCommitmentMsg(com)
			},
			times:   2,
			relayed: 1,
		},
		{
			name: "commitment signed by another key",
			msg: func(t *testing.T, c cluster, req core.LockRewardRequest) core.Message {
				com, _ := c.commitment(t, 2, c.keys[3], req.Hash())
				return core.NewCommitmentMsg(com)
			},
			times:   1,
			penalty: "peer 20 invalid signature",
		},
		{
			name: "commitment of unknown signer",
			msg: func(t *testing.T, c cluster, req core.LockRewardRequest) core.Message {
				com, _ := c.commitment(t, 2, c.keys[2], req.Hash())
				com.Signer = testutil.RandomOutpoint()
				com.Sig = sign(t, c.keys[2], com.Hash())

				return core.NewCommitmentMsg(com)
			},
			times:   1,
			penalty: "peer 20 unknown signer",
		},
		{
			name: "duplicate group",
			msg: func(t *testing.T, c cluster, req core.LockRewardRequest) core.Message {
				return core.NewGroupMsg(c.group(t, 0, req.Hash(), []int{1, 2, 3, 4}))
			},
			times:   2,
			relayed: 1,
		},
		{
			name: "group with rank outside quorum",
			msg: func(t *testing.T, c cluster, req core.LockRewardRequest) core.Message {
				return core.NewGroupMsg(c.group(t, 0, req.Hash(), []int{1, 2, 3, 5}))
			},
			times:   1,
			penalty: "peer 10 signer rank not found",
		},
		{
			name: "group with duplicate rank",
			msg: func(t *testing.T, c cluster, req core.LockRewardRequest) core.Message {
				return core.NewGroupMsg(c.group(t, 0, req.Hash(), []int{1, 1, 2, 3}))
			},
			times:   1,
			penalty: "peer 10 duplicate signer rank",
		},
		{
			name: "group signed by non candidate",
			msg: func(t *testing.T, c cluster, req core.LockRewardRequest) core.Message {
				g := c.group(t, 0, req.Hash(), []int{1, 2, 3, 4})
				g.Sig = sign(t, c.keys[2], g.Hash())

				return core.NewGroupMsg(g)
			},
			times:   1,
			penalty: "peer 20 invalid signature",
		},
		{
			name: "duplicate partial",
			msg: func(t *testing.T, c cluster, _ core.LockRewardRequest) core.Message {
				return core.NewPartialMsg(c.partial(t, 2, testutil.RandomHash(), make([]byte, schnorr.PartialLen)))
			},
			times:   2,
			relayed: 1,
		},
		{
			name: "partial out of window",
			msg: func(t *testing.T, c cluster, _ core.LockRewardRequest) core.Message {
				p := c.partial(t, 2, testutil.RandomHash(), make([]byte, schnorr.PartialLen))
				p.RewardHeight = rewardHeight + 100
				p.Sig = sign(t, c.keys[2], p.Hash())

				return core.NewPartialMsg(p)
			},
			times:   1,
			penalty: "peer 10 reward height out of window",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := newCluster(t)
			h := newHarness(t, c, 1, c.keys[1])
			h.tip(t, 41)

			req := c.request(t, 0, 0)
			h.deliver(t, core.NewRequestMsg(req))
			require.Equal(t, 1, h.relayed(core.NewRequestMsg(req)))

			// The quorum member committed to the unreachable candidate's request.
			require.Len(t, h.sentOf(core.MsgCommitment), 1)

			msg := test.msg(t, c, req)
			for range test.times {
				h.deliver(t, msg)
			}

			require.Equal(t, test.relayed, h.relayed(msg))

			reasons := h.penalizer.Reasons()
			if test.penalty == "" {
				require.Empty(t, reasons)
				return
			}

			require.Len(t, reasons, 1)
			require.Contains(t, reasons[0], test.penalty)
		})
	}
}

func TestAggregateSupersededRequest(t *testing.T) {
	c := newCluster(t)
	h := newHarness(t, c, 0, c.keys[0])
	h.tip(t, 41)

	// The candidate requested and committed to its own request.
	requests := h.sentOf(core.MsgRequest)
	require.Len(t, requests, 1)
	req := *requests[0].Request
	require.EqualValues(t, 0, req.Loop)

	commitments := h.sentOf(core.MsgCommitment)
	require.Len(t, commitments, 1)
	ownNonce, err := k1util.ParsePubKey(commitments[0].Commitment.Nonce)
	require.NoError(t, err)

	nonces := []*k1.PublicKey{ownNonce}
	secrets := []*k1.PrivateKey{nil}
	for i := 1; i < len(c.records); i++ {
		com, nonce := c.commitment(t, i, c.keys[i], req.Hash())
		h.deliver(t, core.NewCommitmentMsg(com))

		nonces = append(nonces, nonce.PubKey())
		secrets = append(secrets, nonce)
	}

	groups := h.sentOf(core.MsgGroupSigners)
	require.Len(t, groups, 1)
	g := *groups[0].Group
	require.Equal(t, []int{1, 2, 3, 4}, g.SignerRanks)
	require.Len(t, h.sentOf(core.MsgPartialSig), 1)

	// A later loop supersedes the request before the partial signatures arrive.
	h.tip(t, 43)
	requests = h.sentOf(core.MsgRequest)
	require.Len(t, requests, 2)
	require.True(t, requests[1].Request.Supersedes(req))

	var pubkeys []*k1.PublicKey
	for _, key := range c.keys {
		pubkeys = append(pubkeys, key.PubKey())
	}
	session, err := schnorr.NewSession(pubkeys, lockreward.Message(c.records[0].Outpoint, rewardHeight))
	require.NoError(t, err)
	require.NoError(t, session.SetNonces(nonces))

	for i := 1; i < len(c.records); i++ {
		partial, err := session.Sign(i, c.keys[i], secrets[i])
		require.NoError(t, err)
		h.deliver(t, core.NewPartialMsg(c.partial(t, i, g.Hash(), partial[:])))
	}

	var reg core.Registration
	select {
	case reg = <-h.regs:
	case <-time.After(5 * time.Second):
		require.Fail(t, "timeout waiting for registration")
	}

	require.Empty(t, h.penalizer.Reasons())
	require.Equal(t, core.TierBIG, reg.Tier)
	require.Equal(t, g.SignerRanks, reg.SignerRanks)

	checker := lockreward.NewChecker(c.params, c.reg, c.scorer, c.dir)
	require.NoError(t, checker.VerifyRegistration(c.records[0], reg))
}

func TestRotatedSignerKey(t *testing.T) {
	c := newCluster(t)

	// Node 2 rotates its key at 40, which doesn't mature before the reward height.
	rotated := testutil.RandomKey(t)
	require.NoError(t, c.dir.Update(c.records[2].MetadataID, rotated.PubKey().SerializeCompressed(), nodeAddr(2), 40))

	req := c.request(t, 0, 0)

	t.Run("matured key verifies", func(t *testing.T) {
		h := newHarness(t, c, 1, c.keys[1])
		h.tip(t, 41)
		h.deliver(t, core.NewRequestMsg(req))

		com, _ := c.commitment(t, 2, c.keys[2], req.Hash())
		h.deliver(t, core.NewCommitmentMsg(com))
		require.Equal(t, 1, h.relayed(core.NewCommitmentMsg(com)))

		rotatedCom, _ := c.commitment(t, 2, rotated, testutil.RandomHash())
		h.deliver(t, core.NewCommitmentMsg(rotatedCom))
		require.Zero(t, h.relayed(core.NewCommitmentMsg(rotatedCom)))

		reasons := h.penalizer.Reasons()
		require.Len(t, reasons, 1)
		require.Contains(t, reasons[0], "invalid signature")
	})

	t.Run("rotated node abstains", func(t *testing.T) {
		h := newHarness(t, c, 2, rotated)
		h.tip(t, 41)
		h.deliver(t, core.NewRequestMsg(req))

		require.Equal(t, 1, h.relayed(core.NewRequestMsg(req)))
		require.Empty(t, h.sentOf(core.MsgCommitment))
	})
}
