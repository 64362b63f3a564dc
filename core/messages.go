// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package core

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/z"
)

// MsgType enumerates the relayed lock-reward protocol messages.
type MsgType int

const (
	// MsgType enums MUST not change, it will break wire compatibility.

	MsgUnknown      MsgType = 0
	MsgRequest      MsgType = 1
	MsgCommitment   MsgType = 2
	MsgGroupSigners MsgType = 3
	MsgPartialSig   MsgType = 4

	msgSentinel MsgType = 5 // Must always be last
)

func (t MsgType) Valid() bool {
	return t > MsgUnknown && t < msgSentinel
}

func (t MsgType) String() string {
	return map[MsgType]string{
		MsgUnknown:      "unknown",
		MsgRequest:      "request",
		MsgCommitment:   "commitment",
		MsgGroupSigners: "group_signers",
		MsgPartialSig:   "partial_sig",
	}[t]
}

// LockRewardRequest is broadcast by a reward candidate asking the quorum to attest its liveness.
type LockRewardRequest struct {
	RewardHeight int64    `json:"reward_height"`
	Candidate    Outpoint `json:"candidate"`
	Tier         Tier     `json:"tier"`
	Loop         int64    `json:"loop"`
	Sig          []byte   `json:"sig,omitempty"`
}

// Hash returns the content hash identifying the request. The signature is excluded.
func (r LockRewardRequest) Hash() Hash {
	h := newHasher("request")
	h.i64(r.RewardHeight)
	h.bytes(r.Candidate.Bytes())
	h.i64(int64(r.Tier))
	h.i64(r.Loop)

	return h.sum()
}

// Supersedes returns true if r replaces other: same reward slot with a higher loop.
func (r LockRewardRequest) Supersedes(other LockRewardRequest) bool {
	return r.RewardHeight == other.RewardHeight &&
		r.Candidate == other.Candidate &&
		r.Tier == other.Tier &&
		r.Loop > other.Loop
}

// Commitment carries a quorum member's one-time nonce public key for a request.
type Commitment struct {
	Signer       Outpoint `json:"signer"`
	RequestHash  Hash     `json:"request_hash"`
	RewardHeight int64    `json:"reward_height"`
	Nonce        []byte   `json:"nonce"`
	Sig          []byte   `json:"sig,omitempty"`
}

// Hash returns the content hash identifying the commitment.
func (c Commitment) Hash() Hash {
	h := newHasher("commitment")
	h.bytes(c.Signer.Bytes())
	h.bytes(c.RequestHash[:])
	h.i64(c.RewardHeight)
	h.bytes(c.Nonce)

	return h.sum()
}

// GroupSigners names the signers of one aggregate signature for a request.
type GroupSigners struct {
	Candidate    Outpoint `json:"candidate"`
	RequestHash  Hash     `json:"request_hash"`
	Group        int      `json:"group"`
	RewardHeight int64    `json:"reward_height"`
	SignerRanks  []int    `json:"signer_ranks"`
	Sig          []byte   `json:"sig,omitempty"`
}

// Hash returns the content hash identifying the group.
func (g GroupSigners) Hash() Hash {
	h := newHasher("group")
	h.bytes(g.Candidate.Bytes())
	h.bytes(g.RequestHash[:])
	h.i64(int64(g.Group))
	h.i64(g.RewardHeight)
	h.i64(int64(len(g.SignerRanks)))
	for _, rank := range g.SignerRanks {
		h.i64(int64(rank))
	}

	return h.sum()
}

// PartialSignature is a signer's partial Schnorr signature for a group.
type PartialSignature struct {
	Signer       Outpoint `json:"signer"`
	GroupHash    Hash     `json:"group_hash"`
	RewardHeight int64    `json:"reward_height"`
	Partial      []byte   `json:"partial"`
	Sig          []byte   `json:"sig,omitempty"`
}

// Hash returns the content hash identifying the partial signature.
func (p PartialSignature) Hash() Hash {
	h := newHasher("partial")
	h.bytes(p.Signer.Bytes())
	h.bytes(p.GroupHash[:])
	h.i64(p.RewardHeight)
	h.bytes(p.Partial)

	return h.sum()
}

// VerifyRequest is the point-to-point liveness challenge sent by a quorum member to a candidate.
// Sig1 is the verifier's signature, Sig2 the candidate's reply signature.
type VerifyRequest struct {
	Verifier     Outpoint `json:"verifier"`
	Candidate    Outpoint `json:"candidate"`
	RequestHash  Hash     `json:"request_hash"`
	RewardHeight int64    `json:"reward_height"`
	Nonce        uint64   `json:"nonce"`
	Sig1         []byte   `json:"sig1,omitempty"`
	Sig2         []byte   `json:"sig2,omitempty"`
}

// ChallengeRoot returns the digest signed by the verifier.
func (v VerifyRequest) ChallengeRoot() Hash {
	h := newHasher("verify")
	h.bytes(v.Verifier.Bytes())
	h.bytes(v.Candidate.Bytes())
	h.bytes(v.RequestHash[:])
	h.i64(v.RewardHeight)
	h.i64(int64(v.Nonce))

	return h.sum()
}

// ReplyRoot returns the digest signed by the candidate.
func (v VerifyRequest) ReplyRoot() Hash {
	root := v.ChallengeRoot()

	h := newHasher("verify_reply")
	h.bytes(root[:])
	h.bytes(v.Sig1)

	return h.sum()
}

// Message is the envelope of relayed protocol messages. Exactly one payload is set.
type Message struct {
	Type       MsgType            `json:"type"`
	Request    *LockRewardRequest `json:"request,omitempty"`
	Commitment *Commitment        `json:"commitment,omitempty"`
	Group      *GroupSigners      `json:"group,omitempty"`
	Partial    *PartialSignature  `json:"partial,omitempty"`
}

// NewRequestMsg returns a request message.
func NewRequestMsg(r LockRewardRequest) Message {
	return Message{Type: MsgRequest, Request: &r}
}

// NewCommitmentMsg returns a commitment message.
func NewCommitmentMsg(c Commitment) Message {
	return Message{Type: MsgCommitment, Commitment: &c}
}

// NewGroupMsg returns a group signers message.
func NewGroupMsg(g GroupSigners) Message {
	return Message{Type: MsgGroupSigners, Group: &g}
}

// NewPartialMsg returns a partial signature message.
func NewPartialMsg(p PartialSignature) Message {
	return Message{Type: MsgPartialSig, Partial: &p}
}

// Verify returns an error if the message type doesn't match its payload.
func (m Message) Verify() error {
	var set int
	for _, ok := range []bool{m.Request != nil, m.Commitment != nil, m.Group != nil, m.Partial != nil} {
		if ok {
			set++
		}
	}

	if set != 1 {
		return errors.New("message must contain exactly one payload", z.Int("payloads", set))
	}

	var ok bool
	switch m.Type {
	case MsgRequest:
		ok = m.Request != nil
	case MsgCommitment:
		ok = m.Commitment != nil
	case MsgGroupSigners:
		ok = m.Group != nil
	case MsgPartialSig:
		ok = m.Partial != nil
	default:
		return errors.New("invalid message type", z.Int("type", int(m.Type)))
	}

	if !ok {
		return errors.New("message payload mismatch", z.Any("type", m.Type))
	}

	return nil
}

// Hash returns the content hash of the payload.
func (m Message) Hash() Hash {
	switch m.Type {
	case MsgRequest:
		return m.Request.Hash()
	case MsgCommitment:
		return m.Commitment.Hash()
	case MsgGroupSigners:
		return m.Group.Hash()
	case MsgPartialSig:
		return m.Partial.Hash()
	default:
		return Hash{}
	}
}

// RewardHeight returns the reward height of the payload.
func (m Message) RewardHeight() int64 {
	switch m.Type {
	case MsgRequest:
		return m.Request.RewardHeight
	case MsgCommitment:
		return m.Commitment.RewardHeight
	case MsgGroupSigners:
		return m.Group.RewardHeight
	case MsgPartialSig:
		return m.Partial.RewardHeight
	default:
		return 0
	}
}

func (m Message) String() string {
	h := m.Hash()
	return fmt.Sprintf("%s/%d/%x", m.Type, m.RewardHeight(), h[:4])
}

// hasher builds domain separated blake3 content hashes.
type hasher struct {
	buf []byte
}

func newHasher(tag string) *hasher {
	return &hasher{buf: []byte("lockreward/" + tag)}
}

func (h *hasher) i64(v int64) {
	h.buf = binary.BigEndian.AppendUint64(h.buf, uint64(v))
}

func (h *hasher) bytes(b []byte) {
	h.i64(int64(len(b)))
	h.buf = append(h.buf, b...)
}

func (h *hasher) sum() Hash {
	return blake3.Sum256(h.buf)
}
