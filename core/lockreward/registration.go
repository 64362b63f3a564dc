// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package lockreward

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/z"
	"github.com/obolnetwork/lockreward/core"
	"github.com/obolnetwork/lockreward/core/metadata"
	"github.com/obolnetwork/lockreward/core/schnorr"
)

// Registry is the subset of the node registry used by the protocol.
type Registry interface {
	Get(op core.Outpoint) (core.NodeRecord, bool)
	RankAt(tier core.Tier, height int64, op core.Outpoint) (int, bool)
	AtRank(tier core.Tier, height int64, rank int) (core.NodeRecord, bool)
}

// Scorer ranks quorum candidates by score.
type Scorer interface {
	InQuorum(op core.Outpoint, tier core.Tier, height int64, top int) (bool, error)
	TopN(tier core.Tier, height int64, n int) ([]core.NodeRecord, error)
}

// Directory is the metadata directory with a parsed key cache.
type Directory interface {
	core.MetadataDirectory
	PubKey(pubkey []byte) (*k1.PublicKey, error)
}

// Message returns the message signed by the aggregate signature of a reward:
// the double sha256 of the candidate outpoint and the little endian reward height.
func Message(candidate core.Outpoint, rewardHeight int64) [32]byte {
	b := candidate.Bytes()
	b = binary.LittleEndian.AppendUint64(b, uint64(rewardHeight))

	return [32]byte(chainhash.DoubleHashH(b))
}

// NewChecker returns a new registration checker.
func NewChecker(params core.Params, reg Registry, scorer Scorer, dir Directory) *Checker {
	return &Checker{
		params: params,
		reg:    reg,
		scorer: scorer,
		dir:    dir,
	}
}

// Checker resolves signer groups and verifies registrations.
type Checker struct {
	params core.Params
	reg    Registry
	scorer Scorer
	dir    Directory
}

// signer is a resolved group signer.
type signer struct {
	Record core.NodeRecord
	PubKey *k1.PublicKey
}

// signerKey returns the node's metadata key usable at the height. Protocol messages and
// partial signatures of the height verify against it.
func (c *Checker) signerKey(rec core.NodeRecord, height int64) (*k1.PublicKey, error) {
	meta, err := c.dir.Lookup(rec.MetadataID)
	if err != nil {
		return nil, errors.Wrap(err, "signer metadata", z.Str("signer", rec.Outpoint.String()))
	}

	key, ok := metadata.MaturedKey(c.params, meta, height)
	if !ok {
		return nil, errors.New("signer metadata not matured", z.Str("signer", rec.Outpoint.String()))
	}

	return c.dir.PubKey(key)
}

// resolveSigners returns the signers of the ranks: registration ranks among live nodes of the
// quorum tier at the reward height. Every signer must have a matured metadata key and a score
// rank within the quorum. Invalid ranks are rejections.
func (c *Checker) resolveSigners(rewardHeight int64, ranks []int) ([]signer, error) {
	if len(ranks) != c.params.GroupSize {
		return nil, newDoS(dosMalformed, "invalid signer count", z.Int("count", len(ranks)))
	}

	seen := make(map[int]bool)
	var resp []signer
	for _, rank := range ranks {
		if seen[rank] {
			return nil, newDoS(dosMalformed, "duplicate signer rank", z.Int("rank", rank))
		}
		seen[rank] = true

		rec, ok := c.reg.AtRank(c.params.QuorumTier, rewardHeight, rank)
		if !ok {
			return nil, newDoS(dosMalformed, "signer rank not found", z.Int("rank", rank))
		}

		in, err := c.scorer.InQuorum(rec.Outpoint, c.params.QuorumTier, rewardHeight, c.params.QuorumTop)
		if err != nil {
			return nil, err
		} else if !in {
			return nil, newDoS(dosMalformed, "signer not in quorum",
				z.Str("signer", rec.Outpoint.String()), z.Int("rank", rank))
		}

		pubkey, err := c.signerKey(rec, rewardHeight)
		if err != nil {
			return nil, err
		}

		resp = append(resp, signer{Record: rec, PubKey: pubkey})
	}

	return resp, nil
}

// VerifyRegistration returns an error if the registration is not a valid aggregate
// attestation of the candidate's reward.
func (c *Checker) VerifyRegistration(candidate core.NodeRecord, reg core.Registration) error {
	if len(reg.Sig) != core.SchnorrSigLen {
		return errors.New("invalid registration signature length")
	} else if reg.RewardHeight <= c.params.GenesisStatement {
		return errors.New("registration before genesis statement", z.I64("height", reg.RewardHeight))
	} else if !reg.Tier.Valid() {
		return errors.New("invalid registration tier")
	} else if reg.Tier != candidate.Tier {
		return errors.New("registration tier mismatch",
			z.Str("registration", reg.Tier.String()), z.Str("candidate", candidate.Tier.String()))
	}

	signers, err := c.resolveSigners(reg.RewardHeight, reg.SignerRanks)
	if err != nil {
		return err
	}

	pubkeys := make([]*k1.PublicKey, 0, len(signers))
	for _, s := range signers {
		pubkeys = append(pubkeys, s.PubKey)
	}

	if !schnorr.Verify(pubkeys, Message(candidate.Outpoint, reg.RewardHeight), reg.Sig) {
		return errors.New("invalid registration signature")
	}

	return nil
}
