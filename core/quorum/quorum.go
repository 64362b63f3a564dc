// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package quorum scores live nodes against a lagged block hash to elect the signing quorum.
package quorum

import (
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/holiman/uint256"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/z"
	"github.com/obolnetwork/lockreward/core"
)

// ErrNoBlockHash is returned when the seeding block hash is not known.
var ErrNoBlockHash = errors.NewSentinel("seed block hash not found")

// HashSource returns block hashes by height.
type HashSource interface {
	BlockHash(height int64) (core.Hash, bool)
}

// LiveSource returns the live records of a tier.
type LiveSource interface {
	Live(tier core.Tier, height int64) []core.NodeRecord
}

// Score returns the 256 bit score of the node for the block hash.
func Score(op core.Outpoint, blockHash core.Hash) *uint256.Int {
	h := chainhash.DoubleHashB(append(op.Bytes(), blockHash[:]...))

	return new(uint256.Int).SetBytes(h)
}

// Scored is a node record with its score.
type Scored struct {
	Record core.NodeRecord
	Score  *uint256.Int
}

// New returns a new scorer.
func New(hashes HashSource, live LiveSource, scoreLag int64) *Scorer {
	return &Scorer{
		hashes:   hashes,
		live:     live,
		scoreLag: scoreLag,
	}
}

// Scorer ranks live nodes of a tier by score.
type Scorer struct {
	hashes   HashSource
	live     LiveSource
	scoreLag int64
}

// Scores returns all live nodes of the tier at height sorted by descending score, ties by outpoint.
func (s *Scorer) Scores(tier core.Tier, height int64) ([]Scored, error) {
	seedHeight := height - s.scoreLag
	hash, ok := s.hashes.BlockHash(seedHeight)
	if !ok {
		return nil, errors.Wrap(ErrNoBlockHash, "score nodes", z.I64("seed_height", seedHeight))
	}

	var resp []Scored
	for _, rec := range s.live.Live(tier, height) {
		resp = append(resp, Scored{Record: rec, Score: Score(rec.Outpoint, hash)})
	}

	sort.Slice(resp, func(i, j int) bool {
		if c := resp[i].Score.Cmp(resp[j].Score); c != 0 {
			return c > 0
		}

		return resp[i].Record.Outpoint.Compare(resp[j].Record.Outpoint) < 0
	})

	return resp, nil
}

// TopN returns the n best scored live nodes of the tier at height.
func (s *Scorer) TopN(tier core.Tier, height int64, n int) ([]core.NodeRecord, error) {
	scores, err := s.Scores(tier, height)
	if err != nil {
		return nil, err
	}

	if len(scores) > n {
		scores = scores[:n]
	}

	resp := make([]core.NodeRecord, 0, len(scores))
	for _, sc := range scores {
		resp = append(resp, sc.Record)
	}

	return resp, nil
}

// Rank returns the 1-based score rank of the node among live nodes of the tier at height.
// It returns false if the node is not live.
func (s *Scorer) Rank(op core.Outpoint, tier core.Tier, height int64) (int, bool, error) {
	scores, err := s.Scores(tier, height)
	if err != nil {
		return 0, false, err
	}

	for i, sc := range scores {
		if sc.Record.Outpoint == op {
			return i + 1, true, nil
		}
	}

	return 0, false, nil
}

// InQuorum returns true if the node's score rank is at most top.
func (s *Scorer) InQuorum(op core.Outpoint, tier core.Tier, height int64, top int) (bool, error) {
	rank, ok, err := s.Rank(op, tier, height)
	if err != nil {
		return false, err
	}

	return ok && rank <= top, nil
}
