// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package windowdb stores lock-reward protocol messages within the replay window and prunes
// them once they fall behind the tip.
package windowdb

import (
	"context"
	"sync"

	"github.com/obolnetwork/lockreward/app/log"
	"github.com/obolnetwork/lockreward/app/z"
	"github.com/obolnetwork/lockreward/core"
)

// signerKey identifies a signer's commitment to a request.
type signerKey struct {
	RequestHash core.Hash
	Signer      core.Outpoint
}

// slotKey identifies a reward slot.
type slotKey struct {
	RewardHeight int64
	Candidate    core.Outpoint
	Tier         core.Tier
}

// NewMemDB returns a new in-memory window store.
func NewMemDB() *MemDB {
	return &MemDB{
		requests:    make(map[core.Hash]core.LockRewardRequest),
		slots:       make(map[slotKey]core.Hash),
		commitments: make(map[core.Hash]core.Commitment),
		bySigner:    make(map[signerKey]core.Hash),
		groups:      make(map[core.Hash]core.GroupSigners),
		partials:    make(map[core.Hash]core.PartialSignature),
		mySigners:   make(map[core.Hash][]core.Commitment),
		myPartials:  make(map[core.Hash][]core.PartialSignature),
		registered:  make(map[int64]bool),
	}
}

// MemDB is an in-memory window store of relayed protocol messages and this node's
// own signer and partial signature collections.
type MemDB struct {
	mu          sync.Mutex
	requests    map[core.Hash]core.LockRewardRequest
	slots       map[slotKey]core.Hash
	commitments map[core.Hash]core.Commitment
	bySigner    map[signerKey]core.Hash
	groups      map[core.Hash]core.GroupSigners
	partials    map[core.Hash]core.PartialSignature
	mySigners   map[core.Hash][]core.Commitment
	myPartials  map[core.Hash][]core.PartialSignature
	registered  map[int64]bool
}

// Has returns true if a message with the hash is stored.
func (db *MemDB) Has(hash core.Hash) bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.requests[hash]; ok {
		return true
	} else if _, ok := db.commitments[hash]; ok {
		return true
	} else if _, ok := db.groups[hash]; ok {
		return true
	}
	_, ok := db.partials[hash]

	return ok
}

// AddRequest stores the request. It returns false if it is known or a request with
// an equal or higher loop exists for the same slot. Superseded requests are kept until
// pruned so signer groups of earlier loops still resolve.
func (db *MemDB) AddRequest(req core.LockRewardRequest) bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	hash := req.Hash()
	if _, ok := db.requests[hash]; ok {
		return false
	}

	slot := slotKey{RewardHeight: req.RewardHeight, Candidate: req.Candidate, Tier: req.Tier}
	if prevHash, ok := db.slots[slot]; ok {
		if !req.Supersedes(db.requests[prevHash]) {
			return false
		}
	}

	db.requests[hash] = req
	db.slots[slot] = hash

	return true
}

// Request returns the request by hash.
func (db *MemDB) Request(hash core.Hash) (core.LockRewardRequest, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	req, ok := db.requests[hash]

	return req, ok
}

// AddCommitment stores the commitment. It returns false if it is known or the signer
// already committed to the request.
func (db *MemDB) AddCommitment(c core.Commitment) bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	hash := c.Hash()
	key := signerKey{RequestHash: c.RequestHash, Signer: c.Signer}
	if _, ok := db.commitments[hash]; ok {
		return false
	} else if _, ok := db.bySigner[key]; ok {
		return false
	}

	db.commitments[hash] = c
	db.bySigner[key] = hash

	return true
}

// CommitmentFor returns the signer's commitment to the request.
func (db *MemDB) CommitmentFor(requestHash core.Hash, signer core.Outpoint) (core.Commitment, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	hash, ok := db.bySigner[signerKey{RequestHash: requestHash, Signer: signer}]
	if !ok {
		return core.Commitment{}, false
	}

	return db.commitments[hash], true
}

// AddGroup stores the group. It returns false if it is known.
func (db *MemDB) AddGroup(g core.GroupSigners) bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	hash := g.Hash()
	if _, ok := db.groups[hash]; ok {
		return false
	}
	db.groups[hash] = g

	return true
}

// Group returns the group by hash.
func (db *MemDB) Group(hash core.Hash) (core.GroupSigners, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	g, ok := db.groups[hash]

	return g, ok
}

// AddPartial stores the partial signature. It returns false if it is known.
func (db *MemDB) AddPartial(p core.PartialSignature) bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	hash := p.Hash()
	if _, ok := db.partials[hash]; ok {
		return false
	}
	db.partials[hash] = p

	return true
}

// AddMySigner appends the commitment to the signers of this node's request in arrival order.
// It returns false if the signer is already included.
func (db *MemDB) AddMySigner(c core.Commitment) bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, existing := range db.mySigners[c.RequestHash] {
		if existing.Signer == c.Signer {
			return false
		}
	}
	db.mySigners[c.RequestHash] = append(db.mySigners[c.RequestHash], c)

	return true
}

// MySigners returns the signers of this node's request in arrival order.
func (db *MemDB) MySigners(requestHash core.Hash) []core.Commitment {
	db.mu.Lock()
	defer db.mu.Unlock()

	return append([]core.Commitment(nil), db.mySigners[requestHash]...)
}

// ClearMySigners drops all signers of this node's requests.
func (db *MemDB) ClearMySigners() {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.mySigners = make(map[core.Hash][]core.Commitment)
}

// AddMyPartial appends the partial signature to those of this node's group.
// It returns false if the signer is already included.
func (db *MemDB) AddMyPartial(p core.PartialSignature) bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, existing := range db.myPartials[p.GroupHash] {
		if existing.Signer == p.Signer {
			return false
		}
	}
	db.myPartials[p.GroupHash] = append(db.myPartials[p.GroupHash], p)

	return true
}

// MyPartials returns the partial signatures of this node's group.
func (db *MemDB) MyPartials(groupHash core.Hash) []core.PartialSignature {
	db.mu.Lock()
	defer db.mu.Unlock()

	return append([]core.PartialSignature(nil), db.myPartials[groupHash]...)
}

// ClearMyPartials drops all partial signatures of this node's groups.
func (db *MemDB) ClearMyPartials() {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.myPartials = make(map[core.Hash][]core.PartialSignature)
}

// MarkRegistered records a registration for the reward height.
// It returns false if one was already recorded.
func (db *MemDB) MarkRegistered(rewardHeight int64) bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.registered[rewardHeight] {
		return false
	}
	db.registered[rewardHeight] = true

	return true
}

// Prune deletes everything with a reward height before tip minus limit.
// It returns the number of deleted entries.
func (db *MemDB) Prune(ctx context.Context, tip, limit int64) int {
	db.mu.Lock()
	defer db.mu.Unlock()

	cutoff := tip - limit
	var deleted int

	for hash, req := range db.requests {
		if req.RewardHeight < cutoff {
			delete(db.requests, hash)
			delete(db.slots, slotKey{RewardHeight: req.RewardHeight, Candidate: req.Candidate, Tier: req.Tier})
			delete(db.mySigners, hash)
			deleted++
		}
	}

	for hash, c := range db.commitments {
		if c.RewardHeight < cutoff {
			delete(db.commitments, hash)
			delete(db.bySigner, signerKey{RequestHash: c.RequestHash, Signer: c.Signer})
			deleted++
		}
	}

	for hash, g := range db.groups {
		if g.RewardHeight < cutoff {
			delete(db.groups, hash)
			delete(db.myPartials, hash)
			deleted++
		}
	}

	for hash, p := range db.partials {
		if p.RewardHeight < cutoff {
			delete(db.partials, hash)
			deleted++
		}
	}

	for height := range db.registered {
		if height < cutoff {
			delete(db.registered, height)
		}
	}

	db.updateMetricsUnsafe()

	if deleted > 0 {
		log.Debug(ctx, "Pruned lock-reward messages", z.Int("deleted", deleted), z.I64("cutoff", cutoff))
	}

	return deleted
}

// Sizes returns the number of stored entries per kind.
func (db *MemDB) Sizes() map[string]int {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.sizesUnsafe()
}

func (db *MemDB) sizesUnsafe() map[string]int {
	return map[string]int{
		"request":     len(db.requests),
		"commitment":  len(db.commitments),
		"group":       len(db.groups),
		"partial":     len(db.partials),
		"my_signers":  len(db.mySigners),
		"my_partials": len(db.myPartials),
		"registered":  len(db.registered),
	}
}

func (db *MemDB) updateMetricsUnsafe() {
	for kind, size := range db.sizesUnsafe() {
		sizeGauge.WithLabelValues(kind).Set(float64(size))
	}
}
