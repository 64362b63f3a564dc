// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package registry provides the owned node registry. Confirmed records are never deleted;
// they are only mutated via Add, Promote, Expire, MarkPaid and RecomputeRanks.
package registry

import (
	"sync"

	"github.com/google/btree"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/z"
	"github.com/obolnetwork/lockreward/core"
)

const defaultTreeDegree = 32

// less orders records by registration height, ties broken by outpoint.
func less(a, b *core.NodeRecord) bool {
	if a.RegistrationHeight != b.RegistrationHeight {
		return a.RegistrationHeight < b.RegistrationHeight
	}

	return a.Outpoint.Compare(b.Outpoint) < 0
}

var _ btree.LessFunc[*core.NodeRecord] = less

// New returns a new empty registry.
func New() *Registry {
	byTier := make(map[core.Tier]*btree.BTreeG[*core.NodeRecord])
	for _, tier := range core.AllTiers() {
		byTier[tier] = btree.NewG(defaultTreeDegree, less)
	}

	return &Registry{
		records:     make(map[core.Outpoint]*core.NodeRecord),
		byTier:      byTier,
		staged:      make(map[core.Outpoint]core.NodeRecord),
		expired:     make(map[core.Outpoint]bool),
		generations: make(map[core.Tier]uint64),
	}
}

// Registry is the durable set of confirmed nodes plus the non-matured staging area.
type Registry struct {
	mu      sync.RWMutex
	records map[core.Outpoint]*core.NodeRecord
	byTier  map[core.Tier]*btree.BTreeG[*core.NodeRecord]
	staged  map[core.Outpoint]core.NodeRecord
	expired map[core.Outpoint]bool
	// generations count confirmed record insertions per tier, the only mutation changing
	// live counts of past heights.
	generations map[core.Tier]uint64
}

// Stage adds a new record to the non-matured staging area.
// It is a noop if the record is already staged or confirmed.
func (r *Registry) Stage(rec core.NodeRecord) error {
	if err := rec.Verify(); err != nil {
		return errors.Wrap(err, "invalid record", z.Str("outpoint", rec.Outpoint.String()))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.Outpoint]; ok {
		return nil
	}

	r.staged[rec.Outpoint] = rec

	return nil
}

// Promote moves staged records registered at or before tip-maxReorgDepth into the confirmed registry.
// It returns the promoted records ordered by registration.
func (r *Registry) Promote(tip, maxReorgDepth int64) []core.NodeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	var promoted []*core.NodeRecord
	for op, rec := range r.staged {
		if rec.RegistrationHeight > tip-maxReorgDepth {
			continue
		}

		delete(r.staged, op)
		clone := rec
		r.insertUnsafe(&clone)
		promoted = append(promoted, &clone)
	}

	return sortedCopies(promoted)
}

// Add inserts a confirmed record directly, bypassing the staging area.
func (r *Registry) Add(rec core.NodeRecord) error {
	if err := rec.Verify(); err != nil {
		return errors.Wrap(err, "invalid record", z.Str("outpoint", rec.Outpoint.String()))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.Outpoint]; ok {
		return errors.New("duplicate record", z.Str("outpoint", rec.Outpoint.String()))
	}

	delete(r.staged, rec.Outpoint)
	r.insertUnsafe(&rec)

	return nil
}

func (r *Registry) insertUnsafe(rec *core.NodeRecord) {
	r.records[rec.Outpoint] = rec
	r.byTier[rec.Tier].ReplaceOrInsert(rec)
	r.generations[rec.Tier]++
}

// Generation returns the tier's insertion counter. It increases whenever a confirmed record
// is inserted or the registry is restored.
func (r *Registry) Generation(tier core.Tier) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.generations[tier]
}

// Expire flags records whose expiry is before height and returns the newly expired records.
// Expired records are retained and remain resolvable for historical heights.
func (r *Registry) Expire(height int64) []core.NodeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	var resp []*core.NodeRecord
	for op, rec := range r.records {
		if rec.ExpiryHeight >= height || r.expired[op] {
			continue
		}
		r.expired[op] = true
		rec.Rank = 0
		resp = append(resp, rec)
	}

	return sortedCopies(resp)
}

// MarkPaid records the last paid height of a node.
func (r *Registry) MarkPaid(op core.Outpoint, height int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[op]
	if !ok {
		return errors.Wrap(core.ErrNotFound, "mark paid", z.Str("outpoint", op.String()))
	}

	if height > rec.LastPaidHeight {
		rec.LastPaidHeight = height
	}

	return nil
}

// Get returns a copy of the confirmed record.
func (r *Registry) Get(op core.Outpoint) (core.NodeRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[op]
	if !ok {
		return core.NodeRecord{}, false
	}

	return *rec, true
}

// Live returns the confirmed records of the tier live at height,
// ordered by registration height then outpoint.
func (r *Registry) Live(tier core.Tier, height int64) []core.NodeRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var resp []core.NodeRecord
	r.ascendLiveUnsafe(tier, height, func(rec *core.NodeRecord) {
		resp = append(resp, *rec)
	})

	return resp
}

// CountLive returns the number of confirmed records of the tier live at height.
func (r *Registry) CountLive(tier core.Tier, height int64) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	r.ascendLiveUnsafe(tier, height, func(*core.NodeRecord) {
		n++
	})

	return n
}

// RankAt returns the 1-based registration rank of the node among the tier's live records at height.
func (r *Registry) RankAt(tier core.Tier, height int64, op core.Outpoint) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		rank  int
		found bool
	)
	r.ascendLiveUnsafe(tier, height, func(rec *core.NodeRecord) {
		if found {
			return
		}
		rank++
		found = rec.Outpoint == op
	})

	return rank, found
}

// AtRank returns the live record of the tier with the 1-based registration rank at height.
func (r *Registry) AtRank(tier core.Tier, height int64, rank int) (core.NodeRecord, bool) {
	if rank <= 0 {
		return core.NodeRecord{}, false
	}

	live := r.Live(tier, height)
	if rank > len(live) {
		return core.NodeRecord{}, false
	}

	return live[rank-1], true
}

// RecomputeRanks assigns ranks 1..N to the tier's live records at height and returns N.
// Records of the tier not live at height get rank 0. Repeated invocation is idempotent.
func (r *Registry) RecomputeRanks(tier core.Tier, height int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rank int
	r.byTier[tier].Ascend(func(rec *core.NodeRecord) bool {
		if rec.LiveAt(height) {
			rank++
			rec.Rank = rank
		} else {
			rec.Rank = 0
		}

		return true
	})

	return rank
}

// ascendLiveUnsafe calls fn for each live record of the tier in rank order.
func (r *Registry) ascendLiveUnsafe(tier core.Tier, height int64, fn func(*core.NodeRecord)) {
	tree, ok := r.byTier[tier]
	if !ok {
		return
	}

	tree.Ascend(func(rec *core.NodeRecord) bool {
		if rec.RegistrationHeight > height {
			return false
		}
		if rec.LiveAt(height) {
			fn(rec)
		}

		return true
	})
}

// Records returns copies of all confirmed records ordered by tier, registration and outpoint.
func (r *Registry) Records() []core.NodeRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var resp []core.NodeRecord
	for _, tier := range core.AllTiers() {
		r.byTier[tier].Ascend(func(rec *core.NodeRecord) bool {
			resp = append(resp, *rec)
			return true
		})
	}

	return resp
}

// Staged returns copies of all staged records.
func (r *Registry) Staged() []core.NodeRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	staged := make([]*core.NodeRecord, 0, len(r.staged))
	for _, rec := range r.staged {
		clone := rec
		staged = append(staged, &clone)
	}

	return sortedCopies(staged)
}

// Len returns the number of confirmed and staged records.
func (r *Registry) Len() (confirmed int, staged int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.records), len(r.staged)
}

// Restore replaces the registry content with the snapshot records.
func (r *Registry) Restore(confirmed, staged []core.NodeRecord) error {
	fresh := New()
	for _, rec := range confirmed {
		if err := fresh.Add(rec); err != nil {
			return err
		}
	}
	for _, rec := range staged {
		if err := fresh.Stage(rec); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = fresh.records
	r.byTier = fresh.byTier
	r.staged = fresh.staged
	r.expired = fresh.expired
	for _, tier := range core.AllTiers() {
		r.generations[tier] += fresh.generations[tier] + 1
	}

	return nil
}

// sortedCopies returns copies of the records in registry order.
func sortedCopies(recs []*core.NodeRecord) []core.NodeRecord {
	tree := btree.NewG(defaultTreeDegree, less)
	for _, rec := range recs {
		tree.ReplaceOrInsert(rec)
	}

	resp := make([]core.NodeRecord, 0, len(recs))
	tree.Ascend(func(rec *core.NodeRecord) bool {
		resp = append(resp, *rec)
		return true
	})

	return resp
}
