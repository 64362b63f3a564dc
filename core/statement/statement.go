// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package statement partitions block heights of each tier into contiguous windows sized to the
// live node count at window start and resolves the reward candidate of a height.
package statement

import (
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/obolnetwork/lockreward/app/log"
	"github.com/obolnetwork/lockreward/app/z"
	"github.com/obolnetwork/lockreward/core"
)

const defaultTreeDegree = 16

func windowLess(a, b core.Window) bool {
	return a.Start < b.Start
}

// Registry is the subset of the node registry used by the builder.
type Registry interface {
	Get(op core.Outpoint) (core.NodeRecord, bool)
	CountLive(tier core.Tier, height int64) int64
	RankAt(tier core.Tier, height int64, op core.Outpoint) (int, bool)
	AtRank(tier core.Tier, height int64, rank int) (core.NodeRecord, bool)
	Live(tier core.Tier, height int64) []core.NodeRecord
	RecomputeRanks(tier core.Tier, height int64) int
	Generation(tier core.Tier) uint64
}

// New returns a new statement builder.
func New(params core.Params, reg Registry) *Builder {
	b := &Builder{
		params:  params,
		reg:     reg,
		windows: make(map[core.Tier]*btree.BTreeG[core.Window]),
		cursors: make(map[core.Tier]int64),
		tips:    make(map[core.Tier]int64),
		ranked:  make(map[core.Tier]int64),
		gens:    make(map[core.Tier]uint64),
	}
	for _, tier := range core.AllTiers() {
		b.windows[tier] = btree.NewG(defaultTreeDegree, windowLess)
		b.cursors[tier] = params.GenesisStatement
	}

	return b
}

// Builder builds and resolves the per tier statements.
type Builder struct {
	mu      sync.Mutex
	params  core.Params
	reg     Registry
	windows map[core.Tier]*btree.BTreeG[core.Window]
	// cursors are the first heights not yet covered by a final window or skipped as empty.
	cursors map[core.Tier]int64
	// tips are the chain heights of the last Extend; windows starting after it are speculative.
	tips map[core.Tier]int64
	// ranked are the window starts whose ranks were last written to the registry.
	ranked map[core.Tier]int64
	// gens are the registry generations the windows were last verified against.
	gens map[core.Tier]uint64
}

// Extend extends the tier's statement up to the chain height plus one speculative window past it.
// If the registry changed since the last call, the statement is first re-verified from genesis
// so it only depends on the registry content, not on the Extend history.
func (b *Builder) Extend(ctx context.Context, tier core.Tier, chainHeight int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.revalidateUnsafe(ctx, tier)
	b.dropSpeculativeUnsafe(tier, chainHeight)

	tree := b.windows[tier]
	boundary := b.cursors[tier]
	if last, ok := tree.Max(); ok && last.End() > boundary {
		boundary = last.End()
	}

	for boundary < chainHeight {
		size := b.reg.CountLive(tier, boundary)
		if size == 0 {
			boundary++
			continue
		}

		tree.ReplaceOrInsert(core.Window{Start: boundary, Size: size})
		boundary += size
	}
	b.cursors[tier] = boundary
	b.tips[tier] = chainHeight

	// Speculative window past the tip.
	if size := b.reg.CountLive(tier, boundary); size > 0 {
		tree.ReplaceOrInsert(core.Window{Start: boundary, Size: size})
	}

	b.recomputeRanksUnsafe(tier, chainHeight)
	b.updateMetricsUnsafe(tier, chainHeight)
}

// Revalidate re-verifies the tier's windows, speculative ones included, if the registry changed
// since the last verification. The first window not matching the live count at its start, or
// the first skipped height that now has live nodes, is dropped with all later windows.
// It returns true if any window was dropped.
func (b *Builder) Revalidate(ctx context.Context, tier core.Tier) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.revalidateUnsafe(ctx, tier)
}

func (b *Builder) revalidateUnsafe(ctx context.Context, tier core.Tier) bool {
	gen := b.reg.Generation(tier)
	if gen == b.gens[tier] {
		return false
	}
	b.gens[tier] = gen

	// firstLive returns the first height in [from, to) with live nodes.
	firstLive := func(from, to int64) (int64, bool) {
		for h := from; h < to; h++ {
			if b.reg.CountLive(tier, h) > 0 {
				return h, true
			}
		}

		return 0, false
	}

	var (
		next    = b.params.GenesisStatement
		invalid int64
		found   bool
	)
	b.windows[tier].Ascend(func(w core.Window) bool {
		if invalid, found = firstLive(next, w.Start); found {
			return false
		}

		if size := b.reg.CountLive(tier, w.Start); size != w.Size {
			invalid, found = w.Start, true
			return false
		}
		next = w.End()

		return true
	})
	if !found {
		invalid, found = firstLive(next, b.cursors[tier])
	}
	if !found {
		return false
	}

	log.Warn(ctx, "Statement changed after registry update", nil,
		z.Str("tier", tier.String()), z.I64("from", invalid))

	b.truncateUnsafe(tier, invalid)
	revalidateCounter.WithLabelValues(tier.String()).Inc()

	return true
}

// truncateUnsafe drops all windows starting at or after start.
func (b *Builder) truncateUnsafe(tier core.Tier, start int64) {
	tree := b.windows[tier]

	var drop []core.Window
	tree.AscendGreaterOrEqual(core.Window{Start: start}, func(w core.Window) bool {
		drop = append(drop, w)
		return true
	})
	for _, w := range drop {
		tree.Delete(w)
	}

	if b.cursors[tier] > start {
		b.cursors[tier] = start
	}
	delete(b.ranked, tier)
}

// dropSpeculativeUnsafe drops windows starting after the chain height.
func (b *Builder) dropSpeculativeUnsafe(tier core.Tier, chainHeight int64) {
	tree := b.windows[tier]

	var drop []core.Window
	tree.AscendGreaterOrEqual(core.Window{Start: chainHeight + 1}, func(w core.Window) bool {
		drop = append(drop, w)
		return true
	})
	for _, w := range drop {
		tree.Delete(w)
	}
}

// recomputeRanksUnsafe writes ranks to the registry on window transition.
func (b *Builder) recomputeRanksUnsafe(tier core.Tier, chainHeight int64) {
	w, ok := b.windowAtUnsafe(tier, chainHeight)
	if !ok || b.ranked[tier] == w.Start {
		return
	}

	b.reg.RecomputeRanks(tier, w.Start)
	b.ranked[tier] = w.Start
}

// Window returns the tier's window containing the height.
func (b *Builder) Window(tier core.Tier, height int64) (core.Window, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.windowAtUnsafe(tier, height)
}

func (b *Builder) windowAtUnsafe(tier core.Tier, height int64) (core.Window, bool) {
	tree, ok := b.windows[tier]
	if !ok {
		return core.Window{}, false
	}

	var (
		resp  core.Window
		found bool
	)
	tree.DescendLessOrEqual(core.Window{Start: height}, func(w core.Window) bool {
		resp, found = w, w.Contains(height)
		return false
	})

	return resp, found
}

// LastWindow returns the tier's last window, which may be speculative.
func (b *Builder) LastWindow(tier core.Tier) (core.Window, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.windows[tier].Max()
}

// Resolve returns the reward candidate of the tier at height or false if none is resolvable.
// No candidate is a valid state, not an error.
func (b *Builder) Resolve(height int64, tier core.Tier) (core.NodeRecord, bool) {
	w, ok := b.Window(tier, height)
	if !ok {
		return core.NodeRecord{}, false
	}

	return b.reg.AtRank(tier, w.Start, int(height-w.Start+1))
}

// Ranks returns the tier's ranked live records at the start of the window containing height.
func (b *Builder) Ranks(height int64, tier core.Tier) []core.NodeRecord {
	w, ok := b.Window(tier, height)
	if !ok {
		return nil
	}

	return b.reg.Live(tier, w.Start)
}

// NextRewardHeight returns the next reward height of the node if it is within the lock depth
// of the tip, else 0. Case 1: the node is not yet paid in the last window. Case 2: the node's
// rank in the following window, computed speculatively and re-validated by the next Extend.
func (b *Builder) NextRewardHeight(op core.Outpoint, tip int64) int64 {
	rec, ok := b.reg.Get(op)
	if !ok {
		return 0
	}

	last, ok := b.LastWindow(rec.Tier)
	if !ok || last.Size <= b.params.LockDepth {
		return 0
	}

	if rank, ok := b.reg.RankAt(rec.Tier, last.Start, op); ok {
		reward := last.Start + int64(rank) - 1
		if tip <= reward {
			if reward-tip <= b.params.LockDepth {
				return reward
			}

			return 0
		}
	}

	next := last.End()
	if rec.ExpiryHeight < next {
		return 0
	}

	rank, ok := b.reg.RankAt(rec.Tier, next, op)
	if !ok {
		return 0
	}

	reward := next + int64(rank) - 1
	if reward-tip <= b.params.LockDepth {
		return reward
	}

	return 0
}

// Windows returns the tier's windows in order.
func (b *Builder) Windows(tier core.Tier) []core.Window {
	b.mu.Lock()
	defer b.mu.Unlock()

	var resp []core.Window
	b.windows[tier].Ascend(func(w core.Window) bool {
		resp = append(resp, w)
		return true
	})

	return resp
}

// Tip returns the chain height of the tier's last Extend.
func (b *Builder) Tip(tier core.Tier) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.tips[tier]
}

// Restore replaces the tier's statement with the snapshot windows extended at tip.
// Windows starting after tip are dropped since they were speculative.
func (b *Builder) Restore(tier core.Tier, windows []core.Window, tip int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tree := btree.NewG(defaultTreeDegree, windowLess)
	cursor := b.params.GenesisStatement
	for _, w := range windows {
		if w.Size <= 0 || w.Start > tip {
			continue
		}
		tree.ReplaceOrInsert(w)
		if w.End() > cursor {
			cursor = w.End()
		}
	}

	b.windows[tier] = tree
	b.cursors[tier] = cursor
	b.tips[tier] = tip
	delete(b.ranked, tier)
	delete(b.gens, tier)
}

func (b *Builder) updateMetricsUnsafe(tier core.Tier, chainHeight int64) {
	windowsGauge.WithLabelValues(tier.String()).Set(float64(b.windows[tier].Len()))
	if w, ok := b.windowAtUnsafe(tier, chainHeight); ok {
		windowSizeGauge.WithLabelValues(tier.String()).Set(float64(w.Size))
	}
}
