// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package validator builds and validates the node registry payouts of a block.
package validator

import (
	"bytes"
	"context"
	"sync"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/log"
	"github.com/obolnetwork/lockreward/app/z"
	"github.com/obolnetwork/lockreward/core"
	"github.com/obolnetwork/lockreward/core/chain"
	"github.com/obolnetwork/lockreward/core/metadata"
)

// PayoutCount is the number of registry payout outputs of a block: one owner payout
// per tier followed by one node operator payout per tier.
const PayoutCount = 6

// Statement resolves reward candidates.
type Statement interface {
	Resolve(height int64, tier core.Tier) (core.NodeRecord, bool)
}

// BlockSource returns blocks by height.
type BlockSource interface {
	BlockByHeight(ctx context.Context, height int64) (core.Block, error)
}

// Checker verifies registrations.
type Checker interface {
	VerifyRegistration(candidate core.NodeRecord, reg core.Registration) error
}

// InfoStore persists extracted markers.
type InfoStore interface {
	PutMarkers(ctx context.Context, markers []chain.Marker) error
	MarkersInRange(ctx context.Context, from, to int64) ([]chain.Marker, error)
}

// New returns a new validator. The info store is optional.
func New(params core.Params, stmt Statement, dir core.MetadataDirectory, blocks BlockSource,
	checker Checker, store InfoStore,
) *Validator {
	return &Validator{
		params:  params,
		stmt:    stmt,
		dir:     dir,
		blocks:  blocks,
		checker: checker,
		store:   store,
		tracked: make(map[int64][]chain.Marker),
	}
}

// Validator validates registry payouts.
type Validator struct {
	params  core.Params
	stmt    Statement
	dir     core.MetadataDirectory
	blocks  BlockSource
	checker Checker
	store   InfoStore

	mu      sync.Mutex
	tracked map[int64][]chain.Marker
	// first and last are the tracked block height range, last is 0 if nothing is tracked.
	first, last int64
}

// ImportBlock tracks and persists the block's markers.
func (v *Validator) ImportBlock(ctx context.Context, block core.Block) error {
	markers := chain.ExtractMarkers(v.params, block)

	v.mu.Lock()
	if v.last == 0 || block.Height != v.last+1 {
		// First block or reorg: restart the contiguous range.
		v.tracked = make(map[int64][]chain.Marker)
		v.first = block.Height
	}
	v.tracked[block.Height] = markers
	v.last = block.Height

	// Keep only what registration lookups scan.
	for h := range v.tracked {
		if h < block.Height-v.params.LockRewardScanDepth() {
			delete(v.tracked, h)
		}
	}
	if v.first < block.Height-v.params.LockRewardScanDepth() {
		v.first = block.Height - v.params.LockRewardScanDepth()
	}
	v.mu.Unlock()

	if v.store != nil && len(markers) > 0 {
		if err := v.store.PutMarkers(ctx, markers); err != nil {
			return errors.Wrap(err, "store markers", z.I64("height", block.Height))
		}
	}

	return nil
}

// markers returns the markers of the blocks scanned for the reward height's registrations.
// Tracked blocks are used if available, else blocks are fetched, else the info store is used.
func (v *Validator) markers(ctx context.Context, rewardHeight int64) ([]chain.Marker, error) {
	from, to := rewardHeight-v.params.LockRewardScanDepth(), rewardHeight-1

	v.mu.Lock()
	if v.last != 0 && v.first <= from && v.last >= to {
		var resp []chain.Marker
		for h := from; h <= to; h++ {
			resp = append(resp, v.tracked[h]...)
		}
		v.mu.Unlock()

		return resp, nil
	}
	v.mu.Unlock()

	var resp []chain.Marker
	for h := from; h <= to; h++ {
		block, err := v.blocks.BlockByHeight(ctx, h)
		if err != nil {
			if v.store == nil {
				return nil, errors.Wrap(err, "fetch block", z.I64("height", h))
			}
			log.Debug(ctx, "Block not available, using stored markers", z.I64("height", h), z.Err(err))

			return v.store.MarkersInRange(ctx, from, to)
		}
		resp = append(resp, chain.ExtractMarkers(v.params, block)...)
	}

	return resp, nil
}

// HasValidRegistration returns true if a valid registration of the candidate for the reward
// height was embedded by one of the candidate's metadata keys in the scanned blocks.
func (v *Validator) HasValidRegistration(ctx context.Context, candidate core.NodeRecord, rewardHeight int64) (bool, error) {
	markers, err := v.markers(ctx, rewardHeight)
	if err != nil {
		return false, err
	}

	meta, err := v.dir.Lookup(candidate.MetadataID)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	for _, marker := range markers {
		reg, err := core.ParseRegistration(marker.Payload, v.params.GroupSize)
		if err != nil || reg.RewardHeight != rewardHeight || reg.Tier != candidate.Tier {
			continue
		}

		if !sentByNode(marker.SenderScript, meta) {
			log.Debug(ctx, "Registration marker not sent by candidate", z.Str("tx", marker.TxHash.String()))
			continue
		}

		if err := v.checker.VerifyRegistration(candidate, reg); err != nil {
			log.Debug(ctx, "Invalid registration marker", z.Err(err), z.Str("tx", marker.TxHash.String()))
			continue
		}

		return true, nil
	}

	return false, nil
}

// sentByNode returns true if the sender script pays one of the node's metadata keys.
func sentByNode(sender []byte, meta core.Meta) bool {
	keyID, ok := chain.KeyID(sender)
	if !ok {
		return false
	}

	for _, key := range metadata.Keys(meta) {
		if bytes.Equal(btcutil.Hash160(key), keyID[:]) {
			return true
		}
	}

	return false
}

// Payee is the resolved payout of a tier.
type Payee struct {
	Tier      core.Tier
	Candidate core.NodeRecord
	// Paid is true if the candidate has a valid registration, else its payouts are burnt.
	Paid bool
	// NodeScript is the node operator payout script of a paid candidate.
	NodeScript []byte
}

// Payees returns the payees of the height in payout tier order.
func (v *Validator) Payees(ctx context.Context, height int64) ([]Payee, error) {
	var resp []Payee
	for _, tier := range core.AllTiers() {
		payee := Payee{Tier: tier}

		candidate, ok := v.stmt.Resolve(height, tier)
		if ok {
			payee.Candidate = candidate

			valid, err := v.HasValidRegistration(ctx, candidate, height)
			if err != nil {
				return nil, err
			}

			if valid {
				meta, err := v.dir.Lookup(candidate.MetadataID)
				if err != nil {
					return nil, err
				}
				payee.Paid = true
				payee.NodeScript = chain.PubKeyScript(meta.PubKey)
			}
		}

		resp = append(resp, payee)
	}

	return resp, nil
}

// ExpectedPayouts returns the registry payout outputs of the height: per tier the owner payout
// to the candidate or the burn destination, followed by per tier the node operator payout.
func (v *Validator) ExpectedPayouts(ctx context.Context, height int64) ([]core.TxOut, error) {
	payees, err := v.Payees(ctx, height)
	if err != nil {
		return nil, err
	}

	burn := chain.BurnScript(v.params)
	owners := make([]core.TxOut, 0, len(payees))
	nodes := make([]core.TxOut, 0, len(payees))
	for _, p := range payees {
		owner := core.TxOut{Value: v.params.OwnerPayments[p.Tier], Script: burn}
		node := core.TxOut{Value: v.params.NodePayment, Script: burn}
		if p.Paid {
			owner.Script = p.Candidate.OwnerScript
			node.Script = p.NodeScript
		}

		owners = append(owners, owner)
		nodes = append(nodes, node)
	}

	return append(owners, nodes...), nil
}

// ValidatePayouts returns an error if the registry payout outputs of the height are not
// exactly the expected payouts.
func (v *Validator) ValidatePayouts(ctx context.Context, height int64, outputs []core.TxOut) error {
	expected, err := v.ExpectedPayouts(ctx, height)
	if err != nil {
		return err
	}

	if len(outputs) != len(expected) {
		return errors.New("invalid payout count", z.Int("expected", len(expected)), z.Int("actual", len(outputs)))
	}

	for i, exp := range expected {
		if outputs[i].Value != exp.Value {
			return errors.New("invalid payout amount", z.Int("index", i),
				z.I64("expected", int64(exp.Value)), z.I64("actual", int64(outputs[i].Value)))
		} else if !bytes.Equal(outputs[i].Script, exp.Script) {
			return errors.New("invalid payout script", z.Int("index", i),
				z.Hex("expected", exp.Script), z.Hex("actual", outputs[i].Script))
		}
	}

	return nil
}
