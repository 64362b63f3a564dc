// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package core

import (
	"encoding/hex"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/z"
)

// Params are the consensus parameters of the node registry and lock-reward protocol.
type Params struct {
	// Network is the network name.
	Network string
	// GenesisStatement is the height of the first statement window.
	GenesisStatement int64
	// Lifetime is the number of blocks a node stays live after registration.
	Lifetime int64
	// LockDepth is the lookahead at which a candidate starts requesting a lock-reward.
	LockDepth int64
	// LockLoop is the minimum distance to the reward height at which requests are still (re)issued.
	LockLoop int64
	// RequestSlack is the tolerated number of blocks beyond LockDepth for protocol messages.
	RequestSlack int64
	// QuorumTop is the number of best scored nodes allowed to sign.
	QuorumTop int
	// GroupSize is the number of signers per aggregate signature.
	GroupSize int
	// QuorumTier is the tier of signing nodes.
	QuorumTier Tier
	// ScoreLag is the distance from the reward height to the block whose hash seeds quorum scores.
	ScoreLag int64
	// MaxReorgDepth is the reorg safety depth.
	MaxReorgDepth int64
	// WindowLimit is the distance after which protocol messages are pruned.
	WindowLimit int64
	// Collaterals are the per tier burn amounts registering a node.
	Collaterals map[Tier]Amount
	// OwnerPayments are the per tier owner payout amounts.
	OwnerPayments map[Tier]Amount
	// NodePayment is the per tier node operator payout amount.
	NodePayment Amount
	// BurnPubKeyHash is the hash160 of the unspendable burn destination.
	BurnPubKeyHash [20]byte
	// MarkerPubKeyHash is the hash160 of the lock-reward marker address.
	MarkerPubKeyHash [20]byte
	// AddressVersion is the base58check version byte of P2PKH addresses.
	AddressVersion byte
	// MarkerValue is the value of the marker output.
	MarkerValue Amount
}

// MetaMatured returns true if a metadata update at metaHeight is usable at height.
func (p Params) MetaMatured(metaHeight, height int64) bool {
	return height >= metaHeight+2*p.MaxReorgDepth
}

// InRequestWindow returns true if the reward height is acceptable at the tip.
func (p Params) InRequestWindow(rewardHeight, tip int64) bool {
	return rewardHeight >= tip && rewardHeight <= tip+p.LockDepth+p.RequestSlack
}

// LockRewardScanDepth returns the number of blocks scanned back for registration markers.
func (p Params) LockRewardScanDepth() int64 {
	return 3 * p.LockDepth
}

// Verify returns an error if the parameters are inconsistent.
func (p Params) Verify() error {
	switch {
	case p.Lifetime <= 0:
		return errors.New("lifetime not positive")
	case p.LockDepth <= 0:
		return errors.New("lock depth not positive")
	case p.LockLoop < 1 || p.LockLoop > p.LockDepth:
		return errors.New("lock loop out of range", z.I64("loop", p.LockLoop))
	case p.GroupSize <= 0 || p.QuorumTop < p.GroupSize:
		return errors.New("invalid quorum sizes", z.Int("top", p.QuorumTop), z.Int("group", p.GroupSize))
	case !p.QuorumTier.Valid():
		return errors.New("invalid quorum tier")
	case p.ScoreLag <= 0:
		return errors.New("score lag not positive")
	}

	for _, tier := range AllTiers() {
		if p.Collaterals[tier] <= 0 {
			return errors.New("missing collateral amount", z.Str("tier", tier.String()))
		}
		if p.OwnerPayments[tier] <= 0 {
			return errors.New("missing owner payment", z.Str("tier", tier.String()))
		}
	}

	return nil
}

// MainnetParams returns the mainnet parameters.
func MainnetParams() Params {
	return Params{
		Network:          "mainnet",
		GenesisStatement: 250000,
		Lifetime:         262800,
		LockDepth:        50,
		LockLoop:         10,
		RequestSlack:     2,
		QuorumTop:        16,
		GroupSize:        4,
		QuorumTier:       TierBIG,
		ScoreLag:         101,
		MaxReorgDepth:    55,
		WindowLimit:      10,
		Collaterals: map[Tier]Amount{
			TierBIG: 1_000_000 * Coin,
			TierMID: 500_000 * Coin,
			TierLIL: 100_000 * Coin,
		},
		OwnerPayments: map[Tier]Amount{
			TierBIG: 752 * Coin,
			TierMID: 360 * Coin,
			TierLIL: 70 * Coin,
		},
		NodePayment:      Coin / 100,
		BurnPubKeyHash:   mustKeyID("ebaf5e43c7a8d6a5b1a4d6a1d1c8b2f57c1b0d1e"),
		MarkerPubKeyHash: mustKeyID("5a7d3c1e9f0b2a4c6e8d0f1a3b5c7e9d1f2a4b6c"),
		AddressVersion:   0x3f,
		MarkerValue:      Coin / 1000,
	}
}

// TestnetParams returns the testnet parameters.
func TestnetParams() Params {
	p := MainnetParams()
	p.Network = "testnet"
	p.GenesisStatement = 500
	p.Lifetime = 5040
	p.LockDepth = 12
	p.LockLoop = 3
	p.QuorumTop = 20
	p.GroupSize = 3
	p.MaxReorgDepth = 14
	p.BurnPubKeyHash = mustKeyID("2c5a8e1f3b7d9c0e4a6f8b1d3e5c7a9f0b2d4e6a")
	p.MarkerPubKeyHash = mustKeyID("9e1b3d5f7a0c2e4b6d8f1a3c5e7b9d0f2a4c6e8b")
	p.AddressVersion = 0x6f

	return p
}

// RegtestParams returns the local regression test parameters.
func RegtestParams() Params {
	p := TestnetParams()
	p.Network = "regtest"
	p.GenesisStatement = 100
	p.LockDepth = 5
	p.LockLoop = 1
	p.QuorumTop = 5
	p.GroupSize = 2

	return p
}

// ParamsForNetwork returns the parameters of the named network.
func ParamsForNetwork(network string) (Params, error) {
	switch network {
	case "mainnet":
		return MainnetParams(), nil
	case "testnet":
		return TestnetParams(), nil
	case "regtest":
		return RegtestParams(), nil
	default:
		return Params{}, errors.New("unknown network", z.Str("network", network))
	}
}

func mustKeyID(s string) [20]byte {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 20 {
		panic("invalid key id: " + s)
	}

	var resp [20]byte
	copy(resp[:], b)

	return resp
}

// TierForCollateral returns the tier registered by burning the amount or TierUnknown.
func (p Params) TierForCollateral(amount Amount) Tier {
	for _, tier := range AllTiers() {
		if p.Collaterals[tier] == amount {
			return tier
		}
	}

	return TierUnknown
}
