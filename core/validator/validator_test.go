// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package validator_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/core"
	"github.com/obolnetwork/lockreward/core/chain"
	"github.com/obolnetwork/lockreward/core/metadata"
	"github.com/obolnetwork/lockreward/core/validator"
	"github.com/obolnetwork/lockreward/testutil"
)

var validSig = bytes.Repeat([]byte{1}, core.SchnorrSigLen)

type stmt map[int64]core.NodeRecord

func (s stmt) Resolve(height int64, tier core.Tier) (core.NodeRecord, bool) {
	rec, ok := s[height]
	if !ok || rec.Tier != tier {
		return core.NodeRecord{}, false
	}

	return rec, true
}

// checker accepts registrations carrying validSig.
type checker struct{}

func (checker) VerifyRegistration(_ core.NodeRecord, reg core.Registration) error {
	if !bytes.Equal(reg.Sig, validSig) {
		return errors.New("invalid signature")
	}

	return nil
}

// blocks serves the blocks it contains and errors for all others.
type blocks map[int64]core.Block

func (b blocks) BlockByHeight(_ context.Context, height int64) (core.Block, error) {
	block, ok := b[height]
	if !ok {
		return core.Block{}, errors.New("block not found")
	}

	return block, nil
}

type infoStore struct {
	markers []chain.Marker
}

func (s *infoStore) PutMarkers(_ context.Context, markers []chain.Marker) error {
	s.markers = append(s.markers, markers...)
	return nil
}

func (s *infoStore) MarkersInRange(_ context.Context, from, to int64) ([]chain.Marker, error) {
	var resp []chain.Marker
	for _, m := range s.markers {
		if m.Height >= from && m.Height <= to {
			resp = append(resp, m)
		}
	}

	return resp, nil
}

type fixture struct {
	params    core.Params
	candidate core.NodeRecord
	pubkey    []byte
	dir       *metadata.Directory
	stmt      stmt
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	params := core.RegtestParams()
	candidate := testutil.RandomRecord(core.TierMID, 10, 1000)
	pubkey := testutil.RandomKey(t).PubKey().SerializeCompressed()

	dir := metadata.NewDirectory()
	require.NoError(t, dir.Update(candidate.MetadataID, pubkey, "addr", 0))

	return fixture{
		params:    params,
		candidate: candidate,
		pubkey:    pubkey,
		dir:       dir,
		stmt:      stmt{200: candidate},
	}
}

// markerBlock returns a block at height embedding the registration sent by the key.
func (f fixture) markerBlock(t *testing.T, height int64, reg core.Registration, pubkey []byte) core.Block {
	t.Helper()

	script, err := chain.MarkerScript(f.params, reg.String())
	require.NoError(t, err)

	return core.Block{
		Height: height,
		Txs: []core.Tx{{
			Hash:    testutil.RandomHash(),
			Inputs:  []core.TxIn{{PrevOut: testutil.RandomOutpoint(), PrevScript: chain.PubKeyScript(pubkey)}},
			Outputs: []core.TxOut{{Value: f.params.MarkerValue, Script: script}},
		}},
	}
}

func (f fixture) registration(sig []byte) core.Registration {
	return core.Registration{
		RewardHeight: 200,
		Tier:         core.TierMID,
		Sig:          sig,
		SignerRanks:  []int{1, 2},
	}
}

// chainWith returns all blocks scanned for height 200 with the marker block at 195.
func (f fixture) chainWith(marker core.Block) blocks {
	resp := make(blocks)
	for h := 200 - f.params.LockRewardScanDepth(); h < 200; h++ {
		resp[h] = core.Block{Height: h}
	}
	resp[marker.Height] = marker

	return resp
}

func TestExpectedPayouts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	burn := chain.BurnScript(f.params)

	bs := f.chainWith(f.markerBlock(t, 195, f.registration(validSig), f.pubkey))
	v := validator.New(f.params, f.stmt, f.dir, bs, checker{}, nil)

	expected, err := v.ExpectedPayouts(ctx, 200)
	require.NoError(t, err)
	require.Len(t, expected, validator.PayoutCount)

	require.Equal(t, burn, expected[0].Script)
	require.Equal(t, f.candidate.OwnerScript, expected[1].Script)
	require.Equal(t, f.params.OwnerPayments[core.TierMID], expected[1].Value)
	require.Equal(t, burn, expected[2].Script)
	require.Equal(t, burn, expected[3].Script)
	require.Equal(t, chain.PubKeyScript(f.pubkey), expected[4].Script)
	require.Equal(t, f.params.NodePayment, expected[4].Value)
	require.Equal(t, burn, expected[5].Script)

	require.NoError(t, v.ValidatePayouts(ctx, 200, expected))
	require.ErrorContains(t, v.ValidatePayouts(ctx, 200, expected[:5]), "invalid payout count")

	invalid := append([]core.TxOut(nil), expected...)
	invalid[1].Value++
	require.ErrorContains(t, v.ValidatePayouts(ctx, 200, invalid), "invalid payout amount")

	// Burning the candidate's payout is also invalid.
	invalid = append([]core.TxOut(nil), expected...)
	invalid[1].Script = burn
	require.ErrorContains(t, v.ValidatePayouts(ctx, 200, invalid), "invalid payout script")
}

func TestInvalidRegistrations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	other := testutil.RandomKey(t).PubKey().SerializeCompressed()

	tests := []struct {
		name  string
		block core.Block
	}{
		{
			name:  "invalid signature",
			block: f.markerBlock(t, 195, f.registration(bytes.Repeat([]byte{2}, core.SchnorrSigLen)), f.pubkey),
		},
		{
			name:  "foreign sender",
			block: f.markerBlock(t, 195, f.registration(validSig), other),
		},
		{
			name: "other height",
			block: func() core.Block {
				reg := f.registration(validSig)
				reg.RewardHeight = 201
				return f.markerBlock(t, 195, reg, f.pubkey)
			}(),
		},
		{
			name:  "too old",
			block: f.markerBlock(t, 200-f.params.LockRewardScanDepth()-1, f.registration(validSig), f.pubkey),
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			v := validator.New(f.params, f.stmt, f.dir, f.chainWith(test.block), checker{}, nil)

			ok, err := v.HasValidRegistration(ctx, f.candidate, 200)
			require.NoError(t, err)
			require.False(t, ok)

			expected, err := v.ExpectedPayouts(ctx, 200)
			require.NoError(t, err)
			for _, out := range expected {
				require.Equal(t, chain.BurnScript(f.params), out.Script)
			}
		})
	}
}

func TestHistoricalKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Rotate the metadata key, the marker was sent by the old key.
	rotated := testutil.RandomKey(t).PubKey().SerializeCompressed()
	require.NoError(t, f.dir.Update(f.candidate.MetadataID, rotated, "addr", 50))

	v := validator.New(f.params, f.stmt, f.dir, f.chainWith(f.markerBlock(t, 195, f.registration(validSig), f.pubkey)), checker{}, nil)

	ok, err := v.HasValidRegistration(ctx, f.candidate, 200)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestInfoStoreFallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	store := new(infoStore)
	marker := f.markerBlock(t, 195, f.registration(validSig), f.pubkey)

	v := validator.New(f.params, f.stmt, f.dir, blocks{}, checker{}, store)
	require.NoError(t, v.ImportBlock(ctx, marker))
	require.Len(t, store.markers, 1)

	// Blocks are neither tracked nor available, the stored markers are used.
	ok, err := v.HasValidRegistration(ctx, f.candidate, 200)
	require.NoError(t, err)
	require.True(t, ok)

	// Without a store, missing blocks are an error.
	v = validator.New(f.params, f.stmt, f.dir, blocks{}, checker{}, nil)
	_, err = v.HasValidRegistration(ctx, f.candidate, 200)
	require.ErrorContains(t, err, "fetch block")
}

func TestTrackedBlocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	marker := f.markerBlock(t, 195, f.registration(validSig), f.pubkey)

	// Tracked blocks are used without fetching.
	v := validator.New(f.params, f.stmt, f.dir, blocks{}, checker{}, nil)
	for h := 200 - f.params.LockRewardScanDepth(); h < 200; h++ {
		block := core.Block{Height: h}
		if h == marker.Height {
			block = marker
		}
		require.NoError(t, v.ImportBlock(ctx, block))
	}

	ok, err := v.HasValidRegistration(ctx, f.candidate, 200)
	require.NoError(t, err)
	require.True(t, ok)

	// A reorg restarts tracking, so the scan range is no longer covered.
	require.NoError(t, v.ImportBlock(ctx, core.Block{Height: 198}))
	_, err = v.HasValidRegistration(ctx, f.candidate, 200)
	require.ErrorContains(t, err, "fetch block")
}
