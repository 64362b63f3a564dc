// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package core_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/obolnetwork/lockreward/core"
	"github.com/obolnetwork/lockreward/testutil"
)

func TestTiers(t *testing.T) {
	require.Equal(t, []core.Tier{core.TierBIG, core.TierMID, core.TierLIL}, core.AllTiers())

	for _, tier := range core.AllTiers() {
		require.True(t, tier.Valid())
		require.NotEqual(t, "unknown", tier.String())
	}

	require.False(t, core.TierUnknown.Valid())
	require.False(t, core.Tier(3).Valid())
}

func TestOutpoint(t *testing.T) {
	op := testutil.RandomOutpoint()

	parsed, err := core.ParseOutpoint(op.String())
	require.NoError(t, err)
	require.Equal(t, op, parsed)
	require.Len(t, op.Bytes(), 36)
	require.False(t, op.IsZero())
	require.True(t, core.Outpoint{}.IsZero())

	_, err = core.ParseOutpoint("nohyphen")
	require.ErrorContains(t, err, "invalid outpoint format")

	_, err = core.ParseOutpoint(op.Hash.String() + "-x")
	require.ErrorContains(t, err, "parse outpoint index")
}

func TestOutpointCompare(t *testing.T) {
	a := core.Outpoint{Hash: core.Hash{1}, Index: 1}
	b := core.Outpoint{Hash: core.Hash{1}, Index: 2}
	c := core.Outpoint{Hash: core.Hash{2}, Index: 0}

	require.Equal(t, 0, a.Compare(a))
	require.Equal(t, -1, a.Compare(b))
	require.Equal(t, 1, b.Compare(a))
	require.Equal(t, -1, b.Compare(c))
	require.Equal(t, 1, c.Compare(a))
}

func TestNodeRecord(t *testing.T) {
	rec := testutil.RandomRecord(core.TierMID, 100, 1000)

	require.NoError(t, rec.Verify())
	require.False(t, rec.LiveAt(99))
	require.True(t, rec.LiveAt(100))
	require.True(t, rec.LiveAt(1100))
	require.False(t, rec.LiveAt(1101))

	b, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded core.NodeRecord
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, rec, decoded)
	require.Equal(t, core.CollateralBurn, decoded.Collateral.Kind())

	rec.ExpiryHeight = rec.RegistrationHeight
	require.ErrorContains(t, rec.Verify(), "expiry not after registration")
}

func TestCollateral(t *testing.T) {
	c, err := core.NewCollateral(core.CollateralBurn, 10*core.Coin)
	require.NoError(t, err)
	require.Equal(t, 10*core.Coin, c.Value())
	require.Equal(t, "burn", c.Kind().String())

	_, err = core.NewCollateral(core.CollateralUnknown, 1)
	require.ErrorContains(t, err, "unsupported collateral kind")
}

func TestMetadataIDFor(t *testing.T) {
	op := core.Outpoint{Hash: core.Hash{0xab}, Index: 3}
	id := core.MetadataIDFor("SaddrXYZ", op)
	require.Equal(t, "SaddrXYZ-"+op.String()[:16], id)
}

func TestWindow(t *testing.T) {
	w := core.Window{Start: 40, Size: 4}
	require.EqualValues(t, 44, w.End())
	require.False(t, w.Contains(39))
	require.True(t, w.Contains(40))
	require.True(t, w.Contains(43))
	require.False(t, w.Contains(44))
}

func TestParams(t *testing.T) {
	for _, network := range []string{"mainnet", "testnet", "regtest"} {
		p, err := core.ParamsForNetwork(network)
		require.NoError(t, err)
		require.NoError(t, p.Verify())
		require.Equal(t, network, p.Network)
	}

	_, err := core.ParamsForNetwork("unknown")
	require.ErrorContains(t, err, "unknown network")

	p := core.MainnetParams()
	require.True(t, p.MetaMatured(100, 210))
	require.False(t, p.MetaMatured(100, 209))
	require.True(t, p.InRequestWindow(1000, 1000))
	require.True(t, p.InRequestWindow(1052, 1000))
	require.False(t, p.InRequestWindow(1053, 1000))
	require.False(t, p.InRequestWindow(999, 1000))
	require.EqualValues(t, 150, p.LockRewardScanDepth())
}
