// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package registry_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/obolnetwork/lockreward/core"
	"github.com/obolnetwork/lockreward/core/registry"
	"github.com/obolnetwork/lockreward/testutil"
)

func TestStageAndPromote(t *testing.T) {
	reg := registry.New()

	early := testutil.RandomRecord(core.TierBIG, 10, 1000)
	late := testutil.RandomRecord(core.TierBIG, 50, 1000)
	require.NoError(t, reg.Stage(early))
	require.NoError(t, reg.Stage(late))

	confirmed, staged := reg.Len()
	require.Zero(t, confirmed)
	require.Equal(t, 2, staged)

	promoted := reg.Promote(60, 55)
	require.Len(t, promoted, 1)
	require.Equal(t, early.Outpoint, promoted[0].Outpoint)

	_, ok := reg.Get(late.Outpoint)
	require.False(t, ok)

	promoted = reg.Promote(105, 55)
	require.Len(t, promoted, 1)
	require.Equal(t, late.Outpoint, promoted[0].Outpoint)

	// Staging a confirmed record is a noop.
	require.NoError(t, reg.Stage(early))
	confirmed, staged = reg.Len()
	require.Equal(t, 2, confirmed)
	require.Zero(t, staged)
}

func TestAddInvalid(t *testing.T) {
	reg := registry.New()

	rec := testutil.RandomRecord(core.TierLIL, 10, 1000)
	require.NoError(t, reg.Add(rec))
	require.ErrorContains(t, reg.Add(rec), "duplicate record")

	bad := testutil.RandomRecord(core.TierLIL, 10, 0)
	require.ErrorContains(t, reg.Add(bad), "invalid record")
	require.ErrorContains(t, reg.Stage(bad), "invalid record")
}

func TestLiveOrdering(t *testing.T) {
	reg := registry.New()

	a := testutil.RandomRecord(core.TierMID, 20, 1000)
	b := testutil.RandomRecord(core.TierMID, 10, 1000)
	c := testutil.RandomRecord(core.TierMID, 20, 1000)
	d := testutil.RandomRecord(core.TierMID, 30, 5) // Expires at 35.
	other := testutil.RandomRecord(core.TierLIL, 10, 1000)

	for _, rec := range []core.NodeRecord{a, b, c, d, other} {
		require.NoError(t, reg.Add(rec))
	}

	first, second := a, c
	if c.Outpoint.Compare(a.Outpoint) < 0 {
		first, second = c, a
	}

	live := reg.Live(core.TierMID, 30)
	require.Equal(t, []core.Outpoint{b.Outpoint, first.Outpoint, second.Outpoint, d.Outpoint}, outpoints(live))
	require.EqualValues(t, 4, reg.CountLive(core.TierMID, 30))
	require.EqualValues(t, 3, reg.CountLive(core.TierMID, 36))
	require.EqualValues(t, 1, reg.CountLive(core.TierMID, 10))
	require.Zero(t, reg.CountLive(core.TierMID, 9))

	rank, ok := reg.RankAt(core.TierMID, 30, d.Outpoint)
	require.True(t, ok)
	require.Equal(t, 4, rank)

	_, ok = reg.RankAt(core.TierMID, 36, d.Outpoint)
	require.False(t, ok)

	rec, ok := reg.AtRank(core.TierMID, 30, 1)
	require.True(t, ok)
	require.Equal(t, b.Outpoint, rec.Outpoint)

	_, ok = reg.AtRank(core.TierMID, 30, 5)
	require.False(t, ok)
	_, ok = reg.AtRank(core.TierMID, 30, 0)
	require.False(t, ok)
}

func TestRecomputeRanksIdempotent(t *testing.T) {
	reg := registry.New()
	for i := 0; i < 5; i++ {
		require.NoError(t, reg.Add(testutil.RandomRecord(core.TierBIG, int64(10*(i+1)), 100)))
	}

	require.Equal(t, 5, reg.RecomputeRanks(core.TierBIG, 50))
	first := reg.Records()

	require.Equal(t, 5, reg.RecomputeRanks(core.TierBIG, 50))
	require.Equal(t, first, reg.Records())

	for i, rec := range first {
		require.Equal(t, i+1, rec.Rank)
	}

	// First node expired at 110.
	require.Equal(t, 4, reg.RecomputeRanks(core.TierBIG, 111))
	recs := reg.Records()
	require.Zero(t, recs[0].Rank)
	require.Equal(t, 1, recs[1].Rank)
}

func TestExpireAndMarkPaid(t *testing.T) {
	reg := registry.New()
	rec := testutil.RandomRecord(core.TierLIL, 10, 10)
	require.NoError(t, reg.Add(rec))

	require.Empty(t, reg.Expire(20))
	expired := reg.Expire(21)
	require.Len(t, expired, 1)
	require.Empty(t, reg.Expire(22), "only newly expired")

	// Expired records are retained.
	_, ok := reg.Get(rec.Outpoint)
	require.True(t, ok)
	require.Len(t, reg.Live(core.TierLIL, 15), 1)

	require.NoError(t, reg.MarkPaid(rec.Outpoint, 15))
	require.NoError(t, reg.MarkPaid(rec.Outpoint, 12))
	got, _ := reg.Get(rec.Outpoint)
	require.EqualValues(t, 15, got.LastPaidHeight)

	err := reg.MarkPaid(testutil.RandomOutpoint(), 1)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestRestoreDeterminism(t *testing.T) {
	reg1 := registry.New()
	for i := 0; i < 10; i++ {
		tier := core.AllTiers()[i%3]
		require.NoError(t, reg1.Add(testutil.RandomRecord(tier, int64(i%4), 100)))
	}
	staged := testutil.RandomRecord(core.TierLIL, 90, 100)
	require.NoError(t, reg1.Stage(staged))

	reg2 := registry.New()
	require.NoError(t, reg2.Restore(reg1.Records(), reg1.Staged()))

	require.Equal(t, reg1.Records(), reg2.Records())
	require.Equal(t, reg1.Staged(), reg2.Staged())

	for _, tier := range core.AllTiers() {
		require.Equal(t, reg1.Live(tier, 3), reg2.Live(tier, 3))
	}
}

func outpoints(recs []core.NodeRecord) []core.Outpoint {
	var resp []core.Outpoint
	for _, rec := range recs {
		resp = append(resp, rec.Outpoint)
	}

	return resp
}

func TestGeneration(t *testing.T) {
	reg := registry.New()
	require.Zero(t, reg.Generation(core.TierBIG))

	rec := testutil.RandomRecord(core.TierBIG, 10, 1000)
	require.NoError(t, reg.Stage(rec))
	require.Zero(t, reg.Generation(core.TierBIG))

	require.Len(t, reg.Promote(20, 5), 1)
	require.Equal(t, uint64(1), reg.Generation(core.TierBIG))
	require.Zero(t, reg.Generation(core.TierMID))

	// Paid marks and expiry don't change live counts of past heights.
	require.NoError(t, reg.MarkPaid(rec.Outpoint, 30))
	reg.Expire(2000)
	require.Equal(t, uint64(1), reg.Generation(core.TierBIG))

	gen := reg.Generation(core.TierMID)
	require.NoError(t, reg.Restore(reg.Records(), nil))
	require.Greater(t, reg.Generation(core.TierBIG), uint64(1))
	require.Greater(t, reg.Generation(core.TierMID), gen)
}
