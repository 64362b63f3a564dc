// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package metadata_test

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/core"
	"github.com/obolnetwork/lockreward/core/metadata"
	"github.com/obolnetwork/lockreward/testutil"
)

func TestDirectory(t *testing.T) {
	dir := metadata.NewDirectory()

	_, err := dir.Lookup("missing")
	require.True(t, errors.Is(err, core.ErrNotFound))

	key1 := testutil.RandomKey(t).PubKey().SerializeCompressed()
	key2 := testutil.RandomKey(t).PubKey().SerializeCompressed()

	require.NoError(t, dir.Update("node", key1, "/ip4/127.0.0.1/tcp/1", 10))
	require.NoError(t, dir.Update("node", key1, "/ip4/127.0.0.1/tcp/2", 20))
	require.NoError(t, dir.Update("node", key2, "/ip4/127.0.0.1/tcp/2", 30))
	require.ErrorContains(t, dir.Update("node", key1, "", 25), "stale metadata update")
	require.ErrorContains(t, dir.Update("bad", []byte{1, 2, 3}, "", 25), "parse public key")

	meta, err := dir.Lookup("node")
	require.NoError(t, err)
	require.Equal(t, key2, meta.PubKey)
	require.Equal(t, int64(30), meta.Height)
	require.Equal(t, []core.MetaKey{{PubKey: key1, Height: 10}, {PubKey: key2, Height: 30}}, meta.History)

	require.True(t, metadata.HasKey(meta, key1))
	require.True(t, metadata.HasKey(meta, key2))
	require.False(t, metadata.HasKey(meta, []byte{1}))
	require.Equal(t, [][]byte{key2, key1}, metadata.Keys(meta))

	pk1, err := dir.PubKey(key1)
	require.NoError(t, err)
	pk2, err := dir.PubKey(key1)
	require.NoError(t, err)
	require.Same(t, pk1, pk2)
}

func TestMaturedKey(t *testing.T) {
	params := core.RegtestParams() // Maturity is 2*14 blocks.
	key1 := []byte{1}
	key2 := []byte{2}
	meta := core.Meta{
		PubKey:  key2,
		Height:  100,
		History: []core.MetaKey{{PubKey: key1, Height: 10}, {PubKey: key2, Height: 100}},
	}

	tests := []struct {
		Height int64
		Key    []byte
		OK     bool
	}{
		{Height: 20, OK: false},
		{Height: 38, Key: key1, OK: true},
		{Height: 127, Key: key1, OK: true},
		{Height: 128, Key: key2, OK: true},
	}

	for _, test := range tests {
		t.Run(fmt.Sprint(test.Height), func(t *testing.T) {
			key, ok := metadata.MaturedKey(params, meta, test.Height)
			require.Equal(t, test.OK, ok)
			require.Equal(t, test.Key, key)
		})
	}
}

func TestLoadFile(t *testing.T) {
	key := testutil.RandomKey(t).PubKey().SerializeCompressed()
	path := filepath.Join(t.TempDir(), "metadata.json")
	content := fmt.Sprintf(`[{"id":"a","pubkey":"0x%s","addr":"/ip4/1.2.3.4/tcp/5","height":7}]`, hex.EncodeToString(key))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	dir := metadata.NewDirectory()
	require.NoError(t, dir.LoadFile(path))

	meta, err := dir.Lookup("a")
	require.NoError(t, err)
	require.Equal(t, key, meta.PubKey)
	require.Equal(t, "/ip4/1.2.3.4/tcp/5", meta.Addr)
	require.Equal(t, int64(7), meta.Height)

	require.Error(t, dir.LoadFile(filepath.Join(t.TempDir(), "missing.json")))
}
