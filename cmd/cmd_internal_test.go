// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package cmd

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/obolnetwork/lockreward/app"
	"github.com/obolnetwork/lockreward/app/k1util"
	"github.com/obolnetwork/lockreward/app/log"
	"github.com/obolnetwork/lockreward/app/version"
	"github.com/obolnetwork/lockreward/core/chain/rpcchain"
	"github.com/obolnetwork/lockreward/core/lrex"
	"github.com/obolnetwork/lockreward/p2p"
)

func defaultRunConfig() app.Config {
	return app.Config{
		Log: log.Config{
			Level:         "info",
			Format:        "console",
			Color:         "auto",
			FileMaxSizeMB: 100,
			FileMaxFiles:  5,
		},
		P2P:            p2p.Config{TCPAddrs: []string{"0.0.0.0:3610"}},
		RPC:            rpcchain.Config{Host: "127.0.0.1:8332"},
		Network:        "mainnet",
		DataDir:        ".lockreward/data",
		PrivKeyFile:    ".lockreward/node-key",
		MonitoringAddr: "127.0.0.1:3620",
		PollPeriod:     5 * time.Second,
	}
}

func TestCmdFlags(t *testing.T) {
	withFlags := defaultRunConfig()
	withFlags.Network = "regtest"
	withFlags.Outpoint = "ab-1"
	withFlags.P2P.Peers = []string{"/ip4/1.2.3.4/tcp/3610/p2p/peer1", "/ip4/1.2.3.5/tcp/3610/p2p/peer2"}
	withFlags.PollPeriod = time.Second

	withEnv := defaultRunConfig()
	withEnv.RPC.User = "alice"
	withEnv.Log.Level = "debug"

	tests := []struct {
		Name          string
		Args          []string
		Envs          map[string]string
		VersionConfig *versionConfig
		RunConfig     *app.Config
	}{
		{
			Name:          "version verbose",
			Args:          slice("version", "--verbose"),
			VersionConfig: &versionConfig{Verbose: true},
		},
		{
			Name:          "version no verbose",
			Args:          slice("version", "--verbose=false"),
			VersionConfig: &versionConfig{Verbose: false},
		},
		{
			Name:      "run defaults",
			Args:      slice("run"),
			RunConfig: ptr(defaultRunConfig()),
		},
		{
			Name: "run with flags",
			Args: slice("run", "--network=regtest", "--outpoint=ab-1", "--poll-period=1s",
				"--p2p-peers=/ip4/1.2.3.4/tcp/3610/p2p/peer1,/ip4/1.2.3.5/tcp/3610/p2p/peer2"),
			RunConfig: &withFlags,
		},
		{
			Name: "run with env",
			Args: slice("run"),
			Envs: map[string]string{
				"LOCKREWARD_RPC_USER":  "alice",
				"LOCKREWARD_LOG_LEVEL": "debug",
			},
			RunConfig: &withEnv,
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			for k, v := range test.Envs {
				t.Setenv(k, v)
			}

			root := newRootCmd(
				newVersionCmd(func(_ io.Writer, config versionConfig) {
					require.NotNil(t, test.VersionConfig)
					require.Equal(t, *test.VersionConfig, config)
				}),
				newRunCmd(func(_ context.Context, config app.Config) error {
					require.NotNil(t, test.RunConfig)
					require.Equal(t, *test.RunConfig, config)

					return nil
				}),
			)

			root.SetArgs(test.Args)
			require.NoError(t, root.Execute())
		})
	}
}

func TestRunVersionCmd(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		var buf bytes.Buffer

		runVersionCmd(&buf, versionConfig{Verbose: false})

		str := buf.String()
		require.Contains(t, str, "git_commit_hash")
		require.Contains(t, str, "git_commit_time")
		require.NotContains(t, str, "Package:")

		parts := strings.Split(strings.TrimSpace(str), " ")
		require.Len(t, parts, 2)

		semver, err := version.Parse(parts[0])
		require.NoError(t, err)
		require.Equal(t, version.Version, semver)
	})

	t.Run("verbose", func(t *testing.T) {
		var buf bytes.Buffer

		runVersionCmd(&buf, versionConfig{Verbose: true})

		str := buf.String()
		require.Contains(t, str, "Package:")
		require.Contains(t, str, "Dependencies:")
		require.Contains(t, str, "Protocols:")
		require.Contains(t, str, string(lrex.Protocols()[0]))
	})
}

func TestCreateKey(t *testing.T) {
	file := filepath.Join(t.TempDir(), "keys", "node-key")

	var buf bytes.Buffer
	require.NoError(t, runCreateKey(&buf, createKeyConfig{PrivKeyFile: file}))

	key, err := k1util.Load(file)
	require.NoError(t, err)
	require.Contains(t, buf.String(), hex.EncodeToString(key.PubKey().SerializeCompressed()))

	peerID, err := p2p.PeerIDFromKey(key.PubKey())
	require.NoError(t, err)
	require.Contains(t, buf.String(), peerID.String())

	err = runCreateKey(&buf, createKeyConfig{PrivKeyFile: file})
	require.ErrorContains(t, err, "refusing to overwrite")
}

// slice is a convenience function for creating string slice literals.
func slice(strs ...string) []string {
	return strs
}

func ptr[T any](t T) *T {
	return &t
}
