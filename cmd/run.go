// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/obolnetwork/lockreward/app"
	"github.com/obolnetwork/lockreward/app/log"
	"github.com/obolnetwork/lockreward/core/chain/rpcchain"
	"github.com/obolnetwork/lockreward/p2p"
)

func newRunCmd(runFunc func(context.Context, app.Config) error) *cobra.Command {
	var conf app.Config

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the lockreward node",
		Long:  "Starts the long-running lockreward node tracking the node registry and running the lock-reward protocol.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFunc(cmd.Context(), conf)
		},
	}

	bindRunFlags(cmd.Flags(), &conf)
	bindDataDirFlag(cmd.Flags(), &conf.DataDir)
	bindRPCFlags(cmd.Flags(), &conf.RPC)
	bindP2PFlags(cmd.Flags(), &conf.P2P)
	bindLogFlags(cmd.Flags(), &conf.Log)

	return cmd
}

func bindRunFlags(flags *pflag.FlagSet, config *app.Config) {
	flags.StringVar(&config.Network, "network", "mainnet", "The base chain network: mainnet, testnet or regtest.")
	flags.StringVar(&config.PrivKeyFile, "private-key-file", ".lockreward/node-key", "The path to the node's metadata key, also used as libp2p identity.")
	flags.StringVar(&config.MetadataFile, "metadata-file", "", "The path to a JSON file of node metadata entries.")
	flags.StringVar(&config.Outpoint, "outpoint", "", "The registration outpoint of this node as <txid>-<index>. Empty runs an observer node.")
	flags.StringVar(&config.MonitoringAddr, "monitoring-address", "127.0.0.1:3620", "Listening address (ip and port) for the monitoring API (prometheus, livez, readyz).")
	flags.StringVar(&config.OTLPAddress, "otlp-address", "", "Listening address for OTLP gRPC tracing backend.")
	flags.DurationVar(&config.PollPeriod, "poll-period", 5*time.Second, "The period of polling the base chain tip.")
}

func bindDataDirFlag(flags *pflag.FlagSet, dataDir *string) {
	flags.StringVar(dataDir, "data-dir", ".lockreward/data", "The directory where lockreward will store all its internal data.")
}

func bindRPCFlags(flags *pflag.FlagSet, config *rpcchain.Config) {
	flags.StringVar(&config.Host, "rpc-host", "127.0.0.1:8332", "The host (ip and port) of the base chain JSON-RPC API.")
	flags.StringVar(&config.User, "rpc-user", "", "The base chain JSON-RPC username.")
	flags.StringVar(&config.Pass, "rpc-pass", "", "The base chain JSON-RPC password.")
	flags.BoolVar(&config.TLS, "rpc-tls", false, "Enables TLS for the base chain JSON-RPC API.")
}

func bindP2PFlags(flags *pflag.FlagSet, config *p2p.Config) {
	flags.StringSliceVar(&config.TCPAddrs, "p2p-tcp-address", []string{"0.0.0.0:3610"}, "Comma-separated list of listening TCP addresses (ip and port) for libP2P traffic.")
	flags.StringSliceVar(&config.Peers, "p2p-peers", nil, "Comma-separated list of peer multiaddrs including /p2p/ peer IDs to stay connected to.")
}

func bindLogFlags(flags *pflag.FlagSet, config *log.Config) {
	flags.StringVar(&config.Format, "log-format", "console", "Log format; console, logfmt or json")
	flags.StringVar(&config.Level, "log-level", "info", "Log level; debug, info, warn or error")
	flags.StringVar(&config.Color, "log-color", "auto", "Log color; auto, force, disable.")
	flags.StringVar(&config.File, "log-output-path", "", "Path in which to write on-disk logs.")
	flags.IntVar(&config.FileMaxSizeMB, "log-max-size-mb", 100, "Maximum size in megabytes of a log file before it is rotated.")
	flags.IntVar(&config.FileMaxFiles, "log-max-files", 5, "Maximum number of rotated log files to retain.")
}
