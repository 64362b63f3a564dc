// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/spf13/cobra"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/k1util"
	"github.com/obolnetwork/lockreward/app/z"
	"github.com/obolnetwork/lockreward/p2p"
)

type createKeyConfig struct {
	PrivKeyFile string
}

func newCreateKeyCmd(runFunc func(io.Writer, createKeyConfig) error) *cobra.Command {
	var config createKeyConfig

	cmd := &cobra.Command{
		Use:   "key",
		Short: "Create a node key",
		Long:  "Creates a new secp256k1 node key used to sign lock-reward messages and as libp2p identity.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFunc(cmd.OutOrStdout(), config)
		},
	}

	cmd.Flags().StringVar(&config.PrivKeyFile, "private-key-file", ".lockreward/node-key", "The path to write the node key to.")

	return cmd
}

// runCreateKey stores a new node key to disk and prints its public key and peer ID.
// It refuses to overwrite an existing key.
func runCreateKey(w io.Writer, config createKeyConfig) error {
	if _, err := os.Stat(config.PrivKeyFile); err == nil {
		return errors.New("existing private key found, refusing to overwrite", z.Str("file", config.PrivKeyFile))
	}

	if err := os.MkdirAll(filepath.Dir(config.PrivKeyFile), 0o755); err != nil {
		return errors.Wrap(err, "create key directory")
	}

	key, err := k1.GeneratePrivateKey()
	if err != nil {
		return errors.Wrap(err, "generate private key")
	}

	if err := k1util.Save(key, config.PrivKeyFile); err != nil {
		return err
	}

	peerID, err := p2p.PeerIDFromKey(key.PubKey())
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(w, "Created key: %s\n", config.PrivKeyFile)
	_, _ = fmt.Fprintf(w, "Public key: %s\n", hex.EncodeToString(key.PubKey().SerializeCompressed()))
	_, _ = fmt.Fprintf(w, "Peer ID: %s\n", peerID)

	return nil
}
