// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package cmd implements the lockreward command-line interface.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	_ "go.uber.org/automaxprocs" // Automatically sets GOMAXPROCS to match Linux container CPU quota.

	"github.com/obolnetwork/lockreward/app"
	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/z"
)

const (
	// The name of our config file, without the file extension because
	// viper supports many different config file languages.
	defaultConfigFilename = "lockreward"

	// The environment variable prefix of all environment variables bound to our command line flags.
	envPrefix = "lockreward"
)

// New returns a new root cobra command that handles our command line tool.
func New() *cobra.Command {
	return newRootCmd(
		newVersionCmd(runVersionCmd),
		newRunCmd(app.Run),
		newCreateCmd(
			newCreateKeyCmd(runCreateKey),
		),
	)
}

func newRootCmd(cmds ...*cobra.Command) *cobra.Command {
	root := &cobra.Command{
		Use:   "lockreward",
		Short: "Lockreward - The masternode lock-reward node",
		Long: `Lockreward tracks the node registry of the base chain and runs the lock-reward protocol,
attesting the liveness of reward candidates with threshold Schnorr signatures.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initializeConfig(cmd)
		},
	}

	root.AddCommand(cmds...)

	return root
}

// initializeConfig sets up the general viper config and binds the cobra flags to the viper flags.
func initializeConfig(cmd *cobra.Command) error {
	v := viper.New()

	v.SetConfigName(defaultConfigFilename)
	v.AddConfigPath(".")

	// Attempt to read the config file, gracefully ignoring errors
	// caused by a config file not being found.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errors.Wrap(err, "read config")
		}
	}

	v.SetEnvPrefix(envPrefix)
	// Environment variables can't have dashes in them, so bind them to their equivalent
	// keys with underscores.
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	return bindFlags(cmd, v)
}

// bindFlags binds each cobra flag to its associated viper configuration (config file and environment variable).
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var lastErr error

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		// Cobra provided flags take priority
		if f.Changed {
			return
		}

		if !v.IsSet(f.Name) {
			return
		}

		val := v.Get(f.Name)
		if sl, ok := val.([]any); ok {
			strs := make([]string, 0, len(sl))
			for _, s := range sl {
				strs = append(strs, fmt.Sprint(s))
			}
			val = strings.Join(strs, ",")
		}

		if err := cmd.Flags().Set(f.Name, fmt.Sprint(val)); err != nil {
			lastErr = errors.Wrap(err, "set flag from config", z.Str("flag", f.Name))
		}
	})

	return lastErr
}
