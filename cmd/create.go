// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package cmd

import "github.com/spf13/cobra"

func newCreateCmd(cmds ...*cobra.Command) *cobra.Command {
	root := &cobra.Command{
		Use:   "create",
		Short: "Create artifacts required for running a lockreward node",
	}

	root.AddCommand(cmds...)

	return root
}
