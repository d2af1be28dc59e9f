// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root quill command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "quill",
		Short:         "Quill — AI coding assistant with provider failover",
		Long:          "Quill is an AI coding assistant CLI that routes requests across interchangeable LLM providers with automatic failover.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")

	root.AddCommand(
		newProvidersCmd(),
		newVersionCmd(),
	)

	return root
}
