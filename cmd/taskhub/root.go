// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// configFile is the global --config flag shared by all subcommands.
var configFile string

// NewRootCmd creates the root command for the TaskHub CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taskhub",
		Short: "TaskHub - real-time task notifications",
		Long: `TaskHub pushes task and account notifications to connected
browser clients over authenticated websocket connections.`,
		Version:      versionString(),
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/taskhub/config.yaml)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewTokenCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// NewVersionCmd creates the version subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println("taskhub " + versionString())
		},
	}
}

func versionString() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}
