package main

import (
	"fmt"

	"council/internal/version"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root council command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "council",
		Short:         "Operator console for AI coding agents in tmux panes",
		Long:          "council watches agent panes, routes operator commands to them,\nand keeps agents moving with queues, auto-continue, and audits.",
		Version:       fmt.Sprintf("council %s", version.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newRunCmd(),
		newSendCmd(),
		newStatusCmd(),
		newLogsCmd(),
		newDashCmd(),
	)

	return cmd
}
