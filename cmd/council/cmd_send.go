package main

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/spf13/cobra"
)

// newSendCmd creates the "council send" subcommand.
func newSendCmd() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "send <command...>",
		Short: "Send one command line to a running dispatcher",
		Long: `Connects to the dispatcher socket and writes a single command line.

Examples:
  council send status
  council send 1: fix the failing test
  council send queue 2 "run the benchmarks"
  council send auto 1
  council send reset 3`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := socketPath
			if path == "" {
				paths, err := ResolvePaths()
				if err != nil {
					return fmt.Errorf("resolve paths: %w", err)
				}
				path = paths.SocketPath
			}
			return sendLine(cmd.Context(), path, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVar(&socketPath, "socket", "", "dispatcher socket path (default: $COUNCIL_HOME/council.sock)")

	return cmd
}

// sendLine writes one newline-terminated command to the dispatcher socket.
func sendLine(ctx context.Context, socketPath, line string) error {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return fmt.Errorf("connect to dispatcher: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := fmt.Fprintln(conn, line); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}
