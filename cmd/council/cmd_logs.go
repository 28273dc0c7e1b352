package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"council/pkg/eventlog"

	"github.com/spf13/cobra"
)

// logsConfig holds configuration for the logs command.
type logsConfig struct {
	tail    int
	cmdType string
	follow  bool
}

// newLogsCmd creates the "council logs" subcommand.
func newLogsCmd() *cobra.Command {
	var cfg logsConfig

	cmd := &cobra.Command{
		Use:   "logs [agent-id]",
		Short: "Query and tail dispatcher events",
		Long:  "Displays events from the dispatcher event database.\nOptionally filter by agent id or event type and follow new events.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var agentID string
			if len(args) == 1 {
				agentID = args[0]
			}

			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}

			r, err := eventlog.NewReader(paths.EventsDB)
			if err != nil {
				return fmt.Errorf("open event log: %w", err)
			}
			defer func() { _ = r.Close() }()

			w := cmd.OutOrStdout()
			if cfg.follow {
				return followEvents(cmd.Context(), r, w, agentID, cfg)
			}
			return printEvents(cmd.Context(), r, w, agentID, cfg)
		},
	}

	cmd.Flags().IntVar(&cfg.tail, "tail", 20, "number of recent events to show")
	cmd.Flags().StringVar(&cfg.cmdType, "type", "", "filter by event type (send, dequeue, auto_continue, circuit_open, ...)")
	cmd.Flags().BoolVarP(&cfg.follow, "follow", "f", false, "poll for new events every 1s")

	return cmd
}

// printEvents displays the last N matching events, oldest first.
func printEvents(ctx context.Context, r *eventlog.Reader, w io.Writer, agentID string, cfg logsConfig) error {
	events, err := r.Query(ctx, eventlog.QueryOpts{
		AgentID: agentID,
		CmdType: cfg.cmdType,
		Limit:   cfg.tail,
	})
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(w, "no events found")
		return nil
	}

	// Query returns newest first; print in chronological order.
	for i := len(events) - 1; i >= 0; i-- {
		formatEvent(w, &events[i])
	}
	return nil
}

// followEvents prints the initial batch then polls for new events.
func followEvents(ctx context.Context, r *eventlog.Reader, w io.Writer, agentID string, cfg logsConfig) error {
	events, err := r.Query(ctx, eventlog.QueryOpts{
		AgentID: agentID,
		CmdType: cfg.cmdType,
		Limit:   cfg.tail,
	})
	if err != nil {
		return err
	}

	var lastID int64
	for i := len(events) - 1; i >= 0; i-- {
		formatEvent(w, &events[i])
		lastID = events[i].ID
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			batch, err := r.Query(ctx, eventlog.QueryOpts{
				AgentID: agentID,
				CmdType: cfg.cmdType,
				Limit:   100,
			})
			if err != nil {
				return err
			}
			for i := len(batch) - 1; i >= 0; i-- {
				if batch[i].ID <= lastID {
					continue
				}
				formatEvent(w, &batch[i])
				lastID = batch[i].ID
			}
		}
	}
}

// formatEvent writes one event as a single log line.
func formatEvent(w io.Writer, e *eventlog.Event) {
	line := fmt.Sprintf("%s [%s] agent=%s %s",
		e.CreatedAt.Format("2006-01-02 15:04:05"), e.RunID, e.AgentID, e.CmdType)
	if e.Result != "" {
		line += " result=" + e.Result
	}
	if e.Error != "" {
		line += " error=" + e.Error
	}
	fmt.Fprintln(w, line)
}
