package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"council/pkg/config"
	"council/pkg/tmux"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// newStatusCmd creates the "council status" subcommand.
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show agent state without attaching to the dispatcher",
		Long: `Reads the configured agents, the persisted dispatcher state, and pane
liveness, and prints one line per agent. Works whether or not the
dispatcher is running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			cfg, err := config.Load(paths.ConfigPath)
			if err != nil {
				return err
			}
			st, err := loadSavedState(paths.StatePath)
			if err != nil {
				return err
			}

			panes := tmux.NewPanes()
			color := isatty.IsTerminal(os.Stdout.Fd())
			printAgentStatus(cmd.OutOrStdout(), cfg, st, panes.Exists, color)
			return nil
		},
	}
	return cmd
}

// ANSI color codes used when stdout is a terminal.
const (
	ansiRed    = "31"
	ansiGreen  = "32"
	ansiYellow = "33"
	ansiCyan   = "36"
)

// colorize wraps s in an ANSI color when enabled.
func colorize(s, code string, enabled bool) string {
	if !enabled {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

// printAgentStatus writes one status line per configured agent.
func printAgentStatus(w io.Writer, cfg *config.Config, st *savedState, paneExists func(pane string) bool, color bool) {
	ids := make([]string, 0, len(cfg.Agents))
	for id := range cfg.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		ac := cfg.Agents[id]
		sa := st.Agents[id]

		pane := colorize("live", ansiGreen, color)
		if paneExists != nil && !paneExists(ac.PaneID) {
			pane = colorize("dead", ansiRed, color)
		}

		parts := []string{fmt.Sprintf("pane %s %s", ac.PaneID, pane)}
		if sa.CircuitState == "open" {
			parts = append(parts, colorize("CIRCUIT OPEN", ansiRed, color))
		}
		if sa.AutoEnabled {
			parts = append(parts, colorize("AUTO", ansiCyan, color))
		}
		if n := len(sa.TaskQueue); n > 0 {
			parts = append(parts, fmt.Sprintf("Q:%d", n))
		}
		if sa.AwaitingDoneReport {
			parts = append(parts, colorize("awaiting DONE_REPORT", ansiYellow, color))
		} else if ts, ok := sa.lastDone(); ok {
			parts = append(parts, "last DONE "+ts.Format("15:04:05"))
		}
		if ac.Mode != "" && ac.Mode != "default" {
			parts = append(parts, "mode:"+ac.Mode)
		}

		fmt.Fprintf(w, "Agent %s (%s): %s\n", id, ac.Name, strings.Join(parts, " | "))
	}
}
