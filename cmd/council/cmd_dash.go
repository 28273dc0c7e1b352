package main

import (
	"fmt"

	"council/pkg/config"
	"council/pkg/tmux"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

// newDashCmd creates the "council dash" subcommand.
func newDashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dash",
		Short: "Launch the live agent dashboard",
		Long:  "Opens a full-screen TUI refreshing agent state every 2 seconds\nfrom the persisted state file and pane liveness probes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			cfg, err := config.Load(paths.ConfigPath)
			if err != nil {
				return err
			}

			panes := tmux.NewPanes()
			m := newDashModel(cfg, paths.StatePath, paths.EventsDB, panes.Exists)

			p := tea.NewProgram(m, tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("run dashboard: %w", err)
			}
			return nil
		},
	}
}
