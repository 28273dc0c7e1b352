package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"council/pkg/audit"
	"council/pkg/config"
	"council/pkg/dispatcher"
	"council/pkg/eventlog"
	"council/pkg/notify"
	"council/pkg/tmux"

	"github.com/spf13/cobra"
)

// newRunCmd creates the "council run" subcommand.
func newRunCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run [config]",
		Short: "Run the dispatcher loop",
		Long: `Loads the config, validates panes, and runs the dispatch loop until
interrupted or an operator sends quit. Commands arrive over the Unix
socket (council send), the legacy FIFO, Pushover, and Telegram.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			cfgPath := paths.ConfigPath
			if len(args) == 1 {
				cfgPath = args[0]
			}
			return runDispatcher(cmd.Context(), cmd.OutOrStdout(), paths, cfgPath, dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log sends instead of touching panes")

	return cmd
}

// runDispatcher wires every collaborator and blocks in the dispatch loop.
func runDispatcher(ctx context.Context, out io.Writer, paths *Paths, cfgPath string, dryRun bool) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	panes := tmux.NewPanes()
	warnings, err := cfg.Validate(panes.Exists)
	for _, w := range warnings {
		fmt.Fprintf(out, "[WARN] %s\n", w)
	}
	if err != nil {
		return fmt.Errorf("config %s: %w", cfgPath, err)
	}

	opts := dispatcher.Options{
		StatePath: paths.StatePath,
		TaskDir:   paths.TaskDir,
		DryRun:    dryRun,
		Out:       out,
	}

	events, err := eventlog.Open(paths.EventsDB)
	if err != nil {
		log.Printf("[EVENTS] open %s: %v (event log disabled)", paths.EventsDB, err)
	} else {
		opts.Events = events
		defer func() { _ = events.Close() }()
	}

	short := notify.Multi{notify.Desktop{}}
	if cfg.Pushover.UserKey != "" && cfg.Pushover.APIToken != "" {
		short = append(short, &notify.Pushover{
			UserKey:  cfg.Pushover.UserKey,
			APIToken: cfg.Pushover.APIToken,
		})
	}
	opts.Short = short

	var bot *notify.Bot
	if cfg.Telegram.BotToken != "" {
		bot = &notify.Bot{
			Token:          cfg.Telegram.BotToken,
			AllowedUserIDs: cfg.Telegram.AllowedUserIDs,
			ChatIDPath:     paths.ChatIDPath,
		}
		opts.Rich = bot
	}

	if cfg.Pushover.Email != "" && cfg.Pushover.Password != "" {
		inbox := &notify.Inbox{
			Email:      cfg.Pushover.Email,
			Password:   cfg.Pushover.Password,
			DeviceName: cfg.Pushover.DeviceName,
		}
		if err := inbox.Login(); err != nil {
			log.Printf("[PUSHOVER] login: %v (inbox disabled)", err)
		} else {
			opts.Inbox = inbox
		}
	}

	if len(cfg.Audit.AuditCmd) > 0 || len(cfg.Audit.InvariantsCmd) > 0 {
		opts.Audit = audit.NewAuditor(cfg.Audit.AuditCmd, cfg.Audit.InvariantsCmd)
	}

	d := dispatcher.New(cfg, opts)

	if bot != nil {
		bot.OnCommand = func(text string) {
			d.Queue().Push(dispatcher.Command{Source: "telegram", Text: text})
		}
		if err := bot.Start(); err != nil {
			log.Printf("[TELEGRAM] %v (bot disabled)", err)
		} else {
			defer bot.Stop()
		}
	}

	return d.Run(ctx)
}
