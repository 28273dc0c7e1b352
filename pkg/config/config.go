// Package config loads and validates the dispatcher's YAML configuration.
// Validation is conditional: only configured subsystems are checked. Fatal
// problems abort startup; everything else is a warning.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPollInterval is the agent poll spacing when the config is silent.
const DefaultPollInterval = 2 * time.Second

// AgentConfig describes one monitored agent pane.
type AgentConfig struct {
	PaneID         string `yaml:"pane_id"`
	Name           string `yaml:"name"`
	Worktree       string `yaml:"worktree"`
	TranscriptPath string `yaml:"transcript_path"`
	InvariantsPath string `yaml:"invariants_path"`
	AutoAudit      bool   `yaml:"auto_audit"`
	Mode           string `yaml:"mode"` // "default" or "strict"
}

// PushoverConfig carries both the outbound message API credentials and the
// Open Client (inbound) account.
type PushoverConfig struct {
	UserKey    string `yaml:"user_key"`
	APIToken   string `yaml:"api_token"`
	Email      string `yaml:"email"`
	Password   string `yaml:"password"`
	DeviceName string `yaml:"device_name"`
}

// TelegramConfig configures the long-polling command bot.
type TelegramConfig struct {
	BotToken       string  `yaml:"bot_token"`
	AllowedUserIDs []int64 `yaml:"allowed_user_ids"`
}

// AuditConfig names the verification subprocesses. Empty commands disable
// the corresponding check.
type AuditConfig struct {
	AuditCmd      []string `yaml:"audit_cmd"`      // e.g. [python3, scripts/audit_done.py]
	InvariantsCmd []string `yaml:"invariants_cmd"` // e.g. [python3, scripts/check_invariants.py]
}

// Config is the full dispatcher configuration.
type Config struct {
	Agents       map[string]AgentConfig `yaml:"agents"`
	PollSeconds  float64                `yaml:"poll_interval"`
	SocketPath   string                 `yaml:"socket_path"`
	FIFOPath     string                 `yaml:"fifo_path"`
	InputPane    string                 `yaml:"input_pane"`
	PatternsPath string                 `yaml:"patterns_path"`
	Pushover     PushoverConfig         `yaml:"pushover"`
	Telegram     TelegramConfig         `yaml:"telegram"`
	Audit        AuditConfig            `yaml:"audit"`
}

// PollInterval returns the configured poll spacing as a duration.
func (c *Config) PollInterval() time.Duration {
	if c.PollSeconds <= 0 {
		return DefaultPollInterval
	}
	return time.Duration(c.PollSeconds * float64(time.Second))
}

// Load reads and parses the config file. Path fields get ~ expanded; the
// socket path defaults to ~/.council/council.sock when neither socket nor
// FIFO is configured.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(cfg.Agents) == 0 {
		return nil, fmt.Errorf("no agents defined in %s", path)
	}

	for id, agent := range cfg.Agents {
		agent.Worktree = expandPath(agent.Worktree)
		agent.TranscriptPath = expandPath(agent.TranscriptPath)
		agent.InvariantsPath = expandPath(agent.InvariantsPath)
		if agent.Name == "" {
			agent.Name = "Agent " + id
		}
		if agent.Mode == "" {
			agent.Mode = "default"
		}
		cfg.Agents[id] = agent
	}

	cfg.SocketPath = expandPath(cfg.SocketPath)
	cfg.FIFOPath = expandPath(cfg.FIFOPath)
	cfg.PatternsPath = expandPath(cfg.PatternsPath)
	if cfg.SocketPath == "" && cfg.FIFOPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.SocketPath = filepath.Join(home, ".council", "council.sock")
		}
	}
	if cfg.Pushover.DeviceName == "" {
		cfg.Pushover.DeviceName = "council"
	}
	return &cfg, nil
}

// Validate checks the config, returning warnings for recoverable issues and
// an error listing every fatal one. paneExists probes the terminal
// multiplexer; pass nil to skip liveness checks (tests, status command).
func (c *Config) Validate(paneExists func(pane string) bool) ([]string, error) {
	var errs, warnings []string

	for id, agent := range c.Agents {
		label := fmt.Sprintf("Agent %s (%s)", id, agent.Name)
		switch {
		case agent.PaneID == "":
			errs = append(errs, label+": missing pane_id")
		case !strings.HasPrefix(agent.PaneID, "%"):
			warnings = append(warnings, fmt.Sprintf("%s: pane_id %q should start with '%%' for stability", label, agent.PaneID))
		}
		if agent.PaneID != "" && paneExists != nil && !paneExists(agent.PaneID) {
			warnings = append(warnings, fmt.Sprintf("%s: pane %s not found", label, agent.PaneID))
		}

		// The circuit breaker needs git, so auto-audit agents must have a
		// real worktree.
		if agent.AutoAudit {
			if agent.Worktree == "" {
				errs = append(errs, label+": worktree required when auto_audit is set")
			} else if !dirExists(agent.Worktree) {
				errs = append(errs, fmt.Sprintf("%s: worktree %q does not exist", label, agent.Worktree))
			}
		} else if agent.Worktree != "" && !dirExists(agent.Worktree) {
			warnings = append(warnings, fmt.Sprintf("%s: worktree %q does not exist", label, agent.Worktree))
		}
	}

	if c.Pushover.UserKey != "" || c.Pushover.APIToken != "" {
		if c.Pushover.UserKey == "" {
			errs = append(errs, "Pushover: user_key required when api_token is set")
		}
		if c.Pushover.APIToken == "" {
			errs = append(errs, "Pushover: api_token required when user_key is set")
		}
	}
	if c.Pushover.Email != "" || c.Pushover.Password != "" {
		if c.Pushover.Email == "" {
			errs = append(errs, "Pushover Open Client: email required when password is set")
		}
		if c.Pushover.Password == "" {
			errs = append(errs, "Pushover Open Client: password required when email is set")
		}
	}

	if c.Telegram.BotToken != "" && len(c.Telegram.AllowedUserIDs) == 0 {
		warnings = append(warnings, "Telegram: bot_token set but no allowed_user_ids - no users can send commands")
	}

	if c.FIFOPath != "" {
		if _, err := os.Stat(c.FIFOPath); err != nil {
			warnings = append(warnings, fmt.Sprintf("FIFO not found: %s (create with: mkfifo %s)", c.FIFOPath, c.FIFOPath))
		}
	}

	if len(errs) > 0 {
		return warnings, fmt.Errorf("invalid config:\n  %s", strings.Join(errs, "\n  "))
	}
	return warnings, nil
}

func expandPath(p string) string {
	if p == "" {
		return ""
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func dirExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
