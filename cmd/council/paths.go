package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// councilDir is the default state directory under the user's home.
const councilDir = ".council"

// Paths holds all resolved council state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	CouncilHome string // ~/.council or COUNCIL_HOME
	ConfigPath  string // config.yaml or COUNCIL_CONFIG
	SocketPath  string // council.sock or COUNCIL_SOCKET_PATH
	StatePath   string // state.json or COUNCIL_STATE_PATH
	EventsDB    string // events.db or COUNCIL_DB_PATH
	TaskDir     string // current task context files (respects COUNCIL_HOME)
	ChatIDPath  string // remembered Telegram chat id (respects COUNCIL_HOME)
}

// ResolvePaths returns all council paths, respecting env var overrides.
// Environment variables:
//   - COUNCIL_HOME: base directory for all council state (default: ~/.council)
//   - COUNCIL_CONFIG: config file (default: $COUNCIL_HOME/config.yaml)
//   - COUNCIL_SOCKET_PATH: command socket (default: $COUNCIL_HOME/council.sock)
//   - COUNCIL_STATE_PATH: persisted agent state (default: $COUNCIL_HOME/state.json)
//   - COUNCIL_DB_PATH: event log database (default: $COUNCIL_HOME/events.db)
//
// If COUNCIL_HOME is set, it becomes the base for all default paths.
// Specific env vars override both the default and the COUNCIL_HOME base.
func ResolvePaths() (*Paths, error) {
	home, err := resolveCouncilHome()
	if err != nil {
		return nil, err
	}

	paths := &Paths{
		CouncilHome: home,
		ConfigPath:  resolvePathWithEnv("COUNCIL_CONFIG", home, "config.yaml"),
		SocketPath:  resolvePathWithEnv("COUNCIL_SOCKET_PATH", home, "council.sock"),
		StatePath:   resolvePathWithEnv("COUNCIL_STATE_PATH", home, "state.json"),
		EventsDB:    resolvePathWithEnv("COUNCIL_DB_PATH", home, "events.db"),
		TaskDir:     filepath.Join(home, "tasks"),
		ChatIDPath:  filepath.Join(home, "telegram_chat_id"),
	}

	return paths, nil
}

// resolveCouncilHome returns the state directory from COUNCIL_HOME or ~/.council.
func resolveCouncilHome() (string, error) {
	if v := os.Getenv("COUNCIL_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, councilDir), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}
