// Package eventlog persists dispatcher lifecycle events to a SQLite
// database and provides read-only query access for the logs and dash
// commands. Writes are best-effort: a broken log never takes the dispatch
// loop down.
package eventlog

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// SchemaDDL defines the events table. Execute with db.Exec(SchemaDDL).
const SchemaDDL = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL,
    agent_id TEXT,
    cmd_type TEXT NOT NULL,
    pane_id TEXT,
    result TEXT,
    error TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_events_agent ON events(agent_id);
CREATE INDEX IF NOT EXISTS idx_events_cmd_type ON events(cmd_type);
`

// Log appends dispatcher events to the database. One Log instance spans a
// dispatcher run; every row carries the run id so interleaved runs can be
// told apart.
type Log struct {
	db    *sql.DB
	runID string
}

// Open creates or opens the event database in WAL mode and ensures the
// schema exists.
func Open(dbPath string) (*Log, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(SchemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Log{db: db, runID: uuid.NewString()[:8]}, nil
}

// RunID identifies this dispatcher run in the log.
func (l *Log) RunID() string {
	if l == nil {
		return ""
	}
	return l.runID
}

// Record appends one event. Failures are logged and swallowed; a nil Log
// is a no-op so callers never need to guard.
func (l *Log) Record(agentID, cmdType, paneID, result string, evErr error) {
	if l == nil || l.db == nil {
		return
	}
	errText := ""
	if evErr != nil {
		errText = evErr.Error()
	}
	_, err := l.db.Exec(
		`INSERT INTO events (run_id, agent_id, cmd_type, pane_id, result, error) VALUES (?, ?, ?, ?, ?, ?)`,
		l.runID, agentID, cmdType, paneID, result, errText,
	)
	if err != nil {
		log.Printf("[EVENTLOG] record %s: %v", cmdType, err)
	}
}

// Close releases the database. Safe on nil.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// parseCreatedAt handles both SQLite datetime('now') and RFC3339 text.
func parseCreatedAt(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
