// Package dispatcher routes operator commands from the socket, FIFO,
// Pushover and Telegram channels to agent panes, watches each agent for
// readiness, and guards auto-continue with a git-progress circuit breaker.
// All agent state is owned by the single dispatch goroutine.
package dispatcher

import (
	"time"

	"council/pkg/classify"
	"council/pkg/gitwatch"
)

// --- Tuning constants ---

const (
	// NotifyCooldown spaces ready notifications per agent.
	NotifyCooldown = 30 * time.Second

	// ReadyNotifyDelay suppresses a ready notification right after a
	// command was sent: the pane is briefly idle before the agent starts.
	ReadyNotifyDelay = 10 * time.Second

	// StuckNotifyCooldown spaces stuck-thinking notifications per agent.
	StuckNotifyCooldown = 60 * time.Second

	// DialogNotifyCooldown spaces dialog notifications per agent.
	DialogNotifyCooldown = 30 * time.Second

	// MaxNoProgress opens the circuit after this many ready transitions
	// without git progress.
	MaxNoProgress = 3

	// MaxAuditRetries bounds auto-queued fix tasks per audited task.
	MaxAuditRetries = 1

	// StuckThinkingThreshold is how long a visible thinking timer may run
	// before the agent counts as stuck.
	StuckThinkingThreshold = 600 * time.Second
)

// CircuitState is the per-agent breaker position.
type CircuitState string

const (
	CircuitClosed CircuitState = "closed"
	CircuitOpen   CircuitState = "open"
)

// Agent is one monitored pane plus all its dispatch state. Only the
// dispatch goroutine mutates an Agent after startup.
type Agent struct {
	ID             string
	PaneID         string
	Name           string
	Worktree       string
	TranscriptPath string
	InvariantsPath string
	AutoAudit      bool
	Mode           string // "default" or "strict"

	State classify.State

	LastCheck        time.Time
	LastNotify       time.Time
	LastCommandSent  time.Time
	LastStuckNotify  time.Time
	LastDialogNotify time.Time

	// Auto-continue
	AutoEnabled bool

	// Circuit breaker
	Circuit          CircuitState
	NoProgressStreak int
	LastSnapshot     *gitwatch.Snapshot

	// FIFO task queue, head dispatched first
	TaskQueue []string

	// Transcript watching
	LastTranscriptOffset int64
	LastTranscriptSize   int64
	LastDoneReport       time.Time
	AwaitingDoneReport   bool

	// Auto-audit loop guard
	AuditFailStreak int
	LastAuditTaskID string
}

// newAgent builds an Agent with the startup defaults.
func newAgent(id string) *Agent {
	return &Agent{
		ID:      id,
		Name:    "Agent " + id,
		Mode:    "default",
		State:   classify.StateUnknown,
		Circuit: CircuitClosed,
	}
}
