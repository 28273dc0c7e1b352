package dispatcher

import (
	"fmt"

	"council/pkg/gitwatch"
)

// --- Circuit breaker ---
//
// The breaker stops auto-continue and queue dispatch when an agent keeps
// reporting ready without producing git progress. It trips after
// MaxNoProgress consecutive no-progress ready transitions and stays open
// until an operator reset.

// primeSnapshot records the worktree baseline right before a command is
// sent, so the next ready transition compares against it.
func (a *Agent) primeSnapshot(git *gitwatch.Watcher) {
	if a.Worktree == "" {
		return
	}
	if snap, ok := git.Take(a.Worktree); ok {
		a.LastSnapshot = &snap
	} else {
		a.LastSnapshot = nil
	}
}

// trackProgress compares the worktree against the last baseline on a
// ready transition and updates the streak. No baseline means no check.
func (a *Agent) trackProgress(git *gitwatch.Watcher) []string {
	if a.Worktree == "" || a.LastSnapshot == nil {
		return nil
	}
	var msgs []string
	var next *gitwatch.Snapshot
	if snap, ok := git.Take(a.Worktree); ok {
		next = &snap
	}
	if gitwatch.HasProgress(a.LastSnapshot, next) {
		a.NoProgressStreak = 0
		msgs = append(msgs, "  -> progress detected, streak reset")
	} else if a.Circuit != CircuitOpen {
		a.NoProgressStreak++
		msgs = append(msgs, fmt.Sprintf("  -> no progress (%d/%d)", a.NoProgressStreak, MaxNoProgress))
	}
	a.LastSnapshot = next
	return msgs
}

// circuitShouldOpen reports whether the streak just crossed the limit.
func (a *Agent) circuitShouldOpen() bool {
	return a.NoProgressStreak >= MaxNoProgress && a.Circuit != CircuitOpen
}

// resetCircuit closes the breaker and forgets the baseline, giving the
// agent a fresh start.
func (a *Agent) resetCircuit() {
	a.Circuit = CircuitClosed
	a.NoProgressStreak = 0
	a.LastSnapshot = nil
}

// markProgress is the operator's manual override: new baseline, streak
// cleared. An open circuit stays open; only reset closes it.
func (a *Agent) markProgress(git *gitwatch.Watcher) {
	a.primeSnapshot(git)
	a.NoProgressStreak = 0
}
