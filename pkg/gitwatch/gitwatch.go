// Package gitwatch computes content hashes of a git working tree, used as the
// progress oracle for the dispatcher's circuit breaker. A snapshot covers both
// uncommitted status and the current HEAD, so either a new commit or a change
// to the working tree counts as progress.
package gitwatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// CmdRunner abstracts command execution for testability.
type CmdRunner interface {
	Run(timeout time.Duration, name string, args ...string) (string, error)
}

// ExecRunner implements CmdRunner using os/exec with a per-call timeout.
type ExecRunner struct{}

// Run executes a command and returns its stdout, trimmed.
func (e *ExecRunner) Run(timeout time.Duration, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	return strings.TrimSpace(string(out)), err
}

// Snapshot is a content hash of a working tree at a point in time.
// Equality is defined solely by CombinedHash.
type Snapshot struct {
	StatusHash   string // hash of `git status --porcelain` output
	HeadHash     string // short HEAD commit hash (display only)
	CombinedHash string // hash of status output + HEAD, used for comparison
}

// Equal reports whether two snapshots represent the same tree state.
func (s Snapshot) Equal(other Snapshot) bool {
	return s.CombinedHash == other.CombinedHash
}

// statusTimeout bounds `git status`; it can be slow on large trees.
const statusTimeout = 10 * time.Second

// headTimeout bounds `git rev-parse HEAD`.
const headTimeout = 5 * time.Second

// Watcher takes snapshots of git working trees.
type Watcher struct {
	Runner CmdRunner
}

// NewWatcher creates a Watcher with the default ExecRunner.
func NewWatcher() *Watcher {
	return &Watcher{Runner: &ExecRunner{}}
}

// Take snapshots the current git state of tree. The second return value is
// false when no snapshot could be taken (not a git repo, git missing, or
// timeout); callers treat that as "no signal", not as an error.
func (w *Watcher) Take(tree string) (Snapshot, bool) {
	status, err := w.Runner.Run(statusTimeout, "git", "-C", tree, "status", "--porcelain")
	if err != nil {
		return Snapshot{}, false
	}
	head, err := w.Runner.Run(headTimeout, "git", "-C", tree, "rev-parse", "HEAD")
	if err != nil {
		return Snapshot{}, false
	}
	head = strings.TrimSpace(head)

	return Snapshot{
		StatusHash:   shortHash(status),
		HeadHash:     shortRef(head),
		CombinedHash: shortHash(status + "\n" + head),
	}, true
}

// HasProgress reports whether the tree changed between two snapshots.
// A nil snapshot on either side means we cannot tell; that is treated
// optimistically as progress so a configuration gap never opens the breaker.
func HasProgress(before, after *Snapshot) bool {
	if before == nil || after == nil {
		return true
	}
	return !before.Equal(*after)
}

// RecentCommits returns up to n one-line commit messages for tree.
// Returns nil when the log cannot be read.
func (w *Watcher) RecentCommits(tree string, n int) []string {
	out, err := w.Runner.Run(headTimeout, "git", "-C", tree, "log", "-"+strconv.Itoa(n), "--oneline")
	if err != nil || out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// UncommittedSummary counts staged, unstaged, and untracked paths in tree.
type UncommittedSummary struct {
	Staged    int
	Unstaged  int
	Untracked int
}

// Total returns the total number of uncommitted paths.
func (u UncommittedSummary) Total() int {
	return u.Staged + u.Unstaged + u.Untracked
}

// Uncommitted summarizes the working tree's uncommitted paths from porcelain
// status output. Returns a zero summary when status cannot be read.
func (w *Watcher) Uncommitted(tree string) UncommittedSummary {
	out, err := w.Runner.Run(statusTimeout, "git", "-C", tree, "status", "--porcelain")
	if err != nil {
		return UncommittedSummary{}
	}
	return parsePorcelain(out)
}

// parsePorcelain tallies porcelain v1 status lines into a summary.
func parsePorcelain(out string) UncommittedSummary {
	var sum UncommittedSummary
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 2 {
			continue
		}
		x, y := line[0], line[1]
		switch {
		case x == '?' && y == '?':
			sum.Untracked++
		default:
			if x != ' ' {
				sum.Staged++
			}
			if y != ' ' {
				sum.Unstaged++
			}
		}
	}
	return sum
}

// shortHash returns the first 16 hex chars of the SHA-256 of s.
func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}

// shortRef abbreviates a commit hash to 12 chars for display.
func shortRef(ref string) string {
	if len(ref) > 12 {
		return ref[:12]
	}
	return ref
}
