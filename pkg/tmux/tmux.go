// Package tmux is the terminal-multiplexer adapter. Every call shells out to
// the tmux client with a short timeout and reports failure through sentinel
// returns rather than errors; a missing pane or an unreachable server must
// never crash the dispatch loop.
package tmux

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// CmdRunner abstracts command execution for testability.
type CmdRunner interface {
	Run(timeout time.Duration, name string, args ...string) (string, error)
}

// ExecRunner implements CmdRunner using os/exec with a per-call timeout.
type ExecRunner struct{}

// Run executes a command and returns its stdout.
func (e *ExecRunner) Run(timeout time.Duration, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	return string(out), err
}

// callTimeout bounds every tmux client call.
const callTimeout = 5 * time.Second

// defaultCaptureLines is how many trailing pane lines Capture keeps.
const defaultCaptureLines = 30

// Panes sends to and inspects tmux panes addressed by their stable pane id
// (the "%N" form, which survives window reordering).
type Panes struct {
	Runner CmdRunner
}

// NewPanes creates a Panes adapter with the default ExecRunner.
func NewPanes() *Panes {
	return &Panes{Runner: &ExecRunner{}}
}

// Capture returns the last lines of a pane's visible content. The second
// return value is false when the pane cannot be captured (missing pane,
// tmux not installed, timeout).
func (p *Panes) Capture(pane string, lines int) (string, bool) {
	if lines <= 0 {
		lines = defaultCaptureLines
	}
	out, err := p.Runner.Run(callTimeout, "tmux", "capture-pane", "-t", pane, "-p")
	if err != nil {
		return "", false
	}
	all := strings.Split(strings.TrimSpace(out), "\n")
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	return strings.Join(all, "\n"), true
}

// Send types text into a pane literally, then presses Enter. The two-step
// send keeps tmux from interpreting key names inside the text. Returns false
// on any failure; the caller decides whether to retry.
func (p *Panes) Send(pane, text string) bool {
	if _, err := p.Runner.Run(callTimeout, "tmux", "send-keys", "-l", "-t", pane, "--", text); err != nil {
		return false
	}
	if _, err := p.Runner.Run(callTimeout, "tmux", "send-keys", "-t", pane, "Enter"); err != nil {
		return false
	}
	return true
}

// Exists reports whether the pane is known to the tmux server.
func (p *Panes) Exists(pane string) bool {
	_, err := p.Runner.Run(callTimeout, "tmux", "display", "-t", pane, "-p", "#{pane_id}")
	return err == nil
}

// InScrollMode reports whether the pane is in copy/scroll mode. Text sent to
// a pane in copy mode is swallowed by tmux, so the dispatcher refuses direct
// sends while this is true.
func (p *Panes) InScrollMode(pane string) bool {
	out, err := p.Runner.Run(callTimeout, "tmux", "display", "-t", pane, "-p", "#{pane_in_mode}")
	return err == nil && strings.TrimSpace(out) == "1"
}
