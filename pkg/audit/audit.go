// Package audit runs external verification commands against an agent's
// work after a completion report. The audit logic itself lives outside
// this repository; the package only owns the subprocess contract: bounded
// run time, exit-code verdict, and an optional JSON status on stdout.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Timeout bounds every audit subprocess.
const Timeout = 30 * time.Second

// CmdRunner executes a command and reports its combined output and exit
// code. A non-nil error means the command could not run at all (not found,
// timeout); exit codes from a finished process are not errors here.
type CmdRunner interface {
	Run(timeout time.Duration, name string, args ...string) (output string, exitCode int, err error)
}

// ExecRunner runs real subprocesses.
type ExecRunner struct{}

// Run implements CmdRunner on os/exec.
func (ExecRunner) Run(timeout time.Duration, name string, args ...string) (string, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if ctx.Err() == context.DeadlineExceeded {
		return string(out), -1, fmt.Errorf("%s timed out after %s", name, timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(out), exitErr.ExitCode(), nil
		}
		return string(out), -1, err
	}
	return string(out), 0, nil
}

// Result is one verification verdict.
type Result struct {
	Passed bool
	Output string // combined stdout, trimmed
}

// Auditor runs the configured transcript-audit and invariants-check
// commands. Command slices are argv prefixes; the relevant paths are
// appended as flags. An empty command slice makes the check a no-op pass.
type Auditor struct {
	Runner        CmdRunner
	AuditCmd      []string // e.g. ["python3", "scripts/audit_done.py"]
	InvariantsCmd []string // e.g. ["python3", "scripts/check_invariants.py"]
}

// NewAuditor returns an Auditor backed by real subprocesses.
func NewAuditor(auditCmd, invariantsCmd []string) *Auditor {
	return &Auditor{Runner: ExecRunner{}, AuditCmd: auditCmd, InvariantsCmd: invariantsCmd}
}

// AuditTranscript verifies a completion report against the transcript.
// Timeout and launch failures are failing verdicts, never errors: a broken
// audit setup must block approval, not crash the loop.
func (a *Auditor) AuditTranscript(transcript string) Result {
	if len(a.AuditCmd) == 0 {
		return Result{Passed: true}
	}
	args := append(append([]string(nil), a.AuditCmd[1:]...), "--transcript", transcript, "--json")
	return a.verdict(a.AuditCmd[0], args)
}

// CheckInvariants runs the policy checker against the latest commit in the
// agent's worktree.
func (a *Auditor) CheckInvariants(worktree, invariantsPath string) Result {
	if len(a.InvariantsCmd) == 0 || invariantsPath == "" {
		return Result{Passed: true}
	}
	args := append(append([]string(nil), a.InvariantsCmd[1:]...),
		"--diff", "HEAD~1", "--invariants", invariantsPath, "--repo", worktree)
	return a.verdict(a.InvariantsCmd[0], args)
}

// jsonVerdict is the optional machine-readable status some checkers print.
type jsonVerdict struct {
	Status string `json:"status"`
	Passed *bool  `json:"passed"`
}

func (a *Auditor) verdict(name string, args []string) Result {
	out, code, err := a.Runner.Run(Timeout, name, args...)
	out = strings.TrimSpace(out)
	if err != nil {
		return Result{Passed: false, Output: fmt.Sprintf("audit error: %v", err)}
	}

	passed := code == 0

	// A JSON body on stdout is authoritative when it parses.
	if strings.HasPrefix(out, "{") {
		var v jsonVerdict
		if json.Unmarshal([]byte(out), &v) == nil {
			if v.Passed != nil {
				passed = *v.Passed
			} else if v.Status != "" {
				passed = v.Status == "VERIFIED" || strings.EqualFold(v.Status, "passed")
			}
		} else {
			passed = false
			out = "unparsable audit output: " + out
		}
	}
	return Result{Passed: passed, Output: out}
}

// Summary squeezes a failing result into a short reason for queued fix
// tasks and notifications.
func (r Result) Summary(max int) string {
	s := strings.Join(strings.Fields(r.Output), " ")
	if len(s) > max {
		s = s[:max]
	}
	return s
}
