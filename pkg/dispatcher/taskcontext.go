package dispatcher

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"council/pkg/gitwatch"
)

// TaskContext is the remembered "what was this agent doing" used to make
// notifications meaningful.
type TaskContext struct {
	AgentName string
	Project   string
	Task      string
}

// skipTaskWords are throwaway inputs that must not overwrite the real
// task context.
var skipTaskWords = map[string]bool{
	"continue": true, "y": true, "n": true, "yes": true, "no": true, "ok": true, "": true,
}

// contextPrefixes are injection prefixes stripped before remembering a task.
var contextPrefixes = []string{
	"CONTEXT FROM COUNCIL AGENT:",
	"CONTEXT:",
	"[CONTEXT]",
	"[STRICT MODE]",
	"[SANDBOX MODE]",
	"[PLAN MODE]",
}

// taskFile returns the per-agent task context path under dir.
func taskFile(dir, agentID string) string {
	return filepath.Join(dir, "agent_"+agentID+".txt")
}

// writeCurrentTask records the agent's current task for notifications.
// Throwaway inputs keep the previous context.
func writeCurrentTask(dir string, a *Agent, task string) {
	if skipTaskWords[strings.ToLower(strings.TrimSpace(task))] {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("[WARN] Could not write current task: %v", err)
		return
	}

	clean := task
	for _, prefix := range contextPrefixes {
		if strings.HasPrefix(strings.ToUpper(clean), strings.ToUpper(prefix)) {
			clean = strings.TrimSpace(clean[len(prefix):])
			break
		}
	}
	if len(clean) > 100 {
		clean = clean[:100]
	}
	clean = strings.ReplaceAll(clean, `"`, `\"`)
	clean = strings.ReplaceAll(clean, "\n", " ")

	project := "unknown"
	if a.Worktree != "" {
		project = filepath.Base(a.Worktree)
	}
	content := fmt.Sprintf("AGENT_ID=%s\nAGENT_NAME=%q\nPANE_ID=%q\nPROJECT=%q\nTASK=\"%s\"\n",
		a.ID, a.Name, a.PaneID, project, clean)
	if err := os.WriteFile(taskFile(dir, a.ID), []byte(content), 0o600); err != nil {
		log.Printf("[WARN] Could not write current task: %v", err)
	}
}

// taskContext reads the remembered context back, tolerating a missing or
// malformed file.
func taskContext(dir string, a *Agent) TaskContext {
	ctx := TaskContext{AgentName: a.Name, Project: "unknown"}
	if a.Worktree != "" {
		ctx.Project = filepath.Base(a.Worktree)
	}

	data, err := os.ReadFile(taskFile(dir, a.ID)) //nolint:gosec // dispatcher-owned dir
	if err != nil {
		return ctx
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, `TASK="`) {
			ctx.Task = strings.TrimSuffix(strings.TrimPrefix(line, `TASK="`), `"`)
			break
		}
	}
	if len(ctx.Task) > 60 {
		ctx.Task = ctx.Task[:60] + "..."
	}
	return ctx
}

// richSummary builds the multi-line Telegram notification: task context,
// recent commits, uncommitted work, and overall status.
func richSummary(dir string, a *Agent, git *gitwatch.Watcher) string {
	ctx := taskContext(dir, a)
	var lines []string

	lines = append(lines, fmt.Sprintf("*%s* (%s)", a.Name, ctx.Project))
	if ctx.Task != "" {
		lines = append(lines, "Task: "+ctx.Task)
	} else {
		lines = append(lines, "Task: (no task context)")
	}

	if a.Worktree != "" {
		commits := git.RecentCommits(a.Worktree, 2)
		if len(commits) > 0 {
			lines = append(lines, "", "Recent commits:")
			for _, c := range commits {
				if c = strings.TrimSpace(c); c != "" {
					if len(c) > 60 {
						c = c[:60]
					}
					lines = append(lines, "  "+c)
				}
			}
		}
		if sum := git.Uncommitted(a.Worktree); sum.Total() > 0 {
			var parts []string
			if sum.Staged > 0 {
				parts = append(parts, fmt.Sprintf("%d staged", sum.Staged))
			}
			if sum.Unstaged > 0 {
				parts = append(parts, fmt.Sprintf("%d modified", sum.Unstaged))
			}
			if sum.Untracked > 0 {
				parts = append(parts, fmt.Sprintf("%d untracked", sum.Untracked))
			}
			lines = append(lines, "", "Uncommitted: "+strings.Join(parts, ", "))
		}
	}

	lines = append(lines, "")
	switch {
	case a.Circuit == CircuitOpen:
		lines = append(lines, "Status: Circuit OPEN (no git progress)")
	case a.AutoEnabled:
		lines = append(lines, "Status: Auto-continue enabled")
	case len(a.TaskQueue) > 0:
		lines = append(lines, fmt.Sprintf("Status: %d tasks queued", len(a.TaskQueue)))
	default:
		lines = append(lines, "Status: Awaiting next task")
	}
	return strings.Join(lines, "\n")
}
