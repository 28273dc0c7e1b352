package dispatcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"council/pkg/audit"
	"council/pkg/classify"
	"council/pkg/config"
	"council/pkg/gitwatch"
	"council/pkg/notify"
	"council/pkg/tmux"

	"council/pkg/eventlog"
)

// tickSleep is the loop granularity: command drain latency, not poll rate.
const tickSleep = 100 * time.Millisecond

// Options carries the collaborators the dispatcher does not build itself.
// Zero values get sensible defaults; nil notifiers and logs are no-ops.
type Options struct {
	StatePath string
	TaskDir   string
	DryRun    bool

	Events *eventlog.Log
	Short  notify.Notifier // desktop + pushover, short messages
	Rich   notify.Notifier // telegram, rich markdown summaries
	Inbox  *notify.Inbox   // pushover inbound commands
	Audit  *audit.Auditor

	Out io.Writer // console output, defaults to os.Stdout
}

// Dispatcher owns every agent and runs the single-threaded dispatch loop.
// Ingestion goroutines only touch the command queue; all agent mutation
// happens on the loop goroutine.
type Dispatcher struct {
	cfg    *config.Config
	agents map[string]*Agent
	order  []string // sorted agent ids for deterministic iteration

	queue *CommandQueue
	panes *tmux.Panes
	git   *gitwatch.Watcher
	table *classify.Table

	store       *StateStore
	events      *eventlog.Log
	transcripts *TranscriptWatcher

	short   notify.Notifier
	rich    notify.Notifier
	inbox   *notify.Inbox
	auditor *audit.Auditor

	taskDir string
	dryRun  bool
	out     io.Writer

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// New builds a Dispatcher from a validated config. It does not listen or
// poll until Run.
func New(cfg *config.Config, opts Options) *Dispatcher {
	agents := make(map[string]*Agent, len(cfg.Agents))
	for id, ac := range cfg.Agents {
		a := newAgent(id)
		a.PaneID = ac.PaneID
		a.Name = ac.Name
		a.Worktree = ac.Worktree
		a.TranscriptPath = ac.TranscriptPath
		a.InvariantsPath = ac.InvariantsPath
		a.AutoAudit = ac.AutoAudit
		a.Mode = ac.Mode
		agents[id] = a
	}
	order := make([]string, 0, len(agents))
	for id := range agents {
		order = append(order, id)
	}
	sort.Strings(order)

	table := classify.DefaultTable()
	if cfg.PatternsPath != "" {
		t, err := classify.LoadTable(cfg.PatternsPath)
		if err != nil {
			fmt.Fprintf(optOut(opts), "[WARN] pattern table %s: %v (using defaults)\n", cfg.PatternsPath, err)
		}
		table = t
	}

	d := &Dispatcher{
		cfg:     cfg,
		agents:  agents,
		order:   order,
		queue:   &CommandQueue{},
		panes:   tmux.NewPanes(),
		git:     gitwatch.NewWatcher(),
		table:   table,
		store:   &StateStore{Path: opts.StatePath},
		events:  opts.Events,
		short:   opts.Short,
		rich:    opts.Rich,
		inbox:   opts.Inbox,
		auditor: opts.Audit,
		taskDir: opts.TaskDir,
		dryRun:  opts.DryRun,
		out:     optOut(opts),
		nowFunc: time.Now,
	}
	return d
}

func optOut(opts Options) io.Writer {
	if opts.Out != nil {
		return opts.Out
	}
	return os.Stdout
}

// Queue exposes the shared command queue so ingestion channels built
// outside (Telegram) can feed the loop.
func (d *Dispatcher) Queue() *CommandQueue { return d.queue }

// Run blocks until ctx is cancelled or an operator quit command arrives.
// Socket is preferred over FIFO when both are configured.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.store.Load(d.agents)

	var socket *SocketServer
	var fifo *FIFOReader
	if d.cfg.SocketPath != "" {
		socket = NewSocketServer(d.cfg.SocketPath, d.queue)
		if err := socket.Start(); err != nil {
			return err
		}
		defer socket.Stop()
	} else if d.cfg.FIFOPath != "" {
		fmt.Fprintln(d.out, "[WARN] Using deprecated FIFO mode. Migrate to socket_path.")
		fifo = NewFIFOReader(d.cfg.FIFOPath)
		defer fifo.Close()
	}

	if tw, err := NewTranscriptWatcher(d.agents); err == nil {
		d.transcripts = tw
		defer tw.Close()
	}

	d.events.Record("", "startup", "", fmt.Sprintf("%d agents", len(d.agents)), nil)
	defer d.store.Save(d.agents)

	// Initial sweep so the first status is real.
	d.logChanges(d.checkAgents())
	d.printStatus()

	lastPoll := d.nowFunc()
	ticker := time.NewTicker(tickSleep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		// Drain the shared queue (socket + telegram).
		for {
			c, ok := d.queue.TryPop()
			if !ok {
				break
			}
			fmt.Fprintf(d.out, "[%s] %s\n", strings.ToUpper(c.Source), c.Text)
			if !d.processLine(c.Text) {
				return nil
			}
		}

		// Legacy FIFO reads happen on the loop goroutine itself.
		if fifo != nil {
			for _, line := range fifo.ReadLines(0) {
				fmt.Fprintf(d.out, "[FIFO] %s\n", line)
				if !d.processLine(line) {
					return nil
				}
			}
		}

		// Pushover inbox rate-limits itself.
		if d.inbox != nil {
			for _, cmd := range d.inbox.Poll() {
				fmt.Fprintf(d.out, "[PUSHOVER CMD] %s\n", cmd)
				if !d.processLine(cmd) {
					return nil
				}
			}
		}

		if d.nowFunc().Sub(lastPoll) >= d.cfg.PollInterval() {
			d.logChanges(d.checkAgents())
			lastPoll = d.nowFunc()
		}
	}
}

func (d *Dispatcher) logChanges(changes []string) {
	stamp := d.nowFunc().Format("15:04:05")
	for _, c := range changes {
		fmt.Fprintf(d.out, "[%s] %s\n", stamp, c)
	}
}

// --- Command processing ---

// processLine executes one operator command. Returns false on quit.
func (d *Dispatcher) processLine(line string) bool {
	p := Parse(line)

	switch p.Kind {
	case KindQuit:
		fmt.Fprintln(d.out, "Bye!")
		return false

	case KindStatus:
		d.logChanges(d.checkAgents())
		d.printStatus()

	case KindHelp:
		d.printHelp()

	case KindAuto:
		if a := d.agent(p.AgentID); a != nil {
			a.AutoEnabled = true
			a.primeSnapshot(d.git)
			fmt.Fprintf(d.out, "%s: auto-continue ENABLED\n", a.Name)
			d.store.Save(d.agents)
		}

	case KindStop:
		if a := d.agent(p.AgentID); a != nil {
			a.AutoEnabled = false
			fmt.Fprintf(d.out, "%s: auto-continue DISABLED\n", a.Name)
			d.store.Save(d.agents)
		}

	case KindReset:
		if a := d.agent(p.AgentID); a != nil {
			a.resetCircuit()
			d.events.Record(a.ID, "circuit_reset", a.PaneID, "", nil)
			fmt.Fprintf(d.out, "%s: circuit RESET\n", a.Name)
			d.store.Save(d.agents)
		}

	case KindQueueShow:
		if a := d.agent(p.AgentID); a != nil {
			if len(a.TaskQueue) == 0 {
				fmt.Fprintf(d.out, "%s: queue is empty\n", a.Name)
			} else {
				fmt.Fprintf(d.out, "\n%s queue (%d tasks):\n", a.Name, len(a.TaskQueue))
				for i, task := range a.TaskQueue {
					fmt.Fprintf(d.out, "  %d. %s\n", i+1, clip(task, 60))
				}
				fmt.Fprintln(d.out)
			}
		}

	case KindQueueAdd:
		if a := d.agent(p.AgentID); a != nil {
			a.TaskQueue = append(a.TaskQueue, p.Text)
			d.events.Record(a.ID, "queue", a.PaneID, "task added", nil)
			fmt.Fprintf(d.out, "%s: queued task (%d total)\n", a.Name, len(a.TaskQueue))
			fmt.Fprintf(d.out, "  -> %s\n", clip(p.Text, 60))
			d.store.Save(d.agents)
		}

	case KindClear:
		if a := d.agent(p.AgentID); a != nil {
			cleared := len(a.TaskQueue)
			a.TaskQueue = nil
			fmt.Fprintf(d.out, "%s: cleared %d queued tasks\n", a.Name, cleared)
			d.store.Save(d.agents)
		}

	case KindProgressMark:
		if a := d.agent(p.AgentID); a != nil {
			a.markProgress(d.git)
			d.events.Record(a.ID, "progress_mark", a.PaneID, "", nil)
			fmt.Fprintf(d.out, "%s: progress marked (streak reset)\n", a.Name)
			d.store.Save(d.agents)
		}

	case KindSend:
		d.sendDirect(p.AgentID, p.Text)

	default:
		if p.Text != "" {
			fmt.Fprintln(d.out, "Unknown command. Type 'help' for usage.")
		}
	}
	return true
}

// agent resolves an id, reporting unknown ids to the console.
func (d *Dispatcher) agent(id string) *Agent {
	a, ok := d.agents[id]
	if !ok {
		fmt.Fprintf(d.out, "Unknown agent: %s\n", id)
		return nil
	}
	return a
}

// sendDirect delivers an operator line straight to the pane.
func (d *Dispatcher) sendDirect(agentID, text string) {
	a := d.agent(agentID)
	if a == nil {
		return
	}
	if a.State == classify.StateMissing {
		fmt.Fprintf(d.out, "%s: pane not found\n", a.Name)
		return
	}
	if d.panes.InScrollMode(a.PaneID) {
		fmt.Fprintf(d.out, "%s: in scroll mode, exit first (q)\n", a.Name)
		return
	}
	a.primeSnapshot(d.git)
	if d.sendToAgent(a, text, "send") {
		if !d.dryRun {
			fmt.Fprintf(d.out, "-> %s: %s\n", a.Name, clip(text, 50))
		}
		a.State = classify.StateWorking
		a.LastCommandSent = d.nowFunc()
		writeCurrentTask(d.taskDir, a, text)
	} else {
		fmt.Fprintf(d.out, "Failed to send to %s\n", a.Name)
	}
}

// sendToAgent sends text to the pane, honoring dry-run, and logs the event.
func (d *Dispatcher) sendToAgent(a *Agent, text, cmdType string) bool {
	if d.dryRun {
		fmt.Fprintf(d.out, "[DRY-RUN] Would send to %s (%s): %s\n", a.Name, a.PaneID, clip(text, 80))
		d.events.Record(a.ID, cmdType, a.PaneID, "dry_run", nil)
		return true
	}
	ok := d.panes.Send(a.PaneID, text)
	if ok {
		d.events.Record(a.ID, cmdType, a.PaneID, "ok", nil)
	} else {
		d.events.Record(a.ID, cmdType, a.PaneID, "fail", fmt.Errorf("tmux send failed"))
	}
	return ok
}

// --- Agent monitoring ---

// checkAgents sweeps every agent once and returns console change lines.
func (d *Dispatcher) checkAgents() []string {
	var changes []string
	for _, id := range d.order {
		changes = append(changes, d.checkAgent(d.agents[id])...)
	}
	return changes
}

func (d *Dispatcher) checkAgent(a *Agent) []string {
	var changes []string

	output, ok := d.panes.Capture(a.PaneID, 0)
	if !ok {
		if a.State != classify.StateMissing {
			a.State = classify.StateMissing
			changes = append(changes, a.Name+": pane not found")
		}
		return changes
	}

	changes = append(changes, d.checkStuckThinking(a, output)...)

	newState := d.table.Classify(output)
	if newState != a.State {
		oldState := a.State
		a.State = newState

		switch {
		case newState == classify.StateReady:
			changes = append(changes, a.Name+" is READY")
			changes = append(changes, d.onReady(a, oldState)...)

		case newState == classify.StateWorking && oldState == classify.StateReady:
			changes = append(changes, a.Name+" is working...")

		case newState == classify.StateDialog:
			changes = append(changes, a.Name+" needs INPUT")
			now := d.nowFunc()
			if now.Sub(a.LastDialogNotify) >= DialogNotifyCooldown {
				dialog := classify.ExtractDialog(output)
				if dialog.Raw != "" {
					d.notifyDialog(a, dialog)
					a.LastDialogNotify = now
					changes = append(changes, "  -> sent dialog notification")
				}
			}
		}
	}

	a.LastCheck = d.nowFunc()
	return changes
}

func (d *Dispatcher) checkStuckThinking(a *Agent, output string) []string {
	secs, ok := classify.ThinkingSeconds(output)
	if !ok || time.Duration(secs)*time.Second < StuckThinkingThreshold {
		return nil
	}
	now := d.nowFunc()
	if now.Sub(a.LastStuckNotify) < StuckNotifyCooldown {
		return nil
	}
	minutes := secs / 60
	ctx := taskContext(d.taskDir, a)
	msg := fmt.Sprintf("%s (%s)\nStuck thinking for %dmin", a.Name, ctx.Project, minutes)
	if ctx.Task != "" {
		msg += "\nTask: " + ctx.Task
	}
	d.notifyAll(msg, a.Name)
	a.LastStuckNotify = now
	return []string{fmt.Sprintf("%s: stuck thinking (%dm)", a.Name, minutes)}
}

// onReady handles one working/unknown -> ready transition: completion
// report, auto-audit, progress tracking, breaker, then exactly one of
// queue dispatch, auto-continue, or notification.
func (d *Dispatcher) onReady(a *Agent, oldState classify.State) []string {
	var changes []string

	// fsnotify dirty flag is consumed even though the tail scan decides.
	d.transcripts.ConsumeDirty(a.ID)
	if checkDoneReport(a) {
		changes = append(changes, "  -> DONE_REPORT detected")
		if a.AutoAudit && a.Mode == "strict" {
			if result := d.runAutoAudit(a); result != "" {
				changes = append(changes, "  -> audit: "+result)
			}
		}
	}

	changes = append(changes, a.trackProgress(d.git)...)

	if a.circuitShouldOpen() {
		a.Circuit = CircuitOpen
		changes = append(changes, "  -> CIRCUIT OPEN (no progress)")
		d.events.Record(a.ID, "circuit_open", a.PaneID, fmt.Sprintf("streak=%d", a.NoProgressStreak), nil)
		ctx := taskContext(d.taskDir, a)
		msg := fmt.Sprintf("%s (%s)\nCIRCUIT OPEN - no git progress\n%d iterations without commits\n-> Use 'reset %s' to retry",
			a.Name, ctx.Project, a.NoProgressStreak, a.ID)
		d.notifyAll(msg, a.Name)
		d.store.Save(d.agents)
	}

	switch {
	case len(a.TaskQueue) > 0 && a.Circuit == CircuitClosed:
		next := a.TaskQueue[0]
		a.primeSnapshot(d.git)
		if d.sendToAgent(a, next, "dequeue") {
			a.TaskQueue = a.TaskQueue[1:]
			changes = append(changes, "  -> queued task: "+clip(next, 40))
			changes = append(changes, fmt.Sprintf("     [%d remaining]", len(a.TaskQueue)))
			a.State = classify.StateWorking
			a.LastCommandSent = d.nowFunc()
			writeCurrentTask(d.taskDir, a, next)
			d.store.Save(d.agents)
		}

	case a.AutoEnabled && a.Circuit == CircuitClosed:
		a.primeSnapshot(d.git)
		if d.sendToAgent(a, "continue", "auto_continue") {
			changes = append(changes, "  -> auto-continue sent")
			a.State = classify.StateWorking
			a.LastCommandSent = d.nowFunc()
		}

	case oldState == classify.StateWorking:
		now := d.nowFunc()
		sinceCmd := now.Sub(a.LastCommandSent)
		sinceNotify := now.Sub(a.LastNotify)
		switch {
		case sinceCmd >= ReadyNotifyDelay && sinceNotify >= NotifyCooldown:
			d.notifyReady(a)
			a.LastNotify = now
			changes = append(changes, "  -> notification sent")
		case sinceCmd < ReadyNotifyDelay:
			changes = append(changes, fmt.Sprintf("  -> notify skipped (wait %.0fs)", (ReadyNotifyDelay-sinceCmd).Seconds()))
		default:
			changes = append(changes, "  -> notify skipped (cooldown)")
		}
	}
	return changes
}

// --- Auto-audit ---

// runAutoAudit verifies a completion report and either approves it or
// queues one fix task before escalating to a human.
func (d *Dispatcher) runAutoAudit(a *Agent) string {
	if d.auditor == nil || a.TranscriptPath == "" {
		return ""
	}

	// Loop guard key: same transcript + same completion report = same task.
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", a.TranscriptPath, a.LastDoneReport.UnixNano())))
	taskID := hex.EncodeToString(sum[:])[:16]

	invariants := audit.Result{Passed: true}
	if a.InvariantsPath != "" && a.Worktree != "" {
		invariants = d.auditor.CheckInvariants(a.Worktree, a.InvariantsPath)
	}
	verdict := d.auditor.AuditTranscript(a.TranscriptPath)

	ctx := taskContext(d.taskDir, a)
	if invariants.Passed && verdict.Passed {
		a.AuditFailStreak = 0
		msg := fmt.Sprintf("%s (%s)\nTask APPROVED", a.Name, ctx.Project)
		if ctx.Task != "" {
			msg += "\n" + ctx.Task
		}
		d.notifyAll(msg, a.Name)
		d.events.Record(a.ID, "audit_approved", a.PaneID, "", nil)
		return "APPROVED"
	}

	if taskID != a.LastAuditTaskID {
		a.LastAuditTaskID = taskID
		a.AuditFailStreak = 1
	} else {
		a.AuditFailStreak++
	}

	var reasons []string
	if !invariants.Passed {
		reasons = append(reasons, "invariants: "+invariants.Summary(50))
	}
	if !verdict.Passed {
		reasons = append(reasons, "audit: "+verdict.Summary(50))
	}
	reason := strings.Join(reasons, "; ")

	if a.AuditFailStreak <= MaxAuditRetries {
		a.TaskQueue = append(a.TaskQueue, "Fix audit issues: "+reason)
		d.store.Save(d.agents)
		msg := fmt.Sprintf("%s (%s)\nREJECTED: %s\n-> Fix task queued (attempt %d/%d)",
			a.Name, ctx.Project, clip(reason, 80), a.AuditFailStreak, MaxAuditRetries)
		d.notifyAll(msg, a.Name)
		d.events.Record(a.ID, "audit_rejected", a.PaneID, reason, nil)
		return fmt.Sprintf("REJECTED (fix queued, streak=%d)", a.AuditFailStreak)
	}

	msg := fmt.Sprintf("%s (%s)\nREQUIRES HUMAN\nFailed %d times", a.Name, ctx.Project, a.AuditFailStreak)
	d.notifyAll(msg, a.Name)
	d.events.Record(a.ID, "audit_requires_human", a.PaneID, fmt.Sprintf("streak=%d", a.AuditFailStreak), nil)
	return fmt.Sprintf("REQUIRES HUMAN (failed %d times)", a.AuditFailStreak)
}

// --- Notifications ---

// notifyAll fans a plain message to every configured channel.
func (d *Dispatcher) notifyAll(message, title string) {
	fmt.Fprintf(d.out, "[NOTIFY] %s\n", message)
	if d.short != nil {
		d.short.Notify(message, title)
	}
	if d.rich != nil {
		d.rich.Notify(title+": "+message, "")
	}
}

// notifyReady sends the short form to desktop/Pushover and the rich git
// summary to Telegram.
func (d *Dispatcher) notifyReady(a *Agent) {
	ctx := taskContext(d.taskDir, a)
	short := "Ready for next task"
	if ctx.Task != "" {
		short = "Done: " + ctx.Task
	}
	fmt.Fprintf(d.out, "[NOTIFY] %s: %s\n", a.Name, short)

	if d.short != nil {
		d.short.Notify(fmt.Sprintf("%s (%s)\n%s\n-> Awaiting next task", a.Name, ctx.Project, short), a.Name)
	}
	if d.rich != nil {
		d.rich.Notify(richSummary(d.taskDir, a, d.git), "")
	}
}

// notifyDialog tells the operator an agent is blocked on a question, with
// a reply hint matching the dialog shape.
func (d *Dispatcher) notifyDialog(a *Agent, dialog classify.Dialog) {
	ctx := taskContext(d.taskDir, a)
	short := "Needs input: " + clip(dialog.Question, 50)
	fmt.Fprintf(d.out, "[NOTIFY-DIALOG] %s: %s\n", a.Name, short)

	if d.short != nil {
		d.short.Notify(fmt.Sprintf("%s (%s)\n%s", a.Name, ctx.Project, short), a.Name+" - INPUT NEEDED")
	}
	if d.rich != nil {
		msg := fmt.Sprintf("*%s* needs input\n\n", a.Name)
		if ctx.Task != "" {
			msg += "Task: " + ctx.Task + "\n\n"
		}
		msg += "```\n" + dialog.Raw + "\n```\n\n"
		switch dialog.Kind {
		case classify.DialogNumbered:
			msg += fmt.Sprintf("Reply: `%s: <number>`", a.ID)
		case classify.DialogYesNo:
			msg += fmt.Sprintf("Reply: `%s: y` or `%s: n`", a.ID, a.ID)
		default:
			msg += fmt.Sprintf("Reply: `%s: <your response>`", a.ID)
		}
		d.rich.Notify(msg, "")
	}
}

// --- Status display ---

func (d *Dispatcher) printStatus() {
	fmt.Fprintln(d.out, "\n=== Agent Status ===")
	for _, id := range d.order {
		a := d.agents[id]
		status := a.State.String()
		switch a.State {
		case classify.StateReady:
			status = "READY"
		case classify.StateWorking:
			status = "working..."
		case classify.StateDialog:
			status = "DIALOG (needs input)"
		case classify.StateMissing:
			status = "MISSING"
		}

		var extras []string
		if a.AutoEnabled {
			extras = append(extras, "AUTO")
		}
		if a.Circuit == CircuitOpen {
			extras = append(extras, "CIRCUIT OPEN")
		}
		if len(a.TaskQueue) > 0 {
			extras = append(extras, fmt.Sprintf("Q:%d", len(a.TaskQueue)))
		}
		if done := formatDoneStatus(a, d.nowFunc()); done != "" {
			extras = append(extras, done)
		}
		if a.Mode != "default" {
			extras = append(extras, "mode:"+a.Mode)
		}

		extrasStr := ""
		if len(extras) > 0 {
			extrasStr = " [" + strings.Join(extras, " ") + "]"
		}
		fmt.Fprintf(d.out, "  %s: %s [%s] - %s%s\n", a.ID, a.Name, a.PaneID, status, extrasStr)
	}
	fmt.Fprintln(d.out)
}

// formatDoneStatus renders the completion-report column for status.
func formatDoneStatus(a *Agent, now time.Time) string {
	if a.TranscriptPath == "" {
		return "[DONE: N/A]"
	}
	if a.AwaitingDoneReport {
		return "[awaiting DONE_REPORT]"
	}
	if !a.LastDoneReport.IsZero() {
		elapsed := now.Sub(a.LastDoneReport)
		switch {
		case elapsed < time.Minute:
			return fmt.Sprintf("[DONE %ds ago]", int(elapsed.Seconds()))
		case elapsed < time.Hour:
			return fmt.Sprintf("[DONE %dm ago]", int(elapsed.Minutes()))
		default:
			return fmt.Sprintf("[DONE %dh ago]", int(elapsed.Hours()))
		}
	}
	return ""
}

func (d *Dispatcher) printHelp() {
	fmt.Fprint(d.out, `
Commands:
  1: <text>        - Send <text> to agent 1
  queue 1 "<task>" - Add <task> to agent 1's queue
  queue 1          - Show queue for agent 1
  clear 1          - Clear queue for agent 1
  auto 1           - Enable auto-continue for agent 1
  stop 1           - Disable auto-continue for agent 1
  reset 1          - Reset circuit breaker for agent 1
  progress 1 mark  - Manually mark progress (resets streak)
  status           - Show agent status
  quit             - Exit

`)
}

// clip shortens s for console display.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
