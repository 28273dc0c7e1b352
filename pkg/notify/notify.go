// Package notify delivers short operator notifications. Every implementation
// honors the same contract: never block the dispatch loop for long, and
// swallow delivery failures with a log line; a broken notification channel
// must never take the dispatcher down with it.
package notify

import (
	"context"
	"log"
	"os/exec"
	"time"
)

// Notifier fires a short message at the operator.
type Notifier interface {
	Notify(message, title string)
}

// Multi fans a notification out to several channels.
type Multi []Notifier

// Notify delivers to every channel in order.
func (m Multi) Notify(message, title string) {
	for _, n := range m {
		n.Notify(message, title)
	}
}

// Func adapts a function to the Notifier interface (used in tests).
type Func func(message, title string)

// Notify calls f.
func (f Func) Notify(message, title string) { f(message, title) }

// desktopTimeout bounds the desktop notification helper subprocess.
const desktopTimeout = 5 * time.Second

// Desktop shows a native desktop notification via terminal-notifier (macOS)
// or notify-send (Linux), whichever is found first. Missing helpers are
// silently ignored.
type Desktop struct{}

// Notify runs the notification helper and discards its result.
func (Desktop) Notify(message, title string) {
	ctx, cancel := context.WithTimeout(context.Background(), desktopTimeout)
	defer cancel()

	if path, err := exec.LookPath("terminal-notifier"); err == nil {
		cmd := exec.CommandContext(ctx, path, "-title", title, "-message", message, "-sound", "default")
		if err := cmd.Run(); err != nil {
			log.Printf("[NOTIFY] terminal-notifier: %v", err)
		}
		return
	}
	if path, err := exec.LookPath("notify-send"); err == nil {
		cmd := exec.CommandContext(ctx, path, title, message)
		if err := cmd.Run(); err != nil {
			log.Printf("[NOTIFY] notify-send: %v", err)
		}
	}
}
