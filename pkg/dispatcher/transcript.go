package dispatcher

import (
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TailBytes is the transcript tail window scanned for completion reports.
// A tail window, not an incremental read: verbose sessions can emit the
// marker far from where the last scan stopped.
const TailBytes = 500_000

// doneMarker is the completion marker agents write into their transcript.
const doneMarker = "DONE_REPORT"

// checkDoneReport scans the tail of the agent's transcript for the
// completion marker. Shrinking file size means rotation and resets the
// offset. Read errors are treated as "not found".
func checkDoneReport(a *Agent) bool {
	if a.TranscriptPath == "" {
		return false
	}
	info, err := os.Stat(a.TranscriptPath)
	if err != nil {
		return false
	}
	size := info.Size()

	if size < a.LastTranscriptSize {
		a.LastTranscriptOffset = 0
	}

	start := size - TailBytes
	if start < 0 {
		start = 0
	}
	f, err := os.Open(a.TranscriptPath) //nolint:gosec // path comes from trusted config
	if err != nil {
		return false
	}
	defer f.Close()
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return false
	}
	content, err := io.ReadAll(f)
	if err != nil {
		return false
	}

	if strings.Contains(string(content), doneMarker) {
		a.AwaitingDoneReport = false
		a.LastDoneReport = time.Now()
		a.LastTranscriptOffset = size
		a.LastTranscriptSize = size
		return true
	}
	a.LastTranscriptSize = size
	return false
}

// TranscriptWatcher marks agents dirty when their transcript changes so
// the next ready-check rescans promptly. It is an accelerator only: the
// periodic poll still rescans regardless, so a lost event costs latency,
// not correctness.
type TranscriptWatcher struct {
	watcher *fsnotify.Watcher

	mu          sync.Mutex
	dirty       map[string]bool   // agent id -> pending rescan
	pathToAgent map[string]string // transcript path -> agent id
	doneCh      chan struct{}
}

// NewTranscriptWatcher watches every configured transcript. Agents whose
// transcript cannot be watched (file missing yet) are skipped with a log
// line; polling covers them.
func NewTranscriptWatcher(agents map[string]*Agent) (*TranscriptWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	tw := &TranscriptWatcher{
		watcher:     w,
		dirty:       make(map[string]bool),
		pathToAgent: make(map[string]string),
		doneCh:      make(chan struct{}),
	}
	for id, a := range agents {
		if a.TranscriptPath == "" {
			continue
		}
		if err := w.Add(a.TranscriptPath); err != nil {
			log.Printf("[TRANSCRIPT] watch %s: %v", a.TranscriptPath, err)
			continue
		}
		tw.pathToAgent[a.TranscriptPath] = id
	}
	go tw.loop()
	return tw, nil
}

func (tw *TranscriptWatcher) loop() {
	defer close(tw.doneCh)
	for {
		select {
		case ev, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			tw.mu.Lock()
			if id, ok := tw.pathToAgent[ev.Name]; ok {
				tw.dirty[id] = true
			}
			tw.mu.Unlock()
		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[TRANSCRIPT] watcher: %v", err)
		}
	}
}

// ConsumeDirty reports and clears the pending-rescan flag for an agent.
func (tw *TranscriptWatcher) ConsumeDirty(agentID string) bool {
	if tw == nil {
		return false
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.dirty[agentID] {
		delete(tw.dirty, agentID)
		return true
	}
	return false
}

// Close stops the watcher and waits for its goroutine.
func (tw *TranscriptWatcher) Close() {
	if tw == nil {
		return
	}
	_ = tw.watcher.Close()
	<-tw.doneCh
}
