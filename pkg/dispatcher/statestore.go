package dispatcher

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// stateVersion is the persisted schema version.
const stateVersion = 3

// persistedAgent is the durable slice of an Agent: operator intent and
// progress tracking survive restarts, ephemeral pane state does not.
type persistedAgent struct {
	AutoEnabled      bool     `json:"auto_enabled"`
	CircuitState     string   `json:"circuit_state"`
	NoProgressStreak int      `json:"no_progress_streak"`
	TaskQueue        []string `json:"task_queue"`

	LastTranscriptOffset int64    `json:"last_transcript_offset"`
	LastTranscriptSize   int64    `json:"last_transcript_size"`
	LastDoneReportTS     *float64 `json:"last_done_report_ts"`
	AwaitingDoneReport   bool     `json:"awaiting_done_report"`

	AuditFailStreak int    `json:"audit_fail_streak"`
	LastAuditTaskID string `json:"last_audit_task_id,omitempty"`
}

type persistedState struct {
	Version int                       `json:"version"`
	Agents  map[string]persistedAgent `json:"agents"`
}

// StateStore saves and restores agent state as JSON. Writes go through a
// temp file and rename so a crash mid-write never corrupts the file.
type StateStore struct {
	Path string
	mu   sync.Mutex
}

// Save persists the durable fields of every agent. Failures are logged
// and swallowed; losing a save beats killing the loop.
func (s *StateStore) Save(agents map[string]*Agent) {
	state := persistedState{Version: stateVersion, Agents: make(map[string]persistedAgent, len(agents))}
	for id, a := range agents {
		p := persistedAgent{
			AutoEnabled:          a.AutoEnabled,
			CircuitState:         string(a.Circuit),
			NoProgressStreak:     a.NoProgressStreak,
			TaskQueue:            append([]string(nil), a.TaskQueue...),
			LastTranscriptOffset: a.LastTranscriptOffset,
			LastTranscriptSize:   a.LastTranscriptSize,
			AwaitingDoneReport:   a.AwaitingDoneReport,
			AuditFailStreak:      a.AuditFailStreak,
			LastAuditTaskID:      a.LastAuditTaskID,
		}
		if p.TaskQueue == nil {
			p.TaskQueue = []string{}
		}
		if !a.LastDoneReport.IsZero() {
			ts := float64(a.LastDoneReport.UnixNano()) / float64(time.Second)
			p.LastDoneReportTS = &ts
		}
		state.Agents[id] = p
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		log.Printf("[STATE] marshal: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		log.Printf("[STATE] save: %v", err)
		return
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		log.Printf("[STATE] save: %v", err)
		return
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		log.Printf("[STATE] save: %v", err)
	}
}

// Load restores persisted state into matching agents. A missing file is
// a clean first run; a corrupt file is logged and ignored so the
// dispatcher still starts. Agents present in the file but absent from the
// config are dropped.
func (s *StateStore) Load(agents map[string]*Agent) {
	s.mu.Lock()
	data, err := os.ReadFile(s.Path) //nolint:gosec // path comes from trusted config
	s.mu.Unlock()
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[STATE] load: %v", err)
		}
		return
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Printf("[STATE] load: %v", err)
		return
	}

	for id, p := range state.Agents {
		a, ok := agents[id]
		if !ok {
			continue
		}
		a.AutoEnabled = p.AutoEnabled
		a.Circuit = CircuitState(p.CircuitState)
		if a.Circuit != CircuitOpen {
			a.Circuit = CircuitClosed
		}
		a.NoProgressStreak = p.NoProgressStreak
		a.TaskQueue = p.TaskQueue
		a.LastTranscriptOffset = p.LastTranscriptOffset
		a.LastTranscriptSize = p.LastTranscriptSize
		a.AwaitingDoneReport = p.AwaitingDoneReport
		a.AuditFailStreak = p.AuditFailStreak
		a.LastAuditTaskID = p.LastAuditTaskID
		if p.LastDoneReportTS != nil {
			sec := *p.LastDoneReportTS
			a.LastDoneReport = time.Unix(0, int64(sec*float64(time.Second)))
		}
	}
	log.Printf("[STATE] Restored from %s", s.Path)
}
