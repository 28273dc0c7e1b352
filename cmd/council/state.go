package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// savedAgent mirrors the durable fields the dispatcher persists per agent.
type savedAgent struct {
	AutoEnabled        bool     `json:"auto_enabled"`
	CircuitState       string   `json:"circuit_state"`
	NoProgressStreak   int      `json:"no_progress_streak"`
	TaskQueue          []string `json:"task_queue"`
	AwaitingDoneReport bool     `json:"awaiting_done_report"`
	LastDoneReportTS   *float64 `json:"last_done_report_ts"`
}

// lastDone converts the persisted unix-seconds timestamp, if any.
func (a savedAgent) lastDone() (time.Time, bool) {
	if a.LastDoneReportTS == nil {
		return time.Time{}, false
	}
	sec := *a.LastDoneReportTS
	return time.Unix(int64(sec), int64((sec-float64(int64(sec)))*1e9)), true
}

// savedState is the dispatcher's state file as read by status and dash.
type savedState struct {
	Version int                   `json:"version"`
	Agents  map[string]savedAgent `json:"agents"`
}

// loadSavedState reads the dispatcher state file. A missing file is an
// empty state, not an error: the dispatcher may simply never have run.
func loadSavedState(path string) (*savedState, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path resolved from COUNCIL_HOME
	if err != nil {
		if os.IsNotExist(err) {
			return &savedState{Agents: map[string]savedAgent{}}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var st savedState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	if st.Agents == nil {
		st.Agents = map[string]savedAgent{}
	}
	return &st, nil
}
