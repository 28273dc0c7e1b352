package main

import (
	"bytes"
	"strings"
	"testing"

	"council/pkg/config"
)

func statusFixture() (*config.Config, *savedState) {
	cfg := &config.Config{Agents: map[string]config.AgentConfig{
		"1": {PaneID: "%5", Name: "Builder", Mode: "strict"},
		"2": {PaneID: "%7", Name: "Tester", Mode: "default"},
	}}
	ts := 1700000000.0
	st := &savedState{Version: 3, Agents: map[string]savedAgent{
		"1": {AutoEnabled: true, CircuitState: "open", TaskQueue: []string{"a", "b"}},
		"2": {AwaitingDoneReport: true, LastDoneReportTS: &ts},
	}}
	return cfg, st
}

func TestPrintAgentStatus(t *testing.T) {
	cfg, st := statusFixture()
	var out bytes.Buffer

	live := func(pane string) bool { return pane == "%5" }
	printAgentStatus(&out, cfg, st, live, false)

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d:\n%s", len(lines), out.String())
	}

	// Sorted by agent id.
	if !strings.HasPrefix(lines[0], "Agent 1 (Builder):") {
		t.Errorf("line 0 = %q", lines[0])
	}
	for _, want := range []string{"pane %5 live", "CIRCUIT OPEN", "AUTO", "Q:2", "mode:strict"} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("line 0 missing %q: %s", want, lines[0])
		}
	}

	if !strings.Contains(lines[1], "pane %7 dead") {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.Contains(lines[1], "awaiting DONE_REPORT") {
		t.Errorf("line 1 missing awaiting marker: %s", lines[1])
	}
	if strings.Contains(lines[1], "mode:") {
		t.Errorf("default mode should not be shown: %s", lines[1])
	}
}

func TestPrintAgentStatus_NoSavedState(t *testing.T) {
	cfg, _ := statusFixture()
	var out bytes.Buffer

	printAgentStatus(&out, cfg, &savedState{Agents: map[string]savedAgent{}}, nil, false)

	if !strings.Contains(out.String(), "Agent 1 (Builder)") {
		t.Errorf("output = %q", out.String())
	}
	if strings.Contains(out.String(), "CIRCUIT OPEN") {
		t.Errorf("no state should mean closed circuit: %q", out.String())
	}
}

func TestColorize(t *testing.T) {
	if got := colorize("x", ansiRed, false); got != "x" {
		t.Errorf("disabled colorize = %q", got)
	}
	if got := colorize("x", ansiRed, true); got != "\x1b[31mx\x1b[0m" {
		t.Errorf("enabled colorize = %q", got)
	}
}
