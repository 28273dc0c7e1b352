package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"council/pkg/eventlog"
)

// seedEventsDB writes a few events and returns the database path.
func seedEventsDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	l, err := eventlog.Open(path)
	if err != nil {
		t.Fatalf("open event log: %v", err)
	}
	l.Record("1", "send", "%5", "ok", nil)
	l.Record("2", "dequeue", "%7", "ok", nil)
	l.Record("1", "send", "%5", "fail", errors.New("pane gone"))
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return path
}

func TestLogsCmd_PrintsEvents(t *testing.T) {
	dbPath := seedEventsDB(t)
	t.Setenv("COUNCIL_HOME", t.TempDir())
	t.Setenv("COUNCIL_DB_PATH", dbPath)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"logs"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	got := out.String()
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d:\n%s", len(lines), got)
	}
	// Chronological order: the failing send is last.
	if !strings.Contains(lines[2], "error=pane gone") {
		t.Errorf("last line = %q", lines[2])
	}
	if !strings.Contains(lines[0], "agent=1") || !strings.Contains(lines[0], "send") {
		t.Errorf("first line = %q", lines[0])
	}
}

func TestLogsCmd_AgentFilter(t *testing.T) {
	dbPath := seedEventsDB(t)
	t.Setenv("COUNCIL_HOME", t.TempDir())
	t.Setenv("COUNCIL_DB_PATH", dbPath)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"logs", "2"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	got := out.String()
	if strings.Contains(got, "agent=1") {
		t.Errorf("filter leaked other agents:\n%s", got)
	}
	if !strings.Contains(got, "dequeue") {
		t.Errorf("missing agent 2 event:\n%s", got)
	}
}

func TestLogsCmd_TypeFilterAndTail(t *testing.T) {
	dbPath := seedEventsDB(t)
	t.Setenv("COUNCIL_HOME", t.TempDir())
	t.Setenv("COUNCIL_DB_PATH", dbPath)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"logs", "--type", "send", "--tail", "1"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %d:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[0], "result=fail") {
		t.Errorf("tail should keep the newest send: %q", lines[0])
	}
}

func TestLogsCmd_MissingDatabase(t *testing.T) {
	t.Setenv("COUNCIL_HOME", t.TempDir())
	t.Setenv("COUNCIL_DB_PATH", "")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"logs"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error for missing database")
	}
}

func TestFormatEvent(t *testing.T) {
	var out bytes.Buffer
	formatEvent(&out, &eventlog.Event{
		RunID:     "abcd1234",
		AgentID:   "1",
		CmdType:   "send",
		Result:    "ok",
		CreatedAt: time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC),
	})
	want := "2026-08-24 10:30:00 [abcd1234] agent=1 send result=ok\n"
	if out.String() != want {
		t.Errorf("formatEvent = %q, want %q", out.String(), want)
	}
}
