package eventlog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "council.db")
	l, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, dbPath
}

func TestLog_RecordAndQuery(t *testing.T) {
	l, dbPath := openTestLog(t)

	l.Record("1", "send", "%1", "ok", nil)
	l.Record("2", "state_change", "%2", "ready->working", nil)
	l.Record("1", "circuit_open", "%1", "", errors.New("no git progress"))

	r, err := NewReader(dbPath)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	events, err := r.Query(context.Background(), QueryOpts{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	// Newest first.
	if events[0].CmdType != "circuit_open" {
		t.Errorf("events[0].CmdType = %q", events[0].CmdType)
	}
	if events[0].Error != "no git progress" {
		t.Errorf("events[0].Error = %q", events[0].Error)
	}
	if events[0].RunID != l.RunID() {
		t.Errorf("RunID = %q, want %q", events[0].RunID, l.RunID())
	}
	if len(l.RunID()) != 8 {
		t.Errorf("run id length = %d, want 8", len(l.RunID()))
	}
}

func TestQuery_FilterByAgent(t *testing.T) {
	l, dbPath := openTestLog(t)
	l.Record("1", "send", "%1", "ok", nil)
	l.Record("2", "send", "%2", "ok", nil)
	l.Record("1", "queue", "%1", "task added", nil)

	r, err := NewReader(dbPath)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	events, err := r.Query(context.Background(), QueryOpts{AgentID: "1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	for _, e := range events {
		if e.AgentID != "1" {
			t.Errorf("AgentID = %q, want 1", e.AgentID)
		}
	}
}

func TestQuery_FilterByTypeAndLimit(t *testing.T) {
	l, dbPath := openTestLog(t)
	for i := 0; i < 5; i++ {
		l.Record("1", "send", "%1", "ok", nil)
	}
	l.Record("1", "clear", "%1", "", nil)

	r, err := NewReader(dbPath)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	events, err := r.Query(context.Background(), QueryOpts{CmdType: "send", Limit: 3})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("got %d events, want 3", len(events))
	}
	for _, e := range events {
		if e.CmdType != "send" {
			t.Errorf("CmdType = %q, want send", e.CmdType)
		}
	}
}

func TestQuery_TimeRange(t *testing.T) {
	l, dbPath := openTestLog(t)
	l.Record("1", "send", "%1", "ok", nil)

	r, err := NewReader(dbPath)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	future := time.Now().UTC().Add(time.Hour)
	events, err := r.Query(context.Background(), QueryOpts{After: &future})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events after the future = %d, want 0", len(events))
	}

	past := time.Now().UTC().Add(-time.Hour)
	events, err = r.Query(context.Background(), QueryOpts{After: &past})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("events after the past = %d, want 1", len(events))
	}
}

func TestNewReader_MissingDatabase(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "absent.db"))
	if err == nil {
		t.Fatal("expected error for missing database")
	}
}

func TestNilLogIsNoop(t *testing.T) {
	var l *Log
	l.Record("1", "send", "%1", "ok", nil) // must not panic
	if got := l.RunID(); got != "" {
		t.Errorf("RunID on nil = %q", got)
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close on nil = %v", err)
	}
}
