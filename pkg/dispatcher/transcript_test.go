package dispatcher

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTranscript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
	return path
}

func TestCheckDoneReport_Found(t *testing.T) {
	a := newAgent("1")
	a.TranscriptPath = writeTranscript(t, "some output\nDONE_REPORT: all tests pass\n")
	a.AwaitingDoneReport = true

	if !checkDoneReport(a) {
		t.Fatal("marker not found")
	}
	if a.AwaitingDoneReport {
		t.Error("AwaitingDoneReport not cleared")
	}
	if a.LastDoneReport.IsZero() {
		t.Error("LastDoneReport not set")
	}
	if a.LastTranscriptSize == 0 {
		t.Error("size not recorded")
	}
}

func TestCheckDoneReport_NotFound(t *testing.T) {
	a := newAgent("1")
	a.TranscriptPath = writeTranscript(t, "still working on it\n")

	if checkDoneReport(a) {
		t.Fatal("unexpected marker")
	}
	if !a.LastDoneReport.IsZero() {
		t.Error("LastDoneReport set without marker")
	}
	if a.LastTranscriptSize == 0 {
		t.Error("size not tracked on miss")
	}
}

func TestCheckDoneReport_NoTranscript(t *testing.T) {
	a := newAgent("1")
	if checkDoneReport(a) {
		t.Error("agent without transcript reported done")
	}
	a.TranscriptPath = "/nonexistent/session.jsonl"
	if checkDoneReport(a) {
		t.Error("missing file reported done")
	}
}

func TestCheckDoneReport_TailWindowOnly(t *testing.T) {
	// The marker sits outside the tail window and must not be seen.
	content := "DONE_REPORT early\n" + strings.Repeat("x", TailBytes+1024)
	a := newAgent("1")
	a.TranscriptPath = writeTranscript(t, content)

	if checkDoneReport(a) {
		t.Error("marker outside the tail window was found")
	}
}

func TestCheckDoneReport_RotationResetsOffset(t *testing.T) {
	a := newAgent("1")
	a.TranscriptPath = writeTranscript(t, strings.Repeat("log line\n", 100))
	checkDoneReport(a)
	if a.LastTranscriptSize == 0 {
		t.Fatal("size not tracked")
	}
	a.LastTranscriptOffset = a.LastTranscriptSize

	// Truncate: rotation.
	if err := os.WriteFile(a.TranscriptPath, []byte("fresh\n"), 0o600); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	checkDoneReport(a)
	if a.LastTranscriptOffset != 0 {
		t.Errorf("offset = %d, want 0 after rotation", a.LastTranscriptOffset)
	}
}

func TestTranscriptWatcher_MarksDirtyOnWrite(t *testing.T) {
	a := newAgent("1")
	a.TranscriptPath = writeTranscript(t, "start\n")
	agents := map[string]*Agent{"1": a}

	tw, err := NewTranscriptWatcher(agents)
	if err != nil {
		t.Fatalf("NewTranscriptWatcher: %v", err)
	}
	defer tw.Close()

	f, err := os.OpenFile(a.TranscriptPath, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.WriteString("more\n")
	f.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !tw.ConsumeDirty("1") {
		if time.Now().After(deadline) {
			t.Fatal("dirty flag never set")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Consumed: second read is clean.
	if tw.ConsumeDirty("1") {
		t.Error("dirty flag not cleared by consume")
	}
}

func TestTranscriptWatcher_NilSafe(t *testing.T) {
	var tw *TranscriptWatcher
	if tw.ConsumeDirty("1") {
		t.Error("nil watcher reported dirty")
	}
	tw.Close() // must not panic
}
