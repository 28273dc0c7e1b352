package dispatcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func makeFIFO(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "council.fifo")
	if err := unix.Mkfifo(path, 0o600); err != nil {
		t.Fatalf("mkfifo: %v", err)
	}
	return path
}

func fifoWriter(t *testing.T, path string) *os.File {
	t.Helper()
	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	return w
}

func readUntil(t *testing.T, r *FIFOReader, want int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var got []string
	for len(got) < want {
		got = append(got, r.ReadLines(50)...)
		if time.Now().After(deadline) {
			t.Fatalf("timed out: got %v, want %d lines", got, want)
		}
	}
	return got
}

func TestFIFOReader_ReadsLines(t *testing.T) {
	path := makeFIFO(t)
	r := NewFIFOReader(path)
	if err := r.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	w := fifoWriter(t, path)
	w.WriteString("1: first\n2: second\n")
	w.Close()

	got := readUntil(t, r, 2)
	if got[0] != "1: first" || got[1] != "2: second" {
		t.Errorf("got = %v", got)
	}
}

func TestFIFOReader_PartialLineSurvivesWriterClose(t *testing.T) {
	path := makeFIFO(t)
	r := NewFIFOReader(path)
	if err := r.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	w := fifoWriter(t, path)
	w.WriteString("1: par")
	w.Close()

	// Drain: EOF triggers a reopen but the partial bytes stay buffered.
	deadline := time.Now().Add(2 * time.Second)
	for r.fd >= 0 {
		if lines := r.ReadLines(50); len(lines) != 0 {
			t.Fatalf("partial line delivered early: %v", lines)
		}
		if time.Now().After(deadline) {
			t.Fatal("EOF never detected")
		}
	}

	// Reattach the reader before the writer: a blocking writer open
	// needs a reader on the other end.
	if err := r.Open(); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	w = fifoWriter(t, path)
	w.WriteString("tial task\n")
	w.Close()

	got := readUntil(t, r, 1)
	if got[0] != "1: partial task" {
		t.Errorf("got = %v", got)
	}
}

func TestFIFOReader_SkipsEmptyLines(t *testing.T) {
	path := makeFIFO(t)
	r := NewFIFOReader(path)
	if err := r.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	w := fifoWriter(t, path)
	w.WriteString("\n   \nstatus\n")
	w.Close()

	got := readUntil(t, r, 1)
	if len(got) != 1 || got[0] != "status" {
		t.Errorf("got = %v", got)
	}
}

func TestFIFOReader_NoDataTimesOutEmpty(t *testing.T) {
	path := makeFIFO(t)
	r := NewFIFOReader(path)
	if err := r.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if lines := r.ReadLines(10); len(lines) != 0 {
		t.Errorf("got = %v", lines)
	}
}
