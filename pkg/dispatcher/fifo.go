package dispatcher

import (
	"bytes"
	"log"
	"strings"
	"unicode/utf8"

	"golang.org/x/sys/unix"
)

// fifoReadSize is the chunk size for FIFO reads.
const fifoReadSize = 4096

// FIFOReader reads operator commands from the legacy named pipe with a
// non-blocking descriptor. select()-style readiness plus raw reads avoid
// the buffering traps of a blocking pipe: EOF when the writer closes is
// detected and the pipe reopened, and a partial line survives the reopen.
type FIFOReader struct {
	Path string

	fd  int
	buf []byte
}

// NewFIFOReader wraps a FIFO path. Call Open before ReadLines, or let
// ReadLines open lazily.
func NewFIFOReader(path string) *FIFOReader {
	return &FIFOReader{Path: path, fd: -1}
}

// Open acquires a non-blocking read descriptor on the pipe.
func (f *FIFOReader) Open() error {
	if f.fd >= 0 {
		return nil
	}
	fd, err := unix.Open(f.Path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return err
	}
	f.fd = fd
	return nil
}

// Close releases the descriptor. The partial-line buffer is kept so a
// reopen continues mid-line.
func (f *FIFOReader) Close() {
	if f.fd >= 0 {
		_ = unix.Close(f.fd)
		f.fd = -1
	}
}

// reopen drops the descriptor; the next ReadLines call reopens. Buffer is
// kept: a writer may have closed mid-line.
func (f *FIFOReader) reopen() {
	f.Close()
}

// ReadLines returns every complete line available within the poll window.
// Empty and non-UTF-8 lines are dropped; incomplete trailing bytes stay
// buffered for the next call. Errors degrade to an empty result.
func (f *FIFOReader) ReadLines(timeoutMillis int) []string {
	if f.fd < 0 {
		if err := f.Open(); err != nil {
			return nil
		}
	}

	fds := []unix.PollFd{{Fd: int32(f.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, timeoutMillis)
	if err != nil || n == 0 {
		return nil
	}

	chunk := make([]byte, fifoReadSize)
	for {
		n, err := unix.Read(f.fd, chunk)
		if err != nil {
			if err == unix.EAGAIN {
				break // drained
			}
			log.Printf("[FIFO] read: %v", err)
			f.reopen()
			break
		}
		if n == 0 {
			// EOF: all writers closed. Reopen for the next one.
			f.reopen()
			break
		}
		f.buf = append(f.buf, chunk[:n]...)
	}

	var lines []string
	for {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSpace(string(f.buf[:idx]))
		f.buf = f.buf[idx+1:]
		if line == "" {
			continue
		}
		if !utf8.ValidString(line) {
			log.Printf("[FIFO] dropping non-UTF-8 line (%d bytes)", len(line))
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
