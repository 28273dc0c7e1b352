package dispatcher

import (
	"bytes"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// stopJoinTimeout bounds how long Stop waits for reader goroutines.
const stopJoinTimeout = 2 * time.Second

// SocketServer accepts operator connections on a Unix domain socket and
// feeds newline-delimited commands into the shared queue. Each connection
// gets its own reader goroutine; lines within one connection keep their
// order because a single goroutine pushes them.
type SocketServer struct {
	Path   string
	Source string // tag for queued commands, defaults to "socket"

	queue *CommandQueue

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSocketServer wires a server to the queue. Call Start to listen.
func NewSocketServer(path string, queue *CommandQueue) *SocketServer {
	return &SocketServer{Path: path, Source: "socket", queue: queue}
}

// Start claims the socket path and begins accepting. A live socket at the
// path means another dispatcher owns it and Start fails; a dead leftover
// file is removed.
func (s *SocketServer) Start() error {
	if err := cleanStaleSocket(s.Path); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}

	ln, err := net.Listen("unix", s.Path) //nolint:noctx // UDS bind is instant
	if err != nil {
		return fmt.Errorf("listen unix %s: %w", s.Path, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.conns = make(map[net.Conn]struct{})
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ln)
	log.Printf("[SOCKET] Listening on %s", s.Path)
	return nil
}

// Stop closes the listener and every open connection, unlinks the socket
// file, and waits briefly for the goroutines to drain.
func (s *SocketServer) Stop() {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	ln := s.ln
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, c := range conns {
		_ = c.Close()
	}
	_ = os.Remove(s.Path)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		log.Printf("[SOCKET] readers did not stop in time")
	}
	log.Printf("[SOCKET] Stopped")
}

func (s *SocketServer) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *SocketServer) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.stopped() {
				return
			}
			continue
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.readConn(conn)
	}
}

// connReadSize is the per-read chunk for client connections.
const connReadSize = 4096

// readConn pushes each newline-terminated line from one client. Empty
// lines and lines that are not valid UTF-8 are dropped. Commands are
// framed by '\n' only: whatever trails the last newline when the client
// disconnects is discarded, and a single line may grow without bound.
func (s *SocketServer) readConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	var buf []byte
	chunk := make([]byte, connReadSize)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				idx := bytes.IndexByte(buf, '\n')
				if idx < 0 {
					break
				}
				line := strings.TrimSpace(string(buf[:idx]))
				buf = buf[idx+1:]
				if s.stopped() {
					return
				}
				if line == "" {
					continue
				}
				if !utf8.ValidString(line) {
					log.Printf("[SOCKET] dropping non-UTF-8 line (%d bytes)", len(line))
					continue
				}
				s.queue.Push(Command{Source: s.Source, Text: line})
			}
		}
		if err != nil || s.stopped() {
			return
		}
	}
}
