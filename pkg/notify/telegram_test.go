package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// telegramStub fakes getMe/getUpdates/sendMessage. Updates are delivered
// once, then subsequent polls return an empty batch.
type telegramStub struct {
	mu       sync.Mutex
	updates  string // JSON array, delivered on the first getUpdates
	consumed bool
	sent     []string
}

func (s *telegramStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			fmt.Fprint(w, `{"ok":true,"result":{"username":"council_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.consumed {
				fmt.Fprint(w, `{"ok":true,"result":[]}`)
				return
			}
			s.consumed = true
			fmt.Fprintf(w, `{"ok":true,"result":%s}`, s.updates)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var payload struct {
				Text string `json:"text"`
			}
			_ = json.NewDecoder(r.Body).Decode(&payload)
			s.mu.Lock()
			s.sent = append(s.sent, payload.Text)
			s.mu.Unlock()
			fmt.Fprint(w, `{"ok":true,"result":{}}`)
		default:
			http.NotFound(w, r)
		}
	})
}

func (s *telegramStub) sentMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func newTestBot(t *testing.T, stub *telegramStub, allowed ...int64) (*Bot, chan string) {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	commands := make(chan string, 8)
	bot := &Bot{
		Token:          "test-token",
		AllowedUserIDs: allowed,
		OnCommand:      func(text string) { commands <- text },
		ChatIDPath:     filepath.Join(t.TempDir(), "chat_id.txt"),
		BaseURL:        srv.URL,
		Client:         &http.Client{Timeout: 2 * time.Second},
	}
	return bot, commands
}

func waitFor(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for command")
		return ""
	}
}

func TestBot_RoutesAuthorizedCommand(t *testing.T) {
	stub := &telegramStub{updates: `[{"update_id":7,"message":{"from":{"id":42,"username":"op"},"chat":{"id":99},"text":"1: run the tests"}}]`}
	bot, commands := newTestBot(t, stub, 42)

	if err := bot.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer bot.Stop()

	if got := waitFor(t, commands); got != "1: run the tests" {
		t.Errorf("command = %q", got)
	}

	// Chat id was remembered so Notify has a destination.
	bot.Notify("done", "Agent 1")
	deadline := time.Now().Add(2 * time.Second)
	for {
		if msgs := stub.sentMessages(); len(msgs) >= 2 {
			last := msgs[len(msgs)-1]
			if !strings.Contains(last, "done") {
				t.Errorf("last sent = %q", last)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Notify never reached the stub")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBot_RejectsUnauthorizedUser(t *testing.T) {
	stub := &telegramStub{updates: `[{"update_id":1,"message":{"from":{"id":13,"username":"intruder"},"chat":{"id":5},"text":"status"}}]`}
	bot, commands := newTestBot(t, stub, 42)

	if err := bot.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer bot.Stop()

	select {
	case got := <-commands:
		t.Fatalf("unauthorized command was routed: %q", got)
	case <-time.After(300 * time.Millisecond):
	}

	// The intruder got a rejection reply instead.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if msgs := stub.sentMessages(); len(msgs) > 0 {
			if !strings.Contains(msgs[0], "Unauthorized") {
				t.Errorf("reply = %q", msgs[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("no rejection reply sent")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBot_ChatIDSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat_id.txt")
	if err := os.WriteFile(path, []byte("1234\n"), 0o600); err != nil {
		t.Fatalf("seed chat id: %v", err)
	}

	bot := &Bot{ChatIDPath: path}
	bot.loadChatID()
	bot.mu.Lock()
	got := bot.chatID
	bot.mu.Unlock()
	if got != 1234 {
		t.Errorf("chatID = %d, want 1234", got)
	}
}

func TestBot_NotifyWithoutChatIsDropped(t *testing.T) {
	// Must not panic or block.
	(&Bot{}).Notify("message", "title")
}
