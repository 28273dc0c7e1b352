package notify

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// pushoverStub fakes the Open Client API endpoints used by Inbox.
type pushoverStub struct {
	mu       sync.Mutex
	messages []map[string]any
	acked    int
}

func (s *pushoverStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/1/users/login.json", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":1,"secret":"sekrit"}`)
	})
	mux.HandleFunc("/1/devices.json", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":1,"id":"dev42"}`)
	})
	mux.HandleFunc("/1/messages.json", func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		fmt.Fprint(w, `{"status":1,"messages":[`)
		for i, m := range s.messages {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"id":%d,"message":%q}`, m["id"], m["message"])
		}
		fmt.Fprint(w, `]}`)
	})
	mux.HandleFunc("/1/devices/dev42/update_highest_message.json", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.acked++
		s.mu.Unlock()
		_ = r.ParseForm()
		fmt.Fprint(w, `{"status":1}`)
	})
	return mux
}

func newTestInbox(t *testing.T, stub *pushoverStub) *Inbox {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)
	return &Inbox{
		Email:      "op@example.com",
		Password:   "pw",
		DeviceName: "council",
		BaseURL:    srv.URL,
		Interval:   time.Nanosecond,
	}
}

func TestInbox_LoginAndPoll(t *testing.T) {
	stub := &pushoverStub{messages: []map[string]any{
		{"id": 1, "message": "status"},
		{"id": 2, "message": "auto 1"},
	}}
	in := newTestInbox(t, stub)

	if err := in.Login(); err != nil {
		t.Fatalf("Login: %v", err)
	}

	got := in.Poll()
	if len(got) != 2 || got[0] != "status" || got[1] != "auto 1" {
		t.Errorf("Poll = %v", got)
	}
	if stub.acked != 1 {
		t.Errorf("acked = %d, want 1", stub.acked)
	}

	// Second poll sees the same server messages but skips already-seen ids.
	if got := in.Poll(); got != nil {
		t.Errorf("second Poll = %v, want nil", got)
	}
}

func TestInbox_PollRateLimited(t *testing.T) {
	stub := &pushoverStub{messages: []map[string]any{{"id": 1, "message": "status"}}}
	in := newTestInbox(t, stub)
	in.Interval = time.Hour

	if err := in.Login(); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got := in.Poll(); len(got) != 1 {
		t.Fatalf("first Poll = %v", got)
	}
	// Inside the minimum interval: no API call, no results.
	if got := in.Poll(); got != nil {
		t.Errorf("rate-limited Poll = %v, want nil", got)
	}
}

func TestInbox_PollBeforeLoginIsNil(t *testing.T) {
	in := &Inbox{}
	if got := in.Poll(); got != nil {
		t.Errorf("Poll before Login = %v, want nil", got)
	}
}

func TestPushover_NotifyPostsForm(t *testing.T) {
	var gotToken, gotMessage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotToken = r.PostFormValue("token")
		gotMessage = r.PostFormValue("message")
		fmt.Fprint(w, `{"status":1}`)
	}))
	defer srv.Close()

	p := &Pushover{UserKey: "u", APIToken: "tok", BaseURL: srv.URL}
	p.Notify("agent 1 ready", "Council")

	if gotToken != "tok" || gotMessage != "agent 1 ready" {
		t.Errorf("posted token=%q message=%q", gotToken, gotMessage)
	}
}

func TestMultiAndFunc(t *testing.T) {
	var calls []string
	m := Multi{
		Func(func(msg, title string) { calls = append(calls, "a:"+msg) }),
		Func(func(msg, title string) { calls = append(calls, "b:"+title) }),
	}
	m.Notify("hello", "T")
	if len(calls) != 2 || calls[0] != "a:hello" || calls[1] != "b:T" {
		t.Errorf("calls = %v", calls)
	}
}
