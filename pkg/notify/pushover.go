package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultPushoverURL is the production Pushover API base.
const DefaultPushoverURL = "https://api.pushover.net"

// pushoverHTTPTimeout bounds every Pushover API call.
const pushoverHTTPTimeout = 10 * time.Second

// Pushover sends outbound notifications through the Pushover message API.
type Pushover struct {
	UserKey  string
	APIToken string
	BaseURL  string // defaults to DefaultPushoverURL
	Client   *http.Client
}

func (p *Pushover) base() string {
	if p.BaseURL != "" {
		return p.BaseURL
	}
	return DefaultPushoverURL
}

func (p *Pushover) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return &http.Client{Timeout: pushoverHTTPTimeout}
}

// Notify posts a message. Failures are logged and swallowed.
func (p *Pushover) Notify(message, title string) {
	form := url.Values{
		"token":   {p.APIToken},
		"user":    {p.UserKey},
		"title":   {title},
		"message": {message},
	}
	resp, err := p.client().PostForm(p.base()+"/1/messages.json", form) //nolint:noctx // client carries its own timeout
	if err != nil {
		log.Printf("[PUSHOVER] send: %v", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		log.Printf("[PUSHOVER] send: HTTP %d", resp.StatusCode)
	}
}

// --- Open Client (inbound command inbox) ---

// pushoverUserAgent identifies the dispatcher to the Open Client API.
const pushoverUserAgent = "Council-Dispatcher/3.0"

// defaultInboxInterval is the minimum spacing between inbox polls.
const defaultInboxInterval = 5 * time.Second

// Inbox receives operator commands through the Pushover Open Client API.
// Call Login once, then Poll from the dispatch loop; Poll rate-limits itself.
type Inbox struct {
	Email      string
	Password   string
	DeviceName string
	BaseURL    string        // defaults to DefaultPushoverURL
	Interval   time.Duration // minimum poll spacing; defaults to 5s
	Client     *http.Client

	secret    string
	deviceID  string
	highestID int
	lastPoll  time.Time
	nowFunc   func() time.Time
}

func (in *Inbox) base() string {
	if in.BaseURL != "" {
		return in.BaseURL
	}
	return DefaultPushoverURL
}

func (in *Inbox) client() *http.Client {
	if in.Client != nil {
		return in.Client
	}
	return &http.Client{Timeout: pushoverHTTPTimeout}
}

func (in *Inbox) now() time.Time {
	if in.nowFunc != nil {
		return in.nowFunc()
	}
	return time.Now()
}

func (in *Inbox) interval() time.Duration {
	if in.Interval > 0 {
		return in.Interval
	}
	return defaultInboxInterval
}

// apiResponse is the envelope shared by Open Client endpoints.
type apiResponse struct {
	Status   int    `json:"status"`
	Secret   string `json:"secret"`
	ID       string `json:"id"`
	Messages []struct {
		ID      int    `json:"id"`
		Message string `json:"message"`
	} `json:"messages"`
}

// post sends a form to an Open Client endpoint and decodes the envelope.
func (in *Inbox) post(path string, form url.Values) (*apiResponse, error) {
	req, err := http.NewRequest(http.MethodPost, in.base()+path, strings.NewReader(form.Encode())) //nolint:noctx // client carries its own timeout
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", pushoverUserAgent)
	return in.do(req)
}

// get queries an Open Client endpoint and decodes the envelope.
func (in *Inbox) get(path string, params url.Values) (*apiResponse, error) {
	req, err := http.NewRequest(http.MethodGet, in.base()+path+"?"+params.Encode(), nil) //nolint:noctx // client carries its own timeout
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", pushoverUserAgent)
	return in.do(req)
}

func (in *Inbox) do(req *http.Request) (*apiResponse, error) {
	resp, err := in.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Status != 1 {
		return nil, fmt.Errorf("API status %d", out.Status)
	}
	return &out, nil
}

// Login authenticates and registers the device. Must succeed before Poll
// returns anything. A device that already exists falls back to using the
// configured device name as its id.
func (in *Inbox) Login() error {
	resp, err := in.post("/1/users/login.json", url.Values{
		"email":    {in.Email},
		"password": {in.Password},
	})
	if err != nil {
		return fmt.Errorf("pushover login: %w", err)
	}
	in.secret = resp.Secret

	reg, err := in.post("/1/devices.json", url.Values{
		"secret": {in.secret},
		"name":   {in.DeviceName},
		"os":     {"O"},
	})
	if err != nil {
		// Registration fails when the device already exists; keep going
		// with the configured name as the id.
		log.Printf("[PUSHOVER] device registration: %v (assuming device exists)", err)
		in.deviceID = in.DeviceName
		return nil
	}
	in.deviceID = reg.ID
	return nil
}

// Poll fetches pending messages, returning their bodies in arrival order.
// It enforces its own minimum interval and returns nil when called too soon,
// before Login, or on any API failure. Fetched messages are acknowledged by
// advancing the server-side highest-message marker.
func (in *Inbox) Poll() []string {
	if in.secret == "" {
		return nil
	}
	now := in.now()
	if now.Sub(in.lastPoll) < in.interval() {
		return nil
	}
	in.lastPoll = now

	resp, err := in.get("/1/messages.json", url.Values{
		"secret":    {in.secret},
		"device_id": {in.deviceID},
	})
	if err != nil {
		log.Printf("[PUSHOVER] poll: %v", err)
		return nil
	}

	var commands []string
	highest := in.highestID
	for _, msg := range resp.Messages {
		if msg.ID <= in.highestID {
			continue
		}
		if body := strings.TrimSpace(msg.Message); body != "" {
			commands = append(commands, body)
		}
		if msg.ID > highest {
			highest = msg.ID
		}
	}

	if highest > in.highestID {
		_, err := in.post("/1/devices/"+in.deviceID+"/update_highest_message.json", url.Values{
			"secret":  {in.secret},
			"message": {strconv.Itoa(highest)},
		})
		if err != nil {
			log.Printf("[PUSHOVER] ack: %v", err)
			return commands // re-delivery beats loss
		}
		in.highestID = highest
	}
	return commands
}
