package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultTelegramURL is the production Telegram bot API base.
const DefaultTelegramURL = "https://api.telegram.org"

// longPollSeconds is the server-side getUpdates hold time.
const longPollSeconds = 25

// telegramHTTPTimeout bounds each API call; it must exceed the long-poll
// hold so the server can answer before the client gives up.
const telegramHTTPTimeout = 30 * time.Second

// Bot long-polls the Telegram bot API on its own goroutine and hands every
// authorized command line to OnCommand. It also implements Notifier for
// outbound messages once a chat is known.
type Bot struct {
	Token          string
	AllowedUserIDs []int64
	OnCommand      func(text string)
	ChatIDPath     string // file remembering the last chat id across restarts
	BaseURL        string // defaults to DefaultTelegramURL
	Client         *http.Client

	mu       sync.Mutex
	chatID   int64
	lastSeen int // last processed update_id
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func (b *Bot) base() string {
	if b.BaseURL != "" {
		return b.BaseURL
	}
	return DefaultTelegramURL
}

func (b *Bot) client() *http.Client {
	if b.Client != nil {
		return b.Client
	}
	return &http.Client{Timeout: telegramHTTPTimeout}
}

// update mirrors the slice elements returned by getUpdates.
type update struct {
	UpdateID int `json:"update_id"`
	Message  *struct {
		From *struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
		} `json:"from"`
		Chat *struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

// call posts a JSON payload to a bot API method and decodes result into out.
func (b *Bot) call(method string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/%s", b.base(), b.Token, method)
	resp, err := b.client().Post(url, "application/json", bytes.NewReader(body)) //nolint:noctx // client carries its own timeout
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("%s: %s", method, envelope.Description)
	}
	if out != nil {
		return json.Unmarshal(envelope.Result, out)
	}
	return nil
}

// Start verifies the token with getMe and launches the poll goroutine.
// Returns an error when the token is rejected or the API is unreachable.
func (b *Bot) Start() error {
	var me struct {
		Username string `json:"username"`
	}
	if err := b.call("getMe", map[string]any{}, &me); err != nil {
		return fmt.Errorf("telegram connect: %w", err)
	}
	log.Printf("[TELEGRAM] Bot @%s connected", me.Username)

	b.loadChatID()
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	go b.pollLoop()
	return nil
}

// Stop signals the poll goroutine and waits for it with a bounded timeout.
func (b *Bot) Stop() {
	if b.stopCh == nil {
		return
	}
	close(b.stopCh)
	select {
	case <-b.doneCh:
	case <-time.After(telegramHTTPTimeout + time.Second):
		log.Printf("[TELEGRAM] poll goroutine did not stop in time")
	}
}

// pollLoop long-polls getUpdates until Stop.
func (b *Bot) pollLoop() {
	defer close(b.doneCh)
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		var updates []update
		err := b.call("getUpdates", map[string]any{
			"offset":  b.lastSeen + 1,
			"timeout": longPollSeconds,
		}, &updates)
		if err != nil {
			log.Printf("[TELEGRAM] poll: %v", err)
			select {
			case <-b.stopCh:
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID > b.lastSeen {
				b.lastSeen = u.UpdateID
				b.handleUpdate(u)
			}
		}
	}
}

// handleUpdate authorizes and routes one inbound message.
func (b *Bot) handleUpdate(u update) {
	msg := u.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	b.setChatID(msg.Chat.ID)

	if !b.authorized(msg.From.ID) {
		log.Printf("[TELEGRAM] Unauthorized: %s (%d)", msg.From.Username, msg.From.ID)
		b.sendTo(msg.Chat.ID, fmt.Sprintf("Unauthorized. Your user ID: %d\nAdd it to telegram.allowed_user_ids in the config.", msg.From.ID))
		return
	}

	if text == "/start" {
		b.sendTo(msg.Chat.ID, fmt.Sprintf(
			"Council dispatcher ready.\nYour user ID: %d\n\nCommands:\n  1: <task> - send to agent 1\n  status - show all agents\n  auto 1 - enable auto-continue", msg.From.ID))
		return
	}

	b.sendTo(msg.Chat.ID, "-> "+truncate(text, 50))
	if b.OnCommand != nil {
		b.OnCommand(text)
	}
}

func (b *Bot) authorized(userID int64) bool {
	for _, id := range b.AllowedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Notify implements Notifier: it sends to the last known chat. Without a
// remembered chat id the message is dropped with a log line.
func (b *Bot) Notify(message, title string) {
	b.mu.Lock()
	chatID := b.chatID
	b.mu.Unlock()
	if chatID == 0 {
		log.Printf("[TELEGRAM] no chat id yet, dropping notification")
		return
	}
	if title != "" {
		message = title + "\n" + message
	}
	b.sendTo(chatID, message)
}

// sendTo posts a plain-text message to a chat, logging failures.
func (b *Bot) sendTo(chatID int64, text string) {
	err := b.call("sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	}, nil)
	if err != nil {
		log.Printf("[TELEGRAM] send: %v", err)
	}
}

// setChatID remembers the chat id in memory and on disk.
func (b *Bot) setChatID(id int64) {
	b.mu.Lock()
	changed := b.chatID != id
	b.chatID = id
	b.mu.Unlock()
	if changed && b.ChatIDPath != "" {
		if err := os.WriteFile(b.ChatIDPath, []byte(strconv.FormatInt(id, 10)), 0o600); err != nil {
			log.Printf("[TELEGRAM] save chat id: %v", err)
		}
	}
}

// loadChatID restores the chat id saved by a previous run.
func (b *Bot) loadChatID() {
	if b.ChatIDPath == "" {
		return
	}
	data, err := os.ReadFile(b.ChatIDPath) //nolint:gosec // path comes from trusted config
	if err != nil {
		return
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.chatID = id
	b.mu.Unlock()
}

// truncate shortens s to max runes with an ellipsis suffix.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
