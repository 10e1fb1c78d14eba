package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ChatRegistry maps a Telegram chat to the tenant that registered it.
type ChatRegistry interface {
	TenantByChatID(ctx context.Context, chatID string) (tenantID int64, ok bool, err error)
}

// Report is a point-in-time view of the monitoring session.
type Report struct {
	Running     bool
	TenantID    int64
	Source      string
	AlertStatus string
	Presence    string
	AvgAbsent   float64
	LastFrame   time.Time
	LastError   string
}

// Monitor exposes the running session to chat commands.
type Monitor interface {
	Report() Report
	// Snapshot returns the latest annotated JPEG.
	Snapshot() ([]byte, bool)
}

// Update represents a Telegram update
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message is an incoming chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      *Chat  `json:"chat,omitempty"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
}

// User represents a Telegram user
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

// Chat represents a Telegram chat
type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
}

// CommandHandler answers /status and /snapshot from registered chats.
type CommandHandler struct {
	bot      *Bot
	registry ChatRegistry
	monitor  Monitor
	interval time.Duration
	log      *slog.Logger

	mu           sync.Mutex
	lastUpdateID int64
	startTime    time.Time
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(bot *Bot, registry ChatRegistry, monitor Monitor) *CommandHandler {
	return &CommandHandler{
		bot:       bot,
		registry:  registry,
		monitor:   monitor,
		interval:  2 * time.Second,
		log:       slog.Default().With("component", "telegram-commands"),
		startTime: time.Now(),
	}
}

// StartPolling polls getUpdates until ctx is done.
func (ch *CommandHandler) StartPolling(ctx context.Context) error {
	if !ch.bot.Enabled() {
		return ErrNotConfigured
	}

	ch.log.Info("command polling started")
	ticker := time.NewTicker(ch.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ch.log.Info("command polling stopped")
			return nil
		case <-ticker.C:
			if err := ch.PollOnce(ctx); err != nil && ctx.Err() == nil {
				ch.log.Warn("poll updates failed", "error", err)
			}
		}
	}
}

// PollOnce fetches pending updates and handles each one.
func (ch *CommandHandler) PollOnce(ctx context.Context) error {
	ch.mu.Lock()
	offset := ch.lastUpdateID + 1
	ch.mu.Unlock()

	q := url.Values{}
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("timeout", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ch.bot.methodURL("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	raw, err := ch.bot.do(req, "getUpdates")
	if err != nil {
		return err
	}
	var updates []Update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return fmt.Errorf("decode updates: %w", err)
	}

	for _, update := range updates {
		ch.mu.Lock()
		if update.UpdateID > ch.lastUpdateID {
			ch.lastUpdateID = update.UpdateID
		}
		ch.mu.Unlock()

		if update.Message != nil {
			ch.handleMessage(ctx, update.Message)
		}
	}
	return nil
}

func (ch *CommandHandler) handleMessage(ctx context.Context, msg *Message) {
	if msg.Chat == nil || !strings.HasPrefix(msg.Text, "/") {
		return
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	tenantID, ok, err := ch.registry.TenantByChatID(ctx, chatID)
	if err != nil {
		ch.log.Warn("chat lookup failed", "chat", chatID, "error", err)
		return
	}
	if !ok {
		ch.log.Debug("ignoring message from unregistered chat", "chat", chatID)
		return
	}

	command := strings.ToLower(strings.Fields(msg.Text)[0])
	// strip the bot username suffix, e.g. /status@kotakbot
	if at := strings.Index(command, "@"); at != -1 {
		command = command[:at]
	}
	ch.log.Info("processing command", "command", command, "chat", chatID, "tenant", tenantID)

	var reply string
	switch command {
	case "/start", "/help":
		reply = helpText
	case "/status":
		reply = ch.statusText(tenantID)
	case "/snapshot":
		ch.handleSnapshot(ctx, chatID, tenantID)
		return
	default:
		reply = fmt.Sprintf("Unknown command: %s\nUse /help to see available commands.", command)
	}

	if err := ch.bot.SendMessage(ctx, chatID, reply); err != nil {
		ch.log.Warn("send reply failed", "chat", chatID, "error", err)
	}
}

const helpText = "📋 Available commands\n\n" +
	"/status - monitoring status\n" +
	"/snapshot - latest camera frame\n" +
	"/help - show this help"

func (ch *CommandHandler) statusText(tenantID int64) string {
	r := ch.monitor.Report()
	if !r.Running || r.TenantID != tenantID {
		return "⏸ Monitoring is not running for your account.\n⏱ Uptime: " + formatDuration(time.Since(ch.startTime))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Monitoring status\n\n")
	fmt.Fprintf(&b, "📹 Source: %s\n", r.Source)
	fmt.Fprintf(&b, "🔔 Alert: %s (%s, absent %.0f%%)\n", r.AlertStatus, r.Presence, r.AvgAbsent*100)
	if !r.LastFrame.IsZero() {
		fmt.Fprintf(&b, "🕐 Last frame: %s ago\n", time.Since(r.LastFrame).Round(time.Second))
	}
	if r.LastError != "" {
		fmt.Fprintf(&b, "⚠️ Last error: %s\n", r.LastError)
	}
	fmt.Fprintf(&b, "⏱ Uptime: %s", formatDuration(time.Since(ch.startTime)))
	return b.String()
}

func (ch *CommandHandler) handleSnapshot(ctx context.Context, chatID string, tenantID int64) {
	r := ch.monitor.Report()
	frame, ok := ch.monitor.Snapshot()
	if !r.Running || r.TenantID != tenantID || !ok {
		if err := ch.bot.SendMessage(ctx, chatID, "⚠️ No frame available yet."); err != nil {
			ch.log.Warn("send reply failed", "chat", chatID, "error", err)
		}
		return
	}

	now := time.Now()
	zone, _ := now.Zone()
	caption := fmt.Sprintf("📸 Snapshot\n📹 Source: %s\n🕐 %s %s", r.Source, now.Format("2 Jan 2006, 15:04:05"), zone)
	if err := ch.bot.SendPhoto(ctx, chatID, frame, caption); err != nil {
		ch.log.Warn("send snapshot failed", "chat", chatID, "error", err)
	}
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
