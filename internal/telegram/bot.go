package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kotakwatch/internal/alert"
)

// DefaultAPIBase is the public Bot API endpoint.
const DefaultAPIBase = "https://api.telegram.org"

// ErrNotConfigured is returned when the bot has no token.
var ErrNotConfigured = errors.New("telegram bot token not configured")

// Config holds Telegram bot configuration
type Config struct {
	BotToken string
	// APIBase overrides DefaultAPIBase, mainly for tests.
	APIBase string
	Timeout time.Duration
}

// Bot talks to the Telegram Bot API. It implements alert.Transport.
type Bot struct {
	botToken   string
	apiBase    string
	httpClient *http.Client
	log        *slog.Logger
}

var _ alert.Transport = (*Bot)(nil)

// Response is the envelope every Bot API call returns.
type Response struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// APIError is a Bot API call that returned ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s error %d: %s", e.Method, e.Code, e.Description)
}

// NewBot creates a Telegram bot client.
func NewBot(cfg Config) *Bot {
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = DefaultAPIBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Bot{
		botToken:   cfg.BotToken,
		apiBase:    base,
		httpClient: &http.Client{Timeout: timeout},
		log:        slog.Default().With("component", "telegram"),
	}
}

// Enabled reports whether a token is configured.
func (b *Bot) Enabled() bool { return b.botToken != "" }

func (b *Bot) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", b.apiBase, b.botToken, method)
}

// Send delivers an alert notification, as a photo when one is attached.
func (b *Bot) Send(ctx context.Context, chatID string, n alert.Notification) error {
	caption := n.Caption
	if caption == "" {
		caption = AlertCaption(n)
	}
	if len(n.Photo) > 0 {
		return b.SendPhoto(ctx, chatID, n.Photo, caption)
	}
	return b.SendMessage(ctx, chatID, caption)
}

// AlertCaption formats the default alert text.
func AlertCaption(n alert.Notification) string {
	at := n.At
	if at.IsZero() {
		at = time.Now()
	}
	zone, _ := at.Zone()
	caption := fmt.Sprintf("🚨 ALERT: object missing from the watched area\n🕐 %s %s", at.Format("2 Jan 2006, 15:04:05"), zone)
	if n.CameraID != "" {
		caption += "\n📹 Camera: " + n.CameraID
	}
	return caption
}

// SendMessage sends a plain text message.
func (b *Bot) SendMessage(ctx context.Context, chatID, text string) error {
	if !b.Enabled() {
		return ErrNotConfigured
	}

	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL("sendMessage"), bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = b.do(req, "sendMessage")
	return err
}

// SendPhoto uploads a JPEG with a caption.
func (b *Bot) SendPhoto(ctx context.Context, chatID string, photo []byte, caption string) error {
	if !b.Enabled() {
		return ErrNotConfigured
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", chatID); err != nil {
		return fmt.Errorf("write chat_id field: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("write caption field: %w", err)
		}
	}
	part, err := writer.CreateFormFile("photo", "capture.jpg")
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(photo); err != nil {
		return fmt.Errorf("write photo data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL("sendPhoto"), &body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	_, err = b.do(req, "sendPhoto")
	return err
}

// GetMe returns the bot's own user record.
func (b *Bot) GetMe(ctx context.Context) (*User, error) {
	if !b.Enabled() {
		return nil, ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.methodURL("getMe"), nil)
	if err != nil {
		return nil, err
	}
	raw, err := b.do(req, "getMe")
	if err != nil {
		return nil, err
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("decode getMe result: %w", err)
	}
	return &u, nil
}

// do executes req and unwraps the Bot API envelope.
func (b *Bot) do(req *http.Request, method string) (json.RawMessage, error) {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		// the URL carries the token; keep it out of logs and errors
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var tr Response
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("telegram %s: unexpected response (status %d): %w", method, resp.StatusCode, err)
	}
	if !tr.OK {
		return nil, &APIError{Method: method, Code: tr.ErrorCode, Description: tr.Description}
	}
	return tr.Result, nil
}
