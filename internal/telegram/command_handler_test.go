package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatMap map[string]int64

func (m chatMap) TenantByChatID(ctx context.Context, chatID string) (int64, bool, error) {
	id, ok := m[chatID]
	return id, ok, nil
}

type fakeMonitor struct {
	report Report
	frame  []byte
}

func (m *fakeMonitor) Report() Report { return m.report }

func (m *fakeMonitor) Snapshot() ([]byte, bool) { return m.frame, m.frame != nil }

func message(chatID int64, text string, updateID int64) Update {
	return Update{UpdateID: updateID, Message: &Message{Chat: &Chat{ID: chatID}, Text: text}}
}

func TestCommandsFromRegisteredChat(t *testing.T) {
	bot, api := newTestBot(t)
	mon := &fakeMonitor{
		report: Report{Running: true, TenantID: 9, Source: "device:0", AlertStatus: "present", Presence: "NORMAL", LastFrame: time.Now()},
		frame:  []byte{0xFF, 0xD8, 0xFF, 0xD9},
	}
	ch := NewCommandHandler(bot, chatMap{"100": 9}, mon)

	api.updates = []Update{
		message(100, "/status@kotakbot", 5),
		message(100, "/snapshot", 6),
		message(200, "/status", 7),
		message(100, "just chatting", 8),
	}
	require.NoError(t, ch.PollOnce(context.Background()))

	calls := api.snapshot()
	require.Len(t, calls, 2, "unregistered chats and plain text are ignored")
	assert.Equal(t, "sendMessage", calls[0].Method)
	assert.Contains(t, calls[0].Text, "device:0")
	assert.Contains(t, calls[0].Text, "NORMAL")
	assert.Equal(t, "sendPhoto", calls[1].Method)
	assert.Equal(t, mon.frame, calls[1].Photo)

	ch.mu.Lock()
	assert.Equal(t, int64(8), ch.lastUpdateID)
	ch.mu.Unlock()
}

func TestStatusForOtherTenant(t *testing.T) {
	bot, api := newTestBot(t)
	mon := &fakeMonitor{report: Report{Running: true, TenantID: 1}}
	ch := NewCommandHandler(bot, chatMap{"100": 2}, mon)

	api.updates = []Update{message(100, "/status", 1), message(100, "/snapshot", 2)}
	require.NoError(t, ch.PollOnce(context.Background()))

	calls := api.snapshot()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].Text, "not running")
	assert.Contains(t, calls[1].Text, "No frame")
}

func TestUnknownCommand(t *testing.T) {
	bot, api := newTestBot(t)
	ch := NewCommandHandler(bot, chatMap{"1": 1}, &fakeMonitor{})

	api.updates = []Update{message(1, "/reboot", 1)}
	require.NoError(t, ch.PollOnce(context.Background()))

	calls := api.snapshot()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Text, "Unknown command: /reboot")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5m", formatDuration(5*time.Minute))
	assert.Equal(t, "2h 3m", formatDuration(2*time.Hour+3*time.Minute))
	assert.Equal(t, "1d 1h 0m", formatDuration(25*time.Hour))
}
