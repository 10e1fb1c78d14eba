package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticResolver map[int64]*Target

func (r staticResolver) ResolveTarget(ctx context.Context, tenantID int64) (*Target, error) {
	return r[tenantID], nil
}

type recordingTransport struct {
	mu    sync.Mutex
	sent  []string
	err   error
	block chan struct{}
}

func (t *recordingTransport) Send(ctx context.Context, chatID string, n Notification) error {
	if t.block != nil {
		<-t.block
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, chatID)
	return nil
}

func (t *recordingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDispatcher(res TargetResolver, tr Transport) (*Dispatcher, *clock) {
	clk := &clock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	ct := NewCooldownTracker()
	ct.now = clk.now
	return NewDispatcher(res, tr, ct), clk
}

func TestDispatchWithoutTargetIsSilent(t *testing.T) {
	tr := &recordingTransport{}
	d, _ := newTestDispatcher(staticResolver{}, tr)

	out, err := d.Dispatch(context.Background(), Notification{TenantID: 7})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoTarget, out)
	assert.Zero(t, tr.count())

	d, _ = newTestDispatcher(staticResolver{7: {ChatID: ""}}, tr)
	out, _ = d.Dispatch(context.Background(), Notification{TenantID: 7})
	assert.Equal(t, OutcomeNoTarget, out)

	out, _ = NewDispatcher(nil, tr, nil).Dispatch(context.Background(), Notification{TenantID: 7})
	assert.Equal(t, OutcomeNoTarget, out)
}

func TestCooldownSuppressesRepeatedEdges(t *testing.T) {
	tr := &recordingTransport{}
	d, clk := newTestDispatcher(staticResolver{1: {ChatID: "-100", Cooldown: 10 * time.Second}}, tr)
	ctx := context.Background()

	out, err := d.Dispatch(ctx, Notification{TenantID: 1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, out)

	clk.advance(9 * time.Second)
	out, _ = d.Dispatch(ctx, Notification{TenantID: 1})
	assert.Equal(t, OutcomeCooldown, out)

	clk.advance(time.Second)
	out, _ = d.Dispatch(ctx, Notification{TenantID: 1})
	assert.Equal(t, OutcomeSent, out)
	assert.Equal(t, 2, tr.count())
}

func TestCooldownIsPerTenant(t *testing.T) {
	tr := &recordingTransport{}
	d, _ := newTestDispatcher(staticResolver{
		1: {ChatID: "a", Cooldown: time.Minute},
		2: {ChatID: "b", Cooldown: time.Minute},
	}, tr)

	out1, _ := d.Dispatch(context.Background(), Notification{TenantID: 1})
	out2, _ := d.Dispatch(context.Background(), Notification{TenantID: 2})
	assert.Equal(t, OutcomeSent, out1)
	assert.Equal(t, OutcomeSent, out2)
}

func TestFailedSendDoesNotStartCooldown(t *testing.T) {
	tr := &recordingTransport{err: errors.New("bad gateway")}
	d, _ := newTestDispatcher(staticResolver{1: {ChatID: "x", Cooldown: time.Hour}}, tr)

	out, err := d.Dispatch(context.Background(), Notification{TenantID: 1})
	assert.Equal(t, OutcomeFailed, out)
	var nerr *NotificationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, int64(1), nerr.TenantID)

	_, ok := d.Cooldowns().LastSent(1)
	assert.False(t, ok)

	tr.err = nil
	out, err = d.Dispatch(context.Background(), Notification{TenantID: 1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, out, "next edge gets another chance")
}

func TestInFlightSendBlocksSecondEdge(t *testing.T) {
	tr := &recordingTransport{block: make(chan struct{})}
	d, _ := newTestDispatcher(staticResolver{1: {ChatID: "x", Cooldown: 0}}, tr)

	done := make(chan Outcome)
	go func() {
		out, _ := d.Dispatch(context.Background(), Notification{TenantID: 1})
		done <- out
	}()

	require.Eventually(t, func() bool {
		return d.Cooldowns().InFlight(1)
	}, time.Second, time.Millisecond)

	out, _ := d.Dispatch(context.Background(), Notification{TenantID: 1})
	assert.Equal(t, OutcomeCooldown, out)

	close(tr.block)
	assert.Equal(t, OutcomeSent, <-done)
}

func TestCleanup(t *testing.T) {
	clk := &clock{t: time.Unix(1000, 0)}
	ct := NewCooldownTracker()
	ct.now = clk.now

	require.True(t, ct.Reserve(1, time.Second))
	ct.Release(1, true)
	clk.advance(time.Hour)
	ct.Cleanup(time.Minute)

	_, ok := ct.LastSent(1)
	assert.False(t, ok)
}

func TestCleanupKeepsEntriesInsideLongCooldown(t *testing.T) {
	clk := &clock{t: time.Unix(1000, 0)}
	ct := NewCooldownTracker()
	ct.now = clk.now

	require.True(t, ct.Reserve(1, 48*time.Hour))
	ct.Release(1, true)
	clk.advance(25 * time.Hour)
	ct.Cleanup(24 * time.Hour)

	_, ok := ct.LastSent(1)
	require.True(t, ok, "cooldown still running")
	assert.False(t, ct.Reserve(1, 48*time.Hour))

	clk.advance(24 * time.Hour)
	ct.Cleanup(24 * time.Hour)
	_, ok = ct.LastSent(1)
	assert.False(t, ok)
	assert.True(t, ct.Reserve(1, 48*time.Hour))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "sent", OutcomeSent.String())
	assert.Equal(t, "cooldown", OutcomeCooldown.String())
}
