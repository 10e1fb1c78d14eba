// Package alert sends notifications when a session enters ALERT, gated by a
// per-tenant cooldown.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Target is where a tenant's notifications go.
type Target struct {
	ChatID   string
	Cooldown time.Duration
}

// TargetResolver looks up a tenant's notification target. A nil target
// with a nil error means the tenant has none configured.
type TargetResolver interface {
	ResolveTarget(ctx context.Context, tenantID int64) (*Target, error)
}

// Notification is one alert message.
type Notification struct {
	TenantID int64
	CameraID string
	// Photo is an optional JPEG attached to the message.
	Photo   []byte
	Caption string
	At      time.Time
}

// Transport delivers a notification to a chat.
type Transport interface {
	Send(ctx context.Context, chatID string, n Notification) error
}

// NotificationError wraps a transport failure.
type NotificationError struct {
	TenantID int64
	ChatID   string
	Err      error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify tenant %d (chat %s): %v", e.TenantID, e.ChatID, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// Outcome is what Dispatch did.
type Outcome int

const (
	OutcomeSent Outcome = iota
	OutcomeNoTarget
	OutcomeCooldown
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeNoTarget:
		return "no_target"
	case OutcomeCooldown:
		return "cooldown"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Dispatcher sends alert notifications. It is safe for concurrent use.
type Dispatcher struct {
	resolver  TargetResolver
	transport Transport
	cooldowns *CooldownTracker
	log       *slog.Logger
}

// NewDispatcher creates a dispatcher. A nil resolver means no tenant has a
// target; a nil transport drops every notification.
func NewDispatcher(resolver TargetResolver, transport Transport, cooldowns *CooldownTracker) *Dispatcher {
	if cooldowns == nil {
		cooldowns = NewCooldownTracker()
	}
	return &Dispatcher{
		resolver:  resolver,
		transport: transport,
		cooldowns: cooldowns,
		log:       slog.Default().With("component", "alert"),
	}
}

// Cooldowns exposes the tracker, mainly for status reporting.
func (d *Dispatcher) Cooldowns() *CooldownTracker { return d.cooldowns }

// Dispatch sends n unless the tenant has no target or is cooling down.
// A failed send is logged and not retried.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) (Outcome, error) {
	if d.resolver == nil || d.transport == nil {
		return OutcomeNoTarget, nil
	}

	target, err := d.resolver.ResolveTarget(ctx, n.TenantID)
	if err != nil {
		d.log.Warn("resolve notification target failed", "tenant", n.TenantID, "error", err)
		return OutcomeNoTarget, nil
	}
	if target == nil || target.ChatID == "" {
		d.log.Debug("no notification target", "tenant", n.TenantID)
		return OutcomeNoTarget, nil
	}

	if !d.cooldowns.Reserve(n.TenantID, target.Cooldown) {
		d.log.Debug("notification suppressed by cooldown", "tenant", n.TenantID, "cooldown", target.Cooldown)
		return OutcomeCooldown, nil
	}

	if n.At.IsZero() {
		n.At = time.Now()
	}
	if err := d.transport.Send(ctx, target.ChatID, n); err != nil {
		d.cooldowns.Release(n.TenantID, false)
		nerr := &NotificationError{TenantID: n.TenantID, ChatID: target.ChatID, Err: err}
		d.log.Error("notification failed", "tenant", n.TenantID, "error", nerr)
		return OutcomeFailed, nerr
	}
	d.cooldowns.Release(n.TenantID, true)
	d.log.Info("notification sent", "tenant", n.TenantID, "camera", n.CameraID)
	return OutcomeSent, nil
}
