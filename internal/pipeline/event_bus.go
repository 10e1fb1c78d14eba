package pipeline

import (
	"sync"
	"time"

	"kotakwatch/internal/presence"
)

// EventType identifies what happened in a run.
type EventType string

const (
	// EventStatus is published when the debounced presence status changes.
	EventStatus EventType = "status"
	// EventAlert is published once per transition into ALERT.
	EventAlert EventType = "alert"
	// EventNotification reports what the dispatcher did with an alert.
	EventNotification EventType = "notification"
	// EventRun is published when a run starts or ends.
	EventRun EventType = "run"
)

// Event is one pipeline occurrence, scoped to a tenant.
type Event struct {
	Type        EventType       `json:"type"`
	TenantID    int64           `json:"masjid_id"`
	CameraID    string          `json:"camera_id,omitempty"`
	RunID       string          `json:"run_id"`
	AlertID     string          `json:"alert_id,omitempty"`
	Presence    presence.Status `json:"presence,omitempty"`
	Previous    presence.Status `json:"previous,omitempty"`
	AlertStatus presence.Flag   `json:"alert_status,omitempty"`
	AvgAbsent   float64         `json:"avg_absent"`
	Running     *bool           `json:"running,omitempty"`
	Outcome     string          `json:"outcome,omitempty"`
	Error       string          `json:"error,omitempty"`
	At          time.Time       `json:"at"`
}

// EventHandler receives events synchronously, in publish order.
type EventHandler interface {
	OnEvent(ev Event)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ev Event)

func (f EventHandlerFunc) OnEvent(ev Event) { f(ev) }

// EventBus provides pub/sub for pipeline events
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	tenantID int64
	filtered bool // false means every tenant
	channel  chan Event
	handler  EventHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

// Subscribe registers a handler for events from all tenants.
// Returns an unsubscribe function
func (b *EventBus) Subscribe(handler EventHandler) func() {
	return b.add(&eventSubscription{handler: handler})
}

// SubscribeTenant registers a handler for one tenant's events.
func (b *EventBus) SubscribeTenant(tenantID int64, handler EventHandler) func() {
	return b.add(&eventSubscription{tenantID: tenantID, filtered: true, handler: handler})
}

// SubscribeChannel returns a buffered channel receiving every event. A full
// channel drops events rather than blocking the publisher.
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan Event, func()) {
	return b.addChannel(&eventSubscription{}, bufferSize)
}

// SubscribeTenantChannel is SubscribeChannel restricted to one tenant.
func (b *EventBus) SubscribeTenantChannel(tenantID int64, bufferSize int) (<-chan Event, func()) {
	return b.addChannel(&eventSubscription{tenantID: tenantID, filtered: true}, bufferSize)
}

func (b *EventBus) add(sub *eventSubscription) func() {
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

func (b *EventBus) addChannel(sub *eventSubscription, bufferSize int) (<-chan Event, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}
	ch := make(chan Event, bufferSize)
	sub.channel = ch

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish delivers ev to every matching subscriber. Handlers run on the
// publisher's goroutine and must not subscribe or unsubscribe.
func (b *EventBus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.filtered && sub.tenantID != ev.TenantID {
			continue
		}
		if sub.handler != nil {
			sub.handler.OnEvent(ev)
		} else if sub.channel != nil {
			select {
			case sub.channel <- ev:
			default:
				// Channel full, skip this event
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes all subscribers and closes channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
