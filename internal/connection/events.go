package connection

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// EventType tags every inbound and outbound frame.
type EventType string

// Lifecycle events are emitted locally by the manager.
const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventError        EventType = "error"
)

// Domain events.
const (
	EventMessageNew          EventType = "message:new"
	EventMessageSeen         EventType = "message:seen"
	EventNotificationNew     EventType = "notification:new"
	EventNotificationUnseen  EventType = "notification:unseen_count"
	EventAdminUserBanned     EventType = "admin:user_banned"
	EventAdminVideoDeleted   EventType = "admin:video_deleted"
	EventAdminReportResolved EventType = "admin:report_resolved"
)

// Keep-alive frames are consumed by the heartbeat and never dispatched.
const (
	EventPing EventType = "ping"
	EventPong EventType = "pong"
)

var knownEvents = map[EventType]struct{}{
	EventConnected:           {},
	EventDisconnected:        {},
	EventError:               {},
	EventMessageNew:          {},
	EventMessageSeen:         {},
	EventNotificationNew:     {},
	EventNotificationUnseen:  {},
	EventAdminUserBanned:     {},
	EventAdminVideoDeleted:   {},
	EventAdminReportResolved: {},
	EventPing:                {},
	EventPong:                {},
}

// Known reports whether t belongs to the closed set of event types.
func (t EventType) Known() bool {
	_, ok := knownEvents[t]
	return ok
}

// Lifecycle reports whether t is emitted locally by the manager.
func (t EventType) Lifecycle() bool {
	return t == EventConnected || t == EventDisconnected || t == EventError
}

// Keepalive reports whether t is a heartbeat frame.
func (t EventType) Keepalive() bool {
	return t == EventPing || t == EventPong
}

// Event is what handlers receive.
type Event struct {
	Type       EventType
	ID         string          // Server-assigned frame id, empty for lifecycle events
	Data       json.RawMessage // Raw payload
	ReceivedAt time.Time
	Err        error // Set on EventError and on EventDisconnected caused by a failure
}

// Handler is invoked on the manager's event loop.
type Handler func(Event)

// HandlerID identifies one registration; pass it to Off to remove it.
type HandlerID uint64

type registration struct {
	id HandlerID
	fn Handler
}

// registry maps event types to ordered handler lists. It lives as long as
// the manager and is not touched by reconnects.
type registry struct {
	mu       sync.Mutex
	nextID   HandlerID
	handlers map[EventType][]registration
}

func newRegistry() *registry {
	return &registry{handlers: make(map[EventType][]registration)}
}

func (r *registry) add(t EventType, fn Handler) HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.handlers[t] = append(r.handlers[t], registration{id: r.nextID, fn: fn})
	return r.nextID
}

func (r *registry) remove(t EventType, id HandlerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handlers[t]
	for i, reg := range list {
		if reg.id != id {
			continue
		}
		// Build a new slice so snapshots held by an in-progress dispatch stay intact.
		next := make([]registration, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.handlers, t)
		} else {
			r.handlers[t] = next
		}
		return true
	}
	return false
}

// snapshot returns the handlers for t in registration order.
func (r *registry) snapshot(t EventType) []registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.handlers[t]
	out := make([]registration, len(list))
	copy(out, list)
	return out
}

func (r *registry) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[t])
}

// Typed adapts a handler taking a decoded payload. Frames whose data does
// not decode into T are logged and skipped.
func Typed[T any](logger *slog.Logger, fn func(T, Event)) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ev Event) {
		var v T
		if len(ev.Data) > 0 {
			if err := json.Unmarshal(ev.Data, &v); err != nil {
				logger.Warn("failed to decode event payload",
					"type", ev.Type,
					"id", ev.ID,
					"error", err,
				)
				return
			}
		}
		fn(v, ev)
	}
}
