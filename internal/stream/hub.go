// Package stream fans live notification events out to connected clients.
// The hub owns an explicit registry of subscribers per user plus a small
// replay buffer for reconnects; there is no ambient global state.
package stream

import (
	"sync"
	"time"

	"notifyhub/internal/model"
	"notifyhub/pkg/metrics"
)

// BufferSize bounds the per-user replay buffer. A reconnect marker older
// than the buffer forces the client back to a full status fetch.
const BufferSize = 64

// Event types pushed on the stream.
const (
	EventNotification   = "notification"
	EventDeliveryUpdate = "delivery_update"
)

// Event is the compact wire shape pushed to subscribers.
type Event struct {
	Seq       uint64    `json:"seq"`
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Title     string    `json:"title,omitempty"`
	Message   string    `json:"message,omitempty"`
	Priority  string    `json:"priority,omitempty"`
	Channels  []string  `json:"channels,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	Status    string    `json:"status,omitempty"`
}

// Subscription is one connected client's feed. Events drops (never blocks)
// when the client cannot keep up.
type Subscription struct {
	UserID string
	Events chan Event
}

type userState struct {
	subs   map[*Subscription]struct{}
	buffer []Event // ring, newest last, len <= BufferSize
	seq    uint64
}

// Hub is the stream publisher.
type Hub struct {
	mu    sync.Mutex
	users map[string]*userState
}

func NewHub() *Hub {
	return &Hub{users: make(map[string]*userState)}
}

func (h *Hub) state(userID string) *userState {
	st, ok := h.users[userID]
	if !ok {
		st = &userState{subs: make(map[*Subscription]struct{})}
		h.users[userID] = st
	}
	return st
}

// Subscribe registers a client for a user's events. Events newer than
// lastSeq still held in the replay buffer are queued immediately; pass 0 for
// a fresh connection.
func (h *Hub) Subscribe(userID string, lastSeq uint64) *Subscription {
	sub := &Subscription{
		UserID: userID,
		Events: make(chan Event, BufferSize),
	}

	h.mu.Lock()
	st := h.state(userID)
	st.subs[sub] = struct{}{}
	for _, ev := range st.buffer {
		if ev.Seq > lastSeq {
			sub.Events <- ev
		}
	}
	h.mu.Unlock()

	metrics.StreamSubscribers.Inc()
	return sub
}

// Unsubscribe removes a client registration and closes its channel. Safe to
// call once per subscription; the handler does it on disconnect.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	st, ok := h.users[sub.UserID]
	if ok {
		if _, registered := st.subs[sub]; registered {
			delete(st.subs, sub)
			close(sub.Events)
			metrics.StreamSubscribers.Dec()
		}
		if len(st.subs) == 0 && len(st.buffer) == 0 {
			delete(h.users, sub.UserID)
		}
	}
	h.mu.Unlock()
}

// publish assigns the next sequence number, records the event in the replay
// buffer and fans it out to every live subscriber for the user.
func (h *Hub) publish(userID string, ev Event) {
	h.mu.Lock()
	st := h.state(userID)
	st.seq++
	ev.Seq = st.seq

	st.buffer = append(st.buffer, ev)
	if len(st.buffer) > BufferSize {
		st.buffer = st.buffer[len(st.buffer)-BufferSize:]
	}

	for sub := range st.subs {
		select {
		case sub.Events <- ev:
		default:
			// Slow client; it can recover from the replay buffer.
		}
	}
	h.mu.Unlock()
}

// PublishNotification announces a newly created notification.
func (h *Hub) PublishNotification(n *model.Notification) {
	h.publish(n.UserID, Event{
		Type:      EventNotification,
		ID:        n.ID,
		Timestamp: time.Now(),
		Title:     n.Title,
		Message:   n.Message,
		Priority:  n.Priority,
		Channels:  n.Channels,
		Status:    n.Status,
	})
}

// PublishDelivery announces a delivery status change.
func (h *Hub) PublishDelivery(d *model.NotificationDelivery) {
	h.publish(d.UserID, Event{
		Type:      EventDeliveryUpdate,
		ID:        d.NotificationID,
		Timestamp: time.Now(),
		Channel:   d.Channel,
		Status:    d.Status,
	})
}
