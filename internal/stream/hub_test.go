package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyhub/internal/model"
)

func notif(id, userID, title string) *model.Notification {
	return &model.Notification{
		ID:       id,
		UserID:   userID,
		Title:    title,
		Priority: model.PriorityMedium,
		Status:   model.NotificationSent,
	}
}

func drain(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev := <-sub.Events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestSubscriberReceivesLiveEvents(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("u1", 0)
	defer h.Unsubscribe(sub)

	h.PublishNotification(notif("n1", "u1", "hello"))

	ev := drain(t, sub)
	assert.Equal(t, EventNotification, ev.Type)
	assert.Equal(t, "n1", ev.ID)
	assert.Equal(t, "hello", ev.Title)
	assert.Equal(t, uint64(1), ev.Seq)
}

func TestEventsAreScopedToUser(t *testing.T) {
	h := NewHub()
	u1 := h.Subscribe("u1", 0)
	u2 := h.Subscribe("u2", 0)
	defer h.Unsubscribe(u1)
	defer h.Unsubscribe(u2)

	h.PublishNotification(notif("n1", "u1", "for u1"))

	ev := drain(t, u1)
	assert.Equal(t, "n1", ev.ID)

	select {
	case ev := <-u2.Events:
		t.Fatalf("u2 received foreign event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReconnectReplaysFromMarker(t *testing.T) {
	h := NewHub()
	first := h.Subscribe("u1", 0)

	h.PublishNotification(notif("n1", "u1", "one"))
	h.PublishNotification(notif("n2", "u1", "two"))
	h.PublishNotification(notif("n3", "u1", "three"))

	seen := drain(t, first)
	require.Equal(t, uint64(1), seen.Seq)
	h.Unsubscribe(first)

	// Client reconnects having seen seq 1; 2 and 3 replay in order.
	second := h.Subscribe("u1", seen.Seq)
	defer h.Unsubscribe(second)

	ev := drain(t, second)
	assert.Equal(t, uint64(2), ev.Seq)
	assert.Equal(t, "n2", ev.ID)

	ev = drain(t, second)
	assert.Equal(t, uint64(3), ev.Seq)
	assert.Equal(t, "n3", ev.ID)
}

func TestReplayBufferIsBounded(t *testing.T) {
	h := NewHub()

	for i := 0; i < BufferSize+10; i++ {
		h.PublishNotification(notif("n", "u1", "x"))
	}

	sub := h.Subscribe("u1", 0)
	defer h.Unsubscribe(sub)

	// Oldest events fell out of the buffer; replay starts at its head.
	ev := drain(t, sub)
	assert.Equal(t, uint64(11), ev.Seq)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("u1", 0)
	h.Unsubscribe(sub)

	_, open := <-sub.Events
	assert.False(t, open)

	// Double unsubscribe must not panic.
	h.Unsubscribe(sub)
}

func TestDeliveryUpdateEvent(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("u1", 0)
	defer h.Unsubscribe(sub)

	h.PublishDelivery(&model.NotificationDelivery{
		NotificationID: "n1",
		UserID:         "u1",
		Channel:        model.ChannelEmail,
		Status:         model.DeliveryDelivered,
	})

	ev := drain(t, sub)
	assert.Equal(t, EventDeliveryUpdate, ev.Type)
	assert.Equal(t, "n1", ev.ID)
	assert.Equal(t, model.ChannelEmail, ev.Channel)
	assert.Equal(t, model.DeliveryDelivered, ev.Status)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("u1", 0)
	defer h.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < BufferSize*2; i++ {
			h.PublishNotification(notif("n", "u1", "flood"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
