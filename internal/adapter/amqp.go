package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"notifyhub/internal/model"
	"notifyhub/pkg/mq"
)

// outboundPublisher is the slice of the MQ publisher the adapter needs.
type outboundPublisher interface {
	Publish(routingKey string, payload any) error
}

// OutboundJob is the rendered delivery job handed to the external sender
// process that speaks the actual provider protocol.
type OutboundJob struct {
	DeliveryID     string         `json:"delivery_id"`
	NotificationID string         `json:"notification_id"`
	UserID         string         `json:"user_id"`
	Channel        string         `json:"channel"`
	Recipient      string         `json:"recipient"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Priority       string         `json:"priority"`
	Data           map[string]any `json:"data,omitempty"`
	ExternalID     string         `json:"external_id"`
	EnqueuedAt     time.Time      `json:"enqueued_at"`
}

// AMQPAdapter hands a delivery off to the outbound sender via the message
// queue. It assigns the external id under which the provider will later
// report delivery status, so webhooks can find the record.
type AMQPAdapter struct {
	channel   string
	provider  string
	recipient func(*model.NotificationPreference) string
	publisher outboundPublisher
	prefs     preferenceLookup
}

type preferenceLookup interface {
	GetByUserID(ctx context.Context, userID string) (*model.NotificationPreference, error)
}

// NewEmailAdapter builds the queue-backed email adapter.
func NewEmailAdapter(publisher outboundPublisher, prefs preferenceLookup) *AMQPAdapter {
	return &AMQPAdapter{
		channel:  model.ChannelEmail,
		provider: "resend",
		recipient: func(p *model.NotificationPreference) string {
			return p.EmailAddress
		},
		publisher: publisher,
		prefs:     prefs,
	}
}

// NewSMSAdapter builds the queue-backed SMS adapter.
func NewSMSAdapter(publisher outboundPublisher, prefs preferenceLookup) *AMQPAdapter {
	return &AMQPAdapter{
		channel:  model.ChannelSMS,
		provider: "twilio",
		recipient: func(p *model.NotificationPreference) string {
			return p.PhoneNumber
		},
		publisher: publisher,
		prefs:     prefs,
	}
}

// NewPushAdapter builds the queue-backed push adapter.
func NewPushAdapter(publisher outboundPublisher, prefs preferenceLookup) *AMQPAdapter {
	return &AMQPAdapter{
		channel:  model.ChannelPush,
		provider: "push-gateway",
		recipient: func(p *model.NotificationPreference) string {
			return p.UserID
		},
		publisher: publisher,
		prefs:     prefs,
	}
}

func (a *AMQPAdapter) Channel() string { return a.channel }

func (a *AMQPAdapter) Send(ctx context.Context, n *model.Notification, d *model.NotificationDelivery) (*SendResult, error) {
	pref, err := a.prefs.GetByUserID(ctx, n.UserID)
	if err != nil {
		return nil, fmt.Errorf("load preference for %s: %w", n.UserID, err)
	}

	recipient := a.recipient(pref)
	if recipient == "" {
		return nil, fmt.Errorf("no %s recipient configured for user %s", a.channel, n.UserID)
	}

	externalID := fmt.Sprintf("%s-%s", a.provider, uuid.NewString())
	job := OutboundJob{
		DeliveryID:     d.ID,
		NotificationID: n.ID,
		UserID:         n.UserID,
		Channel:        a.channel,
		Recipient:      recipient,
		Title:          n.Title,
		Message:        n.Message,
		Priority:       n.Priority,
		Data:           n.Data,
		ExternalID:     externalID,
		EnqueuedAt:     time.Now(),
	}

	if err := a.publisher.Publish(mq.KeyDeliveryOutbound, job); err != nil {
		return nil, fmt.Errorf("enqueue outbound %s delivery: %w", a.channel, err)
	}

	return &SendResult{
		ExternalID: externalID,
		Provider:   a.provider,
		ProviderResponse: map[string]any{
			"queued":    true,
			"recipient": recipient,
		},
	}, nil
}
