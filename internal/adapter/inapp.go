package adapter

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"notifyhub/internal/model"
)

// inAppSink receives the in-app event; the stream hub satisfies this.
type inAppSink interface {
	PublishNotification(n *model.Notification)
}

// InAppAdapter delivers directly to connected clients through the stream
// hub. There is no external provider, so it reports success immediately.
type InAppAdapter struct {
	sink inAppSink
}

func NewInAppAdapter(sink inAppSink) *InAppAdapter {
	return &InAppAdapter{sink: sink}
}

func (a *InAppAdapter) Channel() string { return model.ChannelInApp }

func (a *InAppAdapter) Send(ctx context.Context, n *model.Notification, d *model.NotificationDelivery) (*SendResult, error) {
	a.sink.PublishNotification(n)

	return &SendResult{
		ExternalID: fmt.Sprintf("in-app-%s", uuid.NewString()),
		Provider:   "in-app",
		ProviderResponse: map[string]any{
			"delivered": true,
		},
	}, nil
}
