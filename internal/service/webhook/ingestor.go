// Package webhook verifies, deduplicates and applies provider delivery
// callbacks.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/internal/repository"
	"notifyhub/internal/service/dispatch"
	"notifyhub/pkg/metrics"
	"notifyhub/pkg/mq"
)

var (
	// ErrInvalidSignature marks a callback whose HMAC does not match.
	// Handlers map it to 401; nothing is persisted.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrUnknownProvider marks a callback for a provider we hold no secret
	// for.
	ErrUnknownProvider = errors.New("unknown webhook provider")
)

// IngestResult reports what one callback did.
type IngestResult struct {
	Status    string // processed or duplicate
	Duplicate bool
	Event     *Event
	// Delivery is the updated delivery, nil when no delivery matched the
	// external id.
	Delivery *model.NotificationDelivery
	Applied  bool
}

type LogStore interface {
	Insert(ctx context.Context, log *model.WebhookLog) (bool, error)
}

type DeliveryStore interface {
	GetByExternalID(ctx context.Context, provider, externalID string) (*model.NotificationDelivery, error)
	TransitionByExternalID(ctx context.Context, provider, externalID string, up repository.TransitionUpdate) (*model.NotificationDelivery, bool, error)
}

type SubscriptionStore interface {
	ListByUserID(ctx context.Context, userID string) ([]*model.NotificationSubscription, error)
}

type Deduper interface {
	AcquireOnce(ctx context.Context, provider, webhookID string) bool
	Release(ctx context.Context, provider, webhookID string)
}

type FollowUpSender interface {
	Send(ctx context.Context, req dispatch.SendRequest) (*model.Notification, error)
}

type StreamPublisher interface {
	PublishDelivery(d *model.NotificationDelivery)
}

type EventPublisher interface {
	Publish(routingKey string, payload any) error
}

type parser func(body []byte) (*Event, error)

var parsers = map[string]parser{
	ProviderResend: ParseResend,
	ProviderTwilio: ParseTwilio,
}

// Ingestor drives the webhook pipeline: signature check, replay protection,
// payload normalization, delivery transition, audit log.
type Ingestor struct {
	secrets    map[string]string
	logs       LogStore
	deliveries DeliveryStore
	subs       SubscriptionStore
	deduper    Deduper
	followUp   FollowUpSender
	stream     StreamPublisher
	events     EventPublisher
	logger     *zap.Logger
	now        func() time.Time
}

func NewIngestor(
	secrets map[string]string,
	logs LogStore,
	deliveries DeliveryStore,
	subs SubscriptionStore,
	deduper Deduper,
	followUp FollowUpSender,
	stream StreamPublisher,
	events EventPublisher,
	logger *zap.Logger,
) *Ingestor {
	return &Ingestor{
		secrets:    secrets,
		logs:       logs,
		deliveries: deliveries,
		subs:       subs,
		deduper:    deduper,
		followUp:   followUp,
		stream:     stream,
		events:     events,
		logger:     logger,
		now:        time.Now,
	}
}

// Ingest processes one raw provider callback. The signature is checked over
// the raw body before anything touches storage; replays are answered with a
// duplicate result, not an error, so providers stop retrying.
func (i *Ingestor) Ingest(ctx context.Context, provider string, body []byte, signature, webhookID string) (*IngestResult, error) {
	secret, ok := i.secrets[provider]
	if !ok {
		metrics.WebhooksProcessed.WithLabelValues(provider, "rejected").Inc()
		return nil, ErrUnknownProvider
	}
	if !VerifySignature(secret, body, signature) {
		metrics.WebhooksProcessed.WithLabelValues(provider, "rejected").Inc()
		i.logger.Warn("webhook signature rejected",
			zap.String("provider", provider),
			zap.String("webhook_id", webhookID),
		)
		return nil, ErrInvalidSignature
	}

	parse, ok := parsers[provider]
	if !ok {
		metrics.WebhooksProcessed.WithLabelValues(provider, "rejected").Inc()
		return nil, ErrUnknownProvider
	}
	ev, err := parse(body)
	if err != nil {
		// A failed log never claims the webhook id; a corrected retry of
		// the same webhook must still be processable.
		metrics.WebhooksProcessed.WithLabelValues(provider, "malformed").Inc()
		i.logFailed(ctx, provider, body, err)
		return nil, err
	}

	if webhookID != "" && !i.deduper.AcquireOnce(ctx, provider, webhookID) {
		metrics.WebhooksProcessed.WithLabelValues(provider, "duplicate").Inc()
		return &IngestResult{Status: "duplicate", Duplicate: true, Event: ev}, nil
	}

	// The log insert doubles as the durable idempotency claim: the unique
	// (provider, webhook_id) index makes exactly one caller the winner even
	// if Redis forgot the key.
	inserted, err := i.logProcessed(ctx, ev, body, webhookID)
	if err != nil {
		// Without the durable claim the Redis one must not stand, or the
		// provider's retry would be answered as a duplicate and the event
		// lost for good.
		if webhookID != "" {
			i.deduper.Release(ctx, provider, webhookID)
		}
		return nil, fmt.Errorf("persist webhook log: %w", err)
	}
	if !inserted {
		metrics.WebhooksProcessed.WithLabelValues(provider, "duplicate").Inc()
		return &IngestResult{Status: "duplicate", Duplicate: true, Event: ev}, nil
	}

	result := &IngestResult{Status: "processed", Event: ev}

	if ev.Complaint {
		i.handleComplaint(ctx, ev)
		metrics.WebhooksProcessed.WithLabelValues(provider, "processed").Inc()
		return result, nil
	}

	if ev.Status != "" {
		d, applied, err := i.applyTransition(ctx, ev)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("apply delivery transition: %w", err)
			}
			// External id we never issued. The provider is not wrong to
			// tell us; keep the log and answer 200.
			i.logger.Info("webhook for unknown delivery",
				zap.String("provider", provider),
				zap.String("external_id", ev.ExternalID),
				zap.String("event_type", ev.EventType),
			)
		} else {
			result.Delivery = d
			result.Applied = applied
			if applied {
				i.stream.PublishDelivery(d)
				i.publishEvent(d)
			}
		}
	}

	metrics.WebhooksProcessed.WithLabelValues(provider, "processed").Inc()
	return result, nil
}

func (i *Ingestor) applyTransition(ctx context.Context, ev *Event) (*model.NotificationDelivery, bool, error) {
	now := i.now()
	occurred := ev.OccurredAt
	if occurred == nil {
		occurred = &now
	}

	up := repository.TransitionUpdate{
		Status:        ev.Status,
		ErrorCode:     ev.ErrorCode,
		ErrorMessage:  ev.ErrorMessage,
		BounceType:    ev.BounceType,
		BounceSubtype: ev.BounceSubtype,
		ProviderResponse: map[string]any{
			"event":       ev.EventType,
			"received_at": now.Format(time.RFC3339),
		},
	}
	switch ev.Status {
	case model.DeliveryDelivered:
		up.DeliveredAt = occurred
	case model.DeliveryBounced, model.DeliveryFailed:
		up.FailedAt = occurred
	}

	return i.deliveries.TransitionByExternalID(ctx, ev.Provider, ev.ExternalID, up)
}

// handleComplaint turns a spam complaint into a HIGH-priority follow-up for
// the account owner, routed through the subscriptions whose filters admit the
// event. The complained-about delivery keeps its status.
func (i *Ingestor) handleComplaint(ctx context.Context, ev *Event) {
	d, err := i.deliveries.GetByExternalID(ctx, ev.Provider, ev.ExternalID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			i.logger.Error("load delivery for complaint failed",
				zap.String("external_id", ev.ExternalID),
				zap.Error(err),
			)
		}
		return
	}

	subs, err := i.subs.ListByUserID(ctx, d.UserID)
	if err != nil {
		i.logger.Error("list subscriptions for complaint failed",
			zap.String("user_id", d.UserID),
			zap.Error(err),
		)
		return
	}

	for _, sub := range subs {
		if !sub.MatchesEvent(ev.Provider, ev.EventType) {
			continue
		}
		data := map[string]any{
			"externalId": ev.ExternalID,
			"provider":   ev.Provider,
			"recipient":  ev.Recipient,
		}
		if ev.ComplaintType != nil {
			data["complaintType"] = *ev.ComplaintType
		}
		_, err := i.followUp.Send(ctx, dispatch.SendRequest{
			UserID:   d.UserID,
			Type:     sub.NotificationType,
			Priority: model.PriorityHigh,
			Title:    fmt.Sprintf("Email Complaint from %s", ev.Recipient),
			Message:  fmt.Sprintf("A recipient marked your email to %s as spam.", ev.Recipient),
			Channels: sub.Channels,
			Data:     data,
		})
		if err != nil {
			i.logger.Error("complaint follow-up failed",
				zap.String("user_id", d.UserID),
				zap.Error(err),
			)
		}
		return
	}
}

func (i *Ingestor) logProcessed(ctx context.Context, ev *Event, body []byte, webhookID string) (bool, error) {
	now := i.now()
	log := &model.WebhookLog{
		ID:             uuid.NewString(),
		Provider:       ev.Provider,
		EventType:      ev.EventType,
		Payload:        body,
		SignatureValid: true,
		Status:         model.WebhookProcessed,
		ProcessedAt:    &now,
	}
	if webhookID != "" {
		log.WebhookID = &webhookID
	}
	return i.logs.Insert(ctx, log)
}

func (i *Ingestor) logFailed(ctx context.Context, provider string, body []byte, cause error) {
	msg := cause.Error()
	log := &model.WebhookLog{
		ID:             uuid.NewString(),
		Provider:       provider,
		EventType:      "unknown",
		Payload:        body,
		SignatureValid: true,
		Status:         model.WebhookFailed,
		ErrorMessage:   &msg,
	}
	if _, err := i.logs.Insert(ctx, log); err != nil {
		i.logger.Error("persist failed webhook log errored",
			zap.String("provider", provider),
			zap.Error(err),
		)
	}
}

func (i *Ingestor) publishEvent(d *model.NotificationDelivery) {
	if i.events == nil {
		return
	}
	err := i.events.Publish(mq.KeyDeliveryUpdated, dispatch.DeliveryUpdatedEvent{
		DeliveryID:     d.ID,
		NotificationID: d.NotificationID,
		UserID:         d.UserID,
		Channel:        d.Channel,
		Status:         d.Status,
	})
	if err != nil {
		i.logger.Warn("publish delivery update failed",
			zap.String("delivery_id", d.ID),
			zap.Error(err),
		)
	}
}
