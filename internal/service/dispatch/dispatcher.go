// Package dispatch resolves the target channels for a notification, applies
// rate limits and quiet hours, and fans deliveries out to the channel
// adapters.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notifyhub/internal/adapter"
	"notifyhub/internal/model"
	"notifyhub/internal/ratelimit"
	"notifyhub/internal/repository"
	"notifyhub/internal/service/quiethours"
	"notifyhub/internal/service/retry"
	"notifyhub/pkg/metrics"
	"notifyhub/pkg/mq"
)

// AdapterTimeout bounds one channel adapter call; a timeout counts as an
// adapter failure and feeds the retry path.
const AdapterTimeout = 10 * time.Second

// ErrUserNotFound is returned when the user has no preference record.
var ErrUserNotFound = errors.New("user not found")

// RateLimitError is returned when every target channel is exhausted.
type RateLimitError struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d/%d remaining, resets at %s",
		e.Remaining, e.Limit, e.ResetAt.Format(time.RFC3339))
}

// SendRequest is one logical notification to fan out.
type SendRequest struct {
	UserID       string
	Type         string
	Priority     string
	Title        string
	Message      string
	Channels     []string
	Data         map[string]any
	ScheduledFor *time.Time
}

type NotificationStore interface {
	Insert(ctx context.Context, n *model.Notification) error
	MarkSent(ctx context.Context, id string) error
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.Notification, error)
}

type DeliveryStore interface {
	Insert(ctx context.Context, d *model.NotificationDelivery) error
	MarkSent(ctx context.Context, id, externalID, provider string, providerResponse map[string]any, attemptedAt time.Time) error
	MarkFailedAttempt(ctx context.Context, id string, lastError string, retryCount int, attemptedAt time.Time, nextAttemptAt *time.Time) error
}

type PreferenceStore interface {
	GetByUserID(ctx context.Context, userID string) (*model.NotificationPreference, error)
}

type SubscriptionStore interface {
	GetActiveByUserAndType(ctx context.Context, userID, notificationType string) (*model.NotificationSubscription, error)
}

type Limiter interface {
	CheckAndIncrement(ctx context.Context, userID, channel string, limitPerHour int) (*ratelimit.Result, error)
}

type AdapterRegistry interface {
	For(channel string) (adapter.Adapter, error)
}

type StreamPublisher interface {
	PublishNotification(n *model.Notification)
	PublishDelivery(d *model.NotificationDelivery)
}

type EventPublisher interface {
	Publish(routingKey string, payload any) error
}

// Dispatcher is the send-path control center.
type Dispatcher struct {
	notifications NotificationStore
	deliveries    DeliveryStore
	prefs         PreferenceStore
	subs          SubscriptionStore
	limiter       Limiter
	adapters      AdapterRegistry
	stream        StreamPublisher
	events        EventPublisher
	logger        *zap.Logger

	// now is injectable so quiet-hours behavior is testable.
	now func() time.Time
}

func NewDispatcher(
	notifications NotificationStore,
	deliveries DeliveryStore,
	prefs PreferenceStore,
	subs SubscriptionStore,
	limiter Limiter,
	adapters AdapterRegistry,
	stream StreamPublisher,
	events EventPublisher,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		notifications: notifications,
		deliveries:    deliveries,
		prefs:         prefs,
		subs:          subs,
		limiter:       limiter,
		adapters:      adapters,
		stream:        stream,
		events:        events,
		logger:        logger,
		now:           time.Now,
	}
}

// Send creates a notification, resolves its target channels and attempts
// delivery. Channel delivery outcomes are never surfaced as a Send error;
// they live on the individual deliveries.
func (s *Dispatcher) Send(ctx context.Context, req SendRequest) (*model.Notification, error) {
	pref, err := s.prefs.GetByUserID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	priority := req.Priority
	sub, err := s.subs.GetActiveByUserAndType(ctx, req.UserID, req.Type)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	if sub != nil && sub.PriorityOverride != nil {
		priority = *sub.PriorityOverride
	}

	targets := resolveChannels(req.Channels, sub, pref)

	// Rate limits apply per channel; the whole request is rejected only
	// when every target channel is exhausted.
	var (
		allowed []string
		limited *ratelimit.Result
	)
	for _, ch := range targets {
		res, err := s.limiter.CheckAndIncrement(ctx, req.UserID, ch, pref.LimitFor(ch))
		if err != nil {
			return nil, fmt.Errorf("rate limit check: %w", err)
		}
		if res.Allowed {
			allowed = append(allowed, ch)
		} else {
			metrics.RateLimitRejections.WithLabelValues(ch).Inc()
			limited = res
		}
	}
	if len(targets) > 0 && len(allowed) == 0 && limited != nil {
		return nil, &RateLimitError{
			Limit:     limited.Limit,
			Remaining: limited.Remaining,
			ResetAt:   limited.ResetAt,
		}
	}

	now := s.now()
	status := model.NotificationSent
	scheduledFor := req.ScheduledFor
	if scheduledFor != nil && scheduledFor.After(now) {
		status = model.NotificationScheduled
	} else {
		scheduledFor = nil
		// A quiet-hours deferral on any channel schedules the whole
		// notification for the end of the window.
		for _, ch := range allowed {
			res, err := quiethours.Evaluate(now, pref.QuietHours, priority, ch)
			if err != nil {
				s.logger.Warn("quiet hours evaluation failed, sending now",
					zap.String("user_id", req.UserID),
					zap.Error(err),
				)
				continue
			}
			if res.Deferred {
				status = model.NotificationScheduled
				if scheduledFor == nil || res.DeferredUntil.After(*scheduledFor) {
					until := res.DeferredUntil
					scheduledFor = &until
				}
			}
		}
	}

	n := &model.Notification{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		Type:         req.Type,
		Priority:     priority,
		Title:        req.Title,
		Message:      req.Message,
		Channels:     allowed,
		Data:         req.Data,
		Status:       status,
		ScheduledFor: scheduledFor,
	}
	if err := s.notifications.Insert(ctx, n); err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}

	metrics.NotificationsDispatched.WithLabelValues(priority, status).Inc()

	// In-app listeners see the notification immediately, independent of
	// per-channel adapter latency.
	s.stream.PublishNotification(n)
	s.publishEvent(mq.KeyNotificationCreated, NotificationCreatedEvent{
		ID: n.ID, UserID: n.UserID, Type: n.Type, Priority: n.Priority, Status: n.Status,
	})

	if status == model.NotificationScheduled {
		return n, nil
	}

	s.fanOut(ctx, n, allowed)
	return n, nil
}

// SendBatch dispatches several notifications, skipping the ones that fail.
func (s *Dispatcher) SendBatch(ctx context.Context, reqs []SendRequest) ([]*model.Notification, error) {
	var out []*model.Notification
	for _, req := range reqs {
		n, err := s.Send(ctx, req)
		if err != nil {
			s.logger.Warn("batch item failed",
				zap.String("user_id", req.UserID),
				zap.String("type", req.Type),
				zap.Error(err),
			)
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// DispatchDue sends scheduled notifications whose time has come. The worker
// invokes this on a fixed cadence. Preferences are re-checked at dispatch
// time so a channel disabled during the quiet window stays silent.
func (s *Dispatcher) DispatchDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.notifications.ListDueScheduled(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list due notifications: %w", err)
	}

	for _, n := range due {
		pref, err := s.prefs.GetByUserID(ctx, n.UserID)
		if err != nil {
			s.logger.Error("dispatching scheduled notification failed",
				zap.String("notification_id", n.ID),
				zap.Error(err),
			)
			continue
		}

		var channels []string
		for _, ch := range n.Channels {
			if pref.ChannelEnabled(ch) {
				channels = append(channels, ch)
			}
		}

		if err := s.notifications.MarkSent(ctx, n.ID); err != nil {
			s.logger.Error("marking scheduled notification sent failed",
				zap.String("notification_id", n.ID),
				zap.Error(err),
			)
			continue
		}
		n.Status = model.NotificationSent
		s.fanOut(ctx, n, channels)
	}

	return len(due), nil
}

// fanOut creates one pending delivery per channel and invokes the adapters
// concurrently, so a slow SMS provider does not delay email.
func (s *Dispatcher) fanOut(ctx context.Context, n *model.Notification, channels []string) {
	var wg sync.WaitGroup
	for _, ch := range channels {
		d := &model.NotificationDelivery{
			ID:             uuid.NewString(),
			NotificationID: n.ID,
			UserID:         n.UserID,
			Channel:        ch,
			Status:         model.DeliveryPending,
			Priority:       n.Priority,
		}
		if err := s.deliveries.Insert(ctx, d); err != nil {
			s.logger.Error("persist delivery failed",
				zap.String("notification_id", n.ID),
				zap.String("channel", ch),
				zap.Error(err),
			)
			continue
		}

		wg.Add(1)
		go func(d *model.NotificationDelivery) {
			defer wg.Done()
			s.attempt(ctx, n, d)
		}(d)
	}
	wg.Wait()
}

// attempt runs one adapter call and records the outcome.
func (s *Dispatcher) attempt(ctx context.Context, n *model.Notification, d *model.NotificationDelivery) {
	a, err := s.adapters.For(d.Channel)
	if err != nil {
		s.recordFailure(ctx, d, err)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, AdapterTimeout)
	defer cancel()

	start := time.Now()
	result, err := a.Send(callCtx, n, d)
	elapsed := time.Since(start)

	if err != nil {
		metrics.RecordAdapterCall(d.Channel, "failed", elapsed)
		s.recordFailure(ctx, d, err)
		return
	}
	metrics.RecordAdapterCall(d.Channel, "sent", elapsed)

	attemptedAt := s.now()
	if err := s.deliveries.MarkSent(ctx, d.ID, result.ExternalID, result.Provider, result.ProviderResponse, attemptedAt); err != nil {
		s.logger.Error("mark delivery sent failed",
			zap.String("delivery_id", d.ID),
			zap.Error(err),
		)
		return
	}

	d.Status = model.DeliverySent
	d.ExternalID = &result.ExternalID
	d.Provider = result.Provider
	d.ProviderResponse = result.ProviderResponse
	d.AttemptedAt = &attemptedAt

	s.stream.PublishDelivery(d)
	s.publishEvent(mq.KeyDeliveryUpdated, DeliveryUpdatedEvent{
		DeliveryID:     d.ID,
		NotificationID: d.NotificationID,
		UserID:         d.UserID,
		Channel:        d.Channel,
		Status:         d.Status,
	})
}

// recordFailure marks the delivery failed and schedules the first automatic
// retry. Adapter errors never propagate to the Send caller.
func (s *Dispatcher) recordFailure(ctx context.Context, d *model.NotificationDelivery, cause error) {
	now := s.now()
	next := retry.NextAttemptAt(now, d.RetryCount, model.MaxRetries)

	if err := s.deliveries.MarkFailedAttempt(ctx, d.ID, cause.Error(), d.RetryCount, now, next); err != nil {
		s.logger.Error("mark delivery failed errored",
			zap.String("delivery_id", d.ID),
			zap.Error(err),
		)
		return
	}

	d.Status = model.DeliveryFailed
	lastError := cause.Error()
	d.LastError = &lastError
	d.FailedAt = &now
	d.NextAttemptAt = next

	s.logger.Warn("delivery attempt failed",
		zap.String("delivery_id", d.ID),
		zap.String("channel", d.Channel),
		zap.Error(cause),
	)

	s.stream.PublishDelivery(d)
	s.publishEvent(mq.KeyDeliveryRetry, RetryJob{
		DeliveryID:     d.ID,
		NotificationID: d.NotificationID,
		Channel:        d.Channel,
		RetryCount:     d.RetryCount,
	})
}

func (s *Dispatcher) publishEvent(routingKey string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(routingKey, payload); err != nil {
		s.logger.Warn("publish event failed",
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
	}
}

// resolveChannels intersects the requested channels with the subscription's
// channel set (when one exists) and the user's enabled channels. Channels
// failing the intersection are dropped silently.
func resolveChannels(requested []string, sub *model.NotificationSubscription, pref *model.NotificationPreference) []string {
	var out []string
	for _, ch := range requested {
		if sub != nil && !containsChannel(sub.Channels, ch) {
			continue
		}
		if !pref.ChannelEnabled(ch) {
			continue
		}
		out = append(out, ch)
	}
	return out
}

func containsChannel(channels []string, ch string) bool {
	for _, c := range channels {
		if c == ch {
			return true
		}
	}
	return false
}
