package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"notifyhub/internal/adapter"
	"notifyhub/internal/model"
	"notifyhub/internal/repository"
	"notifyhub/pkg/metrics"
	"notifyhub/pkg/mq"
)

// AttemptTimeout bounds one adapter call during a retry.
const AttemptTimeout = 10 * time.Second

// ErrNotRetryable is returned by manual retry when a delivery is not in a
// retryable state.
var ErrNotRetryable = errors.New("delivery not retryable")

// Job is the payload consumed from the delivery.retry queue.
type Job struct {
	DeliveryID     string `json:"deliveryId"`
	NotificationID string `json:"notificationId"`
	Channel        string `json:"channel"`
	RetryCount     int    `json:"retryCount"`
}

type DeliveryStore interface {
	GetByID(ctx context.Context, id string) (*model.NotificationDelivery, error)
	ListByNotificationID(ctx context.Context, notificationID string) ([]*model.NotificationDelivery, error)
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*model.NotificationDelivery, error)
	MarkSent(ctx context.Context, id, externalID, provider string, providerResponse map[string]any, attemptedAt time.Time) error
	MarkFailedAttempt(ctx context.Context, id string, lastError string, retryCount int, attemptedAt time.Time, nextAttemptAt *time.Time) error
}

type NotificationStore interface {
	GetByID(ctx context.Context, id string) (*model.Notification, error)
}

type AdapterRegistry interface {
	For(channel string) (adapter.Adapter, error)
}

type StreamPublisher interface {
	PublishDelivery(d *model.NotificationDelivery)
}

type DeadLetterPublisher interface {
	PublishToDLQ(routingKey string, payload []byte, originalError string) error
}

// Manager re-drives failed deliveries, both on the automatic backoff
// schedule and on operator request. Exhausted deliveries are parked on the
// dead-letter exchange.
type Manager struct {
	deliveries    DeliveryStore
	notifications NotificationStore
	adapters      AdapterRegistry
	stream        StreamPublisher
	dlq           DeadLetterPublisher
	logger        *zap.Logger
	now           func() time.Time
}

func NewManager(
	deliveries DeliveryStore,
	notifications NotificationStore,
	adapters AdapterRegistry,
	stream StreamPublisher,
	dlq DeadLetterPublisher,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		deliveries:    deliveries,
		notifications: notifications,
		adapters:      adapters,
		stream:        stream,
		dlq:           dlq,
		logger:        logger,
		now:           time.Now,
	}
}

// Retry re-attempts the failed deliveries of a notification immediately,
// bypassing the backoff schedule. An empty channels filter means all
// channels. Returns the deliveries that were re-attempted.
func (m *Manager) Retry(ctx context.Context, notificationID string, channels []string) ([]*model.NotificationDelivery, error) {
	all, err := m.deliveries.ListByNotificationID(ctx, notificationID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	if len(all) == 0 {
		return nil, repository.ErrNotFound
	}

	var retried []*model.NotificationDelivery
	for _, d := range all {
		if !retryable(d) {
			continue
		}
		if len(channels) > 0 && !contains(channels, d.Channel) {
			continue
		}
		metrics.RetriesScheduled.WithLabelValues(d.Channel, "manual").Inc()
		m.attempt(ctx, d)
		retried = append(retried, d)
	}
	if len(retried) == 0 {
		return nil, ErrNotRetryable
	}
	return retried, nil
}

// SweepDue re-attempts every delivery whose next_attempt_at has passed. The
// worker runs this on a fixed cadence; it is the durable driver and catches
// anything the queue path missed across restarts.
func (m *Manager) SweepDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := m.deliveries.ListDueRetries(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list due retries: %w", err)
	}
	for _, d := range due {
		metrics.RetriesScheduled.WithLabelValues(d.Channel, "auto").Inc()
		m.attempt(ctx, d)
	}
	return len(due), nil
}

// HandleRetryJob consumes one delivery.retry message. The database row is
// authoritative: a job for a delivery that is no longer failed, or whose
// next attempt lies in the future, is dropped and left to the sweep.
func (m *Manager) HandleRetryJob(ctx context.Context, body json.RawMessage) error {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("decode retry job: %w", err)
	}

	d, err := m.deliveries.GetByID(ctx, job.DeliveryID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			m.logger.Warn("retry job for unknown delivery",
				zap.String("delivery_id", job.DeliveryID),
			)
			return nil
		}
		return fmt.Errorf("load delivery: %w", err)
	}

	if !retryable(d) {
		return nil
	}
	if d.NextAttemptAt != nil && d.NextAttemptAt.After(m.now()) {
		return nil
	}

	metrics.RetriesScheduled.WithLabelValues(d.Channel, "auto").Inc()
	m.attempt(ctx, d)
	return nil
}

// attempt runs one adapter call for the delivery and records the outcome.
func (m *Manager) attempt(ctx context.Context, d *model.NotificationDelivery) {
	n, err := m.notifications.GetByID(ctx, d.NotificationID)
	if err != nil {
		m.logger.Error("load notification for retry failed",
			zap.String("delivery_id", d.ID),
			zap.Error(err),
		)
		return
	}

	a, err := m.adapters.For(d.Channel)
	if err != nil {
		m.fail(ctx, d, err)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, AttemptTimeout)
	defer cancel()

	start := time.Now()
	result, err := a.Send(callCtx, n, d)
	elapsed := time.Since(start)

	if err != nil {
		metrics.RecordAdapterCall(d.Channel, "failed", elapsed)
		m.fail(ctx, d, err)
		return
	}
	metrics.RecordAdapterCall(d.Channel, "sent", elapsed)

	attemptedAt := m.now()
	if err := m.deliveries.MarkSent(ctx, d.ID, result.ExternalID, result.Provider, result.ProviderResponse, attemptedAt); err != nil {
		m.logger.Error("mark delivery sent failed",
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
	d.NextAttemptAt = nil
	m.stream.PublishDelivery(d)

	m.logger.Info("delivery retry succeeded",
		zap.String("delivery_id", d.ID),
		zap.String("channel", d.Channel),
		zap.Int("retry_count", d.RetryCount),
	)
}

// fail records a failed retry. When the budget is spent the delivery is
// parked on the dead-letter exchange and gets no further automatic attempts.
func (m *Manager) fail(ctx context.Context, d *model.NotificationDelivery, cause error) {
	now := m.now()
	retryCount := d.RetryCount + 1
	next := NextAttemptAt(now, retryCount, model.MaxRetries)

	if err := m.deliveries.MarkFailedAttempt(ctx, d.ID, cause.Error(), retryCount, now, next); err != nil {
		m.logger.Error("mark retry failed errored",
			zap.String("delivery_id", d.ID),
			zap.Error(err),
		)
		return
	}

	d.Status = model.DeliveryFailed
	d.RetryCount = retryCount
	lastError := cause.Error()
	d.LastError = &lastError
	d.FailedAt = &now
	d.NextAttemptAt = next
	m.stream.PublishDelivery(d)

	if next == nil {
		m.park(d, cause)
		return
	}

	m.logger.Warn("delivery retry failed",
		zap.String("delivery_id", d.ID),
		zap.String("channel", d.Channel),
		zap.Int("retry_count", retryCount),
		zap.Time("next_attempt_at", *next),
		zap.Error(cause),
	)
}

func (m *Manager) park(d *model.NotificationDelivery, cause error) {
	m.logger.Error("delivery retries exhausted",
		zap.String("delivery_id", d.ID),
		zap.String("channel", d.Channel),
		zap.Int("retry_count", d.RetryCount),
		zap.Error(cause),
	)
	if m.dlq == nil {
		return
	}
	payload, err := json.Marshal(Job{
		DeliveryID:     d.ID,
		NotificationID: d.NotificationID,
		Channel:        d.Channel,
		RetryCount:     d.RetryCount,
	})
	if err != nil {
		return
	}
	if err := m.dlq.PublishToDLQ(mq.KeyDeliveryRetry, payload, cause.Error()); err != nil {
		m.logger.Error("park exhausted delivery failed",
			zap.String("delivery_id", d.ID),
			zap.Error(err),
		)
	}
}

func retryable(d *model.NotificationDelivery) bool {
	return d.Status == model.DeliveryFailed || d.Status == model.DeliveryBounced
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
