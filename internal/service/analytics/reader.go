// Package analytics computes delivery and webhook reports with SQL
// aggregation; nothing here mutates state.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"notifyhub/internal/model"
	"notifyhub/internal/repository"
)

// Report periods accepted by the query string.
var periods = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

const defaultPeriod = "7d"

// ErrInvalidPeriod is returned for unsupported period values.
var ErrInvalidPeriod = fmt.Errorf("invalid period, want one of 24h, 7d, 30d")

// StatusReport is the per-notification delivery breakdown.
type StatusReport struct {
	Notification *model.Notification           `json:"notification"`
	Deliveries   []*model.NotificationDelivery `json:"deliveries"`
}

// ChannelStats aggregates delivery outcomes for one grouping key.
type ChannelStats struct {
	Total     int `json:"total"`
	Delivered int `json:"delivered"`
	Bounced   int `json:"bounced"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// NotificationReport is the caller-facing dispatch analytics payload.
type NotificationReport struct {
	Period  string `json:"period"`
	Summary struct {
		TotalSent       int `json:"totalSent"`
		TotalDeliveries int `json:"totalDeliveries"`
	} `json:"summary"`
	ByChannel  map[string]ChannelStats `json:"byChannel"`
	ByPriority map[string]int          `json:"byPriority"`
	ByType     map[string]int          `json:"byType"`

	DeliveryRates struct {
		// Overall is delivered / (delivered + bounced + failed) as a
		// percentage; pending deliveries are not counted either way.
		Overall float64 `json:"overall"`
	} `json:"deliveryRates"`

	MeanTimeToDeliverySeconds *float64 `json:"meanTimeToDeliverySeconds"`
}

// WebhookReport is the webhook-processing analytics payload.
type WebhookReport struct {
	Period  string `json:"period"`
	Summary struct {
		Total      int `json:"total"`
		Successful int `json:"successful"`
		Failed     int `json:"failed"`
	} `json:"summary"`
	ByProvider  map[string]int `json:"byProvider"`
	ByEventType map[string]int `json:"byEventType"`
	// SuccessRate is processed / total multiplied by 100.
	SuccessRate float64 `json:"successRate"`
}

type notificationGetter interface {
	GetByID(ctx context.Context, id string) (*model.Notification, error)
}

type deliveryLister interface {
	ListByNotificationID(ctx context.Context, notificationID string) ([]*model.NotificationDelivery, error)
}

// Reader serves status lookups and aggregate reports.
type Reader struct {
	db            *pgxpool.Pool
	notifications notificationGetter
	deliveries    deliveryLister
}

func NewReader(db *pgxpool.Pool, notifications notificationGetter, deliveries deliveryLister) *Reader {
	return &Reader{db: db, notifications: notifications, deliveries: deliveries}
}

// NotificationStatus returns one notification with all its deliveries,
// scoped to the owning user.
func (r *Reader) NotificationStatus(ctx context.Context, id, userID string) (*StatusReport, error) {
	n, err := r.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.UserID != userID {
		// Cross-user probing looks identical to a missing notification.
		return nil, repository.ErrNotFound
	}
	ds, err := r.deliveries.ListByNotificationID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StatusReport{Notification: n, Deliveries: ds}, nil
}

// NotificationReport aggregates a user's dispatch outcomes over the period.
func (r *Reader) NotificationReport(ctx context.Context, userID, period string) (*NotificationReport, error) {
	since, normalized, err := resolvePeriod(period, time.Now())
	if err != nil {
		return nil, err
	}

	report := &NotificationReport{
		Period:     normalized,
		ByChannel:  map[string]ChannelStats{},
		ByPriority: map[string]int{},
		ByType:     map[string]int{},
	}

	query := `
        SELECT priority, type, COUNT(*)
        FROM notifications
        WHERE user_id = $1 AND created_at >= $2
        GROUP BY priority, type
    `
	rows, err := r.db.Query(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("notification aggregate: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var priority, typ string
		var count int
		if err := rows.Scan(&priority, &typ, &count); err != nil {
			return nil, err
		}
		report.Summary.TotalSent += count
		report.ByPriority[priority] += count
		report.ByType[typ] += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	query = `
        SELECT channel, status, COUNT(*)
        FROM notification_deliveries
        WHERE user_id = $1 AND created_at >= $2
        GROUP BY channel, status
    `
	rows, err = r.db.Query(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("delivery aggregate: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var channel, status string
		var count int
		if err := rows.Scan(&channel, &status, &count); err != nil {
			return nil, err
		}
		stats := report.ByChannel[channel]
		stats.Total += count
		switch status {
		case model.DeliveryDelivered:
			stats.Delivered += count
		case model.DeliveryBounced:
			stats.Bounced += count
		case model.DeliveryFailed:
			stats.Failed += count
		case model.DeliveryPending:
			stats.Pending += count
		}
		report.ByChannel[channel] = stats
		report.Summary.TotalDeliveries += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var delivered, bounced, failed int
	for _, stats := range report.ByChannel {
		delivered += stats.Delivered
		bounced += stats.Bounced
		failed += stats.Failed
	}
	if settled := delivered + bounced + failed; settled > 0 {
		report.DeliveryRates.Overall = float64(delivered) / float64(settled) * 100
	}

	query = `
        SELECT AVG(EXTRACT(EPOCH FROM (delivered_at - created_at)))
        FROM notification_deliveries
        WHERE user_id = $1 AND created_at >= $2 AND delivered_at IS NOT NULL
    `
	var mean *float64
	if err := r.db.QueryRow(ctx, query, userID, since).Scan(&mean); err != nil {
		return nil, fmt.Errorf("mean time to delivery: %w", err)
	}
	report.MeanTimeToDeliverySeconds = mean

	return report, nil
}

// WebhookReport aggregates webhook processing outcomes over the period.
func (r *Reader) WebhookReport(ctx context.Context, period string) (*WebhookReport, error) {
	since, normalized, err := resolvePeriod(period, time.Now())
	if err != nil {
		return nil, err
	}

	report := &WebhookReport{
		Period:      normalized,
		ByProvider:  map[string]int{},
		ByEventType: map[string]int{},
	}

	query := `
        SELECT provider, event_type, status, COUNT(*)
        FROM webhook_logs
        WHERE created_at >= $1
        GROUP BY provider, event_type, status
    `
	rows, err := r.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("webhook aggregate: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var provider, eventType, status string
		var count int
		if err := rows.Scan(&provider, &eventType, &status, &count); err != nil {
			return nil, err
		}
		report.Summary.Total += count
		report.ByProvider[provider] += count
		report.ByEventType[eventType] += count
		if status == model.WebhookProcessed {
			report.Summary.Successful += count
		} else {
			report.Summary.Failed += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if report.Summary.Total > 0 {
		report.SuccessRate = float64(report.Summary.Successful) / float64(report.Summary.Total) * 100
	}
	return report, nil
}

func resolvePeriod(period string, now time.Time) (time.Time, string, error) {
	if period == "" {
		period = defaultPeriod
	}
	d, ok := periods[period]
	if !ok {
		return time.Time{}, "", ErrInvalidPeriod
	}
	return now.Add(-d), period, nil
}
