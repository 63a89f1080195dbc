package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"notifyhub/internal/model"
)

type DeliveryRepository struct {
	db *pgxpool.Pool
}

func NewDeliveryRepository(db *pgxpool.Pool) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

const deliveryColumns = `
    id, notification_id, user_id, channel, status, priority, external_id, provider,
    provider_response, attempted_at, delivered_at, failed_at, retry_count,
    next_attempt_at, last_error, error_code, bounce_type, bounce_subtype, created_at
`

func (r *DeliveryRepository) Insert(ctx context.Context, d *model.NotificationDelivery) error {
	response, err := json.Marshal(d.ProviderResponse)
	if err != nil {
		return fmt.Errorf("marshal provider response: %w", err)
	}

	query := `
        INSERT INTO notification_deliveries
            (id, notification_id, user_id, channel, status, priority, external_id, provider,
             provider_response, attempted_at, retry_count, next_attempt_at, last_error, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
        RETURNING created_at
    `
	return r.db.QueryRow(ctx, query,
		d.ID, d.NotificationID, d.UserID, d.Channel, d.Status, d.Priority,
		d.ExternalID, d.Provider, response, d.AttemptedAt, d.RetryCount,
		d.NextAttemptAt, d.LastError,
	).Scan(&d.CreatedAt)
}

func (r *DeliveryRepository) GetByID(ctx context.Context, id string) (*model.NotificationDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM notification_deliveries WHERE id = $1`
	return scanDelivery(r.db.QueryRow(ctx, query, id))
}

func (r *DeliveryRepository) ListByNotificationID(ctx context.Context, notificationID string) ([]*model.NotificationDelivery, error) {
	query := `
        SELECT ` + deliveryColumns + `
        FROM notification_deliveries
        WHERE notification_id = $1
        ORDER BY created_at ASC
    `
	return r.list(ctx, query, notificationID)
}

func (r *DeliveryRepository) GetByExternalID(ctx context.Context, provider, externalID string) (*model.NotificationDelivery, error) {
	query := `
        SELECT ` + deliveryColumns + `
        FROM notification_deliveries
        WHERE provider = $1 AND external_id = $2
    `
	return scanDelivery(r.db.QueryRow(ctx, query, provider, externalID))
}

// MarkSent records a successful adapter hand-off.
func (r *DeliveryRepository) MarkSent(ctx context.Context, id, externalID, provider string, providerResponse map[string]any, attemptedAt time.Time) error {
	response, err := json.Marshal(providerResponse)
	if err != nil {
		return fmt.Errorf("marshal provider response: %w", err)
	}

	query := `
        UPDATE notification_deliveries
        SET status = 'sent', external_id = $2, provider = $3, provider_response = $4,
            attempted_at = $5, last_error = NULL, next_attempt_at = NULL
        WHERE id = $1
    `
	_, err = r.db.Exec(ctx, query, id, externalID, provider, response, attemptedAt)
	return err
}

// MarkFailedAttempt records a failed adapter call. When nextAttemptAt is nil
// the delivery stays failed with no further automatic retries.
func (r *DeliveryRepository) MarkFailedAttempt(ctx context.Context, id string, lastError string, retryCount int, attemptedAt time.Time, nextAttemptAt *time.Time) error {
	query := `
        UPDATE notification_deliveries
        SET status = 'failed', last_error = $2, retry_count = $3,
            attempted_at = $4, failed_at = $4, next_attempt_at = $5
        WHERE id = $1
    `
	_, err := r.db.Exec(ctx, query, id, lastError, retryCount, attemptedAt, nextAttemptAt)
	return err
}

// ListDueRetries returns failed deliveries whose next attempt has come due.
func (r *DeliveryRepository) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*model.NotificationDelivery, error) {
	query := `
        SELECT ` + deliveryColumns + `
        FROM notification_deliveries
        WHERE status = 'failed' AND next_attempt_at IS NOT NULL AND next_attempt_at <= $1
        ORDER BY next_attempt_at ASC
        LIMIT $2
    `
	return r.list(ctx, query, now, limit)
}

// TransitionUpdate carries the field changes a webhook applies to a delivery.
type TransitionUpdate struct {
	Status           string
	DeliveredAt      *time.Time
	FailedAt         *time.Time
	ErrorCode        *string
	ErrorMessage     *string
	BounceType       *string
	BounceSubtype    *string
	ProviderResponse map[string]any
}

// TransitionByExternalID applies a webhook-driven state change under a row
// lock so concurrent provider retries cannot race, and refuses transitions
// that would move the status backward. It returns the (possibly unchanged)
// delivery and whether the update was applied.
func (r *DeliveryRepository) TransitionByExternalID(ctx context.Context, provider, externalID string, up TransitionUpdate) (*model.NotificationDelivery, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	query := `
        SELECT ` + deliveryColumns + `
        FROM notification_deliveries
        WHERE provider = $1 AND external_id = $2
        FOR UPDATE
    `
	d, err := scanDelivery(tx.QueryRow(ctx, query, provider, externalID))
	if err != nil {
		return nil, false, err
	}

	if model.DeliveryStatusRank(up.Status) < model.DeliveryStatusRank(d.Status) {
		return d, false, nil
	}
	// Terminal statuses do not overwrite each other either; the first
	// terminal webhook wins.
	if model.DeliveryStatusRank(d.Status) == model.DeliveryStatusRank(up.Status) && d.Status != up.Status {
		return d, false, nil
	}

	merged := d.ProviderResponse
	if merged == nil {
		merged = make(map[string]any)
	}
	for k, v := range up.ProviderResponse {
		merged[k] = v
	}
	response, err := json.Marshal(merged)
	if err != nil {
		return nil, false, fmt.Errorf("marshal provider response: %w", err)
	}

	update := `
        UPDATE notification_deliveries
        SET status = $2,
            delivered_at = COALESCE($3, delivered_at),
            failed_at = COALESCE($4, failed_at),
            error_code = COALESCE($5, error_code),
            last_error = COALESCE($6, last_error),
            bounce_type = COALESCE($7, bounce_type),
            bounce_subtype = COALESCE($8, bounce_subtype),
            provider_response = $9
        WHERE id = $1
    `
	if _, err := tx.Exec(ctx, update,
		d.ID, up.Status, up.DeliveredAt, up.FailedAt, up.ErrorCode,
		up.ErrorMessage, up.BounceType, up.BounceSubtype, response,
	); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}

	d.Status = up.Status
	if up.DeliveredAt != nil {
		d.DeliveredAt = up.DeliveredAt
	}
	if up.FailedAt != nil {
		d.FailedAt = up.FailedAt
	}
	if up.ErrorCode != nil {
		d.ErrorCode = up.ErrorCode
	}
	if up.ErrorMessage != nil {
		d.LastError = up.ErrorMessage
	}
	if up.BounceType != nil {
		d.BounceType = up.BounceType
	}
	if up.BounceSubtype != nil {
		d.BounceSubtype = up.BounceSubtype
	}
	d.ProviderResponse = merged
	return d, true, nil
}

func (r *DeliveryRepository) list(ctx context.Context, query string, args ...any) ([]*model.NotificationDelivery, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.NotificationDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDelivery(row rowScanner) (*model.NotificationDelivery, error) {
	var d model.NotificationDelivery
	var response []byte
	err := row.Scan(
		&d.ID,
		&d.NotificationID,
		&d.UserID,
		&d.Channel,
		&d.Status,
		&d.Priority,
		&d.ExternalID,
		&d.Provider,
		&response,
		&d.AttemptedAt,
		&d.DeliveredAt,
		&d.FailedAt,
		&d.RetryCount,
		&d.NextAttemptAt,
		&d.LastError,
		&d.ErrorCode,
		&d.BounceType,
		&d.BounceSubtype,
		&d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(response) > 0 {
		if err := json.Unmarshal(response, &d.ProviderResponse); err != nil {
			return nil, fmt.Errorf("unmarshal provider response: %w", err)
		}
	}
	return &d, nil
}
