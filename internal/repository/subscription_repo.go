package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"notifyhub/internal/model"
)

type SubscriptionRepository struct {
	db *pgxpool.Pool
}

func NewSubscriptionRepository(db *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `
    id, user_id, notification_type, channels, priority_override, is_active, filters, created_at
`

func (r *SubscriptionRepository) Insert(ctx context.Context, s *model.NotificationSubscription) error {
	filters, err := json.Marshal(s.Filters)
	if err != nil {
		return fmt.Errorf("marshal subscription filters: %w", err)
	}

	query := `
        INSERT INTO notification_subscriptions
            (id, user_id, notification_type, channels, priority_override, is_active, filters, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
        RETURNING created_at
    `
	return r.db.QueryRow(ctx, query,
		s.ID, s.UserID, s.NotificationType, s.Channels, s.PriorityOverride, s.IsActive, filters,
	).Scan(&s.CreatedAt)
}

// GetActiveByUserAndType returns the user's active subscription for a
// notification type, or ErrNotFound.
func (r *SubscriptionRepository) GetActiveByUserAndType(ctx context.Context, userID, notificationType string) (*model.NotificationSubscription, error) {
	query := `
        SELECT ` + subscriptionColumns + `
        FROM notification_subscriptions
        WHERE user_id = $1 AND notification_type = $2 AND is_active
        ORDER BY created_at DESC
        LIMIT 1
    `
	return scanSubscription(r.db.QueryRow(ctx, query, userID, notificationType))
}

func (r *SubscriptionRepository) ListByUserID(ctx context.Context, userID string) ([]*model.NotificationSubscription, error) {
	query := `
        SELECT ` + subscriptionColumns + `
        FROM notification_subscriptions
        WHERE user_id = $1
        ORDER BY created_at DESC
    `
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.NotificationSubscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSubscription(row rowScanner) (*model.NotificationSubscription, error) {
	var s model.NotificationSubscription
	var filters []byte
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.NotificationType,
		&s.Channels,
		&s.PriorityOverride,
		&s.IsActive,
		&filters,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &s.Filters); err != nil {
			return nil, fmt.Errorf("unmarshal subscription filters: %w", err)
		}
	}
	return &s, nil
}
