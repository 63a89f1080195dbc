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

type NotificationRepository struct {
	db *pgxpool.Pool
}

func NewNotificationRepository(db *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Insert(ctx context.Context, n *model.Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("marshal notification data: %w", err)
	}

	query := `
        INSERT INTO notifications (id, user_id, type, priority, title, message, channels, data, status, scheduled_for, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
        RETURNING created_at
    `
	return r.db.QueryRow(ctx, query,
		n.ID, n.UserID, n.Type, n.Priority, n.Title, n.Message,
		n.Channels, data, n.Status, n.ScheduledFor,
	).Scan(&n.CreatedAt)
}

func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*model.Notification, error) {
	query := `
        SELECT id, user_id, type, priority, title, message, channels, data, status, scheduled_for, created_at
        FROM notifications
        WHERE id = $1
    `
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

// MarkSent advances a notification to sent. The status guard keeps the
// pending -> scheduled -> sent progression one-way.
func (r *NotificationRepository) MarkSent(ctx context.Context, id string) error {
	query := `
        UPDATE notifications
        SET status = 'sent'
        WHERE id = $1 AND status IN ('pending', 'scheduled')
    `
	_, err := r.db.Exec(ctx, query, id)
	return err
}

// ListDueScheduled returns scheduled notifications whose time has come,
// oldest first.
func (r *NotificationRepository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.Notification, error) {
	query := `
        SELECT id, user_id, type, priority, title, message, channels, data, status, scheduled_for, created_at
        FROM notifications
        WHERE status = 'scheduled' AND scheduled_for <= $1
        ORDER BY scheduled_for ASC
        LIMIT $2
    `
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Notification
	for rows.Next() {
		n, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *NotificationRepository) scanOne(row rowScanner) (*model.Notification, error) {
	var n model.Notification
	var data []byte
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Type,
		&n.Priority,
		&n.Title,
		&n.Message,
		&n.Channels,
		&data,
		&n.Status,
		&n.ScheduledFor,
		&n.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, fmt.Errorf("unmarshal notification data: %w", err)
		}
	}
	return &n, nil
}
