package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"notifyhub/internal/model"
)

type WebhookLogRepository struct {
	db *pgxpool.Pool
}

func NewWebhookLogRepository(db *pgxpool.Pool) *WebhookLogRepository {
	return &WebhookLogRepository{db: db}
}

// Insert writes one webhook log row. When the log carries a webhook id and a
// row for the same (provider, webhook_id) already exists, nothing is written
// and inserted is false. The unique index is the durable idempotency guard.
func (r *WebhookLogRepository) Insert(ctx context.Context, log *model.WebhookLog) (inserted bool, err error) {
	query := `
        INSERT INTO webhook_logs
            (id, provider, event_type, webhook_id, payload, signature_valid, status,
             processed_at, error_message, retry_count, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
        ON CONFLICT (provider, webhook_id) WHERE webhook_id IS NOT NULL DO NOTHING
        RETURNING created_at
    `
	err = r.db.QueryRow(ctx, query,
		log.ID, log.Provider, log.EventType, log.WebhookID, []byte(log.Payload),
		log.SignatureValid, log.Status, log.ProcessedAt, log.ErrorMessage, log.RetryCount,
	).Scan(&log.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict: an earlier delivery of the same webhook won.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FindByWebhookID returns the log row for (provider, webhook_id), if any.
func (r *WebhookLogRepository) FindByWebhookID(ctx context.Context, provider, webhookID string) (*model.WebhookLog, error) {
	query := `
        SELECT id, provider, event_type, webhook_id, payload, signature_valid, status,
               processed_at, error_message, retry_count, created_at
        FROM webhook_logs
        WHERE provider = $1 AND webhook_id = $2
    `
	var log model.WebhookLog
	var payload []byte
	err := r.db.QueryRow(ctx, query, provider, webhookID).Scan(
		&log.ID,
		&log.Provider,
		&log.EventType,
		&log.WebhookID,
		&payload,
		&log.SignatureValid,
		&log.Status,
		&log.ProcessedAt,
		&log.ErrorMessage,
		&log.RetryCount,
		&log.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	log.Payload = payload
	return &log, nil
}
