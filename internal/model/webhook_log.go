package model

import (
	"encoding/json"
	"time"
)

// Webhook log statuses.
const (
	WebhookProcessed = "processed"
	WebhookFailed    = "failed"
)

// WebhookLog records one received provider callback, used for idempotency
// and auditing. (provider, webhook_id) is unique when webhook_id is present.
type WebhookLog struct {
	ID             string          `json:"id"`
	Provider       string          `json:"provider"`
	EventType      string          `json:"eventType"`
	WebhookID      *string         `json:"webhookId,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	SignatureValid bool            `json:"signatureValid"`
	Status         string          `json:"status"`
	ProcessedAt    *time.Time      `json:"processedAt,omitempty"`
	ErrorMessage   *string         `json:"errorMessage,omitempty"`
	RetryCount     int             `json:"retryCount"`
	CreatedAt      time.Time       `json:"createdAt"`
}
