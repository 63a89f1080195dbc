package model

import "time"

// Delivery statuses. Transitions are monotonic:
// pending -> sent -> {delivered, bounced, failed}.
const (
	DeliveryPending   = "pending"
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryBounced   = "bounced"
	DeliveryFailed    = "failed"
)

// MaxRetries bounds automatic re-attempts for a failed delivery.
const MaxRetries = 3

// deliveryRank orders statuses for the monotonic-transition guard.
var deliveryRank = map[string]int{
	DeliveryPending:   0,
	DeliverySent:      1,
	DeliveryDelivered: 2,
	DeliveryBounced:   2,
	DeliveryFailed:    2,
}

// DeliveryStatusRank returns the ordering rank of a delivery status.
// Unknown statuses rank lowest.
func DeliveryStatusRank(status string) int {
	return deliveryRank[status]
}

type NotificationDelivery struct {
	ID               string         `json:"id"`
	NotificationID   string         `json:"notificationId"`
	UserID           string         `json:"userId"`
	Channel          string         `json:"channel"`
	Status           string         `json:"status"`
	Priority         string         `json:"priority"`
	ExternalID       *string        `json:"externalId,omitempty"`
	Provider         string         `json:"provider,omitempty"`
	ProviderResponse map[string]any `json:"providerResponse,omitempty"`
	AttemptedAt      *time.Time     `json:"attemptedAt,omitempty"`
	DeliveredAt      *time.Time     `json:"deliveredAt,omitempty"`
	FailedAt         *time.Time     `json:"failedAt,omitempty"`
	RetryCount       int            `json:"retryCount"`
	NextAttemptAt    *time.Time     `json:"nextAttemptAt,omitempty"`
	LastError        *string        `json:"lastError,omitempty"`
	ErrorCode        *string        `json:"errorCode,omitempty"`
	BounceType       *string        `json:"bounceType,omitempty"`
	BounceSubtype    *string        `json:"bounceSubtype,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}
