package dispatch

// NotificationCreatedEvent is published on notification.created.
type NotificationCreatedEvent struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	Type     string `json:"type"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
}

// DeliveryUpdatedEvent is published on delivery.updated whenever a delivery
// changes status, whether from an adapter attempt or a provider webhook.
type DeliveryUpdatedEvent struct {
	DeliveryID     string `json:"deliveryId"`
	NotificationID string `json:"notificationId"`
	UserID         string `json:"userId"`
	Channel        string `json:"channel"`
	Status         string `json:"status"`
}

// RetryJob is published on delivery.retry when an attempt fails with retry
// budget remaining. The worker consumes these and re-drives the adapter.
type RetryJob struct {
	DeliveryID     string `json:"deliveryId"`
	NotificationID string `json:"notificationId"`
	Channel        string `json:"channel"`
	RetryCount     int    `json:"retryCount"`
}
