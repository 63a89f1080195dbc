package mq

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

const (
	// ExchangeName carries every notification domain event.
	ExchangeName = "notifications"
)

// Routing keys published on the exchange.
const (
	KeyNotificationCreated = "notification.created"
	KeyDeliveryUpdated     = "delivery.updated"
	KeyDeliveryRetry       = "delivery.retry"
	KeyDeliveryOutbound    = "delivery.outbound"
)

// NewConnection creates a new RabbitMQ connection.
func NewConnection(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// DeclareExchange declares the notifications exchange.
func DeclareExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}
