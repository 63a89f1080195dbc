// Package adapter defines the pluggable per-channel send interface. Real
// provider integrations live behind it; the dispatcher only sees Send.
package adapter

import (
	"context"
	"errors"

	"notifyhub/internal/model"
)

// SendResult is what a provider hands back for an accepted delivery.
type SendResult struct {
	ExternalID       string
	Provider         string
	ProviderResponse map[string]any
}

// Adapter sends one delivery over one channel.
type Adapter interface {
	Channel() string
	Send(ctx context.Context, n *model.Notification, d *model.NotificationDelivery) (*SendResult, error)
}

// ErrUnknownChannel is returned when no adapter is registered for a channel.
var ErrUnknownChannel = errors.New("no adapter registered for channel")

// Registry maps channels to adapters.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.adapters[a.Channel()] = a
	}
	return r
}

// For returns the adapter registered for a channel.
func (r *Registry) For(channel string) (Adapter, error) {
	a, ok := r.adapters[channel]
	if !ok {
		return nil, ErrUnknownChannel
	}
	return a, nil
}
